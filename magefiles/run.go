//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the sandbox on the Vulkan backend.
func (Run) Sandbox() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run sandbox...")
	return sandbox("-backend", "vulkan", "-shaders", shaderDir)
}

// Renders a few frames on the software backend and captures the last one.
func (Run) Headless() error {
	return sandbox("-backend", "software", "-frames", "60", "-capture", "frame.bmp")
}
