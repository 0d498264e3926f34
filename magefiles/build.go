//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Compiles the sandbox GLSL shaders to SPIR-V next to their sources.
func (Build) Shaders() error {
	for _, stage := range shaderStages {
		if err := glslc(stage); err != nil {
			return err
		}
	}
	return nil
}

// Builds the sandbox binary.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	return goCgo("build", "-o", binary, ".")
}
