//go:build mage

package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
	"github.com/magefile/mage/target"
)

const (
	binary    = "bin/benzin"
	shaderDir = "shaders"
)

// sourceRoots are the trees gofmtCheck looks at.
var sourceRoots = []string{"engine", "sandbox", "magefiles", "main.go"}

// shaderStages are the GLSL sources compiled by build:shaders, relative to
// shaderDir.
var shaderStages = []string{"sandbox.vert", "sandbox.frag"}

// glslc compiles one GLSL stage to SPIR-V next to its source. Up to date
// outputs are skipped.
func glslc(stage string) error {
	src := filepath.Join(shaderDir, stage)
	out := src + ".spv"
	stale, err := target.Path(out, src)
	if err != nil {
		return fmt.Errorf("checking %s: %w", out, err)
	}
	if !stale {
		return nil
	}
	fmt.Printf("Compiling %s\n", src)
	if err := sh.RunV("glslc", src, "-o", out); err != nil {
		return fmt.Errorf("glslc %s: %w", src, err)
	}
	return nil
}

// goCmd runs the go tool with its output on the terminal.
func goCmd(args ...string) error {
	return sh.RunV(mg.GoCmd(), args...)
}

// goCgo runs the go tool with cgo on, which the Vulkan and GLFW bindings and
// the race detector need.
func goCgo(args ...string) error {
	return sh.RunWithV(map[string]string{"CGO_ENABLED": "1"}, mg.GoCmd(), args...)
}

// sandbox runs the sandbox binary from source with the given flags.
func sandbox(flags ...string) error {
	return goCgo(append([]string{"run", "."}, flags...)...)
}

func goTidy() error {
	if err := sh.Run(mg.GoCmd(), "mod", "tidy"); err != nil {
		return fmt.Errorf("failed to run go mod tidy: %w", err)
	}
	return nil
}

// gofmtCheck fails when any source file differs from its gofmt output.
func gofmtCheck() error {
	out, err := sh.Output("gofmt", append([]string{"-l"}, sourceRoots...)...)
	if err != nil {
		return fmt.Errorf("failed to run gofmt: %w", err)
	}
	if out = strings.TrimSpace(out); out != "" {
		return fmt.Errorf("files not gofmt-ed:\n%s", out)
	}
	return nil
}
