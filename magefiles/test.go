//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs every package test.
func (Test) All() error {
	return goCmd("test", "./...")
}

// Runs the tests with the race detector.
func (Test) Race() error {
	return goCgo("test", "-race", "./...")
}

// Tidies the module, checks formatting and runs go vet.
func (Test) Lint() error {
	if err := goTidy(); err != nil {
		return err
	}
	if err := gofmtCheck(); err != nil {
		return err
	}
	return goCmd("vet", "./...")
}
