//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Index ingests drug monographs from knowledge/drugs/ into the SQLite knowledge base.
func Index() error {
	mg.Deps(Build)
	return sh.RunV(binPath(), "knowledge", "store")
}

// Serve builds the CLI and starts the HTTP API with the local configuration.
func Serve() error {
	mg.Deps(Build)
	return sh.RunV(binPath(), "serve")
}
