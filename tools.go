//go:build tools
// +build tools

// Code generators run through go generate, pinned in go.mod.
package main

import (
	_ "go.uber.org/mock/mockgen"
)
