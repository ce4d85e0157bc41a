// Package main is the entry point for the avatarstreamd application.
package main

import (
	"os"

	"github.com/jmylchreest/avatarstreamd/cmd/avatarstreamd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
