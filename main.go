package main

import (
	"github.com/hexlattice/scanhub/cmd"
)

// main is the entry point for the scanhub CLI.
func main() {
	cmd.Execute()
}
