// Package main is the entry point for the luabind script runner and REPL.
// This is a thin wrapper around the cli package.
package main

import (
	"os"

	"github.com/zot/luabind/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
