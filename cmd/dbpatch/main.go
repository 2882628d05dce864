/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Command dbpatch upgrades databases with the patches of an upgrade file.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
