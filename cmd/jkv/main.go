// Command jkv is a CLI front end for the embedded database in package db:
// open a directory, put/get/delete/range keys, and trigger flush/compact
// maintenance — useful for poking at a store from a shell or a script.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
