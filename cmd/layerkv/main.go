// Command layerkv inspects and edits a layerkv namespace.
//
// Usage:
//
//	layerkv -c layerkv.yaml keys
//	layerkv --backend badger --badger-dir ./data set user:1 '{"name":"Ada"}' --ttl 1h
//	layerkv -n users versions user:1
//	layerkv sync
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := App().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
