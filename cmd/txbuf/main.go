// Command txbuf exercises and inspects transmission buffers.
//
// Usage:
//
//	txbuf [flags] <command> [args]
//
// Commands:
//
//	stress     - many producers and color readers through a hub
//	calibrate  - fill a small ring until the first overflow
//	dump       - write interleaved payloads and dump the segments
//	version    - show version information
package main

import (
	"fmt"
	"os"

	"github.com/srediag/txbuf/cmd/txbuf/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
