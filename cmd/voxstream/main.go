// Command voxstream serves streamed text-and-speech responses over
// server-sent events.
//
// Usage:
//
//	voxstream [flags] <command>
//
// Commands:
//
//	serve   - Run the HTTP server
//	config  - Print the effective configuration
//	listen  - Open a stream against a running server and print its events
package main

import (
	"fmt"
	"os"

	"github.com/harunnryd/voxstream/cmd/voxstream/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
