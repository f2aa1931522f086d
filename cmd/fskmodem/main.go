// Command fskmodem modulates and demodulates data as FSK audio.
//
// Usage:
//
//	fskmodem [flags] <command> [args]
//
// Commands:
//
//	encode    bytes to a WAV file or raw PCM
//	decode    WAV file or raw PCM to bytes
//	inspect   check a capture against the tone plan
//	terminal  local encoder to decoder loopback of stdin lines
//	serve     HTTP server with WebSocket modem links
//	connect   WebSocket client for serve
//	mcp       MCP tool server on stdio
package main

import (
	"fmt"
	"os"

	"github.com/MrWong99/fskmodem/cmd/fskmodem/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fskmodem:", err)
		os.Exit(1)
	}
}
