package commands

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/MrWong99/fskmodem/internal/mcptools"
	"github.com/MrWong99/fskmodem/internal/observe"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the modem as MCP tools over stdio",
	Long: `Serve the modem as MCP tools over stdio.

Tools:
  fsk_encode    text or base64 bytes to a base64 WAV clip
  fsk_decode    base64 WAV clip to text and base64 bytes
  fsk_inspect   per-mode tone power of a base64 WAV clip
  fsk_profile   tone plan and timing of a modem profile

The modem flags set the defaults for tool calls. Logs go to stderr.

Example MCP client entry:
  {"command": "fskmodem", "args": ["mcp", "--mode", "3"]}`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := modemConfig()
		if err != nil {
			return err
		}
		srv := mcptools.NewServer(cfg,
			mcptools.WithMetrics(observe.DefaultMetrics()),
			mcptools.WithLogger(logger),
			mcptools.WithVersion(Version),
		)
		logger.Info("mcp server starting", "config", cfg.String())
		return srv.Run(cmd.Context(), &mcp.StdioTransport{})
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
