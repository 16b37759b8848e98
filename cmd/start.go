package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/textcast/internal/app"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the textcast server",
	Long: `Start the textcast server in foreground.

The server will:
  1. Load configuration from the config file (TEXTCAST_* env vars override)
  2. Initialize logging, metrics, and the history store
  3. Start the HTTP API, WebSocket hub, and display page
  4. Wait for connect/send/disconnect commands from the API
  5. Handle SIGINT/SIGTERM for graceful shutdown

Examples:
  textcast start                 # use ./config.yml
  textcast start -c /etc/textcast/config.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		runStartCommand()
	},
}

func runStartCommand() {
	a, err := app.New(configFile)
	if err != nil {
		exitWithError("failed to load configuration", err)
	}
	if err := a.Start(); err != nil {
		a.Stop()
		exitWithError("failed to start", err)
	}
	if err := a.Run(); err != nil {
		exitWithError("server exited", err)
	}
}
