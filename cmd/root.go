// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "textcast",
	Short: "Textcast - cast text to a TV and watch the traffic doing it",
	Long: `Textcast drives a Cast-capable TV over its control channel: it launches
a web receiver showing a display page served by this process, pushes text to it,
and observes the controller-device network traffic while a session is active.

Components:
  - Session controller: connect / send / disconnect lifecycle against one device
  - Packet observation: per-session capture with protocol breakdown and batches
  - HTTP API + WebSocket: the frontend surface, plus the display page the TV loads
  - History: SQLite record of sessions, messages, and packet batches`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yml",
		"config file path")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
