package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session status of a running server",
	Long: `Query a running textcast server over HTTP and print the cast
session status as JSON.

Examples:
  textcast status
  textcast status --addr 192.168.1.10:5001`,
	Run: func(cmd *cobra.Command, args []string) {
		runStatusCommand()
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "127.0.0.1:5001", "address of the running server")
}

func runStatusCommand() {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/api/cast/status", statusAddr))
	if err != nil {
		exitWithError("failed to reach server", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		exitWithError("failed to read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		exitWithError("server returned an error", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var status map[string]any
	if err := json.Unmarshal(body, &status); err != nil {
		exitWithError("failed to decode response", err)
	}
	pretty, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		exitWithError("failed to format response", err)
	}
	fmt.Println(string(pretty))
}
