package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/textcast/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load and validate the configuration file, then print the
effective configuration with defaults applied.

Examples:
  textcast validate
  textcast validate -c /etc/textcast/config.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		runValidateCommand()
	},
}

func runValidateCommand() {
	cfg, err := config.Load(configFile)
	if err != nil {
		exitWithError(fmt.Sprintf("configuration %s is invalid", configFile), err)
	}
	// Wrap under the root key so the dump reads back as a config file.
	out, err := yaml.Marshal(struct {
		Textcast *config.Config `yaml:"textcast"`
	}{cfg})
	if err != nil {
		exitWithError("failed to render configuration", err)
	}
	fmt.Printf("configuration %s is valid\n\n", configFile)
	fmt.Print(string(out))
}
