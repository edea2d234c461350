/*
PURPOSE:
  Defines the root Cobra command for the deckfill CLI.
  Handles global flags and command initialization.

REQUIREMENTS:
  User-specified:
  - Provide a CLI interface.
  - Support global flags like --config.

  Implementation-discovered:
  - Needs to expose an Execute() function for main.go.

ARCHITECTURE INTEGRATION:
  - Called by: cmd/deckfill/main.go
  - Calls: Child commands (run, list-models, check)

ERROR HANDLING:
  - Returns error to main.go for exit code handling.

IMPLEMENTATION RULES:
  - Use `PersistentFlags()` for flags available to all subcommands.
  - Keep Run logic in subcommands, Root is usually empty or helps.

USAGE:
  Called by main.go.

SELF-HEALING INSTRUCTIONS:
  - If adding new global flags, add them to init().

RELATED FILES:
  - cmd/deckfill/main.go

MAINTENANCE:
  - Update when adding global configuration options.
*/

package cli

import (
	"github.com/spf13/cobra"

	"deckfill/internal/output"
)

var (
	// cfgFile stores the path to the config file (if specified via flag)
	cfgFile string
	verbose bool

	rootCmd = &cobra.Command{
		Use:   "deckfill",
		Short: "Bulk-generate text into deck fields with a local LLM service",
		Long:  `Fills one field of a CSV deck by sending per-item prompts to a local OpenAI-compatible text-generation service. Use 'run --help' for processing options.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			output.SetVerbose(verbose)
		},
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./deckfill.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
