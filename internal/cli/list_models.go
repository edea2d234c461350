/*
PURPOSE:
  Defines the 'list-models' subcommand.
  Helps debug connectivity and model discovery.

REQUIREMENTS:
  User-specified:
  - List available models.

  Implementation-discovered:
  - Useful validation step before a full run.

ARCHITECTURE INTEGRATION:
  - Calls: internal/llm.ListModels() (via Client)

ERROR HANDLING:
  - Prints a hint if nothing is discovered (service down or no model loaded).

IMPLEMENTATION RULES:
  - Simple output to stdout.

USAGE:
  deckfill list-models --url http://localhost:1234/v1

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/llm/client.go

MAINTENANCE:
  - None.
*/

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"deckfill/internal/config"
	"deckfill/internal/llm"
)

var urlOverride string

var listModelsCmd = &cobra.Command{
	Use:   "list-models",
	Short: "List models loaded on the generation service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if urlOverride != "" {
			cfg.BaseURL = urlOverride
		}

		client := llm.New(cfg)

		fmt.Printf("Querying %s...\n", cfg.BaseURL)
		models := client.ListModels(cmd.Context())
		if len(models) == 0 {
			fmt.Println("No models found. Make sure the service is running with a model loaded.")
			return nil
		}
		for _, m := range models {
			fmt.Printf("- %s\n", m)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listModelsCmd)
	listModelsCmd.Flags().StringVar(&urlOverride, "url", "", "Base URL of the generation service")
}
