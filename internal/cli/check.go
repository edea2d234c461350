package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"deckfill/internal/config"
	"deckfill/internal/llm"
)

// check is the connection test: reachability, response time, model count.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Test the connection to the generation service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if urlOverride != "" {
			cfg.BaseURL = urlOverride
		}

		client := llm.New(cfg)

		fmt.Printf("Connecting to: %s\n", cfg.BaseURL)
		start := time.Now()
		if !client.TestConnection(cmd.Context()) {
			return fmt.Errorf("connection failed; make sure the service is running and accessible")
		}
		elapsed := time.Since(start)

		models := client.ListModels(cmd.Context())
		if len(models) == 0 {
			fmt.Println("Connected but no models loaded. Please load a model first.")
			return nil
		}

		fmt.Printf("Connection successful! Response time: %.2fs | Models found: %d\n", elapsed.Seconds(), len(models))
		for _, m := range models {
			fmt.Printf("- %s\n", m)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&urlOverride, "url", "", "Base URL of the generation service")
}
