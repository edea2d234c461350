/*
PURPOSE:
  Defines the 'run' subcommand.
  Executes a full batch generation run over a deck.

REQUIREMENTS:
  User-specified:
  - Process the selected items with live progress and a final summary.
  - Specific flags for overrides (deck, ids, target field, model).

  Implementation-discovered:
  - Preconditions (config, connectivity) are validated before any
    item is touched; the backup checkpoint is taken before the run.
  - The worker runs on its own goroutine; this command only renders
    the events it emits.

ARCHITECTURE INTEGRATION:
  - Calls: internal/batch.Processor
  - Uses: internal/config, internal/llm, internal/store, internal/output

ERROR HANDLING:
  - Returns error if config load, deck open, or preconditions fail.
  - Per-item failures are the processor's concern, never this command's.

IMPLEMENTATION RULES:
  - Setup flags in init().
  - Logic: Load Config -> Override -> Validate -> Backup -> Run.

USAGE:
  deckfill run --deck cards.csv

SELF-HEALING INSTRUCTIONS:
  - Check flag names match Config struct fields generally.

RELATED FILES:
  - internal/cli/root.go
  - internal/batch/processor.go

MAINTENANCE:
  - Update when adding new CLI overrides.
*/

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"deckfill/internal/batch"
	"deckfill/internal/config"
	"deckfill/internal/llm"
	"deckfill/internal/model"
	"deckfill/internal/output"
	"deckfill/internal/store"
)

var (
	deckPath        string
	idsOverride     []string
	targetOverride  string
	modelOverride   string
	promptFile      string
	outputOverride  string
	noBackup        bool
	processExisting bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run batch generation over a deck",
	Long: `Processes the selected items of a CSV deck one at a time:
1. Preconditions: validates configuration and service connectivity.
2. Checkpoint: backs up the deck file (unless --no-backup).
3. Processing: resolves the prompt template per item, calls the
   generation service with bounded retries, and writes the result
   into the target field.

Items whose target field is already populated are skipped (unless
--process-existing), as are items missing content for a referenced
placeholder. A per-item JSONL run report is written next to the deck.`,
	Example: `  # Fill the Answer field of every item
  deckfill run --deck cards.csv

  # Only specific items, into a different field
  deckfill run --deck cards.csv --ids 12,57 --target-field Notes

  # Prefer a specific model and read the user prompt from a file
  deckfill run --deck cards.csv --model qwen2.5-7b-instruct -p prompts/explain.md`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. Load Config
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		// 2. Overrides
		if targetOverride != "" {
			cfg.TargetField = targetOverride
		}
		if modelOverride != "" {
			cfg.PreferredModel = modelOverride
		}
		if promptFile != "" {
			data, err := os.ReadFile(promptFile)
			if err != nil {
				return fmt.Errorf("failed to read prompt file: %w", err)
			}
			cfg.UserPrompt = string(data)
		}
		if noBackup {
			cfg.BackupBefore = false
		}
		if processExisting {
			cfg.SkipExisting = false
		}

		// 3. Preconditions
		if err := cfg.Validate(); err != nil {
			return err
		}
		opts := batch.Options{
			TargetField:    cfg.TargetField,
			SkipExisting:   cfg.SkipExisting,
			SystemPrompt:   cfg.SystemPrompt,
			UserPrompt:     cfg.UserPrompt,
			Temperature:    cfg.Temperature,
			MaxTokens:      cfg.MaxTokens,
			PreferredModel: cfg.PreferredModel,
		}
		if err := opts.Validate(); err != nil {
			return err
		}

		client := llm.New(cfg)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if !client.TestConnection(ctx) {
			return fmt.Errorf("cannot connect to the generation service at %s; ensure it is running with a model loaded", cfg.BaseURL)
		}

		deck, err := store.Open(deckPath)
		if err != nil {
			return err
		}

		ids := idsOverride
		if len(ids) == 0 {
			ids = deck.IDs()
		}
		if len(ids) == 0 {
			return fmt.Errorf("deck %s has no items", deckPath)
		}

		// 4. Checkpoint
		if cfg.BackupBefore {
			backupPath, err := deck.Backup()
			if err != nil {
				return fmt.Errorf("failed to create deck backup: %w", err)
			}
			output.Logger.Info("Backup created", "path", backupPath)
		}

		// 5. Run
		runID := uuid.NewString()
		reportDir := outputOverride
		if reportDir == "" {
			reportDir = filepath.Dir(deckPath)
		}
		reportPath := filepath.Join(reportDir, fmt.Sprintf("deckfill-run-%s.jsonl", runID[:8]))
		report, err := output.NewReportWriter(reportPath)
		if err != nil {
			return fmt.Errorf("failed to init run report at %s: %w", reportPath, err)
		}
		defer report.Close()

		output.Logger.Info("Starting batch run", "run_id", runID, "items", len(ids), "target_field", cfg.TargetField)

		proc := batch.New(client, deck, opts, len(ids))
		proc.Report = report

		go proc.Run(ctx, ids)

		for ev := range proc.Events() {
			switch {
			case ev.Progress != nil:
				renderProgress(len(ids), ev)
			case ev.Final != nil:
				if err := report.WriteSummary(*ev.Final); err != nil {
					output.Logger.Error("Failed to write report summary", "error", err)
				}
				renderSummary(runID, *ev.Final)
			}
		}
		return nil
	},
}

func renderProgress(total int, ev batch.Event) {
	pr := ev.Progress
	if pr.Err != nil {
		output.Logger.Error("Item failed", "kind", pr.Err.Kind, "message", pr.Err.Message, "item", pr.Err.ItemRef)
	}
	if pr.Preview != "" {
		output.Logger.Info("Processing", "current", pr.Preview, "progress", fmt.Sprintf("%d/%d", pr.Processed, total))
		return
	}
	output.Logger.Info("Progress", "processed", pr.Processed, "generated", pr.Successful, "total", total)
}

func renderSummary(runID string, s model.Snapshot) {
	output.Logger.Info("Batch complete",
		"run_id", runID,
		"total", s.Total,
		"generated", s.Successful,
		"skipped", s.Skipped,
		"errors", s.Errors,
		"retries", s.Retries,
		"elapsed", s.Elapsed.Round(time.Millisecond),
	)
	for _, rec := range s.Records {
		output.Logger.Warn("Recorded error", "kind", rec.Kind, "message", rec.Message, "item", rec.ItemRef, "at", rec.Time.Format("15:04:05"))
	}

	fmt.Printf("\nProcessing Complete!\n\n")
	fmt.Printf("Total:     %d\n", s.Total)
	fmt.Printf("Generated: %d\n", s.Successful)
	fmt.Printf("Skipped:   %d\n", s.Skipped)
	fmt.Printf("Errors:    %d\n", s.Errors)
	fmt.Printf("Time:      %.1fs\n", s.Elapsed.Seconds())
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&deckPath, "deck", "", "Path to the CSV deck file (required)")
	runCmd.Flags().StringSliceVar(&idsOverride, "ids", nil, "Comma-separated list of item ids to process (default: all)")
	runCmd.Flags().StringVar(&targetOverride, "target-field", "", "Field to write generated content into (overrides config)")
	runCmd.Flags().StringVar(&modelOverride, "model", "", "Preferred model id (overrides config)")
	runCmd.Flags().StringVarP(&promptFile, "prompt-file", "p", "", "Path to a markdown/text file containing the user prompt (overrides config)")
	runCmd.Flags().StringVarP(&outputOverride, "output-dir", "o", "", "Directory for the run report (default: next to the deck)")
	runCmd.Flags().BoolVar(&noBackup, "no-backup", false, "Skip the deck backup before processing")
	runCmd.Flags().BoolVar(&processExisting, "process-existing", false, "Also process items whose target field already has content")
	runCmd.MarkFlagRequired("deck")
}
