/*
PURPOSE:
  Provides a structured logger for deckfill.
  Wraps slog for consistent output.

REQUIREMENTS:
  User-specified:
  - "Sane" CLI output. Not spammy.

  Implementation-discovered:
  - Logs must not interleave with the run command's stdout progress
    and report output, so they go to stderr.
  - Debug logging (per-item decisions, retry sleeps) opt-in via flag.

ARCHITECTURE INTEGRATION:
  - Used everywhere.

ERROR HANDLING:
  - N/A

IMPLEMENTATION RULES:
  - Use `log/slog` (Go 1.21+).

USAGE:
  output.Logger.Info("message", "key", "value")
  output.SetVerbose(true) // from the --verbose flag

SELF-HEALING INSTRUCTIONS:
  - Ensure Go 1.21+ is used.

RELATED FILES:
  - internal/cli/root.go

MAINTENANCE:
  - JSON handler for non-interactive use?
*/

package output

import (
	"log/slog"
	"os"
)

var (
	Logger   *slog.Logger
	logLevel = new(slog.LevelVar) // Info by default
)

func init() {
	// Stderr keeps structured logs out of the progress/report stream
	// on stdout.
	Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// SetVerbose lowers the log level to Debug when on, back to Info when off.
func SetVerbose(on bool) {
	if on {
		logLevel.Set(slog.LevelDebug)
	} else {
		logLevel.Set(slog.LevelInfo)
	}
}

// SetLogger allows overriding the default logger (e.g. for testing or config changes)
func SetLogger(l *slog.Logger) {
	Logger = l
}
