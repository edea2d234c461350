/*
PURPOSE:
  Defines the core data structures used throughout deckfill.
  These models represent generation requests, per-item outcomes,
  and the progress events crossing the worker boundary.

REQUIREMENTS:
  User-specified:
  - Track per-item outcome (success / skipped / error) with timing.
  - Classify errors (config, generation, no models, unexpected).

  Implementation-discovered:
  - Need JSON tags for the run report (JSONL).
  - Item field order matters for preview selection.

ARCHITECTURE INTEGRATION:
  - Used by: internal/llm, internal/batch, internal/metrics, internal/store
  - Shared across boundaries.

ERROR HANDLING:
  - None (pure data structs).

IMPLEMENTATION RULES:
  - Keep structs simple and public.
  - Use time.Time and time.Duration for high precision.

USAGE:
  req := model.GenerationRequest{...}

SELF-HEALING INSTRUCTIONS:
  - If new outcome data is needed, add field and update the report writer.

RELATED FILES:
  - internal/batch/processor.go
  - internal/output/report.go

MAINTENANCE:
  - Update when adding new per-item data to capture.
*/

package model

import (
	"strings"
	"time"
)

// GenerationRequest describes one logical generation call.
// Immutable per call.
type GenerationRequest struct {
	SystemPrompt   string  `json:"system_prompt"`
	UserPrompt     string  `json:"user_prompt"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"` // 0.0 - 2.0
	PreferredModel string  `json:"preferred_model,omitempty"`
}

// ErrorKind classifies a recorded failure.
type ErrorKind string

const (
	ErrorConfig     ErrorKind = "Config"
	ErrorGeneration ErrorKind = "Generation"
	ErrorNoModels   ErrorKind = "NoModelsAvailable"
	ErrorUnexpected ErrorKind = "Unexpected"
)

// ErrorRecord captures one failure with enough context to display it.
type ErrorRecord struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	ItemRef string    `json:"item,omitempty"`
	Time    time.Time `json:"time"`
}

// Outcome is the terminal state of one processed item.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// ItemResult is one line of the run report.
type ItemResult struct {
	ItemID    string        `json:"item_id"`
	Outcome   Outcome       `json:"outcome"`
	Reason    string        `json:"reason,omitempty"` // skip reason or error message
	Kind      ErrorKind     `json:"kind,omitempty"`
	Retries   int           `json:"retries,omitempty"`
	Duration  time.Duration `json:"duration_ns,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Item is an addressable record with a named set of text fields.
// Fields preserves the stored order; Values maps field name to content.
type Item struct {
	ID     string
	Fields []string
	Values map[string]string
}

// Has reports whether the item carries a field with that name.
func (it Item) Has(name string) bool {
	_, ok := it.Values[name]
	return ok
}

// Value returns the raw content of a field ("" when absent).
func (it Item) Value(name string) string {
	return it.Values[name]
}

// Preview returns the first non-blank field's trimmed content,
// truncated to limit runes. Display only.
func (it Item) Preview(limit int) string {
	for _, name := range it.Fields {
		content := strings.TrimSpace(it.Values[name])
		if content == "" {
			continue
		}
		runes := []rune(content)
		if len(runes) > limit {
			return string(runes[:limit])
		}
		return content
	}
	return ""
}

// ProgressEvent is emitted after each item. The consumer owns rendering.
type ProgressEvent struct {
	Processed  int          `json:"processed"`
	Successful int          `json:"successful"`
	Preview    string       `json:"preview,omitempty"`
	Err        *ErrorRecord `json:"error,omitempty"`
}

// Snapshot is a read-only copy of the batch metrics, published once
// at the end of a run (and safe to hand across goroutines).
type Snapshot struct {
	Total      int             `json:"total"`
	Processed  int             `json:"processed"`
	Successful int             `json:"successful"`
	Skipped    int             `json:"skipped"`
	Errors     int             `json:"errors"`
	Retries    int             `json:"retries"`
	Records    []ErrorRecord   `json:"error_details,omitempty"`
	Durations  []time.Duration `json:"-"`
	Elapsed    time.Duration   `json:"elapsed_ns"`
}
