/*
PURPOSE:
  Writes per-item batch results to a JSON Lines file (NDJSON).
  One line per item, plus a final summary line with the run metrics.

REQUIREMENTS:
  User-specified:
  - A machine-readable record of what happened to every item.

  Implementation-discovered:
  - JSON Lines is append-friendly: a crash mid-run still leaves the
    lines written so far parseable.

ARCHITECTURE INTEGRATION:
  - Called by: internal/batch
  - Consumes: internal/model.ItemResult, internal/model.Snapshot

ERROR HANDLING:
  - Returns error on file creation or write failure.

IMPLEMENTATION RULES:
  - Use encoding/json.NewEncoder.
  - Thread-safe.

USAGE:
  w, err := output.NewReportWriter("deckfill-run.jsonl")
  w.Write(result)
  w.WriteSummary(snapshot)
  w.Close()

SELF-HEALING INSTRUCTIONS:
  - None specific.

RELATED FILES:
  - internal/model/types.go

MAINTENANCE:
  - Update if we switch to plain JSON array (not recommended for streaming).
*/

package output

import (
	"encoding/json"
	"os"
	"sync"

	"deckfill/internal/model"
)

// ReportWriter handles writing batch results to a JSON Lines file.
type ReportWriter struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewReportWriter creates a new ReportWriter, overwriting any existing file.
func NewReportWriter(path string) (*ReportWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	return &ReportWriter{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// Write writes a single item result as a JSON line.
func (rw *ReportWriter) Write(r model.ItemResult) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	return rw.encoder.Encode(r)
}

// WriteSummary appends the final metrics snapshot as the last line.
func (rw *ReportWriter) WriteSummary(s model.Snapshot) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	return rw.encoder.Encode(struct {
		Summary model.Snapshot `json:"summary"`
	}{Summary: s})
}

// Close closes the underlying file.
func (rw *ReportWriter) Close() error {
	return rw.file.Close()
}
