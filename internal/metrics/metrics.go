/*
PURPOSE:
  Tracks processing statistics for one batch run.
  Counters, error details, and per-success durations.

REQUIREMENTS:
  User-specified:
  - Count total, processed, successful, skipped, errors, retries.
  - Keep error details for the end-of-run summary.

  Implementation-discovered:
  - processed must always equal successful + skipped + errors, so the
    counter bumps live inside the Add* methods, never at call sites.

ARCHITECTURE INTEGRATION:
  - Owned and mutated by: internal/batch (single writer)
  - Read by: the progress consumer, via Snapshot() copies only.

ERROR HANDLING:
  - N/A (bookkeeping only).

IMPLEMENTATION RULES:
  - No locks. One writer goroutine; readers get value copies.
  - Derived figures (rates, averages) are methods, not stored state.

USAGE:
  m := metrics.New(len(ids))
  m.AddSuccess(elapsed)
  snap := m.Snapshot()

SELF-HEALING INSTRUCTIONS:
  - If a new terminal outcome is added, give it an Add* method that
    bumps processed exactly once.

RELATED FILES:
  - internal/batch/processor.go
  - internal/model/types.go

MAINTENANCE:
  - Update Snapshot() when adding counters.
*/

package metrics

import (
	"time"

	"deckfill/internal/model"
)

// Metrics accumulates the outcome counters for a single batch run.
// Not safe for concurrent mutation; the batch worker is the only writer.
type Metrics struct {
	start time.Time

	total      int
	processed  int
	successful int
	skipped    int
	errors     int
	retries    int

	records   []model.ErrorRecord
	durations []time.Duration
}

// New creates metrics for a run over total items, starting the clock.
func New(total int) *Metrics {
	return &Metrics{start: time.Now(), total: total}
}

// AddSuccess records one generated item and its wall-clock duration.
func (m *Metrics) AddSuccess(d time.Duration) {
	m.successful++
	m.processed++
	m.durations = append(m.durations, d)
}

// AddSkip records one skipped item.
func (m *Metrics) AddSkip(reason string) {
	_ = reason // kept for symmetry with AddError; skips carry no detail record
	m.skipped++
	m.processed++
}

// AddError records one failed item and returns the detail record.
func (m *Metrics) AddError(kind model.ErrorKind, message, itemRef string) model.ErrorRecord {
	m.errors++
	m.processed++
	rec := model.ErrorRecord{
		Kind:    kind,
		Message: message,
		ItemRef: itemRef,
		Time:    time.Now(),
	}
	m.records = append(m.records, rec)
	return rec
}

// AddRetries accumulates retry attempts reported by the generation client.
func (m *Metrics) AddRetries(n int) {
	m.retries += n
}

func (m *Metrics) Total() int      { return m.total }
func (m *Metrics) Processed() int  { return m.processed }
func (m *Metrics) Successful() int { return m.successful }
func (m *Metrics) Skipped() int    { return m.skipped }
func (m *Metrics) Errors() int     { return m.errors }
func (m *Metrics) Retries() int    { return m.retries }

// Elapsed returns wall-clock time since the run started.
func (m *Metrics) Elapsed() time.Duration {
	return time.Since(m.start)
}

// AvgProcessingTime averages the per-success durations (0 when none).
func (m *Metrics) AvgProcessingTime() time.Duration {
	if len(m.durations) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range m.durations {
		sum += d
	}
	return sum / time.Duration(len(m.durations))
}

// ItemsPerMinute returns the overall processing rate.
func (m *Metrics) ItemsPerMinute() float64 {
	elapsed := m.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.processed) / elapsed * 60
}

// SuccessRate returns successful/processed as a percentage.
func (m *Metrics) SuccessRate() float64 {
	if m.processed == 0 {
		return 0
	}
	return float64(m.successful) / float64(m.processed) * 100
}

// Snapshot returns a value copy safe to hand to another goroutine.
func (m *Metrics) Snapshot() model.Snapshot {
	records := make([]model.ErrorRecord, len(m.records))
	copy(records, m.records)
	durations := make([]time.Duration, len(m.durations))
	copy(durations, m.durations)

	return model.Snapshot{
		Total:      m.total,
		Processed:  m.processed,
		Successful: m.successful,
		Skipped:    m.skipped,
		Errors:     m.errors,
		Retries:    m.retries,
		Records:    records,
		Durations:  durations,
		Elapsed:    m.Elapsed(),
	}
}
