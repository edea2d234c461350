/*
PURPOSE:
  High-level processor that drives generation across a list of items.
  Per-item field resolution, skip rules, metrics bookkeeping, and
  progress events back to the interactive side.

REQUIREMENTS:
  User-specified:
  - Process items strictly one at a time on a background worker.
  - A single item's failure must never abort the batch.
  - Report progress after every item and a final metrics snapshot.

  Implementation-discovered:
  - Progress delivery must be fire-and-forget from the worker's view:
    a slow consumer drops per-item updates, never blocks the loop.
  - The terminal event is delivered unconditionally before the events
    channel closes.
  - Cancellation is cooperative, checked between items only; an
    in-flight generation call runs to completion.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli
  - Uses: internal/llm (through Generator), internal/store (through Store),
    internal/prompt, internal/metrics, internal/output

ERROR HANDLING:
  - Per-item errors are recorded in the metrics and the run report,
    then the loop continues (resilience).
  - A panic while processing one item is recovered at the item
    boundary and recorded as an Unexpected error.

IMPLEMENTATION RULES:
  - Metrics are single-writer: only this worker mutates them.
  - On generation failure the target field is left untouched.
  - Retry counts accumulate regardless of outcome.

USAGE:
  p := batch.New(gen, deck, opts)
  go p.Run(ctx, ids)
  for ev := range p.Events() { ... }

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/llm/client.go
  - internal/prompt/template.go

MAINTENANCE:
  - Update the state machine if new per-item outcomes are introduced.
*/

package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deckfill/internal/llm"
	"deckfill/internal/metrics"
	"deckfill/internal/model"
	"deckfill/internal/output"
	"deckfill/internal/prompt"
)

const previewLimit = 50

// Generator performs one logical generation, returning the text, the
// retry attempts consumed, and the last error on failure.
type Generator interface {
	Generate(ctx context.Context, req model.GenerationRequest) (string, int, error)
}

// Store exposes items for read and single-field persisted update.
type Store interface {
	Get(id string) (model.Item, bool)
	UpdateField(id, field, value string) error
}

// ResultWriter receives one record per processed item (the run report).
type ResultWriter interface {
	Write(model.ItemResult) error
}

// Options configures one batch run.
type Options struct {
	TargetField    string
	SkipExisting   bool
	SystemPrompt   string
	UserPrompt     string
	Temperature    float64
	MaxTokens      int
	PreferredModel string
}

// Validate checks the preconditions that must hold before a run starts.
// These surface to the user synchronously; no batch is started on failure.
func (o Options) Validate() error {
	if strings.TrimSpace(o.TargetField) == "" {
		return errors.New("target field is not configured")
	}
	if strings.TrimSpace(o.SystemPrompt) == "" || strings.TrimSpace(o.UserPrompt) == "" {
		return errors.New("system and user prompts are not configured")
	}
	if names := prompt.Placeholders(o.UserPrompt); len(names) == 0 {
		output.Logger.Warn("User prompt has no field placeholders; the same prompt will be sent for every item")
	} else {
		output.Logger.Info("Found field placeholders", "fields", names)
	}
	return nil
}

// Event crosses from the worker to the consumer. Exactly one of
// Progress / Final is set.
type Event struct {
	Progress *model.ProgressEvent
	Final    *model.Snapshot
}

// Processor drives one batch run. Create with New, start with Run on a
// background goroutine, and drain Events on the interactive side.
type Processor struct {
	gen     Generator
	store   Store
	opts    Options
	metrics *metrics.Metrics
	events  chan Event

	// Report, when set, receives one line per processed item.
	Report ResultWriter
}

// New creates a Processor for a run over total items.
func New(gen Generator, st Store, opts Options, total int) *Processor {
	return &Processor{
		gen:     gen,
		store:   st,
		opts:    opts,
		metrics: metrics.New(total),
		events:  make(chan Event, 64),
	}
}

// Events returns the progress channel. Closed after the final event.
func (p *Processor) Events() <-chan Event {
	return p.events
}

// Run processes the given items sequentially and returns the final
// metrics snapshot. Meant to run on its own goroutine; per-item
// progress and the terminal snapshot flow through Events.
func (p *Processor) Run(ctx context.Context, ids []string) model.Snapshot {
	defer close(p.events)

	for _, id := range ids {
		if ctx.Err() != nil {
			output.Logger.Warn("Batch cancelled; stopping between items",
				"processed", p.metrics.Processed(), "remaining", p.metrics.Total()-p.metrics.Processed())
			break
		}
		p.processOne(ctx, id)
	}

	snap := p.metrics.Snapshot()
	p.events <- Event{Final: &snap}
	return snap
}

// processOne runs the per-item state machine. Terminal outcomes are
// success, skipped, and error; every path bumps processed exactly once.
func (p *Processor) processOne(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			output.Logger.Error("Unexpected fault while processing item", "item", id, "fault", r)
			rec := p.metrics.AddError(model.ErrorUnexpected, fmt.Sprint(r), id)
			p.writeResult(model.ItemResult{ItemID: id, Outcome: model.OutcomeError, Kind: rec.Kind, Reason: rec.Message})
			p.emitProgress("", &rec)
		}
	}()

	start := time.Now()

	item, ok := p.store.Get(id)
	if !ok {
		rec := p.metrics.AddError(model.ErrorConfig, fmt.Sprintf("item %q not found", id), id)
		p.writeResult(model.ItemResult{ItemID: id, Outcome: model.OutcomeError, Kind: rec.Kind, Reason: rec.Message})
		p.emitProgress("Item not found", &rec)
		return
	}

	// 1. Resolve target field.
	if !item.Has(p.opts.TargetField) {
		rec := p.metrics.AddError(model.ErrorConfig,
			fmt.Sprintf("target field %q not found", p.opts.TargetField), id)
		p.writeResult(model.ItemResult{ItemID: id, Outcome: model.OutcomeError, Kind: rec.Kind, Reason: rec.Message})
		p.emitProgress("Field not found", &rec)
		return
	}

	// 2. Skip-if-populated.
	if p.opts.SkipExisting && strings.TrimSpace(item.Value(p.opts.TargetField)) != "" {
		p.metrics.AddSkip("already has content")
		p.writeResult(model.ItemResult{ItemID: id, Outcome: model.OutcomeSkipped, Reason: "already has content"})
		p.emitProgress("Skipping: has content", nil)
		return
	}

	// 3. Template resolution.
	userPrompt, err := prompt.Resolve(p.opts.UserPrompt, item)
	if err != nil {
		output.Logger.Info("Skipping item", "item", id, "reason", err)
		p.metrics.AddSkip("no valid field content")
		p.writeResult(model.ItemResult{ItemID: id, Outcome: model.OutcomeSkipped, Reason: "no valid field content"})
		p.emitProgress("Skipping: no content", nil)
		return
	}

	preview := item.Preview(previewLimit)
	p.emitProgress(preview, nil)

	// 4. Generation.
	text, retries, err := p.gen.Generate(ctx, model.GenerationRequest{
		SystemPrompt:   p.opts.SystemPrompt,
		UserPrompt:     userPrompt,
		MaxTokens:      p.opts.MaxTokens,
		Temperature:    p.opts.Temperature,
		PreferredModel: p.opts.PreferredModel,
	})
	p.metrics.AddRetries(retries)

	if err != nil {
		kind := model.ErrorGeneration
		if errors.Is(err, llm.ErrNoModels) {
			kind = model.ErrorNoModels
		}
		rec := p.metrics.AddError(kind, err.Error(), preview)
		p.writeResult(model.ItemResult{ItemID: id, Outcome: model.OutcomeError, Kind: kind, Reason: err.Error(), Retries: retries})
		p.emitProgress("", &rec)
		return
	}

	// 5. Write-back.
	if err := p.store.UpdateField(id, p.opts.TargetField, text); err != nil {
		rec := p.metrics.AddError(model.ErrorUnexpected, err.Error(), id)
		p.writeResult(model.ItemResult{ItemID: id, Outcome: model.OutcomeError, Kind: rec.Kind, Reason: rec.Message, Retries: retries})
		p.emitProgress("", &rec)
		return
	}

	elapsed := time.Since(start)
	p.metrics.AddSuccess(elapsed)
	p.writeResult(model.ItemResult{ItemID: id, Outcome: model.OutcomeSuccess, Retries: retries, Duration: elapsed})
	p.emitProgress("", nil)
}

// emitProgress sends a progress event without ever blocking the worker.
// A consumer that lags simply misses intermediate updates.
func (p *Processor) emitProgress(preview string, rec *model.ErrorRecord) {
	ev := Event{Progress: &model.ProgressEvent{
		Processed:  p.metrics.Processed(),
		Successful: p.metrics.Successful(),
		Preview:    preview,
		Err:        rec,
	}}
	select {
	case p.events <- ev:
	default:
	}
}

func (p *Processor) writeResult(r model.ItemResult) {
	if p.Report == nil {
		return
	}
	r.Timestamp = time.Now()
	if err := p.Report.Write(r); err != nil {
		output.Logger.Error("Failed to write result to report", "item", r.ItemID, "error", err)
	}
}
