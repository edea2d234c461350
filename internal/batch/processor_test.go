package batch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deckfill/internal/llm"
	"deckfill/internal/model"
)

// fakeGen scripts the generation client.
type fakeGen struct {
	fn      func(req model.GenerationRequest) (string, int, error)
	calls   int
	prompts []string
}

func (g *fakeGen) Generate(_ context.Context, req model.GenerationRequest) (string, int, error) {
	g.calls++
	g.prompts = append(g.prompts, req.UserPrompt)
	if g.fn == nil {
		return "generated", 0, nil
	}
	return g.fn(req)
}

// memStore is an in-memory Store.
type memStore struct {
	fields []string
	items  map[string]map[string]string
}

func newMemStore(fields []string, rows map[string]map[string]string) *memStore {
	return &memStore{fields: fields, items: rows}
}

func (s *memStore) Get(id string) (model.Item, bool) {
	values, ok := s.items[id]
	if !ok {
		return model.Item{}, false
	}
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return model.Item{ID: id, Fields: s.fields, Values: copied}, true
}

func (s *memStore) UpdateField(id, field, value string) error {
	values, ok := s.items[id]
	if !ok {
		return errors.New("item not found")
	}
	values[field] = value
	return nil
}

func defaultOpts() Options {
	return Options{
		TargetField:  "Answer",
		SkipExisting: true,
		SystemPrompt: "You are a tutor.",
		UserPrompt:   "Explain: {{Question}}",
		Temperature:  0.3,
		MaxTokens:    200,
	}
}

// run drives a full batch synchronously and returns the snapshot plus
// every event emitted.
func run(t *testing.T, gen Generator, st Store, opts Options, ids []string) (model.Snapshot, []Event) {
	t.Helper()
	p := New(gen, st, opts, len(ids))
	snap := p.Run(context.Background(), ids)

	var events []Event
	for ev := range p.Events() {
		events = append(events, ev)
	}
	return snap, events
}

func TestRun_MixedOutcomes(t *testing.T) {
	st := newMemStore([]string{"Question", "Answer"}, map[string]map[string]string{
		"ok":      {"Question": "What is Go?", "Answer": ""},
		"full":    {"Question": "What is CSV?", "Answer": "already answered"},
		"failing": {"Question": "What breaks?", "Answer": ""},
	})
	gen := &fakeGen{fn: func(req model.GenerationRequest) (string, int, error) {
		if req.UserPrompt == "Explain: What breaks?" {
			return "", 1, errors.New("HTTP 500: exhausted")
		}
		return "text", 0, nil
	}}

	snap, _ := run(t, gen, st, defaultOpts(), []string{"ok", "full", "failing"})

	assert.Equal(t, 3, snap.Processed)
	assert.Equal(t, 1, snap.Successful)
	assert.Equal(t, 1, snap.Skipped)
	assert.Equal(t, 1, snap.Errors)
	assert.Equal(t, snap.Processed, snap.Successful+snap.Skipped+snap.Errors)
	assert.Equal(t, 1, snap.Retries)

	require.Len(t, snap.Records, 1)
	assert.Equal(t, model.ErrorGeneration, snap.Records[0].Kind)
	assert.Contains(t, snap.Records[0].Message, "HTTP 500")
}

func TestSkipExisting_NoGenerationCall(t *testing.T) {
	st := newMemStore([]string{"Question", "Answer"}, map[string]map[string]string{
		"1": {"Question": "q", "Answer": "  populated  "},
	})
	gen := &fakeGen{}

	snap, _ := run(t, gen, st, defaultOpts(), []string{"1"})

	assert.Equal(t, 1, snap.Skipped)
	assert.Zero(t, gen.calls)
	// Content stays as it was.
	item, _ := st.Get("1")
	assert.Equal(t, "  populated  ", item.Value("Answer"))
}

func TestProcessExisting_Overwrites(t *testing.T) {
	st := newMemStore([]string{"Question", "Answer"}, map[string]map[string]string{
		"1": {"Question": "q", "Answer": "old"},
	})
	gen := &fakeGen{}
	opts := defaultOpts()
	opts.SkipExisting = false

	snap, _ := run(t, gen, st, opts, []string{"1"})

	assert.Equal(t, 1, snap.Successful)
	item, _ := st.Get("1")
	assert.Equal(t, "generated", item.Value("Answer"))
}

func TestMissingPlaceholderField_SkippedNotError(t *testing.T) {
	st := newMemStore([]string{"Question", "Answer"}, map[string]map[string]string{
		"1": {"Question": "q", "Answer": ""},
	})
	gen := &fakeGen{}
	opts := defaultOpts()
	opts.UserPrompt = "Use {{Absent}} here"

	snap, _ := run(t, gen, st, opts, []string{"1"})

	assert.Equal(t, 1, snap.Skipped)
	assert.Zero(t, snap.Errors)
	assert.Zero(t, gen.calls, "no generation call for unresolvable template")
}

func TestBlankPlaceholderField_Skipped(t *testing.T) {
	st := newMemStore([]string{"Question", "Answer"}, map[string]map[string]string{
		"1": {"Question": "   ", "Answer": ""},
	})
	gen := &fakeGen{}

	snap, _ := run(t, gen, st, defaultOpts(), []string{"1"})

	assert.Equal(t, 1, snap.Skipped)
	assert.Zero(t, gen.calls)
}

func TestConstantTemplate_SamePromptForAll(t *testing.T) {
	st := newMemStore([]string{"Question", "Answer"}, map[string]map[string]string{
		"1": {"Question": "first", "Answer": ""},
		"2": {"Question": "second", "Answer": ""},
	})
	gen := &fakeGen{}
	opts := defaultOpts()
	opts.UserPrompt = "no placeholders at all"

	snap, _ := run(t, gen, st, opts, []string{"1", "2"})

	assert.Equal(t, 2, snap.Successful)
	require.Len(t, gen.prompts, 2)
	assert.Equal(t, gen.prompts[0], gen.prompts[1])
	assert.Equal(t, "no placeholders at all", gen.prompts[0])
}

func TestTemplateResolution_UsesFieldContent(t *testing.T) {
	st := newMemStore([]string{"X", "Y", "Answer"}, map[string]map[string]string{
		"1": {"X": "foo", "Y": "bar", "Answer": ""},
	})
	gen := &fakeGen{}
	opts := defaultOpts()
	opts.UserPrompt = "A: {{X}} B: {{Y}}"

	_, _ = run(t, gen, st, opts, []string{"1"})

	require.Len(t, gen.prompts, 1)
	assert.Equal(t, "A: foo B: bar", gen.prompts[0])
}

func TestTargetFieldMissing_ConfigError(t *testing.T) {
	st := newMemStore([]string{"Question"}, map[string]map[string]string{
		"1": {"Question": "q"},
	})
	gen := &fakeGen{}

	snap, _ := run(t, gen, st, defaultOpts(), []string{"1"})

	assert.Equal(t, 1, snap.Errors)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, model.ErrorConfig, snap.Records[0].Kind)
	assert.Zero(t, gen.calls)
}

func TestGenerationFailure_TargetUntouched(t *testing.T) {
	st := newMemStore([]string{"Question", "Answer"}, map[string]map[string]string{
		"1": {"Question": "q", "Answer": ""},
	})
	gen := &fakeGen{fn: func(model.GenerationRequest) (string, int, error) {
		return "", 3, errors.New("exhausted")
	}}

	snap, _ := run(t, gen, st, defaultOpts(), []string{"1"})

	assert.Equal(t, 1, snap.Errors)
	assert.Equal(t, 3, snap.Retries)
	item, _ := st.Get("1")
	assert.Equal(t, "", item.Value("Answer"), "no partial write on failure")
}

func TestNoModels_MappedKind(t *testing.T) {
	st := newMemStore([]string{"Question", "Answer"}, map[string]map[string]string{
		"1": {"Question": "q", "Answer": ""},
	})
	gen := &fakeGen{fn: func(model.GenerationRequest) (string, int, error) {
		return "", 0, llm.ErrNoModels
	}}

	snap, _ := run(t, gen, st, defaultOpts(), []string{"1"})

	require.Len(t, snap.Records, 1)
	assert.Equal(t, model.ErrorNoModels, snap.Records[0].Kind)
}

func TestRetries_AccumulateAcrossItems(t *testing.T) {
	st := newMemStore([]string{"Question", "Answer"}, map[string]map[string]string{
		"1": {"Question": "a", "Answer": ""},
		"2": {"Question": "b", "Answer": ""},
	})
	gen := &fakeGen{fn: func(model.GenerationRequest) (string, int, error) {
		return "ok", 2, nil
	}}

	snap, _ := run(t, gen, st, defaultOpts(), []string{"1", "2"})
	assert.Equal(t, 4, snap.Retries)
}

func TestPanic_RecoveredAtItemBoundary(t *testing.T) {
	st := newMemStore([]string{"Question", "Answer"}, map[string]map[string]string{
		"boom": {"Question": "q", "Answer": ""},
		"fine": {"Question": "q2", "Answer": ""},
	})
	first := true
	gen := &fakeGen{fn: func(model.GenerationRequest) (string, int, error) {
		if first {
			first = false
			panic("worker fault")
		}
		return "ok", 0, nil
	}}

	snap, _ := run(t, gen, st, defaultOpts(), []string{"boom", "fine"})

	assert.Equal(t, 2, snap.Processed, "batch continues past the fault")
	assert.Equal(t, 1, snap.Successful)
	assert.Equal(t, 1, snap.Errors)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, model.ErrorUnexpected, snap.Records[0].Kind)
	assert.Contains(t, snap.Records[0].Message, "worker fault")
}

func TestUnknownItem_RecordedAndContinues(t *testing.T) {
	st := newMemStore([]string{"Question", "Answer"}, map[string]map[string]string{
		"1": {"Question": "q", "Answer": ""},
	})
	gen := &fakeGen{}

	snap, _ := run(t, gen, st, defaultOpts(), []string{"ghost", "1"})

	assert.Equal(t, 2, snap.Processed)
	assert.Equal(t, 1, snap.Successful)
	assert.Equal(t, 1, snap.Errors)
}

func TestEvents_FinalSnapshotAndClose(t *testing.T) {
	st := newMemStore([]string{"Question", "Answer"}, map[string]map[string]string{
		"1": {"Question": "q", "Answer": ""},
	})
	gen := &fakeGen{}

	_, events := run(t, gen, st, defaultOpts(), []string{"1"})

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.NotNil(t, last.Final)
	assert.Equal(t, 1, last.Final.Successful)
	for _, ev := range events[:len(events)-1] {
		assert.NotNil(t, ev.Progress)
		assert.Nil(t, ev.Final)
	}
}

func TestEvents_ErrorRecordDelivered(t *testing.T) {
	st := newMemStore([]string{"Question", "Answer"}, map[string]map[string]string{
		"1": {"Question": "q", "Answer": ""},
	})
	gen := &fakeGen{fn: func(model.GenerationRequest) (string, int, error) {
		return "", 0, errors.New("service down")
	}}

	_, events := run(t, gen, st, defaultOpts(), []string{"1"})

	var sawError bool
	for _, ev := range events {
		if ev.Progress != nil && ev.Progress.Err != nil {
			sawError = true
			assert.Equal(t, "service down", ev.Progress.Err.Message)
		}
	}
	assert.True(t, sawError)
}

func TestEvents_PreviewBeforeGeneration(t *testing.T) {
	long := "This answer preview is definitely longer than fifty characters in total."
	st := newMemStore([]string{"Question", "Answer"}, map[string]map[string]string{
		"1": {"Question": long, "Answer": ""},
	})
	gen := &fakeGen{}
	opts := defaultOpts()

	_, events := run(t, gen, st, opts, []string{"1"})

	var previews []string
	for _, ev := range events {
		if ev.Progress != nil && ev.Progress.Preview != "" {
			previews = append(previews, ev.Progress.Preview)
		}
	}
	require.NotEmpty(t, previews)
	assert.Len(t, []rune(previews[0]), 50)
	assert.Equal(t, long[:50], previews[0])
}

func TestCancellation_StopsBetweenItems(t *testing.T) {
	st := newMemStore([]string{"Question", "Answer"}, map[string]map[string]string{
		"1": {"Question": "a", "Answer": ""},
		"2": {"Question": "b", "Answer": ""},
	})

	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGen{fn: func(model.GenerationRequest) (string, int, error) {
		cancel() // cancel while the first item is in flight
		return "ok", 0, nil
	}}

	p := New(gen, st, defaultOpts(), 2)
	snap := p.Run(ctx, []string{"1", "2"})
	for range p.Events() {
	}

	// The in-flight item completes; the second is never started.
	assert.Equal(t, 1, snap.Processed)
	assert.Equal(t, 1, snap.Successful)
	assert.Equal(t, 1, gen.calls)
}

func TestOptionsValidate(t *testing.T) {
	opts := defaultOpts()
	assert.NoError(t, opts.Validate())

	missing := opts
	missing.TargetField = "  "
	assert.Error(t, missing.Validate())

	noPrompt := opts
	noPrompt.UserPrompt = ""
	assert.Error(t, noPrompt.Validate())

	noSystem := opts
	noSystem.SystemPrompt = "\t"
	assert.Error(t, noSystem.Validate())
}
