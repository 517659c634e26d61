package extraction_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/sitegraph/internal/capability"
	"github.com/JaimeStill/sitegraph/internal/documents"
	"github.com/JaimeStill/sitegraph/internal/engine"
	"github.com/JaimeStill/sitegraph/internal/extraction"
	"github.com/JaimeStill/sitegraph/internal/graph"
	"github.com/JaimeStill/sitegraph/internal/providers/ner"
	"github.com/JaimeStill/sitegraph/internal/providers/vector"
	"github.com/JaimeStill/sitegraph/internal/records"
	"github.com/JaimeStill/sitegraph/internal/review"
	"github.com/JaimeStill/sitegraph/internal/runs"
)

const pourText = "2024年3月15日 B区1号楼 完成80方混凝土浇筑 天气：晴"

type loader map[uuid.UUID]capability.Document

func (l loader) Load(_ context.Context, id uuid.UUID) (capability.Document, error) {
	doc, ok := l[id]
	if !ok {
		return capability.Document{}, documents.ErrNotFound
	}
	return doc, nil
}

type fakeOCR struct {
	text  string
	fails int
	calls atomic.Int32
	err   error
}

func (f *fakeOCR) ExtractText(ctx context.Context, _ capability.Document) (capability.Text, error) {
	n := int(f.calls.Add(1))
	if n <= f.fails {
		return capability.Text{}, f.err
	}
	return capability.Text{
		Content:    f.text,
		Regions:    []capability.Region{{Page: 1, Text: f.text, Confidence: 0.9}},
		Confidence: 0.9,
	}, nil
}

// confirmer echoes the rule-based candidates back as a confirmed record.
type confirmer struct{}

func (confirmer) Refine(_ context.Context, in capability.RefineInput) (capability.Refinement, error) {
	rec := extraction.Seed(in.Entities, in.Document)
	return capability.Refinement{
		Record:     rec,
		Confidence: map[string]float64{"activity_type": 0.95, "quantity": 0.95},
	}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}

type fakeRecords struct {
	records.Store
	fails atomic.Int32
}

func (f *fakeRecords) Create(ctx context.Context, cmd records.CreateCommand) (records.Record, error) {
	if f.fails.Add(-1) >= 0 {
		return records.Record{}, errors.New("connection reset")
	}
	return f.Store.Create(ctx, cmd)
}

type fixture struct {
	engine  *engine.Engine
	def     *graph.Definition
	docID   uuid.UUID
	ocr     *fakeOCR
	drafts  *records.DraftMemory
	records *fakeRecords
	vectors *vector.Memory
	reviews *review.Memory
	queue   *review.MemoryQueue
}

func newFixture(t *testing.T, ocr *fakeOCR) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	f := &fixture{
		docID:   uuid.New(),
		ocr:     ocr,
		drafts:  records.NewDraftMemory(),
		records: &fakeRecords{Store: records.NewMemory()},
		vectors: vector.NewMemory(),
		reviews: review.NewMemory(),
		queue:   review.NewMemoryQueue(),
	}

	def, err := extraction.Build(extraction.Deps{
		Documents: loader{f.docID: {
			ID:          f.docID,
			Filename:    "log.png",
			ContentType: "image/png",
			Data:        []byte("png"),
			Project:     "滨江花园",
		}},
		OCR:       ocr,
		NER:       ner.New(),
		Refiner:   confirmer{},
		Drafts:    f.drafts,
		Records:   f.records,
		Embedder:  fakeEmbedder{},
		Vectors:   f.vectors,
		Reviews:   f.reviews,
		Queue:     f.queue,
		Threshold: 0.8,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	f.engine = engine.New(runs.NewMemory(), engine.Config{
		MaxAttempts:    3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
		NodeTimeout:    time.Second,
		WorkerLimit:    4,
	}, logger)
	f.engine.Register(def)
	f.def = def

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		f.engine.Shutdown(ctx)
	})
	return f
}

func (f *fixture) start(t *testing.T) *engine.GraphRun {
	t.Helper()
	input, err := extraction.Input(f.docID, nil)
	if err != nil {
		t.Fatalf("input: %v", err)
	}
	run, err := f.engine.Run(context.Background(), graph.KindExtraction, input)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return run
}

func (f *fixture) resolve(t *testing.T, run *engine.GraphRun, v review.Verdict) *engine.GraphRun {
	t.Helper()
	taskID, _, _ := graph.Get[uuid.UUID](run.State, extraction.FieldReviewTaskID)
	payload, _ := json.Marshal(v)

	out, err := f.engine.Resume(context.Background(), run.ID, graph.Resume{TaskID: taskID, Payload: payload})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	return out
}

func TestConcretePourApproved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeOCR{text: pourText})

	run := f.start(t)
	if run.Status != engine.StatusSuspended {
		t.Fatalf("status: got %s, want %s (%s)", run.Status, engine.StatusSuspended, run.LastError)
	}

	draft, err := f.drafts.Find(ctx, run.ID)
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	pending, _ := f.queue.Pending(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("pending tasks: got %d, want 1", len(pending))
	}
	if _, err := f.records.FindByRun(ctx, run.ID); !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("record before approval: got %v, want %v", err, records.ErrNotFound)
	}

	entities, _, _ := graph.Get[[]capability.Entity](run.State, extraction.FieldCandidateEntities)
	seed := extraction.Seed(entities, capability.Document{})

	done := f.resolve(t, run, review.Verdict{Action: review.ActionApprove, Reviewer: "王工"})

	record, err := f.records.FindByRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	status, _, _ := graph.Get[review.Status](done.State, extraction.FieldReviewStatus)
	committed, _ := f.drafts.Find(ctx, run.ID)

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"ner activity", seed.ActivityType, "混凝土浇筑"},
		{"ner quantity", seed.Quantity, 80.0},
		{"draft status before review", draft.Status, records.DraftPending},
		{"run completed", done.Status, engine.StatusCompleted},
		{"review status", status, review.StatusApproved},
		{"record quantity", record.Data.Quantity, 80.0},
		{"record unit", record.Data.Unit, "方"},
		{"record activity", record.Data.ActivityType, "混凝土浇筑"},
		{"record date", record.Data.Date, "2024-03-15"},
		{"record project from context", record.Data.Project, "滨江花园"},
		{"record document", record.DocumentID, f.docID},
		{"draft committed", committed.Status, records.DraftCommitted},
		{"vector indexed", f.vectors.Len(), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}
}

func TestRejectedDiscardsDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeOCR{text: pourText})

	run := f.start(t)
	done := f.resolve(t, run, review.Verdict{Action: review.ActionReject})

	draft, _ := f.drafts.Find(ctx, run.ID)
	_, recErr := f.records.FindByRun(ctx, run.ID)

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"run completed", done.Status, engine.StatusCompleted},
		{"draft discarded", draft.Status, records.DraftDiscarded},
		{"no record", errors.Is(recErr, records.ErrNotFound), true},
		{"no vector", f.vectors.Len(), 0},
		{"discard recorded", done.State.Has(extraction.FieldDiscardedAt), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}
}

func TestEditVerdictOverridesRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeOCR{text: pourText})

	run := f.start(t)
	refined, _, _ := graph.Get[capability.Record](run.State, extraction.FieldRefinedRecord)
	edited := refined
	edited.Quantity = 85

	f.resolve(t, run, review.Verdict{Action: review.ActionEdit, Edited: &edited})

	record, err := f.records.FindByRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if record.Data.Quantity != 85 {
		t.Errorf("got quantity %v, want 85", record.Data.Quantity)
	}
}

func TestOCRTimeoutFailsRun(t *testing.T) {
	ctx := context.Background()
	ocr := &fakeOCR{text: pourText, fails: 3, err: context.DeadlineExceeded}
	f := newFixture(t, ocr)

	run := f.start(t)

	open, _ := f.reviews.List(ctx, review.TaskOpen, 10)
	all, _ := f.records.List(ctx, records.Filters{})

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"status", run.Status, engine.StatusFailed},
		{"reason", run.LastError, "capability-fatal:OCR"},
		{"attempts", int(ocr.calls.Load()), 3},
		{"no review task", len(open), 0},
		{"no record", len(all), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}
}

func TestMissingDocumentIsValidationFailure(t *testing.T) {
	f := newFixture(t, &fakeOCR{text: pourText})

	input, _ := extraction.Input(uuid.New(), nil)
	run, err := f.engine.Run(context.Background(), graph.KindExtraction, input)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.LastError != "validation:OCR" {
		t.Errorf("got %s, want validation:OCR", run.LastError)
	}
	if f.ocr.calls.Load() != 0 {
		t.Error("ocr should not be called for a missing document")
	}
}

func TestCommitRetryMatchesFirstAttempt(t *testing.T) {
	ctx := context.Background()

	approve := func(fails int32) records.Record {
		f := newFixture(t, &fakeOCR{text: pourText})
		f.records.fails.Store(fails)
		run := f.start(t)
		done := f.resolve(t, run, review.Verdict{Action: review.ActionApprove})
		if done.Status != engine.StatusCompleted {
			t.Fatalf("status: got %s (%s)", done.Status, done.LastError)
		}
		all, _ := f.records.List(ctx, records.Filters{})
		if len(all) != 1 {
			t.Fatalf("records: got %d, want 1", len(all))
		}
		return all[0]
	}

	first := approve(0)
	retried := approve(1)

	if first.Data.Quantity != retried.Data.Quantity || first.Data.ActivityType != retried.Data.ActivityType {
		t.Errorf("got %+v, want %+v", retried.Data, first.Data)
	}
}

func TestValidationFlagsMissingFields(t *testing.T) {
	f := newFixture(t, &fakeOCR{text: "B区1号楼 钢筋"})

	run := f.start(t)
	v, _, _ := graph.Get[extraction.Validation](run.State, extraction.FieldValidation)

	if v.Valid || !v.NeedsAttention {
		t.Errorf("got %+v, want invalid and flagged", v)
	}
	if len(v.Missing) != 3 {
		t.Errorf("missing: got %v, want date, quantity, unit", v.Missing)
	}
	if run.Status != engine.StatusSuspended {
		t.Errorf("status: got %s, want suspended for review", run.Status)
	}
}

func TestValidateRejectsCorruptScores(t *testing.T) {
	f := newFixture(t, &fakeOCR{text: pourText})
	node, ok := f.def.Node(extraction.NodeValidate)
	if !ok {
		t.Fatalf("node %s not declared", extraction.NodeValidate)
	}

	record := capability.Record{ActivityType: "混凝土浇筑", Date: "2024-03-15", Quantity: 80, Unit: "方"}

	tests := []struct {
		name  string
		field string
		value any
	}{
		{"ocr confidence", extraction.FieldOCRConfidence, "high"},
		{"ner confidence", extraction.FieldNERConfidence, []int{1}},
		{"vlm confidence", extraction.FieldVLMConfidence, map[string]int{"x": 1}},
		{"field confidence", extraction.FieldFieldConfidence, "n/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := graph.Encode(map[string]any{
				extraction.FieldRefinedRecord: record,
				tt.field:                      tt.value,
			})
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			res := node.Run(context.Background(), graph.Input{
				RunID:    uuid.New(),
				Kind:     graph.KindExtraction,
				Snapshot: graph.NewState().Apply(p),
				Attempt:  1,
			})
			if res.Outcome != graph.OutcomeFatal {
				t.Errorf("got %s, want %s", res.Outcome, graph.OutcomeFatal)
			}
			if got := capability.KindOf(res.Err); got != capability.KindValidation {
				t.Errorf("got %s, want %s", got, capability.KindValidation)
			}
		})
	}
}
