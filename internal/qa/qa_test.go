package qa_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JaimeStill/sitegraph/internal/capability"
	"github.com/JaimeStill/sitegraph/internal/engine"
	"github.com/JaimeStill/sitegraph/internal/graph"
	"github.com/JaimeStill/sitegraph/internal/providers/sqlengine"
	"github.com/JaimeStill/sitegraph/internal/providers/vector"
	"github.com/JaimeStill/sitegraph/internal/qa"
	"github.com/JaimeStill/sitegraph/internal/runs"
)

type fakeQuery struct {
	rows  []capability.Row
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeQuery) Query(ctx context.Context, _ string) ([]capability.Row, error) {
	f.calls.Add(1)
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.rows, f.err
}

type fakeEmbedder struct {
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	f.calls.Add(1)
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []float32{1, 0}, nil
}

type fakePlanner struct {
	plan capability.Plan
	err  error
}

func (f fakePlanner) Plan(context.Context, string) (capability.Plan, error) {
	return f.plan, f.err
}

type fakeSynthesizer struct {
	out   capability.Synthesis
	calls atomic.Int32
}

func (f *fakeSynthesizer) Synthesize(context.Context, string, []capability.Row, []capability.Hit) (capability.Synthesis, error) {
	f.calls.Add(1)
	return f.out, nil
}

func newEngine(t *testing.T, deps qa.Deps) *engine.Engine {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	deps.Logger = logger

	def, err := qa.Build(deps)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	e := engine.New(runs.NewMemory(), engine.Config{
		MaxAttempts:    3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
		NodeTimeout:    time.Second,
		WorkerLimit:    4,
	}, logger)
	e.Register(def)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		e.Shutdown(ctx)
	})
	return e
}

func ask(t *testing.T, e *engine.Engine, question string) *engine.GraphRun {
	t.Helper()
	input, err := qa.Input(question)
	if err != nil {
		t.Fatalf("input: %v", err)
	}
	run, err := e.Run(context.Background(), graph.KindQA, input)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return run
}

func indexed(t *testing.T, docRef, content string, embedding []float32) *vector.Memory {
	t.Helper()
	v := vector.NewMemory()
	err := v.Upsert(context.Background(), "hit-1", embedding, map[string]any{
		vector.MetaDocumentRef: docRef,
		vector.MetaContent:     content,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return v
}

func TestInsufficientData(t *testing.T) {
	query := &fakeQuery{}
	synth := &fakeSynthesizer{out: capability.Synthesis{Text: "上周共浇筑120方。"}}
	e := newEngine(t, qa.Deps{
		Query:       query,
		Embedder:    &fakeEmbedder{},
		Vectors:     vector.NewMemory(),
		Synthesizer: synth,
	})

	run := ask(t, e, "上周浇筑了多少混凝土？")
	if run.Status != engine.StatusCompleted {
		t.Fatalf("status: got %s, want %s (%s)", run.Status, engine.StatusCompleted, run.LastError)
	}

	answer, ok := qa.AnswerFrom(run.State)
	if !ok {
		t.Fatal("answer missing")
	}

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"text", answer.Text, qa.InsufficientDataMsg},
		{"citations", len(answer.Citations), 0},
		{"source", answer.Source, qa.SourceInsufficient},
		{"intent", answer.Intent, string(qa.IntentStructured)},
		{"synthesizer not consulted", synth.calls.Load(), int32(0)},
		{"sql ran", query.calls.Load(), int32(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}
}

func TestFanOutMergeIndependentOfOrder(t *testing.T) {
	rows := []capability.Row{{"activity_type": "混凝土浇筑", "total_quantity": 80.0}}
	plan := capability.Plan{
		Intent: string(qa.IntentHybrid),
		Calls: []capability.ToolCall{
			{Tool: capability.ToolSQL, Input: "SELECT 1"},
			{Tool: capability.ToolVector, Input: "混凝土浇筑"},
		},
	}

	delays := []struct {
		sql    time.Duration
		vector time.Duration
	}{
		{sql: 0, vector: 30 * time.Millisecond},
		{sql: 30 * time.Millisecond, vector: 0},
	}

	var states []graph.State
	for _, d := range delays {
		e := newEngine(t, qa.Deps{
			Planner:  fakePlanner{plan: plan},
			Query:    &fakeQuery{rows: rows, delay: d.sql},
			Embedder: &fakeEmbedder{delay: d.vector},
			Vectors:  indexed(t, "doc-1", "3月15日完成80方混凝土浇筑", []float32{1, 0}),
		})
		run := ask(t, e, "混凝土浇筑的情况如何，共有多少？")
		if run.Status != engine.StatusCompleted {
			t.Fatalf("status: got %s, want %s (%s)", run.Status, engine.StatusCompleted, run.LastError)
		}
		states = append(states, run.State)
	}

	if !states[0].Equal(states[1]) {
		t.Error("merged state differs between completion orders")
	}

	answer, _ := qa.AnswerFrom(states[0])
	if len(answer.Citations) != 2 {
		t.Errorf("citations: got %v, want row 0 and doc-1", answer.Citations)
	}
}

func TestUnplannedToolIsSkipped(t *testing.T) {
	query := &fakeQuery{}
	embedder := &fakeEmbedder{}
	e := newEngine(t, qa.Deps{
		Query:    query,
		Embedder: embedder,
		Vectors:  indexed(t, "doc-7", "脚手架搭设注意事项", []float32{1, 0}),
	})

	run := ask(t, e, "脚手架搭设有哪些注意事项？")
	if run.Status != engine.StatusCompleted {
		t.Fatalf("status: got %s, want %s (%s)", run.Status, engine.StatusCompleted, run.LastError)
	}

	var sqlResult *engine.NodeResult
	for i := range run.History {
		if run.History[i].Node == qa.NodeSQL {
			sqlResult = &run.History[i]
		}
	}

	answer, _ := qa.AnswerFrom(run.State)

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"sql not called", query.calls.Load(), int32(0)},
		{"vector called", embedder.calls.Load(), int32(1)},
		{"sql node recorded", sqlResult != nil, true},
		{"sql patch empty", sqlResult != nil && len(sqlResult.Patch) == 0, true},
		{"no sql result", run.State.Has(qa.FieldSQLResult), false},
		{"template answer", answer.Source, qa.SourceTemplate},
		{"cites doc", len(answer.Citations) == 1 && answer.Citations[0].Ref == "doc-7", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}
}

func TestPlannerFallback(t *testing.T) {
	tests := []struct {
		name    string
		planner fakePlanner
	}{
		{"invalid output", fakePlanner{err: capability.Invalid(capability.Planner, errors.New("not json"))}},
		{"refusal", fakePlanner{err: capability.Fatal(capability.Planner, errors.New("refused"))}},
		{"unknown tool", fakePlanner{plan: capability.Plan{Calls: []capability.ToolCall{{Tool: "web", Input: "x"}}}}},
		{"empty plan", fakePlanner{plan: capability.Plan{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, qa.Deps{
				Planner:  tt.planner,
				Query:    &fakeQuery{},
				Embedder: &fakeEmbedder{},
				Vectors:  vector.NewMemory(),
			})
			run := ask(t, e, "上周浇筑了多少混凝土？")
			if run.Status != engine.StatusCompleted {
				t.Fatalf("status: got %s, want %s (%s)", run.Status, engine.StatusCompleted, run.LastError)
			}
			source, _, _ := graph.Get[string](run.State, qa.FieldPlanSource)
			if source != qa.SourceKeyword {
				t.Errorf("got %v, want %v", source, qa.SourceKeyword)
			}
		})
	}
}

func TestRejectedStatementDegrades(t *testing.T) {
	plan := capability.Plan{Calls: []capability.ToolCall{{Tool: capability.ToolSQL, Input: "DELETE FROM construction_records"}}}
	e := newEngine(t, qa.Deps{
		Planner:  fakePlanner{plan: plan},
		Query:    &fakeQuery{err: capability.Invalid(capability.SQL, sqlengine.ErrNotReadOnly)},
		Embedder: &fakeEmbedder{},
		Vectors:  vector.NewMemory(),
	})

	run := ask(t, e, "删除记录")
	if run.Status != engine.StatusCompleted {
		t.Fatalf("status: got %s, want %s (%s)", run.Status, engine.StatusCompleted, run.LastError)
	}

	sqlErr, _, _ := graph.Get[string](run.State, qa.FieldSQLError)
	if sqlErr == "" {
		t.Error("sql error not recorded")
	}
	answer, _ := qa.AnswerFrom(run.State)
	if answer.Text != qa.InsufficientDataMsg {
		t.Errorf("got %q, want %q", answer.Text, qa.InsufficientDataMsg)
	}
}

func TestTransientQueryFailureExhausts(t *testing.T) {
	query := &fakeQuery{err: capability.Transient(capability.SQL, errors.New("connection refused"))}
	e := newEngine(t, qa.Deps{
		Query:    query,
		Embedder: &fakeEmbedder{},
		Vectors:  vector.NewMemory(),
	})

	run := ask(t, e, "本月完成了多少钢筋绑扎？")
	if run.Status != engine.StatusFailed {
		t.Fatalf("status: got %s, want %s", run.Status, engine.StatusFailed)
	}
	if run.LastError != "capability-fatal:SQL" {
		t.Errorf("got %q, want %q", run.LastError, "capability-fatal:SQL")
	}
	if got := query.calls.Load(); got != 3 {
		t.Errorf("attempts: got %d, want 3", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		question string
		expected qa.Intent
	}{
		{"上周浇筑了多少混凝土？", qa.IntentStructured},
		{"为什么三号楼停工？", qa.IntentUnstructured},
		{"本月完成进度如何，原因是什么？", qa.IntentHybrid},
		{"你好", qa.IntentUnknown},
	}

	for _, tt := range tests {
		if got := qa.Classify(tt.question); got != tt.expected {
			t.Errorf("Classify(%q) = %s, want %s", tt.question, got, tt.expected)
		}
	}
}

func TestKeywordPlan(t *testing.T) {
	tests := []struct {
		question string
		sql      bool
		vector   bool
	}{
		{"上周浇筑了多少混凝土？", true, false},
		{"为什么三号楼停工？", false, true},
		{"你好", true, true},
	}

	for _, tt := range tests {
		plan := qa.KeywordPlan(tt.question)
		if plan.Uses(capability.ToolSQL) != tt.sql || plan.Uses(capability.ToolVector) != tt.vector {
			t.Errorf("KeywordPlan(%q) = %+v", tt.question, plan.Calls)
		}
		if err := qa.ValidatePlan(plan); err != nil {
			t.Errorf("KeywordPlan(%q) invalid: %v", tt.question, err)
		}
		if call, ok := plan.Call(capability.ToolSQL); ok {
			if _, err := sqlengine.Validate(call.Input); err != nil {
				t.Errorf("template sql rejected: %v", err)
			}
		}
	}
}

func TestKeywordPlanSQLFragments(t *testing.T) {
	call, _ := qa.KeywordPlan("上周浇筑了多少混凝土？").Call(capability.ToolSQL)

	for _, want := range []string{"SUM(quantity)", "activity_type = '混凝土浇筑'", "interval '1 week'"} {
		if !strings.Contains(call.Input, want) {
			t.Errorf("sql %q missing %q", call.Input, want)
		}
	}
	if strings.Contains(call.Input, "上周") {
		t.Errorf("question text leaked into sql: %q", call.Input)
	}
}

func TestValidatePlan(t *testing.T) {
	tests := []struct {
		name     string
		plan     capability.Plan
		expected error
	}{
		{"empty", capability.Plan{}, qa.ErrEmptyPlan},
		{"unknown", capability.Plan{Calls: []capability.ToolCall{{Tool: "web", Input: "x"}}}, qa.ErrUnknownTool},
		{"duplicate", capability.Plan{Calls: []capability.ToolCall{
			{Tool: capability.ToolVector, Input: "a"},
			{Tool: capability.ToolVector, Input: "b"},
		}}, qa.ErrDuplicateTool},
		{"blank input", capability.Plan{Calls: []capability.ToolCall{{Tool: capability.ToolSQL, Input: " "}}}, qa.ErrEmptyToolInput},
		{"valid", capability.Plan{Calls: []capability.ToolCall{{Tool: capability.ToolSQL, Input: "SELECT 1"}}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := qa.ValidatePlan(tt.plan); !errors.Is(err, tt.expected) {
				t.Errorf("got %v, want %v", err, tt.expected)
			}
		})
	}
}

func TestRestrict(t *testing.T) {
	rows := []capability.Row{{"a": 1}, {"a": 2}}
	hits := []capability.Hit{{DocumentRef: "doc-1"}}

	got := qa.Restrict([]capability.Citation{
		{Kind: capability.CitationRow, Ref: "1"},
		{Kind: capability.CitationRow, Ref: "1"},
		{Kind: capability.CitationRow, Ref: "9"},
		{Kind: capability.CitationDocument, Ref: "doc-1"},
		{Kind: capability.CitationDocument, Ref: "doc-invented"},
	}, rows, hits)

	if len(got) != 2 || got[0].Ref != "1" || got[1].Ref != "doc-1" {
		t.Errorf("got %v, want [row 1, doc-1]", got)
	}

	if all := qa.Restrict(nil, rows, hits); len(all) != 3 {
		t.Errorf("fallback: got %v, want every source", all)
	}
}

func TestInputRejectsBlank(t *testing.T) {
	if _, err := qa.Input("  "); !errors.Is(err, qa.ErrEmptyQuestion) {
		t.Errorf("got %v, want %v", err, qa.ErrEmptyQuestion)
	}
}
