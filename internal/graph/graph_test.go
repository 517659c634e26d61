package graph_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/JaimeStill/sitegraph/internal/capability"
	"github.com/JaimeStill/sitegraph/internal/graph"
)

func node(name string, writes ...string) graph.Node {
	return graph.NewNode(name, nil, writes, func(context.Context, graph.Input) graph.Result {
		return graph.Skip()
	})
}

func diamond(leftWrites, rightWrites []string) *graph.Builder {
	return graph.NewBuilder(graph.KindQA).
		AddNode(node("plan", "plan")).
		AddNode(node("left", leftWrites...)).
		AddNode(node("right", rightWrites...)).
		AddNode(node("join", "answer")).
		AddEdge("plan", "left", nil).
		AddEdge("plan", "right", nil).
		AddEdge("left", "join", nil).
		AddEdge("right", "join", nil).
		SetEntry("plan").
		SetTerminal("join")
}

func TestCompileDiamond(t *testing.T) {
	def, err := diamond([]string{"rows"}, []string{"hits"}).Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	order := def.Order()
	if order[0] != "plan" || order[len(order)-1] != "join" {
		t.Errorf("order: got %v", order)
	}
	if !def.IsTerminal("join") || def.IsTerminal("plan") {
		t.Error("terminal flags wrong")
	}
	if !def.Ordered("plan", "join") || def.Ordered("left", "right") {
		t.Error("ordering wrong")
	}

	preds := def.Predecessors("join")
	slices.Sort(preds)
	if !slices.Equal(preds, []string{"left", "right"}) {
		t.Errorf("predecessors: got %v", preds)
	}
	if len(def.Predecessors("plan")) != 0 {
		t.Error("entry has predecessors")
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name     string
		builder  *graph.Builder
		expected error
	}{
		{
			"overlapping sibling writes",
			diamond([]string{"rows"}, []string{"rows"}),
			graph.ErrWriteConflict,
		},
		{
			"undeclared edge target",
			graph.NewBuilder(graph.KindQA).
				AddNode(node("a")).
				AddEdge("a", "ghost", nil).
				SetEntry("a").
				SetTerminal("a"),
			graph.ErrUndeclaredNode,
		},
		{
			"missing entry",
			graph.NewBuilder(graph.KindQA).AddNode(node("a")).SetTerminal("a"),
			graph.ErrNoEntry,
		},
		{
			"missing terminal",
			graph.NewBuilder(graph.KindQA).AddNode(node("a")).SetEntry("a"),
			graph.ErrNoTerminal,
		},
		{
			"duplicate node",
			graph.NewBuilder(graph.KindQA).
				AddNode(node("a")).
				AddNode(node("a")).
				SetEntry("a").
				SetTerminal("a"),
			graph.ErrDuplicateNode,
		},
		{
			"cycle",
			graph.NewBuilder(graph.KindQA).
				AddNode(node("a")).
				AddNode(node("b")).
				AddNode(node("c")).
				AddEdge("a", "b", nil).
				AddEdge("b", "c", nil).
				AddEdge("c", "b", nil).
				SetEntry("a").
				SetTerminal("c"),
			graph.ErrCycle,
		},
		{
			"unreachable",
			graph.NewBuilder(graph.KindQA).
				AddNode(node("a")).
				AddNode(node("orphan")).
				SetEntry("a").
				SetTerminal("a", "orphan"),
			graph.ErrUnreachable,
		},
		{
			"dead end",
			graph.NewBuilder(graph.KindQA).
				AddNode(node("a")).
				AddNode(node("b")).
				AddNode(node("c")).
				AddEdge("a", "b", nil).
				AddEdge("a", "c", nil).
				SetEntry("a").
				SetTerminal("c"),
			graph.ErrDeadEnd,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Compile()
			if !errors.Is(err, tt.expected) {
				t.Errorf("got %v, want %v", err, tt.expected)
			}
		})
	}
}

func TestSuccessors(t *testing.T) {
	approved := func(s graph.State) bool {
		v, _, _ := graph.Get[string](s, "status")
		return v == "approved"
	}

	def, err := graph.NewBuilder(graph.KindExtraction).
		AddNode(node("gate", "status")).
		AddNode(node("commit", "record")).
		AddNode(node("index", "vector")).
		AddNode(node("discard", "discarded")).
		AddEdge("gate", "commit", approved).
		AddEdge("gate", "index", approved).
		AddEdge("gate", "discard", graph.Not(approved)).
		SetEntry("gate").
		SetTerminal("commit", "index", "discard").
		Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	patch, _ := graph.Encode(map[string]any{"status": "approved"})
	state := graph.NewState().Apply(patch)

	next, err := def.Successors("gate", state, nil)
	if err != nil {
		t.Fatalf("successors: %v", err)
	}
	if !slices.Equal(next, []string{"commit", "index"}) {
		t.Errorf("approved: got %v, want [commit index]", next)
	}

	patch, _ = graph.Encode(map[string]any{"status": "rejected"})
	next, _ = def.Successors("gate", state.Apply(patch), nil)
	if !slices.Equal(next, []string{"discard"}) {
		t.Errorf("rejected: got %v, want [discard]", next)
	}

	if _, err := def.Successors("gate", state, []string{"nowhere"}); !errors.Is(err, graph.ErrInvalidRoute) {
		t.Errorf("explicit route: got %v, want %v", err, graph.ErrInvalidRoute)
	}
}

func TestStateApplyIsCopyOnWrite(t *testing.T) {
	base := graph.NewState()
	p1, _ := graph.Encode(map[string]any{"quantity": 80})
	s1 := base.Apply(p1)

	if base.Has("quantity") {
		t.Error("apply mutated the receiver")
	}
	if s1.Version() != 1 {
		t.Errorf("version: got %d, want 1", s1.Version())
	}

	got, ok, err := graph.Get[float64](s1, "quantity")
	if err != nil || !ok || got != 80 {
		t.Errorf("get: got %v %v %v", got, ok, err)
	}

	if s2 := s1.Apply(nil); s2.Version() != 1 {
		t.Errorf("empty patch bumped version to %d", s2.Version())
	}

	p2 := graph.Patch{}
	if err := p2.Set("unit", "方"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := p2.Set("bad", func() {}); err == nil {
		t.Error("set accepted an unencodable value")
	}
	unit, _, _ := graph.Get[string](s1.Apply(p2), "unit")
	if unit != "方" {
		t.Errorf("got %q, want 方", unit)
	}
}

func TestStateJSONRoundTrip(t *testing.T) {
	p, _ := graph.Encode(map[string]any{"unit": "方", "quantity": 80})
	s := graph.NewState().Apply(p)

	data, err := s.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back graph.State
	if err := back.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Equal(s) {
		t.Errorf("round trip changed state: %s", data)
	}
}

func TestFailClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected graph.Outcome
	}{
		{"transient", capability.Transient(capability.OCR, errors.New("timeout")), graph.OutcomeRetryable},
		{"fatal", capability.Fatal(capability.OCR, errors.New("bad key")), graph.OutcomeFatal},
		{"validation", capability.Invalid(capability.OCR, errors.New("blank page")), graph.OutcomeFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := graph.Fail(tt.err).Outcome; got != tt.expected {
				t.Errorf("got %s, want %s", got, tt.expected)
			}
		})
	}
}
