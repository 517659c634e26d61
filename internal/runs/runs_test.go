package runs_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/JaimeStill/sitegraph/internal/engine"
	"github.com/JaimeStill/sitegraph/internal/graph"
	"github.com/JaimeStill/sitegraph/internal/runs"
)

func newRun(t *testing.T, kind graph.Kind) *engine.GraphRun {
	t.Helper()
	input, err := graph.Encode(map[string]any{"question": "本月混凝土浇筑总量是多少？"})
	if err != nil {
		t.Fatalf("encode input: %v", err)
	}
	now := time.Now().UTC()
	return &engine.GraphRun{
		ID:          uuid.New(),
		Kind:        kind,
		Status:      engine.StatusRunning,
		Input:       input,
		State:       engine.Fold(input, nil),
		History:     []engine.NodeResult{},
		RetryCounts: map[string]int{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestMemoryVersioning(t *testing.T) {
	ctx := context.Background()
	store := runs.NewMemory()
	run := newRun(t, graph.KindQA)

	if err := store.Create(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}
	if run.Version != 1 {
		t.Fatalf("got version %d, want 1", run.Version)
	}

	stale, err := store.Find(ctx, run.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	run.Status = engine.StatusCompleted
	if err := store.Update(ctx, run); err != nil {
		t.Fatalf("update: %v", err)
	}

	stale.Status = engine.StatusFailed
	if err := store.Update(ctx, stale); !errors.Is(err, engine.ErrConflict) {
		t.Errorf("got %v, want %v", err, engine.ErrConflict)
	}

	got, err := store.Find(ctx, run.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"status", got.Status, engine.StatusCompleted},
		{"version", got.Version, 2},
		{"state", got.State.Equal(run.State), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}
}

func TestMemoryFindIsolated(t *testing.T) {
	ctx := context.Background()
	store := runs.NewMemory()
	run := newRun(t, graph.KindQA)
	if err := store.Create(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, _ := store.Find(ctx, run.ID)
	got.RetryCounts["plan-intent"] = 9

	again, _ := store.Find(ctx, run.ID)
	if again.RetryCounts["plan-intent"] != 0 {
		t.Error("mutating a found run changed the stored copy")
	}
}

func TestMemoryNotFound(t *testing.T) {
	_, err := runs.NewMemory().Find(context.Background(), uuid.New())
	if !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("got %v, want %v", err, engine.ErrNotFound)
	}
}

func TestMemoryList(t *testing.T) {
	ctx := context.Background()
	store := runs.NewMemory()

	for i, kind := range []graph.Kind{graph.KindQA, graph.KindExtraction, graph.KindQA} {
		run := newRun(t, kind)
		run.UpdatedAt = run.UpdatedAt.Add(time.Duration(i) * time.Second)
		if err := store.Create(ctx, run); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	tests := []struct {
		name     string
		filter   engine.ListFilter
		expected int
	}{
		{"all", engine.ListFilter{}, 3},
		{"by kind", engine.ListFilter{Kind: graph.KindQA}, 2},
		{"by status", engine.ListFilter{Status: engine.StatusSuspended}, 0},
		{"limit", engine.ListFilter{Limit: 1}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != tt.expected {
				t.Errorf("got %d runs, want %d", len(got), tt.expected)
			}
		})
	}
}

func TestMemoryTouch(t *testing.T) {
	ctx := context.Background()
	store := runs.NewMemory()

	running := newRun(t, graph.KindQA)
	done := newRun(t, graph.KindQA)
	done.Status = engine.StatusCompleted
	for _, r := range []*engine.GraphRun{running, done} {
		if err := store.Create(ctx, r); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	at := running.UpdatedAt.Add(time.Minute)
	if err := store.Touch(ctx, running.ID, at); err != nil {
		t.Fatalf("touch running: %v", err)
	}
	if err := store.Touch(ctx, done.ID, at); err != nil {
		t.Fatalf("touch completed: %v", err)
	}

	touched, _ := store.Find(ctx, running.ID)
	untouched, _ := store.Find(ctx, done.ID)

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"running updated", touched.UpdatedAt.Equal(at), true},
		{"version kept", touched.Version, 1},
		{"completed unchanged", untouched.UpdatedAt.Equal(done.UpdatedAt), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}

	// a touched run still accepts its writer's next update
	running.Status = engine.StatusCompleted
	if err := store.Update(ctx, running); err != nil {
		t.Errorf("update after touch: %v", err)
	}
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestPostgresCreate(t *testing.T) {
	mock := newMock(t)
	run := newRun(t, graph.KindExtraction)

	mock.ExpectExec("INSERT INTO runs").
		WithArgs(
			run.ID, "extraction", "running",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			"", run.CreatedAt, run.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := runs.NewPostgres(mock).Create(context.Background(), run); err != nil {
		t.Fatalf("create: %v", err)
	}
	if run.Version != 1 {
		t.Errorf("got version %d, want 1", run.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresUpdateConflict(t *testing.T) {
	mock := newMock(t)
	run := newRun(t, graph.KindExtraction)
	run.Version = 3

	mock.ExpectExec("UPDATE runs").
		WithArgs(
			run.ID, "running",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			"", run.UpdatedAt, 3,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := runs.NewPostgres(mock).Update(context.Background(), run)
	if !errors.Is(err, engine.ErrConflict) {
		t.Errorf("got %v, want %v", err, engine.ErrConflict)
	}
	if run.Version != 3 {
		t.Errorf("got version %d, want 3", run.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresTouch(t *testing.T) {
	mock := newMock(t)
	id := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE runs SET updated_at = \$2 WHERE id = \$1 AND status = 'running'`).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := runs.NewPostgres(mock).Touch(context.Background(), id, at); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresFind(t *testing.T) {
	mock := newMock(t)
	run := newRun(t, graph.KindQA)
	run.History = []engine.NodeResult{{Node: "plan-intent", Outcome: graph.OutcomeOK, Next: []string{"sql-query"}, Attempt: 1}}
	run.RetryCounts = map[string]int{"plan-intent": 1}

	mustJSON := func(v any) []byte {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return data
	}

	rows := pgxmock.NewRows([]string{
		"id", "kind", "status", "input", "state", "history", "retry_counts",
		"last_error", "version", "created_at", "updated_at",
	}).AddRow(
		run.ID, "qa", "suspended",
		mustJSON(run.Input), mustJSON(run.State), mustJSON(run.History), mustJSON(run.RetryCounts),
		"", 4, run.CreatedAt, run.UpdatedAt,
	)

	mock.ExpectQuery(`SELECT .+ FROM runs r WHERE r\.id = \$1`).
		WithArgs(run.ID).
		WillReturnRows(rows)

	got, err := runs.NewPostgres(mock).Find(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"kind", got.Kind, graph.KindQA},
		{"status", got.Status, engine.StatusSuspended},
		{"version", got.Version, 4},
		{"history", len(got.History), 1},
		{"next", got.History[0].Next[0], "sql-query"},
		{"retries", got.RetryCounts["plan-intent"], 1},
		{"state", got.State.Equal(run.State), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}
}

func TestPostgresFindMissing(t *testing.T) {
	mock := newMock(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM runs r WHERE r\.id = \$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := runs.NewPostgres(mock).Find(context.Background(), id)
	if !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("got %v, want %v", err, engine.ErrNotFound)
	}
}
