// Package engine advances GraphRuns through compiled graph definitions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/sitegraph/internal/graph"
	"github.com/JaimeStill/sitegraph/internal/metrics"
)

// Config bounds node execution.
type Config struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	NodeTimeout    time.Duration
	WorkerLimit    int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Second
	}
	if c.NodeTimeout <= 0 {
		c.NodeTimeout = 2 * time.Minute
	}
	if c.WorkerLimit <= 0 {
		c.WorkerLimit = runtime.NumCPU()
	}
	return c
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records run and node activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine is the single writer for every run it advances. Different runs
// advance in parallel; one run is advanced by at most one caller at a time.
type Engine struct {
	store   Store
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	defs   map[graph.Kind]*graph.Definition
	claims map[uuid.UUID]context.CancelCauseFunc
	closed bool
}

// New creates an Engine persisting runs to store.
func New(store Store, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	ctx, cancel := context.WithCancelCause(context.Background())
	e := &Engine{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger.With("system", "engine"),
		ctx:    ctx,
		cancel: cancel,
		defs:   make(map[graph.Kind]*graph.Definition),
		claims: make(map[uuid.UUID]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register makes def available for runs of its kind.
func (e *Engine) Register(def *graph.Definition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defs[def.Kind()] = def
}

// Definition returns the registered graph for kind.
func (e *Engine) Definition(kind graph.Kind) (*graph.Definition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.defs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return def, nil
}

// Handle tracks a run advancing in the background.
type Handle struct {
	RunID uuid.UUID

	done chan struct{}
	run  *GraphRun
	err  error
}

// Done is closed once the run stops advancing.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result blocks until Done and returns the run as last persisted.
func (h *Handle) Result() (*GraphRun, error) {
	<-h.done
	return h.run, h.err
}

// Start persists a new run seeded with input and advances it in the
// background until it suspends, completes, or fails.
func (e *Engine) Start(ctx context.Context, kind graph.Kind, input graph.Patch) (*Handle, error) {
	def, run, err := e.create(ctx, kind, input)
	if err != nil {
		return nil, err
	}
	return e.dispatch(def, run)
}

// Run persists a new run and advances it on the calling goroutine.
func (e *Engine) Run(ctx context.Context, kind graph.Kind, input graph.Patch) (*GraphRun, error) {
	def, run, err := e.create(ctx, kind, input)
	if err != nil {
		return nil, err
	}

	runCtx, release, err := e.claim(ctx, run.ID)
	if err != nil {
		return run, err
	}
	defer release()

	return e.drive(runCtx, release, def, run, "", nil)
}

// Advance resumes scheduling a persisted run that is still running.
// Suspended and finished runs are returned unchanged.
func (e *Engine) Advance(ctx context.Context, id uuid.UUID) (*GraphRun, error) {
	runCtx, release, err := e.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	run, err := e.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status != StatusRunning {
		return run, nil
	}

	def, err := e.Definition(run.Kind)
	if err != nil {
		return run, err
	}
	return e.drive(runCtx, release, def, run, "", nil)
}

// Resume wakes the node suspended on r.TaskID with r as its input and
// continues the run from there.
func (e *Engine) Resume(ctx context.Context, id uuid.UUID, r graph.Resume) (*GraphRun, error) {
	runCtx, release, err := e.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	run, err := e.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status != StatusSuspended {
		return run, fmt.Errorf("%w: %s is %s", ErrNotSuspended, id, run.Status)
	}

	def, err := e.Definition(run.Kind)
	if err != nil {
		return run, err
	}

	node, err := waitingNode(def, run, r.TaskID)
	if err != nil {
		return run, err
	}

	run.Status = StatusRunning
	e.metrics.Suspended(string(run.Kind), -1)
	e.logger.Info("resuming run", "run_id", run.ID, "node", node, "task_id", r.TaskID)

	return e.drive(runCtx, release, def, run, node, &r)
}

// Cancel stops a run. An advancing run stops between node executions and
// discards in-flight results; a suspended run fails immediately.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) error {
	_, release, err := e.claim(ctx, id)
	if errors.Is(err, ErrRunBusy) {
		e.mu.Lock()
		if cancel, ok := e.claims[id]; ok {
			cancel(errCancelled)
		}
		e.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}
	defer release()

	run, err := e.store.Find(ctx, id)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrRunFinished, id, run.Status)
	}

	if run.Status == StatusSuspended {
		e.metrics.Suspended(string(run.Kind), -1)
	}
	return e.finish(ctx, run, StatusFailed, ReasonCancelled)
}

// Get returns the persisted run.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*GraphRun, error) {
	return e.store.Find(ctx, id)
}

// List returns persisted runs matching filter.
func (e *Engine) List(ctx context.Context, filter ListFilter) ([]*GraphRun, error) {
	return e.store.List(ctx, filter)
}

// Status summarizes a run with the nodes it is waiting on.
func (e *Engine) Status(ctx context.Context, id uuid.UUID) (Summary, error) {
	run, err := e.store.Find(ctx, id)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		ID:        run.ID,
		Kind:      run.Kind,
		Status:    run.Status,
		LastError: run.LastError,
		Steps:     len(run.History),
		State:     run.State,
		UpdatedAt: run.UpdatedAt,
	}

	if def, err := e.Definition(run.Kind); err == nil && !run.Status.Terminal() {
		f := ComputeFrontier(def, run.History)
		s.Pending = append(f.Suspended, f.Ready...)
	}
	return s, nil
}

// Recover restarts background advancement of every run left running, for
// example by a process that stopped mid-run. Suspended runs are announced
// again in case their process stopped before announcing.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	n, err := e.recover(ctx, 0)
	if err != nil {
		return n, err
	}
	return n, e.reannounce(ctx)
}

// Sweep recovers running runs whose last update is older than the node
// timeout. Runs advancing in another process are touched every half node
// timeout while a batch is in flight and are left alone.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	return e.recover(ctx, e.cfg.NodeTimeout)
}

func (e *Engine) recover(ctx context.Context, idle time.Duration) (int, error) {
	runs, err := e.store.List(ctx, ListFilter{Status: StatusRunning})
	if err != nil {
		return 0, fmt.Errorf("list running: %w", err)
	}

	cutoff := time.Now().UTC().Add(-idle)
	recovered := 0
	for _, run := range runs {
		if idle > 0 && run.UpdatedAt.After(cutoff) {
			continue
		}
		def, err := e.Definition(run.Kind)
		if err != nil {
			e.logger.Warn("skipping run of unknown kind", "run_id", run.ID, "kind", run.Kind)
			continue
		}
		if _, err := e.dispatch(def, run); err != nil {
			if errors.Is(err, ErrRunBusy) {
				continue
			}
			return recovered, err
		}
		recovered++
	}

	if recovered > 0 {
		e.logger.Info("recovered runs", "count", recovered)
	}
	return recovered, nil
}

func (e *Engine) reannounce(ctx context.Context) error {
	runs, err := e.store.List(ctx, ListFilter{Status: StatusSuspended})
	if err != nil {
		return fmt.Errorf("list suspended: %w", err)
	}
	for _, run := range runs {
		def, err := e.Definition(run.Kind)
		if err != nil {
			continue
		}
		e.announce(ctx, def, run, 0)
	}
	return nil
}

// Shutdown stops accepting work, interrupts advancing runs between nodes,
// and waits for them to release. Interrupted runs stay running and can be
// recovered.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.cancel(ErrShuttingDown)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("engine stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine shutdown: %w", ctx.Err())
	}
}

func (e *Engine) create(ctx context.Context, kind graph.Kind, input graph.Patch) (*graph.Definition, *GraphRun, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, nil, ErrShuttingDown
	}

	def, err := e.Definition(kind)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	run := &GraphRun{
		ID:          uuid.New(),
		Kind:        kind,
		Status:      StatusRunning,
		Input:       input,
		State:       Fold(input, nil),
		History:     []NodeResult{},
		RetryCounts: map[string]int{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := e.store.Create(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("create run: %w", err)
	}

	e.metrics.RunStarted(string(kind))
	e.logger.Info("run created", "run_id", run.ID, "kind", kind)
	return def, run, nil
}

func (e *Engine) dispatch(def *graph.Definition, run *GraphRun) (*Handle, error) {
	runCtx, release, err := e.claim(e.ctx, run.ID)
	if err != nil {
		return nil, err
	}

	h := &Handle{RunID: run.ID, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer release()
		h.run, h.err = e.drive(runCtx, release, def, run, "", nil)
		if h.err != nil && !errors.Is(h.err, ErrShuttingDown) {
			e.logger.Error("run advance failed", "run_id", run.ID, "error", h.err)
		}
	}()
	return h, nil
}

// claim registers the caller as the run's single writer. The returned
// context is cancelled by Cancel or by engine shutdown.
func (e *Engine) claim(parent context.Context, id uuid.UUID) (context.Context, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, nil, ErrShuttingDown
	}
	if _, busy := e.claims[id]; busy {
		return nil, nil, fmt.Errorf("%w: %s", ErrRunBusy, id)
	}

	ctx, cancel := context.WithCancelCause(parent)
	stop := context.AfterFunc(e.ctx, func() { cancel(ErrShuttingDown) })
	e.claims[id] = cancel
	e.wg.Add(1)

	var once sync.Once
	release := func() {
		once.Do(func() {
			stop()
			e.mu.Lock()
			delete(e.claims, id)
			e.mu.Unlock()
			cancel(nil)
			e.wg.Done()
		})
	}
	return ctx, release, nil
}

// drive advances run, releases its claim, and then announces the
// suspensions the advancement persisted. A reply to an announcement can
// resume the run at once.
func (e *Engine) drive(ctx context.Context, release func(), def *graph.Definition, run *GraphRun, node string, r *graph.Resume) (*GraphRun, error) {
	from := len(run.History)
	out, err := e.advance(ctx, def, run, node, r)
	release()
	if err == nil {
		e.announce(ctx, def, out, from)
	}
	return out, err
}

// announce calls each Announcer node that suspended run at or after
// history index from and still waits. The run must already be persisted as
// suspended.
func (e *Engine) announce(ctx context.Context, def *graph.Definition, run *GraphRun, from int) {
	if run == nil || run.Status != StatusSuspended || from > len(run.History) {
		return
	}
	ctx = context.WithoutCancel(ctx)
	waiting := ComputeFrontier(def, run.History).Suspended

	for _, r := range run.History[from:] {
		if r.Outcome != graph.OutcomeSuspended || r.TaskID == nil || !slices.Contains(waiting, r.Node) {
			continue
		}
		node, ok := def.Node(r.Node)
		if !ok {
			continue
		}
		a, ok := node.(graph.Announcer)
		if !ok {
			continue
		}
		s := graph.Suspension{TaskID: *r.TaskID, Reason: r.Reason}
		if err := a.Announce(ctx, run.ID, s); err != nil {
			e.logger.Warn("announce suspension failed",
				"run_id", run.ID,
				"node", r.Node,
				"task_id", s.TaskID,
				"error", err,
			)
		}
	}
}

func (e *Engine) finish(ctx context.Context, run *GraphRun, status Status, reason string) error {
	run.Status = status
	run.LastError = reason
	if err := e.save(ctx, run); err != nil {
		return err
	}

	e.metrics.RunFinished(string(run.Kind), string(status))
	e.logger.Info("run finished", "run_id", run.ID, "status", status, "reason", reason)
	return nil
}

func (e *Engine) save(ctx context.Context, run *GraphRun) error {
	run.UpdatedAt = time.Now().UTC()
	if err := e.store.Update(context.WithoutCancel(ctx), run); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// waitingNode finds the node whose latest result suspended on taskID.
func waitingNode(def *graph.Definition, run *GraphRun, taskID uuid.UUID) (string, error) {
	f := ComputeFrontier(def, run.History)
	for i := len(run.History) - 1; i >= 0; i-- {
		r := run.History[i]
		if r.Outcome != graph.OutcomeSuspended || r.TaskID == nil || *r.TaskID != taskID {
			continue
		}
		for _, n := range f.Suspended {
			if n == r.Node {
				return n, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrTaskMismatch, taskID)
}
