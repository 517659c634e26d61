package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/sitegraph/internal/capability"
	"github.com/JaimeStill/sitegraph/internal/graph"
)

// nodeRun is everything one node produced within a batch: the failed
// attempts followed by the final result.
type nodeRun struct {
	node    string
	retries int
	results []NodeResult
}

func (n nodeRun) final() NodeResult {
	return n.results[len(n.results)-1]
}

// advance schedules batches until the run leaves running. When resumeNode is
// set the first batch runs only that node with the resume event.
func (e *Engine) advance(ctx context.Context, def *graph.Definition, run *GraphRun, resumeNode string, resume *graph.Resume) (*GraphRun, error) {
	var batch []string
	if resumeNode != "" {
		batch = []string{resumeNode}
	}

	for {
		if ctx.Err() != nil {
			return e.interrupted(ctx, run)
		}

		if batch == nil {
			f := ComputeFrontier(def, run.History)
			if f.Idle() {
				return run, e.settle(ctx, run, f)
			}
			batch = f.Ready
		}

		runs := e.runBatch(ctx, def, run, batch, resume)
		batch, resume = nil, nil

		if ctx.Err() != nil {
			return e.interrupted(ctx, run)
		}

		e.apply(run, runs)

		switch run.Status {
		case StatusFailed:
			e.metrics.RunFinished(string(run.Kind), string(run.Status))
			e.logger.Error("run failed", "run_id", run.ID, "reason", run.LastError)
			return run, e.save(ctx, run)
		case StatusSuspended:
			e.metrics.Suspended(string(run.Kind), 1)
			e.logger.Info("run suspended", "run_id", run.ID)
			return run, e.save(ctx, run)
		}

		if err := e.save(ctx, run); err != nil {
			return run, err
		}
	}
}

// settle decides the outcome of a run with nothing left to schedule.
func (e *Engine) settle(ctx context.Context, run *GraphRun, f Frontier) error {
	switch {
	case len(f.Suspended) > 0:
		run.Status = StatusSuspended
		e.metrics.Suspended(string(run.Kind), 1)
		return e.save(ctx, run)
	case f.Terminal:
		return e.finish(ctx, run, StatusCompleted, "")
	default:
		return e.finish(ctx, run, StatusFailed, ReasonNoTerminal)
	}
}

// interrupted handles a cancelled run context. Runs cancelled through Cancel
// fail; runs interrupted by shutdown or the caller stay running as last
// persisted.
func (e *Engine) interrupted(ctx context.Context, run *GraphRun) (*GraphRun, error) {
	cause := context.Cause(ctx)
	if errors.Is(cause, errCancelled) {
		if err := e.finish(ctx, run, StatusFailed, ReasonCancelled); err != nil {
			return run, err
		}
		return run, nil
	}

	// Discard anything applied in memory since the last save.
	if stored, err := e.store.Find(context.WithoutCancel(ctx), run.ID); err == nil {
		run = stored
	}
	return run, cause
}

// apply appends batch results in completion order, merges successful and
// suspending patches, and derives the run status.
func (e *Engine) apply(run *GraphRun, runs []nodeRun) {
	var fatal []string

	for _, nr := range runs {
		run.History = append(run.History, nr.results...)
		if nr.retries > 0 {
			run.RetryCounts[nr.node] = nr.retries
		}

		final := nr.final()
		switch final.Outcome {
		case graph.OutcomeOK:
			run.State = run.State.Apply(final.Patch)
		case graph.OutcomeSuspended:
			run.State = run.State.Apply(final.Patch)
			run.Status = StatusSuspended
		case graph.OutcomeFatal:
			fatal = append(fatal, final.Reason)
		}
	}

	if len(fatal) > 0 {
		run.Status = StatusFailed
		run.LastError = fatal[0]
	}
}

func (e *Engine) runBatch(ctx context.Context, def *graph.Definition, run *GraphRun, names []string, resume *graph.Resume) []nodeRun {
	snapshot := run.State
	out := make([]nodeRun, 0, len(names))
	results := make(chan nodeRun, len(names))

	workerCount := max(min(e.cfg.WorkerLimit, len(names)), 1)

	var g errgroup.Group
	g.SetLimit(workerCount)

	for _, name := range names {
		node, ok := def.Node(name)
		if !ok {
			continue
		}
		prior := run.RetryCounts[name]
		in := graph.Input{
			RunID:    run.ID,
			Kind:     run.Kind,
			Snapshot: snapshot,
			Resume:   resume,
		}
		g.Go(func() error {
			results <- e.runNode(ctx, def, node, in, prior)
			return nil
		})
	}

	stop := e.heartbeat(ctx, run.ID)
	g.Wait()
	stop()
	close(results)

	for nr := range results {
		out = append(out, nr)
	}
	return out
}

// heartbeat touches the run every half node timeout until the returned
// func is called, keeping a long batch clear of Sweep in other processes.
func (e *Engine) heartbeat(ctx context.Context, id uuid.UUID) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(max(e.cfg.NodeTimeout/2, time.Millisecond))
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.store.Touch(ctx, id, time.Now().UTC()); err != nil && ctx.Err() == nil {
					e.logger.Warn("run heartbeat failed", "run_id", id, "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// runNode invokes node until it succeeds, suspends, fails fatally, or
// exhausts its attempts. prior counts failed attempts already persisted.
func (e *Engine) runNode(ctx context.Context, def *graph.Definition, node graph.Node, in graph.Input, prior int) nodeRun {
	name := node.Name()
	logger := e.logger.With("run_id", in.RunID, "node", name)
	nr := nodeRun{node: name, retries: prior}
	bo := e.backoff()

	for attempt := prior + 1; ; attempt++ {
		in.Attempt = attempt
		started := time.Now().UTC()
		res := e.invoke(ctx, node, in)
		finished := time.Now().UTC()

		e.metrics.NodeAttempt(string(in.Kind), name, string(res.Outcome), finished.Sub(started))

		rec := NodeResult{
			Node:       name,
			Outcome:    res.Outcome,
			Next:       []string{},
			Attempt:    attempt,
			StartedAt:  started,
			FinishedAt: finished,
		}

		switch res.Outcome {
		case graph.OutcomeOK:
			next, err := def.Successors(name, in.Snapshot.Apply(res.Patch), res.Next)
			if err != nil {
				rec.Outcome = graph.OutcomeFatal
				rec.Reason = fmt.Sprintf("%s:%s", capability.KindValidation, name)
				logger.Error("invalid route", "error", err)
			} else {
				rec.Patch = res.Patch
				rec.Next = next
			}
			nr.results = append(nr.results, rec)
			return nr

		case graph.OutcomeSuspended:
			rec.Patch = res.Patch
			if res.Suspend != nil {
				id := res.Suspend.TaskID
				rec.TaskID = &id
				rec.Reason = res.Suspend.Reason
			}
			nr.results = append(nr.results, rec)
			return nr

		case graph.OutcomeRetryable:
			nr.retries++
			rec.Reason = reason(capability.KindTransient, node, res.Err)

			if attempt >= e.cfg.MaxAttempts {
				rec.Outcome = graph.OutcomeFatal
				rec.Reason = reason(capability.KindFatal, node, res.Err)
				logger.Error("attempts exhausted", "attempts", attempt, "error", res.Err)
				nr.results = append(nr.results, rec)
				return nr
			}

			nr.results = append(nr.results, rec)
			delay := bo.NextBackOff()
			logger.Warn("retrying node", "attempt", attempt, "delay", delay, "error", res.Err)

			select {
			case <-ctx.Done():
				return nr
			case <-time.After(delay):
			}

		default:
			rec.Outcome = graph.OutcomeFatal
			rec.Reason = reason(kindOf(res.Err), node, res.Err)
			logger.Error("node failed", "error", res.Err)
			nr.results = append(nr.results, rec)
			return nr
		}
	}
}

// invoke runs one attempt under the node timeout. A node that overruns is
// abandoned and its eventual result discarded.
func (e *Engine) invoke(ctx context.Context, node graph.Node, in graph.Input) graph.Result {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.NodeTimeout)
	defer cancel()

	ch := make(chan graph.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- graph.Result{
					Outcome: graph.OutcomeFatal,
					Err:     fmt.Errorf("%w: %s: %v", ErrNodePanic, node.Name(), r),
				}
			}
		}()
		ch <- node.Run(callCtx, in)
	}()

	select {
	case res := <-ch:
		return normalize(res)
	case <-callCtx.Done():
		return graph.Fail(callCtx.Err())
	}
}

func (e *Engine) backoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.BackoffInitial
	b.MaxInterval = e.cfg.BackoffMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func normalize(res graph.Result) graph.Result {
	switch res.Outcome {
	case "":
		if res.Err != nil {
			return graph.Fail(res.Err)
		}
		res.Outcome = graph.OutcomeOK
	case graph.OutcomeSuspended:
		if res.Suspend == nil {
			return graph.Result{
				Outcome: graph.OutcomeFatal,
				Err:     errors.New("suspended without a task"),
			}
		}
	}
	return res
}

func kindOf(err error) capability.Kind {
	if err == nil {
		return capability.KindFatal
	}
	if k := capability.KindOf(err); k != capability.KindTransient {
		return k
	}
	return capability.KindFatal
}

// reason renders "<kind>:<capability>", naming the capability recorded on
// err or else the node's first declared capability.
func reason(kind capability.Kind, node graph.Node, err error) string {
	fallback := capability.Name(node.Name())
	if caps := node.Capabilities(); len(caps) > 0 {
		fallback = caps[0]
	}
	return fmt.Sprintf("%s:%s", kind, capability.NameOf(err, fallback))
}
