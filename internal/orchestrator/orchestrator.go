package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/sitegraph/internal/documents"
	"github.com/JaimeStill/sitegraph/internal/engine"
	"github.com/JaimeStill/sitegraph/internal/extraction"
	"github.com/JaimeStill/sitegraph/internal/graph"
	"github.com/JaimeStill/sitegraph/internal/metrics"
	"github.com/JaimeStill/sitegraph/internal/qa"
	"github.com/JaimeStill/sitegraph/internal/review"
)

type orchestrator struct {
	engine     *engine.Engine
	documents  documents.System
	reviews    review.Store
	queue      review.Queue
	metrics    *metrics.Metrics
	answerWait time.Duration
	logger     *slog.Logger
}

// New creates the orchestrator. Both graphs must already be registered on
// the engine. answerWait bounds how long SubmitQuestion waits for an answer;
// zero returns immediately with the run id.
func New(
	e *engine.Engine,
	docs documents.System,
	reviews review.Store,
	queue review.Queue,
	m *metrics.Metrics,
	answerWait time.Duration,
	logger *slog.Logger,
) System {
	return &orchestrator{
		engine:     e,
		documents:  docs,
		reviews:    reviews,
		queue:      queue,
		metrics:    m,
		answerWait: answerWait,
		logger:     logger.With("system", "orchestrator"),
	}
}

func (o *orchestrator) Submit(ctx context.Context, req Request) (Submission, error) {
	if req.Upload != nil {
		id, err := o.SubmitDocument(ctx, *req.Upload, req.Context)
		if err != nil {
			return Submission{}, err
		}
		return Submission{RunID: id, Kind: graph.KindExtraction}, nil
	}
	if strings.TrimSpace(req.Question) != "" {
		return o.SubmitQuestion(ctx, req.Question)
	}
	return Submission{}, ErrEmptyRequest
}

func (o *orchestrator) SubmitDocument(ctx context.Context, upload Upload, dc documents.Context) (uuid.UUID, error) {
	doc, err := o.documents.Create(ctx, documents.CreateCommand{
		Data:        upload.Data,
		Filename:    upload.Filename,
		ContentType: upload.ContentType,
		Context:     dc,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("register document: %w", err)
	}

	input, err := extraction.Input(doc.ID, nil)
	if err != nil {
		return uuid.Nil, err
	}

	h, err := o.engine.Start(ctx, graph.KindExtraction, input)
	if err != nil {
		return uuid.Nil, fmt.Errorf("start extraction: %w", err)
	}

	o.logger.InfoContext(ctx, "document submitted",
		"run_id", h.RunID,
		"document_id", doc.ID,
		"filename", doc.Filename,
	)
	return h.RunID, nil
}

func (o *orchestrator) SubmitQuestion(ctx context.Context, question string) (Submission, error) {
	input, err := qa.Input(question)
	if err != nil {
		return Submission{}, err
	}

	h, err := o.engine.Start(ctx, graph.KindQA, input)
	if err != nil {
		return Submission{}, fmt.Errorf("start qa: %w", err)
	}

	sub := Submission{RunID: h.RunID, Kind: graph.KindQA}
	if o.answerWait <= 0 {
		return sub, nil
	}

	timer := time.NewTimer(o.answerWait)
	defer timer.Stop()

	select {
	case <-h.Done():
	case <-timer.C:
		return sub, nil
	case <-ctx.Done():
		return sub, nil
	}

	run, err := h.Result()
	if err != nil || run == nil || run.Status != engine.StatusCompleted {
		return sub, nil
	}
	if answer, ok := qa.AnswerFrom(run.State); ok {
		sub.Answer = &answer
	}
	return sub, nil
}

func (o *orchestrator) GetRunStatus(ctx context.Context, runID uuid.UUID) (engine.Summary, error) {
	return o.engine.Status(ctx, runID)
}

func (o *orchestrator) ResolveReview(ctx context.Context, taskID uuid.UUID, v review.Verdict) (uuid.UUID, error) {
	if err := v.Validate(); err != nil {
		return uuid.Nil, err
	}

	task, err := o.reviews.Resolve(ctx, taskID, v)
	switch {
	case errors.Is(err, review.ErrTaskClosed):
		if task.Verdict == nil || task.Verdict.Action != v.Action {
			return task.RunID, fmt.Errorf("%w: %s", ErrVerdictConflict, taskID)
		}
		// A verdict can be recorded by a caller that stopped before resuming.
		if !o.awaiting(ctx, task) {
			return task.RunID, nil
		}
		v = *task.Verdict
	case err != nil:
		return uuid.Nil, fmt.Errorf("resolve task %s: %w", taskID, err)
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return task.RunID, fmt.Errorf("encode verdict: %w", err)
	}

	run, err := o.engine.Resume(ctx, task.RunID, graph.Resume{TaskID: taskID, Payload: payload})
	if err != nil {
		return task.RunID, fmt.Errorf("resume run %s: %w", task.RunID, err)
	}

	if err := o.queue.Ack(ctx, taskID); err != nil {
		o.logger.WarnContext(ctx, "ack review task failed", "task_id", taskID, "error", err)
	}
	o.metrics.Verdict(string(v.Action))

	o.logger.InfoContext(ctx, "review applied",
		"run_id", run.ID,
		"task_id", taskID,
		"action", v.Action,
		"status", run.Status,
	)
	return run.ID, nil
}

// awaiting reports whether the task's run is still suspended on it.
func (o *orchestrator) awaiting(ctx context.Context, task review.Task) bool {
	run, err := o.engine.Get(ctx, task.RunID)
	if err != nil || run.Status != engine.StatusSuspended {
		return false
	}
	current, _, err := graph.Get[uuid.UUID](run.State, review.FieldTaskID)
	return err == nil && current == task.ID
}

func (o *orchestrator) PendingReviews(ctx context.Context, limit int) ([]review.Task, error) {
	return o.reviews.List(ctx, review.TaskOpen, limit)
}

func (o *orchestrator) CancelRun(ctx context.Context, runID uuid.UUID) error {
	if err := o.engine.Cancel(ctx, runID); err != nil {
		return fmt.Errorf("cancel run %s: %w", runID, err)
	}

	n, err := o.reviews.Invalidate(ctx, runID)
	if err != nil {
		return fmt.Errorf("invalidate review tasks: %w", err)
	}

	o.logger.InfoContext(ctx, "run cancelled", "run_id", runID, "invalidated_tasks", n)
	return nil
}

func (o *orchestrator) Resubmit(ctx context.Context, runID uuid.UUID) (uuid.UUID, error) {
	prior, err := o.engine.Get(ctx, runID)
	if err != nil {
		return uuid.Nil, err
	}
	if prior.Kind != graph.KindExtraction {
		return uuid.Nil, fmt.Errorf("%w: %s is %s", ErrNotExtraction, runID, prior.Kind)
	}

	docID, err := extraction.DocumentRef(prior.State)
	if err != nil {
		return uuid.Nil, err
	}

	var supersedes *uuid.UUID
	if recordID, ok, _ := graph.Get[uuid.UUID](prior.State, extraction.FieldRecordID); ok {
		supersedes = &recordID
	}

	input, err := extraction.Input(docID, supersedes)
	if err != nil {
		return uuid.Nil, err
	}

	h, err := o.engine.Start(ctx, graph.KindExtraction, input)
	if err != nil {
		return uuid.Nil, fmt.Errorf("start extraction: %w", err)
	}

	if !prior.Status.Terminal() {
		if err := o.CancelRun(ctx, runID); err != nil && !errors.Is(err, engine.ErrRunFinished) {
			return h.RunID, err
		}
	}

	o.logger.InfoContext(ctx, "run resubmitted", "run_id", h.RunID, "prior_run_id", runID, "document_id", docID)
	return h.RunID, nil
}

func (o *orchestrator) Listen(ctx context.Context) error {
	return o.queue.Subscribe(ctx, func(ctx context.Context, d review.Delivery) error {
		runID, err := o.ResolveReview(ctx, d.TaskID, d.Verdict)
		if err != nil {
			o.logger.ErrorContext(ctx, "delivered verdict not applied",
				"task_id", d.TaskID,
				"run_id", runID,
				"error", err,
			)
			return err
		}
		return nil
	})
}
