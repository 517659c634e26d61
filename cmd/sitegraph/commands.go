package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/sitegraph/internal/capability"
	"github.com/JaimeStill/sitegraph/internal/documents"
	"github.com/JaimeStill/sitegraph/internal/engine"
	"github.com/JaimeStill/sitegraph/internal/orchestrator"
	"github.com/JaimeStill/sitegraph/internal/review"
)

const dateLayout = "2006-01-02"

type command func(ctx context.Context, sys orchestrator.System, args []string, out io.Writer) error

var commands = map[string]command{
	"submit":   submit,
	"ask":      ask,
	"status":   status,
	"reviews":  reviews,
	"resolve":  resolve,
	"cancel":   cancelRun,
	"resubmit": resubmit,
}

var pollInterval = 250 * time.Millisecond

func submit(ctx context.Context, sys orchestrator.System, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	file := fs.String("file", "", "path to the document (PDF or image)")
	contentType := fs.String("type", "", "media type (default: detected from content)")
	project := fs.String("project", "", "project name")
	location := fs.String("location", "", "site location")
	date := fs.String("date", "", "record date, YYYY-MM-DD")
	wait := fs.Duration("wait", 2*time.Minute, "how long to wait for the run to settle (0 returns immediately)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("submit: -file is required")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if *contentType == "" {
		*contentType = http.DetectContentType(data)
	}

	dc := documents.Context{Project: *project, Location: *location}
	if *date != "" {
		d, err := time.Parse(dateLayout, *date)
		if err != nil {
			return fmt.Errorf("submit: invalid -date: %w", err)
		}
		dc.RecordDate = &d
	}

	runID, err := sys.SubmitDocument(ctx, orchestrator.Upload{
		Data:        data,
		Filename:    filepath.Base(*file),
		ContentType: *contentType,
	}, dc)
	if err != nil {
		return err
	}

	if *wait <= 0 {
		return writeJSON(out, map[string]any{"run_id": runID})
	}

	summary, err := settle(ctx, sys, runID, *wait)
	if err != nil {
		return err
	}
	return writeJSON(out, summary)
}

func ask(ctx context.Context, sys orchestrator.System, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	q := fs.String("q", "", "question (or pass it as arguments)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	question := *q
	if question == "" {
		question = strings.Join(fs.Args(), " ")
	}

	sub, err := sys.SubmitQuestion(ctx, question)
	if err != nil {
		return err
	}
	return writeJSON(out, sub)
}

func status(ctx context.Context, sys orchestrator.System, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	run := fs.String("run", "", "run id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	id, err := parseID("run", *run)
	if err != nil {
		return err
	}

	summary, err := sys.GetRunStatus(ctx, id)
	if err != nil {
		return err
	}
	return writeJSON(out, summary)
}

func reviews(ctx context.Context, sys orchestrator.System, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("reviews", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "maximum tasks to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tasks, err := sys.PendingReviews(ctx, *limit)
	if err != nil {
		return err
	}
	return writeJSON(out, tasks)
}

func resolve(ctx context.Context, sys orchestrator.System, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	task := fs.String("task", "", "review task id")
	action := fs.String("action", "", "approve, reject, or edit")
	edited := fs.String("edited", "", "path to the corrected record as JSON (edit only)")
	reviewer := fs.String("reviewer", os.Getenv("USER"), "reviewer name")
	comment := fs.String("comment", "", "review comment")
	if err := fs.Parse(args); err != nil {
		return err
	}

	id, err := parseID("task", *task)
	if err != nil {
		return err
	}

	v := review.Verdict{
		Action:   review.Action(*action),
		Reviewer: *reviewer,
		Comment:  *comment,
	}
	if *edited != "" {
		b, err := os.ReadFile(*edited)
		if err != nil {
			return fmt.Errorf("resolve: %w", err)
		}
		var rec capability.Record
		if err := json.Unmarshal(b, &rec); err != nil {
			return fmt.Errorf("resolve: decode edited record: %w", err)
		}
		v.Edited = &rec
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	runID, err := sys.ResolveReview(ctx, id, v)
	if err != nil {
		return err
	}

	summary, err := sys.GetRunStatus(ctx, runID)
	if err != nil {
		return err
	}
	return writeJSON(out, summary)
}

func cancelRun(ctx context.Context, sys orchestrator.System, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	run := fs.String("run", "", "run id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	id, err := parseID("run", *run)
	if err != nil {
		return err
	}

	if err := sys.CancelRun(ctx, id); err != nil {
		return err
	}
	return writeJSON(out, map[string]any{"run_id": id, "status": engine.ReasonCancelled})
}

func resubmit(ctx context.Context, sys orchestrator.System, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("resubmit", flag.ContinueOnError)
	run := fs.String("run", "", "run id to re-extract")
	if err := fs.Parse(args); err != nil {
		return err
	}

	id, err := parseID("run", *run)
	if err != nil {
		return err
	}

	next, err := sys.Resubmit(ctx, id)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{"run_id": next, "replaces": id})
}

// settle polls the run until it leaves running or wait elapses, returning
// the last summary seen.
func settle(ctx context.Context, sys orchestrator.System, id uuid.UUID, wait time.Duration) (engine.Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last engine.Summary
	for {
		s, err := sys.GetRunStatus(ctx, id)
		switch {
		case err == nil:
			last = s
			if s.Status != engine.StatusRunning {
				return s, nil
			}
		case ctx.Err() == nil:
			return last, err
		}

		select {
		case <-ctx.Done():
			if last.ID == uuid.Nil {
				return last, ctx.Err()
			}
			return last, nil
		case <-ticker.C:
		}
	}
}

func parseID(name, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, fmt.Errorf("-%s is required", name)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid -%s: %w", name, err)
	}
	return id, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
