package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/texsync/internal/compiler"
	"github.com/dgallion1/texsync/internal/transport"
)

// Compiler runs a LaTeX project. *compiler.Client implements it.
type Compiler interface {
	Compile(ctx context.Context, req compiler.Request) (*compiler.Result, error)
}

// Publisher turns compile results into sync snapshots. *transport.Adapter
// implements it.
type Publisher interface {
	Apply(ctx context.Context, compileID string, res *compiler.Result) (transport.Outcome, error)
}

// Worker processes a single job.
type Worker struct {
	compiler  Compiler
	publisher Publisher
	log       *slog.Logger
	backoff   func(attempt int) time.Duration
}

func NewWorker(comp Compiler, pub Publisher, log *slog.Logger) *Worker {
	return &Worker{
		compiler:  comp,
		publisher: pub,
		log:       log,
		backoff:   Backoff,
	}
}

// Process runs a job to completion. Its final state is on the job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "kind", job.Kind)
	defer job.release()

	res := job.Result()
	if job.Kind == KindCompile {
		var err error
		if res, err = w.compile(ctx, log, job); err != nil {
			log.Error("compile failed", "error", err)
			job.AddError(fmt.Sprintf("compile: %s", err))
			job.SetStatus(StatusFailed, "compiling")
			return
		}
		job.SetResult(res)
	}
	if res == nil {
		job.AddError("no compile result")
		job.SetStatus(StatusFailed, "decoding")
		return
	}

	job.SetStatus(StatusDecoding, "decoding")
	outcome, err := w.publisher.Apply(ctx, job.ID, res)
	job.SetOutcome(outcome.String())
	if err != nil {
		job.AddError(fmt.Sprintf("decode: %s", err))
	}

	if !res.Succeeded() {
		log.Warn("compile exited with errors", "exit_code", res.ExitCode, "outcome", outcome)
		job.SetStatus(StatusFailed, fmt.Sprintf("compiler exited with code %d", res.ExitCode))
		return
	}

	switch outcome {
	case transport.OutcomePublished:
		job.SetStatus(StatusPublished, "done")
	case transport.OutcomeNoSync:
		job.SetStatus(StatusNoSync, "done")
	default:
		job.SetStatus(StatusDegraded, "done")
	}
	log.Info("job complete", "outcome", outcome)
}

func (w *Worker) compile(ctx context.Context, log *slog.Logger, job *Job) (*compiler.Result, error) {
	if w.compiler == nil {
		return nil, fmt.Errorf("no compile service configured")
	}
	req := job.Request()
	if req == nil {
		return nil, fmt.Errorf("compile job without a request")
	}

	job.SetStatus(StatusCompiling, "compiling")
	var res *compiler.Result
	err := retry(ctx, w.backoff,
		func(attempt int, err error) {
			log.Warn("retryable compile error", "attempt", attempt, "error", err)
		},
		func() error {
			job.IncrAttempts()
			var err error
			res, err = w.compiler.Compile(ctx, *req)
			return err
		},
	)
	return res, err
}
