package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/texsync/internal/config"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("job queue is full")

// ErrNoCompiler is returned when a compile job is submitted without a
// configured compile service.
var ErrNoCompiler = errors.New("no compile service configured")

// ErrStopped is returned for jobs submitted after Stop.
var ErrStopped = errors.New("pipeline is stopped")

// Orchestrator runs sync jobs on a bounded pool of workers.
type Orchestrator struct {
	jobs      *JobStore
	queue     chan *Job
	compiler  Compiler
	publisher Publisher
	log       *slog.Logger
	cfg       config.Config

	// Inline jobs run one at a time so snapshots publish in submit order.
	inlineMu sync.Mutex

	// mu guards stopped and the close of queue against concurrent sends.
	mu      sync.Mutex
	stopped bool

	cancel  context.CancelFunc
	workers sync.WaitGroup
	wg      sync.WaitGroup
}

// NewOrchestrator creates the pipeline. comp may be nil when no compile
// service is configured; result jobs still work.
func NewOrchestrator(cfg config.Config, comp Compiler, pub Publisher, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:      NewJobStore(cfg.JobTTL),
		queue:     make(chan *Job, cfg.MaxQueueSize),
		compiler:  comp,
		publisher: pub,
		log:       log,
		cfg:       cfg,
	}
}

func (o *Orchestrator) newWorker() *Worker {
	return NewWorker(o.compiler, o.publisher, o.log)
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	// Workers run until Stop closes the queue, so queued jobs are drained.
	for range o.cfg.WorkerCount {
		o.workers.Add(1)
		go func() {
			defer o.workers.Done()
			w := o.newWorker()
			for job := range o.queue {
				w.Process(workerCtx, job)
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(cleanupInterval(o.cfg.JobTTL))
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > 5*time.Minute {
		return 5 * time.Minute
	}
	return ttl
}

// Stop refuses new jobs, waits for the workers to finish every queued
// job, then stops background cleanup. It is safe to call more than once.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	close(o.queue)
	o.mu.Unlock()

	o.workers.Wait()
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// CanCompile reports whether compile jobs can run.
func (o *Orchestrator) CanCompile() bool {
	return o.compiler != nil
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	if job.Kind == KindCompile && !o.CanCompile() {
		return ErrNoCompiler
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		job.SetStatus(StatusFailed, "stopped")
		return ErrStopped
	}
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("%w (%d)", ErrQueueFull, o.cfg.MaxQueueSize)
	}
}

// Run processes job on the calling goroutine and returns once it is done.
func (o *Orchestrator) Run(ctx context.Context, job *Job) error {
	if job.Kind == KindCompile && !o.CanCompile() {
		return ErrNoCompiler
	}
	o.mu.Lock()
	stopped := o.stopped
	o.mu.Unlock()
	if stopped {
		job.SetStatus(StatusFailed, "stopped")
		return ErrStopped
	}
	o.jobs.Put(job)
	o.inlineMu.Lock()
	defer o.inlineMu.Unlock()
	o.newWorker().Process(ctx, job)
	return nil
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}
