// Package worker runs jobs pulled off a channel through the election and
// application pipeline, the way the teacher's worker runs ticker-driven
// generation cycles -- same functional-options shape, same Start/Stop
// lifecycle, retargeted to job execution instead of recurring generation.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rezkam/jobcore/internal/core"
	"github.com/rezkam/jobcore/internal/filter"
	"github.com/rezkam/jobcore/internal/pipeline"
	"github.com/rezkam/jobcore/internal/storage"
)

// Handler runs a job's actual unit of work and proposes the state the job
// should move to next (typically Succeeded or Failed). It must not block
// past ctx's deadline.
type Handler func(ctx context.Context, job *core.Job) core.State

// Worker pulls job ids off an internal channel, transitions each to
// Processing, invokes Handler, and transitions to whatever state Handler
// (and the election pipeline) decide.
type Worker struct {
	store   storage.Store
	reg     *filter.Registry
	handler Handler
	log     *slog.Logger

	concurrency int
	limiter     *rate.Limiter
	queue       chan string
	serverID    string

	done chan struct{}
	wg   sync.WaitGroup
}

// Option is a functional option for configuring Worker.
type Option func(*Worker)

// WithConcurrency sets how many jobs may run at once (default: 4).
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithRateLimit caps the rate at which new jobs are picked up, grounded on
// x/time/rate's token-bucket limiter (default: unlimited).
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(w *Worker) {
		w.limiter = rate.NewLimiter(r, burst)
	}
}

// WithQueueSize sets the buffer size of the internal job queue (default: 256).
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queue = make(chan string, n)
		}
	}
}

// WithServerID tags Processing states with an identifier for this worker
// host, surfaced in core.State.ServerID for observability.
func WithServerID(id string) Option {
	return func(w *Worker) { w.serverID = id }
}

// New creates a Worker over store, dispatching through registry's filters
// and running handler for each job's Processing step.
func New(store storage.Store, reg *filter.Registry, handler Handler, log *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		store:       store,
		reg:         reg,
		handler:     handler,
		log:         log,
		concurrency: 4,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		queue:       make(chan string, 256),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue submits a job id for processing. It blocks if the internal queue
// is full, applying backpressure to whatever is driving dispatch.
func (w *Worker) Enqueue(ctx context.Context, jobID string) error {
	select {
	case w.queue <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return fmt.Errorf("worker stopped")
	}
}

// Start launches Concurrency worker goroutines and blocks until ctx is
// cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	w.log.InfoContext(ctx, "worker starting", "concurrency", w.concurrency)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.runLoop(ctx, i)
	}

	select {
	case <-ctx.Done():
		w.log.InfoContext(ctx, "worker context cancelled, draining in-flight jobs")
	case <-w.done:
		w.log.InfoContext(ctx, "worker stopped, draining in-flight jobs")
	}
	w.wg.Wait()
	return ctx.Err()
}

// Stop signals all worker goroutines to exit once they finish any
// in-flight job, and waits for them.
func (w *Worker) Stop() {
	close(w.done)
	w.wg.Wait()
}

func (w *Worker) runLoop(ctx context.Context, slot int) {
	defer w.wg.Done()
	for {
		select {
		case jobID := <-w.queue:
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
			w.processOne(ctx, jobID, slot)
		case <-ctx.Done():
			return
		case <-w.done:
			return
		}
	}
}

func (w *Worker) processOne(ctx context.Context, jobID string, slot int) {
	job, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		w.log.ErrorContext(ctx, "worker: load job failed", "job_id", jobID, "error", err)
		return
	}

	workerID := fmt.Sprintf("slot-%d", slot)
	processing := core.ProcessingState(w.serverID, workerID, time.Now())
	if _, err := pipeline.Transition(ctx, w.store, w.reg, job, processing, w.log); err != nil {
		w.log.ErrorContext(ctx, "worker: transition to processing failed", "job_id", jobID, "error", err)
		return
	}

	proposed := w.handler(ctx, job)

	if _, err := pipeline.Transition(ctx, w.store, w.reg, job, proposed, w.log); err != nil {
		w.log.ErrorContext(ctx, "worker: transition after handler failed", "job_id", jobID, "error", err)
	}
}
