// Package worker consumes retrain requests and runs the pipeline for each.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/kickoff/internal/adapters/mq/queue"
	"github.com/okian/kickoff/internal/domain/model"
	"github.com/okian/kickoff/internal/domain/pipeline"
	"github.com/okian/kickoff/internal/domain/types"
	"github.com/okian/kickoff/pkg/logger"
	"github.com/okian/kickoff/pkg/metrics"
)

// Runner performs one retrain.
type Runner interface {
	Run(ctx context.Context, source model.TriggerSource) (types.PipelineStatus, error)
}

// Queue defines how workers receive requests.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Request
}

// Worker processes retrain requests.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after the request in progress, if any.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker runs requests one at a time, so at most one retrain is in
// flight from the queue.
type InMemoryWorker struct {
	queue  Queue
	runner Runner
	name   string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, runner Runner, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		runner:   runner,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	requests := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case req, ok := <-requests:
			if !ok {
				return
			}
			metrics.UpdateRetrainQueueDepth(len(requests))
			if err := w.process(ctx, req); err != nil {
				w.logger.Error(ctx, "error processing retrain request", logger.Error(err))
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, req queue.Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordErrorByComponent("worker", "panic")
			err = fmt.Errorf("request %s: panic: %v", req.ID, r)
		}
	}()
	waited := time.Since(req.RequestedAt)
	w.logger.Info(ctx, "retrain request picked up",
		logger.String("request_id", req.ID),
		logger.String("trigger", string(req.Source)),
		logger.Duration("waited", waited),
	)

	st, err := w.runner.Run(ctx, req.Source)
	if errors.Is(err, pipeline.ErrAlreadyRunning) {
		// A synchronous run started elsewhere covers this request.
		w.logger.Info(ctx, "retrain already running, request dropped", logger.String("request_id", req.ID))
		return nil
	}
	if err != nil {
		metrics.RecordErrorByComponent("worker", "run_error")
		return fmt.Errorf("request %s: %w", req.ID, err)
	}
	if st.State == types.StateFailed {
		metrics.RecordErrorByComponent("worker", "retrain_failed")
	}
	return nil
}
