// Package scheduler fires retrain requests on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/okian/kickoff/internal/adapters/mq/queue"
	"github.com/okian/kickoff/internal/domain/model"
	"github.com/okian/kickoff/pkg/logger"
)

// DefaultSpec runs every Monday at 03:00.
const DefaultSpec = "0 3 * * 1"

// ErrInvalidSchedule is returned for an unparsable cron expression.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Enqueuer accepts retrain requests without blocking.
type Enqueuer interface {
	Enqueue(ctx context.Context, r queue.Request) bool
}

// Scheduler enqueues a retrain request each time the schedule fires.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	spec     string
	loc      *time.Location
	target   Enqueuer
	logger   logger.Logger
}

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithLocation evaluates the schedule in loc.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Scheduler for a standard 5-field spec. An empty spec uses DefaultSpec.
func New(spec string, target Enqueuer, opts ...Option) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	s := &Scheduler{
		spec:   spec,
		loc:    time.UTC,
		target: target,
		logger: logger.Get().Named("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, spec, err)
	}
	s.schedule = schedule
	s.cron = cron.New(cron.WithLocation(s.loc))
	s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.Fire(context.Background(), model.TriggerSchedule)
	}))
	return s, nil
}

// Start runs the schedule in the background.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	s.logger.Info(ctx, "retrain schedule started",
		logger.String("spec", s.spec),
		logger.String("location", s.loc.String()),
		logger.String("next", s.Next(time.Now()).Format(time.RFC3339)),
	)
}

// Stop halts the schedule. Fire calls already running are not waited on
// past ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the first fire time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.loc))
}

// Fire enqueues one request from source and reports whether it was accepted.
func (s *Scheduler) Fire(ctx context.Context, source model.TriggerSource) bool {
	req := queue.Request{ID: uuid.NewString(), Source: source, RequestedAt: time.Now().UTC()}
	ok := s.target.Enqueue(ctx, req)
	if !ok {
		s.logger.Warn(ctx, "retrain request refused, one is already pending",
			logger.String("request_id", req.ID),
			logger.String("trigger", string(source)),
		)
		return false
	}
	s.logger.Info(ctx, "retrain requested",
		logger.String("request_id", req.ID),
		logger.String("trigger", string(source)),
	)
	return true
}
