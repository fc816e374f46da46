// Package pipeline refreshes the raw corpus, retrains every league and
// hot-swaps the registry, publishing a status record as it goes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/kickoff/internal/domain/corpus"
	"github.com/okian/kickoff/internal/domain/features"
	"github.com/okian/kickoff/internal/domain/model"
	"github.com/okian/kickoff/internal/domain/registry"
	"github.com/okian/kickoff/internal/domain/types"
	"github.com/okian/kickoff/pkg/logger"
	"github.com/okian/kickoff/pkg/metrics"
)

// Fetcher refreshes raw files and returns the names it wrote.
type Fetcher interface {
	Fetch(ctx context.Context) ([]string, error)
}

// Loader reads the corpus from the raw files.
type Loader interface {
	Load(ctx context.Context) (*corpus.Corpus, error)
}

// RunRecorder persists finished runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, run types.RunRecord) error
}

// SwapListener is called after a new snapshot was published.
type SwapListener func(ctx context.Context, snap *registry.Snapshot)

// Pipeline runs retrains one at a time.
type Pipeline struct {
	fetcher  Fetcher
	loader   Loader
	registry *registry.Registry
	recorder RunRecorder

	listeners []SwapListener

	mu     sync.Mutex // held for the duration of a run
	status atomic.Pointer[types.PipelineStatus]

	logger logger.Logger
	now    func() time.Time
}

// Option applies a configuration option to the Pipeline.
type Option func(*Pipeline)

// WithRecorder persists every finished run.
func WithRecorder(r RunRecorder) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithSwapListener registers fn to run after each successful swap.
func WithSwapListener(fn SwapListener) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.listeners = append(p.listeners, fn)
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a Pipeline that swaps reg.
func New(fetcher Fetcher, loader Loader, reg *registry.Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher:  fetcher,
		loader:   loader,
		registry: reg,
		logger:   logger.Get().Named("pipeline"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.status.Store(&types.PipelineStatus{
		State:          types.StateNeverRun,
		FilesUpdated:   []string{},
		LeaguesUpdated: []string{},
	})
	return p
}

// Status returns a copy of the current status.
func (p *Pipeline) Status() types.PipelineStatus { return *p.status.Load() }

// Running reports whether a run holds the lock.
func (p *Pipeline) Running() bool { return p.Status().State == types.StateRunning }

// Run performs one retrain. It returns ErrAlreadyRunning when another run
// is in progress; otherwise the outcome is reported through the status and
// the error is nil.
func (p *Pipeline) Run(ctx context.Context, source model.TriggerSource) (st types.PipelineStatus, err error) {
	if !p.mu.TryLock() {
		return p.Status(), ErrAlreadyRunning
	}
	defer p.mu.Unlock()

	started := p.now().UTC()
	runID := uuid.NewString()
	defer func() {
		if r := recover(); r != nil {
			st, err = p.abort(ctx, runID, source, started, r), nil
		}
	}()
	p.publish(func(s *types.PipelineStatus) {
		s.RunID = runID
		s.State = types.StateRunning
		s.LastRun = &started
	})
	log := []logger.Field{logger.String("run_id", runID), logger.String("trigger", string(source))}
	p.logger.Info(ctx, "retrain started", log...)

	var (
		evals []types.LeagueEvaluation
		snap  *registry.Snapshot
	)
	state := types.StateSkipped

	files, err := p.fetch(ctx)
	switch {
	case errors.Is(err, errPanic):
		files, state = nil, types.StateFailed
		err = fmt.Errorf("%w: fetch: %v", ErrRetrainFailed, err)
	case err != nil:
		p.logger.Warn(ctx, "fetch reported errors", append(log, logger.Error(err))...)
	}
	sort.Strings(files)

	if len(files) > 0 {
		snap, evals, err = p.retrain(ctx)
		state = types.StateSuccess
		if err != nil {
			state = types.StateFailed
			err = fmt.Errorf("%w: %v", ErrRetrainFailed, err)
		}
	}

	finished := p.now().UTC()
	var avg *float64
	leagues := make([]string, 0, len(evals))
	if state == types.StateSuccess {
		leagues, avg = summarise(evals)
	}
	p.publish(func(s *types.PipelineStatus) {
		s.State = state
		s.FilesUpdated = files
		if files == nil {
			s.FilesUpdated = []string{}
		}
		s.LeaguesUpdated = leagues
		switch state {
		case types.StateSuccess:
			s.LastSuccess = &finished
			s.LastError = ""
			s.AverageAccuracy = avg
		case types.StateFailed:
			s.LastError = err.Error()
		}
	})

	took := finished.Sub(started)
	metrics.RecordPipelineRun(string(state), took.Seconds())
	switch state {
	case types.StateSuccess:
		a := 0.0
		if avg != nil {
			a = *avg
		}
		metrics.RecordPipelineSuccess(finished.Unix(), a)
		p.logger.Info(ctx, "retrain finished", append(log,
			logger.Strings("files", files),
			logger.Strings("leagues", leagues),
			logger.Duration("took", took))...)
		p.notify(ctx, snap)
	case types.StateSkipped:
		p.logger.Info(ctx, "retrain skipped, no files refreshed", log...)
	case types.StateFailed:
		metrics.RecordErrorByComponent("pipeline", "retrain_failed")
		p.logger.Error(ctx, "retrain failed", append(log, logger.Error(err))...)
	}

	p.record(ctx, types.RunRecord{
		ID:              runID,
		Trigger:         string(source),
		StartedAt:       started,
		FinishedAt:      finished,
		State:           state,
		FilesUpdated:    p.Status().FilesUpdated,
		AverageAccuracy: avg,
		Error:           p.Status().LastError,
		Evaluations:     evals,
	})
	return p.Status(), nil
}

// errPanic marks an error recovered from a panic.
var errPanic = errors.New("panic")

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", errPanic, r)
	}
}

func (p *Pipeline) fetch(ctx context.Context) (files []string, err error) {
	defer recoverInto(&err)
	return p.fetcher.Fetch(ctx)
}

// notify calls every swap listener. A panicking listener is logged and
// does not fail the run; the swap already happened.
func (p *Pipeline) notify(ctx context.Context, snap *registry.Snapshot) {
	for i, fn := range p.listeners {
		func() {
			var err error
			defer func() {
				if err != nil {
					metrics.RecordErrorByComponent("pipeline", "listener_panic")
					p.logger.Error(ctx, "swap listener failed", logger.Int("listener", i), logger.Error(err))
				}
			}()
			defer recoverInto(&err)
			fn(ctx, snap)
		}()
	}
}

// abort turns a panic that escaped the run steps into a failed run.
func (p *Pipeline) abort(ctx context.Context, runID string, source model.TriggerSource, started time.Time, r any) types.PipelineStatus {
	finished := p.now().UTC()
	msg := fmt.Sprintf("%v: %v: %v", ErrRetrainFailed, errPanic, r)
	p.publish(func(s *types.PipelineStatus) {
		s.State = types.StateFailed
		s.LastError = msg
		s.FilesUpdated = []string{}
		s.LeaguesUpdated = []string{}
	})
	metrics.RecordPipelineRun(string(types.StateFailed), finished.Sub(started).Seconds())
	metrics.RecordErrorByComponent("pipeline", "retrain_failed")
	p.logger.Error(ctx, "retrain aborted", logger.String("run_id", runID), logger.String("error", msg))
	p.record(ctx, types.RunRecord{
		ID:           runID,
		Trigger:      string(source),
		StartedAt:    started,
		FinishedAt:   finished,
		State:        types.StateFailed,
		FilesUpdated: []string{},
		Error:        msg,
	})
	return p.Status()
}

// retrain reloads the corpus and fits every league with enough data. The
// registry is swapped only when every step succeeded.
func (p *Pipeline) retrain(ctx context.Context) (snap *registry.Snapshot, evals []types.LeagueEvaluation, err error) {
	defer func() {
		if r := recover(); r != nil {
			snap, evals, err = nil, nil, fmt.Errorf("%w: %v", errPanic, r)
		}
	}()

	c, err := p.loader.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reload corpus: %w", err)
	}

	opts := p.registry.FitOptions()
	models := make(map[string]*registry.LeagueModel)
	for _, league := range c.Leagues() {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		start := time.Now()
		m, err := registry.Fit(features.Build(league, c.League(league)), opts)
		if errors.Is(err, registry.ErrInsufficientData) {
			p.logger.Debug(ctx, "league excluded", logger.String("league", league), logger.Error(err))
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("league %s: %w", league, err)
		}
		metrics.RecordTraining(league, "pipeline", time.Since(start).Seconds(), m.Accuracy)
		models[league] = m
		evals = append(evals, types.LeagueEvaluation{
			League:    league,
			TrainRows: m.TrainRows,
			EvalRows:  m.EvalRows,
			Accuracy:  m.Accuracy,
		})
	}
	return p.registry.ReplaceAll(c, models), evals, nil
}

func (p *Pipeline) publish(mutate func(*types.PipelineStatus)) {
	next := *p.status.Load()
	mutate(&next)
	p.status.Store(&next)
}

func (p *Pipeline) record(ctx context.Context, run types.RunRecord) {
	if p.recorder == nil {
		return
	}
	var err error
	func() {
		defer recoverInto(&err)
		err = p.recorder.RecordRun(context.WithoutCancel(ctx), run)
	}()
	if err != nil {
		p.logger.Warn(ctx, "cannot record run", logger.String("run_id", run.ID), logger.Error(err))
	}
}

// summarise returns the retrained leagues and their mean accuracy, nil when none.
func summarise(evals []types.LeagueEvaluation) ([]string, *float64) {
	leagues := make([]string, 0, len(evals))
	if len(evals) == 0 {
		return leagues, nil
	}
	var sum float64
	for _, e := range evals {
		leagues = append(leagues, e.League)
		sum += e.Accuracy
	}
	avg := sum / float64(len(evals))
	return leagues, &avg
}
