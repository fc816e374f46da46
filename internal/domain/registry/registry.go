// Package registry holds the per-league trained models together with the
// corpus they were trained from, published as one immutable snapshot.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/kickoff/internal/domain/corpus"
	"github.com/okian/kickoff/internal/domain/features"
	"github.com/okian/kickoff/pkg/logger"
	"github.com/okian/kickoff/pkg/metrics"
)

// Snapshot is one published registry state. Readers keep using the snapshot
// they loaded; writers publish a new one.
type Snapshot struct {
	Generation uint64
	Corpus     *corpus.Corpus
	models     map[string]*LeagueModel
	untrained  map[string]error // leagues known to lack data in this generation
}

// Model returns the league's model if trained.
func (s *Snapshot) Model(league string) (*LeagueModel, bool) {
	m, ok := s.models[league]
	return m, ok
}

// Leagues returns the sorted leagues with a model.
func (s *Snapshot) Leagues() []string {
	out := make([]string, 0, len(s.models))
	for league := range s.models {
		out = append(out, league)
	}
	sort.Strings(out)
	return out
}

// Untrainable returns the insufficient-data error remembered for league in
// this generation, if any.
func (s *Snapshot) Untrainable(league string) error {
	return s.untrained[league]
}

// with returns a copy of s that also holds m.
func (s *Snapshot) with(m *LeagueModel) *Snapshot {
	models := make(map[string]*LeagueModel, len(s.models)+1)
	for k, v := range s.models {
		models[k] = v
	}
	models[m.League] = m
	return &Snapshot{Generation: s.Generation, Corpus: s.Corpus, models: models, untrained: s.untrained}
}

// withUntrainable returns a copy of s that remembers err for league.
func (s *Snapshot) withUntrainable(league string, err error) *Snapshot {
	untrained := make(map[string]error, len(s.untrained)+1)
	for k, v := range s.untrained {
		untrained[k] = v
	}
	untrained[league] = err
	return &Snapshot{Generation: s.Generation, Corpus: s.Corpus, models: s.models, untrained: untrained}
}

type flightKey struct {
	generation uint64
	league     string
}

type flight struct {
	done  chan struct{}
	model *LeagueModel
	err   error
}

// Registry publishes snapshots and trains missing league models on demand.
type Registry struct {
	current atomic.Pointer[Snapshot]

	mu       sync.Mutex // serialises publishes and guards inflight
	inflight map[flightKey]*flight

	fit    FitOptions
	logger logger.Logger
}

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithFitOptions sets training parameters.
func WithFitOptions(o FitOptions) Option {
	return func(r *Registry) {
		if o.MinRows > 0 && o.EvalFraction > 0 && o.Forest.Trees > 0 {
			r.fit = o
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates an empty registry at generation 0 with no corpus.
func New(opts ...Option) *Registry {
	r := &Registry{
		inflight: make(map[flightKey]*flight),
		fit:      DefaultFitOptions(),
		logger:   logger.Get().Named("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(&Snapshot{models: map[string]*LeagueModel{}})
	return r
}

// FitOptions returns the training parameters in use.
func (r *Registry) FitOptions() FitOptions { return r.fit }

// Snapshot returns the current published state.
func (r *Registry) Snapshot() *Snapshot { return r.current.Load() }

// ReplaceAll atomically publishes c and models as a new generation and
// returns it. models is owned by the registry afterwards.
func (r *Registry) ReplaceAll(c *corpus.Corpus, models map[string]*LeagueModel) *Snapshot {
	if models == nil {
		models = map[string]*LeagueModel{}
	}
	r.mu.Lock()
	next := &Snapshot{Generation: r.current.Load().Generation + 1, Corpus: c, models: models}
	r.current.Store(next)
	r.mu.Unlock()

	metrics.UpdateRegistry(next.Generation, len(models))
	if c != nil {
		metrics.UpdateCorpus(c.Len(), len(c.Teams()))
	}
	return next
}

// GetOrTrain returns the league model of the current snapshot, training it on a miss.
func (r *Registry) GetOrTrain(ctx context.Context, league string) (*LeagueModel, error) {
	return r.GetOrTrainAt(ctx, r.Snapshot(), league)
}

// GetOrTrainAt returns the league model as seen by snap. On a miss it trains
// from snap's corpus; concurrent misses for the same generation and league
// share one training run. The result is published only while snap's
// generation is still current. A waiting caller may give up via ctx, but the
// training run itself is not cancelled.
func (r *Registry) GetOrTrainAt(ctx context.Context, snap *Snapshot, league string) (*LeagueModel, error) {
	if m, ok := snap.Model(league); ok {
		return m, nil
	}
	if err := snap.Untrainable(league); err != nil {
		return nil, err
	}
	if snap.Corpus == nil {
		return nil, fmt.Errorf("%w: registry has no corpus", corpus.ErrDataUnavailable)
	}

	key := flightKey{generation: snap.Generation, league: league}
	r.mu.Lock()
	if cur := r.current.Load(); cur.Generation == snap.Generation {
		if m, ok := cur.Model(league); ok {
			r.mu.Unlock()
			return m, nil
		}
		if err := cur.Untrainable(league); err != nil {
			r.mu.Unlock()
			return nil, err
		}
	}
	if fl, ok := r.inflight[key]; ok {
		r.mu.Unlock()
		select {
		case <-fl.done:
			return fl.model, fl.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fl := &flight{done: make(chan struct{})}
	r.inflight[key] = fl
	r.mu.Unlock()

	r.train(ctx, snap, league, fl)

	r.mu.Lock()
	delete(r.inflight, key)
	if cur := r.current.Load(); cur.Generation == snap.Generation {
		switch {
		case fl.err == nil:
			next := cur.with(fl.model)
			r.current.Store(next)
			metrics.UpdateRegistry(next.Generation, len(next.models))
		case errors.Is(fl.err, ErrInsufficientData):
			r.current.Store(cur.withUntrainable(league, fl.err))
		}
	}
	r.mu.Unlock()
	close(fl.done)
	return fl.model, fl.err
}

func (r *Registry) train(ctx context.Context, snap *Snapshot, league string, fl *flight) {
	defer func() {
		if p := recover(); p != nil {
			fl.model, fl.err = nil, fmt.Errorf("train %s: panic: %v", league, p)
		}
	}()
	start := time.Now()
	table := features.Build(league, snap.Corpus.League(league))
	fl.model, fl.err = Fit(table, r.fit)
	if fl.err != nil {
		r.logger.Warn(ctx, "lazy training failed", logger.String("league", league), logger.Error(fl.err))
		return
	}
	took := time.Since(start)
	metrics.RecordTraining(league, "lazy", took.Seconds(), fl.model.Accuracy)
	r.logger.Info(ctx, "lazy training finished",
		logger.String("league", league),
		logger.Int("train_rows", fl.model.TrainRows),
		logger.Int("eval_rows", fl.model.EvalRows),
		logger.Float64("accuracy", fl.model.Accuracy),
		logger.Duration("took", took),
	)
}
