// Package service wires the prediction engine together and exposes the
// operations used by the HTTP API and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/okian/kickoff/internal/adapters/cache"
	"github.com/okian/kickoff/internal/adapters/mq/queue"
	"github.com/okian/kickoff/internal/adapters/mq/worker"
	"github.com/okian/kickoff/internal/adapters/repository"
	"github.com/okian/kickoff/internal/adapters/scheduler"
	"github.com/okian/kickoff/internal/adapters/upstream"
	"github.com/okian/kickoff/internal/config"
	"github.com/okian/kickoff/internal/domain/corpus"
	"github.com/okian/kickoff/internal/domain/forest"
	"github.com/okian/kickoff/internal/domain/model"
	"github.com/okian/kickoff/internal/domain/pipeline"
	"github.com/okian/kickoff/internal/domain/predictor"
	"github.com/okian/kickoff/internal/domain/registry"
	"github.com/okian/kickoff/internal/domain/types"
	"github.com/okian/kickoff/pkg/logger"
	"github.com/okian/kickoff/pkg/metrics"
)

const shutdownTimeout = 30 * time.Second

// Service owns the engine state and its background workers.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	registry  *registry.Registry
	predictor *predictor.Predictor
	pipeline  *pipeline.Pipeline
	loader    pipeline.Loader
	fetcher   pipeline.Fetcher
	cache     cache.Cache
	store     *repository.SQLiteStore
	redis     *redis.Client

	retrainQueue *queue.InMemoryQueue
	worker       *worker.InMemoryWorker
	scheduler    *scheduler.Scheduler
	cancelBg     context.CancelFunc

	opened  bool
	started bool

	shutdownTimeout time.Duration

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration. Defaults to config.New().
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithFetcher replaces the upstream downloader.
func WithFetcher(f pipeline.Fetcher) Option {
	return func(s *Service) {
		if f != nil {
			s.fetcher = f
		}
	}
}

// WithCache replaces the prediction cache.
func WithCache(c cache.Cache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithShutdownTimeout bounds how long Stop waits for a running retrain.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service. Nothing is loaded until Open.
func New(opts ...Option) *Service {
	s := &Service{cfg: config.New(), shutdownTimeout: shutdownTimeout}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	return s
}

// Open builds every component and loads the corpus from the data dir. A
// missing corpus is not an error: predictions report unavailable data until
// a retrain succeeds.
func (s *Service) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}
	cfg := s.cfg

	seasonStart, err := cfg.SeasonStartTime()
	if err != nil {
		return err
	}

	fit := registry.FitOptions{
		MinRows:      cfg.MinTrainingRows,
		EvalFraction: cfg.EvalFraction,
		Forest: forest.NewConfig(
			forest.WithTrees(cfg.ForestTrees),
			forest.WithMaxDepth(cfg.ForestMaxDepth),
			forest.WithMinSamplesSplit(cfg.ForestMinSamplesSplit),
			forest.WithSeed(cfg.ForestSeed),
		),
	}
	s.registry = registry.New(registry.WithFitOptions(fit))
	s.predictor = predictor.New(s.registry, predictor.WithSeasonStart(seasonStart))

	s.loader = corpus.NewLoader(cfg.DataDir, cfg.LeagueFiles)
	if c, err := s.loader.Load(ctx); err != nil {
		s.logger.Warn(ctx, "no corpus available yet", logger.Error(err))
	} else {
		s.registry.ReplaceAll(c, nil)
	}

	if s.fetcher == nil {
		s.fetcher = upstream.New(cfg.DataDir, cfg.SourceURLs,
			upstream.WithTimeout(cfg.DownloadTimeout()),
			upstream.WithMaxBytes(cfg.DownloadMaxBytes),
			upstream.WithRPS(cfg.DownloadRPS),
			upstream.WithBreakerFailures(cfg.BreakerFailures),
		)
	}

	if s.cache == nil {
		s.cache, err = s.openCache(ctx)
		if err != nil {
			return err
		}
	}

	popts := []pipeline.Option{pipeline.WithSwapListener(s.onSwap)}
	if cfg.DatabasePath != "" {
		s.store, err = repository.Open(ctx, cfg.DatabasePath,
			repository.WithBusyTimeout(cfg.DatabaseBusyTimeout()))
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		popts = append(popts, pipeline.WithRecorder(s.store))
	}
	s.pipeline = pipeline.New(s.fetcher, s.loader, s.registry, popts...)

	s.opened = true
	return nil
}

func (s *Service) openCache(ctx context.Context) (cache.Cache, error) {
	if s.cfg.RedisAddr == "" {
		return cache.NewMemory(cache.WithMemoryTTL(s.cfg.CacheTTL())), nil
	}
	client, err := cache.NewRedisClient(ctx, s.cfg.RedisAddr)
	if err != nil {
		return nil, err
	}
	s.redis = client
	return cache.NewRedis(client, s.cfg.CacheTTL()), nil
}

// Start opens the service and runs the retrain worker and schedule.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Open(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	loc, err := s.cfg.Location()
	if err != nil {
		return err
	}
	s.retrainQueue = queue.NewInMemoryQueue()
	s.scheduler, err = scheduler.New(s.cfg.RetrainSchedule, s.retrainQueue, scheduler.WithLocation(loc))
	if err != nil {
		return err
	}
	s.worker = worker.NewInMemoryWorker(s.retrainQueue, s.pipeline, worker.WithName("retrain"))

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelBg = cancel
	go s.worker.Run(bg)
	s.scheduler.Start(bg)
	if s.cfg.RetrainOnStartup {
		s.scheduler.Fire(bg, model.TriggerStartup)
	}

	s.started = true
	s.logger.Info(ctx, "prediction service started",
		logger.String("data_dir", s.cfg.DataDir),
		logger.Uint64("generation", s.registry.Snapshot().Generation),
		logger.Bool("persistence", s.store != nil),
		logger.Bool("redis", s.redis != nil),
	)
	return nil
}

// Stop shuts down background work and releases resources.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	drained := true

	if s.started {
		s.logger.Info(ctx, "stopping prediction service...")
		if err := s.scheduler.Stop(ctx); err != nil {
			s.logger.Warn(ctx, "scheduler stop timed out", logger.Error(err))
		}
		_ = s.retrainQueue.Close()
		if err := s.worker.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "worker stop timed out", logger.Error(err))
			drained = false
		}
		s.cancelBg()
		s.started = false
	}
	// A run that outlived the shutdown timeout may still record to the store.
	if s.store != nil && drained {
		_ = s.store.Close()
		s.store = nil
	}
	if s.redis != nil {
		_ = s.redis.Close()
		s.redis = nil
	}
	s.opened = false
}

// PingDatabase checks the journal database. It returns ErrJournalDisabled
// when no database is configured.
func (s *Service) PingDatabase(ctx context.Context) error {
	store, err := s.journal()
	if err != nil {
		return err
	}
	return store.Ping(ctx)
}

// Ready reports whether a corpus is loaded.
func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opened && s.registry.Snapshot().Corpus != nil
}

// CheckSameLeague rejects fixtures whose teams play in different leagues.
// The away team's league is its away league, or its home league when it
// has never played away. Unknown teams pass so that the predictor can
// report them.
func (s *Service) CheckSameLeague(home, away string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	return checkSameLeague(s.registry.Snapshot(), home, away)
}

func checkSameLeague(snap *registry.Snapshot, home, away string) error {
	c := snap.Corpus
	if c == nil {
		return nil
	}
	h, ok := c.Resolve(home)
	if !ok {
		return nil
	}
	a, ok := c.Resolve(away)
	if !ok {
		return nil
	}
	hl, ok := c.HomeLeague(h)
	if !ok {
		return nil
	}
	al, ok := c.AwayLeague(a)
	if !ok {
		al, ok = c.HomeLeague(a)
	}
	if ok && al != hl {
		return fmt.Errorf("%w: %s plays in %s, %s plays in %s", ErrLeagueMismatch, h, hl, a, al)
	}
	return nil
}

// Predict checks the fixture and predicts it, serving repeats from the cache.
func (s *Service) Predict(ctx context.Context, home, away string) (types.Prediction, error) {
	if err := s.ensureOpen(); err != nil {
		return types.Prediction{}, err
	}
	snap := s.registry.Snapshot()
	if err := checkSameLeague(snap, home, away); err != nil {
		metrics.RecordPredictionError("league_mismatch")
		return types.Prediction{}, err
	}

	var fingerprint uint64
	if snap.Corpus != nil {
		fingerprint = snap.Corpus.Fingerprint()
	}
	key := cache.Key(fingerprint, snap.Generation, home, away)
	if p, ok, err := s.cache.Get(ctx, key); err != nil {
		metrics.RecordCacheResult("error")
		s.logger.Warn(ctx, "cache read failed", logger.Error(err))
	} else if ok {
		metrics.RecordCacheResult("hit")
		return p, nil
	}
	metrics.RecordCacheResult("miss")

	p, err := s.predictor.PredictAt(ctx, snap, home, away)
	if err != nil {
		return types.Prediction{}, err
	}
	if err := s.cache.Set(ctx, key, p); err != nil {
		s.logger.Warn(ctx, "cache write failed", logger.Error(err))
	}
	return p, nil
}

// ListTeams returns every known team.
func (s *Service) ListTeams() ([]string, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s.predictor.ListTeams(), nil
}

// HeadToHead returns the last meetings of a and b.
func (s *Service) HeadToHead(a, b string) ([]types.Meeting, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s.predictor.HeadToHead(a, b), nil
}

// PipelineStatus returns the current retrain status.
func (s *Service) PipelineStatus() (types.PipelineStatus, error) {
	if err := s.ensureOpen(); err != nil {
		return types.PipelineStatus{}, err
	}
	return s.pipeline.Status(), nil
}

// RunPipeline runs a retrain on the calling goroutine.
func (s *Service) RunPipeline(ctx context.Context) (types.PipelineStatus, error) {
	if err := s.ensureOpen(); err != nil {
		return types.PipelineStatus{}, err
	}
	st, err := s.pipeline.Run(ctx, model.TriggerManual)
	if errors.Is(err, pipeline.ErrAlreadyRunning) {
		return st, fmt.Errorf("%w: %v", ErrRetrainPending, err)
	}
	return st, err
}

// RequestRetrain queues a manual retrain for the background worker.
func (s *Service) RequestRetrain(ctx context.Context) error {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return ErrNotOpen
	}
	if s.pipeline.Running() {
		metrics.RecordRetrainTrigger(string(model.TriggerManual), false)
		return fmt.Errorf("%w: a run is in progress", ErrRetrainPending)
	}
	if !s.scheduler.Fire(ctx, model.TriggerManual) {
		return fmt.Errorf("%w: a run is queued", ErrRetrainPending)
	}
	return nil
}

// Runs returns the most recent pipeline runs.
func (s *Service) Runs(ctx context.Context, limit int) ([]types.RunRecord, error) {
	store, err := s.journal()
	if err != nil {
		return nil, err
	}
	return store.Runs(ctx, limit)
}

// RecordPrediction predicts a fixture and stores it in the journal.
func (s *Service) RecordPrediction(ctx context.Context, home, away string) (types.JournalEntry, error) {
	store, err := s.journal()
	if err != nil {
		return types.JournalEntry{}, err
	}
	p, err := s.Predict(ctx, home, away)
	if err != nil {
		return types.JournalEntry{}, err
	}
	return store.SavePrediction(ctx, p)
}

// History returns the most recent journal entries.
func (s *Service) History(ctx context.Context, limit int) ([]types.JournalEntry, error) {
	store, err := s.journal()
	if err != nil {
		return nil, err
	}
	return store.Predictions(ctx, limit)
}

// HistoryStats summarises the journal.
func (s *Service) HistoryStats(ctx context.Context) (types.JournalStats, error) {
	store, err := s.journal()
	if err != nil {
		return types.JournalStats{}, err
	}
	return store.Stats(ctx)
}

// onSwap drops cached predictions and resolves journal entries against the
// new corpus.
func (s *Service) onSwap(ctx context.Context, snap *registry.Snapshot) {
	if err := s.cache.Purge(ctx); err != nil {
		s.logger.Warn(ctx, "cache purge failed", logger.Error(err))
	}
	if s.store == nil || snap == nil {
		return
	}
	if _, err := s.store.Reconcile(ctx, snap.Corpus); err != nil {
		s.logger.Warn(ctx, "journal reconcile failed", logger.Error(err))
	}
}

func (s *Service) journal() (*repository.SQLiteStore, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, ErrJournalDisabled
	}
	return s.store, nil
}

func (s *Service) ensureOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.opened {
		return ErrNotOpen
	}
	return nil
}
