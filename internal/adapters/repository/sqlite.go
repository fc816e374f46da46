package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // database/sql driver "sqlite"

	"github.com/okian/kickoff/internal/domain/corpus"
	"github.com/okian/kickoff/internal/domain/model"
	"github.com/okian/kickoff/internal/domain/types"
	"github.com/okian/kickoff/pkg/logger"
	"github.com/okian/kickoff/pkg/metrics"
)

const (
	driverName         = "sqlite"
	defaultBusyTimeout = 5 * time.Second

	// timeLayout is fixed width so TEXT order matches time order.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		id               TEXT PRIMARY KEY,
		trigger          TEXT NOT NULL,
		started_at       TEXT NOT NULL,
		finished_at      TEXT NOT NULL,
		state            TEXT NOT NULL,
		files_updated    TEXT NOT NULL,
		average_accuracy REAL,
		error            TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started ON pipeline_runs(started_at)`,
	`CREATE TABLE IF NOT EXISTS league_evaluations (
		run_id     TEXT NOT NULL REFERENCES pipeline_runs(id) ON DELETE CASCADE,
		league     TEXT NOT NULL,
		train_rows INTEGER NOT NULL,
		eval_rows  INTEGER NOT NULL,
		accuracy   REAL NOT NULL,
		PRIMARY KEY (run_id, league)
	)`,
	`CREATE TABLE IF NOT EXISTS predictions (
		id             TEXT PRIMARY KEY,
		created_at     TEXT NOT NULL,
		home_team      TEXT NOT NULL,
		away_team      TEXT NOT NULL,
		league         TEXT NOT NULL,
		label          TEXT NOT NULL,
		winner         TEXT NOT NULL,
		p_home         REAL NOT NULL,
		p_draw         REAL NOT NULL,
		p_away         REAL NOT NULL,
		confidence     REAL NOT NULL,
		actual_outcome TEXT,
		was_correct    INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_predictions_pending ON predictions(actual_outcome) WHERE actual_outcome IS NULL`,
}

// SQLiteStore implements RunLedger and Journal on a single sqlite file.
type SQLiteStore struct {
	db          *sql.DB
	closed      atomic.Bool
	path        string
	busyTimeout time.Duration
	now         func() time.Time
	logger      logger.Logger
}

var (
	_ RunLedger = (*SQLiteStore)(nil)
	_ Journal   = (*SQLiteStore)(nil)
)

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{
		path:        path,
		busyTimeout: defaultBusyTimeout,
		now:         time.Now,
		logger:      logger.Get().Named("repository"),
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One connection serialises writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	s.db = db

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.busyTimeout.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}
	for _, stmt := range append(pragmas, schema...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate %s: %w", path, err)
		}
	}
	s.logger.Info(ctx, "database ready", logger.String("path", path))
	return s, nil
}

// Close closes the database.
// Calls made after Close return ErrClosed.
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// RecordRun stores run and its evaluations in one transaction.
func (s *SQLiteStore) RecordRun(ctx context.Context, run types.RunRecord) error {
	if s.closed.Load() {
		return ErrClosed
	}
	files, err := json.Marshal(nonNil(run.FilesUpdated))
	if err != nil {
		return fmt.Errorf("encode files: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO pipeline_runs
		(id, trigger, started_at, finished_at, state, files_updated, average_accuracy, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Trigger,
		run.StartedAt.UTC().Format(timeLayout), run.FinishedAt.UTC().Format(timeLayout),
		string(run.State), string(files), nullFloat(run.AverageAccuracy), run.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	for _, e := range run.Evaluations {
		_, err = tx.ExecContext(ctx, `INSERT INTO league_evaluations
			(run_id, league, train_rows, eval_rows, accuracy) VALUES (?, ?, ?, ?, ?)`,
			run.ID, e.League, e.TrainRows, e.EvalRows, e.Accuracy)
		if err != nil {
			return fmt.Errorf("insert evaluation %s/%s: %w", run.ID, e.League, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", run.ID, err)
	}
	return nil
}

// Runs returns up to limit runs, newest first.
func (s *SQLiteStore) Runs(ctx context.Context, limit int) ([]types.RunRecord, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, trigger, started_at, finished_at, state,
		files_updated, average_accuracy, error
		FROM pipeline_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := []types.RunRecord{}
	index := make(map[string]int)
	for rows.Next() {
		var (
			r                 types.RunRecord
			started, finished string
			state, files      string
			avg               sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.Trigger, &started, &finished, &state, &files, &avg, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.State = types.PipelineState(state)
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		if err := json.Unmarshal([]byte(files), &r.FilesUpdated); err != nil {
			return nil, fmt.Errorf("decode files of run %s: %w", r.ID, err)
		}
		if avg.Valid {
			v := avg.Float64
			r.AverageAccuracy = &v
		}
		r.Evaluations = []types.LeagueEvaluation{}
		index[r.ID] = len(out)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	_ = rows.Close()
	if len(out) == 0 {
		return out, nil
	}

	evals, err := s.db.QueryContext(ctx, `SELECT e.run_id, e.league, e.train_rows, e.eval_rows, e.accuracy
		FROM league_evaluations e
		JOIN (SELECT id FROM pipeline_runs ORDER BY started_at DESC LIMIT ?) r ON r.id = e.run_id
		ORDER BY e.league`, limit)
	if err != nil {
		return nil, fmt.Errorf("query evaluations: %w", err)
	}
	defer evals.Close()
	for evals.Next() {
		var (
			runID string
			e     types.LeagueEvaluation
		)
		if err := evals.Scan(&runID, &e.League, &e.TrainRows, &e.EvalRows, &e.Accuracy); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		if i, ok := index[runID]; ok {
			out[i].Evaluations = append(out[i].Evaluations, e)
		}
	}
	return out, evals.Err()
}

// SavePrediction stores p stamped with the current time.
func (s *SQLiteStore) SavePrediction(ctx context.Context, p types.Prediction) (types.JournalEntry, error) {
	if s.closed.Load() {
		return types.JournalEntry{}, ErrClosed
	}
	entry := types.JournalEntry{
		ID:         uuid.NewString(),
		CreatedAt:  s.now().UTC(),
		Prediction: p,
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO predictions
		(id, created_at, home_team, away_team, league, label, winner, p_home, p_draw, p_away, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.CreatedAt.UTC().Format(timeLayout),
		p.HomeTeam, p.AwayTeam, p.League, p.Prediction, p.Winner.String(),
		p.Probabilities.HomeWin, p.Probabilities.Draw, p.Probabilities.AwayWin, p.Confidence,
	)
	if err != nil {
		return types.JournalEntry{}, fmt.Errorf("insert prediction: %w", err)
	}
	metrics.RecordJournalWrite()
	return entry, nil
}

// Predictions returns up to limit entries, newest first.
func (s *SQLiteStore) Predictions(ctx context.Context, limit int) ([]types.JournalEntry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, home_team, away_team, league, label,
		winner, p_home, p_draw, p_away, confidence, actual_outcome, was_correct
		FROM predictions ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	out := []types.JournalEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type pending struct {
	id      string
	home    string
	away    string
	created time.Time
	winner  model.Outcome
}

// Reconcile looks up every unresolved prediction in c. A prediction is
// resolved by the first home v away result dated on or after the day it
// was made.
func (s *SQLiteStore) Reconcile(ctx context.Context, c *corpus.Corpus) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if c == nil {
		return 0, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, home_team, away_team, created_at, winner
		FROM predictions WHERE actual_outcome IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("query pending: %w", err)
	}
	var open []pending
	for rows.Next() {
		var (
			p                pending
			created, winner string
		)
		if err := rows.Scan(&p.id, &p.home, &p.away, &created, &winner); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan pending: %w", err)
		}
		p.created, _ = time.Parse(time.RFC3339Nano, created)
		if p.winner, err = model.ParseOutcome(winner); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("pending %s: %w", p.id, err)
		}
		open = append(open, p)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate pending: %w", err)
	}

	var n int
	for _, p := range open {
		day := time.Date(p.created.Year(), p.created.Month(), p.created.Day(), 0, 0, 0, 0, time.UTC)
		m, ok := c.Played(p.home, p.away, day)
		if !ok {
			continue
		}
		_, err := s.db.ExecContext(ctx, `UPDATE predictions SET actual_outcome = ?, was_correct = ? WHERE id = ?`,
			m.Outcome.String(), m.Outcome == p.winner, p.id)
		if err != nil {
			return n, fmt.Errorf("update %s: %w", p.id, err)
		}
		n++
	}
	if n > 0 {
		metrics.RecordJournalReconciled(n)
		s.logger.Info(ctx, "predictions reconciled", logger.Int("count", n))
	}
	return n, nil
}

// Stats summarises the journal.
func (s *SQLiteStore) Stats(ctx context.Context) (types.JournalStats, error) {
	if s.closed.Load() {
		return types.JournalStats{}, ErrClosed
	}
	var (
		st                  types.JournalStats
		reconciled, correct sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
		SUM(CASE WHEN actual_outcome IS NOT NULL THEN 1 ELSE 0 END),
		SUM(CASE WHEN was_correct = 1 THEN 1 ELSE 0 END)
		FROM predictions`).Scan(&st.Total, &reconciled, &correct)
	if err != nil {
		return types.JournalStats{}, fmt.Errorf("query stats: %w", err)
	}
	st.Reconciled = int(reconciled.Int64)
	st.Correct = int(correct.Int64)
	if st.Reconciled > 0 {
		st.Accuracy = float64(st.Correct) / float64(st.Reconciled)
	}
	return st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (types.JournalEntry, error) {
	var (
		e               types.JournalEntry
		created, winner string
		actual          sql.NullString
		correct         sql.NullBool
	)
	p := &e.Prediction
	err := row.Scan(&e.ID, &created, &p.HomeTeam, &p.AwayTeam, &p.League, &p.Prediction, &winner,
		&p.Probabilities.HomeWin, &p.Probabilities.Draw, &p.Probabilities.AwayWin, &p.Confidence,
		&actual, &correct)
	if err != nil {
		return e, fmt.Errorf("scan prediction: %w", err)
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if p.Winner, err = model.ParseOutcome(winner); err != nil {
		return e, fmt.Errorf("prediction %s: %w", e.ID, err)
	}
	if actual.Valid {
		o, err := model.ParseOutcome(actual.String)
		if err != nil {
			return e, fmt.Errorf("prediction %s: %w", e.ID, err)
		}
		e.ActualOutcome = &o
	}
	if correct.Valid {
		v := correct.Bool
		e.WasCorrect = &v
	}
	return e, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
