// Package repository persists the pipeline run ledger and the prediction journal.
package repository

import (
	"context"

	"github.com/okian/kickoff/internal/domain/corpus"
	"github.com/okian/kickoff/internal/domain/types"
)

// RunLedger stores finished pipeline runs.
type RunLedger interface {
	// RecordRun stores a run with its per-league evaluations.
	RecordRun(ctx context.Context, run types.RunRecord) error
	// Runs returns up to limit runs, newest first.
	Runs(ctx context.Context, limit int) ([]types.RunRecord, error)
}

// Journal stores predictions and reconciles them with played results.
type Journal interface {
	// SavePrediction stores p and returns the stored entry.
	SavePrediction(ctx context.Context, p types.Prediction) (types.JournalEntry, error)
	// Predictions returns up to limit entries, newest first.
	Predictions(ctx context.Context, limit int) ([]types.JournalEntry, error)
	// Reconcile fills in results found in c and returns how many entries changed.
	Reconcile(ctx context.Context, c *corpus.Corpus) (int, error)
	// Stats summarises the journal.
	Stats(ctx context.Context) (types.JournalStats, error)
}
