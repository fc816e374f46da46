package registry

import (
	"fmt"
	"math"
	"time"

	"github.com/okian/kickoff/internal/domain/features"
	"github.com/okian/kickoff/internal/domain/forest"
	"github.com/okian/kickoff/internal/domain/model"
)

// FitOptions controls how a league model is trained and evaluated.
type FitOptions struct {
	MinRows      int
	EvalFraction float64
	Forest       forest.Config
}

// DefaultFitOptions requires 50 rows, holds out the last 20% and uses the
// production forest.
func DefaultFitOptions() FitOptions {
	return FitOptions{MinRows: 50, EvalFraction: 0.2, Forest: forest.DefaultConfig()}
}

// LeagueModel is a trained classifier and the feature table it came from.
// It is never modified after Fit returns.
type LeagueModel struct {
	League     string
	Classifier *forest.Forest
	Table      *features.Table
	Accuracy   float64
	TrainRows  int
	EvalRows   int
	TrainedAt  time.Time
}

// Split divides date-ordered rows into a leading training part and a
// trailing evaluation part of ceil(len*fraction) rows. Rows are never shuffled.
func Split(rows []features.Row, fraction float64) (train, eval []features.Row) {
	nEval := int(math.Ceil(float64(len(rows)) * fraction))
	if nEval > len(rows) {
		nEval = len(rows)
	}
	cut := len(rows) - nEval
	return rows[:cut], rows[cut:]
}

// Fit trains and evaluates a model on the complete rows of table.
func Fit(table *features.Table, opts FitOptions) (*LeagueModel, error) {
	rows := table.Trainable()
	if len(rows) < opts.MinRows {
		return nil, fmt.Errorf("%w: league %s has %d usable rows, need %d",
			ErrInsufficientData, table.League, len(rows), opts.MinRows)
	}
	train, eval := Split(rows, opts.EvalFraction)
	if len(train) == 0 {
		return nil, fmt.Errorf("%w: league %s has no rows left to train on", ErrInsufficientData, table.League)
	}

	Xtr, ytr := matrix(train)
	clf, err := forest.Fit(Xtr, ytr, model.NumOutcomes, opts.Forest)
	if err != nil {
		return nil, fmt.Errorf("fit %s: %w", table.League, err)
	}
	Xev, yev := matrix(eval)

	return &LeagueModel{
		League:     table.League,
		Classifier: clf,
		Table:      table,
		Accuracy:   clf.Accuracy(Xev, yev),
		TrainRows:  len(train),
		EvalRows:   len(eval),
		TrainedAt:  time.Now().UTC(),
	}, nil
}

func matrix(rows []features.Row) ([][]float64, []int) {
	X := make([][]float64, len(rows))
	y := make([]int, len(rows))
	for i := range rows {
		X[i] = rows[i].Features.Slice()
		y[i] = int(rows[i].Outcome)
	}
	return X, y
}
