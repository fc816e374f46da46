// Package types contains the read shapes returned by the engine to callers.
package types

import (
	"time"

	"github.com/okian/kickoff/internal/domain/model"
)

// Probabilities is the outcome distribution of one prediction.
type Probabilities struct {
	HomeWin float64 `json:"home_win"`
	Draw    float64 `json:"draw"`
	AwayWin float64 `json:"away_win"`
}

// Of returns the probability assigned to o.
func (p Probabilities) Of(o model.Outcome) float64 {
	switch o {
	case model.OutcomeHome:
		return p.HomeWin
	case model.OutcomeDraw:
		return p.Draw
	default:
		return p.AwayWin
	}
}

// Sum returns the total mass, 1 up to rounding.
func (p Probabilities) Sum() float64 { return p.HomeWin + p.Draw + p.AwayWin }

// Prediction is the result of predicting one fixture.
type Prediction struct {
	HomeTeam      string        `json:"home_team"`
	AwayTeam      string        `json:"away_team"`
	League        string        `json:"league"`
	Prediction    string        `json:"prediction"`
	Winner        model.Outcome `json:"winner"`
	Probabilities Probabilities `json:"probabilities"`
	Confidence    float64       `json:"confidence"`
}

// Meeting is one past fixture between two teams.
type Meeting struct {
	Date      string `json:"date"`
	HomeTeam  string `json:"home_team"`
	AwayTeam  string `json:"away_team"`
	HomeGoals int    `json:"home_goals"`
	AwayGoals int    `json:"away_goals"`
	Result    string `json:"result"`
}

// PipelineState is the retrain pipeline lifecycle state.
type PipelineState string

// Pipeline states.
const (
	StateNeverRun PipelineState = "never_run"
	StateRunning  PipelineState = "running"
	StateSuccess  PipelineState = "success"
	StateSkipped  PipelineState = "skipped"
	StateFailed   PipelineState = "failed"
)

// PipelineStatus is the process-wide retrain status record.
type PipelineStatus struct {
	RunID           string        `json:"run_id,omitempty"`
	State           PipelineState `json:"state"`
	LastRun         *time.Time    `json:"last_run"`
	LastSuccess     *time.Time    `json:"last_success"`
	LastError       string        `json:"last_error,omitempty"`
	FilesUpdated    []string      `json:"files_updated"`
	LeaguesUpdated  []string      `json:"leagues_updated"`
	AverageAccuracy *float64      `json:"average_accuracy"`
}

// LeagueEvaluation is the hold-out result of one league fit.
type LeagueEvaluation struct {
	League    string  `json:"league"`
	TrainRows int     `json:"train_rows"`
	EvalRows  int     `json:"eval_rows"`
	Accuracy  float64 `json:"accuracy"`
}

// RunRecord is one persisted pipeline run.
type RunRecord struct {
	ID              string             `json:"id"`
	Trigger         string             `json:"trigger"`
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`
	State           PipelineState      `json:"state"`
	FilesUpdated    []string           `json:"files_updated"`
	AverageAccuracy *float64           `json:"average_accuracy"`
	Error           string             `json:"error,omitempty"`
	Evaluations     []LeagueEvaluation `json:"evaluations"`
}

// JournalEntry is a stored prediction and, once played, its actual result.
type JournalEntry struct {
	ID            string         `json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	Prediction    Prediction     `json:"prediction"`
	ActualOutcome *model.Outcome `json:"actual_outcome"`
	WasCorrect    *bool          `json:"was_correct"`
}

// JournalStats summarises the prediction journal.
type JournalStats struct {
	Total      int     `json:"total"`
	Reconciled int     `json:"reconciled"`
	Correct    int     `json:"correct"`
	Accuracy   float64 `json:"accuracy"`
}
