// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"time"
)

// Outcome is a three-way match result. The numeric values are the class
// indices used by the classifier (alphabetical: away, draw, home).
type Outcome int8

// Outcomes in class-index order.
const (
	OutcomeAway Outcome = iota
	OutcomeDraw
	OutcomeHome
)

// NumOutcomes is the number of classes.
const NumOutcomes = 3

// Outcomes lists every outcome in class-index order.
var Outcomes = [NumOutcomes]Outcome{OutcomeAway, OutcomeDraw, OutcomeHome}

func (o Outcome) String() string {
	switch o {
	case OutcomeAway:
		return "away"
	case OutcomeDraw:
		return "draw"
	case OutcomeHome:
		return "home"
	default:
		return fmt.Sprintf("outcome(%d)", int8(o))
	}
}

// Valid reports whether o is one of the three outcomes.
func (o Outcome) Valid() bool { return o >= OutcomeAway && o <= OutcomeHome }

// MarshalText encodes the outcome as home, draw or away.
func (o Outcome) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("invalid outcome %d", int8(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText decodes home, draw or away.
func (o *Outcome) UnmarshalText(b []byte) error {
	parsed, err := ParseOutcome(string(b))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// ParseOutcome accepts the textual form produced by String.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "away":
		return OutcomeAway, nil
	case "draw":
		return OutcomeDraw, nil
	case "home":
		return OutcomeHome, nil
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}

// OutcomeFromGoals derives the result from a final score.
func OutcomeFromGoals(home, away int) Outcome {
	switch {
	case home > away:
		return OutcomeHome
	case home < away:
		return OutcomeAway
	default:
		return OutcomeDraw
	}
}

// ValidResultCode reports whether code is a full-time result code (H, D or A).
func ValidResultCode(code string) bool {
	return code == "H" || code == "D" || code == "A"
}

// MatchRecord is one historical result. Immutable once loaded.
type MatchRecord struct {
	Date      time.Time
	League    string
	HomeTeam  string
	AwayTeam  string
	HomeGoals int
	AwayGoals int
	Outcome   Outcome
}

// ResultFor returns W, L or D from team's point of view.
func (m *MatchRecord) ResultFor(team string) string {
	if m.Outcome == OutcomeDraw {
		return "D"
	}
	won := (m.Outcome == OutcomeHome && m.HomeTeam == team) || (m.Outcome == OutcomeAway && m.AwayTeam == team)
	if won {
		return "W"
	}
	return "L"
}

// TriggerSource names what asked for a retrain.
type TriggerSource string

// Trigger sources.
const (
	TriggerSchedule TriggerSource = "schedule"
	TriggerManual   TriggerSource = "manual"
	TriggerStartup  TriggerSource = "startup"
)

// RetrainRequest is the payload flowing through the retrain queue.
type RetrainRequest struct {
	ID          string
	Source      TriggerSource
	RequestedAt time.Time
}
