// Package features derives leakage-free per-match feature rows from a
// league's chronological match history.
package features

import (
	"math"
	"time"

	"github.com/okian/kickoff/internal/domain/model"
)

// Feature indices in schema order. The classifier consumes vectors in exactly this order.
const (
	HomeRecentGoals = iota
	AwayRecentGoals
	HomeRecentConceded
	AwayRecentConceded
	HomeForm
	AwayForm
	H2HHomeGoals
	H2HAwayGoals
	H2HHomeConceded
	H2HAwayConceded
	HomeAdvantage

	Count
)

// Names are the schema column names, indexed by feature.
var Names = [Count]string{
	"home_recent_goals",
	"away_recent_goals",
	"home_recent_conceded",
	"away_recent_conceded",
	"home_form",
	"away_form",
	"h2h_home_goals",
	"h2h_away_goals",
	"h2h_home_conceded",
	"h2h_away_conceded",
	"home_advantage",
}

// Window is the trailing match count of every rolling statistic.
const Window = 5

// H2HWeights weigh prior meetings, most recent first.
var H2HWeights = [...]float64{0.4, 0.3, 0.15, 0.1, 0.05}

// H2HFallbackWeight applies to meetings beyond len(H2HWeights).
const H2HFallbackWeight = 0.05

// Vector is one feature vector. NaN marks a value with no history.
type Vector [Count]float64

// Complete reports whether no feature is missing.
func (v *Vector) Complete() bool {
	for _, x := range v {
		if math.IsNaN(x) {
			return false
		}
	}
	return true
}

// Slice returns the vector as a slice for the classifier.
func (v *Vector) Slice() []float64 {
	out := make([]float64, Count)
	copy(out, v[:])
	return out
}

// Row is the feature row of one historical match.
type Row struct {
	Date      time.Time
	HomeTeam  string
	AwayTeam  string
	HomeGoals int
	AwayGoals int
	Outcome   model.Outcome
	Features  Vector
}

// Table holds every feature row of one league in date order, including rows
// with missing features.
type Table struct {
	League string
	Rows   []Row
}

// Trainable returns the complete rows in date order.
func (t *Table) Trainable() []Row {
	out := make([]Row, 0, len(t.Rows))
	for i := range t.Rows {
		if t.Rows[i].Features.Complete() {
			out = append(out, t.Rows[i])
		}
	}
	return out
}

// Since returns rows dated on or after day.
func (t *Table) Since(day time.Time) []Row {
	for i := range t.Rows {
		if !t.Rows[i].Date.Before(day) {
			return t.Rows[i:]
		}
	}
	return nil
}

// MeanLast averages the non-NaN values among the last n entries.
// ok is false when there is none.
func MeanLast(values []float64, n int) (mean float64, ok bool) {
	if len(values) > n {
		values = values[len(values)-n:]
	}
	var sum float64
	var k int
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		k++
	}
	if k == 0 {
		return math.NaN(), false
	}
	return sum / float64(k), true
}
