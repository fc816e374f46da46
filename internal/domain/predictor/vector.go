package predictor

import (
	"math"
	"time"

	"github.com/okian/kickoff/internal/domain/features"
)

// LiveVector builds the feature vector for an upcoming home v away fixture.
// Form statistics come from table rows dated on or after since; head-to-head
// values are copied from the most recent row of the whole table involving
// home. Absent values are 0.
func LiveVector(table *features.Table, home, away string, since time.Time) features.Vector {
	window := table.Since(since)

	var (
		homeScored, homeConceded []float64
		awayScored, awayConceded []float64
		homeForms, awayForms     []float64
	)
	for i := range window {
		r := &window[i]
		if r.HomeTeam == home {
			homeScored = append(homeScored, float64(r.HomeGoals))
			homeConceded = append(homeConceded, float64(r.AwayGoals))
			homeForms = append(homeForms, r.Features[features.HomeForm])
		}
		if r.AwayTeam == away {
			awayScored = append(awayScored, float64(r.AwayGoals))
			awayConceded = append(awayConceded, float64(r.HomeGoals))
			awayForms = append(awayForms, r.Features[features.AwayForm])
		}
	}

	var v features.Vector
	v[features.HomeRecentGoals] = meanOrZero(homeScored)
	v[features.HomeRecentConceded] = meanOrZero(homeConceded)
	v[features.AwayRecentGoals] = meanOrZero(awayScored)
	v[features.AwayRecentConceded] = meanOrZero(awayConceded)
	v[features.HomeForm] = v[features.HomeRecentGoals] - v[features.HomeRecentConceded]
	v[features.AwayForm] = v[features.AwayRecentGoals] - v[features.AwayRecentConceded]
	v[features.HomeAdvantage] = meanOrZero(homeForms) - meanOrZero(awayForms)

	for i := len(table.Rows) - 1; i >= 0; i-- {
		r := &table.Rows[i]
		if r.HomeTeam == home || r.AwayTeam == home {
			v[features.H2HHomeGoals] = zeroIfNaN(r.Features[features.H2HHomeGoals])
			v[features.H2HAwayGoals] = zeroIfNaN(r.Features[features.H2HAwayGoals])
			v[features.H2HHomeConceded] = zeroIfNaN(r.Features[features.H2HHomeConceded])
			v[features.H2HAwayConceded] = zeroIfNaN(r.Features[features.H2HAwayConceded])
			break
		}
	}
	return v
}

// meanOrZero is MeanLast over the rolling window with absent as 0.
func meanOrZero(values []float64) float64 {
	m, ok := features.MeanLast(values, features.Window)
	if !ok {
		return 0
	}
	return m
}

func zeroIfNaN(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return x
}
