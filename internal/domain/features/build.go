package features

import (
	"math"

	"github.com/okian/kickoff/internal/domain/model"
)

type score struct {
	scored, conceded float64
}

// teamState is one team's role-split history as of the current date.
type teamState struct {
	home     []score
	away     []score
	homeForm []float64
	awayForm []float64
}

type pairKey struct{ a, b string }

func keyOf(x, y string) pairKey {
	if x < y {
		return pairKey{x, y}
	}
	return pairKey{y, x}
}

// Build derives the feature table of one league. matches must be in
// non-decreasing date order. Every statistic of a row only uses matches dated
// strictly before it, so all matches sharing a date are computed against the
// same history and recorded afterwards.
func Build(league string, matches []model.MatchRecord) *Table {
	t := &Table{League: league, Rows: make([]Row, len(matches))}
	teams := make(map[string]*teamState)
	meetings := make(map[pairKey][]int)

	state := func(team string) *teamState {
		s, ok := teams[team]
		if !ok {
			s = &teamState{}
			teams[team] = s
		}
		return s
	}

	for start := 0; start < len(matches); {
		end := start + 1
		for end < len(matches) && matches[end].Date.Equal(matches[start].Date) {
			end++
		}

		for i := start; i < end; i++ {
			m := &matches[i]
			t.Rows[i] = Row{
				Date:      m.Date,
				HomeTeam:  m.HomeTeam,
				AwayTeam:  m.AwayTeam,
				HomeGoals: m.HomeGoals,
				AwayGoals: m.AwayGoals,
				Outcome:   m.Outcome,
				Features:  rowFeatures(m, state(m.HomeTeam), state(m.AwayTeam), matches, meetings[keyOf(m.HomeTeam, m.AwayTeam)]),
			}
		}

		for i := start; i < end; i++ {
			m := &matches[i]
			f := &t.Rows[i].Features
			hs, as := state(m.HomeTeam), state(m.AwayTeam)
			hs.home = append(hs.home, score{float64(m.HomeGoals), float64(m.AwayGoals)})
			hs.homeForm = append(hs.homeForm, f[HomeForm])
			as.away = append(as.away, score{float64(m.AwayGoals), float64(m.HomeGoals)})
			as.awayForm = append(as.awayForm, f[AwayForm])
			k := keyOf(m.HomeTeam, m.AwayTeam)
			meetings[k] = append(meetings[k], i)
		}
		start = end
	}
	return t
}

func rowFeatures(m *model.MatchRecord, home, away *teamState, matches []model.MatchRecord, prior []int) Vector {
	var v Vector

	v[HomeRecentGoals], v[HomeRecentConceded] = rolling(home.home)
	v[AwayRecentGoals], v[AwayRecentConceded] = rolling(away.away)
	v[HomeForm] = v[HomeRecentGoals] - v[HomeRecentConceded]
	v[AwayForm] = v[AwayRecentGoals] - v[AwayRecentConceded]

	// The row's own form is built from earlier matches only, so it joins its series.
	homeTrend, _ := MeanLast(append(home.homeForm[:len(home.homeForm):len(home.homeForm)], v[HomeForm]), Window)
	awayTrend, _ := MeanLast(append(away.awayForm[:len(away.awayForm):len(away.awayForm)], v[AwayForm]), Window)
	v[HomeAdvantage] = homeTrend - awayTrend

	v[H2HHomeGoals], v[H2HAwayGoals], v[H2HHomeConceded], v[H2HAwayConceded] = headToHead(m.HomeTeam, matches, prior)
	return v
}

// rolling returns the mean scored and conceded over the last Window entries,
// NaN when the series is empty.
func rolling(series []score) (scored, conceded float64) {
	if len(series) == 0 {
		return math.NaN(), math.NaN()
	}
	if len(series) > Window {
		series = series[len(series)-Window:]
	}
	for _, s := range series {
		scored += s.scored
		conceded += s.conceded
	}
	n := float64(len(series))
	return scored / n, conceded / n
}

// headToHead weighs the most recent prior meetings from the point of view of
// the current home team. prior holds match indices in date order.
func headToHead(team string, matches []model.MatchRecord, prior []int) (homeGoals, awayGoals, homeConceded, awayConceded float64) {
	for k := 0; k < len(prior) && k < Window; k++ {
		m := &matches[prior[len(prior)-1-k]]
		w := H2HFallbackWeight
		if k < len(H2HWeights) {
			w = H2HWeights[k]
		}
		if m.HomeTeam == team {
			homeGoals += w * float64(m.HomeGoals)
			homeConceded += w * float64(m.AwayGoals)
		} else {
			awayGoals += w * float64(m.AwayGoals)
			awayConceded += w * float64(m.HomeGoals)
		}
	}
	return homeGoals, awayGoals, homeConceded, awayConceded
}
