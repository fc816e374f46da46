package predictor_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/okian/kickoff/internal/domain/corpus"
	"github.com/okian/kickoff/internal/domain/corpus/corpustest"
	"github.com/okian/kickoff/internal/domain/features"
	"github.com/okian/kickoff/internal/domain/forest"
	"github.com/okian/kickoff/internal/domain/model"
	"github.com/okian/kickoff/internal/domain/predictor"
	"github.com/okian/kickoff/internal/domain/registry"
	"github.com/okian/kickoff/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

var englishTeams = []string{
	"Arsenal", "Brentford", "Burnley", "Chelsea", "Everton",
	"Fulham", "Leeds", "Spurs", "Villa", "Wolves",
}

func fixtureCorpus() *corpus.Corpus {
	records := corpustest.Season("England", englishTeams, corpustest.Day(2024, 8, 10), 11)
	records = append(records, corpustest.Season("England", englishTeams, corpustest.Day(2025, 8, 9), 12)...)
	records = append(records, corpustest.Season("Spain", []string{"Real Madrid", "Barcelona", "Sevilla", "Betis"}, corpustest.Day(2025, 8, 10), 13)...)
	records = append(records, corpustest.Match("Spain", corpustest.Day(2025, 12, 1), "Sevilla", "Ghost FC", 1, 0))
	return corpus.New(records)
}

func newPredictor(c *corpus.Corpus) *predictor.Predictor {
	fit := registry.DefaultFitOptions()
	fit.Forest = forest.NewConfig(forest.WithTrees(12), forest.WithMaxDepth(6))
	reg := registry.New(registry.WithFitOptions(fit))
	reg.ReplaceAll(c, nil)
	return predictor.New(reg)
}

func TestPredict(t *testing.T) {
	ctx := context.Background()

	Convey("Given a predictor over two English seasons", t, func() {
		p := newPredictor(fixtureCorpus())

		Convey("When names are given in lowercase", func() {
			got, err := p.Predict(ctx, "arsenal", "chelsea")

			Convey("Then they resolve to canonical names", func() {
				So(err, ShouldBeNil)
				So(got.HomeTeam, ShouldEqual, "Arsenal")
				So(got.AwayTeam, ShouldEqual, "Chelsea")
				So(got.League, ShouldEqual, "England")
			})

			Convey("Then the probabilities form a distribution", func() {
				pr := got.Probabilities
				So(pr.Sum(), ShouldAlmostEqual, 1, 0.002)
				for _, o := range model.Outcomes {
					So(pr.Of(o), ShouldBeBetweenOrEqual, 0, 1)
				}
			})

			Convey("Then the label and confidence follow the winner", func() {
				switch got.Winner {
				case model.OutcomeHome:
					So(got.Prediction, ShouldEqual, "Arsenal Win")
				case model.OutcomeAway:
					So(got.Prediction, ShouldEqual, "Chelsea Win")
				default:
					So(got.Prediction, ShouldEqual, "Draw")
				}
				So(got.Confidence, ShouldAlmostEqual, got.Probabilities.Of(got.Winner)*100, 0.11)
				for _, o := range model.Outcomes {
					So(got.Probabilities.Of(got.Winner), ShouldBeGreaterThanOrEqualTo, got.Probabilities.Of(o))
				}
			})
		})

		Convey("When the same fixture is predicted by an independent predictor", func() {
			a, errA := p.Predict(ctx, "Arsenal", "Chelsea")
			b, errB := newPredictor(fixtureCorpus()).Predict(ctx, "Arsenal", "Chelsea")

			Convey("Then the results are identical", func() {
				So(errA, ShouldBeNil)
				So(errB, ShouldBeNil)
				So(b, ShouldResemble, a)
			})
		})

		Convey("When the teams come from different leagues", func() {
			got, err := p.Predict(ctx, "Arsenal", "Real Madrid")

			Convey("Then the home team's league model is used", func() {
				So(err, ShouldBeNil)
				So(got.League, ShouldEqual, "England")
				So(got.AwayTeam, ShouldEqual, "Real Madrid")
			})
		})

		Convey("When the home team's league has too little data", func() {
			_, err := p.Predict(ctx, "Real Madrid", "Arsenal")

			Convey("Then training reports insufficient data", func() {
				So(errors.Is(err, registry.ErrInsufficientData), ShouldBeTrue)
			})
		})

		Convey("When a team is unknown", func() {
			_, err := p.Predict(ctx, "Nowhere FC", "Chelsea")

			Convey("Then the error names it", func() {
				So(errors.Is(err, predictor.ErrTeamNotFound), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "Nowhere FC")
			})
		})

		Convey("When the home team never played at home", func() {
			_, err := p.Predict(ctx, "ghost fc", "Sevilla")

			Convey("Then the league is undetermined", func() {
				So(errors.Is(err, predictor.ErrLeagueUndetermined), ShouldBeTrue)
			})
		})
	})

	Convey("Given a predictor with no corpus", t, func() {
		p := predictor.New(registry.New())

		Convey("Then predictions report unavailable data", func() {
			_, err := p.Predict(ctx, "Arsenal", "Chelsea")
			So(errors.Is(err, corpus.ErrDataUnavailable), ShouldBeTrue)
		})

		Convey("Then lists are empty", func() {
			So(p.ListTeams(), ShouldBeEmpty)
			So(p.HeadToHead("Arsenal", "Chelsea"), ShouldBeEmpty)
		})
	})
}

func TestListTeamsAndHeadToHead(t *testing.T) {
	Convey("Given a predictor over two English seasons", t, func() {
		p := newPredictor(fixtureCorpus())

		Convey("Then teams are sorted canonical names", func() {
			teams := p.ListTeams()
			So(sort.StringsAreSorted(teams), ShouldBeTrue)
			So(teams, ShouldContain, "Arsenal")
			So(teams, ShouldContain, "Ghost FC")
		})

		Convey("Then head-to-head lists every meeting most recent first", func() {
			meetings := p.HeadToHead("ARSENAL", "chelsea")
			So(meetings, ShouldHaveLength, 4)
			for _, m := range meetings {
				So([]string{m.HomeTeam, m.AwayTeam}, ShouldContain, "Arsenal")
				So([]string{m.HomeTeam, m.AwayTeam}, ShouldContain, "Chelsea")
				arsenalGoals, chelseaGoals := m.HomeGoals, m.AwayGoals
				if m.HomeTeam == "Chelsea" {
					arsenalGoals, chelseaGoals = chelseaGoals, arsenalGoals
				}
				switch {
				case arsenalGoals > chelseaGoals:
					So(m.Result, ShouldEqual, "W")
				case arsenalGoals < chelseaGoals:
					So(m.Result, ShouldEqual, "L")
				default:
					So(m.Result, ShouldEqual, "D")
				}
			}
			So(strings.HasSuffix(meetings[0].Date, "2025"), ShouldBeTrue)
			So(strings.HasSuffix(meetings[3].Date, "2024"), ShouldBeTrue)
		})

		Convey("Then an unknown team yields an empty list", func() {
			meetings := p.HeadToHead("Arsenal", "Nowhere FC")
			So(meetings, ShouldNotBeNil)
			So(meetings, ShouldBeEmpty)
		})
	})
}

func TestLiveVector(t *testing.T) {
	Convey("Given a small hand-checked table", t, func() {
		table := features.Build("England", []model.MatchRecord{
			corpustest.Match("England", corpustest.Day(2025, 8, 1), "A", "B", 2, 1),
			corpustest.Match("England", corpustest.Day(2025, 8, 8), "C", "A", 0, 0),
			corpustest.Match("England", corpustest.Day(2025, 8, 15), "B", "A", 3, 1),
			corpustest.Match("England", corpustest.Day(2025, 8, 22), "A", "B", 1, 1),
		})

		Convey("When the window covers the whole table", func() {
			v := predictor.LiveVector(table, "A", "B", corpustest.Day(2025, 8, 1))

			Convey("Then form uses role-split window rows", func() {
				So(v[features.HomeRecentGoals], ShouldEqual, 1.5)
				So(v[features.HomeRecentConceded], ShouldEqual, 1)
				So(v[features.AwayRecentGoals], ShouldEqual, 1)
				So(v[features.AwayRecentConceded], ShouldEqual, 1.5)
				So(v[features.HomeForm], ShouldEqual, 0.5)
				So(v[features.AwayForm], ShouldEqual, -0.5)
				So(v[features.HomeAdvantage], ShouldEqual, 2)
			})

			Convey("Then head-to-head is copied from the latest row with the home team", func() {
				So(v[features.H2HHomeGoals], ShouldAlmostEqual, 0.6)
				So(v[features.H2HAwayGoals], ShouldAlmostEqual, 0.4)
				So(v[features.H2HHomeConceded], ShouldAlmostEqual, 0.3)
				So(v[features.H2HAwayConceded], ShouldAlmostEqual, 1.2)
				So(v.Complete(), ShouldBeTrue)
			})
		})

		Convey("When the window starts after every match", func() {
			v := predictor.LiveVector(table, "A", "B", corpustest.Day(2026, 1, 1))

			Convey("Then form values fall back to zero but head-to-head remains", func() {
				So(v[features.HomeRecentGoals], ShouldEqual, 0)
				So(v[features.AwayRecentConceded], ShouldEqual, 0)
				So(v[features.HomeAdvantage], ShouldEqual, 0)
				So(v[features.H2HAwayConceded], ShouldAlmostEqual, 1.2)
			})
		})
	})
}
