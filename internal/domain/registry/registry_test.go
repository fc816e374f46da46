package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/okian/kickoff/internal/domain/corpus"
	"github.com/okian/kickoff/internal/domain/corpus/corpustest"
	"github.com/okian/kickoff/internal/domain/features"
	"github.com/okian/kickoff/internal/domain/forest"
	"github.com/okian/kickoff/internal/domain/model"
	"github.com/okian/kickoff/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func smallFit() FitOptions {
	o := DefaultFitOptions()
	o.Forest = forest.NewConfig(forest.WithTrees(8), forest.WithMaxDepth(6))
	return o
}

func fixtureCorpus() *corpus.Corpus {
	records := corpustest.Season("England", corpustest.Teams("Eng", 12), corpustest.Day(2024, 8, 10), 7)
	records = append(records,
		corpustest.Match("Spain", corpustest.Day(2024, 8, 11), "Real Madrid", "Barcelona", 2, 1),
		corpustest.Match("Spain", corpustest.Day(2024, 8, 18), "Barcelona", "Sevilla", 1, 1),
		corpustest.Match("Spain", corpustest.Day(2024, 8, 25), "Sevilla", "Real Madrid", 0, 2),
	)
	return corpus.New(records)
}

func TestFit(t *testing.T) {
	Convey("Given a league with only three matches", t, func() {
		c := fixtureCorpus()
		table := features.Build("Spain", c.League("Spain"))

		Convey("When fitting", func() {
			m, err := Fit(table, smallFit())

			Convey("Then it reports insufficient data", func() {
				So(m, ShouldBeNil)
				So(errors.Is(err, ErrInsufficientData), ShouldBeTrue)
			})
		})
	})

	Convey("Given a full season", t, func() {
		c := fixtureCorpus()
		table := features.Build("England", c.League("England"))
		usable := len(table.Trainable())

		Convey("When fitting", func() {
			m, err := Fit(table, smallFit())

			Convey("Then the hold-out is the trailing fifth", func() {
				So(err, ShouldBeNil)
				So(m.TrainRows+m.EvalRows, ShouldEqual, usable)
				So(m.EvalRows, ShouldEqual, (usable+4)/5)
				So(m.Accuracy, ShouldBeBetweenOrEqual, 0, 1)
				So(m.Classifier.Classes(), ShouldEqual, model.NumOutcomes)
				So(m.Classifier.Features(), ShouldEqual, features.Count)
				So(m.Table, ShouldEqual, table)
			})
		})
	})
}

func TestSplit(t *testing.T) {
	Convey("Given date-ordered rows", t, func() {
		c := fixtureCorpus()
		rows := features.Build("England", c.League("England")).Trainable()

		Convey("Then every evaluation row is dated no earlier than any training row", func() {
			train, eval := Split(rows, 0.2)
			So(len(train)+len(eval), ShouldEqual, len(rows))
			So(len(eval), ShouldBeGreaterThan, 0)
			last := train[len(train)-1].Date
			for _, r := range eval {
				So(r.Date.Before(last), ShouldBeFalse)
			}
		})

		Convey("Then a fraction rounds the hold-out up", func() {
			_, eval := Split(rows[:11], 0.2)
			So(eval, ShouldHaveLength, 3)
		})
	})
}

func TestRegistry_GetOrTrain(t *testing.T) {
	ctx := context.Background()

	Convey("Given an empty registry", t, func() {
		r := New(WithFitOptions(smallFit()))

		Convey("Then it starts at generation zero without a corpus", func() {
			snap := r.Snapshot()
			So(snap.Generation, ShouldEqual, 0)
			So(snap.Corpus, ShouldBeNil)
			So(snap.Leagues(), ShouldBeEmpty)
		})

		Convey("Then training without a corpus fails", func() {
			_, err := r.GetOrTrain(ctx, "England")
			So(errors.Is(err, corpus.ErrDataUnavailable), ShouldBeTrue)
		})
	})

	Convey("Given a registry with a corpus and no models", t, func() {
		r := New(WithFitOptions(smallFit()))
		r.ReplaceAll(fixtureCorpus(), nil)

		Convey("When many callers miss the same league at once", func() {
			const callers = 8
			got := make([]*LeagueModel, callers)
			errs := make([]error, callers)
			var wg sync.WaitGroup
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					got[i], errs[i] = r.GetOrTrain(ctx, "England")
				}(i)
			}
			wg.Wait()

			Convey("Then they all share one trained model", func() {
				for i := 0; i < callers; i++ {
					So(errs[i], ShouldBeNil)
					So(got[i], ShouldEqual, got[0])
				}
				m, ok := r.Snapshot().Model("England")
				So(ok, ShouldBeTrue)
				So(m, ShouldEqual, got[0])
				So(r.Snapshot().Generation, ShouldEqual, 1)
			})
		})

		Convey("When a league cannot be trained", func() {
			_, err1 := r.GetOrTrain(ctx, "Spain")
			_, err2 := r.GetOrTrain(ctx, "Spain")

			Convey("Then the failure is remembered for the generation without a model", func() {
				So(errors.Is(err1, ErrInsufficientData), ShouldBeTrue)
				So(err2, ShouldEqual, err1)
				So(r.Snapshot().Untrainable("Spain"), ShouldEqual, err1)
				So(r.Snapshot().Generation, ShouldEqual, 1)
				_, ok := r.Snapshot().Model("Spain")
				So(ok, ShouldBeFalse)
			})

			Convey("Then a new generation forgets it", func() {
				r.ReplaceAll(fixtureCorpus(), nil)
				So(r.Snapshot().Untrainable("Spain"), ShouldBeNil)
				_, err3 := r.GetOrTrain(ctx, "Spain")
				So(errors.Is(err3, ErrInsufficientData), ShouldBeTrue)
				So(err3, ShouldNotEqual, err1)
			})
		})
	})
}

func TestRegistry_ReplaceAll(t *testing.T) {
	ctx := context.Background()

	Convey("Given a reader holding an old snapshot", t, func() {
		r := New(WithFitOptions(smallFit()))
		old := r.ReplaceAll(fixtureCorpus(), nil)

		Convey("When the registry is replaced before the reader trains", func() {
			replacement := corpus.New(corpustest.Season("Italy", corpustest.Teams("Ita", 4), corpustest.Day(2024, 8, 10), 3))
			next := r.ReplaceAll(replacement, map[string]*LeagueModel{})
			m, err := r.GetOrTrainAt(ctx, old, "England")

			Convey("Then the reader still gets a model from its own corpus", func() {
				So(err, ShouldBeNil)
				So(m.League, ShouldEqual, "England")
			})

			Convey("Then the stale model is not published into the new generation", func() {
				So(next.Generation, ShouldEqual, old.Generation+1)
				cur := r.Snapshot()
				So(cur, ShouldEqual, next)
				_, ok := cur.Model("England")
				So(ok, ShouldBeFalse)
				So(cur.Corpus, ShouldEqual, replacement)
			})
		})

		Convey("When a retrain publishes a ready model", func() {
			table := features.Build("England", old.Corpus.League("England"))
			m, err := Fit(table, smallFit())
			So(err, ShouldBeNil)
			next := r.ReplaceAll(old.Corpus, map[string]*LeagueModel{"England": m})

			Convey("Then lookups hit without training", func() {
				got, err := r.GetOrTrain(ctx, "England")
				So(err, ShouldBeNil)
				So(got, ShouldEqual, m)
				So(next.Leagues(), ShouldResemble, []string{"England"})
			})
		})
	})
}
