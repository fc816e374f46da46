package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/kickoff/internal/domain/corpus"
	"github.com/okian/kickoff/internal/domain/corpus/corpustest"
	"github.com/okian/kickoff/internal/domain/forest"
	"github.com/okian/kickoff/internal/domain/model"
	"github.com/okian/kickoff/internal/domain/pipeline"
	"github.com/okian/kickoff/internal/domain/registry"
	"github.com/okian/kickoff/internal/domain/types"
	"github.com/okian/kickoff/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type fetchFunc func(ctx context.Context) ([]string, error)

func (f fetchFunc) Fetch(ctx context.Context) ([]string, error) { return f(ctx) }

type loadFunc func(ctx context.Context) (*corpus.Corpus, error)

func (f loadFunc) Load(ctx context.Context) (*corpus.Corpus, error) { return f(ctx) }

type memRecorder struct {
	mu   sync.Mutex
	runs []types.RunRecord
}

func (m *memRecorder) RecordRun(_ context.Context, run types.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

type panicRecorder struct{}

func (panicRecorder) RecordRun(context.Context, types.RunRecord) error { panic("recorder") }

func fixtureCorpus(seed int64) *corpus.Corpus {
	records := corpustest.Season("England", corpustest.Teams("Eng", 12), corpustest.Day(2024, 8, 10), seed)
	records = append(records, corpustest.Season("Spain", corpustest.Teams("Esp", 4), corpustest.Day(2024, 8, 10), seed)...)
	return corpus.New(records)
}

func newRegistry() *registry.Registry {
	fit := registry.DefaultFitOptions()
	fit.Forest = forest.NewConfig(forest.WithTrees(8), forest.WithMaxDepth(5))
	return registry.New(registry.WithFitOptions(fit))
}

func TestPipeline_Run(t *testing.T) {
	ctx := context.Background()

	Convey("Given a registry already serving a model", t, func() {
		reg := newRegistry()
		reg.ReplaceAll(fixtureCorpus(1), nil)
		served, err := reg.GetOrTrain(ctx, "England")
		So(err, ShouldBeNil)
		before := reg.Snapshot()
		rec := &memRecorder{}

		Convey("Then a fresh pipeline has never run", func() {
			p := pipeline.New(fetchFunc(nil), loadFunc(nil), reg)
			st := p.Status()
			So(st.State, ShouldEqual, types.StateNeverRun)
			So(st.LastRun, ShouldBeNil)
			So(st.LeaguesUpdated, ShouldBeEmpty)
		})

		Convey("When every download fails", func() {
			fetch := fetchFunc(func(context.Context) ([]string, error) {
				return nil, errors.New("all downloads failed")
			})
			load := loadFunc(func(context.Context) (*corpus.Corpus, error) {
				panic("loader must not be called")
			})
			p := pipeline.New(fetch, load, reg, pipeline.WithRecorder(rec))
			st, err := p.Run(ctx, model.TriggerManual)

			Convey("Then the run is skipped and the registry is unchanged", func() {
				So(err, ShouldBeNil)
				So(st.State, ShouldEqual, types.StateSkipped)
				So(st.LeaguesUpdated, ShouldBeEmpty)
				So(st.LastRun, ShouldNotBeNil)
				So(st.LastSuccess, ShouldBeNil)
				So(reg.Snapshot(), ShouldEqual, before)
				m, ok := reg.Snapshot().Model("England")
				So(ok, ShouldBeTrue)
				So(m, ShouldEqual, served)
				So(rec.runs, ShouldHaveLength, 1)
				So(rec.runs[0].State, ShouldEqual, types.StateSkipped)
			})
		})

		Convey("When new files arrive", func() {
			fresh := fixtureCorpus(2)
			fetch := fetchFunc(func(context.Context) ([]string, error) {
				return []string{"SP1.csv", "E0.csv"}, nil
			})
			load := loadFunc(func(context.Context) (*corpus.Corpus, error) { return fresh, nil })
			var swapped *registry.Snapshot
			p := pipeline.New(fetch, load, reg,
				pipeline.WithRecorder(rec),
				pipeline.WithSwapListener(func(_ context.Context, s *registry.Snapshot) { swapped = s }),
			)
			st, err := p.Run(ctx, model.TriggerSchedule)

			Convey("Then leagues with enough data are swapped in together with the corpus", func() {
				So(err, ShouldBeNil)
				So(st.State, ShouldEqual, types.StateSuccess)
				So(st.FilesUpdated, ShouldResemble, []string{"E0.csv", "SP1.csv"})
				So(st.LeaguesUpdated, ShouldResemble, []string{"England"})
				So(st.AverageAccuracy, ShouldNotBeNil)
				So(st.LastSuccess, ShouldNotBeNil)
				So(st.LastError, ShouldBeEmpty)

				cur := reg.Snapshot()
				So(cur.Generation, ShouldEqual, before.Generation+1)
				So(cur.Corpus, ShouldEqual, fresh)
				So(cur.Leagues(), ShouldResemble, []string{"England"})
				So(swapped, ShouldEqual, cur)
			})

			Convey("Then the run is recorded with its evaluations", func() {
				So(rec.runs, ShouldHaveLength, 1)
				run := rec.runs[0]
				So(run.ID, ShouldEqual, st.RunID)
				So(run.Trigger, ShouldEqual, "schedule")
				So(run.Evaluations, ShouldHaveLength, 1)
				So(run.Evaluations[0].League, ShouldEqual, "England")
				So(*run.AverageAccuracy, ShouldEqual, run.Evaluations[0].Accuracy)
			})
		})

		Convey("When reloading fails after new files arrived", func() {
			fetch := fetchFunc(func(context.Context) ([]string, error) { return []string{"E0.csv"}, nil })
			load := loadFunc(func(context.Context) (*corpus.Corpus, error) {
				return nil, corpus.ErrDataUnavailable
			})
			p := pipeline.New(fetch, load, reg)
			st, err := p.Run(ctx, model.TriggerManual)

			Convey("Then the run fails and the previous registry keeps serving", func() {
				So(err, ShouldBeNil)
				So(st.State, ShouldEqual, types.StateFailed)
				So(st.LastError, ShouldContainSubstring, "retrain failed")
				So(st.LeaguesUpdated, ShouldBeEmpty)
				So(reg.Snapshot(), ShouldEqual, before)
			})
		})

		Convey("When retraining panics", func() {
			fetch := fetchFunc(func(context.Context) ([]string, error) { return []string{"E0.csv"}, nil })
			load := loadFunc(func(context.Context) (*corpus.Corpus, error) { panic("boom") })
			p := pipeline.New(fetch, load, reg)
			st, err := p.Run(ctx, model.TriggerManual)

			Convey("Then the panic becomes a failed status", func() {
				So(err, ShouldBeNil)
				So(st.State, ShouldEqual, types.StateFailed)
				So(st.LastError, ShouldContainSubstring, "boom")
				So(reg.Snapshot(), ShouldEqual, before)
			})
		})

		Convey("When the fetcher panics", func() {
			fetch := fetchFunc(func(context.Context) ([]string, error) { panic("boom") })
			load := loadFunc(func(context.Context) (*corpus.Corpus, error) {
				panic("loader must not be called")
			})
			p := pipeline.New(fetch, load, reg, pipeline.WithRecorder(rec))
			st, err := p.Run(ctx, model.TriggerManual)

			Convey("Then the run fails, the lock is released and the run is recorded", func() {
				So(err, ShouldBeNil)
				So(st.State, ShouldEqual, types.StateFailed)
				So(st.LastError, ShouldContainSubstring, "boom")
				So(p.Running(), ShouldBeFalse)
				So(reg.Snapshot(), ShouldEqual, before)
				So(rec.runs, ShouldHaveLength, 1)
				So(rec.runs[0].State, ShouldEqual, types.StateFailed)

				again, err := p.Run(ctx, model.TriggerManual)
				So(errors.Is(err, pipeline.ErrAlreadyRunning), ShouldBeFalse)
				So(again.State, ShouldEqual, types.StateFailed)
			})
		})

		Convey("When a swap listener and the recorder panic", func() {
			fresh := fixtureCorpus(4)
			fetch := fetchFunc(func(context.Context) ([]string, error) { return []string{"E0.csv"}, nil })
			load := loadFunc(func(context.Context) (*corpus.Corpus, error) { return fresh, nil })
			var later bool
			p := pipeline.New(fetch, load, reg,
				pipeline.WithRecorder(panicRecorder{}),
				pipeline.WithSwapListener(func(context.Context, *registry.Snapshot) { panic("listener") }),
				pipeline.WithSwapListener(func(context.Context, *registry.Snapshot) { later = true }),
			)
			st, err := p.Run(ctx, model.TriggerManual)

			Convey("Then the swap stands and every listener still runs", func() {
				So(err, ShouldBeNil)
				So(st.State, ShouldEqual, types.StateSuccess)
				So(reg.Snapshot().Corpus, ShouldEqual, fresh)
				So(later, ShouldBeTrue)
				So(p.Running(), ShouldBeFalse)
			})
		})

		Convey("When a failure follows a success", func() {
			calls := 0
			fetch := fetchFunc(func(context.Context) ([]string, error) { return []string{"E0.csv"}, nil })
			load := loadFunc(func(context.Context) (*corpus.Corpus, error) {
				calls++
				if calls == 1 {
					return fixtureCorpus(3), nil
				}
				return nil, errors.New("disk gone")
			})
			p := pipeline.New(fetch, load, reg)
			first, _ := p.Run(ctx, model.TriggerManual)
			second, _ := p.Run(ctx, model.TriggerManual)

			Convey("Then the last success and accuracy survive", func() {
				So(first.State, ShouldEqual, types.StateSuccess)
				So(second.State, ShouldEqual, types.StateFailed)
				So(second.LastSuccess, ShouldEqual, first.LastSuccess)
				So(second.AverageAccuracy, ShouldEqual, first.AverageAccuracy)
				So(second.RunID, ShouldNotEqual, first.RunID)
			})
		})
	})
}

func TestPipeline_Exclusive(t *testing.T) {
	ctx := context.Background()

	Convey("Given a run blocked in the fetch step", t, func() {
		reg := newRegistry()
		release := make(chan struct{})
		entered := make(chan struct{})
		fetch := fetchFunc(func(context.Context) ([]string, error) {
			close(entered)
			<-release
			return nil, nil
		})
		p := pipeline.New(fetch, loadFunc(nil), reg)

		done := make(chan types.PipelineStatus)
		go func() {
			st, _ := p.Run(ctx, model.TriggerSchedule)
			done <- st
		}()
		<-entered

		Convey("When a second run is requested", func() {
			st, err := p.Run(ctx, model.TriggerManual)
			close(release)
			first := <-done

			Convey("Then it is refused while the first completes", func() {
				So(errors.Is(err, pipeline.ErrAlreadyRunning), ShouldBeTrue)
				So(st.State, ShouldEqual, types.StateRunning)
				So(first.State, ShouldEqual, types.StateSkipped)
			})
		})

		Reset(func() {
			select {
			case <-release:
			default:
				close(release)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
		})
	})
}
