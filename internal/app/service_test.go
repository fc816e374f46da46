package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	service "github.com/okian/kickoff/internal/app"
	"github.com/okian/kickoff/internal/adapters/cache"
	"github.com/okian/kickoff/internal/adapters/repository"
	"github.com/okian/kickoff/internal/config"
	"github.com/okian/kickoff/internal/domain/corpus"
	"github.com/okian/kickoff/internal/domain/corpus/corpustest"
	"github.com/okian/kickoff/internal/domain/model"
	"github.com/okian/kickoff/internal/domain/predictor"
	"github.com/okian/kickoff/internal/domain/types"
	"github.com/okian/kickoff/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type fetchFunc func(ctx context.Context) ([]string, error)

func (f fetchFunc) Fetch(ctx context.Context) ([]string, error) { return f(ctx) }

func englandSeason(seed int64) []model.MatchRecord {
	return corpustest.Season("England", corpustest.Teams("Eng", 12), corpustest.Day(2025, 8, 9), seed)
}

func spainSeason(seed int64) []model.MatchRecord {
	return corpustest.Season("Spain", corpustest.Teams("Esp", 4), corpustest.Day(2025, 8, 10), seed)
}

func testConfig(dir string) *config.Config {
	cfg := config.New()
	cfg.DataDir = dir
	cfg.ForestTrees = 8
	cfg.ForestMaxDepth = 5
	cfg.RetrainOnStartup = false
	return cfg
}

// writeData stores an England and a Spain season in dir.
func writeData(dir string, seed int64) {
	So(corpustest.WriteCSV(dir, "E0.csv", englandSeason(seed)), ShouldBeNil)
	So(corpustest.WriteCSV(dir, "SP1.csv", spainSeason(seed)), ShouldBeNil)
}

func TestService_Predict(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service opened on two leagues", t, func() {
		dir := t.TempDir()
		writeData(dir, 3)
		mem := cache.NewMemory()
		svc := service.New(service.WithConfig(testConfig(dir)), service.WithCache(mem),
			service.WithFetcher(fetchFunc(func(context.Context) ([]string, error) { return nil, nil })))
		So(svc.Open(ctx), ShouldBeNil)
		Reset(svc.Stop)

		So(svc.Ready(), ShouldBeTrue)

		Convey("A fixture is predicted once and then served from the cache", func() {
			first, err := svc.Predict(ctx, "Eng 01", "Eng 02")
			So(err, ShouldBeNil)
			So(first.League, ShouldEqual, "England")
			So(mem.Len(), ShouldEqual, 1)

			second, err := svc.Predict(ctx, "eng 01", "ENG 02")
			So(err, ShouldBeNil)
			So(second, ShouldResemble, first)
			So(mem.Len(), ShouldEqual, 1)
		})

		Convey("Teams from different leagues are rejected", func() {
			_, err := svc.Predict(ctx, "Eng 01", "Esp 01")
			So(errors.Is(err, service.ErrLeagueMismatch), ShouldBeTrue)
			So(svc.CheckSameLeague("Esp 02", "Eng 03"), ShouldNotBeNil)
			So(svc.CheckSameLeague("Eng 01", "Eng 05"), ShouldBeNil)
		})

		Convey("Unknown teams reach the predictor", func() {
			So(svc.CheckSameLeague("Nowhere FC", "Eng 01"), ShouldBeNil)
			_, err := svc.Predict(ctx, "Nowhere FC", "Eng 01")
			So(errors.Is(err, predictor.ErrTeamNotFound), ShouldBeTrue)
		})

		Convey("Listing and head to head read the loaded corpus", func() {
			teams, err := svc.ListTeams()
			So(err, ShouldBeNil)
			So(teams, ShouldHaveLength, 16)

			meetings, err := svc.HeadToHead("Eng 01", "Eng 02")
			So(err, ShouldBeNil)
			So(meetings, ShouldHaveLength, 2)
		})

		Convey("The database ping reports the journal is disabled", func() {
			So(errors.Is(svc.PingDatabase(ctx), service.ErrJournalDisabled), ShouldBeTrue)
		})

		Convey("The journal is unavailable without a database", func() {
			_, err := svc.History(ctx, 10)
			So(errors.Is(err, service.ErrJournalDisabled), ShouldBeTrue)
			_, err = svc.Runs(ctx, 10)
			So(errors.Is(err, service.ErrJournalDisabled), ShouldBeTrue)
		})
	})

	Convey("Given a service opened on an empty data directory", t, func() {
		svc := service.New(service.WithConfig(testConfig(t.TempDir())))
		So(svc.Open(ctx), ShouldBeNil)
		Reset(svc.Stop)

		So(svc.Ready(), ShouldBeFalse)
		_, err := svc.Predict(ctx, "Eng 01", "Eng 02")
		So(errors.Is(err, corpus.ErrDataUnavailable), ShouldBeTrue)

		teams, err := svc.ListTeams()
		So(err, ShouldBeNil)
		So(teams, ShouldBeEmpty)
	})

	Convey("A service that was never opened refuses work", t, func() {
		svc := service.New()
		_, err := svc.Predict(ctx, "a", "b")
		So(errors.Is(err, service.ErrNotOpen), ShouldBeTrue)
		So(errors.Is(svc.RequestRetrain(ctx), service.ErrNotOpen), ShouldBeTrue)
	})
}

func TestService_RunPipeline(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service whose fetcher writes a fresh season", t, func() {
		dir := t.TempDir()
		cfg := testConfig(dir)
		cfg.DatabasePath = filepath.Join(t.TempDir(), "kickoff.db")

		fetches := 0
		fetcher := fetchFunc(func(context.Context) ([]string, error) {
			fetches++
			writeData(dir, 11)
			return []string{"E0.csv", "SP1.csv"}, nil
		})
		mem := cache.NewMemory()
		svc := service.New(service.WithConfig(cfg), service.WithCache(mem), service.WithFetcher(fetcher))
		So(svc.Open(ctx), ShouldBeNil)
		Reset(svc.Stop)

		st, err := svc.PipelineStatus()
		So(err, ShouldBeNil)
		So(st.State, ShouldEqual, types.StateNeverRun)

		Convey("A synchronous run trains, records and purges cached predictions", func() {
			st, err := svc.RunPipeline(ctx)
			So(err, ShouldBeNil)
			So(st.State, ShouldEqual, types.StateSuccess)
			So(st.LeaguesUpdated, ShouldResemble, []string{"England"})
			So(fetches, ShouldEqual, 1)

			_, err = svc.Predict(ctx, "Eng 03", "Eng 04")
			So(err, ShouldBeNil)
			So(mem.Len(), ShouldEqual, 1)

			runs, err := svc.Runs(ctx, 10)
			So(err, ShouldBeNil)
			So(runs, ShouldHaveLength, 1)
			So(runs[0].Trigger, ShouldEqual, string(model.TriggerManual))

			_, err = svc.RunPipeline(ctx)
			So(err, ShouldBeNil)
			So(mem.Len(), ShouldEqual, 0)
		})

		Convey("Recorded predictions show up in the history", func() {
			_, err := svc.RunPipeline(ctx)
			So(err, ShouldBeNil)

			entry, err := svc.RecordPrediction(ctx, "Eng 05", "Eng 06")
			So(err, ShouldBeNil)
			So(entry.ID, ShouldNotBeBlank)
			So(entry.Prediction.League, ShouldEqual, "England")

			history, err := svc.History(ctx, 10)
			So(err, ShouldBeNil)
			So(history, ShouldHaveLength, 1)

			stats, err := svc.HistoryStats(ctx)
			So(err, ShouldBeNil)
			So(stats.Total, ShouldEqual, 1)
		})

		Convey("A rejected prediction is not journaled", func() {
			_, err := svc.RunPipeline(ctx)
			So(err, ShouldBeNil)

			_, err = svc.RecordPrediction(ctx, "Eng 01", "Esp 01")
			So(errors.Is(err, service.ErrLeagueMismatch), ShouldBeTrue)
			stats, err := svc.HistoryStats(ctx)
			So(err, ShouldBeNil)
			So(stats.Total, ShouldEqual, 0)
		})
	})
}

func TestService_StartStop(t *testing.T) {
	ctx := context.Background()

	Convey("Given a started service", t, func() {
		dir := t.TempDir()
		writeData(dir, 5)
		svc := service.New(service.WithConfig(testConfig(dir)),
			service.WithFetcher(fetchFunc(func(context.Context) ([]string, error) { return nil, nil })))
		So(svc.Start(ctx), ShouldBeNil)
		Reset(svc.Stop)

		Convey("Starting twice is a no-op", func() {
			So(svc.Start(ctx), ShouldBeNil)
		})

		Convey("A manual retrain can be requested", func() {
			So(svc.RequestRetrain(ctx), ShouldBeNil)
		})
	})

	Convey("Given a started service whose retrain outlives the shutdown timeout", t, func() {
		dir := t.TempDir()
		writeData(dir, 5)
		cfg := testConfig(dir)
		cfg.DatabasePath = filepath.Join(t.TempDir(), "kickoff.db")

		entered := make(chan struct{})
		release := make(chan struct{})
		fetcher := fetchFunc(func(context.Context) ([]string, error) {
			close(entered)
			<-release
			return nil, nil
		})
		svc := service.New(service.WithConfig(cfg), service.WithFetcher(fetcher),
			service.WithShutdownTimeout(50*time.Millisecond))
		So(svc.Start(ctx), ShouldBeNil)
		So(svc.PingDatabase(ctx), ShouldBeNil)
		So(svc.RequestRetrain(ctx), ShouldBeNil)
		<-entered

		Convey("Then Stop returns and the run still lands in the ledger", func() {
			svc.Stop()
			close(release)

			store, err := repository.Open(ctx, cfg.DatabasePath)
			So(err, ShouldBeNil)
			defer func() { _ = store.Close() }()

			var runs []types.RunRecord
			for deadline := time.Now().Add(5 * time.Second); time.Now().Before(deadline); time.Sleep(20 * time.Millisecond) {
				if runs, err = store.Runs(ctx, 1); err == nil && len(runs) == 1 {
					break
				}
			}
			So(runs, ShouldHaveLength, 1)
			So(runs[0].Trigger, ShouldEqual, string(model.TriggerManual))
		})
	})

	Convey("An invalid schedule fails Start", t, func() {
		cfg := testConfig(t.TempDir())
		cfg.RetrainSchedule = "every tuesday"
		svc := service.New(service.WithConfig(cfg))
		So(svc.Start(ctx), ShouldNotBeNil)
		svc.Stop()
	})
}
