package cache_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"

	"github.com/okian/kickoff/internal/adapters/cache"
	"github.com/okian/kickoff/internal/domain/model"
	"github.com/okian/kickoff/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func samplePrediction() types.Prediction {
	return types.Prediction{
		HomeTeam:      "Arsenal",
		AwayTeam:      "Chelsea",
		League:        "England",
		Prediction:    "Arsenal Win",
		Winner:        model.OutcomeHome,
		Probabilities: types.Probabilities{HomeWin: 0.52, Draw: 0.27, AwayWin: 0.21},
		Confidence:    52.3,
	}
}

func TestKey(t *testing.T) {
	Convey("Given differently cased names", t, func() {
		Convey("Then they share a key within a generation", func() {
			So(cache.Key(0xab, 3, " Arsenal", "CHELSEA"), ShouldEqual, cache.Key(0xab, 3, "arsenal", "chelsea"))
			So(cache.Key(0xab, 3, "arsenal", "chelsea"), ShouldEqual, "kickoff:prediction:00000000000000ab:3:arsenal:chelsea")
		})

		Convey("Then generations and orientation are distinct", func() {
			So(cache.Key(1, 3, "a", "b"), ShouldNotEqual, cache.Key(1, 4, "a", "b"))
			So(cache.Key(1, 3, "a", "b"), ShouldNotEqual, cache.Key(1, 3, "b", "a"))
		})

		Convey("Then the same generation over different corpora is distinct", func() {
			So(cache.Key(1, 1, "a", "b"), ShouldNotEqual, cache.Key(2, 1, "a", "b"))
		})
	})
}

func TestMemory(t *testing.T) {
	ctx := context.Background()

	Convey("Given a memory cache with a controllable clock", t, func() {
		now := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
		m := cache.NewMemory(
			cache.WithMemoryTTL(time.Minute),
			cache.WithMaxEntries(2),
			cache.WithMemoryClock(func() time.Time { return now }),
		)
		p := samplePrediction()
		So(m.Set(ctx, "k1", p), ShouldBeNil)

		Convey("Then a stored prediction is returned", func() {
			got, ok, err := m.Get(ctx, "k1")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(got, ShouldResemble, p)
		})

		Convey("Then it expires after the ttl", func() {
			now = now.Add(time.Minute)
			_, ok, _ := m.Get(ctx, "k1")
			So(ok, ShouldBeFalse)
		})

		Convey("Then purge removes everything", func() {
			So(m.Purge(ctx), ShouldBeNil)
			_, ok, _ := m.Get(ctx, "k1")
			So(ok, ShouldBeFalse)
			So(m.Len(), ShouldEqual, 0)
		})

		Convey("Then the size stays bounded", func() {
			So(m.Set(ctx, "k2", p), ShouldBeNil)
			So(m.Set(ctx, "k3", p), ShouldBeNil)
			So(m.Len(), ShouldBeLessThanOrEqualTo, 2)
			_, ok, _ := m.Get(ctx, "k3")
			So(ok, ShouldBeTrue)
		})
	})
}

func TestRedis(t *testing.T) {
	ctx := context.Background()

	Convey("Given a redis cache on a mocked client", t, func() {
		db, mock := redismock.NewClientMock()
		c := cache.NewRedis(db, time.Hour)
		p := samplePrediction()
		payload, err := json.Marshal(p)
		So(err, ShouldBeNil)

		Convey("When the key is present", func() {
			mock.ExpectGet("k").SetVal(string(payload))
			got, ok, err := c.Get(ctx, "k")

			Convey("Then the prediction is decoded", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(got, ShouldResemble, p)
				So(mock.ExpectationsWereMet(), ShouldBeNil)
			})
		})

		Convey("When the key is absent", func() {
			mock.ExpectGet("k").RedisNil()
			_, ok, err := c.Get(ctx, "k")

			Convey("Then it is a miss, not an error", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When redis fails", func() {
			mock.ExpectGet("k").SetErr(errors.New("connection reset"))
			_, ok, err := c.Get(ctx, "k")

			Convey("Then the error is returned", func() {
				So(err, ShouldNotBeNil)
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When storing", func() {
			mock.ExpectSet("k", payload, time.Hour).SetVal("OK")
			err := c.Set(ctx, "k", p)

			Convey("Then the encoded prediction is written with the ttl", func() {
				So(err, ShouldBeNil)
				So(mock.ExpectationsWereMet(), ShouldBeNil)
			})
		})

		Convey("When purging keys spread over two scan pages", func() {
			first := []string{cache.Key(7, 1, "a", "b"), cache.Key(7, 2, "c", "d")}
			second := []string{cache.Key(9, 1, "e", "f")}
			mock.ExpectScan(0, cache.KeyPrefix+"*", 100).SetVal(first, 42)
			mock.ExpectUnlink(first...).SetVal(2)
			mock.ExpectScan(42, cache.KeyPrefix+"*", 100).SetVal(second, 0)
			mock.ExpectUnlink(second...).SetVal(1)
			err := c.Purge(ctx)

			Convey("Then every page is unlinked without KEYS", func() {
				So(err, ShouldBeNil)
				So(mock.ExpectationsWereMet(), ShouldBeNil)
			})
		})

		Convey("When purging an empty cache", func() {
			mock.ExpectScan(0, cache.KeyPrefix+"*", 100).SetVal([]string{}, 0)
			err := c.Purge(ctx)

			Convey("Then nothing is unlinked", func() {
				So(err, ShouldBeNil)
				So(mock.ExpectationsWereMet(), ShouldBeNil)
			})
		})

		Convey("When redis reports a nil reply during purge", func() {
			mock.ExpectScan(0, cache.KeyPrefix+"*", 100).SetErr(redis.Nil)

			Convey("Then the error surfaces", func() {
				So(c.Purge(ctx), ShouldNotBeNil)
			})
		})
	})
}
