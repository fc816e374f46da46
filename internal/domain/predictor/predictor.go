// Package predictor turns a fixture into outcome probabilities using the
// league model held by the registry.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/okian/kickoff/internal/domain/corpus"
	"github.com/okian/kickoff/internal/domain/forest"
	"github.com/okian/kickoff/internal/domain/model"
	"github.com/okian/kickoff/internal/domain/registry"
	"github.com/okian/kickoff/internal/domain/types"
	"github.com/okian/kickoff/pkg/logger"
	"github.com/okian/kickoff/pkg/metrics"
)

// MeetingDateLayout formats head-to-head dates.
const MeetingDateLayout = "02 Jan 2006"

// MaxMeetings is how many past meetings HeadToHead returns.
const MaxMeetings = 5

// DefaultSeasonStart is the first day of the current-season window.
var DefaultSeasonStart = time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC)

// Predictor answers fixture, team and head-to-head queries. It holds no
// state beyond the registry and is safe for concurrent use.
type Predictor struct {
	registry    *registry.Registry
	seasonStart time.Time
	logger      logger.Logger
}

// Option applies a configuration option to the Predictor.
type Option func(*Predictor)

// WithSeasonStart sets the first day of the form window.
func WithSeasonStart(t time.Time) Option {
	return func(p *Predictor) {
		if !t.IsZero() {
			p.seasonStart = t
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Predictor) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Predictor reading from reg.
func New(reg *registry.Registry, opts ...Option) *Predictor {
	p := &Predictor{
		registry:    reg,
		seasonStart: DefaultSeasonStart,
		logger:      logger.Get().Named("predictor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}


// Predict predicts home v away against the current registry snapshot.
func (p *Predictor) Predict(ctx context.Context, home, away string) (types.Prediction, error) {
	return p.PredictAt(ctx, p.registry.Snapshot(), home, away)
}

// PredictAt predicts home v away using only snap, so the corpus and the
// model always come from the same generation. The league is the home
// team's; teams from different leagues are not rejected here.
func (p *Predictor) PredictAt(ctx context.Context, snap *registry.Snapshot, home, away string) (types.Prediction, error) {
	start := time.Now()
	out, err := p.predict(ctx, snap, home, away)
	if err != nil {
		metrics.RecordPredictionError(errorKind(err))
		return types.Prediction{}, err
	}
	metrics.RecordPrediction(out.Winner.String(), float64(time.Since(start).Microseconds())/1000)
	return out, nil
}

func (p *Predictor) predict(ctx context.Context, snap *registry.Snapshot, home, away string) (types.Prediction, error) {
	c := snap.Corpus
	if c == nil {
		return types.Prediction{}, fmt.Errorf("%w: no corpus loaded", corpus.ErrDataUnavailable)
	}
	h, ok := c.Resolve(home)
	if !ok {
		return types.Prediction{}, fmt.Errorf("%w: %q", ErrTeamNotFound, home)
	}
	a, ok := c.Resolve(away)
	if !ok {
		return types.Prediction{}, fmt.Errorf("%w: %q", ErrTeamNotFound, away)
	}
	league, ok := c.HomeLeague(h)
	if !ok {
		return types.Prediction{}, fmt.Errorf("%w: %s has no home matches", ErrLeagueUndetermined, h)
	}

	m, err := p.registry.GetOrTrainAt(ctx, snap, league)
	if err != nil {
		return types.Prediction{}, fmt.Errorf("model for %s: %w", league, err)
	}

	x := LiveVector(m.Table, h, a, p.seasonStart)
	proba := m.Classifier.PredictProba(x.Slice())
	winner := model.Outcomes[forest.Argmax(proba)]

	label := "Draw"
	switch winner {
	case model.OutcomeHome:
		label = h + " Win"
	case model.OutcomeAway:
		label = a + " Win"
	}

	p.logger.Debug(ctx, "prediction",
		logger.String("home", h),
		logger.String("away", a),
		logger.String("league", league),
		logger.String("winner", winner.String()),
	)
	return types.Prediction{
		HomeTeam:   h,
		AwayTeam:   a,
		League:     league,
		Prediction: label,
		Winner:     winner,
		Probabilities: types.Probabilities{
			HomeWin: round(proba[model.OutcomeHome], 3),
			Draw:    round(proba[model.OutcomeDraw], 3),
			AwayWin: round(proba[model.OutcomeAway], 3),
		},
		Confidence: round(proba[winner]*100, 1),
	}, nil
}

// ListTeams returns every canonical team name in sorted order.
func (p *Predictor) ListTeams() []string {
	c := p.registry.Snapshot().Corpus
	if c == nil {
		return []string{}
	}
	teams := c.Teams()
	out := make([]string, len(teams))
	copy(out, teams)
	return out
}

// HeadToHead returns the last meetings of a and b across every league, most
// recent first, with results from a's point of view. Unknown teams yield an
// empty list.
func (p *Predictor) HeadToHead(a, b string) []types.Meeting {
	out := []types.Meeting{}
	c := p.registry.Snapshot().Corpus
	if c == nil {
		return out
	}
	ta, ok := c.Resolve(a)
	if !ok {
		return out
	}
	tb, ok := c.Resolve(b)
	if !ok {
		return out
	}
	for _, m := range c.Meetings(ta, tb, MaxMeetings) {
		out = append(out, types.Meeting{
			Date:      m.Date.Format(MeetingDateLayout),
			HomeTeam:  m.HomeTeam,
			AwayTeam:  m.AwayTeam,
			HomeGoals: m.HomeGoals,
			AwayGoals: m.AwayGoals,
			Result:    m.ResultFor(ta),
		})
	}
	return out
}

func round(x float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(x*scale) / scale
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrTeamNotFound):
		return "team_not_found"
	case errors.Is(err, ErrLeagueUndetermined):
		return "league_undetermined"
	case errors.Is(err, registry.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, corpus.ErrDataUnavailable):
		return "data_unavailable"
	default:
		return "internal"
	}
}
