// Package corpus loads raw per-league result files into an immutable,
// chronologically ordered set of match records.
package corpus

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/kickoff/internal/domain/model"
)

// Corpus is an immutable, date-ordered set of matches across leagues.
// It is safe for concurrent readers; replacement happens by swapping the pointer.
type Corpus struct {
	records    []model.MatchRecord
	byLeague   map[string][]model.MatchRecord
	leagues    []string
	teams      []string
	canonical  map[string]string
	homeLeague map[string]string
	awayLeague map[string]string

	fingerprint uint64
}

// New builds a Corpus from records. Input order breaks date ties.
func New(records []model.MatchRecord) *Corpus {
	sorted := make([]model.MatchRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	c := &Corpus{
		records:    sorted,
		byLeague:   make(map[string][]model.MatchRecord),
		canonical:  make(map[string]string),
		homeLeague: make(map[string]string),
		awayLeague: make(map[string]string),
	}
	seen := make(map[string]struct{})
	h := xxhash.New()
	for i := range sorted {
		r := &sorted[i]
		_, _ = h.WriteString(r.Date.Format(time.DateOnly) + "|" + r.League + "|" + r.HomeTeam + "|" + r.AwayTeam + "|" +
			strconv.Itoa(r.HomeGoals) + "-" + strconv.Itoa(r.AwayGoals) + "\n")
		c.byLeague[r.League] = append(c.byLeague[r.League], *r)
		for _, team := range [2]string{r.HomeTeam, r.AwayTeam} {
			if _, ok := seen[team]; !ok {
				seen[team] = struct{}{}
				c.teams = append(c.teams, team)
			}
		}
		if _, ok := c.homeLeague[r.HomeTeam]; !ok {
			c.homeLeague[r.HomeTeam] = r.League
		}
		if _, ok := c.awayLeague[r.AwayTeam]; !ok {
			c.awayLeague[r.AwayTeam] = r.League
		}
	}
	sort.Strings(c.teams)
	for _, team := range c.teams {
		key := strings.ToLower(team)
		if _, ok := c.canonical[key]; !ok {
			c.canonical[key] = team
		}
	}
	for league := range c.byLeague {
		c.leagues = append(c.leagues, league)
	}
	sort.Strings(c.leagues)
	c.fingerprint = h.Sum64()
	return c
}

// Fingerprint identifies the match content. Processes that loaded the same
// files agree on it.
func (c *Corpus) Fingerprint() uint64 { return c.fingerprint }

// Len returns the number of matches.
func (c *Corpus) Len() int { return len(c.records) }

// Leagues returns the sorted league labels present.
func (c *Corpus) Leagues() []string { return c.leagues }

// League returns one league's matches in date order.
func (c *Corpus) League(league string) []model.MatchRecord { return c.byLeague[league] }

// Teams returns the sorted canonical team names.
func (c *Corpus) Teams() []string { return c.teams }

// Resolve maps name to its canonical spelling using a case-insensitive exact match.
func (c *Corpus) Resolve(name string) (string, bool) {
	team, ok := c.canonical[strings.ToLower(strings.TrimSpace(name))]
	return team, ok
}

// HomeLeague returns the league of the team's earliest home appearance.
func (c *Corpus) HomeLeague(team string) (string, bool) {
	league, ok := c.homeLeague[team]
	return league, ok
}

// AwayLeague returns the league of the team's earliest away appearance.
func (c *Corpus) AwayLeague(team string) (string, bool) {
	league, ok := c.awayLeague[team]
	return league, ok
}

// Meetings returns up to n matches between a and b in either orientation,
// most recent first.
func (c *Corpus) Meetings(a, b string, n int) []model.MatchRecord {
	out := make([]model.MatchRecord, 0, n)
	for i := len(c.records) - 1; i >= 0 && len(out) < n; i-- {
		r := &c.records[i]
		if (r.HomeTeam == a && r.AwayTeam == b) || (r.HomeTeam == b && r.AwayTeam == a) {
			out = append(out, *r)
		}
	}
	return out
}

// Played reports whether the corpus holds a result for home v away dated on
// or after day, returning the earliest such match.
func (c *Corpus) Played(home, away string, day time.Time) (model.MatchRecord, bool) {
	i := sort.Search(len(c.records), func(i int) bool { return !c.records[i].Date.Before(day) })
	for ; i < len(c.records); i++ {
		r := c.records[i]
		if r.HomeTeam == home && r.AwayTeam == away {
			return r, true
		}
	}
	return model.MatchRecord{}, false
}
