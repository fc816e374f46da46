package corpus

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/okian/kickoff/internal/domain/model"
	"github.com/okian/kickoff/pkg/logger"
)

// DateLayout is the day/month/year layout of the Date column. Single-digit
// day and month are accepted.
const DateLayout = "2/1/2006"

// Required columns of a result file.
const (
	colDate      = "Date"
	colHomeTeam  = "HomeTeam"
	colAwayTeam  = "AwayTeam"
	colHomeGoals = "FTHG"
	colAwayGoals = "FTAG"
	colResult    = "FTR"
)

var requiredColumns = []string{colDate, colHomeTeam, colAwayTeam, colHomeGoals, colAwayGoals, colResult}

// Loader reads the configured result files from a directory.
type Loader struct {
	dir    string
	files  map[string]string
	logger logger.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// NewLoader creates a loader for dir. files maps a file name to its league.
func NewLoader(dir string, files map[string]string, opts ...Option) *Loader {
	l := &Loader{
		dir:    dir,
		files:  files,
		logger: logger.Get().Named("corpus"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load parses every configured file present in the directory into a Corpus.
func (l *Loader) Load(ctx context.Context) (*Corpus, error) {
	names := make([]string, 0, len(l.files))
	for name := range l.files {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		records []model.MatchRecord
		present int
	)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		league := l.files[name]
		path := filepath.Join(l.dir, name)
		f, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			l.logger.Warn(ctx, "cannot open result file", logger.String("file", name), logger.Error(err))
			continue
		}
		present++
		rows, dropped, err := ParseFile(f, league)
		_ = f.Close()
		if err != nil {
			l.logger.Warn(ctx, "skipping result file", logger.String("file", name), logger.Error(err))
			continue
		}
		l.logger.Debug(ctx, "loaded result file",
			logger.String("file", name),
			logger.String("league", league),
			logger.Int("rows", len(rows)),
			logger.Int("dropped", dropped),
		)
		records = append(records, rows...)
	}

	if present == 0 {
		return nil, fmt.Errorf("%w: no result files in %s", ErrDataUnavailable, l.dir)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no usable rows in %d file(s)", ErrDataUnavailable, present)
	}
	c := New(records)
	l.logger.Info(ctx, "corpus loaded",
		logger.Int("files", present),
		logger.Int("matches", c.Len()),
		logger.Int("teams", len(c.Teams())),
		logger.Strings("leagues", c.Leagues()),
	)
	return c, nil
}

// ParseFile reads one CSV result file and tags every row with league. Rows
// with a bad date, result code, score or blank team are dropped and counted.
func ParseFile(r io.Reader, league string) ([]model.MatchRecord, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: header: %v", ErrMalformedFile, err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, 0, fmt.Errorf("%w: missing column %s", ErrMalformedFile, col)
		}
	}

	var (
		out     []model.MatchRecord
		dropped int
	)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, dropped, fmt.Errorf("%w: %v", ErrMalformedFile, err)
		}
		rec, ok := parseRow(row, idx, league)
		if !ok {
			dropped++
			continue
		}
		out = append(out, rec)
	}
	return out, dropped, nil
}

func parseRow(row []string, idx map[string]int, league string) (model.MatchRecord, bool) {
	field := func(col string) string {
		i := idx[col]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	date, err := time.Parse(DateLayout, field(colDate))
	if err != nil {
		return model.MatchRecord{}, false
	}
	if !model.ValidResultCode(field(colResult)) {
		return model.MatchRecord{}, false
	}
	home, away := field(colHomeTeam), field(colAwayTeam)
	if home == "" || away == "" {
		return model.MatchRecord{}, false
	}
	hg, err := parseGoals(field(colHomeGoals))
	if err != nil {
		return model.MatchRecord{}, false
	}
	ag, err := parseGoals(field(colAwayGoals))
	if err != nil {
		return model.MatchRecord{}, false
	}
	return model.MatchRecord{
		Date:      date,
		League:    league,
		HomeTeam:  home,
		AwayTeam:  away,
		HomeGoals: hg,
		AwayGoals: ag,
		Outcome:   model.OutcomeFromGoals(hg, ag),
	}, true
}

// parseGoals accepts integer or float renderings ("2", "2.0").
func parseGoals(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f != float64(int(f)) {
		return 0, fmt.Errorf("bad goal count %q", s)
	}
	return int(f), nil
}
