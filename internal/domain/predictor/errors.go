package predictor

import "errors"

// Sentinel kinds for prediction errors.
var (
	// ErrTeamNotFound means a team name did not resolve against the corpus.
	ErrTeamNotFound = errors.New("team not found")
	// ErrLeagueUndetermined means the home team never played a home match.
	ErrLeagueUndetermined = errors.New("league undetermined")
)
