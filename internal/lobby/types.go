package lobby

import (
	"strings"
	"time"

	"github.com/jason-s-yu/scrimlobby/internal/apperr"
	"github.com/jason-s-yu/scrimlobby/internal/models"
)

// CreateInput carries the fields of a new lobby.
type CreateInput struct {
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	Ranked         bool             `json:"ranked"`
	MatchType      models.MatchType `json:"matchType"`
	Date           time.Time        `json:"date"`
	TeamID         *int64           `json:"teamId,omitempty"`
	OpponentTeamID *int64           `json:"opponentTeamId,omitempty"`
}

// Validate checks the request shape. Domain rules are checked by Create.
func (in *CreateInput) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return apperr.BadRequest("title is required")
	}
	if !in.MatchType.Valid() {
		return apperr.BadRequest("matchType must be QUEUE or TEAM")
	}
	if in.Date.IsZero() {
		return apperr.BadRequest("date is required")
	}
	return nil
}

// MatchStarted is the tracking service's confirmation that the game is live.
type MatchStarted struct {
	LobbyID     int64
	RiotMatchID string
	GameMode    string
}

// MatchCompleted is the tracking service's final report. WinningTeam and
// participant Team values are lobby sides, 1 or 2.
type MatchCompleted struct {
	LobbyID      int64
	RiotMatchID  string
	GameMode     string
	Duration     *int
	WinningTeam  int
	Participants []*models.MatchParticipant
}

// MatchResult is what HandleMatchCompleted committed.
type MatchResult struct {
	Match         *models.Match         `json:"match"`
	RatingChanges []models.RatingChange `json:"ratingChanges"`
}
