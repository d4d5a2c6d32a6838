package tracking

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jason-s-yu/scrimlobby/internal/apperr"
)

// Statuses the tracking service reports.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
)

// maxWebhookBody caps how much of a callback body is read.
const maxWebhookBody = 1 << 20

// MatchStartedPayload is the body of the match-started callback.
type MatchStartedPayload struct {
	LobbyID  int64  `json:"lobby_id"`
	Status   string `json:"status"`
	MatchID  string `json:"match_id"`
	GameMode string `json:"game_mode,omitempty"`
}

// Validate checks required fields.
func (p *MatchStartedPayload) Validate() error {
	if p.LobbyID <= 0 {
		return apperr.BadRequest("lobby_id is required")
	}
	if p.MatchID == "" {
		return apperr.BadRequest("match_id is required")
	}
	if p.Status != "" && p.Status != StatusStarted {
		return apperr.BadRequest("unexpected status %q for match-started", p.Status)
	}
	return nil
}

// MatchCompletedPayload is the body of the match-completed callback.
type MatchCompletedPayload struct {
	LobbyID      int64              `json:"lobby_id"`
	Status       string             `json:"status"`
	MatchID      string             `json:"match_id"`
	GameDuration *int               `json:"game_duration,omitempty"`
	GameMode     string             `json:"game_mode,omitempty"`
	WinningTeam  int                `json:"winning_team"`
	Participants []ParticipantStats `json:"participants"`
}

// ParticipantStats is one tracked player's end-of-game line.
type ParticipantStats struct {
	PUUID        string `json:"puuid"`
	Team         int    `json:"team"`
	ChampionName string `json:"champion_name"`
	Role         string `json:"role"`
	Kills        int    `json:"kills"`
	Deaths       int    `json:"deaths"`
	Assists      int    `json:"assists"`
	CS           int    `json:"cs"`
	Gold         int    `json:"gold"`
	Items        []int  `json:"items"`
	Spells       []int  `json:"spells"`
	Win          bool   `json:"win"`
}

// Validate checks required fields and normalises Riot side ids (100/200) to 1/2.
func (p *MatchCompletedPayload) Validate() error {
	if p.LobbyID <= 0 {
		return apperr.BadRequest("lobby_id is required")
	}
	if p.MatchID == "" {
		return apperr.BadRequest("match_id is required")
	}
	if p.Status != "" && p.Status != StatusCompleted {
		return apperr.BadRequest("unexpected status %q for match-completed", p.Status)
	}
	if p.GameDuration != nil && *p.GameDuration < 0 {
		return apperr.BadRequest("game_duration cannot be negative")
	}

	side, err := normaliseSide(p.WinningTeam)
	if err != nil {
		return apperr.BadRequest("winning_team: %v", err)
	}
	p.WinningTeam = side

	for i := range p.Participants {
		part := &p.Participants[i]
		if part.PUUID == "" {
			return apperr.BadRequest("participants[%d].puuid is required", i)
		}
		side, err := normaliseSide(part.Team)
		if err != nil {
			return apperr.BadRequest("participants[%d].team: %v", i, err)
		}
		part.Team = side
	}
	return nil
}

func normaliseSide(team int) (int, error) {
	switch team {
	case 1, 100:
		return 1, nil
	case 2, 200:
		return 2, nil
	default:
		return 0, fmt.Errorf("must be 1 or 2, got %d", team)
	}
}

// DecodeMatchStarted reads and validates a match-started body.
func DecodeMatchStarted(r io.Reader) (*MatchStartedPayload, error) {
	var p MatchStartedPayload
	if err := json.NewDecoder(io.LimitReader(r, maxWebhookBody)).Decode(&p); err != nil {
		return nil, apperr.BadRequest("invalid match-started payload")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeMatchCompleted reads and validates a match-completed body.
func DecodeMatchCompleted(r io.Reader) (*MatchCompletedPayload, error) {
	var p MatchCompletedPayload
	if err := json.NewDecoder(io.LimitReader(r, maxWebhookBody)).Decode(&p); err != nil {
		return nil, apperr.BadRequest("invalid match-completed payload")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
