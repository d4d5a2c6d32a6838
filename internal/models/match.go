package models

import "time"

// Match is the played game attached to a lobby once tracking confirms it started.
type Match struct {
	ID          int64     `json:"id"`
	LobbyID     int64     `json:"lobbyId"`
	RiotMatchID string    `json:"riotMatchId"`
	GameMode    string    `json:"gameMode,omitempty"`
	Duration    *int      `json:"duration,omitempty"`
	WinningTeam *int      `json:"winningTeam,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	Participants []*MatchParticipant `json:"participants,omitempty"`
}

// MatchParticipant holds one tracked player's end-of-game stats.
type MatchParticipant struct {
	ID           int64  `json:"id"`
	MatchID      int64  `json:"matchId"`
	PlayerID     *int64 `json:"playerId,omitempty"`
	PUUID        string `json:"puuid"`
	Team         int    `json:"team"`
	ChampionName string `json:"championName"`
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

// RatingChange is one row of rating history.
type RatingChange struct {
	EntityType string `json:"entityType"` // "player" or "team"
	EntityID   int64  `json:"entityId"`
	MatchID    *int64 `json:"matchId,omitempty"`
	OldRating  int    `json:"oldRating"`
	NewRating  int    `json:"newRating"`
}

const (
	RatingEntityPlayer = "player"
	RatingEntityTeam   = "team"
)
