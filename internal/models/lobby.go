// internal/models/lobby.go
package models

import "time"

// LobbyStatus is the lifecycle state of a lobby.
type LobbyStatus string

const (
	LobbyStatusScheduled LobbyStatus = "SCHEDULED"
	LobbyStatusStarting  LobbyStatus = "STARTING"
	LobbyStatusOngoing   LobbyStatus = "ONGOING"
	LobbyStatusCompleted LobbyStatus = "COMPLETED"
	LobbyStatusCancelled LobbyStatus = "CANCELLED"
)

// statusRank orders the forward path. CANCELLED sits outside it.
var statusRank = map[LobbyStatus]int{
	LobbyStatusScheduled: 0,
	LobbyStatusStarting:  1,
	LobbyStatusOngoing:   2,
	LobbyStatusCompleted: 3,
}

// Valid reports whether s is a known status.
func (s LobbyStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == LobbyStatusCancelled
}

// Terminal reports whether no further transition is possible.
func (s LobbyStatus) Terminal() bool {
	return s == LobbyStatusCompleted || s == LobbyStatusCancelled
}

// PreStart reports whether the match has not been confirmed as started yet.
func (s LobbyStatus) PreStart() bool {
	return s == LobbyStatusScheduled || s == LobbyStatusStarting
}

// CanTransitionTo enforces forward-only movement: one step along
// SCHEDULED -> STARTING -> ONGOING -> COMPLETED, the STARTING -> COMPLETED
// shortcut for a lost match-started callback, or CANCELLED from a pre-start state.
func (s LobbyStatus) CanTransitionTo(next LobbyStatus) bool {
	if next == LobbyStatusCancelled {
		return s.PreStart()
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	if s == LobbyStatusStarting && next == LobbyStatusCompleted {
		return true
	}
	return to == from+1
}

// MatchType decides how the lobby is populated at creation.
type MatchType string

const (
	MatchTypeQueue MatchType = "QUEUE"
	MatchTypeTeam  MatchType = "TEAM"
)

func (m MatchType) Valid() bool {
	return m == MatchTypeQueue || m == MatchTypeTeam
}

// Lobby represents a row in the lobbies table plus its loaded relations.
type Lobby struct {
	ID              int64       `json:"id"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	Ranked          bool        `json:"ranked"`
	MatchType       MatchType   `json:"matchType"`
	Date            time.Time   `json:"date"`
	Status          LobbyStatus `json:"status"`
	OwnerID         int64       `json:"ownerId"`
	TeamID          *int64      `json:"teamId,omitempty"`
	OpponentTeamID  *int64      `json:"opponentTeamId,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
	StatusChangedAt time.Time   `json:"statusChangedAt"`

	Owner   *Player        `json:"owner,omitempty"`
	Players []*LobbyPlayer `json:"players"`
}

// Member returns the membership row of playerID, or nil.
func (l *Lobby) Member(playerID int64) *LobbyPlayer {
	for _, p := range l.Players {
		if p.PlayerID != nil && *p.PlayerID == playerID {
			return p
		}
	}
	return nil
}

// OccupiedSlots counts membership rows that have a player.
func (l *Lobby) OccupiedSlots() int {
	n := 0
	for _, p := range l.Players {
		if p.PlayerID != nil {
			n++
		}
	}
	return n
}

// AllReady reports whether every occupied slot is ready. An empty lobby is not ready.
func (l *Lobby) AllReady() bool {
	if l.OccupiedSlots() == 0 {
		return false
	}
	for _, p := range l.Players {
		if p.PlayerID != nil && !p.Ready {
			return false
		}
	}
	return true
}

// LobbyPlayer is a membership slot. PlayerID is nil for an open slot.
type LobbyPlayer struct {
	ID       int64     `json:"id"`
	LobbyID  int64     `json:"lobbyId"`
	PlayerID *int64    `json:"playerId"`
	Team     int       `json:"team"`
	Ready    bool      `json:"ready"`
	JoinedAt time.Time `json:"joinedAt"`

	Player *Player `json:"player,omitempty"`
}

// LobbyFilter narrows List queries. Zero values mean "any".
type LobbyFilter struct {
	Status  LobbyStatus
	OwnerID int64
	Limit   int
}

// LobbyUpdate carries the partial fields of an Update call.
type LobbyUpdate struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Ranked      *bool      `json:"ranked,omitempty"`
	Date        *time.Time `json:"date,omitempty"`
}

// Empty reports whether no field is set.
func (u LobbyUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Ranked == nil && u.Date == nil
}

// Apply copies the set fields onto l.
func (u LobbyUpdate) Apply(l *Lobby) {
	if u.Title != nil {
		l.Title = *u.Title
	}
	if u.Description != nil {
		l.Description = *u.Description
	}
	if u.Ranked != nil {
		l.Ranked = *u.Ranked
	}
	if u.Date != nil {
		l.Date = *u.Date
	}
}
