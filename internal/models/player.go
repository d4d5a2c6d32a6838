package models

// DefaultRating is assigned to new players and teams.
const DefaultRating = 1000

// Player is the account projection the lobby engine needs: identity,
// external tracking id and rating.
type Player struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	PUUID    *string `json:"puuid,omitempty"`
	Rating   int     `json:"rating"`
}
