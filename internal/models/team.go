package models

// TeamSize is the roster size a TEAM lobby requires.
const TeamSize = 5

// Team is a roster with its own rating.
type Team struct {
	ID      int64     `json:"id"`
	Name    string    `json:"name"`
	Rating  int       `json:"rating"`
	Members []*Player `json:"members"`
}

// HasMember reports whether playerID is on the roster.
func (t *Team) HasMember(playerID int64) bool {
	for _, m := range t.Members {
		if m.ID == playerID {
			return true
		}
	}
	return false
}
