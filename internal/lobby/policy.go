package lobby

import (
	"github.com/jason-s-yu/scrimlobby/internal/apperr"
	"github.com/jason-s-yu/scrimlobby/internal/models"
)

// DefaultRequiredPlayers is a full 5v5 lobby.
const DefaultRequiredPlayers = 2 * models.TeamSize

// StartPolicy holds the optional start preconditions checked after the
// ownership, schedule and status guards. Both are off by default.
type StartPolicy struct {
	RequireFullLobby bool
	RequiredPlayers  int
	RequireAllReady  bool
}

// Check returns InvalidState when an enabled precondition does not hold.
func (p StartPolicy) Check(l *models.Lobby) error {
	if p.RequireFullLobby {
		required := p.RequiredPlayers
		if required <= 0 {
			required = DefaultRequiredPlayers
		}
		if have := l.OccupiedSlots(); have != required {
			return apperr.InvalidState("lobby needs %d players to start, has %d", required, have)
		}
	}
	if p.RequireAllReady && !l.AllReady() {
		return apperr.InvalidState("not all players are ready")
	}
	return nil
}
