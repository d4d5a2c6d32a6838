package lobby

import (
	"context"
	"time"

	"github.com/jason-s-yu/scrimlobby/internal/events"
	"github.com/jason-s-yu/scrimlobby/internal/models"
	"github.com/jason-s-yu/scrimlobby/internal/rating"
)

// LobbyRepository persists lobbies and their membership rows.
// Getters return nil, nil when the lobby does not exist.
type LobbyRepository interface {
	// Create inserts the lobby and its Players, filling in generated ids.
	Create(ctx context.Context, lobby *models.Lobby) error
	GetByID(ctx context.Context, id int64) (*models.Lobby, error)
	// GetByIDForUpdate loads the lobby graph and holds a row lock on the
	// lobby until the transaction ends.
	GetByIDForUpdate(ctx context.Context, id int64) (*models.Lobby, error)
	List(ctx context.Context, filter models.LobbyFilter) ([]*models.Lobby, error)
	// Update writes the editable fields: title, description, ranked, date.
	Update(ctx context.Context, lobby *models.Lobby) error
	UpdateStatus(ctx context.Context, id int64, status models.LobbyStatus) error
	SetPlayerReady(ctx context.Context, lobbyPlayerID int64, ready bool) error
	Delete(ctx context.Context, id int64) error
	// ListStaleStarting returns ids of lobbies that entered STARTING before cutoff.
	ListStaleStarting(ctx context.Context, cutoff time.Time) ([]int64, error)
}

// MatchRepository persists played games.
type MatchRepository interface {
	// GetByLobbyID returns nil, nil when the lobby has no match yet.
	GetByLobbyID(ctx context.Context, lobbyID int64) (*models.Match, error)
	Create(ctx context.Context, match *models.Match) error
	// Complete stores the final duration, winning team and game mode.
	Complete(ctx context.Context, match *models.Match) error
	AddParticipants(ctx context.Context, matchID int64, participants []*models.MatchParticipant) error
}

// TeamRepository reads rosters. GetByID returns nil, nil for a missing team.
type TeamRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Team, error)
}

// PlayerRepository resolves external tracking ids to player accounts.
type PlayerRepository interface {
	// IDsByPUUID returns puuid -> player id for every puuid that is linked.
	IDsByPUUID(ctx context.Context, puuids []string) (map[string]int64, error)
}

// EventPublisher stages events until the unit of work commits.
type EventPublisher interface {
	Publish(e events.Event)
}

// UnitOfWork is one transaction plus the repositories bound to it.
// Repository accessors panic when called before Begin.
type UnitOfWork interface {
	Begin(ctx context.Context) error
	// Commit commits and then flushes staged events.
	Commit() error
	// Rollback discards staged events. It is a no-op after Commit.
	Rollback() error

	Lobbies() LobbyRepository
	Matches() MatchRepository
	Teams() TeamRepository
	Players() PlayerRepository
	Ratings() rating.Repository
	Events() EventPublisher
}

// UnitOfWorkFactory creates a fresh UnitOfWork per operation.
type UnitOfWorkFactory interface {
	Create() UnitOfWork
}

// MatchTracker requests external tracking of a lobby's game.
type MatchTracker interface {
	TrackMatch(ctx context.Context, lobbyID int64, puuids []string) error
}
