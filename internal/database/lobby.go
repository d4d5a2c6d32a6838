package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jason-s-yu/scrimlobby/internal/apperr"
	"github.com/jason-s-yu/scrimlobby/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

const lobbyColumns = `
	l.id, l.title, l.description, l.ranked, l.match_type, l.date, l.status,
	l.owner_id, l.team_id, l.opponent_team_id,
	l.created_at, l.updated_at, l.status_changed_at`

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// LobbyRepository persists lobbies and lobby_players.
type LobbyRepository struct {
	q Querier
}

// NewLobbyRepository binds the repository to a pool or transaction.
func NewLobbyRepository(q Querier) *LobbyRepository {
	return &LobbyRepository{q: q}
}

// Create inserts the lobby row and one lobby_players row per entry of lobby.Players.
func (r *LobbyRepository) Create(ctx context.Context, lobby *models.Lobby) error {
	if lobby.Status == "" {
		lobby.Status = models.LobbyStatusScheduled
	}
	q := `
	INSERT INTO lobbies (
		title, description, ranked, match_type, date, status,
		owner_id, team_id, opponent_team_id
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING id, created_at, updated_at, status_changed_at
	`
	err := r.q.QueryRow(ctx, q,
		lobby.Title,
		lobby.Description,
		lobby.Ranked,
		lobby.MatchType,
		lobby.Date,
		lobby.Status,
		lobby.OwnerID,
		lobby.TeamID,
		lobby.OpponentTeamID,
	).Scan(&lobby.ID, &lobby.CreatedAt, &lobby.UpdatedAt, &lobby.StatusChangedAt)
	if err != nil {
		return translate(err, "create lobby")
	}

	for _, lp := range lobby.Players {
		lp.LobbyID = lobby.ID
		err := r.q.QueryRow(ctx, `
			INSERT INTO lobby_players (lobby_id, player_id, team, ready)
			VALUES ($1, $2, $3, $4)
			RETURNING id, joined_at`,
			lp.LobbyID, lp.PlayerID, lp.Team, lp.Ready,
		).Scan(&lp.ID, &lp.JoinedAt)
		if err != nil {
			return translate(err, "add lobby player")
		}
	}
	return nil
}

// GetByID loads the lobby with owner and players, or nil if it does not exist.
func (r *LobbyRepository) GetByID(ctx context.Context, id int64) (*models.Lobby, error) {
	return r.get(ctx, id, false)
}

// GetByIDForUpdate is GetByID plus a row lock on the lobby.
func (r *LobbyRepository) GetByIDForUpdate(ctx context.Context, id int64) (*models.Lobby, error) {
	return r.get(ctx, id, true)
}

func (r *LobbyRepository) get(ctx context.Context, id int64, forUpdate bool) (*models.Lobby, error) {
	q := `SELECT ` + lobbyColumns + ` FROM lobbies l WHERE l.id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	lobby, err := scanLobby(r.q.QueryRow(ctx, q, id))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err, "get lobby")
	}
	if err := r.attach(ctx, []*models.Lobby{lobby}); err != nil {
		return nil, err
	}
	return lobby, nil
}

// List returns lobbies newest-scheduled first, with their graphs loaded.
func (r *LobbyRepository) List(ctx context.Context, filter models.LobbyFilter) ([]*models.Lobby, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("l.status = $%d", len(args)))
	}
	if filter.OwnerID != 0 {
		args = append(args, filter.OwnerID)
		where = append(where, fmt.Sprintf("l.owner_id = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	args = append(args, limit)

	q := `SELECT ` + lobbyColumns + ` FROM lobbies l`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += fmt.Sprintf(` ORDER BY l.date DESC, l.id DESC LIMIT $%d`, len(args))

	rows, err := r.q.Query(ctx, q, args...)
	if err != nil {
		return nil, translate(err, "list lobbies")
	}
	defer rows.Close()

	lobbies := []*models.Lobby{}
	for rows.Next() {
		l, err := scanLobby(rows)
		if err != nil {
			return nil, translate(err, "scan lobby")
		}
		lobbies = append(lobbies, l)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "list lobbies")
	}
	if err := r.attach(ctx, lobbies); err != nil {
		return nil, err
	}
	return lobbies, nil
}

// Update writes the editable fields and refreshes UpdatedAt.
func (r *LobbyRepository) Update(ctx context.Context, lobby *models.Lobby) error {
	q := `
	UPDATE lobbies
	   SET title = $2, description = $3, ranked = $4, date = $5, updated_at = NOW()
	 WHERE id = $1
	RETURNING updated_at
	`
	err := r.q.QueryRow(ctx, q, lobby.ID, lobby.Title, lobby.Description, lobby.Ranked, lobby.Date).
		Scan(&lobby.UpdatedAt)
	if isNoRows(err) {
		return apperr.NotFound("lobby %d not found", lobby.ID)
	}
	return translate(err, "update lobby")
}

// UpdateStatus sets the status and stamps status_changed_at.
func (r *LobbyRepository) UpdateStatus(ctx context.Context, id int64, status models.LobbyStatus) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE lobbies
		   SET status = $2, status_changed_at = NOW(), updated_at = NOW()
		 WHERE id = $1`, id, status)
	if err != nil {
		return translate(err, "update lobby status")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lobby %d not found", id)
	}
	return nil
}

// SetPlayerReady updates one membership row.
func (r *LobbyRepository) SetPlayerReady(ctx context.Context, lobbyPlayerID int64, ready bool) error {
	tag, err := r.q.Exec(ctx, `UPDATE lobby_players SET ready = $2 WHERE id = $1`, lobbyPlayerID, ready)
	if err != nil {
		return translate(err, "set ready")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lobby player %d not found", lobbyPlayerID)
	}
	return nil
}

// Delete removes the lobby. Membership rows go with it via ON DELETE CASCADE.
func (r *LobbyRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM lobbies WHERE id = $1`, id)
	if err != nil {
		return translate(err, "delete lobby")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lobby %d not found", id)
	}
	return nil
}

// ListStaleStarting returns lobbies stuck in STARTING since before cutoff.
func (r *LobbyRepository) ListStaleStarting(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id FROM lobbies
		 WHERE status = $1 AND status_changed_at < $2
		 ORDER BY id`, models.LobbyStatusStarting, cutoff)
	if err != nil {
		return nil, translate(err, "list stale lobbies")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, translate(err, "scan stale lobby")
		}
		ids = append(ids, id)
	}
	return ids, translate(rows.Err(), "list stale lobbies")
}

// attach loads owners and membership rows for the given lobbies in two queries.
func (r *LobbyRepository) attach(ctx context.Context, lobbies []*models.Lobby) error {
	if len(lobbies) == 0 {
		return nil
	}
	byID := make(map[int64]*models.Lobby, len(lobbies))
	lobbyIDs := make([]int64, 0, len(lobbies))
	ownerIDs := make([]int64, 0, len(lobbies))
	for _, l := range lobbies {
		l.Players = []*models.LobbyPlayer{}
		byID[l.ID] = l
		lobbyIDs = append(lobbyIDs, l.ID)
		ownerIDs = append(ownerIDs, l.OwnerID)
	}

	owners, err := NewPlayerRepository(r.q).GetByIDs(ctx, ownerIDs)
	if err != nil {
		return err
	}
	for _, l := range lobbies {
		l.Owner = owners[l.OwnerID]
	}

	rows, err := r.q.Query(ctx, `
		SELECT lp.id, lp.lobby_id, lp.player_id, lp.team, lp.ready, lp.joined_at,
		       p.username, p.puuid, p.rating
		  FROM lobby_players lp
		  LEFT JOIN players p ON p.id = lp.player_id
		 WHERE lp.lobby_id = ANY($1)
		 ORDER BY lp.team, lp.id`, lobbyIDs)
	if err != nil {
		return translate(err, "load lobby players")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			lp       models.LobbyPlayer
			username *string
			puuid    *string
			rating   *int
		)
		if err := rows.Scan(&lp.ID, &lp.LobbyID, &lp.PlayerID, &lp.Team, &lp.Ready, &lp.JoinedAt,
			&username, &puuid, &rating); err != nil {
			return translate(err, "scan lobby player")
		}
		if lp.PlayerID != nil && username != nil {
			lp.Player = &models.Player{ID: *lp.PlayerID, Username: *username, PUUID: puuid}
			if rating != nil {
				lp.Player.Rating = *rating
			}
		}
		if l := byID[lp.LobbyID]; l != nil {
			l.Players = append(l.Players, &lp)
		}
	}
	return translate(rows.Err(), "load lobby players")
}

func scanLobby(row scanner) (*models.Lobby, error) {
	var l models.Lobby
	err := row.Scan(
		&l.ID,
		&l.Title,
		&l.Description,
		&l.Ranked,
		&l.MatchType,
		&l.Date,
		&l.Status,
		&l.OwnerID,
		&l.TeamID,
		&l.OpponentTeamID,
		&l.CreatedAt,
		&l.UpdatedAt,
		&l.StatusChangedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
