package database

import (
	"context"

	"github.com/jason-s-yu/scrimlobby/internal/models"
)

// PlayerRepository reads player accounts.
type PlayerRepository struct {
	q Querier
}

func NewPlayerRepository(q Querier) *PlayerRepository {
	return &PlayerRepository{q: q}
}

// Create inserts a player with the default rating. Used by seeding and tests;
// account management itself lives outside this service.
func (r *PlayerRepository) Create(ctx context.Context, username string, puuid *string) (*models.Player, error) {
	p := models.Player{Username: username, PUUID: puuid}
	err := r.q.QueryRow(ctx, `
		INSERT INTO players (username, puuid, rating)
		VALUES ($1, $2, $3)
		RETURNING id, rating`, username, puuid, models.DefaultRating,
	).Scan(&p.ID, &p.Rating)
	if err != nil {
		return nil, translate(err, "create player")
	}
	return &p, nil
}

// GetByID returns the player, or nil if it does not exist.
func (r *PlayerRepository) GetByID(ctx context.Context, id int64) (*models.Player, error) {
	var p models.Player
	err := r.q.QueryRow(ctx, `SELECT id, username, puuid, rating FROM players WHERE id = $1`, id).
		Scan(&p.ID, &p.Username, &p.PUUID, &p.Rating)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err, "get player")
	}
	return &p, nil
}

// GetByIDs returns the players that exist, keyed by id.
func (r *PlayerRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]*models.Player, error) {
	rows, err := r.q.Query(ctx, `SELECT id, username, puuid, rating FROM players WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, translate(err, "get players")
	}
	defer rows.Close()

	out := make(map[int64]*models.Player, len(ids))
	for rows.Next() {
		var p models.Player
		if err := rows.Scan(&p.ID, &p.Username, &p.PUUID, &p.Rating); err != nil {
			return nil, translate(err, "scan player")
		}
		out[p.ID] = &p
	}
	return out, translate(rows.Err(), "get players")
}

// IDsByPUUID maps linked puuids to player ids. Unknown puuids are absent.
func (r *PlayerRepository) IDsByPUUID(ctx context.Context, puuids []string) (map[string]int64, error) {
	out := make(map[string]int64, len(puuids))
	if len(puuids) == 0 {
		return out, nil
	}
	rows, err := r.q.Query(ctx, `SELECT puuid, id FROM players WHERE puuid = ANY($1)`, puuids)
	if err != nil {
		return nil, translate(err, "resolve puuids")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			puuid string
			id    int64
		)
		if err := rows.Scan(&puuid, &id); err != nil {
			return nil, translate(err, "scan puuid")
		}
		out[puuid] = id
	}
	return out, translate(rows.Err(), "resolve puuids")
}
