package database

import (
	"context"

	"github.com/jason-s-yu/scrimlobby/internal/models"
)

// RatingRepository implements rating.Repository. It must run inside a
// transaction for the row locks to mean anything.
type RatingRepository struct {
	q Querier
}

func NewRatingRepository(q Querier) *RatingRepository {
	return &RatingRepository{q: q}
}

// LockPlayerRatings locks the player rows in id order, which keeps two
// concurrent matches over overlapping players from deadlocking.
func (r *RatingRepository) LockPlayerRatings(ctx context.Context, ids []int64) (map[int64]int, error) {
	return r.lockRatings(ctx, `SELECT id, rating FROM players WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
}

// LockTeamRatings locks the team rows in id order.
func (r *RatingRepository) LockTeamRatings(ctx context.Context, ids []int64) (map[int64]int, error) {
	return r.lockRatings(ctx, `SELECT id, rating FROM teams WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
}

func (r *RatingRepository) lockRatings(ctx context.Context, q string, ids []int64) (map[int64]int, error) {
	rows, err := r.q.Query(ctx, q, ids)
	if err != nil {
		return nil, translate(err, "lock ratings")
	}
	defer rows.Close()

	out := make(map[int64]int, len(ids))
	for rows.Next() {
		var (
			id     int64
			rating int
		)
		if err := rows.Scan(&id, &rating); err != nil {
			return nil, translate(err, "scan rating")
		}
		out[id] = rating
	}
	return out, translate(rows.Err(), "lock ratings")
}

// SetPlayerRating updates the player's rating
func (r *RatingRepository) SetPlayerRating(ctx context.Context, id int64, rating int) error {
	_, err := r.q.Exec(ctx, `UPDATE players SET rating = $1, updated_at = NOW() WHERE id = $2`, rating, id)
	return translate(err, "set player rating")
}

// SetTeamRating updates the team's rating
func (r *RatingRepository) SetTeamRating(ctx context.Context, id int64, rating int) error {
	_, err := r.q.Exec(ctx, `UPDATE teams SET rating = $1, updated_at = NOW() WHERE id = $2`, rating, id)
	return translate(err, "set team rating")
}

// TeamMemberRatings reads the current roster ratings without locking them.
func (r *RatingRepository) TeamMemberRatings(ctx context.Context, teamID int64) ([]int, error) {
	rows, err := r.q.Query(ctx, `
		SELECT p.rating
		  FROM team_members tm
		  JOIN players p ON p.id = tm.player_id
		 WHERE tm.team_id = $1
		 ORDER BY p.id`, teamID)
	if err != nil {
		return nil, translate(err, "get member ratings")
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var rating int
		if err := rows.Scan(&rating); err != nil {
			return nil, translate(err, "scan member rating")
		}
		out = append(out, rating)
	}
	return out, translate(rows.Err(), "get member ratings")
}

// RecordChange logs a rating change in the rating_history table
func (r *RatingRepository) RecordChange(ctx context.Context, change *models.RatingChange) error {
	q := `
		INSERT INTO rating_history (entity_type, entity_id, match_id, old_rating, new_rating)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.q.Exec(ctx, q, change.EntityType, change.EntityID, change.MatchID, change.OldRating, change.NewRating)
	return translate(err, "record rating change")
}
