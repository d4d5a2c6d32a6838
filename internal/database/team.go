package database

import (
	"context"

	"github.com/jason-s-yu/scrimlobby/internal/models"
)

// TeamRepository reads teams and rosters.
type TeamRepository struct {
	q Querier
}

func NewTeamRepository(q Querier) *TeamRepository {
	return &TeamRepository{q: q}
}

// Create inserts a team with the default rating and the given roster.
// Used by seeding and tests; roster management lives outside this service.
func (r *TeamRepository) Create(ctx context.Context, name string, memberIDs []int64) (*models.Team, error) {
	t := models.Team{Name: name}
	err := r.q.QueryRow(ctx, `
		INSERT INTO teams (name, rating) VALUES ($1, $2)
		RETURNING id, rating`, name, models.DefaultRating,
	).Scan(&t.ID, &t.Rating)
	if err != nil {
		return nil, translate(err, "create team")
	}
	for _, id := range memberIDs {
		if _, err := r.q.Exec(ctx, `INSERT INTO team_members (team_id, player_id) VALUES ($1, $2)`, t.ID, id); err != nil {
			return nil, translate(err, "add team member")
		}
	}
	return &t, nil
}

// GetByID returns the team with its members, or nil if it does not exist.
func (r *TeamRepository) GetByID(ctx context.Context, id int64) (*models.Team, error) {
	var t models.Team
	err := r.q.QueryRow(ctx, `SELECT id, name, rating FROM teams WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Rating)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err, "get team")
	}

	rows, err := r.q.Query(ctx, `
		SELECT p.id, p.username, p.puuid, p.rating
		  FROM team_members tm
		  JOIN players p ON p.id = tm.player_id
		 WHERE tm.team_id = $1
		 ORDER BY tm.joined_at, p.id`, id)
	if err != nil {
		return nil, translate(err, "get team members")
	}
	defer rows.Close()

	t.Members = []*models.Player{}
	for rows.Next() {
		var p models.Player
		if err := rows.Scan(&p.ID, &p.Username, &p.PUUID, &p.Rating); err != nil {
			return nil, translate(err, "scan team member")
		}
		t.Members = append(t.Members, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "get team members")
	}
	return &t, nil
}
