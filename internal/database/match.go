package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/scrimlobby/internal/apperr"
	"github.com/jason-s-yu/scrimlobby/internal/models"
)

// MatchRepository persists matches and their participants.
type MatchRepository struct {
	q Querier
}

func NewMatchRepository(q Querier) *MatchRepository {
	return &MatchRepository{q: q}
}

// GetByLobbyID returns the lobby's match, or nil if none was recorded yet.
func (r *MatchRepository) GetByLobbyID(ctx context.Context, lobbyID int64) (*models.Match, error) {
	var m models.Match
	err := r.q.QueryRow(ctx, `
		SELECT id, lobby_id, riot_match_id, game_mode, duration, winning_team, created_at, updated_at
		  FROM matches
		 WHERE lobby_id = $1`, lobbyID,
	).Scan(&m.ID, &m.LobbyID, &m.RiotMatchID, &m.GameMode, &m.Duration, &m.WinningTeam, &m.CreatedAt, &m.UpdatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err, "get match")
	}
	return &m, nil
}

// Create inserts the match. A second match for the same lobby is rejected
// by the unique constraint and surfaces as InvalidState.
func (r *MatchRepository) Create(ctx context.Context, match *models.Match) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO matches (lobby_id, riot_match_id, game_mode)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		match.LobbyID, match.RiotMatchID, match.GameMode,
	).Scan(&match.ID, &match.CreatedAt, &match.UpdatedAt)
	return translate(err, "create match")
}

// Complete stores the final result of the match.
func (r *MatchRepository) Complete(ctx context.Context, match *models.Match) error {
	err := r.q.QueryRow(ctx, `
		UPDATE matches
		   SET duration = $2, winning_team = $3,
		       game_mode = COALESCE(NULLIF($4, ''), game_mode),
		       updated_at = NOW()
		 WHERE id = $1
		RETURNING game_mode, updated_at`,
		match.ID, match.Duration, match.WinningTeam, match.GameMode,
	).Scan(&match.GameMode, &match.UpdatedAt)
	if isNoRows(err) {
		return apperr.NotFound("match %d not found", match.ID)
	}
	return translate(err, "complete match")
}

// AddParticipants inserts every participant row in one batch.
func (r *MatchRepository) AddParticipants(ctx context.Context, matchID int64, participants []*models.MatchParticipant) error {
	if len(participants) == 0 {
		return nil
	}
	q := `
	INSERT INTO match_participants (
		match_id, player_id, puuid, team, champion_name, role,
		kills, deaths, assists, cs, gold, items, spells, win
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	RETURNING id
	`
	batch := &pgx.Batch{}
	for _, p := range participants {
		p.MatchID = matchID
		items, spells := p.Items, p.Spells
		if items == nil {
			items = []int{}
		}
		if spells == nil {
			spells = []int{}
		}
		batch.Queue(q,
			p.MatchID, p.PlayerID, p.PUUID, p.Team, p.ChampionName, p.Role,
			p.Kills, p.Deaths, p.Assists, p.CS, p.Gold, items, spells, p.Win,
		)
	}

	br := r.q.SendBatch(ctx, batch)
	defer br.Close()
	for _, p := range participants {
		if err := br.QueryRow().Scan(&p.ID); err != nil {
			return translate(err, "add match participant")
		}
	}
	return nil
}
