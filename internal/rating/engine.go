package rating

import (
	"context"
	"fmt"
	"sort"

	"github.com/jason-s-yu/scrimlobby/internal/apperr"
	"github.com/jason-s-yu/scrimlobby/internal/models"
	log "github.com/sirupsen/logrus"
)

// Repository is the storage the engine reads and writes. Implementations are
// expected to run inside a transaction: the Lock* methods take row locks that
// are held until it ends, which serializes concurrent updates of one entity.
type Repository interface {
	// LockPlayerRatings returns the current rating of every id that exists.
	LockPlayerRatings(ctx context.Context, ids []int64) (map[int64]int, error)
	SetPlayerRating(ctx context.Context, id int64, rating int) error

	// LockTeamRatings returns the current rating of every team id that exists.
	LockTeamRatings(ctx context.Context, ids []int64) (map[int64]int, error)
	SetTeamRating(ctx context.Context, id int64, rating int) error

	// TeamMemberRatings returns the ratings of the team's current roster.
	TeamMemberRatings(ctx context.Context, teamID int64) ([]int, error)

	RecordChange(ctx context.Context, change *models.RatingChange) error
}

// Engine recomputes ratings after matches and roster changes.
type Engine struct {
	repo    Repository
	matchID *int64
}

// NewEngine binds an engine to a repository.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo}
}

// ForMatch returns a copy of the engine that tags history rows with matchID.
func (e *Engine) ForMatch(matchID int64) *Engine {
	return &Engine{repo: e.repo, matchID: &matchID}
}

// UpdateIndividualMatchRatings updates every winner against all losers and
// every loser against all winners. All ratings are read once, before any
// write, so the order of the writes does not matter.
func (e *Engine) UpdateIndividualMatchRatings(ctx context.Context, winnerIDs, loserIDs []int64) ([]models.RatingChange, error) {
	winners := dedupe(winnerIDs)
	losers := dedupe(loserIDs)
	if len(winners) == 0 || len(losers) == 0 {
		return nil, apperr.InvalidState("a rated match needs at least one winner and one loser")
	}
	for _, id := range winners {
		if contains(losers, id) {
			return nil, apperr.InvalidState("player %d cannot both win and lose", id)
		}
	}

	all := append(append([]int64{}, winners...), losers...)
	snapshot, err := e.repo.LockPlayerRatings(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("failed to load player ratings: %w", err)
	}
	for _, id := range all {
		if _, ok := snapshot[id]; !ok {
			return nil, apperr.NotFound("player %d not found", id)
		}
	}

	winnerRatings := ratingsOf(snapshot, winners)
	loserRatings := ratingsOf(snapshot, losers)

	changes := make([]models.RatingChange, 0, len(all))
	for _, id := range winners {
		changes = append(changes, e.change(models.RatingEntityPlayer, id, snapshot[id], NewRating(snapshot[id], 1, 0, loserRatings)))
	}
	for _, id := range losers {
		changes = append(changes, e.change(models.RatingEntityPlayer, id, snapshot[id], NewRating(snapshot[id], 0, 1, winnerRatings)))
	}

	for i := range changes {
		c := &changes[i]
		if err := e.repo.SetPlayerRating(ctx, c.EntityID, c.NewRating); err != nil {
			return nil, fmt.Errorf("failed to update rating of player %d: %w", c.EntityID, err)
		}
		if err := e.repo.RecordChange(ctx, c); err != nil {
			return nil, fmt.Errorf("failed to record rating change of player %d: %w", c.EntityID, err)
		}
	}

	log.WithFields(log.Fields{
		"winners": winners,
		"losers":  losers,
		"matchId": e.matchID,
	}).Info("Updated individual match ratings")
	return changes, nil
}

// CalculateTeamRating averages the roster's ratings; an empty roster rates 0.
func (e *Engine) CalculateTeamRating(ctx context.Context, teamID int64) (int, error) {
	ratings, err := e.repo.TeamMemberRatings(ctx, teamID)
	if err != nil {
		return 0, fmt.Errorf("failed to load members of team %d: %w", teamID, err)
	}
	return Average(ratings), nil
}

// UpdateTeamRating persists CalculateTeamRating.
func (e *Engine) UpdateTeamRating(ctx context.Context, teamID int64) (int, error) {
	current, err := e.repo.LockTeamRatings(ctx, []int64{teamID})
	if err != nil {
		return 0, fmt.Errorf("failed to lock team %d: %w", teamID, err)
	}
	old, ok := current[teamID]
	if !ok {
		return 0, apperr.NotFound("team %d not found", teamID)
	}

	next, err := e.CalculateTeamRating(ctx, teamID)
	if err != nil {
		return 0, err
	}
	if err := e.repo.SetTeamRating(ctx, teamID, next); err != nil {
		return 0, fmt.Errorf("failed to update rating of team %d: %w", teamID, err)
	}
	c := e.change(models.RatingEntityTeam, teamID, old, next)
	if err := e.repo.RecordChange(ctx, &c); err != nil {
		return 0, fmt.Errorf("failed to record rating change of team %d: %w", teamID, err)
	}
	return next, nil
}

// RecalculateOnMemberChange re-derives a team's rating after its roster changed.
func (e *Engine) RecalculateOnMemberChange(ctx context.Context, teamID int64) (int, error) {
	return e.UpdateTeamRating(ctx, teamID)
}

// UpdateTeamMatchRatings treats each team as a single entity whose only
// opponent is the other team. Member ratings are untouched.
func (e *Engine) UpdateTeamMatchRatings(ctx context.Context, winningTeamID, losingTeamID int64) ([]models.RatingChange, error) {
	if winningTeamID == losingTeamID {
		return nil, apperr.InvalidState("team %d cannot play itself", winningTeamID)
	}

	snapshot, err := e.repo.LockTeamRatings(ctx, []int64{winningTeamID, losingTeamID})
	if err != nil {
		return nil, fmt.Errorf("failed to load team ratings: %w", err)
	}
	for _, id := range []int64{winningTeamID, losingTeamID} {
		if _, ok := snapshot[id]; !ok {
			return nil, apperr.NotFound("team %d not found", id)
		}
	}

	w, l := snapshot[winningTeamID], snapshot[losingTeamID]
	changes := []models.RatingChange{
		e.change(models.RatingEntityTeam, winningTeamID, w, NewRating(w, 1, 0, []int{l})),
		e.change(models.RatingEntityTeam, losingTeamID, l, NewRating(l, 0, 1, []int{w})),
	}
	for i := range changes {
		c := &changes[i]
		if err := e.repo.SetTeamRating(ctx, c.EntityID, c.NewRating); err != nil {
			return nil, fmt.Errorf("failed to update rating of team %d: %w", c.EntityID, err)
		}
		if err := e.repo.RecordChange(ctx, c); err != nil {
			return nil, fmt.Errorf("failed to record rating change of team %d: %w", c.EntityID, err)
		}
	}

	log.WithFields(log.Fields{
		"winningTeam": winningTeamID,
		"losingTeam":  losingTeamID,
		"matchId":     e.matchID,
	}).Info("Updated team match ratings")
	return changes, nil
}

func (e *Engine) change(entity string, id int64, old, next int) models.RatingChange {
	return models.RatingChange{
		EntityType: entity,
		EntityID:   id,
		MatchID:    e.matchID,
		OldRating:  old,
		NewRating:  next,
	}
}

func ratingsOf(snapshot map[int64]int, ids []int64) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		out = append(out, snapshot[id])
	}
	return out
}

// dedupe returns the distinct ids in ascending order.
func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
