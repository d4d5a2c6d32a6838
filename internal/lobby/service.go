package lobby

import (
	"context"
	"fmt"
	"time"

	"github.com/jason-s-yu/scrimlobby/internal/apperr"
	"github.com/jason-s-yu/scrimlobby/internal/events"
	"github.com/jason-s-yu/scrimlobby/internal/models"
	"github.com/jason-s-yu/scrimlobby/internal/rating"
	log "github.com/sirupsen/logrus"
)

// startTxTimeout bounds the StartMatch transaction, which stays open across
// the tracking call. It is detached from the caller so a client hanging up
// after tracking accepted the match cannot abort the commit.
const startTxTimeout = time.Minute

// Service is the lobby lifecycle controller. Every mutating operation on a
// lobby holds the in-process lobby lock and the database row lock for the
// whole read-check-write sequence.
type Service struct {
	uowFactory UnitOfWorkFactory
	tracker    MatchTracker
	locks      *LockStore
	policy     StartPolicy
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithStartPolicy enables optional start preconditions.
func WithStartPolicy(p StartPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the controller.
func NewService(uowFactory UnitOfWorkFactory, tracker MatchTracker, opts ...Option) *Service {
	s := &Service{
		uowFactory: uowFactory,
		tracker:    tracker,
		locks:      NewLockStore(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) begin(ctx context.Context) (UnitOfWork, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return uow, nil
}

// lockForUpdate loads the lobby under its row lock, failing NotFound when absent.
func lockForUpdate(ctx context.Context, uow UnitOfWork, lobbyID int64) (*models.Lobby, error) {
	l, err := uow.Lobbies().GetByIDForUpdate(ctx, lobbyID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, apperr.NotFound("lobby %d not found", lobbyID)
	}
	return l, nil
}

// setStatus persists a transition and stages its event.
func (s *Service) setStatus(ctx context.Context, uow UnitOfWork, l *models.Lobby, next models.LobbyStatus) error {
	if !l.Status.CanTransitionTo(next) {
		return apperr.InvalidState("lobby %d cannot move from %s to %s", l.ID, l.Status, next)
	}
	if err := uow.Lobbies().UpdateStatus(ctx, l.ID, next); err != nil {
		return err
	}
	uow.Events().Publish(events.LobbyStatusChangedEvent{LobbyID: l.ID, Status: next, Previous: l.Status})
	l.Status = next
	l.StatusChangedAt = s.now()
	return nil
}

// Create stores a new lobby owned by ownerID. QUEUE lobbies seat the creator
// on side 1; TEAM lobbies seat the creator's full roster on side 1.
func (s *Service) Create(ctx context.Context, ownerID int64, in CreateInput) (*models.Lobby, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	uow, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	l := &models.Lobby{
		Title:       in.Title,
		Description: in.Description,
		Ranked:      in.Ranked,
		MatchType:   in.MatchType,
		Date:        in.Date,
		Status:      models.LobbyStatusScheduled,
		OwnerID:     ownerID,
	}

	switch in.MatchType {
	case models.MatchTypeTeam:
		if in.TeamID == nil {
			return nil, apperr.BadRequest("teamId is required for TEAM lobbies")
		}
		team, err := uow.Teams().GetByID(ctx, *in.TeamID)
		if err != nil {
			return nil, err
		}
		if team == nil {
			return nil, apperr.NotFound("team %d not found", *in.TeamID)
		}
		if !team.HasMember(ownerID) {
			return nil, apperr.InvalidState("player %d is not on team %d", ownerID, team.ID)
		}
		if len(team.Members) != models.TeamSize {
			return nil, apperr.InvalidState("team %d has %d members, needs %d", team.ID, len(team.Members), models.TeamSize)
		}
		if in.OpponentTeamID != nil {
			if *in.OpponentTeamID == team.ID {
				return nil, apperr.InvalidState("a team cannot play itself")
			}
			opponent, err := uow.Teams().GetByID(ctx, *in.OpponentTeamID)
			if err != nil {
				return nil, err
			}
			if opponent == nil {
				return nil, apperr.NotFound("team %d not found", *in.OpponentTeamID)
			}
			l.OpponentTeamID = &opponent.ID
		}
		l.TeamID = &team.ID
		for _, m := range team.Members {
			l.Players = append(l.Players, &models.LobbyPlayer{PlayerID: &m.ID, Team: 1})
		}
	default:
		l.Players = []*models.LobbyPlayer{{PlayerID: &ownerID, Team: 1}}
	}

	if err := uow.Lobbies().Create(ctx, l); err != nil {
		return nil, err
	}
	created, err := uow.Lobbies().GetByID(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit lobby creation: %w", err)
	}

	log.WithFields(log.Fields{
		"lobbyId":   created.ID,
		"ownerId":   ownerID,
		"matchType": created.MatchType,
		"players":   len(created.Players),
	}).Info("Created lobby")
	return created, nil
}

// Get returns the full lobby graph.
func (s *Service) Get(ctx context.Context, lobbyID int64) (*models.Lobby, error) {
	uow, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	l, err := uow.Lobbies().GetByID(ctx, lobbyID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, apperr.NotFound("lobby %d not found", lobbyID)
	}
	return l, nil
}

// List returns lobbies matching filter, soonest first.
func (s *Service) List(ctx context.Context, filter models.LobbyFilter) ([]*models.Lobby, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.BadRequest("unknown status %q", filter.Status)
	}
	uow, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	return uow.Lobbies().List(ctx, filter)
}

// Update edits a SCHEDULED lobby. Only the owner may edit.
func (s *Service) Update(ctx context.Context, lobbyID, callerID int64, upd models.LobbyUpdate) (*models.Lobby, error) {
	if upd.Empty() {
		return nil, apperr.BadRequest("no fields to update")
	}
	if upd.Title != nil && *upd.Title == "" {
		return nil, apperr.BadRequest("title cannot be empty")
	}

	unlock := s.locks.Lock(lobbyID)
	defer unlock()

	uow, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	l, err := lockForUpdate(ctx, uow, lobbyID)
	if err != nil {
		return nil, err
	}
	if l.OwnerID != callerID {
		return nil, apperr.Forbidden("only the owner can edit lobby %d", lobbyID)
	}
	if l.Status != models.LobbyStatusScheduled {
		return nil, apperr.InvalidState("lobby %d is %s and can no longer be edited", lobbyID, l.Status)
	}

	upd.Apply(l)
	if err := uow.Lobbies().Update(ctx, l); err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit lobby update: %w", err)
	}
	return l, nil
}

// Delete removes a SCHEDULED lobby. Only the owner may delete.
func (s *Service) Delete(ctx context.Context, lobbyID, callerID int64) error {
	unlock := s.locks.Lock(lobbyID)
	defer unlock()

	uow, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	l, err := lockForUpdate(ctx, uow, lobbyID)
	if err != nil {
		return err
	}
	if l.OwnerID != callerID {
		return apperr.Forbidden("only the owner can delete lobby %d", lobbyID)
	}
	if l.Status != models.LobbyStatusScheduled {
		return apperr.InvalidState("lobby %d is %s and can no longer be deleted", lobbyID, l.Status)
	}
	if err := uow.Lobbies().Delete(ctx, lobbyID); err != nil {
		return err
	}
	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit lobby deletion: %w", err)
	}

	log.WithField("lobbyId", lobbyID).Info("Deleted lobby")
	return nil
}

// ToggleReady flips the caller's ready flag while the match has not started.
func (s *Service) ToggleReady(ctx context.Context, lobbyID, playerID int64) (*models.Lobby, error) {
	unlock := s.locks.Lock(lobbyID)
	defer unlock()

	uow, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	l, err := lockForUpdate(ctx, uow, lobbyID)
	if err != nil {
		return nil, err
	}
	slot := l.Member(playerID)
	if slot == nil {
		return nil, apperr.NotFound("player %d is not in lobby %d", playerID, lobbyID)
	}
	if !l.Status.PreStart() {
		return nil, apperr.InvalidState("lobby %d is %s, ready state is frozen", lobbyID, l.Status)
	}

	slot.Ready = !slot.Ready
	if err := uow.Lobbies().SetPlayerReady(ctx, slot.ID, slot.Ready); err != nil {
		return nil, err
	}
	uow.Events().Publish(events.LobbyReadyChangedEvent{LobbyID: lobbyID, PlayerID: playerID, Ready: slot.Ready})
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ready toggle: %w", err)
	}
	return l, nil
}

// StartMatch moves a SCHEDULED lobby to STARTING after the tracking service
// accepted the match. Guards run in a fixed order: existence, ownership,
// schedule, status, then the optional start policy. A tracking failure
// leaves the lobby untouched. If tracking succeeded but the status write
// fails, the lobby is cancelled so it does not sit in SCHEDULED while the
// tracker watches for its game.
func (s *Service) StartMatch(ctx context.Context, lobbyID, callerID int64) (*models.Lobby, error) {
	unlock := s.locks.Lock(lobbyID)
	defer unlock()

	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), startTxTimeout)
	defer cancel()

	uow, err := s.begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	l, err := lockForUpdate(txCtx, uow, lobbyID)
	if err != nil {
		return nil, err
	}
	if l.OwnerID != callerID {
		return nil, apperr.Forbidden("only the owner can start lobby %d", lobbyID)
	}
	if s.now().Before(l.Date) {
		return nil, apperr.InvalidState("lobby %d is scheduled for %s", lobbyID, l.Date.UTC().Format(time.RFC3339))
	}
	if l.Status != models.LobbyStatusScheduled {
		return nil, apperr.InvalidState("lobby %d has already been started (%s)", lobbyID, l.Status)
	}
	if err := s.policy.Check(l); err != nil {
		return nil, err
	}

	puuids := make([]string, 0, len(l.Players))
	for _, p := range l.Players {
		if p.Player != nil && p.Player.PUUID != nil && *p.Player.PUUID != "" {
			puuids = append(puuids, *p.Player.PUUID)
		}
	}

	logger := log.WithFields(log.Fields{"lobbyId": lobbyID, "puuids": len(puuids)})
	if err := s.tracker.TrackMatch(ctx, lobbyID, puuids); err != nil {
		logger.WithError(err).Warn("Tracking service rejected match, lobby left SCHEDULED")
		return nil, err
	}

	if err := s.setStatus(txCtx, uow, l, models.LobbyStatusStarting); err != nil {
		_ = uow.Rollback()
		s.compensateStart(lobbyID, err)
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		_ = uow.Rollback()
		s.compensateStart(lobbyID, err)
		return nil, fmt.Errorf("failed to commit match start: %w", err)
	}

	logger.Info("Match start requested")
	return l, nil
}

// compensateStart cancels a lobby whose match is being tracked but whose
// STARTING transition could not be stored. The caller still holds the lobby
// lock and must have ended its own transaction.
func (s *Service) compensateStart(lobbyID int64, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger := log.WithField("lobbyId", lobbyID).WithField("cause", cause.Error())
	uow, err := s.begin(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to cancel lobby after start failure")
		return
	}
	defer uow.Rollback()

	l, err := lockForUpdate(ctx, uow, lobbyID)
	if err != nil {
		logger.WithError(err).Error("Failed to cancel lobby after start failure")
		return
	}
	if !l.Status.PreStart() {
		return
	}
	if err := s.setStatus(ctx, uow, l, models.LobbyStatusCancelled); err != nil {
		logger.WithError(err).Error("Failed to cancel lobby after start failure")
		return
	}
	if err := uow.Commit(); err != nil {
		logger.WithError(err).Error("Failed to cancel lobby after start failure")
		return
	}
	logger.Warn("Cancelled lobby after start failure")
}

// Cancel abandons a lobby that has not started yet. Only the owner may cancel.
func (s *Service) Cancel(ctx context.Context, lobbyID, callerID int64) (*models.Lobby, error) {
	unlock := s.locks.Lock(lobbyID)
	defer unlock()

	uow, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	l, err := lockForUpdate(ctx, uow, lobbyID)
	if err != nil {
		return nil, err
	}
	if l.OwnerID != callerID {
		return nil, apperr.Forbidden("only the owner can cancel lobby %d", lobbyID)
	}
	if err := s.setStatus(ctx, uow, l, models.LobbyStatusCancelled); err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}

	log.WithField("lobbyId", lobbyID).Info("Cancelled lobby")
	return l, nil
}

// HandleMatchStarted records the live game and moves STARTING to ONGOING.
// A repeated delivery for an ONGOING lobby returns the stored match.
func (s *Service) HandleMatchStarted(ctx context.Context, in MatchStarted) (*models.Match, error) {
	if in.RiotMatchID == "" {
		return nil, apperr.BadRequest("match_id is required")
	}

	unlock := s.locks.Lock(in.LobbyID)
	defer unlock()

	uow, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	l, err := lockForUpdate(ctx, uow, in.LobbyID)
	if err != nil {
		return nil, err
	}
	existing, err := uow.Matches().GetByLobbyID(ctx, l.ID)
	if err != nil {
		return nil, err
	}

	logger := log.WithFields(log.Fields{"lobbyId": l.ID, "riotMatchId": in.RiotMatchID})
	if l.Status == models.LobbyStatusOngoing && existing != nil {
		logger.Debug("Ignoring repeated match-started callback")
		return existing, nil
	}
	if l.Status != models.LobbyStatusStarting {
		return nil, apperr.InvalidState("lobby %d is %s, expected STARTING", l.ID, l.Status)
	}

	match := existing
	if match == nil {
		match = &models.Match{LobbyID: l.ID, RiotMatchID: in.RiotMatchID, GameMode: in.GameMode}
		if err := uow.Matches().Create(ctx, match); err != nil {
			return nil, err
		}
	}
	if err := s.setStatus(ctx, uow, l, models.LobbyStatusOngoing); err != nil {
		return nil, err
	}
	uow.Events().Publish(events.MatchStartedEvent{LobbyID: l.ID, MatchID: match.ID, RiotMatchID: match.RiotMatchID})
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit match start: %w", err)
	}

	logger.WithField("matchId", match.ID).Info("Match started")
	return match, nil
}

// HandleMatchCompleted stores the result, participants and, for ranked
// lobbies, the rating changes, then moves the lobby to COMPLETED. Everything
// commits together. A match-started callback that never arrived is tolerated:
// the match row is created here. A repeated delivery returns the stored match.
func (s *Service) HandleMatchCompleted(ctx context.Context, in MatchCompleted) (*MatchResult, error) {
	if in.WinningTeam != 1 && in.WinningTeam != 2 {
		return nil, apperr.BadRequest("winning team must be 1 or 2, got %d", in.WinningTeam)
	}
	if in.Duration != nil && *in.Duration < 0 {
		return nil, apperr.BadRequest("game duration cannot be negative")
	}

	unlock := s.locks.Lock(in.LobbyID)
	defer unlock()

	uow, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	l, err := lockForUpdate(ctx, uow, in.LobbyID)
	if err != nil {
		return nil, err
	}
	match, err := uow.Matches().GetByLobbyID(ctx, l.ID)
	if err != nil {
		return nil, err
	}

	logger := log.WithFields(log.Fields{"lobbyId": l.ID, "riotMatchId": in.RiotMatchID})
	if l.Status == models.LobbyStatusCompleted && match != nil {
		logger.Debug("Ignoring repeated match-completed callback")
		return &MatchResult{Match: match}, nil
	}
	if l.Status != models.LobbyStatusOngoing && l.Status != models.LobbyStatusStarting {
		return nil, apperr.InvalidState("lobby %d is %s, expected ONGOING", l.ID, l.Status)
	}

	if match == nil {
		if in.RiotMatchID == "" {
			return nil, apperr.BadRequest("match_id is required")
		}
		match = &models.Match{LobbyID: l.ID, RiotMatchID: in.RiotMatchID, GameMode: in.GameMode}
		if err := uow.Matches().Create(ctx, match); err != nil {
			return nil, err
		}
	}
	winner := in.WinningTeam
	if in.Duration != nil {
		duration := *in.Duration
		match.Duration = &duration
	}
	match.WinningTeam = &winner
	if in.GameMode != "" {
		match.GameMode = in.GameMode
	}
	if err := uow.Matches().Complete(ctx, match); err != nil {
		return nil, err
	}

	if len(in.Participants) > 0 {
		if err := s.linkParticipants(ctx, uow, in.Participants); err != nil {
			return nil, err
		}
		if err := uow.Matches().AddParticipants(ctx, match.ID, in.Participants); err != nil {
			return nil, err
		}
		match.Participants = in.Participants
	}

	var changes []models.RatingChange
	if l.Ranked {
		changes, err = s.applyRatings(ctx, uow, l, match.ID, winner, in.Participants)
		if err != nil {
			return nil, err
		}
	}

	if err := s.setStatus(ctx, uow, l, models.LobbyStatusCompleted); err != nil {
		return nil, err
	}
	uow.Events().Publish(events.MatchCompletedEvent{
		LobbyID:       l.ID,
		MatchID:       match.ID,
		WinningTeam:   winner,
		Duration:      match.Duration,
		RatingChanges: changes,
	})
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit match completion: %w", err)
	}

	logger.WithFields(log.Fields{
		"matchId":       match.ID,
		"winningTeam":   winner,
		"ratingChanges": len(changes),
	}).Info("Match completed")
	return &MatchResult{Match: match, RatingChanges: changes}, nil
}

// linkParticipants fills PlayerID for participants whose puuid belongs to a player.
func (s *Service) linkParticipants(ctx context.Context, uow UnitOfWork, participants []*models.MatchParticipant) error {
	puuids := make([]string, 0, len(participants))
	for _, p := range participants {
		puuids = append(puuids, p.PUUID)
	}
	ids, err := uow.Players().IDsByPUUID(ctx, puuids)
	if err != nil {
		return err
	}
	for _, p := range participants {
		if id, ok := ids[p.PUUID]; ok {
			p.PlayerID = &id
		}
	}
	return nil
}

// applyRatings rates the lobby's sides. QUEUE lobbies rate players by lobby
// side, falling back to the linked participants' sides when the seats do not
// cover both; TEAM lobbies rate the two teams, with side 1 being the creating
// team. Lobbies without two rateable sides are completed unrated.
func (s *Service) applyRatings(ctx context.Context, uow UnitOfWork, l *models.Lobby, matchID int64, winner int, participants []*models.MatchParticipant) ([]models.RatingChange, error) {
	engine := rating.NewEngine(uow.Ratings()).ForMatch(matchID)
	logger := log.WithFields(log.Fields{"lobbyId": l.ID, "matchId": matchID})

	if l.MatchType == models.MatchTypeTeam {
		if l.TeamID == nil || l.OpponentTeamID == nil {
			logger.Warn("Team lobby has no opponent team, skipping ratings")
			return nil, nil
		}
		winningTeam, losingTeam := *l.TeamID, *l.OpponentTeamID
		if winner == 2 {
			winningTeam, losingTeam = losingTeam, winningTeam
		}
		return engine.UpdateTeamMatchRatings(ctx, winningTeam, losingTeam)
	}

	seats := make([]sidedPlayer, 0, len(l.Players))
	for _, p := range l.Players {
		if p.PlayerID != nil {
			seats = append(seats, sidedPlayer{*p.PlayerID, p.Team})
		}
	}
	winners, losers := splitSides(seats, winner)
	if len(winners) == 0 || len(losers) == 0 {
		// Queue lobbies only seat the creator, so the tracked participants
		// are the record of who played on which side.
		tracked := make([]sidedPlayer, 0, len(participants))
		for _, p := range participants {
			if p.PlayerID != nil {
				tracked = append(tracked, sidedPlayer{*p.PlayerID, p.Team})
			}
		}
		winners, losers = splitSides(tracked, winner)
	}
	if len(winners) == 0 || len(losers) == 0 {
		logger.WithFields(log.Fields{"winners": len(winners), "losers": len(losers)}).
			Warn("Lobby lacks players on both sides, skipping ratings")
		return nil, nil
	}
	return engine.UpdateIndividualMatchRatings(ctx, winners, losers)
}

type sidedPlayer struct {
	id   int64
	side int
}

func splitSides(players []sidedPlayer, winner int) (winners, losers []int64) {
	for _, p := range players {
		if p.side == winner {
			winners = append(winners, p.id)
		} else {
			losers = append(losers, p.id)
		}
	}
	return winners, losers
}

// RecalculateTeamRating refreshes a team's rating from its current roster.
// Only members of the team may trigger it.
func (s *Service) RecalculateTeamRating(ctx context.Context, teamID, callerID int64) (int, error) {
	uow, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer uow.Rollback()

	team, err := uow.Teams().GetByID(ctx, teamID)
	if err != nil {
		return 0, err
	}
	if team == nil {
		return 0, apperr.NotFound("team %d not found", teamID)
	}
	if !team.HasMember(callerID) {
		return 0, apperr.Forbidden("player %d is not on team %d", callerID, teamID)
	}

	r, err := rating.NewEngine(uow.Ratings()).RecalculateOnMemberChange(ctx, teamID)
	if err != nil {
		return 0, err
	}
	if err := uow.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit team rating: %w", err)
	}
	return r, nil
}

// Join is reserved for open-slot queueing.
func (s *Service) Join(ctx context.Context, lobbyID, playerID int64) error {
	return apperr.NotImplemented("joining lobbies is not supported yet")
}

// Leave is reserved for open-slot queueing.
func (s *Service) Leave(ctx context.Context, lobbyID, playerID int64) error {
	return apperr.NotImplemented("leaving lobbies is not supported yet")
}

// Invite is reserved for open-slot queueing.
func (s *Service) Invite(ctx context.Context, lobbyID, callerID, inviteeID int64) error {
	return apperr.NotImplemented("lobby invites are not supported yet")
}
