package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/jason-s-yu/scrimlobby/internal/apperr"
	"github.com/jason-s-yu/scrimlobby/internal/lobby"
	"github.com/jason-s-yu/scrimlobby/internal/models"
	"github.com/jason-s-yu/scrimlobby/internal/tracking"
)

// WebhookSecretHeader carries the shared secret on tracking callbacks.
const WebhookSecretHeader = "X-Webhook-Secret"

func (s *APIServer) checkWebhookSecret(r *http.Request) error {
	if s.webhookSecret == "" {
		return nil
	}
	got := r.Header.Get(WebhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.webhookSecret)) != 1 {
		return apperr.Unauthorized("invalid webhook secret")
	}
	return nil
}

// MatchStartedWebhook handles the tracking service's match-started callback.
func (s *APIServer) MatchStartedWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.checkWebhookSecret(r); err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	p, err := tracking.DecodeMatchStarted(r.Body)
	if err != nil {
		writeError(s.logger, w, r, err)
		return
	}

	match, err := s.lobbies.HandleMatchStarted(r.Context(), lobby.MatchStarted{
		LobbyID:     p.LobbyID,
		RiotMatchID: p.MatchID,
		GameMode:    p.GameMode,
	})
	if err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, match)
}

// MatchCompletedWebhook handles the tracking service's match-completed callback.
func (s *APIServer) MatchCompletedWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.checkWebhookSecret(r); err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	p, err := tracking.DecodeMatchCompleted(r.Body)
	if err != nil {
		writeError(s.logger, w, r, err)
		return
	}

	participants := make([]*models.MatchParticipant, 0, len(p.Participants))
	for _, ps := range p.Participants {
		participants = append(participants, &models.MatchParticipant{
			PUUID:        ps.PUUID,
			Team:         ps.Team,
			ChampionName: ps.ChampionName,
			Role:         ps.Role,
			Kills:        ps.Kills,
			Deaths:       ps.Deaths,
			Assists:      ps.Assists,
			CS:           ps.CS,
			Gold:         ps.Gold,
			Items:        ps.Items,
			Spells:       ps.Spells,
			Win:          ps.Win,
		})
	}

	res, err := s.lobbies.HandleMatchCompleted(r.Context(), lobby.MatchCompleted{
		LobbyID:      p.LobbyID,
		RiotMatchID:  p.MatchID,
		GameMode:     p.GameMode,
		Duration:     p.GameDuration,
		WinningTeam:  p.WinningTeam,
		Participants: participants,
	})
	if err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
