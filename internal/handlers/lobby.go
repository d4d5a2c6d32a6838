// internal/handlers/lobby.go
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/jason-s-yu/scrimlobby/internal/apperr"
	"github.com/jason-s-yu/scrimlobby/internal/lobby"
	"github.com/jason-s-yu/scrimlobby/internal/models"
)

// CreateLobby handles POST /lobbies.
//
// Request payload: {"title", "description", "ranked", "matchType", "date", "teamId", "opponentTeamId"}
func (s *APIServer) CreateLobby(w http.ResponseWriter, r *http.Request) {
	var in lobby.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	l, err := s.lobbies.Create(r.Context(), callerID(r), in)
	if err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// ListLobbies handles GET /lobbies?status=&owner=&limit=.
func (s *APIServer) ListLobbies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.LobbyFilter{Status: models.LobbyStatus(strings.ToUpper(q.Get("status")))}
	if raw := q.Get("owner"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(s.logger, w, r, apperr.BadRequest("invalid owner %q", raw))
			return
		}
		filter.OwnerID = id
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(s.logger, w, r, apperr.BadRequest("invalid limit %q", raw))
			return
		}
		filter.Limit = n
	}

	lobbies, err := s.lobbies.List(r.Context(), filter)
	if err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	if lobbies == nil {
		lobbies = []*models.Lobby{}
	}
	writeJSON(w, http.StatusOK, lobbies)
}

func (s *APIServer) GetLobby(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	l, err := s.lobbies.Get(r.Context(), id)
	if err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *APIServer) UpdateLobby(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	var upd models.LobbyUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	l, err := s.lobbies.Update(r.Context(), id, callerID(r), upd)
	if err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *APIServer) DeleteLobby(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	if err := s.lobbies.Delete(r.Context(), id, callerID(r)); err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleReady flips the caller's own ready flag.
func (s *APIServer) ToggleReady(w http.ResponseWriter, r *http.Request) {
	s.lobbyAction(w, r, s.lobbies.ToggleReady)
}

// StartMatch asks the tracking service to watch the lobby's game.
func (s *APIServer) StartMatch(w http.ResponseWriter, r *http.Request) {
	s.lobbyAction(w, r, s.lobbies.StartMatch)
}

func (s *APIServer) CancelLobby(w http.ResponseWriter, r *http.Request) {
	s.lobbyAction(w, r, s.lobbies.Cancel)
}

// lobbyAction runs an operation keyed by lobby id and caller, answering with the lobby.
func (s *APIServer) lobbyAction(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, lobbyID, callerID int64) (*models.Lobby, error)) {
	id, err := pathID(r)
	if err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	l, err := op(r.Context(), id, callerID(r))
	if err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *APIServer) JoinLobby(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	if err := s.lobbies.Join(r.Context(), id, callerID(r)); err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) LeaveLobby(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	if err := s.lobbies.Leave(r.Context(), id, callerID(r)); err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InviteToLobby handles POST /lobbies/{id}/invite.
//
// Request payload: {"playerId": 12}
func (s *APIServer) InviteToLobby(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	var req struct {
		PlayerID int64 `json:"playerId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	if err := s.lobbies.Invite(r.Context(), id, callerID(r), req.PlayerID); err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecalculateTeamRating handles POST /teams/{id}/rating/recalculate. Callers
// must be on the team.
func (s *APIServer) RecalculateTeamRating(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	rating, err := s.lobbies.RecalculateTeamRating(r.Context(), id, callerID(r))
	if err != nil {
		writeError(s.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teamId": id, "rating": rating})
}
