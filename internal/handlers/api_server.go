// internal/handlers/api_server.go
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jason-s-yu/scrimlobby/internal/lobby"
	"github.com/jason-s-yu/scrimlobby/internal/middleware"
	"github.com/jason-s-yu/scrimlobby/internal/models"
	"github.com/jason-s-yu/scrimlobby/internal/realtime"
	"github.com/sirupsen/logrus"
)

// LobbyService is the lifecycle controller surface the API drives.
type LobbyService interface {
	Create(ctx context.Context, ownerID int64, in lobby.CreateInput) (*models.Lobby, error)
	Get(ctx context.Context, lobbyID int64) (*models.Lobby, error)
	List(ctx context.Context, filter models.LobbyFilter) ([]*models.Lobby, error)
	Update(ctx context.Context, lobbyID, callerID int64, upd models.LobbyUpdate) (*models.Lobby, error)
	Delete(ctx context.Context, lobbyID, callerID int64) error
	ToggleReady(ctx context.Context, lobbyID, playerID int64) (*models.Lobby, error)
	StartMatch(ctx context.Context, lobbyID, callerID int64) (*models.Lobby, error)
	Cancel(ctx context.Context, lobbyID, callerID int64) (*models.Lobby, error)
	Join(ctx context.Context, lobbyID, playerID int64) error
	Leave(ctx context.Context, lobbyID, playerID int64) error
	Invite(ctx context.Context, lobbyID, callerID, inviteeID int64) error
	HandleMatchStarted(ctx context.Context, in lobby.MatchStarted) (*models.Match, error)
	HandleMatchCompleted(ctx context.Context, in lobby.MatchCompleted) (*lobby.MatchResult, error)
	RecalculateTeamRating(ctx context.Context, teamID, callerID int64) (int, error)
}

var _ LobbyService = (*lobby.Service)(nil)

// APIServer holds the dependencies of the HTTP surface.
type APIServer struct {
	logger        *logrus.Logger
	lobbies       LobbyService
	hub           *realtime.Hub
	webhookSecret string
}

// NewAPIServer builds the API. An empty webhookSecret disables the
// callback secret check.
func NewAPIServer(logger *logrus.Logger, lobbies LobbyService, hub *realtime.Hub, webhookSecret string) *APIServer {
	return &APIServer{
		logger:        logger,
		lobbies:       lobbies,
		hub:           hub,
		webhookSecret: webhookSecret,
	}
}

// Router wires every route behind the request logger.
func (s *APIServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(mux.MiddlewareFunc(middleware.LogMiddleware(s.logger)))

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/events", realtime.SSEHandler(s.hub)).Methods(http.MethodGet)
	r.HandleFunc("/ws", realtime.WSHandler(s.hub)).Methods(http.MethodGet)

	r.HandleFunc("/webhook/match-started", s.MatchStartedWebhook).Methods(http.MethodPost)
	r.HandleFunc("/webhook/match-completed", s.MatchCompletedWebhook).Methods(http.MethodPost)

	lobbies := r.PathPrefix("/lobbies").Subrouter()
	lobbies.Use(requireAuth(s.logger))
	lobbies.HandleFunc("", s.CreateLobby).Methods(http.MethodPost)
	lobbies.HandleFunc("", s.ListLobbies).Methods(http.MethodGet)
	lobbies.HandleFunc("/{id:[0-9]+}", s.GetLobby).Methods(http.MethodGet)
	lobbies.HandleFunc("/{id:[0-9]+}", s.UpdateLobby).Methods(http.MethodPatch)
	lobbies.HandleFunc("/{id:[0-9]+}", s.DeleteLobby).Methods(http.MethodDelete)
	lobbies.HandleFunc("/{id:[0-9]+}/ready", s.ToggleReady).Methods(http.MethodPost)
	lobbies.HandleFunc("/{id:[0-9]+}/start", s.StartMatch).Methods(http.MethodPost)
	lobbies.HandleFunc("/{id:[0-9]+}/cancel", s.CancelLobby).Methods(http.MethodPost)
	lobbies.HandleFunc("/{id:[0-9]+}/join", s.JoinLobby).Methods(http.MethodPost)
	lobbies.HandleFunc("/{id:[0-9]+}/leave", s.LeaveLobby).Methods(http.MethodPost)
	lobbies.HandleFunc("/{id:[0-9]+}/invite", s.InviteToLobby).Methods(http.MethodPost)

	teams := r.PathPrefix("/teams").Subrouter()
	teams.Use(requireAuth(s.logger))
	teams.HandleFunc("/{id:[0-9]+}/rating/recalculate", s.RecalculateTeamRating).Methods(http.MethodPost)

	return r
}

func (s *APIServer) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.Count(),
		"time":    time.Now().UTC(),
	})
}
