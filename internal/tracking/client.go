// internal/tracking/client.go
package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jason-s-yu/scrimlobby/internal/apperr"
	log "github.com/sirupsen/logrus"
)

// Webhook paths the tracking service calls back on, relative to the backend URL.
const (
	MatchStartedPath   = "/webhook/match-started"
	MatchCompletedPath = "/webhook/match-completed"
)

// TrackMatchRequest is the body of POST {trackingServiceUrl}/track_match.
type TrackMatchRequest struct {
	LobbyID  int64    `json:"lobbyId"`
	PUUIDs   []string `json:"puuids"`
	Webhooks Webhooks `json:"webhooks"`
}

// Webhooks are the callback URLs handed to the tracking service.
type Webhooks struct {
	MatchStarted   string `json:"matchStarted"`
	MatchCompleted string `json:"matchCompleted"`
}

// Client asks the external tracking service to follow a lobby's game.
// It never touches persisted state.
type Client struct {
	baseURL    string
	backendURL string
	httpClient *http.Client
}

// NewClient builds a client. timeout bounds the whole round trip; zero means 10s.
func NewClient(trackingServiceURL, backendURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    trackingServiceURL,
		backendURL: backendURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// TrackMatch sends a single request with no retry. Any transport failure or
// non-2xx response is returned as an UpstreamUnavailable error carrying the
// upstream status when there was one.
func (c *Client) TrackMatch(ctx context.Context, lobbyID int64, puuids []string) error {
	if puuids == nil {
		puuids = []string{}
	}
	body, err := json.Marshal(TrackMatchRequest{
		LobbyID: lobbyID,
		PUUIDs:  puuids,
		Webhooks: Webhooks{
			MatchStarted:   c.backendURL + MatchStartedPath,
			MatchCompleted: c.backendURL + MatchCompletedPath,
		},
	})
	if err != nil {
		return apperr.Internal(err, "failed to encode tracking request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/track_match", bytes.NewReader(body))
	if err != nil {
		return apperr.Internal(err, "failed to build tracking request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithFields(log.Fields{
			"lobbyId": lobbyID,
			"error":   err,
		}).Warn("Tracking service unreachable")
		return apperr.Upstream(0, err, "tracking service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.WithFields(log.Fields{
			"lobbyId": lobbyID,
			"status":  resp.StatusCode,
			"body":    string(snippet),
		}).Warn("Tracking service rejected match")
		return apperr.Upstream(resp.StatusCode, fmt.Errorf("tracking service: %s", bytes.TrimSpace(snippet)),
			"tracking service returned status %d", resp.StatusCode)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	log.WithFields(log.Fields{
		"lobbyId":  lobbyID,
		"players":  len(puuids),
		"duration": time.Since(start),
	}).Info("Tracking requested")
	return nil
}
