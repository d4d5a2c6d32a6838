package tracking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jason-s-yu/scrimlobby/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackMatch_SendsRequest(t *testing.T) {
	var got TrackMatchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/track_match", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "https://api.example.com", time.Second)
	err := client.TrackMatch(context.Background(), 42, []string{"p1", "p2"})
	require.NoError(t, err)

	assert.Equal(t, int64(42), got.LobbyID)
	assert.Equal(t, []string{"p1", "p2"}, got.PUUIDs)
	assert.Equal(t, "https://api.example.com/webhook/match-started", got.Webhooks.MatchStarted)
	assert.Equal(t, "https://api.example.com/webhook/match-completed", got.Webhooks.MatchCompleted)
}

func TestTrackMatch_EmptyPUUIDsEncodeAsArray(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL, "", time.Second).TrackMatch(context.Background(), 1, nil))
	assert.Equal(t, "[]", string(raw["puuids"]))
}

func TestTrackMatch_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "riot api down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "", time.Second).TrackMatch(context.Background(), 1, []string{"p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, apperr.HTTPStatus(err))
}

func TestTrackMatch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewClient(url, "", time.Second).TrackMatch(context.Background(), 1, []string{"p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
	assert.Equal(t, http.StatusBadGateway, apperr.HTTPStatus(err))
}

func TestTrackMatch_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	err := NewClient(srv.URL, "", 50*time.Millisecond).TrackMatch(context.Background(), 1, []string{"p"})
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
}

func TestDecodeMatchCompleted(t *testing.T) {
	body := `{
		"lobby_id": 7,
		"status": "completed",
		"match_id": "NA1_123",
		"game_duration": 1830,
		"winning_team": 100,
		"participants": [
			{"puuid": "a", "team": 100, "champion_name": "Ahri", "kills": 5, "win": true},
			{"puuid": "b", "team": 200, "champion_name": "Zed", "deaths": 5}
		]
	}`
	p, err := DecodeMatchCompleted(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 1, p.WinningTeam)
	assert.Equal(t, 1, p.Participants[0].Team)
	assert.Equal(t, 2, p.Participants[1].Team)
	assert.Equal(t, 1830, *p.GameDuration)
}

func TestDecodeMatchCompleted_Rejects(t *testing.T) {
	cases := map[string]string{
		"malformed":        `{`,
		"missing lobby":    `{"match_id":"x","game_duration":1,"winning_team":1}`,
		"negative duration": `{"lobby_id":1,"match_id":"x","game_duration":-5,"winning_team":1}`,
		"bad side":         `{"lobby_id":1,"match_id":"x","game_duration":1,"winning_team":3}`,
		"wrong status":     `{"lobby_id":1,"match_id":"x","status":"started","game_duration":1,"winning_team":1}`,
		"participant puuid": `{"lobby_id":1,"match_id":"x","game_duration":1,"winning_team":1,
			"participants":[{"team":1}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeMatchCompleted(strings.NewReader(body))
			assert.ErrorIs(t, err, apperr.ErrBadRequest)
		})
	}
}

func TestDecodeMatchCompleted_DurationOptional(t *testing.T) {
	p, err := DecodeMatchCompleted(strings.NewReader(`{"lobby_id":5,"status":"completed","match_id":"EUW1_1","winning_team":100}`))
	require.NoError(t, err)
	assert.Nil(t, p.GameDuration)
	assert.Equal(t, 1, p.WinningTeam)
}

func TestDecodeMatchStarted(t *testing.T) {
	p, err := DecodeMatchStarted(strings.NewReader(`{"lobby_id":3,"status":"started","match_id":"EUW1_9","game_mode":"CLASSIC"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.LobbyID)
	assert.Equal(t, "CLASSIC", p.GameMode)

	_, err = DecodeMatchStarted(strings.NewReader(`{"lobby_id":3}`))
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
}
