package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func drain(sub *Subscriber) []Message {
	var out []Message
	for {
		select {
		case m, ok := <-sub.Messages():
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestPublishToLobby_OnlyMatchingSubscribers(t *testing.T) {
	hub := NewHub()
	five := hub.Subscribe("a", int64Ptr(5))
	alsoFive := hub.Subscribe("b", int64Ptr(5))
	six := hub.Subscribe("c", int64Ptr(6))
	global := hub.Subscribe("d", nil)

	n := hub.PublishToLobby(5, "lobby:status-changed", map[string]any{"lobbyId": 5, "status": "STARTING"})
	assert.Equal(t, 2, n)

	assert.Len(t, drain(five), 1)
	assert.Len(t, drain(alsoFive), 1)
	assert.Empty(t, drain(six))
	assert.Empty(t, drain(global))
}

func TestPublishToAll_ReachesEveryone(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe("a", int64Ptr(1))
	b := hub.Subscribe("b", nil)

	assert.Equal(t, 2, hub.PublishToAll(EventKeepalive, nil))
	assert.Equal(t, EventKeepalive, drain(a)[0].Event)
	assert.Equal(t, EventKeepalive, drain(b)[0].Event)
}

func TestUnsubscribe_IsIdempotentAndStopsDelivery(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("a", int64Ptr(5))

	hub.Unsubscribe("a")
	hub.Unsubscribe("a")
	hub.Unsubscribe("never-registered")

	_, open := <-sub.Messages()
	assert.False(t, open)
	assert.Zero(t, hub.Count())
	assert.NotPanics(t, func() {
		assert.Zero(t, hub.PublishToLobby(5, "x", nil))
	})
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(WithBuffer(1))
	slow := hub.Subscribe("slow", int64Ptr(1))
	fast := hub.Subscribe("fast", int64Ptr(1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			hub.PublishToLobby(1, "tick", i)
			<-fast.Messages()
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publishing blocked on a full subscriber")
	}
	assert.Len(t, drain(slow), 1)
}

func TestResubscribeReplacesPrevious(t *testing.T) {
	hub := NewHub()
	first := hub.Subscribe("a", nil)
	second := hub.Subscribe("a", int64Ptr(2))

	_, open := <-first.Messages()
	assert.False(t, open)
	assert.Equal(t, 1, hub.Count())
	assert.Equal(t, 1, hub.PublishToLobby(2, "x", nil))
	assert.Len(t, drain(second), 1)
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(WithBuffer(4))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		id := string(rune('a' + i))
		go func() {
			defer wg.Done()
			hub.Subscribe(id, int64Ptr(1))
		}()
		go func() {
			defer wg.Done()
			hub.PublishToLobby(1, "x", nil)
			hub.PublishToAll("y", nil)
		}()
		go func() {
			defer wg.Done()
			hub.Unsubscribe(id)
		}()
	}
	wg.Wait()
}

func TestRun_SendsKeepaliveAndClosesOnShutdown(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hub := NewHub(WithKeepaliveInterval(10*time.Millisecond), WithClock(func() time.Time { return fixed }))
	sub := hub.Subscribe("a", nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, EventKeepalive, msg.Event)
		assert.Equal(t, map[string]any{"timestamp": fixed}, msg.Data)
	case <-time.After(time.Second):
		t.Fatal("no keepalive received")
	}

	cancel()
	<-stopped
	assert.Zero(t, hub.Count())
}

func TestSSEHandler(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(SSEHandler(hub))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?lobbyId=5", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, Message) {
		var name string
		var msg Message
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg))
			case line == "":
				return name, msg
			}
		}
	}

	name, msg := readEvent()
	assert.Equal(t, EventConnected, name)
	assert.NotEmpty(t, msg.Data.(map[string]any)["clientId"])

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)
	hub.PublishToLobby(6, "ignored", nil)
	hub.PublishToLobby(5, "lobby:status-changed", map[string]any{"lobbyId": 5, "status": "STARTING"})

	name, msg = readEvent()
	assert.Equal(t, "lobby:status-changed", name)
	assert.Equal(t, "lobby:status-changed", msg.Event)
	assert.Equal(t, "STARTING", msg.Data.(map[string]any)["status"])

	cancel()
	require.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSSEHandler_RejectsBadLobbyID(t *testing.T) {
	rec := httptest.NewRecorder()
	SSEHandler(NewHub())(rec, httptest.NewRequest(http.MethodGet, "/events?lobbyId=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWSHandler(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(WSHandler(hub))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"?lobbyId=9", &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	})
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	read := func() Message {
		_, data, err := c.Read(ctx)
		require.NoError(t, err)
		var m Message
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}

	assert.Equal(t, EventConnected, read().Event)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	hub.PublishToLobby(9, "match-started", map[string]any{"lobbyId": 9})
	assert.Equal(t, "match-started", read().Event)
}

func TestWSHandler_RequiresSubprotocol(t *testing.T) {
	srv := httptest.NewServer(WSHandler(NewHub()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	_, _, err = c.Read(ctx)
	assert.Equal(t, websocket.StatusCode(BadSubprotocolError), websocket.CloseStatus(err))
}
