package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/storyline/web/handlers"
)

func upgradeRequest(origin string) *http.Request {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	return req
}

func TestWebSocketHub_ValidatesOrigin(t *testing.T) {
	hub := handlers.NewWebSocketHub([]string{"localhost:6464"})
	defer hub.Stop()

	w := httptest.NewRecorder()
	hub.ServeHTTP(w, upgradeRequest("http://evil.com"))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Forbidden")
}

func TestWebSocketHub_Publish(t *testing.T) {
	hub := handlers.NewWebSocketHub(nil)
	go hub.Run()
	defer hub.Stop()

	received := make(chan []byte, 1)
	hub.Subscribe(&handlers.MockClient{SendChan: received})
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish("graph_built", map[string]int{"entities": 3})

	select {
	case msg := <-received:
		var event handlers.Event
		require.NoError(t, json.Unmarshal(msg, &event))
		assert.Equal(t, "graph_built", event.Type)
		assert.False(t, event.Time.IsZero())
		assert.Contains(t, string(msg), `"entities":3`)
	case <-time.After(1 * time.Second):
		t.Fatal("Timeout waiting for broadcast message")
	}
}

func TestWebSocketHub_DropsSlowClient(t *testing.T) {
	hub := handlers.NewWebSocketHub(nil)
	go hub.Run()
	defer hub.Stop()

	slow := make(chan []byte) // unbuffered and never read
	hub.Subscribe(&handlers.MockClient{SendChan: slow})
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish("changes", []string{"entry-1"})

	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-slow
	assert.False(t, open, "an evicted subscriber's channel is closed")
}

func TestWebSocketHub_EncodesEachEventOnce(t *testing.T) {
	hub := handlers.NewWebSocketHub(nil)
	go hub.Run()
	defer hub.Stop()

	a := make(chan []byte, 1)
	b := make(chan []byte, 1)
	hub.Subscribe(&handlers.MockClient{SendChan: a})
	hub.Subscribe(&handlers.MockClient{SendChan: b})
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Publish("clusters_built", []string{"c1"})

	var frames [][]byte
	for _, ch := range []chan []byte{a, b} {
		select {
		case f := <-ch:
			frames = append(frames, f)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
	assert.Equal(t, frames[0], frames[1])
	assert.Same(t, &frames[0][0], &frames[1][0], "one encoding shared by every subscriber")
}

func TestWebSocketHub_StopDetachesSubscribers(t *testing.T) {
	hub := handlers.NewWebSocketHub(nil)
	go hub.Run()

	ch := make(chan []byte, 1)
	hub.Subscribe(&handlers.MockClient{SendChan: ch})
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Stop()
	assert.Zero(t, hub.ClientCount())
	_, open := <-ch
	assert.False(t, open)
}

func TestWebSocketHub_UnsubscribeAfterStop(t *testing.T) {
	hub := handlers.NewWebSocketHub(nil)
	go hub.Run()
	hub.Stop()

	done := make(chan struct{})
	go func() {
		hub.Unsubscribe(&handlers.MockClient{SendChan: make(chan []byte)})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Unsubscribe blocked after Stop")
	}
}
