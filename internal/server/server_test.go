package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/storyline/internal/config"
	"github.com/scrypster/storyline/internal/engine"
	"github.com/scrypster/storyline/internal/server"
	"github.com/scrypster/storyline/internal/storage/memory"
	"github.com/scrypster/storyline/web/handlers"
)

// startTestServer starts a server on a random port over an in-memory store.
func startTestServer(t *testing.T, cfg *config.Config) (string, *handlers.WebSocketHub) {
	t.Helper()

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	eng, err := engine.NewStoryline(context.Background(), memory.NewStore(), engine.DefaultConfig(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	addr, hub, err := server.Start(ctx, cfg, eng)
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		time.Sleep(50 * time.Millisecond)
		_ = eng.Close()
	})

	return addr, hub
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_StartsOnRandomPort(t *testing.T) {
	addr, _ := startTestServer(t, config.Default())
	assert.NotContains(t, addr, ":0")
}

func TestServer_Health(t *testing.T) {
	addr, _ := startTestServer(t, config.Default())

	for _, path := range []string{"/health", "/api/health"} {
		resp := get(t, "http://"+addr+path, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "healthy")
		assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	}
}

func TestServer_ProductionRequiresToken(t *testing.T) {
	cfg := config.Default()
	cfg.Server.SecurityMode = "production"
	cfg.Server.APIToken = "s3cret"
	addr, _ := startTestServer(t, cfg)

	assert.Equal(t, http.StatusUnauthorized, get(t, "http://"+addr+"/api/stats", "").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, "http://"+addr+"/api/stats", "s3cret").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, "http://"+addr+"/health", "").StatusCode, "health is public")
}

func TestServer_MethodNotAllowed(t *testing.T) {
	addr, _ := startTestServer(t, config.Default())

	resp := get(t, "http://"+addr+"/api/graph/rebuild", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_BroadcastsChanges(t *testing.T) {
	addr, hub := startTestServer(t, config.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+addr+"/ws", nil) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	require.NoError(t, err)
	defer conn.CloseNow() //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	post := func(body string) {
		resp, err := http.Post("http://"+addr+"/api/articles", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	post(`{"id":"a1","url":"https://x/a1","title":"Storm nears coast"}`)
	post(`{"id":"a1","url":"https://x/a1","title":"Storm makes landfall"}`)

	_, msg, err := conn.Read(ctx)
	require.NoError(t, err)

	var event handlers.Event
	require.NoError(t, json.Unmarshal(msg, &event))
	assert.Equal(t, engine.EventChanges, event.Type)
	assert.Contains(t, string(msg), "Storm makes landfall")
}

func TestServer_RejectsForeignOrigin(t *testing.T) {
	addr, _ := startTestServer(t, config.Default())

	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/ws", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
