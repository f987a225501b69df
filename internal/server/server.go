// Package server provides HTTP server initialization and lifecycle management
// for the Storyline API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/storyline/internal/config"
	"github.com/scrypster/storyline/internal/engine"
	"github.com/scrypster/storyline/pkg/types"
	"github.com/scrypster/storyline/web/handlers"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// writeTimeout bounds every response except the rebuild routes, which use
// ServerConfig.RebuildTimeout.
const writeTimeout = 30 * time.Second

// Engine is what the server needs from the Storyline engine: the API
// surface plus the callbacks that feed the WebSocket hub.
type Engine interface {
	handlers.Engine
	SetOnChanges(callback func(entries []types.ChangelogEntry))
	SetOnGraphBuilt(callback func(graph *types.EntityGraph))
	SetOnClustersBuilt(callback func(clusters []types.StoryCluster))
}

// Start initializes and starts the HTTP server.
// Returns the actual address being listened on (useful for testing with port 0)
// and the WebSocketHub that engine events are broadcast on. The server shuts
// down when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, eng Engine) (string, *handlers.WebSocketHub, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	wsHub := handlers.NewWebSocketHub(allowedOrigins(cfg, listener.Addr()))
	go wsHub.Run()
	wireEvents(eng, wsHub)

	server := &http.Server{
		Addr:         addr,
		Handler:      NewHandler(cfg, eng, wsHub),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	actualAddr := listener.Addr().String()
	log.Printf("server: listening on %s (%s mode)", actualAddr, cfg.Server.SecurityMode)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown error: %v", err)
		}
		wsHub.Stop()
	}()

	return actualAddr, wsHub, nil
}

// NewHandler builds the full middleware chain around the API routes.
func NewHandler(cfg *config.Config, eng handlers.Engine, wsHub *handlers.WebSocketHub) http.Handler {
	api := handlers.NewAPIHandlers(eng)

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/articles", api.ProcessArticles)
	apiMux.HandleFunc("GET /api/articles/{id}/changelog", api.GetChangelog)
	apiMux.HandleFunc("GET /api/changes", api.GetRecentChanges)
	apiMux.HandleFunc("POST /api/changelog/reset", api.ResetChangelog)
	apiMux.HandleFunc("GET /api/graph", api.GetGraph)
	apiMux.HandleFunc("POST /api/graph/rebuild", handlers.ExtendWriteDeadline(cfg.Server.RebuildTimeout, api.RebuildGraph))
	apiMux.HandleFunc("GET /api/entities/{id}/related", api.GetRelatedEntities)
	apiMux.HandleFunc("GET /api/entities/{id}/articles", api.GetEntityArticles)
	apiMux.HandleFunc("GET /api/clusters", api.GetClusters)
	apiMux.HandleFunc("GET /api/clusters/{id}", api.GetCluster)
	apiMux.HandleFunc("POST /api/clusters/rebuild", handlers.ExtendWriteDeadline(cfg.Server.RebuildTimeout, api.RebuildClusters))
	apiMux.HandleFunc("GET /api/stats", api.GetStats)
	apiMux.HandleFunc("GET /api/settings/ai", api.GetAISettings)
	apiMux.HandleFunc("PUT /api/settings/ai", api.PutAISettings)

	mux := http.NewServeMux()

	// no auth: used by monitoring
	mux.HandleFunc("GET /health", health)
	mux.HandleFunc("GET /api/health", health)

	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// origin validation guards the socket
	if wsHub != nil {
		mux.Handle("GET /ws", wsHub)
	}

	rateLimiter := handlers.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.Burst)
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	return handlers.SecurityHeaders(handler)
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"status":"healthy","version":%q}`, Version)
}

// wireEvents forwards engine callbacks to WebSocket clients.
func wireEvents(eng Engine, wsHub *handlers.WebSocketHub) {
	eng.SetOnChanges(func(entries []types.ChangelogEntry) {
		wsHub.Publish(engine.EventChanges, entries)
	})
	eng.SetOnGraphBuilt(func(graph *types.EntityGraph) {
		wsHub.Publish(engine.EventGraphBuilt, map[string]interface{}{
			"entities":    len(graph.Entities),
			"relations":   len(graph.Relations),
			"lastUpdated": graph.LastUpdated,
		})
	})
	eng.SetOnClustersBuilt(func(clusters []types.StoryCluster) {
		wsHub.Publish(engine.EventClustersBuilt, clusters)
	})
}

// allowedOrigins returns the configured WebSocket origins, defaulting to the
// loopback names of the listening port.
func allowedOrigins(cfg *config.Config, addr net.Addr) []string {
	if len(cfg.Server.AllowedOrigins) > 0 {
		return cfg.Server.AllowedOrigins
	}
	port := cfg.Server.Port
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	return []string{
		fmt.Sprintf("localhost:%d", port),
		fmt.Sprintf("127.0.0.1:%d", port),
	}
}
