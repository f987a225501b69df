package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/scrypster/storyline/internal/changes"
	"github.com/scrypster/storyline/internal/entities"
	"github.com/scrypster/storyline/internal/ingest"
	"github.com/scrypster/storyline/internal/storage"
	"github.com/scrypster/storyline/internal/stories"
	"github.com/scrypster/storyline/pkg/types"
)

// maxBodyBytes bounds request bodies accepted by the API.
const maxBodyBytes = 10 << 20

// Engine is the subset of the Storyline engine the API serves.
type Engine interface {
	ProcessArticles(ctx context.Context, articles []types.Article) (*changes.Result, error)
	RebuildGraph(ctx context.Context) (*entities.Report, error)
	RebuildClusters(ctx context.Context) (*stories.Report, error)
	Changelog(ctx context.Context, articleID string) ([]types.ChangelogEntry, error)
	RecentChanges(ctx context.Context, limit int) ([]types.ChangelogEntry, error)
	ResetChangelog(ctx context.Context) error
	Graph(ctx context.Context) (*types.EntityGraph, error)
	RelatedEntities(ctx context.Context, entityID string) ([]entities.RelatedEntity, error)
	EntityArticles(ctx context.Context, entityID string) ([]types.Article, error)
	Clusters(ctx context.Context) ([]types.StoryCluster, error)
	Cluster(ctx context.Context, id string) (*types.StoryCluster, error)
	Stats(ctx context.Context) (*types.Stats, error)
	AIConfig(ctx context.Context) (*types.AIConfig, error)
	SaveAIConfig(ctx context.Context, ai types.AIConfig) error
}

// APIHandlers contains HTTP handlers for the REST API.
type APIHandlers struct {
	engine Engine
}

// NewAPIHandlers creates a new APIHandlers instance.
func NewAPIHandlers(engine Engine) *APIHandlers {
	return &APIHandlers{engine: engine}
}

// ProcessArticles handles POST /api/articles. The body is a single article
// or an array of articles.
func (h *APIHandlers) ProcessArticles(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	articles, err := ingest.DecodeBatch(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	result, err := h.engine.ProcessArticles(r.Context(), articles)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	resp := ProcessResponse{
		Entries: result.Entries,
		New:     result.New,
		Updated: result.Updated,
		Skipped: result.Skipped,
	}
	if resp.Entries == nil {
		resp.Entries = []types.ChangelogEntry{}
	}
	if result.PersistErr != nil {
		log.Printf("handlers: process articles: %v", result.PersistErr)
		resp.Warning = result.PersistErr.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

// RebuildGraph handles POST /api/graph/rebuild.
func (h *APIHandlers) RebuildGraph(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.RebuildGraph(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}

	resp := GraphBuildResponse{Extraction: report.Extraction}
	if report.Graph != nil {
		resp.Entities = len(report.Graph.Entities)
		resp.Relations = len(report.Graph.Relations)
		resp.LastUpdated = report.Graph.LastUpdated
	}
	if report.PersistErr != nil {
		resp.Warning = report.PersistErr.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

// RebuildClusters handles POST /api/clusters/rebuild.
func (h *APIHandlers) RebuildClusters(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.RebuildClusters(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}

	resp := ClusterBuildResponse{
		Clusters:  len(report.Clusters),
		Matched:   report.Matched,
		Summaries: report.Summaries,
		Changes:   report.Changes,
	}
	if report.PersistErr != nil {
		resp.Warning = report.PersistErr.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetChangelog handles GET /api/articles/{id}/changelog.
func (h *APIHandlers) GetChangelog(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entries, err := h.engine.Changelog(r.Context(), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ChangelogResponse{
		ArticleID: id,
		Entries:   entries,
		Count:     len(entries),
	})
}

// GetRecentChanges handles GET /api/changes?limit=N, newest first.
func (h *APIHandlers) GetRecentChanges(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	if limit > 1000 {
		limit = 1000
	}
	entries, err := h.engine.RecentChanges(r.Context(), limit)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// ResetChangelog handles POST /api/changelog/reset.
func (h *APIHandlers) ResetChangelog(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ResetChangelog(r.Context()); err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetGraph handles GET /api/graph.
func (h *APIHandlers) GetGraph(w http.ResponseWriter, r *http.Request) {
	graph, err := h.engine.Graph(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, graph)
}

// GetRelatedEntities handles GET /api/entities/{id}/related.
func (h *APIHandlers) GetRelatedEntities(w http.ResponseWriter, r *http.Request) {
	related, err := h.engine.RelatedEntities(r.Context(), r.PathValue("id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if related == nil {
		related = []entities.RelatedEntity{}
	}
	respondJSON(w, http.StatusOK, related)
}

// GetEntityArticles handles GET /api/entities/{id}/articles.
func (h *APIHandlers) GetEntityArticles(w http.ResponseWriter, r *http.Request) {
	articles, err := h.engine.EntityArticles(r.Context(), r.PathValue("id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if articles == nil {
		articles = []types.Article{}
	}
	respondJSON(w, http.StatusOK, articles)
}

// GetClusters handles GET /api/clusters.
func (h *APIHandlers) GetClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := h.engine.Clusters(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, clusters)
}

// GetCluster handles GET /api/clusters/{id}.
func (h *APIHandlers) GetCluster(w http.ResponseWriter, r *http.Request) {
	cluster, err := h.engine.Cluster(r.Context(), r.PathValue("id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cluster)
}

// GetStats handles GET /api/stats.
func (h *APIHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// GetAISettings handles GET /api/settings/ai. The API key is never echoed.
func (h *APIHandlers) GetAISettings(w http.ResponseWriter, r *http.Request) {
	ai, err := h.engine.AIConfig(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, AIConfigResponse{
		Provider: ai.Provider,
		BaseURL:  ai.BaseURL,
		APIKey:   maskKey(ai.APIKey),
		Model:    ai.Model,
		Enabled:  ai.Enabled(),
	})
}

// PutAISettings handles PUT /api/settings/ai. A body echoed back from GET
// carries the masked key, so an empty or masked key keeps the saved one.
func (h *APIHandlers) PutAISettings(w http.ResponseWriter, r *http.Request) {
	var req AISettingsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	ai := types.AIConfig{
		Provider: req.Provider,
		BaseURL:  req.BaseURL,
		APIKey:   req.APIKey,
		Model:    req.Model,
	}
	switch {
	case req.Enabled != nil && !*req.Enabled:
		ai.APIKey = ""
	case req.APIKey == "" || strings.HasPrefix(req.APIKey, "****"):
		current, err := h.engine.AIConfig(r.Context())
		if err != nil {
			respondEngineError(w, err)
			return
		}
		if req.APIKey != "" && req.APIKey != maskKey(current.APIKey) {
			respondEngineError(w, fmt.Errorf("%w: masked apiKey does not match the saved key", storage.ErrInvalidInput))
			return
		}
		ai.APIKey = current.APIKey
	}

	if err := h.engine.SaveAIConfig(r.Context(), ai); err != nil {
		respondEngineError(w, err)
		return
	}
	h.GetAISettings(w, r)
}

// maskKey keeps the last four characters of a key.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// respondEngineError maps engine errors to HTTP statuses.
func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "invalid input", err)
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusServiceUnavailable, "request cancelled", err)
	default:
		log.Printf("handlers: %v", err)
		respondError(w, http.StatusInternalServerError, "internal error", err)
	}
}

// parseInt parses an integer from a string, returning defaultValue if parsing fails.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// headers already sent
		log.Printf("handlers: failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}
