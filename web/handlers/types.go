package handlers

import (
	"time"

	"github.com/scrypster/storyline/internal/llm"
	"github.com/scrypster/storyline/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ChangelogResponse is the response format for GET /api/articles/{id}/changelog.
type ChangelogResponse struct {
	ArticleID string                 `json:"articleId"`
	Entries   []types.ChangelogEntry `json:"entries"`
	Count     int                    `json:"count"`
}

// ProcessResponse is the response format for POST /api/articles.
type ProcessResponse struct {
	Entries []types.ChangelogEntry `json:"entries"`
	New     int                    `json:"new"`
	Updated int                    `json:"updated"`
	Skipped int                    `json:"skipped"`
	Warning string                 `json:"warning,omitempty"`
}

// GraphBuildResponse is the response format for POST /api/graph/rebuild.
type GraphBuildResponse struct {
	Entities    int       `json:"entities"`
	Relations   int       `json:"relations"`
	LastUpdated time.Time `json:"lastUpdated"`
	Extraction  llm.Tally `json:"extraction"`
	Warning     string    `json:"warning,omitempty"`
}

// ClusterBuildResponse is the response format for POST /api/clusters/rebuild.
type ClusterBuildResponse struct {
	Clusters  int       `json:"clusters"`
	Matched   int       `json:"matched"`
	Summaries llm.Tally `json:"summaries"`
	Changes   llm.Tally `json:"changes"`
	Warning   string    `json:"warning,omitempty"`
}

// AIConfigResponse is the response format for GET /api/settings/ai.
// The API key is masked.
type AIConfigResponse struct {
	Provider string `json:"provider"`
	BaseURL  string `json:"baseUrl"`
	APIKey   string `json:"apiKey"`
	Model    string `json:"model"`
	Enabled  bool   `json:"enabled"`
}

// AISettingsRequest is the body of PUT /api/settings/ai. An empty or masked
// apiKey keeps the saved key; "enabled": false clears it.
type AISettingsRequest struct {
	Provider string `json:"provider"`
	BaseURL  string `json:"baseUrl"`
	APIKey   string `json:"apiKey"`
	Model    string `json:"model"`
	Enabled  *bool  `json:"enabled,omitempty"`
}

// Event is pushed to WebSocket clients.
type Event struct {
	Type string      `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data,omitempty"`
}
