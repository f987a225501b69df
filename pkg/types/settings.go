package types

import "time"

// AIConfig is the persisted completion-service configuration. It is the only
// record that carries credentials and is never included in snapshots.
type AIConfig struct {
	Provider string `json:"provider,omitempty"` // "anthropic", "openai" or "" (inferred from BaseURL)
	BaseURL  string `json:"baseUrl"`
	APIKey   string `json:"apiKey"`
	Model    string `json:"model"`
}

// Enabled reports whether enough is configured to call a completion service.
func (c *AIConfig) Enabled() bool {
	return c != nil && c.APIKey != ""
}

// Stats summarizes the persisted state for consumers.
type Stats struct {
	Articles         int       `json:"articles"`
	ChangelogEntries int       `json:"changelogEntries"`
	Entities         int       `json:"entities"`
	Relations        int       `json:"relations"`
	Clusters         int       `json:"clusters"`
	GraphUpdatedAt   time.Time `json:"graphUpdatedAt"`
	AIEnabled        bool      `json:"aiEnabled"`
}
