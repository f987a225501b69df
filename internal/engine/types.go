// Package engine provides the Storyline service: it wires change detection,
// entity graph building and story clustering over one storage.Repository and
// serializes every write operation per resource.
package engine

import (
	"fmt"
	"time"

	"github.com/scrypster/storyline/internal/entities"
	"github.com/scrypster/storyline/internal/stories"
)

// Config holds configuration for the Storyline engine.
type Config struct {
	// MaxGraphEntities is how many entities survive graph pruning (default: 50).
	MaxGraphEntities int

	// MaxEntitiesPerArticle caps the entities of one article used for pairing (default: 25).
	MaxEntitiesPerArticle int

	// ClusterThreshold is the blended similarity needed to join a cluster (default: 0.3).
	ClusterThreshold float64

	// LLM settings applied to every completion client the engine builds.
	// Provider, BaseURL, APIKey and Model come from the persisted AIConfig when
	// one exists.
	MaxTokens         int
	RequestTimeout    time.Duration
	RequestsPerSecond float64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxGraphEntities:      entities.DefaultMaxEntities,
		MaxEntitiesPerArticle: entities.DefaultMaxEntitiesPerArticle,
		ClusterThreshold:      stories.DefaultThreshold,
		MaxTokens:             2048,
		RequestTimeout:        60 * time.Second,
		RequestsPerSecond:     2,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.MaxGraphEntities < 1 {
		return fmt.Errorf("MaxGraphEntities must be >= 1, got %d", c.MaxGraphEntities)
	}
	if c.MaxEntitiesPerArticle < 2 {
		return fmt.Errorf("MaxEntitiesPerArticle must be >= 2, got %d", c.MaxEntitiesPerArticle)
	}
	if c.ClusterThreshold <= 0 || c.ClusterThreshold > 1 {
		return fmt.Errorf("ClusterThreshold must be in (0, 1], got %v", c.ClusterThreshold)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("RequestTimeout must be >= 0, got %v", c.RequestTimeout)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("RequestsPerSecond must be >= 0, got %v", c.RequestsPerSecond)
	}
	return nil
}

// Event names passed to subscribers.
const (
	EventChanges       = "changes"
	EventGraphBuilt    = "graph_built"
	EventClustersBuilt = "clusters_built"
)
