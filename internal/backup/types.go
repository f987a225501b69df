// Package backup exports point-in-time snapshots of the Storyline state to a
// local directory or an S3 bucket and prunes old ones.
//
// A snapshot is one JSON document holding the article cache, the changelog,
// the entity graph and the cluster set. Completion-service credentials are
// never exported.
package backup

import (
	"context"
	"time"

	"github.com/scrypster/storyline/pkg/types"
)

// Config holds backup service configuration.
type Config struct {
	// Retention is how many snapshots to keep, newest first (default: 7).
	Retention int

	// Interval is the duration between automated snapshots. Zero disables
	// the background loop; Snapshot can still be called directly.
	Interval time.Duration
}

// Snapshot is the exported document.
type Snapshot struct {
	TakenAt   time.Time              `json:"taken_at"`
	Articles  []types.Article        `json:"articles"`
	Changelog []types.ChangelogEntry `json:"changelog"`
	Graph     *types.EntityGraph     `json:"graph,omitempty"`
	Clusters  []types.StoryCluster   `json:"clusters"`
}

// SnapshotInfo describes one stored snapshot.
type SnapshotInfo struct {
	// Name is the object or file name, unique per snapshot.
	Name string

	// TakenAt is when the snapshot was taken.
	TakenAt time.Time

	// Size is the document size in bytes.
	Size int64
}

// Result contains the result of a snapshot operation.
type Result struct {
	Name      string
	Duration  time.Duration
	Size      int64
	Articles  int
	Changelog int
	Clusters  int
}

// Sink stores snapshot documents.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	// List returns stored snapshots, newest first.
	List(ctx context.Context) ([]SnapshotInfo, error)
	Delete(ctx context.Context, name string) error
	// Location describes where snapshots go, for logs.
	Location() string
}
