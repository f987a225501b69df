package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/scrypster/storyline/internal/storage"
	"github.com/scrypster/storyline/pkg/types"
)

// Source is the state a snapshot reads.
type Source interface {
	storage.ArticleStore
	storage.ChangelogStore
	storage.GraphStore
	storage.ClusterStore
}

// Service takes snapshots of a Source into a Sink.
type Service struct {
	source    Source
	sink      Sink
	retention int
	interval  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	lastTime time.Time
}

// NewService creates a backup service.
func NewService(source Source, sink Sink, cfg Config) (*Service, error) {
	if source == nil || sink == nil {
		return nil, fmt.Errorf("source and sink are required")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7
	}
	return &Service{
		source:    source,
		sink:      sink,
		retention: cfg.Retention,
		interval:  cfg.Interval,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start takes a snapshot every interval until ctx is cancelled or Stop is
// called. It blocks; run it in its own goroutine.
func (s *Service) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("backup interval is not configured")
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("backup service is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("backup: service started (interval=%v, sink=%s)", s.interval, s.sink.Location())

	for {
		select {
		case <-ctx.Done():
			s.setStopped()
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-ticker.C:
			result, err := s.Snapshot(ctx)
			if err != nil {
				log.Printf("backup: scheduled snapshot failed: %v", err)
				continue
			}
			log.Printf("backup: scheduled snapshot %s (%d bytes, %v)", result.Name, result.Size, result.Duration)
		}
	}
}

func (s *Service) setStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Stop stops the background loop.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("backup service is not running")
	}
	close(s.stopCh)
	s.running = false
	return nil
}

// Snapshot exports the current state, stores it and prunes old snapshots.
// A pruning failure is logged but does not fail the snapshot.
func (s *Service) Snapshot(ctx context.Context) (*Result, error) {
	start := time.Now()

	snap, err := s.collect(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	name := snapshotName(snap.TakenAt)
	if err := s.sink.Put(ctx, name, data); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.lastTime = snap.TakenAt
	s.mu.Unlock()

	if removed, err := applyRetention(ctx, s.sink, s.retention); err != nil {
		log.Printf("backup: failed to apply retention: %v", err)
	} else if removed > 0 {
		log.Printf("backup: pruned %d old snapshots", removed)
	}

	return &Result{
		Name:      name,
		Duration:  time.Since(start),
		Size:      int64(len(data)),
		Articles:  len(snap.Articles),
		Changelog: len(snap.Changelog),
		Clusters:  len(snap.Clusters),
	}, nil
}

func (s *Service) collect(ctx context.Context) (*Snapshot, error) {
	cache, err := s.source.GetArticles(ctx)
	if err != nil {
		return nil, err
	}
	articles := make([]types.Article, 0, len(cache))
	for _, a := range cache {
		articles = append(articles, a)
	}
	sort.Slice(articles, func(i, j int) bool { return articles[i].ID < articles[j].ID })

	changelog, err := s.source.ListChangelog(ctx, "")
	if err != nil {
		return nil, err
	}

	graph, err := s.source.GetGraph(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrSchemaVersion) && !errors.Is(err, storage.ErrCorruptRecord) {
			return nil, err
		}
		graph = nil
	}

	clusters, err := s.source.GetClusters(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrSchemaVersion) && !errors.Is(err, storage.ErrCorruptRecord) {
			return nil, err
		}
		clusters = []types.StoryCluster{}
	}

	return &Snapshot{
		TakenAt:   s.now(),
		Articles:  articles,
		Changelog: changelog,
		Graph:     graph,
		Clusters:  clusters,
	}, nil
}

// List lists stored snapshots, newest first.
func (s *Service) List(ctx context.Context) ([]SnapshotInfo, error) {
	return s.sink.List(ctx)
}

// Load reads and decodes a stored snapshot.
func (s *Service) Load(ctx context.Context, name string) (*Snapshot, error) {
	data, err := s.sink.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", name, err)
	}
	return &snap, nil
}

// Restore writes a snapshot into target. target should be empty: existing
// articles are overwritten and changelog entries with the same ids are
// rejected by the backend.
func Restore(ctx context.Context, snap *Snapshot, target storage.Repository) error {
	if err := target.CommitArticles(ctx, snap.Articles, snap.Changelog); err != nil {
		return fmt.Errorf("failed to restore articles: %w", err)
	}
	if snap.Graph != nil {
		if err := target.ReplaceGraph(ctx, snap.Graph); err != nil {
			return fmt.Errorf("failed to restore graph: %w", err)
		}
	}
	if err := target.ReplaceClusters(ctx, snap.Clusters); err != nil {
		return fmt.Errorf("failed to restore clusters: %w", err)
	}
	log.Printf("backup: restored %d articles, %d changelog entries, %d clusters",
		len(snap.Articles), len(snap.Changelog), len(snap.Clusters))
	return nil
}

// LastSnapshot returns when this service last stored a snapshot.
func (s *Service) LastSnapshot() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTime
}
