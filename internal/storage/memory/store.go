// Package memory provides an in-process storage.Repository. State lives for
// the lifetime of the Store; it backs tests and ephemeral runs.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/scrypster/storyline/internal/storage"
	"github.com/scrypster/storyline/pkg/types"
)

// Store implements storage.Repository with maps guarded by a mutex.
// Graph, clusters and AI config are kept as encoded envelopes so callers
// never share memory with the store.
type Store struct {
	mu        sync.RWMutex
	articles  map[string]types.Article
	changelog []types.ChangelogEntry
	records   map[string][]byte
}

// NewStore creates an empty in-memory repository.
func NewStore() *Store {
	return &Store{
		articles: make(map[string]types.Article),
		records:  make(map[string][]byte),
	}
}

func (s *Store) GetArticles(ctx context.Context) (map[string]types.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.ReadError(storage.RecordArticles, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]types.Article, len(s.articles))
	for id, a := range s.articles {
		out[id] = a
	}
	return out, nil
}

// CommitArticles builds the next article map and changelog aside, then
// swaps both in under the lock.
func (s *Store) CommitArticles(ctx context.Context, articles []types.Article, entries []types.ChangelogEntry) error {
	if err := ctx.Err(); err != nil {
		return storage.WriteError(storage.RecordArticles, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]types.Article, len(s.articles)+len(articles))
	for id, a := range s.articles {
		next[id] = a
	}
	for _, a := range articles {
		if a.ID == "" {
			return storage.WriteError(storage.RecordArticles, storage.ErrInvalidInput)
		}
		next[a.ID] = a
	}

	log := make([]types.ChangelogEntry, 0, len(s.changelog)+len(entries))
	log = append(log, s.changelog...)
	log = append(log, entries...)

	s.articles = next
	s.changelog = log
	return nil
}

func (s *Store) ListChangelog(ctx context.Context, articleID string) ([]types.ChangelogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.ReadError(storage.RecordChangelog, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.ChangelogEntry, 0)
	for _, e := range s.changelog {
		if articleID == "" || e.ArticleID == articleID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) CountChangelog(ctx context.Context, articleID string) (int, error) {
	entries, err := s.ListChangelog(ctx, articleID)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (s *Store) ResetChangelog(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return storage.WriteError(storage.RecordChangelog, err)
	}
	s.mu.Lock()
	s.changelog = nil
	s.mu.Unlock()
	return nil
}

func (s *Store) GetGraph(ctx context.Context) (*types.EntityGraph, error) {
	var g types.EntityGraph
	if err := s.getRecord(ctx, storage.RecordGraph, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) ReplaceGraph(ctx context.Context, graph *types.EntityGraph) error {
	if graph == nil {
		return storage.WriteError(storage.RecordGraph, storage.ErrInvalidInput)
	}
	return s.putRecord(ctx, storage.RecordGraph, graph)
}

func (s *Store) GetClusters(ctx context.Context) ([]types.StoryCluster, error) {
	var clusters []types.StoryCluster
	err := s.getRecord(ctx, storage.RecordClusters, &clusters)
	if errors.Is(err, storage.ErrNotFound) {
		return []types.StoryCluster{}, nil
	}
	if err != nil {
		return nil, err
	}
	if clusters == nil {
		clusters = []types.StoryCluster{}
	}
	return clusters, nil
}

func (s *Store) ReplaceClusters(ctx context.Context, clusters []types.StoryCluster) error {
	if clusters == nil {
		clusters = []types.StoryCluster{}
	}
	return s.putRecord(ctx, storage.RecordClusters, clusters)
}

func (s *Store) GetAIConfig(ctx context.Context) (*types.AIConfig, error) {
	var cfg types.AIConfig
	if err := s.getRecord(ctx, storage.RecordAIConfig, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) SaveAIConfig(ctx context.Context, cfg *types.AIConfig) error {
	if cfg == nil {
		return storage.WriteError(storage.RecordAIConfig, storage.ErrInvalidInput)
	}
	return s.putRecord(ctx, storage.RecordAIConfig, cfg)
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) getRecord(ctx context.Context, name string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return storage.ReadError(name, err)
	}
	s.mu.RLock()
	raw, ok := s.records[name]
	s.mu.RUnlock()
	if !ok {
		return storage.ErrNotFound
	}
	return storage.ReadError(name, storage.DecodeRecord(raw, v))
}

func (s *Store) putRecord(ctx context.Context, name string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return storage.WriteError(name, err)
	}
	raw, err := storage.EncodeRecord(v)
	if err != nil {
		return storage.WriteError(name, err)
	}
	s.mu.Lock()
	s.records[name] = raw
	s.mu.Unlock()
	return nil
}

// PutRawRecord stores raw bytes under a record name without encoding.
// Tests use it to simulate corrupt or future-version records.
func (s *Store) PutRawRecord(name string, raw json.RawMessage) {
	s.mu.Lock()
	s.records[name] = raw
	s.mu.Unlock()
}

var _ storage.Repository = (*Store)(nil)
