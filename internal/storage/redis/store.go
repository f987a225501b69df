// Package redis provides a storage.Repository on Redis. It is the literal
// key-value rendition of the persistence contract: one hash for the article
// cache, lists for the changelog and one string key per enveloped record.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/scrypster/storyline/internal/storage"
	"github.com/scrypster/storyline/pkg/types"
)

// Config holds connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // key prefix, default "storyline:"
}

// Store implements storage.Repository using Redis.
type Store struct {
	client *goredis.Client
	prefix string
}

// NewStore connects to Redis and verifies connectivity.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "storyline:"
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return &Store{client: client, prefix: cfg.Prefix}, nil
}

func (s *Store) articlesKey() string  { return s.prefix + "articles" }
func (s *Store) changelogKey() string { return s.prefix + "changelog" }
func (s *Store) articleLogKey(articleID string) string {
	return s.prefix + "changelog:" + articleID
}
func (s *Store) recordKey(name string) string { return s.prefix + "record:" + name }

func (s *Store) GetArticles(ctx context.Context) (map[string]types.Article, error) {
	raw, err := s.client.HGetAll(ctx, s.articlesKey()).Result()
	if err != nil {
		return nil, storage.ReadError(storage.RecordArticles, err)
	}
	out := make(map[string]types.Article, len(raw))
	for id, data := range raw {
		var a types.Article
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, storage.ReadError(storage.RecordArticles, fmt.Errorf("article %s: %w: %v", id, storage.ErrCorruptRecord, err))
		}
		out[id] = a
	}
	return out, nil
}

// CommitArticles writes the article hash fields and changelog pushes in one
// MULTI/EXEC transaction.
func (s *Store) CommitArticles(ctx context.Context, articles []types.Article, entries []types.ChangelogEntry) error {
	if len(articles) == 0 && len(entries) == 0 {
		return nil
	}

	fields := make([]interface{}, 0, 2*len(articles))
	for _, a := range articles {
		if a.ID == "" {
			return storage.WriteError(storage.RecordArticles, storage.ErrInvalidInput)
		}
		data, err := json.Marshal(a)
		if err != nil {
			return storage.WriteError(storage.RecordArticles, err)
		}
		fields = append(fields, a.ID, string(data))
	}

	encoded := make([]string, len(entries))
	for i, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return storage.WriteError(storage.RecordChangelog, err)
		}
		encoded[i] = string(data)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if len(fields) > 0 {
			pipe.HSet(ctx, s.articlesKey(), fields...)
		}
		for i, e := range entries {
			pipe.RPush(ctx, s.changelogKey(), encoded[i])
			pipe.RPush(ctx, s.articleLogKey(e.ArticleID), encoded[i])
		}
		return nil
	})
	return storage.WriteError(storage.RecordChangelog, err)
}

func (s *Store) ListChangelog(ctx context.Context, articleID string) ([]types.ChangelogEntry, error) {
	key := s.changelogKey()
	if articleID != "" {
		key = s.articleLogKey(articleID)
	}
	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, storage.ReadError(storage.RecordChangelog, err)
	}
	out := make([]types.ChangelogEntry, 0, len(raw))
	for _, data := range raw {
		var e types.ChangelogEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, storage.ReadError(storage.RecordChangelog, fmt.Errorf("%w: %v", storage.ErrCorruptRecord, err))
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) CountChangelog(ctx context.Context, articleID string) (int, error) {
	key := s.changelogKey()
	if articleID != "" {
		key = s.articleLogKey(articleID)
	}
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, storage.ReadError(storage.RecordChangelog, err)
	}
	return int(n), nil
}

// ResetChangelog removes the global list and every per-article list.
func (s *Store) ResetChangelog(ctx context.Context) error {
	keys := []string{s.changelogKey()}
	iter := s.client.Scan(ctx, 0, s.articleLogKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return storage.WriteError(storage.RecordChangelog, err)
	}
	return storage.WriteError(storage.RecordChangelog, s.client.Del(ctx, keys...).Err())
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

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) getRecord(ctx context.Context, name string, v interface{}) error {
	raw, err := s.client.Get(ctx, s.recordKey(name)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return storage.ErrNotFound
	}
	if err != nil {
		return storage.ReadError(name, err)
	}
	return storage.ReadError(name, storage.DecodeRecord(raw, v))
}

func (s *Store) putRecord(ctx context.Context, name string, v interface{}) error {
	raw, err := storage.EncodeRecord(v)
	if err != nil {
		return storage.WriteError(name, err)
	}
	return storage.WriteError(name, s.client.Set(ctx, s.recordKey(name), raw, 0).Err())
}

var _ storage.Repository = (*Store)(nil)
