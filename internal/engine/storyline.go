package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/scrypster/storyline/internal/changes"
	"github.com/scrypster/storyline/internal/config"
	"github.com/scrypster/storyline/internal/entities"
	"github.com/scrypster/storyline/internal/llm"
	"github.com/scrypster/storyline/internal/storage"
	"github.com/scrypster/storyline/internal/stories"
	"github.com/scrypster/storyline/pkg/types"
)

// Storyline is the long-lived service behind every transport. Components
// receive the repository by injection; the engine owns the completion client
// and the per-resource write locks.
type Storyline struct {
	repo     storage.Repository
	cfg      Config
	detector *changes.Detector
	graphs   *entities.GraphBuilder
	clusters *stories.Builder

	// Writers of the same resource queue behind these.
	articlesMu sync.Mutex
	graphMu    sync.Mutex
	clustersMu sync.Mutex

	// Full rebuilds are coalesced.
	rebuilds singleflight.Group

	mu              sync.RWMutex
	client          llm.CompletionClient
	onChanges       func(entries []types.ChangelogEntry)
	onGraphBuilt    func(graph *types.EntityGraph)
	onClustersBuilt func(clusters []types.StoryCluster)
}

// NewStoryline creates the engine over repo. client is the completion client
// built from the environment and may be nil. A persisted AIConfig with an API
// key replaces it; with neither, every build runs on the deterministic
// fallback paths.
func NewStoryline(ctx context.Context, repo storage.Repository, cfg Config, client llm.CompletionClient) (*Storyline, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	s := &Storyline{
		repo:     repo,
		cfg:      cfg,
		detector: changes.NewDetector(repo),
		graphs: entities.NewGraphBuilder(repo, entities.Options{
			MaxEntities:           cfg.MaxGraphEntities,
			MaxEntitiesPerArticle: cfg.MaxEntitiesPerArticle,
		}),
		clusters: stories.NewBuilder(repo, stories.Options{Threshold: cfg.ClusterThreshold}),
		client:   client,
	}

	// Persisted settings take precedence over the environment.
	saved, err := repo.GetAIConfig(ctx)
	switch {
	case err == nil:
		c, cerr := s.clientFor(saved)
		switch {
		case cerr == nil:
			s.client = c
			log.Printf("engine: using saved %s completion settings (model %s)", c.Provider(), c.GetModel())
		case errors.Is(cerr, llm.ErrNotConfigured):
		default:
			log.Printf("engine: ignoring saved completion settings: %v", cerr)
		}
	case errors.Is(err, storage.ErrNotFound):
	default:
		log.Printf("engine: failed to load saved completion settings: %v", err)
	}

	if s.client == nil {
		log.Println("engine: no completion service configured, using heuristic extraction and fallback summaries")
	}
	return s, nil
}

func (s *Storyline) clientFor(ai *types.AIConfig) (llm.CompletionClient, error) {
	return llm.NewCompletionClient(llm.ClientConfig{
		Provider:          config.ResolveProvider(ai.Provider, ai.BaseURL),
		BaseURL:           ai.BaseURL,
		APIKey:            ai.APIKey,
		Model:             ai.Model,
		MaxTokens:         s.cfg.MaxTokens,
		Timeout:           s.cfg.RequestTimeout,
		RequestsPerSecond: s.cfg.RequestsPerSecond,
	})
}

// Client returns the current completion client, or nil.
func (s *Storyline) Client() llm.CompletionClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// SetOnChanges sets a callback fired after ProcessArticles created entries.
func (s *Storyline) SetOnChanges(callback func(entries []types.ChangelogEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChanges = callback
}

// SetOnGraphBuilt sets a callback fired after every graph build.
func (s *Storyline) SetOnGraphBuilt(callback func(graph *types.EntityGraph)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onGraphBuilt = callback
}

// SetOnClustersBuilt sets a callback fired after every cluster build.
func (s *Storyline) SetOnClustersBuilt(callback func(clusters []types.StoryCluster)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClustersBuilt = callback
}

// ProcessArticles runs change detection for a batch. Concurrent callers are
// serialized so no two diffs read the same cache state.
func (s *Storyline) ProcessArticles(ctx context.Context, articles []types.Article) (*changes.Result, error) {
	s.articlesMu.Lock()
	defer s.articlesMu.Unlock()

	res, err := s.detector.ProcessArticles(ctx, articles)
	if err != nil {
		return nil, err
	}

	if len(res.Entries) > 0 {
		s.mu.RLock()
		cb := s.onChanges
		s.mu.RUnlock()
		if cb != nil {
			cb(res.Entries)
		}
	}
	return res, nil
}

// BuildGraph builds and persists the entity graph for articles.
func (s *Storyline) BuildGraph(ctx context.Context, articles []types.Article) (*entities.Report, error) {
	articles, err := validArticles(articles)
	if err != nil {
		return nil, err
	}

	s.graphMu.Lock()
	defer s.graphMu.Unlock()

	report, err := s.graphs.BuildGraph(ctx, articles, s.Client())
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	cb := s.onGraphBuilt
	s.mu.RUnlock()
	if cb != nil {
		cb(report.Graph)
	}
	return report, nil
}

// BuildClusters rebuilds and persists the story cluster set for articles.
func (s *Storyline) BuildClusters(ctx context.Context, articles []types.Article) (*stories.Report, error) {
	articles, err := validArticles(articles)
	if err != nil {
		return nil, err
	}

	s.clustersMu.Lock()
	defer s.clustersMu.Unlock()

	report, err := s.clusters.BuildClusters(ctx, articles, s.Client())
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	cb := s.onClustersBuilt
	s.mu.RUnlock()
	if cb != nil {
		cb(report.Clusters)
	}
	return report, nil
}

// RebuildGraph builds the graph from every cached article. Callers arriving
// while a rebuild is running share its result. The shared build runs
// detached from any one caller; a caller whose ctx ends stops waiting and
// gets ctx.Err() while the build carries on for the rest.
func (s *Storyline) RebuildGraph(ctx context.Context) (*entities.Report, error) {
	v, err := s.shareRebuild(ctx, "graph", func(bctx context.Context) (interface{}, error) {
		articles, err := s.cachedArticles(bctx)
		if err != nil {
			return nil, err
		}
		return s.BuildGraph(bctx, articles)
	})
	if err != nil {
		return nil, err
	}
	return v.(*entities.Report), nil
}

// RebuildClusters rebuilds the cluster set from every cached article.
func (s *Storyline) RebuildClusters(ctx context.Context) (*stories.Report, error) {
	v, err := s.shareRebuild(ctx, "clusters", func(bctx context.Context) (interface{}, error) {
		articles, err := s.cachedArticles(bctx)
		if err != nil {
			return nil, err
		}
		return s.BuildClusters(bctx, articles)
	})
	if err != nil {
		return nil, err
	}
	return v.(*stories.Report), nil
}

func (s *Storyline) shareRebuild(ctx context.Context, key string, build func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bctx := context.WithoutCancel(ctx)
	ch := s.rebuilds.DoChan(key, func() (interface{}, error) {
		return build(bctx)
	})
	select {
	case res := <-ch:
		if res.Shared {
			log.Printf("engine: %s rebuild shared with a concurrent caller", key)
		}
		return res.Val, res.Err
	case <-ctx.Done():
		log.Printf("engine: caller left %s rebuild early: %v", key, ctx.Err())
		return nil, ctx.Err()
	}
}

// cachedArticles returns the article cache ordered by id so rebuilds are
// deterministic.
func (s *Storyline) cachedArticles(ctx context.Context) ([]types.Article, error) {
	cache, err := s.articleCache(ctx)
	if err != nil {
		return nil, err
	}
	articles := make([]types.Article, 0, len(cache))
	for _, a := range cache {
		articles = append(articles, a)
	}
	sort.Slice(articles, func(i, j int) bool { return articles[i].ID < articles[j].ID })
	return articles, nil
}

// articleCache loads the cache. An unreadable cache reads as empty.
func (s *Storyline) articleCache(ctx context.Context) (map[string]types.Article, error) {
	cache, err := s.repo.GetArticles(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrCorruptRecord) {
			log.Printf("engine: article cache unreadable, treating as empty: %v", err)
			return map[string]types.Article{}, nil
		}
		return nil, err
	}
	return cache, nil
}

// validArticles drops and logs invalid articles. A non-empty batch with no
// valid article is invalid input.
func validArticles(articles []types.Article) ([]types.Article, error) {
	valid, rejected := types.SplitValid(articles)
	if len(rejected) == 0 {
		return articles, nil
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, errors.Join(rejected...))
	}
	for _, err := range rejected {
		log.Printf("engine: skipping %v", err)
	}
	return valid, nil
}

// unreadable reports whether err means a persisted record is absent or can
// not be used, which reads as no prior state.
func unreadable(err error) bool {
	return errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, storage.ErrSchemaVersion) ||
		errors.Is(err, storage.ErrCorruptRecord)
}

// SaveAIConfig persists completion settings and swaps the active client.
// An empty API key disables the completion service.
func (s *Storyline) SaveAIConfig(ctx context.Context, ai types.AIConfig) error {
	client, err := s.clientFor(&ai)
	if err != nil && !errors.Is(err, llm.ErrNotConfigured) {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	if err := s.repo.SaveAIConfig(ctx, &ai); err != nil {
		return err
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	if client == nil {
		log.Println("engine: completion service disabled")
	} else {
		log.Printf("engine: switched to %s completion service (model %s)", client.Provider(), client.GetModel())
	}
	return nil
}

// AIConfig returns the saved completion settings. When nothing was saved it
// describes the active client, if any, without an API key.
func (s *Storyline) AIConfig(ctx context.Context) (*types.AIConfig, error) {
	ai, err := s.repo.GetAIConfig(ctx)
	if err == nil {
		return ai, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	ai = &types.AIConfig{}
	if client := s.Client(); client != nil {
		ai.Provider = client.Provider()
		ai.Model = client.GetModel()
	}
	return ai, nil
}

// ResetChangelog deletes every changelog entry.
func (s *Storyline) ResetChangelog(ctx context.Context) error {
	s.articlesMu.Lock()
	defer s.articlesMu.Unlock()

	if err := s.repo.ResetChangelog(ctx); err != nil {
		return err
	}
	log.Println("engine: changelog reset")
	return nil
}

// Changelog returns the entries for articleID, oldest first.
func (s *Storyline) Changelog(ctx context.Context, articleID string) ([]types.ChangelogEntry, error) {
	if articleID == "" {
		return nil, fmt.Errorf("%w: article id is required", storage.ErrInvalidInput)
	}
	entries, err := s.repo.ListChangelog(ctx, articleID)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ChangelogCount counts the entries for articleID.
func (s *Storyline) ChangelogCount(ctx context.Context, articleID string) (int, error) {
	n, err := s.repo.CountChangelog(ctx, articleID)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// RecentChanges returns up to limit entries across all articles, newest first.
// A non-positive limit returns every entry.
func (s *Storyline) RecentChanges(ctx context.Context, limit int) ([]types.ChangelogEntry, error) {
	entries, err := s.repo.ListChangelog(ctx, "")
	if err != nil {
		return nil, err
	}

	recent := make([]types.ChangelogEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if limit > 0 && len(recent) == limit {
			break
		}
		recent = append(recent, entries[i])
	}
	return recent, nil
}

// Graph returns the persisted entity graph, or an empty graph when none has
// been built.
func (s *Storyline) Graph(ctx context.Context) (*types.EntityGraph, error) {
	graph, err := s.repo.GetGraph(ctx)
	if err != nil {
		if unreadable(err) {
			if !errors.Is(err, storage.ErrNotFound) {
				log.Printf("engine: persisted graph unusable, serving empty graph: %v", err)
			}
			return &types.EntityGraph{Entities: []types.Entity{}, Relations: []types.Relation{}}, nil
		}
		return nil, err
	}
	return graph, nil
}

// RelatedEntities lists the neighbors of entityID, strongest first.
func (s *Storyline) RelatedEntities(ctx context.Context, entityID string) ([]entities.RelatedEntity, error) {
	graph, err := s.Graph(ctx)
	if err != nil {
		return nil, err
	}
	return entities.Related(graph, entityID)
}

// EntityArticles returns the cached articles mentioning entityID, in the
// order the entity first saw them. Articles no longer cached are skipped.
func (s *Storyline) EntityArticles(ctx context.Context, entityID string) ([]types.Article, error) {
	graph, err := s.Graph(ctx)
	if err != nil {
		return nil, err
	}
	entity := graph.Entity(entityID)
	if entity == nil {
		return nil, fmt.Errorf("entity %q: %w", entityID, storage.ErrNotFound)
	}

	cache, err := s.articleCache(ctx)
	if err != nil {
		return nil, err
	}

	articles := make([]types.Article, 0, len(entity.ArticleIDs))
	for _, id := range entity.ArticleIDs {
		if a, ok := cache[id]; ok {
			articles = append(articles, a)
		}
	}
	return articles, nil
}

// Clusters returns the persisted story clusters.
func (s *Storyline) Clusters(ctx context.Context) ([]types.StoryCluster, error) {
	clusters, err := s.repo.GetClusters(ctx)
	if err != nil {
		if unreadable(err) {
			if !errors.Is(err, storage.ErrNotFound) {
				log.Printf("engine: persisted clusters unusable, serving none: %v", err)
			}
			return []types.StoryCluster{}, nil
		}
		return nil, err
	}
	return clusters, nil
}

// Cluster returns one story cluster by id.
func (s *Storyline) Cluster(ctx context.Context, id string) (*types.StoryCluster, error) {
	clusters, err := s.Clusters(ctx)
	if err != nil {
		return nil, err
	}
	for i := range clusters {
		if clusters[i].ID == id {
			return &clusters[i], nil
		}
	}
	return nil, fmt.Errorf("cluster %q: %w", id, storage.ErrNotFound)
}

// Stats summarizes the persisted state.
func (s *Storyline) Stats(ctx context.Context) (*types.Stats, error) {
	cache, err := s.articleCache(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.CountChangelog(ctx, "")
	if err != nil {
		return nil, err
	}
	graph, err := s.Graph(ctx)
	if err != nil {
		return nil, err
	}
	clusters, err := s.Clusters(ctx)
	if err != nil {
		return nil, err
	}

	return &types.Stats{
		Articles:         len(cache),
		ChangelogEntries: entries,
		Entities:         len(graph.Entities),
		Relations:        len(graph.Relations),
		Clusters:         len(clusters),
		GraphUpdatedAt:   graph.LastUpdated,
		AIEnabled:        s.Client() != nil,
	}, nil
}

// Repository returns the underlying repository.
func (s *Storyline) Repository() storage.Repository {
	return s.repo
}

// Close releases the repository.
func (s *Storyline) Close() error {
	return s.repo.Close()
}
