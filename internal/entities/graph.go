// Package entities extracts named entities from articles and builds the
// co-occurrence graph between them.
package entities

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/scrypster/storyline/internal/llm"
	"github.com/scrypster/storyline/internal/storage"
	"github.com/scrypster/storyline/internal/textutil"
	"github.com/scrypster/storyline/pkg/types"
)

// Defaults for Options.
const (
	DefaultMaxEntities           = 50
	DefaultMaxEntitiesPerArticle = 25
)

// Options bound the size of a built graph.
type Options struct {
	// MaxEntities is how many entities survive pruning, by mention count.
	MaxEntities int
	// MaxEntitiesPerArticle caps the distinct entities of one article that
	// take part in pairing. Mentions beyond the cap still count.
	MaxEntitiesPerArticle int
}

// Report is the outcome of one BuildGraph call.
type Report struct {
	Graph      *types.EntityGraph `json:"graph"`
	Extraction llm.Tally          `json:"extraction"`
	PersistErr error              `json:"-"`
}

// GraphBuilder aggregates extracted entities into a pruned co-occurrence
// graph and replaces the persisted graph with it.
type GraphBuilder struct {
	store storage.GraphStore
	opts  Options
	now   func() time.Time
}

// NewGraphBuilder creates a GraphBuilder. Zero option values use the defaults.
func NewGraphBuilder(store storage.GraphStore, opts Options) *GraphBuilder {
	if opts.MaxEntities <= 0 {
		opts.MaxEntities = DefaultMaxEntities
	}
	if opts.MaxEntitiesPerArticle <= 0 {
		opts.MaxEntitiesPerArticle = DefaultMaxEntitiesPerArticle
	}
	return &GraphBuilder{
		store: store,
		opts:  opts,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// BuildGraph extracts entities from every article (one completion request per
// article, issued sequentially, when client is non-nil), builds and prunes the
// graph, and replaces the persisted graph. A persistence failure is reported
// in the Report; the error is non-nil only for a cancelled context.
func (b *GraphBuilder) BuildGraph(ctx context.Context, articles []types.Article, client llm.CompletionClient) (*Report, error) {
	report := &Report{}
	agg := newAggregator(b.opts.MaxEntitiesPerArticle)

	for _, a := range articles {
		out := Extract(ctx, client, a)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Extraction.Add(out.Source, out.Err)
		if out.Err != nil {
			log.Printf("graph: extraction for article %s fell back to heuristic: %v", a.ID, out.Err)
		}
		agg.add(a.ID, out.Value)
	}

	graph := agg.graph(b.opts.MaxEntities)
	graph.LastUpdated = b.now()
	report.Graph = graph

	if err := b.store.ReplaceGraph(ctx, graph); err != nil {
		log.Printf("graph: failed to persist graph (%d entities): %v", len(graph.Entities), err)
		report.PersistErr = err
	}
	return report, nil
}

// aggregator accumulates entities and relations across articles.
type aggregator struct {
	perArticleCap int
	entities      map[string]*types.Entity
	entityOrder   []string
	relations     map[string]*types.Relation
	relationOrder []string
}

func newAggregator(perArticleCap int) *aggregator {
	return &aggregator{
		perArticleCap: perArticleCap,
		entities:      make(map[string]*types.Entity),
		relations:     make(map[string]*types.Relation),
	}
}

func (g *aggregator) add(articleID string, candidates []Candidate) {
	var ids []string
	seen := make(map[string]struct{})

	for _, c := range candidates {
		id := textutil.NormalizeID(c.Name)
		if id == "" {
			continue
		}

		e, ok := g.entities[id]
		if !ok {
			e = &types.Entity{ID: id, Name: c.Name, Type: c.Type}
			g.entities[id] = e
			g.entityOrder = append(g.entityOrder, id)
		}
		e.MentionCount++
		if !e.HasArticle(articleID) {
			e.ArticleIDs = append(e.ArticleIDs, articleID)
		}

		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	if len(ids) > g.perArticleCap {
		ids = ids[:g.perArticleCap]
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			key, source, target := types.RelationKey(ids[i], ids[j])
			r, ok := g.relations[key]
			if !ok {
				r = &types.Relation{SourceID: source, TargetID: target}
				g.relations[key] = r
				g.relationOrder = append(g.relationOrder, key)
			}
			r.Strength++
		}
	}
}

// graph keeps the maxEntities most mentioned entities and the relations
// between survivors, strongest first. Ties keep first-seen order.
func (g *aggregator) graph(maxEntities int) *types.EntityGraph {
	entities := make([]types.Entity, 0, len(g.entityOrder))
	for _, id := range g.entityOrder {
		entities = append(entities, *g.entities[id])
	}
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].MentionCount > entities[j].MentionCount
	})
	if len(entities) > maxEntities {
		entities = entities[:maxEntities]
	}

	kept := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		kept[e.ID] = struct{}{}
	}

	relations := make([]types.Relation, 0)
	for _, key := range g.relationOrder {
		r := g.relations[key]
		_, okSource := kept[r.SourceID]
		_, okTarget := kept[r.TargetID]
		if okSource && okTarget {
			relations = append(relations, *r)
		}
	}
	sort.SliceStable(relations, func(i, j int) bool {
		return relations[i].Strength > relations[j].Strength
	})

	return &types.EntityGraph{Entities: entities, Relations: relations}
}

// Related returns the entities connected to entityID in graph with the
// connecting relation strength, strongest first.
func Related(graph *types.EntityGraph, entityID string) ([]RelatedEntity, error) {
	if graph == nil || graph.Entity(entityID) == nil {
		return nil, fmt.Errorf("entity %q: %w", entityID, storage.ErrNotFound)
	}
	out := make([]RelatedEntity, 0)
	for _, r := range graph.Relations {
		other := r.Other(entityID)
		if other == "" {
			continue
		}
		if e := graph.Entity(other); e != nil {
			out = append(out, RelatedEntity{Entity: *e, Strength: r.Strength})
		}
	}
	return out, nil
}

// RelatedEntity is a neighbour of an entity in the graph.
type RelatedEntity struct {
	types.Entity
	Strength int `json:"strength"`
}
