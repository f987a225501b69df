// Package scheduler runs periodic graph and cluster rebuilds on cron specs.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/scrypster/storyline/internal/entities"
	"github.com/scrypster/storyline/internal/stories"
)

// Rebuilder is the part of the engine the scheduler drives.
type Rebuilder interface {
	RebuildGraph(ctx context.Context) (*entities.Report, error)
	RebuildClusters(ctx context.Context) (*stories.Report, error)
}

// Config holds the cron specs. An empty spec disables that job.
type Config struct {
	GraphCron    string
	ClustersCron string
}

// Scheduler owns one cron runner with up to two entries.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	engine  Rebuilder
	cfg     Config
	opts    []cron.Option
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a Scheduler for engine. Specs use the standard five-field
// format unless opts change the parser.
func New(engine Rebuilder, cfg Config, opts ...cron.Option) *Scheduler {
	return &Scheduler{
		cron:   cron.New(opts...),
		opts:   opts,
		engine: engine,
		cfg:    cfg,
	}
}

// Start registers the configured jobs and starts the runner. An invalid
// spec fails Start and nothing is scheduled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.cfg.GraphCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.GraphCron, s.rebuildGraph); err != nil {
			s.cancel()
			return fmt.Errorf("invalid graph schedule %q: %w", s.cfg.GraphCron, err)
		}
		log.Printf("scheduler: graph rebuild scheduled (%s)", s.cfg.GraphCron)
	}
	if s.cfg.ClustersCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.ClustersCron, s.rebuildClusters); err != nil {
			s.cancel()
			s.cron = cron.New(s.opts...)
			return fmt.Errorf("invalid clusters schedule %q: %w", s.cfg.ClustersCron, err)
		}
		log.Printf("scheduler: cluster rebuild scheduled (%s)", s.cfg.ClustersCron)
	}

	if len(s.cron.Entries()) == 0 {
		log.Println("scheduler: no jobs configured")
	}

	s.cron.Start()
	s.started = true
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.started = false
	log.Println("scheduler: stopped")
}

// Entries returns the number of scheduled jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) rebuildGraph() {
	report, err := s.engine.RebuildGraph(s.ctx)
	if err != nil {
		log.Printf("scheduler: graph rebuild failed: %v", err)
		return
	}
	log.Printf("scheduler: graph rebuilt (%d entities, %d relations)",
		len(report.Graph.Entities), len(report.Graph.Relations))
}

func (s *Scheduler) rebuildClusters() {
	report, err := s.engine.RebuildClusters(s.ctx)
	if err != nil {
		log.Printf("scheduler: cluster rebuild failed: %v", err)
		return
	}
	log.Printf("scheduler: %d clusters rebuilt", len(report.Clusters))
}
