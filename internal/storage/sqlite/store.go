// Package sqlite provides the default storage.Repository on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/storyline/internal/storage"
	"github.com/scrypster/storyline/pkg/types"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store implements storage.Repository using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at dsn and applies pending
// migrations. If the first open fails because a crashed process left stale
// WAL files behind, it removes them and retries once.
func NewStore(dsn string) (*Store, error) {
	store, err := openStore(dsn)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}
	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath)

	store, retryErr := openStore(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("failed after WAL recovery: %w (original: %v)", retryErr, err)
	}
	log.Printf("sqlite: recovered from stale WAL files for %s", dbPath)
	return store, nil
}

func openStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer. A single connection serialises writes and
	// keeps a :memory: database alive for the life of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	mgr, err := storage.NewMigrationManager(db, migrationFiles, "migrations", sq.Question)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create migration manager: %w", err)
	}
	if err := mgr.Up(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) GetArticles(ctx context.Context) (map[string]types.Article, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, data FROM articles")
	if err != nil {
		return nil, storage.ReadError(storage.RecordArticles, err)
	}
	defer rows.Close()

	out := make(map[string]types.Article)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, storage.ReadError(storage.RecordArticles, err)
		}
		var a types.Article
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, storage.ReadError(storage.RecordArticles, fmt.Errorf("article %s: %w: %v", id, storage.ErrCorruptRecord, err))
		}
		out[id] = a
	}
	return out, storage.ReadError(storage.RecordArticles, rows.Err())
}

// CommitArticles upserts articles and appends entries in one transaction.
func (s *Store) CommitArticles(ctx context.Context, articles []types.Article, entries []types.ChangelogEntry) error {
	if len(articles) == 0 && len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.WriteError(storage.RecordArticles, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, a := range articles {
		if a.ID == "" {
			return storage.WriteError(storage.RecordArticles, storage.ErrInvalidInput)
		}
		data, err := json.Marshal(a)
		if err != nil {
			return storage.WriteError(storage.RecordArticles, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO articles (id, data, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
			a.ID, string(data), now); err != nil {
			return storage.WriteError(storage.RecordArticles, err)
		}
	}

	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return storage.WriteError(storage.RecordChangelog, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO changelog (id, article_id, data, detected_at) VALUES (?, ?, ?, ?)",
			e.ID, e.ArticleID, string(data), e.DetectedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return storage.WriteError(storage.RecordChangelog, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.WriteError(storage.RecordChangelog, err)
	}
	return nil
}

func (s *Store) ListChangelog(ctx context.Context, articleID string) ([]types.ChangelogEntry, error) {
	query := "SELECT data FROM changelog ORDER BY seq"
	args := []interface{}{}
	if articleID != "" {
		query = "SELECT data FROM changelog WHERE article_id = ? ORDER BY seq"
		args = append(args, articleID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.ReadError(storage.RecordChangelog, err)
	}
	defer rows.Close()

	out := make([]types.ChangelogEntry, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, storage.ReadError(storage.RecordChangelog, err)
		}
		var e types.ChangelogEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, storage.ReadError(storage.RecordChangelog, fmt.Errorf("%w: %v", storage.ErrCorruptRecord, err))
		}
		out = append(out, e)
	}
	return out, storage.ReadError(storage.RecordChangelog, rows.Err())
}

func (s *Store) CountChangelog(ctx context.Context, articleID string) (int, error) {
	var n int
	var err error
	if articleID == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM changelog").Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM changelog WHERE article_id = ?", articleID).Scan(&n)
	}
	if err != nil {
		return 0, storage.ReadError(storage.RecordChangelog, err)
	}
	return n, nil
}

func (s *Store) ResetChangelog(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM changelog")
	return storage.WriteError(storage.RecordChangelog, err)
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

// Close flushes the WAL into the main database file and releases resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("sqlite: WAL checkpoint on close failed (non-fatal): %v", err)
	}
	return s.db.Close()
}

func (s *Store) getRecord(ctx context.Context, name string, v interface{}) error {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM records WHERE name = ?", name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return storage.ReadError(name, err)
	}
	return storage.ReadError(name, storage.DecodeRecord([]byte(data), v))
}

func (s *Store) putRecord(ctx context.Context, name string, v interface{}) error {
	raw, err := storage.EncodeRecord(v)
	if err != nil {
		return storage.WriteError(name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (name, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		name, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	return storage.WriteError(name, err)
}

var _ storage.Repository = (*Store)(nil)
