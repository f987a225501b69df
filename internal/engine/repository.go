package engine

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/scrypster/storyline/internal/config"
	"github.com/scrypster/storyline/internal/storage"
	"github.com/scrypster/storyline/internal/storage/memory"
	"github.com/scrypster/storyline/internal/storage/postgres"
	"github.com/scrypster/storyline/internal/storage/redis"
	"github.com/scrypster/storyline/internal/storage/sqlite"
)

// OpenRepository opens the backend selected by cfg.Engine.
func OpenRepository(cfg config.StorageConfig) (storage.Repository, error) {
	switch cfg.Engine {
	case "", "sqlite":
		if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		path := filepath.Join(cfg.DataPath, "storyline.db")
		log.Printf("engine: opening sqlite store at %s", path)
		return sqlite.NewStore(path)
	case "postgres":
		log.Println("engine: opening postgres store")
		return postgres.NewStore(cfg.PostgresDSN)
	case "redis":
		log.Printf("engine: opening redis store at %s", cfg.RedisAddr)
		return redis.NewStore(redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	case "memory":
		log.Println("engine: using in-memory store, state is lost on exit")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Engine)
	}
}
