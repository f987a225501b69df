// Package config provides configuration management for Storyline.
//
// Settings are resolved in order: built-in defaults, an optional YAML file
// (STORYLINE_CONFIG or an explicit path), a .env file in the working
// directory, then STORYLINE_* environment variables. Completion settings
// persisted through the API take precedence over all of these at engine
// start.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPathEnv names the environment variable holding the YAML file path.
const ConfigPathEnv = "STORYLINE_CONFIG"

// Config holds all configuration settings for the Storyline application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	LLM       LLMConfig       `yaml:"llm"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Backup    BackupConfig    `yaml:"backup"`
	Engine    EngineConfig    `yaml:"engine"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port           int           `yaml:"port"`           // Server port (default: 6464)
	Host           string        `yaml:"host"`           // Server host (default: 127.0.0.1)
	SecurityMode   string        `yaml:"securityMode"`   // development or production (default: development)
	APIToken       string        `yaml:"apiToken"`       // Bearer token required in production
	RateLimit      float64       `yaml:"rateLimit"`      // Requests per second per client (default: 20)
	Burst          int           `yaml:"burst"`          // Rate limiter burst (default: 40)
	AllowedOrigins []string      `yaml:"allowedOrigins"` // WebSocket origin patterns
	RebuildTimeout time.Duration `yaml:"rebuildTimeout"` // Write deadline of the rebuild routes (default: 10m)
}

// StorageConfig selects and configures the repository backend.
type StorageConfig struct {
	Engine        string `yaml:"engine"`   // sqlite, postgres, redis or memory (default: sqlite)
	DataPath      string `yaml:"dataPath"` // Directory holding storyline.db (default: ./data)
	PostgresDSN   string `yaml:"postgresDsn"`
	RedisAddr     string `yaml:"redisAddr"` // default: localhost:6379
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`
	RedisPrefix   string `yaml:"redisPrefix"` // default: storyline:
}

// LLMConfig contains completion-service configuration.
type LLMConfig struct {
	Provider          string        `yaml:"provider"` // anthropic, openai, or empty to infer from BaseURL
	BaseURL           string        `yaml:"baseUrl"`
	APIKey            string        `yaml:"apiKey"`
	Model             string        `yaml:"model"`
	MaxTokens         int           `yaml:"maxTokens"`         // default: 2048
	Timeout           time.Duration `yaml:"timeout"`           // default: 60s
	RequestsPerSecond float64       `yaml:"requestsPerSecond"` // default: 2
}

// SchedulerConfig holds cron specs for periodic rebuilds. An empty spec
// disables that job.
type SchedulerConfig struct {
	GraphCron    string `yaml:"graphCron"`
	ClustersCron string `yaml:"clustersCron"`
}

// IngestConfig configures the article feeds.
type IngestConfig struct {
	KafkaBrokers []string `yaml:"kafkaBrokers"`
	KafkaTopic   string   `yaml:"kafkaTopic"`
	KafkaGroup   string   `yaml:"kafkaGroup"` // default: storyline
	InboxDir     string   `yaml:"inboxDir"`
}

// BackupConfig contains snapshot configuration.
type BackupConfig struct {
	Dir       string        `yaml:"dir"` // default: ./backups
	S3Bucket  string        `yaml:"s3Bucket"`
	S3Prefix  string        `yaml:"s3Prefix"` // default: storyline/
	S3Region  string        `yaml:"s3Region"`
	Retention int           `yaml:"retention"` // snapshots kept (default: 7)
	Interval  time.Duration `yaml:"interval"`  // automated snapshot interval, 0 disables
}

// EngineConfig tunes graph and cluster building.
type EngineConfig struct {
	MaxGraphEntities      int     `yaml:"maxGraphEntities"`      // default: 50
	MaxEntitiesPerArticle int     `yaml:"maxEntitiesPerArticle"` // default: 25
	ClusterThreshold      float64 `yaml:"clusterThreshold"`      // default: 0.3
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           6464,
			Host:           "127.0.0.1",
			SecurityMode:   "development",
			RateLimit:      20,
			Burst:          40,
			RebuildTimeout: 10 * time.Minute,
		},
		Storage: StorageConfig{
			Engine:      "sqlite",
			DataPath:    "./data",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "storyline:",
		},
		LLM: LLMConfig{
			MaxTokens:         2048,
			Timeout:           60 * time.Second,
			RequestsPerSecond: 2,
		},
		Ingest: IngestConfig{
			KafkaGroup: "storyline",
		},
		Backup: BackupConfig{
			Dir:       "./backups",
			S3Prefix:  "storyline/",
			Retention: 7,
		},
		Engine: EngineConfig{
			MaxGraphEntities:      50,
			MaxEntitiesPerArticle: 25,
			ClusterThreshold:      0.3,
		},
	}
}

// LoadConfig loads configuration from path (or STORYLINE_CONFIG when path is
// empty), the .env file and the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	// A missing .env is normal; existing variables are never overwritten.
	_ = godotenv.Load()

	applyEnv(cfg)
	cfg.LLM.Provider = ResolveProvider(cfg.LLM.Provider, cfg.LLM.BaseURL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("STORYLINE_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("STORYLINE_HOST", cfg.Server.Host)
	cfg.Server.SecurityMode = getEnv("STORYLINE_SECURITY_MODE", cfg.Server.SecurityMode)
	cfg.Server.APIToken = getEnv("STORYLINE_API_TOKEN", cfg.Server.APIToken)
	cfg.Server.RateLimit = getEnvFloat("STORYLINE_RATE_LIMIT", cfg.Server.RateLimit)
	cfg.Server.Burst = getEnvInt("STORYLINE_RATE_BURST", cfg.Server.Burst)
	cfg.Server.AllowedOrigins = getEnvList("STORYLINE_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)
	cfg.Server.RebuildTimeout = getEnvDuration("STORYLINE_REBUILD_TIMEOUT", cfg.Server.RebuildTimeout)

	cfg.Storage.Engine = getEnv("STORYLINE_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("STORYLINE_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("STORYLINE_POSTGRES_DSN", cfg.Storage.PostgresDSN)
	cfg.Storage.RedisAddr = getEnv("STORYLINE_REDIS_ADDR", cfg.Storage.RedisAddr)
	cfg.Storage.RedisPassword = getEnv("STORYLINE_REDIS_PASSWORD", cfg.Storage.RedisPassword)
	cfg.Storage.RedisDB = getEnvInt("STORYLINE_REDIS_DB", cfg.Storage.RedisDB)
	cfg.Storage.RedisPrefix = getEnv("STORYLINE_REDIS_PREFIX", cfg.Storage.RedisPrefix)

	cfg.LLM.Provider = getEnv("STORYLINE_LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.BaseURL = getEnv("STORYLINE_LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.APIKey = getEnv("STORYLINE_LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.Model = getEnv("STORYLINE_LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.MaxTokens = getEnvInt("STORYLINE_LLM_MAX_TOKENS", cfg.LLM.MaxTokens)
	cfg.LLM.Timeout = getEnvDuration("STORYLINE_LLM_TIMEOUT", cfg.LLM.Timeout)
	cfg.LLM.RequestsPerSecond = getEnvFloat("STORYLINE_LLM_RPS", cfg.LLM.RequestsPerSecond)

	cfg.Scheduler.GraphCron = getEnv("STORYLINE_GRAPH_CRON", cfg.Scheduler.GraphCron)
	cfg.Scheduler.ClustersCron = getEnv("STORYLINE_CLUSTERS_CRON", cfg.Scheduler.ClustersCron)

	cfg.Ingest.KafkaBrokers = getEnvList("STORYLINE_KAFKA_BROKERS", cfg.Ingest.KafkaBrokers)
	cfg.Ingest.KafkaTopic = getEnv("STORYLINE_KAFKA_TOPIC", cfg.Ingest.KafkaTopic)
	cfg.Ingest.KafkaGroup = getEnv("STORYLINE_KAFKA_GROUP", cfg.Ingest.KafkaGroup)
	cfg.Ingest.InboxDir = getEnv("STORYLINE_INBOX_DIR", cfg.Ingest.InboxDir)

	cfg.Backup.Dir = getEnv("STORYLINE_BACKUP_DIR", cfg.Backup.Dir)
	cfg.Backup.S3Bucket = getEnv("STORYLINE_BACKUP_S3_BUCKET", cfg.Backup.S3Bucket)
	cfg.Backup.S3Prefix = getEnv("STORYLINE_BACKUP_S3_PREFIX", cfg.Backup.S3Prefix)
	cfg.Backup.S3Region = getEnv("STORYLINE_BACKUP_S3_REGION", cfg.Backup.S3Region)
	cfg.Backup.Retention = getEnvInt("STORYLINE_BACKUP_RETENTION", cfg.Backup.Retention)
	cfg.Backup.Interval = getEnvDuration("STORYLINE_BACKUP_INTERVAL", cfg.Backup.Interval)

	cfg.Engine.MaxGraphEntities = getEnvInt("STORYLINE_MAX_GRAPH_ENTITIES", cfg.Engine.MaxGraphEntities)
	cfg.Engine.MaxEntitiesPerArticle = getEnvInt("STORYLINE_MAX_ENTITIES_PER_ARTICLE", cfg.Engine.MaxEntitiesPerArticle)
	cfg.Engine.ClusterThreshold = getEnvFloat("STORYLINE_CLUSTER_THRESHOLD", cfg.Engine.ClusterThreshold)
}

// Validate checks values that would otherwise fail far from their source.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite", "postgres", "redis", "memory":
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return errors.New("config: postgres storage requires STORYLINE_POSTGRES_DSN")
	}
	switch c.Server.SecurityMode {
	case "development", "production":
	default:
		return fmt.Errorf("config: unknown security mode %q", c.Server.SecurityMode)
	}
	if c.Server.SecurityMode == "production" && c.Server.APIToken == "" {
		return errors.New("config: production mode requires STORYLINE_API_TOKEN")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.Backup.Retention < 1 {
		return fmt.Errorf("config: backup retention must be >= 1, got %d", c.Backup.Retention)
	}
	return nil
}

// ResolveProvider returns the completion dialect for provider and baseURL.
// An explicit provider wins; otherwise a base URL mentioning "anthropic"
// selects that dialect and anything else is treated as OpenAI-compatible.
func ResolveProvider(provider, baseURL string) string {
	if p := strings.ToLower(strings.TrimSpace(provider)); p != "" {
		return p
	}
	if strings.Contains(baseURL, "anthropic") {
		return "anthropic"
	}
	return "openai"
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
