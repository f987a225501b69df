// Command storyline tracks how news stories evolve: it records article
// revisions, builds an entity graph and groups articles into story clusters.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/scrypster/storyline/internal/config"
	"github.com/scrypster/storyline/internal/engine"
	"github.com/scrypster/storyline/internal/llm"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "storyline",
	Short: "Track article revisions, entities and story clusters",
	Long: `Storyline ingests news articles, records a changelog of every revision,
builds an entity co-occurrence graph and groups related articles into
evolving story clusters.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to YAML config file (default: $"+config.ConfigPathEnv+")")

	rootCmd.AddCommand(serveCmd, ingestCmd, rebuildCmd, changelogCmd,
		entitiesCmd, statsCmd, snapshotCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// engineConfig maps the file/env configuration onto engine settings.
func engineConfig(cfg *config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.MaxGraphEntities = cfg.Engine.MaxGraphEntities
	ec.MaxEntitiesPerArticle = cfg.Engine.MaxEntitiesPerArticle
	ec.ClusterThreshold = cfg.Engine.ClusterThreshold
	ec.MaxTokens = cfg.LLM.MaxTokens
	ec.RequestTimeout = cfg.LLM.Timeout
	ec.RequestsPerSecond = cfg.LLM.RequestsPerSecond
	return ec
}

// openEngine opens the configured repository and builds the engine on it.
// A missing API key is not an error: the engine runs on heuristics only.
func openEngine(ctx context.Context, cfg *config.Config) (*engine.Storyline, error) {
	client, err := llm.NewCompletionClient(llm.ClientConfig{
		Provider:          cfg.LLM.Provider,
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		MaxTokens:         cfg.LLM.MaxTokens,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	})
	if err != nil && !errors.Is(err, llm.ErrNotConfigured) {
		return nil, fmt.Errorf("failed to create completion client: %w", err)
	}

	repo, err := engine.OpenRepository(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	eng, err := engine.NewStoryline(ctx, repo, engineConfig(cfg), client)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	return eng, nil
}

// withEngine runs fn against a freshly opened engine and closes it afterwards.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *engine.Storyline) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			log.Printf("storyline: close: %v", err)
		}
	}()
	return fn(ctx, eng)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
