package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scrypster/storyline/internal/backup"
	"github.com/scrypster/storyline/internal/engine"
	"github.com/scrypster/storyline/internal/ingest"
)

var dropToInbox bool

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.json>",
	Short: "Process a JSON article or array of articles",
	Long: `Process a JSON article or array of articles and print the changelog
entries produced. With --inbox the file is handed to a running server
through the configured inbox directory instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		articles, err := ingest.DecodeBatch(data)
		if err != nil {
			return err
		}

		if dropToInbox {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Ingest.InboxDir == "" {
				return fmt.Errorf("no inbox directory configured (STORYLINE_INBOX_DIR)")
			}
			name, err := ingest.NewInboxWriter(cfg.Ingest.InboxDir).Drop(articles)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d articles as %s\n", len(articles), name)
			return nil
		}

		return withEngine(cmd, func(ctx context.Context, eng *engine.Storyline) error {
			result, err := eng.ProcessArticles(ctx, articles)
			if err != nil {
				return err
			}
			if result.PersistErr != nil {
				return fmt.Errorf("changes detected but not saved: %w", result.PersistErr)
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	},
}

var rebuildCmd = &cobra.Command{
	Use:       "rebuild graph|clusters",
	Short:     "Rebuild the entity graph or story clusters from cached articles",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"graph", "clusters"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Storyline) error {
			switch args[0] {
			case "graph":
				report, err := eng.RebuildGraph(ctx)
				if err != nil {
					return err
				}
				if report.PersistErr != nil {
					return report.PersistErr
				}
				fmt.Fprintf(cmd.OutOrStdout(), "graph: %d entities, %d relations (remote %d, fallback %d)\n",
					len(report.Graph.Entities), len(report.Graph.Relations),
					report.Extraction.Remote, report.Extraction.Fallback)
			default:
				report, err := eng.RebuildClusters(ctx)
				if err != nil {
					return err
				}
				if report.PersistErr != nil {
					return report.PersistErr
				}
				fmt.Fprintf(cmd.OutOrStdout(), "clusters: %d (%d matched previous)\n",
					len(report.Clusters), report.Matched)
			}
			return nil
		})
	},
}

var changelogCmd = &cobra.Command{
	Use:   "changelog <articleID>",
	Short: "Print the changelog of one article",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Storyline) error {
			entries, err := eng.Changelog(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		})
	},
}

var entitiesCmd = &cobra.Command{
	Use:   "entities <entityID>",
	Short: "Print the entities related to one entity and the articles mentioning it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Storyline) error {
			articles, err := eng.EntityArticles(ctx, args[0])
			if err != nil {
				return err
			}
			related, err := eng.RelatedEntities(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"related":  related,
				"articles": articles,
			})
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print counts of the persisted state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Storyline) error {
			stats, err := eng.Stats(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		})
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Take a snapshot of the persisted state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackup(cmd, func(ctx context.Context, eng *engine.Storyline, svc *backup.Service) error {
			result, err := svc.Snapshot(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d articles, %d changelog entries, %d clusters (%d bytes)\n",
				result.Name, result.Articles, result.Changelog, result.Clusters, result.Size)
			return nil
		})
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackup(cmd, func(ctx context.Context, eng *engine.Storyline, svc *backup.Service) error {
			infos, err := svc.List(ctx)
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\n",
					info.Name, info.TakenAt.Format("2006-01-02 15:04:05"), info.Size)
			}
			return nil
		})
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "Restore a snapshot into the configured storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackup(cmd, func(ctx context.Context, eng *engine.Storyline, svc *backup.Service) error {
			snap, err := svc.Load(ctx, args[0])
			if err != nil {
				return err
			}
			return backup.Restore(ctx, snap, eng.Repository())
		})
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&dropToInbox, "inbox", false, "Hand the file to a running server via the inbox directory")
	snapshotCmd.AddCommand(snapshotListCmd, snapshotRestoreCmd)
}

func withBackup(cmd *cobra.Command, fn func(ctx context.Context, eng *engine.Storyline, svc *backup.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return withEngine(cmd, func(ctx context.Context, eng *engine.Storyline) error {
		svc, err := newBackupService(ctx, cfg, eng)
		if err != nil {
			return err
		}
		return fn(ctx, eng, svc)
	})
}
