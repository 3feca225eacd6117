// Command eggctl is the eggtrack operations CLI.
//
// Usage:
//
//	eggctl tick
//	eggctl save --force --dry-run
//	eggctl save --date 2026-03-01 --force
//	eggctl delete-snapshot --date 2026-03-01
//	eggctl exclusions list
//	eggctl exclusions add --id EI123 --reason "alt account"
//	eggctl exclusions remove --id EI123
//	eggctl state
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/eggtrack/eggtrack/internal/config"
	"github.com/eggtrack/eggtrack/internal/controller"
	"github.com/eggtrack/eggtrack/internal/db"
	"github.com/eggtrack/eggtrack/internal/engine"
	"github.com/eggtrack/eggtrack/internal/notify"
	"github.com/eggtrack/eggtrack/internal/store"
	"github.com/eggtrack/eggtrack/internal/upstream"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "eggctl",
		Short: "eggtrack operations CLI",
	}

	root.AddCommand(tickCmd())
	root.AddCommand(saveCmd())
	root.AddCommand(deleteSnapshotCmd())
	root.AddCommand(exclusionsCmd())
	root.AddCommand(stateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// tick command
// --------------------------------------------------------------------------

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one decision cycle (poll, cache, decide, maybe save)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				ctrl := buildController(cfg, pool)
				start := time.Now()
				result, err := ctrl.Tick(ctx)
				if err != nil {
					return err
				}
				logger.Info("Tick finished",
					"duration", time.Since(start).Round(time.Millisecond),
					"tick_id", result.TickID,
					"players", result.PlayerCount,
					"saved", result.SnapshotSaved,
					"reason", result.Decision.Reason)
				return printJSON(result)
			})
		},
	}
}

// --------------------------------------------------------------------------
// save command
// --------------------------------------------------------------------------

func saveCmd() *cobra.Command {
	var (
		date         string
		force        bool
		dryRun       bool
		sendEmail    bool
		emailContext string
	)
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save a snapshot directly, bypassing the decision engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				ctrl := buildController(cfg, pool)
				start := time.Now()
				result, err := ctrl.Import(ctx, controller.ImportOptions{
					SnapshotDate: date,
					ForceUpdate:  force,
					DryRun:       dryRun,
					SendEmail:    sendEmail,
					EmailContext: emailContext,
				})
				if err != nil {
					return err
				}
				logger.Info("Save finished",
					"duration", time.Since(start).Round(time.Millisecond),
					"snapshot_date", result.SnapshotDate,
					"players", result.PlayerCount,
					"dry_run", result.DryRun)
				return printJSON(result.Save)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Snapshot date YYYY-MM-DD (default: today UTC)")
	cmd.Flags().BoolVar(&force, "force", false, "Bypass the save cooldown")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compute counts without writing")
	cmd.Flags().BoolVar(&sendEmail, "email", false, "Send a snapshot_saved notification")
	cmd.Flags().StringVar(&emailContext, "email-context", "", "Context string for the notification")
	return cmd
}

// --------------------------------------------------------------------------
// delete-snapshot command
// --------------------------------------------------------------------------

func deleteSnapshotCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "delete-snapshot",
		Short: "Delete one snapshot date from the history tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				return fmt.Errorf("--date is required")
			}
			return run(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				st := store.New(pool.Pool, logger)
				count, err := st.CountSnapshotRows(ctx, date)
				if err != nil {
					return err
				}
				if count == 0 {
					logger.Info("No snapshot rows for date", "snapshot_date", date)
					return nil
				}
				deleted, err := st.DeleteSnapshot(ctx, date, "eggctl")
				if err != nil {
					return err
				}
				logger.Info("Snapshot deleted", "snapshot_date", date, "deleted", deleted)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Snapshot date YYYY-MM-DD")
	return cmd
}

// --------------------------------------------------------------------------
// exclusions command
// --------------------------------------------------------------------------

func exclusionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exclusions",
		Short: "Manage the excluded-player registry",
	}
	cmd.AddCommand(exclusionsListCmd())
	cmd.AddCommand(exclusionsAddCmd())
	cmd.AddCommand(exclusionsRemoveCmd())
	return cmd
}

func exclusionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List excluded players",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				st := store.New(pool.Pool, logger)
				exclusions, err := st.ListExclusions(ctx)
				if err != nil {
					return err
				}
				if len(exclusions) == 0 {
					logger.Info("No excluded players")
					return nil
				}
				for _, e := range exclusions {
					fmt.Printf("%s\t%s\n", e.ID, e.Reason)
				}
				return nil
			})
		},
	}
}

func exclusionsAddCmd() *cobra.Command {
	var id, reason string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Exclude a player from sync-window math",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id is required")
			}
			return run(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				st := store.New(pool.Pool, logger)
				if err := st.AddExclusion(ctx, id, reason); err != nil {
					return err
				}
				logger.Info("Player excluded", "id", id, "reason", reason)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Player ID")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the player is excluded")
	return cmd
}

func exclusionsRemoveCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a player from the exclusion registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id is required")
			}
			return run(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				st := store.New(pool.Pool, logger)
				removed, err := st.RemoveExclusion(ctx, id)
				if err != nil {
					return err
				}
				if !removed {
					logger.Info("Player was not excluded", "id", id)
					return nil
				}
				logger.Info("Exclusion removed", "id", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Player ID")
	return cmd
}

// --------------------------------------------------------------------------
// state command
// --------------------------------------------------------------------------

func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the controller state singleton",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				st := store.New(pool.Pool, logger)
				state, err := st.LoadState(ctx)
				if err != nil {
					return err
				}
				if state == nil {
					logger.Info("No controller state recorded yet")
					return nil
				}
				return printJSON(state)
			})
		},
	}
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// buildController wires the full tick pipeline on top of one store.
func buildController(cfg *config.Config, pool *db.Pool) *controller.Controller {
	st := store.New(pool.Pool, logger)
	eng := engine.New(engine.Params{
		SyncWindowHours:       cfg.SyncWindowHours,
		CooldownHours:         cfg.CooldownHours,
		PartialSyncThreshold:  cfg.PartialSyncThreshold,
		PartialSyncRetries:    cfg.PartialSyncRetries,
		PendingSyncStaleHours: cfg.PendingSyncStaleHours,
		AlertThresholdDays:    cfg.AlertThresholdDays,
		AlertCooldownHours:    cfg.AlertCooldownHours,
	})
	sender := notify.NewResendClient(cfg.ResendAPIKey, logger)
	dispatcher := notify.NewDispatcher(sender, st, cfg.EmailFrom, cfg.NotificationEmail, logger)
	feed := upstream.NewClient(cfg.UpstreamURL, cfg.UpstreamTimeout, logger)

	return controller.New(controller.Deps{
		Upstream:  feed,
		Registry:  st,
		Cache:     st,
		Snapshots: st,
		State:     st,
		Notifier:  dispatcher,
		Engine:    eng,
		Interval:  cfg.CronInterval,
		Logger:    logger,
	})
}

// run handles config loading, DB connection, and context cancellation.
func run(fn func(ctx context.Context, cfg *config.Config, pool *db.Pool) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := db.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, cfg, pool)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
