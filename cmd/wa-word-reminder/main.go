package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/smith3v/wa-word-reminder/pkg/config"
	"github.com/smith3v/wa-word-reminder/pkg/db"
	"github.com/smith3v/wa-word-reminder/pkg/jobs"
	"github.com/smith3v/wa-word-reminder/pkg/logger"
	"github.com/smith3v/wa-word-reminder/pkg/server"
	"github.com/smith3v/wa-word-reminder/pkg/subscription"
	"github.com/smith3v/wa-word-reminder/pkg/vocab"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "wa-word-reminder",
		Short:         "Daily vocabulary delivery over WhatsApp",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if err := db.Close(); err != nil {
				logger.Warn("failed to close database", "error", err)
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "path to the JSON config file")

	root.AddCommand(serveCmd(), scheduleCmd(), processCmd(), importCmd(), trialCmd(), settingsCmd(), migrateCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("command failed", "error", err)
		cancel()
		os.Exit(1)
	}
}

func setup() error {
	if err := config.LoadConfig(configPath); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Configure(logger.Options{
		Level:  config.AppConfig.Logging.Level,
		File:   config.AppConfig.Logging.File,
		Format: config.AppConfig.Logging.Format,
	}); err != nil {
		logger.Error("failed to configure logger", "error", err)
	}
	if err := db.InitDB(config.AppConfig.Database); err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	return nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the job triggers and payment webhook, optionally running the jobs on cron",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.AppConfig

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			go db.StartOutboxCleanup(ctx, db.DB, db.OutboxCleanupInterval, cfg.Outbox.Retention())

			if cfg.Server.EnableCron {
				cron, err := jobs.NewCron(a.runner, cfg.Scheduler.RunAt,
					func(ctx context.Context) error {
						_, err := a.scheduler.Run(ctx)
						return err
					},
					func(ctx context.Context) error {
						_, err := a.processor.Run(ctx)
						return err
					},
				)
				if err != nil {
					return err
				}
				if err := cron.Start(ctx); err != nil {
					return err
				}
				defer cron.Stop()
			}

			srv := server.New(server.Config{
				Addr:              cfg.Server.Addr,
				CronSecret:        cfg.Server.CronSecret,
				WebhookSecret:     cfg.Server.WebhookSecret,
				RateLimitRequests: cfg.Server.RateLimitRequests,
				RateLimitWindow:   cfg.Server.RateLimitWindow(),
			}, server.Deps{
				Runner:        a.runner,
				Scheduler:     a.scheduler,
				Processor:     a.processor,
				Subscriptions: a.subs,
				Ping: func(ctx context.Context) error {
					return db.Ping(ctx, db.DB)
				},
			})
			return srv.ListenAndServe(ctx)
		},
	}
}

func scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Fill today's outbox for every entitled subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), config.AppConfig)
			if err != nil {
				return err
			}
			defer a.close()

			return a.runner.Run(cmd.Context(), jobs.JobSchedule, func(ctx context.Context) error {
				summary, err := a.scheduler.Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			})
		},
	}
}

func processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Send due outbox messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), config.AppConfig)
			if err != nil {
				return err
			}
			defer a.close()

			return a.runner.Run(cmd.Context(), jobs.JobProcess, func(ctx context.Context) error {
				summary, err := a.processor.Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			})
		},
	}
}

func importCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import vocabulary from a CSV or XLSX file into the word pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			category = strings.TrimSpace(category)
			if category == "" {
				return errors.New("--category is required")
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			words, skipped, err := vocab.ParseFile(args[0], data)
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			inserted, updated, err := vocab.NewPoolStore(db.DB).Upsert(cmd.Context(), category, words)
			if err != nil {
				return fmt.Errorf("store words: %w", err)
			}
			logger.Info("vocabulary imported",
				"file", args[0],
				"category", category,
				"inserted", inserted,
				"updated", updated,
				"skipped", skipped,
			)
			return printJSON(cmd, map[string]int{"inserted": inserted, "updated": updated, "skipped": skipped})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "vocabulary category the words belong to")
	return cmd
}

func trialCmd() *cobra.Command {
	var (
		userID        string
		category      string
		preferredTime string
	)
	cmd := &cobra.Command{
		Use:   "trial <phone>",
		Short: "Start a trial subscription for a phone number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := subscription.TrialParams{Phone: args[0], Category: category}
			if userID != "" {
				params.UserID = &userID
			}
			if preferredTime != "" {
				if _, err := time.Parse("15:04", preferredTime); err != nil {
					return fmt.Errorf("invalid --time %q: %w", preferredTime, err)
				}
				params.PreferredTime = &preferredTime
			}
			store := subscription.NewStore(db.DB, time.Now)
			sub, err := store.StartTrial(cmd.Context(), params, config.AppConfig.Subscription.TrialDays)
			if err != nil {
				return err
			}
			if userID != "" && (sub.UserID == nil || *sub.UserID != userID) {
				if err := store.AssignUser(cmd.Context(), sub.Phone, userID); err != nil {
					return err
				}
				if sub, err = store.FindByPhone(cmd.Context(), sub.Phone); err != nil {
					return err
				}
			}
			return printJSON(cmd, sub)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "account id that owns the subscription")
	cmd.Flags().StringVar(&category, "category", "", "vocabulary category")
	cmd.Flags().StringVar(&preferredTime, "time", "", "preferred delivery time (HH:MM)")
	return cmd
}

func settingsCmd() *cobra.Command {
	var (
		words    int
		mode     string
		times    []string
		timezone string
	)
	cmd := &cobra.Command{
		Use:   "settings <user-id>",
		Short: "Show or change a user's delivery settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := subscription.NewStore(db.DB, time.Now)
			current, err := store.LoadOrCreateSettings(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if !flags.Changed("words") && !flags.Changed("mode") && !flags.Changed("times") && !flags.Changed("timezone") {
				return printJSON(cmd, current)
			}
			in := subscription.InputFrom(current)
			if flags.Changed("words") {
				in.WordsPerDay = words
			}
			if flags.Changed("mode") {
				in.Mode = mode
			}
			if flags.Changed("times") {
				in.CustomTimes = times
			}
			if flags.Changed("timezone") {
				in.Timezone = timezone
			}
			updated, err := store.UpdateSettings(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			logger.Info("delivery settings updated", "user_id", args[0], "words_per_day", updated.WordsPerDay, "mode", updated.Mode, "timezone", updated.Timezone)
			return printJSON(cmd, updated)
		},
	}
	cmd.Flags().IntVar(&words, "words", subscription.DefaultWordsPerDay, "words per day (1-5)")
	cmd.Flags().StringVar(&mode, "mode", "auto", "slot mode: auto or custom")
	cmd.Flags().StringSliceVar(&times, "times", nil, "custom delivery times, e.g. 08:00,20:00")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone, e.g. Europe/Berlin")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			// InitDB already migrated during setup.
			logger.Info("database migrated", "driver", config.AppConfig.Database.Driver)
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
