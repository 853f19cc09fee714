package main

import (
	"context"
	"errors"

	"knowledge-rag/internal/db"
	"knowledge-rag/internal/helper"
	"knowledge-rag/internal/models"
	"knowledge-rag/internal/scheduler"
	"knowledge-rag/internal/scraper"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Run one scheduled retrain scan for the current UTC hour",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, s, cleanup, err := newScheduler(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()
		defer a.Close()

		summary, err := s.RunScheduledRetrain(cmd.Context())
		if err != nil {
			return err
		}
		helper.PrettyPrint(cmd.OutOrStdout(), summary)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the retrain scheduler until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, s, cleanup, err := newScheduler(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()
		defer a.Close()

		if err := s.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info().Msg("Shutdown complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(retrainCmd, serveCmd)
}

func newScheduler(ctx context.Context) (*app, *scheduler.Scheduler, func(), error) {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := a.requireDatabase("the retrain scheduler"); err != nil {
		a.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {}
	var opts []scheduler.Option
	if cfg.Scheduler.RedisURL != "" {
		rdb, err := scheduler.NewRedisClient(ctx, cfg.Scheduler.RedisURL)
		if err != nil {
			a.Close()
			return nil, nil, nil, err
		}
		cleanup = func() { _ = rdb.Close() }
		opts = append(opts, scheduler.WithLocker(scheduler.NewRedisLocker(rdb, cfg.Scheduler.LockKey, cfg.Scheduler.LockTTL)))
	}
	if cfg.Scheduler.EnsureIndex {
		opts = append(opts, scheduler.WithAfterRun(func(ctx context.Context, summary models.RetrainSummary) {
			if len(summary.Bots) == 0 {
				return
			}
			if kind, err := db.EnsureVectorIndex(ctx, a.bun, cfg.VectorStore.IndexLists); err != nil {
				log.Warn().Err(err).Msg("Vector index check failed")
			} else {
				log.Debug().Str("vector_index", string(kind)).Msg("Vector index checked")
			}
		}))
	}

	s := scheduler.New(a.bots, a.docs, scraper.New(cfg.Scraper), a.pipeline, cfg.Scheduler, opts...)
	return a, s, cleanup, nil
}
