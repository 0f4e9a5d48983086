package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/crml-dev/crmlrun/internal/cache"
	"github.com/crml-dev/crmlrun/internal/config"
	"github.com/crml-dev/crmlrun/internal/fx"
	httpiface "github.com/crml-dev/crmlrun/internal/interfaces/http"
	"github.com/crml-dev/crmlrun/internal/persistence"
	"github.com/crml-dev/crmlrun/internal/persistence/postgres"
	"github.com/crml-dev/crmlrun/internal/plan"
	"github.com/crml-dev/crmlrun/internal/sim"
)

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor [document]",
		Short: "Serve health, metrics, stored results, and live progress",
		Long: `Start the monitoring HTTP server. With a document argument the server
also executes that document on a schedule, streaming progress over the
websocket feed and recording outcomes as Prometheus metrics.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runMonitor,
	}
	cmd.Flags().String("listen", "", "Listen address (default from config)")
	cmd.Flags().Duration("every", 15*time.Minute, "Interval between scheduled simulations")
	cmd.Flags().Int64("seed", 0, "RNG seed for scheduled simulations; seeded runs are cacheable")
	cmd.Flags().Bool("lenient", false, "Downgrade unknown references to warnings")
	return cmd
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadEngineConfig(cmd)
	if err != nil {
		return err
	}
	listen := cfg.HTTP.Listen
	if flagListen, _ := cmd.Flags().GetString("listen"); flagListen != "" {
		listen = flagListen
	}

	var repo persistence.ResultsRepo
	if cfg.Postgres.Enabled {
		db, err := postgres.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("Result store unavailable, result endpoints disabled")
		} else {
			defer db.Close()
			repo = postgres.NewResultsRepo(db, 5*time.Second)
		}
	}

	metrics := httpiface.NewMetrics()
	hub := httpiface.NewProgressHub()
	server := httpiface.NewServer(listen, metrics, hub, repo)

	var resultCache *cache.ResultCache
	if cfg.Redis.Enabled {
		client, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.DB)
		if err != nil {
			log.Warn().Err(err).Msg("Result cache unavailable, scheduled runs will not reuse results")
		} else {
			defer client.Close()
			resultCache = cache.New(client, time.Duration(cfg.Redis.TTLSecs)*time.Second)
		}
	}

	if len(args) == 1 {
		every, _ := cmd.Flags().GetDuration("every")
		lenient, _ := cmd.Flags().GetBool("lenient")
		var seed *int64
		if cmd.Flags().Changed("seed") {
			v, _ := cmd.Flags().GetInt64("seed")
			seed = &v
		}
		go scheduleSimulations(ctx, args[0], every, lenient, seed, cfg, metrics, hub, repo, resultCache)
	}

	return server.Start(ctx)
}

func scheduleSimulations(
	ctx context.Context,
	docPath string,
	every time.Duration,
	lenient bool,
	seed *int64,
	cfg *config.Config,
	metrics *httpiface.Metrics,
	hub *httpiface.ProgressHub,
	repo persistence.ResultsRepo,
	resultCache *cache.ResultCache,
) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		runScheduled(ctx, docPath, lenient, seed, cfg, metrics, hub, repo, resultCache)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runScheduled(
	ctx context.Context,
	docPath string,
	lenient bool,
	seed *int64,
	cfg *config.Config,
	metrics *httpiface.Metrics,
	hub *httpiface.ProgressHub,
	repo persistence.ResultsRepo,
	resultCache *cache.ResultCache,
) {
	p, err := loadPlan(docPath, plan.Options{LenientReferences: lenient})
	if err != nil {
		log.Error().Err(err).Str("document", docPath).Msg("Scheduled simulation failed to plan")
		metrics.SimulationsTotal.WithLabelValues("plan_error").Inc()
		return
	}

	conv := fx.NewConverter(fx.LoadConfig(cfg.FX.ConfigPath))
	opts := sim.Options{
		Runs:                        cfg.Simulation.Runs,
		Seed:                        seed,
		Parallelism:                 cfg.Simulation.Parallelism,
		ChunkSize:                   cfg.Simulation.ChunkSize,
		RawSampleLimit:              cfg.Simulation.RawSampleLimit,
		HistogramBins:               cfg.Simulation.HistogramBins,
		CompatFirstComponentMixture: cfg.Simulation.CompatMixture,
		EngineVersion:               version,
		Progress: func(completed, total int) {
			hub.Broadcast(httpiface.ProgressEvent{
				Portfolio: p.PortfolioName,
				Completed: completed,
				Total:     total,
				Percent:   100 * float64(completed) / float64(total),
				Done:      completed == total,
			})
		},
	}

	cacheKey := ""
	if resultCache != nil {
		if key, ok := cache.Key(p, opts.Runs, opts.Seed, conv.Output()); ok {
			cacheKey = key
			if env := resultCache.Get(ctx, key); env != nil {
				metrics.RecordCacheHit()
				log.Info().Str("run_id", env.Run.ID).Msg("Scheduled simulation served from cache")
				return
			}
			metrics.RecordCacheMiss()
		}
	}

	metrics.ActiveSimulations.Inc()
	start := time.Now()
	env, err := sim.New(conv, opts).Run(ctx, p)
	metrics.ActiveSimulations.Dec()

	if err != nil {
		log.Error().Err(err).Str("document", docPath).Msg("Scheduled simulation failed")
		metrics.ObserveSimulation("failure", time.Since(start).Seconds(), 0)
		return
	}
	metrics.ObserveSimulation("success", time.Since(start).Seconds(), env.Run.Runs)
	log.Info().Str("run_id", env.Run.ID).Str("portfolio", p.PortfolioName).Msg("Scheduled simulation complete")

	if resultCache != nil && cacheKey != "" {
		resultCache.Put(ctx, cacheKey, env)
	}

	if repo != nil {
		record, err := persistence.RecordFromEnvelope(env)
		if err != nil {
			log.Warn().Err(err).Msg("Result not persistable")
			return
		}
		if err := repo.Save(ctx, record); err != nil {
			log.Warn().Err(err).Msg("Failed to persist scheduled result")
		}
	}
}
