package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/crml-dev/crmlrun/internal/cache"
	"github.com/crml-dev/crmlrun/internal/config"
	"github.com/crml-dev/crmlrun/internal/fx"
	"github.com/crml-dev/crmlrun/internal/lang"
	"github.com/crml-dev/crmlrun/internal/persistence"
	"github.com/crml-dev/crmlrun/internal/persistence/postgres"
	"github.com/crml-dev/crmlrun/internal/plan"
	"github.com/crml-dev/crmlrun/internal/sim"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <document>",
		Short: "Run a Monte Carlo simulation",
		Long:  "Run a CRML scenario, portfolio, or bundle and print the result envelope",
		Args:  cobra.ExactArgs(1),
		RunE:  runSimulation,
	}
	cmd.Flags().Int("runs", 0, "Monte Carlo iterations (default from config)")
	cmd.Flags().Int64("seed", 0, "RNG seed for reproducible runs")
	cmd.Flags().Bool("no-seed", false, "Use a random seed even when --seed is set")
	cmd.Flags().String("fx-config", "", "FX configuration file (YAML)")
	cmd.Flags().String("fx-live", "", "Endpoint for live FX rates, merged over the static table")
	cmd.Flags().String("format", "json", "Output format (json|yaml|text)")
	cmd.Flags().String("output", "", "Write the envelope to a file instead of stdout")
	cmd.Flags().Bool("lenient", false, "Downgrade unknown references to warnings")
	cmd.Flags().Bool("compat-mixture", false, "Sample only the first mixture component (legacy behavior)")
	return cmd
}

func loadEngineConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		for _, p := range problems {
			log.Error().Str("problem", p).Msg("Invalid engine config")
		}
		return nil, fmt.Errorf("engine config has %d problems", len(problems))
	}
	return cfg, nil
}

// loadPlan reads the document at path, classifies it, and compiles the
// execution plan. Portfolio references resolve relative to the document.
func loadPlan(path string, opts plan.Options) (*plan.ExecutionPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	kind, err := lang.DetectKind(data)
	if err != nil {
		return nil, err
	}

	switch kind {
	case lang.KindScenario:
		doc, err := lang.ParseScenario(data)
		if err != nil {
			return nil, err
		}
		return plan.PlanScenario(doc, opts)

	case lang.KindPortfolio:
		doc, err := lang.ParsePortfolio(data)
		if err != nil {
			return nil, err
		}
		return planPortfolioFromDir(doc, filepath.Dir(path), opts)

	case lang.KindBundle:
		doc, err := lang.ParseBundle(data)
		if err != nil {
			return nil, err
		}
		return plan.PlanBundle(doc, opts)
	}
	return nil, fmt.Errorf("document at %s is not a runnable CRML document (kind %s)", path, kind)
}

func planPortfolioFromDir(doc *lang.PortfolioDoc, baseDir string, opts plan.Options) (*plan.ExecutionPlan, error) {
	resolve := func(ref string) string {
		if filepath.IsAbs(ref) {
			return ref
		}
		return filepath.Join(baseDir, ref)
	}

	scenarios := make(map[string]*lang.ScenarioDoc, len(doc.Portfolio.Scenarios))
	for _, ref := range doc.Portfolio.Scenarios {
		if ref.Path == "" {
			continue
		}
		sdoc, err := lang.LoadScenarioFile(resolve(ref.Path))
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", ref.ID, err)
		}
		scenarios[ref.ID] = sdoc
	}

	var catalogs []*lang.CatalogDoc
	for _, p := range doc.Portfolio.ControlCatalogs {
		cdoc, err := lang.LoadCatalogFile(resolve(p))
		if err != nil {
			return nil, fmt.Errorf("control catalog %q: %w", p, err)
		}
		catalogs = append(catalogs, cdoc)
	}
	var assessments []*lang.AssessmentDoc
	for _, p := range doc.Portfolio.ControlAssessments {
		adoc, err := lang.LoadAssessmentFile(resolve(p))
		if err != nil {
			return nil, fmt.Errorf("assessment %q: %w", p, err)
		}
		assessments = append(assessments, adoc)
	}

	return plan.PlanPortfolio(doc, scenarios, catalogs, assessments, opts)
}

func runSimulation(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadEngineConfig(cmd)
	if err != nil {
		return err
	}

	lenient, _ := cmd.Flags().GetBool("lenient")
	p, err := loadPlan(args[0], plan.Options{LenientReferences: lenient})
	if err != nil {
		return err
	}

	fxPath, _ := cmd.Flags().GetString("fx-config")
	if fxPath == "" {
		fxPath = cfg.FX.ConfigPath
	}
	fxCfg := fx.LoadConfig(fxPath)
	if endpoint, _ := cmd.Flags().GetString("fx-live"); endpoint != "" {
		provider := fx.NewRateProvider(fx.DefaultProviderConfig(endpoint))
		refreshed, err := provider.RefreshConfig(ctx, fxCfg)
		if err != nil {
			log.Warn().Err(err).Msg("Live FX refresh failed, using static rates")
		}
		fxCfg = refreshed
	}
	conv := fx.NewConverter(fxCfg)

	opts := sim.Options{
		Runs:           cfg.Simulation.Runs,
		Parallelism:    cfg.Simulation.Parallelism,
		ChunkSize:      cfg.Simulation.ChunkSize,
		RawSampleLimit: cfg.Simulation.RawSampleLimit,
		HistogramBins:  cfg.Simulation.HistogramBins,
		EngineVersion:  version,
	}
	if runs, _ := cmd.Flags().GetInt("runs"); runs > 0 {
		opts.Runs = runs
	}
	if cmd.Flags().Changed("seed") {
		seed, _ := cmd.Flags().GetInt64("seed")
		opts.Seed = &seed
	}
	if noSeed, _ := cmd.Flags().GetBool("no-seed"); noSeed {
		opts.Seed = nil
	}
	if compat, _ := cmd.Flags().GetBool("compat-mixture"); compat || cfg.Simulation.CompatMixture {
		opts.CompatFirstComponentMixture = true
	}

	var resultCache *cache.ResultCache
	var cacheKey string
	if cfg.Redis.Enabled {
		client, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.DB)
		if err != nil {
			log.Warn().Err(err).Msg("Result cache unavailable, continuing without it")
		} else {
			defer client.Close()
			resultCache = cache.New(client, time.Duration(cfg.Redis.TTLSecs)*time.Second)
			if key, ok := cache.Key(p, opts.Runs, opts.Seed, conv.Output()); ok {
				cacheKey = key
				if env := resultCache.Get(ctx, key); env != nil {
					log.Info().Str("run_id", env.Run.ID).Msg("Serving cached result")
					return writeEnvelope(cmd, env)
				}
			}
		}
	}

	env, err := sim.New(conv, opts).Run(ctx, p)
	if err != nil {
		writeEnvelope(cmd, env)
		return err
	}

	if resultCache != nil && cacheKey != "" {
		resultCache.Put(ctx, cacheKey, env)
	}
	if cfg.Postgres.Enabled {
		if err := persistResult(ctx, cfg.Postgres.DSN, env); err != nil {
			log.Warn().Err(err).Msg("Failed to persist result")
		}
	}

	return writeEnvelope(cmd, env)
}

func persistResult(ctx context.Context, dsn string, env *lang.ResultEnvelope) error {
	record, err := persistence.RecordFromEnvelope(env)
	if err != nil {
		return err
	}
	db, err := postgres.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	repo := postgres.NewResultsRepo(db, 5*time.Second)
	if err := repo.Save(ctx, record); err != nil {
		return err
	}
	log.Info().Str("run_id", record.RunID).Msg("Result persisted")
	return nil
}

func writeEnvelope(cmd *cobra.Command, env *lang.ResultEnvelope) error {
	if env == nil {
		return nil
	}
	format, _ := cmd.Flags().GetString("format")

	var data []byte
	var err error
	switch format {
	case "json":
		data, err = json.MarshalIndent(env, "", "  ")
	case "yaml":
		data, err = yaml.Marshal(env)
	case "text":
		data = []byte(renderText(env))
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	if err != nil {
		return fmt.Errorf("failed to render envelope: %w", err)
	}

	if out, _ := cmd.Flags().GetString("output"); out != "" {
		return os.WriteFile(out, append(data, '\n'), 0o644)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func renderText(env *lang.ResultEnvelope) string {
	if !env.Success {
		out := "Simulation FAILED\n"
		for _, e := range env.Errors {
			out += "  error: " + e + "\n"
		}
		return out
	}
	symbol := ""
	if env.Units != nil {
		symbol = env.Units.Currency.Symbol
	}
	out := fmt.Sprintf("Simulation complete: %s (%d runs, %.0f ms)\n",
		env.Inputs.ModelName, env.Run.Runs, env.Run.RuntimeMS)
	for _, m := range env.Results.Measures {
		label := m.Label
		if level, ok := m.Parameters["level"]; ok {
			label = fmt.Sprintf("%s (%v)", m.Label, level)
		}
		out += fmt.Sprintf("  %-24s %s%.2f\n", label, symbol, m.Value)
	}
	for _, w := range env.Warnings {
		out += "  warning: " + w + "\n"
	}
	return out
}
