package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/wurstmineberg/api/internal/aggregate"
	"github.com/wurstmineberg/api/internal/checkpoint"
	"github.com/wurstmineberg/api/internal/config"
	"github.com/wurstmineberg/api/internal/health"
	"github.com/wurstmineberg/api/internal/logging"
	"github.com/wurstmineberg/api/internal/metrics"
	"github.com/wurstmineberg/api/internal/normalize"
	"github.com/wurstmineberg/api/internal/people"
	"github.com/wurstmineberg/api/internal/response"
	"github.com/wurstmineberg/api/internal/server"
	"github.com/wurstmineberg/api/internal/shutdown"
	"github.com/wurstmineberg/api/internal/snapshot"
	"github.com/wurstmineberg/api/internal/source"
	"github.com/wurstmineberg/api/internal/tracing"
	"github.com/wurstmineberg/api/internal/world"
	"github.com/wurstmineberg/api/pkg/types"
)

var (
	configFile = flag.String("config", "config.yaml", "Path to configuration file")
	version    = "2.0.0"
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.SetGlobal(logger)

	logger.Info().Str("version", version).Msg("Starting API")

	ctx := context.Background()

	tracingCfg := tracing.Config{}
	if cfg.Tracing != nil {
		tracingCfg = tracing.Config{
			Enabled:    cfg.Tracing.Enabled,
			Endpoint:   cfg.Tracing.Endpoint,
			SampleRate: cfg.Tracing.SampleRate,
		}
	}
	down := shutdown.New(logger, 15*time.Second)

	tracer, err := tracing.NewProvider(ctx, tracingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	down.Register("tracing", tracer.Shutdown)

	ckpt, err := checkpoint.NewManager(cfg.CheckpointDir, cfg.CheckpointInterval)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint manager: %w", err)
	}
	if err := ckpt.Load(); err != nil {
		logger.Warn().Err(err).Msg("Failed to load checkpoints, starting fresh")
	}
	ckpt.Start()
	down.Register("checkpoints", func(context.Context) error {
		ckpt.Stop()
		return nil
	})

	sources, watchPaths := buildSources(cfg)

	watcher, err := source.NewWatcher(watchPaths, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("File watcher unavailable, reading every refresh")
		watcher = nil
	} else {
		down.Register("watcher", func(context.Context) error {
			watcher.Close()
			return nil
		})
	}

	collector := metrics.NewCollector()

	cache := snapshot.NewCache(snapshot.Options{
		Sources:     sources,
		Reader:      source.NewReader(ckpt, logger),
		Normalizer:  normalize.New(normalize.NewDiagnostics()),
		Resolver:    people.NewResolver(cfg.PeopleFile, logger),
		Aggregator:  aggregate.New(logger),
		Watcher:     watcher,
		Checkpoints: ckpt,
		Metrics:     collector,
		Tracing:     tracer,
		Logger:      logger,
	})

	// Warm the cache so the first request is served from memory. A first
	// run with every source down is not fatal; requests return
	// ServiceUnavailable until a source appears.
	if _, err := cache.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("Initial aggregation pass produced no snapshot")
	}

	knownWorlds := make([]string, 0, len(cfg.Worlds))
	for name := range cfg.Worlds {
		knownWorlds = append(knownWorlds, name)
	}
	sort.Strings(knownWorlds)

	builder := response.NewBuilder(response.Config{
		Cache:     cache,
		Worlds:    world.NewDirectory(cfg.WorldsDir, logger),
		Known:     knownWorlds,
		MainWorld: cfg.MainWorld,
		Staleness: cfg.StalenessThreshold,
		Metrics:   collector,
		Logger:    logger,
	})

	checker := health.NewChecker(5 * time.Second)
	checker.Register("snapshot", func(ctx context.Context) health.ComponentHealth {
		snap := cache.Current()
		if snap == nil {
			return health.ComponentHealth{Status: health.StatusUnhealthy, Message: "no snapshot published"}
		}
		if snap.Age(time.Now()) > 10*cfg.StalenessThreshold {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "snapshot stale"}
		}
		return health.ComponentHealth{Status: health.StatusHealthy}
	})

	srv := server.New(server.Config{
		Address:      cfg.Server.Address,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		RateLimit:    cfg.Server.RateLimit,
		RateBurst:    cfg.Server.RateBurst,
		Builder:      builder,
		Registry:     collector.Registry(),
		Health:       checker,
		Logger:       logger,
	})
	srv.Start()
	down.Register("http", srv.Stop)

	down.WaitForSignal()
	return nil
}

// buildSources resolves the configured worlds to concrete sources plus
// the set of paths the change watcher should cover.
func buildSources(cfg *config.Config) ([]source.Source, []string) {
	names := make([]string, 0, len(cfg.Worlds))
	for name := range cfg.Worlds {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		sources []source.Source
		paths   []string
	)
	for _, name := range names {
		w := cfg.Worlds[name]
		if w.JlogDir != "" {
			sources = append(sources, source.Source{Kind: types.SourceJlog, World: name, Path: w.JlogDir})
			paths = append(paths, w.JlogDir)
		}
		if w.LoginsLog != "" {
			sources = append(sources, source.Source{Kind: types.SourceConsole, World: name, Path: w.LoginsLog})
			paths = append(paths, w.LoginsLog)
		}
		if w.DeathsLog != "" {
			sources = append(sources, source.Source{Kind: types.SourceDeaths, World: name, Path: w.DeathsLog})
			paths = append(paths, w.DeathsLog)
		}
	}
	if cfg.PeopleFile != "" {
		paths = append(paths, cfg.PeopleFile)
	}
	return sources, paths
}
