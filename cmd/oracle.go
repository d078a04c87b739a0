package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cardeasec/cardea/analysis"
	"github.com/cardeasec/cardea/config"
	"github.com/cardeasec/cardea/database"
	"github.com/cardeasec/cardea/ingest"
	zlog "github.com/cardeasec/cardea/logger"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var OracleCommand = &cli.Command{
	Name:      "oracle",
	Usage:     "run the center: alert intake, scoring, correlation and analytics",
	UsageText: "cardea oracle [--config FILE]",
	Flags: []cli.Flag{
		ConfigFlag(false),
	},
	Action: func(cCtx *cli.Context) error {
		afs := afero.NewOsFs()

		cfg, err := config.ReadFileConfig(afs, cCtx.String("config"))
		if err != nil {
			return err
		}
		if err := cfg.RequireOracleEnv(); err != nil {
			return err
		}

		return RunOracle(cCtx.Context, afs, cfg)
	},
}

// RunOracle wires and runs the center tier until a signal arrives. Failure
// to reach Postgres is fatal; threat feed and reasoning-service trouble only
// degrades scoring.
func RunOracle(ctx context.Context, afs afero.Fs, cfg *config.Config) error {
	logger := zlog.GetLogger()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(sigCtx, cfg.Env.DatabaseURI)
	if err != nil {
		return err
	}
	defer db.Close()
	store := database.NewPostgresStore(db)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Env.RedisAddress})
	defer func() { _ = redisClient.Close() }()

	patterns := database.LoadThreatPatterns(sigCtx, afs, cfg)

	scorer := analysis.NewScorer(cfg, store, patterns)
	if client := analysis.NewReasoningClient(cfg); client != nil {
		scorer.SetReasoningClient(client)
		logger.Info().Str("url", cfg.Env.ReasoningServiceURL).Msg("reasoning service enabled")
	}
	if server := cfg.Oracle.IndicatorDNSServer; server != "" {
		scorer.SetResolver(analysis.NewIndicatorResolver(server))
	}

	pool := ingest.NewScoringPool(cfg, scorer)
	deduper := ingest.NewDeduper(redisClient, cfg)
	analytics := analysis.NewAnalytics(cfg, store)
	server := ingest.NewServer(cfg, store, deduper, pool, analytics)
	server.SetHealthProbes(db, redisClient)

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	logger.Info().Int32("port", cfg.Oracle.HTTPPort).Msg("oracle running")

	return g.Wait()
}
