package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cardeasec/cardea/bridge"
	"github.com/cardeasec/cardea/config"
	"github.com/cardeasec/cardea/correlator"
	"github.com/cardeasec/cardea/importer"
	"github.com/cardeasec/cardea/kitnet"
	zlog "github.com/cardeasec/cardea/logger"
	"github.com/cardeasec/cardea/notice"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var SentryCommand = &cli.Command{
	Name:      "sentry",
	Usage:     "run the edge collector: tail zeek logs, detect anomalies, escalate alerts",
	UsageText: "cardea sentry [--config FILE]",
	Flags: []cli.Flag{
		ConfigFlag(false),
	},
	Action: func(cCtx *cli.Context) error {
		afs := afero.NewOsFs()

		cfg, err := config.ReadFileConfig(afs, cCtx.String("config"))
		if err != nil {
			return err
		}
		if err := cfg.RequireSentryEnv(); err != nil {
			return err
		}

		return RunSentry(cCtx.Context, afs, cfg)
	},
}

// RunSentry wires and runs the edge pipeline until a signal arrives:
// reader → correlator → detector, with the notice monitor and the anomaly
// path both feeding the escalator, and the local HTTP surface alongside.
func RunSentry(ctx context.Context, afs afero.Fs, cfg *config.Config) error {
	logger := zlog.GetLogger()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader, err := importer.NewReader(afs, cfg)
	if err != nil {
		return err
	}

	flows := correlator.NewCorrelator(cfg, reader)
	detector := kitnet.NewDetector(afs, cfg)
	runner := kitnet.NewRunner(cfg, detector, flows.Events)
	monitor := notice.NewMonitor(flows.NoticeOut)
	escalator := bridge.NewEscalator(cfg)
	server := bridge.NewServer(cfg, escalator, monitor, reader)
	runner.SetStatsSink(server.SetKitnetStats)
	server.SetFlowStats(&flows.EvictedFlows)

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error { return reader.Run(gctx) })
	g.Go(func() error { return flows.Run(gctx) })
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return escalator.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	// anomalies crossing the detector threshold become canonical alerts
	g.Go(func() error {
		for scored := range runner.Anomalies {
			built := bridge.AlertFromAnomaly(cfg, scored)
			server.AddRecent(built)
			escalator.Escalate(built)
		}
		return nil
	})

	// actionable collector notices follow the same escalation path
	g.Go(func() error {
		for built := range monitor.Escalations {
			server.AddRecent(built)
			escalator.Escalate(built)
		}
		return nil
	})

	logger.Info().
		Str("sensor_id", cfg.Sentry.SensorID).
		Str("log_directory", reader.LogDirectory).
		Msg("sentry running")

	return g.Wait()
}
