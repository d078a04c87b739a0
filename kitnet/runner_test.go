package kitnet

import (
	"context"
	"math/rand"
	"testing"

	"github.com/cardeasec/cardea/correlator"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func syntheticEvent(rng *rand.Rand) correlator.EnrichedEvent {
	return correlator.EnrichedEvent{
		SrcIP:       "10.0.0.5",
		DstIP:       "93.184.216.34",
		SrcPort:     40000 + rng.Intn(1000),
		DstPort:     443,
		Proto:       "tcp",
		Service:     "ssl",
		Duration:    1 + rng.Float64(),
		OrigBytes:   int64(400 + rng.Intn(200)),
		RespBytes:   int64(1400 + rng.Intn(200)),
		OrigPackets: 10,
		RespPackets: 12,
		ConnState:   "SF",
		TotalBytes:  2000,
	}
}

func TestRunnerEmitsOnlyThresholdCrossingEvents(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Sentry.Detector.TrainingSampleCap = 50

	detector := NewDetector(afero.NewMemMapFs(), cfg)
	in := make(chan correlator.EnrichedEvent, 256)
	runner := NewRunner(cfg, detector, in)

	done := make(chan error, 1)
	go func() {
		done <- runner.Run(context.Background())
	}()

	rng := rand.New(rand.NewSource(21))
	for i := 0; i < 60; i++ {
		in <- syntheticEvent(rng)
	}
	// a wildly out-of-distribution event after training completes
	in <- correlator.EnrichedEvent{
		SrcIP:       "255.255.255.254",
		DstIP:       "255.255.255.253",
		SrcPort:     65535,
		DstPort:     65535,
		Proto:       "udp",
		OrigBytes:   1 << 40,
		RespBytes:   1 << 40,
		OrigPackets: 1 << 30,
		RespPackets: 1 << 30,
		Duration:    1e6,
		TotalBytes:  1 << 41,
	}
	close(in)
	require.NoError(t, <-done)

	for scored := range runner.Anomalies {
		require.GreaterOrEqual(t, scored.Score, cfg.Sentry.Detector.Threshold)
	}
}

func TestRunnerSkipsEventsDuringTraining(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Sentry.Detector.TrainingSampleCap = 1000 // never leaves training here

	detector := NewDetector(afero.NewMemMapFs(), cfg)
	in := make(chan correlator.EnrichedEvent, 64)
	runner := NewRunner(cfg, detector, in)

	done := make(chan error, 1)
	go func() {
		done <- runner.Run(context.Background())
	}()

	rng := rand.New(rand.NewSource(33))
	for i := 0; i < 50; i++ {
		in <- syntheticEvent(rng)
	}
	close(in)
	require.NoError(t, <-done)

	_, open := <-runner.Anomalies
	require.False(t, open, "no anomalies may surface before the detect phase")
	require.Equal(t, PhaseTrain, detector.Phase())
}
