package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/cardeasec/cardea/alert"
	"github.com/cardeasec/cardea/database"
	"github.com/stretchr/testify/require"
)

func TestTemporalScoreSymmetry(t *testing.T) {
	base := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	for _, offset := range []time.Duration{0, time.Second, 5 * time.Minute, 14 * time.Minute, 29 * time.Minute, time.Hour} {
		forward, keepForward := TemporalScore(base, base.Add(offset))
		backward, keepBackward := TemporalScore(base.Add(offset), base)
		require.InDelta(t, forward, backward, 1e-12, "offset %s", offset)
		require.Equal(t, keepForward, keepBackward, "offset %s", offset)
	}
}

func TestTemporalScoreDecay(t *testing.T) {
	base := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)

	score, keep := TemporalScore(base, base.Add(6*time.Minute))
	require.InDelta(t, 0.8, score, 1e-9)
	require.True(t, keep)

	score, keep = TemporalScore(base, base.Add(20*time.Minute))
	require.InDelta(t, 1.0/3.0, score, 1e-9)
	require.False(t, keep)

	score, keep = TemporalScore(base, base.Add(2*time.Hour))
	require.Zero(t, score)
	require.False(t, keep)
}

func TestCorrelateEmitsOnePerChannel(t *testing.T) {
	store := database.NewMemoryStore()
	correlator := NewCorrelator(store)
	ctx := context.Background()
	now := time.Now().UTC()

	related := alert.New("sentry-01", alert.TypeIDSAlert, alert.SeverityHigh, "scan", "port scan")
	related.Timestamp = now.Add(-2 * time.Minute)
	related.NetworkContext = &alert.NetworkContext{SrcIP: "10.0.0.5", DstIP: "192.168.1.9"}
	require.NoError(t, store.InsertAlert(ctx, related))

	target := alert.New("sentry-01", alert.TypeIDSAlert, alert.SeverityHigh, "scan", "port scan")
	target.Timestamp = now
	target.NetworkContext = &alert.NetworkContext{SrcIP: "172.16.0.2", DstIP: "10.0.0.5"}

	correlations, err := correlator.Correlate(ctx, target)
	require.NoError(t, err)
	require.Len(t, correlations, 3)

	byChannel := make(map[string]alert.Correlation)
	for _, c := range correlations {
		require.Equal(t, related.ID, c.AlertID)
		byChannel[c.Channel] = c
	}
	require.InDelta(t, 1-120.0/1800.0, byChannel[ChannelTemporal].Score, 1e-9)
	require.InDelta(t, 0.8, byChannel[ChannelNetwork].Score, 1e-9)
	require.InDelta(t, 0.8, byChannel[ChannelBehavioral].Score, 1e-9)
}

func TestCorrelateBehavioralWithoutSeverityMatch(t *testing.T) {
	store := database.NewMemoryStore()
	correlator := NewCorrelator(store)
	ctx := context.Background()
	now := time.Now().UTC()

	related := alert.New("sentry-01", alert.TypeNetworkAnomaly, alert.SeverityLow, "a", "b")
	related.Timestamp = now.Add(-25 * time.Minute)
	require.NoError(t, store.InsertAlert(ctx, related))

	target := alert.New("sentry-01", alert.TypeNetworkAnomaly, alert.SeverityHigh, "a", "b")
	target.Timestamp = now

	correlations, err := correlator.Correlate(ctx, target)
	require.NoError(t, err)
	require.Len(t, correlations, 1)
	require.Equal(t, ChannelBehavioral, correlations[0].Channel)
	require.InDelta(t, 0.6, correlations[0].Score, 1e-9)
}

func TestCorrelateSkipsSelfAndUnrelated(t *testing.T) {
	store := database.NewMemoryStore()
	correlator := NewCorrelator(store)
	ctx := context.Background()
	now := time.Now().UTC()

	target := alert.New("sentry-01", alert.TypeIDSAlert, alert.SeverityHigh, "scan", "port scan")
	target.Timestamp = now
	require.NoError(t, store.InsertAlert(ctx, target))

	unrelated := alert.New("suricata", alert.TypeMalwareDetection, alert.SeverityLow, "x", "y")
	unrelated.Timestamp = now.Add(-29 * time.Minute)
	require.NoError(t, store.InsertAlert(ctx, unrelated))

	correlations, err := correlator.Correlate(ctx, target)
	require.NoError(t, err)
	require.Empty(t, correlations)
}
