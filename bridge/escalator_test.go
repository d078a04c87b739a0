package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cardeasec/cardea/alert"
	"github.com/cardeasec/cardea/config"
	"github.com/cardeasec/cardea/correlator"
	"github.com/cardeasec/cardea/kitnet"
	"github.com/stretchr/testify/require"
)

func testEscalatorConfig(t *testing.T, oracleURL string) *config.Config {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.Env.OracleURL = oracleURL
	cfg.Sentry.Escalation.RetryQueueSize = 5
	return &cfg
}

func TestEscalatorPostsToCenter(t *testing.T) {
	var received atomic.Int64
	center := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/alerts", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer center.Close()

	escalator := NewEscalator(testEscalatorConfig(t, center.URL))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- escalator.Run(ctx)
	}()

	escalator.Escalate(alert.New("kitnet", alert.TypeNetworkAnomaly, alert.SeverityHigh, "t", "d"))
	require.Eventually(t, func() bool { return escalator.Sent.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.Equal(t, int64(1), received.Load())
}

func TestEscalatorQueuesOnFailure(t *testing.T) {
	// unroutable endpoint: every post fails fast
	cfg := testEscalatorConfig(t, "http://127.0.0.1:1")
	escalator := NewEscalator(cfg)

	for i := 0; i < 3; i++ {
		escalator.enqueue(alert.New("kitnet", alert.TypeNetworkAnomaly, alert.SeverityHigh, "t", "d"))
	}
	require.Equal(t, 3, escalator.QueueDepth())

	// a failing retry pass puts the head back and leaves depth unchanged
	escalator.retryQueued(context.Background())
	require.Equal(t, 3, escalator.QueueDepth())
	require.Zero(t, escalator.Sent.Load())
}

func TestEscalatorQueueDropsOldestOnOverflow(t *testing.T) {
	cfg := testEscalatorConfig(t, "http://127.0.0.1:1")
	escalator := NewEscalator(cfg)

	var oldest alert.Alert
	for i := 0; i < 7; i++ {
		built := alert.New("kitnet", alert.TypeNetworkAnomaly, alert.SeverityHigh, "t", "d")
		if i == 0 {
			oldest = built
		}
		escalator.enqueue(built)
	}

	require.Equal(t, 5, escalator.QueueDepth())
	require.Equal(t, uint64(2), escalator.Dropped.Load())
	escalator.mu.Lock()
	for _, queued := range escalator.queue {
		require.NotEqual(t, oldest.ID, queued.ID)
	}
	escalator.mu.Unlock()
}

func TestEscalatorRetriesFIFOAfterRecovery(t *testing.T) {
	var order []string
	center := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var built alert.Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&built))
		order = append(order, built.Title)
		w.WriteHeader(http.StatusOK)
	}))
	defer center.Close()

	escalator := NewEscalator(testEscalatorConfig(t, center.URL))
	escalator.enqueue(alert.New("kitnet", alert.TypeNetworkAnomaly, alert.SeverityHigh, "first", "d"))
	escalator.enqueue(alert.New("kitnet", alert.TypeNetworkAnomaly, alert.SeverityHigh, "second", "d"))
	escalator.enqueue(alert.New("kitnet", alert.TypeNetworkAnomaly, alert.SeverityHigh, "third", "d"))

	escalator.retryQueued(context.Background())
	require.Zero(t, escalator.QueueDepth())
	require.Equal(t, []string{"first", "second", "third"}, order)
}

func TestAlertFromAnomaly(t *testing.T) {
	cfg := config.GetDefaultConfig()
	scored := kitnet.ScoredEvent{
		Event: correlator.EnrichedEvent{
			SrcIP:   "10.0.0.5",
			DstIP:   "45.33.32.156",
			SrcPort: 43210,
			DstPort: 443,
			Proto:   "tcp",
		},
		Score: 0.97,
	}

	built := AlertFromAnomaly(&cfg, scored)
	require.Equal(t, "kitnet", built.Source)
	require.Equal(t, alert.TypeNetworkAnomaly, built.AlertType)
	require.Equal(t, alert.SeverityCritical, built.Severity)
	require.Contains(t, built.Indicators, "10.0.0.5")
	require.Contains(t, built.Indicators, "45.33.32.156")
	require.NotNil(t, built.NetworkContext)
	require.True(t, built.NetworkContext.ExternalConnection)
	require.Equal(t, 0.97, built.Confidence)
}
