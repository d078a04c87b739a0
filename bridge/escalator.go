// Package bridge is the edge-side HTTP surface and escalation path: it
// normalizes detector, notice, and signature-engine outputs into canonical
// alerts and pushes them to the center.
package bridge

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cardeasec/cardea/alert"
	"github.com/cardeasec/cardea/config"
	"github.com/cardeasec/cardea/kitnet"
	zlog "github.com/cardeasec/cardea/logger"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// shutdownDrainDeadline bounds the best-effort queue flush on cancellation
const shutdownDrainDeadline = 5 * time.Second

// Escalator POSTs canonical alerts to the center. Failed sends go to a
// bounded in-memory retry queue: oldest entries are dropped on overflow, and
// retries pull from the head so a persistently failing alert blocks the queue
// rather than spinning through it.
type Escalator struct {
	Submissions chan alert.Alert

	Sent    atomic.Uint64
	Failed  atomic.Uint64
	Dropped atomic.Uint64

	cfg      *config.Config
	client   *http.Client
	endpoint string

	mu    sync.Mutex
	queue []alert.Alert
}

func NewEscalator(cfg *config.Config) *Escalator {
	return &Escalator{
		Submissions: make(chan alert.Alert, cfg.Sentry.Escalation.RetryQueueSize),
		cfg:         cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.Sentry.Escalation.RequestTimeoutSeconds) * time.Second,
		},
		endpoint: cfg.Env.OracleURL + "/api/alerts",
	}
}

// Run sends submissions as they arrive and retries the queue on a fixed
// tick. On cancellation the queue is drained best-effort under a short
// deadline.
func (e *Escalator) Run(ctx context.Context) error {
	retryTicker := time.NewTicker(time.Duration(e.cfg.Sentry.Escalation.RetryIntervalSeconds) * time.Second)
	defer retryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return nil

		case built, ok := <-e.Submissions:
			if !ok {
				e.drain()
				return nil
			}
			if err := e.post(ctx, built); err != nil {
				e.Failed.Add(1)
				logger := zlog.GetLogger()
				logger.Warn().Err(err).Str("alert_id", built.ID).Msg("escalation failed, queued for retry")
				e.enqueue(built)
			} else {
				e.Sent.Add(1)
			}

		case <-retryTicker.C:
			e.retryQueued(ctx)
		}
	}
}

// Escalate submits an alert without blocking the caller; if the submission
// channel is full the alert goes straight to the retry queue.
func (e *Escalator) Escalate(built alert.Alert) {
	select {
	case e.Submissions <- built:
	default:
		e.enqueue(built)
	}
}

func (e *Escalator) post(ctx context.Context, built alert.Alert) error {
	body, err := json.Marshal(built)
	if err != nil {
		return fmt.Errorf("encoding alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("center returned status %d", resp.StatusCode)
	}
	// 4xx means the center rejected the alert outright; retrying cannot help
	return nil
}

func (e *Escalator) enqueue(built alert.Alert) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.queue) >= int(e.cfg.Sentry.Escalation.RetryQueueSize) {
		e.queue = e.queue[1:]
		e.Dropped.Add(1)
	}
	e.queue = append(e.queue, built)
}

// retryQueued works the queue head-first; the first failure puts the item
// back at the head and ends the pass.
func (e *Escalator) retryQueued(ctx context.Context) {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		head := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		if err := e.post(ctx, head); err != nil {
			e.mu.Lock()
			e.queue = append([]alert.Alert{head}, e.queue...)
			e.mu.Unlock()
			return
		}
		e.Sent.Add(1)
	}
}

func (e *Escalator) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownDrainDeadline)
	defer cancel()
	e.retryQueued(ctx)
}

// QueueDepth reports the retry queue population
func (e *Escalator) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// AlertFromAnomaly builds the canonical alert for a detector score that
// cleared the threshold.
func AlertFromAnomaly(cfg *config.Config, scored kitnet.ScoredEvent) alert.Alert {
	event := scored.Event
	severity := alert.SeverityFromScore(scored.Score)

	description := fmt.Sprintf("Anomalous connection %s:%d → %s:%d (%s), score %.3f",
		event.SrcIP, event.SrcPort, event.DstIP, event.DstPort, event.Proto, scored.Score)

	built := alert.New("kitnet", alert.TypeNetworkAnomaly, severity, "Network anomaly detected", description)
	built.Confidence = scored.Score
	built.NetworkContext = &alert.NetworkContext{
		SrcIP:              event.SrcIP,
		DstIP:              event.DstIP,
		SrcPort:            event.SrcPort,
		DstPort:            event.DstPort,
		Protocol:           event.Proto,
		ExternalConnection: cfg.Filtering.CheckIfExternalPair(net.ParseIP(event.SrcIP), net.ParseIP(event.DstIP)),
	}
	if event.SrcIP != "" {
		built.Indicators = append(built.Indicators, event.SrcIP)
	}
	if event.DstIP != "" {
		built.Indicators = append(built.Indicators, event.DstIP)
	}
	built.RawData = map[string]any{
		"event": event,
		"score": scored.Score,
	}
	return built
}
