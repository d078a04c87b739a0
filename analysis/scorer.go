// Package analysis is the center's scoring and aggregation engine: the
// background scorer, the alert correlator, and windowed threat analytics.
package analysis

import (
	"context"
	"strings"
	"time"

	"github.com/cardeasec/cardea/alert"
	"github.com/cardeasec/cardea/config"
	"github.com/cardeasec/cardea/database"
	zlog "github.com/cardeasec/cardea/logger"
)

// score component weights
const (
	baseWeight       = 0.3
	contextWeight    = 0.3
	historicalWeight = 0.2
	indicatorWeight  = 0.2
)

// sensitive destination ports that raise the context component
var sensitivePorts = map[int]bool{
	22: true, 23: true, 135: true, 139: true, 445: true, 1433: true, 3389: true,
}

// Scorer computes threat scores for persisted alerts and annotates them with
// correlations. Each alert is scored exactly once.
type Scorer struct {
	cfg       *config.Config
	store     database.AlertStore
	patterns  *database.ThreatPatterns
	reasoning *ReasoningClient
	resolver  *IndicatorResolver
	correlate *Correlator
}

func NewScorer(cfg *config.Config, store database.AlertStore, patterns *database.ThreatPatterns) *Scorer {
	if patterns == nil {
		patterns = database.NewThreatPatterns()
	}
	return &Scorer{
		cfg:       cfg,
		store:     store,
		patterns:  patterns,
		correlate: NewCorrelator(store),
	}
}

// SetReasoningClient enables the augmented scoring path
func (s *Scorer) SetReasoningClient(client *ReasoningClient) {
	s.reasoning = client
}

// SetResolver enables DNS enrichment of domain indicators
func (s *Scorer) SetResolver(resolver *IndicatorResolver) {
	s.resolver = resolver
}

// Process scores one alert and writes the result back to the store
func (s *Scorer) Process(ctx context.Context, built alert.Alert) error {
	logger := zlog.GetLogger()

	score := s.Score(ctx, built)
	riskLevel := alert.SeverityFromScore(score)

	correlations, err := s.correlate.Correlate(ctx, built)
	if err != nil {
		logger.Warn().Err(err).Str("alert_id", built.ID).Msg("correlation failed, storing score without correlations")
		correlations = nil
	}

	if err := s.store.SetScore(ctx, built.ID, score, riskLevel, correlations); err != nil {
		return err
	}

	logger.Debug().
		Str("alert_id", built.ID).
		Float64("threat_score", score).
		Int("correlations", len(correlations)).
		Msg("alert scored")
	return nil
}

// Score computes the threat score: the augmented path when a reasoning
// service is configured and answers in budget, the deterministic combination
// otherwise.
func (s *Scorer) Score(ctx context.Context, built alert.Alert) float64 {
	if s.reasoning != nil {
		if score, err := s.reasoning.Score(ctx, built); err == nil {
			return clamp01(score)
		}
	}
	return s.DeterministicScore(ctx, built)
}

// DeterministicScore is the weighted combination of the base, context,
// historical and indicator components.
func (s *Scorer) DeterministicScore(ctx context.Context, built alert.Alert) float64 {
	base := s.baseScore(built)
	contextScore := s.contextScore(built)
	historical := s.historicalScore(ctx, built)
	indicator := s.indicatorScore(ctx, built)

	final := baseWeight*base + contextWeight*contextScore +
		historicalWeight*historical + indicatorWeight*indicator
	return clamp01(final)
}

func (s *Scorer) baseScore(built alert.Alert) float64 {
	severityWeight := alert.SeverityWeights[built.Severity]
	typeWeight, ok := alert.TypeWeights[built.AlertType]
	if !ok {
		typeWeight = 0.5
	}
	return (severityWeight + typeWeight) / 2
}

func (s *Scorer) contextScore(built alert.Alert) float64 {
	var score float64
	network := built.NetworkContext
	if network != nil {
		if network.ConnectionCount > 100 {
			score += 0.3
		}
		if sensitivePorts[network.DstPort] {
			score += 0.2
		}
		if network.ExternalConnection {
			score += 0.2
		}
	}
	if bytesTransferred(built.RawData) > 1_000_000 {
		score += 0.2
	}
	if failedAuth(built.RawData) > 5 {
		score += 0.3
	}
	return clamp01(score)
}

func bytesTransferred(raw map[string]any) float64 {
	if raw == nil {
		return 0
	}
	if v, ok := raw["bytes_transferred"].(float64); ok {
		return v
	}
	if v, ok := raw["bytes_transferred"].(int64); ok {
		return float64(v)
	}
	return 0
}

func failedAuth(raw map[string]any) float64 {
	if raw == nil {
		return 0
	}
	if v, ok := raw["failed_auth"].(float64); ok {
		return v
	}
	if v, ok := raw["failed_auth"].(int64); ok {
		return float64(v)
	}
	return 0
}

// historicalScore buckets the count of same-type alerts in the lookback
// window.
func (s *Scorer) historicalScore(ctx context.Context, built alert.Alert) float64 {
	lookback := time.Duration(s.cfg.Oracle.HistoricalLookbackHours) * time.Hour
	count, err := s.store.CountSameType(ctx, built.AlertType, time.Now().UTC().Add(-lookback))
	if err != nil {
		logger := zlog.GetLogger()
		logger.Warn().Err(err).Msg("historical lookup failed, using floor")
		return 0.2
	}
	switch {
	case count >= 10:
		return 0.8
	case count >= 5:
		return 0.6
	case count >= 2:
		return 0.4
	default:
		return 0.2
	}
}

func (s *Scorer) indicatorScore(ctx context.Context, built alert.Alert) float64 {
	var score float64
	for _, indicator := range built.Indicators {
		switch {
		case s.patterns.BadIPs[indicator]:
			score += 0.4
		case s.patterns.SuspiciousDomains[strings.ToLower(indicator)]:
			score += 0.3
		case s.resolver != nil && s.resolver.ResolvesToBadIP(ctx, indicator, s.patterns):
			score += 0.3
		case s.patterns.MatchesPattern(indicator):
			score += 0.2
		}
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
