package analysis

import (
	"context"
	"math"
	"time"

	"github.com/cardeasec/cardea/alert"
	"github.com/cardeasec/cardea/database"
)

// correlation channels
const (
	ChannelTemporal   = "temporal"
	ChannelNetwork    = "network"
	ChannelBehavioral = "behavioral"
)

const (
	temporalWindow       = 30 * time.Minute
	temporalDenominator  = 1800.0
	temporalKeepAbove    = 0.5
	networkScore         = 0.8
	behavioralBase       = 0.6
	behavioralSeverityUp = 0.2
)

// Correlator finds related alerts by three independent channels: temporal
// proximity, shared network endpoints, and shared behavior (type + source).
// An alert pair related through several channels yields one correlation per
// channel.
type Correlator struct {
	store database.AlertStore
}

func NewCorrelator(store database.AlertStore) *Correlator {
	return &Correlator{store: store}
}

// Correlate computes the correlation list for one alert against the store
func (c *Correlator) Correlate(ctx context.Context, target alert.Alert) ([]alert.Correlation, error) {
	since := target.Timestamp.Add(-temporalWindow)
	candidates, err := c.store.AlertsSince(ctx, since)
	if err != nil {
		return nil, err
	}

	var correlations []alert.Correlation
	for _, candidate := range candidates {
		if candidate.ID == target.ID {
			continue
		}

		if score, ok := TemporalScore(target.Timestamp, candidate.Timestamp); ok {
			correlations = append(correlations, alert.Correlation{
				AlertID: candidate.ID, Channel: ChannelTemporal, Score: score,
			})
		}
		if sharesEndpoint(target.NetworkContext, candidate.NetworkContext) {
			correlations = append(correlations, alert.Correlation{
				AlertID: candidate.ID, Channel: ChannelNetwork, Score: networkScore,
			})
		}
		if candidate.AlertType == target.AlertType && candidate.Source == target.Source {
			score := behavioralBase
			if candidate.Severity == target.Severity {
				score += behavioralSeverityUp
			}
			correlations = append(correlations, alert.Correlation{
				AlertID: candidate.ID, Channel: ChannelBehavioral, Score: score,
			})
		}
	}
	return correlations, nil
}

// TemporalScore scores the proximity of two timestamps; symmetric in its
// arguments. The second value reports whether the pair clears the keep
// threshold.
func TemporalScore(a, b time.Time) (float64, bool) {
	delta := math.Abs(a.Sub(b).Seconds())
	score := 1 - delta/temporalDenominator
	if score < 0 {
		score = 0
	}
	return score, score > temporalKeepAbove
}

func sharesEndpoint(a, b *alert.NetworkContext) bool {
	if a == nil || b == nil {
		return false
	}
	for _, left := range []string{a.SrcIP, a.DstIP} {
		if left == "" {
			continue
		}
		if left == b.SrcIP || left == b.DstIP {
			return true
		}
	}
	return false
}
