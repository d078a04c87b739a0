package analysis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cardeasec/cardea/alert"
	"github.com/cardeasec/cardea/config"
	"github.com/cardeasec/cardea/database"
	zlog "github.com/cardeasec/cardea/logger"
	"github.com/google/uuid"
)

// adaptive threshold recommendation levels
const (
	ThresholdLower    = 0.93
	ThresholdMaintain = 0.95
	ThresholdRaise    = 0.97
)

// ThreatGroup aggregates alerts sharing (alert_type, source). Materialized
// per query, never persisted as-is.
type ThreatGroup struct {
	ID             string    `json:"id"`
	ThreatType     string    `json:"threat_type"`
	Source         string    `json:"source"`
	Severity       string    `json:"severity"`
	Confidence     float64   `json:"confidence"`
	AlertCount     int       `json:"alert_count"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	Indicators     []string  `json:"indicators"`
	AffectedAssets []string  `json:"affected_assets"`
}

// ThresholdRecommendation is the adaptive detector-threshold advice
type ThresholdRecommendation struct {
	Action        string  `json:"action"` // LOWER | MAINTAIN | RAISE
	Threshold     float64 `json:"threshold"`
	AlertsPerHour float64 `json:"alerts_per_hour"`
	HighSevRatio  float64 `json:"high_severity_ratio"`
}

// Report is the analytics response
type Report struct {
	TotalAlerts             int                     `json:"total_alerts"`
	RiskScore               float64                 `json:"risk_score"`
	Alerts                  []alert.Alert           `json:"alerts"`
	GeneratedAt             time.Time               `json:"generated_at"`
	TimeRange               string                  `json:"time_range"`
	AlertsBySeverity        map[string]int          `json:"alerts_by_severity"`
	AlertsByType            map[string]int          `json:"alerts_by_type"`
	TopThreats              []ThreatGroup           `json:"top_threats"`
	TrendData               []TrendBucket           `json:"trend_data"`
	Threats                 []ThreatGroup           `json:"threats"`
	Recommendations         []string                `json:"recommendations"`
	ThresholdRecommendation ThresholdRecommendation `json:"threshold_recommendation"`
}

// TrendBucket is one hour of alert volume
type TrendBucket struct {
	Hour  time.Time `json:"hour"`
	Count int       `json:"count"`
}

// Analytics serves windowed aggregation over the alert store
type Analytics struct {
	cfg   *config.Config
	store database.AlertStore
}

func NewAnalytics(cfg *config.Config, store database.AlertStore) *Analytics {
	return &Analytics{cfg: cfg, store: store}
}

// Generate builds the report for a time range expression ("1h", "24h",
// "7d"); empty or unparsable ranges fall back to the configured window.
func (a *Analytics) Generate(ctx context.Context, timeRange string) (Report, error) {
	window := a.parseTimeRange(timeRange)
	since := time.Now().UTC().Add(-window)

	alerts, err := a.store.AlertsSince(ctx, since)
	if err != nil {
		return Report{}, err
	}

	groups := GroupThreats(alerts)
	report := Report{
		TotalAlerts:             len(alerts),
		RiskScore:               RiskScore(groups),
		Alerts:                  alerts,
		GeneratedAt:             time.Now().UTC(),
		TimeRange:               timeRange,
		AlertsBySeverity:        countBy(alerts, func(a alert.Alert) string { return a.Severity }),
		AlertsByType:            countBy(alerts, func(a alert.Alert) string { return a.AlertType }),
		TopThreats:              topThreats(groups, 5),
		TrendData:               hourlyTrend(alerts, window),
		Threats:                 groups,
		Recommendations:         Recommendations(groups),
		ThresholdRecommendation: RecommendThreshold(alerts, window),
	}

	a.recordRun(ctx, report)
	return report, nil
}

func (a *Analytics) parseTimeRange(timeRange string) time.Duration {
	fallback := time.Duration(a.cfg.Oracle.AnalyticsWindowHours) * time.Hour
	if timeRange == "" {
		return fallback
	}

	unit := timeRange[len(timeRange)-1]
	value, err := strconv.Atoi(timeRange[:len(timeRange)-1])
	if err != nil || value < 1 {
		return fallback
	}
	switch unit {
	case 'h':
		return time.Duration(value) * time.Hour
	case 'd':
		return time.Duration(value) * 24 * time.Hour
	case 'm':
		return time.Duration(value) * time.Minute
	default:
		return fallback
	}
}

// recordRun persists run metrics and refreshes the threat intelligence table
// from the materialized groups. Failures only log; analytics responses never
// depend on these writes.
func (a *Analytics) recordRun(ctx context.Context, report Report) {
	logger := zlog.GetLogger()

	if err := a.store.RecordMetric(ctx, "alerts_processed", float64(report.TotalAlerts), map[string]string{"time_range": report.TimeRange}); err != nil {
		logger.Warn().Err(err).Msg("recording alerts_processed metric failed")
	}
	if err := a.store.RecordMetric(ctx, "risk_score", report.RiskScore, nil); err != nil {
		logger.Warn().Err(err).Msg("recording risk_score metric failed")
	}

	for _, group := range report.Threats {
		record := database.ThreatRecord{
			ThreatID:    fmt.Sprintf("%s:%s", group.ThreatType, group.Source),
			ThreatType:  group.ThreatType,
			Severity:    group.Severity,
			Confidence:  group.Confidence,
			Name:        group.ThreatType,
			Description: fmt.Sprintf("%d correlated alerts from %s", group.AlertCount, group.Source),
			Indicators:  group.Indicators,
			FirstSeen:   group.FirstSeen,
			LastSeen:    group.LastSeen,
		}
		if err := a.store.UpsertThreat(ctx, record); err != nil {
			logger.Warn().Err(err).Str("threat_id", record.ThreatID).Msg("updating threat intelligence failed")
		}
	}
}

// GroupThreats buckets alerts by (alert_type, source)
func GroupThreats(alerts []alert.Alert) []ThreatGroup {
	byKey := make(map[string]*ThreatGroup)
	var keys []string

	for _, built := range alerts {
		key := built.AlertType + "|" + built.Source
		group, ok := byKey[key]
		if !ok {
			group = &ThreatGroup{
				ID:         uuid.NewString(),
				ThreatType: built.AlertType,
				Source:     built.Source,
				Severity:   built.Severity,
				FirstSeen:  built.Timestamp,
				LastSeen:   built.Timestamp,
			}
			byKey[key] = group
			keys = append(keys, key)
		}

		group.AlertCount++
		if alert.SeverityRank(built.Severity) > alert.SeverityRank(group.Severity) {
			group.Severity = built.Severity
		}
		if built.Timestamp.Before(group.FirstSeen) {
			group.FirstSeen = built.Timestamp
		}
		if built.Timestamp.After(group.LastSeen) {
			group.LastSeen = built.Timestamp
		}
		group.Indicators = appendUnique(group.Indicators, built.Indicators...)
		if built.NetworkContext != nil {
			group.AffectedAssets = appendUnique(group.AffectedAssets, built.NetworkContext.SrcIP, built.NetworkContext.DstIP)
		}
	}

	groups := make([]ThreatGroup, 0, len(keys))
	for _, key := range keys {
		group := byKey[key]
		group.Confidence = clamp01(0.1*float64(group.AlertCount) + 0.3)
		groups = append(groups, *group)
	}
	return groups
}

// RiskScore aggregates group severities into [0,1]: the severity-weighted
// confidence sum damped by the group count.
func RiskScore(groups []ThreatGroup) float64 {
	if len(groups) == 0 {
		return 0
	}
	var sum float64
	for _, group := range groups {
		sum += alert.SeverityWeights[group.Severity] * group.Confidence
	}
	return clamp01(sum / (1 + 0.1*float64(len(groups))))
}

// recommendationsByType is the closed lookup driving deterministic advice
var recommendationsByType = map[string]string{
	alert.TypeNetworkAnomaly:     "Review egress filtering and baseline traffic for the affected segments",
	alert.TypeIntrusionDetection: "Isolate affected hosts and review IDS signatures that fired",
	alert.TypeMalwareDetection:   "Quarantine affected hosts and sweep for matching file hashes",
	alert.TypeDataExfiltration:   "Block the destination endpoints and audit data access logs",
	alert.TypeUnauthorizedAccess: "Rotate credentials and review authentication logs for the affected accounts",
	alert.TypeSuspiciousBehavior: "Increase monitoring on the affected assets and review recent changes",
}

// Recommendations derives advice from the present threat types plus two
// count-based rules.
func Recommendations(groups []ThreatGroup) []string {
	var recommendations []string
	seen := make(map[string]bool)

	highOrCritical := 0
	for _, group := range groups {
		if alert.SeverityRank(group.Severity) >= alert.SeverityRank(alert.SeverityHigh) {
			highOrCritical++
		}
		text, ok := recommendationsByType[group.ThreatType]
		if !ok && strings.HasPrefix(group.ThreatType, "zeek_") {
			text = "Review collector notices for the flagged hosts"
		}
		if text != "" && !seen[text] {
			seen[text] = true
			recommendations = append(recommendations, text)
		}
	}

	if len(groups) > 5 {
		recommendations = append(recommendations, "Multiple concurrent threat groups detected: consider engaging incident response")
	}
	if highOrCritical > 2 {
		recommendations = append(recommendations, "Several high-severity threat groups active: prioritize containment before triage")
	}
	return recommendations
}

// RecommendThreshold derives the adaptive detector-threshold advice from the
// alert rate and the high-severity ratio.
func RecommendThreshold(alerts []alert.Alert, window time.Duration) ThresholdRecommendation {
	hours := window.Hours()
	if hours <= 0 {
		hours = 1
	}
	perHour := float64(len(alerts)) / hours

	var highSev int
	for _, built := range alerts {
		if alert.SeverityRank(built.Severity) >= alert.SeverityRank(alert.SeverityHigh) {
			highSev++
		}
	}
	var ratio float64
	if len(alerts) > 0 {
		ratio = float64(highSev) / float64(len(alerts))
	}

	recommendation := ThresholdRecommendation{AlertsPerHour: perHour, HighSevRatio: ratio}
	switch {
	case perHour < 1 && ratio > 0.5:
		recommendation.Action = "LOWER"
		recommendation.Threshold = ThresholdLower
	case perHour > 20 && ratio < 0.1:
		recommendation.Action = "RAISE"
		recommendation.Threshold = ThresholdRaise
	default:
		recommendation.Action = "MAINTAIN"
		recommendation.Threshold = ThresholdMaintain
	}
	return recommendation
}

func topThreats(groups []ThreatGroup, limit int) []ThreatGroup {
	sorted := append([]ThreatGroup(nil), groups...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := alert.SeverityRank(sorted[i].Severity), alert.SeverityRank(sorted[j].Severity)
		if ri != rj {
			return ri > rj
		}
		return sorted[i].AlertCount > sorted[j].AlertCount
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// hourlyTrend buckets alert volume per hour; the last bucket is the current
// partial hour.
func hourlyTrend(alerts []alert.Alert, window time.Duration) []TrendBucket {
	hours := int(window.Hours())
	if hours < 1 {
		hours = 1
	}

	start := time.Now().UTC().Truncate(time.Hour).Add(-time.Duration(hours-1) * time.Hour)
	buckets := make([]TrendBucket, hours)
	for i := range buckets {
		buckets[i].Hour = start.Add(time.Duration(i) * time.Hour)
	}
	for _, built := range alerts {
		idx := int(built.Timestamp.Sub(start).Hours())
		if idx >= 0 && idx < len(buckets) {
			buckets[idx].Count++
		}
	}
	return buckets
}

func countBy(alerts []alert.Alert, key func(alert.Alert) string) map[string]int {
	counts := make(map[string]int)
	for _, built := range alerts {
		counts[key(built)]++
	}
	return counts
}

func appendUnique(list []string, values ...string) []string {
	for _, value := range values {
		if value == "" {
			continue
		}
		found := false
		for _, existing := range list {
			if existing == value {
				found = true
				break
			}
		}
		if !found {
			list = append(list, value)
		}
	}
	return list
}
