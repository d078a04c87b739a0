// Package alert defines the canonical alert shape exchanged between the edge
// and the center and persisted by the center's store.
package alert

import (
	"time"

	"github.com/google/uuid"
)

// Severity levels, least to most severe
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert types (closed enumeration)
const (
	TypeNetworkAnomaly     = "network_anomaly"
	TypeIDSAlert           = "ids_alert"
	TypeIntrusionDetection = "intrusion_detection"
	TypeMalwareDetection   = "malware_detection"
	TypeDataExfiltration   = "data_exfiltration"
	TypeUnauthorizedAccess = "unauthorized_access"
	TypeSuspiciousBehavior = "suspicious_behavior"
)

// SeverityWeights drive deterministic scoring and risk aggregation
var SeverityWeights = map[string]float64{
	SeverityLow:      0.2,
	SeverityMedium:   0.5,
	SeverityHigh:     0.8,
	SeverityCritical: 1.0,
}

// TypeWeights per alert type; unlisted types weigh 0.5
var TypeWeights = map[string]float64{
	TypeNetworkAnomaly:     0.6,
	TypeIntrusionDetection: 0.9,
	TypeMalwareDetection:   1.0,
	TypeSuspiciousBehavior: 0.7,
	TypeDataExfiltration:   1.0,
	TypeUnauthorizedAccess: 0.9,
}

// NetworkContext carries the flow endpoints an alert refers to
type NetworkContext struct {
	SrcIP              string `json:"src_ip,omitempty"`
	DstIP              string `json:"dest_ip,omitempty"`
	SrcPort            int    `json:"src_port,omitempty"`
	DstPort            int    `json:"dest_port,omitempty"`
	Protocol           string `json:"protocol,omitempty"`
	ExternalConnection bool   `json:"external_connection,omitempty"`
	ConnectionCount    int    `json:"connection_count,omitempty"`
}

// Correlation links one alert to another through a named channel
type Correlation struct {
	AlertID string  `json:"alert_id"`
	Channel string  `json:"channel"`
	Score   float64 `json:"score"`
}

// Alert is the canonical unit of inter-tier communication. Identifying
// fields are immutable once stored; ThreatScore, RiskLevel, ProcessedAt and
// Correlations are set exactly once by the background scorer.
type Alert struct {
	ID             string          `json:"id"`
	Source         string          `json:"source"`
	AlertType      string          `json:"alert_type"`
	Severity       string          `json:"severity"`
	Title          string          `json:"title,omitempty"`
	Description    string          `json:"description"`
	Confidence     float64         `json:"confidence,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	CreatedAt      time.Time       `json:"created_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	ThreatScore    *float64        `json:"threat_score,omitempty"`
	RiskLevel      string          `json:"risk_level,omitempty"`
	RawData        map[string]any  `json:"raw_data,omitempty"`
	NetworkContext *NetworkContext `json:"network_context,omitempty"`
	Indicators     []string        `json:"indicators,omitempty"`
	Correlations   []Correlation   `json:"correlations,omitempty"`
}

// New builds an alert with a fresh id and both timestamps set to now
func New(source, alertType, severity, title, description string) Alert {
	now := time.Now().UTC()
	return Alert{
		ID:          uuid.NewString(),
		Source:      source,
		AlertType:   alertType,
		Severity:    severity,
		Title:       title,
		Description: description,
		Timestamp:   now,
		CreatedAt:   now,
	}
}

// SeverityFromScore maps a normalized anomaly score to a severity by the
// fixed step function used for escalation.
func SeverityFromScore(score float64) string {
	switch {
	case score >= 0.95:
		return SeverityCritical
	case score >= 0.80:
		return SeverityHigh
	case score >= 0.60:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

var severityRanks = map[string]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// SeverityRank orders severities for most-severe comparisons; unknown
// severities rank below low.
func SeverityRank(severity string) int {
	rank, ok := severityRanks[severity]
	if !ok {
		return -1
	}
	return rank
}

// IsActionable reports whether the severity warrants automatic escalation
func IsActionable(severity string) bool {
	return SeverityRank(severity) >= severityRanks[SeverityHigh]
}
