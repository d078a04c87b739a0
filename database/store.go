package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cardeasec/cardea/alert"
)

// AlertStore is the persistence surface the ingest pipeline and analysis
// consume. The Postgres implementation is authoritative; an in-memory
// implementation backs tests.
type AlertStore interface {
	InsertAlert(ctx context.Context, built alert.Alert) error
	GetAlert(ctx context.Context, id string) (alert.Alert, error)

	// SetScore applies the background scorer's one-time update
	SetScore(ctx context.Context, id string, score float64, riskLevel string, correlations []alert.Correlation) error

	// CountSameType counts alerts of one type newer than since
	CountSameType(ctx context.Context, alertType string, since time.Time) (int64, error)

	// AlertsSince returns alerts newer than since, most recent first
	AlertsSince(ctx context.Context, since time.Time) ([]alert.Alert, error)

	RecordMetric(ctx context.Context, name string, value float64, tags map[string]string) error
	UpsertThreat(ctx context.Context, threat ThreatRecord) error
}

// ThreatRecord is a row in threat_intelligence
type ThreatRecord struct {
	ThreatID    string    `json:"threat_id"`
	ThreatType  string    `json:"threat_type"`
	Severity    string    `json:"severity"`
	Confidence  float64   `json:"confidence_score"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Indicators  []string  `json:"indicators"`
	Tactics     []string  `json:"tactics"`
	Techniques  []string  `json:"techniques"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	AlertID     string    `json:"alert_id,omitempty"`
}

// PostgresStore implements AlertStore over the pooled connection
type PostgresStore struct {
	db *DB
}

func NewPostgresStore(db *DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) InsertAlert(ctx context.Context, built alert.Alert) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rawData, err := json.Marshal(built.RawData)
	if err != nil {
		return fmt.Errorf("encoding raw data: %w", err)
	}
	networkContext, err := json.Marshal(built.NetworkContext)
	if err != nil {
		return fmt.Errorf("encoding network context: %w", err)
	}
	indicators, err := json.Marshal(built.Indicators)
	if err != nil {
		return fmt.Errorf("encoding indicators: %w", err)
	}

	_, err = s.db.Pool.Exec(opCtx, `
		INSERT INTO alerts (
			id, source, alert_type, severity, title, description, confidence,
			timestamp, created_at, raw_data, network_context, indicators
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, built.ID, built.Source, built.AlertType, built.Severity, built.Title,
		built.Description, built.Confidence, built.Timestamp, built.CreatedAt,
		rawData, networkContext, indicators)
	return err
}

func (s *PostgresStore) GetAlert(ctx context.Context, id string) (alert.Alert, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := s.db.Pool.QueryRow(opCtx, `
		SELECT id, source, alert_type, severity, title, description, confidence,
			timestamp, created_at, processed_at, threat_score, risk_level,
			raw_data, network_context, correlations, indicators
		FROM alerts WHERE id = $1
	`, id)
	return scanAlert(row)
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (alert.Alert, error) {
	var built alert.Alert
	var riskLevel *string
	var rawData, networkContext, correlations, indicators []byte

	err := row.Scan(&built.ID, &built.Source, &built.AlertType, &built.Severity,
		&built.Title, &built.Description, &built.Confidence, &built.Timestamp,
		&built.CreatedAt, &built.ProcessedAt, &built.ThreatScore, &riskLevel,
		&rawData, &networkContext, &correlations, &indicators)
	if err != nil {
		return alert.Alert{}, err
	}

	if riskLevel != nil {
		built.RiskLevel = *riskLevel
	}
	if len(rawData) > 0 {
		if err := json.Unmarshal(rawData, &built.RawData); err != nil {
			return alert.Alert{}, fmt.Errorf("decoding raw data: %w", err)
		}
	}
	if len(networkContext) > 0 {
		if err := json.Unmarshal(networkContext, &built.NetworkContext); err != nil {
			return alert.Alert{}, fmt.Errorf("decoding network context: %w", err)
		}
	}
	if len(correlations) > 0 {
		if err := json.Unmarshal(correlations, &built.Correlations); err != nil {
			return alert.Alert{}, fmt.Errorf("decoding correlations: %w", err)
		}
	}
	if len(indicators) > 0 {
		if err := json.Unmarshal(indicators, &built.Indicators); err != nil {
			return alert.Alert{}, fmt.Errorf("decoding indicators: %w", err)
		}
	}
	return built, nil
}

// SetScore is a row-level update; the scorer runs exactly once per alert
func (s *PostgresStore) SetScore(ctx context.Context, id string, score float64, riskLevel string, correlations []alert.Correlation) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	encoded, err := json.Marshal(correlations)
	if err != nil {
		return fmt.Errorf("encoding correlations: %w", err)
	}

	_, err = s.db.Pool.Exec(opCtx, `
		UPDATE alerts
		SET threat_score = $2, risk_level = $3, correlations = $4, processed_at = now()
		WHERE id = $1
	`, id, score, riskLevel, encoded)
	return err
}

func (s *PostgresStore) CountSameType(ctx context.Context, alertType string, since time.Time) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int64
	err := s.db.Pool.QueryRow(opCtx, `
		SELECT count(*) FROM alerts WHERE alert_type = $1 AND timestamp >= $2
	`, alertType, since).Scan(&count)
	return count, err
}

func (s *PostgresStore) AlertsSince(ctx context.Context, since time.Time) ([]alert.Alert, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.Pool.Query(opCtx, `
		SELECT id, source, alert_type, severity, title, description, confidence,
			timestamp, created_at, processed_at, threat_score, risk_level,
			raw_data, network_context, correlations, indicators
		FROM alerts WHERE timestamp >= $1
		ORDER BY timestamp DESC
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []alert.Alert
	for rows.Next() {
		built, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, built)
	}
	return alerts, rows.Err()
}

func (s *PostgresStore) RecordMetric(ctx context.Context, name string, value float64, tags map[string]string) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	encoded, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encoding metric tags: %w", err)
	}
	_, err = s.db.Pool.Exec(opCtx, `
		INSERT INTO system_metrics (metric_name, metric_value, tags, timestamp)
		VALUES ($1, $2, $3, now())
	`, name, value, encoded)
	return err
}

func (s *PostgresStore) UpsertThreat(ctx context.Context, threat ThreatRecord) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	indicators, err := json.Marshal(threat.Indicators)
	if err != nil {
		return err
	}
	tactics, err := json.Marshal(threat.Tactics)
	if err != nil {
		return err
	}
	techniques, err := json.Marshal(threat.Techniques)
	if err != nil {
		return err
	}

	var alertID *string
	if threat.AlertID != "" {
		alertID = &threat.AlertID
	}

	_, err = s.db.Pool.Exec(opCtx, `
		INSERT INTO threat_intelligence (
			threat_id, threat_type, severity, confidence_score, name, description,
			indicators, tactics, techniques, first_seen, last_seen, alert_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (threat_id) DO UPDATE SET
			severity = EXCLUDED.severity,
			confidence_score = EXCLUDED.confidence_score,
			indicators = EXCLUDED.indicators,
			last_seen = EXCLUDED.last_seen,
			updated_at = now()
	`, threat.ThreatID, threat.ThreatType, threat.Severity, threat.Confidence,
		threat.Name, threat.Description, indicators, tactics, techniques,
		threat.FirstSeen, threat.LastSeen, alertID)
	return err
}
