package database

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cardeasec/cardea/alert"
)

// ErrAlertNotFound is returned when a lookup misses
var ErrAlertNotFound = errors.New("alert not found")

// MemoryStore is an in-memory AlertStore used by tests and by the ingest
// pipeline's unit coverage.
type MemoryStore struct {
	mu      sync.Mutex
	alerts  map[string]alert.Alert
	order   []string
	metrics []MemoryMetric
	threats map[string]ThreatRecord
}

// MemoryMetric captures one RecordMetric call
type MemoryMetric struct {
	Name  string
	Value float64
	Tags  map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:  make(map[string]alert.Alert),
		threats: make(map[string]ThreatRecord),
	}
}

func (s *MemoryStore) InsertAlert(_ context.Context, built alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[built.ID] = built
	s.order = append(s.order, built.ID)
	return nil
}

func (s *MemoryStore) GetAlert(_ context.Context, id string) (alert.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	built, ok := s.alerts[id]
	if !ok {
		return alert.Alert{}, ErrAlertNotFound
	}
	return built, nil
}

func (s *MemoryStore) SetScore(_ context.Context, id string, score float64, riskLevel string, correlations []alert.Correlation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	built, ok := s.alerts[id]
	if !ok {
		return ErrAlertNotFound
	}
	now := time.Now().UTC()
	built.ThreatScore = &score
	built.RiskLevel = riskLevel
	built.Correlations = correlations
	built.ProcessedAt = &now
	s.alerts[id] = built
	return nil
}

func (s *MemoryStore) CountSameType(_ context.Context, alertType string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, built := range s.alerts {
		if built.AlertType == alertType && !built.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) AlertsSince(_ context.Context, since time.Time) ([]alert.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var alerts []alert.Alert
	for _, built := range s.alerts {
		if !built.Timestamp.Before(since) {
			alerts = append(alerts, built)
		}
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})
	return alerts, nil
}

func (s *MemoryStore) RecordMetric(_ context.Context, name string, value float64, tags map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, MemoryMetric{Name: name, Value: value, Tags: tags})
	return nil
}

func (s *MemoryStore) UpsertThreat(_ context.Context, threat ThreatRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threats[threat.ThreatID] = threat
	return nil
}

// Len reports the stored alert count
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

// Metrics returns a copy of the recorded metrics
func (s *MemoryStore) Metrics() []MemoryMetric {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MemoryMetric(nil), s.metrics...)
}
