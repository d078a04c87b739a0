package bridge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cardeasec/cardea/alert"
	"github.com/cardeasec/cardea/config"
	"github.com/cardeasec/cardea/kitnet"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.Env.OracleURL = "http://127.0.0.1:1"
	escalator := NewEscalator(&cfg)
	return NewServer(&cfg, escalator, nil, nil)
}

func doRequest(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)
	resp := doRequest(t, server, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	require.Equal(t, "healthy", payload["status"])
	require.NotEmpty(t, payload["timestamp"])
	require.NotEmpty(t, payload["platform"])
	require.IsType(t, map[string]any{}, payload["services"])
}

func TestPostAlertAccepted(t *testing.T) {
	server := newTestServer(t)
	body := `{"source":"custom","severity":"high","event_type":"suspicious_behavior","description":"odd beaconing","confidence":0.8}`
	resp := doRequest(t, server, http.MethodPost, "/alerts", body)
	require.Equal(t, http.StatusCreated, resp.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	require.Equal(t, "accepted", payload["status"])
	require.NotEmpty(t, payload["alert_id"])
}

func TestPostAlertRejectsMissingFields(t *testing.T) {
	server := newTestServer(t)
	resp := doRequest(t, server, http.MethodPost, "/alerts", `{"source":"custom"}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetAlertsLimit(t *testing.T) {
	server := newTestServer(t)
	for i := 0; i < 10; i++ {
		server.AddRecent(alert.New("kitnet", alert.TypeNetworkAnomaly, alert.SeverityLow, "t", "d"))
	}

	resp := doRequest(t, server, http.MethodGet, "/alerts?limit=3", "")
	require.Equal(t, http.StatusOK, resp.Code)

	var payload struct {
		Alerts []alert.Alert `json:"alerts"`
		Count  int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	require.Equal(t, 3, payload.Count)
	require.Len(t, payload.Alerts, 3)

	resp = doRequest(t, server, http.MethodGet, "/alerts?limit=bogus", "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSuricataIntake(t *testing.T) {
	server := newTestServer(t)
	body := `{
		"flow_id": 42,
		"alert": {"signature": "ET SCAN Nmap", "category": "Attempted Information Leak", "severity": 2, "signature_id": 2000001},
		"network": {"src_ip": "192.168.1.50", "dest_ip": "10.0.0.1", "src_port": 51515, "dest_port": 22, "protocol": "tcp"}
	}`
	resp := doRequest(t, server, http.MethodPost, "/api/v1/alerts/suricata", body)
	require.Equal(t, http.StatusOK, resp.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	require.Equal(t, "accepted", payload["status"])
	mitre, ok := payload["mitre"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "T1046", mitre["id"])

	stats := doRequest(t, server, http.MethodGet, "/api/suricata-stats", "")
	var snapshot SuricataSnapshot
	require.NoError(t, json.Unmarshal(stats.Body.Bytes(), &snapshot))
	require.Equal(t, int64(1), snapshot.Total)
	require.Equal(t, int64(1), snapshot.BySeverity[alert.SeverityHigh])
	require.Equal(t, int64(1), snapshot.ByMITRE["T1046"])
	require.Equal(t, []string{"ET SCAN Nmap"}, snapshot.RecentSignatures)
}

func TestKitnetStatsRoundTrip(t *testing.T) {
	server := newTestServer(t)

	empty := doRequest(t, server, http.MethodGet, "/api/kitnet-stats", "")
	require.Equal(t, http.StatusOK, empty.Code)
	require.JSONEq(t, "{}", empty.Body.String())

	server.SetKitnetStats(kitnet.Snapshot{Phase: kitnet.PhaseDetect, Dim: 17, TrainedSamples: 1000})
	resp := doRequest(t, server, http.MethodGet, "/api/kitnet-stats", "")

	var payload map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	require.Equal(t, "detect", payload["phase"])
	require.Equal(t, float64(17), payload["dim"])

	posted := doRequest(t, server, http.MethodPost, "/api/kitnet-stats", `{"phase":"train","dim":17}`)
	require.Equal(t, http.StatusOK, posted.Code)
	resp = doRequest(t, server, http.MethodGet, "/api/kitnet-stats", "")
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	require.Equal(t, "train", payload["phase"])
}

func TestDiscoveryEndpoint(t *testing.T) {
	server := newTestServer(t)
	resp := doRequest(t, server, http.MethodGet, "/api/discovery", "")
	require.Equal(t, http.StatusOK, resp.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	require.Equal(t, "sentry-01", payload["sensor_id"])
	require.Len(t, payload["watched_logs"], 7)
}

func TestLocalStatsEndpoint(t *testing.T) {
	server := newTestServer(t)
	resp := doRequest(t, server, http.MethodGet, "/api/local-stats", "")
	require.Equal(t, http.StatusOK, resp.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	require.Contains(t, payload, "escalator")
	require.Contains(t, payload, "suricata")
}

func TestSuricataSeverityMapping(t *testing.T) {
	require.Equal(t, alert.SeverityCritical, SuricataSeverity(1))
	require.Equal(t, alert.SeverityHigh, SuricataSeverity(2))
	require.Equal(t, alert.SeverityMedium, SuricataSeverity(3))
	require.Equal(t, alert.SeverityLow, SuricataSeverity(4))
	require.Equal(t, alert.SeverityLow, SuricataSeverity(0))
}

func TestSuricataSignatureRingCapsUnique(t *testing.T) {
	stats := NewSuricataStats()
	for i := 0; i < 30; i++ {
		var event SuricataEvent
		event.Alert.Signature = "SIG-" + strings.Repeat("x", i+1)
		event.Alert.Severity = 3
		stats.Record(event)
		stats.Record(event) // duplicates are not re-added
	}

	snapshot := stats.Snapshot()
	require.Len(t, snapshot.RecentSignatures, signatureRingSize)
	require.Equal(t, int64(60), snapshot.Total)
}

func TestAlertFromSuricataDescription(t *testing.T) {
	var event SuricataEvent
	event.Alert.Signature = "ET POLICY SSH Brute Force"
	event.Alert.Category = "Attempted User Privilege Gain"
	event.Alert.Severity = 1
	event.Network.SrcIP = "203.0.113.9"
	event.Network.DstIP = "10.0.0.2"
	event.Network.DstPort = 22
	event.Network.Protocol = "tcp"

	built := AlertFromSuricata(event)
	require.Equal(t, alert.SeverityCritical, built.Severity)
	require.Equal(t, "suricata", built.Source)
	require.Contains(t, built.Description, "203.0.113.9 → 10.0.0.2:22 (tcp)")
	require.Contains(t, built.Description, "[T1110]")
	require.Contains(t, built.Indicators, "MITRE:T1110 - Brute Force")
}
