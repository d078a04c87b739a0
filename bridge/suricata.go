package bridge

import (
	"fmt"
	"sync"

	"github.com/cardeasec/cardea/alert"
)

// SuricataEvent is the EVE-style payload the signature engine posts to the
// local surface.
type SuricataEvent struct {
	Timestamp string `json:"timestamp"`
	FlowID    int64  `json:"flow_id"`
	Alert     struct {
		Signature   string `json:"signature"`
		Category    string `json:"category"`
		Severity    int    `json:"severity"`
		SignatureID int64  `json:"signature_id"`
	} `json:"alert"`
	Network struct {
		SrcIP    string `json:"src_ip"`
		DstIP    string `json:"dest_ip"`
		SrcPort  int    `json:"src_port"`
		DstPort  int    `json:"dest_port"`
		Protocol string `json:"protocol"`
	} `json:"network"`
	HTTP     map[string]any `json:"http,omitempty"`
	DNS      map[string]any `json:"dns,omitempty"`
	TLS      map[string]any `json:"tls,omitempty"`
	FileInfo map[string]any `json:"fileinfo,omitempty"`
}

// mitreByCategory is a closed mapping of signature categories to ATT&CK
// techniques.
var mitreByCategory = map[string]mitreLabel{
	"Attempted Information Leak":              {"T1046", "Network Service Scanning"},
	"Web Application Attack":                  {"T1190", "Exploit Public-Facing Application"},
	"Attempted Administrator Privilege Gain":  {"T1068", "Exploitation for Privilege Escalation"},
	"A Network Trojan was detected":           {"T1204", "User Execution"},
	"Potential Corporate Privacy Violation":   {"T1048", "Exfiltration Over Alternative Protocol"},
	"Attempted User Privilege Gain":           {"T1110", "Brute Force"},
	"Attempted Denial of Service":             {"T1498", "Network Denial of Service"},
	"Executable code was detected":            {"T1204", "User Execution"},
	"Domain Observed Used for C2 Detected":    {"T1071", "Application Layer Protocol"},
	"Exploit Kit Activity Detected":           {"T1189", "Drive-by Compromise"},
}

type mitreLabel struct {
	ID   string
	Name string
}

// SuricataSeverity maps the engine's numeric severity (1 most severe) to the
// canonical labels.
func SuricataSeverity(level int) string {
	switch level {
	case 1:
		return alert.SeverityCritical
	case 2:
		return alert.SeverityHigh
	case 3:
		return alert.SeverityMedium
	default:
		return alert.SeverityLow
	}
}

// SuricataMITRE resolves the ATT&CK technique for a signature category
func SuricataMITRE(category string) (mitreLabel, bool) {
	label, ok := mitreByCategory[category]
	return label, ok
}

// AlertFromSuricata normalizes one signature-engine event
func AlertFromSuricata(event SuricataEvent) alert.Alert {
	severity := SuricataSeverity(event.Alert.Severity)

	description := fmt.Sprintf("%s: %s → %s:%d (%s)",
		event.Alert.Signature,
		event.Network.SrcIP, event.Network.DstIP, event.Network.DstPort, event.Network.Protocol)
	mitre, hasMitre := SuricataMITRE(event.Alert.Category)
	if hasMitre {
		description += fmt.Sprintf(" [%s]", mitre.ID)
	}

	built := alert.New("suricata", alert.TypeIDSAlert, severity, event.Alert.Signature, description)
	built.NetworkContext = &alert.NetworkContext{
		SrcIP:    event.Network.SrcIP,
		DstIP:    event.Network.DstIP,
		SrcPort:  event.Network.SrcPort,
		DstPort:  event.Network.DstPort,
		Protocol: event.Network.Protocol,
	}
	if event.Network.SrcIP != "" {
		built.Indicators = append(built.Indicators, event.Network.SrcIP)
	}
	if hasMitre {
		built.Indicators = append(built.Indicators, fmt.Sprintf("MITRE:%s - %s", mitre.ID, mitre.Name))
	}
	built.RawData = map[string]any{
		"flow_id":      event.FlowID,
		"signature_id": event.Alert.SignatureID,
		"category":     event.Alert.Category,
		"severity":     event.Alert.Severity,
	}
	return built
}

// signatureRingSize bounds the recent unique signature list
const signatureRingSize = 20

// SuricataStats tracks local counters for the signature-engine intake
type SuricataStats struct {
	mu          sync.Mutex
	total       int64
	bySeverity  map[string]int64
	byCategory  map[string]int64
	byMITRE     map[string]int64
	signatures  []string
	signatureIn map[string]bool
}

func NewSuricataStats() *SuricataStats {
	return &SuricataStats{
		bySeverity:  make(map[string]int64),
		byCategory:  make(map[string]int64),
		byMITRE:     make(map[string]int64),
		signatureIn: make(map[string]bool),
	}
}

func (s *SuricataStats) Record(event SuricataEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.bySeverity[SuricataSeverity(event.Alert.Severity)]++
	if event.Alert.Category != "" {
		s.byCategory[event.Alert.Category]++
	}
	if mitre, ok := SuricataMITRE(event.Alert.Category); ok {
		s.byMITRE[mitre.ID]++
	}

	signature := event.Alert.Signature
	if signature == "" || s.signatureIn[signature] {
		return
	}
	s.signatureIn[signature] = true
	s.signatures = append(s.signatures, signature)
	if len(s.signatures) > signatureRingSize {
		delete(s.signatureIn, s.signatures[0])
		s.signatures = s.signatures[1:]
	}
}

// SuricataSnapshot is the JSON view served by the local surface
type SuricataSnapshot struct {
	Total            int64            `json:"total"`
	BySeverity       map[string]int64 `json:"by_severity"`
	ByCategory       map[string]int64 `json:"by_category"`
	ByMITRE          map[string]int64 `json:"by_mitre"`
	RecentSignatures []string         `json:"recent_signatures"`
}

func (s *SuricataStats) Snapshot() SuricataSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := SuricataSnapshot{
		Total:      s.total,
		BySeverity: make(map[string]int64, len(s.bySeverity)),
		ByCategory: make(map[string]int64, len(s.byCategory)),
		ByMITRE:    make(map[string]int64, len(s.byMITRE)),
	}
	for k, v := range s.bySeverity {
		snapshot.BySeverity[k] = v
	}
	for k, v := range s.byCategory {
		snapshot.ByCategory[k] = v
	}
	for k, v := range s.byMITRE {
		snapshot.ByMITRE[k] = v
	}
	snapshot.RecentSignatures = append(snapshot.RecentSignatures, s.signatures...)
	return snapshot
}
