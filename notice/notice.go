// Package notice converts Zeek notice records into high-confidence alerts
// without waiting for flow correlation.
package notice

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cardeasec/cardea/alert"
	"github.com/cardeasec/cardea/importer/zeektypes"
	zlog "github.com/cardeasec/cardea/logger"
)

// noticeConfidence is fixed: notices are pre-filtered by the collector
const noticeConfidence = 0.9

// severityByNote is a closed mapping of notice types to severities; anything
// unlisted is low.
var severityByNote = map[string]string{
	"Intel::Notice":                       alert.SeverityCritical,
	"Signatures::Sensitive_Signature":     alert.SeverityCritical,
	"HTTP::SQL_Injection_Attacker":        alert.SeverityCritical,
	"TeamCymruMalwareHashRegistry::Match": alert.SeverityCritical,
	"Scan::Port_Scan":                     alert.SeverityHigh,
	"Scan::Address_Scan":                  alert.SeverityHigh,
	"SSH::Password_Guessing":              alert.SeverityHigh,
	"FTP::Bruteforcing":                   alert.SeverityHigh,
	"SSL::Invalid_Server_Cert":            alert.SeverityHigh,
	"Weird::Activity":                     alert.SeverityHigh,
	"ZeekNotice::Tracker_Hit":             alert.SeverityHigh,
	"SSH::Interesting_Hostname_Login":     alert.SeverityMedium,
	"SSL::Certificate_Expired":            alert.SeverityMedium,
	"Software::Vulnerable_Version":        alert.SeverityMedium,
	"CaptureLoss::Too_Much_Loss":          alert.SeverityMedium,
	"PacketFilter::Dropped_Packets":       alert.SeverityMedium,
}

// mitreTechnique labels ATT&CK techniques per notice type
type mitreTechnique struct {
	ID   string
	Name string
}

var mitreByNote = map[string]mitreTechnique{
	"Scan::Port_Scan":                     {"T1046", "Network Service Scanning"},
	"Scan::Address_Scan":                  {"T1046", "Network Service Scanning"},
	"SSH::Password_Guessing":              {"T1110", "Brute Force"},
	"FTP::Bruteforcing":                   {"T1110", "Brute Force"},
	"HTTP::SQL_Injection_Attacker":        {"T1190", "Exploit Public-Facing Application"},
	"SSL::Invalid_Server_Cert":            {"T1557", "Adversary-in-the-Middle"},
	"Weird::Activity":                     {"T1205", "Traffic Signaling"},
	"TeamCymruMalwareHashRegistry::Match": {"T1204", "User Execution"},
	"Software::Vulnerable_Version":        {"T1203", "Exploitation for Client Execution"},
	"Intel::Notice":                       {"", "IOC match"},
}

// Severity classifies a notice type
func Severity(note string) string {
	if severity, ok := severityByNote[note]; ok {
		return severity
	}
	return alert.SeverityLow
}

// Technique looks up the ATT&CK technique for a notice type
func Technique(note string) (mitreTechnique, bool) {
	technique, ok := mitreByNote[note]
	return technique, ok
}

// Category is the namespace prefix of a notice type, lowercased: the
// "Scan" in "Scan::Port_Scan".
func Category(note string) string {
	if idx := strings.Index(note, "::"); idx > 0 {
		return strings.ToLower(note[:idx])
	}
	return "notice"
}

// FromRecord builds the canonical alert for one notice record
func FromRecord(record zeektypes.Notice) alert.Alert {
	note := record.Note
	severity := Severity(note)

	description := fmt.Sprintf("[%s] %s", note, record.Msg)
	if record.Sub != "" {
		description += " - " + record.Sub
	}

	built := alert.New("zeek_notice", "zeek_"+Category(note), severity, note, description)
	built.Confidence = noticeConfidence

	srcIP := record.Source
	if srcIP == "" {
		srcIP = record.Src
	}
	dstIP := record.Destination
	if dstIP == "" {
		dstIP = record.Dst
	}
	built.NetworkContext = &alert.NetworkContext{
		SrcIP:    srcIP,
		DstIP:    dstIP,
		SrcPort:  record.SourcePort,
		DstPort:  record.DestinationPort,
		Protocol: record.Proto,
	}

	if srcIP != "" {
		built.Indicators = append(built.Indicators, "IP:"+srcIP)
	}
	if technique, ok := Technique(note); ok {
		if technique.ID != "" {
			built.Indicators = append(built.Indicators, fmt.Sprintf("MITRE:%s - %s", technique.ID, technique.Name))
		} else {
			built.Indicators = append(built.Indicators, "MITRE:"+technique.Name)
		}
	}

	built.RawData = map[string]any{
		"ts":   record.TimeStamp,
		"uid":  record.UID,
		"note": note,
		"msg":  record.Msg,
		"sub":  record.Sub,
	}
	return built
}

// Monitor consumes forwarded notice records, tracks per-type counters, and
// emits alerts. High and critical alerts go to Escalations; everything is
// retained in recent history for the local HTTP surface.
type Monitor struct {
	Escalations chan alert.Alert

	in <-chan zeektypes.Notice

	mu          sync.Mutex
	countByNote map[string]int64
	recent      []alert.Alert
	recentCap   int
}

const defaultRecentCap = 100

func NewMonitor(in <-chan zeektypes.Notice) *Monitor {
	return &Monitor{
		Escalations: make(chan alert.Alert, 100),
		in:          in,
		countByNote: make(map[string]int64),
		recentCap:   defaultRecentCap,
	}
}

// Run converts notices until the input closes or the context is cancelled
func (m *Monitor) Run(ctx context.Context) error {
	defer close(m.Escalations)
	logger := zlog.GetLogger()

	for {
		select {
		case <-ctx.Done():
			return nil
		case record, ok := <-m.in:
			if !ok {
				return nil
			}

			built := FromRecord(record)
			m.record(record.Note, built)

			logger.Debug().
				Str("note", record.Note).
				Str("severity", built.Severity).
				Msg("notice converted to alert")

			if !alert.IsActionable(built.Severity) {
				continue
			}
			select {
			case m.Escalations <- built:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (m *Monitor) record(note string, built alert.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countByNote[note]++
	m.recent = append(m.recent, built)
	if len(m.recent) > m.recentCap {
		m.recent = m.recent[len(m.recent)-m.recentCap:]
	}
}

// StatsSnapshot is the local observability view of the monitor
type StatsSnapshot struct {
	Total       int64            `json:"total"`
	CountByNote map[string]int64 `json:"count_by_note"`
	Recent      []alert.Alert    `json:"recent"`
}

func (m *Monitor) Stats() StatsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := StatsSnapshot{CountByNote: make(map[string]int64, len(m.countByNote))}
	for note, count := range m.countByNote {
		snapshot.Total += count
		snapshot.CountByNote[note] = count
	}
	snapshot.Recent = append(snapshot.Recent, m.recent...)
	return snapshot
}
