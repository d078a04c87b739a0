package notice

import (
	"context"
	"testing"

	"github.com/cardeasec/cardea/alert"
	"github.com/cardeasec/cardea/importer/zeektypes"
	"github.com/stretchr/testify/require"
)

func TestPortScanNoticeMapping(t *testing.T) {
	record := zeektypes.Notice{
		TimeStamp: 1700000000,
		UID:       "CScan01",
		Note:      "Scan::Port_Scan",
		Msg:       "192.168.1.50 scanned at least 15 unique ports of host 10.0.0.1",
		Src:       "192.168.1.50",
		Source:    "192.168.1.50",
	}

	built := FromRecord(record)
	require.Equal(t, alert.SeverityHigh, built.Severity)
	require.Equal(t, "zeek_scan", built.AlertType)
	require.Equal(t, "zeek_notice", built.Source)
	require.Equal(t, 0.9, built.Confidence)
	require.Contains(t, built.Indicators, "IP:192.168.1.50")
	require.Contains(t, built.Indicators, "MITRE:T1046 - Network Service Scanning")
	require.Contains(t, built.Description, "[Scan::Port_Scan]")
}

func TestSeverityTables(t *testing.T) {
	tests := []struct {
		note string
		want string
	}{
		{"Intel::Notice", alert.SeverityCritical},
		{"TeamCymruMalwareHashRegistry::Match", alert.SeverityCritical},
		{"HTTP::SQL_Injection_Attacker", alert.SeverityCritical},
		{"SSH::Password_Guessing", alert.SeverityHigh},
		{"SSL::Invalid_Server_Cert", alert.SeverityHigh},
		{"Weird::Activity", alert.SeverityHigh},
		{"Software::Vulnerable_Version", alert.SeverityMedium},
		{"SSL::Certificate_Expired", alert.SeverityMedium},
		{"SomePolicy::Unlisted_Note", alert.SeverityLow},
		{"", alert.SeverityLow},
	}
	for _, test := range tests {
		require.Equal(t, test.want, Severity(test.note), "note %q", test.note)
	}
}

func TestCategoryExtraction(t *testing.T) {
	require.Equal(t, "scan", Category("Scan::Port_Scan"))
	require.Equal(t, "ssh", Category("SSH::Password_Guessing"))
	require.Equal(t, "notice", Category("no-namespace"))
}

func TestDescriptionIncludesSubMessage(t *testing.T) {
	built := FromRecord(zeektypes.Notice{
		Note: "SSL::Invalid_Server_Cert",
		Msg:  "SSL certificate validation failed",
		Sub:  "self signed certificate",
	})
	require.Equal(t, "[SSL::Invalid_Server_Cert] SSL certificate validation failed - self signed certificate", built.Description)
}

func TestMonitorEscalatesOnlyActionable(t *testing.T) {
	in := make(chan zeektypes.Notice, 8)
	monitor := NewMonitor(in)

	done := make(chan error, 1)
	go func() {
		done <- monitor.Run(context.Background())
	}()

	in <- zeektypes.Notice{Note: "Scan::Port_Scan", Msg: "scan", Src: "10.0.0.9"}
	in <- zeektypes.Notice{Note: "SomePolicy::Unlisted_Note", Msg: "routine"}
	in <- zeektypes.Notice{Note: "Intel::Notice", Msg: "ioc hit", Src: "203.0.113.7"}
	close(in)
	require.NoError(t, <-done)

	var escalated []alert.Alert
	for built := range monitor.Escalations {
		escalated = append(escalated, built)
	}
	require.Len(t, escalated, 2)
	require.Equal(t, alert.SeverityHigh, escalated[0].Severity)
	require.Equal(t, alert.SeverityCritical, escalated[1].Severity)

	snapshot := monitor.Stats()
	require.Equal(t, int64(3), snapshot.Total)
	require.Equal(t, int64(1), snapshot.CountByNote["SomePolicy::Unlisted_Note"])
	require.Len(t, snapshot.Recent, 3)
}
