package correlator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cardeasec/cardea/config"
	"github.com/cardeasec/cardea/importer"
	"github.com/cardeasec/cardea/importer/zeektypes"
	"github.com/stretchr/testify/require"
)

func newTestReader(bufSize int) *importer.Reader {
	return &importer.Reader{
		Conn:   make(chan zeektypes.Conn, bufSize),
		DNS:    make(chan zeektypes.DNS, bufSize),
		HTTP:   make(chan zeektypes.HTTP, bufSize),
		SSL:    make(chan zeektypes.SSL, bufSize),
		Notice: make(chan zeektypes.Notice, bufSize),
		Files:  make(chan zeektypes.Files, bufSize),
		Weird:  make(chan zeektypes.Weird, bufSize),
	}
}

func closeReaderChannels(reader *importer.Reader) {
	close(reader.Conn)
	close(reader.DNS)
	close(reader.HTTP)
	close(reader.SSL)
	close(reader.Notice)
	close(reader.Files)
	close(reader.Weird)
}

func runCorrelator(t *testing.T, cfg *config.Config, reader *importer.Reader) (*Correlator, chan error) {
	t.Helper()
	correlator := NewCorrelator(cfg, reader)
	done := make(chan error, 1)
	go func() {
		done <- correlator.Run(context.Background())
	}()
	return correlator, done
}

func TestConnJoinsAccumulatedContext(t *testing.T) {
	cfg := config.GetDefaultConfig()
	reader := newTestReader(64)
	correlator, done := runCorrelator(t, &cfg, reader)

	for i := 0; i < 5; i++ {
		reader.DNS <- zeektypes.DNS{UID: "U1", Query: fmt.Sprintf("host%d.example.com", i)}
	}
	reader.SSL <- zeektypes.SSL{UID: "U1", ServerName: "host0.example.com"}
	reader.Conn <- zeektypes.Conn{
		TimeStamp:   1700000000.5,
		UID:         "U1",
		Source:      "10.0.0.5",
		Destination: "93.184.216.34",
		Duration:    30,
		OrigBytes:   5_000_000,
		RespBytes:   200,
		OrigPackets: 4000,
		RespPackets: 4,
		ConnState:   "SF",
	}
	closeReaderChannels(reader)
	require.NoError(t, <-done)

	event := <-correlator.Events
	require.True(t, event.HasDNS)
	require.Len(t, event.DNSQueries, 5)
	require.Equal(t, "host0.example.com", event.DNSQueries[0])
	require.True(t, event.HasSSL)
	require.Equal(t, "host0.example.com", event.SSLServerName)
	require.False(t, event.HasHTTP)
	require.Equal(t, "medium", event.DurationCategory)
	require.Equal(t, int64(5_000_200), event.TotalBytes)
	require.InDelta(t, 25000, event.BytesRatio, 1e-9)
	require.InDelta(t, 1000, event.PacketRatio, 1e-9)
}

func TestConnWithoutContextEmitsBareEvent(t *testing.T) {
	cfg := config.GetDefaultConfig()
	reader := newTestReader(8)
	correlator, done := runCorrelator(t, &cfg, reader)

	reader.Conn <- zeektypes.Conn{UID: "Unseen", Source: "10.0.0.1", Duration: 0.2}
	closeReaderChannels(reader)
	require.NoError(t, <-done)

	event := <-correlator.Events
	require.Equal(t, "Unseen", event.UID)
	require.False(t, event.HasDNS)
	require.False(t, event.HasHTTP)
	require.False(t, event.HasSSL)
	require.False(t, event.HasNotices)
	require.Equal(t, "short", event.DurationCategory)
}

func TestZeroDenominatorRatiosUseSentinel(t *testing.T) {
	cfg := config.GetDefaultConfig()
	reader := newTestReader(8)
	correlator, done := runCorrelator(t, &cfg, reader)

	reader.Conn <- zeektypes.Conn{UID: "U2", OrigBytes: 100, RespBytes: 0, OrigPackets: 3, RespPackets: 0}
	reader.Conn <- zeektypes.Conn{UID: "U3"}
	closeReaderChannels(reader)
	require.NoError(t, <-done)

	withTraffic := <-correlator.Events
	require.Equal(t, 1e6, withTraffic.BytesRatio)
	require.Equal(t, 1e6, withTraffic.PacketRatio)

	empty := <-correlator.Events
	require.Zero(t, empty.BytesRatio)
	require.Zero(t, empty.PacketRatio)
}

func TestContextCapsPerFlow(t *testing.T) {
	cfg := config.GetDefaultConfig()
	reader := newTestReader(64)
	correlator, done := runCorrelator(t, &cfg, reader)

	for i := 0; i < 25; i++ {
		reader.DNS <- zeektypes.DNS{UID: "U1", Query: fmt.Sprintf("q%d.example.com", i)}
	}
	reader.Conn <- zeektypes.Conn{UID: "U1"}
	closeReaderChannels(reader)
	require.NoError(t, <-done)

	event := <-correlator.Events
	require.Len(t, event.DNSQueries, maxDNSPerFlow)
	// earliest records win
	require.Equal(t, "q0.example.com", event.DNSQueries[0])
}

func TestNoticesForwardedAndContextualized(t *testing.T) {
	cfg := config.GetDefaultConfig()
	reader := newTestReader(8)
	correlator, done := runCorrelator(t, &cfg, reader)

	reader.Notice <- zeektypes.Notice{UID: "U1", Note: "Scan::Port_Scan", Msg: "scan detected"}
	reader.Conn <- zeektypes.Conn{UID: "U1"}
	closeReaderChannels(reader)
	require.NoError(t, <-done)

	forwarded := <-correlator.NoticeOut
	require.Equal(t, "Scan::Port_Scan", forwarded.Note)

	event := <-correlator.Events
	require.True(t, event.HasNotices)
	require.Equal(t, []string{"Scan::Port_Scan"}, event.NoticeTypes)
}

func TestWeirdRecordsMarkFlow(t *testing.T) {
	cfg := config.GetDefaultConfig()
	reader := newTestReader(8)
	correlator, done := runCorrelator(t, &cfg, reader)

	reader.Weird <- zeektypes.Weird{UID: "U1", Name: "bad_TCP_checksum"}
	reader.Conn <- zeektypes.Conn{UID: "U1"}
	closeReaderChannels(reader)
	require.NoError(t, <-done)

	event := <-correlator.Events
	require.True(t, event.HasNotices)
	require.Equal(t, []string{"Weird::bad_TCP_checksum"}, event.NoticeTypes)
}

func TestFilesJoinByConnUID(t *testing.T) {
	cfg := config.GetDefaultConfig()
	reader := newTestReader(8)
	correlator, done := runCorrelator(t, &cfg, reader)

	reader.Files <- zeektypes.Files{FUID: "F1", ConnUIDs: []string{"U1", "U2"}, MimeType: "application/x-dosexec"}
	reader.Conn <- zeektypes.Conn{UID: "U1"}
	reader.Conn <- zeektypes.Conn{UID: "U2"}
	closeReaderChannels(reader)
	require.NoError(t, <-done)

	for i := 0; i < 2; i++ {
		event := <-correlator.Events
		require.Equal(t, []string{"application/x-dosexec"}, event.FileMimeTypes, "uid %s", event.UID)
	}
}

func TestRecordsWithoutUIDAreDropped(t *testing.T) {
	cfg := config.GetDefaultConfig()
	reader := newTestReader(8)
	correlator, done := runCorrelator(t, &cfg, reader)

	reader.DNS <- zeektypes.DNS{Query: "orphan.example.com"}
	reader.Conn <- zeektypes.Conn{UID: "U1"}
	closeReaderChannels(reader)
	require.NoError(t, <-done)

	event := <-correlator.Events
	require.False(t, event.HasDNS)
	require.Zero(t, correlator.FlowCount())
}

func TestFlowTableBoundedUnderUniqueUIDFlood(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Sentry.FlowTableSize = 100
	reader := newTestReader(1)
	correlator, done := runCorrelator(t, &cfg, reader)

	for i := 0; i < 1000; i++ {
		reader.DNS <- zeektypes.DNS{UID: fmt.Sprintf("U%d", i), Query: "x.example.com"}
	}
	closeReaderChannels(reader)
	require.NoError(t, <-done)

	require.LessOrEqual(t, correlator.FlowCount(), 100)
	require.GreaterOrEqual(t, correlator.EvictedFlows.Load(), uint64(900))
}

func TestEvictionDropsOldestFlowsFirst(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Sentry.FlowTableSize = 10
	reader := newTestReader(1)
	correlator, done := runCorrelator(t, &cfg, reader)

	for i := 0; i < 11; i++ {
		reader.DNS <- zeektypes.DNS{UID: fmt.Sprintf("U%d", i), Query: "x.example.com"}
	}
	// U0 and U1 were the oldest and should be gone; U10 must remain joined
	reader.Conn <- zeektypes.Conn{UID: "U0"}
	reader.Conn <- zeektypes.Conn{UID: "U10"}
	closeReaderChannels(reader)
	require.NoError(t, <-done)

	evictedFlow := <-correlator.Events
	require.Equal(t, "U0", evictedFlow.UID)
	require.False(t, evictedFlow.HasDNS)

	survivor := <-correlator.Events
	require.Equal(t, "U10", survivor.UID)
	require.True(t, survivor.HasDNS)
}

func TestTimestampConversion(t *testing.T) {
	event := Enrich(zeektypes.Conn{TimeStamp: 1700000000}, &FlowContext{})
	require.Equal(t, time.Unix(1700000000, 0).UTC(), event.Timestamp)

	zero := Enrich(zeektypes.Conn{}, &FlowContext{})
	require.True(t, zero.Timestamp.IsZero())
}
