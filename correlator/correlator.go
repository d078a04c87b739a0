// Package correlator joins auxiliary Zeek records (DNS, HTTP, TLS, notices,
// files) to connection records by flow UID and emits enriched per-connection
// events for the anomaly detector.
package correlator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cardeasec/cardea/config"
	"github.com/cardeasec/cardea/importer"
	"github.com/cardeasec/cardea/importer/zeektypes"
	zlog "github.com/cardeasec/cardea/logger"
)

// per-context accumulation caps; a flow with more auxiliary records than this
// keeps the earliest ones
const (
	maxDNSPerFlow    = 10
	maxHTTPPerFlow   = 10
	maxNoticePerFlow = 10
	maxFilesPerFlow  = 10
)

// evictFraction is the share of the flow table dropped (oldest first) when the
// population cap is exceeded
const evictFraction = 0.2

// FlowContext accumulates auxiliary records for one flow UID until the
// matching conn record arrives.
type FlowContext struct {
	UID     string
	DNS     []zeektypes.DNS
	HTTP    []zeektypes.HTTP
	SSL     *zeektypes.SSL
	Notices []zeektypes.Notice
	Files   []zeektypes.Files
}

// EnrichedEvent is the correlator's output for one connection record: the
// normalized conn fields plus derived values and the auxiliary context
// accumulated under the same UID.
type EnrichedEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	UID         string    `json:"uid"`
	SrcIP       string    `json:"src_ip"`
	DstIP       string    `json:"dst_ip"`
	SrcPort     int       `json:"src_port"`
	DstPort     int       `json:"dst_port"`
	Proto       string    `json:"proto"`
	Service     string    `json:"service"`
	Duration    float64   `json:"duration"`
	OrigBytes   int64     `json:"orig_bytes"`
	RespBytes   int64     `json:"resp_bytes"`
	OrigPackets int64     `json:"orig_pkts"`
	RespPackets int64     `json:"resp_pkts"`
	ConnState   string    `json:"conn_state"`
	History     string    `json:"history"`

	BytesRatio       float64 `json:"bytes_ratio"`
	PacketRatio      float64 `json:"packet_ratio"`
	TotalBytes       int64   `json:"total_bytes"`
	DurationCategory string  `json:"duration_category"`

	HasDNS     bool `json:"has_dns"`
	HasHTTP    bool `json:"has_http"`
	HasSSL     bool `json:"has_ssl"`
	HasNotices bool `json:"has_notices"`

	DNSQueries    []string `json:"dns_queries,omitempty"`
	HTTPHosts     []string `json:"http_hosts,omitempty"`
	SSLServerName string   `json:"ssl_server_name,omitempty"`
	NoticeTypes   []string `json:"notice_types,omitempty"`
	FileMimeTypes []string `json:"file_mime_types,omitempty"`
}

// ratioSentinel stands in for ratios whose denominator is zero
const ratioSentinel = 1e6

// Correlator owns the UID-keyed flow table. It is the only task that mutates
// it; all input arrives over the reader's channels.
type Correlator struct {
	Cfg    *config.Config
	Events chan EnrichedEvent

	// notices are forwarded here before being folded into the flow table so
	// the notice monitor's fast path never waits on correlation
	NoticeOut chan zeektypes.Notice

	EvictedFlows atomic.Uint64

	reader *importer.Reader
	flows  map[string]*FlowContext
	order  []string
	cap    int
}

func NewCorrelator(cfg *config.Config, reader *importer.Reader) *Correlator {
	return &Correlator{
		Cfg:       cfg,
		Events:    make(chan EnrichedEvent, cfg.Sentry.EventBufferSize),
		NoticeOut: make(chan zeektypes.Notice, cfg.Sentry.EventBufferSize),
		reader:    reader,
		flows:     make(map[string]*FlowContext),
		cap:       int(cfg.Sentry.FlowTableSize),
	}
}

// Run consumes the reader's channels until they close or the context is
// cancelled, then closes the output channels.
func (c *Correlator) Run(ctx context.Context) error {
	defer close(c.Events)
	defer close(c.NoticeOut)

	conn, dns, http, ssl := c.reader.Conn, c.reader.DNS, c.reader.HTTP, c.reader.SSL
	notice, files, weird := c.reader.Notice, c.reader.Files, c.reader.Weird

	for {
		// nil-ed channels drop out of the select as their sources close
		if conn == nil && dns == nil && http == nil && ssl == nil && notice == nil && files == nil && weird == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil

		case record, ok := <-conn:
			if !ok {
				conn = nil
				continue
			}
			c.handleConn(ctx, record)

		case record, ok := <-dns:
			if !ok {
				dns = nil
				continue
			}
			if record.UID == "" {
				continue
			}
			flow := c.flow(record.UID)
			if len(flow.DNS) < maxDNSPerFlow {
				flow.DNS = append(flow.DNS, record)
			}

		case record, ok := <-http:
			if !ok {
				http = nil
				continue
			}
			if record.UID == "" {
				continue
			}
			flow := c.flow(record.UID)
			if len(flow.HTTP) < maxHTTPPerFlow {
				flow.HTTP = append(flow.HTTP, record)
			}

		case record, ok := <-ssl:
			if !ok {
				ssl = nil
				continue
			}
			if record.UID == "" {
				continue
			}
			c.flow(record.UID).SSL = &record

		case record, ok := <-notice:
			if !ok {
				notice = nil
				continue
			}
			// fast path first
			select {
			case c.NoticeOut <- record:
			case <-ctx.Done():
				return nil
			}
			if record.UID == "" {
				continue
			}
			flow := c.flow(record.UID)
			if len(flow.Notices) < maxNoticePerFlow {
				flow.Notices = append(flow.Notices, record)
			}

		case record, ok := <-files:
			if !ok {
				files = nil
				continue
			}
			// files records reference their flows through conn_uids
			for _, uid := range record.ConnUIDs {
				if uid == "" {
					continue
				}
				flow := c.flow(uid)
				if len(flow.Files) < maxFilesPerFlow {
					flow.Files = append(flow.Files, record)
				}
			}

		case record, ok := <-weird:
			if !ok {
				weird = nil
				continue
			}
			// weird records carry no payload the detector consumes; they only
			// mark the flow as having notice-grade activity
			if record.UID == "" {
				continue
			}
			flow := c.flow(record.UID)
			if len(flow.Notices) < maxNoticePerFlow {
				flow.Notices = append(flow.Notices, zeektypes.Notice{
					TimeStamp: record.TimeStamp,
					UID:       record.UID,
					Source:    record.Source,
					Note:      "Weird::" + record.Name,
					Msg:       record.Addl,
				})
			}
		}
	}
}

// flow returns the context for uid, creating and tracking it if new.
// Creation may trigger eviction of the oldest entries.
func (c *Correlator) flow(uid string) *FlowContext {
	if flow, ok := c.flows[uid]; ok {
		return flow
	}

	flow := &FlowContext{UID: uid}
	c.flows[uid] = flow
	c.order = append(c.order, uid)

	if len(c.flows) > c.cap {
		c.evictOldest()
	}
	return flow
}

// evictOldest drops the oldest 20% of tracked flows in insertion order
func (c *Correlator) evictOldest() {
	evictCount := int(float64(c.cap) * evictFraction)
	if evictCount < 1 {
		evictCount = 1
	}

	evicted := 0
	kept := 0
	for idx, uid := range c.order {
		if evicted >= evictCount {
			kept = idx
			break
		}
		if _, ok := c.flows[uid]; ok {
			delete(c.flows, uid)
			evicted++
		}
		kept = idx + 1
	}
	c.order = append([]string(nil), c.order[kept:]...)
	c.EvictedFlows.Add(uint64(evicted))

	logger := zlog.GetLogger()
	logger.Debug().Int("evicted", evicted).Int("remaining", len(c.flows)).Msg("flow table eviction")
}

func (c *Correlator) handleConn(ctx context.Context, record zeektypes.Conn) {
	var flow *FlowContext
	if record.UID != "" {
		if existing, ok := c.flows[record.UID]; ok {
			flow = existing
		}
	}
	if flow == nil {
		flow = &FlowContext{UID: record.UID}
	}

	event := Enrich(record, flow)

	select {
	case c.Events <- event:
	case <-ctx.Done():
	}
}

// Enrich merges a conn record with its flow context and computes the
// derived fields.
func Enrich(record zeektypes.Conn, flow *FlowContext) EnrichedEvent {
	event := EnrichedEvent{
		UID:         record.UID,
		SrcIP:       record.Source,
		DstIP:       record.Destination,
		SrcPort:     record.SourcePort,
		DstPort:     record.DestinationPort,
		Proto:       record.Proto,
		Service:     record.Service,
		Duration:    record.Duration,
		OrigBytes:   record.OrigBytes,
		RespBytes:   record.RespBytes,
		OrigPackets: record.OrigPackets,
		RespPackets: record.RespPackets,
		ConnState:   record.ConnState,
		History:     record.History,
	}

	if record.TimeStamp > 0 {
		seconds := int64(record.TimeStamp)
		nanos := int64((record.TimeStamp - float64(seconds)) * 1e9)
		event.Timestamp = time.Unix(seconds, nanos).UTC()
	}

	// ratios with a zero denominator map to a sentinel, never NaN
	if record.RespBytes > 0 {
		event.BytesRatio = float64(record.OrigBytes) / float64(record.RespBytes)
	} else if record.OrigBytes > 0 {
		event.BytesRatio = ratioSentinel
	}
	if record.RespPackets > 0 {
		event.PacketRatio = float64(record.OrigPackets) / float64(record.RespPackets)
	} else if record.OrigPackets > 0 {
		event.PacketRatio = ratioSentinel
	}

	event.TotalBytes = record.OrigBytes + record.RespBytes
	event.DurationCategory = durationCategory(record.Duration)

	event.HasDNS = len(flow.DNS) > 0
	event.HasHTTP = len(flow.HTTP) > 0
	event.HasSSL = flow.SSL != nil
	event.HasNotices = len(flow.Notices) > 0

	for _, dns := range flow.DNS {
		if dns.Query != "" {
			event.DNSQueries = append(event.DNSQueries, dns.Query)
		}
	}
	for _, http := range flow.HTTP {
		if http.Host != "" {
			event.HTTPHosts = append(event.HTTPHosts, http.Host)
		}
	}
	if flow.SSL != nil {
		event.SSLServerName = flow.SSL.ServerName
	}
	for _, notice := range flow.Notices {
		event.NoticeTypes = append(event.NoticeTypes, notice.Note)
	}
	for _, file := range flow.Files {
		if file.MimeType != "" {
			event.FileMimeTypes = append(event.FileMimeTypes, file.MimeType)
		}
	}

	return event
}

func durationCategory(seconds float64) string {
	switch {
	case seconds < 1:
		return "short"
	case seconds < 60:
		return "medium"
	case seconds < 3600:
		return "long"
	default:
		return "very-long"
	}
}

// FlowCount reports the current flow table population. Only safe to call from
// tests or after Run has returned.
func (c *Correlator) FlowCount() int {
	return len(c.flows)
}
