package correlator

import (
	"fmt"
	"net"
)

// FeatureCount is the fixed width of the numeric vector handed to the
// detector.
const FeatureCount = 17

// connStateCodes maps Zeek connection states to ordinal codes. Unknown
// states map to 0.
var connStateCodes = map[string]float64{
	"S0":     0.1,
	"S1":     0.2,
	"SF":     0.3,
	"REJ":    0.4,
	"S2":     0.5,
	"S3":     0.6,
	"RSTO":   0.7,
	"RSTR":   0.8,
	"RSTOS0": 0.9,
	"RSTRH":  1.0,
}

// protoCodes holds IANA protocol numbers for the transports Zeek reports
var protoCodes = map[string]float64{
	"tcp":  6,
	"udp":  17,
	"icmp": 1,
}

// Extractor converts enriched events into fixed-width numeric vectors. The
// dimension is pinned on the first call; any later disagreement is an error.
type Extractor struct {
	dim int
}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract builds the feature vector for one event. The ordering is part of
// the model contract: a persisted model is only valid against vectors
// produced by this exact layout.
func (e *Extractor) Extract(event EnrichedEvent) ([]float64, error) {
	features := make([]float64, 0, FeatureCount)

	features = append(features,
		float64(event.OrigBytes),
		float64(event.RespBytes),
		event.Duration,
		float64(event.SrcPort),
		float64(event.DstPort),
		ipv4AsFloat(event.SrcIP),
		ipv4AsFloat(event.DstIP),
		protoCodes[event.Proto],
		float64(event.OrigPackets),
		float64(event.RespPackets),
	)

	if event.Timestamp.IsZero() {
		features = append(features, 0, 0, 0)
	} else {
		features = append(features,
			float64(event.Timestamp.Hour())/24,
			float64(event.Timestamp.Weekday())/6,
			float64(event.Timestamp.Second())/59,
		)
	}

	features = append(features,
		connStateCodes[event.ConnState],
		capAtOne(float64(len(event.Service))/20),
		capAtOne(event.Duration/3600),
		capAtOne(float64(event.TotalBytes)/1e6),
	)

	if e.dim == 0 {
		e.dim = len(features)
	}
	if len(features) != e.dim {
		return nil, fmt.Errorf("feature vector width changed from %d to %d", e.dim, len(features))
	}
	return features, nil
}

// Dim reports the pinned vector width, 0 before the first extraction.
func (e *Extractor) Dim() int {
	return e.dim
}

// ipv4AsFloat packs a dotted-quad address into its 32-bit integer value.
// Non-IPv4 addresses (including IPv6) contribute 0.
func ipv4AsFloat(addr string) float64 {
	ip := net.ParseIP(addr)
	if ip == nil {
		return 0
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return float64(uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3]))
}

func capAtOne(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
