package analysis

import (
	"context"
	"strings"
	"time"

	"github.com/cardeasec/cardea/database"
	"github.com/miekg/dns"
)

// dnsTimeout bounds one enrichment lookup; enrichment is never worth
// stalling the scorer for.
const dnsTimeout = time.Second

// IndicatorResolver resolves domain indicators and checks the addresses they
// point at against the bad-IP set. Lookup failures are treated as no-match.
type IndicatorResolver struct {
	server string
	client *dns.Client
}

// NewIndicatorResolver builds a resolver against a DNS server address
// ("host:port").
func NewIndicatorResolver(server string) *IndicatorResolver {
	return &IndicatorResolver{
		server: server,
		client: &dns.Client{Timeout: dnsTimeout},
	}
}

// ResolvesToBadIP reports whether indicator looks like a hostname whose A or
// AAAA records land in the bad-IP set.
func (r *IndicatorResolver) ResolvesToBadIP(ctx context.Context, indicator string, patterns *database.ThreatPatterns) bool {
	if len(patterns.BadIPs) == 0 {
		return false
	}
	name := strings.TrimSuffix(strings.ToLower(indicator), ".")
	if name == "" || !strings.Contains(name, ".") {
		return false
	}

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(name), qtype)
		msg.RecursionDesired = true

		reply, _, err := r.client.ExchangeContext(ctx, msg, r.server)
		if err != nil || reply == nil {
			continue
		}
		for _, answer := range reply.Answer {
			switch record := answer.(type) {
			case *dns.A:
				if patterns.BadIPs[record.A.String()] {
					return true
				}
			case *dns.AAAA:
				if patterns.BadIPs[record.AAAA.String()] {
					return true
				}
			}
		}
	}
	return false
}
