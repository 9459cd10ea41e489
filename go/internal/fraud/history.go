package fraud

import (
	"fmt"
	"net"
	"time"
)

// History is a point-in-time snapshot of the behavioral record around one
// attempt: how busy its IP and device have been, how the participant has
// fared before, and whether security events have fired recently. The scorer
// and the selection screen are pure functions over an attempt plus its
// History, which keeps them deterministic and testable without a database.
type History struct {
	// Attempts sharing the IP inside the reuse window.
	IPCount24h           int
	PaidIPCount24h       int
	DistinctEmailsFromIP int

	// Attempts sharing the device fingerprint inside the reuse window.
	DeviceCount24h           int
	PaidDeviceCount24h       int
	DistinctEmailsFromDevice int

	// Participation by the attempt's email.
	EmailCount24h        int
	RecentParticipations []time.Time // newest first, capped
	WinCount             int
	PaidCount            int

	// Integrity violations attributed to the IP inside the violation window.
	SecurityViolations7d int

	IPIsProxy bool
}

// ProxyMatcher answers whether an IP falls inside a known proxy or
// datacenter range. Ranges come from configuration; an empty matcher
// never matches.
type ProxyMatcher struct {
	nets []*net.IPNet
}

func NewProxyMatcher(cidrs []string) (*ProxyMatcher, error) {
	m := &ProxyMatcher{nets: make([]*net.IPNet, 0, len(cidrs))}
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("parse proxy cidr %q: %w", cidr, err)
		}
		m.nets = append(m.nets, ipNet)
	}
	return m, nil
}

func (m *ProxyMatcher) Match(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range m.nets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}
