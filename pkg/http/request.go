package http

import (
	"net"
	"net/http"
	"strings"
)

// IPConfig lists the proxies whose forwarding headers are believed
type IPConfig struct {
	TrustedProxies []string // CIDR ranges
}

// ExtractClientIP returns the caller's address for rate limiting and audit logs.
// Forwarding headers are honored only when the direct peer is a trusted proxy.
// X-Forwarded-For is read right to left: each proxy appends the address it saw,
// so the first hop outside TrustedProxies is the client. Entries further left
// were supplied by the client and are ignored.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := remoteAddrIP(r)

	if config == nil || !inAnyCIDR(remoteIP, config.TrustedProxies) {
		return remoteIP
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if net.ParseIP(hop) == nil {
				// Unparseable hop: nothing to its left can be attributed
				return remoteIP
			}
			if !inAnyCIDR(hop, config.TrustedProxies) {
				return hop
			}
		}
		// Every hop is a trusted proxy; the leftmost is the closest we get to the client
		return strings.TrimSpace(hops[0])
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}

	return remoteIP
}

func remoteAddrIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func inAnyCIDR(ip string, cidrs []string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}

	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}
