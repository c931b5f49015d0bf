package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TrustedProxies lists the peers whose X-Forwarded-For and X-Real-IP headers
// are believed. The zero value trusts nobody.
type TrustedProxies []*net.IPNet

// ParseTrustedProxies reads addresses and CIDR ranges, e.g. "10.0.0.0/8, 192.0.2.10"
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	var proxies TrustedProxies
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", entry)
			}
			bits := 8 * net.IPv6len
			if ip.To4() != nil {
				ip, bits = ip.To4(), 8*net.IPv4len
			}
			proxies = append(proxies, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		proxies = append(proxies, network)
	}
	return proxies, nil
}

func (t TrustedProxies) trusts(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, network := range t {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the connection's peer unless it is a trusted proxy. For a
// trusted peer, X-Forwarded-For is read right to left and the first hop that
// is not itself trusted wins. X-Real-IP is used when there is no chain.
func (t TrustedProxies) ClientIP(r *http.Request) string {
	peer := ClientIP(r)
	if !t.trusts(peer) {
		return peer
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		client := peer
		hops := strings.Split(forwarded, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if net.ParseIP(hop) == nil {
				break
			}
			client = hop
			if !t.trusts(hop) {
				break
			}
		}
		return client
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(realIP) != nil {
		return realIP
	}
	return peer
}

// ByClientIP keys requests by the address ClientIP reports
func (t TrustedProxies) ByClientIP(r *http.Request) string {
	return "ip:" + t.ClientIP(r)
}

// ClientIP returns the host part of the connection's remote address. Headers
// are ignored; see TrustedProxies.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.Trim(r.RemoteAddr, "[]")
	}
	return host
}
