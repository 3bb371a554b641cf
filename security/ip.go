package security

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// GetClientIP returns the client address used for rate limit keys and audit records.
//
// Without trustProxy only the connection's RemoteAddr is used. With
// trustProxy the X-Forwarded-For chain is read: trustedProxyCount is how
// many right-most hops belong to our own proxies (0 is treated as 1), and
// the hop just left of them is the client. X-Real-IP is consulted when
// X-Forwarded-For is absent or unusable.
//
// Enable trustProxy only behind a reverse proxy that overwrites these
// headers; otherwise clients pick their own rate limit key.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip, ok := forwardedClient(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ok {
			return ip
		}
		if ip, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}
	return remoteHost(r.RemoteAddr)
}

// forwardedClient picks the client hop out of an X-Forwarded-For value.
// A chain shorter than the trusted hop count yields its left-most entry.
func forwardedClient(xff string, trustedProxyCount int) (string, bool) {
	if strings.TrimSpace(xff) == "" {
		return "", false
	}
	hops := strings.Split(xff, ",")

	trusted := max(trustedProxyCount, 1)
	idx := max(len(hops)-trusted-1, 0)

	return parseAddr(hops[idx])
}

// parseAddr validates s as an IP address and returns its canonical form
func parseAddr(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}

// remoteHost strips the port from RemoteAddr, returning it unchanged if it has none
func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
