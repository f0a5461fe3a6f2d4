package common

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the first parseable address from X-Forwarded-For, then
// X-Real-IP, then the connection. Unparseable header values are skipped so
// they cannot mint arbitrary rate limit keys.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	for _, candidate := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip, ok := parseIP(candidate); ok {
			return ip
		}
	}
	if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}
	if ip, ok := parseIP(remote); ok {
		return ip
	}
	return remote
}

func parseIP(raw string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
