package common

import (
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the caller address from RemoteAddr. Proxy headers are not
// consulted here; chi's RealIP middleware resolves them before handlers run.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr, ok := remoteAddr(r.RemoteAddr)
	if !ok {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return addr.String()
}

// ClientKey identifies the caller for rate limiting. IPv6 callers are keyed
// by their /64 network.
func ClientKey(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr, ok := remoteAddr(r.RemoteAddr)
	if !ok {
		return strings.TrimSpace(r.RemoteAddr)
	}
	if addr.Is6() {
		if prefix, err := addr.Prefix(64); err == nil {
			return prefix.String()
		}
	}
	return addr.String()
}

func remoteAddr(raw string) (netip.Addr, bool) {
	raw = strings.TrimSpace(raw)
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().Unmap(), true
	}
	if addr, err := netip.ParseAddr(raw); err == nil {
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}
