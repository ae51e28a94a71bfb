package util

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
)

// ipv6ClientBits is the prefix length IPv6 callers are grouped by when
// keying rate limits.
const ipv6ClientBits = 64

// TrustedProxies is the set of reverse proxies whose forwarding headers are
// believed. A nil *TrustedProxies trusts nobody.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// NewTrustedProxies parses CIDR or bare IP entries. Blank entries are skipped
// and an empty list yields nil.
func NewTrustedProxies(entries []string) (*TrustedProxies, error) {
	var prefixes []netip.Prefix
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap().WithZone("")
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	if len(prefixes) == 0 {
		return nil, nil
	}
	return &TrustedProxies{prefixes: prefixes}, nil
}

// Contains reports whether addr belongs to a trusted proxy.
func (t *TrustedProxies) Contains(addr netip.Addr) bool {
	if t == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap().WithZone("")
	for _, p := range t.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientAddr resolves the caller address. Forwarding headers count only when
// the direct peer is trusted; X-Forwarded-For is walked right to left and the
// first untrusted hop wins. The zero Addr means RemoteAddr was unparseable.
func ClientAddr(r *http.Request, trusted *TrustedProxies) netip.Addr {
	remote := parseRemoteAddr(r.RemoteAddr)
	if !trusted.Contains(remote) {
		return remote
	}

	hops := parseForwardedFor(r.Header.Values("X-Forwarded-For"))
	if len(hops) > 0 {
		for i := len(hops) - 1; i >= 0; i-- {
			if !trusted.Contains(hops[i]) {
				return hops[i]
			}
		}
		return hops[0]
	}
	if realIP := parseAddr(r.Header.Get("X-Real-IP")); realIP.IsValid() {
		return realIP
	}
	return remote
}

// RateLimitKey scopes a limiter bucket to one caller. IPv6 callers share a
// bucket per /64 so rotating addresses inside one allocation does not reset
// the budget.
func RateLimitKey(r *http.Request, trusted *TrustedProxies, scope string) string {
	addr := ClientAddr(r, trusted)
	if !addr.IsValid() {
		return scope + "|" + strings.TrimSpace(r.RemoteAddr)
	}
	if addr.Is6() {
		if p, err := addr.Prefix(ipv6ClientBits); err == nil {
			return scope + "|" + p.String()
		}
	}
	return scope + "|" + addr.String()
}

// parseForwardedFor flattens every X-Forwarded-For line, dropping entries
// that are not addresses.
func parseForwardedFor(values []string) []netip.Addr {
	var out []netip.Addr
	for _, line := range values {
		for _, part := range strings.Split(line, ",") {
			if addr := parseAddr(part); addr.IsValid() {
				out = append(out, addr)
			}
		}
	}
	return out
}

func parseRemoteAddr(raw string) netip.Addr {
	raw = strings.TrimSpace(raw)
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().Unmap().WithZone("")
	}
	return parseAddr(raw)
}

func parseAddr(raw string) netip.Addr {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap().WithZone("")
}
