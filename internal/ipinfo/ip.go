// Package ipinfo works out where a connection comes from and how to show that to users.
package ipinfo

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const (
	Localhost = "localhost"
	Unknown   = "unknown"

	// LocalLabel is what Format shows for loopback and private addresses.
	LocalLabel = "local"
)

// ClientIP returns the best guess at the real client address. Proxy headers win over the
// socket address, but only when they carry a public address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for _, part := range strings.Split(fwd, ",") {
			if ip := Normalize(part); ip != "" && !IsLocal(ip) {
				return ip
			}
		}
	}
	for _, h := range []string{"X-Real-IP", "CF-Connecting-IP"} {
		if ip := Normalize(r.Header.Get(h)); ip != "" && !IsLocal(ip) {
			return ip
		}
	}

	remote := Normalize(r.RemoteAddr)
	if remote == "" || IsLocal(remote) {
		return Localhost
	}
	return remote
}

// Normalize strips ports, brackets and the IPv4-mapped IPv6 prefix. Anything that is
// not an IP address normalises to "".
func Normalize(raw string) string {
	ip := strings.TrimSpace(raw)
	if ip == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	addr, err := netip.ParseAddr(strings.Trim(ip, "[]"))
	if err != nil {
		return ""
	}
	addr = addr.Unmap()
	if addr == netip.IPv6Loopback() {
		return "127.0.0.1"
	}
	return addr.String()
}

// IsLocal reports loopback, private-range and unknown addresses.
func IsLocal(ip string) bool {
	switch strings.TrimSpace(ip) {
	case "", Localhost, Unknown:
		return true
	}
	addr, err := netip.ParseAddr(Normalize(ip))
	if err != nil {
		return false
	}
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() || addr.IsLinkLocalUnicast()
}

// Format masks an address for display: 203.0.113.7 -> 203.0.113.x,
// IPv6 keeps its first four groups. Local addresses show LocalLabel.
func Format(ip string) string {
	if IsLocal(ip) {
		return LocalLabel
	}
	addr, err := netip.ParseAddr(Normalize(ip))
	if err != nil {
		return Unknown
	}
	if addr.Is4() {
		b := addr.As4()
		return fmt.Sprintf("%d.%d.%d.x", b[0], b[1], b[2])
	}
	groups := strings.Split(addr.StringExpanded(), ":")
	return strings.Join(groups[:4], ":") + ":*"
}

