package web

import (
	"fmt"
	"net"
	"strings"
	"syscall"
)

var privateRanges = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// dialControl rejects connections to internal addresses. It sees the
// resolved IP being dialed, so a host that answers DNS differently between
// lookups is still checked on the address actually used.
func dialControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("SSRF blocked: invalid address %q: %w", address, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("SSRF blocked: %q is not an IP address", host)
	}
	if IsPrivateIP(ip) {
		return fmt.Errorf("SSRF blocked: %s is a private address", ip)
	}
	return nil
}

// IsPrivateIP reports whether ip is loopback, link-local, unspecified or in a private range.
func IsPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// IsDomainAllowed reports whether host equals an allowlist entry or is a subdomain of one.
func IsDomainAllowed(host string, allowedDomains []string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, d := range allowedDomains {
		d = strings.ToLower(strings.TrimPrefix(d, "*."))
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
