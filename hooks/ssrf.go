package hooks

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/goliatone/go-dispatch/core"
)

// SSRFGuard validates user-supplied destination URLs at delivery time.
// Re-resolving on every delivery, not just at registration, defends against
// DNS being re-pointed at an internal address after the URL was approved.
type SSRFGuard struct {
	lookup func(ctx context.Context, host string) ([]net.IPAddr, error)
}

func NewSSRFGuard() *SSRFGuard {
	resolver := &net.Resolver{}
	return &SSRFGuard{lookup: resolver.LookupIPAddr}
}

// Validate rejects destinations whose scheme is not http(s) or whose
// resolved addresses include loopback, private, link-local, CGNAT, or
// cloud-metadata ranges. A blocked destination is permanent; a resolution
// failure is transient.
func (g *SSRFGuard) Validate(ctx context.Context, rawURL string) error {
	if g == nil {
		return fmt.Errorf("hooks: ssrf guard is not configured")
	}
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("%w: unparseable url", core.ErrBlockedDestination)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: scheme %q", core.ErrBlockedDestination, parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", core.ErrBlockedDestination)
	}

	if ip := net.ParseIP(host); ip != nil {
		if blockedIP(ip) {
			return fmt.Errorf("%w: %s", core.ErrBlockedDestination, ip)
		}
		return nil
	}

	addrs, err := g.lookup(ctx, host)
	if err != nil {
		// DNS failures are transient; the queue retries them.
		return core.WrapRetryable(err, "hooks: resolve webhook host "+host)
	}
	if len(addrs) == 0 {
		return core.NewRetryableError("hooks: webhook host resolved to no addresses: " + host)
	}
	for _, addr := range addrs {
		if blockedIP(addr.IP) {
			return fmt.Errorf("%w: %s resolves to %s", core.ErrBlockedDestination, host, addr.IP)
		}
	}
	return nil
}

// blockedIP covers loopback, RFC1918 private, link-local (including the
// 169.254.169.254 metadata endpoint), CGNAT, ULA, and non-routable ranges.
func blockedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}
	if ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		// 100.64.0.0/10 carrier-grade NAT.
		if v4[0] == 100 && v4[1] >= 64 && v4[1] <= 127 {
			return true
		}
		return false
	}
	// fc00::/7 unique local addresses.
	return len(ip) == net.IPv6len && (ip[0]&0xfe) == 0xfc
}
