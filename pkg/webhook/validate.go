package webhook

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/wisbric/auditloop/pkg/fetch"
)

// blockedHostnames mirrors the Python BLOCKED_HOSTNAMES set exactly.
var blockedHostnames = map[string]struct{}{
	"localhost":                {},
	"localhost.localdomain":    {},
	"127.0.0.1":                {},
	"0.0.0.0":                  {},
	"::1":                      {},
	"metadata.google.internal": {},
	"169.254.169.254":          {},
}

var allowedPorts = map[string]struct{}{
	"80":   {},
	"443":  {},
	"8080": {},
	"8443": {},
}

// Resolver resolves a hostname for the SSRF check. Swappable in tests.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// ValidateURL layers the webhook-specific hostname deny-list and port
// allow-list on top of fetch's blocked-range table, grounded on
// validate_webhook_url/validate_webhook_url_strict in the Python source.
func ValidateURL(ctx context.Context, rawURL string, resolver Resolver) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL must use HTTP or HTTPS")
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("URL must have a hostname")
	}

	lower := strings.ToLower(hostname)
	if _, blocked := blockedHostnames[lower]; blocked {
		return fmt.Errorf("blocked hostname: %s", hostname)
	}
	if strings.Contains(lower, "metadata") || strings.Contains(lower, "internal") {
		return fmt.Errorf("internal hostnames are blocked")
	}

	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupHost(ctx, hostname)
	if err != nil {
		return fmt.Errorf("could not resolve hostname: %s", hostname)
	}
	for _, a := range addrs {
		ip, err := netip.ParseAddr(a)
		if err != nil {
			continue
		}
		if fetch.IsBlockedIP(ip) {
			return fmt.Errorf("private IP addresses are blocked: %s", ip)
		}
	}

	if port := parsed.Port(); port != "" {
		if _, ok := allowedPorts[port]; !ok {
			return fmt.Errorf("non-standard port blocked: %s", port)
		}
	}

	return nil
}
