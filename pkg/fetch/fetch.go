// Package fetch implements an SSRF-hardened HTTP client for fetching
// caller-supplied URLs: scheme/credential validation, per-hop DNS resolution
// against a blocked-range table, and a hard response-size cap.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// SSRFBlockedError is returned when a target (or a redirect hop) resolves
// into a blocked network range, carries credentials, uses an unsupported
// scheme, or the redirect/size budget is exhausted.
type SSRFBlockedError struct {
	Reason string
}

func (e *SSRFBlockedError) Error() string { return "ssrf blocked: " + e.Reason }

// blockedRanges mirrors BLOCKED_RANGES from the Python source exactly,
// including the zero-network entry and both IPv6 ranges.
var blockedRanges = mustPrefixes(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			panic("fetch: invalid blocked range " + c + ": " + err.Error())
		}
		prefixes = append(prefixes, p)
	}
	return prefixes
}

// IsBlockedIP reports whether ip falls in any blocked range.
func IsBlockedIP(ip netip.Addr) bool {
	for _, p := range blockedRanges {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver resolves a hostname to its candidate IPs. Swappable in tests.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Doer is the seam over *http.Client that lets tests substitute a fake
// transport without a live network.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a single Fetch call.
type Options struct {
	Timeout      time.Duration
	MaxBytes     int64
	MaxRedirects int
	UserAgent    string
}

// DefaultOptions matches the Python safe_fetch defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:      30 * time.Second,
		MaxBytes:     10 * 1024 * 1024,
		MaxRedirects: 5,
		UserAgent:    "auditloop/1.0",
	}
}

// Result is the outcome of a successful fetch.
type Result struct {
	URL        string
	StatusCode int
	Body       []byte
	Headers    http.Header
	FinalURL   string
}

// Fetcher issues SSRF-validated outbound HTTP requests. The zero value is
// not usable; construct with New.
type Fetcher struct {
	doer     Doer
	resolver Resolver
}

// New builds a Fetcher. doer and resolver may be nil to use
// http.DefaultClient and net.DefaultResolver respectively.
func New(doer Doer, resolver Resolver) *Fetcher {
	if doer == nil {
		doer = &http.Client{
			// Redirects are handled manually so each hop can be re-validated.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Fetcher{doer: doer, resolver: resolver}
}

var redirectStatus = map[int]bool{
	http.StatusMovedPermanently:  true,
	http.StatusFound:             true,
	http.StatusSeeOther:          true,
	http.StatusTemporaryRedirect: true,
	http.StatusPermanentRedirect: true,
}

// Fetch retrieves rawURL, validating the scheme/host/credentials and every
// resolved address (including each redirect hop) against the blocked-range
// table before any request is sent to it.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	current := rawURL
	redirects := 0

	for {
		if err := validateURL(current); err != nil {
			return nil, err
		}

		parsed, _ := url.Parse(current)
		if err := f.validateHost(ctx, parsed.Hostname()); err != nil {
			return nil, err
		}

		reqCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, current, nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("User-Agent", opts.UserAgent)

		resp, err := f.doer.Do(req)
		if err != nil {
			cancel()
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, &TimeoutError{URL: current}
			}
			return nil, &NetworkError{URL: current, Err: err}
		}

		if redirectStatus[resp.StatusCode] {
			resp.Body.Close()
			cancel()
			redirects++
			if redirects > opts.MaxRedirects {
				return nil, &SSRFBlockedError{Reason: fmt.Sprintf("too many redirects (max %d)", opts.MaxRedirects)}
			}
			location := resp.Header.Get("Location")
			if location == "" {
				return nil, &SSRFBlockedError{Reason: "redirect response missing Location header"}
			}
			next, err := resolveRedirect(parsed, location)
			if err != nil {
				return nil, &SSRFBlockedError{Reason: err.Error()}
			}
			current = next
			continue
		}

		body, err := readCapped(resp.Body, opts.MaxBytes)
		resp.Body.Close()
		cancel()
		if err != nil {
			return nil, err
		}

		return &Result{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Body:       body,
			Headers:    resp.Header,
			FinalURL:   current,
		}, nil
	}
}

func resolveRedirect(base *url.URL, location string) (string, error) {
	loc, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid redirect location: %w", err)
	}
	return base.ResolveReference(loc).String(), nil
}

// readCapped reads up to maxBytes+1 bytes; if the extra byte is present the
// response exceeded the cap and is rejected rather than truncated.
func readCapped(r io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(r, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	if int64(len(body)) > maxBytes {
		return nil, &SSRFBlockedError{Reason: fmt.Sprintf("response size exceeds limit %d bytes", maxBytes)}
	}
	return body, nil
}

func validateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &SSRFBlockedError{Reason: "invalid URL: " + err.Error()}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &SSRFBlockedError{Reason: fmt.Sprintf("invalid URL scheme: %q, only http/https allowed", parsed.Scheme)}
	}
	if parsed.User != nil {
		return &SSRFBlockedError{Reason: "URLs with credentials (user:pass) are not allowed"}
	}
	if parsed.Hostname() == "" {
		return &SSRFBlockedError{Reason: "URL must have a hostname"}
	}
	return nil
}

func (f *Fetcher) validateHost(ctx context.Context, hostname string) error {
	if ip, err := netip.ParseAddr(hostname); err == nil {
		if IsBlockedIP(ip) {
			return &SSRFBlockedError{Reason: fmt.Sprintf("IP address %s is in a blocked range", ip)}
		}
		return nil
	}

	addrs, err := f.resolver.LookupHost(ctx, hostname)
	if err != nil {
		return &SSRFBlockedError{Reason: fmt.Sprintf("DNS resolution failed for %s: %v", hostname, err)}
	}
	if len(addrs) == 0 {
		return &SSRFBlockedError{Reason: fmt.Sprintf("DNS resolution failed for %s: no results", hostname)}
	}
	for _, a := range addrs {
		ip, err := netip.ParseAddr(a)
		if err != nil {
			continue
		}
		if IsBlockedIP(ip) {
			return &SSRFBlockedError{Reason: fmt.Sprintf("IP address %s for host %s is in a blocked range", ip, hostname)}
		}
	}
	return nil
}

// TimeoutError is returned when a fetch exceeds its per-request deadline.
type TimeoutError struct {
	URL string
}

func (e *TimeoutError) Error() string { return "fetch timeout: " + e.URL }

// NetworkError wraps a transport-level failure (connection refused, DNS
// flake during the HTTP round trip, etc.).
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
	}
	return "network error: " + e.URL
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HostOf extracts the host:port-free hostname used for rate-limiter keying.
func HostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Host)
}
