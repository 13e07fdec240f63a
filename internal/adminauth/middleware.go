package adminauth

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// clientIP extracts the client IP from the request, handling X-Forwarded-For.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		return strings.TrimSpace(parts[0])
	}
	if xff := r.Header.Get("X-Real-IP"); xff != "" {
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequireAdmin guards routes with a single shared operator secret checked
// via HTTP Basic Auth against a bcrypt hash, rate-limited per IP through
// RateLimiter. There is no per-admin account — the core keeps no dashboard
// user model, so one shared secret is all the admin surface needs.
func RequireAdmin(passwordHash string, limiter *RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			if limiter != nil {
				result, err := limiter.Check(r.Context(), ip)
				if err != nil {
					logger.Error("admin rate limit check failed", "error", err)
				} else if !result.Allowed {
					retryAfter := int(time.Until(result.RetryAt).Seconds())
					if retryAfter < 1 {
						retryAfter = 1
					}
					w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
					respondJSON(w, http.StatusTooManyRequests, map[string]any{
						"error":       "rate_limited",
						"message":     "too many admin authentication attempts",
						"retry_after": retryAfter,
					})
					return
				}
			}

			_, password, ok := r.BasicAuth()
			if !ok || bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)) != nil {
				if limiter != nil {
					_ = limiter.Record(r.Context(), ip)
				}
				w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
				respondJSON(w, http.StatusUnauthorized, map[string]string{
					"error":   "unauthorized",
					"message": "invalid admin credentials",
				})
				return
			}

			if limiter != nil {
				_ = limiter.Reset(r.Context(), ip)
			}

			next.ServeHTTP(w, r)
		})
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
