package tenant

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// Authenticator resolves the tenant that owns a raw API key, grounded on the
// apikey package's hash-and-lookup flow. Returning ok=false (with a nil
// error) means the key doesn't exist or is expired — a 401, not a 500.
type Authenticator interface {
	Authenticate(ctx context.Context, rawKey string) (info *Info, ok bool, err error)
}

// Middleware authenticates every request on the X-API-Key header and
// injects the resolved tenant into the request context. It replaces the
// source's per-request schema-switch with a flat tenant_id filter applied
// by each downstream query.
func Middleware(auth Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				respondUnauthorized(w, "missing X-API-Key header")
				return
			}

			info, ok, err := auth.Authenticate(r.Context(), key)
			if err != nil {
				logger.Error("authenticating api key", "error", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal_error", "message": "authentication failed"})
				return
			}
			if !ok {
				respondUnauthorized(w, "invalid or expired API key")
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), info)))
		})
	}
}

func respondUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "message": message})
}
