package idempotency

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// cacheTTL bounds how long a fingerprint → job ID mapping lives in Redis.
// Short enough that a resurrected, already-terminal job's key doesn't
// shadow a legitimate resubmission for long; the DB partial unique index
// is what actually enforces uniqueness while a job is non-terminal.
const cacheTTL = 10 * time.Minute

const cacheKeyPrefix = "auditloop:idempotency:"

// Cache is a Redis-backed fast path over fingerprint lookups, never the
// source of truth — a miss here always falls through to the DB.
type Cache struct {
	rdb    *redis.Client
	logger *slog.Logger
	hits   *prometheus.CounterVec
}

// NewCache builds a Cache backed by rdb. hits may be nil.
func NewCache(rdb *redis.Client, logger *slog.Logger, hits *prometheus.CounterVec) *Cache {
	return &Cache{rdb: rdb, logger: logger, hits: hits}
}

func cacheKey(fingerprint string) string {
	return cacheKeyPrefix + fingerprint
}

func (c *Cache) observe(result string) {
	if c.hits != nil {
		c.hits.WithLabelValues("cache", result).Inc()
	}
}

// Lookup returns the job ID previously recorded for fingerprint, if still
// cached. A Redis error is logged and treated as a miss.
func (c *Cache) Lookup(ctx context.Context, fingerprint string) (uuid.UUID, bool) {
	val, err := c.rdb.Get(ctx, cacheKey(fingerprint)).Result()
	if err == redis.Nil {
		c.observe("miss")
		return uuid.Nil, false
	}
	if err != nil {
		c.logger.Warn("idempotency cache lookup failed, falling back to DB", "error", err)
		c.observe("error")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(val)
	if err != nil {
		c.logger.Warn("invalid UUID in idempotency cache", "value", val)
		c.observe("error")
		return uuid.Nil, false
	}
	c.observe("hit")
	return id, true
}

// Record stores fingerprint → jobID for cacheTTL. Failures are logged, not
// returned: the cache is an optimization, not a dependency.
func (c *Cache) Record(ctx context.Context, fingerprint string, jobID uuid.UUID) {
	if err := c.rdb.Set(ctx, cacheKey(fingerprint), jobID.String(), cacheTTL).Err(); err != nil {
		c.logger.Warn("failed to set idempotency cache", "error", err)
	}
}
