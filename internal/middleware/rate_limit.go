package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// Rate limit defaults.
const (
	DefaultRateLimit       = 6
	DefaultRateLimitWindow = time.Minute
	DefaultRateLimitPrefix = "libranotify:ratelimit:"
)

// RateLimitStore counts requests per key in fixed windows.
type RateLimitStore interface {
	// Increment adds one to key, starting a new window of length window if
	// none is open, and returns the count and the time left in the window.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	Logger *slog.Logger

	// Store holds the counters. A nil store disables limiting.
	Store RateLimitStore

	// Limit is the number of requests allowed per window.
	Limit int

	// Window is the fixed window length.
	Window time.Duration

	// KeyFunc derives the counter key. Defaults to method, route and client IP.
	KeyFunc func(c echo.Context) string
}

// DefaultRateLimitConfig returns a RateLimitConfig with sensible defaults.
func DefaultRateLimitConfig(store RateLimitStore) RateLimitConfig {
	return RateLimitConfig{
		Logger: slog.Default(),
		Store:  store,
		Limit:  DefaultRateLimit,
		Window: DefaultRateLimitWindow,
	}
}

// RateLimit returns a middleware that answers 429 once a key exceeds Limit
// requests in the current window. Store failures let the request through.
func RateLimit(config RateLimitConfig) echo.MiddlewareFunc {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Limit <= 0 {
		config.Limit = DefaultRateLimit
	}
	if config.Window <= 0 {
		config.Window = DefaultRateLimitWindow
	}
	if config.KeyFunc == nil {
		config.KeyFunc = routeKey
	}

	limit := int64(config.Limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Store == nil {
				return next(c)
			}

			key := config.KeyFunc(c)
			count, ttl, err := config.Store.Increment(c.Request().Context(), key, config.Window)
			if err != nil {
				config.Logger.Error("failed to increment rate limit counter",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				return next(c)
			}

			header := c.Response().Header()
			header.Set("X-Ratelimit-Limit", strconv.FormatInt(limit, 10))
			header.Set("X-Ratelimit-Remaining", strconv.FormatInt(max(limit-count, 0), 10))
			if ttl > 0 {
				header.Set("X-Ratelimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))
			}

			if count > limit {
				config.Logger.Warn("rate limit exceeded",
					slog.String("key", key),
					slog.Int64("count", count),
					slog.Int64("limit", limit),
					slog.String("remote_ip", c.RealIP()),
				)
				return respondRateLimitError(c, ttl)
			}

			return next(c)
		}
	}
}

func routeKey(c echo.Context) string {
	return fmt.Sprintf("%s:%s:%s", c.Request().Method, c.Path(), c.RealIP())
}

func respondRateLimitError(c echo.Context, retryAfter time.Duration) error {
	seconds := int64((retryAfter + time.Second - 1) / time.Second)
	if seconds > 0 {
		c.Response().Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}

	return c.JSON(http.StatusTooManyRequests, map[string]any{
		"success": false,
		"error": map[string]any{
			"code":        "RATE_LIMIT_EXCEEDED",
			"message":     "Too many requests. Please try again later.",
			"retry_after": seconds,
		},
	})
}

// MemoryRateLimitStore keeps counters in process memory.
type MemoryRateLimitStore struct {
	// mu protects counts.
	mu     sync.Mutex
	counts map[string]*rateLimitEntry
	now    func() time.Time
}

type rateLimitEntry struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryRateLimitStore creates a new in-memory rate limit store.
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{
		counts: make(map[string]*rateLimitEntry),
		now:    time.Now,
	}
}

// Increment implements RateLimitStore.
func (s *MemoryRateLimitStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.counts[key]
	if !ok || !now.Before(entry.expiresAt) {
		s.evictExpiredLocked(now)
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		s.counts[key] = entry
	}

	entry.count++
	return entry.count, entry.expiresAt.Sub(now), nil
}

func (s *MemoryRateLimitStore) evictExpiredLocked(now time.Time) {
	for key, entry := range s.counts {
		if !now.Before(entry.expiresAt) {
			delete(s.counts, key)
		}
	}
}

// RedisRateLimitStore keeps counters in Redis so several notifier processes
// sharing a backend also share a budget.
type RedisRateLimitStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisRateLimitStore creates a new Redis-based rate limit store.
func NewRedisRateLimitStore(client *redis.Client, keyPrefix string) *RedisRateLimitStore {
	if keyPrefix == "" {
		keyPrefix = DefaultRateLimitPrefix
	}
	return &RedisRateLimitStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Increment implements RateLimitStore.
func (s *RedisRateLimitStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	fullKey := s.keyPrefix + key

	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, fullKey)
		pipe.ExpireNX(ctx, fullKey, window)
		ttl = pipe.PTTL(ctx, fullKey)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment %s: %w", fullKey, err)
	}

	return incr.Val(), ttl.Val(), nil
}
