package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"melodiChat/pkg/metrics"
)

// RateLimit defines a fixed-window limit for an endpoint pattern.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// RateLimiter implements fixed-window rate limiting backed by Redis.
// Limits are keyed per caller (UID when authenticated, IP otherwise), so
// one noisy client cannot starve the rest.
type RateLimiter struct {
	client *redis.Client
	limits map[string]RateLimit
	logger zerolog.Logger
}

func NewRateLimiter(client *redis.Client, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		limits: map[string]RateLimit{
			"GET /conversations":  {120, time.Minute},
			"POST /conversations": {30, time.Minute},
			"POST /messages":      {60, time.Minute},
			"GET /ws":             {30, time.Minute},
		},
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint, limit, ok := rl.match(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		key := fmt.Sprintf("ratelimit:%s:%s", endpoint, callerKey(r))

		count, err := rl.client.Incr(r.Context(), key).Result()
		if err != nil {
			// Redis being down must not take messaging down with it.
			rl.logger.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			rl.client.Expire(r.Context(), key, limit.Window)
		}

		if count > int64(limit.Requests) {
			metrics.RateLimitHits.WithLabelValues(endpoint).Inc()
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(limit.Window.Seconds())))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) match(r *http.Request) (string, RateLimit, bool) {
	for endpoint, limit := range rl.limits {
		parts := strings.SplitN(endpoint, " ", 2)
		if r.Method == parts[0] && strings.HasPrefix(r.URL.Path, parts[1]) {
			return endpoint, limit, true
		}
	}
	return "", RateLimit{}, false
}

func callerKey(r *http.Request) string {
	if uid, ok := r.Context().Value("UID").(string); ok && uid != "" {
		return uid
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
