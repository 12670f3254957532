package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/goal-tracker/internal/apperror"
)

// ErrorWriter renders an error response. The server passes the JSON API's
// writer, so a 429 looks like every other error body.
type ErrorWriter func(w http.ResponseWriter, err error)

// RateLimiter is a fixed-window request limiter keyed by client IP and
// backed by Redis, so the budget is shared across server instances.
//
// FIXED WINDOW WITH INCR + EXPIRE:
//
//	INCR ratelimit:login:203.0.113.7   → 1   (first request in the window)
//	EXPIRE ratelimit:login:203.0.113.7 60    (window starts now)
//	INCR ...                           → 2, 3, ... limit+1 → rejected
//
// When the key expires the count starts again from 1.
//
// FAIL OPEN:
// If Redis is unreachable the request is allowed and a warning is logged.
// Losing rate limiting for a while is better than refusing every login.
type RateLimiter struct {
	client     *redis.Client
	limit      int64
	window     time.Duration
	prefix     string
	writeError ErrorWriter
	logger     *slog.Logger
}

// NewRateLimiter allows limit requests per window for each client IP.
// name separates the counters of different limited routes; writeError
// renders the apperror.ErrRateLimited response.
func NewRateLimiter(client *redis.Client, name string, limit int, window time.Duration, writeError ErrorWriter, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		client:     client,
		limit:      int64(limit),
		window:     window,
		prefix:     "ratelimit:" + name + ":",
		writeError: writeError,
		logger:     logger,
	}
}

// Allow counts one request for key and reports whether it is within budget,
// plus how long until the window resets.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := rl.prefix + key

	count, err := rl.client.Incr(ctx, k).Result()
	if err != nil {
		return true, 0, fmt.Errorf("ratelimit: incrementing %s: %w", k, err)
	}
	if count == 1 {
		if err := rl.client.Expire(ctx, k, rl.window).Err(); err != nil {
			return true, 0, fmt.Errorf("ratelimit: setting expiry on %s: %w", k, err)
		}
	}

	if count <= rl.limit {
		return true, 0, nil
	}

	ttl, err := rl.client.TTL(ctx, k).Result()
	if err != nil || ttl < 0 {
		// No expiry on the key (e.g. the EXPIRE above was lost): set it again
		// so the client isn't locked out forever.
		rl.client.Expire(ctx, k, rl.window)
		ttl = rl.window
	}
	return false, ttl, nil
}

// Middleware rejects requests over budget with apperror.ErrRateLimited and a
// Retry-After header.
//
// The key is r.RemoteAddr. Without chi's RealIP in front that is the TCP
// peer, which a client cannot choose; with RealIP it is whatever the proxy
// put in X-Forwarded-For, so only mount RealIP behind a trusted proxy.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		ok, retryAfter, err := rl.Allow(r.Context(), ip)
		if err != nil {
			rl.logger.Warn("rate limiter unavailable, allowing request",
				slog.String("ip", ip),
				slog.String("error", err.Error()),
			)
		}
		if !ok {
			rl.logger.Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)
			secs := int(retryAfter.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			rl.writeError(w, apperror.RateLimited("too many requests, try again later"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port from RemoteAddr ("203.0.113.7:51234" → "203.0.113.7").
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RealIP sets RemoteAddr to a bare IP.
		return r.RemoteAddr
	}
	return host
}
