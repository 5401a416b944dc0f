package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/tripcoord/internal/auth"
)

// WriteLimit caps mutating requests per coordinator in a fixed window.
type WriteLimit struct {
	Requests int
	Window   time.Duration
}

// RateLimiter throttles writes so a stuck console cannot flood the external
// webhooks. Reads are never limited.
type RateLimiter struct {
	client redis.Cmdable
	limit  WriteLimit
	prefix string
	now    func() time.Time
}

func NewRateLimiter(client redis.Cmdable, limit WriteLimit) *RateLimiter {
	if client == nil || limit.Requests <= 0 {
		return nil
	}
	if limit.Window <= 0 {
		limit.Window = time.Minute
	}
	return &RateLimiter{client: client, limit: limit, prefix: "rl:write", now: time.Now}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isReadMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		allowed, retryAfter, err := l.allow(r.Context(), identifier(r))
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", formatRetryAfter(retryAfter))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(ctx context.Context, id string) (bool, time.Duration, error) {
	windowMs := l.limit.Window.Milliseconds()
	nowMs := l.now().UnixMilli()
	bucket := nowMs / windowMs
	key := strings.Join([]string{l.prefix, id, strconv.FormatInt(bucket, 10)}, ":")

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.PExpire(ctx, key, l.limit.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("redis incr: %w", err)
	}
	if incr.Val() > int64(l.limit.Requests) {
		remaining := (bucket+1)*windowMs - nowMs
		return false, time.Duration(remaining) * time.Millisecond, nil
	}
	return true, 0, nil
}

func isReadMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// identifier prefers the authenticated coordinator, then the client address.
func identifier(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.Subject != "" {
		return "coord:" + claims.Subject
	}
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return "ip:" + strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}

func formatRetryAfter(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
