package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/errorhub/internal/api/response"
	"github.com/kiranshivaraju/errorhub/internal/cache"
)

const (
	defaultRequestsPerMinute = 60
	defaultAuthFailures      = 10
	rateWindow               = 60 * time.Second
)

// window returns the start of the fixed window containing now and the time
// left until it closes.
func window(now time.Time) (start time.Time, left time.Duration) {
	start = now.Truncate(rateWindow)
	return start, start.Add(rateWindow).Sub(now)
}

// retryAfterSeconds rounds up so clients never retry inside the closed window.
func retryAfterSeconds(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	return strconv.Itoa(max(secs, 1))
}

func tooManyRequests(w http.ResponseWriter, left time.Duration) {
	w.Header().Set("Retry-After", retryAfterSeconds(left))
	response.Error(w, http.StatusTooManyRequests,
		"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
}

// RateLimit provides fixed-window rate limiting via Redis. Each window has
// its own counter key, so a window always closes on schedule.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
	now            func() time.Time
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(c cache.Cache, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, requestsPerMin: requestsPerMin, now: time.Now}
}

// WithClock replaces the time source.
func (rl *RateLimit) WithClock(now func() time.Time) *RateLimit {
	rl.now = now
	return rl
}

// Limit counts requests per authenticated user, or per client IP on public
// routes.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start, left := window(rl.now())
		key := cache.RateLimitKey(subject(r), start.Unix())
		count, err := rl.cache.IncrWithExpiry(r.Context(), key, rateWindow)
		if err != nil {
			// Fail open.
			slog.Warn("rate limit check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(rl.requestsPerMin-int(count), 0)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(start.Add(rateWindow).Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			tooManyRequests(w, left)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func subject(r *http.Request) string {
	if p, ok := GetPrincipal(r); ok {
		return "user:" + p.UserID.String()
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// AuthThrottle caps failed credential checks per client IP and window.
// Blocked clients are turned away before any password hash is compared.
type AuthThrottle struct {
	cache       cache.Cache
	maxFailures int
	now         func() time.Time
}

// NewAuthThrottle creates an AuthThrottle allowing maxFailures failed logins
// per client IP per minute.
func NewAuthThrottle(c cache.Cache, maxFailures int) *AuthThrottle {
	if maxFailures <= 0 {
		maxFailures = defaultAuthFailures
	}
	return &AuthThrottle{cache: c, maxFailures: maxFailures, now: time.Now}
}

// WithClock replaces the time source.
func (t *AuthThrottle) WithClock(now func() time.Time) *AuthThrottle {
	t.now = now
	return t
}

// Blocked reports whether r's client has used up its failures for the
// current window, and how long until the window closes. Cache errors fail
// open.
func (t *AuthThrottle) Blocked(ctx context.Context, r *http.Request) (time.Duration, bool) {
	start, left := window(t.now())
	raw, found, err := t.cache.Get(ctx, cache.AuthFailureKey(clientIP(r), start.Unix()))
	if err != nil {
		slog.Warn("auth throttle check failed", "error", err)
		return 0, false
	}
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, false
	}
	return left, n >= t.maxFailures
}

// RecordFailure counts one failed credential check for r's client.
func (t *AuthThrottle) RecordFailure(ctx context.Context, r *http.Request) {
	start, _ := window(t.now())
	key := cache.AuthFailureKey(clientIP(r), start.Unix())
	if _, err := t.cache.IncrWithExpiry(ctx, key, rateWindow); err != nil {
		slog.Warn("auth throttle record failed", "error", err)
	}
}
