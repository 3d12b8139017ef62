package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
)

type rateLimiter interface {
	// Allow consumes one request for key and, when refused, reports how long until the window resets.
	Allow(key string) (bool, time.Duration)
}

// fixedWindowLimiter counts requests per key inside a fixed window. Expired windows are swept at most once per window.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu        sync.Mutex
	windows   map[string]rateWindow
	nextPrune time.Time
}

type rateWindow struct {
	count int
	reset time.Time
}

func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]rateWindow),
	}
}

func (l *fixedWindowLimiter) Allow(key string) (bool, time.Duration) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || !now.Before(current.reset) {
		if !now.Before(l.nextPrune) {
			l.pruneLocked(now)
			l.nextPrune = now.Add(l.window)
		}
		l.windows[key] = rateWindow{count: 1, reset: now.Add(l.window)}
		return true, 0
	}
	if current.count >= l.limit {
		return false, current.reset.Sub(now)
	}
	current.count++
	l.windows[key] = current
	return true, 0
}

func (l *fixedWindowLimiter) pruneLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.reset) {
			delete(l.windows, key)
		}
	}
}

// rateLimitByIdentity throttles requests per authenticated principal. A nil limiter disables throttling.
func rateLimitByIdentity(limiter rateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ""
			if identity, ok := auth.IdentityFromContext(r.Context()); ok {
				key = identity.Scope()
			}
			allowed, retryAfter := limiter.Allow(key)
			if !allowed {
				seconds := int(math.Ceil(retryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
