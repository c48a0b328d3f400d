package middleware

import (
	"net/http"
	"sync"
	"time"

	apperrors "medslots/pkg/errors"
	httputil "medslots/pkg/http"
	"medslots/pkg/logger"

	"golang.org/x/time/rate"
)

// KeyExtractor picks the rate-limit key for a request. An empty key is not
// limited.
type KeyExtractor func(r *http.Request) string

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserRateLimiter keeps one token bucket per caller. A bucket refills
// limit tokens per window and holds at most limit.
type UserRateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	window    time.Duration
	extractor KeyExtractor
	log       *logger.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewUserRateLimiter(limit int, window time.Duration, extractor KeyExtractor, log *logger.Logger) *UserRateLimiter {
	if extractor == nil {
		extractor = DefaultUserExtractor
	}
	every := rate.Inf
	if limit > 0 && window > 0 {
		every = rate.Every(window / time.Duration(limit))
	}
	limiter := &UserRateLimiter{
		visitors:  make(map[string]*visitor),
		limit:     every,
		burst:     limit,
		window:    window,
		extractor: extractor,
		log:       log,
		stopCh:    make(chan struct{}),
	}

	go limiter.cleanup()

	return limiter
}

func (rl *UserRateLimiter) cleanup() {
	every := rl.window
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			for key, v := range rl.visitors {
				if time.Since(v.lastSeen) > rl.window {
					delete(rl.visitors, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *UserRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *UserRateLimiter) Allow(key string) bool {
	if key == "" {
		return true
	}

	rl.mu.Lock()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	rl.mu.Unlock()

	return v.limiter.Allow()
}

func UserRateLimit(limiter *UserRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := limiter.extractor(r)

			if !limiter.Allow(key) {
				limiter.log.Warn("Rate limit exceeded",
					"request_id", requestID(r),
					"key", key,
					"path", r.URL.Path,
				)
				w.Header().Set("Retry-After", "1")
				reject(w, limiter.log, apperrors.RateLimited("Rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func DefaultUserExtractor(r *http.Request) string {
	return r.Header.Get(httputil.HeaderUserID)
}
