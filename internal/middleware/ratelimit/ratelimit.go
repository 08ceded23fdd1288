package ratelimit

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// RateLimiter enforces a fixed-window request cap per caller. Queries fan
// out into several LLM and vector-store calls each, so the cap sits on the
// way in rather than on every upstream.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window

	limit       int
	windowSize  time.Duration
	logger      *zap.Logger
	sweepTicker *time.Ticker
}

type window struct {
	count   int
	startAt time.Time
}

type Config struct {
	MaxRequestsPerMinute int
	WindowDuration       time.Duration
	Logger               *zap.Logger
}

func New(cfg Config) *RateLimiter {
	if cfg.MaxRequestsPerMinute == 0 {
		cfg.MaxRequestsPerMinute = 60
	}
	if cfg.WindowDuration == 0 {
		cfg.WindowDuration = time.Minute
	}

	rl := &RateLimiter{
		windows:     make(map[string]*window),
		limit:       cfg.MaxRequestsPerMinute,
		windowSize:  cfg.WindowDuration,
		logger:      cfg.Logger,
		sweepTicker: time.NewTicker(5 * time.Minute),
	}

	go rl.sweep()

	return rl
}

// Middleware keys callers by X-User-ID when present, falling back to the
// client IP.
func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.IP()
		if userID := c.Get("X-User-ID"); userID != "" {
			key = userID
		}

		if !rl.allow(key) {
			if rl.logger != nil {
				rl.logger.Warn("Rate limit exceeded",
					zap.String("key", key),
					zap.String("path", c.Path()),
				)
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.startAt) >= rl.windowSize {
		rl.windows[key] = &window{count: 1, startAt: now}
		return true
	}

	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

func (rl *RateLimiter) sweep() {
	for range rl.sweepTicker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, w := range rl.windows {
			if now.Sub(w.startAt) >= 2*rl.windowSize {
				delete(rl.windows, key)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) Stop() {
	rl.sweepTicker.Stop()
}
