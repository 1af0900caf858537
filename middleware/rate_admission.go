// middleware/rate_admission.go
package middleware

import (
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
)

// Decision is the tri-state outcome of an admission check.
type Decision int

const (
	// Accepted: request proceeds and is counted.
	Accepted Decision = iota
	// DropSilent: burst-gate rejection (accidental double-tap); no message.
	DropSilent
	// DropWarn: sustained-gate rejection; user gets a visible warning.
	DropWarn
)

const (
	burstInterval   = 500 * time.Millisecond
	sustainedWindow = time.Minute
	sustainedLimit  = 30
)

// RateLimiter admits at most one request per identity every 0.5s and at most
// 30 per trailing minute. State is in-memory and per-process; losing it on
// restart only resets throttling, never anything financial. Only accepted
// requests are timestamped; rejections do not count toward either gate.
type RateLimiter struct {
	clock clockwork.Clock

	mu        sync.Mutex
	windows   map[string][]time.Time
	lastSweep time.Time
}

func NewRateLimiter(clock clockwork.Clock) *RateLimiter {
	return &RateLimiter{
		clock:     clock,
		windows:   make(map[string][]time.Time),
		lastSweep: clock.Now(),
	}
}

// Check prunes the identity's window and applies both gates: sustained first
// (warn), then burst (silent). Accepted requests are recorded.
func (l *RateLimiter) Check(identity string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.Sub(l.lastSweep) >= sustainedWindow {
		l.evictIdle(now)
	}
	window := l.windows[identity]

	pruned := window[:0]
	for _, ts := range window {
		if now.Sub(ts) < sustainedWindow {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) >= sustainedLimit {
		l.windows[identity] = pruned
		return DropWarn
	}

	if len(pruned) > 0 && now.Sub(pruned[len(pruned)-1]) < burstInterval {
		l.windows[identity] = pruned
		return DropSilent
	}

	l.windows[identity] = append(pruned, now)
	return Accepted
}

// evictIdle drops identities whose newest entry has aged out of the trailing
// window, so the map stays bounded by recently active identities. Runs at
// most once per window, under the caller's lock.
func (l *RateLimiter) evictIdle(now time.Time) {
	for id, window := range l.windows {
		if len(window) == 0 || now.Sub(window[len(window)-1]) >= sustainedWindow {
			delete(l.windows, id)
		}
	}
	l.lastSweep = now
}

// RateAdmissionMiddleware gates mutating routes through the limiter, keyed by
// the gateway-provided user ID (falling back to the client IP for anonymous
// calls).
func RateAdmissionMiddleware(limiter *RateLimiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity := c.Get("X-User-ID")
		if identity == "" {
			identity = c.IP()
		}

		switch limiter.Check(identity) {
		case DropSilent:
			// Double-tap: swallow without a user-visible message.
			return c.SendStatus(fiber.StatusTooManyRequests)
		case DropWarn:
			log.Printf("⚠️  [RATE] per-minute limit reached for %s on %s", identity, c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"warning": "⚠️ Too many requests! Please wait a moment before trying again.",
			})
		}
		return c.Next()
	}
}

// ParseIdentity converts the gateway user header into the int64 ID handlers
// work with.
func ParseIdentity(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
