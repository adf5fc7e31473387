package chat

import (
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// DefaultDailyCeiling is the default number of requests a user may make per
// 24-hour window.
const DefaultDailyCeiling = 50

// RateLimiter bounds per-user daily request volume. Each user's counter
// expires 24 hours after its first increment (absolute expiry, not rolling).
// The counter lives in process memory only: losing it merely lets a user
// briefly exceed the ceiling, which is an accepted relaxation. The limiter
// is advisory, not a security boundary, and concurrent increments may race.
type RateLimiter struct {
	counts  *gocache.Cache
	ceiling int
	window  time.Duration
	logger  *logrus.Logger
}

// NewRateLimiter creates a limiter with the given daily ceiling.
func NewRateLimiter(ceiling int, window time.Duration, logger *logrus.Logger) *RateLimiter {
	if ceiling <= 0 {
		ceiling = DefaultDailyCeiling
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &RateLimiter{
		counts:  gocache.New(window, time.Hour),
		ceiling: ceiling,
		window:  window,
		logger:  logger,
	}
}

// Allow reports whether the user is still under the ceiling for the current
// window.
func (l *RateLimiter) Allow(userID uuid.UUID) bool {
	value, found := l.counts.Get(userID.String())
	if !found {
		return true
	}
	allowed := value.(int) < l.ceiling
	if !allowed {
		l.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"ceiling": l.ceiling,
		}).Warn("daily request limit reached")
	}
	return allowed
}

// Record counts one request against the user's current window. The first
// request of a window fixes its expiry.
func (l *RateLimiter) Record(userID uuid.UUID) {
	key := userID.String()
	if _, err := l.counts.IncrementInt(key, 1); err != nil {
		l.counts.Set(key, 1, l.window)
	}
}

// Ceiling returns the configured daily ceiling.
func (l *RateLimiter) Ceiling() int {
	return l.ceiling
}
