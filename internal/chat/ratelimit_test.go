package chat

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowsUnderCeiling(t *testing.T) {
	limiter := NewRateLimiter(50, 24*time.Hour, testLogger())
	userID := uuid.New()

	for i := 0; i < 49; i++ {
		assert.True(t, limiter.Allow(userID), "request %d should be allowed", i+1)
		limiter.Record(userID)
	}
	assert.True(t, limiter.Allow(userID))
}

func TestRateLimiter_DeniesAtCeiling(t *testing.T) {
	limiter := NewRateLimiter(50, 24*time.Hour, testLogger())
	userID := uuid.New()

	for i := 0; i < 50; i++ {
		limiter.Record(userID)
	}
	assert.False(t, limiter.Allow(userID), "request 51 should be denied")

	// Still denied after further increments.
	limiter.Record(userID)
	assert.False(t, limiter.Allow(userID))
}

func TestRateLimiter_ResetsAfterWindowExpiry(t *testing.T) {
	limiter := NewRateLimiter(3, 50*time.Millisecond, testLogger())
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		limiter.Record(userID)
	}
	assert.False(t, limiter.Allow(userID))

	time.Sleep(80 * time.Millisecond)
	assert.True(t, limiter.Allow(userID), "expired window should reset the counter")
}

func TestRateLimiter_CountersAreIndependentPerUser(t *testing.T) {
	limiter := NewRateLimiter(2, 24*time.Hour, testLogger())
	alice := uuid.New()
	bob := uuid.New()

	limiter.Record(alice)
	limiter.Record(alice)
	assert.False(t, limiter.Allow(alice))
	assert.True(t, limiter.Allow(bob))
}
