package server

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiterPerKey(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rl := NewRateLimiter(1, 2, time.Minute, fc)

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "keys have separate buckets")

	fc.Advance(time.Second)
	assert.True(t, rl.Allow("a"), "one token refills per second")
	assert.False(t, rl.Allow("a"))
}

func TestRateLimiterDropsIdleBuckets(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rl := NewRateLimiter(1, 1, time.Minute, fc)

	rl.Allow("a")
	rl.Allow("b")
	assert.Equal(t, 2, rl.size())

	fc.Advance(2 * time.Minute)
	rl.Allow("c")
	assert.Equal(t, 1, rl.size())
}
