package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(3, 50*time.Millisecond)

	assert.True(t, rl.allow("k"))
	assert.True(t, rl.allow("k"))
	assert.True(t, rl.allow("k"))
	assert.False(t, rl.allow("k"), "fourth request inside the window is rejected")

	// Keys are independent.
	assert.True(t, rl.allow("other"))

	// The window slides: old entries expire.
	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.allow("k"))
}
