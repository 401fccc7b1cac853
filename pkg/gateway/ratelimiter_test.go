package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionLimiter_ConcurrentCap(t *testing.T) {
	l := NewConnectionLimiter(0, 2)

	ok, _ := l.Admit()
	assert.True(t, ok)
	ok, _ = l.Admit()
	assert.True(t, ok)

	ok, reason := l.Admit()
	assert.False(t, ok)
	assert.Equal(t, "too many concurrent connections", reason)

	l.Release()
	ok, _ = l.Admit()
	assert.True(t, ok, "released slot is reusable")
}

func TestConnectionLimiter_WindowCap(t *testing.T) {
	l := NewConnectionLimiter(3, 0)

	for i := 0; i < 3; i++ {
		ok, _ := l.Admit()
		assert.True(t, ok)
		l.Release()
	}

	// Releasing frees the concurrency slot but not the window budget.
	ok, reason := l.Admit()
	assert.False(t, ok)
	assert.Equal(t, "connection rate limit exceeded", reason)
}

func TestConnectionLimiter_Unlimited(t *testing.T) {
	l := NewConnectionLimiter(0, 0)
	for i := 0; i < 100; i++ {
		ok, _ := l.Admit()
		assert.True(t, ok)
	}
	window, active := l.Stats()
	assert.Equal(t, 100, window)
	assert.Equal(t, 100, active)
}
