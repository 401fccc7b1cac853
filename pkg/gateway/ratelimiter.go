package gateway

import (
	"sync"
	"time"
)

// ConnectionLimiter applies a sliding-window admission rate plus a
// concurrent-connection cap across the gateway.
type ConnectionLimiter struct {
	mu         sync.Mutex
	perMinute  int
	maxActive  int
	admissions []time.Time
	active     int
}

// NewConnectionLimiter creates a limiter; non-positive limits disable the
// corresponding check.
func NewConnectionLimiter(perMinute, maxActive int) *ConnectionLimiter {
	return &ConnectionLimiter{perMinute: perMinute, maxActive: maxActive}
}

// Admit reports whether a new connection is allowed and, when it is, counts
// it. Release must be called when the connection ends.
func (l *ConnectionLimiter) Admit() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxActive > 0 && l.active >= l.maxActive {
		return false, "too many concurrent connections"
	}

	now := time.Now()
	cutoff := now.Add(-time.Minute)
	valid := l.admissions[:0]
	for _, t := range l.admissions {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	l.admissions = valid

	if l.perMinute > 0 && len(l.admissions) >= l.perMinute {
		return false, "connection rate limit exceeded"
	}

	l.admissions = append(l.admissions, now)
	l.active++
	return true, ""
}

// Release returns a connection slot.
func (l *ConnectionLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active > 0 {
		l.active--
	}
}

// Stats reports the window count and active connections.
func (l *ConnectionLimiter) Stats() (window, active int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-time.Minute)
	n := 0
	for _, t := range l.admissions {
		if t.After(cutoff) {
			n++
		}
	}
	return n, l.active
}
