package middleware

import (
	"sync"
	"time"
)

const (
	authMaxFailures      = 5
	authFailureWindow    = time.Minute
	authFailureCleanupAt = 5 * time.Minute
)

type authFailure struct {
	count       int
	windowStart time.Time
}

// AuthFailureLimiter locks out an address after repeated bad credentials.
// Successful requests never count against the limit.
type AuthFailureLimiter struct {
	mu          sync.Mutex
	failures    map[string]*authFailure
	lastCleanup time.Time
	now         func() time.Time
}

func NewAuthFailureLimiter() *AuthFailureLimiter {
	return &AuthFailureLimiter{
		failures:    make(map[string]*authFailure),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (l *AuthFailureLimiter) cleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < authFailureCleanupAt {
		return
	}
	l.lastCleanup = now

	for ip, f := range l.failures {
		if now.Sub(f.windowStart) > authFailureWindow {
			delete(l.failures, ip)
		}
	}
}

// Blocked reports whether ip has used up its failures in the current window.
func (l *AuthFailureLimiter) Blocked(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanup(now)

	f, ok := l.failures[ip]
	if !ok || now.Sub(f.windowStart) > authFailureWindow {
		return false
	}
	return f.count >= authMaxFailures
}

func (l *AuthFailureLimiter) RecordFailure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	f, ok := l.failures[ip]
	if !ok || now.Sub(f.windowStart) > authFailureWindow {
		l.failures[ip] = &authFailure{count: 1, windowStart: now}
		return
	}
	f.count++
}
