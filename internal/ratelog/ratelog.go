// Package ratelog wraps logrus with a per-warning-kind rate limiter so a
// storm of identical diagnostics (meter exhaustion, unresolved symbols,
// tracked-change decode errors) doesn't flood the controller's log output.
package ratelog

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Limiter rate-limits warnings independently per kind, logging through a
// shared logrus.FieldLogger.
type Limiter struct {
	log   logrus.FieldLogger
	every rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New returns a Limiter that allows up to burst warnings of a given kind
// immediately, then refills at the given rate (warnings per second) after
// that. log may be nil, in which case Warnf is a no-op.
func New(log logrus.FieldLogger, warningsPerSecond float64, burst int) *Limiter {
	return &Limiter{
		log:      log,
		every:    rate.Limit(warningsPerSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Warnf logs a warning tagged with kind, dropping it silently if kind's
// limiter is currently exhausted. kind should be a short, stable string
// such as "meter-exhausted" or "unresolved-symbol" — it is never derived
// from the formatted message itself, so that unbounded message content
// (flow ids, addresses) can't create unbounded limiter keys.
func (l *Limiter) Warnf(kind, format string, args ...interface{}) {
	if l == nil || l.log == nil {
		return
	}
	if !l.allow(kind) {
		return
	}
	l.log.WithField("kind", kind).Warnf(format, args...)
}

func (l *Limiter) allow(kind string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[kind]
	if !ok {
		lim = rate.NewLimiter(l.every, l.burst)
		l.limiters[kind] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Func adapts the Limiter into the plain func(format string, args
// ...interface{}) shape used by engine.Config.Warn and
// actionencode.Env.Warn, tagging every call with kind.
func (l *Limiter) Func(kind string) func(format string, args ...interface{}) {
	return func(format string, args ...interface{}) {
		l.Warnf(kind, format, args...)
	}
}
