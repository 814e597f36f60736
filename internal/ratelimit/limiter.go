// Package ratelimit implements fixed-window admission control across
// independent scopes (per user, per session).
package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/capitalize-ai/chat-gateway/internal/model"
)

// pruneEvery is how many checks pass between sweeps of expired counters.
const pruneEvery = 1024

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// Rule configures one scope. A rule with a non-positive Limit or Window is
// ignored, which means "no limiting" for that scope.
type Rule struct {
	Scope  model.RateLimitScope
	Limit  int
	Window time.Duration
}

func (r Rule) enabled() bool {
	return r.Limit > 0 && r.Window > 0
}

// Identifiers are the caller keys a request is counted against.
type Identifiers struct {
	UserID    string
	SessionID string
}

func (ids Identifiers) forScope(scope model.RateLimitScope) string {
	switch scope {
	case model.ScopeUser:
		return ids.UserID
	case model.ScopeSession:
		return ids.SessionID
	}
	return ""
}

// Result is the admission outcome for a request.
type Result struct {
	Allowed   bool
	Decisions []model.RateLimitDecision
}

// RetryAfter returns the longest reset hint among blocked decisions.
func (r Result) RetryAfter() int {
	retry := 0
	for _, d := range r.Decisions {
		if d.Blocked && d.ResetSeconds > retry {
			retry = d.ResetSeconds
		}
	}
	return retry
}

type counterKey struct {
	scope model.RateLimitScope
	id    string
}

type counter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
	window      time.Duration
	evicted     bool
}

// Limiter holds the fixed-window counters. Safe for concurrent use; updates
// to one (scope, identifier) key are serialized by that key's own lock.
type Limiter struct {
	rules []Rule
	clock Clock

	mu       sync.Mutex
	counters map[counterKey]*counter
	checks   int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// New creates a limiter evaluating rules in the given order.
func New(rules []Rule, opts ...Option) *Limiter {
	l := &Limiter{
		clock:    ClockFunc(time.Now),
		counters: make(map[counterKey]*counter),
	}
	for _, r := range rules {
		if r.enabled() {
			l.rules = append(l.rules, r)
		}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check counts the request against every configured scope that has an
// identifier and reports whether all of them admit it.
//
// The counter is incremented before the outcome is known, so a blocked
// request still consumes a slot in its window. Evaluation stops at the first
// blocking scope; scopes after it are neither counted nor reported.
func (l *Limiter) Check(ids Identifiers) Result {
	now := l.clock.Now()
	res := Result{Allowed: true}

	for _, rule := range l.rules {
		id := ids.forScope(rule.Scope)
		if id == "" {
			continue
		}
		d := l.hit(rule, id, now)
		res.Decisions = append(res.Decisions, d)
		if d.Blocked {
			res.Allowed = false
			break
		}
	}

	l.maybePrune(now)
	return res
}

func (l *Limiter) hit(rule Rule, id string, now time.Time) model.RateLimitDecision {
	key := counterKey{scope: rule.Scope, id: id}
	c := l.counterFor(key, rule.Window)
	c.mu.Lock()
	for c.evicted {
		c.mu.Unlock()
		c = l.counterFor(key, rule.Window)
		c.mu.Lock()
	}
	defer c.mu.Unlock()

	elapsed := now.Sub(c.windowStart)
	if c.windowStart.IsZero() || elapsed >= rule.Window || elapsed < 0 {
		c.count = 0
		c.windowStart = now
		elapsed = 0
	}
	c.count++

	return model.RateLimitDecision{
		Scope:         rule.Scope,
		Limit:         rule.Limit,
		WindowSeconds: ceilSeconds(rule.Window),
		Remaining:     max(0, rule.Limit-c.count),
		Blocked:       c.count > rule.Limit,
		ResetSeconds:  max(0, ceilSeconds(rule.Window-elapsed)),
	}
}

func (l *Limiter) counterFor(key counterKey, window time.Duration) *counter {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok {
		c = &counter{window: window}
		l.counters[key] = c
	}
	return c
}

func (l *Limiter) maybePrune(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.checks++
	if l.checks%pruneEvery != 0 {
		return
	}
	for key, c := range l.counters {
		if c.mu.TryLock() {
			if now.Sub(c.windowStart) >= c.window {
				c.evicted = true
				delete(l.counters, key)
			}
			c.mu.Unlock()
		}
	}
}

// Reset clears every counter. Intended for tests and administrative tooling.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.counters = make(map[counterKey]*counter)
	l.checks = 0
}

// Rules returns the active (enabled) rules.
func (l *Limiter) Rules() []Rule {
	out := make([]Rule, len(l.rules))
	copy(out, l.rules)
	return out
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
