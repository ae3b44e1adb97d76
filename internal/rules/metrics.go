package rules

import (
	"sync"
	"time"
)

// RateScope selects which rate-limit window applies.
type RateScope int

const (
	UserScope RateScope = iota
	ChannelScope
	GlobalScope
)

func (s RateScope) String() string {
	switch s {
	case UserScope:
		return "user"
	case ChannelScope:
		return "channel"
	case GlobalScope:
		return "global"
	default:
		return "unknown"
	}
}

type record struct {
	started time.Time
	ended   time.Time
	ignored bool
}

// done reports whether the latest invocation has finished.
func (r record) done() bool {
	return !r.ended.IsZero()
}

func (r record) last() time.Time {
	if r.done() {
		return r.ended
	}
	return r.started
}

// Metrics remembers the last invocation of a rule per nick, per channel and
// globally. Only the most recent invocation of each key is kept. An
// invocation limits the next one from the moment it starts.
type Metrics struct {
	mu   sync.Mutex
	last map[RateScope]map[string]record
}

// NewMetrics returns empty metrics.
func NewMetrics() *Metrics {
	return &Metrics{last: make(map[RateScope]map[string]record)}
}

func (m *Metrics) update(scope RateScope, key string, fn func(*record)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys, ok := m.last[scope]
	if !ok {
		keys = make(map[string]record)
		m.last[scope] = keys
	}
	r := keys[key]
	fn(&r)
	keys[key] = r
}

// Start marks an invocation for key as running since at.
func (m *Metrics) Start(scope RateScope, key string, at time.Time) {
	m.update(scope, key, func(r *record) {
		r.started = at
		r.ended = time.Time{}
		r.ignored = false
	})
}

// End stores the outcome of the invocation for key. An ignored outcome
// never limits the next invocation. Ending an invocation that was never
// started records it as starting at the same time.
func (m *Metrics) End(scope RateScope, key string, at time.Time, ignored bool) {
	m.update(scope, key, func(r *record) {
		if r.started.IsZero() || r.started.After(at) {
			r.started = at
		}
		r.ended = at
		r.ignored = ignored
	})
}

// Last returns the time of the last recorded start or end for key.
func (m *Metrics) Last(scope RateScope, key string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.last[scope][key]
	return r.last(), ok
}

// Limited reports whether an invocation at the given time falls inside
// window of the previous one, and how long is left until it does not. A
// running invocation counts from its start.
func (m *Metrics) Limited(scope RateScope, key string, window time.Duration, at time.Time) (bool, time.Duration) {
	if window <= 0 {
		return false, 0
	}
	m.mu.Lock()
	r, ok := m.last[scope][key]
	m.mu.Unlock()
	if !ok || (r.done() && r.ignored) {
		return false, 0
	}
	elapsed := at.Sub(r.last())
	if elapsed > window {
		return false, 0
	}
	return true, window - elapsed
}
