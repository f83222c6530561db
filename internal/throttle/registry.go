// Package throttle keeps one leading-edge limiter per throttle key.
//
// Keys come from the static rule set, so the registry never evicts.
package throttle

import (
	"sort"
	"sync"
	"time"

	logx "plexpush/pkg/logx"
)

type Option func(*Registry)

// WithClock replaces time.Now. Tests use it to drive windows by hand.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// WithOnCreate registers a hook called once per newly created limiter, while
// the registry lock is held.
func WithOnCreate(fn func(key string, window time.Duration)) Option {
	return func(r *Registry) { r.onCreate = fn }
}

// Registry maps throttle keys to limiters. It is safe for concurrent use and
// creates exactly one limiter per key.
type Registry struct {
	now      func() time.Time
	log      logx.Logger
	onCreate func(key string, window time.Duration)

	mu       sync.Mutex
	limiters map[string]*Limiter
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		now:      time.Now,
		log:      logx.Nop(),
		limiters: map[string]*Limiter{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Limiter returns the limiter for key, creating it with window on first use.
// The first creator fixes the window; a later caller asking for a different
// one shares the existing limiter.
func (r *Registry) Limiter(key string, window time.Duration) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[key]; ok {
		if l.window != window {
			r.log.Warn("throttle key reused with a different window; keeping the first",
				logx.String("key", key),
				logx.Duration("window", l.window),
				logx.Duration("requested", window),
			)
		}
		return l
	}
	l := newLimiter(key, window, r.now)
	r.limiters[key] = l
	if r.onCreate != nil {
		r.onCreate(key, l.window)
	}
	r.log.Debug("throttle limiter created", logx.String("key", key), logx.Duration("window", l.window))
	return l
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}

// Snapshot returns every limiter's state sorted by key.
func (r *Registry) Snapshot() []State {
	r.mu.Lock()
	ls := make([]*Limiter, 0, len(r.limiters))
	for _, l := range r.limiters {
		ls = append(ls, l)
	}
	r.mu.Unlock()

	out := make([]State, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.State())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
