package throttle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a leading-edge throttle for one key.
//
// The first call in a quiet period runs at once and opens a window; calls
// inside the window are dropped, not queued. The first call after the window
// runs and opens a new one. A zero window never drops.
//
// It is a token bucket with burst 1 refilled once per window: a token exists
// exactly when the last executed call is at least one window old.
type Limiter struct {
	key    string
	window time.Duration
	now    func() time.Time

	mu         sync.Mutex
	bucket     *rate.Limiter
	lastFire   time.Time
	fired      uint64
	suppressed uint64
}

func newLimiter(key string, window time.Duration, now func() time.Time) *Limiter {
	if window < 0 {
		window = 0
	}
	limit := rate.Inf
	if window > 0 {
		limit = rate.Every(window)
	}
	return &Limiter{
		key:    key,
		window: window,
		now:    now,
		bucket: rate.NewLimiter(limit, 1),
	}
}

func (l *Limiter) Key() string           { return l.key }
func (l *Limiter) Window() time.Duration { return l.window }

// Invoke runs fn when the call falls on the leading edge and reports whether
// it did. Decisions are made in arrival order; fn runs after the decision,
// outside the lock, so it must not block for long.
func (l *Limiter) Invoke(fn func()) bool {
	if !l.allow() {
		return false
	}
	if fn != nil {
		fn()
	}
	return true
}

func (l *Limiter) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if !l.bucket.AllowN(now, 1) {
		l.suppressed++
		return false
	}
	l.lastFire = now
	l.fired++
	return true
}

// State is a point-in-time view of a limiter.
type State struct {
	Key        string        `json:"key"`
	Window     time.Duration `json:"window"`
	LastFire   time.Time     `json:"last_fire,omitempty"`
	Fired      uint64        `json:"fired"`
	Suppressed uint64        `json:"suppressed"`

	// CoolingUntil is when the next call will run again; zero when open.
	CoolingUntil time.Time `json:"cooling_until,omitempty"`
}

func (l *Limiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := State{
		Key:        l.key,
		Window:     l.window,
		LastFire:   l.lastFire,
		Fired:      l.fired,
		Suppressed: l.suppressed,
	}
	if l.window > 0 && !l.lastFire.IsZero() {
		if until := l.lastFire.Add(l.window); until.After(l.now()) {
			st.CoolingUntil = until
		}
	}
	return st
}
