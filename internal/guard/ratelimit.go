package guard

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Policy is a fixed request budget: at most Limit requests per Window. The
// window opens with a client's first request and the budget is restored only
// when it closes.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) valid() bool {
	return p.Limit > 0 && p.Window > 0
}

// Limiter keeps one budget per (action, client) pair.
type Limiter struct {
	def      Policy
	mu       sync.RWMutex
	policies map[string]Policy
	entries  sync.Map // map[string]*entry
	now      func() time.Time
}

type entry struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	end     time.Time    // close of the current window
	last    atomic.Int64 // unix nanos of last request
}

// NewLimiter creates a limiter applying def to every action without its own policy.
func NewLimiter(def Policy) *Limiter {
	return &Limiter{
		def:      def,
		policies: make(map[string]Policy),
		now:      time.Now,
	}
}

// SetPolicy overrides the budget for one action. Open windows keep their old
// budget until they close.
func (l *Limiter) SetPolicy(action string, p Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.policies[action] = p
}

func (l *Limiter) policy(action string) Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p, ok := l.policies[action]; ok {
		return p
	}
	return l.def
}

func (l *Limiter) get(action, client string, now time.Time) *entry {
	key := action + "|" + client
	if v, ok := l.entries.Load(key); ok {
		return v.(*entry)
	}
	e := &entry{}
	e.last.Store(now.UnixNano())
	v, _ := l.entries.LoadOrStore(key, e)
	return v.(*entry)
}

// Allow takes one request from the client's budget for action. When the
// budget is spent it returns false and the time left in the window.
func (l *Limiter) Allow(action, client string) (bool, time.Duration) {
	p := l.policy(action)
	if !p.valid() {
		return true, 0
	}

	now := l.now()
	e := l.get(action, client, now)
	e.last.Store(now.UnixNano())

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.limiter == nil || !now.Before(e.end) {
		// Refilling at one token per window adds less than one token before
		// the window closes, so the burst is the whole budget.
		e.limiter = rate.NewLimiter(rate.Every(p.Window), p.Limit)
		e.end = now.Add(p.Window)
	}
	// AllowN leaves the budget untouched when it denies.
	if e.limiter.AllowN(now, 1) {
		return true, 0
	}
	return false, e.end.Sub(now)
}

// Sweep drops buckets idle for longer than idle and returns how many were removed.
func (l *Limiter) Sweep(idle time.Duration) int {
	cutoff := l.now().Add(-idle).UnixNano()
	removed := 0
	l.entries.Range(func(key, val any) bool {
		if val.(*entry).last.Load() < cutoff {
			l.entries.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	n := 0
	l.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
