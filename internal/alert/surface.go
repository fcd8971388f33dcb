package alert

import (
	"sync"
	"time"
)

// DefaultTTL is how long an alert stays visible unless superseded.
const DefaultTTL = 5 * time.Second

// Alert is a transient operator notification.
type Alert struct {
	ID        uint64    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Timer is the part of *time.Timer the surface needs.
type Timer interface {
	Stop() bool
}

// Surface holds at most one visible alert. Raising replaces the current one
// immediately; there is no queue.
type Surface struct {
	ttl       time.Duration
	now       func() time.Time
	afterFunc func(time.Duration, func()) Timer

	mu       sync.Mutex
	current  *Alert
	timer    Timer
	nextID   uint64
	onExpire func(Alert)
}

// Option customises a Surface.
type Option func(*Surface)

// WithClock replaces time.Now and time.AfterFunc, mainly for tests.
func WithClock(now func() time.Time, afterFunc func(time.Duration, func()) Timer) Option {
	return func(s *Surface) {
		s.now = now
		s.afterFunc = afterFunc
	}
}

// NewSurface creates a surface whose alerts expire after ttl.
func NewSurface(ttl time.Duration, opts ...Option) *Surface {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Surface{
		ttl: ttl,
		now: time.Now,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnExpire registers a hook called after an alert removes itself. The hook
// runs on the timer goroutine without the surface lock held.
func (s *Surface) OnExpire(fn func(Alert)) {
	s.mu.Lock()
	s.onExpire = fn
	s.mu.Unlock()
}

// Raise removes the current alert, if any, and shows a new one.
func (s *Surface) Raise(message string) Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearLocked()

	s.nextID++
	now := s.now()
	a := Alert{
		ID:        s.nextID,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.current = &a
	id := a.ID
	s.timer = s.afterFunc(s.ttl, func() { s.expire(id) })
	return a
}

// Dismiss removes the alert with the given id. It reports false when that
// alert is no longer visible.
func (s *Surface) Dismiss(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.ID != id {
		return false
	}
	s.clearLocked()
	return true
}

// Clear removes whatever alert is visible.
func (s *Surface) Clear() {
	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()
}

// Current returns the visible alert.
func (s *Surface) Current() (Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Alert{}, false
	}
	return *s.current, true
}

func (s *Surface) clearLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.current = nil
}

// expire is a no-op when the alert was already superseded or dismissed.
func (s *Surface) expire(id uint64) {
	s.mu.Lock()
	if s.current == nil || s.current.ID != id {
		s.mu.Unlock()
		return
	}
	expired := *s.current
	s.current = nil
	s.timer = nil
	hook := s.onExpire
	s.mu.Unlock()

	if hook != nil {
		hook(expired)
	}
}
