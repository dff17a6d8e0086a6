package isolation

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit open")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, RecoveryTimeout: 30 * time.Second, HalfOpenMaxCalls: 3}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
	return c
}

type BreakerSnapshot struct {
	Resource      string     `json:"resource"`
	State         State      `json:"state"`
	FailureCount  int        `json:"failure_count"`
	HalfOpenCalls int        `json:"half_open_calls"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty" format:"date-time"`
	OpenedAt      *time.Time `json:"opened_at,omitempty" format:"date-time"`
}

// TransitionFunc observes state changes. It runs after the breaker lock is
// released.
type TransitionFunc func(resource string, from, to State)

type Breaker struct {
	resource string
	cfg      BreakerConfig
	now      func() time.Time
	onChange TransitionFunc

	mu            sync.Mutex
	state         State
	failureCount  int
	halfOpenCalls int
	lastFailureAt time.Time
	openedAt      time.Time
}

func NewBreaker(resource string, cfg BreakerConfig, now func() time.Time) *Breaker {
	if now == nil {
		now = time.Now
	}
	return &Breaker{resource: resource, cfg: cfg.withDefaults(), now: now, state: StateClosed}
}

// Allow reports whether a call may proceed. An open breaker whose recovery
// timeout has elapsed moves to half-open on this call.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	from := b.state
	allowed := false
	switch b.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.state = StateHalfOpen
			b.halfOpenCalls = 1
			allowed = true
		}
	case StateHalfOpen:
		if b.halfOpenCalls < b.cfg.HalfOpenMaxCalls {
			b.halfOpenCalls++
			allowed = true
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
	return allowed
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.failureCount = 0
		b.halfOpenCalls = 0
		b.openedAt = time.Time{}
	case StateClosed:
		b.failureCount = 0
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	from := b.state
	now := b.now()
	b.lastFailureAt = now
	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.openedAt = now
		}
	case StateHalfOpen:
		b.failureCount++
		b.state = StateOpen
		b.openedAt = now
		b.halfOpenCalls = 0
	case StateOpen:
		b.failureCount++
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := BreakerSnapshot{
		Resource:      b.resource,
		State:         b.state,
		FailureCount:  b.failureCount,
		HalfOpenCalls: b.halfOpenCalls,
	}
	if !b.lastFailureAt.IsZero() {
		t := b.lastFailureAt
		s.LastFailureAt = &t
	}
	if !b.openedAt.IsZero() {
		t := b.openedAt
		s.OpenedAt = &t
	}
	return s
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.onChange != nil {
		b.onChange(b.resource, from, to)
	}
}
