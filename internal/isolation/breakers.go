package isolation

import (
	"sort"
	"sync"
	"time"
)

// Breakers lazily creates one breaker per resource key.
type Breakers struct {
	cfg      BreakerConfig
	now      func() time.Time
	onChange TransitionFunc

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewBreakers(cfg BreakerConfig, now func() time.Time, onChange TransitionFunc) *Breakers {
	return &Breakers{cfg: cfg, now: now, onChange: onChange, breakers: map[string]*Breaker{}}
}

func (r *Breakers) Get(resource string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[resource]
	if !ok {
		b = NewBreaker(resource, r.cfg, r.now)
		b.onChange = r.onChange
		r.breakers[resource] = b
	}
	return b
}

func (r *Breakers) Allow(resource string) bool    { return r.Get(resource).Allow() }
func (r *Breakers) RecordSuccess(resource string) { r.Get(resource).RecordSuccess() }
func (r *Breakers) RecordFailure(resource string) { r.Get(resource).RecordFailure() }

func (r *Breakers) Snapshot() []BreakerSnapshot {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()
	out := make([]BreakerSnapshot, len(list))
	for i, b := range list {
		out[i] = b.Snapshot()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

func (r *Breakers) OpenCount() int {
	n := 0
	for _, s := range r.Snapshot() {
		if s.State != StateClosed {
			n++
		}
	}
	return n
}
