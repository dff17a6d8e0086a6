package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"orgline/internal/domain"
)

// Limiter caps in-flight work per tier using each tier's MaxConcurrent.
type Limiter struct {
	sems map[domain.Priority]*semaphore.Weighted
	caps map[domain.Priority]int

	mu       sync.Mutex
	inFlight map[domain.Priority]int
}

func NewLimiter(tiers Tiers) *Limiter {
	if tiers == nil {
		tiers = DefaultTiers()
	}
	l := &Limiter{
		sems:     map[domain.Priority]*semaphore.Weighted{},
		caps:     map[domain.Priority]int{},
		inFlight: map[domain.Priority]int{},
	}
	for p, tier := range tiers {
		n := tier.MaxConcurrent
		if n <= 0 {
			n = 1
		}
		l.sems[p] = semaphore.NewWeighted(int64(n))
		l.caps[p] = n
	}
	return l
}

// TryAcquire takes a slot without blocking.
func (l *Limiter) TryAcquire(p domain.Priority) bool {
	sem, ok := l.sems[p]
	if !ok {
		return false
	}
	if !sem.TryAcquire(1) {
		return false
	}
	l.track(p, 1)
	return true
}

// Acquire blocks until a slot frees up or ctx is done.
func (l *Limiter) Acquire(ctx context.Context, p domain.Priority) error {
	sem, ok := l.sems[p]
	if !ok {
		return ErrUnknownPriority
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.track(p, 1)
	return nil
}

func (l *Limiter) Release(p domain.Priority) {
	sem, ok := l.sems[p]
	if !ok {
		return
	}
	l.track(p, -1)
	sem.Release(1)
}

func (l *Limiter) InFlight(p domain.Priority) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight[p]
}

func (l *Limiter) Cap(p domain.Priority) int { return l.caps[p] }

// Snapshot returns in-flight counts for every tier.
func (l *Limiter) Snapshot() map[domain.Priority]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[domain.Priority]int, len(l.caps))
	for p := range l.caps {
		out[p] = l.inFlight[p]
	}
	return out
}

func (l *Limiter) track(p domain.Priority, delta int) {
	l.mu.Lock()
	l.inFlight[p] += delta
	l.mu.Unlock()
}
