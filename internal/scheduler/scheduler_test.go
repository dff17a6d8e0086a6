package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"orgline/internal/domain"
)

func fixedClock() func() time.Time {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time { return base }
}

func popAll(t *testing.T, q *Queue) []string {
	t.Helper()
	var ids []string
	for {
		it, ok := q.Pop()
		if !ok {
			return ids
		}
		ids = append(ids, it.ID)
	}
}

func TestQueuePopsByWeight(t *testing.T) {
	q := NewQueue(nil, fixedClock())
	for _, it := range []Item{
		{ID: "low", Priority: domain.PriorityLow},
		{ID: "high", Priority: domain.PriorityHigh},
		{ID: "critical", Priority: domain.PriorityCritical},
	} {
		if err := q.Push(it); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	got := popAll(t, q)
	want := []string{"critical", "high", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", got, want)
		}
	}
}

func TestQueueFIFOWithinTier(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	q := NewQueue(nil, nil)
	_ = q.Push(Item{ID: "b", Priority: domain.PriorityMedium, EnqueuedAt: base.Add(2 * time.Second)})
	_ = q.Push(Item{ID: "a", Priority: domain.PriorityMedium, EnqueuedAt: base.Add(time.Second)})
	_ = q.Push(Item{ID: "c", Priority: domain.PriorityMedium, EnqueuedAt: base.Add(2 * time.Second)})
	_ = q.Push(Item{ID: "x", Priority: domain.PriorityLow, EnqueuedAt: base})
	got := popAll(t, q)
	want := []string{"a", "b", "c", "x"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", got, want)
		}
	}
}

func TestQueuePeekRemoveAndTierListing(t *testing.T) {
	q := NewQueue(nil, fixedClock())
	_ = q.Push(Item{ID: "m1", Priority: domain.PriorityMedium})
	_ = q.Push(Item{ID: "h1", Priority: domain.PriorityHigh})
	_ = q.Push(Item{ID: "m2", Priority: domain.PriorityMedium})

	top, ok := q.Peek()
	if !ok || top.ID != "h1" {
		t.Fatalf("peek = %+v", top)
	}
	if q.Len() != 3 {
		t.Fatalf("peek must not remove, len = %d", q.Len())
	}
	if _, ok := q.RemoveByID("h1"); !ok {
		t.Fatalf("expected h1 removed")
	}
	if _, ok := q.RemoveByID("h1"); ok {
		t.Fatalf("second removal should miss")
	}
	med := q.ItemsOfPriority(domain.PriorityMedium)
	if len(med) != 2 || med[0].ID != "m1" || med[1].ID != "m2" {
		t.Fatalf("medium items = %+v", med)
	}
	if d := q.Depths(); d[domain.PriorityMedium] != 2 || d[domain.PriorityHigh] != 0 {
		t.Fatalf("depths = %v", d)
	}
}

func TestQueueRejectsUnknownPriority(t *testing.T) {
	q := NewQueue(nil, nil)
	if err := q.Push(Item{ID: "x", Priority: "urgent"}); !errors.Is(err, ErrUnknownPriority) {
		t.Fatalf("expected ErrUnknownPriority, got %v", err)
	}
}

func TestQueuePushReplacesSameID(t *testing.T) {
	q := NewQueue(nil, fixedClock())
	_ = q.Push(Item{ID: "a", Priority: domain.PriorityLow})
	_ = q.Push(Item{ID: "a", Priority: domain.PriorityCritical})
	if q.Len() != 1 {
		t.Fatalf("len = %d", q.Len())
	}
	it, _ := q.Pop()
	if it.Priority != domain.PriorityCritical {
		t.Fatalf("priority = %s", it.Priority)
	}
}

func TestLimiterCapsTier(t *testing.T) {
	l := NewLimiter(DefaultTiers())
	if !l.TryAcquire(domain.PriorityCritical) {
		t.Fatalf("first critical slot should be free")
	}
	if l.TryAcquire(domain.PriorityCritical) {
		t.Fatalf("critical tier allows one in flight")
	}
	if l.InFlight(domain.PriorityCritical) != 1 {
		t.Fatalf("in flight = %d", l.InFlight(domain.PriorityCritical))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx, domain.PriorityCritical); err == nil {
		t.Fatalf("acquire should block until ctx expires")
	}
	l.Release(domain.PriorityCritical)
	if !l.TryAcquire(domain.PriorityCritical) {
		t.Fatalf("slot should be free after release")
	}
	if l.Cap(domain.PriorityLow) != 8 {
		t.Fatalf("low cap = %d", l.Cap(domain.PriorityLow))
	}
}

func TestTiersValidate(t *testing.T) {
	if err := DefaultTiers().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	tiers := DefaultTiers()
	delete(tiers, domain.PriorityHigh)
	if err := tiers.Validate(); err == nil {
		t.Fatalf("expected missing tier error")
	}
}
