package scheduler

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"orgline/internal/domain"
)

// Item is one unit of pending work. Payload is opaque to the queue.
type Item struct {
	ID         string
	Priority   domain.Priority
	Payload    any
	EnqueuedAt time.Time

	weight float64
	seq    uint64
	index  int
}

// Queue orders items by tier weight, then arrival time, then insertion
// order. It is safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	tiers Tiers
	now   func() time.Time
	items itemHeap
	byID  map[string]*Item
	seq   uint64
}

func NewQueue(tiers Tiers, now func() time.Time) *Queue {
	if tiers == nil {
		tiers = DefaultTiers()
	}
	if now == nil {
		now = time.Now
	}
	return &Queue{tiers: tiers, now: now, byID: map[string]*Item{}}
}

// Push admits an item. A zero EnqueuedAt is stamped with the queue clock; a
// requeued item keeps its original arrival time. Pushing an id already
// queued replaces the earlier entry.
func (q *Queue) Push(it Item) error {
	tier, err := q.tiers.Lookup(it.Priority)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if old, ok := q.byID[it.ID]; ok && it.ID != "" {
		heap.Remove(&q.items, old.index)
		delete(q.byID, it.ID)
	}
	if it.EnqueuedAt.IsZero() {
		it.EnqueuedAt = q.now()
	}
	q.seq++
	entry := &Item{
		ID:         it.ID,
		Priority:   it.Priority,
		Payload:    it.Payload,
		EnqueuedAt: it.EnqueuedAt,
		weight:     tier.Weight,
		seq:        q.seq,
	}
	heap.Push(&q.items, entry)
	if entry.ID != "" {
		q.byID[entry.ID] = entry
	}
	return nil
}

// Pop removes and returns the highest priority item.
func (q *Queue) Pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	it := heap.Pop(&q.items).(*Item)
	delete(q.byID, it.ID)
	return it.public(), true
}

func (q *Queue) Peek() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0].public(), true
}

// RemoveByID drops a queued item, reporting whether it was present.
func (q *Queue) RemoveByID(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.byID[id]
	if !ok {
		return Item{}, false
	}
	heap.Remove(&q.items, it.index)
	delete(q.byID, id)
	return it.public(), true
}

// ItemsOfPriority lists queued items of one tier in pop order.
func (q *Queue) ItemsOfPriority(p domain.Priority) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Item
	for _, it := range q.items {
		if it.Priority == p {
			out = append(out, it)
		}
	}
	sortItems(out)
	res := make([]Item, len(out))
	for i, it := range out {
		res[i] = it.public()
	}
	return res
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Depths counts queued items per tier.
func (q *Queue) Depths() map[domain.Priority]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[domain.Priority]int, len(q.tiers))
	for _, p := range domain.Priorities() {
		out[p] = 0
	}
	for _, it := range q.items {
		out[it.Priority]++
	}
	return out
}

func (it *Item) public() Item {
	return Item{ID: it.ID, Priority: it.Priority, Payload: it.Payload, EnqueuedAt: it.EnqueuedAt}
}

func less(a, b *Item) bool {
	if a.weight != b.weight {
		return a.weight > b.weight
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.seq < b.seq
}

func sortItems(items []*Item) {
	sort.Slice(items, func(i, j int) bool { return less(items[i], items[j]) })
}

type itemHeap []*Item

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return less(h[i], h[j]) }
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*Item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
