// Package delegate picks the actor best suited to a task by capability match
// and spare capacity.
package delegate

import (
	"errors"
	"sort"

	"orgline/internal/domain"
)

var ErrNoActorsAvailable = errors.New("no actors available")

// Weights blend the three component scores into the final score.
type Weights struct {
	Capability float64
	Workload   float64
	History    float64
}

func DefaultWeights() Weights {
	return Weights{Capability: 0.5, Workload: 0.3, History: 0.2}
}

func DefaultPriorityWeights() map[domain.Priority]float64 {
	return map[domain.Priority]float64{
		domain.PriorityCritical: 1.5,
		domain.PriorityHigh:     1.2,
		domain.PriorityMedium:   1.0,
		domain.PriorityLow:      0.8,
	}
}

// HistoryFunc scores past performance of an actor in [0,1].
type HistoryFunc func(domain.ActorState) float64

// Score is the breakdown for one candidate.
type Score struct {
	Role       domain.Role `json:"role"`
	Capability float64     `json:"capability"`
	Workload   float64     `json:"workload"`
	History    float64     `json:"history"`
	Final      float64     `json:"final"`
}

type Delegator struct {
	Weights         Weights
	PriorityWeights map[domain.Priority]float64
	// History defaults to a constant 1.0.
	History HistoryFunc
}

func New() *Delegator {
	return &Delegator{Weights: DefaultWeights(), PriorityWeights: DefaultPriorityWeights()}
}

// Delegate returns the highest scoring role. Ties go to the candidate that
// appears first in registry.
func (d *Delegator) Delegate(task domain.Task, registry []domain.ActorState) (domain.Role, error) {
	if len(registry) == 0 {
		return "", ErrNoActorsAvailable
	}
	best := d.score(task, registry[0])
	for _, actor := range registry[1:] {
		s := d.score(task, actor)
		if s.Final > best.Final {
			best = s
		}
	}
	return best.Role, nil
}

// Rank scores every candidate, best first, keeping registry order on ties.
func (d *Delegator) Rank(task domain.Task, registry []domain.ActorState) []Score {
	out := make([]Score, len(registry))
	for i, actor := range registry {
		out[i] = d.score(task, actor)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Final > out[j].Final })
	return out
}

// Shortlist returns the top n roles.
func (d *Delegator) Shortlist(task domain.Task, registry []domain.ActorState, n int) ([]domain.Role, error) {
	if len(registry) == 0 {
		return nil, ErrNoActorsAvailable
	}
	ranked := d.Rank(task, registry)
	if n <= 0 || n > len(ranked) {
		n = len(ranked)
	}
	out := make([]domain.Role, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].Role
	}
	return out, nil
}

func (d *Delegator) score(task domain.Task, actor domain.ActorState) Score {
	s := Score{
		Role:       actor.Role,
		Capability: CapabilityScore(task.RequiredCapabilities, actor.Capabilities),
		Workload:   WorkloadScore(actor.Workload, task.EstimatedWorkload, d.priorityWeight(task.Priority)),
		History:    1.0,
	}
	if d.History != nil {
		s.History = clamp01(d.History(actor))
	}
	w := d.Weights
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	s.Final = w.Capability*s.Capability + w.Workload*s.Workload + w.History*s.History
	return s
}

func (d *Delegator) priorityWeight(p domain.Priority) float64 {
	if w, ok := d.PriorityWeights[p]; ok {
		return w
	}
	if w, ok := DefaultPriorityWeights()[p]; ok {
		return w
	}
	return 1.0
}

// CapabilityScore is the fraction of required capabilities the actor has;
// 1.0 when nothing is required.
func CapabilityScore(required, have []string) float64 {
	req := map[string]struct{}{}
	for _, c := range required {
		req[c] = struct{}{}
	}
	if len(req) == 0 {
		return 1.0
	}
	got := 0
	seen := map[string]struct{}{}
	for _, c := range have {
		if _, ok := req[c]; !ok {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		got++
	}
	return float64(got) / float64(len(req))
}

// WorkloadScore is the headroom left after taking the task, clamped at 0.
func WorkloadScore(current, estimated, priorityWeight float64) float64 {
	return clamp01(1 - (current + estimated*priorityWeight))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// MetricsHistory scores an actor by its task success rate. Actors without
// samples score 1.
func MetricsHistory(a domain.ActorState) float64 {
	return 1 - a.Metrics.FailureRate()
}
