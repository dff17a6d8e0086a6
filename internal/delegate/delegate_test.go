package delegate

import (
	"errors"
	"math"
	"testing"

	"orgline/internal/domain"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCapabilityScore(t *testing.T) {
	got := CapabilityScore([]string{"python", "api", "ml"}, []string{"python", "api"})
	if !near(got, 2.0/3.0) {
		t.Fatalf("score = %v, want 2/3", got)
	}
	if CapabilityScore(nil, []string{"anything"}) != 1.0 {
		t.Fatalf("empty requirement should score 1")
	}
	if CapabilityScore(nil, nil) != 1.0 {
		t.Fatalf("empty requirement should score 1 even without capabilities")
	}
	if got := CapabilityScore([]string{"a", "a", "b"}, []string{"a", "a"}); !near(got, 0.5) {
		t.Fatalf("duplicates should not double count, got %v", got)
	}
}

func TestWorkloadScore(t *testing.T) {
	if got := WorkloadScore(0.4, 0.3, 1.2); !near(got, 0.24) {
		t.Fatalf("score = %v, want 0.24", got)
	}
	if got := WorkloadScore(0.9, 0.5, 1.5); got != 0 {
		t.Fatalf("overload should clamp at 0, got %v", got)
	}
}

func TestDelegateEmptyRegistry(t *testing.T) {
	_, err := New().Delegate(domain.Task{}, nil)
	if !errors.Is(err, ErrNoActorsAvailable) {
		t.Fatalf("expected ErrNoActorsAvailable, got %v", err)
	}
	if _, err := New().Shortlist(domain.Task{}, nil, 2); !errors.Is(err, ErrNoActorsAvailable) {
		t.Fatalf("shortlist: expected ErrNoActorsAvailable, got %v", err)
	}
}

func TestDelegatePrefersCapabilityAndHeadroom(t *testing.T) {
	task := domain.Task{RequiredCapabilities: []string{"python", "api"}, EstimatedWorkload: 0.2, Priority: domain.PriorityHigh}
	registry := []domain.ActorState{
		{Role: domain.RoleCMO, Capabilities: []string{"marketing"}},
		{Role: domain.RoleCTO, Capabilities: []string{"python", "api"}, Workload: 0.9},
		{Role: domain.RoleRD, Capabilities: []string{"python", "api"}, Workload: 0.1},
	}
	got, err := New().Delegate(task, registry)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if got != domain.RoleRD {
		t.Fatalf("delegate = %s, want rd", got)
	}
}

func TestDelegateTieBreaksByRegistryOrder(t *testing.T) {
	task := domain.Task{EstimatedWorkload: 0.1, Priority: domain.PriorityMedium}
	registry := []domain.ActorState{
		{Role: domain.RoleCFO},
		{Role: domain.RoleCEO},
		{Role: domain.RoleHR},
	}
	d := New()
	for i := 0; i < 20; i++ {
		got, err := d.Delegate(task, registry)
		if err != nil || got != domain.RoleCFO {
			t.Fatalf("delegate = %s, %v; want first candidate cfo", got, err)
		}
	}
	reversed := []domain.ActorState{registry[2], registry[1], registry[0]}
	if got, _ := d.Delegate(task, reversed); got != domain.RoleHR {
		t.Fatalf("delegate = %s, want hr after reordering", got)
	}
}

func TestRankAndShortlist(t *testing.T) {
	task := domain.Task{RequiredCapabilities: []string{"finance"}, EstimatedWorkload: 0.1, Priority: domain.PriorityLow}
	registry := []domain.ActorState{
		{Role: domain.RoleHR},
		{Role: domain.RoleCFO, Capabilities: []string{"finance"}},
		{Role: domain.RoleDataAnalyst, Capabilities: []string{"finance"}, Workload: 0.5},
	}
	d := New()
	ranked := d.Rank(task, registry)
	if ranked[0].Role != domain.RoleCFO || ranked[1].Role != domain.RoleDataAnalyst || ranked[2].Role != domain.RoleHR {
		t.Fatalf("rank order = %+v", ranked)
	}
	want := 0.5*1 + 0.3*(1-0.08) + 0.2*1
	if !near(ranked[0].Final, want) {
		t.Fatalf("final = %v, want %v", ranked[0].Final, want)
	}
	top, err := d.Shortlist(task, registry, 2)
	if err != nil || len(top) != 2 || top[0] != domain.RoleCFO {
		t.Fatalf("shortlist = %v, %v", top, err)
	}
}

func TestHistoryHook(t *testing.T) {
	task := domain.Task{EstimatedWorkload: 0.1}
	registry := []domain.ActorState{
		{Role: domain.RoleCTO, Metrics: domain.ActorMetrics{TasksCompleted: 1, TasksFailed: 3}},
		{Role: domain.RoleCPO, Metrics: domain.ActorMetrics{TasksCompleted: 4}},
	}
	d := New()
	d.History = MetricsHistory
	got, _ := d.Delegate(task, registry)
	if got != domain.RoleCPO {
		t.Fatalf("delegate = %s, want cpo", got)
	}
}
