package domain

import (
	"errors"
	"testing"
)

func TestTaskStatusIsMonotonic(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		ok       bool
	}{
		{TaskPending, TaskInProgress, true},
		{TaskPending, TaskFailed, true},
		{TaskInProgress, TaskCompleted, true},
		{TaskInProgress, TaskFailed, true},
		{TaskInProgress, TaskPending, false},
		{TaskCompleted, TaskPending, false},
		{TaskCompleted, TaskInProgress, false},
		{TaskFailed, TaskPending, false},
		{TaskFailed, TaskInProgress, false},
		{TaskCompleted, TaskFailed, false},
		{TaskPending, TaskCompleted, false},
	}
	for _, tc := range cases {
		err := EnsureTransition(tc.from, tc.to)
		if tc.ok && err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", tc.from, tc.to, err)
		}
	}
}

func TestRoleRanks(t *testing.T) {
	if TopRole().Rank() != 10 {
		t.Fatalf("top role rank = %d", TopRole().Rank())
	}
	for _, r := range Roles() {
		if r.Rank() <= 0 {
			t.Fatalf("role %s has no rank", r)
		}
		if r != TopRole() && r.Rank() >= TopRole().Rank() {
			t.Fatalf("role %s outranks top role", r)
		}
	}
	if _, err := ParseRole("janitor"); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestNewMessageCopiesContent(t *testing.T) {
	content := map[string]any{"topic": "product", "task": map[string]any{"assigned_to": "cpo"}}
	m := NewMessage(RoleCEO, RoleCPO, MessageCollaboration, content, "")
	content["topic"] = "changed"
	content["task"].(map[string]any)["assigned_to"] = "cto"
	if m.Content["topic"] != "product" {
		t.Fatalf("content leaked: %v", m.Content["topic"])
	}
	if m.Content["task"].(map[string]any)["assigned_to"] != "cpo" {
		t.Fatalf("nested content leaked")
	}
	if m.Priority != PriorityMedium {
		t.Fatalf("default priority = %s", m.Priority)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestMessageValidate(t *testing.T) {
	good := NewMessage(RoleCEO, "", MessageStatusReport, map[string]any{}, PriorityLow)
	if err := good.Validate(); err != nil {
		t.Fatalf("unaddressed message should validate: %v", err)
	}
	bad := []Message{
		{Sender: RoleCEO, Type: MessageAlert, Priority: PriorityLow, Content: map[string]any{}},
		{ID: "x", Sender: "nobody", Type: MessageAlert, Priority: PriorityLow, Content: map[string]any{}},
		{ID: "x", Sender: RoleCEO, Type: "gossip", Priority: PriorityLow, Content: map[string]any{}},
		{ID: "x", Sender: RoleCEO, Type: MessageAlert, Priority: "urgent", Content: map[string]any{}},
		{ID: "x", Sender: RoleCEO, Type: MessageAlert, Priority: PriorityLow},
	}
	for i, m := range bad {
		if err := m.Validate(); !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("case %d: expected ErrInvalidMessage, got %v", i, err)
		}
	}
}

func TestFailureRate(t *testing.T) {
	if (ActorMetrics{}).FailureRate() != 0 {
		t.Fatalf("empty metrics should have zero failure rate")
	}
	m := ActorMetrics{TasksCompleted: 3, TasksFailed: 1}
	if m.FailureRate() != 0.25 {
		t.Fatalf("failure rate = %v", m.FailureRate())
	}
}
