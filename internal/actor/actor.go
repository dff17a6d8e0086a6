// Package actor implements the role actors. Each actor dispatches incoming
// messages through a table keyed by message type and asks the reasoner for
// the substance of its answer. A failed reasoning call never escapes: the
// actor answers with its fallback and marks the outcome degraded.
package actor

import (
	"context"
	"errors"
	"fmt"

	"orgline/internal/domain"
	"orgline/internal/reasoning"
)

var ErrUnhandled = errors.New("unhandled message type")

// Content keys shared by requests and their replies.
const (
	KeyInReplyTo = "in_reply_to"
	KeyRequester = "requester"
)

// FallbackPolicy is the answer given when reasoning fails.
type FallbackPolicy struct {
	ApproveOnFailure bool
	Reason           string
}

func DefaultFallback() FallbackPolicy {
	return FallbackPolicy{ApproveOnFailure: false, Reason: "insufficient information"}
}

// Outcome is what handling a message or executing a task produced.
type Outcome struct {
	Decision  reasoning.Decision
	Responses []domain.Message
	// Success is meaningful for task execution only.
	Success  bool
	Degraded bool
	Cause    error
}

type Handler func(ctx context.Context, msg domain.Message) (Outcome, error)

type Actor struct {
	Role         domain.Role
	Capabilities []string

	reasoner reasoning.Reasoner
	fallback FallbackPolicy
	handlers map[domain.MessageType]Handler
}

func New(role domain.Role, capabilities []string, r reasoning.Reasoner, fallback FallbackPolicy) *Actor {
	if fallback.Reason == "" {
		fallback.Reason = DefaultFallback().Reason
	}
	a := &Actor{
		Role:         role,
		Capabilities: append([]string(nil), capabilities...),
		reasoner:     r,
		fallback:     fallback,
	}
	a.handlers = map[domain.MessageType]Handler{
		domain.MessageTaskAssignment:   a.handleTaskAssignment,
		domain.MessageStatusReport:     a.handleStatusReport,
		domain.MessageDataRequest:      a.handleDataRequest,
		domain.MessageDataResponse:     a.handleReply,
		domain.MessageApprovalRequest:  a.handleApprovalRequest,
		domain.MessageApprovalResponse: a.handleReply,
		domain.MessageAlert:            a.handleAlert,
		domain.MessageCollaboration:    a.handleCollaboration,
	}
	return a
}

// Handles reports whether the actor has a handler for t.
func (a *Actor) Handles(t domain.MessageType) bool {
	_, ok := a.handlers[t]
	return ok
}

func (a *Actor) Handle(ctx context.Context, msg domain.Message) (Outcome, error) {
	if err := msg.Validate(); err != nil {
		return Outcome{}, err
	}
	h, ok := a.handlers[msg.Type]
	if !ok {
		return Outcome{}, fmt.Errorf("%w %q", ErrUnhandled, msg.Type)
	}
	return h(ctx, msg)
}

// Execute works a task and reports back to whoever assigned it.
func (a *Actor) Execute(ctx context.Context, task domain.Task) (Outcome, error) {
	d, err := a.decide(ctx, reasoning.KindTask, fmt.Sprintf("Complete the task %q.", task.Title), map[string]any{
		"task_id":               task.ID,
		"title":                 task.Title,
		"description":           task.Description,
		"priority":              string(task.Priority),
		"required_capabilities": task.RequiredCapabilities,
	})
	out := Outcome{Decision: d, Success: err == nil}
	content := map[string]any{"task_id": task.ID, "title": task.Title}
	if err != nil {
		out.Degraded = true
		out.Cause = err
		content["status"] = "failed"
		content["reason"] = a.fallback.Reason
	} else {
		content["status"] = "completed"
		content["summary"] = d.Summary
	}
	if task.AssignedBy.Valid() && task.AssignedBy != a.Role {
		out.Responses = append(out.Responses, domain.NewMessage(a.Role, task.AssignedBy, domain.MessageStatusReport, content, task.Priority))
	}
	return out, nil
}

func (a *Actor) handleTaskAssignment(ctx context.Context, msg domain.Message) (Outcome, error) {
	task := TaskFromContent(msg)
	task.AssignedTo = a.Role
	return a.Execute(ctx, task)
}

func (a *Actor) handleStatusReport(ctx context.Context, msg domain.Message) (Outcome, error) {
	return a.absorb(ctx, reasoning.KindStatus, msg)
}

func (a *Actor) handleAlert(ctx context.Context, msg domain.Message) (Outcome, error) {
	return a.absorb(ctx, reasoning.KindAlert, msg)
}

func (a *Actor) handleReply(context.Context, domain.Message) (Outcome, error) {
	return Outcome{}, nil
}

func (a *Actor) handleDataRequest(ctx context.Context, msg domain.Message) (Outcome, error) {
	d, err := a.decide(ctx, reasoning.KindData, "Provide the requested data.", msg.Content)
	content := replyContent(msg)
	content["request_type"] = msg.Content["request_type"]
	out := Outcome{Decision: d}
	if err != nil {
		out.Degraded = true
		out.Cause = err
		content["available"] = false
		content["reason"] = a.fallback.Reason
	} else {
		content["available"] = true
		content["data"] = d.Content["data"]
		content["summary"] = d.Summary
	}
	out.Responses = []domain.Message{domain.NewMessage(a.Role, msg.Sender, domain.MessageDataResponse, content, msg.Priority)}
	return out, nil
}

func (a *Actor) handleApprovalRequest(ctx context.Context, msg domain.Message) (Outcome, error) {
	d, err := a.decide(ctx, reasoning.KindApproval, "Approve or reject the request.", msg.Content)
	content := replyContent(msg)
	content["request_type"] = msg.Content["request_type"]
	out := Outcome{Decision: d}
	if err != nil {
		out.Degraded = true
		out.Cause = err
		content["approved"] = a.fallback.ApproveOnFailure
		content["reason"] = a.fallback.Reason
	} else {
		approved, _ := d.Content["approved"].(bool)
		content["approved"] = approved
		content["reason"] = d.Content["reason"]
		if content["reason"] == nil {
			content["reason"] = d.Summary
		}
	}
	out.Responses = []domain.Message{domain.NewMessage(a.Role, msg.Sender, domain.MessageApprovalResponse, content, msg.Priority)}
	return out, nil
}

func (a *Actor) handleCollaboration(ctx context.Context, msg domain.Message) (Outcome, error) {
	if _, isReply := msg.Content[KeyInReplyTo]; isReply {
		return Outcome{}, nil
	}
	d, err := a.decide(ctx, reasoning.KindCollaboration, fmt.Sprintf("Collaborate on %v.", msg.Content["topic"]), msg.Content)
	content := replyContent(msg)
	content["topic"] = msg.Content["topic"]
	out := Outcome{Decision: d}
	if err != nil {
		out.Degraded = true
		out.Cause = err
		content["reply"] = a.fallback.Reason
	} else {
		content["reply"] = d.Summary
	}
	out.Responses = []domain.Message{domain.NewMessage(a.Role, msg.Sender, domain.MessageCollaboration, content, msg.Priority)}
	return out, nil
}

// absorb consults the reasoner and produces no reply.
func (a *Actor) absorb(ctx context.Context, kind string, msg domain.Message) (Outcome, error) {
	d, err := a.decide(ctx, kind, fmt.Sprintf("Review the %s from %s.", msg.Type, msg.Sender), msg.Content)
	if err != nil {
		return Outcome{Degraded: true, Cause: err}, nil
	}
	return Outcome{Decision: d}, nil
}

func (a *Actor) decide(ctx context.Context, kind, prompt string, input map[string]any) (reasoning.Decision, error) {
	if a.reasoner == nil {
		return reasoning.Decision{}, reasoning.ErrUnavailable
	}
	return a.reasoner.Decide(ctx, reasoning.Request{
		Role:    a.Role,
		Kind:    kind,
		Prompt:  prompt,
		Context: domain.CloneContent(input),
	})
}

func replyContent(msg domain.Message) map[string]any {
	return map[string]any{
		KeyInReplyTo: msg.ID,
		KeyRequester: string(msg.Sender),
	}
}

// TaskFromContent reads a task description carried by a TaskAssignment
// message, either nested under "task" or at the top level.
func TaskFromContent(msg domain.Message) domain.Task {
	src := msg.Content
	if nested, ok := msg.Content["task"].(map[string]any); ok {
		src = nested
	}
	t := domain.Task{
		ID:          str(src["task_id"]),
		Title:       str(src["title"]),
		Description: str(src["description"]),
		AssignedBy:  msg.Sender,
		Priority:    msg.Priority,
	}
	if t.Title == "" {
		t.Title = str(msg.Content["topic"])
	}
	if p, err := domain.ParsePriority(str(src["priority"])); err == nil && src["priority"] != nil {
		t.Priority = p
	}
	if w, ok := src["estimated_workload"].(float64); ok {
		t.EstimatedWorkload = w
	}
	t.RequiredCapabilities = strs(src["required_capabilities"])
	t.Dependencies = strs(src["dependencies"])
	return t
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return ""
}

func strs(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
