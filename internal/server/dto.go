package server

import (
	"encoding/json"
	"fmt"
	"time"

	"orgline/internal/domain"
	"orgline/internal/orchestrator"
	"orgline/internal/store"
)

// Request payloads

type MessageRequest struct {
	Sender    string         `json:"sender" example:"cfo"`
	Recipient string         `json:"recipient,omitempty" example:"ceo"`
	Type      string         `json:"message_type" example:"approval_request"`
	Content   map[string]any `json:"content,omitempty"`
	Priority  string         `json:"priority,omitempty" example:"high"`
}

func (r MessageRequest) message() (domain.Message, error) {
	p, err := domain.ParsePriority(r.Priority)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	content := r.Content
	if content == nil {
		content = map[string]any{}
	}
	return domain.NewMessage(domain.Role(r.Sender), domain.Role(r.Recipient), domain.MessageType(r.Type), content, p), nil
}

type TaskRequest struct {
	ID                   string     `json:"task_id,omitempty"`
	Title                string     `json:"title" minLength:"1"`
	Description          string     `json:"description,omitempty"`
	AssignedTo           string     `json:"assigned_to,omitempty" example:"cto"`
	AssignedBy           string     `json:"assigned_by,omitempty" example:"ceo"`
	Priority             string     `json:"priority,omitempty" example:"high"`
	Dependencies         []string   `json:"dependencies,omitempty"`
	RequiredCapabilities []string   `json:"required_capabilities,omitempty"`
	EstimatedWorkload    float64    `json:"estimated_workload,omitempty" minimum:"0" maximum:"1"`
	Deadline             *time.Time `json:"deadline,omitempty" format:"date-time"`
}

func (r TaskRequest) spec() (orchestrator.TaskSpec, error) {
	p, err := domain.ParsePriority(r.Priority)
	if err != nil {
		return orchestrator.TaskSpec{}, fmt.Errorf("invalid task: %w", err)
	}
	return orchestrator.TaskSpec{
		ID:                   r.ID,
		Title:                r.Title,
		Description:          r.Description,
		AssignedTo:           domain.Role(r.AssignedTo),
		AssignedBy:           domain.Role(r.AssignedBy),
		Priority:             p,
		Dependencies:         r.Dependencies,
		RequiredCapabilities: r.RequiredCapabilities,
		EstimatedWorkload:    r.EstimatedWorkload,
		Deadline:             r.Deadline,
	}, nil
}

type TickRequest struct {
	Steps int `json:"steps,omitempty" minimum:"0" maximum:"1000" example:"1"`
}

type SnapshotRequest struct {
	Action  string `json:"action" enum:"save,restore"`
	Backend string `json:"backend,omitempty" example:"file"`
}

// Response payloads

type TickResponse struct {
	Reports []orchestrator.TickReport `json:"reports"`
	Status  orchestrator.Status       `json:"status"`
}

type QueueResponse struct {
	Total int                                  `json:"total"`
	Items map[domain.Priority][]domain.Message `json:"items"`
}

type SnapshotResponse struct {
	Action  string               `json:"action"`
	Backend string               `json:"backend,omitempty"`
	Restore *store.RestoreReport `json:"restore,omitempty"`
	Status  orchestrator.Status  `json:"status"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	CompanyID  string         `json:"company_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		CompanyID:  e.CompanyID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
