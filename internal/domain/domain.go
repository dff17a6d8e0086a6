package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownRole       = errors.New("unknown role")
	ErrInvalidMessage    = errors.New("invalid message")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// Role names one of the fixed actors of the organization.
type Role string

const (
	RoleCEO             Role = "ceo"
	RoleCTO             Role = "cto"
	RoleCPO             Role = "cpo"
	RoleCMO             Role = "cmo"
	RoleCFO             Role = "cfo"
	RoleHR              Role = "hr"
	RoleRD              Role = "rd"
	RoleDataAnalyst     Role = "data_analyst"
	RoleCustomerSupport Role = "customer_support"
	RoleOperations      Role = "operations"
)

var roleOrder = []Role{
	RoleCEO, RoleCTO, RoleCPO, RoleCMO, RoleCFO,
	RoleHR, RoleRD, RoleDataAnalyst, RoleCustomerSupport, RoleOperations,
}

var roleRanks = map[Role]int{
	RoleCEO:             10,
	RoleCTO:             9,
	RoleCPO:             9,
	RoleCMO:             9,
	RoleCFO:             9,
	RoleHR:              8,
	RoleOperations:      7,
	RoleDataAnalyst:     6,
	RoleRD:              5,
	RoleCustomerSupport: 4,
}

// Roles returns every role in canonical order. Registries built from the
// state store iterate in this order.
func Roles() []Role {
	out := make([]Role, len(roleOrder))
	copy(out, roleOrder)
	return out
}

// TopRole is the role with the highest hierarchy rank.
func TopRole() Role { return RoleCEO }

func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// Rank is the static hierarchy rank; higher means more authority. Unknown
// roles rank 0.
func (r Role) Rank() int { return roleRanks[r] }

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

type MessageType string

const (
	MessageTaskAssignment   MessageType = "task_assignment"
	MessageStatusReport     MessageType = "status_report"
	MessageDataRequest      MessageType = "data_request"
	MessageDataResponse     MessageType = "data_response"
	MessageApprovalRequest  MessageType = "approval_request"
	MessageApprovalResponse MessageType = "approval_response"
	MessageAlert            MessageType = "alert"
	MessageCollaboration    MessageType = "collaboration"
)

// MessageTypes lists every message type.
func MessageTypes() []MessageType {
	return []MessageType{
		MessageTaskAssignment, MessageStatusReport, MessageDataRequest, MessageDataResponse,
		MessageApprovalRequest, MessageApprovalResponse, MessageAlert, MessageCollaboration,
	}
}

func (t MessageType) Valid() bool {
	for _, known := range MessageTypes() {
		if t == known {
			return true
		}
	}
	return false
}

func ParseMessageType(s string) (MessageType, error) {
	t := MessageType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown message type %q", s)
	}
	return t, nil
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Priorities lists tiers from lowest to highest.
func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityMedium, nil
	}
	p := Priority(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// CanTransitionTo enforces monotonic progress. A pending task may fail
// directly when it cannot be delegated.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskPending:
		return next == TaskInProgress || next == TaskFailed
	case TaskInProgress:
		return next == TaskCompleted || next == TaskFailed
	}
	return false
}

// EnsureTransition returns ErrInvalidTransition for backward or terminal moves.
func EnsureTransition(from, to TaskStatus) error {
	if from.CanTransitionTo(to) {
		return nil
	}
	return fmt.Errorf("%w %s -> %s", ErrInvalidTransition, from, to)
}

// Message is immutable once created; construct it with NewMessage.
type Message struct {
	ID        string         `json:"message_id"`
	Sender    Role           `json:"sender"`
	Recipient Role           `json:"recipient"`
	Type      MessageType    `json:"message_type"`
	Content   map[string]any `json:"content"`
	Priority  Priority       `json:"priority"`
	CreatedAt time.Time      `json:"timestamp" format:"date-time"`
}

// NewMessage stamps an id and creation time and copies content so later
// mutation of the caller's map cannot leak into the message.
func NewMessage(sender, recipient Role, typ MessageType, content map[string]any, priority Priority) Message {
	if priority == "" {
		priority = PriorityMedium
	}
	return Message{
		ID:        "msg_" + uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Type:      typ,
		Content:   CloneContent(content),
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
}

// WithRecipient returns a copy addressed to r.
func (m Message) WithRecipient(r Role) Message {
	m.Content = CloneContent(m.Content)
	m.Recipient = r
	return m
}

// Validate checks the structural fields required before routing.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	if !m.Sender.Valid() {
		return fmt.Errorf("%w: sender %q", ErrInvalidMessage, m.Sender)
	}
	if m.Recipient != "" && !m.Recipient.Valid() {
		return fmt.Errorf("%w: recipient %q", ErrInvalidMessage, m.Recipient)
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: type %q", ErrInvalidMessage, m.Type)
	}
	if !m.Priority.Valid() {
		return fmt.Errorf("%w: priority %q", ErrInvalidMessage, m.Priority)
	}
	if m.Content == nil {
		return fmt.Errorf("%w: missing content", ErrInvalidMessage)
	}
	return nil
}

// CloneContent copies one level of a content map; nested maps are copied too.
func CloneContent(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]any); ok {
			out[k] = CloneContent(nested)
			continue
		}
		out[k] = v
	}
	return out
}

type Task struct {
	ID                   string     `json:"task_id"`
	Title                string     `json:"title"`
	Description          string     `json:"description,omitempty"`
	AssignedTo           Role       `json:"assigned_to,omitempty"`
	AssignedBy           Role       `json:"assigned_by"`
	Priority             Priority   `json:"priority"`
	Status               TaskStatus `json:"status" enum:"pending,in_progress,completed,failed"`
	Dependencies         []string   `json:"dependencies,omitempty"`
	RequiredCapabilities []string   `json:"required_capabilities,omitempty"`
	EstimatedWorkload    float64    `json:"estimated_workload"`
	Deadline             *time.Time `json:"deadline,omitempty" format:"date-time"`
	CreatedAt            time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt            time.Time  `json:"updated_at" format:"date-time"`
}

// Clone copies slice fields.
func (t Task) Clone() Task {
	t.Dependencies = append([]string(nil), t.Dependencies...)
	t.RequiredCapabilities = append([]string(nil), t.RequiredCapabilities...)
	if t.Deadline != nil {
		d := *t.Deadline
		t.Deadline = &d
	}
	return t
}

// ActorMetrics are optional per-actor extension fields.
type ActorMetrics struct {
	TasksCompleted     int     `json:"tasks_completed"`
	TasksFailed        int     `json:"tasks_failed"`
	CollaborationScore float64 `json:"collaboration_score,omitempty"`
	ResponseTimeScore  float64 `json:"response_time_score,omitempty"`
}

// FailureRate is failed/(completed+failed), zero without samples.
func (m ActorMetrics) FailureRate() float64 {
	total := m.TasksCompleted + m.TasksFailed
	if total == 0 {
		return 0
	}
	return float64(m.TasksFailed) / float64(total)
}

type ActorState struct {
	Role           Role         `json:"role"`
	Capabilities   []string     `json:"capabilities"`
	CurrentTasks   []Task       `json:"current_tasks"`
	CompletedTasks []Task       `json:"completed_tasks"`
	Workload       float64      `json:"workload"`
	LastActiveAt   time.Time    `json:"last_active" format:"date-time"`
	Metrics        ActorMetrics `json:"metrics"`
}

// Clone deep-copies task lists and capabilities.
func (a ActorState) Clone() ActorState {
	a.Capabilities = append([]string(nil), a.Capabilities...)
	cur := make([]Task, len(a.CurrentTasks))
	for i, t := range a.CurrentTasks {
		cur[i] = t.Clone()
	}
	a.CurrentTasks = cur
	done := make([]Task, len(a.CompletedTasks))
	for i, t := range a.CompletedTasks {
		done[i] = t.Clone()
	}
	a.CompletedTasks = done
	return a
}

// Alert is the structured payload handed to notification sinks.
type Alert struct {
	ID         string    `json:"id"`
	AlertType  string    `json:"alert_type"`
	Message    string    `json:"message"`
	Severity   Priority  `json:"severity"`
	Subject    string    `json:"subject,omitempty"`
	DetectedAt time.Time `json:"detected_at" format:"date-time"`
}

// NewAlert stamps an id.
func NewAlert(alertType, message string, severity Priority, subject string, at time.Time) Alert {
	return Alert{
		ID:         "alert_" + uuid.NewString(),
		AlertType:  alertType,
		Message:    message,
		Severity:   severity,
		Subject:    subject,
		DetectedAt: at.UTC(),
	}
}

// Content renders the alert as Alert message content.
func (a Alert) Content() map[string]any {
	return map[string]any{
		"alert_id":    a.ID,
		"alert_type":  a.AlertType,
		"message":     a.Message,
		"severity":    string(a.Severity),
		"subject":     a.Subject,
		"detected_at": a.DetectedAt.Format(time.RFC3339),
	}
}

// Event is one journal row.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	CompanyID  string `json:"company_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
