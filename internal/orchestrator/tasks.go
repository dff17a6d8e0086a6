package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"orgline/internal/delegate"
	"orgline/internal/domain"
	"orgline/internal/events"
	"orgline/internal/store"
)

// TaskSpec describes a task to execute. AssignedTo skips delegation.
type TaskSpec struct {
	ID                   string          `json:"task_id,omitempty"`
	Title                string          `json:"title"`
	Description          string          `json:"description,omitempty"`
	AssignedTo           domain.Role     `json:"assigned_to,omitempty"`
	AssignedBy           domain.Role     `json:"assigned_by,omitempty"`
	Priority             domain.Priority `json:"priority,omitempty"`
	Dependencies         []string        `json:"dependencies,omitempty"`
	RequiredCapabilities []string        `json:"required_capabilities,omitempty"`
	EstimatedWorkload    float64         `json:"estimated_workload,omitempty"`
	Deadline             *time.Time      `json:"deadline,omitempty"`
}

// TaskResult is the outcome of ExecuteTask. A task that could not run is a
// structured failure carried in Error, not a Go error.
type TaskResult struct {
	Task     domain.Task `json:"task"`
	Success  bool        `json:"success"`
	Pending  bool        `json:"pending,omitempty"`
	Degraded bool        `json:"degraded,omitempty"`
	Summary  string      `json:"summary,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// ExecuteTask records a task, delegates it unless it names an assignee, and
// runs it. A task whose dependencies are not all completed stays pending and
// is released by a later tick.
func (o *Orchestrator) ExecuteTask(ctx context.Context, spec TaskSpec) (TaskResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.ExecuteTask")
	defer span.End()
	o.tickMu.Lock()
	defer o.tickMu.Unlock()

	task, err := o.createTask(ctx, spec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return TaskResult{}, err
	}
	span.SetAttributes(attribute.String("task.id", task.ID), attribute.String("task.priority", string(task.Priority)))

	res, responses, err := o.runTask(ctx, task)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	for _, m := range responses {
		if _, err := o.Send(ctx, m); err != nil {
			o.logger.Warn("task response dropped", "task_id", task.ID, "message_id", m.ID, "err", err)
		}
	}
	return res, nil
}

func (o *Orchestrator) createTask(ctx context.Context, spec TaskSpec) (domain.Task, error) {
	if strings.TrimSpace(spec.Title) == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if spec.AssignedTo != "" && !spec.AssignedTo.Valid() {
		return domain.Task{}, fmt.Errorf("%w: %q", domain.ErrUnknownRole, spec.AssignedTo)
	}
	if spec.AssignedBy == "" {
		spec.AssignedBy = domain.TopRole()
	}
	if !spec.AssignedBy.Valid() {
		return domain.Task{}, fmt.Errorf("%w: %q", domain.ErrUnknownRole, spec.AssignedBy)
	}
	if spec.ID == "" {
		spec.ID = "task_" + uuid.NewString()
	}
	if spec.EstimatedWorkload <= 0 {
		spec.EstimatedWorkload = o.defaultWorkload
	}
	task, err := o.store.AddTask(domain.Task{
		ID:                   spec.ID,
		Title:                spec.Title,
		Description:          spec.Description,
		AssignedTo:           spec.AssignedTo,
		AssignedBy:           spec.AssignedBy,
		Priority:             spec.Priority,
		Dependencies:         spec.Dependencies,
		RequiredCapabilities: spec.RequiredCapabilities,
		EstimatedWorkload:    spec.EstimatedWorkload,
		Deadline:             spec.Deadline,
	})
	if err != nil {
		return domain.Task{}, err
	}
	o.journal(ctx, events.TaskCreated, "task", task.ID, string(task.AssignedBy), events.EventPayload{
		"title":    task.Title,
		"priority": string(task.Priority),
	})
	return task, nil
}

type depState int

const (
	depsReady depState = iota
	depsWaiting
	depsFailed
)

func (o *Orchestrator) dependencies(task domain.Task) (depState, string) {
	for _, id := range task.Dependencies {
		dep, err := o.store.Task(id)
		if err != nil {
			return depsWaiting, id
		}
		switch dep.Status {
		case domain.TaskCompleted:
		case domain.TaskFailed:
			return depsFailed, id
		default:
			return depsWaiting, id
		}
	}
	return depsReady, ""
}

func (o *Orchestrator) runTask(ctx context.Context, task domain.Task) (TaskResult, []domain.Message, error) {
	switch state, dep := o.dependencies(task); state {
	case depsWaiting:
		o.logger.Debug("task waiting on dependency", "task_id", task.ID, "dependency", dep)
		return TaskResult{Task: task, Pending: true}, nil, nil
	case depsFailed:
		return o.failTask(ctx, task, fmt.Errorf("dependency %s failed", dep))
	}

	role := task.AssignedTo
	if role == "" {
		picked, err := o.delegator.Delegate(task, o.store.Actors())
		if err != nil {
			if errors.Is(err, delegate.ErrNoActorsAvailable) {
				return o.failTask(ctx, task, err)
			}
			return TaskResult{Task: task}, nil, err
		}
		role = picked
	}
	return o.executeOn(ctx, task, role)
}

func (o *Orchestrator) failTask(ctx context.Context, task domain.Task, cause error) (TaskResult, []domain.Message, error) {
	failed, err := o.store.FinishTask(task.ID, false)
	if err != nil {
		return TaskResult{Task: task}, nil, err
	}
	o.logger.Warn("task failed", "task_id", task.ID, "err", cause)
	o.journal(ctx, events.TaskFailed, "task", task.ID, "system", events.EventPayload{"error": cause.Error()})
	return TaskResult{Task: failed, Error: cause.Error()}, nil, nil
}

// Assignment and completion are each one store operation.
func (o *Orchestrator) executeOn(ctx context.Context, task domain.Task, role domain.Role) (TaskResult, []domain.Message, error) {
	a, ok := o.actors[role]
	if !ok {
		return TaskResult{Task: task}, nil, fmt.Errorf("%w actor %s", store.ErrNotFound, role)
	}
	assigned, err := o.store.AssignTask(task.ID, role)
	if err != nil {
		return TaskResult{Task: task}, nil, err
	}
	o.journal(ctx, events.TaskAssigned, "task", task.ID, string(role), events.EventPayload{"assigned_by": string(task.AssignedBy)})

	tctx, cancel := context.WithTimeout(ctx, o.tierTimeout(assigned.Priority))
	outcome, err := a.Execute(tctx, assigned)
	cancel()
	if err != nil {
		return TaskResult{Task: assigned}, nil, err
	}

	finished, err := o.store.FinishTask(task.ID, outcome.Success)
	if err != nil {
		return TaskResult{Task: assigned}, nil, err
	}
	res := TaskResult{Task: finished, Success: outcome.Success, Degraded: outcome.Degraded, Summary: outcome.Decision.Summary}
	evt := events.TaskCompleted
	if !outcome.Success {
		evt = events.TaskFailed
		if outcome.Cause != nil {
			res.Error = outcome.Cause.Error()
		}
		o.logger.Warn("task failed", "task_id", task.ID, "role", role, "err", outcome.Cause)
	} else {
		o.logger.Info("task completed", "task_id", task.ID, "role", role)
	}
	o.journal(ctx, evt, "task", task.ID, string(role), events.EventPayload{"degraded": outcome.Degraded})
	return res, outcome.Responses, nil
}

func (o *Orchestrator) releasePending(ctx context.Context) (int, []domain.Message) {
	released := 0
	var responses []domain.Message
	for _, task := range o.store.Tasks(domain.TaskPending) {
		if state, _ := o.dependencies(task); state == depsWaiting {
			continue
		}
		res, out, err := o.runTask(ctx, task)
		if err != nil {
			o.logger.Error("release pending task", "task_id", task.ID, "err", err)
			continue
		}
		if !res.Pending {
			released++
		}
		responses = append(responses, out...)
	}
	return released, responses
}
