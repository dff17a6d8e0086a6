package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"orgline/internal/actor"
	"orgline/internal/domain"
	"orgline/internal/events"
	"orgline/internal/router"
	"orgline/internal/scheduler"
	"orgline/internal/store"
)

type TickReport struct {
	Tick      int `json:"tick"`
	Delivered int `json:"delivered"`
	Deferred  int `json:"deferred"`
	Dropped   int `json:"dropped"`
	Degraded  int `json:"degraded"`
	TasksRun  int `json:"tasks_run"`
	Released  int `json:"released"`
	Responses int `json:"responses"`
	Alerts    int `json:"alerts"`
	Anomalies int `json:"anomalies"`
	Remaining int `json:"remaining"`
}

type dispatchResult struct {
	msg       domain.Message
	outcome   actor.Outcome
	task      *TaskResult
	responses []domain.Message
	dropped   bool
	err       error
}

// Tick delivers every queued message whose tier has a free slot; the rest
// keep their arrival time. Replies are queued after all deliveries return.
func (o *Orchestrator) Tick(ctx context.Context) (TickReport, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Tick")
	defer span.End()
	o.tickMu.Lock()
	defer o.tickMu.Unlock()

	report := TickReport{Tick: int(o.ticks.Add(1))}
	span.SetAttributes(attribute.Int("orgline.tick", report.Tick))

	batch, deferred := o.admit()
	for _, it := range deferred {
		if err := o.queue.Push(it); err != nil {
			o.logger.Error("requeue failed", "message_id", it.ID, "err", err)
		}
	}
	report.Deferred = len(deferred)

	results := make([]dispatchResult, len(batch))
	var g errgroup.Group
	for i, it := range batch {
		g.Go(func() error {
			defer o.limiter.Release(it.Priority)
			results[i] = o.dispatch(ctx, it.Payload.(domain.Message))
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.err != nil {
			if r.dropped {
				report.Dropped++
				o.logger.Warn("message dropped", "message_id", r.msg.ID, "role", r.msg.Recipient, "err", r.err)
				o.journal(ctx, events.MessageDropped, "message", r.msg.ID, string(r.msg.Sender), events.EventPayload{"error": r.err.Error()})
				continue
			}
			errs = append(errs, fmt.Errorf("deliver %s: %w", r.msg.ID, r.err))
			continue
		}
		report.Delivered++
		if r.outcome.Degraded {
			report.Degraded++
		}
		if r.task != nil {
			report.TasksRun++
		}
		o.journal(ctx, events.MessageDelivered, "message", r.msg.ID, string(r.msg.Recipient), events.EventPayload{
			"message_type": string(r.msg.Type),
			"sender":       string(r.msg.Sender),
			"degraded":     r.outcome.Degraded,
		})
		if r.msg.Type == domain.MessageStatusReport && router.ShouldAlert(r.msg) {
			o.raiseAlert(ctx, escalation(r.msg, o.now()), r.msg.Recipient)
			report.Alerts++
		}
		report.Responses += o.sendAll(ctx, r.responses)
	}

	released, out := o.releasePending(ctx)
	report.Released = released
	report.Responses += o.sendAll(ctx, out)

	fresh := o.detectAnomalies(ctx)
	report.Anomalies = len(fresh)
	report.Alerts += len(fresh)

	o.store.AdvanceTime(o.now())
	report.Remaining = o.queue.Len()

	o.logger.Debug("tick",
		"tick", report.Tick,
		"delivered", report.Delivered,
		"deferred", report.Deferred,
		"degraded", report.Degraded,
		"alerts", report.Alerts,
		"remaining", report.Remaining,
	)
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	return report, ctx.Err()
}

func (o *Orchestrator) admit() (batch, deferred []scheduler.Item) {
	for n := o.queue.Len(); n > 0; n-- {
		it, ok := o.queue.Pop()
		if !ok {
			break
		}
		if o.limiter.TryAcquire(it.Priority) {
			batch = append(batch, it)
			continue
		}
		deferred = append(deferred, it)
	}
	return batch, deferred
}

func (o *Orchestrator) dispatch(ctx context.Context, msg domain.Message) dispatchResult {
	ctx, span := o.tracer.Start(ctx, "orchestrator.dispatch", trace.WithAttributes(
		attribute.String("orgline.message_id", msg.ID),
		attribute.String("orgline.message_type", string(msg.Type)),
		attribute.String("orgline.role", string(msg.Recipient)),
	))
	defer span.End()

	a, ok := o.actors[msg.Recipient]
	if !ok {
		return dispatchResult{msg: msg, dropped: true, err: fmt.Errorf("%w actor %s", store.ErrNotFound, msg.Recipient)}
	}
	if err := o.store.Touch(msg.Recipient); err != nil {
		return dispatchResult{msg: msg, dropped: true, err: err}
	}
	if msg.Type == domain.MessageTaskAssignment {
		res, out, err := o.runAssignment(ctx, msg)
		if err != nil {
			span.RecordError(err)
		}
		return dispatchResult{msg: msg, task: &res, responses: out, outcome: actor.Outcome{Degraded: res.Degraded}, err: err}
	}

	tctx, cancel := context.WithTimeout(ctx, o.tierTimeout(msg.Priority))
	defer cancel()
	outcome, err := a.Handle(tctx, msg)
	if err != nil {
		span.RecordError(err)
		return dispatchResult{msg: msg, err: err}
	}
	if outcome.Degraded {
		o.logger.Warn("degraded response", "role", msg.Recipient, "message_id", msg.ID, "err", outcome.Cause)
	}
	return dispatchResult{msg: msg, outcome: outcome, responses: outcome.Responses}
}

// runAssignment turns a delivered TaskAssignment into a task executed by the
// recipient. A task id that is already known is not created twice, and an
// assignment that loses a race for the same id to a concurrent delivery
// reports the task as it stands.
func (o *Orchestrator) runAssignment(ctx context.Context, msg domain.Message) (TaskResult, []domain.Message, error) {
	res, out, err := o.assign(ctx, msg)
	if err == nil || res.Task.ID == "" {
		return res, out, err
	}
	if !errors.Is(err, domain.ErrInvalidTransition) && !errors.Is(err, store.ErrDuplicate) {
		return res, out, err
	}
	current, gerr := o.store.Task(res.Task.ID)
	if gerr != nil {
		return res, out, err
	}
	o.logger.Debug("task already handled", "task_id", current.ID, "message_id", msg.ID, "status", current.Status)
	return settled(current), nil, nil
}

func settled(t domain.Task) TaskResult {
	return TaskResult{
		Task:    t,
		Success: t.Status == domain.TaskCompleted,
		Pending: t.Status == domain.TaskPending || t.Status == domain.TaskInProgress,
	}
}

func (o *Orchestrator) assign(ctx context.Context, msg domain.Message) (TaskResult, []domain.Message, error) {
	t := actor.TaskFromContent(msg)
	if t.ID != "" {
		if existing, err := o.store.Task(t.ID); err == nil {
			if existing.Status != domain.TaskPending {
				return settled(existing), nil, nil
			}
			return o.runTask(ctx, existing)
		}
	}
	if t.Title == "" {
		t.Title = fmt.Sprintf("assignment from %s", msg.Sender)
	}
	task, err := o.createTask(ctx, TaskSpec{
		ID:                   t.ID,
		Title:                t.Title,
		Description:          t.Description,
		AssignedTo:           msg.Recipient,
		AssignedBy:           msg.Sender,
		Priority:             t.Priority,
		Dependencies:         t.Dependencies,
		RequiredCapabilities: t.RequiredCapabilities,
		EstimatedWorkload:    t.EstimatedWorkload,
	})
	if err != nil {
		return TaskResult{Task: domain.Task{ID: t.ID}}, nil, err
	}
	return o.runTask(ctx, task)
}

func (o *Orchestrator) sendAll(ctx context.Context, msgs []domain.Message) int {
	sent := 0
	for _, m := range msgs {
		if _, err := o.Send(ctx, m); err != nil {
			continue
		}
		sent++
	}
	return sent
}

type SimulationReport struct {
	Seeded int          `json:"seeded"`
	Ticks  []TickReport `json:"ticks"`
	Status Status       `json:"status"`
}

// RunSimulation seeds one message per collaboration edge and ticks steps
// times. Edges leaving the top role carry a task assignment; every other
// edge opens a collaboration.
func (o *Orchestrator) RunSimulation(ctx context.Context, steps int) (SimulationReport, error) {
	if steps <= 0 {
		return SimulationReport{}, fmt.Errorf("steps must be positive, got %d", steps)
	}
	var rep SimulationReport
	for _, e := range o.edges {
		if _, err := o.Send(ctx, seedMessage(e)); err != nil {
			return rep, fmt.Errorf("seed %s -> %s: %w", e.From, e.To, err)
		}
		rep.Seeded++
	}
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			rep.Status = o.Status()
			return rep, err
		}
		tr, err := o.Tick(ctx)
		rep.Ticks = append(rep.Ticks, tr)
		if err != nil {
			rep.Status = o.Status()
			return rep, err
		}
	}
	rep.Status = o.Status()
	return rep, nil
}

func seedMessage(e Edge) domain.Message {
	if e.From == domain.TopRole() {
		return domain.NewMessage(e.From, e.To, domain.MessageTaskAssignment, map[string]any{
			"task": map[string]any{
				"title":       fmt.Sprintf("%s objectives for the quarter", e.To),
				"assigned_to": string(e.To),
			},
		}, domain.PriorityMedium)
	}
	return domain.NewMessage(e.From, e.To, domain.MessageCollaboration, map[string]any{
		"topic":         fmt.Sprintf("%s sync with %s", e.From, e.To),
		"requires_role": string(e.To),
	}, domain.PriorityLow)
}
