package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"orgline/internal/actor"
	"orgline/internal/alerts"
	"orgline/internal/delegate"
	"orgline/internal/domain"
	"orgline/internal/events"
	"orgline/internal/isolation"
	"orgline/internal/reasoning"
	"orgline/internal/repo"
	"orgline/internal/router"
	"orgline/internal/scheduler"
	"orgline/internal/store"
)

const tracerName = "orgline/orchestrator"

type Edge struct {
	From domain.Role `json:"from"`
	To   domain.Role `json:"to"`
}

func DefaultCollaboration() []Edge {
	return []Edge{
		{domain.RoleCEO, domain.RoleCTO},
		{domain.RoleCEO, domain.RoleCPO},
		{domain.RoleCEO, domain.RoleCMO},
		{domain.RoleCEO, domain.RoleCFO},
		{domain.RoleCPO, domain.RoleCustomerSupport},
		{domain.RoleCTO, domain.RoleRD},
		{domain.RoleOperations, domain.RoleCEO},
	}
}

type Options struct {
	CompanyID string
	Store     *store.Store
	Reasoner  reasoning.Reasoner
	// Capabilities lists the roles to register. A nil map registers every
	// role without capabilities.
	Capabilities             map[domain.Role][]string
	Tiers                    scheduler.Tiers
	Breaker                  isolation.BreakerConfig
	Delegator                *delegate.Delegator
	Detector                 *isolation.Detector
	AnomalyCooldown          time.Duration
	Fallback                 actor.FallbackPolicy
	DefaultEstimatedWorkload float64
	Collaboration            []Edge
	Sinks                    []alerts.Sink
	// DB enables the event journal. Nil disables it.
	DB     *sql.DB
	Now    func() time.Time
	Logger *slog.Logger
}

type Orchestrator struct {
	companyID       string
	store           *store.Store
	actors          map[domain.Role]*actor.Actor
	tiers           scheduler.Tiers
	queue           *scheduler.Queue
	limiter         *scheduler.Limiter
	breakers        *isolation.Breakers
	delegator       *delegate.Delegator
	detector        isolation.Detector
	anomalies       *isolation.Registry
	fanout          alerts.Fanout
	defaultWorkload float64
	edges           []Edge

	db     *sql.DB
	repo   repo.Repo
	events events.Writer
	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer

	tickMu sync.Mutex
	ticks  atomic.Int64
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.CompanyID == "" {
		opts.CompanyID = "default"
	}
	if opts.Tiers == nil {
		opts.Tiers = scheduler.DefaultTiers()
	}
	if err := opts.Tiers.Validate(); err != nil {
		return nil, fmt.Errorf("tiers: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Delegator == nil {
		opts.Delegator = delegate.New()
		opts.Delegator.History = delegate.MetricsHistory
	}
	detector := isolation.DefaultDetector()
	if opts.Detector != nil {
		detector = *opts.Detector
	}
	if opts.AnomalyCooldown <= 0 {
		opts.AnomalyCooldown = 5 * time.Minute
	}
	if opts.DefaultEstimatedWorkload <= 0 {
		opts.DefaultEstimatedWorkload = 0.1
	}
	if opts.Collaboration == nil {
		opts.Collaboration = DefaultCollaboration()
	}
	for _, e := range opts.Collaboration {
		if !e.From.Valid() || !e.To.Valid() {
			return nil, fmt.Errorf("%w in collaboration edge %s -> %s", domain.ErrUnknownRole, e.From, e.To)
		}
	}

	o := &Orchestrator{
		companyID:       opts.CompanyID,
		store:           opts.Store,
		actors:          map[domain.Role]*actor.Actor{},
		tiers:           opts.Tiers,
		queue:           scheduler.NewQueue(opts.Tiers, opts.Now),
		limiter:         scheduler.NewLimiter(opts.Tiers),
		delegator:       opts.Delegator,
		detector:        detector,
		anomalies:       isolation.NewRegistry(opts.AnomalyCooldown),
		defaultWorkload: opts.DefaultEstimatedWorkload,
		edges:           append([]Edge(nil), opts.Collaboration...),
		db:              opts.DB,
		now:             opts.Now,
		logger:          opts.Logger,
		tracer:          otel.Tracer(tracerName),
	}
	if opts.DB != nil {
		o.repo = repo.Repo{DB: opts.DB}
		o.events = events.Writer{DB: opts.DB, Now: opts.Now}
	}
	o.breakers = isolation.NewBreakers(opts.Breaker, opts.Now, o.onBreakerTransition)
	o.fanout = alerts.Fanout{Sinks: opts.Sinks, Breakers: o.breakers, Logger: opts.Logger}

	caps := opts.Capabilities
	if caps == nil {
		caps = map[domain.Role][]string{}
		for _, r := range domain.Roles() {
			caps[r] = nil
		}
	}
	for role := range caps {
		if !role.Valid() {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownRole, role)
		}
	}
	for _, role := range domain.Roles() {
		c, ok := caps[role]
		if !ok {
			continue
		}
		if err := o.store.RegisterActor(role, c); err != nil && !errors.Is(err, store.ErrDuplicate) {
			return nil, err
		}
		guarded := guardedReasoner{inner: opts.Reasoner, breakers: o.breakers}
		o.actors[role] = actor.New(role, c, guarded, opts.Fallback)
	}
	return o, nil
}

func (o *Orchestrator) Store() *store.Store { return o.store }

func (o *Orchestrator) CompanyID() string { return o.companyID }

func (o *Orchestrator) Actor(role domain.Role) (*actor.Actor, bool) {
	a, ok := o.actors[role]
	return a, ok
}

// CollaborationGraph lists who may address whom in the seeded simulation.
func (o *Orchestrator) CollaborationGraph() map[domain.Role][]domain.Role {
	out := map[domain.Role][]domain.Role{}
	for _, e := range o.edges {
		out[e.From] = append(out[e.From], e.To)
	}
	return out
}

func (o *Orchestrator) Breakers() []isolation.BreakerSnapshot { return o.breakers.Snapshot() }

func (o *Orchestrator) Anomalies() []isolation.Anomaly { return o.anomalies.List() }

// Queued lists messages waiting for delivery in one tier, in pop order.
func (o *Orchestrator) Queued(p domain.Priority) []domain.Message {
	items := o.queue.ItemsOfPriority(p)
	out := make([]domain.Message, 0, len(items))
	for _, it := range items {
		if m, ok := it.Payload.(domain.Message); ok {
			out = append(out, m)
		}
	}
	return out
}

type Status struct {
	CompanyID       string                    `json:"company_id"`
	Ticks           int                       `json:"ticks"`
	Actors          int                       `json:"actors"`
	ActiveActors    int                       `json:"active_actors"`
	Tasks           map[domain.TaskStatus]int `json:"tasks"`
	QueueDepth      int                       `json:"queue_depth"`
	QueueByPriority map[domain.Priority]int   `json:"queue_by_priority"`
	InFlight        map[domain.Priority]int   `json:"in_flight"`
	OpenBreakers    int                       `json:"open_breakers"`
	Anomalies       int                       `json:"anomalies"`
	Messages        int                       `json:"messages"`
}

func (o *Orchestrator) Status() Status {
	actors := o.store.Actors()
	active := 0
	for _, a := range actors {
		if a.Workload > 0 {
			active++
		}
	}
	return Status{
		CompanyID:       o.companyID,
		Ticks:           int(o.ticks.Load()),
		Actors:          len(actors),
		ActiveActors:    active,
		Tasks:           o.store.TaskCounts(),
		QueueDepth:      o.queue.Len(),
		QueueByPriority: o.queue.Depths(),
		InFlight:        o.limiter.Snapshot(),
		OpenBreakers:    o.breakers.OpenCount(),
		Anomalies:       o.anomalies.Len(),
		Messages:        o.store.MessageCount(),
	}
}

type Routed struct {
	Message       domain.Message `json:"message"`
	RoutedTo      domain.Role    `json:"routed_to"`
	NeedsApproval bool           `json:"needs_approval"`
	ApprovalPath  []domain.Role  `json:"approval_path,omitempty"`
}

func (o *Orchestrator) Route(msg domain.Message) (Routed, error) {
	if err := msg.Validate(); err != nil {
		return Routed{}, err
	}
	routed := router.Route(msg)
	r := Routed{Message: msg, RoutedTo: routed, NeedsApproval: router.NeedsApproval(msg)}
	if r.NeedsApproval {
		r.ApprovalPath = router.ApprovalPath(msg.Type)
	}
	if msg.Recipient == "" {
		r.Message = msg.WithRecipient(routed)
	}
	return r, nil
}

// Send queues msg for the next tick. Invalid messages are dropped.
func (o *Orchestrator) Send(ctx context.Context, msg domain.Message) (Routed, error) {
	r, err := o.Route(msg)
	if err != nil {
		o.logger.Warn("message dropped", "message_id", msg.ID, "message_type", msg.Type, "err", err)
		o.journal(ctx, events.MessageDropped, "message", msg.ID, string(msg.Sender), events.EventPayload{"error": err.Error()})
		return Routed{}, err
	}
	msg = r.Message
	if msg.Recipient != r.RoutedTo {
		o.logger.Debug("explicit recipient overrides route", "message_id", msg.ID, "recipient", msg.Recipient, "routed_to", r.RoutedTo)
	}
	if err := o.store.AddMessage(msg); err != nil {
		return Routed{}, err
	}
	if err := o.queue.Push(scheduler.Item{ID: msg.ID, Priority: msg.Priority, Payload: msg, EnqueuedAt: msg.CreatedAt}); err != nil {
		return Routed{}, err
	}
	o.logger.Debug("message queued", "message_id", msg.ID, "message_type", msg.Type, "role", msg.Recipient, "priority", msg.Priority)
	return r, nil
}

// journal appends an event when the journal is enabled. Failures are logged
// and never fail the caller.
func (o *Orchestrator) journal(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) {
	if o.db == nil {
		return
	}
	if err := o.events.Record(context.WithoutCancel(ctx), evtType, o.companyID, entityKind, entityID, actorID, payload); err != nil {
		o.logger.Error("journal append failed", "type", evtType, "entity_id", entityID, "err", err)
	}
}

func (o *Orchestrator) onBreakerTransition(resource string, from, to isolation.State) {
	o.logger.Info("breaker transition", "resource", resource, "from", from, "state", to)
	o.journal(context.Background(), events.BreakerTransition, "breaker", resource, "system", events.EventPayload{
		"from": string(from),
		"to":   string(to),
	})
}

func (o *Orchestrator) tierTimeout(p domain.Priority) time.Duration {
	tier, err := o.tiers.Lookup(p)
	if err != nil {
		return o.tiers[domain.PriorityMedium].Timeout
	}
	return tier.Timeout
}
