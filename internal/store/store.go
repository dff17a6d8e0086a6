// Package store owns the company state. Every mutation takes the single
// write lock for its full duration; snapshot readers share the read lock.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"orgline/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// CompanyState is a deep copy of the aggregate at one instant.
type CompanyState struct {
	Timestamp   time.Time           `json:"timestamp" format:"date-time"`
	CurrentTime time.Time           `json:"current_time" format:"date-time"`
	Actors      []domain.ActorState `json:"actors"`
	Tasks       []domain.Task       `json:"tasks"`
	Messages    []domain.Message    `json:"messages"`
	KPIs        map[string]float64  `json:"kpis"`
	Alerts      []domain.Alert      `json:"alerts"`
}

// Actor returns the state for role, if present.
func (c CompanyState) Actor(role domain.Role) (domain.ActorState, bool) {
	for _, a := range c.Actors {
		if a.Role == role {
			return a, true
		}
	}
	return domain.ActorState{}, false
}

// ActorUpdate is a partial update; nil fields are left alone.
type ActorUpdate struct {
	Capabilities []string
	Workload     *float64
	LastActiveAt *time.Time
	Metrics      *domain.ActorMetrics
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type Store struct {
	now    func() time.Time
	logger *slog.Logger

	mu          sync.RWMutex
	actors      map[domain.Role]*domain.ActorState
	tasks       map[string]*domain.Task
	taskOrder   []string
	messages    []domain.Message
	messageIDs  map[string]struct{}
	charged     map[string]float64
	kpis        map[string]float64
	alerts      []domain.Alert
	currentTime time.Time
}

func New(opts ...Option) *Store {
	s := &Store{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reset()
	s.currentTime = s.now().UTC()
	return s
}

func (s *Store) reset() {
	s.actors = map[domain.Role]*domain.ActorState{}
	s.tasks = map[string]*domain.Task{}
	s.taskOrder = nil
	s.messages = nil
	s.messageIDs = map[string]struct{}{}
	s.charged = map[string]float64{}
	s.kpis = map[string]float64{}
	s.alerts = nil
}

func (s *Store) RegisterActor(role domain.Role, capabilities []string) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownRole, role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actors[role]; ok {
		return fmt.Errorf("%w actor %s", ErrDuplicate, role)
	}
	s.actors[role] = &domain.ActorState{
		Role:           role,
		Capabilities:   append([]string(nil), capabilities...),
		CurrentTasks:   []domain.Task{},
		CompletedTasks: []domain.Task{},
		LastActiveAt:   s.now().UTC(),
	}
	return nil
}

// AddTask records a new task. Missing status defaults to pending and
// timestamps are stamped from the store clock.
func (s *Store) AddTask(t domain.Task) (domain.Task, error) {
	if t.ID == "" {
		return domain.Task{}, errors.New("task id required")
	}
	if t.Status == "" {
		t.Status = domain.TaskPending
	}
	if !t.Status.Valid() {
		return domain.Task{}, fmt.Errorf("invalid task status %q", t.Status)
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	if !t.Priority.Valid() {
		return domain.Task{}, fmt.Errorf("invalid task priority %q", t.Priority)
	}
	if t.AssignedTo != "" && !t.AssignedTo.Valid() {
		return domain.Task{}, fmt.Errorf("%w: %q", domain.ErrUnknownRole, t.AssignedTo)
	}
	if t.EstimatedWorkload < 0 || t.EstimatedWorkload > 1 {
		return domain.Task{}, fmt.Errorf("invalid estimated workload %v", t.EstimatedWorkload)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return domain.Task{}, fmt.Errorf("%w task %s", ErrDuplicate, t.ID)
	}
	now := s.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	stored := t.Clone()
	s.tasks[t.ID] = &stored
	s.taskOrder = append(s.taskOrder, t.ID)
	return stored.Clone(), nil
}

// AddMessage appends a validated message to the log. Message ids are unique.
func (s *Store) AddMessage(m domain.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messageIDs[m.ID]; ok {
		return fmt.Errorf("%w message %s", ErrDuplicate, m.ID)
	}
	m.Content = domain.CloneContent(m.Content)
	s.messages = append(s.messages, m)
	s.messageIDs[m.ID] = struct{}{}
	return nil
}

func (s *Store) UpdateActorState(role domain.Role, u ActorUpdate) (domain.ActorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[role]
	if !ok {
		return domain.ActorState{}, fmt.Errorf("%w actor %s", ErrNotFound, role)
	}
	if u.Capabilities != nil {
		a.Capabilities = append([]string(nil), u.Capabilities...)
	}
	if u.Workload != nil {
		a.Workload = clampWorkload(*u.Workload)
	}
	if u.LastActiveAt != nil {
		a.LastActiveAt = u.LastActiveAt.UTC()
	}
	if u.Metrics != nil {
		a.Metrics = *u.Metrics
	}
	return a.Clone(), nil
}

// Touch marks an actor active now.
func (s *Store) Touch(role domain.Role) error {
	now := s.now()
	_, err := s.UpdateActorState(role, ActorUpdate{LastActiveAt: &now})
	return err
}

// UpdateKPIs merges values into the KPI map.
func (s *Store) UpdateKPIs(values map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.kpis[k] = v
	}
}

func (s *Store) SetTaskStatus(id string, status domain.TaskStatus) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("%w task %s", ErrNotFound, id)
	}
	if err := domain.EnsureTransition(t.Status, status); err != nil {
		return domain.Task{}, err
	}
	t.Status = status
	t.UpdatedAt = s.now().UTC()
	return t.Clone(), nil
}

// AssignTask moves a pending task to in_progress for role, adds it to the
// actor's current tasks and charges its estimated workload, as one unit.
// Only the load that fits under 1.0 is charged, and FinishTask releases
// exactly that amount.
func (s *Store) AssignTask(id string, role domain.Role) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("%w task %s", ErrNotFound, id)
	}
	a, ok := s.actors[role]
	if !ok {
		return domain.Task{}, fmt.Errorf("%w actor %s", ErrNotFound, role)
	}
	if err := domain.EnsureTransition(t.Status, domain.TaskInProgress); err != nil {
		return domain.Task{}, err
	}
	now := s.now().UTC()
	t.Status = domain.TaskInProgress
	t.AssignedTo = role
	t.UpdatedAt = now
	a.CurrentTasks = append(a.CurrentTasks, t.Clone())
	before := a.Workload
	a.Workload = clampWorkload(before + t.EstimatedWorkload)
	s.charged[id] = a.Workload - before
	a.LastActiveAt = now
	return t.Clone(), nil
}

// FinishTask records the outcome of a task. For an assigned task the actor's
// current list, completed list, workload and metrics change in the same unit.
// A pending task that was never assigned may only fail.
func (s *Store) FinishTask(id string, success bool) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("%w task %s", ErrNotFound, id)
	}
	next := domain.TaskFailed
	if success {
		next = domain.TaskCompleted
	}
	if err := domain.EnsureTransition(t.Status, next); err != nil {
		return domain.Task{}, err
	}
	now := s.now().UTC()
	wasAssigned := t.Status == domain.TaskInProgress
	t.Status = next
	t.UpdatedAt = now
	if a, ok := s.actors[t.AssignedTo]; ok && wasAssigned {
		kept := a.CurrentTasks[:0]
		for _, cur := range a.CurrentTasks {
			if cur.ID != id {
				kept = append(kept, cur)
			}
		}
		a.CurrentTasks = kept
		a.Workload = clampWorkload(a.Workload - s.release(id, t.EstimatedWorkload))
		a.LastActiveAt = now
		if success {
			a.CompletedTasks = append(a.CompletedTasks, t.Clone())
			a.Metrics.TasksCompleted++
		} else {
			a.Metrics.TasksFailed++
		}
	}
	return t.Clone(), nil
}

// release returns the load charged for task id, falling back to its
// estimate for tasks assigned before a restore. Callers hold the write lock.
func (s *Store) release(id string, estimate float64) float64 {
	amount, ok := s.charged[id]
	if !ok {
		return estimate
	}
	delete(s.charged, id)
	return amount
}

func (s *Store) RecordAlert(a domain.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

// AdvanceTime sets the logical clock of the simulation.
func (s *Store) AdvanceTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTime = t.UTC()
}

func (s *Store) Task(id string) (domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("%w task %s", ErrNotFound, id)
	}
	return t.Clone(), nil
}

// Tasks lists tasks in creation order, optionally filtered by status.
func (s *Store) Tasks(status domain.TaskStatus) []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Task
	for _, id := range s.taskOrder {
		t := s.tasks[id]
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t.Clone())
	}
	return out
}

// TaskCounts counts tasks per status.
func (s *Store) TaskCounts() map[domain.TaskStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[domain.TaskStatus]int{
		domain.TaskPending: 0, domain.TaskInProgress: 0, domain.TaskCompleted: 0, domain.TaskFailed: 0,
	}
	for _, t := range s.tasks {
		out[t.Status]++
	}
	return out
}

func (s *Store) Actor(role domain.Role) (domain.ActorState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors[role]
	if !ok {
		return domain.ActorState{}, fmt.Errorf("%w actor %s", ErrNotFound, role)
	}
	return a.Clone(), nil
}

// Actors returns the registry in canonical role order.
func (s *Store) Actors() []domain.ActorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actorsLocked()
}

func (s *Store) actorsLocked() []domain.ActorState {
	out := make([]domain.ActorState, 0, len(s.actors))
	for _, r := range domain.Roles() {
		if a, ok := s.actors[r]; ok {
			out = append(out, a.Clone())
		}
	}
	return out
}

func (s *Store) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *Store) Snapshot() CompanyState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() CompanyState {
	cs := CompanyState{
		Timestamp:   s.now().UTC(),
		CurrentTime: s.currentTime,
		Actors:      s.actorsLocked(),
		Tasks:       make([]domain.Task, 0, len(s.taskOrder)),
		Messages:    make([]domain.Message, len(s.messages)),
		KPIs:        make(map[string]float64, len(s.kpis)),
		Alerts:      append([]domain.Alert(nil), s.alerts...),
	}
	for _, id := range s.taskOrder {
		cs.Tasks = append(cs.Tasks, s.tasks[id].Clone())
	}
	for i, m := range s.messages {
		m.Content = domain.CloneContent(m.Content)
		cs.Messages[i] = m
	}
	for k, v := range s.kpis {
		cs.KPIs[k] = v
	}
	return cs
}

// load replaces the whole aggregate. Callers hold the write lock.
func (s *Store) load(cs CompanyState) {
	s.reset()
	for _, a := range cs.Actors {
		a := a.Clone()
		a.Workload = clampWorkload(a.Workload)
		s.actors[a.Role] = &a
	}
	tasks := append([]domain.Task(nil), cs.Tasks...)
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	for _, t := range tasks {
		t := t.Clone()
		s.tasks[t.ID] = &t
		s.taskOrder = append(s.taskOrder, t.ID)
	}
	for _, m := range cs.Messages {
		s.messageIDs[m.ID] = struct{}{}
		s.messages = append(s.messages, m)
	}
	for k, v := range cs.KPIs {
		s.kpis[k] = v
	}
	s.alerts = append(s.alerts, cs.Alerts...)
	if !cs.CurrentTime.IsZero() {
		s.currentTime = cs.CurrentTime
	}
}

func clampWorkload(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
