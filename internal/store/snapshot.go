package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"

	"orgline/internal/domain"
)

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrSnapshotCorrupt  = errors.New("snapshot corrupt")
	ErrSnapshotVersion  = errors.New("snapshot version unsupported")
)

// SnapshotVersion is written into every document.
const SnapshotVersion = "1.0.0"

var compatibleVersions = mustConstraint(">= 1.0.0, < 2.0.0")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Backend stores one encoded snapshot document. Load returns
// ErrSnapshotNotFound when nothing has been saved.
type Backend interface {
	Save(ctx context.Context, data []byte) error
	Load(ctx context.Context) ([]byte, error)
}

type document struct {
	Version     string                     `json:"version"`
	Timestamp   time.Time                  `json:"timestamp"`
	CurrentTime time.Time                  `json:"current_time"`
	Agents      map[string]json.RawMessage `json:"agents"`
	Tasks       map[string]json.RawMessage `json:"tasks"`
	Messages    []json.RawMessage          `json:"messages"`
	KPIs        map[string]json.RawMessage `json:"kpis"`
	Alerts      []json.RawMessage          `json:"alerts,omitempty"`
}

// RestoreReport counts what a restore kept and skipped.
type RestoreReport struct {
	Version  string `json:"version"`
	Actors   int    `json:"actors"`
	Tasks    int    `json:"tasks"`
	Messages int    `json:"messages"`
	Alerts   int    `json:"alerts"`
	Skipped  int    `json:"skipped"`
}

// Encode serializes the state as a snapshot document.
func Encode(cs CompanyState) ([]byte, error) {
	doc := document{
		Version:     SnapshotVersion,
		Timestamp:   cs.Timestamp,
		CurrentTime: cs.CurrentTime,
		Agents:      map[string]json.RawMessage{},
		Tasks:       map[string]json.RawMessage{},
		Messages:    []json.RawMessage{},
		KPIs:        map[string]json.RawMessage{},
	}
	for k, v := range cs.KPIs {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("kpi %s: %w", k, err)
		}
		doc.KPIs[k] = raw
	}
	for _, a := range cs.Actors {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		doc.Agents[string(a.Role)] = raw
	}
	for _, t := range cs.Tasks {
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		doc.Tasks[t.ID] = raw
	}
	for _, m := range cs.Messages {
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		doc.Messages = append(doc.Messages, raw)
	}
	for _, a := range cs.Alerts {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		doc.Alerts = append(doc.Alerts, raw)
	}
	return json.MarshalIndent(doc, "", "  ")
}

// skipFunc is told about every record dropped during decoding.
type skipFunc func(kind, key string, err error)

// Decode parses a snapshot document. Records with unknown role, type or
// status tags, or that fail to parse, are skipped and reported to skip.
func Decode(data []byte, skip skipFunc) (CompanyState, RestoreReport, error) {
	if skip == nil {
		skip = func(string, string, error) {}
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return CompanyState{}, RestoreReport{}, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	version := doc.Version
	if version == "" {
		version = SnapshotVersion
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return CompanyState{}, RestoreReport{}, fmt.Errorf("%w: %q", ErrSnapshotVersion, version)
	}
	if !compatibleVersions.Check(v) {
		return CompanyState{}, RestoreReport{}, fmt.Errorf("%w: %s", ErrSnapshotVersion, v)
	}

	rep := RestoreReport{Version: v.String()}
	cs := CompanyState{
		Timestamp:   doc.Timestamp,
		CurrentTime: doc.CurrentTime,
		KPIs:        map[string]float64{},
	}
	for k, raw := range doc.KPIs {
		var val float64
		if err := json.Unmarshal(raw, &val); err != nil {
			rep.Skipped++
			skip("kpi", k, err)
			continue
		}
		cs.KPIs[k] = val
	}

	for _, role := range domain.Roles() {
		raw, ok := doc.Agents[string(role)]
		if !ok {
			continue
		}
		var a domain.ActorState
		if err := json.Unmarshal(raw, &a); err != nil {
			rep.Skipped++
			skip("actor", string(role), err)
			continue
		}
		a.Role = role
		a.Workload = clampWorkload(a.Workload)
		a.CurrentTasks = validTasks(a.CurrentTasks)
		a.CompletedTasks = validTasks(a.CompletedTasks)
		cs.Actors = append(cs.Actors, a)
	}
	for key := range doc.Agents {
		if !domain.Role(key).Valid() {
			rep.Skipped++
			skip("actor", key, domain.ErrUnknownRole)
		}
	}

	for id, raw := range doc.Tasks {
		var t domain.Task
		if err := json.Unmarshal(raw, &t); err != nil {
			rep.Skipped++
			skip("task", id, err)
			continue
		}
		if t.ID == "" {
			t.ID = id
		}
		if err := checkTask(t); err != nil {
			rep.Skipped++
			skip("task", id, err)
			continue
		}
		cs.Tasks = append(cs.Tasks, t)
	}

	seen := map[string]bool{}
	for i, raw := range doc.Messages {
		var m domain.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			rep.Skipped++
			skip("message", fmt.Sprint(i), err)
			continue
		}
		if m.Content == nil {
			m.Content = map[string]any{}
		}
		if err := m.Validate(); err != nil {
			rep.Skipped++
			skip("message", m.ID, err)
			continue
		}
		if seen[m.ID] {
			rep.Skipped++
			skip("message", m.ID, ErrDuplicate)
			continue
		}
		seen[m.ID] = true
		cs.Messages = append(cs.Messages, m)
	}

	for i, raw := range doc.Alerts {
		var a domain.Alert
		if err := json.Unmarshal(raw, &a); err != nil || !a.Severity.Valid() {
			rep.Skipped++
			skip("alert", fmt.Sprint(i), err)
			continue
		}
		cs.Alerts = append(cs.Alerts, a)
	}

	rep.Actors = len(cs.Actors)
	rep.Tasks = len(cs.Tasks)
	rep.Messages = len(cs.Messages)
	rep.Alerts = len(cs.Alerts)
	return cs, rep, nil
}

func checkTask(t domain.Task) error {
	if !t.Status.Valid() {
		return fmt.Errorf("unknown status %q", t.Status)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("unknown priority %q", t.Priority)
	}
	if t.AssignedTo != "" && !t.AssignedTo.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownRole, t.AssignedTo)
	}
	if t.AssignedBy != "" && !t.AssignedBy.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownRole, t.AssignedBy)
	}
	if t.EstimatedWorkload < 0 || t.EstimatedWorkload > 1 {
		return fmt.Errorf("estimated workload %v out of range", t.EstimatedWorkload)
	}
	return nil
}

func validTasks(in []domain.Task) []domain.Task {
	out := make([]domain.Task, 0, len(in))
	for _, t := range in {
		if checkTask(t) == nil {
			out = append(out, t)
		}
	}
	return out
}

// Persist encodes the current state and hands it to b.
func (s *Store) Persist(ctx context.Context, b Backend) error {
	data, err := Encode(s.Snapshot())
	if err != nil {
		return err
	}
	return b.Save(ctx, data)
}

// Restore replaces the in-memory state with the document held by b.
// Individual bad records are skipped; a missing, unreadable or incompatible
// document leaves the store untouched.
func (s *Store) Restore(ctx context.Context, b Backend) (RestoreReport, error) {
	data, err := b.Load(ctx)
	if err != nil {
		return RestoreReport{}, err
	}
	cs, rep, err := Decode(data, func(kind, key string, err error) {
		s.logger.Warn("snapshot record skipped", "kind", kind, "key", key, "err", err)
	})
	if err != nil {
		return RestoreReport{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(cs)
	return rep, nil
}

// FileBackend keeps the snapshot in a JSON file, replaced atomically.
type FileBackend struct {
	Path string
}

func (f FileBackend) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".snapshot-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}

func (f FileBackend) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, f.Path)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
