package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"orgline/internal/db"
	"orgline/internal/domain"
	"orgline/internal/events"
	"orgline/internal/migrate"
	"orgline/internal/repo"
	"orgline/internal/store"
)

type testEnv struct {
	Repo   repo.Repo
	Writer events.Writer
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	res, err := migrate.Apply(context.Background(), conn)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if res.Version < 1 || len(res.Applied) == 0 {
		t.Fatalf("unexpected migration result %+v", res)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("second migrate should be a no-op: %v", err)
	}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return testEnv{
		Repo:   repo.Repo{DB: conn},
		Writer: events.Writer{DB: conn, Now: func() time.Time { return now }},
		Ctx:    context.Background(),
	}
}

func TestEventsJournal(t *testing.T) {
	env := newTestEnv(t)
	for i, typ := range []string{events.TaskCreated, events.TaskAssigned, events.TaskCompleted} {
		if err := env.Writer.Record(env.Ctx, typ, "acme", "task", "t1", "ceo", events.EventPayload{"step": i}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := env.Writer.Record(env.Ctx, events.TaskCreated, "other", "task", "t9", "ceo", nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	latest, err := env.Repo.LatestEvents(env.Ctx, repo.EventFilters{CompanyID: "acme", Limit: 2})
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 2 || latest[0].Type != events.TaskCompleted || latest[0].Payload != `{"step":2}` {
		t.Fatalf("latest = %+v", latest)
	}
	older, _ := env.Repo.LatestEvents(env.Ctx, repo.EventFilters{CompanyID: "acme", Cursor: latest[1].ID})
	if len(older) != 1 || older[0].Type != events.TaskCreated {
		t.Fatalf("older = %+v", older)
	}

	after, err := env.Repo.EventsAfter(env.Ctx, 10, latest[1].ID, "acme")
	if err != nil || len(after) != 1 || after[0].ID != latest[0].ID {
		t.Fatalf("after = %+v %v", after, err)
	}
	id, err := env.Repo.LatestEventID(env.Ctx, "acme")
	if err != nil || id != latest[0].ID {
		t.Fatalf("latest id = %d %v", id, err)
	}
	counts, _ := env.Repo.CountEventsByType(env.Ctx, "acme")
	if counts[events.TaskCreated] != 1 || len(counts) != 3 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestAlerts(t *testing.T) {
	env := newTestEnv(t)
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	first := domain.NewAlert("high_workload", "busy", domain.PriorityHigh, "cto", at)
	second := domain.NewAlert("status_escalation", "down", domain.PriorityCritical, "", at.Add(time.Minute))
	tx, err := env.Repo.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := env.Repo.InsertAlertTx(env.Ctx, tx, "acme", first, []string{"log"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := env.Repo.InsertAlertTx(env.Ctx, tx, "acme", second, nil); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	list, err := env.Repo.ListAlerts(env.Ctx, "acme", 10)
	if err != nil || len(list) != 2 {
		t.Fatalf("list = %+v %v", list, err)
	}
	if list[0].ID != second.ID || list[0].Severity != domain.PriorityCritical || !list[1].DetectedAt.Equal(at) {
		t.Fatalf("list = %+v", list)
	}
}

func TestSnapshotBackendRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	backend := repo.SnapshotBackend{Repo: env.Repo, CompanyID: "acme"}

	s := store.New()
	if _, err := s.Restore(env.Ctx, backend); !errors.Is(err, store.ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}

	_ = s.RegisterActor(domain.RoleCFO, []string{"finance"})
	s.UpdateKPIs(map[string]float64{"revenue": 100})
	if err := s.Persist(env.Ctx, backend); err != nil {
		t.Fatalf("persist: %v", err)
	}
	s.UpdateKPIs(map[string]float64{"revenue": 250})
	if err := s.Persist(env.Ctx, backend); err != nil {
		t.Fatalf("persist: %v", err)
	}

	restored := store.New()
	if _, err := restored.Restore(env.Ctx, backend); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Snapshot().KPIs["revenue"] != 250 {
		t.Fatalf("latest snapshot should win")
	}
	metas, err := env.Repo.ListSnapshots(env.Ctx, "acme", 0)
	if err != nil || len(metas) != 2 || metas[0].Version != store.SnapshotVersion {
		t.Fatalf("metas = %+v %v", metas, err)
	}
}
