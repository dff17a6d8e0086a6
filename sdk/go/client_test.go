package orglinesdk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"orgline/internal/app"
	"orgline/internal/config"
	"orgline/internal/server"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt, err := app.Open(context.Background(), app.Options{
		Workspace: t.TempDir(),
		Config:    config.Default("sdk"),
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	handler, err := server.New(server.Config{
		Orchestrator: rt.Orchestrator,
		Repo:         rt.Repo,
		Backends:     rt.Backend,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		rt.Close()
	})
	return New(srv.URL)
}

func TestClientRoundTrip(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	routed, err := c.Send(ctx, Message{
		Sender:  "cto",
		Type:    "collaboration",
		Content: map[string]any{"topic": "development roadmap"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if routed.RoutedTo != "rd" {
		t.Fatalf("expected rd, got %s", routed.RoutedTo)
	}

	tick, err := c.Tick(ctx, 1)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(tick.Reports) != 1 || tick.Reports[0].Delivered != 1 {
		t.Fatalf("unexpected tick %+v", tick.Reports)
	}

	res, err := c.ExecuteTask(ctx, TaskRequest{Title: "Patch release", AssignedTo: "rd"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || res.Task.Status != "completed" {
		t.Fatalf("unexpected result %+v", res)
	}
	tasks, err := c.Tasks(ctx, "completed")
	if err != nil || len(tasks) != 1 {
		t.Fatalf("tasks: %v %+v", err, tasks)
	}

	events, err := c.Events(ctx, 5)
	if err != nil || len(events) == 0 {
		t.Fatalf("events: %v %d", err, len(events))
	}

	snap, err := c.Snapshot(ctx, "save", "db")
	if err != nil || snap.Action != "save" {
		t.Fatalf("snapshot: %v %+v", err, snap)
	}

	st, err := c.Status(ctx)
	if err != nil || st.CompanyID != "sdk" {
		t.Fatalf("status: %v %+v", err, st)
	}
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	c := newClient(t)
	_, err := c.Route(context.Background(), Message{Sender: "nobody", Type: "alert"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 400 || apiErr.Code != "invalid_message" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}
