package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"orgline/internal/app"
	"orgline/internal/config"
	"orgline/internal/domain"
	"orgline/internal/orchestrator"
	"orgline/internal/store"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt, err := app.Open(context.Background(), app.Options{
		Workspace: t.TempDir(),
		Config:    config.Default("acme"),
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	handler, err := New(Config{
		Orchestrator: rt.Orchestrator,
		Repo:         rt.Repo,
		Backends:     rt.Backend,
		BasePath:     "/v0",
		Auth:         auth,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			rt.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error
}

func TestHealthAndStatus(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "ok") {
		t.Fatalf("health %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/status", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var st orchestrator.Status
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if st.CompanyID != "acme" || st.Actors != len(domain.Roles()) {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestSendTickAndState(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/messages", map[string]any{
		"sender":       "ceo",
		"message_type": "data_request",
		"content":      map[string]any{"data_category": "financial", "query": "runway"},
		"priority":     "high",
	}, nil)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("send status %d: %s", res.StatusCode, string(data))
	}
	var routed orchestrator.Routed
	if err := json.Unmarshal(data, &routed); err != nil {
		t.Fatalf("unmarshal routed: %v", err)
	}
	if routed.RoutedTo != domain.RoleCFO || routed.Message.Recipient != domain.RoleCFO {
		t.Fatalf("expected cfo route, got %+v", routed)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/queue?priority=high", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), routed.Message.ID) {
		t.Fatalf("queue %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tick", map[string]any{"steps": 2}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("tick status %d: %s", res.StatusCode, string(data))
	}
	var tick TickResponse
	if err := json.Unmarshal(data, &tick); err != nil {
		t.Fatalf("unmarshal tick: %v", err)
	}
	if len(tick.Reports) != 2 || tick.Reports[0].Delivered != 1 {
		t.Fatalf("unexpected tick reports %+v", tick.Reports)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/state", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("state status %d: %s", res.StatusCode, string(data))
	}
	var st store.CompanyState
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if len(st.Messages) < 2 {
		t.Fatalf("expected request and reply in state, got %d messages", len(st.Messages))
	}
}

func TestRouteDoesNotQueue(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/route", map[string]any{
		"sender":       "cto",
		"message_type": "approval_request",
		"content":      map[string]any{"request_type": "budget increase", "amount": 20000},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("route status %d: %s", res.StatusCode, string(data))
	}
	var routed orchestrator.Routed
	if err := json.Unmarshal(data, &routed); err != nil {
		t.Fatalf("unmarshal routed: %v", err)
	}
	if routed.RoutedTo != domain.RoleCFO || !routed.NeedsApproval || len(routed.ApprovalPath) == 0 {
		t.Fatalf("unexpected route %+v", routed)
	}
	_, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/status", nil, nil)
	var st orchestrator.Status
	_ = json.Unmarshal(data, &st)
	if st.QueueDepth != 0 || st.Messages != 0 {
		t.Fatalf("route must not queue: %+v", st)
	}
}

func TestInvalidMessageEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/messages", map[string]any{
		"sender":       "cxo",
		"message_type": "data_request",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "invalid_message" {
		t.Fatalf("unexpected error %+v", e)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/messages", map[string]any{
		"sender":       "ceo",
		"message_type": "data_request",
		"priority":     "urgent",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad priority, got %d: %s", res.StatusCode, string(data))
	}
}

func TestExecuteTaskEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":                 "Quarterly forecast",
		"required_capabilities": []string{"finance", "forecasting"},
		"priority":              "high",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("execute status %d: %s", res.StatusCode, string(data))
	}
	var result orchestrator.TaskResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.Success || result.Task.AssignedTo != domain.RoleCFO || result.Task.Status != domain.TaskCompleted {
		t.Fatalf("unexpected result %+v", result)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?status=completed", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != result.Task.ID {
		t.Fatalf("unexpected tasks %+v", tasks)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+result.Task.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get task status %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/task_missing", nil, nil)
	if res.StatusCode != http.StatusNotFound || decodeError(t, data).Code != "not_found" {
		t.Fatalf("expected not_found, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":       "Orphan",
		"assigned_to": "chief_of_staff",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d: %s", res.StatusCode, string(data))
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	for _, title := range []string{"Hire designer", "Hire engineer"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
			"title":       title,
			"assigned_to": "hr",
		}, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("execute %s: %d %s", title, res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?entity_kind=task&limit=1", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 1 || page.NextCursor == "" {
		t.Fatalf("expected one item and a cursor, got %+v", page)
	}
	first := page.Items[0]
	if first.EntityKind != "task" || first.CompanyID != "acme" {
		t.Fatalf("unexpected event %+v", first)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?entity_kind=task&limit=1&cursor="+page.NextCursor, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2 status %d: %s", res.StatusCode, string(data))
	}
	var next paginatedEvents
	if err := json.Unmarshal(data, &next); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(next.Items) != 1 || next.Items[0].ID >= first.ID {
		t.Fatalf("expected an older event, got %+v after %d", next.Items, first.ID)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d: %s", res.StatusCode, string(data))
	}
}

func TestSnapshotSaveAndRestore(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/snapshot", map[string]any{"action": "restore", "backend": "db"}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before any save, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{"title": "Close books", "assigned_to": "cfo"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("execute: %d %s", res.StatusCode, string(data))
	}
	for _, backend := range []string{"file", "db"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/snapshot", map[string]any{"action": "save", "backend": backend}, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("save %s: %d %s", backend, res.StatusCode, string(data))
		}
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/snapshot", map[string]any{"action": "restore", "backend": backend}, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("restore %s: %d %s", backend, res.StatusCode, string(data))
		}
		var resp SnapshotResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			t.Fatalf("unmarshal snapshot response: %v", err)
		}
		if resp.Restore == nil || resp.Restore.Tasks != 1 {
			t.Fatalf("%s restore report %+v", backend, resp.Restore)
		}
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/snapshots", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"company_id":"acme"`) {
		t.Fatalf("list snapshots %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/snapshot", map[string]any{"action": "save", "backend": "s3"}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown backend, got %d: %s", res.StatusCode, string(data))
	}
}

func TestJWTAuth(t *testing.T) {
	const secret = "test-secret"
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: secret})
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health must be open, got %d", res.StatusCode)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/status", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || decodeError(t, data).Code != "unauthorized" {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}

	forged, err := SignToken("other-secret", "mallory", nil, []string{ScopeAll}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/status", nil, map[string]string{"Authorization": "Bearer " + forged})
	if res.StatusCode != http.StatusUnauthorized || decodeError(t, data).Code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %d: %s", res.StatusCode, string(data))
	}

	reader, err := SignToken(secret, "dashboard", nil, nil, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	readHdr := map[string]string{"Authorization": "Bearer " + reader}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/status", nil, readHdr)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("read token on status: %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tick", map[string]any{"steps": 1}, readHdr)
	if res.StatusCode != http.StatusForbidden || decodeError(t, data).Details["scope"] != ScopeWrite {
		t.Fatalf("expected scope forbidden, got %d: %s", res.StatusCode, string(data))
	}

	cfoToken, err := SignToken(secret, "finance-bot", []string{"cfo"}, []string{ScopeWrite}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	cfoHdr := map[string]string{"Authorization": "Bearer " + cfoToken}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/messages", map[string]any{
		"sender":       "ceo",
		"message_type": "status_report",
		"content":      map[string]any{"status": "ok"},
	}, cfoHdr)
	if res.StatusCode != http.StatusForbidden || decodeError(t, data).Details["role"] != "ceo" {
		t.Fatalf("expected role forbidden, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/messages", map[string]any{
		"sender":       "cfo",
		"message_type": "status_report",
		"content":      map[string]any{"status": "ok"},
	}, cfoHdr)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 for bound sender, got %d: %s", res.StatusCode, string(data))
	}
}

func TestOpenAPIAdvertisesBearerAuth(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: "s"})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	if !strings.Contains(string(data), "bearerAuth") || !strings.Contains(string(data), "/v0/tasks") {
		t.Fatalf("openapi missing auth or paths")
	}
}
