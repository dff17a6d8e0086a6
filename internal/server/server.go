package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"orgline/internal/domain"
	"orgline/internal/isolation"
	"orgline/internal/orchestrator"
	"orgline/internal/repo"
	"orgline/internal/scheduler"
	"orgline/internal/store"
)

// BackendFunc resolves a snapshot backend by name ("" selects the default).
type BackendFunc func(name string) (store.Backend, error)

// Config for the HTTP API handler.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	// Repo reads the journal. A nil DB serves empty event and alert lists.
	Repo     repo.Repo
	Backends BackendFunc
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"invalid message: sender \"cxo\""`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope {"error": {...}}.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the orgline API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(accessLog(logger))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Orgline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	o := cfg.Orchestrator
	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, o)
	registerState(group, o)
	registerTasks(group, o)
	registerMessages(group, o)
	registerTick(group, o)
	registerIsolation(group, o)
	registerEvents(group, o, cfg.Repo)
	registerSnapshots(group, o, cfg.Repo, cfg.Backends)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), fe.details())
	}
	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrInvalidMessage):
		return newAPIError(http.StatusBadRequest, "invalid_message", msg, nil)
	case errors.Is(err, domain.ErrUnknownRole), errors.Is(err, scheduler.ErrUnknownPriority):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, repo.ErrNotFound), errors.Is(err, store.ErrSnapshotNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, store.ErrDuplicate):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case errors.Is(err, domain.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", msg, nil)
	case errors.Is(err, store.ErrSnapshotCorrupt), errors.Is(err, store.ErrSnapshotVersion):
		return newAPIError(http.StatusUnprocessableEntity, "snapshot_invalid", msg, nil)
	}
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown") ||
		strings.Contains(lowered, "required") || strings.Contains(lowered, "must"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Orgline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; when the server has a JWT secret.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, o *orchestrator.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Company status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body orchestrator.Status `json:"body"`
	}, error) {
		return &struct {
			Body orchestrator.Status `json:"body"`
		}{Body: o.Status()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "collaboration",
		Method:      http.MethodGet,
		Path:        "/collaboration",
		Summary:     "Collaboration graph",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[domain.Role][]domain.Role `json:"body"`
	}, error) {
		return &struct {
			Body map[domain.Role][]domain.Role `json:"body"`
		}{Body: o.CollaborationGraph()}, nil
	})
}

func registerState(api huma.API, o *orchestrator.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "get-state",
		Method:      http.MethodGet,
		Path:        "/state",
		Summary:     "Full company state",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body store.CompanyState `json:"body"`
	}, error) {
		return &struct {
			Body store.CompanyState `json:"body"`
		}{Body: o.Store().Snapshot()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-queue",
		Method:      http.MethodGet,
		Path:        "/queue",
		Summary:     "Queued messages by priority",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Priority string `query:"priority" enum:"low,medium,high,critical"`
	}) (*struct {
		Body QueueResponse `json:"body"`
	}, error) {
		resp := QueueResponse{Items: map[domain.Priority][]domain.Message{}}
		for _, p := range domain.Priorities() {
			if input.Priority != "" && string(p) != input.Priority {
				continue
			}
			msgs := o.Queued(p)
			if msgs == nil {
				msgs = []domain.Message{}
			}
			resp.Items[p] = msgs
			resp.Total += len(msgs)
		}
		return &struct {
			Body QueueResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerTasks(api huma.API, o *orchestrator.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "execute-task",
		Method:      http.MethodPost,
		Path:        "/tasks",
		Summary:     "Create, delegate and execute a task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body TaskRequest `json:"body"`
	}) (*struct {
		Body orchestrator.TaskResult `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeWrite); err != nil {
			return nil, handleError(err)
		}
		spec, err := input.Body.spec()
		if err != nil {
			return nil, handleError(err)
		}
		res, err := o.ExecuteTask(ctx, spec)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body orchestrator.TaskResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,in_progress,completed,failed"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		tasks := o.Store().Tasks(domain.TaskStatus(input.Status))
		if tasks == nil {
			tasks = []domain.Task{}
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := o.Store().Task(input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerMessages(api huma.API, o *orchestrator.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID:   "send-message",
		Method:        http.MethodPost,
		Path:          "/messages",
		Summary:       "Route and queue a message for the next tick",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body MessageRequest `json:"body"`
	}) (*struct {
		Body orchestrator.Routed `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeWrite); err != nil {
			return nil, handleError(err)
		}
		msg, err := input.Body.message()
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireSender(ctx, msg.Sender); err != nil {
			return nil, handleError(err)
		}
		routed, err := o.Send(ctx, msg)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body orchestrator.Routed `json:"body"`
		}{Body: routed}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "route-message",
		Method:      http.MethodPost,
		Path:        "/route",
		Summary:     "Resolve a message route without queuing it",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body MessageRequest `json:"body"`
	}) (*struct {
		Body orchestrator.Routed `json:"body"`
	}, error) {
		msg, err := input.Body.message()
		if err != nil {
			return nil, handleError(err)
		}
		routed, err := o.Route(msg)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body orchestrator.Routed `json:"body"`
		}{Body: routed}, nil
	})
}

func registerTick(api huma.API, o *orchestrator.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "tick",
		Method:      http.MethodPost,
		Path:        "/tick",
		Summary:     "Advance the scheduler",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body *TickRequest `json:"body" required:"false"`
	}) (*struct {
		Body TickResponse `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeWrite); err != nil {
			return nil, handleError(err)
		}
		steps := 1
		if input.Body != nil && input.Body.Steps > 0 {
			steps = input.Body.Steps
		}
		resp := TickResponse{Reports: []orchestrator.TickReport{}}
		for i := 0; i < steps; i++ {
			rep, err := o.Tick(ctx)
			resp.Reports = append(resp.Reports, rep)
			if err != nil {
				return nil, handleError(err)
			}
		}
		resp.Status = o.Status()
		return &struct {
			Body TickResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerIsolation(api huma.API, o *orchestrator.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "list-anomalies",
		Method:      http.MethodGet,
		Path:        "/anomalies",
		Summary:     "Anomalies that raised an alert",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []isolation.Anomaly `json:"body"`
	}, error) {
		items := o.Anomalies()
		if items == nil {
			items = []isolation.Anomaly{}
		}
		return &struct {
			Body []isolation.Anomaly `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scan-anomalies",
		Method:      http.MethodPost,
		Path:        "/anomalies/scan",
		Summary:     "Run anomaly detection now",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []isolation.Anomaly `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeWrite); err != nil {
			return nil, handleError(err)
		}
		items := o.DetectAnomalies(ctx)
		if items == nil {
			items = []isolation.Anomaly{}
		}
		return &struct {
			Body []isolation.Anomaly `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-breakers",
		Method:      http.MethodGet,
		Path:        "/breakers",
		Summary:     "Circuit breaker states",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []isolation.BreakerSnapshot `json:"body"`
	}, error) {
		items := o.Breakers()
		if items == nil {
			items = []isolation.BreakerSnapshot{}
		}
		return &struct {
			Body []isolation.BreakerSnapshot `json:"body"`
		}{Body: items}, nil
	})
}

func registerEvents(api huma.API, o *orchestrator.Orchestrator, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent journal events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"message,task,alert,breaker,snapshot"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if r.DB == nil {
			return &struct {
				Body paginatedEvents `json:"body"`
			}{Body: resp}, nil
		}
		items, err := r.LatestEvents(ctx, repo.EventFilters{
			CompanyID:  o.CompanyID(),
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-alerts",
		Method:      http.MethodGet,
		Path:        "/alerts",
		Summary:     "List journaled alerts",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Alert `json:"body"`
	}, error) {
		items := []domain.Alert{}
		if r.DB != nil {
			found, err := r.ListAlerts(ctx, o.CompanyID(), normalizeLimit(input.Limit))
			if err != nil {
				return nil, handleError(err)
			}
			items = append(items, found...)
		}
		return &struct {
			Body []domain.Alert `json:"body"`
		}{Body: items}, nil
	})
}

func registerSnapshots(api huma.API, o *orchestrator.Orchestrator, r repo.Repo, backends BackendFunc) {
	huma.Register(api, huma.Operation{
		OperationID: "snapshot",
		Method:      http.MethodPost,
		Path:        "/snapshot",
		Summary:     "Save or restore the company state",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body SnapshotRequest `json:"body"`
	}) (*struct {
		Body SnapshotResponse `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeWrite); err != nil {
			return nil, handleError(err)
		}
		if backends == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "snapshots are not configured", nil)
		}
		b, err := backends(input.Body.Backend)
		if err != nil {
			return nil, handleError(err)
		}
		resp := SnapshotResponse{Action: input.Body.Action, Backend: input.Body.Backend}
		switch input.Body.Action {
		case "save":
			if err := o.SaveSnapshot(ctx, b); err != nil {
				return nil, handleError(err)
			}
		case "restore":
			rep, err := o.RestoreSnapshot(ctx, b)
			if err != nil {
				return nil, handleError(err)
			}
			resp.Restore = &rep
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "action must be save or restore", map[string]any{"action": input.Body.Action})
		}
		resp.Status = o.Status()
		return &struct {
			Body SnapshotResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-snapshots",
		Method:      http.MethodGet,
		Path:        "/snapshots",
		Summary:     "List snapshots archived in the journal",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []repo.SnapshotMeta `json:"body"`
	}, error) {
		items := []repo.SnapshotMeta{}
		if r.DB != nil {
			found, err := r.ListSnapshots(ctx, o.CompanyID(), normalizeLimit(input.Limit))
			if err != nil {
				return nil, handleError(err)
			}
			items = append(items, found...)
		}
		return &struct {
			Body []repo.SnapshotMeta `json:"body"`
		}{Body: items}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
