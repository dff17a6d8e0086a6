package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"orgline/internal/actor"
	"orgline/internal/alerts"
	"orgline/internal/config"
	"orgline/internal/db"
	"orgline/internal/delegate"
	"orgline/internal/domain"
	"orgline/internal/isolation"
	"orgline/internal/migrate"
	"orgline/internal/orchestrator"
	"orgline/internal/reasoning"
	"orgline/internal/repo"
	"orgline/internal/scheduler"
	"orgline/internal/store"
)

// Snapshot backend names accepted by Runtime.Backend.
const (
	BackendFile = "file"
	BackendDB   = "db"
)

// Options controls Open. Config is loaded from the workspace when nil.
type Options struct {
	Workspace string
	Config    *config.Config
	Logger    *slog.Logger
	Now       func() time.Time
}

// Runtime is an opened workspace: journal database, store and orchestrator.
type Runtime struct {
	Workspace    string
	Config       *config.Config
	DB           *sql.DB
	Repo         repo.Repo
	Store        *store.Store
	Orchestrator *orchestrator.Orchestrator
	Logger       *slog.Logger
	now          func() time.Time
}

// Open loads config, opens and migrates the journal and wires the
// orchestrator. The caller must Close the runtime.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	if opts.Workspace == "" {
		opts.Workspace = "."
	}
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load(opts.Workspace)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("company_id", cfg.Company.ID)

	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	reasoner, err := Reasoner(cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	st := store.New(store.WithClock(opts.Now), store.WithLogger(logger))
	orch, err := orchestrator.New(OrchestratorOptions(cfg, st, reasoner, conn, logger, opts.Now))
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		conn.Close()
		return nil, err
	}
	return &Runtime{
		Workspace:    opts.Workspace,
		Config:       cfg,
		DB:           conn,
		Repo:         repo.Repo{DB: conn},
		Store:        st,
		Orchestrator: orch,
		Logger:       logger,
		now:          opts.Now,
	}, nil
}

func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Backend returns the snapshot backend by name. The file path in config is
// relative to the workspace.
func (r *Runtime) Backend(name string) (store.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackendFile:
		path := r.Config.Snapshot.Path
		if path == "" {
			path = filepath.Join(".orgline", "company_state.json")
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(r.Workspace, path)
		}
		return store.FileBackend{Path: path}, nil
	case BackendDB:
		return repo.SnapshotBackend{Repo: r.Repo, CompanyID: r.Config.Company.ID, Now: r.now}, nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q (want %s or %s)", name, BackendFile, BackendDB)
	}
}

// OrchestratorOptions maps config onto orchestrator options.
func OrchestratorOptions(cfg *config.Config, st *store.Store, r reasoning.Reasoner, conn *sql.DB, logger *slog.Logger, now func() time.Time) orchestrator.Options {
	detector := Detector(cfg)
	return orchestrator.Options{
		CompanyID:                cfg.Company.ID,
		Store:                    st,
		Reasoner:                 r,
		Capabilities:             Capabilities(cfg),
		Tiers:                    Tiers(cfg),
		Breaker:                  BreakerConfig(cfg),
		Delegator:                Delegator(cfg),
		Detector:                 &detector,
		AnomalyCooldown:          cfg.Anomaly.Cooldown.Std(),
		Fallback:                 actor.FallbackPolicy{ApproveOnFailure: cfg.Fallback.ApproveOnFailure, Reason: cfg.Fallback.Reason},
		DefaultEstimatedWorkload: cfg.Delegation.DefaultEstimatedWorkload,
		Collaboration:            Edges(cfg),
		Sinks:                    Sinks(cfg, logger),
		DB:                       conn,
		Now:                      now,
		Logger:                   logger,
	}
}

func Tiers(cfg *config.Config) scheduler.Tiers {
	tiers := scheduler.Tiers{}
	for name, t := range cfg.Scheduler.Tiers {
		p := domain.Priority(name)
		tiers[p] = scheduler.Tier{Priority: p, Weight: t.Weight, Timeout: t.Timeout.Std(), MaxConcurrent: t.MaxConcurrent}
	}
	return tiers
}

func BreakerConfig(cfg *config.Config) isolation.BreakerConfig {
	return isolation.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout.Std(),
		HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
	}
}

// Delegator scores history from actor metrics; missing priority weights
// fall back to the stock table.
func Delegator(cfg *config.Config) *delegate.Delegator {
	d := delegate.New()
	w := cfg.Delegation.Weights
	d.Weights = delegate.Weights{Capability: w.Capability, Workload: w.Workload, History: w.History}
	for name, v := range cfg.Delegation.PriorityWeights {
		d.PriorityWeights[domain.Priority(name)] = v
	}
	d.History = delegate.MetricsHistory
	return d
}

func Detector(cfg *config.Config) isolation.Detector {
	d := isolation.DefaultDetector()
	a := cfg.Anomaly
	if a.WorkloadHighWater > 0 {
		d.WorkloadHighWater = a.WorkloadHighWater
	}
	if a.InactivityTimeout > 0 {
		d.InactivityTimeout = a.InactivityTimeout.Std()
	}
	if a.InactivityMinWorkload > 0 {
		d.InactivityMinWorkload = a.InactivityMinWorkload
	}
	if a.FailureRateThreshold > 0 {
		d.FailureRateThreshold = a.FailureRateThreshold
	}
	if a.FailureMinSamples > 0 {
		d.FailureMinSamples = a.FailureMinSamples
	}
	return d
}

// Capabilities returns nil when no actors are configured so every role is
// registered without capabilities.
func Capabilities(cfg *config.Config) map[domain.Role][]string {
	if len(cfg.Actors) == 0 {
		return nil
	}
	out := make(map[domain.Role][]string, len(cfg.Actors))
	for _, role := range domain.Roles() {
		if ac, ok := cfg.Actors[string(role)]; ok {
			out[role] = append([]string(nil), ac.Capabilities...)
		}
	}
	return out
}

func Edges(cfg *config.Config) []orchestrator.Edge {
	if len(cfg.Collaboration) == 0 {
		return nil
	}
	out := make([]orchestrator.Edge, 0, len(cfg.Collaboration))
	for _, e := range cfg.Collaboration {
		out = append(out, orchestrator.Edge{From: domain.Role(e.From), To: domain.Role(e.To)})
	}
	return out
}

// Sinks always includes the log sink, followed by every enabled webhook.
func Sinks(cfg *config.Config, logger *slog.Logger) []alerts.Sink {
	sinks := []alerts.Sink{alerts.LogSink{Logger: logger}}
	for _, hook := range cfg.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		timeout := 5 * time.Second
		if hook.TimeoutSeconds > 0 {
			timeout = time.Duration(hook.TimeoutSeconds) * time.Second
		}
		sinks = append(sinks, &alerts.WebhookSink{
			ID:      hook.ID,
			URL:     hook.URL,
			Secret:  hook.Secret,
			Types:   hook.Events,
			Timeout: timeout,
			Company: cfg.Company.ID,
		})
	}
	return sinks
}

// Reasoner uses the HTTP reasoner when a URL is configured in the file or
// the environment, and the local rules otherwise.
func Reasoner(cfg *config.Config) (reasoning.Reasoner, error) {
	cc, err := reasoning.ConfigFromEnv(reasoning.ClientConfig{URL: cfg.Reasoner.URL, Timeout: cfg.Reasoner.Timeout.Std()})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cc.URL) == "" {
		return reasoning.DefaultRules(), nil
	}
	return reasoning.NewClient(cc), nil
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	format := "text"
	if cfg != nil {
		switch cfg.Log.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
		if cfg.Log.Format != "" {
			format = cfg.Log.Format
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
