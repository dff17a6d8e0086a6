package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"orgline/internal/app"
	"orgline/internal/config"
	"orgline/internal/db"
	"orgline/internal/domain"
	"orgline/internal/migrate"
	"orgline/internal/orchestrator"
	"orgline/internal/repo"
	"orgline/internal/server"
	"orgline/internal/store"
	"orgline/internal/telemetry"
)

var shutdownTelemetry = func(context.Context) error { return nil }

var rootCmd = &cobra.Command{
	Use:   "orgline",
	Short: "Orgline company simulator",
	Long: `Orgline runs a company of role actors that exchange messages and execute tasks.
- Workspace: a directory holding orgline.yml and the .orgline journal database.
- Actors: one per role (ceo, cto, cpo, cmo, cfo, hr, rd, data_analyst, customer_support, operations).
- Messages: routed by type and content, queued by priority and delivered one tick at a time.
- Tasks: delegated by capability, workload and history, then executed by the chosen actor.
- Isolation: reasoning and alert sinks sit behind circuit breakers; anomalies raise alerts.
- State: the in-memory company is saved and restored through snapshots (--state file|db).
- Event log: journal of deliveries, task changes, alerts and breaker transitions, view with 'orgline log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		shutdown, err := telemetry.Setup(cmd.Context(), "orgline")
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		shutdownTelemetry = shutdown
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTelemetry(ctx)
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ORGLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("state", "", "snapshot backend to restore before and save after the command (file or db)")
	rootCmd.PersistentFlags().String("log-level", "", "override config log level")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("state", rootCmd.PersistentFlags().Lookup("state"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(simCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(alertsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var company string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create orgline.yml and the journal database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(company)), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			res, err := migrate.Apply(cmd.Context(), conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"config": path, "db": db.Path(workspace), "company_id": company, "schema_version": res.Version})
			}
			fmt.Printf("Initialized %s (journal %s, schema v%d)\n", path, db.Path(workspace), res.Version)
			return nil
		},
	}
	cmd.Flags().StringVar(&company, "company", "default", "company id")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect orgline.yml",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config with defaults applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate orgline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show company status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), false, func(ctx context.Context, rt *app.Runtime) error {
				st := rt.Orchestrator.Status()
				if viper.GetBool("json") {
					return printJSON(st)
				}
				printStatus(st)
				printActors(rt.Store.Actors())
				return nil
			})
		},
	}
}

func simCmd() *cobra.Command {
	sim := &cobra.Command{
		Use:   "sim",
		Short: "Run the company simulation",
	}
	var steps int
	run := &cobra.Command{
		Use:   "run",
		Short: "Seed one message per collaboration edge and tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				rep, err := rt.Orchestrator.RunSimulation(ctx, steps)
				if viper.GetBool("json") {
					if perr := printJSON(rep); perr != nil {
						return perr
					}
					return err
				}
				fmt.Printf("Seeded %d messages\n", rep.Seeded)
				printTicks(rep.Ticks)
				printStatus(rep.Status)
				return err
			})
		},
	}
	run.Flags().IntVar(&steps, "steps", 10, "number of ticks")
	sim.AddCommand(run)
	return sim
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Execute and list tasks",
	}
	task.AddCommand(taskExecCmd())
	task.AddCommand(taskListCmd())
	return task
}

func taskExecCmd() *cobra.Command {
	var spec orchestrator.TaskSpec
	var assignTo, assignBy, priority string
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Create, delegate and execute a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := domain.ParsePriority(priority)
			if err != nil {
				return err
			}
			spec.Priority = p
			spec.AssignedTo = domain.Role(assignTo)
			spec.AssignedBy = domain.Role(assignBy)
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Orchestrator.ExecuteTask(ctx, spec)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				state := string(res.Task.Status)
				if res.Degraded {
					state += " (degraded)"
				}
				fmt.Printf("Task %s %q -> %s: %s\n", res.Task.ID, res.Task.Title, res.Task.AssignedTo, state)
				if res.Summary != "" {
					fmt.Println("Summary:", res.Summary)
				}
				if res.Error != "" {
					fmt.Println("Error:", res.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&spec.ID, "id", "", "task id (generated when empty)")
	cmd.Flags().StringVar(&spec.Title, "title", "", "task title")
	cmd.Flags().StringVar(&spec.Description, "description", "", "description")
	cmd.Flags().StringVar(&assignTo, "assign-to", "", "role to run the task (skips delegation)")
	cmd.Flags().StringVar(&assignBy, "by", "", "assigning role (defaults to ceo)")
	cmd.Flags().StringVar(&priority, "priority", "medium", "low, medium, high or critical")
	cmd.Flags().StringSliceVar(&spec.RequiredCapabilities, "capability", nil, "required capability (repeatable)")
	cmd.Flags().StringSliceVar(&spec.Dependencies, "depends-on", nil, "dependency task id (repeatable)")
	cmd.Flags().Float64Var(&spec.EstimatedWorkload, "workload", 0, "estimated workload in [0,1]")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in the restored state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && !domain.TaskStatus(status).Valid() {
				return fmt.Errorf("invalid status %q", status)
			}
			return withRuntime(cmd.Context(), false, func(ctx context.Context, rt *app.Runtime) error {
				tasks := rt.Store.Tasks(domain.TaskStatus(status))
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignee", "Priority", "Deps"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.AssignedTo, t.Priority, strings.Join(t.Dependencies, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

type messageFlags struct {
	from, to, typ, priority, content string
}

func (f *messageFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.from, "from", "", "sender role")
	cmd.Flags().StringVar(&f.to, "to", "", "recipient role (routed when empty)")
	cmd.Flags().StringVar(&f.typ, "type", "", "message type")
	cmd.Flags().StringVar(&f.priority, "priority", "medium", "low, medium, high or critical")
	cmd.Flags().StringVar(&f.content, "content", "{}", "content as a JSON object")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("type")
}

func (f *messageFlags) message() (domain.Message, error) {
	p, err := domain.ParsePriority(f.priority)
	if err != nil {
		return domain.Message{}, err
	}
	content := map[string]any{}
	if strings.TrimSpace(f.content) != "" {
		if err := json.Unmarshal([]byte(f.content), &content); err != nil {
			return domain.Message{}, fmt.Errorf("invalid --content: %w", err)
		}
	}
	return domain.NewMessage(domain.Role(f.from), domain.Role(f.to), domain.MessageType(f.typ), content, p), nil
}

func sendCmd() *cobra.Command {
	var mf messageFlags
	var ticks int
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Queue a message and tick until it is delivered",
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := mf.message()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				routed, err := rt.Orchestrator.Send(ctx, msg)
				if err != nil {
					return err
				}
				var reports []orchestrator.TickReport
				for i := 0; i < ticks; i++ {
					rep, err := rt.Orchestrator.Tick(ctx)
					reports = append(reports, rep)
					if err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"routed": routed, "ticks": reports})
				}
				fmt.Printf("Message %s routed to %s\n", routed.Message.ID, routed.RoutedTo)
				printTicks(reports)
				return nil
			})
		},
	}
	mf.bind(cmd)
	cmd.Flags().IntVar(&ticks, "ticks", 1, "ticks to run after queuing")
	return cmd
}

func routeCmd() *cobra.Command {
	var mf messageFlags
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Show where a message would be routed",
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := mf.message()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), false, func(ctx context.Context, rt *app.Runtime) error {
				routed, err := rt.Orchestrator.Route(msg)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(routed)
				}
				fmt.Printf("Routed to: %s\n", routed.RoutedTo)
				if routed.NeedsApproval {
					fmt.Printf("Approval path: %s\n", joinRoles(routed.ApprovalPath))
				}
				return nil
			})
		},
	}
	mf.bind(cmd)
	return cmd
}

func stateCmd() *cobra.Command {
	state := &cobra.Command{
		Use:   "state",
		Short: "Inspect and move company snapshots",
	}
	var backend string
	show := &cobra.Command{
		Use:   "show",
		Short: "Restore a snapshot and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			viper.Set("state", backend)
			return withRuntime(cmd.Context(), false, func(ctx context.Context, rt *app.Runtime) error {
				st := rt.Store.Snapshot()
				if viper.GetBool("json") {
					return printJSON(st)
				}
				printStatus(rt.Orchestrator.Status())
				printActors(st.Actors)
				return nil
			})
		},
	}
	show.Flags().StringVar(&backend, "backend", app.BackendFile, "snapshot backend (file or db)")

	var from, to string
	cp := &cobra.Command{
		Use:   "copy",
		Short: "Copy the snapshot between backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == to {
				return fmt.Errorf("--from and --to must differ")
			}
			viper.Set("state", "")
			return withRuntime(cmd.Context(), false, func(ctx context.Context, rt *app.Runtime) error {
				src, err := rt.Backend(from)
				if err != nil {
					return err
				}
				dst, err := rt.Backend(to)
				if err != nil {
					return err
				}
				rep, err := rt.Orchestrator.RestoreSnapshot(ctx, src)
				if err != nil {
					return err
				}
				if err := rt.Orchestrator.SaveSnapshot(ctx, dst); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				fmt.Printf("Copied snapshot %s -> %s (%d actors, %d tasks, %d skipped)\n", from, to, rep.Actors, rep.Tasks, rep.Skipped)
				return nil
			})
		},
	}
	cp.Flags().StringVar(&from, "from", app.BackendFile, "source backend")
	cp.Flags().StringVar(&to, "to", app.BackendDB, "target backend")

	history := &cobra.Command{
		Use:   "history",
		Short: "List snapshots archived in the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo, cfg *config.Config) error {
				items, err := r.ListSnapshots(ctx, cfg.Company.ID, 50)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Version", "Created"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Version, s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	var saveTo string
	save := &cobra.Command{
		Use:   "save",
		Short: "Write the current company state to a backend",
		Long:  "Writes the state restored through --state, or a freshly seeded company when --state is empty.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), false, func(ctx context.Context, rt *app.Runtime) error {
				dst, err := rt.Backend(saveTo)
				if err != nil {
					return err
				}
				if err := rt.Orchestrator.SaveSnapshot(ctx, dst); err != nil {
					return err
				}
				fmt.Printf("Saved snapshot to %s\n", saveTo)
				return nil
			})
		},
	}
	save.Flags().StringVar(&saveTo, "backend", app.BackendFile, "target backend (file or db)")

	var loadTo string
	load := &cobra.Command{
		Use:   "load <file>",
		Short: "Import a snapshot document into a backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			viper.Set("state", "")
			return withRuntime(cmd.Context(), false, func(ctx context.Context, rt *app.Runtime) error {
				dst, err := rt.Backend(loadTo)
				if err != nil {
					return err
				}
				rep, err := rt.Orchestrator.RestoreSnapshot(ctx, store.FileBackend{Path: args[0]})
				if err != nil {
					return err
				}
				if err := rt.Orchestrator.SaveSnapshot(ctx, dst); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				fmt.Printf("Loaded %s (version %s): %d actors, %d tasks, %d messages, %d skipped\n",
					args[0], rep.Version, rep.Actors, rep.Tasks, rep.Messages, rep.Skipped)
				return nil
			})
		},
	}
	load.Flags().StringVar(&loadTo, "backend", app.BackendFile, "target backend (file or db)")

	state.AddCommand(show, save, load, cp, history)
	return state
}

func alertsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List journaled alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo, cfg *config.Config) error {
				items, err := r.ListAlerts(ctx, cfg.Company.ID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Detected", "Type", "Severity", "Subject", "Message"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.DetectedAt.Format(time.RFC3339), a.AlertType, a.Severity, a.Subject, a.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of alerts")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The journal of everything that happened: deliveries, drops, task changes, alerts, breaker transitions and snapshots.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo, cfg *config.Config) error {
				f.CompanyID = cfg.Company.ID
				events, err := r.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var roles, scopes []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an API token with ORGLINE_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, r := range roles {
				if _, err := domain.ParseRole(r); err != nil {
					return err
				}
			}
			tok, err := server.SignToken(viper.GetString("jwt-secret"), subject, roles, scopes, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": tok})
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "company role the holder may send as (repeatable)")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{server.ScopeRead}, "granted scope (orgline.read, orgline.write or *)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for none")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var tickEvery time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), Logger: rt.Logger}
				if authCfg.JWTSecret == "" {
					rt.Logger.Warn("ORGLINE_JWT_SECRET not set; API is unauthenticated")
				}
				handler, err := server.New(server.Config{
					Orchestrator: rt.Orchestrator,
					Repo:         rt.Repo,
					Backends:     rt.Backend,
					BasePath:     basePath,
					Auth:         authCfg,
					Logger:       rt.Logger,
				})
				if err != nil {
					return err
				}
				if tickEvery > 0 {
					go runTicker(ctx, rt, tickEvery)
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				fmt.Printf("Serving Orgline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().DurationVar(&tickEvery, "tick-every", 0, "advance the scheduler on this interval (0 disables)")
	return cmd
}

func runTicker(ctx context.Context, rt *app.Runtime, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := rt.Orchestrator.Tick(ctx); err != nil && ctx.Err() == nil {
				rt.Logger.Error("tick failed", "err", err)
			}
		}
	}
}

// --- helpers ---

// withRuntime opens the workspace. With --state set the snapshot is restored
// first and, when persist is true, saved again after fn succeeds.
func withRuntime(ctx context.Context, persist bool, fn func(context.Context, *app.Runtime) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	rt, err := app.Open(ctx, app.Options{Workspace: workspace, Config: cfg, Logger: app.NewLogger(cfg, os.Stderr)})
	if err != nil {
		return err
	}
	defer rt.Close()

	var backend store.Backend
	if name := viper.GetString("state"); name != "" {
		backend, err = rt.Backend(name)
		if err != nil {
			return err
		}
		if _, err := rt.Orchestrator.RestoreSnapshot(ctx, backend); err != nil {
			if !errors.Is(err, store.ErrSnapshotNotFound) {
				return err
			}
			rt.Logger.Info("no snapshot yet; starting fresh", "backend", name)
		}
	}
	if err := fn(ctx, rt); err != nil {
		return err
	}
	if persist && backend != nil {
		return rt.Orchestrator.SaveSnapshot(context.WithoutCancel(ctx), backend)
	}
	return nil
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo, *config.Config) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn}, cfg)
}

func printStatus(st orchestrator.Status) {
	fmt.Printf("Company: %s  ticks: %d  actors: %d (%d active)  messages: %d\n", st.CompanyID, st.Ticks, st.Actors, st.ActiveActors, st.Messages)
	fmt.Printf("Queue: %d  open breakers: %d  anomalies: %d\n", st.QueueDepth, st.OpenBreakers, st.Anomalies)
	statuses := make([]string, 0, len(st.Tasks))
	for s := range st.Tasks {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Printf("  %s: %d\n", s, st.Tasks[domain.TaskStatus(s)])
	}
}

func printActors(actors []domain.ActorState) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Role", "Workload", "Current", "Completed", "Failed", "Last active"})
	for _, a := range actors {
		tw.AppendRow(table.Row{
			a.Role,
			fmt.Sprintf("%.2f", a.Workload),
			len(a.CurrentTasks),
			a.Metrics.TasksCompleted,
			a.Metrics.TasksFailed,
			a.LastActiveAt.Format(time.RFC3339),
		})
	}
	tw.Render()
}

func printTicks(reports []orchestrator.TickReport) {
	if len(reports) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Tick", "Delivered", "Deferred", "Dropped", "Degraded", "Tasks", "Alerts", "Remaining"})
	for _, r := range reports {
		tw.AppendRow(table.Row{r.Tick, r.Delivered, r.Deferred, r.Dropped, r.Degraded, r.TasksRun, r.Alerts, r.Remaining})
	}
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func joinRoles(roles []domain.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, " -> ")
}
