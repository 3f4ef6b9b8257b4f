package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"okrbrain/internal/app"
	"okrbrain/internal/db"
	"okrbrain/internal/domain"
	"okrbrain/internal/engine"
	"okrbrain/internal/repo"
	"okrbrain/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "okb",
	Short: "okrbrain CLI",
	Long: `okrbrain keeps a goal hierarchy executable.
It watches the ladder global_okr -> global_kr -> area_okr -> area_kr ->
project -> initiative -> task, finds the places where a layer has no
children, and queues decomposition tasks for agents to pick up. One
'okb tick' is one scan; 'okb serve' exposes the same engine over HTTP.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("OKRBRAIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(tickCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(goalCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(manualModeCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func withApp(ctx context.Context, fn func(context.Context, app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one decomposition scan",
		Long:  "Scan every layer of the goal hierarchy once and queue decomposition tasks for the gaps found. Safe to run repeatedly; duplicates are suppressed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				report := a.Engine.RunDecompositionChecks(ctx)
				if viper.GetBool("json") {
					return printJSON(report)
				}
				if report.Skipped {
					fmt.Printf("tick skipped: %s\n", report.Reason)
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Check", "Action", "Goal", "Project", "Task", "Reason"})
				for _, act := range report.Actions {
					tw.AppendRow(table.Row{act.Check, act.Type, act.GoalID, act.ProjectID, act.TaskID, act.Reason})
				}
				tw.Render()
				fmt.Printf("created=%d skipped=%d rejected=%d errors=%d\n",
					report.Summary.TotalCreated, report.Summary.TotalSkipped,
					report.Summary.TotalRejected, report.Summary.TotalErrors)
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pipeline status",
		Long:  "The scoreboard: manual mode, live counts per layer, and tasks by status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				manual, err := a.Engine.Repo.ManualMode(ctx)
				if err != nil {
					return err
				}
				layers, err := a.Engine.Repo.CountLayers(ctx)
				if err != nil {
					return err
				}
				counts, err := a.Engine.Repo.CountTasksByStatus(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"manual_mode":        manual,
					"active_projects":    layers.ActiveProjects,
					"active_initiatives": layers.ActiveInitiatives,
					"queued_tasks":       layers.QueuedTasks,
					"task_counts":        counts,
				})
			})
		},
	}
}

func goalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goal",
		Short: "Manage goals",
	}
	cmd.AddCommand(goalListCmd())
	cmd.AddCommand(goalCreateCmd())
	cmd.AddCommand(goalStatusCmd())
	return cmd
}

func goalListCmd() *cobra.Command {
	var f repo.GoalFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				goals, err := a.Engine.Repo.ListGoals(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(goals)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Parent", "Title", "Status"})
				for _, g := range goals {
					parent := ""
					if g.ParentID != nil {
						parent = *g.ParentID
					}
					tw.AppendRow(table.Row{g.ID, g.Type, parent, g.Title, g.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Type, "type", "", "goal type filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Parent, "parent", "", "parent goal id")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "max rows")
	return cmd
}

func goalCreateCmd() *cobra.Command {
	var goalType, parent, title, id string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				if title == "" {
					return errors.New("title is required")
				}
				var parentID *string
				if parent != "" {
					p, err := a.Engine.Repo.GetGoal(ctx, parent)
					if err != nil {
						return err
					}
					if domain.ChildGoalType(p.Type) != goalType {
						return fmt.Errorf("parent type %s does not sit directly above %s", p.Type, goalType)
					}
					parentID = &p.ID
				} else if goalType != domain.GoalGlobalOKR {
					return errors.New("parent is required below global_okr")
				}
				g := domain.Goal{
					ID:        id,
					Type:      goalType,
					ParentID:  parentID,
					Title:     title,
					Status:    "active",
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if g.ID == "" {
					g.ID = uuid.NewString()
				}
				if err := a.Engine.Repo.InsertGoal(ctx, g); err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&goalType, "type", domain.GoalAreaKR, "goal type (global_okr|global_kr|area_okr|area_kr)")
	cmd.Flags().StringVar(&parent, "parent", "", "parent goal id")
	cmd.Flags().StringVar(&title, "title", "", "goal title")
	cmd.Flags().StringVar(&id, "id", "", "goal id (generated if empty)")
	return cmd
}

func goalStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <id> <status>",
		Short: "Update goal status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				if err := a.Engine.Repo.UpdateGoalStatus(ctx, args[0], args[1]); err != nil {
					return err
				}
				g, err := a.Engine.Repo.GetGoal(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
}

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects and initiatives",
	}
	cmd.AddCommand(projectListCmd())
	cmd.AddCommand(projectCreateCmd())
	cmd.AddCommand(projectLinkCmd())
	return cmd
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects and initiatives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				projects, err := a.Engine.Repo.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Parent", "KR", "Title", "Status", "Depth"})
				for _, p := range projects {
					parent, kr := "", ""
					if p.ParentID != nil {
						parent = *p.ParentID
					}
					if p.KrID != nil {
						kr = *p.KrID
					}
					tw.AppendRow(table.Row{p.ID, p.Type, parent, kr, p.Title, p.Status, p.DecompositionDepth})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Type, "type", "", "type filter (project|initiative)")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Parent, "parent", "", "parent project id")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "max rows")
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var projType, parent, kr, title, id string
	var depth int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project or initiative",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				if title == "" {
					return errors.New("title is required")
				}
				if projType == "initiative" && parent == "" {
					return errors.New("parent is required for initiatives")
				}
				var parentID, krID *string
				if parent != "" {
					if _, err := a.Engine.Repo.GetProject(ctx, parent); err != nil {
						return err
					}
					parentID = &parent
				}
				if kr != "" {
					if _, err := a.Engine.Repo.GetGoal(ctx, kr); err != nil {
						return err
					}
					krID = &kr
				}
				now := time.Now().UTC().Format(time.RFC3339)
				p := domain.Project{
					ID:                 id,
					Type:               projType,
					ParentID:           parentID,
					KrID:               krID,
					Title:              title,
					Status:             "active",
					DecompositionDepth: depth,
					CreatedAt:          now,
				}
				if p.ID == "" {
					p.ID = uuid.NewString()
				}
				if err := a.Engine.Repo.InsertProject(ctx, p); err != nil {
					return err
				}
				if p.Type == "project" && krID != nil {
					if err := a.Engine.Repo.LinkProjectKr(ctx, p.ID, *krID, now); err != nil {
						return err
					}
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&projType, "type", "project", "project or initiative")
	cmd.Flags().StringVar(&parent, "parent", "", "parent project id")
	cmd.Flags().StringVar(&kr, "kr", "", "key result goal id")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&id, "id", "", "id (generated if empty)")
	cmd.Flags().IntVar(&depth, "depth", 0, "decomposition depth")
	return cmd
}

func projectLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link <project-id> <kr-id>",
		Short: "Link a project to a key result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				if _, err := a.Engine.Repo.GetProject(ctx, args[0]); err != nil {
					return err
				}
				if _, err := a.Engine.Repo.GetGoal(ctx, args[1]); err != nil {
					return err
				}
				now := time.Now().UTC().Format(time.RFC3339)
				if err := a.Engine.Repo.LinkProjectKr(ctx, args[0], args[1], now); err != nil {
					return err
				}
				krIDs, err := a.Engine.Repo.ListProjectKrIDs(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"project_id": args[0], "kr_ids": krIDs})
			})
		},
	}
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskGetCmd())
	cmd.AddCommand(taskStatusCmd())
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				tasks, err := a.Engine.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Type", "Goal", "Project", "Source"})
				for _, t := range tasks {
					goal, project := "", ""
					if t.GoalID != nil {
						goal = *t.GoalID
					}
					if t.ProjectID != nil {
						project = *t.ProjectID
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.TaskType, goal, project, t.TriggerSource})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.GoalID, "goal", "", "goal id filter")
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id filter")
	cmd.Flags().StringVar(&f.TaskType, "type", "", "task type filter")
	cmd.Flags().StringVar(&f.TriggerSource, "source", "", "trigger source filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "max rows")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				t, err := a.Engine.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <id> <status>",
		Short: "Update task status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				if !engine.TaskStatus(args[1]).Valid() {
					return fmt.Errorf("invalid task status %q", args[1])
				}
				now := time.Now().UTC().Format(time.RFC3339)
				if err := a.Engine.Repo.UpdateTaskStatus(ctx, args[0], args[1], now); err != nil {
					return err
				}
				t, err := a.Engine.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func manualModeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manual-mode",
		Short: "Manual-mode kill switch",
		Long:  "When manual mode is on, ticks return immediately without creating anything. Use it to pause automatic decomposition during replans.",
	}
	set := func(use string, enabled bool) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: fmt.Sprintf("Turn manual mode %s", use),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
					value := "false"
					if enabled {
						value = "true"
					}
					now := time.Now().UTC().Format(time.RFC3339)
					if err := a.Engine.Repo.SetFlag(ctx, repo.ManualModeFlag, value, now); err != nil {
						return err
					}
					return printJSONOrTable(map[string]any{"enabled": enabled})
				})
			},
		}
	}
	cmd.AddCommand(set("on", true))
	cmd.AddCommand(set("off", false))
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show manual mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				enabled, err := a.Engine.Repo.ManualMode(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"enabled": enabled})
			})
		},
	})
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var evtType, entityKind, entityID string
	var limit int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				events, err := a.Engine.Repo.LatestEvents(ctx, limit, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "ID", "Actor"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.TS, e.Type, e.EntityKind, e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serve the okrbrain API and, unless --interval is 0, run the decomposition scan on that period in the background.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer a.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("OKRBRAIN_JWT_SECRET"),
				AllowLegacyActorHeader: os.Getenv("OKRBRAIN_ALLOW_LEGACY_ACTOR") == "true",
			}
			handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			if interval > 0 {
				go runScheduler(cmd.Context(), a.Engine, interval)
			}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving okrbrain API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8623", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "scheduler tick interval (0 disables)")
	return cmd
}

// runScheduler runs ticks on a fixed period until ctx is canceled.
// Ticks never overlap: the next one waits for the previous to return.
func runScheduler(ctx context.Context, e engine.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := e.RunDecompositionChecks(ctx)
			if report.Summary.TotalErrors > 0 || report.Summary.Error != "" {
				fmt.Printf("tick finished with errors: created=%d errors=%d %s\n",
					report.Summary.TotalCreated, report.Summary.TotalErrors, report.Summary.Error)
			}
		}
	}
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
