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
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sitepilot/internal/action"
	"sitepilot/internal/broadcast"
	"sitepilot/internal/config"
	"sitepilot/internal/db"
	"sitepilot/internal/domain"
	"sitepilot/internal/executor"
	"sitepilot/internal/llm"
	"sitepilot/internal/migrate"
	"sitepilot/internal/orchestrator"
	"sitepilot/internal/repo"
	"sitepilot/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sitepilot",
	Short: "SitePilot CLI",
	Long: `SitePilot is an assistant backend for construction project management.
It turns chat messages into audited actions over tasks, budgets, schedules
and quality checks, and serves the same actions over an HTTP API.`,
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
	_ = godotenv.Load()
	viper.SetEnvPrefix("SITEPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "user identifier")
	rootCmd.PersistentFlags().String("project", "", "project id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(companyCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(qualityCmd())
	rootCmd.AddCommand(forecastCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(memoryCmd())
	rootCmd.AddCommand(apikeyCmd())
}

func companyCmd() *cobra.Command {
	company := &cobra.Command{Use: "company", Short: "Manage companies"}
	company.AddCommand(companyCreateCmd())
	return company
}

func companyCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a company and join it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			if id == "" {
				id = uuid.New().String()
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC().Format(time.RFC3339)
				c := domain.Company{ID: id, Name: name, Status: "active", CreatedAt: now}
				if err := r.InsertCompany(ctx, c); err != nil {
					return err
				}
				m := domain.Membership{
					CompanyID: id,
					UserID:    viper.GetString("user-id"),
					Role:      "owner",
					Active:    true,
					CreatedAt: now,
				}
				if err := r.UpsertMembership(ctx, m); err != nil {
					return err
				}
				return printJSONOrIndent(c)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "company id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "company name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o orchestrator.Orchestrator) error {
				scope, err := o.Scope(ctx, viper.GetString("user-id"), "")
				if err != nil {
					return err
				}
				items, err := o.Repo.ListProjects(ctx, scope.CompanyID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Variant"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.SchemaVariant})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var id, name, variant string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			if id == "" {
				id = uuid.New().String()
			}
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o orchestrator.Orchestrator) error {
				scope, err := o.Scope(ctx, viper.GetString("user-id"), "")
				if err != nil {
					return err
				}
				p := domain.Project{
					ID:            id,
					CompanyID:     scope.CompanyID,
					Name:          name,
					Status:        "active",
					SchemaVariant: variant,
					CreatedAt:     time.Now().UTC().Format(time.RFC3339),
				}
				if err := o.Repo.InsertProject(ctx, p); err != nil {
					return err
				}
				return printJSONOrIndent(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&variant, "schema-variant", "standard", "task table variant (standard, legacy)")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskDeleteAllCmd())
	return task
}

func taskListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o orchestrator.Orchestrator) error {
				scope, err := o.Scope(ctx, viper.GetString("user-id"), viper.GetString("project"))
				if err != nil {
					return err
				}
				route, err := o.Executor.Route(ctx, scope.ProjectID)
				if err != nil {
					return err
				}
				tasks, err := o.Repo.ListTasks(ctx, route.TaskTable, scope.ProjectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assigned", "Due"})
				for _, t := range tasks {
					assigned := ""
					if t.AssignedTo != nil {
						assigned = *t.AssignedTo
					}
					due := ""
					if t.DueDate != nil {
						due = *t.DueDate
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, assigned, due})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var payload action.CreateTaskPayload
	var budget float64
	var modules []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task with optional cost and schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("budget") {
				payload.Budget = &budget
			}
			if len(modules) == 0 {
				modules = []string{action.ModuleTasks}
				if payload.Budget != nil {
					modules = append(modules, action.ModuleCost)
				}
				if payload.DueDate != "" {
					modules = append(modules, action.ModuleTime)
				}
				if payload.AssignedTo != "" {
					modules = append(modules, action.ModuleTeam)
				}
			}
			data, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			return runCommand(cmd.Context(), action.Descriptor{
				Action:  action.KindCreateTaskWithCostAndSchedule,
				Modules: modules,
				Data:    data,
			})
		},
	}
	cmd.Flags().StringVar(&payload.Title, "title", "", "task title")
	cmd.Flags().StringVar(&payload.Description, "description", "", "description")
	cmd.Flags().StringVar(&payload.Priority, "priority", "", "priority")
	cmd.Flags().StringVar(&payload.StartDate, "start-date", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&payload.DueDate, "due-date", "", "due date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&budget, "budget", 0, "budget amount")
	cmd.Flags().StringVar(&payload.AssignedTo, "assigned-to", "", "assignee")
	cmd.Flags().StringSliceVar(&modules, "modules", nil, "modules to involve")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskDeleteAllCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete-all",
		Short: "Delete every task in the current scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing without --yes")
			}
			return runCommand(cmd.Context(), action.Descriptor{
				Action:  action.KindDeleteAllTasks,
				Modules: []string{action.ModuleTasks},
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func qualityCmd() *cobra.Command {
	quality := &cobra.Command{Use: "quality", Short: "Manage quality checks"}
	quality.AddCommand(qualityShiftCmd())
	return quality
}

func qualityShiftCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "shift",
		Short: "Shift scheduled quality checks by N days",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.Marshal(action.QualitySchedulePayload{DelayDays: days})
			if err != nil {
				return err
			}
			return runCommand(cmd.Context(), action.Descriptor{
				Action:  action.KindUpdateQualitySchedule,
				Modules: []string{action.ModuleQuality, action.ModuleTime},
				Data:    data,
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "days to shift (negative moves earlier)")
	_ = cmd.MarkFlagRequired("days")
	return cmd
}

func forecastCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Estimate the cost impact of a schedule delay",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.Marshal(action.ForecastPayload{DelayDays: days})
			if err != nil {
				return err
			}
			return runCommand(cmd.Context(), action.Descriptor{
				Action:  action.KindForecastCostImpact,
				Modules: []string{action.ModuleCost, action.ModuleTime},
				Data:    data,
			})
		},
	}
	cmd.Flags().IntVar(&days, "delay-days", 0, "delay in days")
	_ = cmd.MarkFlagRequired("delay-days")
	return cmd
}

func agentCmd() *cobra.Command {
	agent := &cobra.Command{Use: "agent", Short: "Talk to the agent"}
	agent.AddCommand(agentSendCmd())
	return agent
}

func agentSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o orchestrator.Orchestrator) error {
				scope, err := o.Scope(ctx, viper.GetString("user-id"), viper.GetString("project"))
				if err != nil {
					return err
				}
				reply, err := o.HandleMessage(ctx, scope, orchestrator.Turn{Message: args[0]})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reply)
				}
				fmt.Println(reply.Text)
				return nil
			})
		},
	}
	return cmd
}

func auditCmd() *cobra.Command {
	audit := &cobra.Command{Use: "audit", Short: "Inspect the audit log"}
	audit.AddCommand(auditTailCmd())
	return audit
}

func auditTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o orchestrator.Orchestrator) error {
				scope, err := o.Scope(ctx, viper.GetString("user-id"), "")
				if err != nil {
					return err
				}
				entries, err := o.Audit.Recent(ctx, scope.CompanyID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Action", "OK", "MS", "When"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.ID, e.ActionType, e.Success, e.ExecutionMS, e.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

func memoryCmd() *cobra.Command {
	mem := &cobra.Command{Use: "memory", Short: "Inspect conversation memory"}
	mem.AddCommand(memoryShowCmd())
	return mem
}

func memoryShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show remembered actions for the current scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o orchestrator.Orchestrator) error {
				scope, err := o.Scope(ctx, viper.GetString("user-id"), viper.GetString("project"))
				if err != nil {
					return err
				}
				history, err := o.Memory.History(ctx, scope)
				if err != nil {
					return err
				}
				return printJSONOrIndent(history)
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.New().String()
				k := domain.APIKey{
					ID:        uuid.New().String(),
					UserID:    viper.GetString("user-id"),
					Name:      name,
					Hash:      repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, k); err != nil {
					return err
				}
				fmt.Printf("API key %s created. Store this value, it is not shown again:\n%s\n", k.ID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("SITEPILOT_JWT_SECRET is required for bearer auth")
			}
			provider := llm.NewProvider(cfg.OpenAI)
			if provider != nil {
				fmt.Printf("Language model: %s\n", provider.Name())
			} else {
				fmt.Println("No language model configured; direct commands only")
			}
			o := orchestrator.New(
				executor.New(conn, cfg),
				provider,
				broadcast.New(cfg.Broadcast),
				cfg,
			)
			handler, err := server.New(server.Config{
				Orchestrator: o,
				BasePath:     basePath,
				Auth:         server.AuthConfig{JWTSecret: cfg.JWTSecret},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving SitePilot API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withOrchestrator(ctx context.Context, fn func(context.Context, orchestrator.Orchestrator) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	o := orchestrator.New(
		executor.New(conn, cfg),
		llm.NewProvider(cfg.OpenAI),
		broadcast.New(cfg.Broadcast),
		cfg,
	)
	return fn(ctx, o)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

// runCommand resolves the CLI scope, executes one descriptor and prints the
// outcome envelope.
func runCommand(ctx context.Context, desc action.Descriptor) error {
	return withOrchestrator(ctx, func(ctx context.Context, o orchestrator.Orchestrator) error {
		scope, err := o.Scope(ctx, viper.GetString("user-id"), viper.GetString("project"))
		if err != nil {
			return err
		}
		env := o.ExecuteCommand(ctx, scope, desc)
		if viper.GetBool("json") {
			return printJSON(env)
		}
		if !env.Success {
			return fmt.Errorf("%s", env.Error)
		}
		if env.Message != "" {
			fmt.Println(env.Message)
		}
		for _, r := range env.Results {
			b, _ := json.MarshalIndent(r, "", "  ")
			fmt.Println(string(b))
		}
		return nil
	})
}

func printJSONOrIndent(v any) error {
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
