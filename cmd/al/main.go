package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"agentline/internal/app"
	"agentline/internal/config"
	"agentline/internal/db"
	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/metrics"
	"agentline/internal/provider"
	"agentline/internal/repo"
	"agentline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "al",
	Short: "Agentline CLI",
	Long: `Agentline runs governed agent actions over business records.
Every mutation an agent performs is recorded as an action with before/after
snapshots, can be inspected, and can be rolled back. Daily quotas bound what
each principal may spend, and request parameters are clamped to configured
limits before they reach the model.`,
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
	viper.SetEnvPrefix("AGENTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("principal", "local-user", "principal identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("principal", rootCmd.PersistentFlags().Lookup("principal"))
}

func registerCommands() {
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(quotaCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func chatCmd() *cobra.Command {
	var message, session, agent, model string
	var temperature float64
	var maxTokens int
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run one governed conversation turn",
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return fmt.Errorf("--message required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				overrides := engine.RequestOverrides{Model: model}
				if cmd.Flags().Changed("temperature") {
					overrides.Temperature = &temperature
				}
				if cmd.Flags().Changed("max-tokens") {
					overrides.MaxTokens = &maxTokens
				}
				result, err := e.Chat(ctx, engine.ChatRequest{
					PrincipalID: viper.GetString("principal"),
					SessionID:   session,
					AgentName:   agent,
					Message:     message,
					Overrides:   overrides,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(result)
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "user message")
	cmd.Flags().StringVar(&session, "session", "", "session id to continue")
	cmd.Flags().StringVar(&agent, "agent", "", "agent name")
	cmd.Flags().StringVar(&model, "model", "", "model override")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "temperature override (clamped)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "max tokens override (clamped)")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func toolsCmd() *cobra.Command {
	tools := &cobra.Command{Use: "tools", Short: "Inspect registered tools"}
	tools.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				defs := e.Tools.List()
				if viper.GetBool("json") {
					return printJSON(defs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Category", "Target", "Description"})
				for _, d := range defs {
					tw.AppendRow(table.Row{d.Name, d.Category, d.TargetType, d.Description})
				}
				tw.Render()
				return nil
			})
		},
	})
	return tools
}

func agentCmd() *cobra.Command {
	agent := &cobra.Command{Use: "agent", Short: "Manage agents"}
	agent.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				agents, err := e.Repo.ListAgents(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(agents)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Display Name", "Model", "Auto Execute", "Active"})
				for _, a := range agents {
					tw.AppendRow(table.Row{a.Name, a.DisplayName, a.LLMModel, a.AutoExecute, a.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	})
	return agent
}

func actionCmd() *cobra.Command {
	action := &cobra.Command{Use: "action", Short: "Inspect and reverse actions"}
	action.AddCommand(actionListCmd())
	action.AddCommand(actionShowCmd())
	action.AddCommand(actionRollbackCmd())
	return action
}

func actionListCmd() *cobra.Command {
	var f repo.ActionFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List action records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if f.Limit == 0 {
					f.Limit = 50
				}
				actions, err := e.Repo.ListActions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(actions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Target", "Target ID", "Created"})
				for _, a := range actions {
					tw.AppendRow(table.Row{a.ID, a.ActionType, a.Status, a.TargetType, a.TargetID, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.SessionID, "session", "", "session filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.ActionType, "type", "", "action type filter")
	cmd.Flags().StringVar(&f.TargetType, "target-type", "", "target type filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max results")
	return cmd
}

func actionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one action record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := e.Repo.GetAction(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func actionRollbackCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "rollback <id>",
		Short: "Reverse an executed action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				result, err := e.Rollback(ctx, args[0], reason, viper.GetString("principal"))
				if err != nil {
					return err
				}
				for _, w := range result.Warnings {
					fmt.Println("warning:", w)
				}
				return printJSONOrTable(result.Action)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the action is being reversed")
	return cmd
}

func sessionCmd() *cobra.Command {
	session := &cobra.Command{Use: "session", Short: "Inspect conversation sessions"}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				sessions, err := e.Repo.ListSessions(ctx, viper.GetString("principal"), limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sessions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Actions", "OK", "Failed", "Updated"})
				for _, s := range sessions {
					tw.AppendRow(table.Row{s.SessionID, s.Title, s.TotalActions, s.SuccessfulActions, s.FailedActions, s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "max results")
	session.AddCommand(list)
	session.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show one session with its message log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.Repo.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	})
	return session
}

func quotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show daily quota usage for the principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return printJSONOrTable(e.Quota.Status(viper.GetString("principal")))
			})
		},
	}
}

func auditCmd() *cobra.Command {
	audit := &cobra.Command{Use: "audit", Short: "Inspect the request audit buffer"}
	var since string
	summary := &cobra.Command{
		Use:   "summary",
		Short: "Aggregate stats over the audit buffer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return printJSONOrTable(e.Audit.Summary(since))
			})
		},
	}
	summary.Flags().StringVar(&since, "since", "", "RFC3339 lower bound for the window")
	audit.AddCommand(summary)
	var limit int
	entries := &cobra.Command{
		Use:   "entries",
		Short: "Recent audit entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return printJSONOrTable(e.Audit.ListEntries(engine.AuditFilters{Limit: limit}))
			})
		},
	}
	entries.Flags().IntVar(&limit, "limit", 100, "max results")
	audit.AddCommand(entries)
	return audit
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	logc.AddCommand(tail)
	return logc
}

func apikeyCmd() *cobra.Command {
	apikey := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the principal (shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := make([]byte, 24)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				key := "al_" + hex.EncodeToString(raw)
				principal := viper.GetString("principal")
				if err := r.EnsureActor(ctx, principal, time.Now().UTC().Format(time.RFC3339)); err != nil {
					return err
				}
				if err := r.InsertAPIKey(ctx, nil, domain.APIKey{
					ID:          uuid.NewString(),
					PrincipalID: principal,
					Name:        name,
					KeyHash:     repo.HashAPIKey(key),
				}); err != nil {
					return err
				}
				fmt.Println(key)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	apikey.AddCommand(create)
	apikey.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys for the principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, viper.GetString("principal"))
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	})
	return apikey
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	})
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default config to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			path := config.Path(viper.GetString("workspace"))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("imported config for agent %s to %s\n", cfg.Agent.Name, path)
			return nil
		},
	}
	importCmd.Flags().StringVar(&file, "file", "", "config yaml file")
	cfgCmd.AddCommand(importCmd)
	return cfgCmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer log.Sync()

			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := app.Bootstrap(cmd.Context(), conn, cfg, log); err != nil {
				return err
			}
			reg := prometheus.NewRegistry()
			m := metrics.NewMetrics(reg)
			e, err := engine.New(cfg, conn, newProvider(cfg, log), m, log)
			if err != nil {
				return err
			}
			authCfg := server.AuthConfig{
				JWTSecret: os.Getenv("AGENTLINE_JWT_SECRET"),
				Logger:    log,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("AGENTLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			mux.Handle("/", handler)
			srv := &http.Server{Addr: addr, Handler: mux}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			log.Info("serving", zap.String("addr", addr), zap.String("base_path", basePath))
			fmt.Printf("Serving Agentline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

func newProvider(cfg *config.Config, log *zap.Logger) provider.Provider {
	return provider.NewReliable(provider.Static{}, provider.ReliableOptions{
		RatePerSecond: cfg.Provider.RatePerSecond,
		Burst:         cfg.Provider.Burst,
		RetryAttempts: cfg.Provider.RetryAttempts,
		BreakerTrips:  cfg.Provider.BreakerTrips,
	}, log)
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := zap.NewNop()
	if err := app.Bootstrap(ctx, conn, cfg, log); err != nil {
		return err
	}
	e, err := engine.New(cfg, conn, newProvider(cfg, log), nil, log)
	if err != nil {
		return err
	}
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := app.Bootstrap(ctx, conn, cfg, zap.NewNop()); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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
