package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"actionboard/internal/app"
	"actionboard/internal/config"
	"actionboard/internal/engine"
	"actionboard/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ab",
	Short: "actionboard CLI",
	Long: `actionboard configures an organization's onboarding: pick actions from the catalog,
flag favorites, add members and group them into teams.
- Catalog: read-only categories of actions; some categories are mandatory with a minimum.
- Session: one run through the wizard, served over HTTP by 'ab serve'.
- Commit: the finished configuration, stored in the workspace database.
- Event log: what was committed and when, view with 'ab log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(viper.GetString("log-level"), viper.GetString("log-format"))
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
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
	viper.SetEnvPrefix("ACTIONBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/actionboard.yml)")
	rootCmd.PersistentFlags().String("db", "", "sqlite database path (default <workspace>/.actionboard/actionboard.db)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	for _, name := range []string{"workspace", "config", "db", "json", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(flowCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
}

func appOptions() app.Options {
	return app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		DBPath:     viper.GetString("db"),
		Logger:     slog.Default(),
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, appOptions())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is the rulebook in actionboard.yml: mandatory categories and their minimums, wizard flows, favorites backend and persistence driver.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(appOptions())
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.LoadConfig(appOptions())
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

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default actionboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "catalog", Short: "Browse the action catalog"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cats := a.Catalog.Categories()
				if viper.GetBool("json") {
					return printJSON(cats)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Mandatory", "Required", "Actions"})
				for _, c := range cats {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Mandatory, c.Required(), len(c.Actions)})
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <category-id>",
		Short: "List the actions of a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Catalog.MustCategory(args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle(c.Name)
				tw.AppendHeader(table.Row{"ID", "Name", "Impact"})
				for _, act := range c.Actions {
					tw.AppendRow(table.Row{act.ID, act.Name, act.ImpactScale})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

func orgCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "org", Short: "Committed organizations"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List committed organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				orgs, err := a.Directory.ListOrganizations(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orgs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Committed", "Selected", "Teams", "Members"})
				for _, o := range orgs {
					tw.AppendRow(table.Row{o.ID, o.Name, o.CommittedAt, o.Selected, o.Teams, o.Members})
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <org-id>",
		Short: "Show a committed configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				snap, err := a.Engine.Store.Load(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snap)
				}
				fmt.Printf("%s (%s) committed %s\n", snap.Organization.Name, snap.Organization.ID, snap.CommittedAt)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle("Selection")
				tw.AppendHeader(table.Row{"Category", "Selected", "Favorites"})
				for _, c := range a.Catalog.Categories() {
					ids := snap.Selection.ByCategory[c.ID]
					if len(ids) == 0 {
						continue
					}
					tw.AppendRow(table.Row{c.Name, len(ids), len(snap.Favorites[c.ID])})
				}
				tw.Render()

				names := map[string]string{}
				for _, m := range snap.Members {
					names[m.ID] = m.FullName
				}
				tt := table.NewWriter()
				tt.SetOutputMirror(os.Stdout)
				tt.SetTitle("Teams")
				tt.AppendHeader(table.Row{"Team", "Functions", "Members"})
				for _, t := range snap.Teams {
					var members []string
					for _, id := range t.MemberIDs {
						members = append(members, names[id])
					}
					tt.AppendRow(table.Row{t.Name, strings.Join(t.Functions(), ", "), strings.Join(members, ", ")})
				}
				tt.Render()
				return nil
			})
		},
	})
	return cmd
}

func flowCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "flow", Short: "Wizard flows"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured flows and their steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(appOptions())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg.Flows)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Flow", "Default", "Steps"})
			for name, steps := range cfg.Flows {
				tw.AppendRow(table.Row{name, name == cfg.DefaultFlow, strings.Join(steps, " -> ")})
			}
			tw.SortBy([]table.SortBy{{Name: "Flow", Mode: table.Asc}})
			tw.Render()
			return nil
		},
	})
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of committed configurations.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var orgID, evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.Repo == nil {
					return errors.New("event log requires the sqlite persistence driver")
				}
				events, err := a.Repo.LatestEvents(ctx, n, 0, orgID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Org", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.OrgID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 20, "number of events")
	cmd.Flags().StringVar(&orgID, "org", "", "organization filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if !cmd.Flags().Changed("addr") && a.Config.Server.Addr != "" {
					addr = a.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && a.Config.Server.BasePath != "" {
					basePath = a.Config.Server.BasePath
				}
				sessions := engine.NewRegistry(a.Engine)
				defer sessions.CloseAll()
				cfg := server.Config{
					Registry:      sessions,
					Organizations: a.Directory,
					BasePath:      basePath,
					Gatherer:      a.Registry,
				}
				if a.Repo != nil {
					cfg.History = a.Repo
					if len(a.Config.Webhooks) > 0 {
						go server.NewWebhookDispatcher(a.Repo, a.Config.Webhooks, slog.Default()).Run(ctx)
					}
				}
				handler, err := server.New(cfg)
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				slog.Info("serving actionboard API", "addr", addr, "base_path", basePath, "openapi", basePath+"/openapi.json", "docs", "/docs", "metrics", "/metrics")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
