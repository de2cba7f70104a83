package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"

	"queueline/internal/app"
	"queueline/internal/config"
	"queueline/internal/db"
	"queueline/internal/engine/auth"
	"queueline/internal/migrate"
	"queueline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ql",
	Short: "Queueline CLI",
	Long: `Queueline routes tasks through workbaskets guarded by access items.
Core concepts:
- Workbasket: a queue of tasks owned by a group, a person or a topic. Deleting one with open tasks marks it instead.
- Access item: the permissions (read, open, append, transfer, distribute, custom1..12) an accessor holds on a workbasket.
- Distribution target: a workbasket a source may hand tasks to.
- Task: READY -> CLAIMED -> COMPLETED, or CANCELLED / TERMINATED. Claiming sets the owner; completing keeps it.
- Classification: a domain-scoped category giving tasks their priority and service level.
- Identity: --user and --group pick who you act as; admin roles come from queueline.yml.
- History: every change is recorded, view it with 'ql history'.`,
	SilenceUsage: true,
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("QUEUELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("user", "u", "", "user id to act as")
	rootCmd.PersistentFlags().StringSliceP("group", "g", nil, "additional group ids of the user")
	rootCmd.PersistentFlags().String("db-url", "", "database URL (overrides database.url)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("group", rootCmd.PersistentFlags().Lookup("group"))
	_ = viper.BindPFlag("db-url", rootCmd.PersistentFlags().Lookup("db-url"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(dbCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(workbasketCmd())
	rootCmd.AddCommand(accessCmd())
	rootCmd.AddCommand(distributionCmd())
	rootCmd.AddCommand(classificationCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace and a default queueline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !overwrite {
				return fmt.Errorf("%s already exists (use --overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			rt, err := app.Open(cmd.Context(), workspace, viper.GetString("db-url"))
			if err != nil {
				return err
			}
			defer rt.Close()
			fmt.Printf("Initialized workspace %s (config %s)\n", workspace, path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing config file")
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Inspect workspace config"}
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default()
			}
			return printJSON(cfg)
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := config.FromFile(path); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", path)
			return nil
		},
	})
	return c
}

func dbCmd() *cobra.Command {
	c := &cobra.Command{Use: "db", Short: "Database maintenance"}
	c.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show schema version and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			url := viper.GetString("db-url")
			if url == "" && cfg != nil {
				url = cfg.Database.URL
			}
			conn, err := db.Open(db.Config{Workspace: workspace, URL: url})
			if err != nil {
				return err
			}
			defer conn.Close()
			st, err := migrate.CheckStatus(cmd.Context(), conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(st)
			}
			fmt.Printf("schema version %d of %d\n", st.Current, st.Latest)
			for _, name := range st.Pending {
				fmt.Println("pending:", name)
			}
			return nil
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				fmt.Println("database is up to date")
				return nil
			})
		},
	})
	return c
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity and roles the CLI acts with",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				out := map[string]any{
					"access_id": id.UserID,
					"groups":    id.Groups,
					"roles":     rt.Engine.RolesOf(id).List(),
				}
				return printJSON(out)
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	var groups []string
	cmd := &cobra.Command{
		Use:   "token <user>",
		Short: "Sign a bearer token for the HTTP API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("QUEUELINE_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("QUEUELINE_JWT_SECRET is required to sign tokens")
			}
			token, err := server.SignToken(secret, args[0], groups, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringSliceVar(&groups, "groups", nil, "groups claim")
	return cmd
}

func historyCmd() *cobra.Command {
	var n int
	var cursor int64
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				events, err := rt.Engine.History(ctx, id, n, cursor, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "TS", "Type", "Entity", "Actor")
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().Int64Var(&cursor, "before", 0, "only events with a smaller id")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noWebhooks bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Open(cmd.Context(), viper.GetString("workspace"), viper.GetString("db-url"))
			if err != nil {
				return err
			}
			defer rt.Close()
			logger := app.NewLogger(os.Stderr, rt.Config)
			if addr == "" {
				addr = rt.Config.Server.Addr
			}
			if basePath == "" {
				basePath = rt.Config.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:               os.Getenv("QUEUELINE_JWT_SECRET"),
				AllowLegacyAccessHeader: rt.Config.Server.AllowLegacyAccessHeader,
				Logger:                  logger,
			}
			if authCfg.JWTSecret == "" {
				logger.Warn("QUEUELINE_JWT_SECRET is not set; bearer tokens are rejected")
			}
			handler, err := server.New(server.Config{
				Engine:   rt.Engine,
				BasePath: basePath,
				Auth:     authCfg,
				Webhooks: !noWebhooks,
				Context:  cmd.Context(),
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
			logger.Info("serving queueline API", "addr", addr, "base_path", basePath, "openapi", basePath+"/openapi.json")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	cmd.Flags().BoolVar(&noWebhooks, "no-webhooks", false, "do not deliver configured webhooks")
	return cmd
}

// --- helpers ---

// withRuntime opens the workspace and resolves the --user/--group identity.
func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime, auth.Identity) error) error {
	rt, err := app.Open(ctx, viper.GetString("workspace"), viper.GetString("db-url"))
	if err != nil {
		return err
	}
	defer rt.Close()
	id, err := rt.Identity(ctx, viper.GetString("user"), viper.GetStringSlice("group")...)
	if err != nil {
		return err
	}
	return fn(ctx, rt, id)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readJSONC reads a JSON file that may carry comments and trailing commas.
func readJSONC(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
