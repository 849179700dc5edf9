package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"checkorder/internal/app"
	"checkorder/internal/collection"
	"checkorder/internal/config"
	"checkorder/internal/db"
	"checkorder/internal/engine"
	"checkorder/internal/migrate"
	"checkorder/internal/ordering"
	"checkorder/internal/server"
	checkordersdk "checkorder/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "checkorder",
	Short: "checkorder CLI",
	Long: `checkorder keeps lists and their items in a user-defined order.
- Every item carries a decimal position key; a parent's items are sorted by key, ascending or descending per config.
- Moves pick a key between the new neighbours, so only the moved item is written.
- compact rewrites the keys of a parent to 1, 5, 9, ... when they grow long.
- Commands work on the local workspace database, or on a running server with --server.`,
	SilenceUsage: true,
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
	viper.SetEnvPrefix("CHECKORDER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (defaults to the workspace checkorder.yml or checkorder.toml)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier recorded in events")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flags.String("server", "", "checkorder server URL; commands run against it instead of the local database")
	flags.String("token", "", "bearer token for --server")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "log-level", "server", "token"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(moveCmd())
	rootCmd.AddCommand(reorderCmd())
	rootCmd.AddCommand(compactCmd())
	rootCmd.AddCommand(previewCmd())
	rootCmd.AddCommand(eventsCmd())
}

func initCmd() *cobra.Command {
	var force, toml bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace database and a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			content := config.GenerateDefault()
			if toml {
				path = strings.TrimSuffix(path, filepath.Ext(path)) + ".toml"
				content = config.GenerateDefaultTOML()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}
			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()
			fmt.Printf("Initialized %s (config %s)\n", db.Path(workspace), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.Flags().BoolVar(&toml, "toml", false, "write checkorder.toml instead of checkorder.yml")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
			if err != nil {
				return err
			}
			if err := c.Validate(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cfg
}

func migrateCmd() *cobra.Command {
	m := &cobra.Command{Use: "migrate", Short: "Manage the database schema"}
	m.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			st, err := migrate.Inspect(cmd.Context(), conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(st)
			}
			fmt.Printf("schema version %d of %d (%d pending)\n", st.Current, st.Latest, st.Pending)
			return nil
		},
	})
	m.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			n, err := migrate.MigrateContext(cmd.Context(), conn)
			if err != nil {
				return err
			}
			fmt.Printf("applied %d migration(s)\n", n)
			return nil
		},
	})
	return m
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var metrics bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()
			if addr == "" {
				addr = env.Config.Server.Addr
			}
			if basePath == "" {
				basePath = env.Config.Server.BasePath
			}
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				secret = env.Config.Server.JWTSecret
			}
			logger := env.Logger.With().Str("component", "server").Logger()
			if secret == "" {
				logger.Warn().Msg("no JWT secret configured; requests are attributed to X-Actor-Id without authentication")
			}
			handler, err := server.New(server.Config{
				Engine:   env.Engine,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret, Logger: logger},
				Logger:   logger,
				Metrics:  metrics,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving checkorder API (OpenAPI at <base>/openapi.json, Swagger UI at /docs)")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if d := server.NewWebhookDispatcher(env.Engine, env.Logger); d != nil {
				g.Go(func() error { return d.Run(gctx) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	cmd.Flags().BoolVar(&metrics, "metrics", true, "expose Prometheus metrics at /metrics")
	cmd.Flags().String("jwt-secret", "", "HS256 secret; when set every API call needs a bearer token")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// --- helpers ---

func openEnv(ctx context.Context) (*app.Env, error) {
	return app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		LogLevel:   viper.GetString("log-level"),
	})
}

// withService runs fn against the server named by --server, or against the
// local workspace engine.
func withService(ctx context.Context, fn func(context.Context, collection.Service, *config.Config) error) error {
	if url := viper.GetString("server"); url != "" {
		cfg, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
		if err != nil {
			return err
		}
		return fn(ctx, remoteClient(url), cfg)
	}
	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, engine.Local{Engine: env.Engine, ActorID: viper.GetString("actor-id")}, env.Config)
}

func remoteClient(url string) *checkordersdk.Client {
	c := checkordersdk.New(url)
	c.BearerToken = viper.GetString("token")
	c.ActorID = viper.GetString("actor-id")
	return c
}

// collectionFor builds a Collection ordered the way the server orders
// parentID.
func collectionFor(svc collection.Service, cfg *config.Config, parentID string) *collection.Collection {
	kind, part := "items", ordering.PartitionChecked
	if parentID == cfg.Ordering.RootParentID {
		kind, part = "lists", ordering.PartitionArchived
	}
	logger := app.NewLogger(cfg, viper.GetString("log-level"), nil)
	return collection.New(svc, collection.Config{
		Kind:      kind,
		Direction: cfg.DirectionFor(parentID),
		Partition: part,
	}, collection.WithLogger(logger))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
