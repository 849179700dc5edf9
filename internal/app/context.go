// Package app wires a workspace into a ready engine for the CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"checkorder/internal/config"
	"checkorder/internal/db"
	"checkorder/internal/engine"
	"checkorder/internal/logging"
	"checkorder/internal/migrate"
)

type Options struct {
	Workspace string
	// ConfigPath overrides the config file found in the workspace.
	ConfigPath string
	// LogLevel overrides the configured level when set.
	LogLevel string
	LogOut   io.Writer
}

// Env is an opened workspace: a migrated database, its config and an
// engine bound to both.
type Env struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
	Logger    zerolog.Logger
}

// ResolveConfig prefers an explicit path, then the workspace config file,
// then the defaults.
func ResolveConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.FromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// NewLogger builds the logger configured by cfg; level overrides the
// configured level when set.
func NewLogger(cfg *config.Config, level string, out io.Writer) zerolog.Logger {
	if level == "" {
		level = cfg.Logging.Level
	}
	return logging.New("checkorder", logging.Options{Level: level, Format: cfg.Logging.Format, Out: out})
}

// Open resolves config, opens and migrates the workspace database and
// builds the engine. Callers must Close the Env.
func Open(ctx context.Context, opts Options) (*Env, error) {
	cfg, err := ResolveConfig(opts.Workspace, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	logger := NewLogger(cfg, opts.LogLevel, opts.LogOut)

	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	applied, err := migrate.MigrateContext(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if applied > 0 {
		logger.Info().Int("applied", applied).Str("db", db.Path(opts.Workspace)).Msg("schema migrated")
	}

	e := engine.New(conn, cfg)
	e.Logger = logger.With().Str("component", "engine").Logger()
	return &Env{
		Workspace: opts.Workspace,
		DB:        conn,
		Config:    cfg,
		Engine:    e,
		Logger:    logger,
	}, nil
}

func (e *Env) Close() error {
	if e == nil || e.DB == nil {
		return nil
	}
	return e.DB.Close()
}
