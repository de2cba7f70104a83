package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"queueline/internal/config"
	"queueline/internal/db"
	"queueline/internal/engine"
	"queueline/internal/engine/auth"
	"queueline/internal/migrate"
)

// Runtime bundles what the CLI and the server need for one workspace.
type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
}

func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Open loads the workspace config, falling back to defaults when the file is
// absent, opens the database and applies pending migrations. A non-empty
// dbURL overrides database.url from the config.
func Open(ctx context.Context, workspace, dbURL string) (*Runtime, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if dbURL == "" {
		dbURL = cfg.Database.URL
	}
	conn, err := db.Open(db.Config{Workspace: workspace, URL: dbURL})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Runtime{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    engine.New(conn, cfg),
	}, nil
}

// Identity builds the caller identity of userID, merging extra groups with
// the ones the directory knows.
func (r *Runtime) Identity(ctx context.Context, userID string, extra ...string) (auth.Identity, error) {
	id, err := r.Engine.Identify(ctx, userID, extra...)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("resolve groups of %s: %w", userID, err)
	}
	return id, nil
}

// NewLogger builds the process logger from the log section of cfg.
func NewLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	format := "text"
	if cfg != nil {
		switch strings.ToLower(cfg.Log.Level) {
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
