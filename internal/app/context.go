package app

import (
	"database/sql"

	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/engine"
	"gigline/internal/migrate"
)

// Env bundles the open handles a command needs: database, config, and a
// ready engine. Config comes from gigline.yml when present, otherwise
// defaults, so commands work in a fresh workspace without an init step.
type Env struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

func Open(workspace string) (*Env, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Env{
		DB:     conn,
		Config: cfg,
		Engine: engine.New(conn, cfg),
	}, nil
}

func (e *Env) Close() error {
	return e.DB.Close()
}
