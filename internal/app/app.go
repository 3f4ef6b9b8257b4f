package app

import (
	"database/sql"
	"fmt"

	"okrbrain/internal/config"
	"okrbrain/internal/db"
	"okrbrain/internal/engine"
	"okrbrain/internal/engine/gate"
	"okrbrain/internal/migrate"
	"okrbrain/internal/repo"
)

// App wires a workspace: database opened and migrated, config loaded,
// engine constructed with the default collaborators.
type App struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

func Open(workspace string) (App, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return App{}, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return App{}, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return App{}, err
	}
	if err := cfg.Validate(); err != nil {
		conn.Close()
		return App{}, err
	}
	eng := engine.New(conn, cfg,
		gate.RuleGate{MinLength: cfg.Quality.MinDescriptionLength},
		gate.SlotCapacity{},
		gate.StructuralValidator{Repo: repo.Repo{DB: conn}},
	)
	return App{DB: conn, Config: cfg, Engine: eng}, nil
}

func (a App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
