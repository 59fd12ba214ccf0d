package pgx

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationsTable = "kg_schema_migrations"

// Migrate applies the embedded schema migrations to the database at
// databaseURL. Running it against an up-to-date database is a no-op.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Debug("[Store][Migrate] Schema up to date")
	case err != nil:
		return fmt.Errorf("migration failed: %w", err)
	default:
		version, _, _ := m.Version()
		logger.Info("[Store][Migrate] Schema migrated", "version", version)
	}
	return nil
}
