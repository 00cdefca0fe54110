package database

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/uptrace/bun/driver/pgdriver"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewPostgres opens a postgres connection and applies pending migrations.
// url takes precedence; host is the local-development fallback.
func NewPostgres(url, host string) (*sql.DB, error) {
	var connector *pgdriver.Connector
	if url != "" {
		connector = pgdriver.NewConnector(pgdriver.WithDSN(url))
	} else {
		connector = pgdriver.NewConnector(
			pgdriver.WithNetwork("tcp"),
			pgdriver.WithAddr(host),
			pgdriver.WithUser("postgres"),
			pgdriver.WithPassword("postgres"),
			pgdriver.WithDatabase("genchat"),
			pgdriver.WithInsecure(true),
		)
	}

	db := sql.OpenDB(connector)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging db: %w", err)
	}

	migrations := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationsFS,
		Root:       "migrations",
	}

	n, err := migrate.Exec(db, "postgres", migrations, migrate.Up)
	if err != nil {
		return nil, fmt.Errorf("applying migrations: %w", err)
	}
	slog.Info("Applied migrations", "count", n)

	return db, nil
}
