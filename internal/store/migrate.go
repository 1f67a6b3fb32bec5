package store

import (
	"database/sql"
	"embed"
	"errors"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	log "github.com/sirupsen/logrus"

	"github.com/bcrosbie/evalboard/internal/domain"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

type migrationLogger struct{}

func (migrationLogger) Printf(format string, v ...any) {
	log.Infof(strings.TrimSpace(format), v...)
}

func (migrationLogger) Verbose() bool {
	return false
}

// Migrate applies every pending migration over a dedicated single
// connection, which is closed again before returning.
func (s *PostgresStore) Migrate() error {
	source, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return domain.Internal("failed to open embedded migrations", err)
	}
	db, err := sql.Open("pgx", s.dsn)
	if err != nil {
		return domain.Internal("failed to open migration connection", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(0)

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		_ = db.Close()
		return domain.Internal("failed to prepare migration driver", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return domain.Internal("failed to prepare migrations", err)
	}
	m.Log = migrationLogger{}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return domain.Internal("failed to apply migrations", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return domain.Internal("failed to read migration version", err)
	}
	log.WithFields(log.Fields{"version": version, "dirty": dirty}).Info("postgres schema ready")
	return nil
}
