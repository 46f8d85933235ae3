// Package db opens the durable session database and applies the embedded
// goose migrations. Two drivers are supported: "sqlite" (modernc, pure Go)
// and "pgx" (PostgreSQL through pgx stdlib).
package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // registers "sqlite"
)

//go:embed "migrations/*.sql"
var embedMigrations embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// ErrUnsupportedDriver is returned for drivers other than sqlite and pgx.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, driver, connstr string) (*sqlx.DB, error) {
	logger := zerolog.Ctx(ctx)

	switch driver {
	case DriverSQLite:
		connstr = prepareSqliteConnstr(connstr)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	logger.Info().Str("driver", driver).Msg("connecting to database")

	db, err := sqlx.Open(driver, connstr)
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}

	db.SetConnMaxIdleTime(30 * time.Second) //nolint:mnd
	db.SetConnMaxLifetime(60 * time.Second) //nolint:mnd
	db.SetMaxIdleConns(2)                   //nolint:mnd
	db.SetMaxOpenConns(10)                  //nolint:mnd

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database failed: %w", err)
	}

	return db, nil
}

// Migrate applies every pending migration.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	logger := zerolog.Ctx(ctx)

	dialect, err := dialectFor(db.DriverName())
	if err != nil {
		return err
	}

	migdir, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("prepare migration fs failed: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db.DB, migdir)
	if err != nil {
		return fmt.Errorf("create goose provider failed: %w", err)
	}

	for {
		res, err := provider.UpByOne(ctx)
		if res != nil {
			logger.Debug().Msgf("migration: %s", res)
		}

		if errors.Is(err, goose.ErrNoNextVersion) {
			break
		} else if err != nil {
			return fmt.Errorf("migrate database up failed: %w", err)
		}
	}

	ver, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("check database version failed: %w", err)
	}

	logger.Info().Msgf("database version: %d", ver)

	return nil
}

// RegisterMetrics exposes connection pool stats.
func RegisterMetrics(reg prometheus.Registerer, db *sqlx.DB) error {
	if reg == nil || db == nil {
		return nil
	}
	if err := reg.Register(collectors.NewDBStatsCollector(db.DB, "sessions")); err != nil {
		return fmt.Errorf("register db stats collector failed: %w", err)
	}
	return nil
}

func dialectFor(driver string) (goose.Dialect, error) {
	switch driver {
	case DriverSQLite:
		return goose.DialectSQLite3, nil
	case DriverPostgres:
		return goose.DialectPostgres, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

func prepareSqliteConnstr(connstr string) string {
	pragmas := []string{
		"_pragma=busy_timeout(5000)",
		"_pragma=journal_mode(WAL)",
		"_pragma=foreign_keys(1)",
	}

	var missing []string
	for _, p := range pragmas {
		name := p[:strings.Index(p, "(")]
		if !strings.Contains(connstr, name) {
			missing = append(missing, p)
		}
	}

	if len(missing) == 0 {
		return connstr
	}

	sep := "?"
	if strings.Contains(connstr, "?") {
		sep = "&"
	}

	return connstr + sep + strings.Join(missing, "&")
}
