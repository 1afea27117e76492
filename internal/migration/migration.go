package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	accountdomain "github.com/smallbiznis/vpnledger/internal/account/domain"
	quotadomain "github.com/smallbiznis/vpnledger/internal/quota/domain"
	servermetricsdomain "github.com/smallbiznis/vpnledger/internal/servermetrics/domain"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	statsdomain "github.com/smallbiznis/vpnledger/internal/stats/domain"
	tokendomain "github.com/smallbiznis/vpnledger/internal/tokens/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Models lists every table this service reads or writes.
func Models() []any {
	return []any{
		&accountdomain.User{},
		&accountdomain.Server{},
		&accountdomain.Subscription{},
		&sessiondomain.Session{},
		&quotadomain.QuotaAddon{},
		&quotadomain.ExtraLoginGrant{},
		&quotadomain.UsageRecord{},
		&tokendomain.TokenBalance{},
		&tokendomain.LedgerEntry{},
		&tokendomain.MiningState{},
		&tokendomain.Withdrawal{},
		&statsdomain.Aggregate{},
		&servermetricsdomain.Snapshot{},
		&servermetricsdomain.PeerCounter{},
	}
}

// AutoMigrate builds the schema from the models for the non-postgres
// dialects used in local development.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if conn.Dialector.Name() == "mysql" {
		return nil
	}
	return conn.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_sessions_active_pair
		ON sessions (user_id, server_id) WHERE ended_at IS NULL`).Error
}
