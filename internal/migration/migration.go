package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/folio/internal/audit/domain"
	"github.com/smallbiznis/folio/internal/config"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	otadomain "github.com/smallbiznis/folio/internal/ota/domain"
	signingdomain "github.com/smallbiznis/folio/internal/signing/domain"
	"github.com/smallbiznis/folio/pkg/db"
	"gorm.io/gorm"
)

// Models lists every table owned by this service, in dependency order.
func Models() []any {
	return []any{
		&signingdomain.SigningKey{},
		&invoicedomain.InvoiceSequence{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
		&otadomain.Credential{},
		&otadomain.Mapping{},
		&auditdomain.AuditLog{},
	}
}

// appendOnlyTables reject UPDATE and DELETE once a row exists.
var appendOnlyTables = []string{"signing_keys", "invoices", "invoice_lines"}

// Migrate brings the schema up to date. Postgres runs the embedded SQL
// migrations; SQLite, used for local runs, is created from the models.
func Migrate(conn *gorm.DB, cfg config.Config) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.DBType)) {
	case db.DialectSQLite:
		return migrateSQLite(conn)
	default:
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}
}

// RunMigrations applies the embedded Postgres migrations.
func RunMigrations(sqlDB *sql.DB) error {
	if sqlDB == nil {
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

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
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

func migrateSQLite(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	for _, table := range appendOnlyTables {
		for _, op := range []string{"UPDATE", "DELETE"} {
			stmt := fmt.Sprintf(
				`CREATE TRIGGER IF NOT EXISTS trg_%s_no_%s BEFORE %s ON %s
				 BEGIN SELECT RAISE(ABORT, '%s is append-only'); END`,
				table, strings.ToLower(op), op, table, table,
			)
			if err := conn.Exec(stmt).Error; err != nil {
				return fmt.Errorf("create %s trigger on %s: %w", strings.ToLower(op), table, err)
			}
		}
	}
	return nil
}
