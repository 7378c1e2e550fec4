package database

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"runnersmap/internal/middleware"

	"gorm.io/gorm"
)

// migrationLockKey serializes migrators across processes on postgres.
const migrationLockKey = 0x72756e6d // "runm"

// schemaMigration records one applied SQL migration.
type schemaMigration struct {
	Version   int    `gorm:"primaryKey;autoIncrement:false"`
	Name      string `gorm:"size:255;not null"`
	AppliedAt time.Time
}

func (schemaMigration) TableName() string {
	return "schema_migrations"
}

// appliedVersions lists recorded versions; a missing table means none.
func appliedVersions(ctx context.Context, db *gorm.DB) ([]int, error) {
	if !db.Migrator().HasTable(&schemaMigration{}) {
		return []int{}, nil
	}
	var versions []int
	err := db.WithContext(ctx).Model(&schemaMigration{}).Order("version").Pluck("version", &versions).Error
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	return versions, nil
}

// lockMigrations holds a transaction-scoped advisory lock until tx ends.
func lockMigrations(tx *gorm.DB) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(?)", migrationLockKey).Error
}

func isApplied(tx *gorm.DB, version int) (bool, error) {
	var n int64
	err := tx.Model(&schemaMigration{}).Where("version = ?", version).Count(&n).Error
	return n > 0, err
}

// RunMigrations applies every pending embedded migration, each in its own
// transaction.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	return runMigrations(ctx, db, migrations)
}

func runMigrations(ctx context.Context, db *gorm.DB, all []Migration) error {
	if err := db.WithContext(ctx).AutoMigrate(&schemaMigration{}); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}
	if err := validateAppliedVersions(applied, all); err != nil {
		return err
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	for _, m := range all {
		if done[m.Version] {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *gorm.DB, m Migration) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockMigrations(tx); err != nil {
			return fmt.Errorf("lock migrations: %w", err)
		}
		// another instance may have applied it while we waited for the lock
		if ok, err := isApplied(tx, m.Version); err != nil || ok {
			return err
		}

		middleware.Logger.Info("applying migration", slog.String("migration", m.String()))
		if err := tx.Exec(m.UpScript).Error; err != nil {
			return fmt.Errorf("apply migration %s: %w", m.String(), err)
		}
		return tx.Create(&schemaMigration{
			Version:   m.Version,
			Name:      m.Name,
			AppliedAt: time.Now().UTC(),
		}).Error
	})
}

// validateAppliedVersions rejects a database that has run migrations this
// build does not know about.
func validateAppliedVersions(applied []int, registered []Migration) error {
	known := make(map[int]bool, len(registered))
	for _, m := range registered {
		known[m.Version] = true
	}

	var unknown []string
	sorted := append([]int(nil), applied...)
	sort.Ints(sorted)
	for _, v := range sorted {
		if !known[v] {
			unknown = append(unknown, fmt.Sprintf("%06d", v))
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("schema_migrations has versions unknown to this build: %s", strings.Join(unknown, ", "))
	}
	return nil
}

// RollbackMigration runs the down script of an applied migration.
func RollbackMigration(ctx context.Context, db *gorm.DB, version int) error {
	m := GetMigrationByVersion(version)
	if m == nil {
		return fmt.Errorf("migration version %d not found", version)
	}
	return rollbackMigration(ctx, db, *m)
}

func rollbackMigration(ctx context.Context, db *gorm.DB, m Migration) error {
	if !db.Migrator().HasTable(&schemaMigration{}) {
		return fmt.Errorf("migration %s has not been applied", m.String())
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockMigrations(tx); err != nil {
			return fmt.Errorf("lock migrations: %w", err)
		}
		ok, err := isApplied(tx, m.Version)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("migration %s has not been applied", m.String())
		}

		middleware.Logger.Info("rolling back migration", slog.String("migration", m.String()))
		if err := tx.Exec(m.DownScript).Error; err != nil {
			return fmt.Errorf("roll back migration %s: %w", m.String(), err)
		}
		return tx.Where("version = ?", m.Version).Delete(&schemaMigration{}).Error
	})
}
