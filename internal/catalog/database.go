// Package catalog is the single embedded relational store holding
// libraries, scripts, variables, discovered files, workers, and jobs.
// All cross-process persistence flows through it.
package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glebarez/sqlite"
	"github.com/trahl-dev/trahl/internal/catalog/migrations"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store wraps the GORM connection and migration state for the catalog.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) the catalog file at path and
// applies every pending migration.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: opening %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("catalog: getting underlying sql.DB: %w", err)
	}
	// A single SQLite file under WAL-less default journal mode allows one
	// writer at a time; keep the pool small to avoid lock contention
	// rather than expose it as a config knob (§3 names no such config).
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(2)

	migrator := migrations.NewMigrator(db, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(ctx); err != nil {
		return nil, fmt.Errorf("catalog: applying migrations: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// DB returns the underlying GORM handle for repository packages to build
// queries against.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
