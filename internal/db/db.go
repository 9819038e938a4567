// Package db opens the relational store and owns schema migration for all
// devpulse entities.
package db

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/devpulse/devpulse/internal/db/models"
	"github.com/devpulse/devpulse/pkg/ha"
)

// Open connects to the configured database. Supported types are postgres,
// mysql, and sqlite (file path or ":memory:" DSN).
func Open(dbType, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	var dialector gorm.Dialector
	switch dbType {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %q (expected postgres, mysql, or sqlite)", dbType)
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", dbType, err)
	}

	return gormDB, nil
}

// Migrate creates or updates all tables. The migration lock serializes
// concurrent AutoMigrate calls from multiple replicas.
func Migrate(ctx context.Context, gormDB *gorm.DB, locker ha.MigrationLocker) error {
	if locker == nil {
		locker = ha.NewMigrationLocker(gormDB)
	}
	return locker.WithLock(ctx, func() error {
		return gormDB.AutoMigrate(
			&models.Organization{},
			&models.OrgRepo{},
			&models.Bookmark{},
			&models.PullRequest{},
			&models.PullRequestRevertMapping{},
			&models.RepoWorkflowRun{},
			&models.Deployment{},
			&models.Incident{},
			&models.Setting{},
		)
	})
}
