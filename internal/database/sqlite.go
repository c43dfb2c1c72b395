// Package database opens the SQLite store and keeps its schema current.
package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/coauthorhq/coauthor/backend/internal/analytics"
	"github.com/coauthorhq/coauthor/backend/internal/comments"
	"github.com/coauthorhq/coauthor/backend/internal/documents"
	"github.com/coauthorhq/coauthor/backend/internal/notifications"
	"github.com/coauthorhq/coauthor/backend/internal/uploads"
	"github.com/coauthorhq/coauthor/backend/internal/users"
	"github.com/coauthorhq/coauthor/backend/internal/workspaces"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&users.User{},
		&workspaces.Workspace{},
		&workspaces.Membership{},
		&documents.Document{},
		&documents.Version{},
		&comments.Comment{},
		&notifications.Notification{},
		&uploads.File{},
		&analytics.WorkspaceCounters{},
		&analytics.DailyCounter{},
		&analytics.Activity{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
