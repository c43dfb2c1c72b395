package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// IDProvider issues identifiers for activity rows.
type IDProvider interface {
	NewID() (string, error)
}

// RecorderConfig describes the dependencies for the analytics recorder.
type RecorderConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Recorder maintains workspace counters and the activity feed. All write
// operations tolerate empty workspace ids (logged and skipped) because the
// realtime layer calls them fire-and-forget with client-supplied ids.
type Recorder struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewRecorder constructs the analytics recorder.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Recorder{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

func (r *Recorder) ensureCounters(ctx context.Context, tx *gorm.DB, workspaceID string) error {
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&WorkspaceCounters{WorkspaceID: workspaceID}).Error
}

// AdjustActiveUsers applies delta to the live active-user gauge, clamped at zero.
func (r *Recorder) AdjustActiveUsers(ctx context.Context, workspaceID string, delta int64) error {
	if workspaceID == "" {
		r.logger.Debug("adjust active users skipped, empty workspace id")
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.ensureCounters(ctx, tx, workspaceID); err != nil {
			return err
		}
		return tx.Model(&WorkspaceCounters{}).
			Where("workspace_id = ?", workspaceID).
			Update("active_users_count",
				gorm.Expr("MAX(active_users_count + ?, 0)", delta)).Error
	})
}

// RecordEdit bumps the edit totals, the daily bucket and the activity feed.
func (r *Recorder) RecordEdit(ctx context.Context, workspaceID, userID, documentID string) error {
	if workspaceID == "" {
		r.logger.Debug("record edit skipped, empty workspace id")
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.ensureCounters(ctx, tx, workspaceID); err != nil {
			return err
		}
		if err := tx.Model(&WorkspaceCounters{}).
			Where("workspace_id = ?", workspaceID).
			Update("edits_count", gorm.Expr("edits_count + 1")).Error; err != nil {
			return err
		}
		if err := r.bumpDaily(ctx, tx, workspaceID, CounterEdits); err != nil {
			return err
		}
		return r.appendActivity(ctx, tx, workspaceID, documentID, userID, ActionEdit, nil)
	})
}

// RecordComment bumps the comment total and the activity feed.
func (r *Recorder) RecordComment(ctx context.Context, workspaceID, userID, documentID string) error {
	if workspaceID == "" {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.ensureCounters(ctx, tx, workspaceID); err != nil {
			return err
		}
		if err := tx.Model(&WorkspaceCounters{}).
			Where("workspace_id = ?", workspaceID).
			Update("comments_count", gorm.Expr("comments_count + 1")).Error; err != nil {
			return err
		}
		return r.appendActivity(ctx, tx, workspaceID, documentID, userID, ActionComment, nil)
	})
}

// RecordUpload bumps the upload totals, the daily bucket and the activity feed.
func (r *Recorder) RecordUpload(ctx context.Context, workspaceID, userID, documentID, fileID string) error {
	if workspaceID == "" {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.ensureCounters(ctx, tx, workspaceID); err != nil {
			return err
		}
		if err := tx.Model(&WorkspaceCounters{}).
			Where("workspace_id = ?", workspaceID).
			Update("uploads_count", gorm.Expr("uploads_count + 1")).Error; err != nil {
			return err
		}
		if err := r.bumpDaily(ctx, tx, workspaceID, CounterUploads); err != nil {
			return err
		}
		meta := map[string]string{"file_id": fileID}
		return r.appendActivity(ctx, tx, workspaceID, documentID, userID, ActionUpload, meta)
	})
}

// RecordActivity appends a feed row without touching counters.
func (r *Recorder) RecordActivity(ctx context.Context, workspaceID, userID, documentID, action string, meta map[string]string) error {
	if workspaceID == "" {
		r.logger.Debug("record activity skipped, empty workspace id", zap.String("action", action))
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.ensureCounters(ctx, tx, workspaceID); err != nil {
			return err
		}
		return r.appendActivity(ctx, tx, workspaceID, documentID, userID, action, meta)
	})
}

func (r *Recorder) bumpDaily(ctx context.Context, tx *gorm.DB, workspaceID, kind string) error {
	date := r.clock().UTC().Format("2006-01-02")
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&DailyCounter{WorkspaceID: workspaceID, Date: date, Kind: kind}).Error; err != nil {
		return err
	}
	return tx.Model(&DailyCounter{}).
		Where("workspace_id = ? AND date = ? AND kind = ?", workspaceID, date, kind).
		Update("count", gorm.Expr("count + 1")).Error
}

func (r *Recorder) appendActivity(ctx context.Context, tx *gorm.DB, workspaceID, documentID, userID, action string, meta map[string]string) error {
	id, err := r.idProvider.NewID()
	if err != nil {
		return err
	}
	metaJSON := ""
	if len(meta) > 0 {
		encoded, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		metaJSON = string(encoded)
	}
	return tx.WithContext(ctx).Create(&Activity{
		ID:          id,
		WorkspaceID: workspaceID,
		DocumentID:  documentID,
		UserID:      userID,
		Action:      action,
		MetaJSON:    metaJSON,
	}).Error
}

// Summary bundles counters, daily buckets and recent activity for a workspace.
type Summary struct {
	Counters   WorkspaceCounters
	Daily      []DailyCounter
	Activities []Activity
}

// WorkspaceSummary returns the aggregate view used by the analytics page.
func (r *Recorder) WorkspaceSummary(ctx context.Context, workspaceID string, activityLimit int) (Summary, error) {
	if activityLimit <= 0 {
		activityLimit = 20
	}

	summary := Summary{Counters: WorkspaceCounters{WorkspaceID: workspaceID}}
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Take(&summary.Counters).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return Summary{}, fmt.Errorf("analytics: counters: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("date ASC").
		Find(&summary.Daily).Error; err != nil {
		return Summary{}, fmt.Errorf("analytics: daily counters: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at DESC").
		Limit(activityLimit).
		Find(&summary.Activities).Error; err != nil {
		return Summary{}, fmt.Errorf("analytics: activities: %w", err)
	}
	return summary, nil
}
