package analytics

import "time"

// Actions recorded in the activity feed.
const (
	ActionJoin       = "join"
	ActionLeave      = "leave"
	ActionDisconnect = "disconnect"
	ActionEdit       = "edit"
	ActionComment    = "comment"
	ActionUpload     = "upload"
)

// Daily counter kinds.
const (
	CounterEdits   = "edits"
	CounterUploads = "uploads"
)

// WorkspaceCounters aggregates per-workspace totals. ActiveUsersCount is a
// live gauge maintained by the realtime layer and clamped at zero.
type WorkspaceCounters struct {
	WorkspaceID      string    `gorm:"column:workspace_id;primaryKey;size:190;not null"`
	ActiveUsersCount int64     `gorm:"column:active_users_count;not null;default:0"`
	EditsCount       int64     `gorm:"column:edits_count;not null;default:0"`
	CommentsCount    int64     `gorm:"column:comments_count;not null;default:0"`
	UploadsCount     int64     `gorm:"column:uploads_count;not null;default:0"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (WorkspaceCounters) TableName() string {
	return "workspace_analytics"
}

// DailyCounter is a per-day bucket for a counter kind (YYYY-MM-DD dates).
type DailyCounter struct {
	WorkspaceID string `gorm:"column:workspace_id;primaryKey;size:190;not null"`
	Date        string `gorm:"column:date;primaryKey;size:10;not null"`
	Kind        string `gorm:"column:kind;primaryKey;size:16;not null"`
	Count       int64  `gorm:"column:count;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (DailyCounter) TableName() string {
	return "workspace_daily_counters"
}

// Activity is one row of the append-only workspace activity feed.
type Activity struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	WorkspaceID string    `gorm:"column:workspace_id;size:190;not null;index:idx_activity_ws_created,priority:1"`
	DocumentID  string    `gorm:"column:document_id;size:190"`
	UserID      string    `gorm:"column:user_id;size:190"`
	Action      string    `gorm:"column:action;size:64;not null"`
	MetaJSON    string    `gorm:"column:meta_json;type:text;not null;default:''"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime;index:idx_activity_ws_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Activity) TableName() string {
	return "workspace_activities"
}
