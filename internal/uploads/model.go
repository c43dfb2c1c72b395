package uploads

import "time"

// Upload lifecycle states.
const (
	StatusPending  = "pending"
	StatusUploaded = "uploaded"
	StatusFailed   = "failed"
)

// File is the metadata record for one uploaded object. The bytes live in
// object storage under StorageKey; clients upload directly with a presigned
// PUT and then confirm, which flips Status from pending to uploaded.
type File struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	WorkspaceID  string    `gorm:"column:workspace_id;size:190;index"`
	DocumentID   string    `gorm:"column:document_id;size:190"`
	UploaderID   string    `gorm:"column:uploader_id;size:190;not null"`
	OriginalName string    `gorm:"column:original_name;size:512;not null"`
	StorageKey   string    `gorm:"column:storage_key;size:512;not null;uniqueIndex"`
	Mime         string    `gorm:"column:mime;size:190"`
	Size         int64     `gorm:"column:size;not null;default:0"`
	Status       string    `gorm:"column:status;size:16;not null;default:'pending'"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (File) TableName() string {
	return "files"
}
