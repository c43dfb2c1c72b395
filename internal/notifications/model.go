package notifications

import "time"

// Notification types.
const (
	TypeMention = "mention"
	TypeComment = "comment"
	TypeShare   = "share"
	TypeCustom  = "custom"
)

// Notification is one item in a user's notification feed. DeliveredToClient
// records whether a live connection received it at creation time; Emailed
// records whether the email fallback fired instead.
type Notification struct {
	ID                string    `gorm:"column:id;primaryKey;size:190;not null"`
	WorkspaceID       string    `gorm:"column:workspace_id;size:190;index"`
	DocumentID        string    `gorm:"column:document_id;size:190"`
	ActorID           string    `gorm:"column:actor_id;size:190"`
	RecipientID       string    `gorm:"column:recipient_id;size:190;not null;index:idx_notifications_recipient_created,priority:1"`
	Type              string    `gorm:"column:type;size:32;not null"`
	Title             string    `gorm:"column:title;size:512"`
	Body              string    `gorm:"column:body;type:text"`
	MetaJSON          string    `gorm:"column:meta_json;type:text;not null;default:''"`
	Read              bool      `gorm:"column:read;not null;default:false"`
	DeliveredToClient bool      `gorm:"column:delivered_to_client;not null;default:false"`
	Emailed           bool      `gorm:"column:emailed;not null;default:false"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime;index:idx_notifications_recipient_created,priority:2"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}
