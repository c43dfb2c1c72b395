package documents

import (
	"errors"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidDocumentID indicates an empty or oversized document identifier.
	ErrInvalidDocumentID = errors.New("documents: invalid document id")
	// ErrMissingTitle indicates document creation without a title.
	ErrMissingTitle = errors.New("documents: title required")
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("documents: not found")
	// ErrVersionNotFound indicates the requested version does not exist.
	ErrVersionNotFound = errors.New("documents: version not found")
)

// Document models a collaborative document inside a workspace. Content holds
// the full current text; every REST update also snapshots a DocumentVersion.
type Document struct {
	ID              string    `gorm:"column:id;primaryKey;size:190;not null"`
	WorkspaceID     string    `gorm:"column:workspace_id;size:190;not null;index"`
	Title           string    `gorm:"column:title;size:512;not null"`
	Content         string    `gorm:"column:content;type:text;not null;default:''"`
	AuthorID        string    `gorm:"column:author_id;size:190;not null"`
	ParentID        string    `gorm:"column:parent_id;size:190;index"`
	TagsCSV         string    `gorm:"column:tags;size:512;not null;default:''"`
	LatestVersionID string    `gorm:"column:latest_version_id;size:190"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// Tags splits the stored tag list.
func (d Document) Tags() []string {
	if strings.TrimSpace(d.TagsCSV) == "" {
		return nil
	}
	parts := strings.Split(d.TagsCSV, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	return tags
}

// Version is an immutable snapshot of a document at REST-update time. The
// live-editing flush path deliberately does not create versions; only
// explicit saves and restores do.
type Version struct {
	ID         string    `gorm:"column:id;primaryKey;size:190;not null"`
	DocumentID string    `gorm:"column:document_id;size:190;not null;index:idx_versions_doc_created,priority:1"`
	Title      string    `gorm:"column:title;size:512;not null"`
	Content    string    `gorm:"column:content;type:text;not null;default:''"`
	AuthorID   string    `gorm:"column:author_id;size:190;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime;index:idx_versions_doc_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Version) TableName() string {
	return "document_versions"
}

func joinTags(tags []string) string {
	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return strings.Join(cleaned, ",")
}

func validateID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > maxIdentifierLength {
		return "", ErrInvalidDocumentID
	}
	return trimmed, nil
}
