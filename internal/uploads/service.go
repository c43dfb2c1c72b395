// Package uploads manages file attachments: metadata rows in the database,
// bytes in S3-compatible object storage reached through presigned URLs.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrMissingFields indicates a sign request without filename or content
	// type.
	ErrMissingFields = errors.New("filename and content type are required")
	// ErrTooLarge indicates the declared size exceeds the upload limit.
	ErrTooLarge = errors.New("file exceeds upload size limit")
	// ErrNotFound indicates the file record does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrObjectMissing indicates a confirm for an object that never arrived
	// in storage.
	ErrObjectMissing = errors.New("object not found in storage")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingBlobStore  = errors.New("blob store is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// IDProvider issues identifiers for file rows.
type IDProvider interface {
	NewID() (string, error)
}

// UsageRecorder receives the upload counter bump. Optional.
type UsageRecorder interface {
	RecordUpload(ctx context.Context, workspaceID, userID, documentID, fileID string) error
}

// ServiceConfig describes the dependencies for the upload service.
type ServiceConfig struct {
	Database   *gorm.DB
	Blobs      BlobStore
	IDProvider IDProvider
	Usage      UsageRecorder
	// PresignExpiry bounds presigned URL validity; zero means five minutes.
	PresignExpiry time.Duration
	// MaxUploadBytes rejects oversized declarations; zero means 10 MiB.
	MaxUploadBytes int64
	Clock          func() time.Time
	Logger         *zap.Logger
}

// Service signs, confirms and serves file uploads.
type Service struct {
	db             *gorm.DB
	blobs          BlobStore
	idProvider     IDProvider
	usage          UsageRecorder
	presignExpiry  time.Duration
	maxUploadBytes int64
	clock          func() time.Time
	logger         *zap.Logger
}

// NewService constructs the upload service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Blobs == nil {
		return nil, errMissingBlobStore
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}
	maxBytes := cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:             cfg.Database,
		blobs:          cfg.Blobs,
		idProvider:     cfg.IDProvider,
		usage:          cfg.Usage,
		presignExpiry:  expiry,
		maxUploadBytes: maxBytes,
		clock:          clock,
		logger:         logger,
	}, nil
}

// SignRequest describes an upload the client wants to start.
type SignRequest struct {
	Filename    string
	ContentType string
	Size        int64
	WorkspaceID string
	DocumentID  string
	UploaderID  string
}

// SignedUpload is the response to a sign request: a pending file record and
// the URL to PUT the bytes to.
type SignedUpload struct {
	File      File
	UploadURL string
	ExpiresIn time.Duration
}

// SignUpload records a pending file and returns a presigned PUT URL. The
// client uploads directly to object storage and then calls ConfirmUpload.
func (s *Service) SignUpload(ctx context.Context, req SignRequest) (SignedUpload, error) {
	if req.Filename == "" || req.ContentType == "" {
		return SignedUpload{}, ErrMissingFields
	}
	if req.Size > s.maxUploadBytes {
		return SignedUpload{}, ErrTooLarge
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return SignedUpload{}, fmt.Errorf("uploads: id: %w", err)
	}
	storageKey := fmt.Sprintf("%s/%d-%s-%s", req.UploaderID, s.clock().UnixMilli(), id, req.Filename)

	file := File{
		ID:           id,
		WorkspaceID:  req.WorkspaceID,
		DocumentID:   req.DocumentID,
		UploaderID:   req.UploaderID,
		OriginalName: req.Filename,
		StorageKey:   storageKey,
		Mime:         req.ContentType,
		Size:         req.Size,
		Status:       StatusPending,
	}
	if err := s.db.WithContext(ctx).Create(&file).Error; err != nil {
		return SignedUpload{}, fmt.Errorf("uploads: create record: %w", err)
	}

	uploadURL, err := s.blobs.PresignedPut(ctx, storageKey, s.presignExpiry)
	if err != nil {
		return SignedUpload{}, err
	}
	return SignedUpload{File: file, UploadURL: uploadURL, ExpiresIn: s.presignExpiry}, nil
}

// ConfirmUpload verifies the object landed in storage and flips the record to
// uploaded, adopting the stored size. Counter updates are fire and forget.
func (s *Service) ConfirmUpload(ctx context.Context, fileID string) (File, error) {
	var file File
	err := s.db.WithContext(ctx).Take(&file, "id = ?", fileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return File{}, ErrNotFound
	}
	if err != nil {
		return File{}, fmt.Errorf("uploads: load record: %w", err)
	}

	size, err := s.blobs.Stat(ctx, file.StorageKey)
	if err != nil {
		return File{}, ErrObjectMissing
	}

	if err := s.db.WithContext(ctx).Model(&File{}).
		Where("id = ?", fileID).
		Updates(map[string]any{"status": StatusUploaded, "size": size}).Error; err != nil {
		return File{}, fmt.Errorf("uploads: confirm: %w", err)
	}
	file.Status = StatusUploaded
	file.Size = size

	if s.usage != nil && file.WorkspaceID != "" {
		if err := s.usage.RecordUpload(ctx, file.WorkspaceID, file.UploaderID, file.DocumentID, file.ID); err != nil {
			s.logger.Warn("upload counter failed",
				zap.String("file_id", file.ID), zap.Error(err))
		}
	}
	return file, nil
}

// SignedGetURL returns a fresh download URL for an uploaded file.
func (s *Service) SignedGetURL(ctx context.Context, fileID string) (string, time.Duration, error) {
	var file File
	err := s.db.WithContext(ctx).Take(&file, "id = ?", fileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", 0, ErrNotFound
	}
	if err != nil {
		return "", 0, fmt.Errorf("uploads: load record: %w", err)
	}
	url, err := s.blobs.PresignedGet(ctx, file.StorageKey, s.presignExpiry)
	if err != nil {
		return "", 0, err
	}
	return url, s.presignExpiry, nil
}

// ListByWorkspace returns a workspace's file records, newest first.
func (s *Service) ListByWorkspace(ctx context.Context, workspaceID string) ([]File, error) {
	var list []File
	if err := s.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at DESC").
		Find(&list).Error; err != nil {
		return nil, fmt.Errorf("uploads: list: %w", err)
	}
	return list, nil
}
