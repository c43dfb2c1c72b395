package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coauthorhq/coauthor/backend/internal/notifications"
	"github.com/coauthorhq/coauthor/backend/internal/uploads"
)

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	identity, ok := h.callerIdentity(c)
	if !ok {
		return
	}
	if h.notifications == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notifications_unavailable"})
		return
	}
	list, err := h.notifications.ListForUser(c.Request.Context(), identity.UserID, 50)
	if err != nil {
		h.logger.Error("notification list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

type createNotificationRequestPayload struct {
	WorkspaceID string            `json:"workspace_id"`
	DocumentID  string            `json:"document_id"`
	RecipientID string            `json:"recipient_id"`
	Type        string            `json:"type"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Meta        map[string]string `json:"meta"`
}

func (h *httpHandler) handleCreateNotification(c *gin.Context) {
	identity, ok := h.callerIdentity(c)
	if !ok {
		return
	}
	if h.notifications == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notifications_unavailable"})
		return
	}
	var request createNotificationRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	notification, err := h.notifications.Create(c.Request.Context(), notifications.CreateInput{
		WorkspaceID: request.WorkspaceID,
		DocumentID:  request.DocumentID,
		ActorID:     identity.UserID,
		RecipientID: request.RecipientID,
		Type:        request.Type,
		Title:       request.Title,
		Body:        request.Body,
		Meta:        request.Meta,
	})
	if errors.Is(err, notifications.ErrMissingFields) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient_and_type_required"})
		return
	}
	if err != nil {
		h.logger.Error("notification create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"notification": notification})
}

func (h *httpHandler) handleMarkNotificationRead(c *gin.Context) {
	identity, ok := h.callerIdentity(c)
	if !ok {
		return
	}
	if h.notifications == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notifications_unavailable"})
		return
	}
	notification, err := h.notifications.MarkRead(c.Request.Context(), c.Param("id"), identity.UserID)
	if errors.Is(err, notifications.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("notification mark read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notification": notification})
}

type signUploadRequestPayload struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	WorkspaceID string `json:"workspace_id"`
	DocumentID  string `json:"document_id"`
}

func (h *httpHandler) handleSignUpload(c *gin.Context) {
	identity, ok := h.callerIdentity(c)
	if !ok {
		return
	}
	if h.uploads == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "uploads_unavailable"})
		return
	}
	var request signUploadRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.WorkspaceID != "" {
		if _, ok := h.requireMember(c, request.WorkspaceID); !ok {
			return
		}
	}
	signed, err := h.uploads.SignUpload(c.Request.Context(), uploads.SignRequest{
		Filename:    request.Filename,
		ContentType: request.ContentType,
		Size:        request.Size,
		WorkspaceID: request.WorkspaceID,
		DocumentID:  request.DocumentID,
		UploaderID:  identity.UserID,
	})
	switch {
	case errors.Is(err, uploads.ErrMissingFields):
		c.JSON(http.StatusBadRequest, gin.H{"error": "filename_and_content_type_required"})
		return
	case errors.Is(err, uploads.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file_too_large"})
		return
	case err != nil:
		h.logger.Error("upload sign failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"file":       signed.File,
		"upload_url": signed.UploadURL,
		"expires_in": int64(signed.ExpiresIn.Seconds()),
	})
}

func (h *httpHandler) handleConfirmUpload(c *gin.Context) {
	if _, ok := h.callerIdentity(c); !ok {
		return
	}
	if h.uploads == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "uploads_unavailable"})
		return
	}
	file, err := h.uploads.ConfirmUpload(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, uploads.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "file_not_found"})
		return
	case errors.Is(err, uploads.ErrObjectMissing):
		c.JSON(http.StatusConflict, gin.H{"error": "object_not_uploaded"})
		return
	case err != nil:
		h.logger.Error("upload confirm failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "confirm_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"file": file})
}

func (h *httpHandler) handleUploadURL(c *gin.Context) {
	if _, ok := h.callerIdentity(c); !ok {
		return
	}
	if h.uploads == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "uploads_unavailable"})
		return
	}
	url, expiresIn, err := h.uploads.SignedGetURL(c.Request.Context(), c.Param("id"))
	if errors.Is(err, uploads.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "file_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("upload url failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "expires_in": int64(expiresIn.Seconds())})
}
