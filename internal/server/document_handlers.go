package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coauthorhq/coauthor/backend/internal/comments"
	"github.com/coauthorhq/coauthor/backend/internal/documents"
	"github.com/coauthorhq/coauthor/backend/internal/workspaces"
)

type createDocumentRequestPayload struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	ParentID string   `json:"parent_id"`
	Tags     []string `json:"tags"`
}

func (h *httpHandler) handleCreateDocument(c *gin.Context) {
	workspaceID := c.Param("id")
	role, ok := h.requireMember(c, workspaceID)
	if !ok {
		return
	}
	if role == workspaces.RoleViewer {
		c.JSON(http.StatusForbidden, gin.H{"error": "editor_required"})
		return
	}
	identity, ok := h.callerIdentity(c)
	if !ok {
		return
	}
	if h.documents == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "documents_unavailable"})
		return
	}
	var request createDocumentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	document, version, err := h.documents.Create(c.Request.Context(), documents.CreateRequest{
		WorkspaceID: workspaceID,
		Title:       request.Title,
		Content:     request.Content,
		AuthorID:    identity.UserID,
		ParentID:    request.ParentID,
		Tags:        request.Tags,
	})
	switch {
	case errors.Is(err, documents.ErrMissingTitle), errors.Is(err, documents.ErrInvalidDocumentID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	case err != nil:
		h.logger.Error("document create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"document": document, "version": version})
}

func (h *httpHandler) handleListDocuments(c *gin.Context) {
	workspaceID := c.Param("id")
	if _, ok := h.requireMember(c, workspaceID); !ok {
		return
	}
	if h.documents == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "documents_unavailable"})
		return
	}
	list, err := h.documents.ListByWorkspace(c.Request.Context(), workspaceID)
	if err != nil {
		h.logger.Error("document list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": list})
}

func (h *httpHandler) handleGetDocument(c *gin.Context) {
	document, ok := h.requireDocumentMember(c, c.Param("id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": document})
}

type updateDocumentRequestPayload struct {
	Title   *string  `json:"title"`
	Content *string  `json:"content"`
	Tags    []string `json:"tags"`
}

func (h *httpHandler) handleUpdateDocument(c *gin.Context) {
	document, ok := h.requireDocumentMember(c, c.Param("id"))
	if !ok {
		return
	}
	identity, ok := h.callerIdentity(c)
	if !ok {
		return
	}
	var request updateDocumentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	updated, version, err := h.documents.Update(c.Request.Context(), document.ID, documents.UpdateRequest{
		Title:    request.Title,
		Content:  request.Content,
		Tags:     request.Tags,
		AuthorID: identity.UserID,
	})
	if err != nil {
		h.logger.Error("document update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": updated, "version": version})
}

func (h *httpHandler) handleDeleteDocument(c *gin.Context) {
	document, ok := h.requireDocumentMember(c, c.Param("id"))
	if !ok {
		return
	}
	if err := h.documents.Delete(c.Request.Context(), document.ID); err != nil {
		h.logger.Error("document delete failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleListVersions(c *gin.Context) {
	document, ok := h.requireDocumentMember(c, c.Param("id"))
	if !ok {
		return
	}
	versions, err := h.documents.ListVersions(c.Request.Context(), document.ID)
	if err != nil {
		h.logger.Error("version list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

func (h *httpHandler) handleRestoreVersion(c *gin.Context) {
	document, ok := h.requireDocumentMember(c, c.Param("id"))
	if !ok {
		return
	}
	identity, ok := h.callerIdentity(c)
	if !ok {
		return
	}
	restored, version, err := h.documents.RestoreVersion(c.Request.Context(), document.ID, c.Param("versionId"), identity.UserID)
	if errors.Is(err, documents.ErrVersionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "version_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("version restore failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "restore_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": restored, "version": version})
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	document, ok := h.requireDocumentMember(c, c.Param("id"))
	if !ok {
		return
	}
	if h.comments == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "comments_unavailable"})
		return
	}
	list, err := h.comments.ListByDocument(c.Request.Context(), document.ID)
	if err != nil {
		h.logger.Error("comment list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": list})
}

type createCommentRequestPayload struct {
	Text string `json:"text"`
}

func (h *httpHandler) handleCreateComment(c *gin.Context) {
	document, ok := h.requireDocumentMember(c, c.Param("id"))
	if !ok {
		return
	}
	identity, ok := h.callerIdentity(c)
	if !ok {
		return
	}
	if h.comments == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "comments_unavailable"})
		return
	}
	var request createCommentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	comment, err := h.comments.Create(c.Request.Context(), document.ID, identity.UserID, identity.DisplayName, request.Text)
	if errors.Is(err, comments.ErrEmptyText) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text_required"})
		return
	}
	if err != nil {
		h.logger.Error("comment create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"comment": comment})
}

func (h *httpHandler) handleDeleteComment(c *gin.Context) {
	identity, ok := h.callerIdentity(c)
	if !ok {
		return
	}
	if h.comments == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "comments_unavailable"})
		return
	}
	err := h.comments.Delete(c.Request.Context(), c.Param("id"), identity.UserID)
	switch {
	case errors.Is(err, comments.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "comment_not_found"})
		return
	case errors.Is(err, comments.ErrNotAuthor):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_comment_author"})
		return
	case err != nil:
		h.logger.Error("comment delete failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
