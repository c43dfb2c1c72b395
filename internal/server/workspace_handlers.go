package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coauthorhq/coauthor/backend/internal/workspaces"
)

type createWorkspaceRequestPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *httpHandler) handleCreateWorkspace(c *gin.Context) {
	identity, ok := h.callerIdentity(c)
	if !ok {
		return
	}
	if h.workspaces == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "workspaces_unavailable"})
		return
	}
	var request createWorkspaceRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	workspace, err := h.workspaces.Create(c.Request.Context(), request.Name, request.Description, identity.UserID)
	if errors.Is(err, workspaces.ErrMissingName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name_required"})
		return
	}
	if err != nil {
		h.logger.Error("workspace create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"workspace": workspace})
}

func (h *httpHandler) handleListWorkspaces(c *gin.Context) {
	identity, ok := h.callerIdentity(c)
	if !ok {
		return
	}
	if h.workspaces == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "workspaces_unavailable"})
		return
	}
	list, err := h.workspaces.ListForUser(c.Request.Context(), identity.UserID)
	if err != nil {
		h.logger.Error("workspace list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workspaces": list})
}

func (h *httpHandler) handleGetWorkspace(c *gin.Context) {
	workspaceID := c.Param("id")
	if _, ok := h.requireMember(c, workspaceID); !ok {
		return
	}
	workspace, err := h.workspaces.Get(c.Request.Context(), workspaceID)
	if errors.Is(err, workspaces.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "workspace_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("workspace lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workspace": workspace})
}

func (h *httpHandler) handleDeleteWorkspace(c *gin.Context) {
	workspaceID := c.Param("id")
	role, ok := h.requireMember(c, workspaceID)
	if !ok {
		return
	}
	if role != workspaces.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin_required"})
		return
	}
	if err := h.workspaces.Delete(c.Request.Context(), workspaceID); err != nil {
		h.logger.Error("workspace delete failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleListMembers(c *gin.Context) {
	workspaceID := c.Param("id")
	if _, ok := h.requireMember(c, workspaceID); !ok {
		return
	}
	members, err := h.workspaces.ListMembers(c.Request.Context(), workspaceID)
	if err != nil {
		h.logger.Error("member list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

type addMemberRequestPayload struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (h *httpHandler) handleAddMember(c *gin.Context) {
	workspaceID := c.Param("id")
	role, ok := h.requireMember(c, workspaceID)
	if !ok {
		return
	}
	if role != workspaces.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin_required"})
		return
	}
	var request addMemberRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	membership, err := h.workspaces.AddMember(c.Request.Context(), workspaceID, request.UserID, request.Role)
	switch {
	case errors.Is(err, workspaces.ErrInvalidRole):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role"})
		return
	case errors.Is(err, workspaces.ErrOwnerImmutable):
		c.JSON(http.StatusConflict, gin.H{"error": "owner_immutable"})
		return
	case err != nil:
		h.logger.Error("member add failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "add_failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"membership": membership})
}

func (h *httpHandler) handleRemoveMember(c *gin.Context) {
	workspaceID := c.Param("id")
	role, ok := h.requireMember(c, workspaceID)
	if !ok {
		return
	}
	if role != workspaces.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin_required"})
		return
	}
	err := h.workspaces.RemoveMember(c.Request.Context(), workspaceID, c.Param("userId"))
	switch {
	case errors.Is(err, workspaces.ErrOwnerImmutable):
		c.JSON(http.StatusConflict, gin.H{"error": "owner_immutable"})
		return
	case errors.Is(err, workspaces.ErrNotMember):
		c.JSON(http.StatusNotFound, gin.H{"error": "member_not_found"})
		return
	case err != nil:
		h.logger.Error("member remove failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "remove_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleWorkspaceAnalytics(c *gin.Context) {
	workspaceID := c.Param("id")
	if _, ok := h.requireMember(c, workspaceID); !ok {
		return
	}
	if h.analytics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analytics_unavailable"})
		return
	}
	summary, err := h.analytics.WorkspaceSummary(c.Request.Context(), workspaceID, 20)
	if err != nil {
		h.logger.Error("analytics summary failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analytics_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"counters":   summary.Counters,
		"daily":      summary.Daily,
		"activities": summary.Activities,
	})
}

func (h *httpHandler) handleListWorkspaceFiles(c *gin.Context) {
	workspaceID := c.Param("id")
	if _, ok := h.requireMember(c, workspaceID); !ok {
		return
	}
	if h.uploads == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "uploads_unavailable"})
		return
	}
	files, err := h.uploads.ListByWorkspace(c.Request.Context(), workspaceID)
	if err != nil {
		h.logger.Error("file list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}
