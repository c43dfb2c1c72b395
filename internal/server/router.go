// Package server exposes the HTTP surface: REST endpoints for accounts,
// workspaces, documents, comments, notifications, analytics and uploads, plus
// the websocket endpoint for live editing.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coauthorhq/coauthor/backend/internal/analytics"
	"github.com/coauthorhq/coauthor/backend/internal/auth"
	"github.com/coauthorhq/coauthor/backend/internal/comments"
	"github.com/coauthorhq/coauthor/backend/internal/documents"
	"github.com/coauthorhq/coauthor/backend/internal/notifications"
	"github.com/coauthorhq/coauthor/backend/internal/uploads"
	"github.com/coauthorhq/coauthor/backend/internal/users"
	"github.com/coauthorhq/coauthor/backend/internal/workspaces"
)

const identityContextKey = "coauthor_identity"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingUsersService  = errors.New("users service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// GoogleVerifier validates Google ID tokens for OAuth sign-in.
type GoogleVerifier interface {
	Verify(ctx context.Context, token string) (auth.GoogleClaims, error)
}

// AccessTokenManager issues and validates backend access tokens.
type AccessTokenManager interface {
	IssueAccessToken(ctx context.Context, identity auth.Identity) (string, int64, error)
	VerifyToken(token string) (auth.Identity, error)
}

// RefreshSessionStore holds long-lived refresh sessions.
type RefreshSessionStore interface {
	Issue(ctx context.Context, identity auth.Identity) (string, error)
	Rotate(ctx context.Context, token string) (auth.Identity, string, error)
	Revoke(ctx context.Context, token string) error
}

// Dependencies wires the HTTP layer to the services underneath. Sessions,
// GoogleVerifier and the optional feature services may be nil; their routes
// then respond 503.
type Dependencies struct {
	TokenManager   AccessTokenManager
	Sessions       RefreshSessionStore
	GoogleVerifier GoogleVerifier
	Users          *users.Service
	Workspaces     *workspaces.Service
	Documents      *documents.Service
	Comments       *comments.Service
	Notifications  *notifications.Service
	Analytics      *analytics.Recorder
	Uploads        *uploads.Service
	Realtime       http.Handler
	Logger         *zap.Logger
}

// NewHTTPHandler assembles the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:        deps.TokenManager,
		sessions:      deps.Sessions,
		google:        deps.GoogleVerifier,
		users:         deps.Users,
		workspaces:    deps.Workspaces,
		documents:     deps.Documents,
		comments:      deps.Comments,
		notifications: deps.Notifications,
		analytics:     deps.Analytics,
		uploads:       deps.Uploads,
		logger:        logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/signup", handler.handleSignUp)
	router.POST("/auth/signin", handler.handleSignIn)
	router.POST("/auth/google", handler.handleGoogleAuth)
	router.POST("/auth/refresh", handler.handleRefresh)
	router.POST("/auth/logout", handler.handleLogout)

	if deps.Realtime != nil {
		router.GET("/ws", gin.WrapH(deps.Realtime))
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/me", handler.handleMe)

	protected.POST("/workspaces", handler.handleCreateWorkspace)
	protected.GET("/workspaces", handler.handleListWorkspaces)
	protected.GET("/workspaces/:id", handler.handleGetWorkspace)
	protected.DELETE("/workspaces/:id", handler.handleDeleteWorkspace)
	protected.GET("/workspaces/:id/members", handler.handleListMembers)
	protected.POST("/workspaces/:id/members", handler.handleAddMember)
	protected.DELETE("/workspaces/:id/members/:userId", handler.handleRemoveMember)
	protected.GET("/workspaces/:id/analytics", handler.handleWorkspaceAnalytics)
	protected.GET("/workspaces/:id/files", handler.handleListWorkspaceFiles)
	protected.POST("/workspaces/:id/documents", handler.handleCreateDocument)
	protected.GET("/workspaces/:id/documents", handler.handleListDocuments)

	protected.GET("/documents/:id", handler.handleGetDocument)
	protected.PATCH("/documents/:id", handler.handleUpdateDocument)
	protected.DELETE("/documents/:id", handler.handleDeleteDocument)
	protected.GET("/documents/:id/versions", handler.handleListVersions)
	protected.POST("/documents/:id/versions/:versionId/restore", handler.handleRestoreVersion)
	protected.GET("/documents/:id/comments", handler.handleListComments)
	protected.POST("/documents/:id/comments", handler.handleCreateComment)
	protected.DELETE("/comments/:id", handler.handleDeleteComment)

	protected.GET("/notifications", handler.handleListNotifications)
	protected.POST("/notifications", handler.handleCreateNotification)
	protected.POST("/notifications/:id/read", handler.handleMarkNotificationRead)

	protected.POST("/uploads/sign", handler.handleSignUpload)
	protected.POST("/uploads/:id/confirm", handler.handleConfirmUpload)
	protected.GET("/uploads/:id/url", handler.handleUploadURL)

	return router, nil
}

type httpHandler struct {
	tokens        AccessTokenManager
	sessions      RefreshSessionStore
	google        GoogleVerifier
	users         *users.Service
	workspaces    *workspaces.Service
	documents     *documents.Service
	comments      *comments.Service
	notifications *notifications.Service
	analytics     *analytics.Recorder
	uploads       *uploads.Service
	logger        *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	identity, err := h.tokens.VerifyToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(identityContextKey, identity)
	c.Next()
}

func (h *httpHandler) callerIdentity(c *gin.Context) (auth.Identity, bool) {
	value, ok := c.Get(identityContextKey)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return auth.Identity{}, false
	}
	identity, ok := value.(auth.Identity)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return auth.Identity{}, false
	}
	return identity, true
}

// requireMember aborts unless the caller belongs to the workspace. The
// caller's role is returned for finer checks.
func (h *httpHandler) requireMember(c *gin.Context, workspaceID string) (string, bool) {
	identity, ok := h.callerIdentity(c)
	if !ok {
		return "", false
	}
	if h.workspaces == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "workspaces_unavailable"})
		return "", false
	}
	role, err := h.workspaces.MemberRole(c.Request.Context(), workspaceID, identity.UserID)
	if errors.Is(err, workspaces.ErrNotMember) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not_a_member"})
		return "", false
	}
	if err != nil {
		h.logger.Error("membership lookup failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "membership_lookup_failed"})
		return "", false
	}
	return role, true
}

// requireDocumentMember resolves a document and checks workspace membership
// in one step.
func (h *httpHandler) requireDocumentMember(c *gin.Context, documentID string) (documents.Document, bool) {
	if h.documents == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "documents_unavailable"})
		return documents.Document{}, false
	}
	document, err := h.documents.Get(c.Request.Context(), documentID)
	if errors.Is(err, documents.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "document_not_found"})
		return documents.Document{}, false
	}
	if err != nil {
		h.logger.Error("document lookup failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "document_lookup_failed"})
		return documents.Document{}, false
	}
	if _, ok := h.requireMember(c, document.WorkspaceID); !ok {
		return documents.Document{}, false
	}
	return document, true
}
