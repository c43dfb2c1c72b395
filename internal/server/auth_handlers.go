package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coauthorhq/coauthor/backend/internal/auth"
	"github.com/coauthorhq/coauthor/backend/internal/sessionstore"
	"github.com/coauthorhq/coauthor/backend/internal/users"
)

type userPayload struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"name"`
	Roles       []string `json:"roles"`
	AvatarURL   string   `json:"avatar_url,omitempty"`
}

type tokenPayload struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func toUserPayload(user users.User) userPayload {
	return userPayload{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Roles:       user.Roles(),
		AvatarURL:   user.AvatarURL,
	}
}

func identityFor(user users.User) auth.Identity {
	return auth.Identity{UserID: user.ID, DisplayName: user.DisplayName, Roles: user.Roles()}
}

// issueTokens mints the access token and, when a session store is configured,
// a refresh token alongside it.
func (h *httpHandler) issueTokens(c *gin.Context, identity auth.Identity) (tokenPayload, bool) {
	access, expiresIn, err := h.tokens.IssueAccessToken(c.Request.Context(), identity)
	if err != nil {
		h.logger.Error("failed to issue access token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return tokenPayload{}, false
	}
	payload := tokenPayload{AccessToken: access, ExpiresIn: expiresIn, TokenType: "Bearer"}
	if h.sessions != nil {
		refresh, err := h.sessions.Issue(c.Request.Context(), identity)
		if err != nil {
			h.logger.Error("failed to issue refresh session", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
			return tokenPayload{}, false
		}
		payload.RefreshToken = refresh
	}
	return payload, true
}

type signUpRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (h *httpHandler) handleSignUp(c *gin.Context) {
	var request signUpRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	user, err := h.users.SignUp(c.Request.Context(), users.SignUpRequest{
		Email:       request.Email,
		Password:    request.Password,
		DisplayName: request.Name,
	})
	switch {
	case errors.Is(err, users.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
		return
	case errors.Is(err, users.ErrWeakPassword), errors.Is(err, users.ErrMissingFields):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	case err != nil:
		h.logger.Error("signup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup_failed"})
		return
	}
	tokens, ok := h.issueTokens(c, identityFor(user))
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": toUserPayload(user), "tokens": tokens})
}

type signInRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *httpHandler) handleSignIn(c *gin.Context) {
	var request signInRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	user, err := h.users.SignIn(c.Request.Context(), request.Email, request.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}
	if err != nil {
		h.logger.Error("signin failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signin_failed"})
		return
	}
	tokens, ok := h.issueTokens(c, identityFor(user))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": toUserPayload(user), "tokens": tokens})
}

type googleAuthRequestPayload struct {
	IDToken string `json:"id_token"`
}

func (h *httpHandler) handleGoogleAuth(c *gin.Context) {
	if h.google == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "google_auth_unavailable"})
		return
	}
	var request googleAuthRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	claims, err := h.google.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("google token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	user, err := h.users.ResolveGoogleUser(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("google user provisioning failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signin_failed"})
		return
	}
	tokens, ok := h.issueTokens(c, identityFor(user))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": toUserPayload(user), "tokens": tokens})
}

type refreshRequestPayload struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *httpHandler) handleRefresh(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sessions_unavailable"})
		return
	}
	var request refreshRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	identity, next, err := h.sessions.Rotate(c.Request.Context(), request.RefreshToken)
	if errors.Is(err, sessionstore.ErrSessionNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_refresh_token"})
		return
	}
	if err != nil {
		h.logger.Error("refresh rotation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh_failed"})
		return
	}
	access, expiresIn, err := h.tokens.IssueAccessToken(c.Request.Context(), identity)
	if err != nil {
		h.logger.Error("failed to issue access token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, tokenPayload{
		AccessToken:  access,
		ExpiresIn:    expiresIn,
		TokenType:    "Bearer",
		RefreshToken: next,
	})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sessions_unavailable"})
		return
	}
	var request refreshRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.sessions.Revoke(c.Request.Context(), request.RefreshToken); err != nil {
		h.logger.Error("refresh revocation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	identity, ok := h.callerIdentity(c)
	if !ok {
		return
	}
	user, err := h.users.GetByID(c.Request.Context(), identity.UserID)
	if errors.Is(err, users.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("user lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": toUserPayload(user)})
}
