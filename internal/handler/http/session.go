package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ibachev/codeeditor/internal/service"
)

// SessionHandler wraps the HTTP side of session lifecycle and moderation.
type SessionHandler struct {
	sessionService *service.SessionService
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// CreateSessionRequest is the session creation input.
type CreateSessionRequest struct {
	Name string `json:"name" binding:"required,min=1,max=100"`
}

// CreateSessionResponse is the session creation output.
type CreateSessionResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
}

// CreateSession handles creation of a new session.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		return
	}
	logCtx := logrus.WithField("user_id", identity.UserID)

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.CreateSession: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: name is required")
		return
	}

	session, err := h.sessionService.CreateSession(c.Request.Context(), identity.UserID, req.Name)
	if err != nil {
		logCtx.WithError(err).Error("Handler.CreateSession: Failed to create session via service")
		HandleServiceError(c, err)
		return
	}

	logCtx.WithField("session_id", session.SessionID).Info("Handler.CreateSession: Session created successfully")
	SuccessResponse(c, http.StatusOK, CreateSessionResponse{
		Message:   "Session created successfully",
		SessionID: session.SessionID,
		Name:      session.Name,
	})
}

// GetSession returns one session with creator, participants and code.
func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		ErrorResponse(c, http.StatusBadRequest, "sessionId is required")
		return
	}

	session, err := h.sessionService.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, session)
}

// ListSessions returns the caller's created and joined sessions.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		return
	}

	created, joined, err := h.sessionService.SessionsByUser(c.Request.Context(), identity.UserID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{
		"created": created,
		"joined":  joined,
	})
}

// ListParticipants returns every participant row of a session.
func (h *SessionHandler) ListParticipants(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		ErrorResponse(c, http.StatusBadRequest, "sessionId is required")
		return
	}

	participants, err := h.sessionService.Participants(c.Request.Context(), sessionID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, participants)
}

// JoinSession registers the caller as a participant of the session.
func (h *SessionHandler) JoinSession(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		return
	}
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		ErrorResponse(c, http.StatusBadRequest, "sessionId is required")
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "username": identity.Username})

	if _, err := h.sessionService.GetSession(c.Request.Context(), sessionID); err != nil {
		HandleServiceError(c, err)
		return
	}
	if err := h.sessionService.JoinSession(c.Request.Context(), identity, sessionID); err != nil {
		logCtx.WithError(err).Error("Handler.JoinSession: Failed to join session via service")
		HandleServiceError(c, err)
		return
	}

	logCtx.Info("Handler.JoinSession: User joined session successfully")
	SuccessResponse(c, http.StatusOK, gin.H{
		"message":    "Joined session successfully",
		"session_id": sessionID,
	})
}

// KickRequest is the HTTP kick input.
type KickRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

// KickParticipant removes a participant from the session. Creator only.
func (h *SessionHandler) KickParticipant(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		return
	}
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		ErrorResponse(c, http.StatusBadRequest, "sessionId is required")
		return
	}

	var req KickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: user_id is required")
		return
	}

	if err := h.sessionService.KickFromSession(c.Request.Context(), identity, sessionID, req.UserID); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"message": "Participant kicked successfully"})
}

// LockRequest is the lock update input. A pointer keeps "locked": false
// distinguishable from an absent field.
type LockRequest struct {
	Locked *bool `json:"locked" binding:"required"`
}

// SetLock updates the session lock flag. Creator only.
func (h *SessionHandler) SetLock(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		return
	}
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		ErrorResponse(c, http.StatusBadRequest, "sessionId is required")
		return
	}

	var req LockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: locked is required")
		return
	}

	session, err := h.sessionService.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	if session.CreatorID != identity.UserID {
		logrus.WithFields(logrus.Fields{
			"session_id": sessionID,
			"user_id":    identity.UserID,
		}).Warn("Handler.SetLock: Non-creator attempted to change lock state")
		ErrorResponse(c, http.StatusForbidden, service.ErrForbidden.Error())
		return
	}

	if err := h.sessionService.SetLock(c.Request.Context(), sessionID, *req.Locked); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{
		"message":    "Lock state updated",
		"session_id": sessionID,
		"is_locked":  *req.Locked,
	})
}

// DeleteSession deletes a session. Creator only.
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		return
	}
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		ErrorResponse(c, http.StatusBadRequest, "sessionId is required")
		return
	}

	session, err := h.sessionService.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	if session.CreatorID != identity.UserID {
		logrus.WithFields(logrus.Fields{
			"session_id": sessionID,
			"user_id":    identity.UserID,
		}).Warn("Handler.DeleteSession: Non-creator attempted to delete session")
		ErrorResponse(c, http.StatusForbidden, service.ErrForbidden.Error())
		return
	}

	if err := h.sessionService.DeleteSession(c.Request.Context(), sessionID); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"message": "Session deleted successfully"})
}
