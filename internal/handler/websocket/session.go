// Package websocket upgrades HTTP requests into gateway and relay
// connections. Authentication happens here, before the upgrade, so failures
// are plain HTTP errors.
package websocket

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ibachev/codeeditor/internal/hub"
	"github.com/ibachev/codeeditor/internal/service"
)

// SessionHandler handles WebSocket upgrade requests for the session gateway.
// Handshake parameters ride the query string: ?token=...&sessionId=...
type SessionHandler struct {
	upgrader       websocket.Upgrader
	hub            *hub.Hub
	authService    *service.AuthService
	sessionService *service.SessionService
}

// NewSessionHandler creates a SessionHandler. allowedOrigin of "*" disables
// origin checking.
func NewSessionHandler(h *hub.Hub, authService *service.AuthService, sessionService *service.SessionService, allowedOrigin string) *SessionHandler {
	if h == nil {
		panic("Hub cannot be nil for websocket SessionHandler")
	}
	if authService == nil {
		panic("AuthService cannot be nil for websocket SessionHandler")
	}
	if sessionService == nil {
		panic("SessionService cannot be nil for websocket SessionHandler")
	}

	return &SessionHandler{
		upgrader:       newUpgrader(allowedOrigin),
		hub:            h,
		authService:    authService,
		sessionService: sessionService,
	}
}

// HandleConnection authenticates the handshake, validates the session, then
// upgrades and hands the connection to the hub for admission.
func (h *SessionHandler) HandleConnection(c *gin.Context) {
	token := c.Query("token")
	sessionID := c.Query("sessionId")
	logCtx := logrus.WithField("session_id", sessionID)

	if token == "" || sessionID == "" {
		logCtx.Warn("WS Handler: Missing token or sessionId in handshake")
		c.JSON(http.StatusBadRequest, gin.H{"error": "token and sessionId query parameters are required"})
		return
	}

	// Fail closed on anything the verifier rejects.
	identity, err := h.authService.VerifyToken(c.Request.Context(), token)
	if err != nil {
		logCtx.WithError(err).Warn("WS Handler: Handshake authentication failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}
	logCtx = logCtx.WithField("username", identity.Username)

	if _, err := h.sessionService.GetSession(c.Request.Context(), sessionID); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			logCtx.Warn("WS Handler: Session not found")
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		} else {
			logCtx.WithError(err).Error("WS Handler: Error checking session existence")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to validate session"})
		}
		return
	}

	// The participant row is written only after the hub's kick check, via the
	// presence sync task; a rejected reconnect must never touch the mirror.
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}

	client := hub.NewClient(h.hub, conn, sessionID, *identity)
	if !h.hub.Register(client) {
		logCtx.Error("WS Handler: Hub message channel full, failed to register client")
		client.CloseConn()
		return
	}
	client.Run()
	logCtx.Info("WS Handler: Client connected and registration queued")
}

// newUpgrader builds the shared upgrader configuration.
func newUpgrader(allowedOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "*" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}
}
