package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ibachev/codeeditor/internal/relay"
	"github.com/ibachev/codeeditor/internal/service"
)

// VideoHandler handles WebSocket upgrade requests for the video presence
// relay. The relay brokers peer ids only, but connections still authenticate
// at the handshake.
type VideoHandler struct {
	upgrader    websocket.Upgrader
	relay       *relay.Relay
	authService *service.AuthService
}

// NewVideoHandler creates a VideoHandler.
func NewVideoHandler(r *relay.Relay, authService *service.AuthService, allowedOrigin string) *VideoHandler {
	if r == nil {
		panic("Relay cannot be nil for websocket VideoHandler")
	}
	if authService == nil {
		panic("AuthService cannot be nil for websocket VideoHandler")
	}

	return &VideoHandler{
		upgrader:    newUpgrader(allowedOrigin),
		relay:       r,
		authService: authService,
	}
}

// HandleConnection authenticates the handshake and hands the connection to
// the relay. Room membership is established later by the join-room event.
func (h *VideoHandler) HandleConnection(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		logrus.Warn("Video WS Handler: Missing token in handshake")
		c.JSON(http.StatusBadRequest, gin.H{"error": "token query parameter is required"})
		return
	}

	identity, err := h.authService.VerifyToken(c.Request.Context(), token)
	if err != nil {
		logrus.WithError(err).Warn("Video WS Handler: Handshake authentication failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("Video WS Handler: Failed to upgrade connection")
		return
	}

	client := relay.NewClient(h.relay, conn)
	client.Run()
	logrus.WithField("username", identity.Username).Info("Video WS Handler: Client connected to relay")
}
