package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ibachev/codeeditor/internal/service"
)

// HandleServiceError maps service sentinel errors onto HTTP status codes.
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAuthenticationFailed), errors.Is(err, service.ErrInvalidToken):
		ErrorResponse(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrRegistrationFailed):
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrForbidden):
		ErrorResponse(c, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrParticipantNotFound):
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrExecutionTimeout):
		ErrorResponse(c, http.StatusRequestTimeout, err.Error())
	case errors.Is(err, service.ErrExecutionFailed):
		ErrorResponse(c, http.StatusBadGateway, err.Error())
	default:
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}

// identityFromContext reads the identity the Auth middleware stored.
func identityFromContext(c *gin.Context) (service.Identity, bool) {
	userIDAny, exists := c.Get("user_id")
	if !exists {
		logrus.Warn("Handler: user_id not found in context, middleware missing or failed?")
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return service.Identity{}, false
	}
	userID, ok := userIDAny.(uint)
	if !ok {
		logrus.Error("Handler: user_id in context is not uint")
		ErrorResponse(c, http.StatusInternalServerError, "Internal server error processing user ID")
		return service.Identity{}, false
	}
	username := c.GetString("username")
	if username == "" {
		logrus.Error("Handler: username not found in context")
		ErrorResponse(c, http.StatusInternalServerError, "Internal server error processing username")
		return service.Identity{}, false
	}
	return service.Identity{UserID: userID, Username: username}, true
}
