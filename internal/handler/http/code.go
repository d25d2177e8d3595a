package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ibachev/codeeditor/internal/service"
)

// CodeHandler wraps the HTTP side of explicit code saves and execution.
type CodeHandler struct {
	codeService *service.CodeService
}

// NewCodeHandler creates a CodeHandler.
func NewCodeHandler(codeService *service.CodeService) *CodeHandler {
	return &CodeHandler{codeService: codeService}
}

// SaveCodeRequest is the explicit save input. Code may legitimately be empty
// (clearing the buffer), so it has no required binding.
type SaveCodeRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Code      string `json:"code"`
}

// SaveCode persists the given buffer as the session's saved code.
func (h *CodeHandler) SaveCode(c *gin.Context) {
	var req SaveCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.SaveCode: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: session_id is required")
		return
	}

	record, err := h.codeService.SaveCode(c.Request.Context(), req.SessionID, req.Code)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	logrus.WithField("session_id", req.SessionID).Info("Handler.SaveCode: Code saved successfully")
	SuccessResponse(c, http.StatusOK, gin.H{
		"message":    "Code saved successfully",
		"session_id": record.SessionID,
	})
}

// RunCodeRequest is the execution input.
type RunCodeRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Language  string `json:"language" binding:"required"`
	Code      string `json:"code" binding:"required"`
}

// RunCodeResponse carries the trimmed execution output.
type RunCodeResponse struct {
	Result string `json:"result"`
}

// RunCode executes the buffer remotely and returns the output.
func (h *CodeHandler) RunCode(c *gin.Context) {
	var req RunCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.RunCode: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: session_id, language and code are required")
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"session_id": req.SessionID, "language": req.Language})

	result, err := h.codeService.RunCode(c.Request.Context(), req.SessionID, req.Language, req.Code)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.RunCode: Execution failed")
		HandleServiceError(c, err)
		return
	}

	logCtx.Info("Handler.RunCode: Code executed successfully")
	SuccessResponse(c, http.StatusOK, RunCodeResponse{Result: result})
}
