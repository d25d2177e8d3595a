package service

import "errors"

// Business errors returned by the service layer. The HTTP and gateway layers
// map these onto status codes and connection-level signals.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInvalidToken         = errors.New("invalid or expired token")
	ErrRegistrationFailed   = errors.New("registration failed: username or email already exists")
	ErrUserNotFound         = errors.New("user not found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrParticipantNotFound  = errors.New("participant not found in session")
	ErrForbidden            = errors.New("operation not permitted")
	ErrExecutionTimeout     = errors.New("code execution timed out")
	ErrExecutionFailed      = errors.New("code execution failed")
	ErrInternalServer       = errors.New("internal server error")
)
