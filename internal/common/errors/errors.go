// Package errors provides the standardized error taxonomy for the bot core.
package errors

import (
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Catalog load-time failures. Fatal to the load, never to the running bot.
	ErrCodeDataIntegrity ErrorCode = "DATA_INTEGRITY"

	// Transient external failures. Always caught, always degrade to a
	// templated reply.
	ErrCodeGenerationUnavailable ErrorCode = "GENERATION_UNAVAILABLE"
	ErrCodePlatformUnavailable   ErrorCode = "PLATFORM_UNAVAILABLE"

	// Permanent for the zone in question: the hardware class does not
	// support the requested control.
	ErrCodePlatformPermissionDenied ErrorCode = "PLATFORM_PERMISSION_DENIED"

	// Conversational safety gates.
	ErrCodeVerificationFailed ErrorCode = "VERIFICATION_FAILED"
	ErrCodeResponseRejected   ErrorCode = "RESPONSE_REJECTED"

	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// NewDataIntegrityError creates a non-retryable catalog load error. The
// previous catalog stays live when this is returned from a refresh.
func NewDataIntegrityError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDataIntegrity,
		Message:   "Catalog batch rejected",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewGenerationUnavailableError creates a retryable AI generation error.
func NewGenerationUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeGenerationUnavailable,
		Message:   "AI text generation unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPlatformUnavailableError creates a retryable music-platform error.
func NewPlatformUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePlatformUnavailable,
		Message:   "Music platform unreachable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPlatformPermissionDeniedError creates a non-retryable control error for
// zones whose hardware cannot execute the requested command.
func NewPlatformPermissionDeniedError(zoneID, command string) *StandardError {
	return &StandardError{
		Code:      ErrCodePlatformPermissionDenied,
		Message:   "Zone hardware does not support this control",
		Details:   fmt.Sprintf("zoneId: %s, command: %s", zoneID, command),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewVerificationFailedError creates a non-retryable sensitive-query gate
// error. Callers of this must escalate and never disclose the guarded fact.
func NewVerificationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeVerificationFailed,
		Message:   "Caller identity verification failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewResponseRejectedError creates a non-retryable guard rejection. The reply
// that tripped the guard must be replaced wholesale.
func NewResponseRejectedError(rule, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeResponseRejected,
		Message:   "Generated reply rejected by response guard",
		Details:   fmt.Sprintf("rule: %s, %s", rule, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendFailedError creates a retryable notification delivery
// error. Delivery failure never blocks the caller-facing reply.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Escalation notification delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// GetRetryCount returns the recommended retry count per error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeGenerationUnavailable,
		ErrCodePlatformUnavailable,
		ErrCodeNotificationSendFailed:
		return 2

	default:
		// Safety gates and integrity failures: no retry.
		return 0
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}
