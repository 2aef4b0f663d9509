package channels

import (
	"errors"
	"fmt"

	"github.com/smartassist/smartassist/pkg/models"
)

// ErrorCode classifies a channel send/operation failure into one of:
// Auth | InvalidMessage | RateLimited | ChannelSpecific | Internal.
type ErrorCode string

const (
	ErrCodeAuth            ErrorCode = "AUTH"
	ErrCodeInvalidMessage  ErrorCode = "INVALID_MESSAGE"
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrCodeChannelSpecific ErrorCode = "CHANNEL_SPECIFIC"
	ErrCodeInternal        ErrorCode = "INTERNAL"

	// ErrCodeConfig classifies adapter construction/configuration failures,
	// which spec.md's taxonomy does not name directly since they occur
	// before a channel is ever asked to send anything.
	ErrCodeConfig ErrorCode = "CONFIG"
)

// Error is a structured channel failure with a code for classification
// plus an optional underlying cause.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithContext attaches debugging context to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// IsRetryable reports whether the error represents a transient condition.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case ErrCodeRateLimited:
		return true
	default:
		return false
	}
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// ErrAuth builds an authentication/authorization failure.
func ErrAuth(message string, err error) *Error { return newError(ErrCodeAuth, message, err) }

// ErrInvalidMessage builds a message-shape validation failure (e.g. text
// too long, unsupported media type for the channel).
func ErrInvalidMessage(message string, err error) *Error {
	return newError(ErrCodeInvalidMessage, message, err)
}

// ErrRateLimited builds an upstream rate-limit failure.
func ErrRateLimited(message string, err error) *Error {
	return newError(ErrCodeRateLimited, message, err)
}

// ErrChannelSpecific builds a failure unique to one channel's semantics,
// e.g. "edit not supported on this channel" for a feature the channel's
// capabilities declare unsupported.
func ErrChannelSpecific(message string, err error) *Error {
	return newError(ErrCodeChannelSpecific, message, err)
}

// ErrInternal builds an unclassified internal failure.
func ErrInternal(message string, err error) *Error { return newError(ErrCodeInternal, message, err) }

// ErrConfig builds a configuration/construction failure.
func ErrConfig(message string, err error) *Error { return newError(ErrCodeConfig, message, err) }

// ErrInvalidReactionEmoji is returned by ReactionConfig.Validate when acks
// are enabled but no emoji is configured.
var ErrInvalidReactionEmoji = newError(ErrCodeInvalidMessage, "reaction emoji must be set when acks are enabled", nil)

// GetErrorCode extracts the ErrorCode from err, defaulting to Internal.
func GetErrorCode(err error) ErrorCode {
	var chErr *Error
	if errors.As(err, &chErr) {
		return chErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether err (of any type) represents a transient
// failure.
func IsRetryable(err error) bool {
	var chErr *Error
	if errors.As(err, &chErr) {
		return chErr.IsRetryable()
	}
	return false
}

// SendResult is returned by a successful Send/SendWithAttachments call.
type SendResult struct {
	MessageID models.MessageId
	ChatID    string
}
