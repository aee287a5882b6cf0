package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrFilePathRequired indicates a required file path field is empty.
	ErrFilePathRequired = errors.New("file_path is required")

	// ErrSessionIDRequired indicates a required session ID field is empty.
	ErrSessionIDRequired = errors.New("session_id is required")

	// ErrInvalidSessionState indicates a session state outside the known set.
	ErrInvalidSessionState = errors.New("invalid session state: must be 'ended' or 'error'")

	// ErrInvalidCodecList indicates a codec list field is not a JSON string array.
	ErrInvalidCodecList = errors.New("codec list must be a JSON array of strings")

	// ErrUserAgentRequired indicates a required user agent field is empty.
	ErrUserAgentRequired = errors.New("user_agent is required")

	// ErrInvalidVerdict indicates a reliability verdict outside the known set.
	ErrInvalidVerdict = errors.New("invalid verdict: must be 'trusted', 'suspect', or 'untrusted'")
)
