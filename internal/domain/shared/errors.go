package shared

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound           = NewDomainError("NOT_FOUND", "Resource not found")
	ErrConstraintConflict = NewDomainError("CONSTRAINT_CONFLICT", "Unique constraint violated by a concurrent writer")
	ErrLocked             = NewDomainError("LOCKED", "Another run holds the lock for this tenant and entity kind")
)

// ConfigurationError is a fatal error caused by tenant configuration or a
// canonical schema that does not match what the engine expects. Key names the
// configuration entry (or schema object) that must be fixed.
type ConfigurationError struct {
	Key     string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration error [%s]: %s", e.Key, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates a ConfigurationError for key
func NewConfigurationError(key, message string) *ConfigurationError {
	return &ConfigurationError{Key: key, Message: message}
}

// WrapConfigurationError creates a ConfigurationError carrying the underlying cause
func WrapConfigurationError(key, message string, err error) *ConfigurationError {
	return &ConfigurationError{Key: key, Message: message, Err: err}
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// IsConstraintConflict reports whether err is (or wraps) ErrConstraintConflict
func IsConstraintConflict(err error) bool {
	return errors.Is(err, ErrConstraintConflict)
}
