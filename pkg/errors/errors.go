package errors

import (
	"fmt"
)

// ErrorType defines different categories of errors
type ErrorType string

const (
	ErrorTypeAuthentication ErrorType = "AUTHENTICATION_FAILED"
	ErrorTypeStaleReference ErrorType = "STALE_REFERENCE"
	ErrorTypePersistence    ErrorType = "PERSISTENCE_FAILURE"
	ErrorTypeReplication    ErrorType = "REPLICATION_UNAVAILABLE"
	ErrorTypeTransport      ErrorType = "TRANSPORT_FAILURE"
)

// AppError is the custom error type for the application.
//
// Only AUTHENTICATION_FAILED is ever surfaced to a client; every other
// category is absorbed internally and logged. There is no error event in the
// wire protocol.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work
func (e *AppError) Unwrap() error {
	return e.Err
}

// Constructor functions for different error types

// NewAuthenticationFailed creates an authentication error
func NewAuthenticationFailed(message string, err error) error {
	return &AppError{
		Type:    ErrorTypeAuthentication,
		Message: message,
		Err:     err,
	}
}

// NewStaleReference creates a stale reference error
func NewStaleReference(message string) error {
	return &AppError{
		Type:    ErrorTypeStaleReference,
		Message: message,
	}
}

// NewPersistenceFailure creates a persistence error
func NewPersistenceFailure(message string, err error) error {
	return &AppError{
		Type:    ErrorTypePersistence,
		Message: message,
		Err:     err,
	}
}

// NewReplicationUnavailable creates a replication error
func NewReplicationUnavailable(message string, err error) error {
	return &AppError{
		Type:    ErrorTypeReplication,
		Message: message,
		Err:     err,
	}
}

// NewTransportFailure creates a transport error
func NewTransportFailure(message string, err error) error {
	return &AppError{
		Type:    ErrorTypeTransport,
		Message: message,
		Err:     err,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already an AppError, preserve the type
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Type:    appErr.Type,
			Message: fmt.Sprintf("%s: %s", message, appErr.Message),
			Err:     appErr.Err,
		}
	}

	// Otherwise, treat it as a transport failure
	return &AppError{
		Type:    ErrorTypeTransport,
		Message: message,
		Err:     err,
	}
}

// Type checking functions

// IsAuthenticationFailed checks if an error is an authentication error
func IsAuthenticationFailed(err error) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Type == ErrorTypeAuthentication
}

// IsStaleReference checks if an error is a stale reference error
func IsStaleReference(err error) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Type == ErrorTypeStaleReference
}

// IsPersistenceFailure checks if an error is a persistence error
func IsPersistenceFailure(err error) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Type == ErrorTypePersistence
}

// IsReplicationUnavailable checks if an error is a replication error
func IsReplicationUnavailable(err error) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Type == ErrorTypeReplication
}

// IsTransportFailure checks if an error is a transport error
func IsTransportFailure(err error) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Type == ErrorTypeTransport
}
