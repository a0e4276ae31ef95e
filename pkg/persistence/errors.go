// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates a flow was not found by the given identifier.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrFlowVersionNotFound indicates the requested flow version does not exist.
	ErrFlowVersionNotFound = errors.New("flow version not found")

	// ErrSessionNotFound indicates a session was not found by the given identifier.
	ErrSessionNotFound = errors.New("session not found")

	// ErrVariableNotFound indicates no live variable exists for the scope and key.
	ErrVariableNotFound = errors.New("variable not found")

	// ErrScheduleNotFound indicates a follow-up schedule was not found.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrDuplicateLiveSession indicates a second active/waiting/paused session
	// was about to be created for a (flow, conversation) pair.
	ErrDuplicateLiveSession = errors.New("live session already exists for flow and conversation")
)

// SessionError wraps session-related errors with additional context.
type SessionError struct {
	Op        string // Operation being performed (e.g., "SessionByID", "SaveSession")
	SessionID string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s operation failed for session %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func (e *SessionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewSessionError creates a new session error with context.
func NewSessionError(op, sessionID string, err error) *SessionError {
	return &SessionError{Op: op, SessionID: sessionID, Err: err}
}

// VariableError wraps variable-related errors with scope and key context.
type VariableError struct {
	Op    string
	Scope string
	Key   string
	Err   error
}

func (e *VariableError) Error() string {
	return fmt.Sprintf("%s operation failed for %s variable %q: %v", e.Op, e.Scope, e.Key, e.Err)
}

func (e *VariableError) Unwrap() error {
	return e.Err
}

func (e *VariableError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsSessionNotFound checks if an error indicates a session was not found.
func IsSessionNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}

// IsFlowNotFound checks if an error indicates a flow was not found.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound) || errors.Is(err, ErrFlowVersionNotFound)
}

// IsVariableNotFound checks if an error indicates a variable was not found.
func IsVariableNotFound(err error) bool {
	return errors.Is(err, ErrVariableNotFound)
}

// IsDuplicateLiveSession checks if an error indicates a live-session uniqueness violation.
func IsDuplicateLiveSession(err error) bool {
	return errors.Is(err, ErrDuplicateLiveSession)
}
