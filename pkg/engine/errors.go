package engine

import (
	"errors"
	"fmt"

	"github.com/convoflow/convoflow/pkg/models"
)

var (
	// ErrSessionConflict indicates a live session already occupies the
	// (flow, conversation) slot a trigger tried to claim.
	ErrSessionConflict = errors.New("conflicting live session")

	// ErrSessionTerminal indicates an operation targeted a session that
	// already reached a terminal status.
	ErrSessionTerminal = errors.New("session is terminal")

	// ErrSessionPaused indicates a resume targeted a paused session. The
	// event is rejected; unpause first.
	ErrSessionPaused = errors.New("session is paused")

	// ErrSessionNotWaiting indicates a resume targeted a session that is not
	// suspended, or delivered an event kind its wait does not expect.
	ErrSessionNotWaiting = errors.New("session is not waiting for this event")

	// ErrSessionNotPaused indicates an unpause targeted a session that is
	// not paused.
	ErrSessionNotPaused = errors.New("session is not paused")

	// ErrInputValidation indicates inbound content did not satisfy the wait's
	// input expectations. The session stays waiting.
	ErrInputValidation = errors.New("input validation failed")
)

// ValidationError reports why inbound content was rejected against the
// session's expected input. It unwraps to ErrInputValidation.
type ValidationError struct {
	Expected models.InputType
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: expected %s input: %s", ErrInputValidation, e.Expected, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInputValidation
}
