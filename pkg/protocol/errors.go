package protocol

import "errors"

// Error taxonomy surfaced by node handlers, shared so the engine and the API
// layer can branch on them with errors.Is.
var (
	// ErrBranchResolution indicates a condition node found no matching edge
	// and no default edge. This is a flow-authoring defect and fails the
	// session.
	ErrBranchResolution = errors.New("no matching or default edge for branch")

	// ErrIntegration indicates an external call failed or timed out. Retried
	// up to the node's configured maximum, then fatal for the node unless it
	// defines an error edge.
	ErrIntegration = errors.New("integration call failed")
)
