// Package cursor tracks a session's position in its flow graph: current and
// previous node, candidate next nodes, loop iterations, and wait state.
package cursor

import (
	"fmt"
	"time"

	"github.com/convoflow/convoflow/pkg/models"
)

// Tracker computes cursor movements against a pinned flow version. It holds
// no storage; the session manager persists cursors together with sessions.
type Tracker struct {
	flow *models.Flow
}

// NewTracker binds a tracker to a flow version.
func NewTracker(flow *models.Flow) *Tracker {
	return &Tracker{flow: flow}
}

// InitCursor builds the cursor for a fresh session positioned at the entry node.
func (t *Tracker) InitCursor(sessionID, entryNodeID string) *models.SessionCursor {
	cursor := &models.SessionCursor{
		SessionID:     sessionID,
		CurrentNodeID: entryNodeID,
		LoopCounts:    make(map[string]int),
		UpdatedAt:     time.Now().UTC(),
		SchemaVersion: models.SessionSchemaVersion,
	}

	t.refreshCandidates(cursor)

	return cursor
}

// Advance moves the cursor to the next node. Revisiting a node increments
// its loop count; loops are legal and tracked, not rejected.
func (t *Tracker) Advance(cursor *models.SessionCursor, nextNodeID string) error {
	if _, ok := t.flow.Node(nextNodeID); !ok {
		return fmt.Errorf("cannot advance cursor for session %s: node %s not in flow %s", cursor.SessionID, nextNodeID, t.flow.ID)
	}

	cursor.PreviousNodeID = cursor.CurrentNodeID
	cursor.CurrentNodeID = nextNodeID

	if cursor.LoopCounts == nil {
		cursor.LoopCounts = make(map[string]int)
	}

	cursor.LoopCounts[nextNodeID]++
	cursor.Wait = nil
	cursor.UpdatedAt = time.Now().UTC()

	t.refreshCandidates(cursor)

	return nil
}

// LoopCount returns how many times the session has entered the node.
func (t *Tracker) LoopCount(cursor *models.SessionCursor, nodeID string) int {
	return cursor.LoopCounts[nodeID]
}

// SetWaiting records the wait state on the cursor.
func (t *Tracker) SetWaiting(cursor *models.SessionCursor, wait *models.WaitingContext) {
	cursor.Wait = wait
	cursor.UpdatedAt = time.Now().UTC()
}

// ClearWait removes the wait state, typically after a successful resume.
func (t *Tracker) ClearWait(cursor *models.SessionCursor) {
	cursor.Wait = nil
	cursor.UpdatedAt = time.Now().UTC()
}

// refreshCandidates recomputes the set of possible next nodes from the
// current node's outgoing edges, before any condition evaluation.
func (t *Tracker) refreshCandidates(cursor *models.SessionCursor) {
	edges := t.flow.OutgoingEdges(cursor.CurrentNodeID)

	cursor.NextNodeIDs = cursor.NextNodeIDs[:0]
	for _, e := range edges {
		cursor.NextNodeIDs = append(cursor.NextNodeIDs, e.TargetID)
	}
}
