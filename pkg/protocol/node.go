// Package protocol defines the interfaces and contracts between the engine,
// node handlers, and the external collaborators node handlers call out to.
package protocol

import (
	"context"
	"log/slog"
	"time"

	"github.com/convoflow/convoflow/pkg/models"
)

// OutcomeKind is the tag of the Outcome union.
type OutcomeKind string

const (
	// OutcomeAdvance moves the cursor to an explicit node, or to the node's
	// first outgoing edge when NextNodeID is empty.
	OutcomeAdvance OutcomeKind = "advance"
	// OutcomeAdvanceEdge moves the cursor along the outgoing edge matching
	// EdgeLabel, falling back to the node's default edge.
	OutcomeAdvanceEdge OutcomeKind = "advance_edge"
	// OutcomeWait suspends the session per the WaitSpec.
	OutcomeWait OutcomeKind = "wait"
	// OutcomeTerminate ends the session with TerminalStatus.
	OutcomeTerminate OutcomeKind = "terminate"
)

// WaitSpec describes the suspension a node handler requests.
type WaitSpec struct {
	Kind models.WaitKind

	// Input waits.
	ExpectedInput models.InputType
	Pattern       string
	Options       []string
	Timeout       time.Duration

	// Timer waits. Delay is resolved to an absolute instant by the wait
	// coordinator at request time; FireAt wins when both are set.
	FireAt time.Time
	Delay  time.Duration
	Cron   string

	// Optional content delivered on the session's channel when the timer
	// fires (follow-up nodes).
	ChannelType string
	Content     map[string]any

	Reason string
}

// Outcome is the result of one node execution: exactly one of advance,
// advance-edge, wait, or terminate. Errors are returned separately.
type Outcome struct {
	Kind           OutcomeKind
	NextNodeID     string
	EdgeLabel      string
	Condition      string
	Wait           *WaitSpec
	TerminalStatus models.SessionStatus
	Output         map[string]any
}

// Advance continues to the given node, or to the implicit next node when id is empty.
func Advance(nextNodeID string) Outcome {
	return Outcome{Kind: OutcomeAdvance, NextNodeID: nextNodeID}
}

// AdvanceEdge continues along the outgoing edge with the given label. The
// condition string is recorded in the session's branching history.
func AdvanceEdge(label, condition string) Outcome {
	return Outcome{Kind: OutcomeAdvanceEdge, EdgeLabel: label, Condition: condition}
}

// WaitFor suspends the session.
func WaitFor(spec WaitSpec) Outcome {
	return Outcome{Kind: OutcomeWait, Wait: &spec}
}

// Terminate ends the session.
func Terminate(status models.SessionStatus) Outcome {
	return Outcome{Kind: OutcomeTerminate, TerminalStatus: status}
}

// WithOutput attaches the step output snapshot recorded in the audit trail.
func (o Outcome) WithOutput(output map[string]any) Outcome {
	o.Output = output

	return o
}

// VariableAccess is the session-bound view of the variable store handed to
// node handlers. Resolve walks scopes narrowest to widest.
type VariableAccess interface {
	Resolve(ctx context.Context, key string) (any, bool, error)
	Get(ctx context.Context, scope models.VariableScope, key string) (any, bool, error)
	Set(ctx context.Context, scope models.VariableScope, key string, value any, opts models.VariableOptions) error
	Delete(ctx context.Context, scope models.VariableScope, key string) error
	Snapshot(ctx context.Context) (map[string]any, error)
}

// ExecutionContext carries everything a node handler may consult. Input is
// nil except when the session is being resumed with an inbound event.
type ExecutionContext struct {
	Flow      *models.Flow
	Session   *models.FlowSession
	Node      *models.FlowNode
	Input     *models.InputEvent
	Variables VariableAccess
	Logger    *slog.Logger
}

// NodeState returns the session's transient state blob for the current node,
// creating it on first use.
func (ec *ExecutionContext) NodeState() map[string]any {
	if ec.Session.NodeState == nil {
		ec.Session.NodeState = make(map[string]map[string]any)
	}

	state, ok := ec.Session.NodeState[ec.Node.ID]
	if !ok {
		state = make(map[string]any)
		ec.Session.NodeState[ec.Node.ID] = state
	}

	return state
}

// NodeHandler executes one node type.
type NodeHandler interface {
	Execute(ctx context.Context, ec ExecutionContext) (Outcome, error)
}

// NodeFactory creates node handler instances and provides metadata about the
// node type, including the JSON schema its configuration must satisfy.
type NodeFactory interface {
	Create(ctx context.Context, node *models.FlowNode) (NodeHandler, error)
	ID() string
	Name() string
	Description() string
	Schema() map[string]any
}
