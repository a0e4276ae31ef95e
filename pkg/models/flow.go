// Package models defines the core flow graph and session models for conversational flow execution.
package models

import (
	"errors"
	"fmt"
	"time"
)

// FlowStatus represents the lifecycle state of a flow definition.
type FlowStatus string

const (
	FlowStatusDraft     FlowStatus = "draft"
	FlowStatusPublished FlowStatus = "published"
	FlowStatusArchived  FlowStatus = "archived"
)

// NodeType identifies the behavior of a flow node.
type NodeType string

const (
	NodeTypeMessage     NodeType = "message"
	NodeTypeMedia       NodeType = "media"
	NodeTypeTemplate    NodeType = "template"
	NodeTypeInteractive NodeType = "interactive"
	NodeTypeCondition   NodeType = "condition"
	NodeTypeInput       NodeType = "input"
	NodeTypeDelay       NodeType = "delay"
	NodeTypeFollowUp    NodeType = "followup"
	NodeTypeHTTPRequest NodeType = "http_request"
	NodeTypeWebhook     NodeType = "webhook"
	NodeTypeShopify     NodeType = "shopify"
	NodeTypeWooCommerce NodeType = "woocommerce"
	NodeTypeSheets      NodeType = "sheets"
	NodeTypeN8N         NodeType = "n8n"
	NodeTypeTypebot     NodeType = "typebot"
	NodeTypeFlowise     NodeType = "flowise"
	NodeTypeAIAssistant NodeType = "ai_assistant"
	NodeTypeEnd         NodeType = "end"
	NodeTypeBotDisable  NodeType = "bot_disable"
	NodeTypeBotReset    NodeType = "bot_reset"
)

// EdgeKind distinguishes ordinary edges from the special fallback edges a node may define.
type EdgeKind string

const (
	EdgeKindNormal  EdgeKind = ""
	EdgeKindDefault EdgeKind = "default"
	EdgeKindTimeout EdgeKind = "timeout"
	EdgeKindError   EdgeKind = "error"
)

// FlowNode is one step in a flow graph.
type FlowNode struct {
	ID             string         `json:"id"              validate:"required"`
	Type           NodeType       `json:"type"            validate:"required"`
	Name           string         `json:"name"`
	Config         map[string]any `json:"config"`
	MaxRetries     int            `json:"max_retries"`
	TimeoutSeconds int            `json:"timeout_seconds"`
}

// IsTerminal reports whether the node ends the session when executed.
func (n *FlowNode) IsTerminal() bool {
	return n.Type == NodeTypeEnd
}

// FlowEdge is a directed connection between two nodes, optionally labeled for branching.
type FlowEdge struct {
	ID       string   `json:"id"`
	SourceID string   `json:"source_id" validate:"required"`
	TargetID string   `json:"target_id" validate:"required"`
	Label    string   `json:"label,omitempty"`
	Kind     EdgeKind `json:"kind,omitempty"`
}

// Flow is an immutable-per-version directed graph of nodes and edges.
// Sessions pin a (ID, Version) pair at creation and never observe later edits.
type Flow struct {
	ID          string     `json:"id"            validate:"required"`
	Version     int        `json:"version"       validate:"gte=1"`
	Name        string     `json:"name"          validate:"required,min=3"`
	Status      FlowStatus `json:"status"`
	StartNodeID string     `json:"start_node_id" validate:"required"`
	Nodes       []FlowNode `json:"nodes"`
	Edges       []FlowEdge `json:"edges"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

var (
	ErrStartNodeMissing = errors.New("start node not present in flow")
	ErrDanglingEdge     = errors.New("edge references a node not present in flow")
	ErrDeadEndNode      = errors.New("non-terminal node has no outgoing edge")
)

// Node returns the node with the given id.
func (f *Flow) Node(id string) (*FlowNode, bool) {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i], true
		}
	}

	return nil, false
}

// OutgoingEdges returns all edges whose source is the given node.
func (f *Flow) OutgoingEdges(nodeID string) []FlowEdge {
	var out []FlowEdge

	for _, e := range f.Edges {
		if e.SourceID == nodeID {
			out = append(out, e)
		}
	}

	return out
}

// EdgeByLabel returns the outgoing edge of nodeID carrying the given label.
func (f *Flow) EdgeByLabel(nodeID, label string) (*FlowEdge, bool) {
	for i, e := range f.Edges {
		if e.SourceID == nodeID && e.Label == label && e.Kind == EdgeKindNormal {
			return &f.Edges[i], true
		}
	}

	return nil, false
}

// EdgeByKind returns the outgoing edge of nodeID with the given kind (default, timeout, error).
func (f *Flow) EdgeByKind(nodeID string, kind EdgeKind) (*FlowEdge, bool) {
	for i, e := range f.Edges {
		if e.SourceID == nodeID && e.Kind == kind {
			return &f.Edges[i], true
		}
	}

	return nil, false
}

// FirstEdge returns the first normal or default outgoing edge of nodeID,
// the implicit "next" for nodes that do not branch.
func (f *Flow) FirstEdge(nodeID string) (*FlowEdge, bool) {
	for i, e := range f.Edges {
		if e.SourceID == nodeID && (e.Kind == EdgeKindNormal || e.Kind == EdgeKindDefault) {
			return &f.Edges[i], true
		}
	}

	return nil, false
}

// Validate checks the structural invariants of the graph: the start node
// exists, every edge endpoint exists, and every non-terminal node has at
// least one outgoing edge. Cycles are legal.
func (f *Flow) Validate() error {
	if _, ok := f.Node(f.StartNodeID); !ok {
		return fmt.Errorf("flow %s: %w: %s", f.ID, ErrStartNodeMissing, f.StartNodeID)
	}

	for _, e := range f.Edges {
		if _, ok := f.Node(e.SourceID); !ok {
			return fmt.Errorf("flow %s edge %s: %w: %s", f.ID, e.ID, ErrDanglingEdge, e.SourceID)
		}

		if _, ok := f.Node(e.TargetID); !ok {
			return fmt.Errorf("flow %s edge %s: %w: %s", f.ID, e.ID, ErrDanglingEdge, e.TargetID)
		}
	}

	for _, n := range f.Nodes {
		if n.IsTerminal() {
			continue
		}

		if len(f.OutgoingEdges(n.ID)) == 0 {
			return fmt.Errorf("flow %s: %w: %s", f.ID, ErrDeadEndNode, n.ID)
		}
	}

	return nil
}
