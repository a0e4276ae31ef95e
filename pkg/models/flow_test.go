package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFlow() *Flow {
	return &Flow{
		ID:          "flow-1",
		Version:     1,
		Name:        "Order support",
		Status:      FlowStatusPublished,
		StartNodeID: "welcome",
		Nodes: []FlowNode{
			{ID: "welcome", Type: NodeTypeMessage, Config: map[string]any{"content": "hi"}},
			{ID: "route", Type: NodeTypeCondition, Config: map[string]any{"expression": "{{.variables.x}}"}},
			{ID: "done", Type: NodeTypeEnd},
		},
		Edges: []FlowEdge{
			{ID: "e1", SourceID: "welcome", TargetID: "route"},
			{ID: "e2", SourceID: "route", TargetID: "done", Label: "yes"},
			{ID: "e3", SourceID: "route", TargetID: "done", Kind: EdgeKindDefault},
		},
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validFlow().Validate())
}

func TestValidate_StartNodeMissing(t *testing.T) {
	flow := validFlow()
	flow.StartNodeID = "nope"

	require.ErrorIs(t, flow.Validate(), ErrStartNodeMissing)
}

func TestValidate_DanglingEdge(t *testing.T) {
	flow := validFlow()
	flow.Edges = append(flow.Edges, FlowEdge{ID: "e4", SourceID: "welcome", TargetID: "ghost"})

	require.ErrorIs(t, flow.Validate(), ErrDanglingEdge)
}

func TestValidate_DeadEndNode(t *testing.T) {
	flow := validFlow()
	flow.Nodes = append(flow.Nodes, FlowNode{ID: "orphan", Type: NodeTypeMessage})

	require.ErrorIs(t, flow.Validate(), ErrDeadEndNode)
}

func TestValidate_CyclesAreLegal(t *testing.T) {
	flow := validFlow()
	flow.Edges = append(flow.Edges, FlowEdge{ID: "e4", SourceID: "route", TargetID: "welcome", Label: "again"})

	require.NoError(t, flow.Validate())
}

func TestEdgeByLabel(t *testing.T) {
	flow := validFlow()

	edge, ok := flow.EdgeByLabel("route", "yes")
	require.True(t, ok)
	assert.Equal(t, "e2", edge.ID)

	_, ok = flow.EdgeByLabel("route", "no")
	assert.False(t, ok)
}

func TestEdgeByKind_DefaultFallback(t *testing.T) {
	flow := validFlow()

	edge, ok := flow.EdgeByKind("route", EdgeKindDefault)
	require.True(t, ok)
	assert.Equal(t, "e3", edge.ID)
}

func TestFirstEdge_SkipsSpecialKinds(t *testing.T) {
	flow := validFlow()
	flow.Edges = []FlowEdge{
		{ID: "t1", SourceID: "welcome", TargetID: "done", Kind: EdgeKindTimeout},
		{ID: "e1", SourceID: "welcome", TargetID: "route"},
	}

	edge, ok := flow.FirstEdge("welcome")
	require.True(t, ok)
	assert.Equal(t, "e1", edge.ID)
}
