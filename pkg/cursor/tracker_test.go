package cursor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/pkg/models"
)

func testFlow() *models.Flow {
	return &models.Flow{
		ID:          "flow-1",
		Version:     1,
		Name:        "loop flow",
		StartNodeID: "a",
		Nodes: []models.FlowNode{
			{ID: "a", Type: models.NodeTypeMessage},
			{ID: "b", Type: models.NodeTypeCondition},
			{ID: "c", Type: models.NodeTypeEnd},
		},
		Edges: []models.FlowEdge{
			{ID: "e1", SourceID: "a", TargetID: "b"},
			{ID: "e2", SourceID: "b", TargetID: "a", Label: "retry"},
			{ID: "e3", SourceID: "b", TargetID: "c", Label: "done"},
		},
	}
}

func TestInitCursor(t *testing.T) {
	tracker := NewTracker(testFlow())

	cur := tracker.InitCursor("s1", "a")

	assert.Equal(t, "s1", cur.SessionID)
	assert.Equal(t, "a", cur.CurrentNodeID)
	assert.Empty(t, cur.PreviousNodeID)
	assert.Equal(t, []string{"b"}, cur.NextNodeIDs)
	assert.Equal(t, models.SessionSchemaVersion, cur.SchemaVersion)
}

func TestAdvance(t *testing.T) {
	tracker := NewTracker(testFlow())
	cur := tracker.InitCursor("s1", "a")

	require.NoError(t, tracker.Advance(cur, "b"))

	assert.Equal(t, "b", cur.CurrentNodeID)
	assert.Equal(t, "a", cur.PreviousNodeID)
	assert.ElementsMatch(t, []string{"a", "c"}, cur.NextNodeIDs)
	assert.Equal(t, 1, tracker.LoopCount(cur, "b"))
}

func TestAdvance_UnknownNodeFails(t *testing.T) {
	tracker := NewTracker(testFlow())
	cur := tracker.InitCursor("s1", "a")

	require.Error(t, tracker.Advance(cur, "ghost"))
	assert.Equal(t, "a", cur.CurrentNodeID)
}

func TestAdvance_LoopCountsAccumulate(t *testing.T) {
	tracker := NewTracker(testFlow())
	cur := tracker.InitCursor("s1", "a")

	require.NoError(t, tracker.Advance(cur, "b"))
	require.NoError(t, tracker.Advance(cur, "a"))
	require.NoError(t, tracker.Advance(cur, "b"))
	require.NoError(t, tracker.Advance(cur, "a"))

	assert.Equal(t, 2, tracker.LoopCount(cur, "a"))
	assert.Equal(t, 2, tracker.LoopCount(cur, "b"))
	assert.Equal(t, 0, tracker.LoopCount(cur, "c"))
}

func TestAdvance_ClearsWait(t *testing.T) {
	tracker := NewTracker(testFlow())
	cur := tracker.InitCursor("s1", "a")

	timeoutAt := time.Now().UTC().Add(time.Hour)
	tracker.SetWaiting(cur, &models.WaitingContext{
		Kind:          models.WaitKindInput,
		ExpectedInput: models.InputTypeText,
		TimeoutAt:     &timeoutAt,
	})
	require.NotNil(t, cur.Wait)

	require.NoError(t, tracker.Advance(cur, "b"))
	assert.Nil(t, cur.Wait)
}

func TestSetWaitingAndClearWait(t *testing.T) {
	tracker := NewTracker(testFlow())
	cur := tracker.InitCursor("s1", "a")

	tracker.SetWaiting(cur, &models.WaitingContext{Kind: models.WaitKindTimer, ScheduleID: "sch-1"})
	require.NotNil(t, cur.Wait)
	assert.Equal(t, "sch-1", cur.Wait.ScheduleID)

	tracker.ClearWait(cur)
	assert.Nil(t, cur.Wait)
}

func TestTerminalNodeHasNoCandidates(t *testing.T) {
	tracker := NewTracker(testFlow())
	cur := tracker.InitCursor("s1", "a")

	require.NoError(t, tracker.Advance(cur, "b"))
	require.NoError(t, tracker.Advance(cur, "c"))

	assert.Empty(t, cur.NextNodeIDs)
}
