package delay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/protocol"
)

func execContext(input *models.InputEvent) protocol.ExecutionContext {
	return protocol.ExecutionContext{
		Session: &models.FlowSession{
			ID:             "s1",
			ConversationID: "conv-1",
			ChannelType:    "whatsapp",
			Status:         models.SessionStatusActive,
		},
		Node:  &models.FlowNode{ID: "wait", Type: models.NodeTypeDelay},
		Input: input,
	}
}

func TestNewDelayNode_RequiresATrigger(t *testing.T) {
	_, err := NewDelayNode("n1", map[string]any{})
	require.Error(t, err)

	_, err = NewDelayNode("n1", map[string]any{"delay_seconds": float64(0)})
	require.Error(t, err)
}

func TestNewDelayNode_RejectsInvalidCron(t *testing.T) {
	_, err := NewDelayNode("n1", map[string]any{"cron": "not a cron"})
	require.Error(t, err)
}

func TestExecute_RelativeDelayWaits(t *testing.T) {
	n, err := NewDelayNode("n1", map[string]any{"delay_seconds": float64(300)})
	require.NoError(t, err)

	outcome, err := n.Execute(context.Background(), execContext(nil))
	require.NoError(t, err)

	assert.Equal(t, protocol.OutcomeWait, outcome.Kind)
	require.NotNil(t, outcome.Wait)
	assert.Equal(t, models.WaitKindTimer, outcome.Wait.Kind)
	assert.Equal(t, 5*time.Minute, outcome.Wait.Delay)
	assert.True(t, outcome.Wait.FireAt.IsZero())
}

func TestExecute_UntilInstantWaits(t *testing.T) {
	fireAt := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	n, err := NewDelayNode("n1", map[string]any{"until": fireAt.Format(time.RFC3339)})
	require.NoError(t, err)

	outcome, err := n.Execute(context.Background(), execContext(nil))
	require.NoError(t, err)

	require.NotNil(t, outcome.Wait)
	assert.True(t, outcome.Wait.FireAt.Equal(fireAt))
}

func TestExecute_BadUntilInstantFails(t *testing.T) {
	n, err := NewDelayNode("n1", map[string]any{"until": "tomorrowish"})
	require.NoError(t, err)

	_, err = n.Execute(context.Background(), execContext(nil))
	require.Error(t, err)
}

func TestExecute_CronWaitCarriesExpression(t *testing.T) {
	n, err := NewDelayNode("n1", map[string]any{"cron": "0 9 * * *"})
	require.NoError(t, err)

	outcome, err := n.Execute(context.Background(), execContext(nil))
	require.NoError(t, err)

	require.NotNil(t, outcome.Wait)
	assert.Equal(t, "0 9 * * *", outcome.Wait.Cron)
}

func TestExecute_FollowUpContentCarriedOnWait(t *testing.T) {
	n, err := NewDelayNode("n1", map[string]any{
		"delay_seconds": float64(60),
		"channel_type":  "sms",
		"content":       map[string]any{"type": "text", "text": "Still there?"},
	})
	require.NoError(t, err)

	outcome, err := n.Execute(context.Background(), execContext(nil))
	require.NoError(t, err)

	require.NotNil(t, outcome.Wait)
	assert.Equal(t, "sms", outcome.Wait.ChannelType)
	assert.Equal(t, "Still there?", outcome.Wait.Content["text"])
}

func TestExecute_TimerEventAdvances(t *testing.T) {
	n, err := NewDelayNode("n1", map[string]any{"delay_seconds": float64(60)})
	require.NoError(t, err)

	outcome, err := n.Execute(context.Background(), execContext(models.TimerEvent("sch-1")))
	require.NoError(t, err)

	assert.Equal(t, protocol.OutcomeAdvance, outcome.Kind)
	assert.Equal(t, "sch-1", outcome.Output["schedule_id"])
}
