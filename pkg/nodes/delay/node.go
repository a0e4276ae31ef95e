// Package delay provides the time-based wait nodes. A delay node suspends
// until a scheduled instant; a follow-up node additionally carries content
// the wait coordinator delivers on the session's channel when the timer
// fires. No inbound input is expected for either.
package delay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/protocol"
	"github.com/convoflow/convoflow/pkg/template"
)

// DelayNode suspends the session on a timer.
type DelayNode struct {
	id     string
	config Config
}

// Config defines the configuration for delay and follow-up nodes.
type Config struct {
	DelaySeconds int
	Until        string
	Cron         string
	ChannelType  string
	Content      map[string]any
}

// NewDelayNode creates a delay node.
func NewDelayNode(id string, config map[string]any) (*DelayNode, error) {
	cfg := Config{}

	if delay, ok := config["delay_seconds"].(float64); ok {
		cfg.DelaySeconds = int(delay)
	}

	if until, ok := config["until"].(string); ok {
		cfg.Until = until
	}

	if cronExpr, ok := config["cron"].(string); ok {
		cfg.Cron = cronExpr
	}

	if channelType, ok := config["channel_type"].(string); ok {
		cfg.ChannelType = channelType
	}

	if content, ok := config["content"].(map[string]any); ok {
		cfg.Content = content
	}

	if cfg.DelaySeconds <= 0 && cfg.Until == "" && cfg.Cron == "" {
		return nil, errors.New("delay node requires one of 'delay_seconds', 'until', or 'cron'")
	}

	if cfg.Cron != "" {
		if err := models.ValidateCronExpression(cfg.Cron); err != nil {
			return nil, err
		}
	}

	return &DelayNode{id: id, config: cfg}, nil
}

// Execute requests a timer wait on first entry and advances when re-entered
// by the fired schedule's synthetic timer event.
func (n *DelayNode) Execute(ctx context.Context, ec protocol.ExecutionContext) (protocol.Outcome, error) {
	if ec.Input != nil && ec.Input.Kind == models.EventKindTimer {
		return protocol.Advance("").WithOutput(map[string]any{
			"schedule_id": ec.Input.ScheduleID,
		}), nil
	}

	spec := protocol.WaitSpec{
		Kind:        models.WaitKindTimer,
		Cron:        n.config.Cron,
		ChannelType: n.config.ChannelType,
		Content:     n.config.Content,
		Reason:      "scheduled delay",
	}

	switch {
	case n.config.Until != "":
		rendered, err := template.RenderString(ctx, n.config.Until, &ec)
		if err != nil {
			return protocol.Outcome{}, fmt.Errorf("failed to render 'until': %w", err)
		}

		fireAt, err := time.Parse(time.RFC3339, rendered)
		if err != nil {
			return protocol.Outcome{}, fmt.Errorf("invalid 'until' instant %q: %w", rendered, err)
		}

		spec.FireAt = fireAt
	case n.config.DelaySeconds > 0:
		spec.Delay = time.Duration(n.config.DelaySeconds) * time.Second
	}

	return protocol.WaitFor(spec), nil
}
