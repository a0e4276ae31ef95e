package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/convoflow/convoflow/pkg/channels"
	"github.com/convoflow/convoflow/pkg/cmd"
	"github.com/convoflow/convoflow/pkg/engine"
	"github.com/convoflow/convoflow/pkg/eventbus"
	"github.com/convoflow/convoflow/pkg/events"
	"github.com/convoflow/convoflow/pkg/log"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/otelhelper"
	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/convoflow/convoflow/pkg/registry"
	"github.com/convoflow/convoflow/pkg/scheduler"
	"github.com/convoflow/convoflow/pkg/sweeper"
	"github.com/convoflow/convoflow/pkg/variables"
	"github.com/convoflow/convoflow/pkg/waits"
)

// Worker wires the session manager, wait coordinator, schedule poller, and
// sweeper into one process and feeds them from the inbound event topic.
type Worker struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	manager     *engine.Manager
	coordinator *waits.Coordinator
	scheduler   *scheduler.Scheduler
	sweeper     *sweeper.Sweeper
}

func NewWorker(ctx context.Context, workerID string, logger *slog.Logger, command *cli.Command) (*Worker, error) {
	p, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, err
	}

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger)
	if err != nil {
		return nil, err
	}

	locker, err := cmd.NewLocker(ctx, command.String("redis-url"))
	if err != nil {
		return nil, err
	}

	var codec *variables.Codec
	if secret := command.String("variable-encryption-key"); secret != "" {
		codec, err = variables.NewCodec(secret)
		if err != nil {
			return nil, err
		}
	}

	var tracer trace.Tracer
	if command.Bool("tracing") {
		tracer, err = otelhelper.NewTracer(ctx, "flowd")
		if err != nil {
			return nil, err
		}
	}

	vars := variables.NewStore(p.Variables(), codec, log.WithModule("variables"))
	sender := channels.NewEventBusSender(eventBus, logger)

	reg := registry.NewRegistry(log.WithModule("registry"))
	registry.RegisterDefaultNodes(reg, registry.NodeDependencies{Sender: sender})

	coordinator := waits.NewCoordinator(p, sender, waits.StaticMatcher{
		FlowID: command.String("default-flow-id"),
	}, logger)

	manager := engine.NewManager(p, vars, reg, locker, eventBus, coordinator, tracer, logger, engine.Config{
		WorkerID: workerID,
	})
	coordinator.Bind(manager)

	return &Worker{
		id:          workerID,
		logger:      logger,
		persistence: p,
		eventBus:    eventBus,
		manager:     manager,
		coordinator: coordinator,
		scheduler: scheduler.NewScheduler(p, coordinator, logger, scheduler.Config{
			PollInterval: command.Duration("schedule-poll-interval"),
		}),
		sweeper: sweeper.NewSweeper(p, manager, logger, sweeper.Config{
			SweepInterval: command.Duration("sweep-interval"),
			IdleCutoff:    command.Duration("idle-cutoff"),
		}),
	}, nil
}

// Start subscribes to the inbound topic and runs the background loops until
// the process receives SIGINT or SIGTERM.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.eventBus.Handle(events.InboundMessageEvent, w.handleInboundMessage); err != nil {
		return err
	}

	if err := w.eventBus.Handle(events.ManualTriggerEvent, w.handleManualTrigger); err != nil {
		return err
	}

	if err := w.eventBus.Subscribe(ctx, events.InboundTopic); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to inbound topic", "error", err)

		return err
	}

	if err := w.scheduler.Start(ctx); err != nil {
		return err
	}

	if err := w.sweeper.Start(ctx); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	w.logger.InfoContext(ctx, "Shutting down worker...")

	if err := w.scheduler.Stop(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to stop scheduler", "error", err)
	}

	if err := w.sweeper.Stop(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to stop sweeper", "error", err)
	}

	return nil
}

func (w *Worker) Close(ctx context.Context) {
	if err := w.eventBus.Close(); err != nil {
		w.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	if err := w.persistence.Close(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
	}
}

func (w *Worker) handleInboundMessage(ctx context.Context, event any) error {
	inbound, ok := event.(*events.InboundMessage)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for InboundMessage")

		return nil
	}

	input := &models.InputEvent{
		Kind:           models.EventKindMessage,
		ConversationID: inbound.ConversationID,
		ContactID:      inbound.ContactID,
		ChannelType:    inbound.ChannelType,
		Content:        inbound.Content,
		ExternalID:     inbound.ExternalID,
		Metadata:       inbound.Metadata,
		ReceivedAt:     inbound.Timestamp,
	}

	return w.coordinator.OnInboundEvent(ctx, input)
}

func (w *Worker) handleManualTrigger(ctx context.Context, event any) error {
	trigger, ok := event.(*events.ManualTrigger)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for ManualTrigger")

		return nil
	}

	input := &models.InputEvent{
		Kind:           models.EventKindManual,
		ConversationID: trigger.ConversationID,
		ContactID:      trigger.ContactID,
		Metadata:       trigger.Metadata,
		ReceivedAt:     trigger.Timestamp,
	}

	_, err := w.manager.Trigger(ctx, trigger.FlowID, 0, input)
	if err != nil {
		// A live session already owns the conversation. The trigger is
		// dropped, not retried.
		if errors.Is(err, engine.ErrSessionConflict) {
			w.logger.WarnContext(ctx, "Manual trigger ignored, conversation has a live session",
				"flow_id", trigger.FlowID,
				"conversation_id", trigger.ConversationID,
			)

			return nil
		}

		w.logger.ErrorContext(ctx, "Failed to trigger session", "error", err, "flow_id", trigger.FlowID)

		return err
	}

	return nil
}
