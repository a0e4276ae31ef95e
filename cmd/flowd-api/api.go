package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	cli "github.com/urfave/cli/v3"

	"github.com/convoflow/convoflow/pkg/channels"
	"github.com/convoflow/convoflow/pkg/cmd"
	"github.com/convoflow/convoflow/pkg/engine"
	"github.com/convoflow/convoflow/pkg/eventbus"
	"github.com/convoflow/convoflow/pkg/log"
	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/convoflow/convoflow/pkg/registry"
	"github.com/convoflow/convoflow/pkg/variables"
	"github.com/convoflow/convoflow/pkg/waits"
	"github.com/convoflow/convoflow/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	manager     *engine.Manager
	registry    *registry.Registry
	variables   *variables.Store
	coordinator *waits.Coordinator
	validate    *validator.Validate
}

// NewAPI wires the same engine stack the worker runs, minus the background
// loops. API-triggered sessions execute synchronously until they wait.
func NewAPI(ctx context.Context, logger *slog.Logger, command *cli.Command) (*API, error) {
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

	vars := variables.NewStore(p.Variables(), codec, log.WithModule("variables"))
	sender := channels.NewEventBusSender(eventBus, logger)

	reg := registry.NewRegistry(log.WithModule("registry"))
	registry.RegisterDefaultNodes(reg, registry.NodeDependencies{Sender: sender})

	coordinator := waits.NewCoordinator(p, sender, nil, logger)

	manager := engine.NewManager(p, vars, reg, locker, eventBus, coordinator, nil, logger, engine.Config{})
	coordinator.Bind(manager)

	return &API{
		logger:      logger,
		persistence: p,
		eventBus:    eventBus,
		manager:     manager,
		registry:    reg,
		variables:   vars,
		coordinator: coordinator,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.persistence, a.manager, a.registry, a.variables, a.coordinator, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get("/health", handlers.HealthCheck)
	app.Get("/node-types", handlers.GetNodeTypes)

	f := app.Group("/flows")
	f.Post("/", handlers.SaveFlow)
	f.Get("/:id", handlers.GetFlow)
	f.Get("/:id/versions/:version", handlers.GetFlowVersion)
	f.Post("/:id/versions/:version/publish", handlers.PublishFlow)

	s := app.Group("/sessions")
	s.Post("/", handlers.TriggerSession)
	s.Get("/:id", handlers.GetSession)
	s.Get("/:id/steps", handlers.GetSessionSteps)
	s.Get("/:id/variables", handlers.GetSessionVariables)
	s.Post("/:id/events", handlers.InjectSessionEvent)
	s.Post("/:id/pause", handlers.PauseSession)
	s.Post("/:id/unpause", handlers.UnpauseSession)
	s.Delete("/:id", handlers.CancelSession)

	app.Group("/events").Post("/inbound", handlers.InboundEvent)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}

func (a *API) Close(ctx context.Context) {
	if err := a.eventBus.Close(); err != nil {
		a.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	if err := a.persistence.Close(ctx); err != nil {
		a.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
	}
}
