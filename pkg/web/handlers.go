package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/convoflow/convoflow/pkg/engine"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/convoflow/convoflow/pkg/registry"
	"github.com/convoflow/convoflow/pkg/variables"
	"github.com/convoflow/convoflow/pkg/waits"
)

type APIHandlers struct {
	persistence persistence.Persistence
	manager     *engine.Manager
	registry    *registry.Registry
	variables   *variables.Store
	coordinator *waits.Coordinator
	validator   *validator.Validate
}

func NewAPIHandlers(
	persistence persistence.Persistence,
	manager *engine.Manager,
	registry *registry.Registry,
	variables *variables.Store,
	coordinator *waits.Coordinator,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		persistence: persistence,
		manager:     manager,
		registry:    registry,
		variables:   variables,
		coordinator: coordinator,
		validator:   validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		return c.Status(http.StatusInternalServerError).JSON(HealthResponse{
			Status:    "unhealthy",
			CheckedAt: time.Now().UTC(),
		})
	}

	return c.JSON(HealthResponse{
		Status:    "healthy",
		CheckedAt: time.Now().UTC(),
	})
}

func (h *APIHandlers) GetNodeTypes(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"node_types": h.registry.NodeTypes()})
}

func (h *APIHandlers) SaveFlow(c fiber.Ctx) error {
	var req SaveFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	status := req.Status
	if status == "" {
		status = models.FlowStatusDraft
	}

	flow := &models.Flow{
		ID:          req.ID,
		Version:     req.Version,
		Name:        req.Name,
		Status:      status,
		StartNodeID: req.StartNodeID,
		Nodes:       req.Nodes,
		Edges:       req.Edges,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	if err := flow.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	for i := range flow.Nodes {
		if err := h.registry.ValidateNode(&flow.Nodes[i]); err != nil {
			return badRequest(c, err.Error())
		}
	}

	if err := h.persistence.Flows().SaveFlow(c.Context(), flow); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(flow)
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "flow id is required")
	}

	flow, err := h.persistence.Flows().PublishedFlow(c.Context(), id)
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			return notFound(c, "flow not found")
		}

		return internalError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) GetFlowVersion(c fiber.Ctx) error {
	id := c.Params("id")

	version, err := strconv.Atoi(c.Params("version"))
	if err != nil || version < 1 {
		return badRequest(c, "version must be a positive integer")
	}

	flow, err := h.persistence.Flows().FlowByVersion(c.Context(), id, version)
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			return notFound(c, "flow version not found")
		}

		return internalError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) PublishFlow(c fiber.Ctx) error {
	id := c.Params("id")

	version, err := strconv.Atoi(c.Params("version"))
	if err != nil || version < 1 {
		return badRequest(c, "version must be a positive integer")
	}

	flow, err := h.persistence.Flows().FlowByVersion(c.Context(), id, version)
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			return notFound(c, "flow version not found")
		}

		return internalError(c, err)
	}

	if err := flow.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	flow.Status = models.FlowStatusPublished
	flow.UpdatedAt = time.Now().UTC()

	if err := h.persistence.Flows().SaveFlow(c.Context(), flow); err != nil {
		return internalError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) TriggerSession(c fiber.Ctx) error {
	var req TriggerSessionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := &models.InputEvent{
		Kind:           models.EventKindManual,
		ConversationID: req.ConversationID,
		ContactID:      req.ContactID,
		ChannelType:    req.ChannelType,
		Content:        req.Content,
		ReceivedAt:     time.Now().UTC(),
	}

	outcome, err := h.manager.Trigger(c.Context(), req.FlowID, req.Version, event)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(SessionResponse{
		Session: outcome.Session,
		Cursor:  outcome.Cursor,
	})
}

func (h *APIHandlers) GetSession(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "session id is required")
	}

	session, cursor, err := h.persistence.Sessions().SessionByID(c.Context(), id)
	if err != nil {
		if persistence.IsSessionNotFound(err) {
			return notFound(c, "session not found")
		}

		return internalError(c, err)
	}

	return c.JSON(SessionResponse{Session: session, Cursor: cursor})
}

func (h *APIHandlers) GetSessionSteps(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "session id is required")
	}

	if _, _, err := h.persistence.Sessions().SessionByID(c.Context(), id); err != nil {
		if persistence.IsSessionNotFound(err) {
			return notFound(c, "session not found")
		}

		return internalError(c, err)
	}

	steps, err := h.persistence.Steps().StepsBySession(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(StepsResponse{SessionID: id, Steps: steps})
}

// GetSessionVariables returns the merged variable snapshot visible to the
// session. Encrypted values are decoded before they are returned, so this
// endpoint must not be exposed outside the operator surface.
func (h *APIHandlers) GetSessionVariables(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "session id is required")
	}

	session, _, err := h.persistence.Sessions().SessionByID(c.Context(), id)
	if err != nil {
		if persistence.IsSessionNotFound(err) {
			return notFound(c, "session not found")
		}

		return internalError(c, err)
	}

	snapshot, err := h.variables.Snapshot(c.Context(), variables.SessionContext{
		SessionID: session.ID,
		FlowID:    session.FlowID,
		NodeID:    session.CurrentNodeID,
		ContactID: session.ContactID,
	})
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(VariablesResponse{SessionID: id, Variables: snapshot})
}

// InboundEvent is the hook for channel adapters that deliver over HTTP instead
// of the event bus. Routing failures for an individual session are swallowed
// by the coordinator, so a 202 only means the event was accepted for routing.
func (h *APIHandlers) InboundEvent(c fiber.Ctx) error {
	var req InboundEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := &models.InputEvent{
		Kind:           models.EventKindMessage,
		ConversationID: req.ConversationID,
		ContactID:      req.ContactID,
		ChannelType:    req.ChannelType,
		Content:        req.Content,
		ExternalID:     req.ExternalID,
		Metadata:       req.Metadata,
		ReceivedAt:     time.Now().UTC(),
	}

	if err := h.coordinator.OnInboundEvent(c.Context(), event); err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

// InjectSessionEvent feeds a message input into a waiting session, bypassing
// the inbound channel. Used by operator consoles and tests.
func (h *APIHandlers) InjectSessionEvent(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "session id is required")
	}

	var req SessionEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := &models.InputEvent{
		Kind:       models.EventKindMessage,
		Content:    req.Content,
		ExternalID: req.ExternalID,
		Metadata:   req.Metadata,
		ReceivedAt: time.Now().UTC(),
	}

	outcome, err := h.manager.Resume(c.Context(), id, event)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(SessionResponse{Session: outcome.Session, Cursor: outcome.Cursor})
}

func (h *APIHandlers) PauseSession(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "session id is required")
	}

	if err := h.manager.Pause(c.Context(), id); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) UnpauseSession(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "session id is required")
	}

	outcome, err := h.manager.Unpause(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(SessionResponse{Session: outcome.Session, Cursor: outcome.Cursor})
}

// CancelSession abandons a session. The body is optional; cancelling an
// already-terminal session succeeds without changing it.
func (h *APIHandlers) CancelSession(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "session id is required")
	}

	var req CancelSessionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "invalid JSON body")
		}
	}

	if err := h.manager.Cancel(c.Context(), id, req.Reason); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
