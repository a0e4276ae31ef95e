package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/pkg/channels"
	"github.com/convoflow/convoflow/pkg/cmd"
	"github.com/convoflow/convoflow/pkg/engine"
	"github.com/convoflow/convoflow/pkg/lock"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence/memory"
	"github.com/convoflow/convoflow/pkg/registry"
	"github.com/convoflow/convoflow/pkg/variables"
	"github.com/convoflow/convoflow/pkg/waits"
)

func setupTestAPI(t *testing.T) (*fiber.App, *memory.Persistence) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p := memory.NewPersistence()

	eventBus, err := cmd.NewEventBus("gochannel", logger)
	require.NoError(t, err)

	vars := variables.NewStore(p.Variables(), nil, logger)
	sender := channels.NewEventBusSender(eventBus, logger)

	reg := registry.NewRegistry(logger)
	registry.RegisterDefaultNodes(reg, registry.NodeDependencies{Sender: sender})

	coordinator := waits.NewCoordinator(p, sender, nil, logger)
	manager := engine.NewManager(p, vars, reg, lock.NewMemoryLocker(), eventBus, coordinator, nil, logger, engine.Config{})
	coordinator.Bind(manager)

	api := &API{
		logger:      logger,
		persistence: p,
		eventBus:    eventBus,
		manager:     manager,
		registry:    reg,
		variables:   vars,
		coordinator: coordinator,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}

	return api.App(), p
}

func jsonRequest(t *testing.T, method, target string, payload any) *http.Request {
	t.Helper()

	var body io.Reader

	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)

		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")

	return req
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()

	defer func() {
		require.NoError(t, resp.Body.Close())
	}()

	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func flowPayload() map[string]any {
	return map[string]any{
		"id":            "flow-1",
		"version":       1,
		"name":          "Order support",
		"status":        "published",
		"start_node_id": "welcome",
		"nodes": []map[string]any{
			{"id": "welcome", "type": "message", "config": map[string]any{"content": "Hello!"}},
			{"id": "done", "type": "end"},
		},
		"edges": []map[string]any{
			{"id": "e1", "source_id": "welcome", "target_id": "done"},
		},
	}
}

func askFlowPayload() map[string]any {
	return map[string]any{
		"id":            "flow-1",
		"version":       1,
		"name":          "Ask a number",
		"status":        "published",
		"start_node_id": "ask",
		"nodes": []map[string]any{
			{"id": "ask", "type": "input", "config": map[string]any{"variable": "age", "input_type": "number"}},
			{"id": "done", "type": "end"},
		},
		"edges": []map[string]any{
			{"id": "e1", "source_id": "ask", "target_id": "done"},
		},
	}
}

func TestHealthCheck(t *testing.T) {
	app, _ := setupTestAPI(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	decodeBody(t, resp, &health)
	assert.Equal(t, "healthy", health["status"])
}

func TestGetNodeTypes(t *testing.T) {
	app, _ := setupTestAPI(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/node-types", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string][]string
	decodeBody(t, resp, &body)
	assert.Contains(t, body["node_types"], "message")
	assert.Contains(t, body["node_types"], "ai_assistant")
}

func TestSaveFlow(t *testing.T) {
	app, p := setupTestAPI(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/flows/", flowPayload()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	flow, err := p.Flows().PublishedFlow(t.Context(), "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "Order support", flow.Name)
}

func TestSaveFlow_StructuralValidation(t *testing.T) {
	app, _ := setupTestAPI(t)

	payload := flowPayload()
	payload["start_node_id"] = "ghost"

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/flows/", payload))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSaveFlow_UnknownNodeType(t *testing.T) {
	app, _ := setupTestAPI(t)

	payload := flowPayload()
	payload["nodes"] = []map[string]any{
		{"id": "welcome", "type": "hologram"},
		{"id": "done", "type": "end"},
	}

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/flows/", payload))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSaveFlow_MissingRequiredFields(t *testing.T) {
	app, _ := setupTestAPI(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/flows/", map[string]any{"id": "flow-1"}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetFlow(t *testing.T) {
	app, _ := setupTestAPI(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/flows/", flowPayload()))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/flows/flow-1", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var flow models.Flow
	decodeBody(t, resp, &flow)
	assert.Equal(t, 1, flow.Version)
}

func TestGetFlow_NotFound(t *testing.T) {
	app, _ := setupTestAPI(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/flows/ghost", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPublishFlowVersion(t *testing.T) {
	app, _ := setupTestAPI(t)

	payload := flowPayload()
	payload["status"] = "draft"

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/flows/", payload))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Not published yet.
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/flows/flow-1", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/flows/flow-1/versions/1/publish", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/flows/flow-1", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetFlowVersion_BadVersion(t *testing.T) {
	app, _ := setupTestAPI(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/flows/flow-1/versions/zero", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTriggerSession_RunsToCompletion(t *testing.T) {
	app, _ := setupTestAPI(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/flows/", flowPayload()))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/sessions/", map[string]any{
		"flow_id":         "flow-1",
		"conversation_id": "conv-1",
		"contact_id":      "contact-1",
		"channel_type":    "whatsapp",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var outcome struct {
		Session models.FlowSession `json:"session"`
	}
	decodeBody(t, resp, &outcome)
	assert.Equal(t, models.SessionStatusCompleted, outcome.Session.Status)
}

func TestTriggerSession_UnknownFlow(t *testing.T) {
	app, _ := setupTestAPI(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/sessions/", map[string]any{
		"flow_id":         "ghost",
		"conversation_id": "conv-1",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	app, _ := setupTestAPI(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/flows/", askFlowPayload()))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/sessions/", map[string]any{
		"flow_id":         "flow-1",
		"conversation_id": "conv-1",
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var outcome struct {
		Session models.FlowSession `json:"session"`
	}
	decodeBody(t, resp, &outcome)
	require.Equal(t, models.SessionStatusWaiting, outcome.Session.Status)

	sessionID := outcome.Session.ID

	// A second trigger for the same conversation conflicts.
	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/sessions/", map[string]any{
		"flow_id":         "flow-1",
		"conversation_id": "conv-1",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Invalid input is rejected without advancing the session.
	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/sessions/"+sessionID+"/events", map[string]any{
		"content": "not a number",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Valid input completes the flow.
	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/sessions/"+sessionID+"/events", map[string]any{
		"content": "29",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	decodeBody(t, resp, &outcome)
	assert.Equal(t, models.SessionStatusCompleted, outcome.Session.Status)

	// Steps are auditable afterwards.
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/sessions/"+sessionID+"/steps", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var steps struct {
		Steps []models.StepExecution `json:"steps"`
	}
	decodeBody(t, resp, &steps)
	assert.NotEmpty(t, steps.Steps)
}

func TestPauseUnpauseCancel(t *testing.T) {
	app, _ := setupTestAPI(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/flows/", askFlowPayload()))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/sessions/", map[string]any{
		"flow_id":         "flow-1",
		"conversation_id": "conv-1",
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var outcome struct {
		Session models.FlowSession `json:"session"`
	}
	decodeBody(t, resp, &outcome)
	sessionID := outcome.Session.ID

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/sessions/"+sessionID+"/pause", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Events are refused while paused.
	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/sessions/"+sessionID+"/events", map[string]any{
		"content": "29",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/sessions/"+sessionID+"/unpause", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(jsonRequest(t, http.MethodDelete, "/sessions/"+sessionID, map[string]any{
		"reason": "contact unsubscribed",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/sessions/"+sessionID, nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	decodeBody(t, resp, &outcome)
	assert.Equal(t, models.SessionStatusAbandoned, outcome.Session.Status)
	assert.Equal(t, "contact unsubscribed", outcome.Session.LastError)

	// Cancelling again is idempotent.
	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/sessions/"+sessionID, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestGetSessionVariables(t *testing.T) {
	app, _ := setupTestAPI(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/flows/", askFlowPayload()))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/sessions/", map[string]any{
		"flow_id":         "flow-1",
		"conversation_id": "conv-1",
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var outcome struct {
		Session models.FlowSession `json:"session"`
	}
	decodeBody(t, resp, &outcome)
	sessionID := outcome.Session.ID

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/sessions/"+sessionID+"/events", map[string]any{
		"content": "29",
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/sessions/"+sessionID+"/variables", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var snapshot struct {
		SessionID string         `json:"session_id"`
		Variables map[string]any `json:"variables"`
	}
	decodeBody(t, resp, &snapshot)
	assert.Equal(t, sessionID, snapshot.SessionID)
	assert.Contains(t, snapshot.Variables, "age")
}

func TestGetSessionVariables_NotFound(t *testing.T) {
	app, _ := setupTestAPI(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/sessions/ghost/variables", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInboundEvent_ResumesWaitingSession(t *testing.T) {
	app, _ := setupTestAPI(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/flows/", askFlowPayload()))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/sessions/", map[string]any{
		"flow_id":         "flow-1",
		"conversation_id": "conv-1",
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var outcome struct {
		Session models.FlowSession `json:"session"`
	}
	decodeBody(t, resp, &outcome)
	sessionID := outcome.Session.ID

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/events/inbound", map[string]any{
		"conversation_id": "conv-1",
		"content":         "29",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/sessions/"+sessionID, nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	decodeBody(t, resp, &outcome)
	assert.Equal(t, models.SessionStatusCompleted, outcome.Session.Status)
}

func TestInboundEvent_NoWaitingSessionIsAccepted(t *testing.T) {
	app, _ := setupTestAPI(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/events/inbound", map[string]any{
		"conversation_id": "conv-unknown",
		"content":         "hello",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestInboundEvent_MissingFields(t *testing.T) {
	app, _ := setupTestAPI(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/events/inbound", map[string]any{
		"content": "hello",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetSession_NotFound(t *testing.T) {
	app, _ := setupTestAPI(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/sessions/ghost", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetSessionSteps_NotFound(t *testing.T) {
	app, _ := setupTestAPI(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/sessions/ghost/steps", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
