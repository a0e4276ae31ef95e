package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/convoflow/convoflow/pkg/engine"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, errType, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType(errType).
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps session manager and persistence errors onto RFC 7807
// problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, engine.ErrSessionConflict):
		return conflict(c, "session_conflict", err.Error())

	case errors.Is(err, engine.ErrSessionTerminal):
		return conflict(c, "session_terminal", err.Error())

	case errors.Is(err, engine.ErrSessionPaused),
		errors.Is(err, engine.ErrSessionNotWaiting),
		errors.Is(err, engine.ErrSessionNotPaused):
		return conflict(c, "session_state", err.Error())

	case errors.Is(err, engine.ErrInputValidation):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("input_rejected").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case persistence.IsSessionNotFound(err):
		return notFound(c, "session not found")

	case persistence.IsFlowNotFound(err):
		return notFound(c, "flow not found")

	case errors.Is(err, models.ErrStartNodeMissing),
		errors.Is(err, models.ErrDanglingEdge),
		errors.Is(err, models.ErrDeadEndNode):
		return badRequest(c, err.Error())

	default:
		return internalError(c, err)
	}
}
