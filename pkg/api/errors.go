package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/lemonberrylabs/cohort-reporting/pkg/bind"
	"github.com/lemonberrylabs/cohort-reporting/pkg/definition"
	"github.com/lemonberrylabs/cohort-reporting/pkg/store"
	"github.com/lemonberrylabs/cohort-reporting/pkg/suggest"
	"github.com/lemonberrylabs/cohort-reporting/pkg/types"
)

// Status is an HTTP status paired with its canonical status name.
type Status struct {
	Code int
	Name string
}

var (
	StatusInvalidArgument = Status{fiber.StatusBadRequest, "INVALID_ARGUMENT"}
	StatusNotFound        = Status{fiber.StatusNotFound, "NOT_FOUND"}
	StatusAlreadyExists   = Status{fiber.StatusConflict, "ALREADY_EXISTS"}
	StatusUnavailable     = Status{fiber.StatusServiceUnavailable, "UNAVAILABLE"}
	StatusInternal        = Status{fiber.StatusInternalServerError, "INTERNAL"}
)

// StatusOf maps an error to the status reported for it.
func StatusOf(err error) Status {
	if kind, ok := types.KindOf(err); ok {
		switch kind {
		case types.KindSyntax, types.KindUnknownParameter:
			return StatusInvalidArgument
		case types.KindUnresolvedReference:
			return StatusNotFound
		case types.KindResolver:
			return StatusUnavailable
		}
	}
	switch {
	case errors.Is(err, definition.ErrInvalid), errors.Is(err, bind.ErrEvaluation):
		return StatusInvalidArgument
	case errors.Is(err, definition.ErrNotFound):
		return StatusNotFound
	case errors.Is(err, definition.ErrAlreadyExists):
		return StatusAlreadyExists
	}
	return StatusInternal
}

// fail writes err as an error envelope. Expression errors carry their kind
// and position; a missing definition carries did-you-mean suggestions.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	st := StatusOf(err)
	body := fiber.Map{
		"code":    st.Code,
		"message": err.Error(),
		"status":  st.Name,
	}

	var ee *types.ExpressionError
	if errors.As(err, &ee) {
		body["kind"] = ee.Kind.String()
		body["position"] = ee.Pos
		if ee.Definition != "" {
			body["definition"] = ee.Definition
		}
		if ee.Parameter != "" {
			body["parameter"] = ee.Parameter
		}
		if ee.Kind == types.KindUnresolvedReference {
			body["suggestions"] = s.suggestions(c, ee.Definition)
		}
	} else if st == StatusNotFound {
		if name := c.Params("name"); name != "" {
			body["suggestions"] = s.suggestions(c, name)
		}
	}

	if st == StatusInternal || st == StatusUnavailable {
		s.logger.Error("request failed",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("error", err.Error()))
	}
	return c.Status(st.Code).JSON(fiber.Map{"error": body})
}

func (s *Server) suggestions(c *fiber.Ctx, name string) []string {
	names, err := store.Names(c.UserContext(), s.registry)
	if err != nil {
		s.logger.Warn("could not list definitions for suggestions", slog.String("error", err.Error()))
		return []string{}
	}
	out := suggest.Names(name, names, suggest.DefaultLimit)
	if out == nil {
		out = []string{}
	}
	return out
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(StatusInvalidArgument.Code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    StatusInvalidArgument.Code,
			"message": message,
			"status":  StatusInvalidArgument.Name,
		},
	})
}
