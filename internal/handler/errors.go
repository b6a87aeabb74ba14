package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/table-booking-session/internal/lifecycle"
	"github.com/iliyamo/table-booking-session/internal/upstream"
)

// writeError maps a lifecycle or upstream error to a response.  Every error
// is recoverable from the page: the body carries a stable code, a message
// and whether retrying the same action can help.
func writeError(c echo.Context, err error) error {
	status, code, retryable := classify(err)
	msg := upstream.Message(err)
	if msg == "" {
		msg = err.Error()
	}
	if status >= 500 {
		c.Logger().Error(err)
	}
	return c.JSON(status, echo.Map{"error": code, "message": msg, "retryable": retryable})
}

func classify(err error) (status int, code string, retryable bool) {
	switch {
	case errors.Is(err, lifecycle.ErrBusy):
		return http.StatusConflict, "busy", true
	case errors.Is(err, lifecycle.ErrSuperseded):
		return http.StatusConflict, "superseded", false
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return http.StatusConflict, "invalid_state", false
	case errors.Is(err, lifecycle.ErrNoReservation):
		return http.StatusConflict, "no_reservation", false
	case errors.Is(err, lifecycle.ErrProofNotAllowed):
		return http.StatusConflict, "proof_not_allowed", false
	case errors.Is(err, lifecycle.ErrIncomplete), errors.Is(err, lifecycle.ErrInvalidCode):
		return http.StatusBadRequest, "validation", false
	case errors.Is(err, upstream.ErrConflict):
		return http.StatusConflict, "table_unavailable", false
	case errors.Is(err, upstream.ErrValidation):
		return http.StatusBadRequest, "validation", false
	case errors.Is(err, upstream.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", false
	case errors.Is(err, upstream.ErrNotFound):
		return http.StatusNotFound, "not_found", false
	case errors.Is(err, upstream.ErrTransient):
		return http.StatusBadGateway, "upstream_unavailable", true
	}
	return http.StatusInternalServerError, "internal", false
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation", "message": msg, "retryable": false})
}
