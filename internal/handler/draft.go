package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/table-booking-session/internal/middleware"
	"github.com/iliyamo/table-booking-session/internal/model"
)

// DraftHandler serves the profile's booking draft and its indicators.
// Every method expects the profile, session and identity middleware to have
// run.
type DraftHandler struct{}

// NewDraftHandler returns a DraftHandler.
func NewDraftHandler() *DraftHandler { return &DraftHandler{} }

// Get handles GET /v1/session/draft.  It returns the usable draft for the
// active identity, or 204 when there is none.
func (h *DraftHandler) Get(c echo.Context) error {
	d := middleware.SessionFrom(c).Drafts.Read(c.Request().Context())
	if d == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, d)
}

// Put handles PUT /v1/session/draft.  The body is a partial draft; omitted
// fields keep their stored value.
func (h *DraftHandler) Put(c echo.Context) error {
	var patch model.DraftPatch
	if err := c.Bind(&patch); err != nil {
		return badRequest(c, "invalid request body")
	}
	if msg := validatePatch(patch); msg != "" {
		return badRequest(c, msg)
	}
	d, err := middleware.SessionFrom(c).Drafts.Write(c.Request().Context(), patch)
	if err != nil {
		c.Logger().Error(err)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "draft_unavailable", "message": "could not save the booking draft", "retryable": true})
	}
	return c.JSON(http.StatusOK, d)
}

// Delete handles DELETE /v1/session/draft.
func (h *DraftHandler) Delete(c echo.Context) error {
	if err := middleware.SessionFrom(c).Drafts.Clear(c.Request().Context()); err != nil {
		c.Logger().Error(err)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "draft_unavailable", "message": "could not clear the booking draft", "retryable": true})
	}
	return c.NoContent(http.StatusNoContent)
}

// ClearTerminal handles POST /v1/session/draft/clear-terminal.  The draft is
// removed only when it holds a reservation in one of the given statuses
// (CONFIRMED, CANCELED, EXPIRED when none are given).
func (h *DraftHandler) ClearTerminal(c echo.Context) error {
	var body struct {
		Statuses []model.LifecycleStatus `json:"statuses"`
	}
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	cleared, err := middleware.SessionFrom(c).Drafts.ClearIfTerminal(c.Request().Context(), body.Statuses...)
	if err != nil {
		c.Logger().Error(err)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "draft_unavailable", "message": "could not clear the booking draft", "retryable": true})
	}
	return c.JSON(http.StatusOK, echo.Map{"cleared": cleared})
}

// Indicators handles GET /v1/session/indicators: the party-size badge and
// the has-draft flag.
func (h *DraftHandler) Indicators(c echo.Context) error {
	in := middleware.SessionFrom(c).Sync.Resync(c.Request().Context())
	return c.JSON(http.StatusOK, in)
}

func validatePatch(p model.DraftPatch) string {
	if p.Date != nil && *p.Date != "" {
		if _, err := time.Parse(model.DateLayout, *p.Date); err != nil {
			return "date must be YYYY-MM-DD"
		}
	}
	if p.Time != nil && *p.Time != "" {
		if _, err := time.Parse(model.ClockLayout, *p.Time); err != nil {
			return "time must be HH:MM"
		}
	}
	if p.PartySize != nil && *p.PartySize < 1 {
		return "people must be a positive integer"
	}
	return ""
}
