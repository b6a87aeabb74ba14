package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/table-booking-session/internal/availability"
	"github.com/iliyamo/table-booking-session/internal/middleware"
	"github.com/iliyamo/table-booking-session/internal/model"
	"github.com/iliyamo/table-booking-session/internal/session"
)

// AvailabilityHandler serves the floor plan with per-table availability
// and the order estimate.
type AvailabilityHandler struct {
	catalog *session.Catalog
	engine  availability.Engine
	log     *zap.Logger
}

// NewAvailabilityHandler returns an AvailabilityHandler.
func NewAvailabilityHandler(catalog *session.Catalog, engine availability.Engine, log *zap.Logger) *AvailabilityHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AvailabilityHandler{catalog: catalog, engine: engine, log: log}
}

type availabilityResponse struct {
	Date       string                    `json:"date"`
	Time       string                    `json:"time,omitempty"`
	PartySize  int                       `json:"people"`
	Grid       model.GridSize            `json:"grid"`
	Tables     []model.TableAvailability `json:"tables"`
	Selectable int                       `json:"selectable"`
}

// List handles GET /v1/availability?date=YYYY-MM-DD&time=HH:MM&people=N&duration=90.
// Query parameters left out fall back to the profile's draft; duration is
// in minutes.
func (h *AvailabilityHandler) List(c echo.Context) error {
	ctx := c.Request().Context()
	req := availability.Request{
		Date: c.QueryParam("date"),
		Time: c.QueryParam("time"),
	}
	if v := c.QueryParam("people"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return badRequest(c, "people must be a positive integer")
		}
		req.PartySize = n
	}
	if v := c.QueryParam("duration"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return badRequest(c, "duration must be a positive number of minutes")
		}
		req.Duration = time.Duration(n) * time.Minute
	}
	if s := middleware.SessionFrom(c); s != nil {
		if d := s.Drafts.Read(ctx); d != nil {
			if req.Date == "" {
				req.Date = d.Date
			}
			if req.Time == "" && c.QueryParam("date") == "" {
				req.Time = d.Time
			}
			if req.PartySize == 0 {
				req.PartySize = d.PartySize
			}
		}
	}
	if req.Date == "" {
		return badRequest(c, "date is required")
	}
	if _, err := time.Parse(model.DateLayout, req.Date); err != nil {
		return badRequest(c, "date must be YYYY-MM-DD")
	}

	tables, err := h.catalog.Tables(ctx)
	if err != nil {
		return writeError(c, err)
	}
	grid, err := h.catalog.Grid(ctx)
	if err != nil {
		return writeError(c, err)
	}
	var booked []model.ReservationInterval
	if req.Time != "" {
		if booked, err = h.catalog.Reservations(ctx, req.Date); err != nil {
			return writeError(c, err)
		}
	}

	views, err := h.engine.Compute(req, tables, booked)
	if err != nil {
		return badRequest(c, "time must be HH:MM")
	}
	return c.JSON(http.StatusOK, availabilityResponse{
		Date:       req.Date,
		Time:       req.Time,
		PartySize:  req.PartySize,
		Grid:       grid,
		Tables:     views,
		Selectable: len(availability.Selectable(views)),
	})
}

// Estimate handles POST /v1/estimate.  It totals the pre-ordered items the
// way the reservation service will, for display before the code is sent.
func (h *AvailabilityHandler) Estimate(c echo.Context) error {
	var body struct {
		Items []model.OrderLine `json:"items"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	for _, l := range body.Items {
		if l.Qty < 0 || l.Price < 0 {
			return badRequest(c, "item quantity and price must not be negative")
		}
	}
	return c.JSON(http.StatusOK, model.EstimateTotals(body.Items))
}
