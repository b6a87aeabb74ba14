package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/table-booking-session/internal/lifecycle"
	"github.com/iliyamo/table-booking-session/internal/middleware"
	"github.com/iliyamo/table-booking-session/internal/model"
	"github.com/iliyamo/table-booking-session/internal/session"
	"github.com/iliyamo/table-booking-session/internal/upstream"
)

// DefaultMaxSlipSize caps proof-of-payment uploads.
const DefaultMaxSlipSize int64 = 5 << 20

// ReservationHandler drives the session's reservation lifecycle.
type ReservationHandler struct {
	catalog *session.Catalog
	log     *zap.Logger
	maxSlip int64
}

// NewReservationHandler returns a ReservationHandler.  maxSlip <= 0 uses
// DefaultMaxSlipSize.
func NewReservationHandler(catalog *session.Catalog, maxSlip int64, log *zap.Logger) *ReservationHandler {
	if maxSlip <= 0 {
		maxSlip = DefaultMaxSlipSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ReservationHandler{catalog: catalog, log: log, maxSlip: maxSlip}
}

// createReservationRequest is the body of POST /v1/session/reservation.
// Fields left out are taken from the draft.
type createReservationRequest struct {
	TableID   model.ID          `json:"tableId"`
	TableName string            `json:"tableName"`
	Date      string            `json:"date"`
	Time      string            `json:"time"`
	PartySize int               `json:"people"`
	Items     []model.OrderLine `json:"items"`
}

// State handles GET /v1/session/state.
func (h *ReservationHandler) State(c echo.Context) error {
	s := middleware.SessionFrom(c)
	s.Sync.Resync(c.Request().Context())
	return c.JSON(http.StatusOK, s.Lifecycle.Snapshot())
}

// Create handles POST /v1/session/reservation.
func (h *ReservationHandler) Create(c echo.Context) error {
	var req createReservationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx := c.Request().Context()
	s := middleware.SessionFrom(c)
	if d := s.Drafts.Read(ctx); d != nil {
		if req.TableID == "" {
			req.TableID, req.TableName = d.TableID, d.TableName
		}
		if req.Date == "" {
			req.Date = d.Date
		}
		if req.Time == "" {
			req.Time = d.Time
		}
		if req.PartySize == 0 {
			req.PartySize = d.PartySize
		}
	}

	snap, err := s.Lifecycle.Create(ctx, lifecycle.Booking{
		TableID:   req.TableID,
		TableName: req.TableName,
		Date:      req.Date,
		Time:      req.Time,
		PartySize: req.PartySize,
		Items:     req.Items,
	})
	if err != nil {
		if errors.Is(err, upstream.ErrConflict) {
			// someone took the table since the floor plan was loaded
			h.catalog.InvalidateReservations(req.Date)
		}
		h.log.Info("create reservation failed", zap.String("profile", s.Profile), zap.Error(err))
		return writeError(c, err)
	}
	h.catalog.InvalidateReservations(req.Date)
	return c.JSON(http.StatusCreated, snap)
}

// RequestCode handles POST /v1/session/reservation/request-code.
func (h *ReservationHandler) RequestCode(c echo.Context) error {
	snap, err := middleware.SessionFrom(c).Lifecycle.RequestCode(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// VerifyCode handles POST /v1/session/reservation/verify-code with body
// {"code":"123456"}.
func (h *ReservationHandler) VerifyCode(c echo.Context) error {
	var body struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	snap, err := middleware.SessionFrom(c).Lifecycle.Verify(c.Request().Context(), body.Code)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// UploadSlip handles POST /v1/session/payment/slip.  The proof image comes
// in the multipart field "slip".
func (h *ReservationHandler) UploadSlip(c echo.Context) error {
	c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, h.maxSlip+(1<<20))
	fh, err := c.FormFile("slip")
	if err != nil {
		return badRequest(c, "slip file is required")
	}
	if fh.Size > h.maxSlip {
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "too_large", "message": "slip image is too large", "retryable": false})
	}
	ct := fh.Header.Get(echo.HeaderContentType)
	if !strings.HasPrefix(ct, "image/") {
		return badRequest(c, "slip must be an image")
	}
	f, err := fh.Open()
	if err != nil {
		return badRequest(c, "could not read slip")
	}
	defer f.Close()

	snap, err := middleware.SessionFrom(c).Lifecycle.SubmitProof(c.Request().Context(), upstream.Proof{
		Filename:    fh.Filename,
		ContentType: ct,
		Body:        f,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// Reset handles POST /v1/session/reset.  It abandons the current attempt
// (the server-side reservation is left to expire) and clears the draft.
func (h *ReservationHandler) Reset(c echo.Context) error {
	s := middleware.SessionFrom(c)
	if err := s.Lifecycle.Reset(); err != nil {
		return writeError(c, err)
	}
	if err := s.Drafts.Clear(c.Request().Context()); err != nil {
		h.log.Warn("reset: clear draft", zap.String("profile", s.Profile), zap.Error(err))
	}
	return c.JSON(http.StatusOK, s.Lifecycle.Snapshot())
}
