// Package router registers the HTTP routes of the booking session service.
package router

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/table-booking-session/internal/handler"
	"github.com/iliyamo/table-booking-session/internal/middleware"
	"github.com/iliyamo/table-booking-session/internal/session"
)

// Handlers bundles what RegisterRoutes wires.
type Handlers struct {
	Draft        *handler.DraftHandler
	Availability *handler.AvailabilityHandler
	Reservation  *handler.ReservationHandler
	Stream       *handler.StreamHandler
}

// Options configures the per-request middleware of the /v1 group.
type Options struct {
	ProfileCookie string
	SecureCookie  bool
	JWTSecret     string
	// CodeLimiter guards the verification-code endpoints; nil disables it.
	CodeLimiter echo.MiddlewareFunc
	Log         *zap.Logger
}

// RegisterRoutes registers the health check and the /v1 API.
func RegisterRoutes(e *echo.Echo, mgr *session.Manager, h Handlers, opt Options) {
	e.GET("/healthz", handler.Health)

	v1 := e.Group("/v1",
		middleware.Profile(opt.ProfileCookie, opt.SecureCookie),
		middleware.Session(mgr),
		middleware.Identity(opt.JWTSecret, opt.Log),
	)
	v1.GET("/availability", h.Availability.List)
	v1.POST("/estimate", h.Availability.Estimate)

	s := v1.Group("/session")
	s.GET("/draft", h.Draft.Get)
	s.PUT("/draft", h.Draft.Put)
	s.DELETE("/draft", h.Draft.Delete)
	s.POST("/draft/clear-terminal", h.Draft.ClearTerminal)
	s.GET("/indicators", h.Draft.Indicators)

	s.GET("/state", h.Reservation.State)
	s.GET("/stream", h.Stream.Stream)
	s.POST("/reset", h.Reservation.Reset)
	s.POST("/reservation", h.Reservation.Create)
	s.POST("/payment/slip", h.Reservation.UploadSlip)

	code := s.Group("/reservation")
	if opt.CodeLimiter != nil {
		code.Use(opt.CodeLimiter)
	}
	code.POST("/request-code", h.Reservation.RequestCode)
	code.POST("/verify-code", h.Reservation.VerifyCode)
}
