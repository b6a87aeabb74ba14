package middleware

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/table-booking-session/internal/identity"
	"github.com/iliyamo/table-booking-session/internal/upstream"
)

// Identity resolves the optional bearer credential into the session's
// active identity and forwards it to upstream calls.  A missing credential
// means guest; an invalid one is treated the same way and never rejected
// here, since the upstream services have the final word.
func Identity(secret string, log *zap.Logger) echo.MiddlewareFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var active *int64
			raw, err := identity.FromHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			if err == nil {
				id, perr := identity.Parse(raw, secret)
				if perr != nil {
					log.Debug("ignoring bearer credential", zap.String("profile", ProfileFrom(c)), zap.Error(perr))
					raw = ""
				} else {
					active = &id
					c.Set(UserIDKey, strconv.FormatInt(id, 10))
				}
			} else if !errors.Is(err, identity.ErrNoCredential) {
				log.Debug("malformed authorization header", zap.Error(err))
			}

			if s := SessionFrom(c); s != nil {
				s.Identity.Set(active, raw)
			}
			if raw != "" {
				req := c.Request()
				c.SetRequest(req.WithContext(upstream.WithBearer(req.Context(), raw)))
			}
			return next(c)
		}
	}
}

// currentUserID returns the resolved user id, or "anon".
func currentUserID(c echo.Context) string {
	if s, ok := c.Get(UserIDKey).(string); ok && s != "" {
		return s
	}
	return "anon"
}
