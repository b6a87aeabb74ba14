// Package middleware provides the echo middleware that identifies the
// browser profile, binds its booking session, resolves the optional bearer
// identity and rate-limits the code endpoints.
package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/table-booking-session/internal/session"
)

// Context keys set by this package.
const (
	ProfileKey = "profile"
	SessionKey = "session"
	UserIDKey  = "user_id"
)

// ProfileHeader lets a client that cannot keep cookies name its profile.
const ProfileHeader = "X-Profile-ID"

// Profile identifies the browser profile from the X-Profile-ID header or the
// profile cookie, minting a new one (and setting the cookie) when neither
// carries a valid id.  All tabs of a browser share the cookie and therefore
// the booking session.
func Profile(cookieName string, secure bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(ProfileHeader)
			if _, err := uuid.Parse(id); err != nil {
				id = ""
				if ck, err := c.Cookie(cookieName); err == nil {
					if _, err := uuid.Parse(ck.Value); err == nil {
						id = ck.Value
					}
				}
			}
			if id == "" {
				id = uuid.NewString()
				c.SetCookie(&http.Cookie{
					Name:     cookieName,
					Value:    id,
					Path:     "/",
					Expires:  time.Now().AddDate(1, 0, 0),
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			c.Set(ProfileKey, id)
			c.Response().Header().Set(ProfileHeader, id)
			return next(c)
		}
	}
}

// Session binds the profile's booking session to the request.  It must run
// after Profile.
func Session(mgr *session.Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(SessionKey, mgr.Get(ProfileFrom(c)))
			return next(c)
		}
	}
}

// ProfileFrom returns the profile id set by Profile.
func ProfileFrom(c echo.Context) string {
	s, _ := c.Get(ProfileKey).(string)
	return s
}

// SessionFrom returns the session set by Session, or nil.
func SessionFrom(c echo.Context) *session.Session {
	s, _ := c.Get(SessionKey).(*session.Session)
	return s
}
