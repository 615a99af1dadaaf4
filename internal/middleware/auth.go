package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/pairchat/internal/domain"
)

// UserContextKey is the echo context key holding the authenticated *domain.User.
const UserContextKey = "user"

// SessionUserKey is the gorilla session value holding the user id.
const SessionUserKey = "user_id"

// Authenticator resolves the user behind a request. It returns
// domain.ErrUnauthenticated when the request carries no valid identity.
type Authenticator interface {
	Authenticate(c echo.Context) (*domain.User, error)
}

// UserLookup is the part of the user directory authenticators need.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
}

// SessionAuthenticator reads the user id from the cookie session issued by
// the account service. It requires the echo-contrib session middleware.
type SessionAuthenticator struct {
	Users       UserLookup
	SessionName string
}

// Authenticate implements Authenticator.
func (a SessionAuthenticator) Authenticate(c echo.Context) (*domain.User, error) {
	sess, err := session.Get(a.SessionName, c)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	var id int64
	switch v := sess.Values[SessionUserKey].(type) {
	case int64:
		id = v
	case int:
		id = int64(v)
	case string:
		id, _ = strconv.ParseInt(v, 10, 64)
	}
	return lookup(c, a.Users, id)
}

// HeaderAuthenticator trusts a user id header set by an authenticating proxy.
type HeaderAuthenticator struct {
	Users  UserLookup
	Header string
}

// Authenticate implements Authenticator.
func (a HeaderAuthenticator) Authenticate(c echo.Context) (*domain.User, error) {
	raw := strings.TrimSpace(c.Request().Header.Get(a.Header))
	id, _ := strconv.ParseInt(raw, 10, 64)
	return lookup(c, a.Users, id)
}

func lookup(c echo.Context, users UserLookup, id int64) (*domain.User, error) {
	if id <= 0 {
		return nil, domain.ErrUnauthenticated
	}
	user, err := users.GetUser(c.Request().Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Auth rejects requests without an identity with 401 and stores the user in
// the echo context for downstream handlers.
func Auth(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, err := auth.Authenticate(c)
			if err != nil {
				if errors.Is(err, domain.ErrUnauthenticated) {
					return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
				}
				FromContext(c.Request().Context()).Error("Authentication lookup failed", "error", err)
				return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
			}
			c.Set(UserContextKey, user)
			return next(c)
		}
	}
}

// CurrentUser returns the user stored by Auth, or nil.
func CurrentUser(c echo.Context) *domain.User {
	user, _ := c.Get(UserContextKey).(*domain.User)
	return user
}
