// Package server assembles the HTTP surface: echo middleware, the REST
// endpoints and the chat WebSocket route.
package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/pairchat/internal/chat"
	"github.com/nfrund/pairchat/internal/config"
	"github.com/nfrund/pairchat/internal/domain"
	"github.com/nfrund/pairchat/internal/handlers"
	"github.com/nfrund/pairchat/internal/middleware"
	"github.com/nfrund/pairchat/internal/websocket"
)

// Dependencies holds everything the server needs. Presence is optional.
type Dependencies struct {
	Config   *config.Config
	Logger   *slog.Logger
	Users    domain.UserDirectory
	Messages domain.MessageStore
	Health   handlers.HealthChecker
	Engine   *chat.Engine
	Presence handlers.PresenceReader
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	E      *echo.Echo
	Cfg    *config.Config
	logger *slog.Logger

	auth             middleware.Authenticator
	directoryHandler *handlers.DirectoryHandler
	presenceHandler  *handlers.PresenceHandler
	healthHandler    *handlers.HealthHandler
	chatHandler      *handlers.ChatHandler
}

// New creates a new Server instance with routes registered.
func New(deps Dependencies) (*Server, error) {
	if deps.Config == nil || deps.Users == nil || deps.Messages == nil || deps.Engine == nil {
		return nil, errors.New("server: config, users, messages and engine are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewValidator()
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(echomw.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			middleware.FromContext(c.Request().Context()).Info("Request",
				"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.Use(echomw.Recover())

	var auth middleware.Authenticator
	switch cfg.AuthMode {
	case config.AuthModeHeader:
		auth = middleware.HeaderAuthenticator{Users: deps.Users, Header: cfg.AuthHeader}
	default:
		// Configure and use session middleware. The account service issues
		// the cookie; pairchat only reads it.
		store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
		store.Options = &sessions.Options{
			Path:     "/",
			MaxAge:   86400 * 7, // 7 days
			HttpOnly: true,
		}
		e.Use(session.Middleware(store))
		auth = middleware.SessionAuthenticator{Users: deps.Users, SessionName: cfg.SessionName}
	}

	health := deps.Health
	if health == nil {
		return nil, errors.New("server: health checker is required")
	}

	s := &Server{
		E:                e,
		Cfg:              cfg,
		logger:           logger,
		auth:             auth,
		directoryHandler: handlers.NewDirectoryHandler(deps.Users, deps.Messages),
		healthHandler:    handlers.NewHealthHandler(health, deps.Engine),
		chatHandler: handlers.NewChatHandler(deps.Engine, websocket.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			ReadLimit:      cfg.ReadLimit,
		}),
	}
	if deps.Presence != nil {
		s.presenceHandler = handlers.NewPresenceHandler(deps.Presence)
	}
	s.RegisterRoutes()
	return s, nil
}

// errorHandler renders errors as handlers.ErrorResponse and logs 5xx causes.
func errorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if !errors.As(err, &he) {
			he = &echo.HTTPError{Code: http.StatusInternalServerError, Message: http.StatusText(http.StatusInternalServerError), Internal: err}
		}
		if he.Code >= http.StatusInternalServerError {
			middleware.FromContext(c.Request().Context()).Error("Request failed", "status", he.Code, "error", err)
		}

		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		resp := handlers.ErrorResponse{Code: http.StatusText(he.Code), Message: msg}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(he.Code)
		} else {
			err = c.JSON(he.Code, resp)
		}
		if err != nil {
			logger.Error("Failed to write error response", "error", err)
		}
	}
}
