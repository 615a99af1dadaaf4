package server

import (
	"github.com/nfrund/pairchat/internal/middleware"
)

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	auth := middleware.Auth(s.auth)

	s.E.GET("/health", s.healthHandler.Check)

	api := s.E.Group("/api", auth)
	api.GET("/users", s.directoryHandler.ListUsers)
	api.GET("/conversations/:userID", s.directoryHandler.Conversation)
	api.GET("/unread/:senderID", s.directoryHandler.Unread)
	if s.presenceHandler != nil {
		api.GET("/presence", s.presenceHandler.GetPresence)
		api.GET("/presence/:userID", s.presenceHandler.GetUserPresence)
	}

	rateLimiter := middleware.RateLimiter(s.Cfg.ConnectRate, s.Cfg.ConnectBurst)
	s.E.GET("/ws/chat/:room", s.chatHandler.ServeWS, rateLimiter, auth)
}
