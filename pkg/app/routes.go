package app

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	myMiddleware "melodiChat/pkg/middleware"
)

func (s *Server) Routes() *chi.Mux {
	r := s.router
	r.Use(cors.Handler(cors.Options{
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))
	r.Use(chimw.RealIP)
	r.Use(myMiddleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(myMiddleware.FirebaseConfig(s.firebaseApp))

	r.Get("/health", s.Health())
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(myMiddleware.Authenticator)
		// After Authenticator, so limits key on the caller's UID.
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Get("/conversations", s.GetConversations())
		r.Post("/conversations", s.CreateConversation())
		r.Get("/conversations/{conversationId}/messages", s.GetMessages())
		r.Post("/messages", s.SendMessage())
	})

	// The handshake runs before authentication, so this one is IP-keyed.
	if s.limiter != nil {
		r.With(s.limiter.Middleware).Get("/ws", s.ServeWs())
	} else {
		r.Get("/ws", s.ServeWs())
	}

	return r
}
