package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"melodiChat/pkg/api"
	"melodiChat/pkg/middleware"
)

type Server struct {
	router      *chi.Mux
	userService api.UserService
	chatService api.ChatService
	hub         *api.Hub
	limiter     *middleware.RateLimiter
	firebaseApp *firebase.App
	addr        string
	logger      zerolog.Logger
}

func NewServer(router *chi.Mux, userService api.UserService, chatService api.ChatService, hub *api.Hub, limiter *middleware.RateLimiter, firebaseApp *firebase.App, addr string, logger zerolog.Logger) *Server {
	return &Server{
		router:      router,
		userService: userService,
		chatService: chatService,
		hub:         hub,
		limiter:     limiter,
		firebaseApp: firebaseApp,
		addr:        addr,
		logger:      logger,
	}
}

func (s *Server) Run() error {
	go s.hub.Run()

	r := s.Routes()

	server := &http.Server{Addr: s.addr, Handler: r}

	// Server run context
	serverCtx, serverStopCtx := context.WithCancel(context.Background())

	// Listen for syscall signals for process to interrupt/quit
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig

		// Shutdown signal with grace period of 30 seconds
		shutdownCtx, cancelFunc := context.WithTimeout(serverCtx, 30*time.Second)
		defer cancelFunc()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				s.logger.Fatal().Msg("graceful shutdown timed out, forcing exit")
			}
		}()

		// Trigger graceful shutdown
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Fatal().Err(err).Msg("server shutdown failed")
		}
		serverStopCtx()
	}()

	s.logger.Info().Str("addr", s.addr).Msg("starting messaging server")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-serverCtx.Done()
	return nil
}
