package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/incometax/taxbot/internal/profile"
	"github.com/incometax/taxbot/server/assistant"
	apiv1 "github.com/incometax/taxbot/server/router/api/v1"
	"github.com/incometax/taxbot/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	httpServer *http.Server
	api        *apiv1.APIV1Service
	logger     zerolog.Logger
}

func NewServer(profile *profile.Profile, store *store.Store, a *assistant.Assistant, index apiv1.Index, logger zerolog.Logger) *Server {
	s := &Server{
		Profile: profile,
		Store:   store,
		logger:  logger,
	}

	echoServer := echo.New()
	echoServer.Use(middleware.Recover())
	s.echoServer = echoServer

	s.api = apiv1.NewAPIV1Service(profile, store, a, index, logger)
	s.api.RegisterRoutes(echoServer)

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(profile.Addr, fmt.Sprint(profile.Port)),
		Handler:           echoServer,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Start serves HTTP and sweeps expired sessions until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.httpServer.Addr)
	}
	s.logger.Info().Str("addr", listener.Addr().String()).Str("mode", s.Profile.Mode).Msg("server listening")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.runSweeper(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("failed to shutdown http server")
		return err
	}
	s.logger.Info().Msg("server stopped")
	return nil
}

// runSweeper applies the session expiry policy every SweepInterval.
func (s *Server) runSweeper(ctx context.Context) {
	policy := s.Store.Policy()
	if policy.TTL <= 0 && policy.MaxSessions <= 0 {
		return
	}
	ticker := time.NewTicker(s.Profile.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Server) Sweep(ctx context.Context) {
	evicted, err := s.Store.Sweep(ctx)
	if len(evicted) > 0 {
		s.api.ForgetSessions(evicted...)
		s.logger.Info().Strs("sessions", evicted).Msg("evicted expired sessions")
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("session sweep failed")
	}
}
