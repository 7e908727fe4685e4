// Package api is the thin HTTP layer over the habit and user services.
//
// It maps validator rejections to field-keyed 400 responses and leaves
// all business rules to the services underneath.
package api

import (
	"context"
	"net/http"
	"time"

	"habitd/internal/auth"
	"habitd/internal/habit"
	"habitd/internal/user"
	"habitd/pkg/logx"
)

const defaultPageSize = 5

type Config struct {
	Addr     string
	PageSize int
}

type Server struct {
	cfg Config
	log logx.Logger

	users  *user.Service
	habits *habit.Service
	tokens *auth.Service

	httpSrv *http.Server
}

func NewServer(cfg Config, users *user.Service, habits *habit.Service, tokens *auth.Service, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, log: log, users: users, habits: habits, tokens: tokens}

	mux := http.NewServeMux()
	s.routes(mux)

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.withRequestLog(mux),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	loginLimit := s.rateLimited()

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.Handle("POST /api/auth/token", loginLimit(http.HandlerFunc(s.handleToken)))
	mux.HandleFunc("POST /api/auth/token/refresh", s.handleRefresh)

	mux.Handle("POST /api/users/telegram", s.requireAuth(s.handleLinkTelegram))

	mux.HandleFunc("GET /api/habits/public", s.handlePublicHabits)
	mux.Handle("GET /api/habits", s.requireAuth(s.handleListHabits))
	mux.Handle("POST /api/habits", s.requireAuth(s.handleCreateHabit))
	mux.Handle("GET /api/habits/{id}", s.requireAuth(s.handleGetHabit))
	mux.Handle("PATCH /api/habits/{id}", s.requireAuth(s.handleUpdateHabit))
	mux.Handle("PUT /api/habits/{id}", s.requireAuth(s.handleUpdateHabit))
	mux.Handle("DELETE /api/habits/{id}", s.requireAuth(s.handleDeleteHabit))
}

// Handler exposes the full middleware-wrapped handler (used by tests).
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("api listening", logx.String("addr", s.cfg.Addr))
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
