package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/authgate/authgate/internal/manager"
)

// Server is the management REST API. It is meant to be bound to a loopback
// address since anyone who can reach it controls the proxy.
type Server struct {
	manager  *manager.Manager
	log      *zap.SugaredLogger
	shutdown func()

	srv *http.Server
	ln  net.Listener
}

// New creates the management server. shutdown is invoked when a client posts
// to /shutdown.
func New(m *manager.Manager, log *zap.SugaredLogger, shutdown func()) *Server {
	s := &Server{manager: m, log: log, shutdown: shutdown}

	r := chi.NewRouter()
	r.Use(s.logRequests)

	r.Get("/services", s.getServices)
	r.Post("/services", s.postServices)
	r.Get("/services/{service}", s.getService)
	r.Delete("/services/{service}", s.deleteService)
	r.Get("/services/{service}/users", s.getUsers)
	r.Post("/services/{service}/users", s.postUsers)
	r.Get("/services/{service}/users/{user}", s.getUser)
	r.Delete("/services/{service}/users/{user}", s.deleteUser)
	r.Get("/services/{service}/users/{user}/stats", s.getUserStats)
	r.Get("/services/{service}/users/{user}/endpoints/stats", s.getUserEndpointStats)
	r.Get("/stats", s.getStats)
	r.Post("/shutdown", s.postShutdown)

	s.srv = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start binds the server and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Errorw("management server", "err", err)
		}
	}()

	s.log.Infow("management API listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address. Valid after Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debugw("api request",
			"remote", r.RemoteAddr,
			"method", r.Method,
			"path", r.URL.Path,
			"took", time.Since(start))
	})
}
