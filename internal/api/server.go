// Package api exposes the ticket workflow as a small start/status/delete
// HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ticketbot/internal/config"
	"ticketbot/internal/session"
)

// Sessions is the part of the session registry the API uses.
type Sessions interface {
	Start(ctx context.Context, req session.Request) (string, error)
	Get(id string) (session.State, error)
	List() []session.State
	Delete(id string) error
}

// Server serves the automation API.
type Server struct {
	sessions Sessions
	defaults config.TicketConfig
	logger   *zap.Logger
	started  time.Time
	router   *mux.Router
}

func NewServer(sessions Sessions, defaults config.TicketConfig, logger *zap.Logger) *Server {
	s := &Server{
		sessions: sessions,
		defaults: defaults,
		logger:   logger.Named("api"),
		started:  time.Now(),
		router:   mux.NewRouter(),
	}
	s.RegisterRoutes(s.router)
	return s
}

// RegisterRoutes registers the API routes on router.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/automation/start", s.handleStart).Methods(http.MethodPost)
	router.HandleFunc("/api/automation/sessions", s.handleList).Methods(http.MethodGet)
	router.HandleFunc("/api/automation/status/{sessionId}", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/automation/{sessionId}", s.handleDelete).Methods(http.MethodDelete)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "Not found", http.StatusNotFound)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
}

// Handler returns the router wrapped in the CORS and request logging
// middleware.
func (s *Server) Handler() http.Handler {
	return withCORS(s.withRequestLogging(s.router))
}

// ListenAndServe serves on addr until ctx is done and then shuts the
// server down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, errorResponse{Success: false, Error: message})
}
