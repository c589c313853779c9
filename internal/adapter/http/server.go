package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/notam-watch/internal/domain"
	"github.com/couchcryptid/notam-watch/internal/highlight"
	"github.com/couchcryptid/notam-watch/internal/scheduler"
)

// Scheduler is the part of *scheduler.Scheduler the API reads and drives.
type Scheduler interface {
	Track(ctx context.Context, codes ...string) ([]string, error)
	Enqueue(codes ...string) error
	Remove(ctx context.Context, code string) bool
	Snapshot(icao string) (domain.Envelope, bool)
	Statuses() []scheduler.AirportStatus
	Tracked() []string
	State() scheduler.State
	QueueLen() int
	Window() *scheduler.Window
}

// Session is the pause/resume control.
type Session interface {
	Active() bool
	Pause()
	Resume()
}

// Highlights is the read and acknowledge side of the highlight tracker.
type Highlights interface {
	Active(icao string) []highlight.Entry
	Airports() []string
	MarkViewed(icao, key string) bool
	MarkAirportViewed(icao string) int
}

// Feed is the notification feed.
type Feed interface {
	List() []highlight.Notification
	Unread() int
	MarkRead(id string) bool
	MarkAllRead()
	Clear()
}

// Deps groups the components the API serves.
type Deps struct {
	Scheduler  Scheduler
	Session    Session
	Highlights Highlights
	Feed       Feed
	Ready      sharedobs.ReadinessChecker
}

// Server exposes the query and control API plus health, readiness, and
// metrics endpoints.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
}

// NewServer creates an HTTP server with the API, /healthz, /readyz, and
// /metrics routes.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	s := &Server{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(deps.Ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/notams", s.handleNotams)

		r.Get("/icaos", s.handleListICAOs)
		r.Post("/icaos", s.handleAddICAOs)
		r.Delete("/icaos/{icao}", s.handleRemoveICAO)

		r.Get("/highlights", s.handleHighlights)
		r.Post("/highlights/{icao}/viewed", s.handleHighlightsViewed)

		r.Get("/notifications", s.handleNotifications)
		r.Post("/notifications/{id}/read", s.handleNotificationRead)
		r.Post("/notifications/read", s.handleNotificationsReadAll)
		r.Delete("/notifications", s.handleNotificationsClear)

		r.Post("/session/{action}", s.handleSession)
	})

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
