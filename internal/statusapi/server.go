// Package statusapi serves the notifyd HTTP status surface: listener health
// and the per-doctor inbox of recent notifications.
package statusapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/clinic-notify/internal/auth"
	"github.com/rmacdonaldsmith/clinic-notify/internal/inbox"
	"github.com/rmacdonaldsmith/clinic-notify/internal/lifecycle"
	"github.com/rmacdonaldsmith/clinic-notify/internal/logging"
	"github.com/rmacdonaldsmith/clinic-notify/pkg/notification"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// StatusSource reports the daemon's registrations.
type StatusSource interface {
	Listeners() []ListenerStatus
}

// NotificationStore is the read side of the inbox.
type NotificationStore interface {
	Read(ctx context.Context, doctorID notification.DoctorID, startOffset int64, maxCount int) ([]inbox.Entry, error)
	EndOffset(ctx context.Context, doctorID notification.DoctorID) (int64, error)
	Stats() []inbox.TopicStats
}

// Config holds server configuration
type Config struct {
	// Addr is the listen address, e.g. ":8081"
	Addr string

	// Auth verifies bearer tokens on inbox reads; nil leaves them open
	Auth *auth.Authenticator

	Logger *zap.Logger
}

// Server represents the HTTP status server
type Server struct {
	status     StatusSource
	store      NotificationStore
	middleware *Middleware
	logger     *zap.Logger
	server     *http.Server
}

// NewServer creates a new HTTP status server
func NewServer(status StatusSource, store NotificationStore, config Config) *Server {
	logger := logging.OrNop(config.Logger).Named("statusapi")

	s := &Server{
		status:     status,
		store:      store,
		middleware: NewMiddleware(config.Auth, logger),
		logger:     logger,
	}

	s.server = &http.Server{
		Addr:           config.Addr,
		Handler:        s.Handler(),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

// Serve accepts connections on l until Stop is called.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("status api listening", zap.String("addr", l.Addr().String()))
	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.CORS(handler)))
	}

	mux.Handle("GET /api/v1/health", withMiddleware(s.handleHealth))
	mux.Handle("GET /api/v1/doctors/{id}/notifications", withMiddleware(s.middleware.AuthRequired(s.handleNotifications)))
	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// handleHealth reports every listener; 503 unless each enabled one is subscribed.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	listeners := s.status.Listeners()

	resp := HealthResponse{
		Healthy:   true,
		Listeners: listeners,
		Inbox:     s.store.Stats(),
	}

	down := 0
	for _, l := range listeners {
		if l.Enabled && l.State != lifecycle.Subscribed.String() {
			down++
		}
	}
	if down > 0 {
		resp.Healthy = false
		resp.Message = strconv.Itoa(down) + " listener(s) not subscribed"
	}

	statusCode := http.StatusOK
	if !resp.Healthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, resp, statusCode)
}

// handleNotifications reads a doctor's inbox: ?offset={offset}&limit={limit}
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	doctorID, err := notification.ParseDoctorID(r.PathValue("id"))
	if err != nil {
		writeError(w, "Invalid doctor id", http.StatusBadRequest)
		return
	}

	if authenticated, ok := GetDoctorID(r); ok && authenticated != doctorID {
		writeError(w, "Token does not belong to this doctor", http.StatusForbidden)
		return
	}

	offset := int64(0)
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err = strconv.ParseInt(v, 10, 64)
		if err != nil || offset < 0 {
			writeError(w, "Invalid offset parameter", http.StatusBadRequest)
			return
		}
	}

	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 || limit > maxLimit {
			writeError(w, "Invalid limit parameter (0-"+strconv.Itoa(maxLimit)+")", http.StatusBadRequest)
			return
		}
	}

	entries, err := s.store.Read(r.Context(), doctorID, offset, limit)
	if err != nil {
		writeError(w, "Failed to read notifications", http.StatusInternalServerError)
		return
	}
	end, err := s.store.EndOffset(r.Context(), doctorID)
	if err != nil {
		writeError(w, "Failed to read notifications", http.StatusInternalServerError)
		return
	}

	writeJSON(w, NotificationsResponse{
		DoctorID:      doctorID,
		Topic:         notification.TopicKey(doctorID),
		Notifications: entries,
		StartOffset:   offset,
		EndOffset:     end,
		Count:         len(entries),
	}, http.StatusOK)
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]interface{}{
		"service": "clinic-notify status API",
		"endpoints": map[string]string{
			"health":        "GET /api/v1/health",
			"notifications": "GET /api/v1/doctors/{id}/notifications?offset={offset}&limit={limit}",
		},
	}, http.StatusOK)
}
