package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/clinic-notify/internal/auth"
)

// ContextKey type for context keys to avoid collisions
type ContextKey string

// DoctorIDKey is the context key for the authenticated doctor id
const DoctorIDKey ContextKey = "doctor_id"

// Middleware provides HTTP middleware functions
type Middleware struct {
	auth   *auth.Authenticator
	logger *zap.Logger
}

// NewMiddleware creates a new middleware instance. With a nil or
// non-verifying authenticator, AuthRequired lets every request through.
func NewMiddleware(authenticator *auth.Authenticator, logger *zap.Logger) *Middleware {
	return &Middleware{auth: authenticator, logger: logger}
}

// AuthRequired requires a verified bearer token and stores its doctor id in
// the request context.
func (m *Middleware) AuthRequired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.auth == nil || !m.auth.Verifies() {
			next(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		doctorID, err := m.auth.DoctorID(header)
		if err != nil {
			writeError(w, "Invalid token: "+err.Error(), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), DoctorIDKey, doctorID)
		next(w, r.WithContext(ctx))
	}
}

// CORS middleware adds CORS headers for browser compatibility
func (m *Middleware) CORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// statusRecorder captures the response status for request logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Logging middleware logs every request at debug level
func (m *Middleware) Logging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		m.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	}
}

// Recovery middleware recovers from panics and returns 500 error
func (m *Middleware) Recovery(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				m.logger.Error("panic in http handler",
					zap.Any("panic", err),
					zap.String("path", r.URL.Path))
				writeError(w, "Internal server error", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// GetDoctorID returns the authenticated doctor id, if any
func GetDoctorID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(DoctorIDKey).(int64)
	return id, ok
}

// writeError writes an error response as JSON
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
