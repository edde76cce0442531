// Package statusrpc exposes listener health through the standard gRPC
// health-checking protocol. Each doctor listener is a service named after its
// topic key ("doctor/42"); the empty service name reports overall health.
package statusrpc

import (
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/rmacdonaldsmith/clinic-notify/internal/lifecycle"
	"github.com/rmacdonaldsmith/clinic-notify/internal/logging"
	"github.com/rmacdonaldsmith/clinic-notify/pkg/notification"
)

// Server serves grpc.health.v1.Health.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger

	mu      sync.Mutex
	serving map[notification.DoctorID]bool
}

// NewServer creates a health server. Overall status starts NOT_SERVING
// until the first listener reports.
func NewServer(logger *zap.Logger) *Server {
	s := &Server{
		grpc:    grpc.NewServer(),
		health:  health.NewServer(),
		logger:  logging.OrNop(logger).Named("statusrpc"),
		serving: make(map[notification.DoctorID]bool),
	}

	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// SetListener records a listener's state. Disabled listeners count as
// serving; enabled ones serve only while Subscribed.
func (s *Server) SetListener(doctorID notification.DoctorID, enabled bool, state lifecycle.State) {
	ok := !enabled || state == lifecycle.Subscribed

	s.mu.Lock()
	defer s.mu.Unlock()

	s.serving[doctorID] = ok
	s.health.SetServingStatus(notification.TopicKey(doctorID), servingStatus(ok))

	overall := true
	for _, v := range s.serving {
		overall = overall && v
	}
	s.health.SetServingStatus("", servingStatus(overall))
}

func servingStatus(serving bool) healthpb.HealthCheckResponse_ServingStatus {
	if serving {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Serve accepts connections on l until Stop is called.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("grpc health listening", zap.String("addr", l.Addr().String()))
	if err := s.grpc.Serve(l); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
