package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/clinic-notify/internal/auth"
	"github.com/rmacdonaldsmith/clinic-notify/internal/config"
	"github.com/rmacdonaldsmith/clinic-notify/internal/inbox"
	"github.com/rmacdonaldsmith/clinic-notify/internal/statusapi"
	"github.com/rmacdonaldsmith/clinic-notify/internal/statusrpc"
	"github.com/rmacdonaldsmith/clinic-notify/pkg/notification"
	"github.com/rmacdonaldsmith/clinic-notify/pkg/notifyclient"
)

// errNoDoctors is returned when neither the config nor the token names a doctor.
var errNoDoctors = errors.New("no doctors configured and the token carries no doctor id")

// listener is one doctor registration owned by the daemon.
type listener struct {
	doctorID     notification.DoctorID
	enabled      bool
	registration *notifyclient.Registration

	mu    sync.Mutex
	state notifyclient.State
}

func (l *listener) setState(s notifyclient.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
}

func (l *listener) status() statusapi.ListenerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return statusapi.ListenerStatus{
		DoctorID: l.doctorID,
		Topic:    notification.TopicKey(l.doctorID),
		Enabled:  l.enabled,
		State:    l.state.String(),
	}
}

// daemon registers a listener per configured doctor, records deliveries in the
// inbox and serves status over HTTP and gRPC.
type daemon struct {
	config *config.Config
	logger *zap.Logger

	inbox  *inbox.Inbox
	auth   *auth.Authenticator
	health *statusrpc.Server
	status *statusapi.Server

	mu        sync.RWMutex
	listeners []*listener

	httpListener net.Listener
	grpcListener net.Listener
}

func newDaemon(cfg *config.Config, logger *zap.Logger) *daemon {
	d := &daemon{
		config: cfg,
		logger: logger,
		inbox:  inbox.New(cfg.Inbox.Capacity),
		auth:   auth.New(cfg.JWTSecret),
		health: statusrpc.NewServer(logger),
	}
	d.status = statusapi.NewServer(d, d.inbox, statusapi.Config{
		Addr:   cfg.HTTP.Listen,
		Auth:   d.auth,
		Logger: logger,
	})
	return d
}

// doctors returns the configured doctors, or the one named by the token.
func (d *daemon) doctors() ([]config.DoctorConfig, error) {
	if len(d.config.Doctors) > 0 {
		return d.config.Doctors, nil
	}
	if d.config.Token == "" {
		return nil, errNoDoctors
	}

	id, err := d.auth.DoctorID(d.config.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNoDoctors, err)
	}
	return []config.DoctorConfig{{ID: id}}, nil
}

// start registers every doctor and opens the status listeners.
func (d *daemon) start() error {
	doctors, err := d.doctors()
	if err != nil {
		return err
	}

	for _, doc := range doctors {
		if err := d.register(doc); err != nil {
			d.stop(context.Background())
			return err
		}
	}

	if d.config.HTTP.Listen != "" {
		if d.httpListener, err = net.Listen("tcp", d.config.HTTP.Listen); err != nil {
			d.stop(context.Background())
			return fmt.Errorf("failed to listen for http: %w", err)
		}
		go func() {
			if err := d.status.Serve(d.httpListener); err != nil {
				d.logger.Error("status api stopped", zap.Error(err))
			}
		}()
	}

	if d.config.GRPC.Listen != "" {
		if d.grpcListener, err = net.Listen("tcp", d.config.GRPC.Listen); err != nil {
			d.stop(context.Background())
			return fmt.Errorf("failed to listen for grpc: %w", err)
		}
		go func() {
			if err := d.health.Serve(d.grpcListener); err != nil {
				d.logger.Error("grpc health stopped", zap.Error(err))
			}
		}()
	}

	d.logger.Info("notifyd started",
		zap.String("endpoint", d.config.Endpoint),
		zap.Int("listeners", len(doctors)))
	return nil
}

func (d *daemon) register(doc config.DoctorConfig) error {
	l := &listener{doctorID: doc.ID, enabled: doc.IsEnabled()}
	d.health.SetListener(l.doctorID, l.enabled, notifyclient.Idle)

	logger := d.logger.With(zap.Int64("doctor_id", doc.ID))
	enabled := l.enabled
	id := doc.ID

	reg, err := notifyclient.Register(notifyclient.Config{
		Endpoint:       d.config.Endpoint,
		ReconnectDelay: d.config.ReconnectDelay,
		HeartBeat:      d.config.HeartBeat,
		Token:          d.config.Token,
		Logger:         d.logger,
	}, notifyclient.Options{
		DoctorID: &id,
		Enabled:  &enabled,
		OnMessage: func(n notification.Notification) {
			entry, err := d.inbox.Append(context.Background(), id, n)
			if err != nil {
				logger.Warn("failed to record notification", zap.Error(err))
				return
			}
			logger.Info("notification received",
				zap.String("kind", entry.Kind),
				zap.Int64("offset", entry.Offset))
		},
		OnStateChange: func(s notifyclient.State) {
			l.setState(s)
			d.health.SetListener(id, enabled, s)
			logger.Info("listener state changed", zap.Stringer("state", s))
		},
	})
	if err != nil {
		return fmt.Errorf("failed to register doctor %d: %w", doc.ID, err)
	}

	l.registration = reg

	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()
	return nil
}

// Listeners implements statusapi.StatusSource.
func (d *daemon) Listeners() []statusapi.ListenerStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]statusapi.ListenerStatus, 0, len(d.listeners))
	for _, l := range d.listeners {
		out = append(out, l.status())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].DoctorID < out[b].DoctorID })
	return out
}

// stop shuts the servers down, then unregisters every listener.
func (d *daemon) stop(ctx context.Context) {
	if d.httpListener != nil {
		if err := d.status.Stop(ctx); err != nil {
			d.logger.Warn("error stopping status api", zap.Error(err))
		}
	}
	if d.grpcListener != nil {
		done := make(chan struct{})
		go func() {
			d.health.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			d.logger.Warn("grpc health did not stop in time")
		}
	}

	d.mu.Lock()
	listeners := d.listeners
	d.listeners = nil
	d.mu.Unlock()

	for _, l := range listeners {
		l.registration.Close()
	}
	d.inbox.Close()
}
