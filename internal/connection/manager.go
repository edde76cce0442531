package connection

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/clinic-notify/internal/logging"
	"github.com/rmacdonaldsmith/clinic-notify/internal/transport"
)

// Events receives connection state changes. Both methods are called from the
// connection goroutine and must not block past the connection's context.
type Events interface {
	// Ready is called once per established session
	Ready(session *Session)

	// Lost is called when an established session ends without a Disconnect
	Lost(err error)
}

// Manager establishes broker sessions and keeps them alive with a fixed-delay
// reconnection policy.
type Manager struct {
	config Config
	dialer transport.Dialer
	logger *zap.Logger
}

// NewManager creates a Connection Manager. A nil logger disables logging.
func NewManager(config Config, logger *zap.Logger) *Manager {
	config.SetDefaults()
	return &Manager{
		config: config,
		logger: logging.OrNop(logger).Named("connection"),
	}
}

// WithDialer overrides the per-endpoint default transport chain
func (m *Manager) WithDialer(dialer transport.Dialer) *Manager {
	m.dialer = dialer
	return m
}

// Handle owns one logical connection started by Connect.
type Handle struct {
	id       string
	endpoint string
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// ID returns the connection identifier used in logs.
func (h *Handle) ID() string {
	return h.id
}

// Done is closed when the connection goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Connect starts a logical connection to endpoint and returns immediately.
// Session establishment and every later reconnection are reported through
// events; failures are retried and never returned to the caller.
func (m *Manager) Connect(ctx context.Context, endpoint string, events Events) *Handle {
	connCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		id:       uuid.NewString(),
		endpoint: endpoint,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go m.run(connCtx, h, events)
	return h
}

// Disconnect closes the live session, cancels any in-flight dial or pending
// reconnect and waits for the connection goroutine to exit. It is idempotent.
func (m *Manager) Disconnect(h *Handle) {
	if h == nil {
		return
	}
	h.once.Do(h.cancel)
	<-h.done
}

// Dial opens a single session without reconnection.
func (m *Manager) Dial(ctx context.Context, endpoint string) (*Session, error) {
	return m.open(ctx, endpoint)
}

// run is the connection loop: dial, report, wait for loss, back off, repeat.
func (m *Manager) run(ctx context.Context, h *Handle, events Events) {
	defer close(h.done)

	logger := m.logger.With(zap.String("connection_id", h.id), zap.String("endpoint", h.endpoint))
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}

		session, err := m.open(ctx, h.endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("connection attempt failed",
				zap.Int("attempt", attempts+1),
				zap.Duration("retry_in", m.config.ReconnectDelay),
				zap.Error(err))
		} else {
			attempts = 0
			logger.Info("connected",
				zap.String("session_id", session.ID()),
				zap.String("transport", session.Transport()))

			if events != nil {
				events.Ready(session)
			}

			select {
			case <-session.Done():
				lostErr := session.Err()
				session.Close()
				logger.Warn("connection lost",
					zap.String("session_id", session.ID()),
					zap.Duration("retry_in", m.config.ReconnectDelay),
					zap.Error(lostErr))
				if events != nil {
					events.Lost(lostErr)
				}
			case <-ctx.Done():
				if err := session.Close(); err != nil {
					logger.Debug("disconnect was not acknowledged", zap.Error(err))
				}
				logger.Info("disconnected", zap.String("session_id", session.ID()))
				return
			}
		}

		if m.config.MaxReconnectAttempts > 0 && attempts >= m.config.MaxReconnectAttempts {
			logger.Error("max reconnect attempts exceeded",
				zap.Int("max_reconnect_attempts", m.config.MaxReconnectAttempts))
			return
		}
		attempts++

		timer := time.NewTimer(m.config.ReconnectDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// open dials the transport and performs the STOMP handshake. Cancelling ctx
// aborts both steps.
func (m *Manager) open(ctx context.Context, endpoint string) (*Session, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}

	dialer := m.dialer
	if dialer == nil {
		dialer, err = transport.ForEndpoint(u, m.handshakeHeader(), m.logger)
		if err != nil {
			return nil, err
		}
	}

	rwc, err := dialer.Dial(ctx, u)
	if err != nil {
		return nil, err
	}

	raw := newMonitoredConn(rwc)
	stop := context.AfterFunc(ctx, func() { raw.Close() })

	conn, err := stomp.Connect(raw, m.connectOptions(u)...)
	if !stop() {
		// ctx was cancelled during the handshake and the transport is closed
		if conn != nil {
			conn.MustDisconnect()
		}
		return nil, ctx.Err()
	}
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("stomp handshake failed: %w", err)
	}

	return &Session{
		id:                uuid.NewString(),
		transport:         dialer.Name(),
		conn:              conn,
		raw:               raw,
		disconnectTimeout: m.config.DisconnectTimeout,
	}, nil
}

func (m *Manager) handshakeHeader() http.Header {
	if m.config.Token == "" {
		return nil
	}
	return http.Header{"Authorization": []string{"Bearer " + m.config.Token}}
}

func (m *Manager) connectOptions(u *url.URL) []func(*stomp.Conn) error {
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(m.config.HeartBeat, m.config.HeartBeat),
		stomp.ConnOpt.Logger(newSTOMPLogger(m.logger)),
	}
	if host := u.Hostname(); host != "" {
		opts = append(opts, stomp.ConnOpt.Host(host))
	}
	if m.config.Login != "" {
		opts = append(opts, stomp.ConnOpt.Login(m.config.Login, m.config.Passcode))
	}
	if m.config.Token != "" {
		opts = append(opts, stomp.ConnOpt.Header("Authorization", "Bearer "+m.config.Token))
	}
	return opts
}
