// Package notifyclient registers a doctor-facing consumer for live
// appointment notifications.
//
//	reg, err := notifyclient.Register(notifyclient.Config{Endpoint: endpoint}, notifyclient.Options{
//		DoctorID:  &doctorID,
//		OnMessage: func(n notification.Notification) { ... },
//	})
//	...
//	defer reg.Close()
//
// Connection failures are retried in the background and never returned to the
// caller. Undecodable payloads are delivered as notification.RawNotification.
package notifyclient

import (
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/clinic-notify/internal/connection"
	"github.com/rmacdonaldsmith/clinic-notify/internal/lifecycle"
	"github.com/rmacdonaldsmith/clinic-notify/internal/logging"
	"github.com/rmacdonaldsmith/clinic-notify/internal/registrar"
	"github.com/rmacdonaldsmith/clinic-notify/pkg/notification"
)

// DefaultEndpoint is used when Config.Endpoint is empty.
const DefaultEndpoint = "http://localhost:8080/ws"

// State is the connection state of a Registration.
type State = lifecycle.State

const (
	Idle        = lifecycle.Idle
	Connecting  = lifecycle.Connecting
	Subscribed  = lifecycle.Subscribed
	TearingDown = lifecycle.TearingDown
)

// Config holds client configuration
type Config struct {
	// Endpoint is the broker endpoint (http(s)://, ws(s)://, tcp://)
	Endpoint string

	// ReconnectDelay is the fixed wait between reconnection attempts (default 5s)
	ReconnectDelay time.Duration

	// HeartBeat is the STOMP heart-beat interval (default 10s)
	HeartBeat time.Duration

	// Token is an optional bearer token sent with the connection
	Token string

	// Logger receives pipeline logs. Nil disables logging.
	Logger *zap.Logger
}

// SetDefaults sets reasonable default values for unset fields
func (c *Config) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = connection.DefaultReconnectDelay
	}
	if c.HeartBeat <= 0 {
		c.HeartBeat = 10 * time.Second
	}
}

// Options are the consumer's registration inputs.
type Options struct {
	// DoctorID selects the topic. Nil means no subscription.
	DoctorID *notification.DoctorID

	// OnMessage is called once per inbound notification
	OnMessage notification.Handler

	// Enabled defaults to true when nil
	Enabled *bool

	// OnStateChange, if set, observes connection state transitions
	OnStateChange func(State)
}

// Registration is a mounted consumer. Close unmounts it.
type Registration struct {
	controller *lifecycle.Controller
}

// Register mounts a consumer and applies its initial options.
func Register(config Config, opts Options) (*Registration, error) {
	config.SetDefaults()
	logger := logging.OrNop(config.Logger)

	manager := connection.NewManager(connection.Config{
		ReconnectDelay: config.ReconnectDelay,
		HeartBeat:      config.HeartBeat,
		Token:          config.Token,
	}, logger)

	controller, err := lifecycle.New(lifecycle.Options{
		Connector:     lifecycle.NewConnector(manager, config.Endpoint),
		Subscriber:    lifecycle.NewSubscriber(registrar.New(logger)),
		Handler:       opts.OnMessage,
		OnStateChange: opts.OnStateChange,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	enabled := true
	if opts.Enabled != nil {
		enabled = *opts.Enabled
	}
	controller.Update(opts.DoctorID, enabled)

	return &Registration{controller: controller}, nil
}

// Update changes the doctor id and enabled flag. Repeating the current
// values is a no-op.
func (r *Registration) Update(doctorID *notification.DoctorID, enabled bool) {
	r.controller.Update(doctorID, enabled)
}

// SetHandler replaces the message callback without reconnecting.
func (r *Registration) SetHandler(h notification.Handler) {
	r.controller.SetHandler(h)
}

// State returns the current connection state.
func (r *Registration) State() State {
	return r.controller.State()
}

// Close unsubscribes, disconnects and cancels any pending reconnect.
func (r *Registration) Close() {
	r.controller.Close()
}
