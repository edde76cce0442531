package lifecycle

import (
	"context"

	"github.com/rmacdonaldsmith/clinic-notify/internal/connection"
	"github.com/rmacdonaldsmith/clinic-notify/internal/registrar"
)

// Connector opens a self-healing broker connection. Session changes are
// reported to events until the returned disconnect func is called;
// disconnect blocks until no further events can be reported.
type Connector interface {
	Connect(ctx context.Context, events connection.Events) (disconnect func())
}

// Subscriber subscribes a ready session to a topic. unsubscribe must be
// idempotent.
type Subscriber interface {
	Subscribe(session *connection.Session, topic string, onFrame func([]byte), onClosed func(error)) (unsubscribe func(), err error)
}

// NewConnector adapts a connection manager bound to one endpoint.
func NewConnector(manager *connection.Manager, endpoint string) Connector {
	return &managerConnector{manager: manager, endpoint: endpoint}
}

type managerConnector struct {
	manager  *connection.Manager
	endpoint string
}

func (c *managerConnector) Connect(ctx context.Context, events connection.Events) func() {
	h := c.manager.Connect(ctx, c.endpoint, events)
	return func() { c.manager.Disconnect(h) }
}

// NewSubscriber adapts a subscription registrar.
func NewSubscriber(r *registrar.Registrar) Subscriber {
	return &registrarSubscriber{registrar: r}
}

type registrarSubscriber struct {
	registrar *registrar.Registrar
}

func (s *registrarSubscriber) Subscribe(session *connection.Session, topic string, onFrame func([]byte), onClosed func(error)) (func(), error) {
	h, err := s.registrar.Subscribe(session, topic, onFrame, onClosed)
	if err != nil {
		return nil, err
	}
	return func() { s.registrar.Unsubscribe(h) }, nil
}
