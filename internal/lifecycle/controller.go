// Package lifecycle ties a notification subscription to a doctor id and an
// enabled flag. A Controller runs one event loop that owns the connection,
// the subscription and delivery to the consumer's handler.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/clinic-notify/internal/connection"
	"github.com/rmacdonaldsmith/clinic-notify/internal/logging"
	"github.com/rmacdonaldsmith/clinic-notify/pkg/notification"
)

// ErrMissingDependency is returned when a Controller is built without a
// Connector or Subscriber.
var ErrMissingDependency = errors.New("connector and subscriber are required")

// Options configures a Controller.
type Options struct {
	Connector  Connector
	Subscriber Subscriber

	// Handler receives every delivered notification on the event loop
	Handler notification.Handler

	// OnStateChange, if set, is called on the event loop after each transition
	OnStateChange func(State)

	Logger *zap.Logger
}

type eventKind int

const (
	eventReady eventKind = iota
	eventLost
	eventFrame
	eventSubscriptionClosed
)

// event is posted into the loop by connection and subscription goroutines.
// gen identifies the connection generation and sub the subscription within
// it, so the loop can drop anything that outlived its source.
type event struct {
	kind    eventKind
	gen     uint64
	sub     uint64
	session *connection.Session
	body    []byte
	err     error
}

type update struct {
	doctorID *notification.DoctorID
	enabled  bool
	done     chan struct{}
}

// Controller drives the Idle/Connecting/Subscribed/TearingDown state machine.
type Controller struct {
	connector     Connector
	subscriber    Subscriber
	onStateChange func(State)
	logger        *zap.Logger

	handler atomic.Pointer[notification.Handler]
	state   atomic.Int32

	updates chan update
	events  chan event
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once

	// owned by the event loop
	active      bool
	doctorID    notification.DoctorID
	gen         uint64
	postCtx     context.Context
	postCancel  context.CancelFunc
	disconnect  func()
	session     *connection.Session
	sub         uint64
	unsubscribe func()
}

// New creates a Controller in the Idle state and starts its event loop.
func New(opts Options) (*Controller, error) {
	if opts.Connector == nil || opts.Subscriber == nil {
		return nil, ErrMissingDependency
	}

	c := &Controller{
		connector:     opts.Connector,
		subscriber:    opts.Subscriber,
		onStateChange: opts.OnStateChange,
		logger:        logging.OrNop(opts.Logger).Named("lifecycle"),
		updates:       make(chan update),
		events:        make(chan event),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	c.SetHandler(opts.Handler)

	go c.loop()
	return c, nil
}

// Update applies a new doctor id (nil for none) and enabled flag. It returns
// once the resulting transitions have been made: after Update returns, no
// frame from a previously subscribed doctor reaches the handler. Update must
// not be called from the handler.
func (c *Controller) Update(doctorID *notification.DoctorID, enabled bool) {
	req := update{enabled: enabled, done: make(chan struct{})}
	if doctorID != nil {
		id := *doctorID
		req.doctorID = &id
	}

	select {
	case c.updates <- req:
		<-req.done
	case <-c.done:
	}
}

// SetHandler replaces the delivery callback. It never causes a reconnect.
func (c *Controller) SetHandler(h notification.Handler) {
	c.handler.Store(&h)
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Close tears everything down and stops the event loop. Safe to call more
// than once.
func (c *Controller) Close() {
	c.once.Do(func() { close(c.quit) })
	<-c.done
}

func (c *Controller) loop() {
	defer close(c.done)

	for {
		select {
		case req := <-c.updates:
			c.apply(req.doctorID, req.enabled)
			close(req.done)
		case ev := <-c.events:
			c.handle(ev)
		case <-c.quit:
			if c.active {
				c.teardown("closed")
				c.setState(Idle)
			}
			return
		}
	}
}

func (c *Controller) apply(doctorID *notification.DoctorID, enabled bool) {
	want := enabled && doctorID != nil

	if c.active {
		switch {
		case !enabled:
			c.teardown("disabled")
		case doctorID == nil:
			c.teardown("doctor id cleared")
		case *doctorID != c.doctorID:
			c.teardown("doctor id changed")
		default:
			return
		}
		if !want {
			c.setState(Idle)
			return
		}
	}

	if want {
		c.start(*doctorID)
	}
}

// start begins a new connection generation for doctorID.
func (c *Controller) start(doctorID notification.DoctorID) {
	c.gen++
	c.active = true
	c.doctorID = doctorID
	c.postCtx, c.postCancel = context.WithCancel(context.Background())
	c.setState(Connecting)

	c.logger.Info("connecting",
		zap.Int64("doctor_id", doctorID),
		zap.Uint64("generation", c.gen))

	c.disconnect = c.connector.Connect(context.Background(), &connectionEvents{
		controller: c,
		ctx:        c.postCtx,
		gen:        c.gen,
	})
}

// teardown releases the subscription, then the connection. Posts from the
// outgoing generation are cancelled first so neither side can block on the
// loop while it waits for them.
func (c *Controller) teardown(reason string) {
	c.setState(TearingDown)
	c.logger.Info("tearing down",
		zap.Int64("doctor_id", c.doctorID),
		zap.Uint64("generation", c.gen),
		zap.String("reason", reason))

	c.postCancel()
	c.releaseSubscription()
	if c.disconnect != nil {
		c.disconnect()
		c.disconnect = nil
	}
	c.session = nil
	c.active = false
}

func (c *Controller) releaseSubscription() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

func (c *Controller) handle(ev event) {
	if !c.active || ev.gen != c.gen {
		c.logger.Debug("dropping stale event", zap.Uint64("generation", ev.gen))
		return
	}

	switch ev.kind {
	case eventReady:
		c.subscribe(ev.session)

	case eventLost:
		c.releaseSubscription()
		c.session = nil
		c.setState(Connecting)

	case eventFrame:
		if ev.sub != c.sub || c.unsubscribe == nil {
			return
		}
		c.deliver(ev.body)

	case eventSubscriptionClosed:
		if ev.sub != c.sub || c.unsubscribe == nil {
			return
		}
		select {
		case <-c.session.Done():
			// the connection manager reports the loss and reconnects
			return
		default:
		}
		c.restart("subscription closed")
	}
}

func (c *Controller) subscribe(session *connection.Session) {
	c.releaseSubscription()
	c.session = session
	c.sub++

	topic := notification.Topic(c.doctorID)
	ctx, gen, sub := c.postCtx, c.gen, c.sub

	unsubscribe, err := c.subscriber.Subscribe(session, topic,
		func(body []byte) {
			c.post(ctx, event{kind: eventFrame, gen: gen, sub: sub, body: body})
		},
		func(err error) {
			c.post(ctx, event{kind: eventSubscriptionClosed, gen: gen, sub: sub, err: err})
		})
	if err != nil {
		c.logger.Warn("subscribe failed",
			zap.String("topic", topic),
			zap.Error(err))
		c.restart("subscribe failed")
		return
	}

	c.unsubscribe = unsubscribe
	c.setState(Subscribed)
}

// restart replaces the current connection with a new generation for the
// same doctor.
func (c *Controller) restart(reason string) {
	doctorID := c.doctorID
	c.teardown(reason)
	c.start(doctorID)
}

func (c *Controller) deliver(body []byte) {
	n, err := notification.Decode(body)
	if err != nil {
		c.logger.Warn("delivering undecodable notification as raw text",
			zap.String("topic", notification.TopicKey(c.doctorID)),
			zap.Error(err))
	}

	h := c.handler.Load()
	if h == nil || *h == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("notification handler panicked",
				zap.Any("panic", r),
				zap.String("topic", notification.TopicKey(c.doctorID)))
		}
	}()
	(*h)(n)
}

// post hands ev to the loop unless ctx is cancelled first.
func (c *Controller) post(ctx context.Context, ev event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func (c *Controller) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	if c.onStateChange != nil {
		c.onStateChange(s)
	}
}

// connectionEvents forwards connection manager events for one generation.
type connectionEvents struct {
	controller *Controller
	ctx        context.Context
	gen        uint64
}

func (e *connectionEvents) Ready(session *connection.Session) {
	e.controller.post(e.ctx, event{kind: eventReady, gen: e.gen, session: session})
}

func (e *connectionEvents) Lost(err error) {
	e.controller.post(e.ctx, event{kind: eventLost, gen: e.gen, err: err})
}
