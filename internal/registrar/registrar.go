// Package registrar subscribes a ready broker session to a topic and turns
// inbound MESSAGE frames into callbacks.
package registrar

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/go-stomp/stomp/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/clinic-notify/internal/connection"
	"github.com/rmacdonaldsmith/clinic-notify/internal/logging"
)

var (
	// ErrNotReady is returned when Subscribe is called without a ready session
	ErrNotReady = errors.New("session not ready")
	// ErrSubscriptionClosed is reported when the broker side of a subscription ends
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// Registrar registers topic subscriptions on established sessions.
type Registrar struct {
	logger *zap.Logger
}

// New creates a Registrar. A nil logger disables logging.
func New(logger *zap.Logger) *Registrar {
	return &Registrar{
		logger: logging.OrNop(logger).Named("registrar"),
	}
}

// Handle identifies one active subscription.
type Handle struct {
	id      string
	topic   string
	session *connection.Session
	sub     *stomp.Subscription

	released   atomic.Bool
	closedOnce sync.Once
	releaseMu  sync.Mutex
	done       chan struct{}
}

// ID returns the subscription identifier used in logs.
func (h *Handle) ID() string {
	return h.id
}

// Topic returns the subscribed destination.
func (h *Handle) Topic() string {
	return h.topic
}

// Done is closed when the reader goroutine has drained the subscription:
// after the broker confirms the UNSUBSCRIBE, or when the session ends.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Subscribe registers topic on session. Every inbound MESSAGE frame invokes
// onFrame exactly once, in transport order. If the subscription ends without
// Unsubscribe (error frame, lost session) onClosed is called once.
func (r *Registrar) Subscribe(session *connection.Session, topic string, onFrame func([]byte), onClosed func(error)) (*Handle, error) {
	if session == nil || session.STOMP() == nil {
		return nil, ErrNotReady
	}

	sub, err := session.STOMP().Subscribe(topic, stomp.AckAuto)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		id:      uuid.NewString(),
		topic:   topic,
		session: session,
		sub:     sub,
		done:    make(chan struct{}),
	}

	r.logger.Info("subscribed",
		zap.String("subscription_id", h.id),
		zap.String("session_id", session.ID()),
		zap.String("topic", topic))

	go r.read(h, onFrame, onClosed)
	return h, nil
}

func (r *Registrar) read(h *Handle, onFrame func([]byte), onClosed func(error)) {
	defer close(h.done)

	closed := func(err error) {
		if h.released.Load() {
			return
		}
		h.closedOnce.Do(func() {
			r.logger.Warn("subscription ended",
				zap.String("subscription_id", h.id),
				zap.String("topic", h.topic),
				zap.Error(err))
			if onClosed != nil {
				onClosed(err)
			}
		})
	}

	for msg := range h.sub.C {
		if msg.Err != nil {
			closed(msg.Err)
			continue
		}
		if h.released.Load() {
			continue
		}
		if onFrame != nil {
			onFrame(msg.Body)
		}
	}

	closed(ErrSubscriptionClosed)
}

// Unsubscribe releases the subscription. Frames that arrive afterwards are
// dropped. The UNSUBSCRIBE frame is sent without waiting for the broker's
// RECEIPT: brokers are not required to answer it, and every caller closes
// the session soon after. Done is closed once the broker answers or the
// session ends. Safe to call more than once and with a nil handle.
func (r *Registrar) Unsubscribe(h *Handle) {
	if h == nil {
		return
	}

	h.releaseMu.Lock()
	defer h.releaseMu.Unlock()
	if h.released.Swap(true) {
		return
	}

	logger := r.logger.With(zap.String("subscription_id", h.id), zap.String("topic", h.topic))

	select {
	case <-h.session.Done():
		logger.Debug("session already closed, skipping UNSUBSCRIBE")
		return
	default:
	}

	go func() {
		defer func() {
			// the connection may shut down while the frame is queued
			if p := recover(); p != nil {
				logger.Debug("unsubscribe aborted", zap.Any("panic", p))
			}
		}()
		if err := h.sub.Unsubscribe(); err != nil {
			logger.Debug("unsubscribe failed", zap.Error(err))
			return
		}
		logger.Debug("unsubscribe acknowledged")
	}()

	logger.Info("unsubscribed")
}
