package connection

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
)

var (
	// ErrSessionClosed is reported when a session was closed locally
	ErrSessionClosed = errors.New("session closed")
	// ErrDisconnectTimeout is returned when the broker did not acknowledge DISCONNECT in time
	ErrDisconnectTimeout = errors.New("timed out waiting for DISCONNECT receipt")
)

// Session is one established STOMP session over a transport stream.
type Session struct {
	id                string
	transport         string
	conn              *stomp.Conn
	raw               *monitoredConn
	disconnectTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Transport names the transport the session runs on.
func (s *Session) Transport() string {
	if s == nil {
		return ""
	}
	return s.transport
}

// STOMP returns the underlying STOMP connection.
func (s *Session) STOMP() *stomp.Conn {
	if s == nil {
		return nil
	}
	return s.conn
}

// Done is closed once the transport fails or the session is closed.
func (s *Session) Done() <-chan struct{} {
	if s == nil || s.raw == nil {
		return nil
	}
	return s.raw.done
}

// Err reports why the session ended. It is nil while the session is live.
func (s *Session) Err() error {
	if s == nil || s.raw == nil {
		return nil
	}
	select {
	case <-s.raw.done:
		return s.raw.err
	default:
		return nil
	}
}

// Send publishes a frame body to a destination.
func (s *Session) Send(destination, contentType string, body []byte) error {
	if s == nil || s.conn == nil {
		return ErrSessionClosed
	}
	return s.conn.Send(destination, contentType, body)
}

// Close disconnects gracefully, waiting at most the disconnect timeout, and
// then closes the transport. It is safe to call more than once.
func (s *Session) Close() error {
	if s == nil || s.raw == nil {
		return nil
	}

	s.closeOnce.Do(func() {
		select {
		case <-s.raw.done:
			// transport already gone, nothing to negotiate
		default:
			result := make(chan error, 1)
			go func() { result <- s.conn.Disconnect() }()

			select {
			case err := <-result:
				s.closeErr = err
			case <-time.After(s.disconnectTimeout):
				s.closeErr = ErrDisconnectTimeout
			}
		}
		s.raw.Close()
	})
	return s.closeErr
}

// monitoredConn records the first transport failure and exposes it as a
// closed channel.
type monitoredConn struct {
	io.ReadWriteCloser

	once sync.Once
	done chan struct{}
	err  error
}

func newMonitoredConn(rwc io.ReadWriteCloser) *monitoredConn {
	return &monitoredConn{
		ReadWriteCloser: rwc,
		done:            make(chan struct{}),
	}
}

func (c *monitoredConn) Read(p []byte) (int, error) {
	n, err := c.ReadWriteCloser.Read(p)
	if err != nil {
		c.fail(err)
	}
	return n, err
}

func (c *monitoredConn) Write(p []byte) (int, error) {
	n, err := c.ReadWriteCloser.Write(p)
	if err != nil {
		c.fail(err)
	}
	return n, err
}

func (c *monitoredConn) Close() error {
	c.fail(ErrSessionClosed)
	return c.ReadWriteCloser.Close()
}

func (c *monitoredConn) fail(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}
