package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// DefaultSTOMPPort is used for tcp:// and stomp:// endpoints without a port.
const DefaultSTOMPPort = "61613"

// ErrUnsupportedScheme is returned for endpoint URLs no dialer understands.
var ErrUnsupportedScheme = errors.New("unsupported endpoint scheme")

// Dialer opens a byte stream to a message broker endpoint. STOMP frames are
// written to and read from the returned stream.
type Dialer interface {
	// Name identifies the transport in logs and errors
	Name() string

	// Dial opens a new session. Cancelling ctx aborts an in-flight dial.
	Dial(ctx context.Context, endpoint *url.URL) (io.ReadWriteCloser, error)
}

// ForEndpoint returns the default dialer chain for an endpoint URL:
//   - http(s): WebSocket, falling back to xhr-polling
//   - ws(s): WebSocket only
//   - tcp, stomp: raw TCP
func ForEndpoint(endpoint *url.URL, header http.Header, logger *zap.Logger) (Dialer, error) {
	switch endpoint.Scheme {
	case "http", "https":
		return &FallbackDialer{
			Dialers: []Dialer{
				&WebSocketDialer{Header: header},
				&PollingDialer{Header: header},
			},
			Logger: logger,
		}, nil
	case "ws", "wss":
		return &WebSocketDialer{Header: header}, nil
	case "tcp", "stomp":
		return &TCPDialer{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, endpoint.Scheme)
	}
}

// FallbackDialer tries each dialer in order and returns the first stream that
// opens. Environments without full-duplex sockets end up on a polling transport.
type FallbackDialer struct {
	Dialers []Dialer
	Logger  *zap.Logger
}

// Name returns "fallback".
func (f *FallbackDialer) Name() string {
	return "fallback"
}

// Dial tries every configured dialer until one succeeds.
func (f *FallbackDialer) Dial(ctx context.Context, endpoint *url.URL) (io.ReadWriteCloser, error) {
	if len(f.Dialers) == 0 {
		return nil, errors.New("no dialers configured")
	}

	var errs []error
	for _, d := range f.Dialers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conn, err := d.Dial(ctx, endpoint)
		if err == nil {
			if f.Logger != nil {
				f.Logger.Debug("transport selected", zap.String("transport", d.Name()))
			}
			return conn, nil
		}

		if f.Logger != nil {
			f.Logger.Debug("transport unavailable",
				zap.String("transport", d.Name()),
				zap.Error(err))
		}
		errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
	}
	return nil, errors.Join(errs...)
}

// TCPDialer opens plain TCP connections for brokers that speak STOMP directly.
type TCPDialer struct {
	Dialer net.Dialer
}

// Name returns "tcp".
func (d *TCPDialer) Name() string {
	return "tcp"
}

// Dial connects to the endpoint's host, defaulting to the STOMP port.
func (d *TCPDialer) Dial(ctx context.Context, endpoint *url.URL) (io.ReadWriteCloser, error) {
	host := endpoint.Host
	if endpoint.Port() == "" {
		host = net.JoinHostPort(endpoint.Hostname(), DefaultSTOMPPort)
	}
	conn, err := d.Dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", host, err)
	}
	return conn, nil
}
