package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// stompSubprotocols are offered during the WebSocket handshake.
var stompSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// WebSocketDialer opens full-duplex WebSocket sessions. An http(s) endpoint is
// mapped to its raw WebSocket path ("{endpoint}/websocket").
type WebSocketDialer struct {
	Header http.Header
	Dialer *websocket.Dialer
}

// Name returns "websocket".
func (d *WebSocketDialer) Name() string {
	return "websocket"
}

// Dial performs the WebSocket handshake.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint *url.URL) (io.ReadWriteCloser, error) {
	target, err := WebSocketURL(endpoint)
	if err != nil {
		return nil, err
	}

	dialer := *websocket.DefaultDialer
	if d.Dialer != nil {
		dialer = *d.Dialer
	}
	if len(dialer.Subprotocols) == 0 {
		dialer.Subprotocols = stompSubprotocols
	}

	conn, resp, err := dialer.DialContext(ctx, target.String(), d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return newWSConn(conn), nil
}

// WebSocketURL returns the WebSocket URL for an endpoint.
func WebSocketURL(endpoint *url.URL) (*url.URL, error) {
	out := *endpoint
	switch endpoint.Scheme {
	case "ws", "wss":
		return &out, nil
	case "http":
		out.Scheme = "ws"
	case "https":
		out.Scheme = "wss"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, endpoint.Scheme)
	}
	out.Path = strings.TrimSuffix(endpoint.Path, "/") + "/websocket"
	out.RawPath = ""
	return &out, nil
}

// wsConn adapts a message-oriented WebSocket to a byte stream. Each Write is
// sent as one text message; Read returns message bodies back to back.
type wsConn struct {
	conn *websocket.Conn

	readMu sync.Mutex
	reader io.Reader

	writeMu sync.Mutex
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		if c.reader == nil {
			_, r, err := c.conn.NextReader()
			if err != nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
					return 0, io.EOF
				}
				return 0, err
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
