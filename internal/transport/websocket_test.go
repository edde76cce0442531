package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEchoWebSocketServer serves an echoing WebSocket at /ws/websocket.
func newEchoWebSocketServer(t *testing.T) (*httptest.Server, <-chan http.Header) {
	t.Helper()

	headers := make(chan http.Header, 1)
	upgrader := websocket.Upgrader{
		Subprotocols: []string{"v12.stomp"},
		CheckOrigin:  func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/websocket", func(w http.ResponseWriter, r *http.Request) {
		select {
		case headers <- r.Header.Clone():
		default:
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(messageType, data); err != nil {
				return
			}
		}
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, headers
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		want     string
		wantErr  bool
	}{
		{name: "http endpoint", endpoint: "http://localhost:8080/ws", want: "ws://localhost:8080/ws/websocket"},
		{name: "https endpoint with trailing slash", endpoint: "https://clinic.example/ws/", want: "wss://clinic.example/ws/websocket"},
		{name: "ws endpoint kept as-is", endpoint: "ws://localhost:8080/stomp", want: "ws://localhost:8080/stomp"},
		{name: "unsupported scheme", endpoint: "ftp://localhost/ws", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			endpoint, err := url.Parse(tt.endpoint)
			require.NoError(t, err)

			got, err := WebSocketURL(endpoint)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedScheme)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestWebSocketDialer(t *testing.T) {
	t.Run("round_trips_frames_as_a_stream", func(t *testing.T) {
		server, headers := newEchoWebSocketServer(t)

		endpoint, err := url.Parse(server.URL + "/ws")
		require.NoError(t, err)

		dialer := &WebSocketDialer{Header: http.Header{"Authorization": []string{"Bearer abc"}}}
		conn, err := dialer.Dial(context.Background(), endpoint)
		require.NoError(t, err)
		defer conn.Close()

		select {
		case h := <-headers:
			assert.Equal(t, "Bearer abc", h.Get("Authorization"))
			assert.Contains(t, h.Get("Sec-WebSocket-Protocol"), "v12.stomp")
		case <-time.After(2 * time.Second):
			t.Fatal("handshake headers not observed")
		}

		// Two writes become two messages and are read back as one stream
		_, err = conn.Write([]byte("CONNECT\n\n\x00"))
		require.NoError(t, err)
		_, err = conn.Write([]byte("\n"))
		require.NoError(t, err)

		buf := make([]byte, len("CONNECT\n\n\x00\n"))
		_, err = io.ReadFull(conn, buf)
		require.NoError(t, err)
		assert.Equal(t, "CONNECT\n\n\x00\n", string(buf))
	})

	t.Run("handshake_failure_reports_status", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		defer server.Close()

		endpoint, err := url.Parse(server.URL + "/ws")
		require.NoError(t, err)

		_, err = (&WebSocketDialer{}).Dial(context.Background(), endpoint)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})

	t.Run("read_after_close_fails", func(t *testing.T) {
		server, _ := newEchoWebSocketServer(t)

		endpoint, err := url.Parse(server.URL + "/ws")
		require.NoError(t, err)

		conn, err := (&WebSocketDialer{}).Dial(context.Background(), endpoint)
		require.NoError(t, err)
		require.NoError(t, conn.Close())

		_, err = conn.Read(make([]byte, 8))
		assert.Error(t, err)
	})
}
