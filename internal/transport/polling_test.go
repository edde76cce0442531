package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSockJSServer is a minimal SockJS xhr-polling endpoint mounted at /ws.
// Messages posted to xhr_send are echoed back on the next poll.
type fakeSockJSServer struct {
	mu       sync.Mutex
	opened   map[string]bool
	outbox   chan string
	closeNow chan struct{}
	sends    []string
}

func newFakeSockJSServer(t *testing.T) (*fakeSockJSServer, *httptest.Server) {
	t.Helper()

	fake := &fakeSockJSServer{
		opened:   make(map[string]bool),
		outbox:   make(chan string, 16),
		closeNow: make(chan struct{}),
	}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return fake, server
}

func (f *fakeSockJSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// /ws/{server}/{session}/{xhr|xhr_send}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) != 4 || parts[0] != "ws" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	session := parts[2]

	switch parts[3] {
	case "xhr":
		f.mu.Lock()
		opened := f.opened[session]
		f.opened[session] = true
		f.mu.Unlock()

		if !opened {
			fmt.Fprint(w, "o\n")
			return
		}

		select {
		case m := <-f.outbox:
			encoded, _ := json.Marshal([]string{m})
			fmt.Fprintf(w, "a%s\n", encoded)
		case <-f.closeNow:
			fmt.Fprint(w, "c[3000,\"Go away!\"]\n")
		case <-time.After(50 * time.Millisecond):
			fmt.Fprint(w, "h\n")
		case <-r.Context().Done():
		}

	case "xhr_send":
		var messages []string
		if err := json.NewDecoder(r.Body).Decode(&messages); err != nil {
			http.Error(w, "bad payload", http.StatusInternalServerError)
			return
		}
		f.mu.Lock()
		f.sends = append(f.sends, messages...)
		f.mu.Unlock()
		for _, m := range messages {
			f.outbox <- m
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.NotFound(w, r)
	}
}

func TestPollingDialer(t *testing.T) {
	t.Run("echoes_through_xhr_send_and_xhr", func(t *testing.T) {
		fake, server := newFakeSockJSServer(t)

		endpoint, err := url.Parse(server.URL + "/ws")
		require.NoError(t, err)

		conn, err := (&PollingDialer{}).Dial(context.Background(), endpoint)
		require.NoError(t, err)
		defer conn.Close()

		frame := "SUBSCRIBE\ndestination:/topic/doctor/42\n\n\x00"
		_, err = conn.Write([]byte(frame))
		require.NoError(t, err)

		buf := make([]byte, len(frame))
		_, err = io.ReadFull(conn, buf)
		require.NoError(t, err)
		assert.Equal(t, frame, string(buf))

		fake.mu.Lock()
		defer fake.mu.Unlock()
		assert.Equal(t, []string{frame}, fake.sends)
	})

	t.Run("close_frame_ends_the_stream", func(t *testing.T) {
		fake, server := newFakeSockJSServer(t)

		endpoint, err := url.Parse(server.URL + "/ws")
		require.NoError(t, err)

		conn, err := (&PollingDialer{}).Dial(context.Background(), endpoint)
		require.NoError(t, err)
		defer conn.Close()

		close(fake.closeNow)

		_, err = conn.Read(make([]byte, 16))
		var closeErr *CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, 3000, closeErr.Code)
		assert.Equal(t, "Go away!", closeErr.Reason)
	})

	t.Run("missing_endpoint_fails_dial", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		defer server.Close()

		endpoint, err := url.Parse(server.URL + "/ws")
		require.NoError(t, err)

		_, err = (&PollingDialer{}).Dial(context.Background(), endpoint)
		assert.Error(t, err)
	})

	t.Run("rejects_websocket_scheme", func(t *testing.T) {
		endpoint, err := url.Parse("ws://localhost/ws")
		require.NoError(t, err)

		_, err = (&PollingDialer{}).Dial(context.Background(), endpoint)
		assert.ErrorIs(t, err, ErrUnsupportedScheme)
	})
}

func TestParseSockJSFrame(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    sockjsFrame
		wantErr bool
	}{
		{name: "open", body: "o\n", want: sockjsFrame{kind: sockjsOpen}},
		{name: "heartbeat", body: "h\n", want: sockjsFrame{kind: sockjsHeartbeat}},
		{name: "message array", body: "a[\"one\",\"two\"]\n", want: sockjsFrame{kind: sockjsMessages, messages: []string{"one", "two"}}},
		{name: "single message", body: "m\"one\"", want: sockjsFrame{kind: sockjsMessages, messages: []string{"one"}}},
		{name: "close", body: "c[1000,\"Normal closure\"]\n", want: sockjsFrame{kind: sockjsClose, closeCode: 1000, closeReason: "Normal closure"}},
		{name: "empty", body: "\n", wantErr: true},
		{name: "bad array", body: "a[oops", wantErr: true},
		{name: "bad close", body: "c[1000]", wantErr: true},
		{name: "unknown", body: "x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSockJSFrame([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
