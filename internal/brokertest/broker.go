// Package brokertest runs an in-process STOMP broker for tests, reachable over
// raw TCP or through a WebSocket bridge that mimics a SockJS server's raw
// WebSocket endpoint.
package brokertest

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/server"
	"github.com/gorilla/websocket"
)

// Broker is a running in-process STOMP broker.
type Broker struct {
	// Addr is the broker's TCP address (host:port)
	Addr string

	listener net.Listener

	mu        sync.Mutex
	publisher *stomp.Conn
}

// Start launches a broker on a loopback port and stops it when the test ends.
func Start(t *testing.T) *Broker {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	b := &Broker{
		Addr:     listener.Addr().String(),
		listener: listener,
	}

	srv := &server.Server{HeartBeat: time.Second}
	go srv.Serve(listener)

	t.Cleanup(b.close)
	return b
}

// URL returns the broker endpoint for the raw TCP transport.
func (b *Broker) URL() string {
	return "tcp://" + b.Addr
}

// Publish sends body to destination through a shared publisher session.
func (b *Broker) Publish(t *testing.T, destination string, body []byte) {
	t.Helper()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.publisher == nil {
		conn, err := stomp.Dial("tcp", b.Addr)
		if err != nil {
			t.Fatalf("failed to connect publisher: %v", err)
		}
		b.publisher = conn
	}

	if err := b.publisher.Send(destination, "application/json", body); err != nil {
		t.Fatalf("failed to publish to %s: %v", destination, err)
	}
}

func (b *Broker) close() {
	b.mu.Lock()
	if b.publisher != nil {
		b.publisher.MustDisconnect()
		b.publisher = nil
	}
	b.mu.Unlock()

	b.listener.Close()
}

// WebSocketBridge serves "{base}/ws/websocket" and pipes each WebSocket session
// to a fresh TCP connection to the broker. The returned URL is the http
// endpoint ("http://host/ws") the client is configured with.
func (b *Broker) WebSocketBridge(t *testing.T) string {
	t.Helper()

	upgrader := websocket.Upgrader{
		Subprotocols: []string{"v12.stomp", "v11.stomp", "v10.stomp"},
		CheckOrigin:  func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/websocket", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		backend, err := net.Dial("tcp", b.Addr)
		if err != nil {
			return
		}
		defer backend.Close()

		go func() {
			defer ws.Close()
			buf := make([]byte, 4096)
			for {
				n, err := backend.Read(buf)
				if n > 0 {
					if werr := ws.WriteMessage(websocket.TextMessage, buf[:n]); werr != nil {
						return
					}
				}
				if err != nil {
					return
				}
			}
		}()

		for {
			_, r, err := ws.NextReader()
			if err != nil {
				return
			}
			if _, err := io.Copy(backend, r); err != nil {
				return
			}
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL + "/ws"
}
