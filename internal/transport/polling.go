package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
)

// PollingDialer opens SockJS xhr-polling sessions for environments where the
// WebSocket handshake is not possible. Inbound data is fetched with repeated
// POST {session}/xhr requests; outbound data is sent with POST {session}/xhr_send.
type PollingDialer struct {
	Header http.Header
	Client *http.Client
}

// Name returns "xhr-polling".
func (d *PollingDialer) Name() string {
	return "xhr-polling"
}

// Dial opens a SockJS session and waits for the server's open frame.
func (d *PollingDialer) Dial(ctx context.Context, endpoint *url.URL) (io.ReadWriteCloser, error) {
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, endpoint.Scheme)
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	serverID := fmt.Sprintf("%03d", rand.IntN(1000))
	sessionURL := endpoint.JoinPath(serverID, uuid.NewString())

	loopCtx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	conn := &pollingConn{
		client:     client,
		header:     d.Header,
		sessionURL: sessionURL,
		ctx:        loopCtx,
		cancel:     cancel,
		pr:         pr,
	}

	first, err := conn.poll(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	if first.kind != sockjsOpen {
		cancel()
		return nil, fmt.Errorf("expected SockJS open frame, got %q", first.kind)
	}

	go conn.receiveLoop(pw)
	return conn, nil
}

// pollingConn is the byte stream view of a SockJS xhr-polling session.
type pollingConn struct {
	client     *http.Client
	header     http.Header
	sessionURL *url.URL

	ctx    context.Context
	cancel context.CancelFunc

	pr        *io.PipeReader
	closeOnce sync.Once
}

func (c *pollingConn) Read(p []byte) (int, error) {
	return c.pr.Read(p)
}

func (c *pollingConn) Write(p []byte) (int, error) {
	body, err := json.Marshal([]string{string(p)})
	if err != nil {
		return 0, fmt.Errorf("failed to encode SockJS message: %w", err)
	}

	resp, err := c.post(c.ctx, "xhr_send", body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("xhr_send failed with status %d", resp.StatusCode)
	}
	return len(p), nil
}

func (c *pollingConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.pr.Close()
	})
	return nil
}

// receiveLoop polls until the session closes, feeding message payloads into pw.
func (c *pollingConn) receiveLoop(pw *io.PipeWriter) {
	for {
		f, err := c.poll(c.ctx)
		if err != nil {
			pw.CloseWithError(err)
			return
		}

		switch f.kind {
		case sockjsOpen, sockjsHeartbeat:
			continue
		case sockjsClose:
			pw.CloseWithError(&CloseError{Code: f.closeCode, Reason: f.closeReason})
			return
		case sockjsMessages:
			for _, m := range f.messages {
				if _, err := pw.Write([]byte(m)); err != nil {
					return
				}
			}
		}
	}
}

// poll issues one xhr request and parses the returned frame.
func (c *pollingConn) poll(ctx context.Context) (sockjsFrame, error) {
	resp, err := c.post(ctx, "xhr", nil)
	if err != nil {
		return sockjsFrame{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return sockjsFrame{}, fmt.Errorf("failed to read xhr response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return sockjsFrame{}, fmt.Errorf("xhr poll failed with status %d", resp.StatusCode)
	}
	return parseSockJSFrame(body)
}

func (c *pollingConn) post(ctx context.Context, suffix string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sessionURL.JoinPath(suffix).String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", suffix, err)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", suffix, err)
	}
	return resp, nil
}

// CloseError reports a SockJS close frame sent by the server.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("sockjs session closed: %d %s", e.Code, e.Reason)
}

type sockjsKind string

const (
	sockjsOpen      sockjsKind = "o"
	sockjsHeartbeat sockjsKind = "h"
	sockjsMessages  sockjsKind = "a"
	sockjsClose     sockjsKind = "c"
)

type sockjsFrame struct {
	kind        sockjsKind
	messages    []string
	closeCode   int
	closeReason string
}

var errEmptySockJSFrame = errors.New("empty SockJS frame")

// parseSockJSFrame decodes one SockJS frame: o, h, a[...], m"..." or c[code,"reason"].
func parseSockJSFrame(body []byte) (sockjsFrame, error) {
	body = bytes.TrimRight(body, "\r\n")
	if len(body) == 0 {
		return sockjsFrame{}, errEmptySockJSFrame
	}

	payload := body[1:]
	switch body[0] {
	case 'o':
		return sockjsFrame{kind: sockjsOpen}, nil
	case 'h':
		return sockjsFrame{kind: sockjsHeartbeat}, nil
	case 'a':
		var messages []string
		if err := json.Unmarshal(payload, &messages); err != nil {
			return sockjsFrame{}, fmt.Errorf("invalid SockJS message frame: %w", err)
		}
		return sockjsFrame{kind: sockjsMessages, messages: messages}, nil
	case 'm':
		var message string
		if err := json.Unmarshal(payload, &message); err != nil {
			return sockjsFrame{}, fmt.Errorf("invalid SockJS message frame: %w", err)
		}
		return sockjsFrame{kind: sockjsMessages, messages: []string{message}}, nil
	case 'c':
		var closeFrame []json.RawMessage
		if err := json.Unmarshal(payload, &closeFrame); err != nil || len(closeFrame) != 2 {
			return sockjsFrame{}, fmt.Errorf("invalid SockJS close frame: %q", body)
		}
		f := sockjsFrame{kind: sockjsClose}
		if err := json.Unmarshal(closeFrame[0], &f.closeCode); err != nil {
			return sockjsFrame{}, fmt.Errorf("invalid SockJS close code: %w", err)
		}
		if err := json.Unmarshal(closeFrame[1], &f.closeReason); err != nil {
			return sockjsFrame{}, fmt.Errorf("invalid SockJS close reason: %w", err)
		}
		return f, nil
	default:
		return sockjsFrame{}, fmt.Errorf("unknown SockJS frame type %q", body[0])
	}
}
