package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/clinic-notify/internal/brokertest"
	"github.com/rmacdonaldsmith/clinic-notify/internal/inbox"
	"github.com/rmacdonaldsmith/clinic-notify/internal/statusapi"
	"github.com/rmacdonaldsmith/clinic-notify/pkg/notification"
)

const scenarioPayload = `{"patient":{"id":1},"doctor":{"id":42},"appointmentDate":"2025-01-01T10:00:00","patientNote":"","doctorNote":"","clinicRoom":"101","appointmentType":"KHAM_TONG_QUAT","notificationSent":false}`

// syncBuffer is a bytes.Buffer safe for a writer and a concurrent reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	err := cmd.Execute()
	return out.String(), err
}

func TestDecodeCommand(t *testing.T) {
	t.Run("appointment", func(t *testing.T) {
		out, err := execute(t, "", "decode", scenarioPayload)
		require.NoError(t, err)

		var result decodeResult
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		assert.Equal(t, "appointment", result.Kind)
		assert.Equal(t, "/topic/doctor/42", result.Topic)
		require.NotNil(t, result.Appointment)
		assert.Equal(t, "KHAM_TONG_QUAT", result.Appointment.AppointmentType)
		assert.Empty(t, result.Error)
	})

	t.Run("malformed_from_stdin", func(t *testing.T) {
		out, err := execute(t, "not-json\n", "decode")
		require.NoError(t, err)

		var result decodeResult
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		assert.Equal(t, "raw", result.Kind)
		assert.Equal(t, "not-json", result.Raw)
		assert.NotEmpty(t, result.Error)
	})
}

func TestTokenCommands(t *testing.T) {
	t.Run("issue_then_inspect", func(t *testing.T) {
		var out bytes.Buffer
		cmd := newRootCommand()
		cmd.SetArgs([]string{"token", "issue", "--doctor-id", "42", "--secret", "s3cret", "--ttl", "1h"})
		cmd.SetOut(&out)
		cmd.SetErr(&bytes.Buffer{})
		require.NoError(t, cmd.Execute())

		signed := strings.TrimSpace(out.String())
		require.NotEmpty(t, signed)

		inspected, err := execute(t, "", "token", "inspect", signed, "--secret", "s3cret")
		require.NoError(t, err)
		assert.Contains(t, inspected, "Doctor ID: 42")
		assert.Contains(t, inspected, "Role:      DOCTOR")
		assert.Contains(t, inspected, "Signature: verified")
	})

	t.Run("inspect_rejects_wrong_secret", func(t *testing.T) {
		var out bytes.Buffer
		cmd := newRootCommand()
		cmd.SetArgs([]string{"token", "issue", "--doctor-id", "42", "--secret", "s3cret"})
		cmd.SetOut(&out)
		cmd.SetErr(&bytes.Buffer{})
		require.NoError(t, cmd.Execute())

		_, err := execute(t, "", "token", "inspect", strings.TrimSpace(out.String()), "--secret", "other")
		assert.Error(t, err)
	})

	t.Run("issue_requires_secret", func(t *testing.T) {
		_, err := execute(t, "", "token", "issue", "--doctor-id", "42")
		assert.Error(t, err)
	})
}

func TestPublishPayload(t *testing.T) {
	t.Run("data_flag", func(t *testing.T) {
		body, err := publishPayload(strings.NewReader(""), 42, "hello", "", false)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(body))
	})

	t.Run("stdin", func(t *testing.T) {
		body, err := publishPayload(strings.NewReader(scenarioPayload), 42, "", "-", false)
		require.NoError(t, err)
		assert.Equal(t, scenarioPayload, string(body))
	})

	t.Run("empty_stdin", func(t *testing.T) {
		_, err := publishPayload(strings.NewReader(""), 42, "", "", false)
		assert.Error(t, err)
	})

	t.Run("sample_decodes_for_doctor", func(t *testing.T) {
		at := time.Date(2025, 1, 1, 10, 0, 0, 0, time.Local)
		body, err := sampleAppointment(42, at)
		require.NoError(t, err)

		n, err := notification.Decode(body)
		require.NoError(t, err)
		appt, ok := n.(notification.AppointmentNotification)
		require.True(t, ok)
		assert.Equal(t, int64(42), appt.Doctor.ID)
		assert.Equal(t, "2025-01-01T10:00:00", appt.AppointmentDate)
	})
}

func TestPublishCommand(t *testing.T) {
	broker := brokertest.Start(t)

	conn, err := stomp.Dial("tcp", broker.Addr)
	require.NoError(t, err)
	defer conn.MustDisconnect()

	sub, err := conn.Subscribe("/topic/doctor/42", stomp.AckAuto)
	require.NoError(t, err)

	var received *stomp.Message
	require.Eventually(t, func() bool {
		_, err := execute(t, "", "publish", "--endpoint", broker.URL(), "--doctor-id", "42", "--data", scenarioPayload)
		require.NoError(t, err)

		select {
		case msg := <-sub.C:
			received = msg
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 10*time.Millisecond)

	require.NoError(t, received.Err)
	assert.Equal(t, scenarioPayload, string(received.Body))
	assert.Equal(t, "/topic/doctor/42", received.Destination)
}

func TestListenCommand(t *testing.T) {
	broker := brokertest.Start(t)

	var out, errOut syncBuffer
	cmd := newRootCommand()
	cmd.SetArgs([]string{"listen", "--endpoint", broker.URL(), "--doctor-id", "42", "--count", "1"})
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(context.Background()) }()

	// publish until the listener's subscription is live and it exits
	require.Eventually(t, func() bool {
		select {
		case err := <-done:
			require.NoError(t, err)
			return true
		default:
			broker.Publish(t, "/topic/doctor/42", []byte(scenarioPayload))
			return false
		}
	}, 10*time.Second, 50*time.Millisecond)

	assert.Contains(t, out.String(), "[1] appointment")
	assert.Contains(t, out.String(), `"appointmentType":"KHAM_TONG_QUAT"`)
	assert.Contains(t, errOut.String(), "subscribed")
	assert.Contains(t, errOut.String(), "Received 1 notifications")
}

func TestListenCommand_RequiresDoctor(t *testing.T) {
	_, err := execute(t, "", "listen", "--token", "")
	assert.Error(t, err)
}

func TestStatusCommands(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/health":
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(statusapi.HealthResponse{
				Healthy: false,
				Listeners: []statusapi.ListenerStatus{
					{DoctorID: 42, Topic: "doctor/42", Enabled: true, State: "connecting"},
				},
				Inbox:   []inbox.TopicStats{{Topic: "doctor/42", Retained: 2, EndOffset: 2}},
				Message: "1 listener not subscribed",
			})
		case "/api/v1/doctors/42/notifications":
			assert.Equal(t, "5", r.URL.Query().Get("offset"))
			json.NewEncoder(w).Encode(statusapi.NotificationsResponse{
				DoctorID:    42,
				Topic:       "doctor/42",
				StartOffset: 5,
				EndOffset:   5,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	t.Run("status", func(t *testing.T) {
		out, err := execute(t, "", "status", "--server", server.URL)
		require.NoError(t, err)
		assert.Contains(t, out, "❌ Unhealthy")
		assert.Contains(t, out, "doctor/42")
		assert.Contains(t, out, "connecting")
		assert.Contains(t, out, "retained=2")
	})

	t.Run("inbox", func(t *testing.T) {
		out, err := execute(t, "", "inbox", "--server", server.URL, "--doctor-id", "42", "--offset", "5")
		require.NoError(t, err)

		var resp statusapi.NotificationsResponse
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, int64(42), resp.DoctorID)
		assert.Equal(t, int64(5), resp.StartOffset)
	})
}
