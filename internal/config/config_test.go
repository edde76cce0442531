package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()

	assert.Equal(t, "http://localhost:8080/ws", c.Endpoint)
	assert.Equal(t, 5*time.Second, c.ReconnectDelay)
	assert.Equal(t, 10*time.Second, c.HeartBeat)
	assert.Equal(t, 100, c.Inbox.Capacity)
	assert.NoError(t, c.Validate())
}

func TestDecode(t *testing.T) {
	t.Run("full_document", func(t *testing.T) {
		doc := `
endpoint: https://clinic.example/ws
reconnect_delay: 2s
heartbeat: 30s
token: abc
jwt_secret: s3cret
doctors:
  - id: 42
  - id: 7
    enabled: false
http:
  listen: ":8081"
grpc:
  listen: ":9091"
inbox:
  capacity: 25
logging:
  level: debug
  development: true
`
		c, err := Decode(strings.NewReader(doc))
		require.NoError(t, err)

		assert.Equal(t, "https://clinic.example/ws", c.Endpoint)
		assert.Equal(t, 2*time.Second, c.ReconnectDelay)
		assert.Equal(t, 30*time.Second, c.HeartBeat)
		assert.Equal(t, "abc", c.Token)
		assert.Equal(t, "s3cret", c.JWTSecret)
		require.Len(t, c.Doctors, 2)
		assert.Equal(t, int64(42), c.Doctors[0].ID)
		assert.True(t, c.Doctors[0].IsEnabled())
		assert.False(t, c.Doctors[1].IsEnabled())
		assert.Equal(t, ":8081", c.HTTP.Listen)
		assert.Equal(t, ":9091", c.GRPC.Listen)
		assert.Equal(t, 25, c.Inbox.Capacity)
		assert.Equal(t, "debug", c.Logging.Level)
		assert.True(t, c.Logging.Development)
	})

	t.Run("rejects_unknown_keys", func(t *testing.T) {
		_, err := Decode(strings.NewReader("endpiont: http://typo\n"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid config")
	})

	t.Run("empty_document", func(t *testing.T) {
		c, err := Decode(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, c.Endpoint)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"valid", func(c *Config) { c.Doctors = []DoctorConfig{{ID: 1}, {ID: 2}} }, nil},
		{"zero_doctor_id", func(c *Config) { c.Doctors = []DoctorConfig{{ID: 0}} }, ErrInvalidDoctorID},
		{"duplicate_doctor_id", func(c *Config) { c.Doctors = []DoctorConfig{{ID: 3}, {ID: 3}} }, ErrDuplicateDoctorID},
		{"negative_capacity", func(c *Config) { c.Inbox.Capacity = -1 }, ErrInvalidInboxCapacity},
		{"negative_delay", func(c *Config) { c.ReconnectDelay = -time.Second }, ErrNegativeReconnectDelay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)

			err := c.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestConfig_ApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvEndpoint: "ws://broker:15674/ws",
		EnvToken:    "from-env",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	c := &Config{Endpoint: "http://file/ws", Token: "from-file"}
	c.ApplyEnv(lookup)

	assert.Equal(t, "ws://broker:15674/ws", c.Endpoint)
	assert.Equal(t, "from-env", c.Token)

	t.Run("empty_values_ignored", func(t *testing.T) {
		c := &Config{Endpoint: "http://file/ws"}
		c.ApplyEnv(func(string) (string, bool) { return "", true })
		assert.Equal(t, "http://file/ws", c.Endpoint)
	})
}

func TestLoad(t *testing.T) {
	t.Run("file_env_and_defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "notifyd.yaml")
		require.NoError(t, os.WriteFile(path, []byte("doctors:\n  - id: 42\n"), 0o600))
		t.Setenv(EnvEndpoint, "tcp://localhost:61613")

		c, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "tcp://localhost:61613", c.Endpoint)
		assert.Equal(t, 100, c.Inbox.Capacity)
		require.Len(t, c.Doctors, 1)
	})

	t.Run("no_file", func(t *testing.T) {
		t.Setenv(EnvEndpoint, "")
		c, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8080/ws", c.Endpoint)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid_file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("doctors:\n  - id: -1\n"), 0o600))

		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalidDoctorID)
	})
}
