// Package statusclient is an HTTP client for the notifyd status API.
package statusclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rmacdonaldsmith/clinic-notify/internal/statusapi"
	"github.com/rmacdonaldsmith/clinic-notify/pkg/notification"
)

type (
	HealthResponse        = statusapi.HealthResponse
	NotificationsResponse = statusapi.NotificationsResponse
	ErrorResponse         = statusapi.ErrorResponse
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the status API (e.g., "http://localhost:8081")
	ServerURL string

	// Token is sent as a bearer token on inbox reads
	Token string

	// Timeout for HTTP requests
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Client provides HTTP client for the status API
type Client struct {
	config     Config
	httpClient *http.Client
	baseURL    *url.URL
}

// NewClient creates a new status API client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// GetHealth returns listener health. An unhealthy daemon is not an error.
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(ctx, "/api/v1/health", nil, &resp, http.StatusServiceUnavailable)
	if err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	return &resp, nil
}

// ReadNotifications reads a doctor's inbox starting at offset. A limit of 0
// uses the server default.
func (c *Client) ReadNotifications(ctx context.Context, doctorID notification.DoctorID, offset int64, limit int) (*NotificationsResponse, error) {
	path := fmt.Sprintf("/api/v1/doctors/%d/notifications", doctorID)
	query := url.Values{}
	if offset > 0 {
		query.Set("offset", strconv.FormatInt(offset, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp NotificationsResponse
	if err := c.doRequest(ctx, path, query, &resp); err != nil {
		return nil, fmt.Errorf("failed to read notifications: %w", err)
	}
	return &resp, nil
}

// doRequest performs a GET and decodes the JSON body. Status codes >= 400
// are errors unless listed in accept.
func (c *Client) doRequest(ctx context.Context, path string, query url.Values, respBody interface{}, accept ...int) error {
	u := &url.URL{Path: path}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	fullURL := c.baseURL.ResolveReference(u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 && !accepted(resp.StatusCode, accept) {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil || errResp.Message == "" {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(bodyBytes))
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Message)
	}

	if err := json.Unmarshal(bodyBytes, respBody); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func accepted(code int, accept []int) bool {
	for _, a := range accept {
		if a == code {
			return true
		}
	}
	return false
}
