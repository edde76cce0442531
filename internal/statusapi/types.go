package statusapi

import "github.com/rmacdonaldsmith/clinic-notify/internal/inbox"

// ListenerStatus describes one doctor registration of the daemon.
type ListenerStatus struct {
	DoctorID int64  `json:"doctorId"`
	Topic    string `json:"topic"`
	Enabled  bool   `json:"enabled"`
	State    string `json:"state"`
}

// HealthResponse is returned by GET /api/v1/health
type HealthResponse struct {
	Healthy   bool               `json:"healthy"`
	Listeners []ListenerStatus   `json:"listeners"`
	Inbox     []inbox.TopicStats `json:"inbox"`
	Message   string             `json:"message,omitempty"`
}

// NotificationsResponse is returned by GET /api/v1/doctors/{id}/notifications
type NotificationsResponse struct {
	DoctorID      int64         `json:"doctorId"`
	Topic         string        `json:"topic"`
	Notifications []inbox.Entry `json:"notifications"`
	StartOffset   int64         `json:"startOffset"`
	EndOffset     int64         `json:"endOffset"`
	Count         int           `json:"count"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
