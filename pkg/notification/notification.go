package notification

import (
	"encoding/json"
	"fmt"
	"time"
)

// Notification is a value delivered to a Handler: either an
// AppointmentNotification or, when the payload could not be decoded, a
// RawNotification.
type Notification interface {
	isNotification()
}

// Handler receives one Notification per inbound frame.
type Handler func(Notification)

// Reference is a denormalized snapshot of a patient or doctor record embedded in
// a notification. Only the id is interpreted; other attributes are kept as sent.
type Reference struct {
	ID    int64
	attrs map[string]json.RawMessage
}

// Attribute returns the raw JSON of an attribute other than "id".
func (r Reference) Attribute(name string) (json.RawMessage, bool) {
	v, ok := r.attrs[name]
	if !ok {
		return nil, false
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out, true
}

// UnmarshalJSON decodes the id and keeps any other attribute verbatim.
func (r *Reference) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var ref Reference
	if raw, ok := fields["id"]; ok {
		if err := json.Unmarshal(raw, &ref.ID); err != nil {
			return fmt.Errorf("id: %w", err)
		}
		delete(fields, "id")
	}
	if len(fields) > 0 {
		ref.attrs = fields
	}
	*r = ref
	return nil
}

// MarshalJSON writes the id followed by the retained attributes.
func (r Reference) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.attrs)+1)
	for k, v := range r.attrs {
		out[k] = v
	}
	id, err := json.Marshal(r.ID)
	if err != nil {
		return nil, err
	}
	out["id"] = id
	return json.Marshal(out)
}

// AppointmentNotification is the decoded payload published when an appointment
// is created or updated. It is a snapshot; it never changes after decoding.
type AppointmentNotification struct {
	Patient          Reference `json:"patient"`
	Doctor           Reference `json:"doctor"`
	AppointmentDate  string    `json:"appointmentDate"`
	PatientNote      string    `json:"patientNote"`
	DoctorNote       string    `json:"doctorNote"`
	ClinicRoom       string    `json:"clinicRoom"`
	AppointmentType  string    `json:"appointmentType"`
	NotificationSent bool      `json:"notificationSent"`
}

func (AppointmentNotification) isNotification() {}

// appointmentDateLayouts are tried in order by AppointmentTime.
var appointmentDateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	time.RFC3339Nano,
}

// AppointmentTime parses AppointmentDate. Dates without a zone are local
// wall-clock times and are returned in loc.
func (n AppointmentNotification) AppointmentTime(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range appointmentDateLayouts {
		if t, err := time.ParseInLocation(layout, n.AppointmentDate, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized appointment date %q", n.AppointmentDate)
}

// RawNotification carries the literal text of a payload that could not be decoded.
type RawNotification struct {
	Text string
}

func (RawNotification) isNotification() {}
