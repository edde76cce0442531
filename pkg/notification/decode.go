package notification

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotObject is returned by Decode when the payload is valid JSON but not an object.
var ErrNotObject = errors.New("payload is not a JSON object")

// Decode parses a frame body into an AppointmentNotification. Unknown fields are
// ignored. When the body cannot be parsed, Decode returns a RawNotification
// wrapping the original text together with the parse error; the returned
// Notification is never nil.
func Decode(raw []byte) (Notification, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		if json.Valid(trimmed) {
			return RawNotification{Text: string(raw)}, ErrNotObject
		}
		return RawNotification{Text: string(raw)}, fmt.Errorf("decode notification: invalid JSON")
	}

	var n AppointmentNotification
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return RawNotification{Text: string(raw)}, fmt.Errorf("decode notification: %w", err)
	}
	return n, nil
}
