package notification

import (
	"fmt"
	"strconv"
)

// TopicPrefix is the broker destination prefix for per-doctor notification topics.
const TopicPrefix = "/topic/"

// DoctorID is the primary key of a doctor account.
type DoctorID = int64

// TopicKey returns the logical notification key for a doctor: "doctor/{id}".
func TopicKey(id DoctorID) string {
	return "doctor/" + strconv.FormatInt(id, 10)
}

// Topic returns the broker destination a doctor's notifications are routed to.
// The broker matches it exactly: "/topic/doctor/{id}".
func Topic(id DoctorID) string {
	return TopicPrefix + TopicKey(id)
}

// ParseDoctorID parses a decimal doctor identifier.
func ParseDoctorID(s string) (DoctorID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid doctor id %q: %w", s, err)
	}
	return id, nil
}
