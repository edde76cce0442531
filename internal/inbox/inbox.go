// Package inbox keeps a bounded, per-doctor log of delivered notifications.
package inbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/clinic-notify/pkg/notification"
)

// DefaultCapacity is the number of entries kept per doctor when unset.
const DefaultCapacity = 100

var (
	// ErrNegativeOffset is returned when a negative offset is provided
	ErrNegativeOffset = errors.New("offset cannot be negative")
	// ErrNegativeMaxCount is returned when a negative max count is provided
	ErrNegativeMaxCount = errors.New("max count cannot be negative")
	// ErrNilNotification is returned when a nil notification is appended
	ErrNilNotification = errors.New("notification cannot be nil")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("inbox closed")
)

// Kinds of Entry.
const (
	KindAppointment = "appointment"
	KindRaw         = "raw"
)

// Entry is one delivered notification with its position in the doctor's log.
type Entry struct {
	Offset      int64                                 `json:"offset"`
	Topic       string                                `json:"topic"`
	ReceivedAt  time.Time                             `json:"receivedAt"`
	Kind        string                                `json:"kind"`
	Appointment *notification.AppointmentNotification `json:"appointment,omitempty"`
	Raw         string                                `json:"raw,omitempty"`
}

// Notification returns the delivered value.
func (e Entry) Notification() notification.Notification {
	if e.Appointment != nil {
		return *e.Appointment
	}
	return notification.RawNotification{Text: e.Raw}
}

// Inbox is a topic-partitioned in-memory log. Each doctor topic has its own
// offset sequence starting at 0; only the newest Capacity entries are kept.
// It is safe for concurrent use.
type Inbox struct {
	mu                sync.RWMutex
	capacity          int
	entriesByTopic    map[string][]Entry
	nextOffsetByTopic map[string]int64
	closed            bool
}

// New creates an Inbox keeping capacity entries per doctor.
func New(capacity int) *Inbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Inbox{
		capacity:          capacity,
		entriesByTopic:    make(map[string][]Entry),
		nextOffsetByTopic: make(map[string]int64),
	}
}

// Append records n for doctorID and returns the stored entry.
func (i *Inbox) Append(ctx context.Context, doctorID notification.DoctorID, n notification.Notification) (Entry, error) {
	if n == nil {
		return Entry{}, ErrNilNotification
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	topic := notification.TopicKey(doctorID)
	entry := Entry{Topic: topic, ReceivedAt: time.Now().UTC()}
	switch v := n.(type) {
	case notification.AppointmentNotification:
		entry.Kind = KindAppointment
		entry.Appointment = &v
	case notification.RawNotification:
		entry.Kind = KindRaw
		entry.Raw = v.Text
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return Entry{}, ErrClosed
	}

	entry.Offset = i.nextOffsetByTopic[topic]
	entries := append(i.entriesByTopic[topic], entry)
	if over := len(entries) - i.capacity; over > 0 {
		entries = append([]Entry(nil), entries[over:]...)
	}
	i.entriesByTopic[topic] = entries
	i.nextOffsetByTopic[topic]++

	return entry, nil
}

// Read returns up to maxCount entries for doctorID starting at startOffset.
// Offsets that were evicted are skipped.
func (i *Inbox) Read(ctx context.Context, doctorID notification.DoctorID, startOffset int64, maxCount int) ([]Entry, error) {
	if startOffset < 0 {
		return nil, ErrNegativeOffset
	}
	if maxCount < 0 {
		return nil, ErrNegativeMaxCount
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	results := make([]Entry, 0, min(maxCount, i.capacity))
	if maxCount == 0 {
		return results, nil
	}

	for _, e := range i.entriesByTopic[notification.TopicKey(doctorID)] {
		if e.Offset < startOffset {
			continue
		}
		results = append(results, e)
		if len(results) >= maxCount {
			break
		}
	}
	return results, nil
}

// EndOffset returns the next offset that will be assigned for doctorID.
func (i *Inbox) EndOffset(ctx context.Context, doctorID notification.DoctorID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.nextOffsetByTopic[notification.TopicKey(doctorID)], nil
}

// TopicStats summarizes one doctor topic.
type TopicStats struct {
	Topic     string `json:"topic"`
	Retained  int    `json:"retained"`
	EndOffset int64  `json:"endOffset"`
}

// Stats returns per-topic counters sorted by topic.
func (i *Inbox) Stats() []TopicStats {
	i.mu.RLock()
	defer i.mu.RUnlock()

	stats := make([]TopicStats, 0, len(i.nextOffsetByTopic))
	for topic, next := range i.nextOffsetByTopic {
		stats = append(stats, TopicStats{
			Topic:     topic,
			Retained:  len(i.entriesByTopic[topic]),
			EndOffset: next,
		})
	}
	sort.Slice(stats, func(a, b int) bool { return stats[a].Topic < stats[b].Topic })
	return stats
}

// Close clears every topic. Later appends fail with ErrClosed.
func (i *Inbox) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	i.entriesByTopic = make(map[string][]Entry)
	i.nextOffsetByTopic = make(map[string]int64)
	i.closed = true
	return nil
}
