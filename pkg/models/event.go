package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventTimeLayout is the wire format for interaction timestamps: UTC,
// second precision, microseconds zeroed.
const EventTimeLayout = "2006-01-02 15:04:05"

const (
	EventView     = "view"
	EventCart     = "cart"
	EventPurchase = "purchase"
)

// ValidEventType reports whether t is one of the three interaction literals.
func ValidEventType(t string) bool {
	return t == EventView || t == EventCart || t == EventPurchase
}

// EventTime wraps time.Time with the wire encoding "YYYY-MM-DD HH:MM:SS".
// Values are always normalized to UTC with sub-second precision dropped.
type EventTime struct {
	time.Time
}

// NewEventTime normalizes t to UTC second precision.
func NewEventTime(t time.Time) EventTime {
	return EventTime{t.UTC().Truncate(time.Second)}
}

func (t EventTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(EventTimeLayout))
}

func (t *EventTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("event_time must be a string: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.ParseInLocation(EventTimeLayout, s, time.UTC)
	if err != nil {
		return fmt.Errorf("event_time must be formatted %q: %w", EventTimeLayout, err)
	}
	t.Time = parsed
	return nil
}

// EventCreate is the admission request body. UserID may be omitted when the
// caller authenticates with a bearer token; the token identity wins either way.
type EventCreate struct {
	EventTime   *EventTime `json:"event_time,omitempty"`
	EventType   string     `json:"event_type" validate:"required,oneof=view cart purchase"`
	ProductID   int64      `json:"product_id" validate:"required,gt=0"`
	UserID      *int64     `json:"user_id,omitempty"`
	UserSession string     `json:"user_session" validate:"required"`
}

type EventBatchCreate struct {
	Events []EventCreate `json:"events" validate:"required,min=1,dive"`
}

// Envelope is the broker wire format. Retry bookkeeping fields are absent on
// first publish and filled in by projector workers on requeue.
type Envelope struct {
	EventTime   EventTime  `json:"event_time"`
	EventType   string     `json:"event_type"`
	ProductID   int64      `json:"product_id"`
	UserID      *int64     `json:"user_id,omitempty"`
	UserSession string     `json:"user_session"`
	PublishedAt *time.Time `json:"published_at,omitempty"`

	RetryCount  int        `json:"retry_count,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`
	FinalError  string     `json:"final_error,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
}

// EventAck is returned by single-event admission.
type EventAck struct {
	Message string   `json:"message"`
	Data    Envelope `json:"data"`
}

// EventBatchAck is returned by batch admission.
type EventBatchAck struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
	Skipped int    `json:"skipped,omitempty"`
}
