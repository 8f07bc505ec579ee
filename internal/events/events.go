// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events decodes broker message payloads into typed Order and
// Session events, normalizing timestamps to UTC.
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Kind identifies which of the two event variants a payload decoded to.
type Kind string

const (
	// KindOrder identifies an OrderEvent.
	KindOrder Kind = "order"
	// KindSession identifies a SessionEvent.
	KindSession Kind = "session"
)

// SessionEventType enumerates the allowed SessionEvent.EventType values.
type SessionEventType string

const (
	SessionView     SessionEventType = "view"
	SessionCheckout SessionEventType = "checkout"
	SessionPurchase SessionEventType = "purchase"
)

// OrderEvent is a single completed (or attempted) order.
type OrderEvent struct {
	EventID     string
	OrderID     string
	CustomerID  string
	Amount      float64
	Currency    string
	Channel     string
	EventTime   time.Time
	ReceivedAt  time.Time
	ProcessedAt time.Time
}

// SessionEvent is a single browsing-session lifecycle event.
type SessionEvent struct {
	EventID     string
	SessionID   string
	EventType   SessionEventType
	UserID      string
	Channel     string
	EventTime   time.Time
	ReceivedAt  time.Time
	ProcessedAt time.Time
}

// Event is the decoded tagged union. Exactly one of Order or Session is set,
// selected by Kind.
type Event struct {
	Kind    Kind
	Order   *OrderEvent
	Session *SessionEvent
}

// EventID returns the identifier shared by both variants, used for dedupe
// lookups and idempotent persistence.
func (e Event) EventID() string {
	if e.Order != nil {
		return e.Order.EventID
	}
	return e.Session.EventID
}

// EventTime returns the business timestamp shared by both variants, used for
// bucketing into the aggregates buffer.
func (e Event) EventTime() time.Time {
	if e.Order != nil {
		return e.Order.EventTime
	}
	return e.Session.EventTime
}

// ParseError classifies why a payload could not be decoded into an Event.
type ParseError struct {
	// Kind is one of "malformed_payload", "missing_field", "bad_enum".
	Kind    string
	Field   string
	Message string
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func malformed(msg string) *ParseError {
	return &ParseError{Kind: "malformed_payload", Message: msg}
}

func missingField(field string) *ParseError {
	return &ParseError{Kind: "missing_field", Field: field, Message: "required field is absent or empty"}
}

func badEnum(field, value string) *ParseError {
	return &ParseError{Kind: "bad_enum", Field: field, Message: fmt.Sprintf("unrecognized value %q", value)}
}

// orderWire and sessionWire mirror the JSON envelopes carried on the orders
// and sessions topics. Unknown extra fields are ignored by encoding/json
// (and goccy/go-json) by default; only the fields below are consulted.
type orderWire struct {
	EventID    string  `json:"event_id"`
	OrderID    string  `json:"order_id"`
	CustomerID string  `json:"customer_id"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	Channel    string  `json:"channel"`
	EventTime  string  `json:"event_time"`
	ReceivedAt string  `json:"received_at"`
}

type sessionWire struct {
	EventID    string `json:"event_id"`
	SessionID  string `json:"session_id"`
	EventType  string `json:"event_type"`
	UserID     string `json:"user_id"`
	Channel    string `json:"channel"`
	EventTime  string `json:"event_time"`
	ReceivedAt string `json:"received_at"`
}

// Parse decodes a raw broker payload for the given topic into an Event.
// topic must be "orders" or "sessions"; any other value is a caller bug and
// produces a malformed_payload error.
func Parse(topic string, payload []byte) (Event, error) {
	switch topic {
	case "orders":
		return parseOrder(payload)
	case "sessions":
		return parseSession(payload)
	default:
		return Event{}, malformed(fmt.Sprintf("unrecognized topic %q", topic))
	}
}

func parseOrder(payload []byte) (Event, error) {
	var w orderWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return Event{}, malformed(err.Error())
	}

	if w.EventID == "" {
		return Event{}, missingField("event_id")
	}
	if w.OrderID == "" {
		return Event{}, missingField("order_id")
	}
	if w.EventTime == "" {
		return Event{}, missingField("event_time")
	}
	if w.ReceivedAt == "" {
		return Event{}, missingField("received_at")
	}
	if w.Amount <= 0 {
		return Event{}, &ParseError{Kind: "missing_field", Field: "amount", Message: "amount must be positive"}
	}

	eventTime, err := parseTimestamp(w.EventTime)
	if err != nil {
		return Event{}, malformed(fmt.Sprintf("event_time: %v", err))
	}
	receivedAt, err := parseTimestamp(w.ReceivedAt)
	if err != nil {
		return Event{}, malformed(fmt.Sprintf("received_at: %v", err))
	}

	currency := w.Currency
	if currency == "" {
		currency = "USD"
	}

	return Event{
		Kind: KindOrder,
		Order: &OrderEvent{
			EventID:    w.EventID,
			OrderID:    w.OrderID,
			CustomerID: w.CustomerID,
			Amount:     w.Amount,
			Currency:   currency,
			Channel:    w.Channel,
			EventTime:  eventTime,
			ReceivedAt: receivedAt,
		},
	}, nil
}

func parseSession(payload []byte) (Event, error) {
	var w sessionWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return Event{}, malformed(err.Error())
	}

	if w.EventID == "" {
		return Event{}, missingField("event_id")
	}
	if w.SessionID == "" {
		return Event{}, missingField("session_id")
	}
	if w.EventTime == "" {
		return Event{}, missingField("event_time")
	}
	if w.ReceivedAt == "" {
		return Event{}, missingField("received_at")
	}

	eventType, err := parseSessionEventType(w.EventType)
	if err != nil {
		return Event{}, err
	}

	eventTime, err := parseTimestamp(w.EventTime)
	if err != nil {
		return Event{}, malformed(fmt.Sprintf("event_time: %v", err))
	}
	receivedAt, err := parseTimestamp(w.ReceivedAt)
	if err != nil {
		return Event{}, malformed(fmt.Sprintf("received_at: %v", err))
	}

	return Event{
		Kind: KindSession,
		Session: &SessionEvent{
			EventID:    w.EventID,
			SessionID:  w.SessionID,
			EventType:  eventType,
			UserID:     w.UserID,
			Channel:    w.Channel,
			EventTime:  eventTime,
			ReceivedAt: receivedAt,
		},
	}, nil
}

func parseSessionEventType(raw string) (SessionEventType, error) {
	if raw == "" {
		return "", missingField("event_type")
	}
	switch SessionEventType(raw) {
	case SessionView, SessionCheckout, SessionPurchase:
		return SessionEventType(raw), nil
	default:
		return "", badEnum("event_type", raw)
	}
}

// parseTimestamp accepts ISO-8601 strings with a trailing "Z" or an explicit
// offset. Naive timestamps (no offset at all) are treated as UTC. The
// returned instant always carries an explicit UTC offset.
func parseTimestamp(raw string) (time.Time, error) {
	if strings.HasSuffix(raw, "Z") {
		raw = strings.TrimSuffix(raw, "Z") + "+00:00"
	}

	for _, layout := range []string{
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp format %q", raw)
}
