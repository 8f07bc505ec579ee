// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"testing"
	"time"
)

func TestParseOrderHappyPath(t *testing.T) {
	payload := []byte(`{
		"event_id": "e1", "order_id": "o1", "amount": 100.0,
		"event_time": "2026-02-03T10:15:30Z",
		"received_at": "2026-02-03T10:15:31Z"
	}`)

	event, err := Parse("orders", payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if event.Kind != KindOrder {
		t.Fatalf("Kind = %v, want order", event.Kind)
	}
	if event.Order.Currency != "USD" {
		t.Errorf("Currency default = %q, want USD", event.Order.Currency)
	}
	want := time.Date(2026, 2, 3, 10, 15, 30, 0, time.UTC)
	if !event.Order.EventTime.Equal(want) {
		t.Errorf("EventTime = %v, want %v", event.Order.EventTime, want)
	}
	if event.Order.EventTime.Location() != time.UTC {
		t.Errorf("EventTime location = %v, want UTC", event.Order.EventTime.Location())
	}
}

func TestParseOrderExplicitOffsetNormalizedToUTC(t *testing.T) {
	payload := []byte(`{
		"event_id": "e1", "order_id": "o1", "amount": 100.0,
		"event_time": "2026-02-03T05:15:30-05:00",
		"received_at": "2026-02-03T05:15:31-05:00"
	}`)

	event, err := Parse("orders", payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := time.Date(2026, 2, 3, 10, 15, 30, 0, time.UTC)
	if !event.Order.EventTime.Equal(want) {
		t.Errorf("EventTime = %v, want %v", event.Order.EventTime, want)
	}
}

func TestParseOrderNaiveTimestampTreatedAsUTC(t *testing.T) {
	payload := []byte(`{
		"event_id": "e1", "order_id": "o1", "amount": 100.0,
		"event_time": "2026-02-03T10:15:30",
		"received_at": "2026-02-03T10:15:31"
	}`)

	event, err := Parse("orders", payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := time.Date(2026, 2, 3, 10, 15, 30, 0, time.UTC)
	if !event.Order.EventTime.Equal(want) {
		t.Errorf("EventTime = %v, want %v (naive treated as UTC)", event.Order.EventTime, want)
	}
}

func TestParseOrderMissingFieldFails(t *testing.T) {
	payload := []byte(`{"order_id": "o1", "amount": 100.0, "event_time": "2026-02-03T10:15:30Z", "received_at": "2026-02-03T10:15:31Z"}`)

	_, err := Parse("orders", payload)
	if err == nil {
		t.Fatal("expected MissingField error")
	}
	var parseErr *ParseError
	if !asParseError(err, &parseErr) {
		t.Fatalf("error is not *ParseError: %v", err)
	}
	if parseErr.Kind != "missing_field" || parseErr.Field != "event_id" {
		t.Errorf("got %+v, want missing_field/event_id", parseErr)
	}
}

func TestParseOrderNonPositiveAmountFails(t *testing.T) {
	payload := []byte(`{"event_id":"e1","order_id":"o1","amount":0,"event_time":"2026-02-03T10:15:30Z","received_at":"2026-02-03T10:15:31Z"}`)
	if _, err := Parse("orders", payload); err == nil {
		t.Fatal("expected error for non-positive amount")
	}
}

func TestParseOrderMalformedJSONFails(t *testing.T) {
	_, err := Parse("orders", []byte(`{not json`))
	if err == nil {
		t.Fatal("expected MalformedPayload error")
	}
	var parseErr *ParseError
	if !asParseError(err, &parseErr) || parseErr.Kind != "malformed_payload" {
		t.Fatalf("got %v, want malformed_payload", err)
	}
}

func TestParseSessionHappyPath(t *testing.T) {
	payload := []byte(`{
		"event_id": "e3", "session_id": "s1", "event_type": "checkout",
		"event_time": "2026-02-03T10:16:05Z",
		"received_at": "2026-02-03T10:16:06Z"
	}`)

	event, err := Parse("sessions", payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if event.Session.EventType != SessionCheckout {
		t.Errorf("EventType = %v, want checkout", event.Session.EventType)
	}
}

func TestParseSessionBadEnumFails(t *testing.T) {
	payload := []byte(`{
		"event_id": "e3", "session_id": "s1", "event_type": "refund",
		"event_time": "2026-02-03T10:16:05Z",
		"received_at": "2026-02-03T10:16:06Z"
	}`)

	_, err := Parse("sessions", payload)
	var parseErr *ParseError
	if !asParseError(err, &parseErr) || parseErr.Kind != "bad_enum" {
		t.Fatalf("got %v, want bad_enum", err)
	}
}

func TestParseUnrecognizedTopicFails(t *testing.T) {
	if _, err := Parse("widgets", []byte(`{}`)); err == nil {
		t.Fatal("expected malformed_payload for unrecognized topic")
	}
}

func TestEventIDAndEventTimeAccessors(t *testing.T) {
	order := Event{Kind: KindOrder, Order: &OrderEvent{EventID: "e1", EventTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}}
	if order.EventID() != "e1" {
		t.Errorf("EventID = %q, want e1", order.EventID())
	}
	if want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC); !order.EventTime().Equal(want) {
		t.Errorf("EventTime = %v, want %v", order.EventTime(), want)
	}

	session := Event{Kind: KindSession, Session: &SessionEvent{EventID: "e2", EventTime: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}}
	if session.EventID() != "e2" {
		t.Errorf("EventID = %q, want e2", session.EventID())
	}
	if want := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC); !session.EventTime().Equal(want) {
		t.Errorf("EventTime = %v, want %v", session.EventTime(), want)
	}
}

func asParseError(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if !ok {
		return false
	}
	*target = pe
	return true
}
