package rollup

import (
	"testing"
	"time"
)

func TestKindFromTopic(t *testing.T) {
	cases := []struct {
		topic string
		want  Kind
		ok    bool
	}{
		{"booking.appointment.booked.v1", KindBooked, true},
		{"booking.appointment.confirmed.v1", KindConfirmed, true},
		{"booking.appointment.cancelled.v1", KindCancelled, true},
		{"booking.appointment.completed.v1", KindCompleted, true},
		{"billing.subscription.activated.v1", "", false},
	}
	for _, tc := range cases {
		got, ok := KindFromTopic(tc.topic)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("KindFromTopic(%q) = (%q, %v), want (%q, %v)", tc.topic, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseEvent(t *testing.T) {
	payload := []byte(`{
		"appointment_id": 33,
		"master_id": 42,
		"service_id": 7,
		"service_name": "Full groom",
		"price": 12000,
		"client_id": 900,
		"starts_at": "2026-03-02T12:30:00+05:00",
		"status": "completed"
	}`)
	evt, day, err := ParseEvent(payload)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.MasterID != 42 || evt.Price != 12000 {
		t.Fatalf("unexpected event: %+v", evt)
	}
	// 12:30 at +05:00 is 07:30 UTC, still March 2nd.
	if want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC); !day.Equal(want) {
		t.Fatalf("day = %v, want %v", day, want)
	}
}

func TestParseEventRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `{{`},
		{"missing master", `{"appointment_id": 1, "starts_at": "2026-03-02T12:00:00Z"}`},
		{"bad starts_at", `{"master_id": 42, "starts_at": "yesterday"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := ParseEvent([]byte(tc.payload)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
