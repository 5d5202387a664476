package rollup

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is one appointment lifecycle transition.
type Kind string

const (
	KindBooked    Kind = "booked"
	KindConfirmed Kind = "confirmed"
	KindCancelled Kind = "cancelled"
	KindCompleted Kind = "completed"
)

var topicKinds = map[string]Kind{
	"booking.appointment.booked.v1":    KindBooked,
	"booking.appointment.confirmed.v1": KindConfirmed,
	"booking.appointment.cancelled.v1": KindCancelled,
	"booking.appointment.completed.v1": KindCompleted,
}

// Topics lists every lifecycle topic the analytics consumer subscribes to.
func Topics() []string {
	out := make([]string, 0, len(topicKinds))
	for t := range topicKinds {
		out = append(out, t)
	}
	return out
}

func KindFromTopic(topic string) (Kind, bool) {
	k, ok := topicKinds[topic]
	return k, ok
}

// AppointmentEvent is the payload shape shared by all lifecycle topics.
type AppointmentEvent struct {
	AppointmentID int64   `json:"appointment_id"`
	MasterID      int64   `json:"master_id"`
	ServiceID     int64   `json:"service_id"`
	ServiceName   string  `json:"service_name"`
	Price         float64 `json:"price"`
	ClientID      int64   `json:"client_id"`
	StartsAt      string  `json:"starts_at"`
	Status        string  `json:"status"`
}

// ParseEvent validates the fields the rollup depends on and resolves the
// appointment's UTC calendar day.
func ParseEvent(payload []byte) (AppointmentEvent, time.Time, error) {
	var evt AppointmentEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return AppointmentEvent{}, time.Time{}, err
	}
	if evt.MasterID <= 0 {
		return AppointmentEvent{}, time.Time{}, fmt.Errorf("missing master_id")
	}
	startsAt, err := time.Parse(time.RFC3339, evt.StartsAt)
	if err != nil {
		return AppointmentEvent{}, time.Time{}, fmt.Errorf("invalid starts_at: %w", err)
	}
	day := startsAt.UTC().Truncate(24 * time.Hour)
	return evt, day, nil
}
