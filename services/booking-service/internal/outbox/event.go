package outbox

// Appointment lifecycle topics. The Kafka topic name equals the event type.
const (
	EventAppointmentBooked    = "booking.appointment.booked.v1"
	EventAppointmentConfirmed = "booking.appointment.confirmed.v1"
	EventAppointmentCancelled = "booking.appointment.cancelled.v1"
	EventAppointmentCompleted = "booking.appointment.completed.v1"
)

// Event is the domain event envelope written to the outbox table in the same
// transaction as the state change it describes.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
