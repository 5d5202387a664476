package model

import "time"

// Appointment statuses. Cancelled rows are retained for history; every
// double-booking check must exclude them explicitly.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

type Master struct {
	TelegramID  int64
	Username    string
	FullName    string
	SalonName   string
	Phone       string
	Address     string
	Description string
	AvatarURL   string
	Timezone    string
	IsPremium   bool
	CreatedAt   time.Time
}

type Service struct {
	ID              int64
	MasterID        int64
	Name            string
	Description     string
	Price           float64
	DurationMinutes int
	IsActive        bool
	CreatedAt       time.Time
}

type WorkingHourRule struct {
	ID          int64
	MasterID    int64
	DayOfWeek   int // ISO, Monday=1
	StartMinute int
	EndMinute   int
	SlotMinutes int
}

type Appointment struct {
	ID             int64
	MasterID       int64
	ServiceID      int64
	ClientID       int64
	ClientUsername string
	ClientName     string
	ClientPhone    string
	PetName        string
	PetBreed       string
	Comment        string
	StartsAt       time.Time
	Status         string
	Reminder5hSent bool
	Reminder1hSent bool
	IdempotencyKey string
	CreatedAt      time.Time

	// ServiceName and ServicePrice are populated on reads that join the
	// service row.
	ServiceName  string
	ServicePrice float64
}
