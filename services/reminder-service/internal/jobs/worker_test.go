package jobs

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type fakeStore struct {
	reminders []Reminder
	listErr   error
	flipped   []string
	flipErr   error
}

func (f *fakeStore) ListUpcomingConfirmed(ctx context.Context, from, to time.Time) ([]Reminder, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.reminders, nil
}

func (f *fakeStore) SetReminderSent(ctx context.Context, appointmentID int64, kind ReminderKind) (bool, error) {
	if f.flipErr != nil {
		return false, f.flipErr
	}
	f.flipped = append(f.flipped, string(kind))
	return true, nil
}

type fakeSender struct {
	sent    []string
	sendErr error
}

func (f *fakeSender) Send(ctx context.Context, chatID int64, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func newTestWorker(store *fakeStore, sender *fakeSender, now time.Time) *Worker {
	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	w := NewWorker(store, sender, NoopLocker{}, logger, WorkerConfig{})
	w.now = func() time.Time { return now }
	return w
}

func reminderAt(start time.Time) Reminder {
	return Reminder{
		AppointmentID: 1,
		ClientID:      900,
		ClientName:    "Aigerim",
		PetName:       "Barsik",
		ServiceName:   "Full groom",
		SalonName:     "Pushistik",
		Timezone:      "UTC",
		StartsAt:      start,
	}
}

func TestFiveHourWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		start    time.Time
		wantSend bool
	}{
		{"exactly 5h", now.Add(5 * time.Hour), true},
		{"lower bound 4.5h", now.Add(4*time.Hour + 30*time.Minute), true},
		{"upper bound 5.5h", now.Add(5*time.Hour + 30*time.Minute), true},
		{"just below window", now.Add(4*time.Hour + 29*time.Minute), false},
		{"just above window", now.Add(5*time.Hour + 31*time.Minute), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeStore{reminders: []Reminder{reminderAt(tc.start)}}
			sender := &fakeSender{}
			w := newTestWorker(store, sender, now)

			if err := w.ProcessOnce(context.Background()); err != nil {
				t.Fatalf("ProcessOnce: %v", err)
			}
			if got := len(sender.sent) > 0; got != tc.wantSend {
				t.Fatalf("sent = %v, want %v", got, tc.wantSend)
			}
			if tc.wantSend && (len(store.flipped) != 1 || store.flipped[0] != "5h") {
				t.Fatalf("flipped = %v, want [5h]", store.flipped)
			}
		})
	}
}

func TestOneHourWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		start    time.Time
		wantSend bool
	}{
		{"exactly 1h", now.Add(time.Hour), true},
		{"lower bound 54m", now.Add(54 * time.Minute), true},
		{"upper bound 90m", now.Add(90 * time.Minute), true},
		{"too close", now.Add(50 * time.Minute), false},
		{"too far", now.Add(95 * time.Minute), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeStore{reminders: []Reminder{reminderAt(tc.start)}}
			sender := &fakeSender{}
			w := newTestWorker(store, sender, now)

			if err := w.ProcessOnce(context.Background()); err != nil {
				t.Fatalf("ProcessOnce: %v", err)
			}
			if got := len(sender.sent) > 0; got != tc.wantSend {
				t.Fatalf("sent = %v, want %v", got, tc.wantSend)
			}
		})
	}
}

func TestAlreadySentFlagSkips(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	rem := reminderAt(now.Add(5 * time.Hour))
	rem.Reminder5hSent = true

	store := &fakeStore{reminders: []Reminder{rem}}
	sender := &fakeSender{}
	w := newTestWorker(store, sender, now)

	if err := w.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("sent %d messages, want 0", len(sender.sent))
	}
}

func TestSendFailureKeepsFlagUnset(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	store := &fakeStore{reminders: []Reminder{reminderAt(now.Add(5 * time.Hour))}}
	sender := &fakeSender{sendErr: errors.New("telegram down")}
	w := newTestWorker(store, sender, now)

	if err := w.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if len(store.flipped) != 0 {
		t.Fatalf("flipped = %v, want none after failed send", store.flipped)
	}
}

func TestFailureIsolation(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	broken := reminderAt(now.Add(5 * time.Hour))
	broken.AppointmentID = 1
	broken.ClientID = 0 // fake sender fails on this one below
	healthy := reminderAt(now.Add(5 * time.Hour))
	healthy.AppointmentID = 2

	store := &fakeStore{reminders: []Reminder{broken, healthy}}
	sender := &selectiveSender{failChat: 0}
	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	w := NewWorker(store, sender, NoopLocker{}, logger, WorkerConfig{})
	w.now = func() time.Time { return now }

	if err := w.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if sender.delivered != 1 {
		t.Fatalf("delivered = %d, want 1", sender.delivered)
	}
	if len(store.flipped) != 1 {
		t.Fatalf("flipped = %v, want exactly one", store.flipped)
	}
}

type selectiveSender struct {
	failChat  int64
	delivered int
}

func (s *selectiveSender) Send(ctx context.Context, chatID int64, text string) error {
	if chatID == s.failChat {
		return errors.New("chat unreachable")
	}
	s.delivered++
	return nil
}

func TestBothWindowsIndependent(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	five := reminderAt(now.Add(5 * time.Hour))
	five.AppointmentID = 1
	one := reminderAt(now.Add(time.Hour))
	one.AppointmentID = 2

	store := &fakeStore{reminders: []Reminder{five, one}}
	sender := &fakeSender{}
	w := newTestWorker(store, sender, now)

	if err := w.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("sent = %d, want 2", len(sender.sent))
	}
	if len(store.flipped) != 2 || store.flipped[0] != "5h" || store.flipped[1] != "1h" {
		t.Fatalf("flipped = %v, want [5h 1h]", store.flipped)
	}
}

func TestReminderTextUsesMasterTimezone(t *testing.T) {
	rem := reminderAt(time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC))
	rem.Timezone = "UTC"
	text := reminderText(rem, Reminder1h)
	if want := "02.03.2026 07:00"; !strings.Contains(text, want) {
		t.Fatalf("text %q does not contain %q", text, want)
	}
}

func TestReminderTextEscapesUserContent(t *testing.T) {
	rem := reminderAt(time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC))
	rem.ServiceName = "Trim <deluxe>"
	rem.PetName = "<Rex & Co>"
	rem.SalonName = `<a href="x">Salon</a>`

	text := reminderText(rem, Reminder1h)
	for _, raw := range []string{"<deluxe>", "<Rex", "<a href"} {
		if strings.Contains(text, raw) {
			t.Fatalf("text %q contains unescaped %q", text, raw)
		}
	}
	if !strings.Contains(text, "&lt;Rex &amp; Co&gt;") {
		t.Fatalf("text %q missing escaped pet name", text)
	}
	// The template's own markup must survive escaping of the fields.
	if !strings.Contains(text, "<b>Reminder</b>") {
		t.Fatalf("text %q lost template markup", text)
	}
}

func TestReminderLocationFallsBackToDefaultZone(t *testing.T) {
	want, err := time.LoadLocation(defaultTimezone)
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	if got := reminderLocation("Not/AZone"); got.String() != want.String() {
		t.Fatalf("location = %v, want %v", got, want)
	}
}
