package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vkovalenko/groomly/libs/telegram"
)

// Store is implemented by Repository; faked in tests.
type Store interface {
	ListUpcomingConfirmed(ctx context.Context, from, to time.Time) ([]Reminder, error)
	SetReminderSent(ctx context.Context, appointmentID int64, kind ReminderKind) (bool, error)
}

// Locker serializes worker passes across replicas. Acquire returns false when
// another replica holds the lock for this tick.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type Worker struct {
	store       Store
	notifier    telegram.Sender
	locker      Locker
	logger      *slog.Logger
	interval    time.Duration
	sendTimeout time.Duration
	now         func() time.Time
}

type WorkerConfig struct {
	Interval    time.Duration
	SendTimeout time.Duration
}

func NewWorker(store Store, notifier telegram.Sender, locker Locker, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	return &Worker{
		store:       store,
		notifier:    notifier,
		locker:      locker,
		logger:      logger,
		interval:    cfg.Interval,
		sendTimeout: cfg.SendTimeout,
		now:         time.Now,
	}
}

const lockKey = "reminders:run"

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := w.locker.Acquire(ctx, lockKey, w.interval-5*time.Second)
			if err != nil {
				w.logger.Warn("reminder lock unavailable, proceeding", "err", err)
			} else if !ok {
				continue
			}
			if err := w.ProcessOnce(ctx); err != nil {
				w.logger.Error("reminder pass failed", "err", err)
			}
		}
	}
}

// Sending windows around the nominal 5h and 1h marks. A worker that was down
// for a few minutes still catches the reminder on its next pass, and an
// appointment booked inside a window gets its reminder immediately.
const (
	window5hMin = 4.5
	window5hMax = 5.5
	window1hMin = 0.9
	window1hMax = 1.5
)

// ProcessOnce runs one reminder pass. Failures are isolated per appointment:
// one unreachable chat never blocks the rest of the batch. The sent-flag is
// flipped only after a successful send, so a crash between send and flip can
// at worst repeat one message, never lose one.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	now := w.now()
	reminders, err := w.store.ListUpcomingConfirmed(ctx, now, now.Add(24*time.Hour))
	if err != nil {
		return err
	}

	for _, rem := range reminders {
		hours := rem.StartsAt.Sub(now).Hours()

		if !rem.Reminder5hSent && hours >= window5hMin && hours <= window5hMax {
			w.send(ctx, rem, Reminder5h)
		}
		if !rem.Reminder1hSent && hours >= window1hMin && hours <= window1hMax {
			w.send(ctx, rem, Reminder1h)
		}
	}
	return nil
}

func (w *Worker) send(ctx context.Context, rem Reminder, kind ReminderKind) {
	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()

	if err := w.notifier.Send(sendCtx, rem.ClientID, reminderText(rem, kind)); err != nil {
		w.logger.Warn("reminder send failed", "err", err, "appointment_id", rem.AppointmentID, "kind", string(kind))
		return
	}

	flipped, err := w.store.SetReminderSent(ctx, rem.AppointmentID, kind)
	if err != nil {
		w.logger.Error("reminder flag update failed", "err", err, "appointment_id", rem.AppointmentID, "kind", string(kind))
		return
	}
	if flipped {
		w.logger.Info("reminder sent", "appointment_id", rem.AppointmentID, "kind", string(kind))
	}
}

const defaultTimezone = "Asia/Almaty"

func reminderLocation(name string) *time.Location {
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	if loc, err := time.LoadLocation(defaultTimezone); err == nil {
		return loc
	}
	return time.UTC
}

func reminderText(rem Reminder, kind ReminderKind) string {
	local := rem.StartsAt.In(reminderLocation(rem.Timezone))

	lead := "in 5 hours"
	if kind == Reminder1h {
		lead = "in 1 hour"
	}
	salon := rem.SalonName
	if salon == "" {
		salon = "the salon"
	}
	return fmt.Sprintf(
		"<b>Reminder</b>: %s for %s %s at %s.\nDate: %s",
		telegram.EscapeHTML(rem.ServiceName), telegram.EscapeHTML(rem.PetName),
		lead, telegram.EscapeHTML(salon), local.Format("02.01.2006 15:04"),
	)
}
