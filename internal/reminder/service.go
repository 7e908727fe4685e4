package reminder

import (
	"context"
	"fmt"
	"time"

	"habitd/internal/storage"
	"habitd/pkg/logx"
)

// Store is the persistence surface the scheduler needs: the candidate
// scan plus the narrow bookkeeping write.
type Store interface {
	DueCandidates(ctx context.Context) ([]storage.DueHabit, error)
	MarkReminderSent(ctx context.Context, id int64, at time.Time) error
}

// Notifier delivers one message to one destination, best-effort.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

type Service struct {
	store    Store
	notifier Notifier
	log      logx.Logger
}

func NewService(store Store, notifier Notifier, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, notifier: notifier, log: log}
}

// ReminderText composes the message for a habit. Deterministic on
// purpose: tests and users see the same text for the same habit.
func ReminderText(action, place string) string {
	return fmt.Sprintf("Reminder: %s at %s", action, place)
}

// RunOnce scans all habits whose owner has a chat id, sends reminders
// for the ones due at now, and returns how many were dispatched.
//
// Per-habit failures (delivery or bookkeeping) never abort the scan;
// a failed delivery is still marked sent, so the next eligible minute
// is governed by the periodicity gate alone.
func (s *Service) RunOnce(ctx context.Context, now time.Time) int {
	candidates, err := s.store.DueCandidates(ctx)
	if err != nil {
		s.log.Error("reminder scan failed", logx.Err(err))
		return 0
	}

	sent := 0
	for _, c := range candidates {
		if c.TimeOfDay.Hour != now.Hour() || c.TimeOfDay.Minute != now.Minute() {
			continue
		}
		if c.LastReminderSentAt != nil {
			delta := daysBetween(c.LastReminderSentAt.In(now.Location()), now)
			if delta < c.PeriodicityDays {
				continue
			}
		}

		text := ReminderText(c.Action, c.Place)
		if err := s.notify(ctx, c.ChatID, text); err != nil {
			// Not retried, not fatal.
			s.log.Debug("reminder delivery failed",
				logx.Int64("habit_id", c.ID),
				logx.Int64("chat_id", c.ChatID),
				logx.Err(err))
		}

		if err := s.store.MarkReminderSent(ctx, c.ID, now); err != nil {
			s.log.Error("reminder bookkeeping failed",
				logx.Int64("habit_id", c.ID),
				logx.Err(err))
		}
		sent++
	}

	if sent > 0 {
		s.log.Info("reminders dispatched", logx.Int("sent", sent), logx.Time("at", now))
	}
	return sent
}

// notify shields the scan from a misbehaving notifier implementation.
func (s *Service) notify(ctx context.Context, chatID int64, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return s.notifier.Notify(ctx, chatID, text)
}

// daysBetween is the calendar-day difference between two timestamps,
// ignoring the time of day. Both arguments must be in the same location.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	am0 := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	bm0 := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(bm0.Sub(am0) / (24 * time.Hour))
}
