package notificationsworker

import (
	"context"
	"errors"
	"time"

	"github.com/atlasvisa/booking-platform/internal/clients"
	"github.com/atlasvisa/booking-platform/internal/consultations"
	"github.com/atlasvisa/booking-platform/pkg/logging"
)

type reminderStore interface {
	ListByDay(ctx context.Context, day time.Time) ([]consultations.Consultation, error)
	MarkReminderSent(ctx context.Context, id string, at time.Time) error
}

type nameDirectory interface {
	GetByEmail(ctx context.Context, email string) (*clients.Client, error)
}

type reminderSender interface {
	SendReminder(ctx context.Context, email, name string, slotStart time.Time, method string) error
}

// ReminderSweeper emails day-before reminders for confirmed consultations.
// The conditional reminder mark keeps concurrent sweepers safe: whichever
// instance claims the row sends the email, the rest skip it.
type ReminderSweeper struct {
	store     reminderStore
	directory nameDirectory
	notifier  reminderSender
	logger    *logging.Logger

	interval time.Duration
	leadTime time.Duration
	now      func() time.Time
}

// NewReminderSweeper creates a sweeper. The directory is optional; without
// it reminders greet clients by email address only.
func NewReminderSweeper(store reminderStore, directory nameDirectory, notifier reminderSender, logger *logging.Logger) *ReminderSweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &ReminderSweeper{
		store:     store,
		directory: directory,
		notifier:  notifier,
		logger:    logger.Component("reminder-sweep"),
		interval:  10 * time.Minute,
		leadTime:  24 * time.Hour,
		now:       time.Now,
	}
}

// WithInterval overrides the sweep interval.
func (s *ReminderSweeper) WithInterval(d time.Duration) *ReminderSweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

// WithLeadTime overrides how far ahead the sweep looks.
func (s *ReminderSweeper) WithLeadTime(d time.Duration) *ReminderSweeper {
	if d > 0 {
		s.leadTime = d
	}
	return s
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *ReminderSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ReminderSweeper) sweep(ctx context.Context) int {
	if s.store == nil || s.notifier == nil {
		return 0
	}

	day := s.now().UTC().Add(s.leadTime)
	list, err := s.store.ListByDay(ctx, day)
	if err != nil {
		s.logger.Error("reminder sweep failed to list day", "error", err)
		return 0
	}

	sent := 0
	for i := range list {
		c := &list[i]
		if c.Status != consultations.StatusConfirmed || c.ReminderSentAt != "" {
			continue
		}
		start := c.StartTime()
		if start.IsZero() {
			s.logger.Warn("skipping reminder for unreadable slot", "consultation_id", c.ID, "slot_start", c.SlotStart)
			continue
		}

		// Claim before sending so two sweepers never double-email. A send
		// failure after the claim is logged for staff follow-up.
		if err := s.store.MarkReminderSent(ctx, c.ID, s.now().UTC()); err != nil {
			if errors.Is(err, consultations.ErrReminderAlreadySent) {
				continue
			}
			s.logger.Error("failed to claim reminder", "error", err, "consultation_id", c.ID)
			continue
		}

		name := s.clientName(ctx, c.ClientEmail)
		if err := s.notifier.SendReminder(ctx, c.ClientEmail, name, start, string(c.Method)); err != nil {
			s.logger.Error("failed to send reminder", "error", err, "consultation_id", c.ID)
			continue
		}
		sent++
	}

	if sent > 0 {
		s.logger.Info("reminder sweep complete", "day", day.Format(time.DateOnly), "sent", sent)
	}
	return sent
}

func (s *ReminderSweeper) clientName(ctx context.Context, email string) string {
	if s.directory == nil {
		return ""
	}
	client, err := s.directory.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, clients.ErrClientNotFound) {
			s.logger.Warn("failed to look up client name", "error", err, "email", email)
		}
		return ""
	}
	return client.Name
}
