// Package jobs contains the scheduled jobs of the ASCEND worker.
package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ascend-app/ascend/internal/domain/notification"
	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/pkg/logger"
	"github.com/ascend-app/ascend/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK REMINDER JOB
// ══════════════════════════════════════════════════════════════════════════════

// ReminderLedger records reminders so a user gets at most one per day.
type ReminderLedger interface {
	// MarkReminded reports true the first time it is called for (user, date).
	MarkReminded(ctx context.Context, userID int64, date timeutil.Date) (bool, error)
}

// ReminderObserver counts reminder decisions.
type ReminderObserver interface {
	ObserveReminder(result string)
}

// StreakReminderConfig contains configuration for the streak reminder job.
type StreakReminderConfig struct {
	// MinStreak is the smallest streak worth a reminder.
	MinStreak int

	// RespectQuietHours skips runs outside 9:00-22:00 in the app zone.
	RespectQuietHours bool
}

// DefaultStreakReminderConfig returns sensible defaults.
func DefaultStreakReminderConfig() StreakReminderConfig {
	return StreakReminderConfig{
		MinStreak:         1,
		RespectQuietHours: true,
	}
}

// StreakReminderStats contains statistics from one run.
type StreakReminderStats struct {
	StartedAt  time.Time
	Duration   time.Duration
	Candidates int
	Sent       int
	Skipped    int
	Failed     int
	QuietHours bool
}

// StreakReminderJob reminds users who were active yesterday and have not
// completed a quest today that their streak breaks at midnight.
type StreakReminderJob struct {
	users    progression.UserRepository
	notifier notification.Notifier
	ledger   ReminderLedger
	calendar *timeutil.Calendar
	observer ReminderObserver
	log      *logger.Logger
	config   StreakReminderConfig

	lastRunStats atomic.Pointer[StreakReminderStats]
}

// NewStreakReminderJob creates a new streak reminder job. ledger and
// observer may be nil.
func NewStreakReminderJob(
	users progression.UserRepository,
	notifier notification.Notifier,
	ledger ReminderLedger,
	calendar *timeutil.Calendar,
	observer ReminderObserver,
	log *logger.Logger,
	config StreakReminderConfig,
) *StreakReminderJob {
	if log == nil {
		log = logger.Nop()
	}
	if config.MinStreak < 1 {
		config.MinStreak = 1
	}
	return &StreakReminderJob{
		users:    users,
		notifier: notifier,
		ledger:   ledger,
		calendar: calendar,
		observer: observer,
		log:      log.With(logger.Component("streak_reminder")),
		config:   config,
	}
}

// Name returns the job name.
func (j *StreakReminderJob) Name() string {
	return "streak_reminder"
}

// Description returns a human-readable description.
func (j *StreakReminderJob) Description() string {
	return "Reminds users with an open streak to complete a quest today"
}

// LastRunStats returns statistics of the latest run, or nil.
func (j *StreakReminderJob) LastRunStats() *StreakReminderStats {
	return j.lastRunStats.Load()
}

// Run executes the job.
func (j *StreakReminderJob) Run(ctx context.Context) error {
	now := j.calendar.Now()
	stats := &StreakReminderStats{StartedAt: now}
	defer func() {
		stats.Duration = time.Since(stats.StartedAt)
		j.lastRunStats.Store(stats)
	}()

	if j.config.RespectQuietHours && !j.calendar.IsSafeNotificationTime(now) {
		stats.QuietHours = true
		j.log.Debug("quiet hours, no reminders sent")
		return nil
	}

	today := j.calendar.DateOf(now)
	// A user who completed anything today has LastActive == today, so
	// everyone listed here still has an open day.
	users, err := j.users.ListByLastActive(ctx, today.AddDays(-1))
	if err != nil {
		return fmt.Errorf("list users active yesterday: %w", err)
	}
	stats.Candidates = len(users)

	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		j.remind(ctx, u, today, stats)
	}

	j.log.Info("streak reminders processed",
		logger.Int("candidates", stats.Candidates),
		logger.Int("sent", stats.Sent),
		logger.Int("skipped", stats.Skipped),
		logger.Int("failed", stats.Failed),
	)
	return nil
}

func (j *StreakReminderJob) remind(ctx context.Context, u *progression.User, today timeutil.Date, stats *StreakReminderStats) {
	log := j.log.With(logger.UserID(u.ID), logger.Streak(u.Streak))

	if u.Streak < j.config.MinStreak || u.CompletedOn(today) {
		stats.Skipped++
		j.observe("skipped")
		return
	}

	if j.ledger != nil {
		first, err := j.ledger.MarkReminded(ctx, u.ID, today)
		if err != nil {
			log.Warn("reminder ledger unavailable", logger.Err(err))
		} else if !first {
			stats.Skipped++
			j.observe("skipped")
			return
		}
	}

	if err := j.notifier.NotifyStreakReminder(ctx, u.ID, u.Streak); err != nil {
		// The user may have blocked the bot; a failed reminder is not retried.
		stats.Failed++
		j.observe("failed")
		log.Warn("streak reminder not delivered", logger.Err(err))
		return
	}
	stats.Sent++
	j.observe("sent")
}

func (j *StreakReminderJob) observe(result string) {
	if j.observer != nil {
		j.observer.ObserveReminder(result)
	}
}
