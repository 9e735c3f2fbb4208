// Package automation runs the hourly sweep over sent disputes: round
// escalation, due-date reminders and the provider job drain.
package automation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"creditflow/activity"
	"creditflow/config"
	"creditflow/db"
	"creditflow/dispute"
	"creditflow/mail"
	"creditflow/metrics"
	"creditflow/providerjob"
	"creditflow/task"
)

const (
	PhaseEscalation = "escalation"
	PhaseReminders  = "reminders"
	PhaseJobs       = "provider_jobs"

	day           = 24 * time.Hour
	prepTaskDelay = 2 * day
)

// DisputeStore is the dispute access the sweep needs.
type DisputeStore interface {
	ListOverdueSent(ctx context.Context, now time.Time) ([]dispute.Dispute, error)
	ListReminderTargets(ctx context.Context) ([]dispute.ReminderTarget, error)
	CreateNextRound(ctx context.Context, tx pgx.Tx, src dispute.Dispute, round int) (dispute.Dispute, bool, error)
}

// TaskStore inserts a task unless an OPEN one with the same dedupe key exists.
type TaskStore interface {
	CreateIfAbsent(ctx context.Context, q db.Querier, params task.CreateParams) (task.Task, bool, error)
}

// JobDrainer processes queued provider jobs.
type JobDrainer interface {
	RunQueued(ctx context.Context, limit int) (providerjob.RunSummary, error)
}

// Report summarizes one pass.
type Report struct {
	RoundsSuggested int
	RoundsCreated   int
	RemindersSent   int
	Jobs            providerjob.RunSummary
}

// Runner executes one sweep. It holds no state between passes.
type Runner struct {
	pool      db.TxBeginner
	disputes  DisputeStore
	tasks     TaskStore
	reminders ReminderLog
	jobs      JobDrainer
	sender    mail.Sender
	activity  activity.Writer
	cfg       config.AutomationConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewRunner(pool db.TxBeginner, disputes DisputeStore, tasks TaskStore, reminders ReminderLog, jobs JobDrainer, sender mail.Sender, log activity.Writer, cfg config.AutomationConfig, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.JobBatch <= 0 {
		cfg.JobBatch = 10
	}
	return &Runner{
		pool:      pool,
		disputes:  disputes,
		tasks:     tasks,
		reminders: reminders,
		jobs:      jobs,
		sender:    sender,
		activity:  log,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	if now != nil {
		r.now = now
	}
	return r
}

// RunOnce runs the three phases in order. A failing phase is logged and
// counted; the following phases still run. The returned error joins every
// phase error.
func (r *Runner) RunOnce(ctx context.Context) (Report, error) {
	start := time.Now()
	m := metrics.Get()
	defer func() {
		m.SchedulerDuration.Observe(time.Since(start).Seconds())
	}()

	var (
		rep  Report
		errs []error
	)
	phase := func(name string, fn func(context.Context) error) {
		m.SchedulerPhases.WithLabelValues(name).Inc()
		if err := fn(ctx); err != nil {
			m.SchedulerFailures.WithLabelValues(name).Inc()
			r.logger.Error("automation phase failed", zap.String("phase", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	phase(PhaseEscalation, func(ctx context.Context) error {
		suggested, created, err := r.escalate(ctx)
		rep.RoundsSuggested, rep.RoundsCreated = suggested, created
		return err
	})
	phase(PhaseReminders, func(ctx context.Context) error {
		sent, err := r.remind(ctx)
		rep.RemindersSent = sent
		return err
	})
	phase(PhaseJobs, func(ctx context.Context) error {
		sum, err := r.jobs.RunQueued(ctx, r.cfg.JobBatch)
		rep.Jobs = sum
		return err
	})

	r.logger.Info("automation pass finished",
		zap.Int("rounds_suggested", rep.RoundsSuggested),
		zap.Int("rounds_created", rep.RoundsCreated),
		zap.Int("reminders_sent", rep.RemindersSent),
		zap.Int("jobs_done", rep.Jobs.Done),
		zap.Int("jobs_failed", rep.Jobs.Failed),
		zap.Duration("took", time.Since(start)),
	)
	return rep, errors.Join(errs...)
}

// NextRound returns min(round+1, MaxRound).
func NextRound(round int) int {
	return min(round+1, dispute.MaxRound)
}

// DaysLeft is the whole number of days until due, rounded up.
func DaysLeft(due, now time.Time) int {
	return int(math.Ceil(float64(due.Sub(now)) / float64(day)))
}

func prepTaskType(round int) string {
	if round == 2 {
		return task.TypeRound2Prep
	}
	return task.TypeRound3Prep
}

func (r *Runner) escalate(ctx context.Context) (suggested, created int, err error) {
	now := r.now()
	overdue, err := r.disputes.ListOverdueSent(ctx, now)
	if err != nil {
		return 0, 0, err
	}

	var errs []error
	for _, d := range overdue {
		next := NextRound(d.Round)
		if next == d.Round {
			continue
		}

		ok, err := r.suggestRound(ctx, d, next, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("dispute %s: %w", d.ID, err))
			continue
		}
		if ok {
			suggested++
		}

		if !r.cfg.AutoCreateNextRounds {
			continue
		}
		ok, err = r.createRound(ctx, d, next)
		if err != nil {
			errs = append(errs, fmt.Errorf("dispute %s: %w", d.ID, err))
			continue
		}
		if ok {
			created++
		}
	}
	return suggested, created, errors.Join(errs...)
}

func (r *Runner) suggestRound(ctx context.Context, d dispute.Dispute, next int, now time.Time) (bool, error) {
	taskType := prepTaskType(next)
	key := fmt.Sprintf("%s|%s|%s|%d", d.ClientID, taskType, d.Bureau, next)
	due := now.Add(prepTaskDelay)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, inserted, err := r.tasks.CreateIfAbsent(ctx, tx, task.CreateParams{
		ClientID:  d.ClientID,
		Type:      taskType,
		Title:     fmt.Sprintf("Prepare %s Round %d (follow-up)", d.Bureau, next),
		DueAt:     &due,
		DedupeKey: &key,
	})
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	if err := r.activity.Append(ctx, tx, activity.Entry{
		ClientID: activity.StringPtr(d.ClientID),
		Action:   activity.ActionRoundSuggested,
		Detail:   fmt.Sprintf("%s R%d", d.Bureau, next),
	}); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

func (r *Runner) createRound(ctx context.Context, d dispute.Dispute, next int) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, ok, err := r.disputes.CreateNextRound(ctx, tx, d, next); err != nil || !ok {
		return false, err
	}

	if err := r.activity.Append(ctx, tx, activity.Entry{
		ClientID: activity.StringPtr(d.ClientID),
		Action:   activity.ActionRoundCreated,
		Detail:   fmt.Sprintf("%s R%d", d.Bureau, next),
	}); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

func (r *Runner) remind(ctx context.Context) (int, error) {
	if !r.cfg.EnableReminders || len(r.cfg.ReminderOffsets) == 0 {
		return 0, nil
	}
	targets, err := r.disputes.ListReminderTargets(ctx)
	if err != nil {
		return 0, err
	}

	m := metrics.Get()
	now := r.now()
	sent := 0
	var errs []error
	for _, t := range targets {
		if t.Dispute.DueAt == nil || t.ClientEmail == "" {
			continue
		}
		days := DaysLeft(*t.Dispute.DueAt, now)
		if !slices.Contains(r.cfg.ReminderOffsets, days) {
			continue
		}

		ok, err := r.sendReminder(ctx, t, days)
		if err != nil {
			m.ReminderFailures.Inc()
			r.logger.Warn("dispute reminder failed",
				zap.String("dispute_id", t.Dispute.ID),
				zap.Int("days_left", days),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("dispute %s: %w", t.Dispute.ID, err))
			continue
		}
		if ok {
			sent++
			m.RemindersSent.Inc()
		}
	}
	return sent, errors.Join(errs...)
}

// sendReminder claims the (dispute, day) pair, mails the client and commits.
// A send failure rolls the claim back so the next pass can retry that day.
func (r *Runner) sendReminder(ctx context.Context, t dispute.ReminderTarget, days int) (bool, error) {
	d := t.Dispute

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	claimed, err := r.reminders.Claim(ctx, tx, d.ID, days)
	if err != nil || !claimed {
		return false, err
	}

	if err := r.sender.SendDisputeReminder(ctx, mail.ReminderParams{
		To:         t.ClientEmail,
		ClientName: t.ClientName,
		Bureau:     d.Bureau,
		Round:      d.Round,
		DueAt:      *d.DueAt,
		DaysLeft:   days,
	}); err != nil {
		return false, err
	}

	if err := r.activity.Append(ctx, tx, activity.Entry{
		ClientID: activity.StringPtr(d.ClientID),
		Action:   activity.ActionReminderSent,
		Detail:   fmt.Sprintf("%s R%d %dd", d.Bureau, d.Round, days),
	}); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}
