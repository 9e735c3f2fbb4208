package automation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditflow/activity"
	"creditflow/activity/activitytest"
	"creditflow/config"
	"creditflow/db"
	"creditflow/db/dbtest"
	"creditflow/dispute"
	"creditflow/mail/mailtest"
	"creditflow/providerjob"
	"creditflow/task"
	"creditflow/task/tasktest"
)

var now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	pool      *dbtest.Pool
	disputes  *fakeDisputes
	tasks     *tasktest.Memory
	reminders *memReminderLog
	jobs      *fakeJobs
	outbox    *mailtest.Outbox
	log       *activitytest.Recorder
}

func newFixture() *fixture {
	return &fixture{
		pool:      &dbtest.Pool{},
		disputes:  &fakeDisputes{},
		tasks:     tasktest.NewMemory(),
		reminders: &memReminderLog{claims: map[string]*dbtest.Tx{}},
		jobs:      &fakeJobs{},
		outbox:    &mailtest.Outbox{},
		log:       &activitytest.Recorder{},
	}
}

func (f *fixture) runner(cfg config.AutomationConfig) *Runner {
	return NewRunner(f.pool, f.disputes, f.tasks, f.reminders, f.jobs, f.outbox, f.log, cfg, nil).
		WithClock(func() time.Time { return now })
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestNextRoundAndDaysLeft(t *testing.T) {
	assert.Equal(t, 2, NextRound(1))
	assert.Equal(t, 3, NextRound(2))
	assert.Equal(t, 3, NextRound(3))

	assert.Equal(t, 3, DaysLeft(now.Add(72*time.Hour), now))
	assert.Equal(t, 3, DaysLeft(now.Add(60*time.Hour), now))
	assert.Equal(t, 1, DaysLeft(now.Add(time.Minute), now))
	assert.Equal(t, 0, DaysLeft(now, now))
	assert.Equal(t, 0, DaysLeft(now.Add(-time.Hour), now))
}

func TestEscalation_SuggestsOnce(t *testing.T) {
	f := newFixture()
	f.disputes.overdue = []dispute.Dispute{
		{ID: "d-1", ClientID: "c-1", Bureau: "EX", Round: 1, Status: dispute.StatusSent, DueAt: ptrTime(now.Add(-time.Hour))},
	}
	r := f.runner(config.AutomationConfig{})

	rep, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.RoundsSuggested)

	rep, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.RoundsSuggested)

	all := f.tasks.All()
	require.Len(t, all, 1)
	assert.Equal(t, task.TypeRound2Prep, all[0].Type)
	assert.Equal(t, "Prepare EX Round 2 (follow-up)", all[0].Title)
	assert.True(t, all[0].DueAt.Equal(now.Add(48*time.Hour)))

	assert.Equal(t, []string{activity.ActionRoundSuggested}, f.log.Actions())
	assert.Equal(t, "EX R2", f.log.Entries()[0].Detail)
	assert.Nil(t, f.log.Entries()[0].ActorID)
	assert.Empty(t, f.disputes.created)
}

func TestEscalation_CappedAtRoundThree(t *testing.T) {
	f := newFixture()
	f.disputes.overdue = []dispute.Dispute{
		{ID: "d-3", ClientID: "c-1", Bureau: "TU", Round: 3, Status: dispute.StatusSent, DueAt: ptrTime(now.Add(-time.Hour))},
	}
	r := f.runner(config.AutomationConfig{AutoCreateNextRounds: true})

	rep, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, rep)
	assert.Empty(t, f.tasks.All())
	assert.Empty(t, f.disputes.created)
	assert.Empty(t, f.log.Entries())
}

func TestEscalation_AutoCreatesNextRoundOnce(t *testing.T) {
	f := newFixture()
	tl := "tl-1"
	f.disputes.overdue = []dispute.Dispute{{
		ID: "d-1", ClientID: "c-1", Bureau: "EQ", Round: 2, Status: dispute.StatusSent, DueAt: ptrTime(now.Add(-time.Hour)),
		Items: []dispute.Item{{TradelineID: &tl, Reason: "Derogatory status: x"}},
	}}
	r := f.runner(config.AutomationConfig{AutoCreateNextRounds: true})

	rep, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.RoundsCreated)

	rep, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.RoundsCreated)

	require.Len(t, f.disputes.created, 1)
	created := f.disputes.created[0]
	assert.Equal(t, 3, created.Round)
	assert.Equal(t, dispute.StatusDraft, created.Status)
	require.Len(t, created.Items, 1)
	assert.Equal(t, "Derogatory status: x", created.Items[0].Reason)

	assert.Equal(t, []string{activity.ActionRoundSuggested, activity.ActionRoundCreated}, f.log.Actions())
	assert.Equal(t, task.TypeRound3Prep, f.tasks.All()[0].Type)
}

func TestReminders_SentOncePerDayMark(t *testing.T) {
	f := newFixture()
	f.disputes.targets = []dispute.ReminderTarget{
		{Dispute: dispute.Dispute{ID: "d-1", ClientID: "c-1", Bureau: "TU", Round: 1, DueAt: ptrTime(now.Add(72 * time.Hour))}, ClientEmail: "a@example.com", ClientName: "Ann Lee"},
		{Dispute: dispute.Dispute{ID: "d-2", ClientID: "c-2", Bureau: "EX", Round: 1, DueAt: ptrTime(now.Add(48 * time.Hour))}, ClientEmail: "b@example.com", ClientName: "Bo Ng"},
		{Dispute: dispute.Dispute{ID: "d-3", ClientID: "c-3", Bureau: "EQ", Round: 2, DueAt: ptrTime(now.Add(24 * time.Hour))}, ClientName: "No Mail"},
	}
	r := f.runner(config.AutomationConfig{EnableReminders: true, ReminderOffsets: []int{7, 3, 1}})

	rep, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.RemindersSent)

	rep, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.RemindersSent)

	require.Len(t, f.outbox.Reminders, 1)
	got := f.outbox.Reminders[0]
	assert.Equal(t, "a@example.com", got.To)
	assert.Equal(t, 3, got.DaysLeft)
	assert.Equal(t, "TU", got.Bureau)

	assert.Equal(t, []string{activity.ActionReminderSent}, f.log.Actions())
	assert.Equal(t, "TU R1 3d", f.log.Entries()[0].Detail)
}

func TestReminders_Disabled(t *testing.T) {
	f := newFixture()
	f.disputes.targets = []dispute.ReminderTarget{
		{Dispute: dispute.Dispute{ID: "d-1", Bureau: "TU", Round: 1, DueAt: ptrTime(now.Add(72 * time.Hour))}, ClientEmail: "a@example.com"},
	}
	r := f.runner(config.AutomationConfig{EnableReminders: false, ReminderOffsets: []int{3}})

	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.outbox.Reminders)
	assert.Zero(t, f.disputes.targetCalls)
}

func TestReminders_FailedSendReleasesClaim(t *testing.T) {
	f := newFixture()
	f.disputes.targets = []dispute.ReminderTarget{
		{Dispute: dispute.Dispute{ID: "d-1", ClientID: "c-1", Bureau: "TU", Round: 1, DueAt: ptrTime(now.Add(24 * time.Hour))}, ClientEmail: "a@example.com"},
	}
	f.outbox.Err = errors.New("smtp down")
	r := f.runner(config.AutomationConfig{EnableReminders: true, ReminderOffsets: []int{1}})

	rep, err := r.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, rep.RemindersSent)
	assert.Empty(t, f.log.Entries())

	f.outbox.Err = nil
	rep, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.RemindersSent)
}

func TestRunOnce_PhasesAreIsolated(t *testing.T) {
	f := newFixture()
	f.disputes.overdueErr = errors.New("db gone")
	f.disputes.targets = []dispute.ReminderTarget{
		{Dispute: dispute.Dispute{ID: "d-1", ClientID: "c-1", Bureau: "TU", Round: 1, DueAt: ptrTime(now.Add(168 * time.Hour))}, ClientEmail: "a@example.com"},
	}
	f.jobs.summary = providerjob.RunSummary{Done: 2}
	r := f.runner(config.AutomationConfig{EnableReminders: true, ReminderOffsets: []int{7}, JobBatch: 5})

	rep, err := r.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), PhaseEscalation)
	assert.Equal(t, 1, rep.RemindersSent)
	assert.Equal(t, 2, rep.Jobs.Done)
	assert.Equal(t, []int{5}, f.jobs.limits)
}

func TestNewScheduler(t *testing.T) {
	_, err := NewScheduler("not a schedule", time.Minute, newFixture().runner(config.AutomationConfig{}), nil)
	assert.Error(t, err)

	s, err := NewScheduler("0 * * * *", 0, newFixture().runner(config.AutomationConfig{}), nil)
	require.NoError(t, err)
	s.Start()
	require.NoError(t, s.Stop(context.Background()))
}

type fakeDisputes struct {
	overdue     []dispute.Dispute
	overdueErr  error
	targets     []dispute.ReminderTarget
	targetCalls int
	created     []dispute.Dispute
}

func (f *fakeDisputes) ListOverdueSent(context.Context, time.Time) ([]dispute.Dispute, error) {
	return f.overdue, f.overdueErr
}

func (f *fakeDisputes) ListReminderTargets(context.Context) ([]dispute.ReminderTarget, error) {
	f.targetCalls++
	return f.targets, nil
}

func (f *fakeDisputes) CreateNextRound(_ context.Context, _ pgx.Tx, src dispute.Dispute, round int) (dispute.Dispute, bool, error) {
	for _, d := range f.created {
		if d.ClientID == src.ClientID && d.Bureau == src.Bureau && d.Round == round {
			return dispute.Dispute{}, false, nil
		}
	}
	d := dispute.Dispute{
		ID:       fmt.Sprintf("next-%d", len(f.created)+1),
		ClientID: src.ClientID,
		Bureau:   src.Bureau,
		Round:    round,
		Status:   dispute.StatusDraft,
		Items:    append([]dispute.Item(nil), src.Items...),
	}
	f.created = append(f.created, d)
	return d, true, nil
}

// memReminderLog treats a claim as held unless its transaction rolled back.
type memReminderLog struct {
	claims map[string]*dbtest.Tx
}

func (m *memReminderLog) Claim(_ context.Context, q db.Querier, disputeID string, dayMark int) (bool, error) {
	key := fmt.Sprintf("%s/%d", disputeID, dayMark)
	if prev, ok := m.claims[key]; ok && !prev.Rolled {
		return false, nil
	}
	tx, _ := q.(*dbtest.Tx)
	if tx == nil {
		tx = &dbtest.Tx{Committed: true}
	}
	m.claims[key] = tx
	return true, nil
}

type fakeJobs struct {
	summary providerjob.RunSummary
	limits  []int
}

func (f *fakeJobs) RunQueued(_ context.Context, limit int) (providerjob.RunSummary, error) {
	f.limits = append(f.limits, limit)
	return f.summary, nil
}
