package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditflow/access"
	"creditflow/access/accesstest"
	"creditflow/activity"
	"creditflow/activity/activitytest"
	"creditflow/auth"
	"creditflow/db"
	"creditflow/db/dbtest"
	"creditflow/report"
)

var staff = access.Actor{UserID: "staff-1", Role: auth.RoleStaff}

func TestRunAudit_PersistsRunAndFindings(t *testing.T) {
	src := &fakeSnapshots{
		snaps: map[string]report.Snapshot{"snap-1": {ID: "snap-1", ClientID: "client-1"}},
		tradelines: map[string][]report.Tradeline{"snap-1": {
			{ID: "t1", Furnisher: "Acme", AccountType: "Credit Card", Status: "Collection", Balance: i64(950), Limit: i64(1000)},
			{ID: "t2", Furnisher: "Beta", AccountType: "Installment", Status: "Current", OpenedDate: opened()},
		}},
	}
	repo := newFakeRepo()
	pool := &dbtest.Pool{}
	log := &activitytest.Recorder{}
	svc := NewService(pool, repo, src, accesstest.Clients{"client-1": true}, log, nil)

	res, err := svc.RunAudit(context.Background(), staff, "snap-1")
	require.NoError(t, err)

	assert.Equal(t, 3, res.FindingsCount)
	assert.True(t, pool.Last().Committed)
	require.Len(t, repo.runs, 1)
	assert.Equal(t, EngineVersion, repo.runs[0].EngineVersion)
	assert.Len(t, repo.findings[res.AuditRunID], 3)

	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, activity.ActionAuditRan, entries[0].Action)
	assert.Equal(t, "snapshot=snap-1 findings=3", entries[0].Detail)
	assert.Equal(t, "client-1", *entries[0].ClientID)
}

func TestRunAudit_EveryCallCreatesNewRun(t *testing.T) {
	src := &fakeSnapshots{
		snaps:      map[string]report.Snapshot{"snap-1": {ID: "snap-1", ClientID: "client-1"}},
		tradelines: map[string][]report.Tradeline{"snap-1": {{ID: "t1", Furnisher: "Acme"}}},
	}
	repo := newFakeRepo()
	svc := NewService(&dbtest.Pool{}, repo, src, accesstest.Clients{"client-1": true}, &activitytest.Recorder{}, nil)

	first, err := svc.RunAudit(context.Background(), staff, "snap-1")
	require.NoError(t, err)
	second, err := svc.RunAudit(context.Background(), staff, "snap-1")
	require.NoError(t, err)

	assert.NotEqual(t, first.AuditRunID, second.AuditRunID)
	assert.Len(t, repo.runs, 2)

	latest, err := svc.LatestFindings(context.Background(), staff, "snap-1")
	require.NoError(t, err)
	require.NotNil(t, latest.Run)
	assert.Equal(t, second.AuditRunID, latest.Run.ID)
	assert.Len(t, latest.Findings, 1)
}

func TestRunAudit_NotFoundAndForbidden(t *testing.T) {
	src := &fakeSnapshots{
		snaps: map[string]report.Snapshot{"snap-1": {ID: "snap-1", ClientID: "client-1"}},
	}
	repo := newFakeRepo()
	pool := &dbtest.Pool{}
	svc := NewService(pool, repo, src, accesstest.Clients{}, &activitytest.Recorder{}, nil)

	_, err := svc.RunAudit(context.Background(), staff, "missing")
	assert.ErrorIs(t, err, report.ErrNotFound)

	_, err = svc.RunAudit(context.Background(), staff, "snap-1")
	assert.ErrorIs(t, err, access.ErrForbidden)

	assert.Empty(t, repo.runs)
	assert.Nil(t, pool.Last())
}

func TestRunAudit_RollsBackWhenFindingsFail(t *testing.T) {
	src := &fakeSnapshots{
		snaps:      map[string]report.Snapshot{"snap-1": {ID: "snap-1", ClientID: "client-1"}},
		tradelines: map[string][]report.Tradeline{"snap-1": {{ID: "t1", Furnisher: "Acme"}}},
	}
	repo := newFakeRepo()
	repo.insertErr = errors.New("copy failed")
	pool := &dbtest.Pool{}
	log := &activitytest.Recorder{}
	svc := NewService(pool, repo, src, accesstest.AllowAll{}, log, nil)

	_, err := svc.RunAudit(context.Background(), staff, "snap-1")
	require.Error(t, err)
	assert.True(t, pool.Last().Rolled)
	assert.False(t, pool.Last().Committed)
	assert.Empty(t, log.Entries())
}

func TestLatestFindings_NoRun(t *testing.T) {
	src := &fakeSnapshots{snaps: map[string]report.Snapshot{"snap-1": {ID: "snap-1", ClientID: "client-1"}}}
	svc := NewService(&dbtest.Pool{}, newFakeRepo(), src, accesstest.AllowAll{}, &activitytest.Recorder{}, nil)

	latest, err := svc.LatestFindings(context.Background(), staff, "snap-1")
	require.NoError(t, err)
	assert.Nil(t, latest.Run)
	assert.Empty(t, latest.Findings)
}

type fakeSnapshots struct {
	snaps      map[string]report.Snapshot
	tradelines map[string][]report.Tradeline
}

func (f *fakeSnapshots) GetSnapshot(_ context.Context, id string) (report.Snapshot, error) {
	s, ok := f.snaps[id]
	if !ok {
		return report.Snapshot{}, report.ErrNotFound
	}
	return s, nil
}

func (f *fakeSnapshots) ListTradelines(_ context.Context, id string) ([]report.Tradeline, error) {
	return f.tradelines[id], nil
}

type fakeRepo struct {
	runs      []Run
	findings  map[string][]Finding
	insertErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{findings: map[string][]Finding{}}
}

func (f *fakeRepo) CreateRun(_ context.Context, _ db.Querier, snapshotID, version string) (Run, error) {
	run := Run{ID: fmt.Sprintf("run-%d", len(f.runs)+1), SnapshotID: snapshotID, EngineVersion: version}
	f.runs = append(f.runs, run)
	return run, nil
}

func (f *fakeRepo) InsertFindings(_ context.Context, _ pgx.Tx, runID string, findings []Finding) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	for i, fd := range findings {
		fd.AuditRunID = runID
		fd.Position = i
		f.findings[runID] = append(f.findings[runID], fd)
	}
	return int64(len(findings)), nil
}

func (f *fakeRepo) LatestRun(_ context.Context, snapshotID string) (Run, error) {
	for i := len(f.runs) - 1; i >= 0; i-- {
		if f.runs[i].SnapshotID == snapshotID {
			return f.runs[i], nil
		}
	}
	return Run{}, ErrNoRun
}

func (f *fakeRepo) ListFindings(_ context.Context, runID string) ([]Finding, error) {
	return f.findings[runID], nil
}
