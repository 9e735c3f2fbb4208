package providerjob

import (
	"context"
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

func TestEnqueue(t *testing.T) {
	repo := newFakeRepo()
	log := &activitytest.Recorder{}
	pool := &dbtest.Pool{}
	svc := NewService(pool, repo, &fakeSnapshots{}, accesstest.Clients{"client-1": true}, log, nil)

	res, err := svc.Enqueue(context.Background(), staff, ImportRequest{ClientID: "client-1", Provider: "ARRAY", JSON: `{"id":"ref-9","tradelines":[]}`})
	require.NoError(t, err)
	assert.True(t, pool.Last().Committed)

	require.Len(t, repo.events, 1)
	assert.Equal(t, "ref-9", *repo.events[0].ProviderRef)
	assert.Equal(t, StatusQueued, repo.jobs[0].Status)

	assert.Equal(t, []string{activity.ActionProviderImportEnqueued}, log.Actions())
	assert.Equal(t, "ARRAY job="+res.JobID, log.Entries()[0].Detail)
}

func TestEnqueue_RejectsBadInput(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(&dbtest.Pool{}, repo, &fakeSnapshots{}, accesstest.Clients{"client-1": true}, &activitytest.Recorder{}, nil)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, staff, ImportRequest{ClientID: "client-1", Provider: "ARRAY", JSON: `{broken`})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Enqueue(ctx, staff, ImportRequest{ClientID: "client-2", Provider: "ARRAY", JSON: `{}`})
	assert.ErrorIs(t, err, access.ErrForbidden)

	assert.Empty(t, repo.jobs)
}

func TestRunQueued_ImportsAndIsolatesFailures(t *testing.T) {
	repo := newFakeRepo()
	client1 := "client-1"
	client2 := "client-2"
	repo.events = append(repo.events, Event{Provider: "ARRAY", ClientID: &client1, RawJSON: []byte(`{"tradelines":[{"furnisher":"Acme"},{}]}`)})
	repo.jobs = []Job{
		{ID: "job-a", Provider: "ARRAY", Status: StatusQueued},
		{ID: "job-b", Provider: "ARRAY", ClientID: &client2, Status: StatusQueued},
		{ID: "job-c", Provider: "ARRAY", ClientID: &client1, Status: StatusQueued},
	}
	snaps := &fakeSnapshots{}
	log := &activitytest.Recorder{}
	svc := NewService(&dbtest.Pool{}, repo, snaps, accesstest.AllowAll{}, log, nil)

	sum, err := svc.RunQueued(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, RunSummary{Done: 1, Failed: 2}, sum)

	assert.Equal(t, StatusFailed, repo.job("job-a").Status)
	assert.Equal(t, "client id required", *repo.job("job-a").Error)
	assert.Equal(t, StatusFailed, repo.job("job-b").Status)
	assert.Equal(t, "provider event missing", *repo.job("job-b").Error)
	assert.Equal(t, StatusDone, repo.job("job-c").Status)

	require.Len(t, snaps.created, 1)
	assert.Equal(t, report.DefaultReportType, snaps.created[0].ReportType)
	require.Len(t, snaps.tradelines, 2)
	assert.Equal(t, "Unknown", snaps.tradelines[1].Furnisher)

	assert.Equal(t, []string{activity.ActionProviderImport}, log.Actions())
	assert.Nil(t, log.Entries()[0].ActorID)
	assert.Equal(t, "ARRAY snapshot="+snaps.created[0].ID, log.Entries()[0].Detail)
}

func TestRunQueued_RespectsLimit(t *testing.T) {
	repo := newFakeRepo()
	for i := 0; i < 3; i++ {
		repo.jobs = append(repo.jobs, Job{ID: fmt.Sprintf("job-%d", i), Provider: "ARRAY", Status: StatusQueued})
	}
	svc := NewService(&dbtest.Pool{}, repo, &fakeSnapshots{}, accesstest.AllowAll{}, &activitytest.Recorder{}, nil)

	sum, err := svc.RunQueued(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, StatusQueued, repo.job("job-2").Status)
}

type fakeRepo struct {
	events []Event
	jobs   []Job
}

func newFakeRepo() *fakeRepo { return &fakeRepo{} }

func (f *fakeRepo) job(id string) Job {
	for _, j := range f.jobs {
		if j.ID == id {
			return j
		}
	}
	return Job{}
}

func (f *fakeRepo) InsertEvent(_ context.Context, _ db.Querier, e Event) (string, error) {
	e.ID = fmt.Sprintf("evt-%d", len(f.events)+1)
	f.events = append(f.events, e)
	return e.ID, nil
}

func (f *fakeRepo) InsertJob(_ context.Context, _ db.Querier, provider, kind string, clientID *string) (string, error) {
	j := Job{ID: fmt.Sprintf("job-%d", len(f.jobs)+1), Provider: provider, Kind: kind, ClientID: clientID, Status: StatusQueued}
	f.jobs = append(f.jobs, j)
	return j.ID, nil
}

func (f *fakeRepo) ClaimQueued(_ context.Context, limit int) ([]Job, error) {
	var out []Job
	for i := range f.jobs {
		if len(out) == limit {
			break
		}
		if f.jobs[i].Status == StatusQueued {
			f.jobs[i].Status = StatusRunning
			out = append(out, f.jobs[i])
		}
	}
	return out, nil
}

func (f *fakeRepo) LatestEvent(_ context.Context, provider, clientID string) (Event, error) {
	for i := len(f.events) - 1; i >= 0; i-- {
		e := f.events[i]
		if e.Provider == provider && e.ClientID != nil && *e.ClientID == clientID {
			return e, nil
		}
	}
	return Event{}, ErrEventMissing
}

func (f *fakeRepo) Finish(_ context.Context, _ db.Querier, jobID string, status Status, errMsg *string) error {
	for i := range f.jobs {
		if f.jobs[i].ID == jobID {
			f.jobs[i].Status = status
			f.jobs[i].Error = errMsg
		}
	}
	return nil
}

type fakeSnapshots struct {
	created    []report.Snapshot
	tradelines []report.TradelineInput
}

func (f *fakeSnapshots) CreateSnapshot(_ context.Context, _ db.Querier, clientID, provider, reportType string) (report.Snapshot, error) {
	s := report.Snapshot{ID: fmt.Sprintf("snap-%d", len(f.created)+1), ClientID: clientID, Provider: provider, ReportType: reportType}
	f.created = append(f.created, s)
	return s, nil
}

func (f *fakeSnapshots) CopyTradelines(_ context.Context, _ pgx.Tx, _ string, in []report.TradelineInput) (int64, error) {
	f.tradelines = append(f.tradelines, in...)
	return int64(len(in)), nil
}
