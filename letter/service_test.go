package letter

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditflow/access"
	"creditflow/access/accesstest"
	"creditflow/activity"
	"creditflow/activity/activitytest"
	"creditflow/auth"
	"creditflow/client"
	"creditflow/db"
	"creditflow/db/dbtest"
	"creditflow/dispute"
	"creditflow/storage/storagetest"
)

var staff = access.Actor{UserID: "staff-1", Role: auth.RoleStaff}

func TestPDFRenderer_ProducesPDF(t *testing.T) {
	out, err := PDFRenderer{}.Render(Content{
		Dispute: dispute.Dispute{
			Bureau: "EX",
			Round:  2,
			Items:  []dispute.Item{{Reason: `Derogatory status: Tradeline "Acme" appears derogatory (Collection).`}},
		},
		ClientName: "Ann Lee",
		Date:       time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	assert.True(t, bytes.Contains(out, []byte("/BaseFont /Helvetica-Bold")), "heading is set in bold")
}

func TestGenerate_StoresAndRecords(t *testing.T) {
	now := time.UnixMilli(1735776000000).UTC()
	repo := &fakeRepo{}
	store := storagetest.NewMemory()
	log := &activitytest.Recorder{}
	pool := &dbtest.Pool{}
	svc := NewService(pool, repo, fakeDisputes{"d-1": {ID: "d-1", ClientID: "client-1", Bureau: "TU", Round: 3}},
		fakeClients{"client-1": {ID: "client-1", FirstName: "Ann", LastName: "Lee"}},
		PDFRenderer{}, store, accesstest.Clients{"client-1": true}, log).
		WithClock(func() time.Time { return now })

	l, err := svc.Generate(context.Background(), staff, "d-1")
	require.NoError(t, err)
	assert.True(t, pool.Last().Committed)

	assert.Equal(t, "BUREAU_TU_ROUND_3", l.TemplateID)
	assert.Equal(t, "clients/client-1/letters/d-1-1735776000000.pdf", l.PDFKey)
	_, ok := store.Object(l.PDFKey)
	assert.True(t, ok)

	assert.Equal(t, []string{activity.ActionLetterGenerated}, log.Actions())
	assert.Equal(t, l.ID, log.Entries()[0].Detail)

	url, err := svc.DownloadURL(context.Background(), staff, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "mem://"+l.PDFKey+"?ttl=600", url)
}

func TestGenerate_ForbiddenAndNotFound(t *testing.T) {
	store := storagetest.NewMemory()
	svc := NewService(&dbtest.Pool{}, &fakeRepo{}, fakeDisputes{"d-9": {ID: "d-9", ClientID: "client-9", Bureau: "EX", Round: 1}},
		fakeClients{}, PDFRenderer{}, store, accesstest.Clients{"client-1": true}, &activitytest.Recorder{})

	_, err := svc.Generate(context.Background(), staff, "missing")
	assert.ErrorIs(t, err, dispute.ErrNotFound)

	_, err = svc.Generate(context.Background(), staff, "d-9")
	assert.ErrorIs(t, err, access.ErrForbidden)
	assert.Empty(t, store.Keys())

	_, err = svc.DownloadURL(context.Background(), staff, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDownloadURL_ConfiguredTTL(t *testing.T) {
	store := storagetest.NewMemory()
	svc := NewService(&dbtest.Pool{}, &fakeRepo{}, fakeDisputes{"d-1": {ID: "d-1", ClientID: "client-1", Bureau: "EQ", Round: 1}},
		fakeClients{"client-1": {ID: "client-1", FirstName: "Ann", LastName: "Lee"}},
		PDFRenderer{}, store, accesstest.Clients{"client-1": true}, &activitytest.Recorder{}).
		WithDownloadTTL(15 * time.Minute)

	l, err := svc.Generate(context.Background(), staff, "d-1")
	require.NoError(t, err)
	url, err := svc.DownloadURL(context.Background(), staff, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "mem://"+l.PDFKey+"?ttl=900", url)

	svc.WithDownloadTTL(0)
	url, err = svc.DownloadURL(context.Background(), staff, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "mem://"+l.PDFKey+"?ttl=900", url)
}

type fakeDisputes map[string]dispute.Dispute

func (f fakeDisputes) Get(_ context.Context, id string) (dispute.Dispute, error) {
	d, ok := f[id]
	if !ok {
		return dispute.Dispute{}, dispute.ErrNotFound
	}
	return d, nil
}

type fakeClients map[string]client.Client

func (f fakeClients) Get(_ context.Context, id string) (client.Client, error) {
	c, ok := f[id]
	if !ok {
		return client.Client{}, client.ErrNotFound
	}
	return c, nil
}

type fakeRepo struct {
	letters []Stored
}

func (f *fakeRepo) Create(_ context.Context, _ db.Querier, disputeID, templateID, pdfKey string) (dispute.Letter, error) {
	l := dispute.Letter{ID: fmt.Sprintf("letter-%d", len(f.letters)+1), DisputeID: disputeID, TemplateID: templateID, PDFKey: pdfKey, CreatedAt: time.Now()}
	f.letters = append(f.letters, Stored{Letter: l, ClientID: "client-1"})
	return l, nil
}

func (f *fakeRepo) Get(_ context.Context, id string) (Stored, error) {
	for _, s := range f.letters {
		if s.ID == id {
			return s, nil
		}
	}
	return Stored{}, ErrNotFound
}

func (f *fakeRepo) ListForDispute(_ context.Context, disputeID string) ([]dispute.Letter, error) {
	var out []dispute.Letter
	for _, s := range f.letters {
		if s.DisputeID == disputeID {
			out = append(out, s.Letter)
		}
	}
	return out, nil
}
