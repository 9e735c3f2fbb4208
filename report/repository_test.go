package report

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"creditflow/db/dbtest"
)

func TestRepositoryGetSnapshot_MalformedID(t *testing.T) {
	rec := &dbtest.Recorder{}
	_, err := NewRepository(rec).GetSnapshot(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, rec.Queries)
}

func TestRepositoryCreateSnapshot_UnknownClient(t *testing.T) {
	rec := &dbtest.Recorder{RowErr: &pgconn.PgError{Code: "23503"}}
	_, err := NewRepository(rec).CreateSnapshot(context.Background(), rec, "0b9d7c1e-3f7a-4c2e-9a51-6d2f8e4b1c70", "MANUAL", "TRI_MERGE")
	assert.ErrorIs(t, err, ErrValidation)
}
