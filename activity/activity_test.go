package activity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditflow/access"
	"creditflow/auth"
	"creditflow/db/dbtest"
)

type denyAll struct{}

func (denyAll) Require(context.Context, access.Actor, string) error { return access.ErrForbidden }

func TestAppend(t *testing.T) {
	rec := &dbtest.Recorder{}
	log := NewLog(rec, denyAll{})

	err := log.Append(context.Background(), rec, Entry{
		ActorID:  StringPtr("user-1"),
		ClientID: StringPtr("client-1"),
		Action:   ActionAuditRan,
		Detail:   "snapshot=s1 findings=2",
	})
	require.NoError(t, err)
	require.Len(t, rec.Execs, 1)

	args := rec.Execs[0].Args
	require.Len(t, args, 4)
	assert.Equal(t, "user-1", *args[0].(*string))
	assert.Equal(t, "client-1", *args[1].(*string))
	assert.Equal(t, ActionAuditRan, args[2])
	assert.Equal(t, "snapshot=s1 findings=2", args[3])
}

func TestAppend_SystemActorAndErrors(t *testing.T) {
	rec := &dbtest.Recorder{}
	log := NewLog(rec, denyAll{})

	require.NoError(t, log.Append(context.Background(), rec, Entry{Action: ActionRoundSuggested}))
	assert.Nil(t, rec.Execs[0].Args[0].(*string))

	assert.Error(t, log.Append(context.Background(), rec, Entry{}))

	rec.ExecErr = errors.New("conn reset")
	err := log.Append(context.Background(), rec, Entry{Action: ActionTaskDone})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ActionTaskDone)
}

func TestForClient_Forbidden(t *testing.T) {
	rec := &dbtest.Recorder{}
	log := NewLog(rec, denyAll{})

	_, err := log.ForClient(context.Background(), access.Actor{UserID: "u", Role: auth.RoleStaff}, "client-1", 10)
	assert.ErrorIs(t, err, access.ErrForbidden)
	assert.Empty(t, rec.Queries)
}

func TestRecent_ScopedToAssignments(t *testing.T) {
	rec := &dbtest.Recorder{}
	log := NewLog(rec, denyAll{})
	ctx := context.Background()

	_, err := log.Recent(ctx, access.Actor{UserID: "staff-1", Role: auth.RoleStaff}, 20)
	require.NoError(t, err)
	staffQuery := rec.LastQuery()
	assert.Contains(t, staffQuery.SQL, "client_assignments")
	assert.Contains(t, staffQuery.SQL, "a.user_id = $2")
	assert.Equal(t, []any{20, "staff-1"}, staffQuery.Args)

	_, err = log.Recent(ctx, access.Actor{UserID: "admin-1", Role: auth.RoleAdmin}, 0)
	require.NoError(t, err)
	adminQuery := rec.LastQuery()
	assert.NotContains(t, adminQuery.SQL, "client_assignments")
	assert.Equal(t, []any{MaxList}, adminQuery.Args)
}

func TestRecent_Forbidden(t *testing.T) {
	rec := &dbtest.Recorder{}
	log := NewLog(rec, denyAll{})
	ctx := context.Background()

	_, err := log.Recent(ctx, access.Actor{Role: auth.RoleStaff}, 10)
	assert.ErrorIs(t, err, access.ErrForbidden)
	_, err = log.Recent(ctx, access.Actor{UserID: "portal-1", Role: auth.RoleClient}, 10)
	assert.ErrorIs(t, err, access.ErrForbidden)
	assert.Empty(t, rec.Queries)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, MaxList, clampLimit(0))
	assert.Equal(t, MaxList, clampLimit(500))
	assert.Equal(t, 25, clampLimit(25))
}
