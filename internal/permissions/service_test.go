package permissions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServiceGrantIsIdempotent(t *testing.T) {
	db := setupPermissionTest(t)

	svc, err := NewService(db)
	require.NoError(t, err)

	first, err := svc.Grant(context.Background(), "ANALYST", KindCreateRequests, "ADMIN")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := svc.Grant(context.Background(), "ANALYST", KindCreateRequests, "ADMIN")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	assignments, err := svc.ListForRole(context.Background(), "ANALYST")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
}

func TestServiceRevokeMissingAssignment(t *testing.T) {
	db := setupPermissionTest(t)

	svc, err := NewService(db)
	require.NoError(t, err)

	err = svc.Revoke(context.Background(), "ANALYST", KindManageRoles)
	require.ErrorIs(t, err, ErrAssignmentNotFound)
}

func TestServiceRejectsUnknownKind(t *testing.T) {
	db := setupPermissionTest(t)

	svc, err := NewService(db)
	require.NoError(t, err)

	_, err = svc.Grant(context.Background(), "ANALYST", Kind("bogus"), "ADMIN")
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestServiceListAllOrdered(t *testing.T) {
	db := setupPermissionTest(t)

	svc, err := NewService(db)
	require.NoError(t, err)

	for _, kind := range []Kind{KindManageRoles, KindAppAccess} {
		_, err = svc.Grant(context.Background(), "STEWARD_ADMIN", kind, "setup")
		require.NoError(t, err)
	}
	_, err = svc.Grant(context.Background(), "ANALYST", KindAppAccess, "setup")
	require.NoError(t, err)

	all, err := svc.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "ANALYST", all[0].Role)
	require.Equal(t, string(KindAppAccess), all[1].Kind)
	require.Equal(t, string(KindManageRoles), all[2].Kind)
}

func TestKindValidity(t *testing.T) {
	for _, kind := range All() {
		require.True(t, kind.Valid())
	}
	require.False(t, Kind("").Valid())
	require.False(t, Kind("app_access").Valid())
}
