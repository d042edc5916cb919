package permissions

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/datakite/steward/internal/models"
)

func setupPermissionTest(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.RolePermission{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func TestCheckerMissingAssignmentIsFalse(t *testing.T) {
	db := setupPermissionTest(t)

	checker, err := NewChecker(db)
	require.NoError(t, err)

	allowed, err := checker.Has(context.Background(), "ANALYST", KindApproveGlossary)
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestCheckerFollowsStoreState(t *testing.T) {
	db := setupPermissionTest(t)

	checker, err := NewChecker(db)
	require.NoError(t, err)
	svc, err := NewService(db)
	require.NoError(t, err)

	_, err = svc.Grant(context.Background(), "ANALYST", KindApproveGlossary, "ADMIN")
	require.NoError(t, err)

	allowed, err := checker.Has(context.Background(), "ANALYST", KindApproveGlossary)
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, svc.Revoke(context.Background(), "ANALYST", KindApproveGlossary))

	allowed, err = checker.Has(context.Background(), "ANALYST", KindApproveGlossary)
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestCheckerRejectsUnknownKind(t *testing.T) {
	db := setupPermissionTest(t)

	checker, err := NewChecker(db)
	require.NoError(t, err)

	_, err = checker.Has(context.Background(), "ANALYST", Kind("DELETE_EVERYTHING"))
	require.Error(t, err)
}

func TestCheckerSurfacesStoreFailure(t *testing.T) {
	db := setupPermissionTest(t)

	checker, err := NewChecker(db)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = checker.Has(context.Background(), "ANALYST", KindAppAccess)
	require.Error(t, err)
}
