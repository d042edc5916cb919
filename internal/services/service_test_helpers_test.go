package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/datakite/steward/internal/models"
)

// fakeExecutor records statements and can be scripted to fail on statements
// containing a substring.
type fakeExecutor struct {
	statements  []string
	failPattern string
}

func (f *fakeExecutor) Exec(_ context.Context, stmt string) error {
	if f.failPattern != "" && strings.Contains(stmt, f.failPattern) {
		return errors.New("simulated engine failure")
	}
	f.statements = append(f.statements, stmt)
	return nil
}

func setupServiceTest(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.RolePermission{},
		&models.ChangeRequest{},
		&models.AccessRequest{},
		&models.ObjectDescription{},
		&models.ObjectTag{},
		&models.Attribute{},
		&models.AttributeEnumeration{},
		&models.Contact{},
		&models.AuditLog{},
	))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
