package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/datakite/steward/internal/catalog"
	"github.com/datakite/steward/internal/executor"
	"github.com/datakite/steward/internal/identity"
	"github.com/datakite/steward/internal/models"
	"github.com/datakite/steward/internal/permissions"
	"github.com/datakite/steward/internal/services"
)

func setupRouterTest(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
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
	t.Cleanup(func() { _ = sqlDB.Close() })

	tokenPath := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenPath, []byte("svc-token"), 0o600))

	composer, err := identity.NewComposer(tokenPath)
	require.NoError(t, err)

	exec, err := executor.NewGormExecutor(db)
	require.NoError(t, err)

	registry, err := catalog.NewRegistry(db, exec)
	require.NoError(t, err)

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	changeSvc, err := services.NewChangeRequestService(db, registry, audit)
	require.NoError(t, err)

	accessSvc, err := services.NewAccessRequestService(db, exec, audit)
	require.NoError(t, err)

	provisioner, err := services.NewProvisionerService(exec, services.ProvisionerConfig{
		ServiceName: "GOV.APP.STEWARD",
		ComputePool: "STEWARD_POOL",
		Database:    "GOV",
		Schema:      "CATALOG",
		Warehouse:   "GOV_WH",
	}, audit)
	require.NoError(t, err)

	permSvc, err := permissions.NewService(db)
	require.NoError(t, err)

	router, err := NewRouter(db, composer, Services{
		ChangeRequests: changeSvc,
		AccessRequests: accessSvc,
		Provisioner:    provisioner,
		Permissions:    permSvc,
		Audit:          audit,
	})
	require.NoError(t, err)

	return router, db
}

func grantAll(t *testing.T, db *gorm.DB, role string, kinds ...permissions.Kind) {
	t.Helper()

	svc, err := permissions.NewService(db)
	require.NoError(t, err)
	for _, kind := range kinds {
		_, err := svc.Grant(context.Background(), role, kind, "seed")
		require.NoError(t, err)
	}
}

func doJSON(router *gin.Engine, method, path, role string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(identity.HeaderCurrentUser, "alice")
	if role != "" {
		req.Header.Set(identity.HeaderCurrentRole, role)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthIsPublic(t *testing.T) {
	router, _ := setupRouterTest(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRequiresAppAccess(t *testing.T) {
	router, _ := setupRouterTest(t)

	w := doJSON(router, http.MethodGet, "/api/change-requests/mine", "ANALYST", nil)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestChangeRequestLifecycleOverHTTP(t *testing.T) {
	router, db := setupRouterTest(t)
	grantAll(t, db, "ANALYST", permissions.KindAppAccess, permissions.KindCreateRequests)
	grantAll(t, db, "STEWARD", permissions.KindAppAccess, permissions.KindApproveGlossary)

	w := doJSON(router, http.MethodPost, "/api/change-requests", "ANALYST", gin.H{
		"request_type":    "DESCRIPTION",
		"target_object":   "GOV.CATALOG.ORDERS",
		"justification":   "document the orders table",
		"proposed_change": gin.H{"description": "Customer orders, one row per order."},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Data models.ChangeRequest `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Equal(t, models.ChangeStatusPending, created.Data.Status)

	// Requester cannot approve without the glossary permission.
	w = doJSON(router, http.MethodPost, "/api/change-requests/"+created.Data.ID+"/approve", "ANALYST", gin.H{})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(router, http.MethodGet, "/api/change-requests/pending", "STEWARD", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodPost, "/api/change-requests/"+created.Data.ID+"/approve", "STEWARD", gin.H{
		"comment": "looks right",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// The approval applied the description to the catalog.
	var desc models.ObjectDescription
	require.NoError(t, db.Where("object_name = ?", "GOV.CATALOG.ORDERS").First(&desc).Error)

	// A second decision on the same request conflicts.
	w = doJSON(router, http.MethodPost, "/api/change-requests/"+created.Data.ID+"/deny", "STEWARD", gin.H{})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestAccessRequestSubmitValidation(t *testing.T) {
	router, db := setupRouterTest(t)
	grantAll(t, db, "ANALYST", permissions.KindAppAccess, permissions.KindCreateRequests)

	w := doJSON(router, http.MethodPost, "/api/access-requests", "ANALYST", gin.H{
		"table_full_name":   "GOV.CATALOG.ORDERS",
		"justification":     "quarterly reporting",
		"access_start_date": "not-a-date",
		"access_end_date":   "2026-02-01",
		"access_type":       "ROLE",
		"grant_to_name":     "REPORTING",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPost, "/api/access-requests", "ANALYST", gin.H{
		"table_full_name":   "GOV.CATALOG.ORDERS",
		"justification":     "quarterly reporting",
		"access_start_date": "2026-01-01",
		"access_end_date":   "2026-02-01",
		"access_type":       "ROLE",
		"grant_to_name":     "REPORTING",
	})
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestRolesRoutesRequireManageRoles(t *testing.T) {
	router, db := setupRouterTest(t)
	grantAll(t, db, "ANALYST", permissions.KindAppAccess)
	grantAll(t, db, "ADMIN", permissions.KindAppAccess, permissions.KindManageRoles)

	w := doJSON(router, http.MethodGet, "/api/roles/permissions", "ANALYST", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(router, http.MethodPost, "/api/roles/permissions", "ADMIN", gin.H{
		"role":       "ANALYST",
		"permission": "CREATE_REQUESTS",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(router, http.MethodGet, "/api/roles/permissions?role=ANALYST", "ADMIN", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "CREATE_REQUESTS")
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	router, _ := setupRouterTest(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "NOT_FOUND")
}
