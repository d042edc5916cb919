package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/datakite/steward/internal/handlers"
	"github.com/datakite/steward/internal/identity"
	"github.com/datakite/steward/internal/middleware"
	"github.com/datakite/steward/internal/permissions"
	"github.com/datakite/steward/internal/services"
)

// Services bundles the wired service layer handed to the router.
type Services struct {
	ChangeRequests *services.ChangeRequestService
	AccessRequests *services.AccessRequestService
	Provisioner    *services.ProvisionerService
	Permissions    *permissions.Service
	Audit          *services.AuditService
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
// Every /api route sits behind identity composition and the APP_ACCESS gate;
// mutating routes add their own permission guard.
func NewRouter(db *gorm.DB, composer *identity.Composer, svcs Services) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if composer == nil {
		return nil, fmt.Errorf("identity composer must be provided")
	}
	if svcs.ChangeRequests == nil || svcs.AccessRequests == nil || svcs.Provisioner == nil ||
		svcs.Permissions == nil || svcs.Audit == nil {
		return nil, fmt.Errorf("all services must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	// Public endpoints
	r.GET("/health", handlers.Health())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	checker, err := permissions.NewChecker(db)
	if err != nil {
		return nil, err
	}

	api := r.Group("/api")
	api.Use(middleware.Identity(composer))
	api.Use(middleware.RequirePermission(checker, permissions.KindAppAccess))

	changeHandler := handlers.NewChangeRequestHandler(svcs.ChangeRequests)
	accessHandler := handlers.NewAccessRequestHandler(svcs.AccessRequests)
	roleHandler := handlers.NewRoleHandler(svcs.Permissions, svcs.Provisioner)
	auditHandler := handlers.NewAuditHandler(svcs.Audit)

	canCreate := middleware.RequirePermission(checker, permissions.KindCreateRequests)
	canApproveGlossary := middleware.RequirePermission(checker, permissions.KindApproveGlossary)
	canApproveAccess := middleware.RequirePermission(checker, permissions.KindApproveDataAccess)
	canManageRoles := middleware.RequirePermission(checker, permissions.KindManageRoles)

	changes := api.Group("/change-requests")
	{
		changes.POST("", canCreate, changeHandler.Submit)
		changes.GET("/pending", canApproveGlossary, changeHandler.ListPending)
		changes.GET("/mine", changeHandler.ListMine)
		changes.POST("/:id/approve", canApproveGlossary, changeHandler.Approve)
		changes.POST("/:id/deny", canApproveGlossary, changeHandler.Deny)
		changes.POST("/:id/return", canApproveGlossary, changeHandler.ReturnForInfo)
		changes.POST("/:id/resubmit", canCreate, changeHandler.Resubmit)
	}

	access := api.Group("/access-requests")
	{
		access.POST("", canCreate, accessHandler.Submit)
		access.GET("/pending", canApproveAccess, accessHandler.ListPending)
		access.GET("/mine", accessHandler.ListMine)
		access.POST("/:id/approve", canApproveAccess, accessHandler.Approve)
		access.POST("/:id/approve-with-grant", canApproveAccess, accessHandler.ApproveWithGrant)
		access.POST("/:id/deny", canApproveAccess, accessHandler.Deny)
		access.POST("/:id/request-info", canApproveAccess, accessHandler.RequestInfo)
		access.POST("/:id/reassign", canApproveAccess, accessHandler.Reassign)
		access.POST("/:id/provide-info", canCreate, accessHandler.ProvideInfo)
	}

	roles := api.Group("/roles", canManageRoles)
	{
		roles.GET("/permissions", roleHandler.ListPermissions)
		roles.POST("/permissions", roleHandler.GrantPermission)
		roles.DELETE("/permissions", roleHandler.RevokePermission)
		roles.POST("/:role/provision", roleHandler.Provision)
		roles.POST("/:role/deprovision", roleHandler.Deprovision)
	}

	api.GET("/audit", canManageRoles, auditHandler.List)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
