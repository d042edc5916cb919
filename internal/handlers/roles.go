package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/datakite/steward/internal/permissions"
	"github.com/datakite/steward/internal/services"
	"github.com/datakite/steward/pkg/errors"
	"github.com/datakite/steward/pkg/response"
)

// RoleHandler manages role permission assignments and platform-role
// provisioning.
type RoleHandler struct {
	perms       *permissions.Service
	provisioner *services.ProvisionerService
}

func NewRoleHandler(perms *permissions.Service, provisioner *services.ProvisionerService) *RoleHandler {
	return &RoleHandler{perms: perms, provisioner: provisioner}
}

// GET /api/roles/permissions
func (h *RoleHandler) ListPermissions(c *gin.Context) {
	if role := c.Query("role"); role != "" {
		assignments, err := h.perms.ListForRole(requestContext(c), role)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, http.StatusOK, assignments)
		return
	}

	assignments, err := h.perms.ListAll(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, assignments)
}

type permissionAssignmentRequest struct {
	Role       string `json:"role" binding:"required"`
	Permission string `json:"permission" binding:"required"`
}

// POST /api/roles/permissions
func (h *RoleHandler) GrantPermission(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req permissionAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	assignment, err := h.perms.Grant(requestContext(c), req.Role, permissions.Kind(req.Permission), principal.User)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, assignment)
}

// DELETE /api/roles/permissions
func (h *RoleHandler) RevokePermission(c *gin.Context) {
	var req permissionAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	if err := h.perms.Revoke(requestContext(c), req.Role, permissions.Kind(req.Permission)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// POST /api/roles/:role/provision
func (h *RoleHandler) Provision(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	result, err := h.provisioner.Grant(requestContext(c), principal, c.Param("role"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !result.Full {
		response.SuccessWithWarning(c, http.StatusOK, result, "some provisioning steps failed")
		return
	}
	response.Success(c, http.StatusOK, result)
}

// POST /api/roles/:role/deprovision
func (h *RoleHandler) Deprovision(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	result, err := h.provisioner.Revoke(requestContext(c), principal, c.Param("role"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !result.Full {
		response.SuccessWithWarning(c, http.StatusOK, result, "some deprovisioning steps failed")
		return
	}
	response.Success(c, http.StatusOK, result)
}
