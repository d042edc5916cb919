package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/datakite/steward/internal/models"
	"github.com/datakite/steward/internal/services"
	"github.com/datakite/steward/pkg/errors"
	"github.com/datakite/steward/pkg/response"
)

type AccessRequestHandler struct {
	svc *services.AccessRequestService
}

func NewAccessRequestHandler(svc *services.AccessRequestService) *AccessRequestHandler {
	return &AccessRequestHandler{svc: svc}
}

const dateLayout = "2006-01-02"

type submitAccessRequest struct {
	TableFullName   string `json:"table_full_name" binding:"required"`
	Justification   string `json:"justification" binding:"required"`
	AccessStartDate string `json:"access_start_date" binding:"required"`
	AccessEndDate   string `json:"access_end_date" binding:"required"`
	AccessType      string `json:"access_type" binding:"required"`
	GrantToName     string `json:"grant_to_name" binding:"required"`
}

// POST /api/access-requests
func (h *AccessRequestHandler) Submit(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req submitAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	start, err := time.Parse(dateLayout, req.AccessStartDate)
	if err != nil {
		response.Error(c, errors.NewBadRequest("access_start_date must be YYYY-MM-DD"))
		return
	}
	end, err := time.Parse(dateLayout, req.AccessEndDate)
	if err != nil {
		response.Error(c, errors.NewBadRequest("access_end_date must be YYYY-MM-DD"))
		return
	}

	created, err := h.svc.Submit(requestContext(c), principal, services.SubmitAccessInput{
		TableFullName:   req.TableFullName,
		Justification:   req.Justification,
		AccessStartDate: start,
		AccessEndDate:   end,
		AccessType:      models.AccessGrantType(req.AccessType),
		GrantToName:     req.GrantToName,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, created)
}

// GET /api/access-requests/pending
func (h *AccessRequestHandler) ListPending(c *gin.Context) {
	requests, err := h.svc.ListPending(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, requests)
}

// GET /api/access-requests/mine
func (h *AccessRequestHandler) ListMine(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	requests, err := h.svc.ListMine(requestContext(c), principal.User)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, requests)
}

// POST /api/access-requests/:id/approve
func (h *AccessRequestHandler) Approve(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	if err := h.svc.Approve(requestContext(c), principal, c.Param("id"), req.Comment); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": string(models.AccessStatusApproved)})
}

type approveWithGrantRequest struct {
	Comment     string `json:"comment"`
	AccessType  string `json:"access_type" binding:"required"`
	GrantToName string `json:"grant_to_name" binding:"required"`
}

// POST /api/access-requests/:id/approve-with-grant
func (h *AccessRequestHandler) ApproveWithGrant(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req approveWithGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	outcome, err := h.svc.ApproveWithGrant(requestContext(c), principal, c.Param("id"), req.Comment,
		models.AccessGrantType(req.AccessType), req.GrantToName)
	if err != nil {
		response.Error(c, err)
		return
	}
	if outcome.GrantError != "" {
		response.SuccessWithWarning(c, http.StatusOK, outcome, "approval recorded but grant failed")
		return
	}
	response.Success(c, http.StatusOK, outcome)
}

// POST /api/access-requests/:id/deny
func (h *AccessRequestHandler) Deny(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	if err := h.svc.Deny(requestContext(c), principal, c.Param("id"), req.Comment); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": string(models.AccessStatusDenied)})
}

type requestInfoRequest struct {
	Assignee   string `json:"assignee"`
	InfoNeeded string `json:"info_needed" binding:"required"`
}

// POST /api/access-requests/:id/request-info
func (h *AccessRequestHandler) RequestInfo(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req requestInfoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest("info_needed is required"))
		return
	}

	if err := h.svc.RequestInfo(requestContext(c), principal, c.Param("id"), req.Assignee, req.InfoNeeded); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": string(models.AccessStatusPendingInfo)})
}

type provideInfoRequest struct {
	AdditionalInfo string `json:"additional_info" binding:"required"`
}

// POST /api/access-requests/:id/provide-info
func (h *AccessRequestHandler) ProvideInfo(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req provideInfoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest("additional_info is required"))
		return
	}

	if err := h.svc.ProvideInfo(requestContext(c), principal, c.Param("id"), req.AdditionalInfo); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": string(models.AccessStatusPending)})
}

type reassignRequest struct {
	Assignee string `json:"assignee" binding:"required"`
}

// POST /api/access-requests/:id/reassign
func (h *AccessRequestHandler) Reassign(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req reassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest("assignee is required"))
		return
	}

	if err := h.svc.Reassign(requestContext(c), principal, c.Param("id"), req.Assignee); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"reassigned_to": req.Assignee})
}
