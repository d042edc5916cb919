package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/datakite/steward/internal/models"
	"github.com/datakite/steward/internal/services"
	"github.com/datakite/steward/pkg/errors"
	"github.com/datakite/steward/pkg/response"
)

type ChangeRequestHandler struct {
	svc *services.ChangeRequestService
}

func NewChangeRequestHandler(svc *services.ChangeRequestService) *ChangeRequestHandler {
	return &ChangeRequestHandler{svc: svc}
}

type submitChangeRequest struct {
	RequestType    string          `json:"request_type" binding:"required"`
	TargetObject   string          `json:"target_object" binding:"required"`
	Justification  string          `json:"justification" binding:"required"`
	ProposedChange json.RawMessage `json:"proposed_change" binding:"required"`
	CurrentValue   json.RawMessage `json:"current_value"`
}

// POST /api/change-requests
func (h *ChangeRequestHandler) Submit(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req submitChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	created, err := h.svc.Submit(requestContext(c), principal, services.SubmitChangeInput{
		RequestType:    models.ChangeRequestType(req.RequestType),
		TargetObject:   req.TargetObject,
		Justification:  req.Justification,
		ProposedChange: req.ProposedChange,
		CurrentValue:   req.CurrentValue,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, created)
}

// GET /api/change-requests/pending
func (h *ChangeRequestHandler) ListPending(c *gin.Context) {
	requests, err := h.svc.ListPending(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, requests)
}

// GET /api/change-requests/mine
func (h *ChangeRequestHandler) ListMine(c *gin.Context) {
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

type decisionRequest struct {
	Comment string `json:"comment"`
}

// POST /api/change-requests/:id/approve
func (h *ChangeRequestHandler) Approve(c *gin.Context) {
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
	response.Success(c, http.StatusOK, gin.H{"status": string(models.ChangeStatusApproved)})
}

// POST /api/change-requests/:id/deny
func (h *ChangeRequestHandler) Deny(c *gin.Context) {
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
	response.Success(c, http.StatusOK, gin.H{"status": string(models.ChangeStatusDenied)})
}

type returnForInfoRequest struct {
	Comment string `json:"comment" binding:"required"`
}

// POST /api/change-requests/:id/return
func (h *ChangeRequestHandler) ReturnForInfo(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req returnForInfoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest("comment is required when returning a request"))
		return
	}

	if err := h.svc.ReturnForInfo(requestContext(c), principal, c.Param("id"), req.Comment); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": string(models.ChangeStatusMoreInfoNeeded)})
}

type resubmitRequest struct {
	Justification  string          `json:"justification" binding:"required"`
	ProposedChange json.RawMessage `json:"proposed_change" binding:"required"`
}

// POST /api/change-requests/:id/resubmit
func (h *ChangeRequestHandler) Resubmit(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req resubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	if err := h.svc.Resubmit(requestContext(c), principal, c.Param("id"), req.Justification, req.ProposedChange); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": string(models.ChangeStatusPending)})
}
