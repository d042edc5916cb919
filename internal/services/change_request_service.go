package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/datakite/steward/internal/catalog"
	"github.com/datakite/steward/internal/identity"
	"github.com/datakite/steward/internal/models"
	apperrors "github.com/datakite/steward/pkg/errors"
	"github.com/datakite/steward/pkg/logger"
	"github.com/datakite/steward/pkg/metrics"
)

// ErrNotRequester rejects a resubmission from anyone but the original requester.
var ErrNotRequester = apperrors.New("NOT_REQUESTER", "Only the original requester may resubmit", http.StatusForbidden)

// ChangeRequestService governs proposed metadata edits through their review
// lifecycle and applies approved payloads to the target store.
type ChangeRequestService struct {
	db       *gorm.DB
	registry *catalog.Registry
	audit    *AuditService
	log      *zap.Logger
	now      func() time.Time
}

// NewChangeRequestService constructs the change request state machine.
func NewChangeRequestService(db *gorm.DB, registry *catalog.Registry, audit *AuditService) (*ChangeRequestService, error) {
	if db == nil {
		return nil, errors.New("change request service: db is required")
	}
	if registry == nil {
		return nil, errors.New("change request service: apply registry is required")
	}
	return &ChangeRequestService{
		db:       db,
		registry: registry,
		audit:    audit,
		log:      logger.WithModule("change-requests"),
		now:      time.Now,
	}, nil
}

// SubmitChangeInput describes a new change request proposal.
type SubmitChangeInput struct {
	RequestType    models.ChangeRequestType
	TargetObject   string
	Justification  string
	ProposedChange json.RawMessage
	CurrentValue   json.RawMessage
}

// Submit validates the proposal and stores it at pending. The responsible
// party for the target object is looked up best-effort from the contact
// directory; a missing contact is not an error.
func (s *ChangeRequestService) Submit(ctx context.Context, p identity.Principal, input SubmitChangeInput) (*models.ChangeRequest, error) {
	ctx = ensureContext(ctx)

	if !input.RequestType.Valid() {
		return nil, catalog.ErrUnknownRequestType
	}

	target := strings.TrimSpace(input.TargetObject)
	if target == "" {
		return nil, apperrors.NewBadRequest("target object is required")
	}
	justification := strings.TrimSpace(input.Justification)
	if justification == "" {
		return nil, apperrors.NewBadRequest("justification is required")
	}
	if strings.TrimSpace(p.User) == "" {
		return nil, apperrors.ErrUnauthorized
	}

	if err := s.registry.Validate(input.RequestType, input.ProposedChange); err != nil {
		return nil, err
	}

	request := &models.ChangeRequest{
		RequestType:    input.RequestType,
		TargetObject:   target,
		Requester:      p.User,
		Justification:  justification,
		ProposedChange: string(input.ProposedChange),
		Status:         models.ChangeStatusPending,
		RequestedAt:    s.now().UTC(),
	}
	if len(input.CurrentValue) > 0 {
		request.CurrentValue = strPtr(string(input.CurrentValue))
	}

	if assignee := s.lookupContact(ctx, target); assignee != "" {
		request.AssignedTo = strPtr(assignee)
	}

	if err := s.db.WithContext(ctx).Create(request).Error; err != nil {
		return nil, fmt.Errorf("change request service: create: %w", err)
	}

	metrics.WorkflowTransitions.WithLabelValues("change_request", "submit", "success").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		Actor:    p.User,
		Role:     p.Role,
		Action:   "change_request.submit",
		Resource: request.ID,
		Result:   "success",
		Metadata: map[string]any{
			"request_type": request.RequestType,
			"target":       request.TargetObject,
		},
	})

	return request, nil
}

// lookupContact is best-effort; only a found contact influences assignment.
func (s *ChangeRequestService) lookupContact(ctx context.Context, target string) string {
	var contact models.Contact
	err := s.db.WithContext(ctx).First(&contact, "object_name = ?", target).Error
	switch {
	case err == nil:
		return contact.ContactName
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ""
	default:
		s.log.Warn("contact lookup failed", zap.String("target", target), zap.Error(err))
		return ""
	}
}

// ReturnForInfo sends a pending request back to its requester with an
// explanatory ask from the reviewer.
func (s *ChangeRequestService) ReturnForInfo(ctx context.Context, p identity.Principal, id, comment string) error {
	ctx = ensureContext(ctx)

	comment = strings.TrimSpace(comment)
	if comment == "" {
		return apperrors.NewBadRequest("a comment explaining what is needed is required")
	}

	result := s.db.WithContext(ctx).
		Model(&models.ChangeRequest{}).
		Where("id = ? AND status = ?", id, models.ChangeStatusPending).
		Updates(map[string]any{
			"status":           models.ChangeStatusMoreInfoNeeded,
			"approver":         p.User,
			"decision_comment": comment,
			"decision_date":    s.now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("change request service: return for info: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		metrics.WorkflowTransitions.WithLabelValues("change_request", "return_for_info", "stale").Inc()
		return apperrors.ErrAlreadyProcessed
	}

	metrics.WorkflowTransitions.WithLabelValues("change_request", "return_for_info", "success").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		Actor:    p.User,
		Role:     p.Role,
		Action:   "change_request.return_for_info",
		Resource: id,
		Result:   "success",
	})
	return nil
}

// Resubmit lets the original requester answer a more-info ask. The request
// returns to pending with prior decision fields cleared, and its timestamp is
// reset so it resurfaces at the head of the review queue.
func (s *ChangeRequestService) Resubmit(ctx context.Context, p identity.Principal, id, justification string, proposedChange json.RawMessage) error {
	ctx = ensureContext(ctx)

	justification = strings.TrimSpace(justification)
	if justification == "" {
		return apperrors.NewBadRequest("justification is required")
	}

	var request models.ChangeRequest
	if err := s.db.WithContext(ctx).First(&request, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("change request service: load: %w", err)
	}

	if request.Requester != p.User {
		return ErrNotRequester
	}
	if request.Status != models.ChangeStatusMoreInfoNeeded {
		return apperrors.ErrAlreadyProcessed
	}

	if err := s.registry.Validate(request.RequestType, proposedChange); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Model(&models.ChangeRequest{}).
		Where("id = ? AND status = ? AND requester = ?", id, models.ChangeStatusMoreInfoNeeded, p.User).
		Updates(map[string]any{
			"justification":    justification,
			"proposed_change":  string(proposedChange),
			"status":           models.ChangeStatusPending,
			"approver":         nil,
			"decision_comment": nil,
			"decision_date":    nil,
			"requested_at":     s.now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("change request service: resubmit: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrAlreadyProcessed
	}

	metrics.WorkflowTransitions.WithLabelValues("change_request", "resubmit", "success").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		Actor:    p.User,
		Role:     p.Role,
		Action:   "change_request.resubmit",
		Resource: id,
		Result:   "success",
	})
	return nil
}

// Approve applies the proposed change and records the approval. The apply step
// runs first: if it fails the request stays pending and the error is surfaced.
// The status transition is a guarded update so a concurrent approval cannot be
// recorded twice.
func (s *ChangeRequestService) Approve(ctx context.Context, p identity.Principal, id, comment string) error {
	ctx = ensureContext(ctx)

	var request models.ChangeRequest
	if err := s.db.WithContext(ctx).First(&request, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrAlreadyProcessed
		}
		return fmt.Errorf("change request service: load: %w", err)
	}
	if request.Status != models.ChangeStatusPending {
		return apperrors.ErrAlreadyProcessed
	}

	if err := s.registry.Apply(ctx, request.RequestType, catalog.ApplyInput{
		Target:  request.TargetObject,
		Payload: json.RawMessage(request.ProposedChange),
		Actor:   request.Requester,
	}); err != nil {
		metrics.WorkflowTransitions.WithLabelValues("change_request", "approve", "apply_failed").Inc()
		recordAudit(s.audit, ctx, AuditEntry{
			Actor:    p.User,
			Role:     p.Role,
			Action:   "change_request.approve",
			Resource: id,
			Result:   "apply_failed",
		})
		return apperrors.Wrap(err, "applying the approved change failed; the request remains pending")
	}

	return s.decide(ctx, p, id, "approve", models.ChangeStatusApproved, comment)
}

// Deny records a denial. No target mutation occurs.
func (s *ChangeRequestService) Deny(ctx context.Context, p identity.Principal, id, comment string) error {
	return s.decide(ensureContext(ctx), p, id, "deny", models.ChangeStatusDenied, comment)
}

func (s *ChangeRequestService) decide(ctx context.Context, p identity.Principal, id, transition string, status models.ChangeStatus, comment string) error {
	updates := map[string]any{
		"status":        status,
		"approver":      p.User,
		"decision_date": s.now().UTC(),
	}
	if comment = strings.TrimSpace(comment); comment != "" {
		updates["decision_comment"] = comment
	}

	result := s.db.WithContext(ctx).
		Model(&models.ChangeRequest{}).
		Where("id = ? AND status = ?", id, models.ChangeStatusPending).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("change request service: %s: %w", transition, result.Error)
	}
	if result.RowsAffected == 0 {
		metrics.WorkflowTransitions.WithLabelValues("change_request", transition, "stale").Inc()
		return apperrors.ErrAlreadyProcessed
	}

	metrics.WorkflowTransitions.WithLabelValues("change_request", transition, "success").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		Actor:    p.User,
		Role:     p.Role,
		Action:   "change_request." + transition,
		Resource: id,
		Result:   "success",
	})
	return nil
}

// ListPending returns requests awaiting review. Items returned for more info
// come first so reviewers see answered asks before fresh submissions; each
// group is ordered newest first.
func (s *ChangeRequestService) ListPending(ctx context.Context) ([]models.ChangeRequest, error) {
	ctx = ensureContext(ctx)

	var requests []models.ChangeRequest
	err := s.db.WithContext(ctx).
		Where("status IN ?", []models.ChangeStatus{models.ChangeStatusPending, models.ChangeStatusMoreInfoNeeded}).
		Order("CASE WHEN status = 'more_info_needed' THEN 0 ELSE 1 END, requested_at DESC").
		Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("change request service: list pending: %w", err)
	}
	return requests, nil
}

// ListMine returns the requester's own requests, newest first.
func (s *ChangeRequestService) ListMine(ctx context.Context, requester string) ([]models.ChangeRequest, error) {
	ctx = ensureContext(ctx)

	var requests []models.ChangeRequest
	err := s.db.WithContext(ctx).
		Where("requester = ?", requester).
		Order("requested_at DESC").
		Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("change request service: list mine: %w", err)
	}
	return requests, nil
}
