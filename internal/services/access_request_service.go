package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/datakite/steward/internal/executor"
	"github.com/datakite/steward/internal/identity"
	"github.com/datakite/steward/internal/models"
	apperrors "github.com/datakite/steward/pkg/errors"
	"github.com/datakite/steward/pkg/logger"
	"github.com/datakite/steward/pkg/metrics"
)

// AccessRequestService governs data-access grant requests through their
// review lifecycle and issues the underlying privileges on approval.
type AccessRequestService struct {
	db    *gorm.DB
	exec  executor.Executor
	audit *AuditService
	log   *zap.Logger
	now   func() time.Time
}

// NewAccessRequestService constructs the access request state machine.
func NewAccessRequestService(db *gorm.DB, exec executor.Executor, audit *AuditService) (*AccessRequestService, error) {
	if db == nil {
		return nil, errors.New("access request service: db is required")
	}
	if exec == nil {
		return nil, errors.New("access request service: executor is required")
	}
	return &AccessRequestService{
		db:    db,
		exec:  exec,
		audit: audit,
		log:   logger.WithModule("access-requests"),
		now:   time.Now,
	}, nil
}

// SubmitAccessInput describes a new access request. All fields are mandatory.
type SubmitAccessInput struct {
	TableFullName   string
	Justification   string
	AccessStartDate time.Time
	AccessEndDate   time.Time
	AccessType      models.AccessGrantType
	GrantToName     string
}

// Submit validates the request and stores it at pending.
func (s *AccessRequestService) Submit(ctx context.Context, p identity.Principal, input SubmitAccessInput) (*models.AccessRequest, error) {
	ctx = ensureContext(ctx)

	table := strings.TrimSpace(input.TableFullName)
	justification := strings.TrimSpace(input.Justification)
	grantTo := strings.TrimSpace(input.GrantToName)

	switch {
	case table == "":
		return nil, apperrors.NewBadRequest("table name is required")
	case justification == "":
		return nil, apperrors.NewBadRequest("justification is required")
	case input.AccessStartDate.IsZero() || input.AccessEndDate.IsZero():
		return nil, apperrors.NewBadRequest("access start and end dates are required")
	case !input.AccessEndDate.After(input.AccessStartDate):
		return nil, apperrors.NewBadRequest("access end date must be after the start date")
	case !input.AccessType.Valid():
		return nil, apperrors.NewBadRequest("access type must be USER or ROLE")
	case grantTo == "":
		return nil, apperrors.NewBadRequest("grant target name is required")
	}
	if strings.TrimSpace(p.User) == "" {
		return nil, apperrors.ErrUnauthorized
	}

	request := &models.AccessRequest{
		TableFullName:   table,
		Requester:       p.User,
		Justification:   justification,
		AccessStartDate: input.AccessStartDate,
		AccessEndDate:   input.AccessEndDate,
		AccessType:      input.AccessType,
		GrantToName:     grantTo,
		Status:          models.AccessStatusPending,
		RequestedAt:     s.now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(request).Error; err != nil {
		return nil, fmt.Errorf("access request service: create: %w", err)
	}

	metrics.WorkflowTransitions.WithLabelValues("access_request", "submit", "success").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		Actor:    p.User,
		Role:     p.Role,
		Action:   "access_request.submit",
		Resource: request.ID,
		Result:   "success",
		Metadata: map[string]any{
			"table":    table,
			"grant_to": grantTo,
		},
	})

	return request, nil
}

// RequestInfo asks for additional information before a decision. The assignee
// names who has to respond; an admin may direct the ask at someone other than
// the original requester.
func (s *AccessRequestService) RequestInfo(ctx context.Context, p identity.Principal, id, assignee, infoNeeded string) error {
	ctx = ensureContext(ctx)

	infoNeeded = strings.TrimSpace(infoNeeded)
	if infoNeeded == "" {
		return apperrors.NewBadRequest("a description of the information needed is required")
	}

	updates := map[string]any{
		"status":           models.AccessStatusPendingInfo,
		"approver":         p.User,
		"decision_comment": infoNeeded,
		"decision_date":    s.now().UTC(),
	}
	if assignee = strings.TrimSpace(assignee); assignee != "" {
		updates["assigned_to"] = assignee
	}

	result := s.db.WithContext(ctx).
		Model(&models.AccessRequest{}).
		Where("id = ? AND status = ?", id, models.AccessStatusPending).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("access request service: request info: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrAlreadyProcessed
	}

	metrics.WorkflowTransitions.WithLabelValues("access_request", "request_info", "success").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		Actor:    p.User,
		Role:     p.Role,
		Action:   "access_request.request_info",
		Resource: id,
		Result:   "success",
	})
	return nil
}

// ProvideInfo answers an information ask. The supplied text is appended to
// the stored justification so the original ask and answer stay on record, and
// the request returns to pending.
func (s *AccessRequestService) ProvideInfo(ctx context.Context, p identity.Principal, id, additionalInfo string) error {
	ctx = ensureContext(ctx)

	additionalInfo = strings.TrimSpace(additionalInfo)
	if additionalInfo == "" {
		return apperrors.NewBadRequest("additional information is required")
	}

	var request models.AccessRequest
	if err := s.db.WithContext(ctx).First(&request, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("access request service: load: %w", err)
	}
	if request.Status != models.AccessStatusPendingInfo {
		return apperrors.ErrAlreadyProcessed
	}

	justification := request.Justification + "\n[additional info] " + additionalInfo

	result := s.db.WithContext(ctx).
		Model(&models.AccessRequest{}).
		Where("id = ? AND status = ?", id, models.AccessStatusPendingInfo).
		Updates(map[string]any{
			"justification":    justification,
			"additional_info":  additionalInfo,
			"status":           models.AccessStatusPending,
			"approver":         nil,
			"decision_comment": nil,
			"decision_date":    nil,
		})
	if result.Error != nil {
		return fmt.Errorf("access request service: provide info: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrAlreadyProcessed
	}

	metrics.WorkflowTransitions.WithLabelValues("access_request", "provide_info", "success").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		Actor:    p.User,
		Role:     p.Role,
		Action:   "access_request.provide_info",
		Resource: id,
		Result:   "success",
	})
	return nil
}

// Reassign changes who a request is routed to. Metadata only; the status is
// untouched and terminal requests cannot be reassigned.
func (s *AccessRequestService) Reassign(ctx context.Context, p identity.Principal, id, newAssignee string) error {
	ctx = ensureContext(ctx)

	newAssignee = strings.TrimSpace(newAssignee)
	if newAssignee == "" {
		return apperrors.NewBadRequest("assignee is required")
	}

	result := s.db.WithContext(ctx).
		Model(&models.AccessRequest{}).
		Where("id = ? AND status IN ?", id, []models.AccessStatus{models.AccessStatusPending, models.AccessStatusPendingInfo}).
		Update("assigned_to", newAssignee)
	if result.Error != nil {
		return fmt.Errorf("access request service: reassign: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrAlreadyProcessed
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Actor:    p.User,
		Role:     p.Role,
		Action:   "access_request.reassign",
		Resource: id,
		Result:   "success",
		Metadata: map[string]any{"assigned_to": newAssignee},
	})
	return nil
}

// Approve records an approval without issuing the privilege.
func (s *AccessRequestService) Approve(ctx context.Context, p identity.Principal, id, comment string) error {
	return s.decide(ensureContext(ctx), p, id, "approve", models.AccessStatusApproved, comment)
}

// GrantOutcome reports the two independent effects of an approval with grant:
// the recorded decision and the privilege statement. They are never collapsed
// into a single success claim.
type GrantOutcome struct {
	Approved   bool   `json:"approved"`
	Granted    bool   `json:"granted"`
	GrantError string `json:"grant_error,omitempty"`
}

// ApproveWithGrant records the approval and then issues the SELECT grant. A
// grant failure after the decision was recorded is reported in the outcome,
// not hidden behind the approval's success.
func (s *AccessRequestService) ApproveWithGrant(ctx context.Context, p identity.Principal, id, comment string, accessType models.AccessGrantType, grantToName string) (*GrantOutcome, error) {
	ctx = ensureContext(ctx)

	if !accessType.Valid() {
		return nil, apperrors.NewBadRequest("access type must be USER or ROLE")
	}
	grantToName = strings.TrimSpace(grantToName)
	if grantToName == "" {
		return nil, apperrors.NewBadRequest("grant target name is required")
	}

	var request models.AccessRequest
	if err := s.db.WithContext(ctx).First(&request, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrAlreadyProcessed
		}
		return nil, fmt.Errorf("access request service: load: %w", err)
	}

	if err := s.decide(ctx, p, id, "approve", models.AccessStatusApproved, comment); err != nil {
		return nil, err
	}

	outcome := &GrantOutcome{Approved: true}

	stmt := grantStatement(request.TableFullName, accessType, grantToName)
	if err := s.exec.Exec(ctx, stmt); err != nil {
		outcome.GrantError = err.Error()
		metrics.WorkflowTransitions.WithLabelValues("access_request", "grant", "failed").Inc()
		s.log.Error("grant failed after approval was recorded",
			zap.String("request_id", id),
			zap.String("table", request.TableFullName),
			zap.Error(err),
		)
		recordAudit(s.audit, ctx, AuditEntry{
			Actor:    p.User,
			Role:     p.Role,
			Action:   "access_request.grant",
			Resource: id,
			Result:   "failed",
		})
		return outcome, nil
	}

	outcome.Granted = true
	metrics.WorkflowTransitions.WithLabelValues("access_request", "grant", "success").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		Actor:    p.User,
		Role:     p.Role,
		Action:   "access_request.grant",
		Resource: id,
		Result:   "success",
		Metadata: map[string]any{
			"table":    request.TableFullName,
			"grant_to": grantToName,
		},
	})
	return outcome, nil
}

// Deny records a denial. No privilege is issued.
func (s *AccessRequestService) Deny(ctx context.Context, p identity.Principal, id, comment string) error {
	return s.decide(ensureContext(ctx), p, id, "deny", models.AccessStatusDenied, comment)
}

func (s *AccessRequestService) decide(ctx context.Context, p identity.Principal, id, transition string, status models.AccessStatus, comment string) error {
	updates := map[string]any{
		"status":        status,
		"approver":      p.User,
		"decision_date": s.now().UTC(),
	}
	if comment = strings.TrimSpace(comment); comment != "" {
		updates["decision_comment"] = comment
	}

	result := s.db.WithContext(ctx).
		Model(&models.AccessRequest{}).
		Where("id = ? AND status = ?", id, models.AccessStatusPending).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("access request service: %s: %w", transition, result.Error)
	}
	if result.RowsAffected == 0 {
		metrics.WorkflowTransitions.WithLabelValues("access_request", transition, "stale").Inc()
		return apperrors.ErrAlreadyProcessed
	}

	metrics.WorkflowTransitions.WithLabelValues("access_request", transition, "success").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		Actor:    p.User,
		Role:     p.Role,
		Action:   "access_request." + transition,
		Resource: id,
		Result:   "success",
	})
	return nil
}

// ListPending returns requests awaiting review, answered asks first, each
// group newest first.
func (s *AccessRequestService) ListPending(ctx context.Context) ([]models.AccessRequest, error) {
	ctx = ensureContext(ctx)

	var requests []models.AccessRequest
	err := s.db.WithContext(ctx).
		Where("status IN ?", []models.AccessStatus{models.AccessStatusPending, models.AccessStatusPendingInfo}).
		Order("CASE WHEN status = 'pending_info' THEN 0 ELSE 1 END, requested_at DESC").
		Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("access request service: list pending: %w", err)
	}
	return requests, nil
}

// ListMine returns the requester's own requests, newest first.
func (s *AccessRequestService) ListMine(ctx context.Context, requester string) ([]models.AccessRequest, error) {
	ctx = ensureContext(ctx)

	var requests []models.AccessRequest
	err := s.db.WithContext(ctx).
		Where("requester = ?", requester).
		Order("requested_at DESC").
		Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("access request service: list mine: %w", err)
	}
	return requests, nil
}

// RevokeExpired issues best-effort revokes for approved grants whose access
// window has closed, marking each so the revoke is attempted once. Individual
// failures are aggregated and do not stop the sweep.
func (s *AccessRequestService) RevokeExpired(ctx context.Context, now time.Time) (int, error) {
	ctx = ensureContext(ctx)

	var due []models.AccessRequest
	err := s.db.WithContext(ctx).
		Where("status = ? AND access_end_date < ? AND revoked_at IS NULL", models.AccessStatusApproved, now).
		Find(&due).Error
	if err != nil {
		return 0, fmt.Errorf("access request service: find expired: %w", err)
	}

	var (
		revoked int
		errs    error
	)
	for _, request := range due {
		stmt := revokeStatement(request.TableFullName, request.AccessType, request.GrantToName)
		if execErr := s.exec.Exec(ctx, stmt); execErr != nil {
			errs = multierr.Append(errs, fmt.Errorf("revoke %s: %w", request.ID, execErr))
			continue
		}

		result := s.db.WithContext(ctx).
			Model(&models.AccessRequest{}).
			Where("id = ? AND revoked_at IS NULL", request.ID).
			Update("revoked_at", now.UTC())
		if result.Error != nil {
			errs = multierr.Append(errs, fmt.Errorf("mark revoked %s: %w", request.ID, result.Error))
			continue
		}
		if result.RowsAffected > 0 {
			revoked++
		}
	}

	return revoked, errs
}

func grantStatement(table string, accessType models.AccessGrantType, grantTo string) string {
	return fmt.Sprintf("GRANT SELECT ON TABLE %s TO %s %s",
		executor.QualifiedIdent(table), grantKeyword(accessType), executor.QuoteIdent(grantTo))
}

func revokeStatement(table string, accessType models.AccessGrantType, grantTo string) string {
	return fmt.Sprintf("REVOKE SELECT ON TABLE %s FROM %s %s",
		executor.QualifiedIdent(table), grantKeyword(accessType), executor.QuoteIdent(grantTo))
}

func grantKeyword(accessType models.AccessGrantType) string {
	if accessType == models.AccessGrantUser {
		return "USER"
	}
	return "ROLE"
}
