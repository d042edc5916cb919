package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/datakite/steward/internal/executor"
	"github.com/datakite/steward/internal/identity"
	apperrors "github.com/datakite/steward/pkg/errors"
	"github.com/datakite/steward/pkg/logger"
)

// ProvisionerConfig names the infrastructure objects a role needs access to
// before it can reach the service at all.
type ProvisionerConfig struct {
	ServiceName string
	ComputePool string
	Database    string
	Schema      string
	Warehouse   string
}

func (c ProvisionerConfig) validate() error {
	switch {
	case strings.TrimSpace(c.ServiceName) == "":
		return errors.New("provisioner: service name is required")
	case strings.TrimSpace(c.ComputePool) == "":
		return errors.New("provisioner: compute pool is required")
	case strings.TrimSpace(c.Database) == "":
		return errors.New("provisioner: database is required")
	case strings.TrimSpace(c.Schema) == "":
		return errors.New("provisioner: schema is required")
	case strings.TrimSpace(c.Warehouse) == "":
		return errors.New("provisioner: warehouse is required")
	}
	return nil
}

// StepFailure records one provisioning step that did not complete.
type StepFailure struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

// ProvisionResult enumerates which steps succeeded and which failed rather
// than collapsing to a single boolean.
type ProvisionResult struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []StepFailure `json:"failed"`
	Full      bool          `json:"full_success"`
}

type provisionStep struct {
	name   string
	grant  string
	revoke string
}

// ProvisionerService grants and revokes the coarse infrastructure privileges
// a role needs to reach the service. Each step runs independently; a failure
// does not abort the remainder.
type ProvisionerService struct {
	exec  executor.Executor
	steps []provisionStep
	audit *AuditService
	log   *zap.Logger
}

// NewProvisionerService constructs the provisioner from the configured object names.
func NewProvisionerService(exec executor.Executor, cfg ProvisionerConfig, audit *AuditService) (*ProvisionerService, error) {
	if exec == nil {
		return nil, errors.New("provisioner: executor is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &ProvisionerService{
		exec:  exec,
		steps: buildSteps(cfg),
		audit: audit,
		log:   logger.WithModule("provisioner"),
	}, nil
}

func buildSteps(cfg ProvisionerConfig) []provisionStep {
	service := executor.QualifiedIdent(cfg.ServiceName)
	pool := executor.QuoteIdent(cfg.ComputePool)
	database := executor.QuoteIdent(cfg.Database)
	schema := executor.QuoteIdent(cfg.Database) + "." + executor.QuoteIdent(cfg.Schema)
	warehouse := executor.QuoteIdent(cfg.Warehouse)

	return []provisionStep{
		{
			name:   "service usage",
			grant:  "GRANT USAGE ON SERVICE " + service,
			revoke: "REVOKE USAGE ON SERVICE " + service,
		},
		{
			name:   "service endpoints",
			grant:  "GRANT SERVICE ROLE " + service + "!ALL_ENDPOINTS_USAGE",
			revoke: "REVOKE SERVICE ROLE " + service + "!ALL_ENDPOINTS_USAGE",
		},
		{
			name:   "compute pool usage",
			grant:  "GRANT USAGE ON COMPUTE POOL " + pool,
			revoke: "REVOKE USAGE ON COMPUTE POOL " + pool,
		},
		{
			name:   "database usage",
			grant:  "GRANT USAGE ON DATABASE " + database,
			revoke: "REVOKE USAGE ON DATABASE " + database,
		},
		{
			name:   "schema usage",
			grant:  "GRANT USAGE ON SCHEMA " + schema,
			revoke: "REVOKE USAGE ON SCHEMA " + schema,
		},
		{
			name:   "table access",
			grant:  "GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA " + schema,
			revoke: "REVOKE SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA " + schema,
		},
		{
			name:   "warehouse usage",
			grant:  "GRANT USAGE ON WAREHOUSE " + warehouse,
			revoke: "REVOKE USAGE ON WAREHOUSE " + warehouse,
		},
	}
}

// Grant issues the full ordered privilege sequence to the role.
func (s *ProvisionerService) Grant(ctx context.Context, p identity.Principal, role string) (*ProvisionResult, error) {
	return s.run(ctx, p, role, "grant", false)
}

// Revoke removes the privilege sequence from the role, in reverse order.
func (s *ProvisionerService) Revoke(ctx context.Context, p identity.Principal, role string) (*ProvisionResult, error) {
	return s.run(ctx, p, role, "revoke", true)
}

func (s *ProvisionerService) run(ctx context.Context, p identity.Principal, role, action string, reverse bool) (*ProvisionResult, error) {
	ctx = ensureContext(ctx)

	role = strings.TrimSpace(role)
	if role == "" {
		return nil, apperrors.NewBadRequest("role is required")
	}

	quoted := executor.QuoteIdent(role)
	result := &ProvisionResult{Succeeded: []string{}, Failed: []StepFailure{}}

	var errs error
	for i := range s.steps {
		step := s.steps[i]
		if reverse {
			step = s.steps[len(s.steps)-1-i]
		}

		var stmt string
		if action == "grant" {
			stmt = step.grant + " TO ROLE " + quoted
		} else {
			stmt = step.revoke + " FROM ROLE " + quoted
		}

		if err := s.exec.Exec(ctx, stmt); err != nil {
			result.Failed = append(result.Failed, StepFailure{Step: step.name, Error: err.Error()})
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		result.Succeeded = append(result.Succeeded, step.name)
	}

	result.Full = len(result.Failed) == 0
	if errs != nil {
		s.log.Warn("role provisioning completed with failures",
			zap.String("role", role),
			zap.String("action", action),
			zap.Error(errs),
		)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Actor:    p.User,
		Role:     p.Role,
		Action:   "role." + action,
		Resource: role,
		Result:   provisionOutcome(result),
		Metadata: map[string]any{
			"succeeded": result.Succeeded,
			"failed":    len(result.Failed),
		},
	})

	return result, nil
}

func provisionOutcome(result *ProvisionResult) string {
	switch {
	case result.Full:
		return "success"
	case len(result.Succeeded) > 0:
		return "partial"
	default:
		return "failed"
	}
}
