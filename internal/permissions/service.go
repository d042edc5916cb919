package permissions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/datakite/steward/internal/models"
	apperrors "github.com/datakite/steward/pkg/errors"
)

var (
	// ErrUnknownKind rejects permission kinds outside the closed set.
	ErrUnknownKind = apperrors.New("UNKNOWN_PERMISSION_KIND", "Unknown permission kind", http.StatusBadRequest)
	// ErrAssignmentNotFound indicates the (role, kind) pair is not granted.
	ErrAssignmentNotFound = apperrors.New("ASSIGNMENT_NOT_FOUND", "Role does not hold that permission", http.StatusNotFound)
)

// Service manages role to permission-kind assignments.
type Service struct {
	db *gorm.DB
}

// NewService constructs a permission management service.
func NewService(db *gorm.DB) (*Service, error) {
	if db == nil {
		return nil, errors.New("permission service: db is required")
	}
	return &Service{db: db}, nil
}

// Grant assigns a permission kind to a role. Granting an already-held
// permission is not an error.
func (s *Service) Grant(ctx context.Context, role string, kind Kind, grantedBy string) (*models.RolePermission, error) {
	ctx = ensureContext(ctx)

	role = strings.TrimSpace(role)
	if role == "" {
		return nil, apperrors.NewBadRequest("role is required")
	}
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}

	var existing models.RolePermission
	err := s.db.WithContext(ctx).
		Where("role = ? AND kind = ?", role, string(kind)).
		First(&existing).Error
	switch {
	case err == nil:
		return &existing, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("permission service: lookup assignment: %w", err)
	}

	assignment := &models.RolePermission{
		Role:      role,
		Kind:      string(kind),
		GrantedBy: strings.TrimSpace(grantedBy),
		GrantedAt: time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(assignment).Error; err != nil {
		return nil, fmt.Errorf("permission service: create assignment: %w", err)
	}
	return assignment, nil
}

// Revoke removes a permission kind from a role.
func (s *Service) Revoke(ctx context.Context, role string, kind Kind) error {
	ctx = ensureContext(ctx)

	role = strings.TrimSpace(role)
	if role == "" {
		return apperrors.NewBadRequest("role is required")
	}
	if !kind.Valid() {
		return ErrUnknownKind
	}

	result := s.db.WithContext(ctx).
		Where("role = ? AND kind = ?", role, string(kind)).
		Delete(&models.RolePermission{})
	if result.Error != nil {
		return fmt.Errorf("permission service: delete assignment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

// ListForRole returns the assignments held by a role.
func (s *Service) ListForRole(ctx context.Context, role string) ([]models.RolePermission, error) {
	ctx = ensureContext(ctx)

	role = strings.TrimSpace(role)
	if role == "" {
		return nil, apperrors.NewBadRequest("role is required")
	}

	var assignments []models.RolePermission
	if err := s.db.WithContext(ctx).
		Where("role = ?", role).
		Order("kind ASC").
		Find(&assignments).Error; err != nil {
		return nil, fmt.Errorf("permission service: list for role: %w", err)
	}
	return assignments, nil
}

// ListAll returns every assignment ordered by role then kind.
func (s *Service) ListAll(ctx context.Context) ([]models.RolePermission, error) {
	ctx = ensureContext(ctx)

	var assignments []models.RolePermission
	if err := s.db.WithContext(ctx).
		Order("role ASC, kind ASC").
		Find(&assignments).Error; err != nil {
		return nil, fmt.Errorf("permission service: list all: %w", err)
	}
	return assignments, nil
}
