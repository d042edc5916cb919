package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/datakite/steward/internal/models"
)

// Checker answers whether a role holds a permission kind by consulting the
// role-permission assignment store.
type Checker struct {
	db *gorm.DB
}

// NewChecker constructs a permission checker backed by the provided database.
func NewChecker(db *gorm.DB) (*Checker, error) {
	if db == nil {
		return nil, errors.New("permission checker: db is required")
	}
	return &Checker{db: db}, nil
}

// Has reports whether (role, kind) exists in the store. A missing row yields
// (false, nil); a store failure yields (false, err) and callers must treat it
// as "cannot authorize" and deny.
func (c *Checker) Has(ctx context.Context, role string, kind Kind) (bool, error) {
	ctx = ensureContext(ctx)

	role = strings.TrimSpace(role)
	if role == "" {
		return false, errors.New("permission checker: role is required")
	}
	if !kind.Valid() {
		return false, fmt.Errorf("permission checker: unknown permission kind %q", kind)
	}

	var assignment models.RolePermission
	err := c.db.WithContext(ctx).
		Where("role = ? AND kind = ?", role, string(kind)).
		First(&assignment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("permission checker: lookup: %w", err)
	}

	return true, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
