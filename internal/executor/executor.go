package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Executor is the contract with the query engine: it accepts a statement and
// either succeeds or fails with a driver error. Grants, revokes, and column
// comments go through it; catalog rows are owned by the metadata store.
type Executor interface {
	Exec(ctx context.Context, stmt string) error
}

// GormExecutor executes statements over the shared gorm handle.
type GormExecutor struct {
	db *gorm.DB
}

// NewGormExecutor wraps the provided database handle.
func NewGormExecutor(db *gorm.DB) (*GormExecutor, error) {
	if db == nil {
		return nil, errors.New("executor: db is required")
	}
	return &GormExecutor{db: db}, nil
}

// Exec runs a single statement with the request context attached.
func (e *GormExecutor) Exec(ctx context.Context, stmt string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	stmt = strings.TrimSpace(stmt)
	if stmt == "" {
		return errors.New("executor: empty statement")
	}
	if err := e.db.WithContext(ctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	return nil
}

// QuoteIdent quotes a single identifier for interpolation into DDL or grant
// statements, where bind parameters are not accepted.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifiedIdent quotes each part of a dotted object name such as
// db.schema.table.
func QualifiedIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = QuoteIdent(part)
	}
	return strings.Join(parts, ".")
}
