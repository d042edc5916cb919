package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/datakite/steward/pkg/logger"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

// recordAudit persists an audit entry without letting failures propagate into
// the caller's result.
func recordAudit(svc *AuditService, ctx context.Context, entry AuditEntry) {
	if svc == nil {
		return
	}
	if err := svc.Log(ctx, entry); err != nil {
		logger.WithModule("audit").Warn("failed to record audit entry",
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}

func strPtr(s string) *string {
	return &s
}
