package repository

import (
	"context"

	"github.com/aigoflow/analytics-service/internal/models"
)

// Repository aggregates all repository interfaces
type Repository interface {
	Audit() AuditRepositoryInterface
	Event() EventRepositoryInterface
}

// AuditRepositoryInterface defines the append-only audit trail operations.
// Append is best-effort and reports whether the record was persisted.
type AuditRepositoryInterface interface {
	Append(ctx context.Context, rec *models.AuditRecord) bool
	Recent(ctx context.Context, limit int) ([]*models.AuditRecord, error)
	Dropped() int64
}

// EventRepositoryInterface defines event logging operations
type EventRepositoryInterface interface {
	LogEvent(ctx context.Context, level, code, msg string, meta map[string]interface{}) error
}
