package store

import (
	"context"
	"time"

	"github.com/cardmint/scan-cli/internal/model"
)

// RecordFilter specifies criteria for listing final records.
type RecordFilter struct {
	Status       model.RecordStatus   `json:"status,omitempty"`
	Approval     model.ApprovalStatus `json:"approval,omitempty"`
	Tier         model.Tier           `json:"tier,omitempty"`
	CreatedAfter time.Time            `json:"created_after,omitempty"`
	Limit        int                  `json:"limit,omitempty"`
	Offset       int                  `json:"offset,omitempty"`
}

// Store defines the persistence interface for the identification pipeline.
type Store interface {
	// Records. SaveRecord is an idempotent upsert on ItemID: reprocessing
	// an item overwrites its record rather than duplicating it.
	SaveRecord(ctx context.Context, record *model.FinalRecord) error
	GetRecord(ctx context.Context, itemID string) (*model.FinalRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]model.FinalRecord, error)

	// Audit trail. Append-only; entries are never updated.
	AppendAudit(ctx context.Context, entry model.AuditEntry) error
	AppendAuditBatch(ctx context.Context, entries []model.AuditEntry) error
	ListAudit(ctx context.Context, itemID string, limit int) ([]model.AuditEntry, error)
	CountApprovals(ctx context.Context, since time.Time) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
