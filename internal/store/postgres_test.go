package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardmint/scan-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_SaveRecord_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(item_id\) DO UPDATE`).
		WithArgs("item-1", "/scans/item-1.jpg", "rare",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), "complete", "", 0, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveRecord(context.Background(), testRecord("item-1"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecord_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM final_records WHERE item_id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRecord(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get record")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendAudit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	entry := testAudit("item-1")
	mock.ExpectExec(`INSERT INTO audit_entries`).
		WithArgs(entry.ID, entry.ItemID, entry.ApprovalID, entry.Status, entry.Reason,
			entry.Confidence, entry.Threshold, string(entry.Tier), entry.CorpusValidated, entry.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.AppendAudit(context.Background(), entry)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendAuditBatch_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"audit_entries"},
		[]string{"id", "item_id", "approval_id", "status", "reason",
			"confidence", "threshold", "tier", "corpus_validated", "created_at"}).
		WillReturnResult(2)

	entries := []model.AuditEntry{testAudit("item-1"), testAudit("item-2")}
	err := s.AppendAuditBatch(context.Background(), entries)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountApprovals(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	since := time.Now().Add(-time.Hour)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_entries`).
		WithArgs(string(model.ApprovalAutoApproved), since).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4))

	n, err := s.CountApprovals(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
