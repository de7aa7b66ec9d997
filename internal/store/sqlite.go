package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/cardmint/scan-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS final_records (
	item_id          TEXT PRIMARY KEY,
	source_path      TEXT NOT NULL,
	tier             TEXT NOT NULL,
	primary_result   TEXT,
	verification     TEXT,
	routing          TEXT NOT NULL,
	approval         TEXT NOT NULL,
	final_confidence REAL NOT NULL DEFAULT 0,
	status           TEXT NOT NULL,
	failure_reason   TEXT NOT NULL DEFAULT '',
	retry_count      INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_entries (
	id               TEXT PRIMARY KEY,
	item_id          TEXT NOT NULL,
	approval_id      TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	reason           TEXT NOT NULL,
	confidence       REAL NOT NULL,
	threshold        REAL NOT NULL,
	tier             TEXT NOT NULL,
	corpus_validated INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_final_records_status ON final_records(status);
CREATE INDEX IF NOT EXISTS idx_final_records_tier ON final_records(tier);
CREATE INDEX IF NOT EXISTS idx_audit_entries_item_id ON audit_entries(item_id);
CREATE INDEX IF NOT EXISTS idx_audit_entries_status_created ON audit_entries(status, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRecord(ctx context.Context, record *model.FinalRecord) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	primaryJSON, verificationJSON, routingJSON, approvalJSON, err := marshalRecordParts(record)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal record")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO final_records
		 (item_id, source_path, tier, primary_result, verification, routing, approval,
		  final_confidence, status, failure_reason, retry_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(item_id) DO UPDATE SET
		  source_path = excluded.source_path,
		  tier = excluded.tier,
		  primary_result = excluded.primary_result,
		  verification = excluded.verification,
		  routing = excluded.routing,
		  approval = excluded.approval,
		  final_confidence = excluded.final_confidence,
		  status = excluded.status,
		  failure_reason = excluded.failure_reason,
		  retry_count = excluded.retry_count,
		  updated_at = excluded.updated_at`,
		record.ItemID, record.SourcePath, string(record.Tier),
		primaryJSON, verificationJSON, routingJSON, approvalJSON,
		record.FinalConfidence, string(record.Status), record.FailureReason,
		record.RetryCount, record.CreatedAt, record.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save record %s", record.ItemID)
}

func (s *SQLiteStore) GetRecord(ctx context.Context, itemID string) (*model.FinalRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT item_id, source_path, tier, primary_result, verification, routing, approval,
		        final_confidence, status, failure_reason, retry_count, created_at, updated_at
		 FROM final_records WHERE item_id = ?`,
		itemID,
	)
	return scanRecord(row)
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.FinalRecord, error) {
	query := `SELECT item_id, source_path, tier, primary_result, verification, routing, approval,
	                 final_confidence, status, failure_reason, retry_count, created_at, updated_at
	          FROM final_records WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Approval != "" {
		query += ` AND json_extract(approval, '$.status') = ?`
		args = append(args, string(filter.Approval))
	}
	if filter.Tier != "" {
		query += ` AND tier = ?`
		args = append(args, string(filter.Tier))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter)
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var records []model.FinalRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_entries
		 (id, item_id, approval_id, status, reason, confidence, threshold, tier, corpus_validated, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ItemID, entry.ApprovalID, entry.Status, entry.Reason,
		entry.Confidence, entry.Threshold, string(entry.Tier), entry.CorpusValidated, entry.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: append audit for %s", entry.ItemID)
}

func (s *SQLiteStore) AppendAuditBatch(ctx context.Context, entries []model.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin audit batch")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO audit_entries
		 (id, item_id, approval_id, status, reason, confidence, threshold, tier, corpus_validated, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare audit batch")
	}
	defer stmt.Close()

	for _, entry := range entries {
		if _, err := stmt.ExecContext(ctx,
			entry.ID, entry.ItemID, entry.ApprovalID, entry.Status, entry.Reason,
			entry.Confidence, entry.Threshold, string(entry.Tier), entry.CorpusValidated, entry.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: append audit batch for %s", entry.ItemID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit audit batch")
}

func (s *SQLiteStore) ListAudit(ctx context.Context, itemID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, approval_id, status, reason, confidence, threshold, tier, corpus_validated, created_at
		 FROM audit_entries WHERE item_id = ? ORDER BY created_at DESC LIMIT ?`,
		itemID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit")
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var tier string
		if err := rows.Scan(&e.ID, &e.ItemID, &e.ApprovalID, &e.Status, &e.Reason,
			&e.Confidence, &e.Threshold, &tier, &e.CorpusValidated, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		e.Tier = model.Tier(tier)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list audit iterate")
}

func (s *SQLiteStore) CountApprovals(ctx context.Context, since time.Time) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_entries WHERE status = ? AND created_at > ?`,
		string(model.ApprovalAutoApproved), since,
	)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count approvals")
	}
	return n, nil
}

// helpers

func marshalRecordParts(record *model.FinalRecord) (primary, verification sql.NullString, routing, approval string, err error) {
	if record.Primary != nil {
		b, merr := json.Marshal(record.Primary)
		if merr != nil {
			err = merr
			return
		}
		primary = sql.NullString{String: string(b), Valid: true}
	}
	if record.Verification != nil {
		b, merr := json.Marshal(record.Verification)
		if merr != nil {
			err = merr
			return
		}
		verification = sql.NullString{String: string(b), Valid: true}
	}
	rb, merr := json.Marshal(record.Routing)
	if merr != nil {
		err = merr
		return
	}
	routing = string(rb)
	ab, merr := json.Marshal(record.Approval)
	if merr != nil {
		err = merr
		return
	}
	approval = string(ab)
	return
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.FinalRecord, error) {
	var r model.FinalRecord
	var tier string
	var primaryJSON, verificationJSON sql.NullString
	var routingJSON, approvalJSON string

	err := row.Scan(&r.ItemID, &r.SourcePath, &tier, &primaryJSON, &verificationJSON,
		&routingJSON, &approvalJSON, &r.FinalConfidence, &r.Status, &r.FailureReason,
		&r.RetryCount, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("record not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan record")
	}
	r.Tier = model.Tier(tier)

	if primaryJSON.Valid {
		r.Primary = &model.PrimaryResult{}
		if err := json.Unmarshal([]byte(primaryJSON.String), r.Primary); err != nil {
			return nil, eris.Wrap(err, "unmarshal primary result")
		}
	}
	if verificationJSON.Valid {
		r.Verification = &model.VerificationResult{}
		if err := json.Unmarshal([]byte(verificationJSON.String), r.Verification); err != nil {
			return nil, eris.Wrap(err, "unmarshal verification")
		}
	}
	if err := json.Unmarshal([]byte(routingJSON), &r.Routing); err != nil {
		return nil, eris.Wrap(err, "unmarshal routing")
	}
	if err := json.Unmarshal([]byte(approvalJSON), &r.Approval); err != nil {
		return nil, eris.Wrap(err, "unmarshal approval")
	}
	return &r, nil
}
