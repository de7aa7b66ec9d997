package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/cardmint/scan-cli/internal/db"
	"github.com/cardmint/scan-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"get_record": `SELECT item_id, source_path, tier, primary_result, verification, routing, approval,
	               final_confidence, status, failure_reason, retry_count, created_at, updated_at
	               FROM final_records WHERE item_id = $1`,
	"append_audit": `INSERT INTO audit_entries
	                 (id, item_id, approval_id, status, reason, confidence, threshold, tier, corpus_validated, created_at)
	                 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"count_approvals": `SELECT COUNT(*) FROM audit_entries WHERE status = $1 AND created_at > $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS final_records (
	item_id          TEXT PRIMARY KEY,
	source_path      TEXT NOT NULL,
	tier             TEXT NOT NULL,
	primary_result   JSONB,
	verification     JSONB,
	routing          JSONB NOT NULL,
	approval         JSONB NOT NULL,
	final_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	status           TEXT NOT NULL,
	failure_reason   TEXT NOT NULL DEFAULT '',
	retry_count      INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_entries (
	id               TEXT PRIMARY KEY,
	item_id          TEXT NOT NULL,
	approval_id      TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	reason           TEXT NOT NULL,
	confidence       DOUBLE PRECISION NOT NULL,
	threshold        DOUBLE PRECISION NOT NULL,
	tier             TEXT NOT NULL,
	corpus_validated BOOLEAN NOT NULL DEFAULT FALSE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_final_records_status ON final_records(status);
CREATE INDEX IF NOT EXISTS idx_final_records_tier ON final_records(tier);
CREATE INDEX IF NOT EXISTS idx_audit_entries_item_id ON audit_entries(item_id);
CREATE INDEX IF NOT EXISTS idx_audit_entries_status_created ON audit_entries(status, created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveRecord(ctx context.Context, record *model.FinalRecord) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	primaryJSON, verificationJSON, routingJSON, approvalJSON, err := marshalRecordParts(record)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record")
	}
	var primary, verification any
	if primaryJSON.Valid {
		primary = []byte(primaryJSON.String)
	}
	if verificationJSON.Valid {
		verification = []byte(verificationJSON.String)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO final_records
		 (item_id, source_path, tier, primary_result, verification, routing, approval,
		  final_confidence, status, failure_reason, retry_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (item_id) DO UPDATE SET
		  source_path = EXCLUDED.source_path,
		  tier = EXCLUDED.tier,
		  primary_result = EXCLUDED.primary_result,
		  verification = EXCLUDED.verification,
		  routing = EXCLUDED.routing,
		  approval = EXCLUDED.approval,
		  final_confidence = EXCLUDED.final_confidence,
		  status = EXCLUDED.status,
		  failure_reason = EXCLUDED.failure_reason,
		  retry_count = EXCLUDED.retry_count,
		  updated_at = EXCLUDED.updated_at`,
		record.ItemID, record.SourcePath, string(record.Tier),
		primary, verification, []byte(routingJSON), []byte(approvalJSON),
		record.FinalConfidence, string(record.Status), record.FailureReason,
		record.RetryCount, record.CreatedAt, record.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save record %s", record.ItemID)
}

func (s *PostgresStore) GetRecord(ctx context.Context, itemID string) (*model.FinalRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT item_id, source_path, tier, primary_result, verification, routing, approval,
		        final_confidence, status, failure_reason, retry_count, created_at, updated_at
		 FROM final_records WHERE item_id = $1`,
		itemID,
	)
	r, err := scanRecordPg(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "postgres: get record %s", itemID)
	}
	return r, err
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.FinalRecord, error) {
	query := `SELECT item_id, source_path, tier, primary_result, verification, routing, approval,
	                 final_confidence, status, failure_reason, retry_count, created_at, updated_at
	          FROM final_records WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.Approval != "" {
		query += ` AND approval->>'status' = ` + arg(string(filter.Approval))
	}
	if filter.Tier != "" {
		query += ` AND tier = ` + arg(string(filter.Tier))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ` + arg(filter.CreatedAfter)
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var records []model.FinalRecord
	for rows.Next() {
		r, err := scanRecordPg(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_entries
		 (id, item_id, approval_id, status, reason, confidence, threshold, tier, corpus_validated, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.ItemID, entry.ApprovalID, entry.Status, entry.Reason,
		entry.Confidence, entry.Threshold, string(entry.Tier), entry.CorpusValidated, entry.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: append audit for %s", entry.ItemID)
}

// AppendAuditBatch bulk-inserts audit entries via COPY.
func (s *PostgresStore) AppendAuditBatch(ctx context.Context, entries []model.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{
			e.ID, e.ItemID, e.ApprovalID, e.Status, e.Reason,
			e.Confidence, e.Threshold, string(e.Tier), e.CorpusValidated, e.CreatedAt,
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "audit_entries",
		[]string{"id", "item_id", "approval_id", "status", "reason",
			"confidence", "threshold", "tier", "corpus_validated", "created_at"},
		rows)
	return eris.Wrap(err, "postgres: append audit batch")
}

func (s *PostgresStore) ListAudit(ctx context.Context, itemID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, item_id, approval_id, status, reason, confidence, threshold, tier, corpus_validated, created_at
		 FROM audit_entries WHERE item_id = $1 ORDER BY created_at DESC LIMIT $2`,
		itemID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit")
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var tier string
		if err := rows.Scan(&e.ID, &e.ItemID, &e.ApprovalID, &e.Status, &e.Reason,
			&e.Confidence, &e.Threshold, &tier, &e.CorpusValidated, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		e.Tier = model.Tier(tier)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list audit iterate")
}

func (s *PostgresStore) CountApprovals(ctx context.Context, since time.Time) (int, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_entries WHERE status = $1 AND created_at > $2`,
		string(model.ApprovalAutoApproved), since,
	)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count approvals")
	}
	return n, nil
}

func scanRecordPg(row pgx.Row) (*model.FinalRecord, error) {
	var r model.FinalRecord
	var tier, status string
	var primaryJSON, verificationJSON []byte
	var routingJSON, approvalJSON []byte

	err := row.Scan(&r.ItemID, &r.SourcePath, &tier, &primaryJSON, &verificationJSON,
		&routingJSON, &approvalJSON, &r.FinalConfidence, &status, &r.FailureReason,
		&r.RetryCount, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan record")
	}
	r.Tier = model.Tier(tier)
	r.Status = model.RecordStatus(status)

	if len(primaryJSON) > 0 {
		r.Primary = &model.PrimaryResult{}
		if err := json.Unmarshal(primaryJSON, r.Primary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal primary result")
		}
	}
	if len(verificationJSON) > 0 {
		r.Verification = &model.VerificationResult{}
		if err := json.Unmarshal(verificationJSON, r.Verification); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal verification")
		}
	}
	if err := json.Unmarshal(routingJSON, &r.Routing); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal routing")
	}
	if err := json.Unmarshal(approvalJSON, &r.Approval); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal approval")
	}
	return &r, nil
}
