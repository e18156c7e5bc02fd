/*
Package sqlite provides a SQLite-backed implementation of the ledger
storage interfaces.

PURPOSE:
  Implements ledger.TxStore (documents, audit log, advance links,
  verification runs) using SQLite. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

INTEGRITY ENFORCEMENT IN THE SCHEMA:
  - UNIQUE (tenant_id, doc_type, sequence_number): two concurrent
    finalizations can never commit the same sequence; the loser gets
    ledger.ErrSequenceConflict and the engine retries.
  - UNIQUE (advance_id) on advance_links: an advance is consumed by at
    most one final invoice, even under concurrent linking.
  - No UPDATE or DELETE statement exists for audit_log rows.
  - Sequence scans never filter on deleted_at: soft-deleted documents
    keep occupying their numbers, as gap-free numbering requires.

CONCURRENCY:
  Uses a sync.RWMutex so a WithTx scope (the finalization critical
  section) excludes all other writers in-process. With PostgreSQL,
  row-level locks (SELECT ... FOR UPDATE on the tenant's last document)
  would replace the mutex.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): readers don't block,
  one writer at a time, better crash recovery. Chain verification only
  needs a consistent read snapshot, so it runs concurrently with
  finalizations.

USAGE:
  store, err := sqlite.New("./data/fiscal.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, signer, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface contracts
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/fiscal-engine/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and matches
	// the one-writer model.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Fiscal documents (invoices, credit notes, quotes)
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		doc_type TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'standard',
		number TEXT NOT NULL,
		sequence_number INTEGER,
		status TEXT NOT NULL,
		issue_date TEXT NOT NULL,
		counterparty_id TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'EUR',
		total TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		hash TEXT,
		previous_hash TEXT,
		signature TEXT,
		is_locked BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT
	);

	-- CRITICAL: gap-free numbering. A sequence number is assigned exactly
	-- once per tenant+type; a concurrent finalization that lost the race
	-- violates this index and is retried with a fresh number.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_sequence
		ON documents(tenant_id, doc_type, sequence_number)
		WHERE sequence_number IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_documents_tenant_type
		ON documents(tenant_id, doc_type);
	CREATE INDEX IF NOT EXISTS idx_documents_status
		ON documents(status);
	CREATE INDEX IF NOT EXISTS idx_documents_counterparty
		ON documents(counterparty_id);

	-- Audit log (append-only; no UPDATE or DELETE is ever issued)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		action TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		actor_role TEXT,
		origin TEXT,
		diff_json TEXT,
		signature TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_document
		ON audit_log(document_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_tenant
		ON audit_log(tenant_id, timestamp);

	-- Advance/final settlement links
	CREATE TABLE IF NOT EXISTS advance_links (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		advance_id TEXT NOT NULL,
		final_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: an advance is consumed by at most one final invoice.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_links_advance
		ON advance_links(advance_id);
	CREATE INDEX IF NOT EXISTS idx_links_final
		ON advance_links(final_id);

	-- Chain verification runs (compliance history)
	CREATE TABLE IF NOT EXISTS verification_runs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		doc_type TEXT NOT NULL,
		valid BOOLEAN NOT NULL,
		broken_at INTEGER,
		reason TEXT,
		checked INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_tenant
		ON verification_runs(tenant_id, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so every query helper
// works inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// DOCUMENT STORE (ledger.DocumentStore interface)
// =============================================================================

func (s *Store) InsertDocument(ctx context.Context, doc ledger.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertDocument(ctx, s.db, doc)
}

func insertDocument(ctx context.Context, db dbtx, doc ledger.Document) error {
	query := `
		INSERT INTO documents
		(id, tenant_id, doc_type, kind, number, sequence_number, status, issue_date,
		 counterparty_id, currency, total, tax_amount, hash, previous_hash, signature,
		 is_locked, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var seq any
	if doc.Sequence != nil {
		seq = *doc.Sequence
	}
	_, err := db.ExecContext(ctx, query,
		doc.ID, doc.TenantID, doc.Type.TypeID(), doc.Kind, doc.Number, seq,
		doc.Status, doc.IssueDate.String(), doc.CounterpartyID, doc.Currency,
		doc.Total.String(), doc.TaxAmount.String(),
		nullString(doc.Hash), nullString(doc.PreviousHash), nullString(doc.Signature),
		doc.Locked,
		doc.CreatedAt.UTC().Format(time.RFC3339Nano),
		doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
		nullTime(doc.DeletedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrSequenceConflict
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

const documentColumns = `id, tenant_id, doc_type, kind, number, sequence_number, status,
	issue_date, counterparty_id, currency, total, tax_amount, hash, previous_hash,
	signature, is_locked, created_at, updated_at, deleted_at`

func (s *Store) GetDocument(ctx context.Context, id ledger.DocumentID) (*ledger.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDocument(ctx, s.db, id)
}

func getDocument(ctx context.Context, db dbtx, id ledger.DocumentID) (*ledger.Document, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	doc, err := scanDocument(rows)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) UpdateDraft(ctx context.Context, doc ledger.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateDraft(ctx, s.db, doc)
}

func updateDraft(ctx context.Context, db dbtx, doc ledger.Document) error {
	query := `
		UPDATE documents
		SET kind = ?, issue_date = ?, counterparty_id = ?, currency = ?,
		    total = ?, tax_amount = ?, updated_at = ?
		WHERE id = ? AND is_locked = FALSE
	`
	res, err := db.ExecContext(ctx, query,
		doc.Kind, doc.IssueDate.String(), doc.CounterpartyID, doc.Currency,
		doc.Total.String(), doc.TaxAmount.String(),
		doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
		doc.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update draft: %w", err)
	}
	return lockedOrMissing(ctx, db, res, doc.ID)
}

func (s *Store) FinalizeDocument(ctx context.Context, id ledger.DocumentID, sequence int64, number string, link ledger.ChainLink, status ledger.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return finalizeDocument(ctx, s.db, id, sequence, number, link, status)
}

func finalizeDocument(ctx context.Context, db dbtx, id ledger.DocumentID, sequence int64, number string, link ledger.ChainLink, status ledger.Status) error {
	query := `
		UPDATE documents
		SET sequence_number = ?, number = ?, hash = ?, previous_hash = ?,
		    signature = ?, status = ?, is_locked = TRUE, updated_at = ?
		WHERE id = ? AND is_locked = FALSE AND status = ?
	`
	res, err := db.ExecContext(ctx, query,
		sequence, number, link.Hash, link.PreviousHash, link.Signature, status,
		time.Now().UTC().Format(time.RFC3339Nano),
		id, ledger.StatusDraft,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrSequenceConflict
		}
		return fmt.Errorf("failed to finalize document: %w", err)
	}
	return lockedOrMissing(ctx, db, res, id)
}

func (s *Store) SetStatus(ctx context.Context, id ledger.DocumentID, status ledger.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setStatus(ctx, s.db, id, status)
}

func setStatus(ctx context.Context, db dbtx, id ledger.DocumentID, status ledger.Status) error {
	res, err := db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ledger.ErrDocumentNotFound
	}
	return nil
}

func (s *Store) DeleteDraft(ctx context.Context, id ledger.DocumentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteDraft(ctx, s.db, id)
}

func deleteDraft(ctx context.Context, db dbtx, id ledger.DocumentID) error {
	res, err := db.ExecContext(ctx,
		`DELETE FROM documents WHERE id = ? AND is_locked = FALSE AND status = ?`,
		id, ledger.StatusDraft)
	if err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		doc, err := getDocument(ctx, db, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return ledger.ErrDocumentNotFound
		}
		return ledger.ErrDraftOnly
	}
	return nil
}

func (s *Store) SoftDeleteDocument(ctx context.Context, id ledger.DocumentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return softDeleteDocument(ctx, s.db, id)
}

func softDeleteDocument(ctx context.Context, db dbtx, id ledger.DocumentID) error {
	res, err := db.ExecContext(ctx,
		`UPDATE documents SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete document: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ledger.ErrDocumentNotFound
	}
	return nil
}

func (s *Store) MaxSequence(ctx context.Context, tenantID ledger.TenantID, typeID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maxSequence(ctx, s.db, tenantID, typeID)
}

func maxSequence(ctx context.Context, db dbtx, tenantID ledger.TenantID, typeID string) (int64, error) {
	// Deliberately no deleted_at filter: soft-deleted documents keep
	// occupying their sequence numbers.
	var max int64
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM documents
		 WHERE tenant_id = ? AND doc_type = ?`,
		tenantID, typeID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read max sequence: %w", err)
	}
	return max, nil
}

func (s *Store) LastChainedHash(ctx context.Context, tenantID ledger.TenantID, typeID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastChainedHash(ctx, s.db, tenantID, typeID)
}

func lastChainedHash(ctx context.Context, db dbtx, tenantID ledger.TenantID, typeID string) (string, error) {
	var hash string
	err := db.QueryRowContext(ctx,
		`SELECT hash FROM documents
		 WHERE tenant_id = ? AND doc_type = ? AND sequence_number IS NOT NULL
		 ORDER BY sequence_number DESC LIMIT 1`,
		tenantID, typeID).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read last chained hash: %w", err)
	}
	return hash, nil
}

func (s *Store) ListChained(ctx context.Context, tenantID ledger.TenantID, typeID string) ([]ledger.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listChained(ctx, s.db, tenantID, typeID)
}

func listChained(ctx context.Context, db dbtx, tenantID ledger.TenantID, typeID string) ([]ledger.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE tenant_id = ? AND doc_type = ? AND sequence_number IS NOT NULL
		ORDER BY sequence_number ASC`
	return queryDocuments(ctx, db, query, tenantID, typeID)
}

func (s *Store) ListDocuments(ctx context.Context, tenantID ledger.TenantID, typeID string) ([]ledger.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listDocuments(ctx, s.db, tenantID, typeID)
}

func listDocuments(ctx context.Context, db dbtx, tenantID ledger.TenantID, typeID string) ([]ledger.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE tenant_id = ? AND doc_type = ? AND deleted_at IS NULL
		ORDER BY created_at ASC`
	return queryDocuments(ctx, db, query, tenantID, typeID)
}

func (s *Store) ListTenants(ctx context.Context) ([]ledger.TenantID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTenants(ctx, s.db)
}

func listTenants(ctx context.Context, db dbtx) ([]ledger.TenantID, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM documents ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()
	var tenants []ledger.TenantID
	for rows.Next() {
		var t ledger.TenantID
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func queryDocuments(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.Document, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []ledger.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func scanDocument(rows *sql.Rows) (ledger.Document, error) {
	var (
		doc       ledger.Document
		typeID    string
		seq       sql.NullInt64
		issueDate string
		total     string
		tax       string
		hash      sql.NullString
		prevHash  sql.NullString
		signature sql.NullString
		createdAt string
		updatedAt string
		deletedAt sql.NullString
	)
	err := rows.Scan(
		&doc.ID, &doc.TenantID, &typeID, &doc.Kind, &doc.Number, &seq, &doc.Status,
		&issueDate, &doc.CounterpartyID, &doc.Currency, &total, &tax,
		&hash, &prevHash, &signature, &doc.Locked, &createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		return doc, fmt.Errorf("failed to scan document: %w", err)
	}

	doc.Type = ledger.GetOrCreateType(typeID)
	if seq.Valid {
		v := seq.Int64
		doc.Sequence = &v
	}
	doc.IssueDate, err = ledger.ParseDate(issueDate)
	if err != nil {
		return doc, fmt.Errorf("failed to parse issue date: %w", err)
	}
	doc.Total, err = decimal.NewFromString(total)
	if err != nil {
		return doc, fmt.Errorf("failed to parse total: %w", err)
	}
	doc.TaxAmount, err = decimal.NewFromString(tax)
	if err != nil {
		return doc, fmt.Errorf("failed to parse tax amount: %w", err)
	}
	doc.Hash = hash.String
	doc.PreviousHash = prevHash.String
	doc.Signature = signature.String
	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = parseTime(updatedAt)
	if deletedAt.Valid && deletedAt.String != "" {
		t := parseTime(deletedAt.String)
		doc.DeletedAt = &t
	}
	return doc, nil
}

// lockedOrMissing distinguishes "no rows updated because locked" from
// "no rows because the document doesn't exist".
func lockedOrMissing(ctx context.Context, db dbtx, res sql.Result, id ledger.DocumentID) error {
	n, _ := res.RowsAffected()
	if n > 0 {
		return nil
	}
	doc, err := getDocument(ctx, db, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return ledger.ErrDocumentNotFound
	}
	return ledger.ErrAlreadyFinalized
}

// =============================================================================
// AUDIT STORE (ledger.AuditStore interface; append-only)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, entry)
}

func appendAudit(ctx context.Context, db dbtx, entry ledger.AuditEntry) error {
	var diffJSON []byte
	if entry.Diff != nil {
		var err error
		diffJSON, err = json.Marshal(entry.Diff)
		if err != nil {
			return fmt.Errorf("failed to marshal audit diff: %w", err)
		}
	}
	query := `
		INSERT INTO audit_log
		(id, tenant_id, document_id, action, timestamp, actor_id, actor_role, origin, diff_json, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		entry.ID, entry.TenantID, entry.DocumentID, entry.Action,
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.ActorID, entry.ActorRole, entry.Origin,
		nullString(string(diffJSON)), entry.Signature,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

const auditColumns = `id, tenant_id, document_id, action, timestamp, actor_id, actor_role, origin, diff_json, signature`

func (s *Store) AuditByDocument(ctx context.Context, id ledger.DocumentID) ([]ledger.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return auditByDocument(ctx, s.db, id)
}

func auditByDocument(ctx context.Context, db dbtx, id ledger.DocumentID) ([]ledger.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE document_id = ? ORDER BY timestamp ASC`
	return queryAuditEntries(ctx, db, query, id)
}

func (s *Store) QueryAudit(ctx context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryAudit(ctx, s.db, filter)
}

func queryAudit(ctx context.Context, db dbtx, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	var conds []string
	var args []any
	if filter.TenantID != nil {
		conds = append(conds, "tenant_id = ?")
		args = append(args, *filter.TenantID)
	}
	if filter.DocumentID != nil {
		conds = append(conds, "document_id = ?")
		args = append(args, *filter.DocumentID)
	}
	if filter.ActorID != nil {
		conds = append(conds, "actor_id = ?")
		args = append(args, *filter.ActorID)
	}
	if len(filter.Actions) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.Actions)), ",")
		conds = append(conds, "action IN ("+placeholders+")")
		for _, a := range filter.Actions {
			args = append(args, a)
		}
	}
	if filter.From != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.From.UTC().Format(time.RFC3339Nano))
	}
	if filter.To != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.To.UTC().Format(time.RFC3339Nano))
	}

	query := `SELECT ` + auditColumns + ` FROM audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp ASC"
	return queryAuditEntries(ctx, db, query, args...)
}

func queryAuditEntries(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.AuditEntry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []ledger.AuditEntry
	for rows.Next() {
		var (
			entry     ledger.AuditEntry
			timestamp string
			actorRole sql.NullString
			origin    sql.NullString
			diffJSON  sql.NullString
		)
		err := rows.Scan(&entry.ID, &entry.TenantID, &entry.DocumentID, &entry.Action,
			&timestamp, &entry.ActorID, &actorRole, &origin, &diffJSON, &entry.Signature)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Timestamp = parseTime(timestamp)
		entry.ActorRole = actorRole.String
		entry.Origin = origin.String
		if diffJSON.Valid && diffJSON.String != "" {
			if err := json.Unmarshal([]byte(diffJSON.String), &entry.Diff); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit diff: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// =============================================================================
// LINK STORE (ledger.LinkStore interface)
// =============================================================================

func (s *Store) InsertLinks(ctx context.Context, links []ledger.AdvanceLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertLinks(ctx, s.db, links)
}

func insertLinks(ctx context.Context, db dbtx, links []ledger.AdvanceLink) error {
	query := `
		INSERT INTO advance_links (id, tenant_id, advance_id, final_id, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, link := range links {
		_, err := db.ExecContext(ctx, query,
			link.ID, link.TenantID, link.AdvanceID, link.FinalID,
			link.Amount.String(), link.CreatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			if isUniqueConstraintError(err) {
				return &ledger.LinkageError{
					Code:      "already_linked",
					AdvanceID: link.AdvanceID,
					Detail:    "advance already consumed by another final invoice",
				}
			}
			return fmt.Errorf("failed to insert advance link: %w", err)
		}
	}
	return nil
}

func (s *Store) LinksByFinal(ctx context.Context, finalID ledger.DocumentID) ([]ledger.AdvanceLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return linksByFinal(ctx, s.db, finalID)
}

func linksByFinal(ctx context.Context, db dbtx, finalID ledger.DocumentID) ([]ledger.AdvanceLink, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, tenant_id, advance_id, final_id, amount, created_at
		 FROM advance_links WHERE final_id = ? ORDER BY created_at ASC`, finalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query advance links: %w", err)
	}
	defer rows.Close()

	var links []ledger.AdvanceLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func (s *Store) LinkByAdvance(ctx context.Context, advanceID ledger.DocumentID) (*ledger.AdvanceLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return linkByAdvance(ctx, s.db, advanceID)
}

func linkByAdvance(ctx context.Context, db dbtx, advanceID ledger.DocumentID) (*ledger.AdvanceLink, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, tenant_id, advance_id, final_id, amount, created_at
		 FROM advance_links WHERE advance_id = ?`, advanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query advance link: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	link, err := scanLink(rows)
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (s *Store) DeleteLinksByFinal(ctx context.Context, finalID ledger.DocumentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteLinksByFinal(ctx, s.db, finalID)
}

func deleteLinksByFinal(ctx context.Context, db dbtx, finalID ledger.DocumentID) error {
	_, err := db.ExecContext(ctx, `DELETE FROM advance_links WHERE final_id = ?`, finalID)
	if err != nil {
		return fmt.Errorf("failed to delete advance links: %w", err)
	}
	return nil
}

func scanLink(rows *sql.Rows) (ledger.AdvanceLink, error) {
	var (
		link      ledger.AdvanceLink
		amount    string
		createdAt string
	)
	if err := rows.Scan(&link.ID, &link.TenantID, &link.AdvanceID, &link.FinalID, &amount, &createdAt); err != nil {
		return link, fmt.Errorf("failed to scan advance link: %w", err)
	}
	var err error
	link.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return link, fmt.Errorf("failed to parse link amount: %w", err)
	}
	link.CreatedAt = parseTime(createdAt)
	return link, nil
}

// =============================================================================
// RUN STORE (ledger.RunStore interface)
// =============================================================================

func (s *Store) SaveVerificationRun(ctx context.Context, run ledger.VerificationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveVerificationRun(ctx, s.db, run)
}

func saveVerificationRun(ctx context.Context, db dbtx, run ledger.VerificationRun) error {
	var brokenAt any
	if run.BrokenAt != nil {
		brokenAt = *run.BrokenAt
	}
	query := `
		INSERT INTO verification_runs
		(id, tenant_id, doc_type, valid, broken_at, reason, checked, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		run.ID, run.TenantID, run.TypeID, run.Valid, brokenAt, run.Reason, run.Checked,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.CompletedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save verification run: %w", err)
	}
	return nil
}

func (s *Store) ListVerificationRuns(ctx context.Context, tenantID ledger.TenantID) ([]ledger.VerificationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listVerificationRuns(ctx, s.db, tenantID)
}

func listVerificationRuns(ctx context.Context, db dbtx, tenantID ledger.TenantID) ([]ledger.VerificationRun, error) {
	query := `SELECT id, tenant_id, doc_type, valid, broken_at, reason, checked, started_at, completed_at
		FROM verification_runs`
	var args []any
	if tenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query verification runs: %w", err)
	}
	defer rows.Close()

	var runs []ledger.VerificationRun
	for rows.Next() {
		var (
			run         ledger.VerificationRun
			brokenAt    sql.NullInt64
			reason      sql.NullString
			startedAt   string
			completedAt string
		)
		err := rows.Scan(&run.ID, &run.TenantID, &run.TypeID, &run.Valid,
			&brokenAt, &reason, &run.Checked, &startedAt, &completedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verification run: %w", err)
		}
		if brokenAt.Valid {
			v := brokenAt.Int64
			run.BrokenAt = &v
		}
		run.Reason = reason.String
		run.StartedAt = parseTime(startedAt)
		run.CompletedAt = parseTime(completedAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The store mutex is
// held for the whole scope, so a finalization's read-then-write section
// excludes every other writer.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every Store call through the transaction handle, so
// reads inside WithTx observe the transaction's own writes.
type txStore struct {
	tx *sql.Tx
}

var _ ledger.Store = (*txStore)(nil)

func (ts *txStore) InsertDocument(ctx context.Context, doc ledger.Document) error {
	return insertDocument(ctx, ts.tx, doc)
}

func (ts *txStore) GetDocument(ctx context.Context, id ledger.DocumentID) (*ledger.Document, error) {
	return getDocument(ctx, ts.tx, id)
}

func (ts *txStore) UpdateDraft(ctx context.Context, doc ledger.Document) error {
	return updateDraft(ctx, ts.tx, doc)
}

func (ts *txStore) FinalizeDocument(ctx context.Context, id ledger.DocumentID, sequence int64, number string, link ledger.ChainLink, status ledger.Status) error {
	return finalizeDocument(ctx, ts.tx, id, sequence, number, link, status)
}

func (ts *txStore) SetStatus(ctx context.Context, id ledger.DocumentID, status ledger.Status) error {
	return setStatus(ctx, ts.tx, id, status)
}

func (ts *txStore) DeleteDraft(ctx context.Context, id ledger.DocumentID) error {
	return deleteDraft(ctx, ts.tx, id)
}

func (ts *txStore) SoftDeleteDocument(ctx context.Context, id ledger.DocumentID) error {
	return softDeleteDocument(ctx, ts.tx, id)
}

func (ts *txStore) MaxSequence(ctx context.Context, tenantID ledger.TenantID, typeID string) (int64, error) {
	return maxSequence(ctx, ts.tx, tenantID, typeID)
}

func (ts *txStore) LastChainedHash(ctx context.Context, tenantID ledger.TenantID, typeID string) (string, error) {
	return lastChainedHash(ctx, ts.tx, tenantID, typeID)
}

func (ts *txStore) ListChained(ctx context.Context, tenantID ledger.TenantID, typeID string) ([]ledger.Document, error) {
	return listChained(ctx, ts.tx, tenantID, typeID)
}

func (ts *txStore) ListDocuments(ctx context.Context, tenantID ledger.TenantID, typeID string) ([]ledger.Document, error) {
	return listDocuments(ctx, ts.tx, tenantID, typeID)
}

func (ts *txStore) ListTenants(ctx context.Context) ([]ledger.TenantID, error) {
	return listTenants(ctx, ts.tx)
}

func (ts *txStore) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	return appendAudit(ctx, ts.tx, entry)
}

func (ts *txStore) AuditByDocument(ctx context.Context, id ledger.DocumentID) ([]ledger.AuditEntry, error) {
	return auditByDocument(ctx, ts.tx, id)
}

func (ts *txStore) QueryAudit(ctx context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	return queryAudit(ctx, ts.tx, filter)
}

func (ts *txStore) InsertLinks(ctx context.Context, links []ledger.AdvanceLink) error {
	return insertLinks(ctx, ts.tx, links)
}

func (ts *txStore) LinksByFinal(ctx context.Context, finalID ledger.DocumentID) ([]ledger.AdvanceLink, error) {
	return linksByFinal(ctx, ts.tx, finalID)
}

func (ts *txStore) LinkByAdvance(ctx context.Context, advanceID ledger.DocumentID) (*ledger.AdvanceLink, error) {
	return linkByAdvance(ctx, ts.tx, advanceID)
}

func (ts *txStore) DeleteLinksByFinal(ctx context.Context, finalID ledger.DocumentID) error {
	return deleteLinksByFinal(ctx, ts.tx, finalID)
}

func (ts *txStore) SaveVerificationRun(ctx context.Context, run ledger.VerificationRun) error {
	return saveVerificationRun(ctx, ts.tx, run)
}

func (ts *txStore) ListVerificationRuns(ctx context.Context, tenantID ledger.TenantID) ([]ledger.VerificationRun, error) {
	return listVerificationRuns(ctx, ts.tx, tenantID)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
