/*
store.go - Persistence interfaces for documents, audit entries and links

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  DocumentStore: Fiscal document persistence and sequence/chain queries
  AuditStore:    Append-only audit log
  LinkStore:     Advance/final settlement links
  RunStore:      Chain verification run history
  TxStore:       Transactional scope across all of the above

LOCKING CONTRACT:
  The finalization critical section (read last sequence, compute link,
  lock the record) runs inside WithTx. Implementations must guarantee
  that two concurrent WithTx scopes cannot both observe the same "last
  sequence" for a tenant+type: either by serializing writers outright or
  by enforcing a unique (tenant, type, sequence) index and surfacing
  ErrSequenceConflict so the engine can retry.

IMMUTABILITY CONTRACT:
  - UpdateDraft must refuse locked documents with ErrAlreadyFinalized.
  - FinalizeDocument writes sequence, number, chain fields, status and
    the lock flag as a single atomic update, and only on a draft.
  - SetStatus may touch status (and timestamps) only.
  - Audit entries have no update or delete operation. Ever.
  - DeleteDraft hard-deletes drafts only; finalized documents are
    soft-deleted and keep their sequence number and audit trail.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - ledger/store: In-memory for testing

SEE ALSO:
  - engine.go, finalize.go: The engine operations built on these
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DOCUMENT STORE
// =============================================================================

type DocumentStore interface {
	// InsertDocument persists a new draft.
	InsertDocument(ctx context.Context, doc Document) error

	// GetDocument returns a document by ID, or nil if absent.
	// Soft-deleted documents are returned; callers decide visibility.
	GetDocument(ctx context.Context, id DocumentID) (*Document, error)

	// UpdateDraft rewrites the editable fields of a draft. Returns
	// ErrAlreadyFinalized if the stored document is locked.
	UpdateDraft(ctx context.Context, doc Document) error

	// FinalizeDocument atomically writes sequence, permanent number,
	// chain link, the target status and the lock flag. Returns
	// ErrSequenceConflict if the sequence was taken by a concurrent
	// finalization, ErrAlreadyFinalized if the document is locked.
	FinalizeDocument(ctx context.Context, id DocumentID, sequence int64, number string, link ChainLink, status Status) error

	// SetStatus advances the status of a locked document. No other
	// field may change.
	SetStatus(ctx context.Context, id DocumentID, status Status) error

	// DeleteDraft hard-deletes a draft. Returns ErrDraftOnly for
	// finalized documents.
	DeleteDraft(ctx context.Context, id DocumentID) error

	// SoftDeleteDocument marks a finalized document deleted while
	// preserving its sequence number and chain membership.
	SoftDeleteDocument(ctx context.Context, id DocumentID) error

	// MaxSequence returns the highest assigned sequence for tenant+type
	// across the entire history, including soft-deleted documents.
	// Returns 0 when none exist.
	MaxSequence(ctx context.Context, tenantID TenantID, typeID string) (int64, error)

	// LastChainedHash returns the stored hash of the most recently
	// chained document for tenant+type (including soft-deleted), or ""
	// when the chain is empty.
	LastChainedHash(ctx context.Context, tenantID TenantID, typeID string) (string, error)

	// ListChained returns all chained documents for tenant+type in
	// sequence order, including soft-deleted ones. Used by verification.
	ListChained(ctx context.Context, tenantID TenantID, typeID string) ([]Document, error)

	// ListDocuments returns non-deleted documents for tenant+type in
	// creation order. Used by the API surface.
	ListDocuments(ctx context.Context, tenantID TenantID, typeID string) ([]Document, error)

	// ListTenants returns every tenant with at least one document.
	ListTenants(ctx context.Context) ([]TenantID, error)
}

// =============================================================================
// AUDIT STORE - Append-only
// =============================================================================

type AuditStore interface {
	// AppendAudit persists an audit entry. This is the ONLY write
	// operation; entries are never updated or deleted.
	AppendAudit(ctx context.Context, entry AuditEntry) error

	// AuditByDocument returns a document's trail in chronological order.
	// The trail survives soft-deletion of the document.
	AuditByDocument(ctx context.Context, id DocumentID) ([]AuditEntry, error)

	// QueryAudit returns entries matching the filter, chronologically.
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	TenantID   *TenantID
	DocumentID *DocumentID
	ActorID    *ActorID
	Actions    []AuditAction
	From       *time.Time
	To         *time.Time
}

// =============================================================================
// LINK STORE - Advance/final settlement
// =============================================================================

// AdvanceLink joins an advance (deposit) invoice to the final invoice
// consuming it. Amount snapshots the advance's total at link time, so
// later edits can never retroactively change a settled link. Links are
// never updated; they are removed only when the final invoice is deleted
// while still a draft.
type AdvanceLink struct {
	ID        string
	TenantID  TenantID
	AdvanceID DocumentID
	FinalID   DocumentID
	Amount    decimal.Decimal
	CreatedAt time.Time
}

type LinkStore interface {
	// InsertLinks persists a batch of links atomically.
	InsertLinks(ctx context.Context, links []AdvanceLink) error

	// LinksByFinal returns all links consuming advances for a final invoice.
	LinksByFinal(ctx context.Context, finalID DocumentID) ([]AdvanceLink, error)

	// LinkByAdvance returns the link consuming an advance, or nil.
	// An advance may appear in at most one link.
	LinkByAdvance(ctx context.Context, advanceID DocumentID) (*AdvanceLink, error)

	// DeleteLinksByFinal removes the links of a final invoice. Only the
	// engine calls this, and only while the final invoice is a draft.
	DeleteLinksByFinal(ctx context.Context, finalID DocumentID) error
}

// =============================================================================
// RUN STORE - Verification history
// =============================================================================

type RunStore interface {
	// SaveVerificationRun records the outcome of a chain verification.
	SaveVerificationRun(ctx context.Context, run VerificationRun) error

	// ListVerificationRuns returns runs for a tenant, most recent first.
	// An empty tenant returns all runs.
	ListVerificationRuns(ctx context.Context, tenantID TenantID) ([]VerificationRun, error)
}

// =============================================================================
// COMPOSITE + TRANSACTIONAL STORE
// =============================================================================

// Store bundles every persistence concern of the engine.
type Store interface {
	DocumentStore
	AuditStore
	LinkStore
	RunStore
}

// TxStore wraps Store with transaction support. Finalization and linkage
// run their read-then-write sections inside WithTx.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
