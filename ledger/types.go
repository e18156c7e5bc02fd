/*
Package ledger provides the fiscal document integrity engine.

PURPOSE:
  This package contains domain-agnostic types and algorithms for making
  fiscal documents legally tamper-evident. Whether the document is an
  invoice, a credit note, or a quote, the same engine handles gap-free
  sequence numbering, hash chaining, immutability locking, and audit
  trail recording.

KEY CONCEPTS IN THIS FILE (types.go):
  - Document: The shared shape of every fiscal document
  - Status: Lifecycle state (draft, finalized variants, cancelled)
  - Actor: The principal performing a state-affecting mutation
  - Tenant/Document IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Once finalized, a document is locked forever
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing tenant/document IDs
  4. Auditability: Every state change is recorded with a signed audit entry

USAGE:
  doc := ledger.Document{
      TenantID:       "acme",
      Type:           invoice.TypeInvoice,
      CounterpartyID: "client-42",
      Total:          decimal.NewFromInt(1200),
  }

SEE ALSO:
  - doctype.go: DocumentType interface and registry
  - chain.go: Hash chain payload and link generation
  - engine.go: Draft lifecycle and finalization entry points
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type DocumentID string
type ActorID string

// =============================================================================
// STATUS - Document lifecycle state
// =============================================================================

type Status string

// Statuses shared by every document type. Domain packages define their own
// finalized-variant and terminal statuses (sent, paid, issued, applied, ...).
const (
	StatusDraft     Status = "draft"
	StatusCancelled Status = "cancelled"
)

// =============================================================================
// ACTOR - Who performs a mutation, and from where
// =============================================================================

// Actor identifies the principal behind a state-affecting mutation.
// Origin is the network origin of the request and is bound into the
// audit entry signature so entries cannot be replayed against a
// different event.
type Actor struct {
	ID     ActorID
	Role   string // "user", "admin", "system"
	Origin string
}

// System is the actor used for engine-internal mutations (schedulers,
// seed data). Origin is fixed so signatures stay deterministic.
var System = Actor{ID: "system", Role: "system", Origin: "internal"}

// =============================================================================
// DOCUMENT - Shared shape of invoices, credit notes and quotes
// =============================================================================

// Document is the fiscal document shape shared by all document types.
// While Status == StatusDraft the document is freely editable and Sequence
// is nil. Finalization assigns Sequence, the permanent Number, the chain
// Hash/Signature, and sets Locked. After that, only whitelisted status
// advances are permitted.
type Document struct {
	ID       DocumentID
	TenantID TenantID
	Type     DocumentType

	// Kind is a domain refinement within a type. Invoices use it to
	// distinguish standard, advance (deposit) and final (balance-due)
	// invoices.
	Kind string

	// Number is the human-readable document number. Drafts carry a
	// temporary DRAFT-xxxxxxxx number; finalization replaces it with the
	// permanent number derived from the sequence (e.g. INV-2025-0001).
	Number string

	// Sequence is the gap-free per tenant+type integer. Nil while draft,
	// assigned exactly once at finalization, never reused or reassigned.
	Sequence *int64

	Status         Status
	IssueDate      Date
	CounterpartyID string
	Currency       string
	Total          decimal.Decimal
	TaxAmount      decimal.Decimal

	// Chain fields, written once at finalization.
	Hash         string
	PreviousHash string
	Signature    string

	Locked bool

	CreatedAt time.Time
	UpdatedAt time.Time

	// DeletedAt marks administrative soft-deletion of a finalized
	// document. Soft-deleted documents keep their sequence number and
	// remain part of the hash chain.
	DeletedAt *time.Time
}

func (d *Document) IsDraft() bool   { return d.Status == StatusDraft }
func (d *Document) IsDeleted() bool { return d.DeletedAt != nil }

// SequenceValue returns the assigned sequence or 0 for drafts.
func (d *Document) SequenceValue() int64 {
	if d.Sequence == nil {
		return 0
	}
	return *d.Sequence
}

// =============================================================================
// FINALIZED DOCUMENT - Result of crossing the finalization boundary
// =============================================================================

// FinalizedDocument is returned to callers of Finalize. It carries the
// permanent identity of the document: number, sequence, hash, signature.
type FinalizedDocument struct {
	ID        DocumentID
	Number    string
	Sequence  int64
	Status    Status
	Hash      string
	Signature string
}
