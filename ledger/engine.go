/*
engine.go - Draft lifecycle and engine wiring

PURPOSE:
  The Engine is the single entry point collaborators use to mutate
  fiscal documents. It owns the draft lifecycle (create, update, hard
  delete), administrative soft-deletion, and the audit trail read path.
  Finalization and status transitions live in finalize.go.

DRAFT LIFECYCLE:
  - CreateDraft assigns an ID and a temporary DRAFT-xxxxxxxx number.
    No sequence number, no hash: the integrity machinery is bypassed
    until finalization.
  - UpdateDraft rewrites content fields and records a field-level diff.
    Rejected with ErrAlreadyFinalized once the document is locked.
  - DeleteDraft hard-deletes a draft (and any settlement links the draft
    final invoice accumulated). Finalized documents can only be
    soft-deleted; their number and audit trail survive.

EVERY MUTATION IS AUDITED:
  Each operation appends exactly one signed audit entry inside the same
  store transaction as the mutation itself, so there is no code path
  that changes state without leaving a trail.

SEE ALSO:
  - finalize.go: Finalization boundary and status transitions
  - audit.go: Entry construction and signing
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultMaxRetries bounds how often a finalization is re-attempted
// after a sequence conflict before ErrSequenceConflict surfaces.
const DefaultMaxRetries = 3

// Engine coordinates sequence allocation, hash chaining, locking and
// audit recording over a transactional store.
type Engine struct {
	Store      TxStore
	Recorder   *Recorder
	Log        zerolog.Logger
	MaxRetries int
}

func NewEngine(store TxStore, signer *Signer, log zerolog.Logger) *Engine {
	return &Engine{
		Store:      store,
		Recorder:   NewRecorder(signer),
		Log:        log.With().Str("component", "ledger").Logger(),
		MaxRetries: DefaultMaxRetries,
	}
}

// =============================================================================
// DRAFT LIFECYCLE
// =============================================================================

// CreateDraft persists a new draft document. Content fields (totals,
// counterparty, dates) are trusted as already validated by the CRUD
// layer; the engine only adds identity and lifecycle metadata.
func (e *Engine) CreateDraft(ctx context.Context, doc Document, actor Actor) (*Document, error) {
	if doc.Type == nil || LookupType(doc.Type.TypeID()) == nil {
		return nil, ErrUnknownType
	}
	if doc.ID == "" {
		doc.ID = DocumentID(uuid.NewString())
	}
	doc.Number = draftNumber(doc.ID)
	doc.Sequence = nil
	doc.Status = StatusDraft
	doc.Hash = ""
	doc.PreviousHash = ""
	doc.Signature = ""
	doc.Locked = false
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	doc.DeletedAt = nil
	if doc.IssueDate.IsZero() {
		doc.IssueDate = Today()
	}

	err := e.Store.WithTx(ctx, func(s Store) error {
		if err := s.InsertDocument(ctx, doc); err != nil {
			return err
		}
		return s.AppendAudit(ctx, e.Recorder.NewEntry(&doc, AuditDraftCreated, actor, map[string]FieldChange{
			"status": {From: "", To: string(StatusDraft)},
		}))
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpdateDraft rewrites the editable content fields of a draft. Any write
// attempt against a locked document is rejected with ErrAlreadyFinalized,
// regardless of caller identity.
func (e *Engine) UpdateDraft(ctx context.Context, doc Document, actor Actor) (*Document, error) {
	var updated *Document
	err := e.Store.WithTx(ctx, func(s Store) error {
		current, err := s.GetDocument(ctx, doc.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrDocumentNotFound
		}
		if current.Locked {
			return ErrAlreadyFinalized
		}

		diff := draftDiff(current, &doc)
		if len(diff) == 0 {
			updated = current
			return nil
		}

		next := *current
		next.Kind = doc.Kind
		next.IssueDate = doc.IssueDate
		next.CounterpartyID = doc.CounterpartyID
		next.Currency = doc.Currency
		next.Total = doc.Total
		next.TaxAmount = doc.TaxAmount
		next.UpdatedAt = time.Now().UTC()

		if err := s.UpdateDraft(ctx, next); err != nil {
			return err
		}
		updated = &next
		return s.AppendAudit(ctx, e.Recorder.NewEntry(&next, AuditDraftUpdated, actor, diff))
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteDraft hard-deletes a draft and any settlement links it holds as
// a final invoice. Deletion of finalized documents goes through
// SoftDelete instead; their sequence numbers must survive.
func (e *Engine) DeleteDraft(ctx context.Context, id DocumentID, actor Actor) error {
	return e.Store.WithTx(ctx, func(s Store) error {
		doc, err := s.GetDocument(ctx, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return ErrDocumentNotFound
		}
		if doc.Locked || !doc.IsDraft() {
			return ErrDraftOnly
		}
		if err := s.DeleteLinksByFinal(ctx, id); err != nil {
			return err
		}
		if err := s.DeleteDraft(ctx, id); err != nil {
			return err
		}
		return s.AppendAudit(ctx, e.Recorder.NewEntry(doc, AuditDraftDeleted, actor, nil))
	})
}

// SoftDelete marks a finalized document administratively deleted. The
// document keeps its sequence number, stays in the hash chain, and its
// audit trail is untouched.
func (e *Engine) SoftDelete(ctx context.Context, id DocumentID, actor Actor) error {
	return e.Store.WithTx(ctx, func(s Store) error {
		doc, err := s.GetDocument(ctx, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return ErrDocumentNotFound
		}
		if doc.IsDraft() {
			// Drafts are hard-deleted; soft-deletion is for documents
			// that must keep their number.
			return ErrInvalidTransition
		}
		if doc.IsDeleted() {
			return nil
		}
		if err := s.SoftDeleteDocument(ctx, id); err != nil {
			return err
		}
		return s.AppendAudit(ctx, e.Recorder.NewEntry(doc, AuditSoftDeleted, actor, nil))
	})
}

// AuditTrail returns a document's append-only trail in chronological
// order. Available even after the document was soft-deleted.
func (e *Engine) AuditTrail(ctx context.Context, id DocumentID) ([]AuditEntry, error) {
	return e.Store.AuditByDocument(ctx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func draftNumber(id DocumentID) string {
	s := string(id)
	if len(s) > 8 {
		s = s[:8]
	}
	return "DRAFT-" + s
}

func draftDiff(current, next *Document) map[string]FieldChange {
	diff := make(map[string]FieldChange)
	record := func(field, from, to string) {
		if from != to {
			diff[field] = FieldChange{From: from, To: to}
		}
	}
	record("kind", current.Kind, next.Kind)
	record("issue_date", current.IssueDate.String(), next.IssueDate.String())
	record("counterparty_id", current.CounterpartyID, next.CounterpartyID)
	record("currency", current.Currency, next.Currency)
	record("total", current.Total.StringFixed(2), next.Total.StringFixed(2))
	record("tax_amount", current.TaxAmount.StringFixed(2), next.TaxAmount.StringFixed(2))
	return diff
}

func sequenceDiff(doc *Document, sequence int64, number string, to Status) map[string]FieldChange {
	return map[string]FieldChange{
		"status":          {From: string(doc.Status), To: string(to)},
		"number":          {From: doc.Number, To: number},
		"sequence_number": {From: "", To: fmt.Sprintf("%d", sequence)},
	}
}
