/*
audit.go - Signed, append-only audit trail

PURPOSE:
  Records one immutable entry per state-affecting mutation of a fiscal
  document: who did it, from where, when, and the field-level diff. Each
  entry carries an HMAC signature binding (document id, action,
  timestamp, actor, origin) so entries cannot be forged or replayed
  against a different event.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No update, no delete. Ever.
  2. COMPLETE: Every persisted status change produces exactly one entry.
  3. OUTLIVES DOCUMENTS: Soft-deleting a document never touches its trail.

WHY A SEPARATE SIGNATURE?
  The hash chain proves documents were not edited after finalization.
  The audit signature proves the trail itself was not rewritten: a keyed
  check over fields an attacker would need to alter to hide an action.

SEE ALSO:
  - store.go: AuditStore interface (append-only contract)
  - signer.go: HMAC signing and rotation-aware verification
*/
package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// AUDIT ENTRY
// =============================================================================

type AuditAction string

const (
	AuditDraftCreated   AuditAction = "draft_created"
	AuditDraftUpdated   AuditAction = "draft_updated"
	AuditDraftDeleted   AuditAction = "draft_deleted"
	AuditFinalized      AuditAction = "finalized"
	AuditStatusChanged  AuditAction = "status_changed"
	AuditSoftDeleted    AuditAction = "soft_deleted"
	AuditAdvancesLinked AuditAction = "advances_linked"
)

// FieldChange is one before/after pair in an entry's diff.
type FieldChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// AuditEntry records who did what when. Immutable once created.
type AuditEntry struct {
	ID         string
	TenantID   TenantID
	DocumentID DocumentID
	Action     AuditAction
	Timestamp  time.Time
	ActorID    ActorID
	ActorRole  string
	Origin     string
	Diff       map[string]FieldChange
	Signature  string
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder builds and verifies signed audit entries.
type Recorder struct {
	Signer *Signer
}

func NewRecorder(signer *Signer) *Recorder {
	return &Recorder{Signer: signer}
}

// NewEntry builds a signed entry for a state-affecting mutation.
// Timestamps are UTC with nanosecond precision so the signed payload is
// unambiguous.
func (r *Recorder) NewEntry(doc *Document, action AuditAction, actor Actor, diff map[string]FieldChange) AuditEntry {
	entry := AuditEntry{
		ID:         uuid.NewString(),
		TenantID:   doc.TenantID,
		DocumentID: doc.ID,
		Action:     action,
		Timestamp:  time.Now().UTC(),
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Origin:     actor.Origin,
		Diff:       diff,
	}
	entry.Signature = r.Signer.Sign(auditPayload(entry))
	return entry
}

// VerifyEntry re-derives the entry's HMAC and returns ErrSignatureMismatch
// if it does not match under the active or any retired key.
func (r *Recorder) VerifyEntry(entry AuditEntry) error {
	if !r.Signer.Verify(auditPayload(entry), entry.Signature) {
		return ErrSignatureMismatch
	}
	return nil
}

// auditPayload is the canonical signed payload. The diff is deliberately
// excluded: the signature binds the event identity, the diff is evidence
// stored alongside it.
func auditPayload(entry AuditEntry) string {
	return strings.Join([]string{
		string(entry.DocumentID),
		string(entry.Action),
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		string(entry.ActorID),
		entry.Origin,
	}, "|")
}
