/*
verify.go - Chain verification

PURPOSE:
  Recomputes and compares hashes to detect tampering or reordering.
  Walks the chained documents of a tenant+type in sequence order,
  recomputes each hash from stored fields plus the predecessor's stored
  hash, and reports the first sequence at which the recomputation
  diverges.

READ-ONLY:
  Verification never mutates documents. It requires only a consistent
  read snapshot and may run concurrently with new finalizations, at the
  cost of possibly not seeing the very latest entry. A broken chain is
  reported and durably logged, never auto-repaired.

WHAT IS CHECKED, PER DOCUMENT:
  1. Sequence continuity (1, 2, 3, ... with no gaps or duplicates)
  2. The stored previous-hash equals the predecessor's stored hash
  3. The recomputed SHA-256 equals the stored hash
  4. The stored HMAC signature verifies (active or retired key)

SEE ALSO:
  - chain.go: Payload construction shared with generation
  - monitor.go: Scheduled re-verification of all chains
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// =============================================================================
// CHAIN REPORT
// =============================================================================

// ChainReport is the outcome of verifying one tenant+type chain.
type ChainReport struct {
	TenantID   TenantID
	TypeID     string
	Valid      bool
	BrokenAt   *int64 // first sequence where verification failed
	Reason     string // "", "sequence_gap", "previous_hash_mismatch", "hash_mismatch", "signature_mismatch"
	Checked    int
	VerifiedAt time.Time
}

// Err converts a broken report into its ChainBreakError, or nil.
func (r *ChainReport) Err() error {
	if r.Valid {
		return nil
	}
	var seq int64
	if r.BrokenAt != nil {
		seq = *r.BrokenAt
	}
	return &ChainBreakError{TenantID: r.TenantID, TypeID: r.TypeID, Sequence: seq, Reason: r.Reason}
}

// VerificationRun is a persisted record of one verification, kept so
// compliance exports can show when chains were last checked and what
// was found. ChainBroken findings must be durable even though the
// verification itself is a read-only audit operation.
type VerificationRun struct {
	ID          string
	TenantID    TenantID
	TypeID      string
	Valid       bool
	BrokenAt    *int64
	Reason      string
	Checked     int
	StartedAt   time.Time
	CompletedAt time.Time
}

// =============================================================================
// VERIFIER
// =============================================================================

// Verifier recomputes hash chains against stored documents.
type Verifier struct {
	Store  Store
	Signer *Signer
	Log    zerolog.Logger
}

func NewVerifier(store Store, signer *Signer, log zerolog.Logger) *Verifier {
	return &Verifier{
		Store:  store,
		Signer: signer,
		Log:    log.With().Str("component", "verifier").Logger(),
	}
}

// VerifyChain checks the full chain for a tenant+type and returns a
// report. Broken chains are logged at error level; the report (not an
// error) carries the finding, so callers can render it.
func (v *Verifier) VerifyChain(ctx context.Context, tenantID TenantID, typeID string) (*ChainReport, error) {
	docs, err := v.Store.ListChained(ctx, tenantID, typeID)
	if err != nil {
		return nil, err
	}

	report := &ChainReport{
		TenantID:   tenantID,
		TypeID:     typeID,
		Valid:      true,
		Checked:    len(docs),
		VerifiedAt: time.Now().UTC(),
	}

	previous := InitialHash
	for i, doc := range docs {
		seq := doc.SequenceValue()
		if fail := v.checkLink(&doc, int64(i+1), previous); fail != "" {
			report.Valid = false
			report.BrokenAt = &seq
			report.Reason = fail
			break
		}
		previous = doc.Hash
	}

	if !report.Valid {
		v.Log.Error().
			Str("tenant_id", string(tenantID)).
			Str("doc_type", typeID).
			Int64("broken_at", *report.BrokenAt).
			Str("reason", report.Reason).
			Msg("hash chain verification failed")
	}
	return report, nil
}

// checkLink validates one document against its expected position and the
// verified predecessor's stored hash. Returns "" or a failure reason.
func (v *Verifier) checkLink(doc *Document, expectedSeq int64, previous string) string {
	if doc.SequenceValue() != expectedSeq {
		return "sequence_gap"
	}
	if doc.PreviousHash != previous {
		return "previous_hash_mismatch"
	}
	payload := ChainPayload(doc.SequenceValue(), doc.Number, doc.IssueDate, doc.Total, doc.TaxAmount, doc.CounterpartyID, previous)
	if HashPayload(payload) != doc.Hash {
		return "hash_mismatch"
	}
	if !v.Signer.Verify(payload, doc.Signature) {
		return "signature_mismatch"
	}
	return ""
}

// Run verifies a chain and persists the outcome as a VerificationRun.
func (v *Verifier) Run(ctx context.Context, tenantID TenantID, typeID string) (*ChainReport, error) {
	started := time.Now().UTC()
	report, err := v.VerifyChain(ctx, tenantID, typeID)
	if err != nil {
		return nil, err
	}

	run := VerificationRun{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		TypeID:      typeID,
		Valid:       report.Valid,
		BrokenAt:    report.BrokenAt,
		Reason:      report.Reason,
		Checked:     report.Checked,
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
	}
	if err := v.Store.SaveVerificationRun(ctx, run); err != nil {
		return nil, err
	}
	return report, nil
}
