/*
sequence.go - Gap-free sequence allocation

PURPOSE:
  Assigns the next sequence number for a tenant/document-type. French
  anti-fraud rules require numbering with no gaps across the tenant's
  entire history, so the allocator scans the including-deleted record
  set: a soft-deleted invoice still occupies its number forever.

WHEN IT RUNS:
  Exactly once per document, at finalization time. Drafts never consume
  a number, so abandoned drafts leave the sequence untouched.

SERIALIZATION:
  NextSequence itself is a plain read; the finalization engine calls it
  inside a store transaction and relies on the store's unique
  (tenant, type, sequence) constraint plus bounded retry to serialize
  concurrent finalizations. See finalize.go.

SEE ALSO:
  - finalize.go: The only caller
  - store.go: MaxSequence contract (including-deleted scan)
*/
package ledger

import "context"

// NextSequence computes the next gap-free sequence number for a
// tenant/document-type: max over the entire history (including
// soft-deleted documents) plus one, defaulting to 1.
func NextSequence(ctx context.Context, store DocumentStore, tenantID TenantID, t DocumentType) (int64, error) {
	max, err := store.MaxSequence(ctx, tenantID, t.TypeID())
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}
