/*
finalize.go - The finalization boundary and status transitions

PURPOSE:
  Governs the draft -> finalized -> terminal state machine. Transition
  out of draft is the finalization boundary: the point at which a
  document receives its permanent number and chain hash and becomes
  immutable.

FINALIZATION ORDER (inside one store transaction):
  (a) allocate the next gap-free sequence number
  (b) replace the temporary draft number with the permanent number
  (c) generate the chain link (hash + HMAC signature)
  (d) lock the record and set the target status
  followed by the signed audit entry, all committed atomically. Partial
  failure can never leave a document with a sequence but no hash, or a
  hash but no lock.

CONCURRENCY:
  Two finalizations racing for the same tenant+type must not both read
  the same "last sequence". The store serializes writers and enforces a
  unique (tenant, type, sequence) index; on ErrSequenceConflict the
  whole finalization is re-attempted from a clean state, up to
  MaxRetries times, then the conflict surfaces to the caller.

NON-DRAFT TRANSITIONS:
  Transitions among finalized states (sent -> paid) update status and
  nothing else: sequence and hash are never touched. Invalid moves are
  rejected with a TransitionError.

SEE ALSO:
  - sequence.go: Allocation
  - chain.go: Link generation
  - doctype.go: Per-type transition tables
*/
package ledger

import (
	"context"
	"errors"
)

// Finalize transitions a draft into the given binding status, assigning
// its permanent number, sequence, and chain link, and locking it. The
// returned FinalizedDocument carries the permanent identity.
func (e *Engine) Finalize(ctx context.Context, id DocumentID, to Status, actor Actor) (*FinalizedDocument, error) {
	retries := e.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries
	}

	var result *FinalizedDocument
	var err error
	for attempt := 0; attempt < retries; attempt++ {
		result, err = e.finalizeOnce(ctx, id, to, actor)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrSequenceConflict) {
			return nil, err
		}
		e.Log.Warn().
			Str("document_id", string(id)).
			Int("attempt", attempt+1).
			Msg("sequence conflict, retrying finalization")
	}
	return nil, err
}

func (e *Engine) finalizeOnce(ctx context.Context, id DocumentID, to Status, actor Actor) (*FinalizedDocument, error) {
	var result *FinalizedDocument
	err := e.Store.WithTx(ctx, func(s Store) error {
		doc, err := s.GetDocument(ctx, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return ErrDocumentNotFound
		}
		if doc.Locked {
			return ErrAlreadyFinalized
		}
		if !doc.IsDraft() {
			return &TransitionError{TypeID: doc.Type.TypeID(), From: doc.Status, To: to}
		}
		if !CanTransition(doc.Type, StatusDraft, to) {
			return &TransitionError{TypeID: doc.Type.TypeID(), From: StatusDraft, To: to}
		}

		sequence, err := NextSequence(ctx, s, doc.TenantID, doc.Type)
		if err != nil {
			return err
		}
		number := FormatNumber(doc.Type, doc.IssueDate, sequence)

		previous, err := s.LastChainedHash(ctx, doc.TenantID, doc.Type.TypeID())
		if err != nil {
			return err
		}
		if previous == "" {
			previous = InitialHash
		}
		link := GenerateLink(e.Recorder.Signer, doc, sequence, number, previous)

		if err := s.FinalizeDocument(ctx, id, sequence, number, link, to); err != nil {
			return err
		}
		if err := s.AppendAudit(ctx, e.Recorder.NewEntry(doc, AuditFinalized, actor, sequenceDiff(doc, sequence, number, to))); err != nil {
			return err
		}

		result = &FinalizedDocument{
			ID:        id,
			Number:    number,
			Sequence:  sequence,
			Status:    to,
			Hash:      link.Hash,
			Signature: link.Signature,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Transition advances a document's status. A draft source delegates to
// Finalize (the finalization boundary); finalized documents get a pure
// status advance that leaves sequence and hash untouched.
func (e *Engine) Transition(ctx context.Context, id DocumentID, to Status, actor Actor) (*Document, error) {
	// Peek outside the transaction to route drafts to finalization.
	doc, err := e.Store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	if doc.IsDraft() {
		if _, err := e.Finalize(ctx, id, to, actor); err != nil {
			return nil, err
		}
		return e.Store.GetDocument(ctx, id)
	}

	var updated *Document
	err = e.Store.WithTx(ctx, func(s Store) error {
		current, err := s.GetDocument(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrDocumentNotFound
		}
		if current.IsDraft() {
			// Raced with a concurrent finalization; the caller can retry.
			return ErrSequenceConflict
		}
		if !CanTransition(current.Type, current.Status, to) {
			return &TransitionError{TypeID: current.Type.TypeID(), From: current.Status, To: to}
		}
		if err := s.SetStatus(ctx, id, to); err != nil {
			return err
		}
		if err := s.AppendAudit(ctx, e.Recorder.NewEntry(current, AuditStatusChanged, actor, map[string]FieldChange{
			"status": {From: string(current.Status), To: string(to)},
		})); err != nil {
			return err
		}
		next := *current
		next.Status = to
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
