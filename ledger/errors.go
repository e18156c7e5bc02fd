/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  Domain packages and the HTTP layer match on these with errors.Is().

ERROR CATEGORIES:
  1. Lock errors      - Attempts to edit or re-finalize locked documents
  2. Transition errors - Status changes the state machine forbids
  3. Integrity errors - Chain breaks and signature mismatches
  4. Linkage errors   - Advance/final settlement violations

USAGE:
  if errors.Is(err, ledger.ErrAlreadyFinalized) {
      // reject the edit at the request boundary
  }

SEE ALSO:
  - finalize.go: Produces lock and transition errors
  - verify.go: Produces chain errors
  - invoice/advance.go: Produces linkage errors
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAlreadyFinalized is returned on any attempt to finalize or edit
	// a document that is already locked, regardless of caller identity.
	ErrAlreadyFinalized = errors.New("document already finalized")

	// ErrInvalidTransition is returned when a status change is not
	// permitted by the document type's state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrSequenceConflict is returned when sequence allocation could not
	// be serialized within the bounded retry count. The whole finalization
	// call is safe to retry.
	ErrSequenceConflict = errors.New("sequence allocation conflict")

	// ErrChainBroken is returned when the verifier found a hash mismatch.
	// It is reported, never auto-repaired.
	ErrChainBroken = errors.New("hash chain broken")

	// ErrLinkageViolation is returned on advance reuse, cross-counterparty
	// links, or when linked advances exceed the final invoice total.
	ErrLinkageViolation = errors.New("advance linkage violation")

	// ErrSignatureMismatch is returned when an HMAC check failed on an
	// audit entry or a document signature.
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrDocumentNotFound is returned when a referenced document doesn't exist.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDraftOnly is returned when an operation that requires a draft
	// (update, hard delete) targets a non-draft document.
	ErrDraftOnly = errors.New("operation permitted on drafts only")

	// ErrUnknownType is returned when a document references a type that
	// was never registered.
	ErrUnknownType = errors.New("unknown document type")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TransitionError details a rejected status transition.
type TransitionError struct {
	TypeID string
	From   Status
	To     Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.TypeID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ChainBreakError details where and why a chain failed verification.
type ChainBreakError struct {
	TenantID TenantID
	TypeID   string
	Sequence int64
	Reason   string
}

func (e *ChainBreakError) Error() string {
	return fmt.Sprintf("chain broken for %s/%s at sequence %d: %s",
		e.TenantID, e.TypeID, e.Sequence, e.Reason)
}

func (e *ChainBreakError) Unwrap() error { return ErrChainBroken }

// LinkageError details a rejected advance/final link.
type LinkageError struct {
	Code      string // "not_advance", "already_linked", "counterparty_mismatch", "exceeds_total", ...
	AdvanceID DocumentID
	Detail    string
}

func (e *LinkageError) Error() string {
	if e.AdvanceID != "" {
		return fmt.Sprintf("linkage violation (%s) for advance %s: %s", e.Code, e.AdvanceID, e.Detail)
	}
	return fmt.Sprintf("linkage violation (%s): %s", e.Code, e.Detail)
}

func (e *LinkageError) Unwrap() error { return ErrLinkageViolation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input
// or a business rule violation the caller can act on.
func IsClientError(err error) bool {
	return errors.Is(err, ErrAlreadyFinalized) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrLinkageViolation) ||
		errors.Is(err, ErrDraftOnly) ||
		errors.Is(err, ErrUnknownType)
}

// IsConflict returns true if the error might succeed when the whole
// operation is retried.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSequenceConflict)
}

// IsNotFound returns true if the error indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDocumentNotFound)
}
