/*
chain.go - Hash chain link generation

PURPOSE:
  Computes a document's content hash and links it to the previous
  document's hash, forming an append-only per-tenant, per-type chain.
  Any later edit to a chained document invalidates its own hash and
  every hash after it.

PAYLOAD:
  The hash input is a deterministic pipe-joined concatenation of:
    sequence | number | issue date (day precision) | total | tax |
    counterparty | previous hash
  The first document in a chain uses the fixed "INITIAL" sentinel as its
  previous hash. Totals are rendered with two decimal places so the
  payload is byte-stable across decimal representations.

CHAIN SCOPING:
  Invoices, credit notes and quotes each form their own independent
  per-tenant chain. The previous hash is the hash of the most recently
  chained document for the same tenant and type, matching the order
  documents actually entered the system.

ONE-SHOT:
  GenerateLink runs once, immediately after sequence allocation. It is
  never re-run for an existing document; doing so would invalidate every
  subsequent hash in the chain.

SEE ALSO:
  - signer.go: HMAC signature over the same payload
  - verify.go: Recomputation and comparison
  - finalize.go: The only caller of GenerateLink
*/
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// InitialHash is the previous-hash sentinel for the first document in a
// tenant's chain.
const InitialHash = "INITIAL"

// ChainLink is the set of chain fields written at finalization.
type ChainLink struct {
	Hash         string
	PreviousHash string
	Signature    string
}

// ChainPayload builds the canonical hash input for a document.
func ChainPayload(sequence int64, number string, issueDate Date, total, tax decimal.Decimal, counterpartyID, previousHash string) string {
	return strings.Join([]string{
		strconv.FormatInt(sequence, 10),
		number,
		issueDate.String(),
		total.StringFixed(2),
		tax.StringFixed(2),
		counterpartyID,
		previousHash,
	}, "|")
}

// HashPayload returns the hex-encoded SHA-256 of a chain payload.
func HashPayload(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// GenerateLink computes the hash and signature for a document being
// finalized with the given sequence and permanent number. previousHash is
// the stored hash of the most recently chained document for the same
// tenant+type, or InitialHash when the chain is empty.
func GenerateLink(signer *Signer, doc *Document, sequence int64, number, previousHash string) ChainLink {
	payload := ChainPayload(sequence, number, doc.IssueDate, doc.Total, doc.TaxAmount, doc.CounterpartyID, previousHash)
	return ChainLink{
		Hash:         HashPayload(payload),
		PreviousHash: previousHash,
		Signature:    signer.Sign(payload),
	}
}

// FormatNumber derives the permanent human-readable number from the
// freshly allocated sequence, e.g. INV-2025-0001.
func FormatNumber(t DocumentType, issueDate Date, sequence int64) string {
	return fmt.Sprintf("%s-%04d-%04d", t.NumberPrefix(), issueDate.Year, sequence)
}
