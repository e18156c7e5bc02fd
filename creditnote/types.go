// Package creditnote implements the credit note document family.
// Credit notes share the generic sequence/hash/lock machinery with
// invoices but form their own independent per-tenant chain and carry
// their own terminal states.
package creditnote

import (
	"github.com/shopspring/decimal"

	"github.com/ledgerline/fiscal-engine/ledger"
)

// Type is the concrete document type for credit notes.
// Implements ledger.DocumentType.
type Type string

const TypeCreditNote Type = "credit_note"

func (t Type) TypeID() string       { return string(t) }
func (t Type) NumberPrefix() string { return "CN" }

func (t Type) Transitions() map[ledger.Status][]ledger.Status { return transitions }

var _ ledger.DocumentType = TypeCreditNote

const (
	// StatusIssued is the finalized state: the note exists, is numbered
	// and chained, but has not yet been applied against an invoice.
	StatusIssued ledger.Status = "issued"

	// StatusApplied is terminal: the note has been consumed.
	StatusApplied ledger.Status = "applied"
)

var transitions = map[ledger.Status][]ledger.Status{
	ledger.StatusDraft: {StatusIssued, ledger.StatusCancelled},
	StatusIssued:       {StatusApplied, ledger.StatusCancelled},
}

func init() {
	ledger.RegisterType(TypeCreditNote)
}

// NewDraft builds a credit note draft document.
func NewDraft(tenantID ledger.TenantID, counterpartyID, currency string, issueDate ledger.Date, total, tax decimal.Decimal) ledger.Document {
	return ledger.Document{
		TenantID:       tenantID,
		Type:           TypeCreditNote,
		Kind:           "standard",
		CounterpartyID: counterpartyID,
		Currency:       currency,
		IssueDate:      issueDate,
		Total:          total,
		TaxAmount:      tax,
	}
}
