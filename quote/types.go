// Package quote implements the quote document family.
// Quotes are chained and numbered like invoices (their own QT chain) so
// a quote shown to a client can be proven unaltered, but their state
// machine ends in conversion or rejection rather than payment.
package quote

import (
	"github.com/shopspring/decimal"

	"github.com/ledgerline/fiscal-engine/ledger"
)

// Type is the concrete document type for quotes.
// Implements ledger.DocumentType.
type Type string

const TypeQuote Type = "quote"

func (t Type) TypeID() string       { return string(t) }
func (t Type) NumberPrefix() string { return "QT" }

func (t Type) Transitions() map[ledger.Status][]ledger.Status { return transitions }

var _ ledger.DocumentType = TypeQuote

const (
	// StatusSent is the finalized state.
	StatusSent ledger.Status = "sent"

	// StatusConverted is terminal: the quote became an invoice.
	StatusConverted ledger.Status = "converted"

	// StatusRejected is terminal: the client declined.
	StatusRejected ledger.Status = "rejected"
)

var transitions = map[ledger.Status][]ledger.Status{
	ledger.StatusDraft: {StatusSent, ledger.StatusCancelled},
	StatusSent:         {StatusConverted, StatusRejected, ledger.StatusCancelled},
}

func init() {
	ledger.RegisterType(TypeQuote)
}

// NewDraft builds a quote draft document.
func NewDraft(tenantID ledger.TenantID, counterpartyID, currency string, issueDate ledger.Date, total, tax decimal.Decimal) ledger.Document {
	return ledger.Document{
		TenantID:       tenantID,
		Type:           TypeQuote,
		Kind:           "standard",
		CounterpartyID: counterpartyID,
		Currency:       currency,
		IssueDate:      issueDate,
		Total:          total,
		TaxAmount:      tax,
	}
}
