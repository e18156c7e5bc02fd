// Package invoice implements the invoice document family.
// It uses the generic ledger engine with invoice-specific statuses, the
// INV numbering prefix, and the advance/final settlement linkage.
package invoice

import (
	"github.com/shopspring/decimal"

	"github.com/ledgerline/fiscal-engine/ledger"
)

// =============================================================================
// INVOICE DOCUMENT TYPE
// =============================================================================

// Type is the concrete document type for the invoice family.
// Implements ledger.DocumentType.
type Type string

const TypeInvoice Type = "invoice"

func (t Type) TypeID() string       { return string(t) }
func (t Type) NumberPrefix() string { return "INV" }

// Transitions returns the invoice state machine. Transition out of draft
// is the finalization boundary; paid and cancelled are terminal.
func (t Type) Transitions() map[ledger.Status][]ledger.Status { return transitions }

// Compile-time check that Type implements ledger.DocumentType
var _ ledger.DocumentType = TypeInvoice

// Invoice statuses beyond the shared draft/cancelled.
const (
	StatusSent ledger.Status = "sent"
	StatusPaid ledger.Status = "paid"
)

var transitions = map[ledger.Status][]ledger.Status{
	ledger.StatusDraft: {StatusSent, StatusPaid, ledger.StatusCancelled},
	StatusSent:         {StatusPaid, ledger.StatusCancelled},
}

// Invoice kinds. Advance (deposit) invoices are consumed by a final
// (balance-due) invoice through the settlement linkage.
const (
	KindStandard = "standard"
	KindAdvance  = "advance"
	KindFinal    = "final"
)

func init() {
	ledger.RegisterType(TypeInvoice)
}

// NewDraft builds an invoice draft document. Content values are expected
// to arrive fully computed from the CRUD layer.
func NewDraft(tenantID ledger.TenantID, kind, counterpartyID, currency string, issueDate ledger.Date, total, tax decimal.Decimal) ledger.Document {
	if kind == "" {
		kind = KindStandard
	}
	return ledger.Document{
		TenantID:       tenantID,
		Type:           TypeInvoice,
		Kind:           kind,
		CounterpartyID: counterpartyID,
		Currency:       currency,
		IssueDate:      issueDate,
		Total:          total,
		TaxAmount:      tax,
	}
}
