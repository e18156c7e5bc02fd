/*
advance.go - Advance/final settlement linkage

PURPOSE:
  Enforces the accounting relationship between advance (deposit)
  invoices and the final invoice that consumes them:
  - an advance is consumed by at most one final invoice
  - every linked advance belongs to the final invoice's counterparty
  - the sum of linked advance amounts never exceeds the final's total

SNAPSHOTS:
  Each link stores the advance's total at link time. Advances must be
  finalized (locked) before they are linkable, so the snapshot can never
  drift from the advance itself; it exists so the settled amount is
  explicit in the schema and survives even administrative soft-deletion
  of the advance.

ATOMICITY:
  All preconditions are checked and the links written inside a single
  store transaction, under the same serialization discipline as
  finalization, so two finals racing for the same advance cannot both
  win.

SEE ALSO:
  - types.go: Invoice kinds (standard, advance, final)
  - ledger/store.go: AdvanceLink and LinkStore contracts
*/
package invoice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/fiscal-engine/ledger"
)

// Settlement validates and records advance/final links and answers the
// settlement read accessors.
type Settlement struct {
	Store    ledger.TxStore
	Recorder *ledger.Recorder
}

func NewSettlement(store ledger.TxStore, recorder *ledger.Recorder) *Settlement {
	return &Settlement{Store: store, Recorder: recorder}
}

// LinkAdvances links the given advance invoices to a final invoice,
// snapshotting each advance's total. All preconditions are checked
// atomically; on any violation nothing is written and a LinkageError
// (unwrapping ledger.ErrLinkageViolation) is returned.
func (s *Settlement) LinkAdvances(ctx context.Context, finalID ledger.DocumentID, advanceIDs []ledger.DocumentID, actor ledger.Actor) ([]ledger.AdvanceLink, error) {
	if len(advanceIDs) == 0 {
		return nil, &ledger.LinkageError{Code: "no_advances", Detail: "at least one advance is required"}
	}

	var created []ledger.AdvanceLink
	err := s.Store.WithTx(ctx, func(st ledger.Store) error {
		final, err := st.GetDocument(ctx, finalID)
		if err != nil {
			return err
		}
		if final == nil {
			return ledger.ErrDocumentNotFound
		}
		if final.Type.TypeID() != TypeInvoice.TypeID() {
			return &ledger.LinkageError{Code: "not_an_invoice", Detail: "final document is not an invoice"}
		}
		if final.Kind == KindAdvance {
			return &ledger.LinkageError{Code: "final_is_advance", Detail: "an advance invoice cannot consume advances"}
		}
		if final.Locked {
			// Links are built while the final invoice is assembled;
			// after finalization the settlement is settled.
			return ledger.ErrAlreadyFinalized
		}

		existing, err := st.LinksByFinal(ctx, finalID)
		if err != nil {
			return err
		}
		linked := decimal.Zero
		for _, l := range existing {
			linked = linked.Add(l.Amount)
		}

		seen := make(map[ledger.DocumentID]bool)
		now := time.Now().UTC()
		var links []ledger.AdvanceLink
		sum := linked
		for _, advanceID := range advanceIDs {
			if seen[advanceID] {
				return &ledger.LinkageError{Code: "duplicate_in_request", AdvanceID: advanceID,
					Detail: "advance listed twice"}
			}
			seen[advanceID] = true

			advance, err := st.GetDocument(ctx, advanceID)
			if err != nil {
				return err
			}
			if advance == nil {
				return &ledger.LinkageError{Code: "advance_not_found", AdvanceID: advanceID,
					Detail: "advance does not exist"}
			}
			if advance.Type.TypeID() != TypeInvoice.TypeID() || advance.Kind != KindAdvance {
				return &ledger.LinkageError{Code: "not_advance", AdvanceID: advanceID,
					Detail: "document is not an advance invoice"}
			}
			if !advance.Locked {
				return &ledger.LinkageError{Code: "advance_not_finalized", AdvanceID: advanceID,
					Detail: "advances must be finalized before they are linkable"}
			}
			if advance.TenantID != final.TenantID {
				return &ledger.LinkageError{Code: "tenant_mismatch", AdvanceID: advanceID,
					Detail: "advance belongs to a different tenant"}
			}
			if advance.CounterpartyID != final.CounterpartyID {
				return &ledger.LinkageError{Code: "counterparty_mismatch", AdvanceID: advanceID,
					Detail: "advance belongs to a different counterparty"}
			}
			prior, err := st.LinkByAdvance(ctx, advanceID)
			if err != nil {
				return err
			}
			if prior != nil {
				return &ledger.LinkageError{Code: "already_linked", AdvanceID: advanceID,
					Detail: "advance already consumed by " + string(prior.FinalID)}
			}

			sum = sum.Add(advance.Total)
			links = append(links, ledger.AdvanceLink{
				ID:        uuid.NewString(),
				TenantID:  final.TenantID,
				AdvanceID: advanceID,
				FinalID:   finalID,
				Amount:    advance.Total,
				CreatedAt: now,
			})
		}

		if sum.GreaterThan(final.Total) {
			return &ledger.LinkageError{Code: "exceeds_total",
				Detail: fmt.Sprintf("linked advances %s exceed final total %s",
					sum.StringFixed(2), final.Total.StringFixed(2))}
		}

		if err := st.InsertLinks(ctx, links); err != nil {
			return err
		}
		created = links

		ids := make([]string, len(links))
		for i, l := range links {
			ids[i] = string(l.AdvanceID)
		}
		return st.AppendAudit(ctx, s.Recorder.NewEntry(final, ledger.AuditAdvancesLinked, actor, map[string]ledger.FieldChange{
			"advances":       {From: "", To: strings.Join(ids, ",")},
			"total_advances": {From: linked.StringFixed(2), To: sum.StringFixed(2)},
		}))
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// TotalAdvances returns the sum of snapshot amounts linked to a final
// invoice.
func (s *Settlement) TotalAdvances(ctx context.Context, finalID ledger.DocumentID) (decimal.Decimal, error) {
	links, err := s.Store.LinksByFinal(ctx, finalID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, l := range links {
		total = total.Add(l.Amount)
	}
	return total, nil
}

// RemainingBalance returns the final invoice's total minus its linked
// advances. Never negative by construction.
func (s *Settlement) RemainingBalance(ctx context.Context, finalID ledger.DocumentID) (decimal.Decimal, error) {
	final, err := s.Store.GetDocument(ctx, finalID)
	if err != nil {
		return decimal.Zero, err
	}
	if final == nil {
		return decimal.Zero, ledger.ErrDocumentNotFound
	}
	advances, err := s.TotalAdvances(ctx, finalID)
	if err != nil {
		return decimal.Zero, err
	}
	return final.Total.Sub(advances), nil
}
