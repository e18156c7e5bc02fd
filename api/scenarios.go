/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. Each scenario creates a demo tenant with
	documents that demonstrate specific features of the engine.

AVAILABLE SCENARIOS:

	invoice-chain:      A sequence of finalized invoices forming a chain
	advance-settlement: Advance (deposit) invoices consumed by a final invoice
	full-lifecycle:     Quote converted to invoice, credit note issued

HOW SCENARIOS WORK:
 1. Pick a fresh demo tenant (scenario id + timestamp suffix)
 2. Create drafts through the engine
 3. Finalize and transition them so chains and audit trails build up

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "advance-settlement"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, tenant)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios write through the normal engine paths, so everything they
	create is sequenced, chained and audited like real traffic.

SEE ALSO:
  - handlers.go: Handler dependencies
  - invoice/advance.go: Settlement linkage the demo exercises
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/fiscal-engine/creditnote"
	"github.com/ledgerline/fiscal-engine/invoice"
	"github.com/ledgerline/fiscal-engine/ledger"
	"github.com/ledgerline/fiscal-engine/quote"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "invoice-chain",
		Name:        "Invoice Chain",
		Description: "Five invoices finalized in order, forming a verifiable hash chain",
		Category:    "invoicing",
	},
	{
		ID:          "advance-settlement",
		Name:        "Advance Settlement",
		Description: "Two advance invoices consumed by a final invoice with a remaining balance",
		Category:    "invoicing",
	},
	{
		ID:          "full-lifecycle",
		Name:        "Full Lifecycle",
		Description: "Quote converted to an invoice, paid, then partially credited",
		Category:    "invoicing",
	},
}

// demoActor is the principal demo data is attributed to in the audit trail.
var demoActor = ledger.Actor{ID: "demo", Role: "admin", Origin: "scenario-loader"}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns the available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the most recently loaded scenario.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": h.currentScenario})
}

// LoadScenario populates a fresh demo tenant with scenario data.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	// Fresh tenant per load keeps chains independent between demo runs.
	tenant := ledger.TenantID(fmt.Sprintf("demo-%s-%d", req.ScenarioID, time.Now().Unix()))

	var err error
	switch req.ScenarioID {
	case "invoice-chain":
		err = h.loadInvoiceChainScenario(r.Context(), tenant)
	case "advance-settlement":
		err = h.loadAdvanceSettlementScenario(r.Context(), tenant)
	case "full-lifecycle":
		err = h.loadFullLifecycleScenario(r.Context(), tenant)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{
		"scenario_id": req.ScenarioID,
		"tenant_id":   string(tenant),
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadInvoiceChainScenario finalizes five invoices in order so the demo
// tenant has a chain worth verifying.
func (h *Handler) loadInvoiceChainScenario(ctx context.Context, tenant ledger.TenantID) error {
	clients := []string{"client-nord", "client-sud", "client-est", "client-ouest", "client-nord"}
	for i, client := range clients {
		total := decimal.NewFromInt(int64(400 + 150*i))
		draft := invoice.NewDraft(tenant, invoice.KindStandard, client, "EUR",
			ledger.Today(), total, total.Mul(decimal.NewFromFloat(0.2)))
		created, err := h.Engine.CreateDraft(ctx, draft, demoActor)
		if err != nil {
			return err
		}
		if _, err := h.Engine.Finalize(ctx, created.ID, invoice.StatusSent, demoActor); err != nil {
			return err
		}
	}
	return nil
}

// loadAdvanceSettlementScenario builds the canonical deposit flow: two
// finalized advances, a draft final invoice consuming both, finalized
// with a remaining balance due.
func (h *Handler) loadAdvanceSettlementScenario(ctx context.Context, tenant ledger.TenantID) error {
	advanceTotals := []int64{100, 50}
	advanceIDs := make([]ledger.DocumentID, 0, len(advanceTotals))
	for _, total := range advanceTotals {
		draft := invoice.NewDraft(tenant, invoice.KindAdvance, "client-batiment", "EUR",
			ledger.Today(), decimal.NewFromInt(total), decimal.NewFromInt(total/5))
		created, err := h.Engine.CreateDraft(ctx, draft, demoActor)
		if err != nil {
			return err
		}
		if _, err := h.Engine.Finalize(ctx, created.ID, invoice.StatusSent, demoActor); err != nil {
			return err
		}
		advanceIDs = append(advanceIDs, created.ID)
	}

	final := invoice.NewDraft(tenant, invoice.KindFinal, "client-batiment", "EUR",
		ledger.Today(), decimal.NewFromInt(200), decimal.NewFromInt(40))
	created, err := h.Engine.CreateDraft(ctx, final, demoActor)
	if err != nil {
		return err
	}
	if _, err := h.Settlement.LinkAdvances(ctx, created.ID, advanceIDs, demoActor); err != nil {
		return err
	}
	_, err = h.Engine.Finalize(ctx, created.ID, invoice.StatusSent, demoActor)
	return err
}

// loadFullLifecycleScenario walks a quote to conversion, an invoice to
// payment, and issues a credit note against it.
func (h *Handler) loadFullLifecycleScenario(ctx context.Context, tenant ledger.TenantID) error {
	q := quote.NewDraft(tenant, "client-conseil", "EUR",
		ledger.Today(), decimal.NewFromInt(1800), decimal.NewFromInt(360))
	createdQuote, err := h.Engine.CreateDraft(ctx, q, demoActor)
	if err != nil {
		return err
	}
	if _, err := h.Engine.Finalize(ctx, createdQuote.ID, quote.StatusSent, demoActor); err != nil {
		return err
	}
	if _, err := h.Engine.Transition(ctx, createdQuote.ID, quote.StatusConverted, demoActor); err != nil {
		return err
	}

	inv := invoice.NewDraft(tenant, invoice.KindStandard, "client-conseil", "EUR",
		ledger.Today(), decimal.NewFromInt(1800), decimal.NewFromInt(360))
	createdInv, err := h.Engine.CreateDraft(ctx, inv, demoActor)
	if err != nil {
		return err
	}
	if _, err := h.Engine.Finalize(ctx, createdInv.ID, invoice.StatusSent, demoActor); err != nil {
		return err
	}
	if _, err := h.Engine.Transition(ctx, createdInv.ID, invoice.StatusPaid, demoActor); err != nil {
		return err
	}

	cn := creditnote.NewDraft(tenant, "client-conseil", "EUR",
		ledger.Today(), decimal.NewFromInt(300), decimal.NewFromInt(60))
	createdCN, err := h.Engine.CreateDraft(ctx, cn, demoActor)
	if err != nil {
		return err
	}
	if _, err := h.Engine.Finalize(ctx, createdCN.ID, creditnote.StatusIssued, demoActor); err != nil {
		return err
	}
	_, err = h.Engine.Transition(ctx, createdCN.ID, creditnote.StatusApplied, demoActor)
	return err
}
