package invoice_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/fiscal-engine/invoice"
	"github.com/ledgerline/fiscal-engine/ledger"
	"github.com/ledgerline/fiscal-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var actor = ledger.Actor{ID: "tester", Role: "user", Origin: "test"}

type fixture struct {
	engine     *ledger.Engine
	settlement *invoice.Settlement
	store      *store.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	engine := ledger.NewEngine(mem, ledger.NewSigner([]byte("test-key")), zerolog.Nop())
	return &fixture{
		engine:     engine,
		settlement: invoice.NewSettlement(mem, engine.Recorder),
		store:      mem,
	}
}

// finalizedAdvance creates and finalizes an advance invoice.
func (f *fixture) finalizedAdvance(t *testing.T, tenant ledger.TenantID, client string, total int64) ledger.DocumentID {
	t.Helper()
	ctx := context.Background()
	draft := invoice.NewDraft(tenant, invoice.KindAdvance, client, "EUR",
		ledger.NewDate(2025, 2, 1), decimal.NewFromInt(total), decimal.NewFromInt(total/5))
	doc, err := f.engine.CreateDraft(ctx, draft, actor)
	require.NoError(t, err)
	_, err = f.engine.Finalize(ctx, doc.ID, invoice.StatusSent, actor)
	require.NoError(t, err)
	return doc.ID
}

// draftFinal creates a draft final (balance-due) invoice.
func (f *fixture) draftFinal(t *testing.T, tenant ledger.TenantID, client string, total int64) ledger.DocumentID {
	t.Helper()
	draft := invoice.NewDraft(tenant, invoice.KindFinal, client, "EUR",
		ledger.NewDate(2025, 3, 1), decimal.NewFromInt(total), decimal.NewFromInt(total/5))
	doc, err := f.engine.CreateDraft(context.Background(), draft, actor)
	require.NoError(t, err)
	return doc.ID
}

func linkageCode(t *testing.T, err error) string {
	t.Helper()
	var linkErr *ledger.LinkageError
	require.ErrorAs(t, err, &linkErr)
	require.ErrorIs(t, err, ledger.ErrLinkageViolation)
	return linkErr.Code
}

// =============================================================================
// SETTLEMENT ARITHMETIC
// =============================================================================

func TestLinkAdvances_SnapshotsAmountsAndComputesBalance(t *testing.T) {
	// GIVEN: Advances of 100 and 50 for a client, and a final invoice of 200
	// WHEN: Linking both advances
	// THEN: Total advances is 150 and the remaining balance is 50

	f := newFixture(t)
	ctx := context.Background()

	a := f.finalizedAdvance(t, "acme", "client-42", 100)
	b := f.finalizedAdvance(t, "acme", "client-42", 50)
	final := f.draftFinal(t, "acme", "client-42", 200)

	links, err := f.settlement.LinkAdvances(ctx, final, []ledger.DocumentID{a, b}, actor)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.True(t, links[0].Amount.Equal(decimal.NewFromInt(100)))
	assert.True(t, links[1].Amount.Equal(decimal.NewFromInt(50)))

	total, err := f.settlement.TotalAdvances(ctx, final)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(150)))

	remaining, err := f.settlement.RemainingBalance(ctx, final)
	require.NoError(t, err)
	assert.True(t, remaining.Equal(decimal.NewFromInt(50)))
}

func TestLinkAdvances_SumExceedingFinalTotalRejected(t *testing.T) {
	// GIVEN: Advances totalling 260 against a final invoice of 200
	// THEN: The whole batch is rejected; nothing is written

	f := newFixture(t)
	ctx := context.Background()

	a := f.finalizedAdvance(t, "acme", "client-42", 100)
	b := f.finalizedAdvance(t, "acme", "client-42", 160)
	final := f.draftFinal(t, "acme", "client-42", 200)

	_, err := f.settlement.LinkAdvances(ctx, final, []ledger.DocumentID{a, b}, actor)
	assert.Equal(t, "exceeds_total", linkageCode(t, err))

	links, err := f.store.LinksByFinal(ctx, final)
	require.NoError(t, err)
	assert.Empty(t, links, "violation must leave no partial links")
}

func TestLinkAdvances_ExistingLinksCountTowardTheCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.finalizedAdvance(t, "acme", "client-42", 150)
	b := f.finalizedAdvance(t, "acme", "client-42", 100)
	final := f.draftFinal(t, "acme", "client-42", 200)

	_, err := f.settlement.LinkAdvances(ctx, final, []ledger.DocumentID{a}, actor)
	require.NoError(t, err)

	_, err = f.settlement.LinkAdvances(ctx, final, []ledger.DocumentID{b}, actor)
	assert.Equal(t, "exceeds_total", linkageCode(t, err))
}

// =============================================================================
// ADVANCE REUSE
// =============================================================================

func TestLinkAdvances_AdvanceConsumedOnlyOnce(t *testing.T) {
	// GIVEN: An advance already linked to final invoice F
	// WHEN: Final invoice G tries to consume it
	// THEN: The link is rejected as already_linked

	f := newFixture(t)
	ctx := context.Background()

	a := f.finalizedAdvance(t, "acme", "client-42", 100)
	finalF := f.draftFinal(t, "acme", "client-42", 200)
	finalG := f.draftFinal(t, "acme", "client-42", 300)

	_, err := f.settlement.LinkAdvances(ctx, finalF, []ledger.DocumentID{a}, actor)
	require.NoError(t, err)

	_, err = f.settlement.LinkAdvances(ctx, finalG, []ledger.DocumentID{a}, actor)
	assert.Equal(t, "already_linked", linkageCode(t, err))
}

func TestLinkAdvances_DuplicateInRequestRejected(t *testing.T) {
	f := newFixture(t)

	a := f.finalizedAdvance(t, "acme", "client-42", 50)
	final := f.draftFinal(t, "acme", "client-42", 200)

	_, err := f.settlement.LinkAdvances(context.Background(), final, []ledger.DocumentID{a, a}, actor)
	assert.Equal(t, "duplicate_in_request", linkageCode(t, err))
}

func TestLinkAdvances_DeletedDraftFinalReleasesAdvances(t *testing.T) {
	// GIVEN: An advance linked to a draft final invoice
	// WHEN: The draft final is deleted
	// THEN: The advance becomes linkable again

	f := newFixture(t)
	ctx := context.Background()

	a := f.finalizedAdvance(t, "acme", "client-42", 100)
	doomed := f.draftFinal(t, "acme", "client-42", 200)
	_, err := f.settlement.LinkAdvances(ctx, doomed, []ledger.DocumentID{a}, actor)
	require.NoError(t, err)

	require.NoError(t, f.engine.DeleteDraft(ctx, doomed, actor))

	replacement := f.draftFinal(t, "acme", "client-42", 250)
	_, err = f.settlement.LinkAdvances(ctx, replacement, []ledger.DocumentID{a}, actor)
	assert.NoError(t, err, "links die with the deleted draft final")
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

func TestLinkAdvances_CounterpartyMismatchRejected(t *testing.T) {
	f := newFixture(t)

	a := f.finalizedAdvance(t, "acme", "client-42", 100)
	final := f.draftFinal(t, "acme", "client-99", 200)

	_, err := f.settlement.LinkAdvances(context.Background(), final, []ledger.DocumentID{a}, actor)
	assert.Equal(t, "counterparty_mismatch", linkageCode(t, err))
}

func TestLinkAdvances_CrossTenantRejected(t *testing.T) {
	f := newFixture(t)

	a := f.finalizedAdvance(t, "globex", "client-42", 100)
	final := f.draftFinal(t, "acme", "client-42", 200)

	_, err := f.settlement.LinkAdvances(context.Background(), final, []ledger.DocumentID{a}, actor)
	assert.Equal(t, "tenant_mismatch", linkageCode(t, err))
}

func TestLinkAdvances_UnfinalizedAdvanceRejected(t *testing.T) {
	// Advances must be locked before linking so the snapshot can't drift.

	f := newFixture(t)
	ctx := context.Background()

	draft := invoice.NewDraft("acme", invoice.KindAdvance, "client-42", "EUR",
		ledger.NewDate(2025, 2, 1), decimal.NewFromInt(100), decimal.NewFromInt(20))
	doc, err := f.engine.CreateDraft(ctx, draft, actor)
	require.NoError(t, err)

	final := f.draftFinal(t, "acme", "client-42", 200)
	_, err = f.settlement.LinkAdvances(ctx, final, []ledger.DocumentID{doc.ID}, actor)
	assert.Equal(t, "advance_not_finalized", linkageCode(t, err))
}

func TestLinkAdvances_NonAdvanceDocumentRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	std := invoice.NewDraft("acme", invoice.KindStandard, "client-42", "EUR",
		ledger.NewDate(2025, 2, 1), decimal.NewFromInt(100), decimal.NewFromInt(20))
	doc, err := f.engine.CreateDraft(ctx, std, actor)
	require.NoError(t, err)
	_, err = f.engine.Finalize(ctx, doc.ID, invoice.StatusSent, actor)
	require.NoError(t, err)

	final := f.draftFinal(t, "acme", "client-42", 200)
	_, err = f.settlement.LinkAdvances(ctx, final, []ledger.DocumentID{doc.ID}, actor)
	assert.Equal(t, "not_advance", linkageCode(t, err))
}

func TestLinkAdvances_FinalizedFinalRejected(t *testing.T) {
	// Once the final invoice is locked, its settlement is settled.

	f := newFixture(t)
	ctx := context.Background()

	a := f.finalizedAdvance(t, "acme", "client-42", 100)
	final := f.draftFinal(t, "acme", "client-42", 200)
	_, err := f.engine.Finalize(ctx, final, invoice.StatusSent, actor)
	require.NoError(t, err)

	_, err = f.settlement.LinkAdvances(ctx, final, []ledger.DocumentID{a}, actor)
	assert.ErrorIs(t, err, ledger.ErrAlreadyFinalized)
}

func TestLinkAdvances_EmptyRequestRejected(t *testing.T) {
	f := newFixture(t)
	final := f.draftFinal(t, "acme", "client-42", 200)

	_, err := f.settlement.LinkAdvances(context.Background(), final, nil, actor)
	assert.Equal(t, "no_advances", linkageCode(t, err))
}

// =============================================================================
// AUDIT
// =============================================================================

func TestLinkAdvances_WritesAuditEntryOnFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.finalizedAdvance(t, "acme", "client-42", 100)
	final := f.draftFinal(t, "acme", "client-42", 200)

	_, err := f.settlement.LinkAdvances(ctx, final, []ledger.DocumentID{a}, actor)
	require.NoError(t, err)

	trail, err := f.store.AuditByDocument(ctx, final)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, ledger.AuditAdvancesLinked, trail[1].Action)
	assert.Equal(t, "100.00", trail[1].Diff["total_advances"].To)
}
