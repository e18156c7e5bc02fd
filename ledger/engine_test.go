package ledger_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/fiscal-engine/creditnote"
	"github.com/ledgerline/fiscal-engine/invoice"
	"github.com/ledgerline/fiscal-engine/ledger"
	"github.com/ledgerline/fiscal-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testActor = ledger.Actor{ID: "tester", Role: "user", Origin: "test"}

func newTestEngine(t *testing.T) (*ledger.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	signer := ledger.NewSigner([]byte("test-signing-key"))
	engine := ledger.NewEngine(mem, signer, zerolog.Nop())
	return engine, mem
}

func invoiceDraft(tenant ledger.TenantID, client string, total int64) ledger.Document {
	return invoice.NewDraft(tenant, invoice.KindStandard, client, "EUR",
		ledger.NewDate(2025, 3, 10), decimal.NewFromInt(total), decimal.NewFromInt(total/5))
}

// =============================================================================
// DRAFT LIFECYCLE
// =============================================================================

func TestCreateDraft_AssignsTemporaryNumber(t *testing.T) {
	// GIVEN: A new invoice draft
	// WHEN: Creating it
	// THEN: It has a DRAFT- number, no sequence, and is unlocked

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	doc, err := engine.CreateDraft(ctx, invoiceDraft("acme", "client-1", 100), testActor)
	require.NoError(t, err)

	assert.True(t, doc.IsDraft())
	assert.False(t, doc.Locked)
	assert.Nil(t, doc.Sequence)
	assert.Regexp(t, `^DRAFT-`, doc.Number)
	assert.Empty(t, doc.Hash)
}

func TestCreateDraft_UnregisteredTypeRejected(t *testing.T) {
	engine, _ := newTestEngine(t)

	doc := invoiceDraft("acme", "client-1", 100)
	doc.Type = ledger.StringType{ID: "receipt", Prefix: "RC"}

	_, err := engine.CreateDraft(context.Background(), doc, testActor)
	assert.ErrorIs(t, err, ledger.ErrUnknownType)
}

func TestUpdateDraft_RewritesFieldsAndRecordsDiff(t *testing.T) {
	// GIVEN: An existing draft
	// WHEN: Changing its total
	// THEN: The change applies and the audit trail carries the diff

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	doc, err := engine.CreateDraft(ctx, invoiceDraft("acme", "client-1", 100), testActor)
	require.NoError(t, err)

	next := *doc
	next.Total = decimal.NewFromInt(250)
	updated, err := engine.UpdateDraft(ctx, next, testActor)
	require.NoError(t, err)
	assert.True(t, updated.Total.Equal(decimal.NewFromInt(250)))

	trail, err := engine.AuditTrail(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, ledger.AuditDraftUpdated, trail[1].Action)
	assert.Equal(t, ledger.FieldChange{From: "100.00", To: "250.00"}, trail[1].Diff["total"])
}

func TestDeleteDraft_HardDeletesWithoutConsumingSequence(t *testing.T) {
	// GIVEN: A draft alongside a finalized invoice
	// WHEN: The draft is deleted and another invoice finalizes
	// THEN: The deleted draft never consumed a sequence number

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.CreateDraft(ctx, invoiceDraft("acme", "client-1", 100), testActor)
	require.NoError(t, err)
	_, err = engine.Finalize(ctx, first.ID, invoice.StatusSent, testActor)
	require.NoError(t, err)

	doomed, err := engine.CreateDraft(ctx, invoiceDraft("acme", "client-2", 100), testActor)
	require.NoError(t, err)
	require.NoError(t, engine.DeleteDraft(ctx, doomed.ID, testActor))

	second, err := engine.CreateDraft(ctx, invoiceDraft("acme", "client-3", 100), testActor)
	require.NoError(t, err)
	finalized, err := engine.Finalize(ctx, second.ID, invoice.StatusSent, testActor)
	require.NoError(t, err)

	assert.Equal(t, int64(2), finalized.Sequence, "draft deletion must not create a gap")
}

func TestDeleteDraft_FinalizedDocumentRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	doc, err := engine.CreateDraft(ctx, invoiceDraft("acme", "client-1", 100), testActor)
	require.NoError(t, err)
	_, err = engine.Finalize(ctx, doc.ID, invoice.StatusSent, testActor)
	require.NoError(t, err)

	err = engine.DeleteDraft(ctx, doc.ID, testActor)
	assert.ErrorIs(t, err, ledger.ErrDraftOnly)
}

// =============================================================================
// FINALIZATION - Sequences, numbers, chain
// =============================================================================

func TestFinalize_AssignsGapFreeSequenceAndPermanentNumber(t *testing.T) {
	// GIVEN: Three drafts for the same tenant
	// WHEN: Finalizing them in order
	// THEN: Sequences are 1, 2, 3 and numbers derive from them

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		doc, err := engine.CreateDraft(ctx, invoiceDraft("acme", "client", 100*i), testActor)
		require.NoError(t, err)
		finalized, err := engine.Finalize(ctx, doc.ID, invoice.StatusSent, testActor)
		require.NoError(t, err)

		assert.Equal(t, i, finalized.Sequence)
		assert.Equal(t, fmt.Sprintf("INV-2025-%04d", i), finalized.Number)
	}
}

func TestFinalize_ChainsDocumentsTogether(t *testing.T) {
	// GIVEN: Two finalized invoices
	// THEN: The first links to INITIAL, the second to the first's hash

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	d1, err := engine.CreateDraft(ctx, invoiceDraft("acme", "client-1", 100), testActor)
	require.NoError(t, err)
	f1, err := engine.Finalize(ctx, d1.ID, invoice.StatusSent, testActor)
	require.NoError(t, err)

	d2, err := engine.CreateDraft(ctx, invoiceDraft("acme", "client-2", 200), testActor)
	require.NoError(t, err)
	_, err = engine.Finalize(ctx, d2.ID, invoice.StatusSent, testActor)
	require.NoError(t, err)

	stored1, err := mem.GetDocument(ctx, d1.ID)
	require.NoError(t, err)
	stored2, err := mem.GetDocument(ctx, d2.ID)
	require.NoError(t, err)

	assert.Equal(t, ledger.InitialHash, stored1.PreviousHash)
	assert.Equal(t, f1.Hash, stored2.PreviousHash)
	assert.True(t, stored1.Locked)
	assert.True(t, stored2.Locked)
}

func TestFinalize_ChainsAreScopedPerTenantAndType(t *testing.T) {
	// GIVEN: Invoices for two tenants and a credit note for one of them
	// THEN: Each (tenant, type) pair sequences independently from 1

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	a1, err := engine.CreateDraft(ctx, invoiceDraft("acme", "c", 100), testActor)
	require.NoError(t, err)
	fa1, err := engine.Finalize(ctx, a1.ID, invoice.StatusSent, testActor)
	require.NoError(t, err)

	b1, err := engine.CreateDraft(ctx, invoiceDraft("globex", "c", 100), testActor)
	require.NoError(t, err)
	fb1, err := engine.Finalize(ctx, b1.ID, invoice.StatusSent, testActor)
	require.NoError(t, err)

	cn := creditnote.NewDraft("acme", "c", "EUR", ledger.NewDate(2025, 3, 10),
		decimal.NewFromInt(50), decimal.NewFromInt(10))
	cn1, err := engine.CreateDraft(ctx, cn, testActor)
	require.NoError(t, err)
	fcn1, err := engine.Finalize(ctx, cn1.ID, creditnote.StatusIssued, testActor)
	require.NoError(t, err)

	assert.Equal(t, int64(1), fa1.Sequence)
	assert.Equal(t, int64(1), fb1.Sequence, "tenants sequence independently")
	assert.Equal(t, int64(1), fcn1.Sequence, "types sequence independently")
	assert.Equal(t, "CN-2025-0001", fcn1.Number)
}

func TestFinalize_TwiceRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	doc, err := engine.CreateDraft(ctx, invoiceDraft("acme", "client", 100), testActor)
	require.NoError(t, err)
	_, err = engine.Finalize(ctx, doc.ID, invoice.StatusSent, testActor)
	require.NoError(t, err)

	_, err = engine.Finalize(ctx, doc.ID, invoice.StatusSent, testActor)
	assert.ErrorIs(t, err, ledger.ErrAlreadyFinalized)
}

func TestFinalize_ToCancelledStillConsumesSequence(t *testing.T) {
	// GIVEN: A draft cancelled directly
	// THEN: Cancellation crosses the finalization boundary: the document
	//       gets a number, joins the chain, and the next invoice follows it

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	doc, err := engine.CreateDraft(ctx, invoiceDraft("acme", "client", 100), testActor)
	require.NoError(t, err)
	cancelled, err := engine.Finalize(ctx, doc.ID, ledger.StatusCancelled, testActor)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cancelled.Sequence)

	next, err := engine.CreateDraft(ctx, invoiceDraft("acme", "client", 100), testActor)
	require.NoError(t, err)
	f, err := engine.Finalize(ctx, next.ID, invoice.StatusSent, testActor)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.Sequence)
}

// =============================================================================
// IMMUTABILITY
// =============================================================================

func TestUpdateDraft_LockedDocumentRejected(t *testing.T) {
	// GIVEN: A finalized invoice
	// WHEN: Any edit is attempted
	// THEN: ErrAlreadyFinalized, regardless of the actor

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	doc, err := engine.CreateDraft(ctx, invoiceDraft("acme", "client", 100), testActor)
	require.NoError(t, err)
	_, err = engine.Finalize(ctx, doc.ID, invoice.StatusSent, testActor)
	require.NoError(t, err)

	next := *doc
	next.Total = decimal.NewFromInt(999)

	for _, actor := range []ledger.Actor{testActor, {ID: "root", Role: "admin", Origin: "console"}, ledger.System} {
		_, err = engine.UpdateDraft(ctx, next, actor)
		assert.ErrorIs(t, err, ledger.ErrAlreadyFinalized)
	}
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

func TestTransition_AllowedStatusAdvance(t *testing.T) {
	// GIVEN: A sent invoice
	// WHEN: Marking it paid
	// THEN: Status changes; sequence, number and hash stay untouched

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	doc, err := engine.CreateDraft(ctx, invoiceDraft("acme", "client", 100), testActor)
	require.NoError(t, err)
	finalized, err := engine.Finalize(ctx, doc.ID, invoice.StatusSent, testActor)
	require.NoError(t, err)

	updated, err := engine.Transition(ctx, doc.ID, invoice.StatusPaid, testActor)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, updated.Status)

	stored, err := mem.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, finalized.Sequence, stored.SequenceValue())
	assert.Equal(t, finalized.Number, stored.Number)
	assert.Equal(t, finalized.Hash, stored.Hash)
}

func TestTransition_InvalidMoveRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	doc, err := engine.CreateDraft(ctx, invoiceDraft("acme", "client", 100), testActor)
	require.NoError(t, err)
	_, err = engine.Finalize(ctx, doc.ID, invoice.StatusPaid, testActor)
	require.NoError(t, err)

	// paid is terminal for invoices
	_, err = engine.Transition(ctx, doc.ID, invoice.StatusSent, testActor)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	var transErr *ledger.TransitionError
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, invoice.StatusPaid, transErr.From)
	assert.Equal(t, invoice.StatusSent, transErr.To)
}

func TestTransition_DraftRoutesThroughFinalization(t *testing.T) {
	// GIVEN: A draft
	// WHEN: Transitioning it to sent
	// THEN: The document is finalized (numbered, hashed, locked)

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	doc, err := engine.CreateDraft(ctx, invoiceDraft("acme", "client", 100), testActor)
	require.NoError(t, err)

	updated, err := engine.Transition(ctx, doc.ID, invoice.StatusSent, testActor)
	require.NoError(t, err)

	assert.Equal(t, invoice.StatusSent, updated.Status)
	assert.True(t, updated.Locked)
	assert.Equal(t, int64(1), updated.SequenceValue())
	assert.NotEmpty(t, updated.Hash)
}

// =============================================================================
// SOFT DELETION
// =============================================================================

func TestSoftDelete_KeepsSequenceAndChainMembership(t *testing.T) {
	// GIVEN: Two finalized invoices, the first soft-deleted
	// WHEN: A third invoice finalizes
	// THEN: It takes sequence 3 and links to the second's hash; the chain
	//       still verifies end to end

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	d1, err := engine.CreateDraft(ctx, invoiceDraft("acme", "c1", 100), testActor)
	require.NoError(t, err)
	_, err = engine.Finalize(ctx, d1.ID, invoice.StatusSent, testActor)
	require.NoError(t, err)

	d2, err := engine.CreateDraft(ctx, invoiceDraft("acme", "c2", 200), testActor)
	require.NoError(t, err)
	f2, err := engine.Finalize(ctx, d2.ID, invoice.StatusSent, testActor)
	require.NoError(t, err)

	require.NoError(t, engine.SoftDelete(ctx, d1.ID, testActor))

	d3, err := engine.CreateDraft(ctx, invoiceDraft("acme", "c3", 300), testActor)
	require.NoError(t, err)
	f3, err := engine.Finalize(ctx, d3.ID, invoice.StatusSent, testActor)
	require.NoError(t, err)

	assert.Equal(t, int64(3), f3.Sequence, "soft-deleted documents keep their numbers")
	stored3, err := mem.GetDocument(ctx, d3.ID)
	require.NoError(t, err)
	assert.Equal(t, f2.Hash, stored3.PreviousHash)

	verifier := ledger.NewVerifier(mem, ledger.NewSigner([]byte("test-signing-key")), zerolog.Nop())
	report, err := verifier.VerifyChain(ctx, "acme", invoice.TypeInvoice.TypeID())
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 3, report.Checked, "soft-deleted documents stay in the chain")
}

func TestSoftDelete_DraftRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	doc, err := engine.CreateDraft(ctx, invoiceDraft("acme", "client", 100), testActor)
	require.NoError(t, err)

	err = engine.SoftDelete(ctx, doc.ID, testActor)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestSoftDelete_AuditTrailSurvives(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	doc, err := engine.CreateDraft(ctx, invoiceDraft("acme", "client", 100), testActor)
	require.NoError(t, err)
	_, err = engine.Finalize(ctx, doc.ID, invoice.StatusSent, testActor)
	require.NoError(t, err)
	require.NoError(t, engine.SoftDelete(ctx, doc.ID, testActor))

	trail, err := engine.AuditTrail(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, ledger.AuditDraftCreated, trail[0].Action)
	assert.Equal(t, ledger.AuditFinalized, trail[1].Action)
	assert.Equal(t, ledger.AuditSoftDeleted, trail[2].Action)
}

// =============================================================================
// AUDIT COMPLETENESS
// =============================================================================

func TestAuditTrail_EveryMutationLeavesASignedEntry(t *testing.T) {
	// GIVEN: A document going through its whole lifecycle
	// THEN: One entry per mutation, each with a verifiable signature

	signer := ledger.NewSigner([]byte("test-signing-key"))
	mem := store.NewMemory()
	engine := ledger.NewEngine(mem, signer, zerolog.Nop())
	ctx := context.Background()

	doc, err := engine.CreateDraft(ctx, invoiceDraft("acme", "client", 100), testActor)
	require.NoError(t, err)

	next := *doc
	next.Total = decimal.NewFromInt(150)
	_, err = engine.UpdateDraft(ctx, next, testActor)
	require.NoError(t, err)

	_, err = engine.Finalize(ctx, doc.ID, invoice.StatusSent, testActor)
	require.NoError(t, err)
	_, err = engine.Transition(ctx, doc.ID, invoice.StatusPaid, testActor)
	require.NoError(t, err)

	trail, err := engine.AuditTrail(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, trail, 4)

	actions := []ledger.AuditAction{}
	recorder := ledger.NewRecorder(signer)
	for _, entry := range trail {
		actions = append(actions, entry.Action)
		assert.NoError(t, recorder.VerifyEntry(entry), "entry %s must verify", entry.Action)
		assert.Equal(t, ledger.ActorID("tester"), entry.ActorID)
		assert.Equal(t, "test", entry.Origin)
	}
	assert.Equal(t, []ledger.AuditAction{
		ledger.AuditDraftCreated,
		ledger.AuditDraftUpdated,
		ledger.AuditFinalized,
		ledger.AuditStatusChanged,
	}, actions)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestFinalize_ConcurrentDraftsGetDistinctSequences(t *testing.T) {
	// GIVEN: 20 drafts finalized from concurrent goroutines
	// THEN: The assigned sequences are exactly 1..20 with no gaps or
	//       duplicates, and the resulting chain verifies

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	const n = 20
	ids := make([]ledger.DocumentID, n)
	for i := 0; i < n; i++ {
		doc, err := engine.CreateDraft(ctx, invoiceDraft("acme", fmt.Sprintf("client-%d", i), 100), testActor)
		require.NoError(t, err)
		ids[i] = doc.ID
	}

	var wg sync.WaitGroup
	results := make([]int64, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := engine.Finalize(ctx, ids[i], invoice.StatusSent, testActor)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = f.Sequence
		}(i)
	}
	wg.Wait()

	var sequences []int64
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "finalization %d", i)
		sequences = append(sequences, results[i])
	}
	sort.Slice(sequences, func(a, b int) bool { return sequences[a] < sequences[b] })
	for i := int64(1); i <= n; i++ {
		assert.Equal(t, i, sequences[i-1])
	}

	verifier := ledger.NewVerifier(mem, ledger.NewSigner([]byte("test-signing-key")), zerolog.Nop())
	report, err := verifier.VerifyChain(ctx, "acme", invoice.TypeInvoice.TypeID())
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, n, report.Checked)
}
