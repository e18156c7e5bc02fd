package ledger_test

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

// buildChain finalizes n invoices for the tenant and returns the store's
// chained documents in sequence order.
func buildChain(t *testing.T, engine *ledger.Engine, mem *store.Memory, tenant ledger.TenantID, n int) []ledger.Document {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		doc, err := engine.CreateDraft(ctx, invoiceDraft(tenant, "client", int64(100+i)), testActor)
		require.NoError(t, err)
		_, err = engine.Finalize(ctx, doc.ID, invoice.StatusSent, testActor)
		require.NoError(t, err)
	}
	docs, err := mem.ListChained(ctx, tenant, invoice.TypeInvoice.TypeID())
	require.NoError(t, err)
	require.Len(t, docs, n)
	return docs
}

// reinsert copies documents into a fresh store, applying mutate to the
// document at index idx. Simulates out-of-band tampering with stored rows.
func reinsert(t *testing.T, docs []ledger.Document, idx int, mutate func(*ledger.Document)) *store.Memory {
	t.Helper()
	tampered := store.NewMemory()
	ctx := context.Background()
	for i := range docs {
		doc := docs[i]
		if i == idx {
			mutate(&doc)
		}
		require.NoError(t, tampered.InsertDocument(ctx, doc))
	}
	return tampered
}

func TestVerifyChain_ValidChainPasses(t *testing.T) {
	engine, mem := newTestEngine(t)
	buildChain(t, engine, mem, "acme", 5)

	verifier := ledger.NewVerifier(mem, ledger.NewSigner([]byte("test-signing-key")), zerolog.Nop())
	report, err := verifier.VerifyChain(context.Background(), "acme", invoice.TypeInvoice.TypeID())
	require.NoError(t, err)

	assert.True(t, report.Valid)
	assert.Nil(t, report.BrokenAt)
	assert.Equal(t, 5, report.Checked)
	assert.NoError(t, report.Err())
}

func TestVerifyChain_EmptyChainIsValid(t *testing.T) {
	_, mem := newTestEngine(t)
	verifier := ledger.NewVerifier(mem, ledger.NewSigner([]byte("test-signing-key")), zerolog.Nop())

	report, err := verifier.VerifyChain(context.Background(), "nobody", invoice.TypeInvoice.TypeID())
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 0, report.Checked)
}

func TestVerifyChain_TamperedTotalDetected(t *testing.T) {
	// GIVEN: A valid 4-document chain whose second document's total was
	//        altered directly in storage
	// WHEN: Verifying
	// THEN: The break is reported at sequence 2 as a hash mismatch

	engine, mem := newTestEngine(t)
	docs := buildChain(t, engine, mem, "acme", 4)

	tampered := reinsert(t, docs, 1, func(d *ledger.Document) {
		d.Total = decimal.NewFromInt(999999)
	})

	verifier := ledger.NewVerifier(tampered, ledger.NewSigner([]byte("test-signing-key")), zerolog.Nop())
	report, err := verifier.VerifyChain(context.Background(), "acme", invoice.TypeInvoice.TypeID())
	require.NoError(t, err)

	assert.False(t, report.Valid)
	require.NotNil(t, report.BrokenAt)
	assert.Equal(t, int64(2), *report.BrokenAt)
	assert.Equal(t, "hash_mismatch", report.Reason)

	var breakErr *ledger.ChainBreakError
	require.ErrorAs(t, report.Err(), &breakErr)
	assert.ErrorIs(t, report.Err(), ledger.ErrChainBroken)
}

func TestVerifyChain_RewrittenHashDetected(t *testing.T) {
	// An attacker who recomputes the hash after editing a document still
	// fails: the successor's stored previous-hash no longer matches.

	engine, mem := newTestEngine(t)
	docs := buildChain(t, engine, mem, "acme", 3)

	signer := ledger.NewSigner([]byte("test-signing-key"))
	tampered := reinsert(t, docs, 1, func(d *ledger.Document) {
		d.Total = decimal.NewFromInt(5)
		payload := ledger.ChainPayload(d.SequenceValue(), d.Number, d.IssueDate,
			d.Total, d.TaxAmount, d.CounterpartyID, d.PreviousHash)
		d.Hash = ledger.HashPayload(payload)
		d.Signature = signer.Sign(payload)
	})

	verifier := ledger.NewVerifier(tampered, signer, zerolog.Nop())
	report, err := verifier.VerifyChain(context.Background(), "acme", invoice.TypeInvoice.TypeID())
	require.NoError(t, err)

	assert.False(t, report.Valid)
	require.NotNil(t, report.BrokenAt)
	assert.Equal(t, int64(3), *report.BrokenAt, "the successor betrays the rewrite")
	assert.Equal(t, "previous_hash_mismatch", report.Reason)
}

func TestVerifyChain_MissingDocumentDetectedAsGap(t *testing.T) {
	engine, mem := newTestEngine(t)
	docs := buildChain(t, engine, mem, "acme", 3)

	// Drop the second document entirely.
	gapped := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, gapped.InsertDocument(ctx, docs[0]))
	require.NoError(t, gapped.InsertDocument(ctx, docs[2]))

	verifier := ledger.NewVerifier(gapped, ledger.NewSigner([]byte("test-signing-key")), zerolog.Nop())
	report, err := verifier.VerifyChain(ctx, "acme", invoice.TypeInvoice.TypeID())
	require.NoError(t, err)

	assert.False(t, report.Valid)
	assert.Equal(t, "sequence_gap", report.Reason)
}

func TestVerifyChain_ForeignSignatureDetected(t *testing.T) {
	// GIVEN: A chain whose hashes are intact but one signature was made
	//        under a key the verifier does not know
	// THEN: The break is reported as a signature mismatch

	engine, mem := newTestEngine(t)
	docs := buildChain(t, engine, mem, "acme", 2)

	rogue := ledger.NewSigner([]byte("rogue-key"))
	tampered := reinsert(t, docs, 0, func(d *ledger.Document) {
		payload := ledger.ChainPayload(d.SequenceValue(), d.Number, d.IssueDate,
			d.Total, d.TaxAmount, d.CounterpartyID, d.PreviousHash)
		d.Signature = rogue.Sign(payload)
	})

	verifier := ledger.NewVerifier(tampered, ledger.NewSigner([]byte("test-signing-key")), zerolog.Nop())
	report, err := verifier.VerifyChain(context.Background(), "acme", invoice.TypeInvoice.TypeID())
	require.NoError(t, err)

	assert.False(t, report.Valid)
	assert.Equal(t, "signature_mismatch", report.Reason)
}

func TestVerifyChain_SurvivesKeyRotation(t *testing.T) {
	// GIVEN: A chain signed under the old key
	// WHEN: Verifying with the new active key and the old key retired
	// THEN: The chain still verifies

	engine, mem := newTestEngine(t)
	buildChain(t, engine, mem, "acme", 3)

	rotated := ledger.NewSigner([]byte("new-key")).WithRetiredKeys([]byte("test-signing-key"))
	verifier := ledger.NewVerifier(mem, rotated, zerolog.Nop())

	report, err := verifier.VerifyChain(context.Background(), "acme", invoice.TypeInvoice.TypeID())
	require.NoError(t, err)
	assert.True(t, report.Valid)
}

// =============================================================================
// VERIFICATION RUNS
// =============================================================================

func TestVerifierRun_PersistsOutcome(t *testing.T) {
	engine, mem := newTestEngine(t)
	buildChain(t, engine, mem, "acme", 2)

	verifier := ledger.NewVerifier(mem, ledger.NewSigner([]byte("test-signing-key")), zerolog.Nop())
	_, err := verifier.Run(context.Background(), "acme", invoice.TypeInvoice.TypeID())
	require.NoError(t, err)

	runs, err := mem.ListVerificationRuns(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Valid)
	assert.Equal(t, 2, runs[0].Checked)
	assert.Equal(t, invoice.TypeInvoice.TypeID(), runs[0].TypeID)
}

func TestMonitor_RunNowSweepsAllTenants(t *testing.T) {
	engine, mem := newTestEngine(t)
	buildChain(t, engine, mem, "acme", 2)
	buildChain(t, engine, mem, "globex", 1)

	signer := ledger.NewSigner([]byte("test-signing-key"))
	verifier := ledger.NewVerifier(mem, signer, zerolog.Nop())
	monitor := ledger.NewMonitor(mem, verifier, zerolog.Nop())

	monitor.RunNow()

	// One run per tenant per registered type.
	runs, err := mem.ListVerificationRuns(context.Background(), "acme")
	require.NoError(t, err)
	assert.Len(t, runs, len(ledger.ListTypes()))

	runs, err = mem.ListVerificationRuns(context.Background(), "globex")
	require.NoError(t, err)
	assert.Len(t, runs, len(ledger.ListTypes()))
}
