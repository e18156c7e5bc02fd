// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ledgerline/fiscal-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	documents map[ledger.DocumentID]ledger.Document
	order     []ledger.DocumentID // insertion order, for listings
	audit     []ledger.AuditEntry
	links     []ledger.AdvanceLink
	runs      []ledger.VerificationRun
}

func NewMemory() *Memory {
	return &Memory{documents: make(map[ledger.DocumentID]ledger.Document)}
}

var _ ledger.TxStore = (*Memory)(nil)

// =============================================================================
// DOCUMENT STORE
// =============================================================================

func (m *Memory) InsertDocument(_ context.Context, doc ledger.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(doc)
}

func (m *Memory) insertLocked(doc ledger.Document) error {
	m.documents[doc.ID] = doc
	m.order = append(m.order, doc.ID)
	return nil
}

func (m *Memory) GetDocument(_ context.Context, id ledger.DocumentID) (*ledger.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id), nil
}

func (m *Memory) getLocked(id ledger.DocumentID) *ledger.Document {
	doc, ok := m.documents[id]
	if !ok {
		return nil
	}
	out := doc
	return &out
}

func (m *Memory) UpdateDraft(_ context.Context, doc ledger.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateDraftLocked(doc)
}

func (m *Memory) updateDraftLocked(doc ledger.Document) error {
	current, ok := m.documents[doc.ID]
	if !ok {
		return ledger.ErrDocumentNotFound
	}
	if current.Locked {
		return ledger.ErrAlreadyFinalized
	}
	// Content fields only; lifecycle and chain fields stay untouched.
	current.Kind = doc.Kind
	current.IssueDate = doc.IssueDate
	current.CounterpartyID = doc.CounterpartyID
	current.Currency = doc.Currency
	current.Total = doc.Total
	current.TaxAmount = doc.TaxAmount
	current.UpdatedAt = doc.UpdatedAt
	m.documents[doc.ID] = current
	return nil
}

func (m *Memory) FinalizeDocument(_ context.Context, id ledger.DocumentID, sequence int64, number string, link ledger.ChainLink, status ledger.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalizeLocked(id, sequence, number, link, status)
}

func (m *Memory) finalizeLocked(id ledger.DocumentID, sequence int64, number string, link ledger.ChainLink, status ledger.Status) error {
	doc, ok := m.documents[id]
	if !ok {
		return ledger.ErrDocumentNotFound
	}
	if doc.Locked {
		return ledger.ErrAlreadyFinalized
	}
	for _, other := range m.documents {
		if other.TenantID == doc.TenantID && other.Type.TypeID() == doc.Type.TypeID() &&
			other.Sequence != nil && *other.Sequence == sequence {
			return ledger.ErrSequenceConflict
		}
	}
	doc.Sequence = &sequence
	doc.Number = number
	doc.Hash = link.Hash
	doc.PreviousHash = link.PreviousHash
	doc.Signature = link.Signature
	doc.Status = status
	doc.Locked = true
	doc.UpdatedAt = time.Now().UTC()
	m.documents[id] = doc
	return nil
}

func (m *Memory) SetStatus(_ context.Context, id ledger.DocumentID, status ledger.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setStatusLocked(id, status)
}

func (m *Memory) setStatusLocked(id ledger.DocumentID, status ledger.Status) error {
	doc, ok := m.documents[id]
	if !ok {
		return ledger.ErrDocumentNotFound
	}
	doc.Status = status
	doc.UpdatedAt = time.Now().UTC()
	m.documents[id] = doc
	return nil
}

func (m *Memory) DeleteDraft(_ context.Context, id ledger.DocumentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteDraftLocked(id)
}

func (m *Memory) deleteDraftLocked(id ledger.DocumentID) error {
	doc, ok := m.documents[id]
	if !ok {
		return ledger.ErrDocumentNotFound
	}
	if doc.Locked || doc.Status != ledger.StatusDraft {
		return ledger.ErrDraftOnly
	}
	delete(m.documents, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) SoftDeleteDocument(_ context.Context, id ledger.DocumentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.softDeleteLocked(id)
}

func (m *Memory) softDeleteLocked(id ledger.DocumentID) error {
	doc, ok := m.documents[id]
	if !ok {
		return ledger.ErrDocumentNotFound
	}
	now := time.Now().UTC()
	doc.DeletedAt = &now
	m.documents[id] = doc
	return nil
}

func (m *Memory) MaxSequence(_ context.Context, tenantID ledger.TenantID, typeID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxSequenceLocked(tenantID, typeID), nil
}

func (m *Memory) maxSequenceLocked(tenantID ledger.TenantID, typeID string) int64 {
	var max int64
	for _, doc := range m.documents {
		// Soft-deleted documents still occupy their number.
		if doc.TenantID == tenantID && doc.Type.TypeID() == typeID &&
			doc.Sequence != nil && *doc.Sequence > max {
			max = *doc.Sequence
		}
	}
	return max
}

func (m *Memory) LastChainedHash(_ context.Context, tenantID ledger.TenantID, typeID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastChainedHashLocked(tenantID, typeID), nil
}

func (m *Memory) lastChainedHashLocked(tenantID ledger.TenantID, typeID string) string {
	var max int64
	var hash string
	for _, doc := range m.documents {
		if doc.TenantID == tenantID && doc.Type.TypeID() == typeID &&
			doc.Sequence != nil && *doc.Sequence > max {
			max = *doc.Sequence
			hash = doc.Hash
		}
	}
	return hash
}

func (m *Memory) ListChained(_ context.Context, tenantID ledger.TenantID, typeID string) ([]ledger.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listChainedLocked(tenantID, typeID), nil
}

func (m *Memory) listChainedLocked(tenantID ledger.TenantID, typeID string) []ledger.Document {
	var docs []ledger.Document
	for _, doc := range m.documents {
		if doc.TenantID == tenantID && doc.Type.TypeID() == typeID && doc.Sequence != nil {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return *docs[i].Sequence < *docs[j].Sequence })
	return docs
}

func (m *Memory) ListDocuments(_ context.Context, tenantID ledger.TenantID, typeID string) ([]ledger.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var docs []ledger.Document
	for _, id := range m.order {
		doc := m.documents[id]
		if doc.TenantID == tenantID && doc.Type.TypeID() == typeID && doc.DeletedAt == nil {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (m *Memory) ListTenants(_ context.Context) ([]ledger.TenantID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[ledger.TenantID]bool)
	var tenants []ledger.TenantID
	for _, id := range m.order {
		doc := m.documents[id]
		if !seen[doc.TenantID] {
			seen[doc.TenantID] = true
			tenants = append(tenants, doc.TenantID)
		}
	}
	return tenants, nil
}

// =============================================================================
// AUDIT STORE (append-only)
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry ledger.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) AuditByDocument(_ context.Context, id ledger.DocumentID) ([]ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []ledger.AuditEntry
	for _, e := range m.audit {
		if e.DocumentID == id {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (m *Memory) QueryAudit(_ context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []ledger.AuditEntry
	for _, e := range m.audit {
		if matchesFilter(e, filter) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func matchesFilter(e ledger.AuditEntry, f ledger.AuditFilter) bool {
	if f.TenantID != nil && e.TenantID != *f.TenantID {
		return false
	}
	if f.DocumentID != nil && e.DocumentID != *f.DocumentID {
		return false
	}
	if f.ActorID != nil && e.ActorID != *f.ActorID {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if e.Action == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// =============================================================================
// LINK STORE
// =============================================================================

func (m *Memory) InsertLinks(_ context.Context, links []ledger.AdvanceLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLinksLocked(links)
}

func (m *Memory) insertLinksLocked(links []ledger.AdvanceLink) error {
	for _, link := range links {
		for _, existing := range m.links {
			if existing.AdvanceID == link.AdvanceID {
				return &ledger.LinkageError{Code: "already_linked", AdvanceID: link.AdvanceID,
					Detail: "advance already consumed by " + string(existing.FinalID)}
			}
		}
		m.links = append(m.links, link)
	}
	return nil
}

func (m *Memory) LinksByFinal(_ context.Context, finalID ledger.DocumentID) ([]ledger.AdvanceLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.linksByFinalLocked(finalID), nil
}

func (m *Memory) linksByFinalLocked(finalID ledger.DocumentID) []ledger.AdvanceLink {
	var links []ledger.AdvanceLink
	for _, l := range m.links {
		if l.FinalID == finalID {
			links = append(links, l)
		}
	}
	return links
}

func (m *Memory) LinkByAdvance(_ context.Context, advanceID ledger.DocumentID) (*ledger.AdvanceLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.linkByAdvanceLocked(advanceID), nil
}

func (m *Memory) linkByAdvanceLocked(advanceID ledger.DocumentID) *ledger.AdvanceLink {
	for _, l := range m.links {
		if l.AdvanceID == advanceID {
			out := l
			return &out
		}
	}
	return nil
}

func (m *Memory) DeleteLinksByFinal(_ context.Context, finalID ledger.DocumentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLinksLocked(finalID)
}

func (m *Memory) deleteLinksLocked(finalID ledger.DocumentID) error {
	kept := m.links[:0]
	for _, l := range m.links {
		if l.FinalID != finalID {
			kept = append(kept, l)
		}
	}
	m.links = kept
	return nil
}

// =============================================================================
// RUN STORE
// =============================================================================

func (m *Memory) SaveVerificationRun(_ context.Context, run ledger.VerificationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListVerificationRuns(_ context.Context, tenantID ledger.TenantID) ([]ledger.VerificationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var runs []ledger.VerificationRun
	for _, r := range m.runs {
		if tenantID == "" || r.TenantID == tenantID {
			runs = append(runs, r)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return runs, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a transaction, simulated with a snapshot +
// rollback on error. The store mutex is held for the whole scope, which
// also serializes concurrent finalizations the way a row lock would.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	view := &txMemoryView{parent: m}
	if err := fn(view); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	documents map[ledger.DocumentID]ledger.Document
	order     []ledger.DocumentID
	audit     []ledger.AuditEntry
	links     []ledger.AdvanceLink
	runs      []ledger.VerificationRun
}

func (m *Memory) snapshot() memorySnapshot {
	docs := make(map[ledger.DocumentID]ledger.Document, len(m.documents))
	for k, v := range m.documents {
		docs[k] = v
	}
	return memorySnapshot{
		documents: docs,
		order:     append([]ledger.DocumentID{}, m.order...),
		audit:     append([]ledger.AuditEntry{}, m.audit...),
		links:     append([]ledger.AdvanceLink{}, m.links...),
		runs:      append([]ledger.VerificationRun{}, m.runs...),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.documents = s.documents
	m.order = s.order
	m.audit = s.audit
	m.links = s.links
	m.runs = s.runs
}

// txMemoryView calls the parent's *Locked methods directly: the mutex is
// already held by WithTx.
type txMemoryView struct {
	parent *Memory
}

var _ ledger.Store = (*txMemoryView)(nil)

func (tv *txMemoryView) InsertDocument(_ context.Context, doc ledger.Document) error {
	return tv.parent.insertLocked(doc)
}

func (tv *txMemoryView) GetDocument(_ context.Context, id ledger.DocumentID) (*ledger.Document, error) {
	return tv.parent.getLocked(id), nil
}

func (tv *txMemoryView) UpdateDraft(_ context.Context, doc ledger.Document) error {
	return tv.parent.updateDraftLocked(doc)
}

func (tv *txMemoryView) FinalizeDocument(_ context.Context, id ledger.DocumentID, sequence int64, number string, link ledger.ChainLink, status ledger.Status) error {
	return tv.parent.finalizeLocked(id, sequence, number, link, status)
}

func (tv *txMemoryView) SetStatus(_ context.Context, id ledger.DocumentID, status ledger.Status) error {
	return tv.parent.setStatusLocked(id, status)
}

func (tv *txMemoryView) DeleteDraft(_ context.Context, id ledger.DocumentID) error {
	return tv.parent.deleteDraftLocked(id)
}

func (tv *txMemoryView) SoftDeleteDocument(_ context.Context, id ledger.DocumentID) error {
	return tv.parent.softDeleteLocked(id)
}

func (tv *txMemoryView) MaxSequence(_ context.Context, tenantID ledger.TenantID, typeID string) (int64, error) {
	return tv.parent.maxSequenceLocked(tenantID, typeID), nil
}

func (tv *txMemoryView) LastChainedHash(_ context.Context, tenantID ledger.TenantID, typeID string) (string, error) {
	return tv.parent.lastChainedHashLocked(tenantID, typeID), nil
}

func (tv *txMemoryView) ListChained(_ context.Context, tenantID ledger.TenantID, typeID string) ([]ledger.Document, error) {
	return tv.parent.listChainedLocked(tenantID, typeID), nil
}

func (tv *txMemoryView) ListDocuments(_ context.Context, tenantID ledger.TenantID, typeID string) ([]ledger.Document, error) {
	var docs []ledger.Document
	for _, id := range tv.parent.order {
		doc := tv.parent.documents[id]
		if doc.TenantID == tenantID && doc.Type.TypeID() == typeID && doc.DeletedAt == nil {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (tv *txMemoryView) ListTenants(_ context.Context) ([]ledger.TenantID, error) {
	seen := make(map[ledger.TenantID]bool)
	var tenants []ledger.TenantID
	for _, id := range tv.parent.order {
		doc := tv.parent.documents[id]
		if !seen[doc.TenantID] {
			seen[doc.TenantID] = true
			tenants = append(tenants, doc.TenantID)
		}
	}
	return tenants, nil
}

func (tv *txMemoryView) AppendAudit(_ context.Context, entry ledger.AuditEntry) error {
	tv.parent.audit = append(tv.parent.audit, entry)
	return nil
}

func (tv *txMemoryView) AuditByDocument(_ context.Context, id ledger.DocumentID) ([]ledger.AuditEntry, error) {
	var entries []ledger.AuditEntry
	for _, e := range tv.parent.audit {
		if e.DocumentID == id {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (tv *txMemoryView) QueryAudit(_ context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	var entries []ledger.AuditEntry
	for _, e := range tv.parent.audit {
		if matchesFilter(e, filter) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (tv *txMemoryView) InsertLinks(_ context.Context, links []ledger.AdvanceLink) error {
	return tv.parent.insertLinksLocked(links)
}

func (tv *txMemoryView) LinksByFinal(_ context.Context, finalID ledger.DocumentID) ([]ledger.AdvanceLink, error) {
	return tv.parent.linksByFinalLocked(finalID), nil
}

func (tv *txMemoryView) LinkByAdvance(_ context.Context, advanceID ledger.DocumentID) (*ledger.AdvanceLink, error) {
	return tv.parent.linkByAdvanceLocked(advanceID), nil
}

func (tv *txMemoryView) DeleteLinksByFinal(_ context.Context, finalID ledger.DocumentID) error {
	return tv.parent.deleteLinksLocked(finalID)
}

func (tv *txMemoryView) SaveVerificationRun(_ context.Context, run ledger.VerificationRun) error {
	tv.parent.runs = append(tv.parent.runs, run)
	return nil
}

func (tv *txMemoryView) ListVerificationRuns(_ context.Context, tenantID ledger.TenantID) ([]ledger.VerificationRun, error) {
	var runs []ledger.VerificationRun
	for _, r := range tv.parent.runs {
		if tenantID == "" || r.TenantID == tenantID {
			runs = append(runs, r)
		}
	}
	return runs, nil
}
