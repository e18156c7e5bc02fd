/*
handlers.go - HTTP API handlers for the fiscal document engine

PURPOSE:
  Exposes the fiscal document engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Documents:
    GET    /api/documents                       List documents (tenant+type)
    POST   /api/documents                       Create draft
    GET    /api/documents/{id}                  Get document
    PUT    /api/documents/{id}                  Update draft fields
    DELETE /api/documents/{id}                  Hard-delete draft
    POST   /api/documents/{id}/finalize         Finalize into a binding status
    POST   /api/documents/{id}/transition       Advance status
    POST   /api/documents/{id}/soft-delete      Administrative soft-deletion
    GET    /api/documents/{id}/audit            Audit trail

  Settlement:
    POST   /api/invoices/{id}/advances          Link advance invoices
    GET    /api/invoices/{id}/settlement        Settlement summary

  Chains:
    GET    /api/chains/verify                   Verify one tenant+type chain
    GET    /api/chains/runs                     Verification run history

  Audit:
    GET    /api/audit                           Cross-document audit query

  Scenarios:
    GET    /api/scenarios                       List demo scenarios
    POST   /api/scenarios/load                  Load a demo scenario

TENANCY AND ACTORS:
  The tenant comes from the X-Tenant-ID header, the acting principal
  from X-Actor-ID and X-Actor-Role. The request's RemoteAddr becomes the
  audit origin. There is NO authentication: callers are trusted to
  assert who they are. Put an auth proxy in front for production.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 403: Writes against locked documents
  - 404: Document not found
  - 409: Sequence allocation conflicts, invalid transitions, linkage violations
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/fiscal-engine/invoice"
	"github.com/ledgerline/fiscal-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine     *ledger.Engine
	Settlement *invoice.Settlement
	Verifier   *ledger.Verifier
	Store      ledger.TxStore
	Log        zerolog.Logger

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a handler wired to the given engine.
func NewHandler(engine *ledger.Engine, verifier *ledger.Verifier, log zerolog.Logger) *Handler {
	return &Handler{
		Engine:     engine,
		Settlement: invoice.NewSettlement(engine.Store, engine.Recorder),
		Verifier:   verifier,
		Store:      engine.Store,
		Log:        log.With().Str("component", "api").Logger(),
	}
}

// actorFrom builds the audit actor from request headers. RemoteAddr is
// bound into the audit signature as the origin.
func actorFrom(r *http.Request) ledger.Actor {
	actor := ledger.Actor{
		ID:     ledger.ActorID(r.Header.Get("X-Actor-ID")),
		Role:   r.Header.Get("X-Actor-Role"),
		Origin: r.RemoteAddr,
	}
	if actor.ID == "" {
		actor.ID = "anonymous"
	}
	if actor.Role == "" {
		actor.Role = "user"
	}
	return actor
}

func tenantFrom(r *http.Request) ledger.TenantID {
	return ledger.TenantID(r.Header.Get("X-Tenant-ID"))
}

// =============================================================================
// DOCUMENT HANDLERS
// =============================================================================

// ListDocuments returns a tenant's documents of one type.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	typeID := r.URL.Query().Get("type")
	if tenantID == "" || typeID == "" {
		writeError(w, http.StatusBadRequest, "X-Tenant-ID header and type query parameter are required", nil)
		return
	}

	docs, err := h.Store.ListDocuments(r.Context(), tenantID, typeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTOs(docs))
}

// CreateDocument creates a draft fiscal document.
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "X-Tenant-ID header is required", nil)
		return
	}

	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	doc, err := documentFromRequest(tenantID, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid document", err)
		return
	}

	created, err := h.Engine.CreateDraft(r.Context(), doc, actorFrom(r))
	if err != nil {
		h.writeEngineError(w, err, "Failed to create draft")
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentDTO(created))
}

// GetDocument returns one document by ID.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.fetchDocument(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// UpdateDocument rewrites a draft's content fields. Locked documents are
// rejected regardless of caller identity.
func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.fetchDocument(w, r)
	if !ok {
		return
	}

	var req UpdateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	next := *doc
	if err := applyUpdate(&next, req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid document", err)
		return
	}

	updated, err := h.Engine.UpdateDraft(r.Context(), next, actorFrom(r))
	if err != nil {
		h.writeEngineError(w, err, "Failed to update draft")
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(updated))
}

// DeleteDocument hard-deletes a draft. Finalized documents must go
// through soft-delete; their numbers survive.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := ledger.DocumentID(chi.URLParam(r, "id"))
	if err := h.Engine.DeleteDraft(r.Context(), id, actorFrom(r)); err != nil {
		h.writeEngineError(w, err, "Failed to delete draft")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FinalizeDocument crosses the finalization boundary: assigns the
// permanent number, sequence and chain link, and locks the record.
func (h *Handler) FinalizeDocument(w http.ResponseWriter, r *http.Request) {
	id := ledger.DocumentID(chi.URLParam(r, "id"))

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required", nil)
		return
	}

	finalized, err := h.Engine.Finalize(r.Context(), id, ledger.Status(req.Status), actorFrom(r))
	if err != nil {
		h.writeEngineError(w, err, "Failed to finalize document")
		return
	}
	writeJSON(w, http.StatusOK, FinalizedDTO{
		ID:        string(finalized.ID),
		Number:    finalized.Number,
		Sequence:  finalized.Sequence,
		Status:    string(finalized.Status),
		Hash:      finalized.Hash,
		Signature: finalized.Signature,
	})
}

// TransitionDocument advances a document's status. Drafts are routed
// through finalization.
func (h *Handler) TransitionDocument(w http.ResponseWriter, r *http.Request) {
	id := ledger.DocumentID(chi.URLParam(r, "id"))

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required", nil)
		return
	}

	updated, err := h.Engine.Transition(r.Context(), id, ledger.Status(req.Status), actorFrom(r))
	if err != nil {
		h.writeEngineError(w, err, "Failed to transition document")
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(updated))
}

// SoftDeleteDocument marks a finalized document administratively deleted
// while preserving its sequence number and audit trail.
func (h *Handler) SoftDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := ledger.DocumentID(chi.URLParam(r, "id"))
	if err := h.Engine.SoftDelete(r.Context(), id, actorFrom(r)); err != nil {
		h.writeEngineError(w, err, "Failed to soft-delete document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAuditTrail returns a document's audit trail, available even after
// the document was soft-deleted.
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	id := ledger.DocumentID(chi.URLParam(r, "id"))
	entries, err := h.Engine.AuditTrail(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read audit trail", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditEntryDTOs(entries))
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// LinkAdvances links finalized advance invoices to a final invoice.
func (h *Handler) LinkAdvances(w http.ResponseWriter, r *http.Request) {
	finalID := ledger.DocumentID(chi.URLParam(r, "id"))

	var req LinkAdvancesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	advanceIDs := make([]ledger.DocumentID, 0, len(req.AdvanceIDs))
	for _, id := range req.AdvanceIDs {
		advanceIDs = append(advanceIDs, ledger.DocumentID(id))
	}

	links, err := h.Settlement.LinkAdvances(r.Context(), finalID, advanceIDs, actorFrom(r))
	if err != nil {
		h.writeEngineError(w, err, "Failed to link advances")
		return
	}
	writeJSON(w, http.StatusCreated, toAdvanceLinkDTOs(links))
}

// GetSettlement summarizes a final invoice's advance settlement.
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	finalID := ledger.DocumentID(chi.URLParam(r, "id"))

	links, err := h.Store.LinksByFinal(r.Context(), finalID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read settlement", err)
		return
	}
	total, err := h.Settlement.TotalAdvances(r.Context(), finalID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read settlement", err)
		return
	}
	remaining, err := h.Settlement.RemainingBalance(r.Context(), finalID)
	if err != nil {
		h.writeEngineError(w, err, "Failed to read settlement")
		return
	}

	writeJSON(w, http.StatusOK, SettlementDTO{
		FinalID:          string(finalID),
		Links:            toAdvanceLinkDTOs(links),
		TotalAdvances:    total.StringFixed(2),
		RemainingBalance: remaining.StringFixed(2),
	})
}

// =============================================================================
// CHAIN HANDLERS
// =============================================================================

// VerifyChain verifies one tenant+type hash chain and persists the run.
func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	typeID := r.URL.Query().Get("type")
	if tenantID == "" || typeID == "" {
		writeError(w, http.StatusBadRequest, "X-Tenant-ID header and type query parameter are required", nil)
		return
	}

	report, err := h.Verifier.Run(r.Context(), tenantID, typeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to verify chain", err)
		return
	}
	writeJSON(w, http.StatusOK, toChainReportDTO(report))
}

// ListVerificationRuns returns the verification history for a tenant.
func (h *Handler) ListVerificationRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListVerificationRuns(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list verification runs", err)
		return
	}
	writeJSON(w, http.StatusOK, toVerificationRunDTOs(runs))
}

// =============================================================================
// AUDIT QUERY HANDLER
// =============================================================================

// QueryAudit returns audit entries matching the query parameters.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	var filter ledger.AuditFilter
	if tenantID := tenantFrom(r); tenantID != "" {
		filter.TenantID = &tenantID
	}
	if v := r.URL.Query().Get("document_id"); v != "" {
		id := ledger.DocumentID(v)
		filter.DocumentID = &id
	}
	if v := r.URL.Query().Get("actor_id"); v != "" {
		id := ledger.ActorID(v)
		filter.ActorID = &id
	}
	if v := r.URL.Query().Get("action"); v != "" {
		filter.Actions = []ledger.AuditAction{ledger.AuditAction(v)}
	}

	entries, err := h.Store.QueryAudit(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit log", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditEntryDTOs(entries))
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) fetchDocument(w http.ResponseWriter, r *http.Request) (*ledger.Document, bool) {
	id := ledger.DocumentID(chi.URLParam(r, "id"))
	doc, err := h.Store.GetDocument(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get document", err)
		return nil, false
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, "Document not found", nil)
		return nil, false
	}
	return doc, true
}

func documentFromRequest(tenantID ledger.TenantID, req CreateDocumentRequest) (ledger.Document, error) {
	doc := ledger.Document{
		TenantID:       tenantID,
		Kind:           req.Kind,
		CounterpartyID: req.CounterpartyID,
		Currency:       req.Currency,
	}
	if t := ledger.LookupType(req.Type); t != nil {
		doc.Type = t
	} else {
		doc.Type = ledger.StringType{ID: req.Type}
	}
	if doc.Currency == "" {
		doc.Currency = "EUR"
	}
	if doc.Type.TypeID() == invoice.TypeInvoice.TypeID() && doc.Kind == "" {
		doc.Kind = invoice.KindStandard
	}

	var err error
	if req.IssueDate != "" {
		doc.IssueDate, err = ledger.ParseDate(req.IssueDate)
		if err != nil {
			return doc, err
		}
	}
	doc.Total, err = decimal.NewFromString(req.Total)
	if err != nil {
		return doc, err
	}
	if req.TaxAmount != "" {
		doc.TaxAmount, err = decimal.NewFromString(req.TaxAmount)
		if err != nil {
			return doc, err
		}
	}
	return doc, nil
}

func applyUpdate(doc *ledger.Document, req UpdateDocumentRequest) error {
	if req.Kind != "" {
		doc.Kind = req.Kind
	}
	if req.IssueDate != "" {
		d, err := ledger.ParseDate(req.IssueDate)
		if err != nil {
			return err
		}
		doc.IssueDate = d
	}
	if req.CounterpartyID != "" {
		doc.CounterpartyID = req.CounterpartyID
	}
	if req.Currency != "" {
		doc.Currency = req.Currency
	}
	if req.Total != "" {
		total, err := decimal.NewFromString(req.Total)
		if err != nil {
			return err
		}
		doc.Total = total
	}
	if req.TaxAmount != "" {
		tax, err := decimal.NewFromString(req.TaxAmount)
		if err != nil {
			return err
		}
		doc.TaxAmount = tax
	}
	return nil
}

// writeEngineError maps domain errors onto HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error, message string) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Document not found", err)
	case errors.Is(err, ledger.ErrUnknownType):
		writeError(w, http.StatusBadRequest, "Unknown document type", err)
	case errors.Is(err, ledger.ErrAlreadyFinalized):
		writeError(w, http.StatusForbidden, "Document is finalized and can no longer be modified", err)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, "Concurrent modification, retry the operation", err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		h.Log.Error().Err(err).Msg(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
