/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Documents:
    DocumentDTO, CreateDocumentRequest, UpdateDocumentRequest,
    TransitionRequest, FinalizedDTO

  Audit:
    AuditEntryDTO

  Settlement:
    LinkAdvancesRequest, AdvanceLinkDTO, SettlementDTO

  Chains:
    ChainReportDTO, VerificationRunDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types these project
*/
package api

import (
	"time"

	"github.com/ledgerline/fiscal-engine/ledger"
)

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// DocumentDTO represents a fiscal document in API responses. Sequence,
// hash and signature are empty until the document is finalized.
type DocumentDTO struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenant_id"`
	Type           string `json:"type"`
	Kind           string `json:"kind,omitempty"`
	Number         string `json:"number"`
	Sequence       *int64 `json:"sequence_number,omitempty"`
	Status         string `json:"status"`
	IssueDate      string `json:"issue_date"`
	CounterpartyID string `json:"counterparty_id"`
	Currency       string `json:"currency"`
	Total          string `json:"total"`
	TaxAmount      string `json:"tax_amount"`
	Hash           string `json:"hash,omitempty"`
	PreviousHash   string `json:"previous_hash,omitempty"`
	Signature      string `json:"signature,omitempty"`
	Locked         bool   `json:"locked"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
	DeletedAt      string `json:"deleted_at,omitempty"`
}

// CreateDocumentRequest is the request to create a draft document.
type CreateDocumentRequest struct {
	Type           string `json:"type"`
	Kind           string `json:"kind,omitempty"`
	IssueDate      string `json:"issue_date,omitempty"`
	CounterpartyID string `json:"counterparty_id"`
	Currency       string `json:"currency,omitempty"`
	Total          string `json:"total"`
	TaxAmount      string `json:"tax_amount,omitempty"`
}

// UpdateDocumentRequest is the request to rewrite a draft's content fields.
type UpdateDocumentRequest struct {
	Kind           string `json:"kind,omitempty"`
	IssueDate      string `json:"issue_date,omitempty"`
	CounterpartyID string `json:"counterparty_id"`
	Currency       string `json:"currency,omitempty"`
	Total          string `json:"total"`
	TaxAmount      string `json:"tax_amount,omitempty"`
}

// TransitionRequest names the status a document should move to. For
// drafts this triggers finalization.
type TransitionRequest struct {
	Status string `json:"status"`
}

// FinalizedDTO carries the permanent identity assigned at finalization.
type FinalizedDTO struct {
	ID        string `json:"id"`
	Number    string `json:"number"`
	Sequence  int64  `json:"sequence_number"`
	Status    string `json:"status"`
	Hash      string `json:"hash"`
	Signature string `json:"signature"`
}

// =============================================================================
// AUDIT TYPES
// =============================================================================

// AuditEntryDTO represents one audit trail entry.
type AuditEntryDTO struct {
	ID         string                        `json:"id"`
	TenantID   string                        `json:"tenant_id"`
	DocumentID string                        `json:"document_id"`
	Action     string                        `json:"action"`
	Timestamp  string                        `json:"timestamp"`
	ActorID    string                        `json:"actor_id"`
	ActorRole  string                        `json:"actor_role,omitempty"`
	Origin     string                        `json:"origin,omitempty"`
	Diff       map[string]ledger.FieldChange `json:"diff,omitempty"`
	Signature  string                        `json:"signature"`
}

// =============================================================================
// SETTLEMENT TYPES
// =============================================================================

// LinkAdvancesRequest links finalized advance invoices to a final invoice.
type LinkAdvancesRequest struct {
	AdvanceIDs []string `json:"advance_ids"`
}

// AdvanceLinkDTO represents one advance consumed by a final invoice.
type AdvanceLinkDTO struct {
	ID        string `json:"id"`
	AdvanceID string `json:"advance_id"`
	FinalID   string `json:"final_id"`
	Amount    string `json:"amount"`
	CreatedAt string `json:"created_at"`
}

// SettlementDTO summarizes a final invoice's advance settlement.
type SettlementDTO struct {
	FinalID          string           `json:"final_id"`
	Links            []AdvanceLinkDTO `json:"links"`
	TotalAdvances    string           `json:"total_advances"`
	RemainingBalance string           `json:"remaining_balance"`
}

// =============================================================================
// CHAIN TYPES
// =============================================================================

// ChainReportDTO is the outcome of verifying one tenant+type chain.
type ChainReportDTO struct {
	TenantID   string `json:"tenant_id"`
	Type       string `json:"type"`
	Valid      bool   `json:"valid"`
	BrokenAt   *int64 `json:"broken_at,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Checked    int    `json:"checked"`
	VerifiedAt string `json:"verified_at"`
}

// VerificationRunDTO is one persisted verification outcome.
type VerificationRunDTO struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	Type        string `json:"type"`
	Valid       bool   `json:"valid"`
	BrokenAt    *int64 `json:"broken_at,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Checked     int    `json:"checked"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at"`
}

// =============================================================================
// SCENARIO TYPES
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest selects a demo scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// COMMON TYPES
// =============================================================================

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toDocumentDTO(doc *ledger.Document) DocumentDTO {
	dto := DocumentDTO{
		ID:             string(doc.ID),
		TenantID:       string(doc.TenantID),
		Type:           doc.Type.TypeID(),
		Kind:           doc.Kind,
		Number:         doc.Number,
		Sequence:       doc.Sequence,
		Status:         string(doc.Status),
		IssueDate:      doc.IssueDate.String(),
		CounterpartyID: doc.CounterpartyID,
		Currency:       doc.Currency,
		Total:          doc.Total.StringFixed(2),
		TaxAmount:      doc.TaxAmount.StringFixed(2),
		Hash:           doc.Hash,
		PreviousHash:   doc.PreviousHash,
		Signature:      doc.Signature,
		Locked:         doc.Locked,
		CreatedAt:      doc.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      doc.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if doc.DeletedAt != nil {
		dto.DeletedAt = doc.DeletedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

func toDocumentDTOs(docs []ledger.Document) []DocumentDTO {
	dtos := make([]DocumentDTO, 0, len(docs))
	for i := range docs {
		dtos = append(dtos, toDocumentDTO(&docs[i]))
	}
	return dtos
}

func toAuditEntryDTO(entry ledger.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:         entry.ID,
		TenantID:   string(entry.TenantID),
		DocumentID: string(entry.DocumentID),
		Action:     string(entry.Action),
		Timestamp:  entry.Timestamp.UTC().Format(time.RFC3339Nano),
		ActorID:    string(entry.ActorID),
		ActorRole:  entry.ActorRole,
		Origin:     entry.Origin,
		Diff:       entry.Diff,
		Signature:  entry.Signature,
	}
}

func toAuditEntryDTOs(entries []ledger.AuditEntry) []AuditEntryDTO {
	dtos := make([]AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toAuditEntryDTO(e))
	}
	return dtos
}

func toAdvanceLinkDTOs(links []ledger.AdvanceLink) []AdvanceLinkDTO {
	dtos := make([]AdvanceLinkDTO, 0, len(links))
	for _, l := range links {
		dtos = append(dtos, AdvanceLinkDTO{
			ID:        l.ID,
			AdvanceID: string(l.AdvanceID),
			FinalID:   string(l.FinalID),
			Amount:    l.Amount.StringFixed(2),
			CreatedAt: l.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return dtos
}

func toChainReportDTO(report *ledger.ChainReport) ChainReportDTO {
	return ChainReportDTO{
		TenantID:   string(report.TenantID),
		Type:       report.TypeID,
		Valid:      report.Valid,
		BrokenAt:   report.BrokenAt,
		Reason:     report.Reason,
		Checked:    report.Checked,
		VerifiedAt: report.VerifiedAt.Format(time.RFC3339),
	}
}

func toVerificationRunDTOs(runs []ledger.VerificationRun) []VerificationRunDTO {
	dtos := make([]VerificationRunDTO, 0, len(runs))
	for _, r := range runs {
		dtos = append(dtos, VerificationRunDTO{
			ID:          r.ID,
			TenantID:    string(r.TenantID),
			Type:        r.TypeID,
			Valid:       r.Valid,
			BrokenAt:    r.BrokenAt,
			Reason:      r.Reason,
			Checked:     r.Checked,
			StartedAt:   r.StartedAt.Format(time.RFC3339),
			CompletedAt: r.CompletedAt.Format(time.RFC3339),
		})
	}
	return dtos
}
