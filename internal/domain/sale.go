// Package domain defines the core business entities of the sales intake
// workflow. These models are independent of the store and the HTTP layer.
package domain

import (
	"strings"
	"time"
)

// ============================================================
// Sale lifecycle
// ============================================================

// SaleStatus is the workflow state of a Sale.
type SaleStatus string

const (
	StatusDraft      SaleStatus = "DRAFT"
	StatusInProgress SaleStatus = "IN_PROGRESS"
	StatusAnalyzed   SaleStatus = "ANALYZED"
	StatusFinished   SaleStatus = "FINISHED"
)

// IsValid checks if the status is a known state.
func (s SaleStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusInProgress, StatusAnalyzed, StatusFinished:
		return true
	default:
		return false
	}
}

// MinReturnReasonLength is the minimum trimmed length of a regression justification.
const MinReturnReasonLength = 5

// IsRegression reports whether moving from → to goes back to IN_PROGRESS
// from an approved-adjacent state.
func IsRegression(from, to SaleStatus) bool {
	return (from == StatusAnalyzed || from == StatusFinished) && to == StatusInProgress
}

// IsAllowedTransition reports whether from → to is an edge of the state graph.
func IsAllowedTransition(from, to SaleStatus) bool {
	switch {
	case from == StatusDraft && to == StatusInProgress:
		return true
	case from == StatusInProgress && to == StatusAnalyzed:
		return true
	case from == StatusAnalyzed && to == StatusFinished:
		return true
	default:
		return IsRegression(from, to)
	}
}

// Identity-bearing fields of the intake form. A draft with both empty is never saved.
const (
	FieldName     = "nome"
	FieldDocument = "cpf"
)

// CustomerData is the flat intake record owned by one Sale
// (identity, address, plan, attachment references, notes).
type CustomerData map[string]any

// String returns a field as trimmed text, empty when absent or not a string.
func (c CustomerData) String(field string) string {
	v, ok := c[field].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// HasIdentity reports whether at least one identity-bearing field is filled.
func (c CustomerData) HasIdentity() bool {
	return c.String(FieldName) != "" || c.String(FieldDocument) != ""
}

// Clone returns a shallow copy; values are scalars.
func (c CustomerData) Clone() CustomerData {
	if c == nil {
		return nil
	}
	out := make(CustomerData, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// StatusHistoryEntry is one append-only audit record.
type StatusHistoryEntry struct {
	Status    SaleStatus `json:"status"`
	UpdatedBy string     `json:"updated_by"`
	UpdatedAt time.Time  `json:"updated_at"`
	Reason    string     `json:"reason,omitempty"`
}

// Sale is one customer-intake record moving through the review workflow.
type Sale struct {
	ID            string               `json:"id"`
	SellerID      string               `json:"seller_id"`
	SellerName    string               `json:"seller_name"`
	CustomerData  CustomerData         `json:"customer_data"`
	Status        SaleStatus           `json:"status"`
	StatusHistory []StatusHistoryEntry `json:"status_history"`
	CreatedAt     time.Time            `json:"created_at"`
	ReturnReason  *string              `json:"return_reason"`
}

// LastEntry returns the most recent history entry.
func (s *Sale) LastEntry() (StatusHistoryEntry, bool) {
	if len(s.StatusHistory) == 0 {
		return StatusHistoryEntry{}, false
	}
	return s.StatusHistory[len(s.StatusHistory)-1], true
}

// IsRegressed reports whether the latest history entry is a regression.
func (s *Sale) IsRegressed() bool {
	n := len(s.StatusHistory)
	if n < 2 {
		return false
	}
	return IsRegression(s.StatusHistory[n-2].Status, s.StatusHistory[n-1].Status)
}

// Clone returns a deep copy so callers can mutate without touching the original.
func (s *Sale) Clone() *Sale {
	if s == nil {
		return nil
	}
	out := *s
	out.CustomerData = s.CustomerData.Clone()
	out.StatusHistory = append([]StatusHistoryEntry(nil), s.StatusHistory...)
	if s.ReturnReason != nil {
		r := *s.ReturnReason
		out.ReturnReason = &r
	}
	return &out
}

// SaleFields is a partial update. Nil fields are left unchanged;
// a non-nil ReturnReason pointing at "" clears the column.
type SaleFields struct {
	SellerName    *string
	CustomerData  CustomerData
	Status        *SaleStatus
	StatusHistory []StatusHistoryEntry
	ReturnReason  *string
}

// Apply writes the set fields onto sale.
func (f SaleFields) Apply(sale *Sale) {
	if f.SellerName != nil {
		sale.SellerName = *f.SellerName
	}
	if f.CustomerData != nil {
		sale.CustomerData = f.CustomerData.Clone()
	}
	if f.Status != nil {
		sale.Status = *f.Status
	}
	if f.StatusHistory != nil {
		sale.StatusHistory = append([]StatusHistoryEntry(nil), f.StatusHistory...)
	}
	if f.ReturnReason != nil {
		if *f.ReturnReason == "" {
			sale.ReturnReason = nil
		} else {
			r := *f.ReturnReason
			sale.ReturnReason = &r
		}
	}
}

// SaleFilter selects the rows returned by a list call.
type SaleFilter struct {
	OwnerID   string
	StatusNot SaleStatus
}

// FilterByOwner lists one seller's sales, drafts included.
func FilterByOwner(sellerID string) SaleFilter {
	return SaleFilter{OwnerID: sellerID}
}

// FilterNotDraft lists every submitted sale; used for any cross-seller view.
func FilterNotDraft() SaleFilter {
	return SaleFilter{StatusNot: StatusDraft}
}

// FilterAll lists every sale.
func FilterAll() SaleFilter {
	return SaleFilter{}
}

// Matches reports whether sale passes the filter.
func (f SaleFilter) Matches(sale *Sale) bool {
	if f.OwnerID != "" && sale.SellerID != f.OwnerID {
		return false
	}
	if f.StatusNot != "" && sale.Status == f.StatusNot {
		return false
	}
	return true
}

// TransitionRequest is the body for POST /v1/sales/{saleId}/transitions.
type TransitionRequest struct {
	Status SaleStatus `json:"status"`
	Reason string     `json:"reason"`
}

// OpenDraftRequest is the body for POST /v1/drafts. An empty SaleID starts a new form.
type OpenDraftRequest struct {
	SaleID string `json:"saleId"`
}

// SaveDraftRequest is the body for PUT /v1/drafts/{formId}.
type SaveDraftRequest struct {
	CustomerData CustomerData `json:"customerData"`
}
