package model

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// Transaction represents a single bank movement owned by a user.
// Transactions are created by import or bank sync and mutated only by
// reconciliation operations.
type Transaction struct {
	Date                        time.Time          `json:"date"`
	CreatedAt                   time.Time          `json:"createdAt"`
	UpdatedAt                   time.Time          `json:"updatedAt"`
	ReceiptLost                 *ReceiptLostEntry  `json:"receiptLost,omitempty"`
	PartnerMatchConfidence      *int               `json:"partnerMatchConfidence,omitempty"`
	NoReceiptCategoryConfidence *int               `json:"noReceiptCategoryConfidence,omitempty"`
	ID                          string             `json:"id"`
	UserID                      string             `json:"userId"`
	SourceID                    string             `json:"sourceId"`
	Currency                    string             `json:"currency"`
	Name                        string             `json:"name"`        // Booking text
	Partner                     string             `json:"partner"`     // Counterparty as printed by the bank
	Reference                   string             `json:"reference"`   // Remittance information
	PartnerIBAN                 string             `json:"partnerIban"` // Counterparty account
	PartnerID                   string             `json:"partnerId,omitempty"`
	PartnerType                 PartnerType        `json:"partnerType,omitempty"`
	PartnerMatchedBy            MatchSource        `json:"partnerMatchedBy,omitempty"`
	NoReceiptCategoryID         string             `json:"noReceiptCategoryId,omitempty"`
	NoReceiptCategoryMatchedBy  MatchSource        `json:"noReceiptCategoryMatchedBy,omitempty"`
	NoReceiptCategoryTemplateID string             `json:"noReceiptCategoryTemplateId,omitempty"`
	FileIDs                     []string           `json:"fileIds"`
	PartnerSuggestions          []EntitySuggestion `json:"partnerSuggestions,omitempty"`
	CategorySuggestions         []EntitySuggestion `json:"categorySuggestions,omitempty"`
	Amount                      int64              `json:"amount"` // Minor units, negative for outgoing
	Version                     int64              `json:"version"`
	IsComplete                  bool               `json:"isComplete"`
}

// ReceiptLostEntry records why a self-issued receipt substitutes a missing one.
type ReceiptLostEntry struct {
	CreatedAt   time.Time         `json:"createdAt"`
	Reason      ReceiptLostReason `json:"reason"`
	Description string            `json:"description"`
}

// ReceiptLostReason enumerates accepted justifications for a missing receipt.
type ReceiptLostReason string

const (
	// ReceiptLostReasonLost means the receipt was issued but lost.
	ReceiptLostReasonLost ReceiptLostReason = "lost"
	// ReceiptLostReasonDamaged means the receipt is unreadable.
	ReceiptLostReasonDamaged ReceiptLostReason = "damaged"
	// ReceiptLostReasonNotIssued means the counterparty never issued one.
	ReceiptLostReasonNotIssued ReceiptLostReason = "not_issued"
	// ReceiptLostReasonOther requires the description to explain.
	ReceiptLostReasonOther ReceiptLostReason = "other"
)

// Valid reports whether r is one of the known reasons.
func (r ReceiptLostReason) Valid() bool {
	switch r {
	case ReceiptLostReasonLost, ReceiptLostReasonDamaged, ReceiptLostReasonNotIssued, ReceiptLostReasonOther:
		return true
	}
	return false
}

// EntitySuggestion is a ranked candidate partner or category for a transaction.
type EntitySuggestion struct {
	EntityID   string `json:"entityId"`
	Pattern    string `json:"pattern,omitempty"`
	Source     string `json:"source"`
	Confidence int    `json:"confidence"`
}

// HasFile reports whether fileID is linked to the transaction.
func (t *Transaction) HasFile(fileID string) bool {
	return containsID(t.FileIDs, fileID)
}

// AddFile links fileID, ignoring duplicates.
func (t *Transaction) AddFile(fileID string) {
	t.FileIDs = addID(t.FileIDs, fileID)
}

// RemoveFile unlinks fileID.
func (t *Transaction) RemoveFile(fileID string) {
	t.FileIDs = removeID(t.FileIDs, fileID)
}

// DeriveComplete recomputes IsComplete from the linked files and category.
func (t *Transaction) DeriveComplete() {
	t.IsComplete = len(t.FileIDs) > 0 || t.NoReceiptCategoryID != ""
}

// ClearPartner nulls every partner assignment field together.
func (t *Transaction) ClearPartner() {
	t.PartnerID = ""
	t.PartnerType = ""
	t.PartnerMatchedBy = MatchSourceNone
	t.PartnerMatchConfidence = nil
}

// SetPartner assigns all partner fields together.
func (t *Transaction) SetPartner(a Assignment, partnerType PartnerType) {
	if a.ID == "" {
		t.ClearPartner()
		return
	}
	t.PartnerID = a.ID
	t.PartnerType = partnerType
	t.PartnerMatchedBy = a.MatchedBy
	t.PartnerMatchConfidence = IntPtr(ClampConfidence(a.Confidence))
}

// PartnerAssignment returns the current partner assignment.
func (t *Transaction) PartnerAssignment() Assignment {
	return Assignment{ID: t.PartnerID, MatchedBy: t.PartnerMatchedBy, Confidence: derefInt(t.PartnerMatchConfidence)}
}

// ClearCategory nulls every no-receipt category field together.
func (t *Transaction) ClearCategory() {
	t.NoReceiptCategoryID = ""
	t.NoReceiptCategoryMatchedBy = MatchSourceNone
	t.NoReceiptCategoryConfidence = nil
	t.NoReceiptCategoryTemplateID = ""
	t.ReceiptLost = nil
}

// SetCategory assigns all category fields together. The template id is
// kept so a dangling reference can be repaired later.
func (t *Transaction) SetCategory(a Assignment, templateID string) {
	if a.ID == "" {
		t.ClearCategory()
		return
	}
	t.NoReceiptCategoryID = a.ID
	t.NoReceiptCategoryTemplateID = templateID
	t.NoReceiptCategoryMatchedBy = a.MatchedBy
	t.NoReceiptCategoryConfidence = IntPtr(ClampConfidence(a.Confidence))
}

// CategoryAssignment returns the current no-receipt category assignment.
func (t *Transaction) CategoryAssignment() Assignment {
	return Assignment{ID: t.NoReceiptCategoryID, MatchedBy: t.NoReceiptCategoryMatchedBy, Confidence: derefInt(t.NoReceiptCategoryConfidence)}
}

// TextFields returns the free-text fields used for pattern matching, in
// the fixed order name, partner, reference.
func (t *Transaction) TextFields() []string {
	return []string{t.Name, t.Partner, t.Reference}
}

// GenerateHash creates a fingerprint for duplicate detection across imports.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%d:%s:%s",
		t.Date.Format("2006-01-02"),
		t.Amount,
		strings.ToLower(t.Partner),
		t.SourceID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
