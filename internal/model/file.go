package model

import "time"

// File is an uploaded or automatically fetched receipt or invoice.
// Extraction fields are produced by an external service; this package
// only reads them.
type File struct {
	CreatedAt              time.Time              `json:"createdAt"`
	UpdatedAt              time.Time              `json:"updatedAt"`
	ExtractedDate          *time.Time             `json:"extractedDate,omitempty"`
	DeletedAt              *time.Time             `json:"deletedAt,omitempty"`
	ExtractedAmount        *int64                 `json:"extractedAmount,omitempty"`
	PartnerMatchConfidence *int                   `json:"partnerMatchConfidence,omitempty"`
	ID                     string                 `json:"id"`
	UserID                 string                 `json:"userId"`
	FileName               string                 `json:"fileName"`
	SourceType             string                 `json:"sourceType"` // upload, gmail, ...
	SenderDomain           string                 `json:"senderDomain,omitempty"`
	Fingerprint            string                 `json:"fingerprint"`
	ExtractedPartner       string                 `json:"extractedPartner,omitempty"`
	ExtractedVATID         string                 `json:"extractedVatId,omitempty"`
	ExtractedIBAN          string                 `json:"extractedIban,omitempty"`
	ExtractedText          string                 `json:"extractedText,omitempty"`
	PartnerID              string                 `json:"partnerId,omitempty"`
	PartnerType            PartnerType            `json:"partnerType,omitempty"`
	PartnerMatchedBy       MatchSource            `json:"partnerMatchedBy,omitempty"`
	NotInvoiceReason       string                 `json:"notInvoiceReason,omitempty"`
	TransactionIDs         []string               `json:"transactionIds"`
	TransactionSuggestions []TransactionSuggestion `json:"transactionSuggestions,omitempty"`
	DismissedTransactions  []string               `json:"dismissedTransactions,omitempty"`
	Version                int64                  `json:"version"`
	ExtractionComplete     bool                   `json:"extractionComplete"`
	IsNotInvoice           bool                   `json:"isNotInvoice"`
}

// TransactionSuggestion is a ranked candidate transaction for a file.
type TransactionSuggestion struct {
	TransactionID string   `json:"transactionId"`
	MatchSources  []string `json:"matchSources"` // amount, date, partner, iban, ...
	Confidence    int      `json:"confidence"`
}

// Deleted reports whether the file is soft-deleted.
func (f *File) Deleted() bool {
	return f.DeletedAt != nil
}

// HasTransaction reports whether txID is linked to the file.
func (f *File) HasTransaction(txID string) bool {
	return containsID(f.TransactionIDs, txID)
}

// AddTransaction links txID, ignoring duplicates.
func (f *File) AddTransaction(txID string) {
	f.TransactionIDs = addID(f.TransactionIDs, txID)
}

// RemoveTransaction unlinks txID.
func (f *File) RemoveTransaction(txID string) {
	f.TransactionIDs = removeID(f.TransactionIDs, txID)
}

// RemoveSuggestion drops txID from the suggestion list and reports whether
// it was present.
func (f *File) RemoveSuggestion(txID string) bool {
	before := len(f.TransactionSuggestions)
	out := f.TransactionSuggestions[:0]
	for _, s := range f.TransactionSuggestions {
		if s.TransactionID != txID {
			out = append(out, s)
		}
	}
	f.TransactionSuggestions = out
	return len(out) != before
}

// DismissSuggestion drops txID from the suggestion list and remembers that
// the user rejected the pairing. It reports whether the suggestion existed.
func (f *File) DismissSuggestion(txID string) bool {
	removed := f.RemoveSuggestion(txID)
	f.DismissedTransactions = addID(f.DismissedTransactions, txID)
	return removed
}

// Dismissed reports whether the user rejected txID as a match for the file.
func (f *File) Dismissed(txID string) bool {
	return containsID(f.DismissedTransactions, txID)
}

// ClearPartner nulls every partner assignment field together.
func (f *File) ClearPartner() {
	f.PartnerID = ""
	f.PartnerType = ""
	f.PartnerMatchedBy = MatchSourceNone
	f.PartnerMatchConfidence = nil
}

// SetPartner assigns all partner fields together.
func (f *File) SetPartner(a Assignment, partnerType PartnerType) {
	if a.ID == "" {
		f.ClearPartner()
		return
	}
	f.PartnerID = a.ID
	f.PartnerType = partnerType
	f.PartnerMatchedBy = a.MatchedBy
	f.PartnerMatchConfidence = IntPtr(ClampConfidence(a.Confidence))
}

// PartnerAssignment returns the current partner assignment.
func (f *File) PartnerAssignment() Assignment {
	return Assignment{ID: f.PartnerID, MatchedBy: f.PartnerMatchedBy, Confidence: derefInt(f.PartnerMatchConfidence)}
}

// ClearExtraction drops every field produced by the extraction service.
func (f *File) ClearExtraction() {
	f.ExtractedDate = nil
	f.ExtractedAmount = nil
	f.ExtractedPartner = ""
	f.ExtractedVATID = ""
	f.ExtractedIBAN = ""
	f.ExtractedText = ""
	f.TransactionSuggestions = nil
}

// TextFields returns the file's text used for file-source pattern matching.
func (f *File) TextFields() []string {
	return []string{f.ExtractedPartner, f.FileName, f.SenderDomain}
}
