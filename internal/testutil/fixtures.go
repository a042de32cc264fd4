package testutil

import (
	"time"

	"github.com/Veraticus/receipt-reconciler/internal/model"
)

// TestUser owns every fixture unless stated otherwise.
const TestUser = "user-1"

// OtherUser owns documents the test user must not reach.
const OtherUser = "user-2"

// NewTransaction returns an incomplete outgoing transaction.
func NewTransaction(id, partnerText string) *model.Transaction {
	return &model.Transaction{
		ID:        id,
		UserID:    TestUser,
		SourceID:  "source-1",
		Amount:    -4999,
		Currency:  "EUR",
		Date:      BaseTime,
		Name:      "Kartenzahlung",
		Partner:   partnerText,
		CreatedAt: BaseTime,
		UpdatedAt: BaseTime,
	}
}

// NewFile returns a file whose extraction has completed.
func NewFile(id, extractedPartner string) *model.File {
	amount := int64(4999)
	date := BaseTime.Add(-24 * time.Hour)
	return &model.File{
		ID:                 id,
		UserID:             TestUser,
		FileName:           id + ".pdf",
		SourceType:         "upload",
		Fingerprint:        "fp-" + id,
		ExtractionComplete: true,
		ExtractedPartner:   extractedPartner,
		ExtractedAmount:    &amount,
		ExtractedDate:      &date,
		CreatedAt:          BaseTime,
		UpdatedAt:          BaseTime,
	}
}

// NewPartner returns a user-scoped partner.
func NewPartner(id, name string) *model.Partner {
	return &model.Partner{
		ID:        id,
		UserID:    TestUser,
		Name:      name,
		CreatedAt: BaseTime,
		UpdatedAt: BaseTime,
	}
}

// NewCategory returns an active no-receipt category.
func NewCategory(id, templateID, name string) *model.Category {
	return &model.Category{
		ID:         id,
		UserID:     TestUser,
		TemplateID: templateID,
		Name:       name,
		IsActive:   true,
		CreatedAt:  BaseTime,
		UpdatedAt:  BaseTime,
	}
}

// WithPartner assigns a partner to a transaction fixture.
func WithPartner(txn *model.Transaction, partnerID string, by model.MatchSource, confidence int) *model.Transaction {
	txn.SetPartner(model.Assignment{ID: partnerID, MatchedBy: by, Confidence: confidence}, model.PartnerTypeUser)
	return txn
}

// WithFilePartner assigns a partner to a file fixture.
func WithFilePartner(file *model.File, partnerID string, by model.MatchSource, confidence int) *model.File {
	file.SetPartner(model.Assignment{ID: partnerID, MatchedBy: by, Confidence: confidence}, model.PartnerTypeUser)
	return file
}
