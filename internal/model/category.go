package model

import "time"

// Category classifies a transaction that legitimately has no receipt,
// such as bank fees or payroll.
type Category struct {
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	ID               string           `json:"id"`
	UserID           string           `json:"userId"`
	TemplateID       string           `json:"templateId,omitempty"`
	Name             string           `json:"name"`
	Description      string           `json:"description,omitempty"`
	LearnedPatterns  []LearnedPattern `json:"learnedPatterns,omitempty"`
	ManualRemovals   []ManualRemoval  `json:"manualRemovals,omitempty"`
	TransactionCount int              `json:"transactionCount"`
	Version          int64            `json:"version"`
	IsActive         bool             `json:"isActive"`
}

// TemplateReceiptLost is the template id of the category used for
// self-issued receipt substitutes.
const TemplateReceiptLost = "receipt-lost"
