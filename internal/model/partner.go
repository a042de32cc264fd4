package model

import "time"

// Partner is a counterparty such as a vendor or customer. Global partners
// have an empty UserID and are shared by all users.
type Partner struct {
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
	ID                  string           `json:"id"`
	UserID              string           `json:"userId,omitempty"`
	Name                string           `json:"name"`
	VATID               string           `json:"vatId,omitempty"`
	Website             string           `json:"website,omitempty"`
	Aliases             []string         `json:"aliases,omitempty"`
	IBANs               []string         `json:"ibans,omitempty"`
	LearnedPatterns     []LearnedPattern `json:"learnedPatterns,omitempty"`
	FileSourcePatterns  []LearnedPattern `json:"fileSourcePatterns,omitempty"`
	EmailSearchPatterns []LearnedPattern `json:"emailSearchPatterns,omitempty"`
	ManualRemovals      []ManualRemoval  `json:"manualRemovals,omitempty"`
	ManualFileRemovals  []ManualRemoval  `json:"manualFileRemovals,omitempty"`
	InvoiceSources      []InvoiceSource  `json:"invoiceSources,omitempty"`
	Version             int64            `json:"version"`
}

// Type returns the partner type derived from ownership.
func (p *Partner) Type() PartnerType {
	if p.UserID == "" {
		return PartnerTypeGlobal
	}
	return PartnerTypeUser
}

// VisibleTo reports whether userID may reference the partner.
func (p *Partner) VisibleTo(userID string) bool {
	return p.UserID == "" || p.UserID == userID
}

// LearnedPattern is a glob pattern learned from user confirmations.
type LearnedPattern struct {
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	Pattern    string    `json:"pattern"`
	SourceIDs  []string  `json:"sourceIds"`
	Confidence int       `json:"confidence"`
	UsageCount int       `json:"usageCount"`
}

// ManualRemoval records a system-recommended assignment the user undid.
// Dismissed file suggestions log the transaction as EntityID and the
// suggested file as FileID.
type ManualRemoval struct {
	RemovedAt time.Time `json:"removedAt"`
	EntityID  string    `json:"entityId"`
	FileID    string    `json:"fileId,omitempty"`
}

// InvoiceFrequency is the inferred cadence of a recurring invoice source.
type InvoiceFrequency string

const (
	// FrequencyWeekly is roughly every seven days.
	FrequencyWeekly InvoiceFrequency = "weekly"
	// FrequencyMonthly is roughly every month.
	FrequencyMonthly InvoiceFrequency = "monthly"
	// FrequencyQuarterly is roughly every three months.
	FrequencyQuarterly InvoiceFrequency = "quarterly"
	// FrequencyYearly is roughly every year.
	FrequencyYearly InvoiceFrequency = "yearly"
	// FrequencyIrregular is used when no cadence is recognizable.
	FrequencyIrregular InvoiceFrequency = "irregular"
)

// InvoiceSource describes where a partner's documents usually come from.
type InvoiceSource struct {
	FirstSeenAt time.Time        `json:"firstSeenAt"`
	LastSeenAt  time.Time        `json:"lastSeenAt"`
	SourceType  string           `json:"sourceType"`
	Domain      string           `json:"domain,omitempty"`
	Frequency   InvoiceFrequency `json:"frequency"`
	Count       int              `json:"count"`
}
