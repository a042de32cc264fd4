package model

import "time"

// ConnectionType records how a file came to be linked to a transaction.
type ConnectionType string

const (
	// ConnectionManual is a link made by the user.
	ConnectionManual ConnectionType = "manual"
	// ConnectionAutoMatched is a link made by automatic matching.
	ConnectionAutoMatched ConnectionType = "auto_matched"
	// ConnectionSuggestionAccepted is a suggestion the user confirmed.
	ConnectionSuggestionAccepted ConnectionType = "suggestion_accepted"
)

// Valid reports whether c is a known connection type.
func (c ConnectionType) Valid() bool {
	switch c {
	case ConnectionManual, ConnectionAutoMatched, ConnectionSuggestionAccepted:
		return true
	}
	return false
}

// UserInitiated reports whether the user took part in creating the link.
func (c ConnectionType) UserInitiated() bool {
	return c == ConnectionManual || c == ConnectionSuggestionAccepted
}

// FileConnection is the junction record between a file and a transaction.
// At most one exists per (file, transaction) pair.
type FileConnection struct {
	CreatedAt       time.Time      `json:"createdAt"`
	MatchConfidence *int           `json:"matchConfidence,omitempty"`
	ID              string         `json:"id"`
	UserID          string         `json:"userId"`
	FileID          string         `json:"fileId"`
	TransactionID   string         `json:"transactionId"`
	ConnectionType  ConnectionType `json:"connectionType"`
	SourceType      string         `json:"sourceType,omitempty"`
	SearchPattern   string         `json:"searchPattern,omitempty"`
	IntegrationID   string         `json:"integrationId,omitempty"`
	MessageID       string         `json:"messageId,omitempty"`
	Version         int64          `json:"version"`
}

// SourceInfo carries the provenance of an automatic or searched connection.
type SourceInfo struct {
	SourceType    string `json:"sourceType,omitempty"`
	SearchPattern string `json:"searchPattern,omitempty"`
	IntegrationID string `json:"integrationId,omitempty"`
	MessageID     string `json:"messageId,omitempty"`
}
