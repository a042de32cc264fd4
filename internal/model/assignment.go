package model

import "slices"

// MatchSource indicates how a partner or category assignment was made.
type MatchSource string

const (
	// MatchSourceNone marks an empty assignment.
	MatchSourceNone MatchSource = ""
	// MatchSourceManual is an explicit user choice.
	MatchSourceManual MatchSource = "manual"
	// MatchSourceSuggestion is a system suggestion the user accepted.
	MatchSourceSuggestion MatchSource = "suggestion"
	// MatchSourceAuto is a fully automatic assignment.
	MatchSourceAuto MatchSource = "auto"
)

// Valid reports whether s is a known, non-empty match source.
func (s MatchSource) Valid() bool {
	switch s {
	case MatchSourceManual, MatchSourceSuggestion, MatchSourceAuto:
		return true
	}
	return false
}

// SystemRecommended reports whether the assignment originated from the
// system rather than the user.
func (s MatchSource) SystemRecommended() bool {
	return s == MatchSourceSuggestion || s == MatchSourceAuto
}

// PartnerType distinguishes user-scoped partners from shared ones.
type PartnerType string

const (
	// PartnerTypeUser is a partner owned by a single user.
	PartnerTypeUser PartnerType = "user"
	// PartnerTypeGlobal is a partner shared by all users.
	PartnerTypeGlobal PartnerType = "global"
)

// Assignment is one side of a partner or category assignment.
type Assignment struct {
	ID         string
	MatchedBy  MatchSource
	Confidence int
}

// Assigned reports whether the assignment references an entity.
func (a Assignment) Assigned() bool {
	return a.ID != ""
}

const (
	// MinConfidence is the lower bound of every confidence value.
	MinConfidence = 0
	// MaxConfidence is the upper bound of every confidence value.
	MaxConfidence = 100
)

// ClampConfidence bounds c to [MinConfidence, MaxConfidence].
func ClampConfidence(c int) int {
	return min(max(c, MinConfidence), MaxConfidence)
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func containsID(ids []string, id string) bool {
	return slices.Contains(ids, id)
}

func addID(ids []string, id string) []string {
	if containsID(ids, id) {
		return ids
	}
	return append(ids, id)
}

func removeID(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(v string) bool { return v == id })
}
