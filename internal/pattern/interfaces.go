// Package pattern provides the pure text-matching and decision primitives of
// the reconciliation engine: glob patterns over normalized text, the partner
// conflict resolver, and the learn/unlearn algorithm for learned patterns.
//
// Nothing in this package touches storage; callers load documents, apply
// these functions and write the results back.
package pattern

// Kind holds the tuning constants of one learned-pattern family. Partner and
// category patterns share the algorithm but differ in their constants.
type Kind struct {
	Name string
	// StartConfidence is assigned to a newly learned pattern.
	StartConfidence int
	// Boost is added when an equivalent pattern is learned again.
	Boost int
	// UnlearnPenalty is subtracted when a recorded source is removed.
	UnlearnPenalty int
	// FalsePositivePenalty is subtracted when a pattern matched an entity it
	// was never recorded against and the user removed the assignment.
	FalsePositivePenalty int
	// Floor is the lowest confidence a pattern may keep; below it the
	// pattern is deleted.
	Floor int
	// MaxPatterns caps the list; the weakest pattern is evicted first.
	MaxPatterns int
}

// Pattern kinds. The floors are empirically chosen and configurable through
// WithFloor rather than derived.
var (
	PartnerKind = Kind{
		Name:                 "partner",
		StartConfidence:      75,
		Boost:                5,
		UnlearnPenalty:       10,
		FalsePositivePenalty: 20,
		Floor:                40,
		MaxPatterns:          20,
	}
	CategoryKind = Kind{
		Name:                 "category",
		StartConfidence:      70,
		Boost:                5,
		UnlearnPenalty:       10,
		FalsePositivePenalty: 20,
		Floor:                40,
		MaxPatterns:          20,
	}
	// FileSourceKind governs file-source and email-search patterns on partners.
	FileSourceKind = Kind{
		Name:                 "file_source",
		StartConfidence:      75,
		Boost:                5,
		UnlearnPenalty:       10,
		FalsePositivePenalty: 20,
		Floor:                40,
		MaxPatterns:          10,
	}
)

// WithFloor returns a copy of k using floor, ignoring non-positive values.
func (k Kind) WithFloor(floor int) Kind {
	if floor > 0 && floor <= 100 {
		k.Floor = floor
	}
	return k
}

// MaxRemovals caps false-positive logs on partners and categories.
const MaxRemovals = 50
