package pattern

import (
	"slices"
	"time"

	"github.com/Veraticus/receipt-reconciler/internal/model"
)

// LearnOutcome describes what Learn did.
type LearnOutcome string

const (
	// LearnSkipped means no pattern could be derived.
	LearnSkipped LearnOutcome = "skipped"
	// LearnCreated means a new pattern was added.
	LearnCreated LearnOutcome = "created"
	// LearnReinforced means an equivalent pattern was boosted.
	LearnReinforced LearnOutcome = "reinforced"
)

// Learn records that sourceID was assigned to the owner of patterns, using
// a glob derived from text. The input slice is not modified.
func Learn(patterns []model.LearnedPattern, text, sourceID string, kind Kind, now time.Time) ([]model.LearnedPattern, LearnOutcome) {
	candidate := DerivePattern(text)
	if candidate == "" {
		return Sanitize(patterns, kind), LearnSkipped
	}
	return LearnPattern(patterns, candidate, sourceID, kind, now)
}

// LearnPattern is Learn with an explicit glob.
func LearnPattern(patterns []model.LearnedPattern, glob, sourceID string, kind Kind, now time.Time) ([]model.LearnedPattern, LearnOutcome) {
	out := clonePatterns(patterns)

	for i := range out {
		if !Equivalent(out[i].Pattern, glob) {
			continue
		}
		p := &out[i]
		p.UsageCount++
		p.LastUsedAt = now
		if sourceID != "" && !slices.Contains(p.SourceIDs, sourceID) {
			p.SourceIDs = append(p.SourceIDs, sourceID)
		}
		p.Confidence = min(p.Confidence+kind.Boost, model.MaxConfidence)
		return Sanitize(out, kind), LearnReinforced
	}

	p := model.LearnedPattern{
		Pattern:    glob,
		Confidence: model.ClampConfidence(max(kind.StartConfidence, kind.Floor)),
		UsageCount: 1,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if sourceID != "" {
		p.SourceIDs = []string{sourceID}
	}
	out = append(out, p)
	return Sanitize(out, kind), LearnCreated
}

// UnlearnResult summarizes the effect of Unlearn.
type UnlearnResult struct {
	Penalized []string // patterns whose confidence dropped
	Removed   []string // patterns deleted
}

// Changed reports whether any pattern was touched.
func (r UnlearnResult) Changed() bool {
	return len(r.Penalized) > 0 || len(r.Removed) > 0
}

// Unlearn reacts to the user removing a system-recommended assignment of
// sourceID, whose text is given as fields. Patterns that recorded sourceID
// lose it and take the unlearn penalty; patterns left without sources are
// deleted. Patterns that match fields without having recorded sourceID were
// a false positive and take the larger penalty. Anything below the floor is
// deleted.
func Unlearn(patterns []model.LearnedPattern, sourceID string, fields []string, kind Kind) ([]model.LearnedPattern, UnlearnResult) {
	var res UnlearnResult
	out := make([]model.LearnedPattern, 0, len(patterns))

	for _, p := range clonePatterns(patterns) {
		switch {
		case slices.Contains(p.SourceIDs, sourceID):
			p.SourceIDs = slices.DeleteFunc(p.SourceIDs, func(id string) bool { return id == sourceID })
			if len(p.SourceIDs) == 0 {
				res.Removed = append(res.Removed, p.Pattern)
				continue
			}
			p.Confidence -= kind.UnlearnPenalty
		case MatchFlexible(p.Pattern, fields):
			p.Confidence -= kind.FalsePositivePenalty
		default:
			out = append(out, p)
			continue
		}

		if p.Confidence < kind.Floor {
			res.Removed = append(res.Removed, p.Pattern)
			continue
		}
		res.Penalized = append(res.Penalized, p.Pattern)
		out = append(out, p)
	}

	return Sanitize(out, kind), res
}

// Sanitize enforces the confidence bounds and size cap: confidences above
// 100 are clamped, patterns below the floor are dropped, and when the list
// is too long the lowest-confidence, least recently used patterns go first.
func Sanitize(patterns []model.LearnedPattern, kind Kind) []model.LearnedPattern {
	out := make([]model.LearnedPattern, 0, len(patterns))
	for _, p := range patterns {
		p.Confidence = min(p.Confidence, model.MaxConfidence)
		if p.Confidence < kind.Floor {
			continue
		}
		out = append(out, p)
	}

	if kind.MaxPatterns > 0 && len(out) > kind.MaxPatterns {
		slices.SortStableFunc(out, func(a, b model.LearnedPattern) int {
			if a.Confidence != b.Confidence {
				return b.Confidence - a.Confidence
			}
			return b.LastUsedAt.Compare(a.LastUsedAt)
		})
		out = out[:kind.MaxPatterns]
	}
	return out
}

// BestMatch returns the highest-confidence pattern matching fields.
func BestMatch(patterns []model.LearnedPattern, fields []string) (model.LearnedPattern, bool) {
	var best model.LearnedPattern
	found := false
	for _, p := range patterns {
		if !MatchFlexible(p.Pattern, fields) {
			continue
		}
		if !found || p.Confidence > best.Confidence {
			best = p
			found = true
		}
	}
	return best, found
}

func clonePatterns(patterns []model.LearnedPattern) []model.LearnedPattern {
	out := make([]model.LearnedPattern, len(patterns))
	for i, p := range patterns {
		p.SourceIDs = slices.Clone(p.SourceIDs)
		out[i] = p
	}
	return out
}
