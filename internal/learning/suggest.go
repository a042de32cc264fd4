package learning

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/pattern"
)

// Suggestion sources.
const (
	SourcePattern = "pattern"
	SourceIBAN    = "iban"
	SourceName    = "name"
)

const (
	ibanConfidence = 95
	nameConfidence = 60
	maxSuggestions = 5
)

// SuggestPartners ranks the partners visible to txn's owner. Partners that
// were rejected for this transaction are never suggested again until the
// removal is cleared.
func (e *Engine) SuggestPartners(ctx context.Context, txn *model.Transaction) ([]model.EntitySuggestion, error) {
	partners, err := e.store.ListPartners(ctx, txn.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list partners: %w", err)
	}

	fields := txn.TextFields()
	iban := normalizeIBAN(txn.PartnerIBAN)

	var out []model.EntitySuggestion
	for _, p := range partners {
		if pattern.HasRemoval(p.ManualRemovals, txn.ID) {
			continue
		}

		best := model.EntitySuggestion{EntityID: p.ID}
		consider := func(source, glob string, confidence int) {
			if confidence > best.Confidence {
				best.Source, best.Pattern, best.Confidence = source, glob, confidence
			}
		}

		if iban != "" && slices.ContainsFunc(p.IBANs, func(v string) bool { return normalizeIBAN(v) == iban }) {
			consider(SourceIBAN, "", ibanConfidence)
		}
		if lp, ok := pattern.BestMatch(p.LearnedPatterns, fields); ok {
			consider(SourcePattern, lp.Pattern, lp.Confidence)
		}
		for _, name := range append([]string{p.Name}, p.Aliases...) {
			if glob := pattern.DerivePattern(name); glob != "" && pattern.MatchFlexible(glob, fields) {
				consider(SourceName, glob, nameConfidence)
			}
		}

		if best.Confidence > 0 {
			out = append(out, best)
		}
	}

	return rank(out), nil
}

// SuggestCategories ranks the owner's categories by their learned patterns.
func (e *Engine) SuggestCategories(ctx context.Context, txn *model.Transaction) ([]model.EntitySuggestion, error) {
	categories, err := e.store.ListCategories(ctx, txn.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}

	var out []model.EntitySuggestion
	for _, c := range categories {
		if !c.IsActive || pattern.HasRemoval(c.ManualRemovals, txn.ID) {
			continue
		}
		if lp, ok := pattern.BestMatch(c.LearnedPatterns, txn.TextFields()); ok {
			out = append(out, model.EntitySuggestion{
				EntityID:   c.ID,
				Pattern:    lp.Pattern,
				Source:     SourcePattern,
				Confidence: lp.Confidence,
			})
		}
	}

	return rank(out), nil
}

func rank(s []model.EntitySuggestion) []model.EntitySuggestion {
	slices.SortStableFunc(s, func(a, b model.EntitySuggestion) int {
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		return cmp.Compare(a.EntityID, b.EntityID)
	})
	if len(s) > maxSuggestions {
		s = s[:maxSuggestions]
	}
	return s
}

func normalizeIBAN(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, " ", ""))
}
