package pattern

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/receipt-reconciler/internal/model"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestLearn_CreatesPattern(t *testing.T) {
	patterns, outcome := Learn(nil, "Amazon EU S.a.r.l.", "tx-1", PartnerKind, now)

	require.Equal(t, LearnCreated, outcome)
	require.Len(t, patterns, 1)
	assert.Equal(t, "*amazon*", patterns[0].Pattern)
	assert.Equal(t, PartnerKind.StartConfidence, patterns[0].Confidence)
	assert.Equal(t, 1, patterns[0].UsageCount)
	assert.Equal(t, []string{"tx-1"}, patterns[0].SourceIDs)
}

func TestLearn_CategoryStartsLower(t *testing.T) {
	patterns, _ := Learn(nil, "Kontoführung Entgelt", "tx-1", CategoryKind, now)
	require.Len(t, patterns, 1)
	assert.Equal(t, 70, patterns[0].Confidence)
}

func TestLearn_ReinforcesEquivalentPattern(t *testing.T) {
	existing := []model.LearnedPattern{{
		Pattern:    "*AMAZON*",
		Confidence: 98,
		UsageCount: 3,
		SourceIDs:  []string{"tx-1"},
	}}

	patterns, outcome := Learn(existing, "Amazon EU", "tx-2", PartnerKind, now)

	require.Equal(t, LearnReinforced, outcome)
	require.Len(t, patterns, 1)
	assert.Equal(t, 100, patterns[0].Confidence, "boost is capped at 100")
	assert.Equal(t, 4, patterns[0].UsageCount)
	assert.Equal(t, []string{"tx-1", "tx-2"}, patterns[0].SourceIDs)
	assert.Equal(t, []string{"tx-1"}, existing[0].SourceIDs, "input must not be mutated")

	patterns, _ = Learn(patterns, "Amazon EU", "tx-2", PartnerKind, now)
	assert.Equal(t, []string{"tx-1", "tx-2"}, patterns[0].SourceIDs, "source ids stay unique")
}

func TestLearn_SkipsTextWithoutSignificantWords(t *testing.T) {
	patterns, outcome := Learn(nil, "DB AG", "tx-1", PartnerKind, now)
	assert.Equal(t, LearnSkipped, outcome)
	assert.Empty(t, patterns)
}

func TestUnlearn_RecordedSource(t *testing.T) {
	existing := []model.LearnedPattern{
		{Pattern: "*rewe*", Confidence: 80, SourceIDs: []string{"tx-1", "tx-5"}},
		{Pattern: "*edeka*", Confidence: 80, SourceIDs: []string{"tx-5"}},
	}

	patterns, res := Unlearn(existing, "tx-5", []string{"REWE Markt", "", ""}, PartnerKind)

	require.Len(t, patterns, 1)
	assert.Equal(t, "*rewe*", patterns[0].Pattern)
	assert.Equal(t, 80-PartnerKind.UnlearnPenalty, patterns[0].Confidence)
	assert.Equal(t, []string{"tx-1"}, patterns[0].SourceIDs)
	assert.Equal(t, []string{"*rewe*"}, res.Penalized)
	assert.Equal(t, []string{"*edeka*"}, res.Removed, "pattern without remaining sources is deleted")
}

func TestUnlearn_ImplicitFalsePositive(t *testing.T) {
	existing := []model.LearnedPattern{
		{Pattern: "*shell*", Confidence: 75, SourceIDs: []string{"tx-1"}},
		{Pattern: "*aral*", Confidence: 75, SourceIDs: []string{"tx-2"}},
	}

	patterns, res := Unlearn(existing, "tx-9", []string{"Shell Station 42", "", ""}, PartnerKind)

	require.Len(t, patterns, 2)
	assert.Equal(t, 75-PartnerKind.FalsePositivePenalty, patterns[0].Confidence)
	assert.Equal(t, 75, patterns[1].Confidence, "non-matching patterns are untouched")
	assert.Equal(t, []string{"*shell*"}, res.Penalized)
}

func TestUnlearn_DeletesBelowFloor(t *testing.T) {
	existing := []model.LearnedPattern{
		{Pattern: "*gebuehr*", Confidence: 45, SourceIDs: []string{"tx-1"}},
	}

	patterns, res := Unlearn(existing, "tx-2", []string{"Gebühr Kontoführung", "", ""}, CategoryKind)

	assert.Empty(t, patterns)
	assert.Equal(t, []string{"*gebuehr*"}, res.Removed)
}

func TestSanitize_CapsListSize(t *testing.T) {
	kind := PartnerKind
	kind.MaxPatterns = 2

	patterns := Sanitize([]model.LearnedPattern{
		{Pattern: "*a1*", Confidence: 50},
		{Pattern: "*a2*", Confidence: 90},
		{Pattern: "*a3*", Confidence: 70},
		{Pattern: "*a4*", Confidence: 10},
	}, kind)

	require.Len(t, patterns, 2)
	assert.Equal(t, "*a2*", patterns[0].Pattern)
	assert.Equal(t, "*a3*", patterns[1].Pattern)
}

func TestConfidenceBounds_RandomSequences(t *testing.T) {
	texts := []string{"Amazon Marketplace", "REWE Markt", "Shell Tankstelle", "Amazon Prime", "Stadtwerke Strom"}
	rng := rand.New(rand.NewPCG(1, 2))

	for _, kind := range []Kind{PartnerKind, CategoryKind} {
		var patterns []model.LearnedPattern
		for i := range 500 {
			text := texts[rng.IntN(len(texts))]
			source := []string{"t1", "t2", "t3", "t4"}[rng.IntN(4)]
			if rng.IntN(2) == 0 {
				patterns, _ = Learn(patterns, text, source, kind, now.Add(time.Duration(i)*time.Minute))
			} else {
				patterns, _ = Unlearn(patterns, source, []string{text, "", ""}, kind)
			}

			for _, p := range patterns {
				require.GreaterOrEqual(t, p.Confidence, kind.Floor, "%s step %d", kind.Name, i)
				require.LessOrEqual(t, p.Confidence, 100, "%s step %d", kind.Name, i)
			}
		}
	}
}

func TestBestMatch(t *testing.T) {
	patterns := []model.LearnedPattern{
		{Pattern: "*amazon*", Confidence: 70},
		{Pattern: "*amazon*prime*", Confidence: 90},
		{Pattern: "*rewe*", Confidence: 99},
	}

	best, ok := BestMatch(patterns, []string{"Amazon Prime Video", "", ""})
	require.True(t, ok)
	assert.Equal(t, "*amazon*prime*", best.Pattern)

	_, ok = BestMatch(patterns, []string{"Netflix", "", ""})
	assert.False(t, ok)
}

func TestKind_WithFloor(t *testing.T) {
	assert.Equal(t, 55, PartnerKind.WithFloor(55).Floor)
	assert.Equal(t, PartnerKind.Floor, PartnerKind.WithFloor(0).Floor)
	assert.Equal(t, PartnerKind.Floor, PartnerKind.WithFloor(101).Floor)
}
