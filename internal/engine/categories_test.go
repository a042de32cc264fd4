package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/testutil"
)

func TestAssignCategory_MaintainsCounts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.store.Seed(
		testutil.NewTransaction("T1", "Sparkasse"),
		testutil.NewCategory("C1", "bank-fees", "Bank fees"),
		testutil.NewCategory("C2", "private", "Private"),
	)

	require.NoError(t, env.engine.AssignCategory(ctx, testutil.TestUser, "T1", AssignCategoryRequest{CategoryID: "C1", MatchedBy: model.MatchSourceManual}))
	txn := env.store.Transaction("T1")
	assert.True(t, txn.IsComplete)
	assert.Equal(t, "C1", txn.NoReceiptCategoryID)
	assert.Equal(t, "bank-fees", txn.NoReceiptCategoryTemplateID)
	assert.Equal(t, 1, env.store.Category("C1").TransactionCount)

	// Same category again leaves the count alone.
	require.NoError(t, env.engine.AssignCategory(ctx, testutil.TestUser, "T1", AssignCategoryRequest{CategoryID: "C1", MatchedBy: model.MatchSourceManual}))
	assert.Equal(t, 1, env.store.Category("C1").TransactionCount)

	require.NoError(t, env.engine.AssignCategory(ctx, testutil.TestUser, "T1", AssignCategoryRequest{CategoryID: "C2", MatchedBy: model.MatchSourceManual}))
	assert.Equal(t, 0, env.store.Category("C1").TransactionCount)
	assert.Equal(t, 1, env.store.Category("C2").TransactionCount)

	require.NoError(t, env.engine.RemoveCategory(ctx, testutil.TestUser, "T1"))
	txn = env.store.Transaction("T1")
	assert.False(t, txn.IsComplete)
	assert.Empty(t, txn.NoReceiptCategoryID)
	assert.Empty(t, txn.NoReceiptCategoryMatchedBy)
	assert.Nil(t, txn.NoReceiptCategoryConfidence)
	assert.Equal(t, 0, env.store.Category("C2").TransactionCount)
}

func TestAssignCategory_Errors(t *testing.T) {
	env := newTestEnv(t)
	inactive := testutil.NewCategory("C-inactive", "old", "Old")
	inactive.IsActive = false
	foreign := testutil.NewCategory("C-foreign", "bank-fees", "Bank fees")
	foreign.UserID = testutil.OtherUser
	rejected := testutil.NewCategory("C-rejected", "private", "Private")
	rejected.ManualRemovals = []model.ManualRemoval{{EntityID: "T1", RemovedAt: testutil.BaseTime}}
	env.store.Seed(
		testutil.NewTransaction("T1", "Shop"),
		testutil.NewCategory("C-lost", model.TemplateReceiptLost, "Receipt lost"),
		inactive, foreign, rejected,
	)

	tests := []struct {
		name string
		req  AssignCategoryRequest
		code common.Code
	}{
		{"missing category id", AssignCategoryRequest{MatchedBy: model.MatchSourceManual}, common.CodeInvalidArgument},
		{"unknown matchedBy", AssignCategoryRequest{CategoryID: "C-inactive", MatchedBy: "guess"}, common.CodeInvalidArgument},
		{"missing category", AssignCategoryRequest{CategoryID: "C-missing", MatchedBy: model.MatchSourceManual}, common.CodeNotFound},
		{"foreign category", AssignCategoryRequest{CategoryID: "C-foreign", MatchedBy: model.MatchSourceManual}, common.CodePermissionDenied},
		{"inactive category", AssignCategoryRequest{CategoryID: "C-inactive", MatchedBy: model.MatchSourceManual}, common.CodeFailedPrecondition},
		{"receipt lost needs justification", AssignCategoryRequest{CategoryID: "C-lost", MatchedBy: model.MatchSourceManual}, common.CodeInvalidArgument},
		{"rejected suggestion", AssignCategoryRequest{CategoryID: "C-rejected", MatchedBy: model.MatchSourceSuggestion}, common.CodeFailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.engine.AssignCategory(context.Background(), testutil.TestUser, "T1", tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, common.CodeOf(err))
		})
	}
	assert.False(t, env.store.Transaction("T1").IsComplete)
}

func TestAssignReceiptLostCategory(t *testing.T) {
	ctx := context.Background()

	t.Run("validates the justification", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.Seed(testutil.NewTransaction("T1", "Kiosk"))

		err := env.engine.AssignReceiptLostCategory(ctx, testutil.TestUser, "T1", ReceiptLostRequest{Reason: "forgot", Description: "x"})
		assert.True(t, common.IsCode(err, common.CodeInvalidArgument))

		err = env.engine.AssignReceiptLostCategory(ctx, testutil.TestUser, "T1", ReceiptLostRequest{Reason: model.ReceiptLostReasonLost, Description: "   "})
		assert.True(t, common.IsCode(err, common.CodeInvalidArgument))
		assert.False(t, env.store.Transaction("T1").IsComplete)
	})

	t.Run("creates the category on first use", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.Seed(testutil.NewTransaction("T1", "Kiosk"), testutil.NewTransaction("T2", "Taxi"))

		for _, id := range []string{"T1", "T2"} {
			err := env.engine.AssignReceiptLostCategory(ctx, testutil.TestUser, id, ReceiptLostRequest{
				Reason:      model.ReceiptLostReasonNotIssued,
				Description: "Vendor does not issue receipts",
			})
			require.NoError(t, err)
		}

		categories, err := env.store.ListCategories(ctx, testutil.TestUser)
		require.NoError(t, err)
		require.Len(t, categories, 1)
		assert.Equal(t, model.TemplateReceiptLost, categories[0].TemplateID)
		assert.Equal(t, 2, categories[0].TransactionCount)

		txn := env.store.Transaction("T1")
		assert.True(t, txn.IsComplete)
		assert.Equal(t, categories[0].ID, txn.NoReceiptCategoryID)
		assert.Equal(t, model.MatchSourceManual, txn.NoReceiptCategoryMatchedBy)
		require.NotNil(t, txn.ReceiptLost)
		assert.Equal(t, model.ReceiptLostReasonNotIssued, txn.ReceiptLost.Reason)
		assert.Equal(t, "Vendor does not issue receipts", txn.ReceiptLost.Description)

		require.NoError(t, env.engine.RemoveCategory(ctx, testutil.TestUser, "T1"))
		assert.Nil(t, env.store.Transaction("T1").ReceiptLost)
		assert.Equal(t, 1, env.store.Category(categories[0].ID).TransactionCount)
	})
}

// Removing an automatic category records the false positive, penalizes the
// matching pattern and immediately offers the next best category.
func TestRemoveCategory_RematchesAfterFalsePositive(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	streaming := testutil.NewCategory("C1", "subscriptions", "Subscriptions")
	streaming.LearnedPatterns = []model.LearnedPattern{{Pattern: "*netflix*", Confidence: 70, SourceIDs: []string{"T9"}, UsageCount: 1}}
	cards := testutil.NewCategory("C2", "card", "Card payments")
	cards.LearnedPatterns = []model.LearnedPattern{{Pattern: "*kartenzahlung*", Confidence: 72, SourceIDs: []string{"T8"}, UsageCount: 1}}
	env.store.Seed(testutil.NewTransaction("T1", "Netflix"), streaming, cards)

	require.NoError(t, env.engine.AssignCategory(ctx, testutil.TestUser, "T1", AssignCategoryRequest{
		CategoryID: "C1", MatchedBy: model.MatchSourceAuto, Confidence: model.IntPtr(70),
	}))
	require.NoError(t, env.engine.RemoveCategory(ctx, testutil.TestUser, "T1"))

	c1 := env.store.Category("C1")
	require.Len(t, c1.ManualRemovals, 1)
	assert.Equal(t, "T1", c1.ManualRemovals[0].EntityID)
	require.Len(t, c1.LearnedPatterns, 1)
	assert.Equal(t, 50, c1.LearnedPatterns[0].Confidence)
	assert.Equal(t, 0, c1.TransactionCount)

	suggestions := env.store.Transaction("T1").CategorySuggestions
	require.Len(t, suggestions, 1)
	assert.Equal(t, "C2", suggestions[0].EntityID)
	assert.Equal(t, 72, suggestions[0].Confidence)
}
