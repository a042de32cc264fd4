package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/testutil"
)

func withCategory(txn *model.Transaction, categoryID, templateID string) *model.Transaction {
	txn.SetCategory(model.Assignment{ID: categoryID, MatchedBy: model.MatchSourceManual, Confidence: 100}, templateID)
	return txn
}

func TestRepairOrphanedCategories(t *testing.T) {
	ctx := context.Background()

	t.Run("migrates by template then legacy id then name", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.Seed(
			testutil.NewCategory("C-bank", "bank-fees", "Bank fees"),
			testutil.NewCategory("C-travel", "travel", "Travel"),
			withCategory(testutil.NewTransaction("T1", "Bank"), "deleted-1", "bank-fees"),
			withCategory(testutil.NewTransaction("T2", "Bahn"), "travel", ""),
			withCategory(testutil.NewTransaction("T3", "Bank"), "Bank Fees", ""),
			withCategory(testutil.NewTransaction("T4", "Bank"), "C-bank", "bank-fees"),
		)

		report, err := env.engine.RepairOrphanedCategories(ctx, testutil.TestUser, nil)
		require.NoError(t, err)
		assert.Equal(t, RepairReport{Scanned: 4, Migrated: 3, CountsFixed: 2}, report)

		assert.Equal(t, "C-bank", env.store.Transaction("T1").NoReceiptCategoryID)
		assert.Equal(t, "C-travel", env.store.Transaction("T2").NoReceiptCategoryID)
		assert.Equal(t, "travel", env.store.Transaction("T2").NoReceiptCategoryTemplateID)
		assert.Equal(t, "C-bank", env.store.Transaction("T3").NoReceiptCategoryID)
		assert.Equal(t, model.MatchSourceManual, env.store.Transaction("T3").NoReceiptCategoryMatchedBy)

		assert.Equal(t, 3, env.store.Category("C-bank").TransactionCount)
		assert.Equal(t, 1, env.store.Category("C-travel").TransactionCount)
	})

	t.Run("clears references without replacement", func(t *testing.T) {
		env := newTestEnv(t)
		linked := withCategory(testutil.NewTransaction("T2", "Shop"), "gone", "")
		linked.AddFile("F1")
		env.store.Seed(
			withCategory(testutil.NewTransaction("T1", "Shop"), "gone", ""),
			linked,
		)

		report, err := env.engine.RepairOrphanedCategories(ctx, testutil.TestUser, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Cleared)

		cleared := env.store.Transaction("T1")
		assert.Empty(t, cleared.NoReceiptCategoryID)
		assert.False(t, cleared.IsComplete)
		assert.True(t, env.store.Transaction("T2").IsComplete)
	})

	t.Run("inactive categories are not replacements", func(t *testing.T) {
		env := newTestEnv(t)
		inactive := testutil.NewCategory("C1", "bank-fees", "Bank fees")
		inactive.IsActive = false
		env.store.Seed(inactive, withCategory(testutil.NewTransaction("T1", "Bank"), "old", "bank-fees"))

		report, err := env.engine.RepairOrphanedCategories(ctx, testutil.TestUser, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Cleared)
	})

	t.Run("second run changes nothing", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.Seed(
			testutil.NewCategory("C1", "bank-fees", "Bank fees"),
			withCategory(testutil.NewTransaction("T1", "Bank"), "old", "bank-fees"),
		)

		_, err := env.engine.RepairOrphanedCategories(ctx, testutil.TestUser, nil)
		require.NoError(t, err)
		version := env.store.Transaction("T1").Version

		report, err := env.engine.RepairOrphanedCategories(ctx, testutil.TestUser, nil)
		require.NoError(t, err)
		assert.Equal(t, RepairReport{Scanned: 1}, report)
		assert.Equal(t, version, env.store.Transaction("T1").Version)
	})

	t.Run("spans several batches and reports progress", func(t *testing.T) {
		env := newTestEnv(t)
		const n = 620
		docs := make([]any, 0, n)
		for i := range n {
			docs = append(docs, withCategory(testutil.NewTransaction(fmt.Sprintf("T%03d", i), "Shop"), "gone", ""))
		}
		env.store.Seed(docs[:400]...)
		env.store.Seed(docs[400:]...)

		var calls, lastDone, lastTotal int
		report, err := env.engine.RepairOrphanedCategories(ctx, testutil.TestUser, func(done, total int) {
			calls++
			lastDone, lastTotal = done, total
		})
		require.NoError(t, err)
		assert.Equal(t, n, report.Cleared)
		assert.Equal(t, n, calls)
		assert.Equal(t, n, lastDone)
		assert.Equal(t, n, lastTotal)
	})

	t.Run("repairs a mixed ledger and reports progress", func(t *testing.T) {
		env := newTestEnv(t)

		fees := testutil.NewCategory("C-fees", "bank-fees", "Bank fees")
		fees.TransactionCount = 7
		payroll := testutil.NewCategory("C-payroll", "payroll", "Payroll")

		byTemplate := withCategory(testutil.NewTransaction("T1", "Sparkasse"), "deleted-fees", "bank-fees")
		byTemplate.IsComplete = true
		byName := testutil.NewTransaction("T2", "Lohn")
		byName.SetCategory(model.Assignment{ID: "payroll ", MatchedBy: model.MatchSourceAuto, Confidence: 80}, "")
		byName.IsComplete = true
		lost := withCategory(testutil.NewTransaction("T3", "Unknown"), "gone", "")
		lost.IsComplete = true
		intact := withCategory(testutil.NewTransaction("T4", "Sparkasse"), "C-fees", "bank-fees")
		intact.IsComplete = true

		env.store.Seed(fees, payroll, byTemplate, byName, lost, intact, testutil.NewTransaction("T5", "Other"))

		var calls int
		report, err := env.engine.RepairOrphanedCategories(ctx, testutil.TestUser, func(_, total int) {
			calls++
			assert.Equal(t, 5, total)
		})
		require.NoError(t, err)

		assert.Equal(t, RepairReport{Scanned: 5, Migrated: 2, Cleared: 1, CountsFixed: 2}, report)
		assert.Equal(t, 5, calls)

		assert.Equal(t, "C-fees", env.store.Transaction("T1").NoReceiptCategoryID)
		t2 := env.store.Transaction("T2")
		assert.Equal(t, "C-payroll", t2.NoReceiptCategoryID)
		assert.Equal(t, model.MatchSourceAuto, t2.NoReceiptCategoryMatchedBy)
		t3 := env.store.Transaction("T3")
		assert.Empty(t, t3.NoReceiptCategoryID)
		assert.False(t, t3.IsComplete)

		assert.Equal(t, 2, env.store.Category("C-fees").TransactionCount)
		assert.Equal(t, 1, env.store.Category("C-payroll").TransactionCount)
	})

	t.Run("requires a user", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.engine.RepairOrphanedCategories(ctx, "", nil)
		assert.True(t, common.IsCode(err, common.CodeInvalidArgument))
	})
}
