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

func bankRow(partner string, amount int64) model.Transaction {
	return model.Transaction{
		SourceID: "DE001",
		Date:     testutil.BaseTime,
		Amount:   amount,
		Currency: "EUR",
		Name:     "SEPA Lastschrift",
		Partner:  partner,
	}
}

func TestImportTransactions(t *testing.T) {
	ctx := context.Background()

	t.Run("stores new rows with suggestions", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.Seed(testutil.NewPartner("P1", "Hetzner Online"))

		rows := []model.Transaction{bankRow("HETZNER ONLINE GMBH", -2380), bankRow("Bakery", -450)}
		result, err := env.engine.ImportTransactions(ctx, testutil.TestUser, rows)
		require.NoError(t, err)
		assert.Equal(t, ImportResult{Imported: 2}, result)

		txn := env.store.Transaction(ImportTransactionID(testutil.TestUser, &rows[0]))
		assert.Equal(t, testutil.TestUser, txn.UserID)
		assert.Positive(t, txn.Version)
		assert.True(t, clock().Equal(txn.CreatedAt))
		assert.False(t, txn.IsComplete)
		assert.Empty(t, txn.FileIDs)
		require.NotEmpty(t, txn.PartnerSuggestions)
		assert.Equal(t, "P1", txn.PartnerSuggestions[0].EntityID)

		other := env.store.Transaction(ImportTransactionID(testutil.TestUser, &rows[1]))
		assert.Empty(t, other.PartnerSuggestions)
	})

	t.Run("re-import skips known rows", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.Seed(testutil.NewCategory("C1", "bank-fees", "Bank fees"))
		rows := []model.Transaction{bankRow("Shop", -100)}

		_, err := env.engine.ImportTransactions(ctx, testutil.TestUser, rows)
		require.NoError(t, err)
		id := ImportTransactionID(testutil.TestUser, &rows[0])
		require.NoError(t, env.engine.AssignCategory(ctx, testutil.TestUser, id, AssignCategoryRequest{
			CategoryID: "C1", MatchedBy: model.MatchSourceManual,
		}))

		result, err := env.engine.ImportTransactions(ctx, testutil.TestUser, rows)
		require.NoError(t, err)
		assert.Equal(t, ImportResult{Skipped: 1}, result)

		txn := env.store.Transaction(id)
		assert.Equal(t, "C1", txn.NoReceiptCategoryID)
		assert.True(t, txn.IsComplete)
	})

	t.Run("duplicates within one statement", func(t *testing.T) {
		env := newTestEnv(t)
		rows := []model.Transaction{bankRow("Shop", -100), bankRow("SHOP", -100), bankRow("Shop", -200)}

		result, err := env.engine.ImportTransactions(ctx, testutil.TestUser, rows)
		require.NoError(t, err)
		assert.Equal(t, ImportResult{Imported: 2, Skipped: 1}, result)

		result, err = env.engine.ImportTransactions(ctx, testutil.TestUser, rows)
		require.NoError(t, err)
		assert.Equal(t, ImportResult{Skipped: 3}, result)
	})

	t.Run("ids are scoped to the user", func(t *testing.T) {
		row := bankRow("Shop", -100)
		assert.NotEqual(t, ImportTransactionID(testutil.TestUser, &row), ImportTransactionID(testutil.OtherUser, &row))
	})

	t.Run("requires a user", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.engine.ImportTransactions(ctx, "", []model.Transaction{bankRow("Shop", -100)})
		assert.True(t, common.IsCode(err, common.CodeInvalidArgument))
	})
}
