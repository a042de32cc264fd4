package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Veraticus/receipt-reconciler/internal/learning"
	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/testutil"
)

// mockCanceller records worker cancellations.
type mockCanceller struct {
	mock.Mock
}

func (m *mockCanceller) CancelWorkersForEntity(ctx context.Context, userID string, target model.TriggerContext, workerTypes ...string) (int, error) {
	args := m.Called(ctx, userID, target)
	return args.Int(0), args.Error(1)
}

type testEnv struct {
	engine    *Engine
	store     *testutil.TestStore
	learner   *learning.Engine
	canceller *mockCanceller
}

func clock() time.Time { return testutil.BaseTime }

// newTestEnv wires an engine over an in-memory store with the real learning
// engine. Background tasks run inline so their effects are visible once the
// operation returns.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := testutil.NewMemoryStore(t)
	learner := learning.New(store)
	learner.SetClock(clock)

	canceller := &mockCanceller{}
	canceller.On("CancelWorkersForEntity", mock.Anything, mock.Anything, mock.Anything).Return(0, nil).Maybe()

	eng := New(store, learner, canceller, nil)
	eng.SetClock(clock)

	return &testEnv{engine: eng, store: store, learner: learner, canceller: canceller}
}
