package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/testutil"
)

func TestCanTransition(t *testing.T) {
	all := []model.QueueStatus{model.QueuePending, model.QueueProcessing, model.QueueCompleted, model.QueueFailed, model.QueuePaused}
	legal := map[[2]model.QueueStatus]bool{
		{model.QueuePending, model.QueueProcessing}:    true,
		{model.QueuePending, model.QueuePaused}:        true,
		{model.QueueProcessing, model.QueueCompleted}:  true,
		{model.QueueProcessing, model.QueueFailed}:     true,
		{model.QueueProcessing, model.QueuePaused}:     true,
		{model.QueueFailed, model.QueuePending}:        true,
		{model.QueuePaused, model.QueuePending}:        true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, legal[[2]model.QueueStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func enqueue(t *testing.T, s *Supervisor) *model.QueueItem {
	t.Helper()
	item, err := s.Enqueue(context.Background(), testutil.TestUser, EnqueueRequest{
		Kind:           model.QueuePrecisionSearch,
		Query:          " hetzner invoice ",
		TransactionIDs: []string{"T1", "T2"},
	})
	require.NoError(t, err)
	return item
}

func TestQueueLifecycle(t *testing.T) {
	s, store, clock := newTestSupervisor(t, nil)
	ctx := context.Background()

	item := enqueue(t, s)
	assert.Equal(t, model.QueuePending, item.Status)
	assert.Equal(t, "hetzner invoice", item.Query)
	assert.Equal(t, 2, item.Total)
	assert.Equal(t, model.DefaultMaxRetries, item.MaxRetries)

	_, err := s.Complete(ctx, testutil.TestUser, item.ID)
	assert.True(t, common.IsCode(err, common.CodeFailedPrecondition), "pending items cannot complete")

	clock.Advance(time.Minute)
	claimed, err := s.Claim(ctx, testutil.TestUser, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueProcessing, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	require.NoError(t, s.ReportProgress(ctx, item.ID, 1, 2, 1))
	failed, err := s.Fail(ctx, testutil.TestUser, item.ID, errors.New("mailbox unavailable"))
	require.NoError(t, err)
	assert.Equal(t, "mailbox unavailable", failed.LastError)

	retried, err := s.Retry(ctx, testutil.TestUser, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueuePending, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Equal(t, "mailbox unavailable", retried.LastError, "the last error is carried into the retry")

	_, err = s.Claim(ctx, testutil.TestUser, item.ID)
	require.NoError(t, err)
	done, err := s.Complete(ctx, testutil.TestUser, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueCompleted, done.Status)
	assert.Empty(t, done.LastError)
	assert.Equal(t, 1, store.QueueItem(item.ID).Matched)

	_, err = s.Retry(ctx, testutil.TestUser, item.ID)
	assert.True(t, common.IsCode(err, common.CodeFailedPrecondition), "completed items are final")
}

func TestRetryIsBounded(t *testing.T) {
	s, _, _ := newTestSupervisor(t, nil)
	ctx := context.Background()
	item := enqueue(t, s)

	for range model.DefaultMaxRetries {
		_, err := s.Claim(ctx, testutil.TestUser, item.ID)
		require.NoError(t, err)
		_, err = s.Fail(ctx, testutil.TestUser, item.ID, errors.New("boom"))
		require.NoError(t, err)
		_, err = s.Retry(ctx, testutil.TestUser, item.ID)
		require.NoError(t, err)
	}

	_, err := s.Claim(ctx, testutil.TestUser, item.ID)
	require.NoError(t, err)
	_, err = s.Fail(ctx, testutil.TestUser, item.ID, errors.New("boom"))
	require.NoError(t, err)

	_, err = s.Retry(ctx, testutil.TestUser, item.ID)
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.CodeFailedPrecondition))
}

func TestPauseAndResume(t *testing.T) {
	s, _, _ := newTestSupervisor(t, nil)
	ctx := context.Background()
	item := enqueue(t, s)

	_, err := s.Claim(ctx, testutil.TestUser, item.ID)
	require.NoError(t, err)
	paused, err := s.Pause(ctx, testutil.TestUser, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueuePaused, paused.Status)

	_, err = s.Complete(ctx, testutil.TestUser, item.ID)
	assert.True(t, common.IsCode(err, common.CodeFailedPrecondition), "a paused job cannot complete")

	resumed, err := s.Resume(ctx, testutil.TestUser, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueuePending, resumed.Status)
	assert.Nil(t, resumed.StartedAt)
}

func TestQueueOwnership(t *testing.T) {
	s, _, _ := newTestSupervisor(t, nil)
	ctx := context.Background()
	item := enqueue(t, s)

	_, err := s.Pause(ctx, testutil.OtherUser, item.ID)
	assert.True(t, common.IsCode(err, common.CodePermissionDenied))

	_, err = s.Pause(ctx, testutil.TestUser, "missing")
	assert.True(t, common.IsCode(err, common.CodeNotFound))

	_, err = s.Enqueue(ctx, testutil.TestUser, EnqueueRequest{Kind: "fax"})
	assert.True(t, common.IsCode(err, common.CodeInvalidArgument))
}

func TestSweepStale(t *testing.T) {
	s, store, clock := newTestSupervisor(t, nil)
	ctx := context.Background()

	stale := enqueue(t, s)
	_, err := s.Claim(ctx, testutil.TestUser, stale.ID)
	require.NoError(t, err)

	clock.Advance(8 * time.Minute)
	fresh := enqueue(t, s)
	_, err = s.Claim(ctx, testutil.TestUser, fresh.ID)
	require.NoError(t, err)
	waiting := enqueue(t, s)

	clock.Advance(3 * time.Minute)
	swept, err := s.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got := store.QueueItem(stale.ID)
	assert.Equal(t, model.QueueFailed, got.Status)
	assert.Equal(t, TimedOutError, got.LastError)
	assert.True(t, got.TimedOut)
	assert.True(t, got.CanRetry(), "a manual retry is still allowed")
	assert.False(t, got.CanAutoRetry())

	assert.Equal(t, model.QueueProcessing, store.QueueItem(fresh.ID).Status)
	assert.Equal(t, model.QueuePending, store.QueueItem(waiting.ID).Status)

	// Progress keeps an old job alive.
	clock.Advance(9 * time.Minute)
	require.NoError(t, s.ReportProgress(ctx, fresh.ID, 1, 2, 0))
	clock.Advance(2 * time.Minute)
	swept, err = s.SweepStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)

	retried, err := s.Retry(ctx, testutil.TestUser, stale.ID)
	require.NoError(t, err)
	assert.False(t, retried.TimedOut)
}

func TestListQueue(t *testing.T) {
	s, _, clock := newTestSupervisor(t, nil)
	ctx := context.Background()

	first := enqueue(t, s)
	clock.Advance(time.Second)
	_, err := s.Enqueue(ctx, testutil.TestUser, EnqueueRequest{Kind: model.QueueMailSync, IntegrationID: "gmail-1"})
	require.NoError(t, err)
	clock.Advance(time.Second)
	second := enqueue(t, s)
	_, err = s.Pause(ctx, testutil.TestUser, second.ID)
	require.NoError(t, err)

	items, err := s.ListQueue(ctx, testutil.TestUser, model.QueuePrecisionSearch)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].ID)

	items, err = s.ListQueue(ctx, testutil.TestUser, "", model.QueuePaused)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, second.ID, items[0].ID)

	items, err = s.ListQueue(ctx, testutil.OtherUser, "")
	require.NoError(t, err)
	assert.Empty(t, items)
}
