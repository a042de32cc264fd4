package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/testutil"
)

// fakeMailbox answers searches from a fixed result set per query substring.
type fakeMailbox struct {
	results map[string][]Message
	err     error
	queries []string
}

func (m *fakeMailbox) Search(_ context.Context, query string, limit int) ([]Message, error) {
	m.queries = append(m.queries, query)
	if m.err != nil {
		return nil, m.err
	}
	for key, msgs := range m.results {
		if strings.Contains(query, key) {
			return msgs[:min(len(msgs), limit)], nil
		}
	}
	return nil, nil
}

func newTestHandlers(t *testing.T, mailbox Mailbox) (*Handlers, *testutil.TestStore) {
	t.Helper()
	store := testutil.NewMemoryStore(t)
	h := NewHandlers(mailbox, store, DefaultHandlerConfig())
	h.now = func() time.Time { return testutil.BaseTime }
	var n int
	h.newID = func() string {
		n++
		return fmt.Sprintf("mail-%d", n)
	}
	return h, store
}

type progress struct{ processed, total, matched int }

func recorder(calls *[]progress) func(int, int, int) {
	return func(p, t, m int) { *calls = append(*calls, progress{p, t, m}) }
}

var hetznerInvoice = Message{
	ID:           "m1",
	From:         "Hetzner <billing@hetzner.com>",
	SenderDomain: "hetzner.com",
	Subject:      "Ihre Rechnung R0012",
	Date:         testutil.BaseTime.Add(-48 * time.Hour),
}

func TestSync_ImportsFromLearnedSenders(t *testing.T) {
	mailbox := &fakeMailbox{results: map[string][]Message{"hetzner.com": {hetznerInvoice}}}
	h, store := newTestHandlers(t, mailbox)
	partner := testutil.NewPartner("P1", "Hetzner")
	partner.EmailSearchPatterns = []model.LearnedPattern{{Pattern: "*hetzner.com*", Confidence: 80}}
	store.Seed(partner)

	var calls []progress
	item := model.QueueItem{ID: "q1", UserID: testutil.TestUser, Kind: model.QueueMailSync}
	require.NoError(t, h.Sync(context.Background(), item, recorder(&calls)))

	assert.Equal(t, []string{"from:(hetzner.com) has:attachment after:2024/02/14"}, mailbox.queries)
	assert.Equal(t, []progress{{0, 1, 0}, {1, 1, 1}}, calls)

	file := store.File("mail-1")
	assert.Equal(t, "Ihre Rechnung R0012", file.FileName)
	assert.Equal(t, SourceGmail, file.SourceType)
	assert.Equal(t, "hetzner.com", file.SenderDomain)
	assert.Equal(t, "gmail:m1", file.Fingerprint)
	assert.False(t, file.ExtractionComplete)

	// A second sync finds the same message and imports nothing.
	calls = nil
	require.NoError(t, h.Sync(context.Background(), item, recorder(&calls)))
	assert.Equal(t, progress{1, 1, 0}, calls[len(calls)-1])
	files, err := store.ListFiles(context.Background(), testutil.TestUser)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestPrecisionSearch_SuggestsTransaction(t *testing.T) {
	mailbox := &fakeMailbox{results: map[string][]Message{`"49.99"`: {hetznerInvoice}}}
	h, store := newTestHandlers(t, mailbox)

	complete := testutil.NewTransaction("T2", "Hetzner")
	complete.IsComplete = true
	foreign := testutil.NewTransaction("T3", "Hetzner")
	foreign.UserID = testutil.OtherUser
	store.Seed(testutil.NewTransaction("T1", "Hetzner Online"), complete, foreign)

	var calls []progress
	item := model.QueueItem{
		ID:             "q1",
		UserID:         testutil.TestUser,
		Kind:           model.QueuePrecisionSearch,
		TransactionIDs: []string{"T1", "T2", "T3", "missing"},
	}
	require.NoError(t, h.PrecisionSearch(context.Background(), item, recorder(&calls)))

	assert.Len(t, mailbox.queries, 1, "only the open transaction is searched")
	assert.Equal(t, []progress{{1, 4, 1}, {2, 4, 1}, {3, 4, 1}, {4, 4, 1}}, calls)

	file := store.File("mail-1")
	require.Len(t, file.TransactionSuggestions, 1)
	assert.Equal(t, model.TransactionSuggestion{
		TransactionID: "T1",
		MatchSources:  []string{"mail_search"},
		Confidence:    50,
	}, file.TransactionSuggestions[0])

	// Repeating the search adds nothing.
	require.NoError(t, h.PrecisionSearch(context.Background(), item, recorder(&calls)))
	assert.Len(t, store.File("mail-1").TransactionSuggestions, 1)
}

func TestPrecisionSearch_RespectsDismissal(t *testing.T) {
	mailbox := &fakeMailbox{results: map[string][]Message{"49": {hetznerInvoice}}}
	h, store := newTestHandlers(t, mailbox)

	existing := testutil.NewFile("F1", "Hetzner")
	existing.Fingerprint = Fingerprint(hetznerInvoice)
	existing.DismissedTransactions = []string{"T1"}
	store.Seed(testutil.NewTransaction("T1", "Hetzner"), existing)

	item := model.QueueItem{ID: "q1", UserID: testutil.TestUser, TransactionIDs: []string{"T1"}}
	require.NoError(t, h.PrecisionSearch(context.Background(), item, func(int, int, int) {}))

	got := store.File("F1")
	assert.Empty(t, got.TransactionSuggestions)
	assert.Equal(t, int64(1), got.Version, "an unchanged file is not rewritten")
}

func TestPrecisionSearch_UsesItemQuery(t *testing.T) {
	mailbox := &fakeMailbox{}
	h, store := newTestHandlers(t, mailbox)
	store.Seed(testutil.NewTransaction("T1", "Hetzner"))

	item := model.QueueItem{ID: "q1", UserID: testutil.TestUser, Query: "from:billing@hetzner.com", TransactionIDs: []string{"T1"}}
	require.NoError(t, h.PrecisionSearch(context.Background(), item, func(int, int, int) {}))
	assert.Equal(t, []string{"from:billing@hetzner.com"}, mailbox.queries)
}

func TestPrecisionSearch_MailboxErrorFailsJob(t *testing.T) {
	mailbox := &fakeMailbox{err: errors.New("quota exceeded")}
	h, store := newTestHandlers(t, mailbox)
	store.Seed(testutil.NewTransaction("T1", "Hetzner"), testutil.NewTransaction("T2", "Telekom"))

	var calls []progress
	item := model.QueueItem{ID: "q1", UserID: testutil.TestUser, TransactionIDs: []string{"T1", "T2"}}
	err := h.PrecisionSearch(context.Background(), item, recorder(&calls))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Len(t, calls, 2, "every transaction is still attempted")
}
