package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/receipt-reconciler/internal/automation"
	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/service"
)

// SourceGmail tags files imported from Gmail.
const SourceGmail = "gmail"

// searchMatchSource marks suggestions produced by a precision search.
const searchMatchSource = "mail_search"

// searchSuggestionConfidence is the confidence of a mailbox hit before
// extraction confirms amount and date.
const searchSuggestionConfidence = 50

// HandlerConfig tunes the queue handlers.
type HandlerConfig struct {
	// Lookback bounds a mail sync without a previous run.
	Lookback time.Duration
	// Window is the date range searched around a transaction.
	Window time.Duration
	// Limit caps messages imported per search.
	Limit int
}

// DefaultHandlerConfig returns the default configuration.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		Lookback: 30 * 24 * time.Hour,
		Window:   14 * 24 * time.Hour,
		Limit:    25,
	}
}

// Handlers executes mail sync and precision search jobs.
type Handlers struct {
	mailbox Mailbox
	store   service.Store
	now     func() time.Time
	newID   func() string
	config  HandlerConfig
}

// NewHandlers creates the queue handlers.
func NewHandlers(mailbox Mailbox, store service.Store, config HandlerConfig) *Handlers {
	def := DefaultHandlerConfig()
	if config.Lookback <= 0 {
		config.Lookback = def.Lookback
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.Limit <= 0 {
		config.Limit = def.Limit
	}
	return &Handlers{
		mailbox: mailbox,
		store:   store,
		now:     time.Now,
		newID:   uuid.NewString,
		config:  config,
	}
}

// Register attaches both handlers to a runner.
func (h *Handlers) Register(r *automation.Runner) {
	r.Register(model.QueueMailSync, automation.JobHandlerFunc(h.Sync))
	r.Register(model.QueuePrecisionSearch, automation.JobHandlerFunc(h.PrecisionSearch))
}

// Sync imports invoice mails from the senders learned on the user's
// partners. An explicit query on the item replaces the derived one.
func (h *Handlers) Sync(ctx context.Context, item model.QueueItem, report automation.Reporter) error {
	query := item.Query
	if query == "" {
		partners, err := h.store.ListPartners(ctx, item.UserID)
		if err != nil {
			return fmt.Errorf("failed to list partners: %w", err)
		}
		var domains []string
		for i := range partners {
			if partners[i].UserID != item.UserID {
				continue
			}
			domains = append(domains, PartnerDomains(&partners[i])...)
		}
		query = SyncQuery(domains, h.now().Add(-h.config.Lookback))
	}

	msgs, err := h.mailbox.Search(ctx, query, h.config.Limit)
	if err != nil {
		return err
	}
	report(0, len(msgs), 0)

	imported, err := h.importMessages(ctx, item.UserID, msgs, "")
	if err != nil {
		return err
	}
	report(len(msgs), len(msgs), imported)

	slog.Info("Mail sync finished",
		"user_id", item.UserID,
		"found", len(msgs),
		"imported", imported)
	return nil
}

// PrecisionSearch looks for the receipt of each transaction on the item.
// Hits are imported as files suggesting that transaction. Transactions that
// are gone, foreign or already complete are skipped.
func (h *Handlers) PrecisionSearch(ctx context.Context, item model.QueueItem, report automation.Reporter) error {
	total := len(item.TransactionIDs)
	var matched int
	var errs []error

	for i, txID := range item.TransactionIDs {
		found, err := h.searchTransaction(ctx, item, txID)
		if err != nil {
			errs = append(errs, fmt.Errorf("transaction %s: %w", txID, err))
		}
		if found {
			matched++
		}
		report(i+1, total, matched)
	}

	// A partial failure still fails the item so the runner retries it.
	// Earlier imports are deduplicated by fingerprint on the retry.
	return errors.Join(errs...)
}

func (h *Handlers) searchTransaction(ctx context.Context, item model.QueueItem, txID string) (bool, error) {
	txn, err := h.store.GetTransaction(ctx, txID)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if txn.UserID != item.UserID || txn.IsComplete {
		return false, nil
	}

	var partner *model.Partner
	if txn.PartnerID != "" {
		partner, err = h.store.GetPartner(ctx, txn.PartnerID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return false, err
		}
	}

	query := item.Query
	if query == "" {
		query = TransactionQuery(txn, partner, h.config.Window)
	}
	msgs, err := h.mailbox.Search(ctx, query, h.config.Limit)
	if err != nil {
		return false, err
	}
	if len(msgs) == 0 {
		return false, nil
	}

	if _, err := h.importMessages(ctx, item.UserID, msgs, txID); err != nil {
		return false, err
	}
	return true, nil
}

// importMessages stores new messages as files awaiting extraction and,
// when txID is set, suggests txID on every hit the user has not dismissed
// for it. It returns the number of new files.
func (h *Handlers) importMessages(ctx context.Context, userID string, msgs []Message, txID string) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	var imported int
	err := common.WithRetry(ctx, func() error {
		imported = 0
		files, err := h.store.ListFiles(ctx, userID)
		if err != nil {
			return err
		}
		byFingerprint := make(map[string]*model.File, len(files))
		for i := range files {
			byFingerprint[files[i].Fingerprint] = &files[i]
		}

		return h.store.Update(ctx, func(b service.Batch) error {
			for _, msg := range msgs {
				fp := Fingerprint(msg)
				file, ok := byFingerprint[fp]
				changed := !ok
				if !ok {
					file = h.newFile(userID, msg)
					byFingerprint[fp] = file
					imported++
				}
				if txID != "" && !file.Deleted() && !file.Dismissed(txID) && !file.HasTransaction(txID) && suggest(file, txID) {
					changed = true
				}
				if changed {
					b.PutFile(file)
				}
			}
			return nil
		})
	}, common.ConflictRetryOptions())
	if err != nil {
		return 0, fmt.Errorf("failed to import messages: %w", err)
	}
	return imported, nil
}

// Fingerprint identifies a mailbox message across imports.
func Fingerprint(msg Message) string {
	return SourceGmail + ":" + msg.ID
}

func (h *Handlers) newFile(userID string, msg Message) *model.File {
	now := h.now()
	created := msg.Date
	if created.IsZero() {
		created = now
	}
	name := msg.Subject
	if name == "" {
		name = msg.From
	}
	return &model.File{
		ID:             h.newID(),
		UserID:         userID,
		FileName:       name,
		SourceType:     SourceGmail,
		SenderDomain:   msg.SenderDomain,
		Fingerprint:    Fingerprint(msg),
		TransactionIDs: []string{},
		CreatedAt:      created,
		UpdatedAt:      now,
	}
}

func suggest(file *model.File, txID string) bool {
	for _, s := range file.TransactionSuggestions {
		if s.TransactionID == txID {
			return false
		}
	}
	file.TransactionSuggestions = append(file.TransactionSuggestions, model.TransactionSuggestion{
		TransactionID: txID,
		MatchSources:  []string{searchMatchSource},
		Confidence:    searchSuggestionConfidence,
	})
	return true
}
