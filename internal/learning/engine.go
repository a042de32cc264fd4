// Package learning binds the pattern algorithms to stored partners and
// categories. It learns patterns from confirmed assignments, unlearns them
// from removals, keeps the false-positive logs and ranks suggestions.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/pattern"
	"github.com/Veraticus/receipt-reconciler/internal/service"
)

// Config holds the tunable constants of the learning engine.
type Config struct {
	PartnerFloor  int
	CategoryFloor int
	MaxRemovals   int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		PartnerFloor:  pattern.PartnerKind.Floor,
		CategoryFloor: pattern.CategoryKind.Floor,
		MaxRemovals:   pattern.MaxRemovals,
	}
}

// Engine is the pattern learning engine.
type Engine struct {
	store        service.Store
	now          func() time.Time
	partnerKind  pattern.Kind
	categoryKind pattern.Kind
	fileKind     pattern.Kind
	maxRemovals  int
}

// New creates a learning engine with the default configuration.
func New(store service.Store) *Engine {
	return NewWithConfig(store, DefaultConfig())
}

// NewWithConfig creates a learning engine with custom configuration.
func NewWithConfig(store service.Store, cfg Config) *Engine {
	if cfg.MaxRemovals <= 0 {
		cfg.MaxRemovals = pattern.MaxRemovals
	}
	return &Engine{
		store:        store,
		now:          time.Now,
		partnerKind:  pattern.PartnerKind.WithFloor(cfg.PartnerFloor),
		categoryKind: pattern.CategoryKind.WithFloor(cfg.CategoryFloor),
		fileKind:     pattern.FileSourceKind,
		maxRemovals:  cfg.MaxRemovals,
	}
}

// SetClock overrides the time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// PartnerKind returns the effective partner pattern constants.
func (e *Engine) PartnerKind() pattern.Kind { return e.partnerKind }

// CategoryKind returns the effective category pattern constants.
func (e *Engine) CategoryKind() pattern.Kind { return e.categoryKind }

// learnText picks the text a pattern is derived from: the counterparty as
// printed by the bank, else the booking text.
func learnText(txn *model.Transaction) string {
	if strings.TrimSpace(txn.Partner) != "" {
		return txn.Partner
	}
	return txn.Name
}

// updatePartner runs a read-modify-write on a partner, retrying on version
// conflicts. mutate reports whether anything changed.
func (e *Engine) updatePartner(ctx context.Context, partnerID string, mutate func(*model.Partner) bool) error {
	return common.WithRetry(ctx, func() error {
		partner, err := e.store.GetPartner(ctx, partnerID)
		if err != nil {
			return err
		}
		if !mutate(partner) {
			return nil
		}
		partner.UpdatedAt = e.now()
		return e.store.Update(ctx, func(b service.Batch) error {
			b.PutPartner(partner)
			return nil
		})
	}, common.ConflictRetryOptions())
}

func (e *Engine) updateCategory(ctx context.Context, categoryID string, mutate func(*model.Category) bool) error {
	return common.WithRetry(ctx, func() error {
		category, err := e.store.GetCategory(ctx, categoryID)
		if err != nil {
			return err
		}
		if !mutate(category) {
			return nil
		}
		category.UpdatedAt = e.now()
		return e.store.Update(ctx, func(b service.Batch) error {
			b.PutCategory(category)
			return nil
		})
	}, common.ConflictRetryOptions())
}

// LearnPartner records that txn was assigned to partnerID by the user or an
// accepted suggestion. Global partners only learn from their own data, so
// user assignments never add patterns to them.
func (e *Engine) LearnPartner(ctx context.Context, partnerID string, txn *model.Transaction) error {
	var outcome pattern.LearnOutcome
	err := e.updatePartner(ctx, partnerID, func(p *model.Partner) bool {
		if p.Type() == model.PartnerTypeGlobal {
			outcome = pattern.LearnSkipped
			return false
		}
		p.LearnedPatterns, outcome = pattern.Learn(p.LearnedPatterns, learnText(txn), txn.ID, e.partnerKind, e.now())
		return outcome != pattern.LearnSkipped
	})
	if err != nil {
		return fmt.Errorf("failed to learn partner pattern: %w", err)
	}

	slog.Debug("Learned partner pattern",
		"partner_id", partnerID,
		"transaction_id", txn.ID,
		"outcome", outcome)
	return nil
}

// UnlearnPartner reacts to the user removing a system-recommended partner
// from txn: the transaction is logged as a false positive on the partner and
// the partner's patterns are penalized. Patterns of global partners are
// shared by every user and stay untouched; only the removal is logged, and
// it names a transaction of this user alone.
func (e *Engine) UnlearnPartner(ctx context.Context, partnerID string, txn *model.Transaction) error {
	var res pattern.UnlearnResult
	err := e.updatePartner(ctx, partnerID, func(p *model.Partner) bool {
		p.ManualRemovals = pattern.AppendRemoval(p.ManualRemovals, txn.ID, e.now(), e.maxRemovals)
		if p.Type() != model.PartnerTypeGlobal {
			p.LearnedPatterns, res = pattern.Unlearn(p.LearnedPatterns, txn.ID, txn.TextFields(), e.partnerKind)
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to unlearn partner pattern: %w", err)
	}

	slog.Debug("Unlearned partner patterns",
		"partner_id", partnerID,
		"transaction_id", txn.ID,
		"penalized", len(res.Penalized),
		"removed", len(res.Removed))
	return nil
}

// LearnCategory records that txn was put into categoryID by the user or an
// accepted suggestion.
func (e *Engine) LearnCategory(ctx context.Context, categoryID string, txn *model.Transaction) error {
	var outcome pattern.LearnOutcome
	err := e.updateCategory(ctx, categoryID, func(c *model.Category) bool {
		c.LearnedPatterns, outcome = pattern.Learn(c.LearnedPatterns, learnText(txn), txn.ID, e.categoryKind, e.now())
		return outcome != pattern.LearnSkipped
	})
	if err != nil {
		return fmt.Errorf("failed to learn category pattern: %w", err)
	}

	slog.Debug("Learned category pattern",
		"category_id", categoryID,
		"transaction_id", txn.ID,
		"outcome", outcome)
	return nil
}

// UnlearnCategory reacts to the user removing a system-recommended category
// from txn.
func (e *Engine) UnlearnCategory(ctx context.Context, categoryID string, txn *model.Transaction) error {
	err := e.updateCategory(ctx, categoryID, func(c *model.Category) bool {
		c.ManualRemovals = pattern.AppendRemoval(c.ManualRemovals, txn.ID, e.now(), e.maxRemovals)
		c.LearnedPatterns, _ = pattern.Unlearn(c.LearnedPatterns, txn.ID, txn.TextFields(), e.categoryKind)
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to unlearn category pattern: %w", err)
	}
	return nil
}

// ClearPartnerRemoval lets a previously rejected transaction be suggested
// for the partner again.
func (e *Engine) ClearPartnerRemoval(ctx context.Context, partnerID, transactionID string) (bool, error) {
	var cleared bool
	err := e.updatePartner(ctx, partnerID, func(p *model.Partner) bool {
		p.ManualRemovals, cleared = pattern.ClearRemoval(p.ManualRemovals, transactionID)
		return cleared
	})
	return cleared, err
}

// ClearCategoryRemoval lets a previously rejected transaction be suggested
// for the category again.
func (e *Engine) ClearCategoryRemoval(ctx context.Context, categoryID, transactionID string) (bool, error) {
	var cleared bool
	err := e.updateCategory(ctx, categoryID, func(c *model.Category) bool {
		c.ManualRemovals, cleared = pattern.ClearRemoval(c.ManualRemovals, transactionID)
		return cleared
	})
	return cleared, err
}
