package learning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/pattern"
)

// LearnFileSource records that file belongs to partnerID: its extracted
// partner text feeds the file-source patterns, its sender domain the email
// search patterns and the recurring invoice sources.
func (e *Engine) LearnFileSource(ctx context.Context, partnerID string, file *model.File) error {
	now := e.now()
	err := e.updatePartner(ctx, partnerID, func(p *model.Partner) bool {
		if p.Type() == model.PartnerTypeGlobal {
			return false
		}

		changed := false
		text := file.ExtractedPartner
		if strings.TrimSpace(text) == "" {
			text = file.FileName
		}
		var outcome pattern.LearnOutcome
		p.FileSourcePatterns, outcome = pattern.Learn(p.FileSourcePatterns, text, file.ID, e.fileKind, now)
		changed = outcome != pattern.LearnSkipped

		if domain := strings.ToLower(strings.TrimSpace(file.SenderDomain)); domain != "" {
			p.EmailSearchPatterns, _ = pattern.LearnPattern(p.EmailSearchPatterns, "*"+domain+"*", file.ID, e.fileKind, now)
			p.InvoiceSources = recordInvoiceSource(p.InvoiceSources, file.SourceType, domain, fileDate(file, now))
			changed = true
		}
		return changed
	})
	if err != nil {
		return fmt.Errorf("failed to learn file source: %w", err)
	}
	return nil
}

// RecordFileRemoval logs that the user detached file from partnerID after
// it had been assigned automatically, and penalizes the file-source
// patterns that produced it.
func (e *Engine) RecordFileRemoval(ctx context.Context, partnerID string, file *model.File) error {
	err := e.updatePartner(ctx, partnerID, func(p *model.Partner) bool {
		p.ManualFileRemovals = pattern.AppendRemoval(p.ManualFileRemovals, file.ID, e.now(), e.maxRemovals)
		if p.Type() != model.PartnerTypeGlobal {
			p.FileSourcePatterns, _ = pattern.Unlearn(p.FileSourcePatterns, file.ID, file.TextFields(), e.fileKind)
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to record file removal: %w", err)
	}
	return nil
}

func fileDate(file *model.File, fallback time.Time) time.Time {
	if file.ExtractedDate != nil {
		return *file.ExtractedDate
	}
	if !file.CreatedAt.IsZero() {
		return file.CreatedAt
	}
	return fallback
}

func recordInvoiceSource(sources []model.InvoiceSource, sourceType, domain string, seen time.Time) []model.InvoiceSource {
	out := append([]model.InvoiceSource(nil), sources...)
	for i := range out {
		s := &out[i]
		if s.Domain != domain || s.SourceType != sourceType {
			continue
		}
		s.Count++
		if seen.Before(s.FirstSeenAt) {
			s.FirstSeenAt = seen
		}
		if seen.After(s.LastSeenAt) {
			s.LastSeenAt = seen
		}
		s.Frequency = InferFrequency(s.FirstSeenAt, s.LastSeenAt, s.Count)
		return out
	}

	return append(out, model.InvoiceSource{
		SourceType:  sourceType,
		Domain:      domain,
		FirstSeenAt: seen,
		LastSeenAt:  seen,
		Count:       1,
		Frequency:   model.FrequencyIrregular,
	})
}

// InferFrequency classifies the average spacing of count documents seen
// between first and last.
func InferFrequency(first, last time.Time, count int) model.InvoiceFrequency {
	if count < 2 || !last.After(first) {
		return model.FrequencyIrregular
	}

	days := last.Sub(first).Hours() / 24 / float64(count-1)
	switch {
	case days >= 5 && days <= 9:
		return model.FrequencyWeekly
	case days >= 25 && days <= 35:
		return model.FrequencyMonthly
	case days >= 80 && days <= 100:
		return model.FrequencyQuarterly
	case days >= 340 && days <= 390:
		return model.FrequencyYearly
	default:
		return model.FrequencyIrregular
	}
}
