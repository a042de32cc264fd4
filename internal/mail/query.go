package mail

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/pattern"
)

const gmailDate = "2006/01/02"

// invoiceTerms narrow a mailbox to likely invoices when no sender is known.
var invoiceTerms = []string{"invoice", "rechnung", "receipt", "quittung", "beleg"}

// PartnerDomains returns the sender domains learned for a partner, best
// first.
func PartnerDomains(p *model.Partner) []string {
	patterns := slices.Clone(p.EmailSearchPatterns)
	slices.SortStableFunc(patterns, func(a, b model.LearnedPattern) int { return b.Confidence - a.Confidence })

	var out []string
	for _, lp := range patterns {
		domain := strings.Trim(lp.Pattern, pattern.Wildcard+" ")
		if domain != "" && !strings.Contains(domain, pattern.Wildcard) && !slices.Contains(out, domain) {
			out = append(out, domain)
		}
	}
	for _, src := range p.InvoiceSources {
		if src.Domain != "" && !slices.Contains(out, src.Domain) {
			out = append(out, src.Domain)
		}
	}
	return out
}

// SyncQuery builds the mail sync query: invoices from known senders since
// a point in time, or anything that looks like an invoice when no sender is
// known yet.
func SyncQuery(domains []string, since time.Time) string {
	var parts []string
	if len(domains) > 0 {
		parts = append(parts, "from:("+strings.Join(domains, " OR ")+")")
	} else {
		parts = append(parts, "("+strings.Join(invoiceTerms, " OR ")+")")
	}
	parts = append(parts, "has:attachment")
	if !since.IsZero() {
		parts = append(parts, "after:"+since.Format(gmailDate))
	}
	return strings.Join(parts, " ")
}

// TransactionQuery builds a precision search for the receipt of one
// transaction: sender or counterparty, the amount in both decimal
// notations, and a date window around the booking.
func TransactionQuery(txn *model.Transaction, partner *model.Partner, window time.Duration) string {
	var parts []string

	var domains []string
	if partner != nil {
		domains = PartnerDomains(partner)
	}
	switch {
	case len(domains) > 0:
		parts = append(parts, "from:("+strings.Join(domains, " OR ")+")")
	case partner != nil && partner.Name != "":
		parts = append(parts, quoteTerm(partner.Name))
	case strings.TrimSpace(txn.Partner) != "":
		parts = append(parts, quoteTerm(txn.Partner))
	}

	if txn.Amount != 0 {
		parts = append(parts, amountTerm(txn.Amount))
	}

	if !txn.Date.IsZero() {
		if window <= 0 {
			window = 14 * 24 * time.Hour
		}
		parts = append(parts,
			"after:"+txn.Date.Add(-window).Format(gmailDate),
			"before:"+txn.Date.Add(window+24*time.Hour).Format(gmailDate))
	}
	return strings.Join(parts, " ")
}

// FormatAmount renders minor units as a fixed two-decimal string.
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func amountTerm(cents int64) string {
	if cents < 0 {
		cents = -cents
	}
	dot := FormatAmount(cents)
	comma := strings.Replace(dot, ".", ",", 1)
	return fmt.Sprintf("(%q OR %q)", dot, comma)
}

// quoteTerm keeps the significant words of a name as an exact phrase.
func quoteTerm(name string) string {
	glob := pattern.DerivePattern(name)
	words := strings.FieldsFunc(glob, func(r rune) bool { return r == '*' })
	if len(words) == 0 {
		return fmt.Sprintf("%q", strings.TrimSpace(name))
	}
	return fmt.Sprintf("%q", strings.Join(words, " "))
}
