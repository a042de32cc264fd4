package mail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/testutil"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		want  string
		cents int64
	}{
		{"49.99", 4999},
		{"0.05", 5},
		{"-12.00", -1200},
		{"1234567.89", 123456789},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatAmount(tt.cents))
	}
}

func TestPartnerDomains(t *testing.T) {
	p := testutil.NewPartner("P1", "Hetzner")
	p.EmailSearchPatterns = []model.LearnedPattern{
		{Pattern: "*hetzner.de*", Confidence: 75},
		{Pattern: "*hetzner.com*", Confidence: 90},
		{Pattern: "*billing*hetzner*", Confidence: 95},
	}
	p.InvoiceSources = []model.InvoiceSource{{Domain: "hetzner.com"}, {Domain: "konsoleh.de"}}

	assert.Equal(t, []string{"hetzner.com", "hetzner.de", "konsoleh.de"}, PartnerDomains(p))
}

func TestSyncQuery(t *testing.T) {
	since := time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "from:(hetzner.com OR telekom.de) has:attachment after:2024/02/14",
		SyncQuery([]string{"hetzner.com", "telekom.de"}, since))
	assert.Equal(t, "(invoice OR rechnung OR receipt OR quittung OR beleg) has:attachment",
		SyncQuery(nil, time.Time{}))
}

func TestTransactionQuery(t *testing.T) {
	txn := testutil.NewTransaction("T1", "EDEKA Center Mueller")
	window := 7 * 24 * time.Hour

	withDomain := testutil.NewPartner("P1", "Edeka")
	withDomain.EmailSearchPatterns = []model.LearnedPattern{{Pattern: "*edeka.de*", Confidence: 80}}

	tests := []struct {
		partner *model.Partner
		name    string
		want    string
	}{
		{
			name:    "learned sender",
			partner: withDomain,
			want:    `from:(edeka.de) ("49.99" OR "49,99") after:2024/03/08 before:2024/03/23`,
		},
		{
			name:    "partner name",
			partner: testutil.NewPartner("P2", "Edeka Zentrale"),
			want:    `"edeka zentrale" ("49.99" OR "49,99") after:2024/03/08 before:2024/03/23`,
		},
		{
			name: "bank counterparty",
			want: `"edeka center mueller" ("49.99" OR "49,99") after:2024/03/08 before:2024/03/23`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TransactionQuery(txn, tt.partner, window))
		})
	}
}

func TestSenderDomain(t *testing.T) {
	assert.Equal(t, "hetzner.com", senderDomain("Hetzner Online <Billing@Hetzner.COM>"))
	assert.Equal(t, "example.org", senderDomain("noreply@example.org"))
	assert.Empty(t, senderDomain("undisclosed"))
}
