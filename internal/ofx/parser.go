// Package ofx reads bank and credit card statements in OFX/QFX format and
// turns their entries into transactions ready for import.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/receipt-reconciler/internal/model"
)

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// Opening tags on their own line that lost their closing bracket.
	tagFixRegex = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// Parser implements OFX/QFX statement parsing.
type Parser struct{}

// NewParser creates a new OFX parser.
func NewParser() *Parser {
	return &Parser{}
}

// preprocess fixes formatting issues some banks ship.
func (p *Parser) preprocess(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

// Statement is the content of one account statement.
type Statement struct {
	AccountID    string
	Currency     string
	Transactions []model.Transaction
}

// ParseFile parses an OFX/QFX file into one statement per account. The
// returned transactions carry no id or owner yet.
func (p *Parser) ParseFile(ctx context.Context, reader io.Reader) ([]Statement, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocess(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var statements []Statement
	for _, msg := range resp.Bank {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			statements = append(statements, p.statement(string(stmt.BankAcctFrom.AcctID), stmt.CurDef.String(), stmt.BankTranList))
		}
	}
	for _, msg := range resp.CreditCard {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			statements = append(statements, p.statement(string(stmt.CCAcctFrom.AcctID), stmt.CurDef.String(), stmt.BankTranList))
		}
	}

	total := 0
	for _, s := range statements {
		total += len(s.Transactions)
	}
	slog.Info("Parsed OFX file",
		"statements", len(statements),
		"total_transactions", total)

	return statements, nil
}

func (p *Parser) statement(accountID, currency string, list *ofxgo.TransactionList) Statement {
	stmt := Statement{AccountID: accountID, Currency: currency}
	if list == nil {
		return stmt
	}
	for _, entry := range list.Transactions {
		stmt.Transactions = append(stmt.Transactions, p.convert(entry, accountID, currency))
	}
	return stmt
}

// convert maps one statement entry. Amounts keep their sign, negative for
// money leaving the account.
func (p *Parser) convert(entry ofxgo.Transaction, accountID, currency string) model.Transaction {
	if entry.Currency != nil {
		currency = entry.Currency.CurSym.String()
	}

	txn := model.Transaction{
		SourceID:  accountID,
		Date:      entry.DtPosted.Time,
		Amount:    toMinorUnits(entry.TrnAmt),
		Currency:  currency,
		Name:      strings.TrimSpace(string(entry.Name)),
		Partner:   p.extractPartner(entry),
		Reference: strings.TrimSpace(string(entry.Memo)),
	}
	if entry.BankAcctTo != nil {
		txn.PartnerIBAN = string(entry.BankAcctTo.AcctID)
	}
	if txn.Name == "" {
		txn.Name = entry.TrnType.String()
	}
	return txn
}

func toMinorUnits(amount ofxgo.Amount) int64 {
	return decimal.NewFromBigRat(&amount.Rat, 4).Shift(2).Round(0).IntPart()
}

var cardPrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"ACH DEBIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
	"KARTENZAHLUNG ",
	"LASTSCHRIFT ",
}

// extractPartner finds the counterparty as the bank printed it.
func (p *Parser) extractPartner(entry ofxgo.Transaction) string {
	if entry.Payee != nil && entry.Payee.Name != "" {
		return strings.TrimSpace(string(entry.Payee.Name))
	}

	name := string(entry.Name)
	if entry.Memo != "" && isGenericDescription(name) {
		name = string(entry.Memo)
	}
	name = strings.TrimSpace(name)

	for _, prefix := range cardPrefixes {
		if strings.HasPrefix(strings.ToUpper(name), prefix) {
			name = name[len(prefix):]
			break
		}
	}

	// Leading "MM/DD " posting dates.
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}
	return name
}

func isGenericDescription(name string) bool {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBIT", "CREDIT", "PURCHASE", "PAYMENT", "POS TRANSACTION", "CARD PURCHASE", "":
		return true
	}
	return false
}
