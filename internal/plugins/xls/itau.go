// Package xls extracts Itaú checking account statements ("extrato")
// exported as legacy Excel workbooks.
package xls

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/signature"
)

const (
	pluginName = "itau-extrato-xls"
	dateLayout = "02/01/2006"

	markerRow       = "lançamentos"
	headerRow       = "data"
	openingRow      = "saldo anterior"
	dailyBalanceRow = "saldo total dispon"
)

// Column layout of the transaction section.
const (
	colDate = iota
	colDescription
	colOrigin
	colAmount
	colBalance
)

var descriptor = parser.Descriptor{
	Name:          pluginName,
	Version:       "1.0.0",
	Suffix:        ".xls",
	Institution:   "Itaú",
	StatementType: "checking",
	Signature:     []string{`lançamentos && "saldo anterior"`},
	Instructions:  "Conta corrente > Extrato > selecione o período > Salvar em Excel.",
}

var sig = signature.MustCompile(descriptor.Signature...)

// Plugin parses the Itaú extrato sheet. Rows above the "lançamentos" marker
// carry the account header; below it each row is
//
//	data, lançamento, ag./origem, valor (R$), saldos (R$)
//
// with Brazilian number formatting. "SALDO ANTERIOR" opens the statement
// and "SALDO TOTAL DISPONÍVEL DIA" rows report the end-of-day balance.
type Plugin struct{}

// New returns the Itaú extrato plugin.
func New() *Plugin { return &Plugin{} }

// Descriptor implements parser.Plugin.
func (p *Plugin) Descriptor() parser.Descriptor { return descriptor }

// Match implements parser.Plugin.
func (p *Plugin) Match(doc *parser.Document) bool {
	if !strings.EqualFold(doc.Suffix, descriptor.Suffix) || !sig.Match(doc.SearchText()) {
		return false
	}
	for _, row := range doc.Rows {
		if len(row) > 0 && normalize(row[0]) == markerRow {
			return true
		}
	}
	return false
}

// Extract implements parser.Plugin.
func (p *Plugin) Extract(ctx context.Context, doc *parser.Document) (*parser.DraftStatement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(doc.Rows) == 0 {
		return nil, parser.Errorf("no rows decoded from workbook")
	}

	draft := &parser.DraftStatement{
		Account: parser.DraftAccount{
			Institution: descriptor.Institution,
			Type:        descriptor.StatementType,
		},
		Currency: "BRL",
	}

	var (
		inSection  bool
		hasOpening bool
		closing    *decimal.Decimal
		start, end time.Time
	)
	for i, row := range doc.Rows {
		if len(row) == 0 {
			continue
		}
		first := normalize(row[0])

		if !inSection {
			if first == markerRow {
				inSection = true
				continue
			}
			parseHeaderRow(row, &draft.Account)
			continue
		}
		if first == "" || first == headerRow || len(row) <= colAmount {
			continue
		}

		date, err := time.Parse(dateLayout, strings.TrimSpace(row[colDate]))
		if err != nil {
			// Footer notes share the section.
			continue
		}
		if start.IsZero() || date.Before(start) {
			start = date
		}
		if date.After(end) {
			end = date
		}

		label := normalize(cell(row, colDescription))
		switch {
		case label == openingRow:
			bal, err := balanceCell(row)
			if err != nil {
				return nil, parser.Errorf("row %d: opening balance: %v", i+1, err)
			}
			draft.OpeningBalance = bal
			hasOpening = true
			continue
		case strings.HasPrefix(label, dailyBalanceRow):
			bal, err := balanceCell(row)
			if err != nil {
				return nil, parser.Errorf("row %d: daily balance: %v", i+1, err)
			}
			closing = &bal
			continue
		}

		amount, err := ParseBRL(row[colAmount])
		if err != nil {
			return nil, parser.Errorf("row %d: %v", i+1, err)
		}
		txn, err := parser.NewDraftTransaction(date, strings.TrimSpace(row[colDescription]), amount)
		if err != nil {
			return nil, parser.Errorf("row %d: %v", i+1, err)
		}
		draft.Transactions = append(draft.Transactions, *txn)
	}

	if !inSection {
		return nil, parser.Errorf("transaction section %q not found", markerRow)
	}
	if !hasOpening {
		return nil, parser.Errorf("no SALDO ANTERIOR row found")
	}
	if draft.Account.Number == "" && doc.Meta != nil {
		draft.Account.Number = doc.Meta.AccountNumber()
	}

	period, err := parser.NewPeriod(start, end)
	if err != nil {
		return nil, parser.Errorf("statement period: %v", err)
	}
	draft.SetPeriod(period)

	if closing != nil {
		draft.ClosingBalance = *closing
	} else {
		draft.ClosingBalance = draft.OpeningBalance
		for _, txn := range draft.Transactions {
			draft.ClosingBalance = draft.ClosingBalance.Add(txn.Amount)
		}
	}
	return draft, nil
}

// parseHeaderRow picks the account number out of the "agência" and "conta"
// rows above the transaction section.
func parseHeaderRow(row []string, account *parser.DraftAccount) {
	if len(row) < 2 {
		return
	}
	label := strings.TrimSuffix(normalize(row[0]), ":")
	value := strings.TrimSpace(row[1])
	switch label {
	case "conta", "conta corrente":
		if value != "" {
			if account.Number != "" {
				account.Number = account.Number + "/" + value
			} else {
				account.Number = value
			}
		}
	case "agência", "agencia":
		if value != "" {
			if account.Number != "" {
				account.Number = value + "/" + account.Number
			} else {
				account.Number = value
			}
		}
	}
}

// balanceCell reads the balance column, falling back to the amount column
// for exports that put the saldo there.
func balanceCell(row []string) (decimal.Decimal, error) {
	if v := strings.TrimSpace(cell(row, colBalance)); v != "" {
		return ParseBRL(v)
	}
	return ParseBRL(cell(row, colAmount))
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ParseBRL parses an amount in Brazilian notation ("-1.234,56", "R$ 10,00").
// Values without a comma are read as plain decimals, which is how numeric
// cells come out of the workbook reader.
func ParseBRL(s string) (decimal.Decimal, error) {
	clean := strings.TrimSpace(s)
	clean = strings.TrimSpace(strings.TrimPrefix(clean, "R$"))
	clean = strings.ReplaceAll(clean, " ", "")
	if strings.Contains(clean, ",") {
		clean = strings.ReplaceAll(clean, ".", "")
		clean = strings.ReplaceAll(clean, ",", ".")
	}
	if clean == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}
