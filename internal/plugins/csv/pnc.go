// Package csv extracts PNC Bank checking statements exported as CSV.
package csv

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/signature"
)

const (
	pluginName = "pnc-csv"
	dateLayout = "2006/01/02"
)

var descriptor = parser.Descriptor{
	Name:          pluginName,
	Version:       "1.2.0",
	Suffix:        ".csv",
	Institution:   "PNC Bank",
	StatementType: "checking",
	// First line: account, start date, end date, opening, closing.
	Signature:    []string{`/^[^\n]*\d{4}\/\d{2}\/\d{2}[^\n]*\d{4}\/\d{2}\/\d{2}/`},
	Instructions: "Online Banking > Account Activity > Download > CSV, choosing a full statement period.",
}

var (
	sig         = signature.MustCompile(descriptor.Signature...)
	datePattern = regexp.MustCompile(`^\d{4}/\d{2}/\d{2}$`)
)

// Plugin parses PNC's statement CSV. The first row is the summary line:
//
//	AccountNumber, StartDate, EndDate, BeginningBalance, EndingBalance
//
// followed by one row per transaction:
//
//	Date, Amount, Description, Memo, Reference, Type
//
// Amounts are unsigned; Type DEBIT makes them outflows.
type Plugin struct{}

// New returns the PNC CSV plugin.
func New() *Plugin { return &Plugin{} }

// Descriptor implements parser.Plugin.
func (p *Plugin) Descriptor() parser.Descriptor { return descriptor }

// Match requires the five-field summary line with two YYYY/MM/DD dates.
func (p *Plugin) Match(doc *parser.Document) bool {
	if !strings.EqualFold(doc.Suffix, descriptor.Suffix) || !sig.Match(doc.SearchText()) {
		return false
	}
	records, err := rows(doc)
	if err != nil || len(records) == 0 {
		return false
	}
	summary := records[0]
	return len(summary) == 5 &&
		datePattern.MatchString(strings.TrimSpace(summary[1])) &&
		datePattern.MatchString(strings.TrimSpace(summary[2]))
}

// Extract implements parser.Plugin.
func (p *Plugin) Extract(ctx context.Context, doc *parser.Document) (*parser.DraftStatement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records, err := rows(doc)
	if err != nil {
		return nil, parser.Errorf("failed to read CSV content: %v", err)
	}
	if len(records) < 1 {
		return nil, parser.Errorf("CSV file is empty")
	}

	draft, err := parseSummaryLine(records[0])
	if err != nil {
		return nil, parser.Errorf("failed to parse summary line: %v", err)
	}

	for i, record := range records[1:] {
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}
		txn, err := parseTransactionRow(record)
		if err != nil {
			return nil, parser.Errorf("failed to parse transaction at row %d: %v", i+2, err)
		}
		draft.Transactions = append(draft.Transactions, *txn)
	}
	return draft, nil
}

// rows returns the decoded rows, reading the raw bytes when the document
// wasn't decoded.
func rows(doc *parser.Document) ([][]string, error) {
	if len(doc.Rows) > 0 {
		return doc.Rows, nil
	}
	r := csv.NewReader(bytes.NewReader(doc.Data))
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

func parseSummaryLine(record []string) (*parser.DraftStatement, error) {
	if len(record) != 5 {
		return nil, fmt.Errorf("summary line must have 5 fields, got %d", len(record))
	}

	number := strings.TrimSpace(record[0])
	if number == "" {
		return nil, fmt.Errorf("account number cannot be empty")
	}
	start, err := time.Parse(dateLayout, strings.TrimSpace(record[1]))
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", record[1], err)
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(record[2]))
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", record[2], err)
	}
	period, err := parser.NewPeriod(start, end)
	if err != nil {
		return nil, err
	}
	opening, err := parser.ParseAmount(record[3])
	if err != nil {
		return nil, fmt.Errorf("beginning balance: %w", err)
	}
	closing, err := parser.ParseAmount(record[4])
	if err != nil {
		return nil, fmt.Errorf("ending balance: %w", err)
	}

	draft := &parser.DraftStatement{
		Account: parser.DraftAccount{
			Institution: descriptor.Institution,
			Number:      number,
			Type:        descriptor.StatementType,
		},
		OpeningBalance: opening,
		ClosingBalance: closing,
		Currency:       "USD",
	}
	draft.SetPeriod(period)
	return draft, nil
}

func parseTransactionRow(record []string) (*parser.DraftTransaction, error) {
	if len(record) != 6 {
		return nil, fmt.Errorf("transaction row must have 6 fields, got %d", len(record))
	}

	dateStr := strings.TrimSpace(record[0])
	date, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction date %q: %w", dateStr, err)
	}

	amount, err := parser.ParseAmount(record[1])
	if err != nil {
		return nil, err
	}

	// DEBIT = negative (money out), CREDIT = positive (money in)
	if strings.EqualFold(strings.TrimSpace(record[5]), "DEBIT") && amount.IsPositive() {
		amount = amount.Neg()
	}

	description := strings.TrimSpace(record[2])
	if description == "" {
		description = strings.TrimSpace(record[3])
	}
	return parser.NewDraftTransaction(date, description, amount)
}
