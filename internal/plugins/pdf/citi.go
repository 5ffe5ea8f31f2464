// Package pdf extracts Citi credit card statements from the text lines of
// the statement PDF.
package pdf

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/signature"
)

const (
	pluginName   = "citi-cc-pdf"
	headerLayout = "01/02/06"

	// maxContinuation bounds how many lines a wrapped description may span.
	maxContinuation = 3
)

var descriptor = parser.Descriptor{
	Name:          pluginName,
	Version:       "0.2.0",
	Suffix:        ".pdf",
	Institution:   "Citibank",
	StatementType: "credit",
	Signature:     []string{`www.citicards.com`, `"billing period"`},
	Instructions: "Log in at citi.com and open the account. Click 'View Statements', then 'View All Statements', " +
		"select the year and click 'Download' next to the statement date.",
}

var (
	sig = signature.MustCompile(descriptor.Signature...)

	billingPeriod = regexp.MustCompile(`Billing Period:\s{0,4}(\d{2}/\d{2}/\d{2})\s*-\s*(\d{2}/\d{2}/\d{2})`)
	accountNumber = regexp.MustCompile(`Account number ending in:?\s*(\d{4})`)
	leadingDate   = regexp.MustCompile(`^(\d{2}/\d{2})\s+(?:(\d{2}/\d{2})\s+)?(.*)$`)
	trailingAmt   = regexp.MustCompile(`^(.*?)\s*(-?\$\d{1,3}(?:,\d{3})*\.\d{2})$`)
)

// Plugin parses the Citi card statement. Balances and amounts are printed
// from the card holder's perspective: charges and the amount owed are
// positive. The ledger records what is owed as a negative balance, so every
// figure is negated.
type Plugin struct{}

// New returns the Citi credit card plugin.
func New() *Plugin { return &Plugin{} }

// Descriptor implements parser.Plugin.
func (p *Plugin) Descriptor() parser.Descriptor { return descriptor }

// Match implements parser.Plugin.
func (p *Plugin) Match(doc *parser.Document) bool {
	return strings.EqualFold(doc.Suffix, descriptor.Suffix) && sig.Match(doc.SearchText())
}

// Extract implements parser.Plugin.
func (p *Plugin) Extract(ctx context.Context, doc *parser.Document) (*parser.DraftStatement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lines := doc.Lines()
	if len(lines) == 0 {
		return nil, parser.Errorf("no text lines extracted from the PDF")
	}
	text := doc.SearchText()

	period, err := statementPeriod(text)
	if err != nil {
		return nil, parser.Errorf("failed to parse statement dates: %v", err)
	}
	m := accountNumber.FindStringSubmatch(text)
	if m == nil {
		return nil, parser.Errorf("failed to extract account number")
	}

	draft := &parser.DraftStatement{
		Account: parser.DraftAccount{
			Institution: descriptor.Institution,
			Number:      m[1],
			Type:        descriptor.StatementType,
		},
		Currency: "USD",
	}
	draft.SetPeriod(period)

	if draft.OpeningBalance, err = balance(lines, "Previous balance"); err != nil {
		return nil, parser.Errorf("account %s: %v", m[1], err)
	}
	if draft.ClosingBalance, err = balance(lines, "New balance"); err != nil {
		return nil, parser.Errorf("account %s: %v", m[1], err)
	}

	for i := 0; i < len(lines); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dm := leadingDate.FindStringSubmatch(lines[i])
		if dm == nil {
			continue
		}
		date, err := absoluteDate(dm[1], period)
		if err != nil {
			return nil, parser.Errorf("line %d: %v", i+1, err)
		}

		desc, amt, consumed := transactionBody(dm[3], lines[i+1:])
		i += consumed
		if amt == "" {
			continue
		}
		amount, err := parser.ParseAmount(amt)
		if err != nil {
			return nil, parser.Errorf("line %d: %v", i+1, err)
		}
		txn, err := parser.NewDraftTransaction(date, desc, amount.Neg())
		if err != nil {
			return nil, parser.Errorf("line %d: %v", i+1, err)
		}
		draft.Transactions = append(draft.Transactions, *txn)
	}
	return draft, nil
}

func statementPeriod(text string) (*parser.Period, error) {
	m := billingPeriod.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("billing period not found")
	}
	start, err := time.Parse(headerLayout, m[1])
	if err != nil {
		return nil, err
	}
	end, err := time.Parse(headerLayout, m[2])
	if err != nil {
		return nil, err
	}
	return parser.NewPeriod(start, end)
}

// balance finds the first line starting with label and reads its last field.
func balance(lines []string, label string) (decimal.Decimal, error) {
	for _, line := range lines {
		if !strings.HasPrefix(line, label) {
			continue
		}
		fields := strings.Fields(line)
		v, err := parser.ParseAmount(fields[len(fields)-1])
		if err != nil {
			return decimal.Zero, fmt.Errorf("%s: %w", strings.ToLower(label), err)
		}
		return v.Neg(), nil
	}
	return decimal.Zero, fmt.Errorf("%s not found", strings.ToLower(label))
}

// transactionBody joins a description wrapped over continuation lines until
// one ends in an amount. It returns the number of continuation lines used.
// A new dated line ends the transaction without an amount.
func transactionBody(first string, rest []string) (desc, amount string, consumed int) {
	parts := []string{}
	line := first
	for {
		if m := trailingAmt.FindStringSubmatch(line); m != nil {
			parts = append(parts, m[1])
			return strings.Join(strings.Fields(strings.Join(parts, " ")), " "), m[2], consumed
		}
		parts = append(parts, line)
		if consumed >= len(rest) || consumed >= maxContinuation || leadingDate.MatchString(rest[consumed]) {
			return "", "", consumed
		}
		line = rest[consumed]
		consumed++
	}
}

// absoluteDate places an MM/DD date inside the statement period. Periods
// spanning New Year take the year from whichever end keeps the date in range.
func absoluteDate(mmdd string, period *parser.Period) (time.Time, error) {
	for _, year := range []int{period.End().Year(), period.Start().Year()} {
		t, err := time.Parse("01/02/2006", fmt.Sprintf("%s/%d", mmdd, year))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid transaction date %q: %w", mmdd, err)
		}
		if !t.After(period.End()) {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("transaction date %s falls after the billing period", mmdd)
}
