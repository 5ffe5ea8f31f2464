// Package ofx extracts bank and credit card statements from OFX and QFX
// downloads.
package ofx

import (
	"context"
	"fmt"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/dedup"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/signature"
)

const version = "1.1.0"

// Plugin parses OFX 1.x (SGML) and 2.x (XML) statement responses. It is
// stateless and safe for concurrent use.
type Plugin struct {
	desc parser.Descriptor
	sig  *signature.Signature
}

var headerSignature = []string{`OFXHEADER || <OFX>`}

func newPlugin(name, suffix string) *Plugin {
	return &Plugin{
		desc: parser.Descriptor{
			Name:          name,
			Version:       version,
			Suffix:        suffix,
			Institution:   "Any OFX institution",
			StatementType: "checking",
			Signature:     headerSignature,
			Instructions:  "Download the statement period as \"Quicken\", \"Money\" or \"OFX\" from your bank's activity page.",
		},
		sig: signature.MustCompile(headerSignature...),
	}
}

// NewOFX returns the plugin for .ofx documents.
func NewOFX() *Plugin { return newPlugin("ofx", ".ofx") }

// NewQFX returns the plugin for .qfx documents.
func NewQFX() *Plugin { return newPlugin("qfx", ".qfx") }

// Descriptor implements parser.Plugin.
func (p *Plugin) Descriptor() parser.Descriptor { return p.desc }

// Match looks for an OFX header or root element.
func (p *Plugin) Match(doc *parser.Document) bool {
	if !strings.EqualFold(doc.Suffix, p.desc.Suffix) {
		return false
	}
	return p.sig.Match(string(doc.Header(4096)))
}

// Extract implements parser.Plugin. The closing balance is the ledger
// balance; the opening balance is derived from it and the transactions.
func (p *Plugin) Extract(ctx context.Context, doc *parser.Document) (*parser.DraftStatement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ofxgo.ParseResponse does not take a context.
	resp, err := ofxgo.ParseResponse(doc.Reader())
	if err != nil {
		return nil, parser.Errorf("failed to parse OFX file (%d bytes): %v", len(doc.Data), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch {
	case len(resp.CreditCard) > 0:
		return parseCreditCard(resp, doc.Meta)
	case len(resp.Bank) > 0:
		return parseBank(resp, doc.Meta)
	case len(resp.InvStmt) > 0:
		return nil, parser.Errorf("investment statements are not supported")
	}
	return nil, parser.Errorf("no supported statement type found in OFX file. Expected a credit card (CREDITCARDMSGSRSV1) or bank (BANKMSGSRSV1) statement")
}

func parseCreditCard(resp *ofxgo.Response, meta *parser.Metadata) (*parser.DraftStatement, error) {
	cc, ok := resp.CreditCard[0].(*ofxgo.CCStatementResponse)
	if !ok {
		return nil, parser.Errorf("expected *ofxgo.CCStatementResponse, got %T", resp.CreditCard[0])
	}
	account := draftAccount(resp, meta, cc.CCAcctFrom.AcctID.String(), "credit")
	return buildDraft(account, cc.CurDef, cc.BankTranList, &cc.BalAmt)
}

func parseBank(resp *ofxgo.Response, meta *parser.Metadata) (*parser.DraftStatement, error) {
	bank, ok := resp.Bank[0].(*ofxgo.StatementResponse)
	if !ok {
		return nil, parser.Errorf("expected *ofxgo.StatementResponse, got %T", resp.Bank[0])
	}
	accountType, err := mapBankAccountType(bank.BankAcctFrom)
	if err != nil {
		return nil, err
	}
	account := draftAccount(resp, meta, bank.BankAcctFrom.AcctID.String(), accountType)
	return buildDraft(account, bank.CurDef, bank.BankTranList, &bank.BalAmt)
}

// draftAccount prefers the institution directory name over the OFX ORG
// code, which is often an opaque identifier.
func draftAccount(resp *ofxgo.Response, meta *parser.Metadata, number, accountType string) parser.DraftAccount {
	institution := strings.TrimSpace(resp.Signon.Org.String())
	if meta != nil && meta.Institution() != "" {
		institution = meta.Institution()
	}
	return parser.DraftAccount{Institution: institution, Number: number, Type: accountType}
}

func buildDraft(account parser.DraftAccount, cur ofxgo.CurrSymbol, list *ofxgo.TransactionList, balance *ofxgo.Amount) (*parser.DraftStatement, error) {
	if account.Number == "" {
		return nil, parser.Errorf("missing account ID in statement")
	}
	if list == nil {
		return nil, parser.Errorf("missing transaction list in statement")
	}
	if list.DtStart.IsZero() || list.DtEnd.IsZero() {
		return nil, parser.Errorf("transaction list has no DTSTART/DTEND")
	}

	closing, err := amount(balance)
	if err != nil {
		return nil, parser.Errorf("invalid ledger balance: %v", err)
	}

	draft := &parser.DraftStatement{
		Account:        account,
		PeriodStart:    list.DtStart.Time,
		PeriodEnd:      list.DtEnd.Time,
		ClosingBalance: closing,
		Currency:       currencyCode(cur),
		Transactions:   make([]parser.DraftTransaction, 0, len(list.Transactions)),
	}

	sum := decimal.Zero
	seen := make(map[string]string) // transaction key -> FITID
	for i, txn := range list.Transactions {
		dt, err := extractTransaction(txn)
		if err != nil {
			return nil, parser.Errorf("transaction at index %d: %v", i, err)
		}
		// Identical entries with distinct FITIDs are separate transactions.
		key := dedup.TransactionKey(dt.Date, dt.Amount, dt.Description)
		fitID := txn.FiTID.String()
		if prev, ok := seen[key]; ok && prev != fitID {
			dt.LegitimateRepeat = true
		}
		seen[key] = fitID

		sum = sum.Add(dt.Amount)
		draft.Transactions = append(draft.Transactions, *dt)
	}
	draft.OpeningBalance = closing.Sub(sum)
	return draft, nil
}

func extractTransaction(txn ofxgo.Transaction) (*parser.DraftTransaction, error) {
	id := txn.FiTID.String()
	if id == "" {
		return nil, fmt.Errorf("transaction missing required FITID")
	}
	if txn.DtPosted.IsZero() {
		return nil, fmt.Errorf("transaction %s missing posted date", id)
	}

	description := strings.TrimSpace(txn.Name.String())
	if description == "" {
		description = strings.TrimSpace(txn.Memo.String())
	}
	if description == "" {
		return nil, fmt.Errorf("transaction %s missing both name and memo fields", id)
	}

	amt, err := amount(&txn.TrnAmt)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", id, err)
	}
	return parser.NewDraftTransaction(txn.DtPosted.Time, description, amt)
}

// amount converts an OFX amount exactly; OFX carries at most a few decimals.
func amount(a *ofxgo.Amount) (decimal.Decimal, error) {
	return decimal.NewFromString(a.FloatString(8))
}

// currencyCode returns the statement's CURDEF, or "" when absent.
func currencyCode(cur ofxgo.CurrSymbol) string {
	if cur.Unit == (currency.Unit{}) {
		return ""
	}
	return cur.Unit.String()
}

func mapBankAccountType(acct ofxgo.BankAcct) (string, error) {
	switch acct.AcctType {
	case ofxgo.AcctTypeChecking:
		return "checking", nil
	case ofxgo.AcctTypeSavings, ofxgo.AcctTypeMoneyMrkt, ofxgo.AcctTypeCD:
		return "savings", nil
	case ofxgo.AcctTypeCreditLine:
		return "credit", nil
	default:
		return "", parser.Errorf("unknown OFX account type %v for account %s", acct.AcctType, acct.AcctID.String())
	}
}
