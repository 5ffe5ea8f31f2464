// Package domain defines the canonical ledger records produced by ingestion:
// accounts, statements and transactions.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar representation used for every date in the ledger.
const DateLayout = "2006-01-02"

// AccountType represents the account type enum.
// Use ValidateAccountType to ensure validity before use.
type AccountType string

const (
	AccountTypeChecking   AccountType = "checking"
	AccountTypeSavings    AccountType = "savings"
	AccountTypeCredit     AccountType = "credit"
	AccountTypeBrokerage  AccountType = "brokerage"
	AccountTypeRetirement AccountType = "retirement"
)

var validAccountTypes = map[AccountType]struct{}{
	AccountTypeChecking: {}, AccountTypeSavings: {}, AccountTypeCredit: {},
	AccountTypeBrokerage: {}, AccountTypeRetirement: {},
}

// accountTypeAliases maps the labels institutions and plugins commonly use.
var accountTypeAliases = map[string]AccountType{
	"checking":     AccountTypeChecking,
	"chequing":     AccountTypeChecking,
	"savings":      AccountTypeSavings,
	"money market": AccountTypeSavings,
	"credit":       AccountTypeCredit,
	"credit card":  AccountTypeCredit,
	"creditcard":   AccountTypeCredit,
	"brokerage":    AccountTypeBrokerage,
	"investment":   AccountTypeBrokerage,
	"retirement":   AccountTypeRetirement,
	"ira":          AccountTypeRetirement,
	"roth ira":     AccountTypeRetirement,
	"401k":         AccountTypeRetirement,
}

// ValidateAccountType checks if an account type is valid
func ValidateAccountType(t AccountType) bool {
	_, ok := validAccountTypes[t]
	return ok
}

// ParseAccountType resolves a free-form account type label.
func ParseAccountType(label string) (AccountType, error) {
	key := strings.ToLower(strings.TrimSpace(label))
	if t, ok := accountTypeAliases[key]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown account type %q", label)
}

// StatementStatus tracks whether a statement is the current version for its period.
type StatementStatus string

const (
	StatusActive     StatementStatus = "active"
	StatusSuperseded StatementStatus = "superseded"
)

// ErrAlreadyExists is returned by stores when a record with the same identity exists.
var ErrAlreadyExists = errors.New("already exists")

// Account identifies a financial account. Identifying fields are fixed once created.
type Account struct {
	ID              string      `json:"id"`
	Institution     string      `json:"institution"`
	InstitutionSlug string      `json:"institutionSlug"`
	Type            AccountType `json:"type"`
	MaskedNumber    string      `json:"maskedNumber"`
}

// NewAccount creates a validated Account.
func NewAccount(id, institution, slug string, accountType AccountType, masked string) (*Account, error) {
	if id == "" {
		return nil, fmt.Errorf("account ID cannot be empty")
	}
	if institution == "" || slug == "" {
		return nil, fmt.Errorf("account %s: institution cannot be empty", id)
	}
	if !ValidateAccountType(accountType) {
		return nil, fmt.Errorf("account %s: invalid account type %q", id, accountType)
	}
	if masked == "" {
		return nil, fmt.Errorf("account %s: masked number cannot be empty", id)
	}
	return &Account{
		ID:              id,
		Institution:     institution,
		InstitutionSlug: slug,
		Type:            accountType,
		MaskedNumber:    masked,
	}, nil
}

// Transaction is a single ledger entry owned by exactly one statement.
type Transaction struct {
	ID          string    `json:"id"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	// Sign convention:
	//   Positive = inflow (deposits, card payments)
	//   Negative = outflow (withdrawals, card charges)
	Amount decimal.Decimal `json:"amount"`
	// Category is populated out-of-band by the categorization collaborator.
	Category *string `json:"category"`

	LegitimateRepeat   bool   `json:"legitimateRepeat,omitempty"`
	SuspectedDuplicate bool   `json:"suspectedDuplicate,omitempty"`
	DuplicateOf        string `json:"duplicateOf,omitempty"`
}

// ChainBreak records a failed balance-chain check against a predecessor statement.
type ChainBreak struct {
	PreviousID string          `json:"previousId"`
	Expected   decimal.Decimal `json:"expected"`
	Actual     decimal.Decimal `json:"actual"`
}

// Statement is one extraction result for one account over one period.
type Statement struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"accountId"`
	PeriodStart    time.Time       `json:"periodStart"`
	PeriodEnd      time.Time       `json:"periodEnd"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	ClosingBalance decimal.Decimal `json:"closingBalance"`
	Currency       string          `json:"currency"`
	Transactions   []Transaction   `json:"transactions"`

	Fingerprint   string `json:"fingerprint"`
	ContentDigest string `json:"contentDigest"`
	SourceName    string `json:"sourceName"`
	PluginName    string `json:"pluginName"`
	PluginVersion string `json:"pluginVersion"`

	Status     StatementStatus `json:"status"`
	Supersedes []string        `json:"supersedes,omitempty"`
	Reconciled bool            `json:"reconciled"`
	ChainBreak *ChainBreak     `json:"chainBreak,omitempty"`
	ImportedAt time.Time       `json:"importedAt"`
}

// Sum returns the total of all transaction amounts.
func (s *Statement) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, txn := range s.Transactions {
		total = total.Add(txn.Amount)
	}
	return total
}

// ExpectedClosing is the opening balance plus the transaction total.
func (s *Statement) ExpectedClosing() decimal.Decimal {
	return s.OpeningBalance.Add(s.Sum())
}

// Discrepancy is the declared closing balance minus the expected closing balance.
func (s *Statement) Discrepancy() decimal.Decimal {
	return s.ClosingBalance.Sub(s.ExpectedClosing())
}

// Contains reports whether date falls inside the statement period, inclusive.
func (s *Statement) Contains(date time.Time) bool {
	return !date.Before(s.PeriodStart) && !date.After(s.PeriodEnd)
}

// Overlaps reports whether the two statement periods share at least one day.
func (s *Statement) Overlaps(other *Statement) bool {
	return !s.PeriodStart.After(other.PeriodEnd) && !other.PeriodStart.After(s.PeriodEnd)
}

// Adjacent reports whether one period starts the day after the other ends.
func (s *Statement) Adjacent(other *Statement) bool {
	return s.PeriodEnd.AddDate(0, 0, 1).Equal(other.PeriodStart) ||
		other.PeriodEnd.AddDate(0, 0, 1).Equal(s.PeriodStart)
}

// Active reports whether the statement is the current version for its period.
func (s *Statement) Active() bool {
	return s.Status == StatusActive
}

// SuspectedDuplicates returns the number of flagged transactions.
func (s *Statement) SuspectedDuplicates() int {
	n := 0
	for _, txn := range s.Transactions {
		if txn.SuspectedDuplicate {
			n++
		}
	}
	return n
}

// NeedsReview reports whether a human should look at the statement.
func (s *Statement) NeedsReview() bool {
	return !s.Reconciled || s.SuspectedDuplicates() > 0
}

// Clone returns a deep copy so callers can't mutate shared ledger state.
func (s *Statement) Clone() *Statement {
	c := *s
	c.Transactions = make([]Transaction, len(s.Transactions))
	copy(c.Transactions, s.Transactions)
	for i := range c.Transactions {
		if cat := s.Transactions[i].Category; cat != nil {
			v := *cat
			c.Transactions[i].Category = &v
		}
	}
	if s.Supersedes != nil {
		c.Supersedes = append([]string(nil), s.Supersedes...)
	}
	if s.ChainBreak != nil {
		cb := *s.ChainBreak
		c.ChainBreak = &cb
	}
	return &c
}

// CivilDate truncates t to midnight UTC of its calendar day.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date into a civil date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate renders a civil date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
