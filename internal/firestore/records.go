package firestore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
)

// Amounts are stored as decimal strings and dates as YYYY-MM-DD so nothing
// passes through float64.

// Account represents a ledger account in Firestore
type Account struct {
	ID              string    `firestore:"id"`
	Institution     string    `firestore:"institution"`
	InstitutionSlug string    `firestore:"institutionSlug"`
	Type            string    `firestore:"type"`
	MaskedNumber    string    `firestore:"maskedNumber"`
	CreatedAt       time.Time `firestore:"createdAt"`
}

// ChainBreak is the stored form of domain.ChainBreak.
type ChainBreak struct {
	PreviousID string `firestore:"previousId"`
	Expected   string `firestore:"expected"`
	Actual     string `firestore:"actual"`
}

// Statement represents a statement in Firestore. Its transactions are
// separate documents.
type Statement struct {
	ID             string      `firestore:"id"`
	AccountID      string      `firestore:"accountId"`
	PeriodStart    string      `firestore:"periodStart"`
	PeriodEnd      string      `firestore:"periodEnd"`
	OpeningBalance string      `firestore:"openingBalance"`
	ClosingBalance string      `firestore:"closingBalance"`
	Currency       string      `firestore:"currency"`
	Fingerprint    string      `firestore:"fingerprint"`
	ContentDigest  string      `firestore:"contentDigest"`
	SourceName     string      `firestore:"sourceName"`
	PluginName     string      `firestore:"pluginName"`
	PluginVersion  string      `firestore:"pluginVersion"`
	Status         string      `firestore:"status"`
	Supersedes     []string    `firestore:"supersedes"`
	Reconciled     bool        `firestore:"reconciled"`
	ChainBreak     *ChainBreak `firestore:"chainBreak,omitempty"`
	HasDuplicates  bool        `firestore:"hasDuplicates"`
	ImportedAt     time.Time   `firestore:"importedAt"`
}

// Transaction represents a ledger transaction in Firestore
type Transaction struct {
	ID                 string  `firestore:"id"`
	StatementID        string  `firestore:"statementId"`
	AccountID          string  `firestore:"accountId"`
	Position           int     `firestore:"position"`
	Date               string  `firestore:"date"`
	Description        string  `firestore:"description"`
	Amount             string  `firestore:"amount"`
	Category           *string `firestore:"category"`
	LegitimateRepeat   bool    `firestore:"legitimateRepeat"`
	SuspectedDuplicate bool    `firestore:"suspectedDuplicate"`
	DuplicateOf        string  `firestore:"duplicateOf"`
}

// Validate checks if the Transaction has valid data
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("transaction ID is required")
	}
	if t.StatementID == "" {
		return fmt.Errorf("transaction %s: statement ID is required", t.ID)
	}
	if _, err := time.Parse(domain.DateLayout, t.Date); err != nil {
		return fmt.Errorf("invalid date format (expected YYYY-MM-DD): %w", err)
	}
	if _, err := decimal.NewFromString(t.Amount); err != nil {
		return fmt.Errorf("transaction %s: invalid amount %q: %w", t.ID, t.Amount, err)
	}
	return nil
}

func accountRecord(a *domain.Account, now time.Time) *Account {
	return &Account{
		ID:              a.ID,
		Institution:     a.Institution,
		InstitutionSlug: a.InstitutionSlug,
		Type:            string(a.Type),
		MaskedNumber:    a.MaskedNumber,
		CreatedAt:       now,
	}
}

func statementRecord(s *domain.Statement) *Statement {
	rec := &Statement{
		ID:             s.ID,
		AccountID:      s.AccountID,
		PeriodStart:    domain.FormatDate(s.PeriodStart),
		PeriodEnd:      domain.FormatDate(s.PeriodEnd),
		OpeningBalance: s.OpeningBalance.String(),
		ClosingBalance: s.ClosingBalance.String(),
		Currency:       s.Currency,
		Fingerprint:    s.Fingerprint,
		ContentDigest:  s.ContentDigest,
		SourceName:     s.SourceName,
		PluginName:     s.PluginName,
		PluginVersion:  s.PluginVersion,
		Status:         string(domain.StatusActive),
		Supersedes:     append([]string{}, s.Supersedes...),
		Reconciled:     s.Reconciled,
		HasDuplicates:  s.SuspectedDuplicates() > 0,
		ImportedAt:     s.ImportedAt,
	}
	if cb := s.ChainBreak; cb != nil {
		rec.ChainBreak = &ChainBreak{PreviousID: cb.PreviousID, Expected: cb.Expected.String(), Actual: cb.Actual.String()}
	}
	return rec
}

func transactionRecord(s *domain.Statement, pos int) *Transaction {
	t := s.Transactions[pos]
	rec := &Transaction{
		ID:                 t.ID,
		StatementID:        s.ID,
		AccountID:          s.AccountID,
		Position:           pos,
		Date:               domain.FormatDate(t.Date),
		Description:        t.Description,
		Amount:             t.Amount.String(),
		LegitimateRepeat:   t.LegitimateRepeat,
		SuspectedDuplicate: t.SuspectedDuplicate,
		DuplicateOf:        t.DuplicateOf,
	}
	if t.Category != nil {
		c := *t.Category
		rec.Category = &c
	}
	return rec
}

func (rec *Statement) toDomain() (*domain.Statement, error) {
	var err error
	s := &domain.Statement{
		ID:            rec.ID,
		AccountID:     rec.AccountID,
		Currency:      rec.Currency,
		Fingerprint:   rec.Fingerprint,
		ContentDigest: rec.ContentDigest,
		SourceName:    rec.SourceName,
		PluginName:    rec.PluginName,
		PluginVersion: rec.PluginVersion,
		Status:        domain.StatementStatus(rec.Status),
		Reconciled:    rec.Reconciled,
		ImportedAt:    rec.ImportedAt,
		Transactions:  []domain.Transaction{},
	}
	if len(rec.Supersedes) > 0 {
		s.Supersedes = append([]string(nil), rec.Supersedes...)
	}
	if s.PeriodStart, err = domain.ParseDate(rec.PeriodStart); err != nil {
		return nil, err
	}
	if s.PeriodEnd, err = domain.ParseDate(rec.PeriodEnd); err != nil {
		return nil, err
	}
	if s.OpeningBalance, err = decimal.NewFromString(rec.OpeningBalance); err != nil {
		return nil, fmt.Errorf("statement %s opening balance: %w", rec.ID, err)
	}
	if s.ClosingBalance, err = decimal.NewFromString(rec.ClosingBalance); err != nil {
		return nil, fmt.Errorf("statement %s closing balance: %w", rec.ID, err)
	}
	if cb := rec.ChainBreak; cb != nil {
		out := &domain.ChainBreak{PreviousID: cb.PreviousID}
		if out.Expected, err = decimal.NewFromString(cb.Expected); err != nil {
			return nil, err
		}
		if out.Actual, err = decimal.NewFromString(cb.Actual); err != nil {
			return nil, err
		}
		s.ChainBreak = out
	}
	return s, nil
}

func (rec *Transaction) toDomain() (domain.Transaction, error) {
	if err := rec.Validate(); err != nil {
		return domain.Transaction{}, err
	}
	date, _ := domain.ParseDate(rec.Date)
	amount, _ := decimal.NewFromString(rec.Amount)
	t := domain.Transaction{
		ID:                 rec.ID,
		Date:               date,
		Description:        rec.Description,
		Amount:             amount,
		LegitimateRepeat:   rec.LegitimateRepeat,
		SuspectedDuplicate: rec.SuspectedDuplicate,
		DuplicateOf:        rec.DuplicateOf,
	}
	if rec.Category != nil {
		c := *rec.Category
		t.Category = &c
	}
	return t, nil
}
