package transform

import (
	"fmt"
	"strings"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
)

// Source describes where a draft came from. Descriptor and Meta fill in
// account fields the document itself doesn't carry.
type Source struct {
	Descriptor      parser.Descriptor
	DocumentName    string
	Meta            *parser.Metadata
	DefaultCurrency string
}

// Normalize converts a draft into canonical shapes: amounts rounded to the
// currency's minor unit, dates truncated to UTC calendar days, descriptions
// whitespace-collapsed. It does not check invariants; that is the validator's
// job. ID and Fingerprint are left for the caller.
func Normalize(draft *parser.DraftStatement, src Source) (*domain.Statement, *domain.Account, error) {
	if draft == nil {
		return nil, nil, fmt.Errorf("draft statement cannot be nil")
	}

	currency, err := normalizeCurrency(draft.Currency, src.DefaultCurrency)
	if err != nil {
		return nil, nil, err
	}

	account, err := normalizeAccount(&draft.Account, src)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to normalize account: %w", err)
	}

	if draft.PeriodStart.IsZero() || draft.PeriodEnd.IsZero() {
		return nil, nil, fmt.Errorf("statement period is incomplete")
	}

	opening, err := domain.RoundMinor(draft.OpeningBalance, currency)
	if err != nil {
		return nil, nil, err
	}
	closing, err := domain.RoundMinor(draft.ClosingBalance, currency)
	if err != nil {
		return nil, nil, err
	}

	stmt := &domain.Statement{
		AccountID:      account.ID,
		PeriodStart:    domain.CivilDate(draft.PeriodStart),
		PeriodEnd:      domain.CivilDate(draft.PeriodEnd),
		OpeningBalance: opening,
		ClosingBalance: closing,
		Currency:       currency,
		Transactions:   make([]domain.Transaction, 0, len(draft.Transactions)),
		SourceName:     src.DocumentName,
		PluginName:     src.Descriptor.Name,
		PluginVersion:  src.Descriptor.Version,
		Status:         domain.StatusActive,
	}

	for i, raw := range draft.Transactions {
		if raw.Date.IsZero() {
			return nil, nil, fmt.Errorf("transaction %d: date cannot be zero", i)
		}
		amount, err := domain.RoundMinor(raw.Amount, currency)
		if err != nil {
			return nil, nil, err
		}
		stmt.Transactions = append(stmt.Transactions, domain.Transaction{
			Date:             domain.CivilDate(raw.Date),
			Description:      NormalizeDescription(raw.Description),
			Amount:           amount,
			LegitimateRepeat: raw.LegitimateRepeat,
		})
	}

	return stmt, account, nil
}

func normalizeCurrency(code, fallback string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if c == "" {
		c = strings.ToUpper(strings.TrimSpace(fallback))
	}
	if c == "" {
		c = domain.DefaultCurrency
	}
	if _, err := domain.MinorUnits(c); err != nil {
		return "", err
	}
	return c, nil
}

func normalizeAccount(raw *parser.DraftAccount, src Source) (*domain.Account, error) {
	institution := strings.TrimSpace(raw.Institution)
	if institution == "" {
		institution = src.Descriptor.Institution
	}
	slug, err := SlugifyInstitution(institution)
	if err != nil {
		return nil, err
	}

	number := CleanAccountNumber(raw.Number)
	if number == "" && src.Meta != nil {
		number = CleanAccountNumber(src.Meta.AccountNumber())
	}
	if number == "" {
		return nil, fmt.Errorf("account number not found in document or path")
	}

	label := raw.Type
	if strings.TrimSpace(label) == "" {
		label = src.Descriptor.StatementType
	}
	accountType, err := domain.ParseAccountType(label)
	if err != nil {
		return nil, err
	}

	return domain.NewAccount(GenerateAccountID(slug, number), institution, slug, accountType, MaskAccountNumber(number))
}
