// Package validate enforces the structural and numeric invariants a
// statement must satisfy before reconciliation.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
)

// Violation is one failed check.
type Violation struct {
	Entity  string // "statement" or "transaction"
	ID      string // statement ID, or transaction position ("#3")
	Field   string
	Value   string
	Message string
}

func (v Violation) String() string {
	if v.ID == "" {
		return fmt.Sprintf("%s.%s: %s", v.Entity, v.Field, v.Message)
	}
	return fmt.Sprintf("%s %s.%s: %s", v.Entity, v.ID, v.Field, v.Message)
}

// Warning represents a non-critical issue that was corrected or tolerated.
type Warning struct {
	Entity  string
	ID      string
	Field   string
	Message string
}

func (w Warning) String() string {
	return Violation{Entity: w.Entity, ID: w.ID, Field: w.Field, Message: w.Message}.String()
}

// ValidationError lists every violation found. Discrepancy is set when the
// balance check failed: declared closing minus computed closing.
type ValidationError struct {
	StatementID string
	Violations  []Violation
	Discrepancy *decimal.Decimal
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("statement %s failed validation with %d violation(s): %s",
		e.StatementID, len(e.Violations), strings.Join(msgs, "; "))
}

// ValidatedStatement has passed every invariant check but hasn't been
// reconciled against ledger history.
type ValidatedStatement struct {
	Statement *domain.Statement
	Warnings  []Warning
}

// DefaultTolerance returns one minor unit of the currency.
func DefaultTolerance(currency string) decimal.Decimal {
	unit, err := domain.MinorUnit(currency)
	if err != nil {
		return decimal.New(1, -2)
	}
	return unit
}

// Validate checks stmt without modifying it. It returns a ValidatedStatement
// holding a copy, possibly re-sorted, or a *ValidationError.
//
// Checks:
//   - required header fields and a known currency
//   - every transaction dated within [PeriodStart, PeriodEnd]; no auto-correction
//   - opening + sum(amounts) equals closing within tolerance (inclusive)
//   - transactions non-decreasing by date; in-range but unordered dates are
//     stable-sorted and reported as a warning
func Validate(stmt *domain.Statement, tolerance decimal.Decimal) (*ValidatedStatement, error) {
	if stmt == nil {
		return nil, &ValidationError{Violations: []Violation{{Entity: "statement", Field: "Statement", Message: "statement cannot be nil"}}}
	}
	if tolerance.IsNegative() {
		return nil, fmt.Errorf("tolerance cannot be negative: %s", tolerance)
	}

	s := stmt.Clone()
	verr := &ValidationError{StatementID: s.ID}
	fail := func(v Violation) { verr.Violations = append(verr.Violations, v) }

	if s.ID == "" {
		fail(Violation{Entity: "statement", Field: "ID", Message: "statement ID cannot be empty"})
	}
	if s.AccountID == "" {
		fail(Violation{Entity: "statement", ID: s.ID, Field: "AccountID", Message: "account reference cannot be empty"})
	}
	if _, err := domain.MinorUnits(s.Currency); err != nil {
		fail(Violation{Entity: "statement", ID: s.ID, Field: "Currency", Value: s.Currency, Message: err.Error()})
	}

	periodOK := true
	if s.PeriodStart.IsZero() || s.PeriodEnd.IsZero() {
		fail(Violation{Entity: "statement", ID: s.ID, Field: "Period", Message: "period start and end are required"})
		periodOK = false
	} else if s.PeriodEnd.Before(s.PeriodStart) {
		fail(Violation{
			Entity:  "statement",
			ID:      s.ID,
			Field:   "Period",
			Value:   domain.FormatDate(s.PeriodStart) + ".." + domain.FormatDate(s.PeriodEnd),
			Message: "period end is before period start",
		})
		periodOK = false
	}

	outOfRange := false
	for i, txn := range s.Transactions {
		pos := fmt.Sprintf("#%d", i+1)
		if strings.TrimSpace(txn.Description) == "" {
			fail(Violation{Entity: "transaction", ID: pos, Field: "Description", Message: "description cannot be empty"})
		}
		if txn.Date.IsZero() {
			fail(Violation{Entity: "transaction", ID: pos, Field: "Date", Message: "date cannot be empty"})
			outOfRange = true
			continue
		}
		if periodOK && !s.Contains(txn.Date) {
			fail(Violation{
				Entity: "transaction",
				ID:     pos,
				Field:  "Date",
				Value:  domain.FormatDate(txn.Date),
				Message: fmt.Sprintf("date outside statement period %s..%s",
					domain.FormatDate(s.PeriodStart), domain.FormatDate(s.PeriodEnd)),
			})
			outOfRange = true
		}
	}

	if discrepancy := s.Discrepancy(); discrepancy.Abs().GreaterThan(tolerance) {
		verr.Discrepancy = &discrepancy
		cur := s.Currency
		fail(Violation{
			Entity: "statement",
			ID:     s.ID,
			Field:  "ClosingBalance",
			Value:  domain.FormatAmount(s.ClosingBalance, cur),
			Message: fmt.Sprintf("opening %s + transactions %s = %s, declared closing %s (discrepancy %s, tolerance %s)",
				domain.FormatAmount(s.OpeningBalance, cur),
				domain.FormatAmount(s.Sum(), cur),
				domain.FormatAmount(s.ExpectedClosing(), cur),
				domain.FormatAmount(s.ClosingBalance, cur),
				domain.FormatAmount(discrepancy, cur),
				tolerance.String()),
		})
	}

	var warnings []Warning
	if !outOfRange && !sorted(s.Transactions) {
		sort.SliceStable(s.Transactions, func(i, j int) bool {
			return s.Transactions[i].Date.Before(s.Transactions[j].Date)
		})
		warnings = append(warnings, Warning{
			Entity:  "statement",
			ID:      s.ID,
			Field:   "Transactions",
			Message: "transactions were not in date order; stable-sorted by date",
		})
	}

	if len(verr.Violations) > 0 {
		return nil, verr
	}
	return &ValidatedStatement{Statement: s, Warnings: warnings}, nil
}

func sorted(txns []domain.Transaction) bool {
	for i := 1; i < len(txns); i++ {
		if txns[i].Date.Before(txns[i-1].Date) {
			return false
		}
	}
	return true
}
