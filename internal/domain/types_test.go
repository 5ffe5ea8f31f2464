package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func date(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestValidateAccountType(t *testing.T) {
	t.Run("valid account types", func(t *testing.T) {
		validTypes := []AccountType{
			AccountTypeChecking,
			AccountTypeSavings,
			AccountTypeCredit,
			AccountTypeBrokerage,
			AccountTypeRetirement,
		}

		for _, typ := range validTypes {
			if !ValidateAccountType(typ) {
				t.Errorf("Expected %s to be valid", typ)
			}
		}
	})

	t.Run("invalid account types", func(t *testing.T) {
		for _, typ := range []AccountType{"", "CHECKING", "investment", "loan"} {
			if ValidateAccountType(typ) {
				t.Errorf("Expected %q to be invalid", typ)
			}
		}
	})
}

func TestParseAccountType(t *testing.T) {
	tests := []struct {
		label   string
		want    AccountType
		wantErr bool
	}{
		{"Checking", AccountTypeChecking, false},
		{" credit card ", AccountTypeCredit, false},
		{"Investment", AccountTypeBrokerage, false},
		{"401k", AccountTypeRetirement, false},
		{"Money Market", AccountTypeSavings, false},
		{"mortgage", "", true},
	}

	for _, tt := range tests {
		got, err := ParseAccountType(tt.label)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAccountType(%q) error = %v, wantErr %v", tt.label, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAccountType(%q) = %q, want %q", tt.label, got, tt.want)
		}
	}
}

func TestNewAccount(t *testing.T) {
	acc, err := NewAccount("acc-pnc-1234", "PNC Bank", "pnc-bank", AccountTypeChecking, "****1234")
	if err != nil {
		t.Fatalf("NewAccount() unexpected error: %v", err)
	}
	if acc.MaskedNumber != "****1234" {
		t.Errorf("MaskedNumber = %q", acc.MaskedNumber)
	}

	invalid := []struct {
		name                   string
		id, inst, slug, masked string
		typ                    AccountType
	}{
		{"empty id", "", "PNC", "pnc", "****1234", AccountTypeChecking},
		{"empty institution", "acc", "", "pnc", "****1234", AccountTypeChecking},
		{"bad type", "acc", "PNC", "pnc", "****1234", "loan"},
		{"empty mask", "acc", "PNC", "pnc", "", AccountTypeChecking},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAccount(tt.id, tt.inst, tt.slug, tt.typ, tt.masked); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestStatementArithmetic(t *testing.T) {
	s := &Statement{
		OpeningBalance: decimal.RequireFromString("1000.00"),
		ClosingBalance: decimal.RequireFromString("1200.00"),
		Transactions: []Transaction{
			{Amount: decimal.RequireFromString("250.00")},
			{Amount: decimal.RequireFromString("-50.00")},
		},
	}

	if !s.Sum().Equal(decimal.RequireFromString("200")) {
		t.Errorf("Sum() = %s, want 200", s.Sum())
	}
	if !s.ExpectedClosing().Equal(decimal.RequireFromString("1200")) {
		t.Errorf("ExpectedClosing() = %s", s.ExpectedClosing())
	}
	if !s.Discrepancy().IsZero() {
		t.Errorf("Discrepancy() = %s, want 0", s.Discrepancy())
	}

	s.ClosingBalance = decimal.RequireFromString("1210.00")
	if !s.Discrepancy().Equal(decimal.RequireFromString("10")) {
		t.Errorf("Discrepancy() = %s, want 10", s.Discrepancy())
	}
}

func TestStatementPeriods(t *testing.T) {
	jan := &Statement{PeriodStart: date("2025-01-01"), PeriodEnd: date("2025-01-31")}
	feb := &Statement{PeriodStart: date("2025-02-01"), PeriodEnd: date("2025-02-28")}
	midJan := &Statement{PeriodStart: date("2025-01-15"), PeriodEnd: date("2025-02-14")}
	mar := &Statement{PeriodStart: date("2025-03-02"), PeriodEnd: date("2025-03-31")}

	if jan.Overlaps(feb) {
		t.Error("January should not overlap February")
	}
	if !jan.Adjacent(feb) || !feb.Adjacent(jan) {
		t.Error("January and February should be adjacent")
	}
	if !jan.Overlaps(midJan) || !midJan.Overlaps(feb) {
		t.Error("mid-January statement should overlap both months")
	}
	if feb.Adjacent(mar) {
		t.Error("February and a statement starting March 2 are not adjacent")
	}
	if !jan.Contains(date("2025-01-31")) || !jan.Contains(date("2025-01-01")) {
		t.Error("period bounds must be inclusive")
	}
	if jan.Contains(date("2025-02-01")) {
		t.Error("February 1 is outside January")
	}
}

func TestStatementNeedsReview(t *testing.T) {
	s := &Statement{Reconciled: true, Transactions: []Transaction{{}, {}}}
	if s.NeedsReview() {
		t.Error("reconciled statement without duplicates should not need review")
	}
	s.Transactions[1].SuspectedDuplicate = true
	if !s.NeedsReview() || s.SuspectedDuplicates() != 1 {
		t.Error("suspected duplicate should require review")
	}
	s.Transactions[1].SuspectedDuplicate = false
	s.Reconciled = false
	if !s.NeedsReview() {
		t.Error("unreconciled statement should require review")
	}
}

func TestStatementClone(t *testing.T) {
	cat := "groceries"
	s := &Statement{
		Supersedes:   []string{"stmt-a"},
		ChainBreak:   &ChainBreak{PreviousID: "stmt-p"},
		Transactions: []Transaction{{Description: "x", Category: &cat}},
	}
	c := s.Clone()
	c.Transactions[0].Description = "y"
	*c.Transactions[0].Category = "dining"
	c.Supersedes[0] = "stmt-b"
	c.ChainBreak.PreviousID = "stmt-q"

	if s.Transactions[0].Description != "x" || *s.Transactions[0].Category != "groceries" {
		t.Error("Clone shares transaction state")
	}
	if s.Supersedes[0] != "stmt-a" || s.ChainBreak.PreviousID != "stmt-p" {
		t.Error("Clone shares statement state")
	}
}

func TestCivilDate(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	got := CivilDate(time.Date(2025, 3, 9, 23, 30, 0, 0, loc))
	want := time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("CivilDate() = %v, want %v", got, want)
	}
	if FormatDate(got) != "2025-03-09" {
		t.Errorf("FormatDate() = %s", FormatDate(got))
	}
	if _, err := ParseDate("2025/03/09"); err == nil {
		t.Error("expected error for wrong layout")
	}
}
