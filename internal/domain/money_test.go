package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		code    string
		want    int32
		wantErr bool
	}{
		{"USD", 2, false},
		{"usd", 2, false},
		{"JPY", 0, false},
		{"XXX1", 0, true},
	}
	for _, tt := range tests {
		got, err := MinorUnits(tt.code)
		if (err != nil) != tt.wantErr {
			t.Errorf("MinorUnits(%q) error = %v, wantErr %v", tt.code, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("MinorUnits(%q) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestRoundMinor(t *testing.T) {
	got, err := RoundMinor(decimal.RequireFromString("10.005"), "USD")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(decimal.RequireFromString("10.01")) {
		t.Errorf("RoundMinor = %s, want 10.01", got)
	}

	got, err = RoundMinor(decimal.RequireFromString("1234.6"), "JPY")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(decimal.RequireFromString("1235")) {
		t.Errorf("RoundMinor JPY = %s, want 1235", got)
	}
}

func TestWithinTolerance(t *testing.T) {
	unit, err := MinorUnit("USD")
	if err != nil {
		t.Fatal(err)
	}
	a := decimal.RequireFromString("100.00")
	if !WithinTolerance(a, decimal.RequireFromString("100.01"), unit) {
		t.Error("difference of exactly one minor unit must be within tolerance")
	}
	if WithinTolerance(a, decimal.RequireFromString("100.02"), unit) {
		t.Error("difference of two minor units must be outside tolerance")
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(decimal.RequireFromString("1150"), "USD"); got != "1150.00" {
		t.Errorf("FormatAmount = %s", got)
	}
}
