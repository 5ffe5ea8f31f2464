package parser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Plugin is the capability every statement extraction plugin implements.
//
// Match must be a pure predicate over the document content and suffix: it is
// called once per candidate document during dispatch and again by the plugin
// self-test command. Extract must not depend on or mutate global state so it
// can be retried and run in parallel on independent documents.
type Plugin interface {
	// Descriptor returns the plugin's identification metadata
	Descriptor() Descriptor

	// Match reports whether this plugin recognizes the document
	Match(doc *Document) bool

	// Extract parses the document into a draft statement.
	// Implementations should return promptly once ctx is done.
	Extract(ctx context.Context, doc *Document) (*DraftStatement, error)
}

// Descriptor is per-plugin metadata, registered once and read-only afterwards.
type Descriptor struct {
	Name          string   `json:"name" yaml:"name"`
	Version       string   `json:"version" yaml:"version"` // semantic version, e.g. "1.2.0"
	Suffix        string   `json:"suffix" yaml:"suffix"`   // ".pdf", ".csv", ...
	Institution   string   `json:"institution" yaml:"institution"`
	StatementType string   `json:"statementType" yaml:"statementType"`
	Signature     []string `json:"signature" yaml:"signature"`
	// Instructions tell a user how to download a statement this plugin accepts.
	Instructions string `json:"instructions,omitempty" yaml:"instructions,omitempty"`
}

// supportedSuffixes is the set of recognized document types.
var supportedSuffixes = []string{".pdf", ".csv", ".xls", ".xlsx", ".ofx", ".qfx", ".txt"}

// SupportedSuffixes returns the recognized document suffixes.
func SupportedSuffixes() []string {
	out := make([]string, len(supportedSuffixes))
	copy(out, supportedSuffixes)
	return out
}

// IsSupportedSuffix reports whether suffix is a recognized document type.
// The comparison is case-insensitive; the leading dot is required.
func IsSupportedSuffix(suffix string) bool {
	s := strings.ToLower(suffix)
	for _, known := range supportedSuffixes {
		if s == known {
			return true
		}
	}
	return false
}

// DraftStatement is plugin output before normalization and validation.
type DraftStatement struct {
	Account        DraftAccount
	PeriodStart    time.Time
	PeriodEnd      time.Time
	OpeningBalance decimal.Decimal
	ClosingBalance decimal.Decimal
	// Currency is an ISO 4217 code; empty means the driver's default.
	Currency     string
	Transactions []DraftTransaction
}

// DraftAccount is the account information as found in the document.
type DraftAccount struct {
	Institution string // e.g. "PNC Bank"; falls back to the plugin descriptor
	Number      string // full or partial account number; falls back to directory metadata
	Type        string // "checking", "credit card", ...
}

// DraftTransaction is a transaction before normalization.
type DraftTransaction struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal // Positive=inflow, Negative=outflow
	// LegitimateRepeat marks a transaction the plugin knows to be a genuine
	// repeat of an identical entry (e.g. two identical recurring charges).
	LegitimateRepeat bool
}

// NewDraftTransaction creates a validated draft transaction
func NewDraftTransaction(date time.Time, description string, amount decimal.Decimal) (*DraftTransaction, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("transaction date cannot be zero")
	}
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("description cannot be empty")
	}
	return &DraftTransaction{
		Date:        date,
		Description: description,
		Amount:      amount,
	}, nil
}

// Period represents the statement period
type Period struct {
	start time.Time
	end   time.Time
}

// Start returns the period start time
func (p *Period) Start() time.Time { return p.start }

// End returns the period end time
func (p *Period) End() time.Time { return p.end }

// Contains returns true if the given time falls within the period (inclusive)
func (p *Period) Contains(t time.Time) bool {
	return !t.Before(p.start) && !t.After(p.end)
}

// NewPeriod creates a validated period. Single-day periods are allowed.
func NewPeriod(start, end time.Time) (*Period, error) {
	if start.IsZero() {
		return nil, fmt.Errorf("start time cannot be zero")
	}
	if end.IsZero() {
		return nil, fmt.Errorf("end time cannot be zero")
	}
	if end.Before(start) {
		return nil, fmt.Errorf("start must not be after end")
	}

	return &Period{
		start: start,
		end:   end,
	}, nil
}

// SetPeriod copies a validated period onto the draft.
func (d *DraftStatement) SetPeriod(p *Period) {
	d.PeriodStart = p.Start()
	d.PeriodEnd = p.End()
}

// ParseAmount parses a money string as found in statements: currency symbols,
// thousands separators and parenthesized negatives are accepted.
// Examples: "$1,234.56" → 1234.56, "(12.00)" → -12, "-5" → -5
func ParseAmount(s string) (decimal.Decimal, error) {
	clean := strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(clean, "(") && strings.HasSuffix(clean, ")") {
		negative = true
		clean = strings.TrimSuffix(strings.TrimPrefix(clean, "("), ")")
	}
	clean = strings.NewReplacer("$", "", ",", "", " ", "").Replace(clean)
	if strings.HasSuffix(clean, "-") {
		negative = !negative
		clean = strings.TrimSuffix(clean, "-")
	}
	if clean == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}
