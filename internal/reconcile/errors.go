package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DuplicateStatementError means the statement is already in the ledger.
// It is an idempotent outcome, not a failure: callers report it as skipped.
type DuplicateStatementError struct {
	Fingerprint string
	ExistingID  string
	// SameBytes is false when the document differs but the account, period
	// and normalized content match an active statement.
	SameBytes bool
}

func (e *DuplicateStatementError) Error() string {
	if e.SameBytes {
		return fmt.Sprintf("document %s already ingested as %s", short(e.Fingerprint), e.ExistingID)
	}
	return fmt.Sprintf("statement content already ingested as %s (document %s differs)", e.ExistingID, short(e.Fingerprint))
}

// BalanceChainError reports an opening balance that doesn't continue the
// predecessor's closing balance. The statement is still accepted, flagged
// unreconciled.
type BalanceChainError struct {
	PreviousID string
	Expected   decimal.Decimal
	Actual     decimal.Decimal
}

func (e *BalanceChainError) Error() string {
	return fmt.Sprintf("balance chain broken after %s: expected opening %s, got %s (difference %s)",
		e.PreviousID, e.Expected.StringFixed(2), e.Actual.StringFixed(2), e.Actual.Sub(e.Expected).StringFixed(2))
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
