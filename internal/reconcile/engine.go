// Package reconcile cross-checks validated statements against the persisted
// ledger: duplicate statements, balance-chain continuity and duplicate
// transactions.
package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/dedup"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/transform"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/validate"
)

// History is the ledger state reconciliation reads for one account.
type History struct {
	// Tail is the account's recent statements plus those around the new
	// period, oldest first.
	Tail []*domain.Statement
	// SameFingerprint is the statement already committed from a byte-identical
	// document, if any. It may belong to another account.
	SameFingerprint *domain.Statement
}

// Result is a commit-ready statement.
type Result struct {
	Statement *domain.Statement
	// ChainError is set when the balance chain is broken; the statement is
	// still commit-ready but unreconciled.
	ChainError *BalanceChainError
	// Predecessor is the statement the chain was checked against, if any.
	Predecessor string
	Superseded  []string
	Duplicates  int
}

// Engine performs reconciliation. It holds no ledger state; callers provide
// History under the account's exclusive scope.
type Engine struct {
	tolerance decimal.Decimal
}

// NewEngine creates an engine with the balance-chain tolerance.
func NewEngine(tolerance decimal.Decimal) (*Engine, error) {
	if tolerance.IsNegative() {
		return nil, fmt.Errorf("tolerance cannot be negative: %s", tolerance)
	}
	return &Engine{tolerance: tolerance}, nil
}

// Tolerance returns the balance-chain tolerance.
func (e *Engine) Tolerance() decimal.Decimal { return e.tolerance }

// Reconcile runs, in order, the duplicate-statement check, the balance-chain
// check and the duplicate-transaction check.
//
// A *DuplicateStatementError is returned as the error. A broken balance chain
// is not an error: it is reported in Result.ChainError. The validated
// statement is not modified.
func (e *Engine) Reconcile(v *validate.ValidatedStatement, h History) (*Result, error) {
	if v == nil || v.Statement == nil {
		return nil, fmt.Errorf("validated statement cannot be nil")
	}
	stmt := v.Statement.Clone()

	if err := checkDuplicateStatement(stmt, h); err != nil {
		return nil, err
	}

	var active []*domain.Statement
	for _, s := range h.Tail {
		if s.AccountID == stmt.AccountID && s.Active() {
			active = append(active, s)
		}
	}

	res := &Result{}
	stmt.Status = domain.StatusActive
	stmt.Supersedes = nil
	for _, s := range active {
		if s.Overlaps(stmt) {
			stmt.Supersedes = append(stmt.Supersedes, s.ID)
		}
	}
	res.Superseded = stmt.Supersedes

	stmt.Reconciled = true
	stmt.ChainBreak = nil
	if prev := predecessor(stmt, active); prev != nil {
		res.Predecessor = prev.ID
		if !domain.WithinTolerance(stmt.OpeningBalance, prev.ClosingBalance, e.tolerance) {
			res.ChainError = &BalanceChainError{
				PreviousID: prev.ID,
				Expected:   prev.ClosingBalance,
				Actual:     stmt.OpeningBalance,
			}
			stmt.Reconciled = false
			stmt.ChainBreak = &domain.ChainBreak{
				PreviousID: prev.ID,
				Expected:   prev.ClosingBalance,
				Actual:     stmt.OpeningBalance,
			}
		}
	}

	for i := range stmt.Transactions {
		stmt.Transactions[i].ID = transform.GenerateTransactionID(stmt.ID, i)
	}
	res.Duplicates = flagDuplicates(stmt, active)

	res.Statement = stmt
	return res, nil
}

func checkDuplicateStatement(stmt *domain.Statement, h History) error {
	if s := h.SameFingerprint; s != nil {
		return &DuplicateStatementError{Fingerprint: stmt.Fingerprint, ExistingID: s.ID, SameBytes: true}
	}
	for _, s := range h.Tail {
		if s.Fingerprint == stmt.Fingerprint {
			return &DuplicateStatementError{Fingerprint: stmt.Fingerprint, ExistingID: s.ID, SameBytes: true}
		}
	}
	for _, s := range h.Tail {
		if !s.Active() || s.AccountID != stmt.AccountID {
			continue
		}
		if s.PeriodStart.Equal(stmt.PeriodStart) && s.PeriodEnd.Equal(stmt.PeriodEnd) &&
			s.ContentDigest != "" && s.ContentDigest == stmt.ContentDigest {
			return &DuplicateStatementError{Fingerprint: stmt.Fingerprint, ExistingID: s.ID}
		}
	}
	return nil
}

// predecessor picks the active statement the new one continues: among those
// starting on or before it, the one ending latest, later commits winning
// ties. A statement ending more than a day before the new period starts is
// not an immediate predecessor.
func predecessor(stmt *domain.Statement, active []*domain.Statement) *domain.Statement {
	var best *domain.Statement
	for _, s := range active {
		if s.PeriodStart.After(stmt.PeriodStart) {
			continue
		}
		if best == nil || !s.PeriodEnd.Before(best.PeriodEnd) {
			best = s
		}
	}
	if best == nil || best.PeriodEnd.AddDate(0, 0, 1).Before(stmt.PeriodStart) {
		return nil
	}
	return best
}

// flagDuplicates marks transactions whose (date, amount, description) key
// already exists in an adjacent active statement, or earlier in this one.
// Statements being superseded don't count: the new statement replaces them.
func flagDuplicates(stmt *domain.Statement, active []*domain.Statement) int {
	superseded := make(map[string]bool, len(stmt.Supersedes))
	for _, id := range stmt.Supersedes {
		superseded[id] = true
	}

	idx := dedup.NewIndex()
	for _, s := range active {
		if superseded[s.ID] || !(s.Overlaps(stmt) || s.Adjacent(stmt)) {
			continue
		}
		for _, txn := range s.Transactions {
			// Keys are never empty, so Add can't fail.
			_ = idx.Add(dedup.TransactionKey(txn.Date, txn.Amount, txn.Description), txn.ID, s.ID)
		}
	}

	flagged := 0
	for i := range stmt.Transactions {
		txn := &stmt.Transactions[i]
		txn.SuspectedDuplicate = false
		txn.DuplicateOf = ""
		key := dedup.TransactionKey(txn.Date, txn.Amount, txn.Description)
		if rec, seen := idx.Lookup(key); seen && !txn.LegitimateRepeat {
			txn.SuspectedDuplicate = true
			txn.DuplicateOf = rec.TransactionID
			flagged++
		}
		_ = idx.Add(key, txn.ID, stmt.ID)
	}
	return flagged
}
