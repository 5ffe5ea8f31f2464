// Package ledger defines the persistence contract the ingestion core relies
// on, plus an in-memory implementation.
package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
)

// DefaultTailSize is how many recent statements reconciliation reads per account.
const DefaultTailSize = 12

// ErrNotFound is returned when a lookup has no result.
var ErrNotFound = errors.New("not found")

// Store is the persistence collaborator.
//
// Commit must be all-or-nothing: on error nothing from the statement is
// visible. Stores reject a second statement with an already committed
// fingerprint with domain.ErrAlreadyExists.
type Store interface {
	// LoadLedgerTail returns up to n of the account's most recent statements
	// (any status), ordered by period end then commit order, oldest first.
	LoadLedgerTail(ctx context.Context, accountID string, n int) ([]*domain.Statement, error)

	// LoadWindow returns the account's statements (any status) whose period
	// shares at least one day with [from, to], in LoadLedgerTail order.
	LoadWindow(ctx context.Context, accountID string, from, to time.Time) ([]*domain.Statement, error)

	// FindByFingerprint returns the statement committed from a byte-identical
	// document, or ErrNotFound.
	FindByFingerprint(ctx context.Context, fingerprint string) (*domain.Statement, error)

	// Commit stores the statement and its transactions, creates the account
	// if it hasn't been seen, and marks every statement in stmt.Supersedes as
	// superseded. Returns the statement ID.
	Commit(ctx context.Context, stmt *domain.Statement, account *domain.Account) (string, error)

	// NeedsReview returns active statements that are unreconciled or carry
	// suspected duplicate transactions.
	NeedsReview(ctx context.Context) ([]*domain.Statement, error)

	Close() error
}

// TransactionRef locates a committed transaction.
type TransactionRef struct {
	StatementID string
	AccountID   string
	Transaction domain.Transaction
}

// CategoryStore is implemented by stores that support the out-of-band
// categorization collaborator.
type CategoryStore interface {
	// Uncategorized returns up to limit committed transactions without a
	// category, from active statements. limit <= 0 means no limit.
	Uncategorized(ctx context.Context, limit int) ([]TransactionRef, error)

	// SetCategory labels a transaction. Returns ErrNotFound for unknown IDs.
	SetCategory(ctx context.Context, transactionID, category string) error
}

// SortTail orders statements by period end, keeping commit order for ties.
func SortTail(stmts []*domain.Statement) {
	sort.SliceStable(stmts, func(i, j int) bool {
		return stmts[i].PeriodEnd.Before(stmts[j].PeriodEnd)
	})
}
