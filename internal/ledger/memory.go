package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
)

// Memory is an in-process Store, used for dry runs and tests.
type Memory struct {
	mu         sync.RWMutex
	accounts   map[string]domain.Account
	statements []*domain.Statement // commit order
	byID       map[string]*domain.Statement
	byFP       map[string]*domain.Statement
	// FailCommit, when set, makes Commit return its error without writing.
	FailCommit error
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]domain.Account),
		byID:     make(map[string]*domain.Statement),
		byFP:     make(map[string]*domain.Statement),
	}
}

// LoadLedgerTail implements Store.
func (m *Memory) LoadLedgerTail(ctx context.Context, accountID string, n int) ([]*domain.Statement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Statement
	for _, s := range m.statements {
		if s.AccountID == accountID {
			out = append(out, s.Clone())
		}
	}
	SortTail(out)
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// LoadWindow implements Store.
func (m *Memory) LoadWindow(ctx context.Context, accountID string, from, to time.Time) ([]*domain.Statement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Statement
	for _, s := range m.statements {
		if s.AccountID == accountID && !s.PeriodStart.After(to) && !s.PeriodEnd.Before(from) {
			out = append(out, s.Clone())
		}
	}
	SortTail(out)
	return out, nil
}

// FindByFingerprint implements Store.
func (m *Memory) FindByFingerprint(ctx context.Context, fingerprint string) (*domain.Statement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.byFP[fingerprint]; ok {
		return s.Clone(), nil
	}
	return nil, ErrNotFound
}

// Commit implements Store.
func (m *Memory) Commit(ctx context.Context, stmt *domain.Statement, account *domain.Account) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if stmt == nil || account == nil {
		return "", fmt.Errorf("statement and account are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCommit != nil {
		return "", m.FailCommit
	}
	if _, exists := m.byFP[stmt.Fingerprint]; exists {
		return "", fmt.Errorf("statement with fingerprint %s: %w", stmt.Fingerprint, domain.ErrAlreadyExists)
	}
	if _, exists := m.byID[stmt.ID]; exists {
		return "", fmt.Errorf("statement %s: %w", stmt.ID, domain.ErrAlreadyExists)
	}
	for _, id := range stmt.Supersedes {
		if _, ok := m.byID[id]; !ok {
			return "", fmt.Errorf("superseded statement %s: %w", id, ErrNotFound)
		}
	}

	// All checks passed; nothing below can fail.
	if _, ok := m.accounts[account.ID]; !ok {
		m.accounts[account.ID] = *account
	}
	for _, id := range stmt.Supersedes {
		m.byID[id].Status = domain.StatusSuperseded
	}
	c := stmt.Clone()
	m.statements = append(m.statements, c)
	m.byID[c.ID] = c
	m.byFP[c.Fingerprint] = c
	return c.ID, nil
}

// NeedsReview implements Store.
func (m *Memory) NeedsReview(ctx context.Context) ([]*domain.Statement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Statement
	for _, s := range m.statements {
		if s.Active() && s.NeedsReview() {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

// Account returns a committed account.
func (m *Memory) Account(id string) (domain.Account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	return a, ok
}

// Statements returns every committed statement in commit order.
func (m *Memory) Statements() []*domain.Statement {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Statement, len(m.statements))
	for i, s := range m.statements {
		out[i] = s.Clone()
	}
	return out
}

// Uncategorized implements CategoryStore.
func (m *Memory) Uncategorized(ctx context.Context, limit int) ([]TransactionRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []TransactionRef
	for _, s := range m.statements {
		if !s.Active() {
			continue
		}
		for _, txn := range s.Transactions {
			if txn.Category != nil {
				continue
			}
			out = append(out, TransactionRef{StatementID: s.ID, AccountID: s.AccountID, Transaction: txn})
			if limit > 0 && len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// SetCategory implements CategoryStore.
func (m *Memory) SetCategory(ctx context.Context, transactionID, category string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.statements {
		for i := range s.Transactions {
			if s.Transactions[i].ID == transactionID {
				c := category
				s.Transactions[i].Category = &c
				return nil
			}
		}
	}
	return fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
