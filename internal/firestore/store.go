package firestore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/ledger"
)

var (
	_ ledger.Store         = (*Store)(nil)
	_ ledger.CategoryStore = (*Store)(nil)
)

// LoadLedgerTail implements ledger.Store.
// Requires a composite index on (accountId, periodEnd desc, importedAt desc).
func (s *Store) LoadLedgerTail(ctx context.Context, accountID string, n int) ([]*domain.Statement, error) {
	q := s.statements().
		Where("accountId", "==", accountID).
		OrderBy("periodEnd", firestore.Desc).
		OrderBy("importedAt", firestore.Desc)
	if n > 0 {
		q = q.Limit(n)
	}
	stmts, err := s.loadStatements(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load ledger tail for %s: %w", accountID, err)
	}
	for i, j := 0, len(stmts)-1; i < j; i, j = i+1, j-1 {
		stmts[i], stmts[j] = stmts[j], stmts[i]
	}
	return stmts, nil
}

// LoadWindow implements ledger.Store. Firestore allows a range filter on one
// field only, so the period start bound is applied after the query.
// Requires a composite index on (accountId, periodEnd, importedAt).
func (s *Store) LoadWindow(ctx context.Context, accountID string, from, to time.Time) ([]*domain.Statement, error) {
	q := s.statements().
		Where("accountId", "==", accountID).
		Where("periodEnd", ">=", domain.FormatDate(from)).
		OrderBy("periodEnd", firestore.Asc).
		OrderBy("importedAt", firestore.Asc)
	stmts, err := s.loadStatements(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load statements for %s from %s: %w", accountID, domain.FormatDate(from), err)
	}
	out := stmts[:0]
	for _, st := range stmts {
		if !st.PeriodStart.After(to) {
			out = append(out, st)
		}
	}
	return out, nil
}

// FindByFingerprint implements ledger.Store.
func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) (*domain.Statement, error) {
	stmts, err := s.loadStatements(ctx, s.statements().Where("fingerprint", "==", fingerprint).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(stmts) == 0 {
		return nil, ledger.ErrNotFound
	}
	return stmts[0], nil
}

func (s *Store) loadStatements(ctx context.Context, q firestore.Query) ([]*domain.Statement, error) {
	recs, err := collect[Statement](q.Documents(ctx), "statements")
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Statement, 0, len(recs))
	for _, rec := range recs {
		st, err := rec.toDomain()
		if err != nil {
			return nil, err
		}
		if err := s.loadTransactions(ctx, st); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *Store) loadTransactions(ctx context.Context, st *domain.Statement) error {
	recs, err := collect[Transaction](s.transactions().Where("statementId", "==", st.ID).Documents(ctx), "transactions")
	if err != nil {
		return err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Position < recs[j].Position })
	for _, rec := range recs {
		txn, err := rec.toDomain()
		if err != nil {
			return err
		}
		st.Transactions = append(st.Transactions, txn)
	}
	return nil
}

// Commit implements ledger.Store. All reads and writes run in one Firestore
// transaction, which retries on contention.
func (s *Store) Commit(ctx context.Context, stmt *domain.Statement, account *domain.Account) (string, error) {
	if stmt == nil || account == nil {
		return "", fmt.Errorf("statement and account are required")
	}
	if len(stmt.Transactions) > maxTransactionWrites-len(stmt.Supersedes) {
		return "", fmt.Errorf("statement %s has %d transactions; at most %d fit in one Firestore commit",
			stmt.ID, len(stmt.Transactions), maxTransactionWrites-len(stmt.Supersedes))
	}

	rec := statementRecord(stmt)
	if rec.ImportedAt.IsZero() {
		rec.ImportedAt = time.Now().UTC()
	}
	txns := make([]*Transaction, len(stmt.Transactions))
	for i := range stmt.Transactions {
		txns[i] = transactionRecord(stmt, i)
		if err := txns[i].Validate(); err != nil {
			return "", fmt.Errorf("invalid transaction: %w", err)
		}
	}

	stmtRef := s.statements().Doc(stmt.ID)
	accRef := s.accounts().Doc(account.ID)
	supRefs := make([]*firestore.DocumentRef, len(stmt.Supersedes))
	for i, id := range stmt.Supersedes {
		supRefs[i] = s.statements().Doc(id)
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		dupes, err := tx.Documents(s.statements().Where("fingerprint", "==", stmt.Fingerprint).Limit(1)).GetAll()
		if err != nil {
			return fmt.Errorf("check fingerprint: %w", err)
		}
		if len(dupes) > 0 {
			return fmt.Errorf("statement with fingerprint %s: %w", stmt.Fingerprint, domain.ErrAlreadyExists)
		}

		snaps, err := tx.GetAll(append([]*firestore.DocumentRef{stmtRef, accRef}, supRefs...))
		if err != nil {
			return fmt.Errorf("read ledger state: %w", err)
		}
		if snaps[0].Exists() {
			return fmt.Errorf("statement %s: %w", stmt.ID, domain.ErrAlreadyExists)
		}
		for i, snap := range snaps[2:] {
			if !snap.Exists() {
				return fmt.Errorf("superseded statement %s: %w", stmt.Supersedes[i], ledger.ErrNotFound)
			}
		}

		if !snaps[1].Exists() {
			if err := tx.Create(accRef, accountRecord(account, time.Now().UTC())); err != nil {
				return err
			}
		}
		if err := tx.Create(stmtRef, rec); err != nil {
			return err
		}
		for _, ref := range supRefs {
			if err := tx.Update(ref, []firestore.Update{{Path: "status", Value: string(domain.StatusSuperseded)}}); err != nil {
				return err
			}
		}
		for _, t := range txns {
			if err := tx.Create(s.transactions().Doc(t.ID), t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("commit statement %s: %w", stmt.ID, err)
	}
	return stmt.ID, nil
}

// NeedsReview implements ledger.Store.
func (s *Store) NeedsReview(ctx context.Context) ([]*domain.Statement, error) {
	active := s.statements().Where("status", "==", string(domain.StatusActive))
	unreconciled, err := s.loadStatements(ctx, active.Where("reconciled", "==", false))
	if err != nil {
		return nil, fmt.Errorf("needs-review query: %w", err)
	}
	duplicates, err := s.loadStatements(ctx, active.Where("hasDuplicates", "==", true))
	if err != nil {
		return nil, fmt.Errorf("needs-review query: %w", err)
	}
	return mergeReview(unreconciled, duplicates), nil
}

// mergeReview unions the two review queries, ordered by account and period.
func mergeReview(lists ...[]*domain.Statement) []*domain.Statement {
	seen := make(map[string]bool)
	var out []*domain.Statement
	for _, list := range lists {
		for _, st := range list {
			if !seen[st.ID] {
				seen[st.ID] = true
				out = append(out, st)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AccountID != out[j].AccountID {
			return out[i].AccountID < out[j].AccountID
		}
		return out[i].PeriodEnd.Before(out[j].PeriodEnd)
	})
	return out
}

// Uncategorized implements ledger.CategoryStore.
func (s *Store) Uncategorized(ctx context.Context, limit int) ([]ledger.TransactionRef, error) {
	recs, err := collect[Transaction](s.transactions().Where("category", "==", nil).Documents(ctx), "transactions")
	if err != nil {
		return nil, err
	}

	active := make(map[string]bool)
	var out []ledger.TransactionRef
	for _, rec := range recs {
		ok, known := active[rec.StatementID]
		if !known {
			snap, err := s.statements().Doc(rec.StatementID).Get(ctx)
			if err != nil && (snap == nil || snap.Exists()) {
				return nil, fmt.Errorf("load statement %s: %w", rec.StatementID, err)
			}
			ok = snap.Exists() && snap.Data()["status"] == string(domain.StatusActive)
			active[rec.StatementID] = ok
		}
		if !ok {
			continue
		}
		txn, err := rec.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, ledger.TransactionRef{StatementID: rec.StatementID, AccountID: rec.AccountID, Transaction: txn})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// SetCategory implements ledger.CategoryStore.
func (s *Store) SetCategory(ctx context.Context, transactionID, category string) error {
	if strings.TrimSpace(category) == "" {
		return fmt.Errorf("category cannot be empty")
	}
	ref := s.transactions().Doc(transactionID)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.GetAll([]*firestore.DocumentRef{ref})
		if err != nil {
			return err
		}
		if !snaps[0].Exists() {
			return fmt.Errorf("transaction %s: %w", transactionID, ledger.ErrNotFound)
		}
		return tx.Update(ref, []firestore.Update{{Path: "category", Value: category}})
	})
}
