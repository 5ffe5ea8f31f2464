// Package sqlite is the default ledger store, backed by a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/ledger"
)

// Store implements ledger.Store and ledger.CategoryStore.
type Store struct {
	db *sql.DB
}

var (
	_ ledger.Store         = (*Store)(nil)
	_ ledger.CategoryStore = (*Store)(nil)
)

// Open opens (or creates) the database at path and ensures the schema exists.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	dsn := "file:" + path
	dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			institution TEXT NOT NULL,
			institution_slug TEXT NOT NULL,
			type TEXT NOT NULL,
			masked_number TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS statements (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			period_start TEXT NOT NULL,
			period_end TEXT NOT NULL,
			opening_balance TEXT NOT NULL,
			closing_balance TEXT NOT NULL,
			currency TEXT NOT NULL,
			fingerprint TEXT NOT NULL UNIQUE,
			content_digest TEXT NOT NULL,
			source_name TEXT NOT NULL,
			plugin_name TEXT NOT NULL,
			plugin_version TEXT NOT NULL,
			status TEXT NOT NULL,
			reconciled INTEGER NOT NULL,
			chain_previous_id TEXT,
			chain_expected TEXT,
			chain_actual TEXT,
			imported_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_statements_account_end
			ON statements(account_id, period_end DESC, seq DESC);

		CREATE TABLE IF NOT EXISTS supersessions (
			statement_id TEXT NOT NULL REFERENCES statements(id),
			superseded_id TEXT NOT NULL REFERENCES statements(id),
			PRIMARY KEY (statement_id, superseded_id)
		);

		CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			statement_id TEXT NOT NULL REFERENCES statements(id),
			position INTEGER NOT NULL,
			date TEXT NOT NULL,
			description TEXT NOT NULL,
			amount TEXT NOT NULL,
			category TEXT,
			legitimate_repeat INTEGER NOT NULL DEFAULT 0,
			suspected_duplicate INTEGER NOT NULL DEFAULT 0,
			duplicate_of TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_statement
			ON transactions(statement_id, position);
	`)
	return err
}

const statementColumns = `id, account_id, period_start, period_end, opening_balance, closing_balance,
	currency, fingerprint, content_digest, source_name, plugin_name, plugin_version, status,
	reconciled, chain_previous_id, chain_expected, chain_actual, imported_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatement(row rowScanner) (*domain.Statement, error) {
	var (
		st                                    domain.Statement
		start, end, opening, closing, at      string
		status                                string
		reconciled                            bool
		chainPrev, chainExpected, chainActual sql.NullString
	)
	err := row.Scan(&st.ID, &st.AccountID, &start, &end, &opening, &closing,
		&st.Currency, &st.Fingerprint, &st.ContentDigest, &st.SourceName, &st.PluginName, &st.PluginVersion,
		&status, &reconciled, &chainPrev, &chainExpected, &chainActual, &at)
	if err != nil {
		return nil, err
	}

	if st.PeriodStart, err = domain.ParseDate(start); err != nil {
		return nil, err
	}
	if st.PeriodEnd, err = domain.ParseDate(end); err != nil {
		return nil, err
	}
	if st.OpeningBalance, err = decimal.NewFromString(opening); err != nil {
		return nil, fmt.Errorf("statement %s opening balance: %w", st.ID, err)
	}
	if st.ClosingBalance, err = decimal.NewFromString(closing); err != nil {
		return nil, fmt.Errorf("statement %s closing balance: %w", st.ID, err)
	}
	if st.ImportedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
		return nil, fmt.Errorf("statement %s imported_at: %w", st.ID, err)
	}
	st.Status = domain.StatementStatus(status)
	st.Reconciled = reconciled

	if chainPrev.Valid {
		cb := &domain.ChainBreak{PreviousID: chainPrev.String}
		if cb.Expected, err = decimal.NewFromString(chainExpected.String); err != nil {
			return nil, fmt.Errorf("statement %s chain expected: %w", st.ID, err)
		}
		if cb.Actual, err = decimal.NewFromString(chainActual.String); err != nil {
			return nil, fmt.Errorf("statement %s chain actual: %w", st.ID, err)
		}
		st.ChainBreak = cb
	}
	return &st, nil
}

// queryStatements runs a statement query and loads each statement's
// transactions and supersessions. Rows are fully drained before the nested
// queries run.
func (s *Store) queryStatements(ctx context.Context, query string, args ...any) ([]*domain.Statement, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query statements: %w", err)
	}
	var out []*domain.Statement
	for rows.Next() {
		st, err := scanStatement(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan statement: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, st := range out {
		if err := s.loadChildren(ctx, st); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) loadChildren(ctx context.Context, st *domain.Statement) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, description, amount, category, legitimate_repeat, suspected_duplicate, duplicate_of
		FROM transactions WHERE statement_id = ? ORDER BY position ASC
	`, st.ID)
	if err != nil {
		return fmt.Errorf("query transactions of %s: %w", st.ID, err)
	}
	defer rows.Close()

	st.Transactions = []domain.Transaction{}
	for rows.Next() {
		var (
			txn          domain.Transaction
			date, amount string
			category     sql.NullString
		)
		if err := rows.Scan(&txn.ID, &date, &txn.Description, &amount, &category,
			&txn.LegitimateRepeat, &txn.SuspectedDuplicate, &txn.DuplicateOf); err != nil {
			return fmt.Errorf("scan transaction: %w", err)
		}
		if txn.Date, err = domain.ParseDate(date); err != nil {
			return err
		}
		if txn.Amount, err = decimal.NewFromString(amount); err != nil {
			return fmt.Errorf("transaction %s amount: %w", txn.ID, err)
		}
		if category.Valid {
			c := category.String
			txn.Category = &c
		}
		st.Transactions = append(st.Transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	sup, err := s.db.QueryContext(ctx, `SELECT superseded_id FROM supersessions WHERE statement_id = ? ORDER BY superseded_id`, st.ID)
	if err != nil {
		return fmt.Errorf("query supersessions of %s: %w", st.ID, err)
	}
	defer sup.Close()
	for sup.Next() {
		var id string
		if err := sup.Scan(&id); err != nil {
			return err
		}
		st.Supersedes = append(st.Supersedes, id)
	}
	return sup.Err()
}

// LoadLedgerTail implements ledger.Store.
func (s *Store) LoadLedgerTail(ctx context.Context, accountID string, n int) ([]*domain.Statement, error) {
	if n <= 0 {
		n = -1 // SQLite: no limit
	}
	stmts, err := s.queryStatements(ctx,
		`SELECT `+statementColumns+` FROM statements
		 WHERE account_id = ? ORDER BY period_end DESC, seq DESC LIMIT ?`, accountID, n)
	if err != nil {
		return nil, fmt.Errorf("load ledger tail for %s: %w", accountID, err)
	}
	for i, j := 0, len(stmts)-1; i < j; i, j = i+1, j-1 {
		stmts[i], stmts[j] = stmts[j], stmts[i]
	}
	return stmts, nil
}

// LoadWindow implements ledger.Store.
func (s *Store) LoadWindow(ctx context.Context, accountID string, from, to time.Time) ([]*domain.Statement, error) {
	stmts, err := s.queryStatements(ctx,
		`SELECT `+statementColumns+` FROM statements
		 WHERE account_id = ? AND period_start <= ? AND period_end >= ?
		 ORDER BY period_end, seq`, accountID, domain.FormatDate(to), domain.FormatDate(from))
	if err != nil {
		return nil, fmt.Errorf("load statements for %s between %s and %s: %w",
			accountID, domain.FormatDate(from), domain.FormatDate(to), err)
	}
	return stmts, nil
}

// FindByFingerprint implements ledger.Store.
func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) (*domain.Statement, error) {
	stmts, err := s.queryStatements(ctx,
		`SELECT `+statementColumns+` FROM statements WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return nil, err
	}
	if len(stmts) == 0 {
		return nil, ledger.ErrNotFound
	}
	return stmts[0], nil
}

// Commit implements ledger.Store. Everything happens in one transaction.
func (s *Store) Commit(ctx context.Context, stmt *domain.Statement, account *domain.Account) (id string, err error) {
	if stmt == nil || account == nil {
		return "", fmt.Errorf("statement and account are required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin commit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM statements WHERE fingerprint = ? OR id = ?`,
		stmt.Fingerprint, stmt.ID).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("check existing statement: %w", err)
	}
	if exists > 0 {
		return "", fmt.Errorf("statement %s: %w", stmt.ID, domain.ErrAlreadyExists)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO accounts (id, institution, institution_slug, type, masked_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, account.ID, account.Institution, account.InstitutionSlug, string(account.Type), account.MaskedNumber, now); err != nil {
		return "", fmt.Errorf("insert account %s: %w", account.ID, err)
	}

	var chainPrev, chainExpected, chainActual sql.NullString
	if cb := stmt.ChainBreak; cb != nil {
		chainPrev = sql.NullString{String: cb.PreviousID, Valid: true}
		chainExpected = sql.NullString{String: cb.Expected.String(), Valid: true}
		chainActual = sql.NullString{String: cb.Actual.String(), Valid: true}
	}
	importedAt := stmt.ImportedAt
	if importedAt.IsZero() {
		importedAt = time.Now()
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO statements (`+statementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, stmt.ID, stmt.AccountID, domain.FormatDate(stmt.PeriodStart), domain.FormatDate(stmt.PeriodEnd),
		stmt.OpeningBalance.String(), stmt.ClosingBalance.String(), stmt.Currency,
		stmt.Fingerprint, stmt.ContentDigest, stmt.SourceName, stmt.PluginName, stmt.PluginVersion,
		string(domain.StatusActive), stmt.Reconciled, chainPrev, chainExpected, chainActual,
		importedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return "", fmt.Errorf("insert statement %s: %w", stmt.ID, err)
	}

	for _, old := range stmt.Supersedes {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `UPDATE statements SET status = ? WHERE id = ?`, string(domain.StatusSuperseded), old)
		if err != nil {
			return "", fmt.Errorf("supersede %s: %w", old, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			err = fmt.Errorf("superseded statement %s: %w", old, ledger.ErrNotFound)
			return "", err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO supersessions (statement_id, superseded_id) VALUES (?, ?)`, stmt.ID, old); err != nil {
			return "", fmt.Errorf("record supersession of %s: %w", old, err)
		}
	}

	for i, txn := range stmt.Transactions {
		var category sql.NullString
		if txn.Category != nil {
			category = sql.NullString{String: *txn.Category, Valid: true}
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO transactions (id, statement_id, position, date, description, amount, category,
				legitimate_repeat, suspected_duplicate, duplicate_of)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, txn.ID, stmt.ID, i, domain.FormatDate(txn.Date), txn.Description, txn.Amount.String(), category,
			txn.LegitimateRepeat, txn.SuspectedDuplicate, txn.DuplicateOf); err != nil {
			return "", fmt.Errorf("insert transaction %s: %w", txn.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("commit statement %s: %w", stmt.ID, err)
	}
	return stmt.ID, nil
}

// NeedsReview implements ledger.Store.
func (s *Store) NeedsReview(ctx context.Context) ([]*domain.Statement, error) {
	stmts, err := s.queryStatements(ctx, `
		SELECT `+statementColumns+` FROM statements
		WHERE status = ? AND (reconciled = 0 OR EXISTS (
			SELECT 1 FROM transactions t WHERE t.statement_id = statements.id AND t.suspected_duplicate = 1))
		ORDER BY account_id, period_end, seq
	`, string(domain.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("needs-review query: %w", err)
	}
	return stmts, nil
}

// Account returns a stored account.
func (s *Store) Account(ctx context.Context, id string) (*domain.Account, error) {
	var a domain.Account
	var typ string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, institution, institution_slug, type, masked_number FROM accounts WHERE id = ?
	`, id).Scan(&a.ID, &a.Institution, &a.InstitutionSlug, &typ, &a.MaskedNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", id, err)
	}
	a.Type = domain.AccountType(typ)
	return &a, nil
}

// Uncategorized implements ledger.CategoryStore.
func (s *Store) Uncategorized(ctx context.Context, limit int) ([]ledger.TransactionRef, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.statement_id, s.account_id, t.date, t.description, t.amount
		FROM transactions t JOIN statements s ON s.id = t.statement_id
		WHERE t.category IS NULL AND s.status = ?
		ORDER BY s.seq, t.position
		LIMIT ?
	`, string(domain.StatusActive), limit)
	if err != nil {
		return nil, fmt.Errorf("query uncategorized: %w", err)
	}
	defer rows.Close()

	var out []ledger.TransactionRef
	for rows.Next() {
		var ref ledger.TransactionRef
		var date, amount string
		if err := rows.Scan(&ref.Transaction.ID, &ref.StatementID, &ref.AccountID, &date,
			&ref.Transaction.Description, &amount); err != nil {
			return nil, fmt.Errorf("scan uncategorized: %w", err)
		}
		if ref.Transaction.Date, err = domain.ParseDate(date); err != nil {
			return nil, err
		}
		if ref.Transaction.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// SetCategory implements ledger.CategoryStore.
func (s *Store) SetCategory(ctx context.Context, transactionID, category string) error {
	if strings.TrimSpace(category) == "" {
		return fmt.Errorf("category cannot be empty")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE transactions SET category = ? WHERE id = ?`, category, transactionID)
	if err != nil {
		return fmt.Errorf("set category of %s: %w", transactionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s: %w", transactionID, ledger.ErrNotFound)
	}
	return nil
}
