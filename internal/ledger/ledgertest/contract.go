// Package ledgertest holds behavior tests every ledger.Store must pass.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/ledger"
)

// Account returns a fixture account.
func Account() *domain.Account {
	return &domain.Account{
		ID:              "acc-pnc-1234",
		Institution:     "PNC Bank",
		InstitutionSlug: "pnc",
		Type:            domain.AccountTypeChecking,
		MaskedNumber:    "****1234",
	}
}

// Statement returns a committed-shape fixture statement for the month
// starting at start (YYYY-MM-DD), with one transaction per amount.
func Statement(id, start string, opening string, amounts ...string) *domain.Statement {
	ps, err := domain.ParseDate(start)
	if err != nil {
		panic(err)
	}
	s := &domain.Statement{
		ID:             id,
		AccountID:      "acc-pnc-1234",
		PeriodStart:    ps,
		PeriodEnd:      ps.AddDate(0, 1, -1),
		OpeningBalance: decimal.RequireFromString(opening),
		Currency:       "USD",
		Fingerprint:    "fp-" + id,
		ContentDigest:  "digest-" + id,
		SourceName:     id + ".csv",
		PluginName:     "pnc-csv",
		PluginVersion:  "1.0.0",
		Status:         domain.StatusActive,
		Reconciled:     true,
		ImportedAt:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	total := s.OpeningBalance
	for i, a := range amounts {
		amt := decimal.RequireFromString(a)
		total = total.Add(amt)
		s.Transactions = append(s.Transactions, domain.Transaction{
			ID:          fmt.Sprintf("%s-t%03d", id, i+1),
			Date:        ps.AddDate(0, 0, i),
			Description: fmt.Sprintf("Transaction %d", i+1),
			Amount:      amt,
		})
	}
	s.ClosingBalance = total
	return s
}

// Run exercises the ledger.Store contract against stores built by open.
func Run(t *testing.T, open func(t *testing.T) ledger.Store) {
	ctx := context.Background()

	t.Run("CommitAndLoadTail", func(t *testing.T) {
		store := open(t)
		jan := Statement("s-jan", "2025-01-01", "1000.00", "250.00", "-50.00")
		feb := Statement("s-feb", "2025-02-01", "1200.00", "-50.00")

		id, err := store.Commit(ctx, jan, Account())
		require.NoError(t, err)
		assert.Equal(t, "s-jan", id)
		_, err = store.Commit(ctx, feb, Account())
		require.NoError(t, err)

		tail, err := store.LoadLedgerTail(ctx, "acc-pnc-1234", 12)
		require.NoError(t, err)
		require.Len(t, tail, 2)
		assert.Equal(t, "s-jan", tail[0].ID)
		assert.Equal(t, "s-feb", tail[1].ID)

		got := tail[0]
		assert.True(t, got.ClosingBalance.Equal(decimal.RequireFromString("1200.00")))
		assert.True(t, got.PeriodEnd.Equal(jan.PeriodEnd))
		require.Len(t, got.Transactions, 2)
		assert.Equal(t, "s-jan-t001", got.Transactions[0].ID)
		assert.True(t, got.Transactions[1].Amount.Equal(decimal.RequireFromString("-50")))
		assert.Nil(t, got.Transactions[0].Category)
		assert.Equal(t, domain.StatusActive, got.Status)
	})

	t.Run("TailLimitKeepsMostRecent", func(t *testing.T) {
		store := open(t)
		for i, start := range []string{"2025-01-01", "2025-02-01", "2025-03-01"} {
			_, err := store.Commit(ctx, Statement(fmt.Sprintf("s%d", i), start, "0"), Account())
			require.NoError(t, err)
		}
		tail, err := store.LoadLedgerTail(ctx, "acc-pnc-1234", 2)
		require.NoError(t, err)
		require.Len(t, tail, 2)
		assert.Equal(t, "s1", tail[0].ID)
		assert.Equal(t, "s2", tail[1].ID)

		other, err := store.LoadLedgerTail(ctx, "acc-other", 2)
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("LoadWindowReachesPastTail", func(t *testing.T) {
		store := open(t)
		for i, start := range []string{"2025-01-01", "2025-02-01", "2025-03-01", "2025-04-01"} {
			_, err := store.Commit(ctx, Statement(fmt.Sprintf("s%d", i), start, "0"), Account())
			require.NoError(t, err)
		}
		from, _ := domain.ParseDate("2025-01-31")
		to, _ := domain.ParseDate("2025-03-01")
		got, err := store.LoadWindow(ctx, "acc-pnc-1234", from, to)
		require.NoError(t, err)
		ids := make([]string, 0, len(got))
		for _, s := range got {
			ids = append(ids, s.ID)
		}
		assert.Equal(t, []string{"s0", "s1", "s2"}, ids)

		none, err := store.LoadWindow(ctx, "acc-pnc-1234", from.AddDate(1, 0, 0), to.AddDate(1, 0, 0))
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("FindByFingerprint", func(t *testing.T) {
		store := open(t)
		_, err := store.FindByFingerprint(ctx, "fp-missing")
		assert.ErrorIs(t, err, ledger.ErrNotFound)

		_, err = store.Commit(ctx, Statement("s-jan", "2025-01-01", "0"), Account())
		require.NoError(t, err)
		got, err := store.FindByFingerprint(ctx, "fp-s-jan")
		require.NoError(t, err)
		assert.Equal(t, "s-jan", got.ID)
	})

	t.Run("RejectsSameFingerprint", func(t *testing.T) {
		store := open(t)
		first := Statement("s-jan", "2025-01-01", "0")
		_, err := store.Commit(ctx, first, Account())
		require.NoError(t, err)

		again := Statement("s-jan-2", "2025-01-01", "0")
		again.Fingerprint = first.Fingerprint
		_, err = store.Commit(ctx, again, Account())
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)

		tail, err := store.LoadLedgerTail(ctx, "acc-pnc-1234", 0)
		require.NoError(t, err)
		assert.Len(t, tail, 1, "nothing from the rejected commit is visible")
	})

	t.Run("SupersedesAndChainBreak", func(t *testing.T) {
		store := open(t)
		feb := Statement("s-feb", "2025-02-01", "1200.00", "-50.00")
		_, err := store.Commit(ctx, feb, Account())
		require.NoError(t, err)

		corrected := Statement("s-feb-v2", "2025-02-01", "1300.00", "-50.00")
		corrected.Supersedes = []string{"s-feb"}
		corrected.Reconciled = false
		corrected.ChainBreak = &domain.ChainBreak{
			PreviousID: "s-jan",
			Expected:   decimal.RequireFromString("1150.00"),
			Actual:     decimal.RequireFromString("1300.00"),
		}
		_, err = store.Commit(ctx, corrected, Account())
		require.NoError(t, err)

		tail, err := store.LoadLedgerTail(ctx, "acc-pnc-1234", 0)
		require.NoError(t, err)
		require.Len(t, tail, 2, "both versions persist")
		assert.Equal(t, domain.StatusSuperseded, tail[0].Status)
		assert.Equal(t, domain.StatusActive, tail[1].Status)
		assert.Equal(t, []string{"s-feb"}, tail[1].Supersedes)
		require.NotNil(t, tail[1].ChainBreak)
		assert.True(t, tail[1].ChainBreak.Expected.Equal(decimal.RequireFromString("1150")))

		review, err := store.NeedsReview(ctx)
		require.NoError(t, err)
		require.Len(t, review, 1)
		assert.Equal(t, "s-feb-v2", review[0].ID)
	})

	t.Run("SupersedingUnknownStatementFails", func(t *testing.T) {
		store := open(t)
		s := Statement("s-jan", "2025-01-01", "0")
		s.Supersedes = []string{"missing"}
		_, err := store.Commit(ctx, s, Account())
		require.Error(t, err)

		_, err = store.FindByFingerprint(ctx, s.Fingerprint)
		assert.ErrorIs(t, err, ledger.ErrNotFound, "failed commit leaves no partial writes")
	})

	t.Run("NeedsReviewIncludesSuspectedDuplicates", func(t *testing.T) {
		store := open(t)
		s := Statement("s-jan", "2025-01-01", "0", "-10.00", "-10.00")
		s.Transactions[1].SuspectedDuplicate = true
		s.Transactions[1].DuplicateOf = "s-jan-t001"
		_, err := store.Commit(ctx, s, Account())
		require.NoError(t, err)
		_, err = store.Commit(ctx, Statement("s-feb", "2025-02-01", "-20.00"), Account())
		require.NoError(t, err)

		review, err := store.NeedsReview(ctx)
		require.NoError(t, err)
		require.Len(t, review, 1)
		assert.Equal(t, "s-jan", review[0].ID)
		assert.Equal(t, 1, review[0].SuspectedDuplicates())
		assert.Equal(t, "s-jan-t001", review[0].Transactions[1].DuplicateOf)
	})
}

// RunCategories exercises the ledger.CategoryStore contract.
func RunCategories(t *testing.T, open func(t *testing.T) ledger.Store) {
	ctx := context.Background()
	store := open(t)
	cats, ok := store.(ledger.CategoryStore)
	require.True(t, ok, "store does not implement ledger.CategoryStore")

	_, err := store.Commit(ctx, Statement("s-jan", "2025-01-01", "0", "-10.00", "-20.00", "-30.00"), Account())
	require.NoError(t, err)

	refs, err := cats.Uncategorized(ctx, 0)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, "s-jan", refs[0].StatementID)
	assert.Equal(t, "acc-pnc-1234", refs[0].AccountID)

	limited, err := cats.Uncategorized(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	require.NoError(t, cats.SetCategory(ctx, "s-jan-t002", "groceries"))
	refs, err = cats.Uncategorized(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	tail, err := store.LoadLedgerTail(ctx, "acc-pnc-1234", 1)
	require.NoError(t, err)
	require.NotNil(t, tail[0].Transactions[1].Category)
	assert.Equal(t, "groceries", *tail[0].Transactions[1].Category)

	err = cats.SetCategory(ctx, "missing", "x")
	assert.True(t, errors.Is(err, ledger.ErrNotFound), "got %v", err)
}
