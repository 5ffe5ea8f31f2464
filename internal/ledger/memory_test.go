package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/ledger"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/ledger/ledgertest"
)

func openMemory(t *testing.T) ledger.Store {
	return ledger.NewMemory()
}

func TestMemory_Contract(t *testing.T) {
	ledgertest.Run(t, openMemory)
}

func TestMemory_Categories(t *testing.T) {
	ledgertest.RunCategories(t, openMemory)
}

func TestMemory_FailCommit(t *testing.T) {
	m := ledger.NewMemory()
	m.FailCommit = errors.New("disk full")

	_, err := m.Commit(context.Background(), ledgertest.Statement("s", "2025-01-01", "0"), ledgertest.Account())
	require.Error(t, err)
	assert.Empty(t, m.Statements())
	_, ok := m.Account("acc-pnc-1234")
	assert.False(t, ok)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	m := ledger.NewMemory()
	ctx := context.Background()
	_, err := m.Commit(ctx, ledgertest.Statement("s", "2025-01-01", "0", "-1.00"), ledgertest.Account())
	require.NoError(t, err)

	tail, err := m.LoadLedgerTail(ctx, "acc-pnc-1234", 1)
	require.NoError(t, err)
	tail[0].Transactions[0].Description = "mutated"

	again, err := m.LoadLedgerTail(ctx, "acc-pnc-1234", 1)
	require.NoError(t, err)
	assert.Equal(t, "Transaction 1", again[0].Transactions[0].Description)
}

func TestMemory_CancelledContext(t *testing.T) {
	m := ledger.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Commit(ctx, ledgertest.Statement("s", "2025-01-01", "0"), ledgertest.Account())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, m.Statements())
}
