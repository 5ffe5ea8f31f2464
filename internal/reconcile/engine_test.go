package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/validate"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(s string) time.Time {
	t, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func tx(date, desc, amount string) domain.Transaction {
	return domain.Transaction{Date: day(date), Description: desc, Amount: dec(amount)}
}

func stmt(id, start, end, opening, closing string, txns ...domain.Transaction) *domain.Statement {
	s := &domain.Statement{
		ID:             id,
		AccountID:      "acc-a1-0001",
		PeriodStart:    day(start),
		PeriodEnd:      day(end),
		OpeningBalance: dec(opening),
		ClosingBalance: dec(closing),
		Currency:       "USD",
		Transactions:   txns,
		Fingerprint:    "fp-" + id,
		ContentDigest:  "digest-" + id,
		Status:         domain.StatusActive,
		Reconciled:     true,
	}
	for i := range s.Transactions {
		s.Transactions[i].ID = id + "-t" + string(rune('1'+i))
	}
	return s
}

func validated(s *domain.Statement) *validate.ValidatedStatement {
	return &validate.ValidatedStatement{Statement: s}
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(dec("0.01"))
	require.NoError(t, err)
	return e
}

func TestNewEngine_NegativeTolerance(t *testing.T) {
	_, err := NewEngine(dec("-1"))
	assert.Error(t, err)
}

func TestReconcile_FirstStatement(t *testing.T) {
	s1 := stmt("s1", "2025-01-01", "2025-01-31", "1000.00", "1200.00",
		tx("2025-01-05", "Payroll", "250.00"),
		tx("2025-01-20", "Groceries", "-50.00"))

	res, err := newEngine(t).Reconcile(validated(s1), History{})
	require.NoError(t, err)
	assert.Nil(t, res.ChainError)
	assert.Empty(t, res.Predecessor)
	assert.True(t, res.Statement.Reconciled)
	assert.Equal(t, "s1-t001", res.Statement.Transactions[0].ID)
	assert.Equal(t, "s1-t002", res.Statement.Transactions[1].ID)
	assert.Zero(t, res.Duplicates)
}

func TestReconcile_ChainsAgainstPredecessor(t *testing.T) {
	s1 := stmt("s1", "2025-01-01", "2025-01-31", "1000.00", "1200.00")
	s2 := stmt("s2", "2025-02-01", "2025-02-28", "1200.00", "1150.00", tx("2025-02-03", "Rent", "-50.00"))

	res, err := newEngine(t).Reconcile(validated(s2), History{Tail: []*domain.Statement{s1}})
	require.NoError(t, err)
	assert.Nil(t, res.ChainError)
	assert.Equal(t, "s1", res.Predecessor)
	assert.True(t, res.Statement.Reconciled)
	assert.Empty(t, res.Superseded)
}

func TestReconcile_ChainWithinTolerance(t *testing.T) {
	s1 := stmt("s1", "2025-01-01", "2025-01-31", "1000.00", "1200.00")
	s2 := stmt("s2", "2025-02-01", "2025-02-28", "1200.01", "1200.01")

	res, err := newEngine(t).Reconcile(validated(s2), History{Tail: []*domain.Statement{s1}})
	require.NoError(t, err)
	assert.Nil(t, res.ChainError)
}

func TestReconcile_DuplicateFingerprint(t *testing.T) {
	s2 := stmt("s2", "2025-02-01", "2025-02-28", "1200.00", "1150.00")
	s2b := s2.Clone()
	s2b.ID = "s2b"

	_, err := newEngine(t).Reconcile(validated(s2b), History{SameFingerprint: s2})
	var dup *DuplicateStatementError
	require.True(t, errors.As(err, &dup), "got %v", err)
	assert.Equal(t, "s2", dup.ExistingID)
	assert.True(t, dup.SameBytes)

	_, err = newEngine(t).Reconcile(validated(s2b), History{Tail: []*domain.Statement{s2}})
	require.True(t, errors.As(err, &dup))
}

func TestReconcile_DuplicateContent(t *testing.T) {
	s2 := stmt("s2", "2025-02-01", "2025-02-28", "1200.00", "1150.00")
	reexport := s2.Clone()
	reexport.ID = "s2-ofx"
	reexport.Fingerprint = "different-bytes"

	_, err := newEngine(t).Reconcile(validated(reexport), History{Tail: []*domain.Statement{s2}})
	var dup *DuplicateStatementError
	require.True(t, errors.As(err, &dup), "got %v", err)
	assert.False(t, dup.SameBytes)
	assert.Equal(t, "s2", dup.ExistingID)
}

// S3 restates February with an opening balance that doesn't follow January.
func TestReconcile_CorrectedStatementSupersedesAndBreaksChain(t *testing.T) {
	s1 := stmt("s1", "2025-01-01", "2025-01-31", "1000.00", "1200.00")
	s2 := stmt("s2", "2025-02-01", "2025-02-28", "1200.00", "1150.00", tx("2025-02-03", "Rent", "-50.00"))
	s3 := stmt("s3", "2025-02-01", "2025-02-28", "1300.00", "1250.00", tx("2025-02-03", "Rent", "-50.00"))

	res, err := newEngine(t).Reconcile(validated(s3), History{Tail: []*domain.Statement{s1, s2}})
	require.NoError(t, err)

	require.NotNil(t, res.ChainError)
	assert.True(t, res.ChainError.Expected.Equal(dec("1150.00")))
	assert.True(t, res.ChainError.Actual.Equal(dec("1300.00")))
	assert.Equal(t, "s2", res.ChainError.PreviousID)
	assert.False(t, res.Statement.Reconciled)
	require.NotNil(t, res.Statement.ChainBreak)
	assert.Equal(t, []string{"s2"}, res.Statement.Supersedes)

	// The superseded statement's transactions are replaced, not duplicated.
	assert.Zero(t, res.Duplicates)
	assert.Contains(t, res.ChainError.Error(), "expected opening 1150.00, got 1300.00")
}

func TestReconcile_GapHasNoPredecessor(t *testing.T) {
	s1 := stmt("s1", "2025-01-01", "2025-01-31", "1000.00", "1200.00")
	s3 := stmt("s3", "2025-03-01", "2025-03-31", "900.00", "900.00")

	res, err := newEngine(t).Reconcile(validated(s3), History{Tail: []*domain.Statement{s1}})
	require.NoError(t, err)
	assert.Nil(t, res.ChainError)
	assert.Empty(t, res.Predecessor)
	assert.True(t, res.Statement.Reconciled)
}

func TestReconcile_SupersededStatementsAreIgnored(t *testing.T) {
	old := stmt("s1-old", "2025-01-01", "2025-01-31", "1000.00", "999.00")
	old.Status = domain.StatusSuperseded
	s1 := stmt("s1", "2025-01-01", "2025-01-31", "1000.00", "1200.00")
	s2 := stmt("s2", "2025-02-01", "2025-02-28", "1200.00", "1200.00")

	res, err := newEngine(t).Reconcile(validated(s2), History{Tail: []*domain.Statement{old, s1}})
	require.NoError(t, err)
	assert.Equal(t, "s1", res.Predecessor)
	assert.Nil(t, res.ChainError)
}

func TestReconcile_FlagsDuplicateTransactions(t *testing.T) {
	s1 := stmt("s1", "2025-01-01", "2025-01-31", "1000.00", "990.00",
		tx("2025-01-31", "Coffee  Shop", "-10.00"))
	s2 := stmt("s2", "2025-02-01", "2025-02-28", "990.00", "960.00",
		tx("2025-01-31", "coffee shop", "-10.00"), // carried over from January
		tx("2025-02-02", "Gym", "-10.00"),
		tx("2025-02-02", "Gym", "-10.00"))

	res, err := newEngine(t).Reconcile(validated(s2), History{Tail: []*domain.Statement{s1}})
	require.NoError(t, err)

	txns := res.Statement.Transactions
	assert.True(t, txns[0].SuspectedDuplicate)
	assert.Equal(t, "s1-t1", txns[0].DuplicateOf)
	assert.False(t, txns[1].SuspectedDuplicate)
	assert.True(t, txns[2].SuspectedDuplicate)
	assert.Equal(t, "s2-t002", txns[2].DuplicateOf)
	assert.Equal(t, 2, res.Duplicates)
	assert.Len(t, txns, 3, "flagged transactions are retained")
	assert.True(t, res.Statement.NeedsReview())
}

func TestReconcile_LegitimateRepeatIsNotFlagged(t *testing.T) {
	repeat := tx("2025-02-02", "Gym", "-10.00")
	repeat.LegitimateRepeat = true
	s2 := stmt("s2", "2025-02-01", "2025-02-28", "1000.00", "980.00",
		tx("2025-02-02", "Gym", "-10.00"), repeat)

	res, err := newEngine(t).Reconcile(validated(s2), History{})
	require.NoError(t, err)
	assert.Zero(t, res.Duplicates)
}

func TestReconcile_DoesNotMutateInput(t *testing.T) {
	s2 := stmt("s2", "2025-02-01", "2025-02-28", "1000.00", "980.00",
		tx("2025-02-02", "Gym", "-10.00"), tx("2025-02-02", "Gym", "-10.00"))
	in := validated(s2)

	_, err := newEngine(t).Reconcile(in, History{})
	require.NoError(t, err)
	assert.False(t, in.Statement.Transactions[1].SuspectedDuplicate)
	assert.Equal(t, "s2-t2", in.Statement.Transactions[1].ID)
}

func TestReconcile_Nil(t *testing.T) {
	_, err := newEngine(t).Reconcile(nil, History{})
	assert.Error(t, err)
}

func TestAccountLocks_SerializesSameAccount(t *testing.T) {
	locks := NewAccountLocks()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.Acquire(context.Background(), "acc-1")
			if err != nil {
				t.Error(err)
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Zero(t, locks.Len(), "idle accounts are dropped from the table")
}

func TestAccountLocks_DifferentAccountsDoNotBlock(t *testing.T) {
	locks := NewAccountLocks()
	releaseA, err := locks.Acquire(context.Background(), "acc-a")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := locks.Acquire(ctx, "acc-b")
	require.NoError(t, err)
	releaseB()
}

func TestAccountLocks_AcquireHonorsContext(t *testing.T) {
	locks := NewAccountLocks()
	release, err := locks.Acquire(context.Background(), "acc-a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locks.Acquire(ctx, "acc-a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // idempotent
	assert.Zero(t, locks.Len())
}
