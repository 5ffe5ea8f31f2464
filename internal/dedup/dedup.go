// Package dedup provides the content fingerprints used for duplicate
// statement and duplicate transaction detection.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
)

// DocumentFingerprint is the SHA256 of the raw document bytes. Two uploads
// with the same fingerprint are byte-identical.
func DocumentFingerprint(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ContentDigest hashes the normalized content of a statement: account,
// period, balances and every transaction in order. A re-export of the same
// statement in a different file format produces the same digest.
func ContentDigest(stmt *domain.Statement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%s|%s|%s\n",
		stmt.AccountID,
		domain.FormatDate(stmt.PeriodStart), domain.FormatDate(stmt.PeriodEnd),
		stmt.OpeningBalance.StringFixed(4), stmt.ClosingBalance.StringFixed(4),
		stmt.Currency)
	for _, txn := range stmt.Transactions {
		b.WriteString(TransactionKey(txn.Date, txn.Amount, txn.Description))
		b.WriteByte('\n')
	}
	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:])
}

// TransactionKey creates a SHA256 hash of date, amount, and description.
// Format: SHA256("{date}|{amount}|{normalizedDescription}")
// Amount is formatted with 4 decimal places so every minor-unit precision
// compares consistently. Description is normalized: lowercase, whitespace
// collapsed.
func TransactionKey(date time.Time, amount decimal.Decimal, description string) string {
	normalizedDesc := strings.ToLower(strings.Join(strings.Fields(description), " "))
	input := fmt.Sprintf("%s|%s|%s", domain.FormatDate(date), amount.StringFixed(4), normalizedDesc)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

// Index records which transaction first carried each transaction key.
type Index struct {
	keys map[string]*Record
}

// Record tracks one transaction key across observations.
type Record struct {
	TransactionID string
	StatementID   string
	Count         int
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{keys: make(map[string]*Record)}
}

// Lookup returns the first transaction recorded under key.
func (x *Index) Lookup(key string) (*Record, bool) {
	r, ok := x.keys[key]
	return r, ok
}

// Add records a transaction. The first observation of a key is kept;
// later ones only increment Count.
func (x *Index) Add(key, transactionID, statementID string) error {
	if key == "" {
		return fmt.Errorf("transaction key cannot be empty")
	}
	if r, exists := x.keys[key]; exists {
		r.Count++
		return nil
	}
	x.keys[key] = &Record{TransactionID: transactionID, StatementID: statementID, Count: 1}
	return nil
}

// Len returns the number of distinct keys.
func (x *Index) Len() int { return len(x.keys) }
