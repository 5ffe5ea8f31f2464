package categorize

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/ledger"
)

// Report summarizes a categorization run.
type Report struct {
	Scanned    int            `json:"scanned"`
	Labeled    int            `json:"labeled"`
	Unmatched  int            `json:"unmatched"`
	ByCategory map[string]int `json:"byCategory"`
}

// Categorizer applies an Engine to the uncategorized transactions of a store.
type Categorizer struct {
	engine *Engine
	log    zerolog.Logger
}

// New returns a categorizer over engine.
func New(engine *Engine, log zerolog.Logger) *Categorizer {
	return &Categorizer{engine: engine, log: log.With().Str("component", "categorize").Logger()}
}

// Categorize labels up to limit uncategorized transactions of active
// statements. limit <= 0 means all of them. Transactions no rule matches are
// left uncategorized.
func (c *Categorizer) Categorize(ctx context.Context, store ledger.CategoryStore, limit int) (*Report, error) {
	refs, err := store.Uncategorized(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list uncategorized transactions: %w", err)
	}

	report := &Report{Scanned: len(refs), ByCategory: map[string]int{}}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		m, ok := c.engine.Match(ref.Transaction.Description)
		if !ok {
			report.Unmatched++
			continue
		}
		if err := store.SetCategory(ctx, ref.Transaction.ID, m.Category); err != nil {
			return report, fmt.Errorf("failed to categorize transaction %s: %w", ref.Transaction.ID, err)
		}
		report.Labeled++
		report.ByCategory[m.Category]++
		c.log.Debug().
			Str("transaction", ref.Transaction.ID).
			Str("category", m.Category).
			Str("rule", m.RuleName).
			Msg("Categorized transaction")
	}

	c.log.Info().
		Int("scanned", report.Scanned).
		Int("labeled", report.Labeled).
		Int("unmatched", report.Unmatched).
		Msg("Categorization complete")
	return report, nil
}
