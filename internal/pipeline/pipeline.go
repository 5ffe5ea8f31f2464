// Package pipeline drives documents through dispatch, extraction,
// validation, reconciliation and commit.
//
// Each document is handled independently: a failure at any stage produces a
// rejected Outcome for that document and never aborts a batch. Statements for
// the same account are reconciled and committed one at a time; different
// accounts proceed in parallel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/dispatch"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/extract"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/ledger"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/reconcile"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/registry"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/streaming"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/validate"
)

// Config configures pipeline behavior
type Config struct {
	Concurrency int // documents processed in parallel by IngestBatch (default 4)
	TailSize    int // statements loaded per account for reconciliation (default 12)
	// Tolerance is the balance tolerance for validation and the balance
	// chain. Nil means one minor unit of the statement's currency.
	Tolerance *decimal.Decimal
	// DryRun runs every stage except commit.
	DryRun bool
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() Config {
	return Config{
		Concurrency: 4,
		TailSize:    ledger.DefaultTailSize,
	}
}

// Validate validates the pipeline configuration
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("Concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.TailSize < 1 {
		return fmt.Errorf("TailSize must be >= 1, got %d", c.TailSize)
	}
	if c.Tolerance != nil && c.Tolerance.IsNegative() {
		return fmt.Errorf("Tolerance must be >= 0, got %s", c.Tolerance)
	}
	return nil
}

// Pipeline ingests documents into a ledger.
type Pipeline struct {
	dispatcher *dispatch.Dispatcher
	driver     *extract.Driver
	store      ledger.Store
	locks      *reconcile.AccountLocks
	hub        *streaming.Hub
	log        zerolog.Logger
	config     Config
}

// Option is a functional option for configuring a Pipeline
type Option func(*Pipeline)

// WithConfig replaces the whole configuration.
func WithConfig(config Config) Option {
	return func(p *Pipeline) {
		p.config = config
	}
}

// WithConcurrency sets the number of documents processed in parallel
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		p.config.Concurrency = n
	}
}

// WithTailSize sets how many recent statements reconciliation reads
func WithTailSize(n int) Option {
	return func(p *Pipeline) {
		p.config.TailSize = n
	}
}

// WithTolerance sets a fixed balance tolerance for every currency
func WithTolerance(tolerance decimal.Decimal) Option {
	return func(p *Pipeline) {
		p.config.Tolerance = &tolerance
	}
}

// WithDryRun skips the commit stage
func WithDryRun(dryRun bool) Option {
	return func(p *Pipeline) {
		p.config.DryRun = dryRun
	}
}

// WithDriver sets the extraction driver
func WithDriver(d *extract.Driver) Option {
	return func(p *Pipeline) {
		p.driver = d
	}
}

// WithHub publishes batch progress to hub
func WithHub(hub *streaming.Hub) Option {
	return func(p *Pipeline) {
		p.hub = hub
	}
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

// WithLocks shares per-account locks between pipelines writing to the same
// store.
func WithLocks(locks *reconcile.AccountLocks) Option {
	return func(p *Pipeline) {
		p.locks = locks
	}
}

// New creates a pipeline over reg and store.
func New(reg *registry.Registry, store ledger.Store, opts ...Option) (*Pipeline, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}

	p := &Pipeline{
		store:  store,
		log:    zerolog.Nop(),
		config: DefaultConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}

	p.log = p.log.With().Str("component", "pipeline").Logger()
	if p.driver == nil {
		d, err := extract.NewDriver(extract.DefaultTimeout, extract.DefaultRetryTimeout, "", p.log)
		if err != nil {
			return nil, err
		}
		p.driver = d
	}
	if p.locks == nil {
		p.locks = reconcile.NewAccountLocks()
	}
	p.dispatcher = dispatch.New(reg, p.log)
	return p, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.config }

// Ingest runs one document through every stage.
func (p *Pipeline) Ingest(ctx context.Context, doc *parser.Document) Outcome {
	start := time.Now()
	out := p.ingest(ctx, doc)
	out.DryRun = p.config.DryRun
	out.Duration = time.Since(start)
	p.logOutcome(out)
	return out
}

func (p *Pipeline) ingest(ctx context.Context, doc *parser.Document) Outcome {
	out := Outcome{Document: doc.String()}
	if err := ctx.Err(); err != nil {
		return cancelled(out, StageDispatch, err)
	}

	entry, err := p.dispatcher.Select(doc)
	if err != nil {
		return rejected(out, StageDispatch, err)
	}
	out.Plugin = entry.Descriptor.Name

	extracted, err := p.driver.Run(ctx, entry, doc)
	if err != nil {
		return p.fail(ctx, out, StageExtract, err)
	}
	stmt := extracted.Statement
	out.StatementID = stmt.ID
	out.AccountID = stmt.AccountID
	out.Transactions = len(stmt.Transactions)

	tolerance := p.tolerance(stmt.Currency)
	validated, err := validate.Validate(stmt, tolerance)
	if err != nil {
		return rejected(out, StageValidate, err)
	}
	out.Warnings = validated.Warnings

	release, err := p.locks.Acquire(ctx, stmt.AccountID)
	if err != nil {
		return cancelled(out, StageReconcile, err)
	}
	defer release()

	history, err := p.history(ctx, stmt)
	if err != nil {
		return p.fail(ctx, out, StageReconcile, err)
	}
	engine, err := reconcile.NewEngine(tolerance)
	if err != nil {
		return rejected(out, StageReconcile, err)
	}
	res, err := engine.Reconcile(validated, history)
	if err != nil {
		var dup *reconcile.DuplicateStatementError
		if errors.As(err, &dup) {
			out.Status = StatusSkippedDuplicate
			out.ExistingID = dup.ExistingID
			out.Err = err
			return out
		}
		return rejected(out, StageReconcile, err)
	}

	out.Predecessor = res.Predecessor
	out.ChainError = res.ChainError
	out.Superseded = res.Superseded
	out.Duplicates = res.Duplicates
	out.Status = StatusCommitted
	if res.ChainError != nil {
		out.Status = StatusUnreconciled
	}
	if p.config.DryRun {
		return out
	}

	// Nothing is committed once the batch is cancelled.
	if err := ctx.Err(); err != nil {
		return cancelled(out, StageCommit, err)
	}
	res.Statement.ImportedAt = time.Now().UTC()
	id, err := p.store.Commit(ctx, res.Statement, extracted.Account)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			out.Status = StatusSkippedDuplicate
			out.Err = err
			return out
		}
		return p.fail(ctx, out, StageCommit, err)
	}
	out.StatementID = id
	return out
}

// history loads the account tail, the statements overlapping or adjacent to
// the new period, and any statement with the same fingerprint. The window
// covers backfills older than the tail.
func (p *Pipeline) history(ctx context.Context, stmt *domain.Statement) (reconcile.History, error) {
	tail, err := p.store.LoadLedgerTail(ctx, stmt.AccountID, p.config.TailSize)
	if err != nil {
		return reconcile.History{}, fmt.Errorf("load ledger tail: %w", err)
	}
	window, err := p.store.LoadWindow(ctx, stmt.AccountID, stmt.PeriodStart.AddDate(0, 0, -1), stmt.PeriodEnd.AddDate(0, 0, 1))
	if err != nil {
		return reconcile.History{}, fmt.Errorf("load statements around %s..%s: %w",
			domain.FormatDate(stmt.PeriodStart), domain.FormatDate(stmt.PeriodEnd), err)
	}
	seen := make(map[string]bool, len(tail))
	for _, s := range tail {
		seen[s.ID] = true
	}
	for _, s := range window {
		if !seen[s.ID] {
			tail = append(tail, s)
			seen[s.ID] = true
		}
	}
	ledger.SortTail(tail)

	same, err := p.store.FindByFingerprint(ctx, stmt.Fingerprint)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return reconcile.History{}, fmt.Errorf("fingerprint lookup: %w", err)
	}
	return reconcile.History{Tail: tail, SameFingerprint: same}, nil
}

func (p *Pipeline) tolerance(currency string) decimal.Decimal {
	if p.config.Tolerance != nil {
		return *p.config.Tolerance
	}
	return validate.DefaultTolerance(currency)
}

// fail classifies err as a cancellation when ctx has ended, otherwise as a
// rejection at stage.
func (p *Pipeline) fail(ctx context.Context, out Outcome, stage Stage, err error) Outcome {
	if ctx.Err() != nil {
		return cancelled(out, stage, err)
	}
	return rejected(out, stage, err)
}

func rejected(out Outcome, stage Stage, err error) Outcome {
	out.Status = StatusRejected
	out.Stage = stage
	out.Err = err
	return out
}

func cancelled(out Outcome, stage Stage, err error) Outcome {
	out.Status = StatusCancelled
	out.Stage = stage
	out.Err = err
	return out
}

func (p *Pipeline) logOutcome(out Outcome) {
	var ev *zerolog.Event
	switch out.Status {
	case StatusRejected:
		ev = p.log.Warn().Err(out.Err).Str("stage", string(out.Stage))
	case StatusUnreconciled:
		ev = p.log.Warn().Str("predecessor", out.Predecessor)
		if out.ChainError != nil {
			ev = ev.Str("expected", out.ChainError.Expected.StringFixed(2)).
				Str("actual", out.ChainError.Actual.StringFixed(2))
		}
	case StatusSkippedDuplicate:
		ev = p.log.Info().Str("existing_id", out.ExistingID)
	case StatusCancelled:
		ev = p.log.Debug().Str("stage", string(out.Stage))
	default:
		ev = p.log.Info()
	}
	ev.Str("document", out.Document).
		Str("plugin", out.Plugin).
		Str("account", out.AccountID).
		Str("statement_id", out.StatementID).
		Str("status", string(out.Status)).
		Int("duplicates", out.Duplicates).
		Bool("dry_run", out.DryRun).
		Dur("duration", out.Duration).
		Msg("document ingested")
}
