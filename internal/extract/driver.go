// Package extract runs plugins inside a fault boundary and normalizes their
// output into canonical statements.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/dedup"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/registry"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/transform"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultRetryTimeout = 60 * time.Second
)

// ExtractionTimeoutError is returned when a plugin exceeded both the initial
// deadline and the longer retry deadline.
type ExtractionTimeoutError struct {
	Plugin   string
	Document string
	Timeouts []time.Duration
}

func (e *ExtractionTimeoutError) Error() string {
	return fmt.Sprintf("plugin %s timed out extracting %s (attempts: %v)", e.Plugin, e.Document, e.Timeouts)
}

// errAttemptTimedOut marks a single attempt that hit its own deadline while
// the caller's context was still live.
var errAttemptTimedOut = errors.New("extraction attempt timed out")

// Result is a normalized, not yet validated, statement plus its account.
type Result struct {
	Statement *domain.Statement
	Account   *domain.Account
}

// Driver invokes plugins. It never writes to persistent storage.
type Driver struct {
	timeout      time.Duration
	retryTimeout time.Duration
	currency     string
	log          zerolog.Logger
}

// NewDriver creates a driver. retryTimeout must be at least timeout.
// An empty currency means domain.DefaultCurrency.
func NewDriver(timeout, retryTimeout time.Duration, currency string, log zerolog.Logger) (*Driver, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("extraction timeout must be positive, got %s", timeout)
	}
	if retryTimeout < timeout {
		return nil, fmt.Errorf("retry timeout %s must not be shorter than timeout %s", retryTimeout, timeout)
	}
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	if _, err := domain.MinorUnits(currency); err != nil {
		return nil, err
	}
	return &Driver{
		timeout:      timeout,
		retryTimeout: retryTimeout,
		currency:     currency,
		log:          log.With().Str("component", "extract").Logger(),
	}, nil
}

// Run extracts and normalizes doc with the plugin in entry.
//
// Errors are *parser.ExtractionError for plugin failures, panics and
// normalization failures, *ExtractionTimeoutError when both attempts time
// out, or ctx.Err() if the caller's context ends first.
func (d *Driver) Run(ctx context.Context, entry registry.Entry, doc *parser.Document) (*Result, error) {
	desc := entry.Descriptor
	log := d.log.With().Str("plugin", desc.Name).Str("document", doc.String()).Logger()

	draft, err := d.attempt(ctx, entry.Plugin, doc, d.timeout)
	if errors.Is(err, errAttemptTimedOut) {
		log.Warn().Dur("timeout", d.timeout).Dur("retry_timeout", d.retryTimeout).Msg("extraction timed out; retrying once")
		draft, err = d.attempt(ctx, entry.Plugin, doc, d.retryTimeout)
		if errors.Is(err, errAttemptTimedOut) {
			return nil, &ExtractionTimeoutError{
				Plugin:   desc.Name,
				Document: doc.String(),
				Timeouts: []time.Duration{d.timeout, d.retryTimeout},
			}
		}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, asExtractionError(err, desc.Name, doc.String())
	}
	if draft == nil {
		return nil, &parser.ExtractionError{Plugin: desc.Name, Document: doc.String(), Reason: "plugin returned no statement"}
	}

	stmt, account, err := transform.Normalize(draft, transform.Source{
		Descriptor:      desc,
		DocumentName:    doc.Name,
		Meta:            doc.Meta,
		DefaultCurrency: d.currency,
	})
	if err != nil {
		return nil, &parser.ExtractionError{
			Plugin:   desc.Name,
			Document: doc.String(),
			Reason:   "normalization: " + err.Error(),
			Err:      err,
		}
	}

	stmt.Fingerprint = dedup.DocumentFingerprint(doc.Data)
	stmt.ContentDigest = dedup.ContentDigest(stmt)
	stmt.ID = transform.GenerateStatementID(stmt.PeriodStart, stmt.AccountID, stmt.Fingerprint)

	log.Debug().Str("statement_id", stmt.ID).Int("transactions", len(stmt.Transactions)).Msg("extracted statement")
	return &Result{Statement: stmt, Account: account}, nil
}

type attemptResult struct {
	draft *parser.DraftStatement
	err   error
}

// attempt runs one Extract call with its own deadline. The plugin runs in its
// own goroutine so a plugin that ignores ctx can't hold the worker; its
// result is discarded once the deadline passes.
func (d *Driver) attempt(ctx context.Context, p parser.Plugin, doc *parser.Document, timeout time.Duration) (*parser.DraftStatement, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: &parser.ExtractionError{Reason: fmt.Sprintf("plugin panicked: %v", r)}}
			}
		}()
		draft, err := p.Extract(callCtx, doc)
		done <- attemptResult{draft: draft, err: err}
	}()

	select {
	case r := <-done:
		if attemptTimedOut(ctx, callCtx, r.err) {
			return nil, errAttemptTimedOut
		}
		return r.draft, r.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errAttemptTimedOut
	}
}

// attemptTimedOut reports whether err is the attempt's own deadline coming
// back through the plugin. A plugin failure that merely lands after the
// deadline is still a failure.
func attemptTimedOut(parent, call context.Context, err error) bool {
	return parent.Err() == nil &&
		errors.Is(call.Err(), context.DeadlineExceeded) &&
		errors.Is(err, context.DeadlineExceeded)
}

func asExtractionError(err error, plugin, document string) *parser.ExtractionError {
	var extErr *parser.ExtractionError
	if errors.As(err, &extErr) {
		out := *extErr
		out.Plugin = plugin
		out.Document = document
		return &out
	}
	return &parser.ExtractionError{Plugin: plugin, Document: document, Reason: err.Error(), Err: err}
}
