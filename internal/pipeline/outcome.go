package pipeline

import (
	"time"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/reconcile"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/validate"
)

// Status is the per-document result of ingestion.
type Status string

const (
	StatusCommitted        Status = "committed"
	StatusUnreconciled     Status = "unreconciled"
	StatusSkippedDuplicate Status = "skipped-duplicate"
	StatusRejected         Status = "rejected"
	StatusCancelled        Status = "cancelled"
)

// Statuses lists every status in report order.
var Statuses = []Status{StatusCommitted, StatusUnreconciled, StatusSkippedDuplicate, StatusRejected, StatusCancelled}

// Accepted reports whether the statement reached (or, in dry-run, would
// reach) the ledger.
func (s Status) Accepted() bool {
	return s == StatusCommitted || s == StatusUnreconciled
}

// Stage names the pipeline step a document was rejected at.
type Stage string

const (
	StageDispatch  Stage = "dispatch"
	StageExtract   Stage = "extract"
	StageValidate  Stage = "validate"
	StageReconcile Stage = "reconcile"
	StageCommit    Stage = "commit"
)

// Outcome describes what happened to one document.
type Outcome struct {
	Index    int
	Document string
	Plugin   string
	Status   Status
	// Stage is set for rejected and cancelled documents.
	Stage Stage
	Err   error

	StatementID string
	AccountID   string
	// ExistingID is the already-committed statement a duplicate matched.
	ExistingID   string
	Predecessor  string
	ChainError   *reconcile.BalanceChainError
	Superseded   []string
	Transactions int
	Duplicates   int
	Warnings     []validate.Warning
	DryRun       bool
	Duration     time.Duration
}

// BatchResult holds the outcomes of a batch in input order.
type BatchResult struct {
	BatchID  string
	Outcomes []Outcome
	Duration time.Duration
	// Cancelled is set when the batch context ended before every document ran.
	Cancelled bool
}

// Count returns the number of outcomes with the given status.
func (r *BatchResult) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Counts returns outcome counts keyed by status.
func (r *BatchResult) Counts() map[string]int {
	counts := make(map[string]int, len(Statuses))
	for _, s := range Statuses {
		counts[string(s)] = r.Count(s)
	}
	return counts
}

// Rejected returns the rejected outcomes.
func (r *BatchResult) Rejected() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusRejected {
			out = append(out, o)
		}
	}
	return out
}
