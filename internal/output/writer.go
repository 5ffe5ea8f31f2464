// Package output writes ingestion reports as JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/pipeline"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/scanner"
)

// Report is the JSON form of a batch run.
type Report struct {
	BatchID    string             `json:"batchId"`
	DryRun     bool               `json:"dryRun"`
	Cancelled  bool               `json:"cancelled"`
	DurationMS int64              `json:"durationMs"`
	Counts     map[string]int     `json:"counts"`
	Documents  []DocumentReport   `json:"documents"`
	Unreadable []UnreadableReport `json:"unreadable,omitempty"`
}

// DocumentReport is one document's outcome.
type DocumentReport struct {
	Document     string   `json:"document"`
	Plugin       string   `json:"plugin,omitempty"`
	Status       string   `json:"status"`
	Stage        string   `json:"stage,omitempty"`
	Error        string   `json:"error,omitempty"`
	StatementID  string   `json:"statementId,omitempty"`
	AccountID    string   `json:"accountId,omitempty"`
	ExistingID   string   `json:"existingId,omitempty"`
	Predecessor  string   `json:"predecessor,omitempty"`
	ChainError   string   `json:"chainError,omitempty"`
	Superseded   []string `json:"superseded,omitempty"`
	Transactions int      `json:"transactions"`
	Duplicates   int      `json:"duplicates,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// UnreadableReport is a file that never reached the pipeline.
type UnreadableReport struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// NewReport converts a batch result. unreadable lists the files that failed
// to load before ingestion.
func NewReport(result *pipeline.BatchResult, unreadable []scanner.LoadError) *Report {
	r := &Report{
		BatchID:    result.BatchID,
		Cancelled:  result.Cancelled,
		DurationMS: result.Duration.Milliseconds(),
		Counts:     result.Counts(),
		Documents:  make([]DocumentReport, 0, len(result.Outcomes)),
	}
	for _, o := range result.Outcomes {
		if o.DryRun {
			r.DryRun = true
		}
		r.Documents = append(r.Documents, documentReport(o))
	}
	for _, u := range unreadable {
		r.Unreadable = append(r.Unreadable, UnreadableReport{Path: u.Path, Error: u.Err.Error()})
	}
	return r
}

func documentReport(o pipeline.Outcome) DocumentReport {
	d := DocumentReport{
		Document:     o.Document,
		Plugin:       o.Plugin,
		Status:       string(o.Status),
		Stage:        string(o.Stage),
		StatementID:  o.StatementID,
		AccountID:    o.AccountID,
		ExistingID:   o.ExistingID,
		Predecessor:  o.Predecessor,
		Superseded:   o.Superseded,
		Transactions: o.Transactions,
		Duplicates:   o.Duplicates,
	}
	if o.Err != nil {
		d.Error = o.Err.Error()
	}
	if o.ChainError != nil {
		d.ChainError = o.ChainError.Error()
	}
	for _, w := range o.Warnings {
		d.Warnings = append(d.Warnings, w.String())
	}
	return d
}

// Failed reports whether any document was rejected or unreadable.
func (r *Report) Failed() bool {
	return r.Counts[string(pipeline.StatusRejected)] > 0 || len(r.Unreadable) > 0
}

// Duration returns the run duration.
func (r *Report) Duration() time.Duration {
	return time.Duration(r.DurationMS) * time.Millisecond
}

// WriteReport serializes the report to JSON with 2-space indentation
func WriteReport(report *Report, w io.Writer) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report as JSON: %w", err)
	}
	return nil
}

// WriteReportToFile writes the report to path, or stdout when path is empty.
func WriteReportToFile(report *Report, path string) (err error) {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}
	if path == "" {
		return WriteReport(report, os.Stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close output file %s: %w", path, closeErr)
		}
	}()

	if err = WriteReport(report, f); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// LoadReport reads a report written by WriteReportToFile.
func LoadReport(path string) (*Report, error) {
	if path == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	f, err := os.Open(path)
	if err != nil {
		// Unwrapped so callers can check os.IsNotExist.
		return nil, err
	}
	defer f.Close()

	var report Report
	if err := json.NewDecoder(f).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode report JSON: %w", err)
	}
	return &report, nil
}

// Regression is a document whose result got worse against a baseline.
type Regression struct {
	Document string
	Was      string
	Now      string
}

// Compare returns the documents that were accepted in baseline but are not
// accepted now, or are now handled by a different plugin. Documents missing
// from either report are ignored.
func Compare(baseline, current *Report) []Regression {
	before := make(map[string]DocumentReport, len(baseline.Documents))
	for _, d := range baseline.Documents {
		before[d.Document] = d
	}

	var out []Regression
	for _, d := range current.Documents {
		b, ok := before[d.Document]
		if !ok || !accepted(b.Status) {
			continue
		}
		switch {
		case !accepted(d.Status):
			out = append(out, Regression{Document: d.Document, Was: b.Status, Now: d.Status})
		case b.Plugin != d.Plugin:
			out = append(out, Regression{Document: d.Document, Was: "plugin " + b.Plugin, Now: "plugin " + d.Plugin})
		}
	}
	return out
}

func accepted(status string) bool {
	return pipeline.Status(status).Accepted()
}
