// Package ui prints human-facing progress and reports to the terminal.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/output"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow, color.Bold)
	blue   = color.New(color.FgBlue)
	red    = color.New(color.FgRed)
)

// Out is where the package-level helpers print.
var Out io.Writer = color.Output

// Header prints a formatted header
func Header(text string) {
	line := strings.Repeat("=", 60)
	green.Fprintf(Out, "\n%s\n", line)
	green.Fprintf(Out, "%-60s\n", center(text, 60))
	green.Fprintf(Out, "%s\n\n", line)
}

// Step prints a step indicator
func Step(stepNum, totalSteps int, text string) {
	yellow.Fprintf(Out, "[%d/%d] %s\n", stepNum, totalSteps, text)
}

// Success prints a success message
func Success(text string) {
	green.Fprintf(Out, "  → %s\n", text)
}

// Info prints an info message
func Info(text string) {
	fmt.Fprintf(Out, "  → %s\n", text)
}

// Warning prints a warning message
func Warning(text string) {
	yellow.Fprintf(Out, "  ⚠ %s\n", text)
}

// Error prints an error message
func Error(text string) {
	red.Fprintf(Out, "Error: %s\n", text)
}

// BlueText prints blue text
func BlueText(text string) {
	blue.Fprintln(Out, text)
}

// YellowText prints yellow text
func YellowText(text string) {
	yellow.Fprintln(Out, text)
}

// center centers text within a given width
func center(text string, width int) string {
	if len(text) >= width {
		return text
	}
	padding := (width - len(text)) / 2
	return strings.Repeat(" ", padding) + text
}

// statusColor picks the color a document status is printed in.
func statusColor(status string) *color.Color {
	switch status {
	case "committed":
		return green
	case "unreconciled", "skipped-duplicate":
		return yellow
	case "rejected", "cancelled":
		return red
	}
	return blue
}

// Report prints one line per document followed by the status counts.
func Report(w io.Writer, r *output.Report) {
	for _, d := range r.Documents {
		statusColor(d.Status).Fprintf(w, "%-18s", d.Status)
		fmt.Fprintf(w, " %s", d.Document)
		if d.Plugin != "" {
			fmt.Fprintf(w, " [%s]", d.Plugin)
		}
		fmt.Fprintln(w)

		switch {
		case d.Error != "":
			fmt.Fprintf(w, "    %s: %s\n", d.Stage, d.Error)
		case d.ChainError != "":
			fmt.Fprintf(w, "    %s\n", d.ChainError)
		case d.ExistingID != "":
			fmt.Fprintf(w, "    already imported as %s\n", d.ExistingID)
		}
		if d.Duplicates > 0 {
			fmt.Fprintf(w, "    %d suspected duplicate transaction(s)\n", d.Duplicates)
		}
		for _, warn := range d.Warnings {
			fmt.Fprintf(w, "    warning: %s\n", warn)
		}
	}
	for _, u := range r.Unreadable {
		red.Fprintf(w, "%-18s", "unreadable")
		fmt.Fprintf(w, " %s\n    %s\n", u.Path, u.Error)
	}

	fmt.Fprintln(w)
	var parts []string
	for _, status := range []string{"committed", "unreconciled", "skipped-duplicate", "rejected", "cancelled"} {
		if n := r.Counts[status]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, status))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "no documents")
	}
	mode := ""
	if r.DryRun {
		mode = " (dry run, nothing committed)"
	}
	fmt.Fprintf(w, "%s in %s%s\n", strings.Join(parts, ", "), r.Duration(), mode)
}

// Plugins prints the registered plugin descriptors.
func Plugins(w io.Writer, descs []parser.Descriptor) {
	for _, d := range descs {
		blue.Fprintf(w, "%s", d.Name)
		fmt.Fprintf(w, " v%s  %s  %s (%s)\n", d.Version, d.Suffix, d.Institution, d.StatementType)
		fmt.Fprintf(w, "    signature: %s\n", strings.Join(d.Signature, " | "))
		if d.Instructions != "" {
			fmt.Fprintf(w, "    download: %s\n", d.Instructions)
		}
	}
}

// Review prints statements that need a human look.
func Review(w io.Writer, stmts []*domain.Statement) {
	if len(stmts) == 0 {
		green.Fprintln(w, "Nothing to review.")
		return
	}
	for _, s := range stmts {
		yellow.Fprintf(w, "%s", s.ID)
		fmt.Fprintf(w, "  %s  %s..%s  %s\n", s.AccountID,
			domain.FormatDate(s.PeriodStart), domain.FormatDate(s.PeriodEnd), s.SourceName)
		if s.ChainBreak != nil {
			fmt.Fprintf(w, "    balance chain: expected opening %s after %s, statement says %s\n",
				s.ChainBreak.Expected.StringFixed(2), s.ChainBreak.PreviousID, s.ChainBreak.Actual.StringFixed(2))
		}
		if n := s.SuspectedDuplicates(); n > 0 {
			fmt.Fprintf(w, "    %d suspected duplicate transaction(s)\n", n)
		}
	}
}
