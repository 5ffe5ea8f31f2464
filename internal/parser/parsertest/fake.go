// Package parsertest provides a configurable plugin for tests.
package parsertest

import (
	"context"
	"strings"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/signature"
)

// Plugin is a parser.Plugin whose behavior is set by its fields.
// With MatchFunc nil, Match evaluates the descriptor signature against the
// document text. With ExtractFunc nil, Extract returns Draft.
type Plugin struct {
	Desc        parser.Descriptor
	MatchFunc   func(doc *parser.Document) bool
	ExtractFunc func(ctx context.Context, doc *parser.Document) (*parser.DraftStatement, error)
	Draft       *parser.DraftStatement
}

// New returns a fake plugin with a valid descriptor.
func New(name, suffix string, sig ...string) *Plugin {
	if len(sig) == 0 {
		sig = []string{name}
	}
	return &Plugin{
		Desc: parser.Descriptor{
			Name:          name,
			Version:       "1.0.0",
			Suffix:        suffix,
			Institution:   "Test Bank",
			StatementType: "checking",
			Signature:     sig,
		},
	}
}

// Descriptor implements parser.Plugin.
func (p *Plugin) Descriptor() parser.Descriptor { return p.Desc }

// Match implements parser.Plugin.
func (p *Plugin) Match(doc *parser.Document) bool {
	if p.MatchFunc != nil {
		return p.MatchFunc(doc)
	}
	if !strings.EqualFold(doc.Suffix, p.Desc.Suffix) {
		return false
	}
	sig, err := signature.Compile(p.Desc.Signature)
	if err != nil {
		return false
	}
	return sig.Match(doc.SearchText())
}

// Extract implements parser.Plugin.
func (p *Plugin) Extract(ctx context.Context, doc *parser.Document) (*parser.DraftStatement, error) {
	if p.ExtractFunc != nil {
		return p.ExtractFunc(ctx, doc)
	}
	if p.Draft == nil {
		return nil, nil
	}
	d := *p.Draft
	d.Transactions = append([]parser.DraftTransaction(nil), p.Draft.Transactions...)
	return &d, nil
}
