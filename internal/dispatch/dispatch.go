// Package dispatch selects the single plugin able to parse a document.
package dispatch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/registry"
)

// NoMatchingPluginError is returned when no plugin for the document's suffix
// recognizes it.
type NoMatchingPluginError struct {
	Document string
	Suffix   string
	// Tried lists the plugins whose suffix matched but whose Match returned false.
	Tried []string
}

func (e *NoMatchingPluginError) Error() string {
	if len(e.Tried) == 0 {
		return fmt.Sprintf("no plugin handles %s documents (%s)", e.Suffix, e.Document)
	}
	return fmt.Sprintf("no plugin matched %s (tried %s)", e.Document, strings.Join(e.Tried, ", "))
}

// AmbiguousPluginError is returned when more than one plugin matches.
// Ambiguity is never resolved by precedence.
type AmbiguousPluginError struct {
	Document   string
	Candidates []string
}

func (e *AmbiguousPluginError) Error() string {
	return fmt.Sprintf("ambiguous plugin match for %s: %s", e.Document, strings.Join(e.Candidates, ", "))
}

// Dispatcher evaluates plugin match predicates against documents.
type Dispatcher struct {
	reg *registry.Registry
	log zerolog.Logger
}

// New creates a dispatcher over reg.
func New(reg *registry.Registry, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		reg: reg,
		log: log.With().Str("component", "dispatch").Logger(),
	}
}

// Select returns the one plugin whose suffix equals the document's and whose
// Match returns true. The first call seals the registry.
func (d *Dispatcher) Select(doc *parser.Document) (registry.Entry, error) {
	d.reg.Seal()

	entries := d.reg.ForSuffix(doc.Suffix)
	var matched, tried []string
	var selected registry.Entry
	for _, e := range entries {
		tried = append(tried, e.Descriptor.Name)
		if d.safeMatch(e, doc) {
			matched = append(matched, e.Descriptor.Name)
			selected = e
		}
	}

	switch len(matched) {
	case 0:
		return registry.Entry{}, &NoMatchingPluginError{Document: doc.String(), Suffix: doc.Suffix, Tried: tried}
	case 1:
		d.log.Debug().Str("document", doc.String()).Str("plugin", selected.Descriptor.Name).Msg("plugin selected")
		return selected, nil
	default:
		sort.Strings(matched)
		return registry.Entry{}, &AmbiguousPluginError{Document: doc.String(), Candidates: matched}
	}
}

// safeMatch treats a panicking Match as a non-match.
func (d *Dispatcher) safeMatch(e registry.Entry, doc *parser.Document) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Str("plugin", e.Descriptor.Name).
				Str("document", doc.String()).
				Interface("panic", r).
				Msg("plugin match panicked; treating as no match")
			ok = false
		}
	}()
	return e.Plugin.Match(doc)
}
