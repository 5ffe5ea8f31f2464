package dispatch

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser/parsertest"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/registry"
)

func newRegistry(t *testing.T, plugins ...*parsertest.Plugin) *registry.Registry {
	t.Helper()
	reg := registry.New(zerolog.Nop())
	for _, p := range plugins {
		require.NoError(t, reg.Register(p))
	}
	return reg
}

func pdfDoc(text string) *parser.Document {
	return &parser.Document{Name: "stmt.pdf", Suffix: ".pdf", Text: text}
}

func TestSelect_ExactlyOneMatch(t *testing.T) {
	reg := newRegistry(t,
		parsertest.New("citi-card", ".pdf", "citibank"),
		parsertest.New("chase-card", ".pdf", "chase"),
	)
	d := New(reg, zerolog.Nop())

	entry, err := d.Select(pdfDoc("CITIBANK statement"))
	require.NoError(t, err)
	assert.Equal(t, "citi-card", entry.Descriptor.Name)
}

func TestSelect_NoMatch(t *testing.T) {
	reg := newRegistry(t, parsertest.New("citi-card", ".pdf", "citibank"))
	d := New(reg, zerolog.Nop())

	_, err := d.Select(pdfDoc("Wells Fargo"))
	var noMatch *NoMatchingPluginError
	require.True(t, errors.As(err, &noMatch), "got %v", err)
	assert.Equal(t, []string{"citi-card"}, noMatch.Tried)
	assert.Equal(t, ".pdf", noMatch.Suffix)
}

func TestSelect_SuffixFiltersCandidates(t *testing.T) {
	// The CSV plugin's signature would match but its suffix doesn't.
	reg := newRegistry(t,
		parsertest.New("citi-csv", ".csv", "citibank"),
		parsertest.New("citi-card", ".pdf", "citibank"),
	)
	d := New(reg, zerolog.Nop())

	entry, err := d.Select(pdfDoc("citibank"))
	require.NoError(t, err)
	assert.Equal(t, "citi-card", entry.Descriptor.Name)

	_, err = d.Select(&parser.Document{Name: "x.xls", Suffix: ".xls", Text: "citibank"})
	var noMatch *NoMatchingPluginError
	require.True(t, errors.As(err, &noMatch))
	assert.Empty(t, noMatch.Tried)
	assert.Contains(t, err.Error(), "no plugin handles .xls documents")
}

func TestSelect_Ambiguous(t *testing.T) {
	reg := newRegistry(t,
		parsertest.New("zeta-card", ".pdf", "account summary"),
		parsertest.New("alpha-card", ".pdf", "summary"),
		parsertest.New("other", ".pdf", "other bank"),
	)
	d := New(reg, zerolog.Nop())

	_, err := d.Select(pdfDoc("Account Summary"))
	var ambiguous *AmbiguousPluginError
	require.True(t, errors.As(err, &ambiguous), "got %v", err)
	assert.Equal(t, []string{"alpha-card", "zeta-card"}, ambiguous.Candidates)
	assert.Contains(t, err.Error(), "alpha-card, zeta-card")
}

func TestSelect_PanickingMatchIsNoMatch(t *testing.T) {
	bad := parsertest.New("bad", ".pdf")
	bad.MatchFunc = func(*parser.Document) bool { panic("boom") }
	reg := newRegistry(t, bad, parsertest.New("good", ".pdf", "citibank"))
	d := New(reg, zerolog.Nop())

	entry, err := d.Select(pdfDoc("citibank"))
	require.NoError(t, err)
	assert.Equal(t, "good", entry.Descriptor.Name)
}

func TestSelect_SealsRegistry(t *testing.T) {
	reg := newRegistry(t, parsertest.New("citi-card", ".pdf", "citibank"))
	d := New(reg, zerolog.Nop())

	_, _ = d.Select(pdfDoc("anything"))
	assert.True(t, reg.Sealed())
	assert.ErrorIs(t, reg.Register(parsertest.New("late", ".pdf")), registry.ErrRegistrySealed)
}
