// Package plugins lists the statement plugins compiled into the binary.
package plugins

import (
	"fmt"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/plugins/csv"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/plugins/ofx"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/plugins/pdf"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/plugins/xls"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/registry"
)

// Builtin returns a fresh instance of every built-in plugin.
func Builtin() []parser.Plugin {
	return []parser.Plugin{
		ofx.NewOFX(),
		ofx.NewQFX(),
		csv.New(),
		xls.New(),
		pdf.New(),
	}
}

// RegisterBuiltins registers every built-in plugin with reg. The registry is
// left unsealed so callers can add their own plugins afterwards.
func RegisterBuiltins(reg *registry.Registry) error {
	for _, p := range Builtin() {
		if err := reg.Register(p); err != nil {
			return fmt.Errorf("failed to register built-in plugin %s: %w", p.Descriptor().Name, err)
		}
	}
	return nil
}
