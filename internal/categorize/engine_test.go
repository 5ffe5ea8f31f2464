package categorize

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewEngine_ValidRules(t *testing.T) {
	rulesYAML := `
rules:
  - name: "Test Rule"
    pattern: "TEST"
    match_type: "contains"
    priority: 100
    category: "groceries"
`
	engine, err := NewEngine([]byte(rulesYAML))
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	rules := engine.Rules()
	if len(rules) != 1 {
		t.Fatalf("NewEngine() rules count = %d, want 1", len(rules))
	}
	if rules[0].Name != "Test Rule" || rules[0].Priority != 100 || rules[0].Category != "groceries" {
		t.Errorf("rule = %+v", rules[0])
	}
}

func TestNewEngine_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		rule    string
		wantErr string
	}{
		{"invalid category", `{name: r, pattern: x, match_type: contains, priority: 1, category: nope}`, "invalid category"},
		{"negative priority", `{name: r, pattern: x, match_type: contains, priority: -1, category: other}`, "priority"},
		{"priority too high", `{name: r, pattern: x, match_type: contains, priority: 1000, category: other}`, "priority"},
		{"bad match type", `{name: r, pattern: x, match_type: regex, priority: 1, category: other}`, "match_type"},
		{"empty pattern", `{name: r, pattern: "  ", match_type: exact, priority: 1, category: other}`, "pattern cannot be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine([]byte("rules:\n  - " + tt.rule + "\n"))
			if err == nil {
				t.Fatal("NewEngine() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewEngine_MalformedYAML(t *testing.T) {
	if _, err := NewEngine([]byte("rules: [unclosed")); err == nil {
		t.Error("NewEngine() expected error for malformed YAML")
	}
}

func TestMatch_PriorityAndOrder(t *testing.T) {
	rulesYAML := `
rules:
  - name: "low"
    pattern: "store"
    match_type: "contains"
    priority: 10
    category: "shopping"
  - name: "high"
    pattern: "grocery store"
    match_type: "contains"
    priority: 500
    category: "groceries"
  - name: "tie-first"
    pattern: "cafe"
    match_type: "contains"
    priority: 50
    category: "dining"
  - name: "tie-second"
    pattern: "cafe"
    match_type: "contains"
    priority: 50
    category: "entertainment"
  - name: "exact"
    pattern: "Rent"
    match_type: "exact"
    priority: 50
    category: "housing"
`
	engine, err := NewEngine([]byte(rulesYAML))
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	tests := []struct {
		desc     string
		category string
		rule     string
	}{
		{"GROCERY STORE #12", "groceries", "high"},
		{"Hardware Store", "shopping", "low"},
		{"Corner Cafe", "dining", "tie-first"},
		{"  rent ", "housing", "exact"},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			m, ok := engine.Match(tt.desc)
			if !ok {
				t.Fatal("Match() found no rule")
			}
			if m.Category != tt.category || m.RuleName != tt.rule {
				t.Errorf("Match() = %+v, want %s via %s", m, tt.category, tt.rule)
			}
		})
	}

	if _, ok := engine.Match("rent payment"); ok {
		t.Error("exact rule matched a longer description")
	}
}

func TestLoadEmbedded(t *testing.T) {
	engine, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("LoadEmbedded() error = %v", err)
	}
	if len(engine.Rules()) == 0 {
		t.Fatal("embedded rules are empty")
	}
	m, ok := engine.Match("PAYMENT THANK YOU")
	if !ok || m.Category != "transfer" {
		t.Errorf("Match(PAYMENT THANK YOU) = %+v, %v", m, ok)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	data := "rules:\n  - {name: only, pattern: abc, match_type: exact, priority: 1, category: other}\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	engine, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if n := len(engine.Rules()); n != 1 {
		t.Errorf("rules = %d, want 1", n)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
	if _, err := Load(""); err != nil {
		t.Errorf("Load(\"\") error = %v", err)
	}
}

func TestRules_ReturnsCopy(t *testing.T) {
	engine, err := LoadEmbedded()
	if err != nil {
		t.Fatal(err)
	}
	rules := engine.Rules()
	rules[0].Category = "modified"
	if engine.Rules()[0].Category == "modified" {
		t.Error("Rules() exposed internal state")
	}
}
