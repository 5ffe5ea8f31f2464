// Package categorize labels committed transactions with budget categories
// using a YAML rules engine. It runs out-of-band: the ingestion pipeline
// never calls it, and it only ever fills in empty categories.
package categorize

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var embeddedRules []byte

// MatchType defines how patterns are matched against transaction descriptions
type MatchType string

const (
	// MatchTypeExact requires the pattern to match the entire description exactly
	MatchTypeExact MatchType = "exact"
	// MatchTypeContains requires the pattern to be a substring of the description
	MatchTypeContains MatchType = "contains"
)

// Categories is the set of labels a rule may assign.
var Categories = []string{
	"income", "housing", "utilities", "groceries", "dining", "transportation",
	"healthcare", "entertainment", "shopping", "travel", "investment",
	"transfer", "fees", "other",
}

// ValidCategory reports whether c is one of Categories.
func ValidCategory(c string) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Rule is a single categorization rule.
type Rule struct {
	Name      string    `yaml:"name"`
	Pattern   string    `yaml:"pattern"`
	MatchType MatchType `yaml:"match_type"`
	Priority  int       `yaml:"priority"`
	Category  string    `yaml:"category"`
}

func (r Rule) validate() error {
	if !ValidCategory(r.Category) {
		return fmt.Errorf("invalid category %q", r.Category)
	}
	if r.Priority < 0 || r.Priority > 999 {
		return fmt.Errorf("priority must be in [0,999], got %d", r.Priority)
	}
	if r.MatchType != MatchTypeExact && r.MatchType != MatchTypeContains {
		return fmt.Errorf("invalid match_type %q (must be 'exact' or 'contains')", r.MatchType)
	}
	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("pattern cannot be empty")
	}
	return nil
}

// RuleSet represents the top-level YAML structure
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// Engine performs rule matching on transaction descriptions
type Engine struct {
	rules []Rule // Sorted by priority (highest first)
}

// Match is the result of applying a rule.
type Match struct {
	Category string
	RuleName string
}

// NewEngine creates a rules engine from YAML data
func NewEngine(rulesData []byte) (*Engine, error) {
	var ruleSet RuleSet
	if err := yaml.Unmarshal(rulesData, &ruleSet); err != nil {
		return nil, fmt.Errorf("failed to parse YAML rules (check syntax, indentation, and field names): %w", err)
	}

	for i, rule := range ruleSet.Rules {
		if err := rule.validate(); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rule.Name, err)
		}
	}

	// Equal priorities keep file order.
	sorted := make([]Rule, len(ruleSet.Rules))
	copy(sorted, ruleSet.Rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return &Engine{rules: sorted}, nil
}

// LoadEmbedded loads the default rules compiled into the binary.
func LoadEmbedded() (*Engine, error) {
	engine, err := NewEngine(embeddedRules)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded rules: %w", err)
	}
	return engine, nil
}

// LoadFromFile loads rules from a filesystem path
func LoadFromFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	engine, err := NewEngine(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules from %q: %w", path, err)
	}
	return engine, nil
}

// Load returns the rules at path, or the embedded defaults when path is empty.
func Load(path string) (*Engine, error) {
	if path == "" {
		return LoadEmbedded()
	}
	return LoadFromFile(path)
}

// Match returns the first rule, in priority order, matching description.
// Matching is case-insensitive on the trimmed description.
func (e *Engine) Match(description string) (*Match, bool) {
	desc := strings.ToLower(strings.TrimSpace(description))
	for _, rule := range e.rules {
		pattern := strings.ToLower(strings.TrimSpace(rule.Pattern))

		var matched bool
		switch rule.MatchType {
		case MatchTypeExact:
			matched = desc == pattern
		case MatchTypeContains:
			matched = strings.Contains(desc, pattern)
		}
		if matched {
			return &Match{Category: rule.Category, RuleName: rule.Name}, true
		}
	}
	return nil, false
}

// Rules returns a copy of the rules in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}
