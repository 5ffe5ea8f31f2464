// Package signature compiles plugin match signatures.
//
// A signature is a list of entries that must all match a document's text.
// Each entry is either a regular expression written as /pattern/ or a boolean
// expression over case-insensitive substrings:
//
//	Citibank
//	"account summary" && ("new balance" || "closing balance")
//	/statement period: \d{2}\/\d{2}\/\d{4}/
//
// Unquoted literals run until the next operator or parenthesis and are
// trimmed. Quote a literal to include operator characters or parentheses.
package signature

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Signature is a compiled, immutable match signature.
type Signature struct {
	entries []node
	raw     []string
}

// Compile parses every entry. An empty list is an error: a plugin that matches
// everything would make dispatch ambiguous for every document of its suffix.
func Compile(entries []string) (*Signature, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("signature must have at least one entry")
	}
	sig := &Signature{raw: append([]string(nil), entries...)}
	for i, entry := range entries {
		n, err := compileEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("signature entry %d %q: %w", i, entry, err)
		}
		sig.entries = append(sig.entries, n)
	}
	return sig, nil
}

// MustCompile is like Compile but panics on error. Intended for plugin
// package-level variables.
func MustCompile(entries ...string) *Signature {
	sig, err := Compile(entries)
	if err != nil {
		panic(err)
	}
	return sig
}

// Match reports whether every entry matches text.
func (s *Signature) Match(text string) bool {
	lower := strings.ToLower(text)
	for _, n := range s.entries {
		if !n.eval(lower) {
			return false
		}
	}
	return true
}

// Entries returns the source entries.
func (s *Signature) Entries() []string {
	return append([]string(nil), s.raw...)
}

// Literals returns the sorted, de-duplicated set of literals and patterns the
// signature references. Patterns are reported in /slash/ form.
func (s *Signature) Literals() []string {
	seen := map[string]struct{}{}
	for _, n := range s.entries {
		n.collect(seen)
	}
	out := make([]string, 0, len(seen))
	for lit := range seen {
		out = append(out, lit)
	}
	sort.Strings(out)
	return out
}

// Similar reports whether the literal set of one signature is contained in
// the other's. Two such signatures are likely to match the same documents.
func Similar(a, b *Signature) bool {
	la, lb := a.Literals(), b.Literals()
	if len(la) > len(lb) {
		la, lb = lb, la
	}
	set := make(map[string]struct{}, len(lb))
	for _, l := range lb {
		set[l] = struct{}{}
	}
	for _, l := range la {
		if _, ok := set[l]; !ok {
			return false
		}
	}
	return true
}

type node interface {
	eval(lower string) bool
	collect(into map[string]struct{})
}

type literal string

func (l literal) eval(lower string) bool { return strings.Contains(lower, string(l)) }
func (l literal) collect(into map[string]struct{}) {
	into[string(l)] = struct{}{}
}

type pattern struct {
	re  *regexp.Regexp
	src string
}

func (p pattern) eval(lower string) bool { return p.re.MatchString(lower) }
func (p pattern) collect(into map[string]struct{}) {
	into["/"+p.src+"/"] = struct{}{}
}

type and []node

func (a and) eval(lower string) bool {
	for _, n := range a {
		if !n.eval(lower) {
			return false
		}
	}
	return true
}

func (a and) collect(into map[string]struct{}) {
	for _, n := range a {
		n.collect(into)
	}
}

type or []node

func (o or) eval(lower string) bool {
	for _, n := range o {
		if n.eval(lower) {
			return true
		}
	}
	return false
}

func (o or) collect(into map[string]struct{}) {
	for _, n := range o {
		n.collect(into)
	}
}

func compileEntry(entry string) (node, error) {
	trimmed := strings.TrimSpace(entry)
	if trimmed == "" {
		return nil, fmt.Errorf("empty entry")
	}
	if len(trimmed) > 2 && strings.HasPrefix(trimmed, "/") && strings.HasSuffix(trimmed, "/") {
		src := trimmed[1 : len(trimmed)-1]
		re, err := regexp.Compile("(?i)" + src)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
		return pattern{re: re, src: src}, nil
	}

	toks, err := tokenize(trimmed)
	if err != nil {
		return nil, err
	}
	p := &exprParser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("unexpected %s", p.toks[p.pos])
	}
	return n, nil
}
