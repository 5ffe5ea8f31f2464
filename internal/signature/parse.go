package signature

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokLiteral tokenKind = iota
	tokAnd
	tokOr
	tokOpen
	tokClose
)

type token struct {
	kind tokenKind
	text string
}

func (t token) String() string {
	switch t.kind {
	case tokAnd:
		return "'&&'"
	case tokOr:
		return "'||'"
	case tokOpen:
		return "'('"
	case tokClose:
		return "')'"
	}
	return fmt.Sprintf("literal %q", t.text)
}

func tokenize(s string) ([]token, error) {
	var toks []token
	var bare strings.Builder

	flush := func() {
		lit := strings.TrimSpace(bare.String())
		bare.Reset()
		if lit != "" {
			toks = append(toks, token{kind: tokLiteral, text: strings.ToLower(lit)})
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '&' && i+1 < len(s) && s[i+1] == '&':
			flush()
			toks = append(toks, token{kind: tokAnd})
			i++
		case c == '|' && i+1 < len(s) && s[i+1] == '|':
			flush()
			toks = append(toks, token{kind: tokOr})
			i++
		case c == '(':
			flush()
			toks = append(toks, token{kind: tokOpen})
		case c == ')':
			flush()
			toks = append(toks, token{kind: tokClose})
		case c == '"':
			if strings.TrimSpace(bare.String()) != "" {
				return nil, fmt.Errorf("quote inside unquoted literal at offset %d", i)
			}
			bare.Reset()
			end := strings.IndexByte(s[i+1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("unterminated quote at offset %d", i)
			}
			lit := s[i+1 : i+1+end]
			if lit == "" {
				return nil, fmt.Errorf("empty quoted literal at offset %d", i)
			}
			toks = append(toks, token{kind: tokLiteral, text: strings.ToLower(lit)})
			i += end + 1
		default:
			bare.WriteByte(c)
		}
	}
	flush()
	return toks, nil
}

// exprParser is a recursive-descent parser; && binds tighter than ||.
type exprParser struct {
	toks []token
	pos  int
}

func (p *exprParser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *exprParser) parseOr() (node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := or{first}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOr {
			break
		}
		p.pos++
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, next)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return terms, nil
}

func (p *exprParser) parseAnd() (node, error) {
	first, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	factors := and{first}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokAnd {
			break
		}
		p.pos++
		next, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		factors = append(factors, next)
	}
	if len(factors) == 1 {
		return first, nil
	}
	return factors, nil
}

func (p *exprParser) parseFactor() (node, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	switch t.kind {
	case tokLiteral:
		p.pos++
		return literal(t.text), nil
	case tokOpen:
		p.pos++
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokClose {
			return nil, fmt.Errorf("missing ')'")
		}
		p.pos++
		return n, nil
	default:
		return nil, fmt.Errorf("unexpected %s", t)
	}
}
