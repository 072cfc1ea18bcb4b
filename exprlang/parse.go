package exprlang

import (
	"fmt"
	"strings"
)

// Parse parses a match-expression source string into an Expr tree. The
// grammar is small by design (spec.md's glossary lists the full field
// vocabulary LPFT needs, not a general C-like expression language):
//
//	expr   = or
//	or     = and { "||" and }
//	and    = unary { "&&" unary }
//	unary  = [ "!" ] primary
//	primary = "(" or ")"
//	        | "@" name
//	        | "is_chassis_resident(" string ")"
//	        | field "==" value | field "!=" value
//
// A "@name" primary is a port-group reference. value may be a bare
// literal, a "$name" address-set reference, or a "#name" multicast-group
// reference; any other value, "@"-prefixed ones included, is a literal.
func Parse(src string) (Expr, error) {
	p := &parser{toks: tokenize(src)}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("exprlang: unexpected trailing token %q", p.toks[p.pos])
	}
	return e, nil
}

type parser struct {
	toks []string
	pos  int
}

func (p *parser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

func (p *parser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) parseOr() (Expr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []Expr{first}
	for p.peek() == "||" {
		p.next()
		t, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return &Or{Terms: terms}, nil
}

func (p *parser) parseAnd() (Expr, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	terms := []Expr{first}
	for p.peek() == "&&" {
		p.next()
		t, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return &And{Terms: terms}, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.peek() == "!" {
		p.next()
		t, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{Term: t}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.peek()

	switch {
	case tok == "(":
		p.next()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek() != ")" {
			return nil, fmt.Errorf("exprlang: expected ')', got %q", p.peek())
		}
		p.next()
		return e, nil

	case tok == "":
		return nil, fmt.Errorf("exprlang: unexpected end of input")

	case strings.HasPrefix(tok, "@"):
		p.next()
		return &PortGroupRef{Name: strings.TrimPrefix(tok, "@")}, nil

	case strings.HasPrefix(tok, "is_chassis_resident("):
		p.next()
		port := strings.TrimSuffix(strings.TrimPrefix(tok, "is_chassis_resident("), ")")
		port = strings.Trim(port, `"`)
		return &ChassisResident{Port: port}, nil

	default:
		return p.parseComparison()
	}
}

func (p *parser) parseComparison() (Expr, error) {
	field := p.next()
	op := p.next()
	var o Op
	switch op {
	case "==":
		o = OpEq
	case "!=":
		o = OpNeq
	default:
		return nil, fmt.Errorf("exprlang: expected comparison operator after %q, got %q", field, op)
	}

	value := p.next()
	if value == "" {
		return nil, fmt.Errorf("exprlang: missing value for %s%s", field, op)
	}

	switch {
	case strings.HasPrefix(value, "$"):
		return &SetRef{Field: field, Op: o, Name: strings.TrimPrefix(value, "$")}, nil
	case strings.HasPrefix(value, "#"):
		return &MulticastRef{Field: field, Name: strings.TrimPrefix(value, "#")}, nil
	default:
		return &Cmp{Field: field, Op: o, Value: value}, nil
	}
}

// tokenize splits src into the small token set the grammar above needs:
// "(", ")", "&&", "||", "!", "==", "!=", the is_chassis_resident(...)
// call written as a single token, and bare words (field names,
// $/@/#-prefixed references, literal values).
func tokenize(src string) []string {
	var toks []string
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(' || c == ')':
			toks = append(toks, string(c))
			i++
		case strings.HasPrefix(src[i:], "&&"):
			toks = append(toks, "&&")
			i += 2
		case strings.HasPrefix(src[i:], "||"):
			toks = append(toks, "||")
			i += 2
		case strings.HasPrefix(src[i:], "=="):
			toks = append(toks, "==")
			i += 2
		case strings.HasPrefix(src[i:], "!="):
			toks = append(toks, "!=")
			i += 2
		case c == '!':
			toks = append(toks, "!")
			i++
		case strings.HasPrefix(src[i:], "is_chassis_resident("):
			end := strings.Index(src[i:], ")")
			if end < 0 {
				toks = append(toks, src[i:])
				i = len(src)
				continue
			}
			toks = append(toks, src[i:i+end+1])
			i += end + 1
		default:
			j := i
			for j < len(src) {
				if isBoundary(src[j]) {
					break
				}
				if j+1 < len(src) && isOpStart(src[j:j+2]) {
					break
				}
				j++
			}
			if j == i {
				j++
			}
			toks = append(toks, strings.TrimSpace(src[i:j]))
			i = j
		}
	}
	return toks
}

func isBoundary(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '(', ')', '!':
		return true
	}
	return false
}

func isOpStart(s string) bool {
	switch s {
	case "==", "!=", "&&", "||":
		return true
	}
	return false
}
