package verify

import (
	"fmt"
	"strconv"
	"strings"
)

// Eval evaluates a small arithmetic expression with unary +/-, the four
// binary operators, parentheses and decimal literals.
func Eval(expr string) (float64, error) {
	p := &exprParser{s: strings.Join(strings.Fields(expr), "")}
	v, err := p.parseAddSub()
	if err != nil {
		return 0, err
	}
	if p.pos != len(p.s) {
		return 0, fmt.Errorf("unexpected: %s", p.s[p.pos:])
	}
	return v, nil
}

type exprParser struct {
	s   string
	pos int
}

func (p *exprParser) parseAddSub() (float64, error) {
	v, err := p.parseMulDiv()
	if err != nil {
		return 0, err
	}
	for p.pos < len(p.s) {
		switch p.s[p.pos] {
		case '+':
			p.pos++
			r, err := p.parseMulDiv()
			if err != nil {
				return 0, err
			}
			v += r
		case '-':
			p.pos++
			r, err := p.parseMulDiv()
			if err != nil {
				return 0, err
			}
			v -= r
		default:
			return v, nil
		}
	}
	return v, nil
}

func (p *exprParser) parseMulDiv() (float64, error) {
	v, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for p.pos < len(p.s) {
		switch p.s[p.pos] {
		case '*':
			p.pos++
			r, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			v *= r
		case '/':
			p.pos++
			r, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			v /= r
		default:
			return v, nil
		}
	}
	return v, nil
}

func (p *exprParser) parseUnary() (float64, error) {
	if p.pos < len(p.s) {
		switch p.s[p.pos] {
		case '+':
			p.pos++
			return p.parseUnary()
		case '-':
			p.pos++
			v, err := p.parseUnary()
			return -v, err
		}
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (float64, error) {
	if p.pos < len(p.s) && p.s[p.pos] == '(' {
		p.pos++
		v, err := p.parseAddSub()
		if err != nil {
			return 0, err
		}
		if p.pos >= len(p.s) || p.s[p.pos] != ')' {
			return 0, fmt.Errorf("missing )")
		}
		p.pos++
		return v, nil
	}
	start := p.pos
	for p.pos < len(p.s) && (p.s[p.pos] >= '0' && p.s[p.pos] <= '9' || p.s[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("number expected at %d", p.pos)
	}
	return strconv.ParseFloat(p.s[start:p.pos], 64)
}
