package mapping

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// formulaParser is a recursive-descent evaluator for
//
//	expr   = term { ("+" | "-") term }
//	term   = factor { ("*" | "/") factor }
//	factor = ["-" | "+"] ( number | "{" column "}" | column | "(" expr ")" )
//
// Every operand is a decimal. Any parse failure, missing operand or division
// by zero aborts evaluation.
type formulaParser struct {
	src []rune
	pos int
	row Row
	ok  bool
}

func evaluateFormula(template string, row Row) (decimal.Decimal, bool) {
	p := &formulaParser{src: []rune(template), row: row, ok: true}
	v := p.expr()
	p.skipSpace()
	if !p.ok || p.pos != len(p.src) {
		return decimal.Zero, false
	}
	return v, true
}

func (p *formulaParser) fail() decimal.Decimal {
	p.ok = false
	return decimal.Zero
}

func (p *formulaParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *formulaParser) peek() rune {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *formulaParser) expr() decimal.Decimal {
	left := p.term()
	for p.ok {
		switch p.peek() {
		case '+':
			p.pos++
			left = left.Add(p.term())
		case '-':
			p.pos++
			left = left.Sub(p.term())
		default:
			return left
		}
	}
	return left
}

func (p *formulaParser) term() decimal.Decimal {
	left := p.factor()
	for p.ok {
		switch p.peek() {
		case '*':
			p.pos++
			left = left.Mul(p.factor())
		case '/':
			p.pos++
			right := p.factor()
			if !p.ok || right.IsZero() {
				return p.fail()
			}
			left = left.DivRound(right, 10)
		default:
			return left
		}
	}
	return left
}

func (p *formulaParser) factor() decimal.Decimal {
	if !p.ok {
		return decimal.Zero
	}
	switch c := p.peek(); {
	case c == '-':
		p.pos++
		return p.factor().Neg()
	case c == '+':
		p.pos++
		return p.factor()
	case c == '(':
		p.pos++
		v := p.expr()
		if p.peek() != ')' {
			return p.fail()
		}
		p.pos++
		return v
	case c == '{':
		end := p.pos + 1
		for end < len(p.src) && p.src[end] != '}' {
			end++
		}
		if end >= len(p.src) {
			return p.fail()
		}
		name := strings.TrimSpace(string(p.src[p.pos+1 : end]))
		p.pos = end + 1
		return p.operand(name)
	case unicode.IsDigit(c) || c == '.':
		return p.number()
	case unicode.IsLetter(c) || c == '_':
		start := p.pos
		for p.pos < len(p.src) && (unicode.IsLetter(p.src[p.pos]) || unicode.IsDigit(p.src[p.pos]) || p.src[p.pos] == '_' || p.src[p.pos] == '.') {
			p.pos++
		}
		return p.operand(string(p.src[start:p.pos]))
	default:
		return p.fail()
	}
}

func (p *formulaParser) number() decimal.Decimal {
	start := p.pos
	for p.pos < len(p.src) && (unicode.IsDigit(p.src[p.pos]) || p.src[p.pos] == '.') {
		p.pos++
	}
	d, err := decimal.NewFromString(string(p.src[start:p.pos]))
	if err != nil {
		return p.fail()
	}
	return d
}

func (p *formulaParser) operand(column string) decimal.Decimal {
	d, ok := AsDecimal(columnValue(p.row, column))
	if !ok {
		return p.fail()
	}
	return d
}
