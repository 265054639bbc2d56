package sparql

import (
	"strings"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/rdf"
)

// builtinNames lists the callable built-ins the compiler understands.
// Names are matched case-insensitively.
var builtinNames = map[string]bool{
	"STR": true, "LANG": true, "LANGMATCHES": true, "DATATYPE": true,
	"BOUND": true, "IRI": true, "URI": true, "BNODE": true,
	"RAND": true, "ABS": true, "CEIL": true, "FLOOR": true, "ROUND": true,
	"CONCAT": true, "STRLEN": true, "UCASE": true, "LCASE": true,
	"ENCODE_FOR_URI": true, "CONTAINS": true, "STRSTARTS": true,
	"STRENDS": true, "STRBEFORE": true, "STRAFTER": true,
	"YEAR": true, "MONTH": true, "DAY": true, "HOURS": true,
	"MINUTES": true, "SECONDS": true, "TIMEZONE": true, "TZ": true,
	"NOW": true, "UUID": true, "STRUUID": true, "MD5": true,
	"SHA1": true, "SHA256": true, "SHA384": true, "SHA512": true,
	"COALESCE": true, "IF": true, "STRLANG": true, "STRDT": true,
	"SAMETERM": true, "ISIRI": true, "ISURI": true, "ISBLANK": true,
	"ISLITERAL": true, "ISNUMERIC": true, "REGEX": true, "SUBSTR": true,
	"REPLACE": true,
	// Aggregates.
	"COUNT": true, "SUM": true, "MIN": true, "MAX": true, "AVG": true,
	"GROUP_CONCAT": true, "SAMPLE": true,
}

// aggregateNames marks the aggregate subset of builtinNames.
var aggregateNames = map[string]bool{
	"COUNT": true, "SUM": true, "MIN": true, "MAX": true, "AVG": true,
	"GROUP_CONCAT": true, "SAMPLE": true,
}

func isBuiltinName(name string) bool {
	return builtinNames[strings.ToUpper(name)]
}

// IsAggregate reports whether an expression is an aggregate call.
func IsAggregate(e Expression) bool {
	c, ok := e.(ExprCall)
	return ok && aggregateNames[c.Func]
}

// parseConstraint parses a FILTER argument: a bracketted expression, a
// built-in call, or EXISTS.
func (p *parser) parseConstraint() (Expression, error) {
	switch {
	case p.peekKind(tLParen):
		return p.parseBracketted()
	case p.atIdent("EXISTS"), p.atIdent("NOT"):
		return p.parsePrimary()
	case p.cur().kind == tIdent && isBuiltinName(p.cur().text):
		return p.parsePrimary()
	default:
		return nil, p.errHere(tern.ErrParse, "expected FILTER constraint")
	}
}

func (p *parser) parseExpression() (Expression, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (Expression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peekKind(tOr) {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = ExprBinary{Op: "||", L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expression, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.peekKind(tAnd) {
		p.next()
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = ExprBinary{Op: "&&", L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseRelational() (Expression, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	var op string
	switch p.cur().kind {
	case tEq:
		op = "="
	case tNe:
		op = "!="
	case tLt:
		op = "<"
	case tGt:
		op = ">"
	case tLe:
		op = "<="
	case tGe:
		op = ">="
	default:
		if p.atIdent("IN") {
			p.next()
			list, err := p.parseExprList()
			if err != nil {
				return nil, err
			}
			return ExprIn{X: left, List: list}, nil
		}
		if p.atIdent("NOT") {
			p.next()
			if err := p.expectIdent("IN"); err != nil {
				return nil, err
			}
			list, err := p.parseExprList()
			if err != nil {
				return nil, err
			}
			return ExprIn{Not: true, X: left, List: list}, nil
		}
		return left, nil
	}
	p.next()
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return ExprBinary{Op: op, L: left, R: right}, nil
}

func (p *parser) parseAdditive() (Expression, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch p.cur().kind {
		case tPlus:
			op = "+"
		case tMinus:
			op = "-"
		default:
			return left, nil
		}
		p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = ExprBinary{Op: op, L: left, R: right}
	}
}

func (p *parser) parseMultiplicative() (Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch p.cur().kind {
		case tStar:
			op = "*"
		case tSlash:
			op = "/"
		default:
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = ExprBinary{Op: op, L: left, R: right}
	}
}

func (p *parser) parseUnary() (Expression, error) {
	switch p.cur().kind {
	case tBang:
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ExprUnary{Op: "!", X: x}, nil
	case tMinus:
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ExprUnary{Op: "-", X: x}, nil
	case tPlus:
		p.next()
		return p.parseUnary()
	default:
		return p.parsePrimary()
	}
}

func (p *parser) parseExprList() ([]Expression, error) {
	if _, err := p.expectKind(tLParen, "("); err != nil {
		return nil, err
	}
	var out []Expression
	for {
		if p.peekKind(tRParen) {
			p.next()
			return out, nil
		}
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if p.peekKind(tComma) {
			p.next()
		}
	}
}

func (p *parser) parsePrimary() (Expression, error) {
	switch p.cur().kind {
	case tLParen:
		return p.parseBracketted()
	case tVar:
		return ExprVar{Name: Var(p.next().text)}, nil
	case tParam:
		return ExprParam{Name: p.noteParam(p.next().text)}, nil
	case tString:
		term, err := p.parseLiteralFromString()
		if err != nil {
			return nil, err
		}
		lit, _ := AsLiteral(term)
		return ExprLiteral{Lit: lit}, nil
	case tInteger:
		return ExprLiteral{Lit: rdf.Literal{Value: p.next().text, Datatype: rdf.XSDInteger}}, nil
	case tDecimal:
		return ExprLiteral{Lit: rdf.Literal{Value: p.next().text, Datatype: rdf.XSDDecimal}}, nil
	case tDouble:
		return ExprLiteral{Lit: rdf.Literal{Value: p.next().text, Datatype: rdf.XSDDouble}}, nil
	case tIRI, tPName:
		iri, err := p.parseIRI()
		if err != nil {
			return nil, err
		}
		// IRI followed by ( is a function call by IRI; not supported,
		// but an IRI constant is.
		return ExprIRI{IRI: iri}, nil
	case tIdent:
		return p.parseIdentExpr()
	default:
		return nil, p.errHere(tern.ErrParse, "expected expression")
	}
}

func (p *parser) parseIdentExpr() (Expression, error) {
	word := p.cur().text
	upper := strings.ToUpper(word)
	switch upper {
	case "TRUE":
		p.next()
		return ExprLiteral{Lit: rdf.NewBooleanLiteral(true)}, nil
	case "FALSE":
		p.next()
		return ExprLiteral{Lit: rdf.NewBooleanLiteral(false)}, nil
	case "EXISTS":
		p.next()
		pat, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		return ExprExists{Pattern: pat}, nil
	case "NOT":
		p.next()
		if err := p.expectIdent("EXISTS"); err != nil {
			return nil, err
		}
		pat, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		return ExprExists{Not: true, Pattern: pat}, nil
	}
	if !isBuiltinName(word) {
		return nil, p.errHere(tern.ErrParse, "unknown function %q", word)
	}
	p.next()
	call := ExprCall{Func: upper}
	if _, err := p.expectKind(tLParen, "("); err != nil {
		return nil, err
	}
	if p.acceptIdent("DISTINCT") {
		call.Distinct = true
	}
	if p.peekKind(tStar) {
		p.next()
		call.Star = true
		if _, err := p.expectKind(tRParen, ")"); err != nil {
			return nil, err
		}
		return call, nil
	}
	for !p.peekKind(tRParen) {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		switch {
		case p.peekKind(tComma):
			p.next()
		case p.peekKind(tSemicolon):
			// GROUP_CONCAT(expr; SEPARATOR="…")
			p.next()
			if err := p.expectIdent("SEPARATOR"); err != nil {
				return nil, err
			}
			if _, err := p.expectKind(tEq, "="); err != nil {
				return nil, err
			}
			sep, err := p.expectKind(tString, "separator string")
			if err != nil {
				return nil, err
			}
			call.Separator = sep.text
		case p.atIdent("ORDER"):
			// GROUP_CONCAT(expr ORDER BY expr): ordering inside the
			// aggregate, the only way its output is deterministic.
			p.next()
			if err := p.expectIdent("BY"); err != nil {
				return nil, err
			}
			for {
				cond, ok, err := p.tryOrderCondition()
				if err != nil {
					return nil, err
				}
				if !ok {
					break
				}
				call.OrderBy = append(call.OrderBy, cond)
			}
		}
	}
	p.next() // ')'
	if aggregateNames[upper] && len(call.Args) == 0 && !call.Star {
		return nil, p.errHere(tern.ErrParse, "%s needs an argument", upper)
	}
	return call, nil
}
