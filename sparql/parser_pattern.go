package sparql

import (
	"strings"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/rdf"
)

// parseGroupGraphPattern parses `{ … }`.
func (p *parser) parseGroupGraphPattern() (GroupGraphPattern, error) {
	var g GroupGraphPattern
	if _, err := p.expectKind(tLBrace, "{"); err != nil {
		return g, err
	}
	for {
		switch {
		case p.peekKind(tRBrace):
			p.next()
			return g, nil
		case p.peekKind(tEOF):
			return g, p.errHere(tern.ErrParse, "unterminated group pattern")
		case p.atIdent("SELECT"):
			sub, err := p.parseSelect()
			if err != nil {
				return g, err
			}
			g.Elements = append(g.Elements, SubSelect{Query: sub})
		case p.atIdent("OPTIONAL"):
			p.next()
			inner, err := p.parseGroupGraphPattern()
			if err != nil {
				return g, err
			}
			g.Elements = append(g.Elements, Optional{Pattern: inner})
		case p.atIdent("MINUS"):
			p.next()
			inner, err := p.parseGroupGraphPattern()
			if err != nil {
				return g, err
			}
			g.Elements = append(g.Elements, Minus{Pattern: inner})
		case p.atIdent("GRAPH"):
			p.next()
			gt, err := p.parseVarOrIRI()
			if err != nil {
				return g, err
			}
			inner, err := p.parseGroupGraphPattern()
			if err != nil {
				return g, err
			}
			g.Elements = append(g.Elements, GraphGroup{Graph: gt, Pattern: inner})
		case p.atIdent("SERVICE"):
			el, err := p.parseService()
			if err != nil {
				return g, err
			}
			g.Elements = append(g.Elements, el)
		case p.atIdent("FILTER"):
			p.next()
			expr, err := p.parseConstraint()
			if err != nil {
				return g, err
			}
			g.Elements = append(g.Elements, Filter{Expr: expr})
		case p.atIdent("BIND"):
			p.next()
			if _, err := p.expectKind(tLParen, "("); err != nil {
				return g, err
			}
			expr, err := p.parseExpression()
			if err != nil {
				return g, err
			}
			if err := p.expectIdent("AS"); err != nil {
				return g, err
			}
			v, err := p.expectKind(tVar, "variable")
			if err != nil {
				return g, err
			}
			if _, err := p.expectKind(tRParen, ")"); err != nil {
				return g, err
			}
			g.Elements = append(g.Elements, Bind{Expr: expr, Var: Var(v.text)})
		case p.atIdent("VALUES"):
			p.next()
			vals, err := p.parseInlineData()
			if err != nil {
				return g, err
			}
			g.Elements = append(g.Elements, vals)
		case p.peekKind(tLBrace):
			el, err := p.parseGroupOrUnion()
			if err != nil {
				return g, err
			}
			g.Elements = append(g.Elements, el)
		case p.peekKind(tDot):
			p.next() // triples separator
		default:
			triples, err := p.parseTriplesBlock()
			if err != nil {
				return g, err
			}
			g.Elements = append(g.Elements, BGP{Triples: triples})
		}
	}
}

// parseGroupOrUnion parses `{…} (UNION {…})*`.
func (p *parser) parseGroupOrUnion() (PatternElement, error) {
	first, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	alts := []GroupGraphPattern{first}
	for p.acceptIdent("UNION") {
		next, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		alts = append(alts, next)
	}
	// `{ SELECT … }` is a sub-select, not a one-armed union.
	if len(alts) == 1 && len(first.Elements) == 1 {
		if sub, ok := first.Elements[0].(SubSelect); ok {
			return sub, nil
		}
	}
	return Union{Alternatives: alts}, nil
}

func (p *parser) parseService() (PatternElement, error) {
	p.next() // SERVICE
	silent := p.acceptIdent("SILENT")
	ep, err := p.parseVarOrIRI()
	if err != nil {
		return nil, err
	}
	openTok := p.cur()
	if openTok.kind != tLBrace {
		return nil, p.errHere(tern.ErrParse, "expected { after SERVICE endpoint")
	}
	pattern, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	// Raw covers the braces and everything between; the previous token
	// is the closing brace.
	closeTok := p.toks[p.pos-1]
	raw := string(p.src[openTok.off:closeTok.end])
	return Service{Silent: silent, Endpoint: ep, Pattern: pattern, Raw: raw}, nil
}

func (p *parser) parseVarOrIRI() (PatternTerm, error) {
	switch p.cur().kind {
	case tVar:
		return Var(p.next().text), nil
	case tIRI, tPName:
		iri, err := p.parseIRI()
		if err != nil {
			return nil, err
		}
		return TermIRI(iri), nil
	default:
		return nil, p.errHere(tern.ErrParse, "expected variable or IRI")
	}
}

// parseIRI consumes an IRIREF or PNAME token and returns the IRI.
func (p *parser) parseIRI() (rdf.IRI, error) {
	t := p.next()
	switch t.kind {
	case tIRI:
		if p.base != "" && !strings.Contains(t.text, ":") {
			return rdf.IRI(p.base + t.text), nil
		}
		return rdf.IRI(t.text), nil
	case tPName:
		return p.expandPName(t)
	default:
		return "", p.errAt(t, tern.ErrParse, "expected IRI")
	}
}

// parseTriplesBlock parses consecutive triples (subject po-lists),
// stopping before any keyword or closing brace.
func (p *parser) parseTriplesBlock() ([]TriplePattern, error) {
	var out []TriplePattern
	for {
		subj, err := p.parseGraphNode(&out)
		if err != nil {
			return nil, err
		}
		if err := p.parsePropertyList(subj, &out); err != nil {
			return nil, err
		}
		if p.peekKind(tDot) {
			p.next()
			// More triples unless a keyword or brace follows.
			if p.startsTriples() {
				continue
			}
		}
		return out, nil
	}
}

// startsTriples reports whether the current token can begin a subject.
func (p *parser) startsTriples() bool {
	switch p.cur().kind {
	case tVar, tIRI, tPName, tBlank, tLBracket, tParam:
		return true
	case tIdent:
		// Bare identifiers are keywords here, never subjects.
		return false
	default:
		return false
	}
}

// parsePropertyList parses `pred objlist (; pred objlist)*`.
func (p *parser) parsePropertyList(subj PatternTerm, out *[]TriplePattern) error {
	for {
		pred, err := p.parseVerb()
		if err != nil {
			return err
		}
		for {
			obj, err := p.parseGraphNode(out)
			if err != nil {
				return err
			}
			*out = append(*out, TriplePattern{Subject: subj, Predicate: pred, Object: obj})
			if p.peekKind(tComma) {
				p.next()
				continue
			}
			break
		}
		if p.peekKind(tSemicolon) {
			p.next()
			// Trailing semicolon before '.' or '}' is legal.
			if p.peekKind(tDot) || p.peekKind(tRBrace) || p.peekKind(tRBracket) {
				return nil
			}
			continue
		}
		return nil
	}
}

func (p *parser) parseVerb() (PatternTerm, error) {
	switch {
	case p.peekKind(tVar):
		return Var(p.next().text), nil
	case p.atIdent("a"):
		p.next()
		return TermIRI(rdf.RDFType), nil
	case p.peekKind(tIRI) || p.peekKind(tPName):
		iri, err := p.parseIRI()
		if err != nil {
			return nil, err
		}
		return TermIRI(iri), nil
	default:
		return nil, p.errHere(tern.ErrParse, "expected predicate")
	}
}

// parseGraphNode parses a subject or object node, materializing blank
// node property lists and collections into extra triples.
func (p *parser) parseGraphNode(out *[]TriplePattern) (PatternTerm, error) {
	switch p.cur().kind {
	case tVar:
		return Var(p.next().text), nil
	case tParam:
		return p.noteParam(p.next().text), nil
	case tIRI, tPName:
		iri, err := p.parseIRI()
		if err != nil {
			return nil, err
		}
		return TermIRI(iri), nil
	case tBlank:
		return TermBlank(rdf.BlankNode(p.next().text)), nil
	case tString:
		return p.parseLiteralFromString()
	case tInteger:
		return TermLiteral(rdf.Literal{Value: p.next().text, Datatype: rdf.XSDInteger}), nil
	case tDecimal:
		return TermLiteral(rdf.Literal{Value: p.next().text, Datatype: rdf.XSDDecimal}), nil
	case tDouble:
		return TermLiteral(rdf.Literal{Value: p.next().text, Datatype: rdf.XSDDouble}), nil
	case tPlus, tMinus:
		sign := ""
		if p.next().kind == tMinus {
			sign = "-"
		}
		switch p.cur().kind {
		case tInteger:
			return TermLiteral(rdf.Literal{Value: sign + p.next().text, Datatype: rdf.XSDInteger}), nil
		case tDecimal:
			return TermLiteral(rdf.Literal{Value: sign + p.next().text, Datatype: rdf.XSDDecimal}), nil
		case tDouble:
			return TermLiteral(rdf.Literal{Value: sign + p.next().text, Datatype: rdf.XSDDouble}), nil
		}
		return nil, p.errHere(tern.ErrParse, "expected number after sign")
	case tIdent:
		if p.atIdent("true") || p.atIdent("false") {
			return TermLiteral(rdf.NewBooleanLiteral(strings.EqualFold(p.next().text, "true"))), nil
		}
		return nil, p.errHere(tern.ErrParse, "unexpected keyword %q in pattern", p.cur().text)
	case tLBracket:
		p.next()
		node := TermBlank(p.freshBlank())
		if p.peekKind(tRBracket) {
			p.next()
			return node, nil
		}
		if err := p.parsePropertyList(node, out); err != nil {
			return nil, err
		}
		if _, err := p.expectKind(tRBracket, "]"); err != nil {
			return nil, err
		}
		return node, nil
	case tLParen:
		return p.parseCollectionNode(out)
	default:
		return nil, p.errHere(tern.ErrParse, "expected term")
	}
}

func (p *parser) parseCollectionNode(out *[]TriplePattern) (PatternTerm, error) {
	p.next() // '('
	rdfFirst := TermIRI(rdf.IRI(rdf.NSRDF + "first"))
	rdfRest := TermIRI(rdf.IRI(rdf.NSRDF + "rest"))
	rdfNil := TermIRI(rdf.IRI(rdf.NSRDF + "nil"))
	var head PatternTerm
	var prev PatternTerm
	for {
		if p.peekKind(tRParen) {
			p.next()
			if head == nil {
				return rdfNil, nil
			}
			*out = append(*out, TriplePattern{Subject: prev, Predicate: rdfRest, Object: rdfNil})
			return head, nil
		}
		item, err := p.parseGraphNode(out)
		if err != nil {
			return nil, err
		}
		node := TermBlank(p.freshBlank())
		if head == nil {
			head = node
		} else {
			*out = append(*out, TriplePattern{Subject: prev, Predicate: rdfRest, Object: node})
		}
		*out = append(*out, TriplePattern{Subject: node, Predicate: rdfFirst, Object: item})
		prev = node
	}
}

// parseLiteralFromString consumes a string token plus optional @lang or
// ^^datatype suffix.
func (p *parser) parseLiteralFromString() (PatternTerm, error) {
	t := p.next()
	switch p.cur().kind {
	case tLangTag:
		tag := p.next()
		lit, err := rdf.NewLangLiteral(t.text, tag.text)
		if err != nil {
			return nil, p.errAt(tag, tern.ErrParse, "%v", err)
		}
		return TermLiteral(lit), nil
	case tHatHat:
		p.next()
		dt, err := p.parseIRI()
		if err != nil {
			return nil, err
		}
		return TermLiteral(rdf.Literal{Value: t.text, Datatype: dt}), nil
	default:
		return TermLiteral(rdf.NewStringLiteral(t.text)), nil
	}
}

// parseInlineData parses the VALUES body after the keyword.
func (p *parser) parseInlineData() (InlineData, error) {
	var d InlineData
	switch p.cur().kind {
	case tVar:
		d.Vars = []Var{Var(p.next().text)}
		if _, err := p.expectKind(tLBrace, "{"); err != nil {
			return d, err
		}
		for !p.peekKind(tRBrace) {
			term, err := p.parseDataTerm()
			if err != nil {
				return d, err
			}
			d.Rows = append(d.Rows, []PatternTerm{term})
		}
		p.next()
		return d, nil
	case tLParen:
		p.next()
		for p.peekKind(tVar) {
			d.Vars = append(d.Vars, Var(p.next().text))
		}
		if _, err := p.expectKind(tRParen, ")"); err != nil {
			return d, err
		}
		if _, err := p.expectKind(tLBrace, "{"); err != nil {
			return d, err
		}
		for !p.peekKind(tRBrace) {
			if _, err := p.expectKind(tLParen, "("); err != nil {
				return d, err
			}
			var row []PatternTerm
			for !p.peekKind(tRParen) {
				term, err := p.parseDataTerm()
				if err != nil {
					return d, err
				}
				row = append(row, term)
			}
			p.next()
			if len(row) != len(d.Vars) {
				return d, p.errHere(tern.ErrParse, "VALUES row arity mismatch")
			}
			d.Rows = append(d.Rows, row)
		}
		p.next()
		return d, nil
	default:
		return d, p.errHere(tern.ErrParse, "expected variable or ( after VALUES")
	}
}

// parseDataTerm parses a VALUES cell: constant term or UNDEF (nil).
func (p *parser) parseDataTerm() (PatternTerm, error) {
	if p.atIdent("UNDEF") {
		p.next()
		return nil, nil
	}
	var scratch []TriplePattern
	term, err := p.parseGraphNode(&scratch)
	if err != nil {
		return nil, err
	}
	if len(scratch) > 0 {
		return nil, p.errHere(tern.ErrParse, "structured terms are not allowed in VALUES")
	}
	switch term.(type) {
	case Var:
		return nil, p.errHere(tern.ErrParse, "variables are not allowed in VALUES data")
	}
	return term, nil
}
