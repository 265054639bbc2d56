package sparql

import (
	"fmt"
	"strings"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/rdf"
)

// Option configures parsing.
type Option func(*parser)

// WithNamespaces supplies default prefixes (typically the ontology's)
// consulted when a query does not declare a prefix itself.
func WithNamespaces(ns *rdf.Namespaces) Option {
	return func(p *parser) { p.ns = ns }
}

type parser struct {
	src  []rune
	toks []token
	pos  int

	base     string
	prefixes map[string]rdf.IRI
	ns       *rdf.Namespaces

	params   []Param
	paramSet map[Param]bool
	bnodeSeq int
}

func newParser(src string, opts ...Option) (*parser, error) {
	l := newLexer(src)
	toks, err := l.tokens()
	if err != nil {
		return nil, err
	}
	p := &parser{
		src:      l.src,
		toks:     toks,
		prefixes: make(map[string]rdf.IRI),
		paramSet: make(map[Param]bool),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ParseQuery parses a SPARQL 1.1 query.
func ParseQuery(src string, opts ...Option) (*Query, error) {
	p, err := newParser(src, opts...)
	if err != nil {
		return nil, err
	}
	if err := p.parsePrologue(); err != nil {
		return nil, err
	}
	var form QueryForm
	switch {
	case p.atIdent("SELECT"):
		form, err = p.parseSelect()
	case p.atIdent("ASK"):
		form, err = p.parseAsk()
	case p.atIdent("CONSTRUCT"):
		form, err = p.parseConstruct()
	case p.atIdent("DESCRIBE"):
		form, err = p.parseDescribe()
	default:
		return nil, p.errHere(tern.ErrParse, "expected SELECT, ASK, CONSTRUCT or DESCRIBE")
	}
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tEOF {
		return nil, p.errHere(tern.ErrParse, "unexpected trailing input")
	}
	return &Query{Base: p.base, Prefixes: p.prefixes, Form: form, Params: p.params}, nil
}

// ParseUpdate parses a SPARQL 1.1 update request (one or more operations
// separated by semicolons).
func ParseUpdate(src string, opts ...Option) (*Update, error) {
	p, err := newParser(src, opts...)
	if err != nil {
		return nil, err
	}
	u := &Update{Prefixes: p.prefixes}
	for {
		if err := p.parsePrologue(); err != nil {
			return nil, err
		}
		u.Base = p.base
		if p.cur().kind == tEOF {
			break
		}
		op, err := p.parseUpdateOp()
		if err != nil {
			return nil, err
		}
		u.Ops = append(u.Ops, op)
		if p.cur().kind == tSemicolon {
			p.next()
			continue
		}
		if p.cur().kind != tEOF {
			return nil, p.errHere(tern.ErrParse, "expected ';' or end of update")
		}
	}
	if len(u.Ops) == 0 {
		return nil, p.errHere(tern.ErrParse, "empty update")
	}
	u.Params = p.params
	return u, nil
}

// --- token helpers ---

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) next() token { t := p.toks[p.pos]; p.pos++; return t }

func (p *parser) peekKind(k tokenKind) bool { return p.cur().kind == k }

func (p *parser) atIdent(word string) bool {
	return p.cur().kind == tIdent && strings.EqualFold(p.cur().text, word)
}

func (p *parser) acceptIdent(word string) bool {
	if p.atIdent(word) {
		p.next()
		return true
	}
	return false
}

func (p *parser) expectIdent(word string) error {
	if !p.acceptIdent(word) {
		return p.errHere(tern.ErrParse, "expected %s", word)
	}
	return nil
}

func (p *parser) expectKind(k tokenKind, what string) (token, error) {
	if p.cur().kind != k {
		return token{}, p.errHere(tern.ErrParse, "expected %s", what)
	}
	return p.next(), nil
}

func (p *parser) errHere(code tern.ErrorCode, format string, args ...any) error {
	t := p.cur()
	e := tern.NewError(code, format, args...)
	e.Line, e.Col = t.line, t.col
	return e
}

func (p *parser) errAt(t token, code tern.ErrorCode, format string, args ...any) error {
	e := tern.NewError(code, format, args...)
	e.Line, e.Col = t.line, t.col
	return e
}

func (p *parser) noteParam(name string) Param {
	prm := Param(name)
	if !p.paramSet[prm] {
		p.paramSet[prm] = true
		p.params = append(p.params, prm)
	}
	return prm
}

func (p *parser) freshBlank() rdf.BlankNode {
	p.bnodeSeq++
	return rdf.BlankNode(fmt.Sprintf("q%d", p.bnodeSeq))
}

// expandPName resolves a PNAME token against declared and default
// prefixes.
func (p *parser) expandPName(t token) (rdf.IRI, error) {
	i := strings.IndexByte(t.text, ':')
	prefix, local := t.text[:i], t.text[i+1:]
	if ns, ok := p.prefixes[prefix]; ok {
		return ns + rdf.IRI(local), nil
	}
	if p.ns != nil {
		if iri, ok := p.ns.Expand(t.text); ok {
			return iri, nil
		}
	}
	return "", p.errAt(t, tern.ErrUnknownPrefix, "undeclared prefix %q", prefix)
}

// --- prologue ---

func (p *parser) parsePrologue() error {
	for {
		switch {
		case p.atIdent("PREFIX"):
			p.next()
			t, err := p.expectKind(tPName, "prefix name")
			if err != nil {
				return err
			}
			if !strings.HasSuffix(t.text, ":") && strings.IndexByte(t.text, ':') != len(t.text)-1 {
				// PNAME token includes the local part; a declaration
				// must be bare "prefix:".
				if strings.IndexByte(t.text, ':') != len(t.text)-1 {
					return p.errAt(t, tern.ErrParse, "malformed prefix declaration")
				}
			}
			iriTok, err := p.expectKind(tIRI, "IRI")
			if err != nil {
				return err
			}
			p.prefixes[strings.TrimSuffix(t.text, ":")] = rdf.IRI(iriTok.text)
		case p.atIdent("BASE"):
			p.next()
			iriTok, err := p.expectKind(tIRI, "IRI")
			if err != nil {
				return err
			}
			p.base = iriTok.text
		default:
			return nil
		}
	}
}

// --- query forms ---

func (p *parser) parseSelect() (*SelectQuery, error) {
	p.next() // SELECT
	q := &SelectQuery{Mods: defaultMods()}
	if p.acceptIdent("DISTINCT") {
		q.Distinct = true
	} else if p.acceptIdent("REDUCED") {
		q.Reduced = true
	}
	if p.peekKind(tStar) {
		p.next()
		q.Star = true
	} else {
		for {
			switch {
			case p.peekKind(tVar):
				v := p.next()
				q.Items = append(q.Items, SelectItem{Var: Var(v.text)})
			case p.peekKind(tLParen):
				p.next()
				expr, err := p.parseExpression()
				if err != nil {
					return nil, err
				}
				if err := p.expectIdent("AS"); err != nil {
					return nil, err
				}
				v, err := p.expectKind(tVar, "variable")
				if err != nil {
					return nil, err
				}
				if _, err := p.expectKind(tRParen, ")"); err != nil {
					return nil, err
				}
				q.Items = append(q.Items, SelectItem{Var: Var(v.text), Expr: expr})
			default:
				if len(q.Items) == 0 {
					return nil, p.errHere(tern.ErrParse, "expected projection variable")
				}
				goto projDone
			}
		}
	}
projDone:
	p.acceptIdent("WHERE")
	where, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	q.Where = where
	if err := p.parseModifiers(&q.Mods); err != nil {
		return nil, err
	}
	return q, nil
}

func (p *parser) parseAsk() (*AskQuery, error) {
	p.next() // ASK
	p.acceptIdent("WHERE")
	where, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	q := &AskQuery{Where: where, Mods: defaultMods()}
	if err := p.parseModifiers(&q.Mods); err != nil {
		return nil, err
	}
	return q, nil
}

func (p *parser) parseConstruct() (*ConstructQuery, error) {
	p.next() // CONSTRUCT
	q := &ConstructQuery{Mods: defaultMods()}
	if p.peekKind(tLBrace) {
		tmpl, err := p.parseQuadData(false)
		if err != nil {
			return nil, err
		}
		q.Template = tmpl
		if err := p.expectIdent("WHERE"); err != nil {
			return nil, err
		}
		where, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		q.Where = where
	} else {
		// CONSTRUCT WHERE { pattern }: the pattern is also the template.
		if err := p.expectIdent("WHERE"); err != nil {
			return nil, err
		}
		where, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		q.Where = where
		for _, el := range where.Elements {
			if bgp, ok := el.(BGP); ok {
				for _, t := range bgp.Triples {
					q.Template = append(q.Template, QuadPattern{TriplePattern: t})
				}
			}
		}
	}
	if err := p.parseModifiers(&q.Mods); err != nil {
		return nil, err
	}
	return q, nil
}

func (p *parser) parseDescribe() (*DescribeQuery, error) {
	p.next() // DESCRIBE
	q := &DescribeQuery{Mods: defaultMods()}
	if p.peekKind(tStar) {
		p.next()
		q.Star = true
	} else {
		for {
			switch p.cur().kind {
			case tVar:
				q.Targets = append(q.Targets, Var(p.next().text))
			case tIRI, tPName:
				iri, err := p.parseIRI()
				if err != nil {
					return nil, err
				}
				q.Targets = append(q.Targets, TermIRI(iri))
			default:
				if len(q.Targets) == 0 {
					return nil, p.errHere(tern.ErrParse, "expected DESCRIBE target")
				}
				goto targetsDone
			}
		}
	}
targetsDone:
	if p.acceptIdent("WHERE") || p.peekKind(tLBrace) {
		where, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		q.Where = where
	}
	if err := p.parseModifiers(&q.Mods); err != nil {
		return nil, err
	}
	return q, nil
}

func defaultMods() Modifiers {
	return Modifiers{Limit: -1, Offset: -1}
}

func (p *parser) parseModifiers(m *Modifiers) error {
	for {
		switch {
		case p.atIdent("GROUP"):
			p.next()
			if err := p.expectIdent("BY"); err != nil {
				return err
			}
			for {
				expr, ok, err := p.tryGroupCondition()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				m.GroupBy = append(m.GroupBy, expr)
			}
			if len(m.GroupBy) == 0 {
				return p.errHere(tern.ErrParse, "empty GROUP BY")
			}
		case p.atIdent("HAVING"):
			p.next()
			expr, err := p.parseBracketted()
			if err != nil {
				return err
			}
			m.Having = append(m.Having, expr)
		case p.atIdent("ORDER"):
			p.next()
			if err := p.expectIdent("BY"); err != nil {
				return err
			}
			for {
				cond, ok, err := p.tryOrderCondition()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				m.OrderBy = append(m.OrderBy, cond)
			}
			if len(m.OrderBy) == 0 {
				return p.errHere(tern.ErrParse, "empty ORDER BY")
			}
		case p.atIdent("LIMIT"):
			p.next()
			t, err := p.expectKind(tInteger, "integer")
			if err != nil {
				return err
			}
			m.Limit = parseInt(t.text)
		case p.atIdent("OFFSET"):
			p.next()
			t, err := p.expectKind(tInteger, "integer")
			if err != nil {
				return err
			}
			m.Offset = parseInt(t.text)
		case p.atIdent("VALUES"):
			p.next()
			vals, err := p.parseInlineData()
			if err != nil {
				return err
			}
			m.Values = &vals
		default:
			return nil
		}
	}
}

func (p *parser) tryGroupCondition() (Expression, bool, error) {
	switch p.cur().kind {
	case tVar:
		return ExprVar{Name: Var(p.next().text)}, true, nil
	case tLParen:
		p.next()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, false, err
		}
		if p.acceptIdent("AS") {
			if _, err := p.expectKind(tVar, "variable"); err != nil {
				return nil, false, err
			}
		}
		if _, err := p.expectKind(tRParen, ")"); err != nil {
			return nil, false, err
		}
		return expr, true, nil
	case tIdent:
		if isBuiltinName(p.cur().text) {
			expr, err := p.parsePrimary()
			if err != nil {
				return nil, false, err
			}
			return expr, true, nil
		}
	}
	return nil, false, nil
}

func (p *parser) tryOrderCondition() (OrderCondition, bool, error) {
	desc := false
	switch {
	case p.atIdent("ASC"), p.atIdent("DESC"):
		desc = strings.EqualFold(p.next().text, "DESC")
		expr, err := p.parseBracketted()
		if err != nil {
			return OrderCondition{}, false, err
		}
		return OrderCondition{Expr: expr, Descending: desc}, true, nil
	case p.peekKind(tVar):
		return OrderCondition{Expr: ExprVar{Name: Var(p.next().text)}}, true, nil
	case p.peekKind(tLParen):
		expr, err := p.parseBracketted()
		if err != nil {
			return OrderCondition{}, false, err
		}
		return OrderCondition{Expr: expr}, true, nil
	case p.cur().kind == tIdent && isBuiltinName(p.cur().text):
		expr, err := p.parsePrimary()
		if err != nil {
			return OrderCondition{}, false, err
		}
		return OrderCondition{Expr: expr}, true, nil
	}
	return OrderCondition{}, false, nil
}

func (p *parser) parseBracketted() (Expression, error) {
	if _, err := p.expectKind(tLParen, "("); err != nil {
		return nil, err
	}
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKind(tRParen, ")"); err != nil {
		return nil, err
	}
	return expr, nil
}

func parseInt(s string) int64 {
	var v int64
	for _, c := range s {
		v = v*10 + int64(c-'0')
	}
	return v
}
