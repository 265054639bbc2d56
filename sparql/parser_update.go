package sparql

import (
	"strings"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/rdf"
)

func (p *parser) parseUpdateOp() (UpdateOp, error) {
	switch {
	case p.atIdent("INSERT"):
		p.next()
		if p.acceptIdent("DATA") {
			quads, err := p.parseQuadData(true)
			if err != nil {
				return nil, err
			}
			return InsertData{Quads: quads}, nil
		}
		return p.parseModify(nil)
	case p.atIdent("DELETE"):
		p.next()
		if p.acceptIdent("DATA") {
			quads, err := p.parseQuadData(true)
			if err != nil {
				return nil, err
			}
			for _, q := range quads {
				if hasBlank(q) {
					return nil, p.errHere(tern.ErrParse, "blank nodes are not allowed in DELETE DATA")
				}
			}
			return DeleteData{Quads: quads}, nil
		}
		if p.atIdent("WHERE") {
			p.next()
			tmpl, err := p.parseQuadData(false)
			if err != nil {
				return nil, err
			}
			m := Modify{Delete: tmpl, WhereIsDeleteTemplate: true}
			m.Where = quadsToPattern(tmpl)
			return m, nil
		}
		return p.parseModifyDeleteFirst(nil)
	case p.atIdent("WITH"):
		p.next()
		g, err := p.parseIRI()
		if err != nil {
			return nil, err
		}
		switch {
		case p.atIdent("INSERT"):
			p.next()
			return p.parseModify(&g)
		case p.atIdent("DELETE"):
			p.next()
			return p.parseModifyDeleteFirst(&g)
		default:
			return nil, p.errHere(tern.ErrParse, "expected INSERT or DELETE after WITH")
		}
	case p.atIdent("LOAD"):
		p.next()
		op := Load{Silent: p.acceptIdent("SILENT")}
		src, err := p.parseIRI()
		if err != nil {
			return nil, err
		}
		op.Source = src
		if p.acceptIdent("INTO") {
			if err := p.expectIdent("GRAPH"); err != nil {
				return nil, err
			}
			g, err := p.parseIRI()
			if err != nil {
				return nil, err
			}
			op.Into = g
		}
		return op, nil
	case p.atIdent("CLEAR"):
		p.next()
		silent := p.acceptIdent("SILENT")
		ref, err := p.parseGraphRef()
		if err != nil {
			return nil, err
		}
		return Clear{Silent: silent, Target: ref}, nil
	case p.atIdent("CREATE"):
		p.next()
		silent := p.acceptIdent("SILENT")
		if err := p.expectIdent("GRAPH"); err != nil {
			return nil, err
		}
		g, err := p.parseIRI()
		if err != nil {
			return nil, err
		}
		return Create{Silent: silent, Graph: g}, nil
	case p.atIdent("DROP"):
		p.next()
		silent := p.acceptIdent("SILENT")
		ref, err := p.parseGraphRef()
		if err != nil {
			return nil, err
		}
		return Drop{Silent: silent, Target: ref}, nil
	case p.atIdent("ADD"), p.atIdent("MOVE"), p.atIdent("COPY"):
		verb := strings.ToUpper(p.next().text)
		silent := p.acceptIdent("SILENT")
		from, err := p.parseGraphOrDefault()
		if err != nil {
			return nil, err
		}
		if err := p.expectIdent("TO"); err != nil {
			return nil, err
		}
		to, err := p.parseGraphOrDefault()
		if err != nil {
			return nil, err
		}
		return MoveCopyAdd{Verb: verb, Silent: silent, From: from, To: to}, nil
	default:
		return nil, p.errHere(tern.ErrParse, "expected update operation")
	}
}

// parseModify handles `INSERT {…} [USING…] WHERE {…}` (INSERT keyword
// already consumed) and `INSERT WHERE` shorthand.
func (p *parser) parseModify(with *rdf.IRI) (UpdateOp, error) {
	m := Modify{}
	if with != nil {
		m.With = *with
	}
	if p.atIdent("WHERE") {
		// INSERT WHERE shorthand: pattern doubles as template.
		p.next()
		tmpl, err := p.parseQuadData(false)
		if err != nil {
			return nil, err
		}
		m.Insert = tmpl
		m.Where = quadsToPattern(tmpl)
		return m, nil
	}
	tmpl, err := p.parseQuadData(false)
	if err != nil {
		return nil, err
	}
	m.Insert = tmpl
	if err := p.parseUsing(&m); err != nil {
		return nil, err
	}
	if err := p.expectIdent("WHERE"); err != nil {
		return nil, err
	}
	where, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	m.Where = where
	return m, nil
}

// parseModifyDeleteFirst handles `DELETE {…} [INSERT {…}] [USING…]
// WHERE {…}` (DELETE keyword already consumed).
func (p *parser) parseModifyDeleteFirst(with *rdf.IRI) (UpdateOp, error) {
	m := Modify{}
	if with != nil {
		m.With = *with
	}
	tmpl, err := p.parseQuadData(false)
	if err != nil {
		return nil, err
	}
	for _, q := range tmpl {
		if hasBlank(q) {
			return nil, p.errHere(tern.ErrParse, "blank nodes are not allowed in DELETE templates")
		}
	}
	m.Delete = tmpl
	if p.acceptIdent("INSERT") {
		ins, err := p.parseQuadData(false)
		if err != nil {
			return nil, err
		}
		m.Insert = ins
	}
	if err := p.parseUsing(&m); err != nil {
		return nil, err
	}
	if err := p.expectIdent("WHERE"); err != nil {
		return nil, err
	}
	where, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	m.Where = where
	return m, nil
}

func (p *parser) parseUsing(m *Modify) error {
	for p.acceptIdent("USING") {
		p.acceptIdent("NAMED")
		g, err := p.parseIRI()
		if err != nil {
			return err
		}
		m.Using = append(m.Using, g)
	}
	return nil
}

func (p *parser) parseGraphRef() (GraphRef, error) {
	switch {
	case p.acceptIdent("DEFAULT"):
		return GraphRef{Default: true}, nil
	case p.acceptIdent("NAMED"):
		return GraphRef{Named: true}, nil
	case p.acceptIdent("ALL"):
		return GraphRef{All: true}, nil
	case p.acceptIdent("GRAPH"):
		g, err := p.parseIRI()
		if err != nil {
			return GraphRef{}, err
		}
		return GraphRef{IRI: g}, nil
	default:
		return GraphRef{}, p.errHere(tern.ErrParse, "expected DEFAULT, NAMED, ALL or GRAPH")
	}
}

func (p *parser) parseGraphOrDefault() (GraphRef, error) {
	if p.acceptIdent("DEFAULT") {
		return GraphRef{Default: true}, nil
	}
	p.acceptIdent("GRAPH")
	g, err := p.parseIRI()
	if err != nil {
		return GraphRef{}, err
	}
	return GraphRef{IRI: g}, nil
}

// parseQuadData parses `{ triples (GRAPH g { triples })* }`. When
// groundOnly is set, variables are rejected (INSERT/DELETE DATA).
func (p *parser) parseQuadData(groundOnly bool) ([]QuadPattern, error) {
	if _, err := p.expectKind(tLBrace, "{"); err != nil {
		return nil, err
	}
	var out []QuadPattern
	for {
		switch {
		case p.peekKind(tRBrace):
			p.next()
			if groundOnly {
				for _, q := range out {
					if hasVar(q) {
						return nil, p.errHere(tern.ErrParse, "variables are not allowed in ground data")
					}
				}
			}
			return out, nil
		case p.peekKind(tEOF):
			return nil, p.errHere(tern.ErrParse, "unterminated data block")
		case p.peekKind(tDot):
			p.next()
		case p.atIdent("GRAPH"):
			p.next()
			g, err := p.parseVarOrIRI()
			if err != nil {
				return nil, err
			}
			if _, err := p.expectKind(tLBrace, "{"); err != nil {
				return nil, err
			}
			for !p.peekKind(tRBrace) {
				if p.peekKind(tDot) {
					p.next()
					continue
				}
				triples, err := p.parseTriplesBlock()
				if err != nil {
					return nil, err
				}
				for _, t := range triples {
					out = append(out, QuadPattern{Graph: g, TriplePattern: t})
				}
			}
			p.next()
		default:
			triples, err := p.parseTriplesBlock()
			if err != nil {
				return nil, err
			}
			for _, t := range triples {
				out = append(out, QuadPattern{TriplePattern: t})
			}
		}
	}
}

func hasVar(q QuadPattern) bool {
	for _, t := range []PatternTerm{q.Graph, q.Subject, q.Predicate, q.Object} {
		if _, ok := t.(Var); ok {
			return true
		}
	}
	return false
}

func hasBlank(q QuadPattern) bool {
	for _, t := range []PatternTerm{q.Subject, q.Object} {
		if _, ok := t.(blankTerm); ok {
			return true
		}
	}
	return false
}

// quadsToPattern converts a template to the equivalent WHERE pattern for
// the DELETE WHERE / INSERT WHERE shorthands.
func quadsToPattern(quads []QuadPattern) GroupGraphPattern {
	var defaultTriples []TriplePattern
	byGraph := make(map[PatternTerm][]TriplePattern)
	var graphOrder []PatternTerm
	for _, q := range quads {
		if q.Graph == nil {
			defaultTriples = append(defaultTriples, q.TriplePattern)
			continue
		}
		if _, seen := byGraph[q.Graph]; !seen {
			graphOrder = append(graphOrder, q.Graph)
		}
		byGraph[q.Graph] = append(byGraph[q.Graph], q.TriplePattern)
	}
	var g GroupGraphPattern
	if len(defaultTriples) > 0 {
		g.Elements = append(g.Elements, BGP{Triples: defaultTriples})
	}
	for _, graph := range graphOrder {
		g.Elements = append(g.Elements, GraphGroup{
			Graph:   graph,
			Pattern: GroupGraphPattern{Elements: []PatternElement{BGP{Triples: byGraph[graph]}}},
		})
	}
	return g
}
