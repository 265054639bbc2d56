package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/internal/compile"
	"github.com/tern-db/tern/rdf"
	"github.com/tern-db/tern/sparql"
)

// quadColumns is the metadata of the quad-view convention shared by
// DESCRIBE, CONSTRUCT and the deserializer cursors.
func quadColumns() []compile.Column {
	return []compile.Column{
		{Name: "s", Kind: compile.KindDynamic},
		{Name: "p", Kind: compile.KindDynamic},
		{Name: "o", Kind: compile.KindDynamic},
		{Name: "k", Kind: compile.KindInteger},
		{Name: "l", Kind: compile.KindDynamic},
		{Name: "g", Kind: compile.KindDynamic},
	}
}

// Cell is one materialized cursor cell.
type Cell struct {
	Valid bool
	Value string
	Lang  string
}

// MemoryCursor is a cursor over materialized rows. It carries CONSTRUCT
// results and the empty DESCRIBE result.
type MemoryCursor struct {
	cols []compile.Column
	rows [][]Cell
	pos  int // 0 = before first row
	err  error
}

// NewMemoryCursor wraps materialized rows.
func NewMemoryCursor(cols []compile.Column, rows [][]Cell) *MemoryCursor {
	return &MemoryCursor{cols: cols, rows: rows}
}

func newEmptyQuadCursor() *MemoryCursor {
	return NewMemoryCursor(quadColumns(), nil)
}

func (m *MemoryCursor) Next(ctx context.Context) bool {
	if m.err != nil || m.pos >= len(m.rows) {
		return false
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			m.err = tern.WrapError(tern.ErrCancelled, ctx.Err(), "cursor cancelled")
			return false
		default:
		}
	}
	m.pos++
	return true
}

func (m *MemoryCursor) Err() error    { return m.err }
func (m *MemoryCursor) NColumns() int { return len(m.cols) }

func (m *MemoryCursor) VariableName(col int) string {
	if col < 0 || col >= len(m.cols) {
		return ""
	}
	return m.cols[col].Name
}

func (m *MemoryCursor) cell(col int) Cell {
	if m.pos == 0 || m.pos > len(m.rows) || col < 0 || col >= len(m.cols) {
		return Cell{}
	}
	row := m.rows[m.pos-1]
	if col >= len(row) {
		return Cell{}
	}
	return row[col]
}

func (m *MemoryCursor) ValueType(col int) tern.ValueType {
	c := m.cell(col)
	if !c.Valid {
		return tern.TypeUnbound
	}
	switch m.cols[col].Kind {
	case compile.KindResource:
		if len(c.Value) >= len(bnodePrefix) && c.Value[:len(bnodePrefix)] == bnodePrefix {
			return tern.TypeBlank
		}
		return tern.TypeURI
	case compile.KindInteger:
		return tern.TypeInteger
	case compile.KindDouble:
		return tern.TypeDouble
	case compile.KindBoolean:
		return tern.TypeBoolean
	case compile.KindDateTime:
		return tern.TypeDateTime
	default:
		return tern.TypeString
	}
}

func (m *MemoryCursor) GetString(col int) (string, string) {
	c := m.cell(col)
	return c.Value, c.Lang
}

func (m *MemoryCursor) GetInteger(col int) int64 {
	var v int64
	fmt.Sscanf(m.cell(col).Value, "%d", &v)
	return v
}

func (m *MemoryCursor) GetDouble(col int) float64 {
	var v float64
	fmt.Sscanf(m.cell(col).Value, "%g", &v)
	return v
}

func (m *MemoryCursor) GetBoolean(col int) bool {
	v := m.cell(col).Value
	return v == "1" || v == "true"
}

func (m *MemoryCursor) GetDateTime(col int) time.Time {
	if t, err := time.Parse(time.RFC3339, m.cell(col).Value); err == nil {
		return t
	}
	return time.Time{}
}

func (m *MemoryCursor) Close() error { return nil }

// runConstruct executes the WHERE clause, then streams the template
// instantiated per solution, in the quad-view convention.
func (e *Executor) runConstruct(ctx context.Context, q *sparql.Query, f *sparql.ConstructQuery, bindings map[string]any) (tern.Cursor, error) {
	sel := &sparql.SelectQuery{Star: true, Where: f.Where, Mods: f.Mods}
	inner := &sparql.Query{Base: q.Base, Prefixes: q.Prefixes, Form: sel}
	compiled, err := e.compiler.CompileSelect(inner)
	if err != nil {
		return nil, err
	}
	cur, err := e.runCompiled(ctx, compiled, bindings)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	// Solutions materialize up front: construct results are bounded by
	// the template size times the solution count, and materializing
	// keeps the storage connection free for the caller.
	var rows [][]Cell
	rowIdx := 0
	for cur.Next(ctx) {
		sol := solutionOf(cur)
		for _, tmpl := range f.Template {
			row, ok := instantiate(tmpl, sol, rowIdx)
			if ok {
				rows = append(rows, row)
			}
		}
		rowIdx++
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return NewMemoryCursor(quadColumns(), rows), nil
}

// binding is one variable's value in a solution.
type binding struct {
	value string
	lang  string
	vt    tern.ValueType
}

func solutionOf(cur tern.Cursor) map[sparql.Var]binding {
	sol := make(map[sparql.Var]binding, cur.NColumns())
	for i := 0; i < cur.NColumns(); i++ {
		vt := cur.ValueType(i)
		if vt == tern.TypeUnbound {
			continue
		}
		v, lang := cur.GetString(i)
		sol[sparql.Var(cur.VariableName(i))] = binding{value: v, lang: lang, vt: vt}
	}
	return sol
}

func kindOfValueType(vt tern.ValueType) compile.ColKind {
	switch vt {
	case tern.TypeURI, tern.TypeBlank:
		return compile.KindResource
	case tern.TypeInteger:
		return compile.KindInteger
	case tern.TypeDouble:
		return compile.KindDouble
	case tern.TypeBoolean:
		return compile.KindBoolean
	case tern.TypeDateTime:
		return compile.KindDateTime
	default:
		return compile.KindString
	}
}

func kindOfLiteral(l rdf.Literal) compile.ColKind {
	switch l.Datatype {
	case rdf.XSDInteger, rdf.XSDLong, rdf.XSDInt, rdf.XSDByte:
		return compile.KindInteger
	case rdf.XSDDouble, rdf.XSDDecimal:
		return compile.KindDouble
	case rdf.XSDBoolean:
		return compile.KindBoolean
	case rdf.XSDDate, rdf.XSDDateTime:
		return compile.KindDateTime
	default:
		return compile.KindString
	}
}

// instantiate fills one template quad from a solution. Rows with an
// unbound template variable are dropped, per SPARQL CONSTRUCT
// semantics. Blank-node labels in the template mint one node per
// solution row.
func instantiate(tmpl sparql.QuadPattern, sol map[sparql.Var]binding, rowIdx int) ([]Cell, bool) {
	term := func(t sparql.PatternTerm) (Cell, compile.ColKind, bool) {
		switch x := t.(type) {
		case sparql.Var:
			b, ok := sol[x]
			if !ok {
				return Cell{}, 0, false
			}
			return Cell{Valid: true, Value: b.value, Lang: b.lang}, kindOfValueType(b.vt), true
		default:
			if iri, ok := sparql.AsIRI(t); ok {
				return Cell{Valid: true, Value: string(iri)}, compile.KindResource, true
			}
			if bl, ok := sparql.AsBlank(t); ok {
				label := fmt.Sprintf("%sc%d_%s", bnodePrefix, rowIdx, bl)
				return Cell{Valid: true, Value: label}, compile.KindResource, true
			}
			if lit, ok := sparql.AsLiteral(t); ok {
				return Cell{Valid: true, Value: lit.Value, Lang: lit.Language}, kindOfLiteral(lit), true
			}
		}
		return Cell{}, 0, false
	}

	s, _, ok := term(tmpl.Subject)
	if !ok {
		return nil, false
	}
	p, _, ok := term(tmpl.Predicate)
	if !ok {
		return nil, false
	}
	o, oKind, ok := term(tmpl.Object)
	if !ok {
		return nil, false
	}
	var g Cell
	if tmpl.Graph != nil {
		var gok bool
		g, _, gok = term(tmpl.Graph)
		if !gok {
			return nil, false
		}
	}
	return []Cell{
		s, p, o,
		{Valid: true, Value: fmt.Sprintf("%d", int64(oKind))},
		{Valid: o.Lang != "", Value: o.Lang},
		g,
	}, true
}
