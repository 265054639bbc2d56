// Package compile lowers SPARQL syntax trees onto the relational
// schema: one SQL statement per query, fully parameterized, with typed
// column metadata for the cursor layer.
//
// The strategy is fragment-and-join: every triple pattern becomes a
// small SELECT over the class table, side table or rdf:type table that
// stores its predicate, exposing uniform `c_<var>` columns; a basic
// graph pattern is the join of its fragments on shared variables, and
// the SPARQL algebra (OPTIONAL, UNION, MINUS, SERVICE, sub-selects)
// composes the same shapes one level up.
package compile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/internal/storage"
	"github.com/tern-db/tern/ontology"
	"github.com/tern-db/tern/rdf"
	"github.com/tern-db/tern/sparql"
)

// ColKind is the static type the compiler derived for a result column.
type ColKind int

const (
	// KindDynamic columns carry display text whose RDF type is not
	// statically known (variable predicates, SERVICE results).
	KindDynamic ColKind = iota
	// KindResource columns carry Resource rowids (subjects, IRI-ranged
	// objects); the projection layer resolves them to IRIs.
	KindResource
	KindString
	KindInteger
	KindDouble
	KindBoolean
	KindDateTime
)

// Column describes one projected result column.
type Column struct {
	Name    string
	Kind    ColKind
	HasLang bool // a `<name>:lang` SQL output column directly follows
}

// Arg is one SQL parameter: either a concrete value or a deferred
// `~name` parameter bound at execution time.
type Arg struct {
	Value any
	Param string
}

// Query is a compiled SELECT/ASK query.
type Query struct {
	SQL     string
	Args    []Arg
	Columns []Column
	// Ask marks the boolean form: one row, one integer column.
	Ask bool
}

// ServiceTable is the name of the federated-query virtual table.
const ServiceTable = "tern_service"

// ServiceMaxColumns bounds the column count of the service virtual
// table; inner SELECTs with more variables are rejected.
const ServiceMaxColumns = 32

// Compiler lowers parsed queries against one ontology model. Stateless
// between calls; safe to share.
type Compiler struct {
	model *ontology.Model
}

// New returns a compiler for the model.
func New(m *ontology.Model) *Compiler {
	return &Compiler{model: m}
}

// job carries the mutable state of one compilation.
type job struct {
	c        *Compiler
	args     []Arg
	aliasSeq int
}

func (j *job) alias() string {
	j.aliasSeq++
	return fmt.Sprintf("t%d", j.aliasSeq)
}

// addArg registers a parameter and returns its numbered placeholder.
// Numbered placeholders keep binding order independent of where the
// text lands in the assembled statement (projection lists are emitted
// before the subqueries that were compiled first).
func (j *job) addArg(v any) string {
	j.args = append(j.args, Arg{Value: v})
	return fmt.Sprintf("?%d", len(j.args))
}

func (j *job) addParam(p sparql.Param) string {
	j.args = append(j.args, Arg{Param: string(p)})
	return fmt.Sprintf("?%d", len(j.args))
}

// resourceID returns a scalar subquery resolving an IRI to its rowid.
func (j *job) resourceID(iri rdf.IRI) string {
	return "(SELECT ID FROM Resource WHERE Uri = " + j.addArg(string(iri)) + ")"
}

// uriOf wraps a rowid expression into its IRI text.
func uriOf(expr string) string {
	return "(SELECT Uri FROM Resource WHERE ID = " + expr + ")"
}

// CompileSelect lowers a SELECT or ASK query.
func (c *Compiler) CompileSelect(q *sparql.Query) (*Query, error) {
	j := &job{c: c}
	switch f := q.Form.(type) {
	case *sparql.SelectQuery:
		r, err := j.compileGroup(f.Where, graphScope{})
		if err != nil {
			return nil, err
		}
		return j.finishSelect(f, r)
	case *sparql.AskQuery:
		r, err := j.compileGroup(f.Where, graphScope{})
		if err != nil {
			return nil, err
		}
		sql := "SELECT EXISTS (SELECT 1 FROM (" + r.sql + "))"
		return &Query{SQL: sql, Args: j.args, Ask: true,
			Columns: []Column{{Name: "result", Kind: KindBoolean}}}, nil
	default:
		return nil, tern.NewError(tern.ErrInternal, "CompileSelect on %T", q.Form)
	}
}

// finishSelect wraps the pattern relation with projection, grouping,
// ordering and limits.
func (j *job) finishSelect(f *sparql.SelectQuery, r *rel) (*Query, error) {
	items := f.Items
	if f.Star {
		for _, rv := range r.vars {
			items = append(items, sparql.SelectItem{Var: rv.v})
		}
	}

	var sel []string
	var cols []Column
	for _, item := range items {
		if item.Expr == nil {
			rv, ok := r.byName[item.Var]
			if !ok {
				// Projected but never bound: constant NULL, unbound in
				// every row.
				sel = append(sel, "NULL AS "+storage.Quote("c_"+string(item.Var)))
				cols = append(cols, Column{Name: string(item.Var), Kind: KindDynamic})
				continue
			}
			expr := r.colRef("q", rv)
			if rv.kind == KindResource {
				expr = uriOf(expr)
			}
			sel = append(sel, expr+" AS "+storage.Quote("c_"+string(item.Var)))
			cols = append(cols, Column{Name: string(item.Var), Kind: rv.kind, HasLang: rv.hasLang})
			if rv.hasLang {
				sel = append(sel, r.langRef("q", rv)+" AS "+storage.Quote("c_"+string(item.Var)+":lang"))
			}
			continue
		}
		sqlExpr, kind, err := j.compileExpr(item.Expr, r, "q")
		if err != nil {
			return nil, err
		}
		sel = append(sel, sqlExpr+" AS "+storage.Quote("c_"+string(item.Var)))
		cols = append(cols, Column{Name: string(item.Var), Kind: kind})
	}
	if len(sel) == 0 {
		return nil, tern.NewError(tern.ErrInternal, "empty projection")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if f.Distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(strings.Join(sel, ", "))
	b.WriteString(" FROM (" + r.sql + ") q")

	if len(f.Mods.GroupBy) > 0 {
		var groups []string
		for _, g := range f.Mods.GroupBy {
			sqlExpr, _, err := j.compileExpr(g, r, "q")
			if err != nil {
				return nil, err
			}
			groups = append(groups, sqlExpr)
		}
		b.WriteString(" GROUP BY " + strings.Join(groups, ", "))
	} else if hasAggregate(items) {
		// Implicit single group.
	}
	for _, h := range f.Mods.Having {
		sqlExpr, _, err := j.compileExpr(h, r, "q")
		if err != nil {
			return nil, err
		}
		b.WriteString(" HAVING " + sqlExpr)
	}
	if len(f.Mods.OrderBy) > 0 {
		var orders []string
		for _, oc := range f.Mods.OrderBy {
			sqlExpr, err := j.compileOrderExpr(oc.Expr, r, items)
			if err != nil {
				return nil, err
			}
			dir := ""
			if oc.Descending {
				dir = " DESC"
			}
			orders = append(orders, sqlExpr+dir)
		}
		b.WriteString(" ORDER BY " + strings.Join(orders, ", "))
	}
	if f.Mods.Limit >= 0 {
		fmt.Fprintf(&b, " LIMIT %d", f.Mods.Limit)
	}
	if f.Mods.Offset >= 0 {
		if f.Mods.Limit < 0 {
			b.WriteString(" LIMIT -1")
		}
		fmt.Fprintf(&b, " OFFSET %d", f.Mods.Offset)
	}

	return &Query{SQL: b.String(), Args: j.args, Columns: cols}, nil
}

// compileOrderExpr resolves ORDER BY terms: a variable that names a
// projection alias sorts on the alias (required for aggregate outputs).
func (j *job) compileOrderExpr(e sparql.Expression, r *rel, items []sparql.SelectItem) (string, error) {
	if v, ok := e.(sparql.ExprVar); ok {
		for _, item := range items {
			if item.Var == v.Name && item.Expr != nil {
				return storage.Quote("c_" + string(v.Name)), nil
			}
		}
	}
	sqlExpr, _, err := j.compileExpr(e, r, "q")
	return sqlExpr, err
}

func hasAggregate(items []sparql.SelectItem) bool {
	for _, it := range items {
		if it.Expr != nil && sparql.IsAggregate(it.Expr) {
			return true
		}
	}
	return false
}

// kindOfRange maps a property range to a column kind.
func kindOfRange(r ontology.Range) ColKind {
	if !r.IsLiteral() {
		return KindResource
	}
	switch r.Datatype {
	case rdf.XSDInteger, rdf.XSDLong, rdf.XSDInt, rdf.XSDByte:
		return KindInteger
	case rdf.XSDDouble, rdf.XSDDecimal:
		return KindDouble
	case rdf.XSDBoolean:
		return KindBoolean
	case rdf.XSDDate, rdf.XSDDateTime:
		return KindDateTime
	default:
		return KindString
	}
}

// sortTriples orders a BGP's patterns most-selective first: bound
// subjects, then rdf:type constraints, then indexed properties, then
// the rest, variable predicates last. The sort is stable so equally
// ranked patterns keep author order.
func (c *Compiler) sortTriples(triples []sparql.TriplePattern) []sparql.TriplePattern {
	scored := make([]sparql.TriplePattern, len(triples))
	copy(scored, triples)
	score := func(t sparql.TriplePattern) int {
		s := 0
		if _, isVar := t.Subject.(sparql.Var); isVar {
			s += 4
		}
		pred, isIRI := sparql.AsIRI(t.Predicate)
		switch {
		case !isIRI:
			s += 8 // variable predicate: widest
		case pred == rdf.RDFType:
			s += 1
		default:
			if pid, ok := c.model.PropertyByIRI(pred); ok && c.model.Property(pid).Indexed {
				s += 2
			} else {
				s += 3
			}
		}
		if _, isVar := t.Object.(sparql.Var); !isVar {
			s -= 1
		}
		return s
	}
	sort.SliceStable(scored, func(i, k int) bool { return score(scored[i]) < score(scored[k]) })
	return scored
}
