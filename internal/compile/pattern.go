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

// rel is a compiled relation: a SELECT whose output columns are
// `c_<var>` (and `c_<var>:lang` for language-carrying strings).
type rel struct {
	sql    string
	vars   []relVar
	byName map[sparql.Var]relVar
}

type relVar struct {
	v       sparql.Var
	kind    ColKind
	hasLang bool
}

func newRel(sql string, vars []relVar) *rel {
	r := &rel{sql: sql, vars: vars, byName: make(map[sparql.Var]relVar, len(vars))}
	for _, v := range vars {
		r.byName[v.v] = v
	}
	return r
}

func (r *rel) colRef(alias string, v relVar) string {
	return alias + "." + storage.Quote("c_"+string(v.v))
}

func (r *rel) langRef(alias string, v relVar) string {
	return alias + "." + storage.Quote("c_"+string(v.v)+":lang")
}

// graphScope carries the active GRAPH context while walking patterns.
type graphScope struct {
	// iri is the constant graph, when inside GRAPH <g> { }.
	iri rdf.IRI
	// v is the graph variable, when inside GRAPH ?g { }.
	v sparql.Var
}

func (g graphScope) active() bool { return g.iri != "" || g.v != "" }

// compileGroup lowers one group graph pattern to a relation.
func (j *job) compileGroup(g sparql.GroupGraphPattern, scope graphScope) (*rel, error) {
	var current *rel
	var filters []sparql.Expression
	var binds []sparql.Bind

	join := func(next *rel) {
		if current == nil {
			current = next
			return
		}
		current = j.innerJoin(current, next)
	}

	for _, el := range g.Elements {
		switch e := el.(type) {
		case sparql.BGP:
			r, err := j.compileBGP(e, scope)
			if err != nil {
				return nil, err
			}
			join(r)
		case sparql.GraphGroup:
			inner := scope
			switch gt := e.Graph.(type) {
			case sparql.Var:
				inner = graphScope{v: gt}
			default:
				if iri, ok := sparql.AsIRI(e.Graph); ok {
					inner = graphScope{iri: iri}
				}
			}
			r, err := j.compileGroup(e.Pattern, inner)
			if err != nil {
				return nil, err
			}
			join(r)
		case sparql.Optional:
			r, err := j.compileGroup(e.Pattern, scope)
			if err != nil {
				return nil, err
			}
			if current == nil {
				current = r
			} else {
				current = j.leftJoin(current, r)
			}
		case sparql.Union:
			if len(e.Alternatives) == 1 {
				r, err := j.compileGroup(e.Alternatives[0], scope)
				if err != nil {
					return nil, err
				}
				join(r)
				continue
			}
			r, err := j.compileUnion(e.Alternatives, scope)
			if err != nil {
				return nil, err
			}
			join(r)
		case sparql.Minus:
			r, err := j.compileGroup(e.Pattern, scope)
			if err != nil {
				return nil, err
			}
			if current == nil {
				return nil, tern.NewError(tern.ErrParse, "MINUS without a preceding pattern")
			}
			current = j.antiJoin(current, r)
		case sparql.Filter:
			filters = append(filters, e.Expr)
		case sparql.Bind:
			binds = append(binds, e)
		case sparql.InlineData:
			r, err := j.compileValues(e)
			if err != nil {
				return nil, err
			}
			join(r)
		case sparql.SubSelect:
			r, err := j.compileSubSelect(e.Query, scope)
			if err != nil {
				return nil, err
			}
			join(r)
		case sparql.Service:
			r, err := j.compileService(e)
			if err != nil {
				return nil, err
			}
			join(r)
		default:
			return nil, tern.NewError(tern.ErrInternal, "unhandled pattern element %T", el)
		}
	}

	if current == nil {
		// Empty pattern: the unit relation (one row, no columns).
		current = newRel("SELECT 1 AS one", nil)
	}

	for _, b := range binds {
		next, err := j.applyBind(current, b)
		if err != nil {
			return nil, err
		}
		current = next
	}
	for _, f := range filters {
		next, err := j.applyFilter(current, f)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// compileBGP joins the fragments of the pattern's triples, most
// selective first.
func (j *job) compileBGP(bgp sparql.BGP, scope graphScope) (*rel, error) {
	triples := j.c.sortTriples(bgp.Triples)
	// Type constraints inform candidate sets for variable predicates.
	typeOf := make(map[sparql.Var]rdf.IRI)
	for _, t := range bgp.Triples {
		if pred, ok := sparql.AsIRI(t.Predicate); ok && pred == rdf.RDFType {
			if sv, ok := t.Subject.(sparql.Var); ok {
				if cls, ok := sparql.AsIRI(t.Object); ok {
					typeOf[sv] = cls
				}
			}
		}
	}

	var current *rel
	for _, t := range triples {
		frag, err := j.compileTriple(t, scope, typeOf)
		if err != nil {
			return nil, err
		}
		if current == nil {
			current = frag
		} else {
			current = j.innerJoin(current, frag)
		}
	}
	if current == nil {
		current = newRel("SELECT 1 AS one", nil)
	}
	return current, nil
}

// patternVar normalizes blank nodes in patterns to internal variables,
// per SPARQL semantics.
func patternVar(t sparql.PatternTerm) (sparql.Var, bool) {
	switch x := t.(type) {
	case sparql.Var:
		return x, true
	default:
		if b, ok := sparql.AsBlank(t); ok {
			return sparql.Var("_bn_" + string(b)), true
		}
	}
	return "", false
}

// compileTriple builds the fragment relation of one triple pattern.
func (j *job) compileTriple(t sparql.TriplePattern, scope graphScope, typeOf map[sparql.Var]rdf.IRI) (*rel, error) {
	if pred, ok := sparql.AsIRI(t.Predicate); ok {
		if pred == rdf.RDFType {
			return j.typeFragment(t, scope)
		}
		return j.propertyFragment(t, pred, scope)
	}
	if _, ok := patternVar(t.Predicate); ok {
		return j.varPredicateFragment(t, scope, typeOf)
	}
	return nil, tern.NewError(tern.ErrParse, "unsupported predicate term")
}

// fragment assembles `SELECT <projections> FROM <table> WHERE <conds>`.
type fragment struct {
	j     *job
	table string
	sel   []string
	conds []string
	vars  []relVar
}

func (f *fragment) project(expr string, v relVar) {
	f.sel = append(f.sel, expr+" AS "+storage.Quote("c_"+string(v.v)))
	f.vars = append(f.vars, v)
}

func (f *fragment) projectLang(expr string, v sparql.Var) {
	f.sel = append(f.sel, expr+" AS "+storage.Quote("c_"+string(v)+":lang"))
}

func (f *fragment) where(cond string) {
	f.conds = append(f.conds, cond)
}

func (f *fragment) rel() *rel {
	sel := f.sel
	if len(sel) == 0 {
		sel = []string{"1 AS one"}
	}
	sql := "SELECT " + strings.Join(sel, ", ") + " FROM " + f.table
	if len(f.conds) > 0 {
		sql += " WHERE " + strings.Join(f.conds, " AND ")
	}
	return newRel(sql, f.vars)
}

// bindSubject constrains or projects the ID column.
func (f *fragment) bindSubject(t sparql.PatternTerm, idCol string) error {
	if v, ok := patternVar(t); ok {
		f.project(idCol, relVar{v: v, kind: KindResource})
		return nil
	}
	if iri, ok := sparql.AsIRI(t); ok {
		f.where(idCol + " = " + f.j.resourceID(rdf.EscapeIRI(string(iri))))
		return nil
	}
	if p, ok := t.(sparql.Param); ok {
		f.where(idCol + " = (SELECT ID FROM Resource WHERE Uri = " + f.j.addParam(p) + ")")
		return nil
	}
	return tern.NewError(tern.ErrParse, "invalid subject term")
}

// bindGraph applies the graph scope to a fragment's graph column.
func (f *fragment) bindGraph(scope graphScope, graphCol string) {
	switch {
	case scope.iri != "":
		f.where(graphCol + " = " + f.j.resourceID(scope.iri))
	case scope.v != "":
		f.project(graphCol, relVar{v: scope.v, kind: KindResource})
		f.where(graphCol + " IS NOT NULL")
	}
}

// typeFragment lowers `?s rdf:type C`.
func (j *job) typeFragment(t sparql.TriplePattern, scope graphScope) (*rel, error) {
	f := &fragment{j: j, table: storage.Quote(storage.TypeTable)}
	if err := f.bindSubject(t.Subject, "ID"); err != nil {
		return nil, err
	}
	typeCol := storage.Quote("rdf:type")
	if v, ok := patternVar(t.Object); ok {
		f.project(typeCol, relVar{v: v, kind: KindResource})
	} else if cls, ok := sparql.AsIRI(t.Object); ok {
		if _, known := j.c.model.ClassByIRI(cls); !known {
			return nil, tern.NewError(tern.ErrUnknownClass, "unknown class %s", cls)
		}
		f.where(typeCol + " = " + j.resourceID(cls))
	} else {
		return nil, tern.NewError(tern.ErrParse, "rdf:type object must be a class or variable")
	}
	f.bindGraph(scope, "graph")
	return f.rel(), nil
}

// propertyFragment lowers a triple with a constant, known predicate.
func (j *job) propertyFragment(t sparql.TriplePattern, pred rdf.IRI, scope graphScope) (*rel, error) {
	pid, ok := j.c.model.PropertyByIRI(pred)
	if !ok {
		return nil, tern.NewError(tern.ErrUnknownProperty, "unknown property %s", pred)
	}
	prop := j.c.model.Property(pid)
	col := j.c.model.ColumnName(pid)
	kind := kindOfRange(prop.Range)
	hasLang := storage.IsStringRange(prop.Range)

	var f *fragment
	var valueCol, graphCol, langCol string
	if prop.SingleValued {
		f = &fragment{j: j, table: storage.Quote(j.c.model.TableName(prop.Domain))}
		valueCol = storage.Quote(col)
		graphCol = storage.Quote(col + ":graph")
		langCol = storage.Quote(col + ":lang")
		f.where(valueCol + " IS NOT NULL")
	} else {
		f = &fragment{j: j, table: storage.Quote(storage.SideTableName(j.c.model, pid))}
		valueCol = storage.Quote(col)
		graphCol = "graph"
		langCol = storage.Quote(col + ":lang")
	}

	if err := f.bindSubject(t.Subject, "ID"); err != nil {
		return nil, err
	}
	if err := j.bindObject(f, t.Object, valueCol, langCol, prop.Range, kind, hasLang); err != nil {
		return nil, err
	}
	f.bindGraph(scope, graphCol)
	return f.rel(), nil
}

// bindObject constrains or projects the value column of a fragment.
func (j *job) bindObject(f *fragment, t sparql.PatternTerm, valueCol, langCol string, rng ontology.Range, kind ColKind, hasLang bool) error {
	if v, ok := patternVar(t); ok {
		f.project(valueCol, relVar{v: v, kind: kind, hasLang: hasLang})
		if hasLang {
			f.projectLang(langCol, v)
		}
		return nil
	}
	if iri, ok := sparql.AsIRI(t); ok {
		if rng.IsLiteral() {
			return tern.NewError(tern.ErrType, "IRI value for literal-ranged property")
		}
		f.where(valueCol + " = " + j.resourceID(rdf.EscapeIRI(string(iri))))
		return nil
	}
	if lit, ok := sparql.AsLiteral(t); ok {
		sv, err := StorageValue(lit, rng)
		if err != nil {
			return err
		}
		f.where(valueCol + " = " + j.addArg(sv))
		if lit.Language != "" {
			f.where(langCol + " = " + j.addArg(lit.Language))
		}
		return nil
	}
	if p, ok := t.(sparql.Param); ok {
		if rng.IsLiteral() {
			f.where(valueCol + " = " + j.addParam(p))
		} else {
			f.where(valueCol + " = (SELECT ID FROM Resource WHERE Uri = " + j.addParam(p) + ")")
		}
		return nil
	}
	return tern.NewError(tern.ErrParse, "invalid object term")
}

// StorageValue converts a literal to its stored representation for the
// given range.
func StorageValue(lit rdf.Literal, rng ontology.Range) (any, error) {
	if !rng.IsLiteral() {
		return nil, tern.NewError(tern.ErrType, "literal %s used where a resource is expected", lit)
	}
	switch kindOfRange(rng) {
	case KindInteger:
		var v int64
		if _, err := fmt.Sscanf(lit.Value, "%d", &v); err != nil {
			return nil, tern.NewError(tern.ErrType, "invalid integer literal %q", lit.Value)
		}
		return v, nil
	case KindDouble:
		var v float64
		if _, err := fmt.Sscanf(lit.Value, "%g", &v); err != nil {
			return nil, tern.NewError(tern.ErrType, "invalid numeric literal %q", lit.Value)
		}
		return v, nil
	case KindBoolean:
		switch lit.Value {
		case "true", "1":
			return int64(1), nil
		case "false", "0":
			return int64(0), nil
		}
		return nil, tern.NewError(tern.ErrType, "invalid boolean literal %q", lit.Value)
	default:
		return lit.Value, nil
	}
}

// varPredicateFragment lowers `?s ?p ?o` as a UNION over the candidate
// properties (bounded by the subject's type when known) plus rdf:type.
func (j *job) varPredicateFragment(t sparql.TriplePattern, scope graphScope, typeOf map[sparql.Var]rdf.IRI) (*rel, error) {
	pv, _ := patternVar(t.Predicate)
	ov, objIsVar := patternVar(t.Object)

	var candidates []ontology.PropertyID
	if sv, ok := patternVar(t.Subject); ok {
		if cls, ok := typeOf[sv]; ok {
			if cid, known := j.c.model.ClassByIRI(cls); known {
				candidates = j.c.model.PropertiesOfClass(cid)
			}
		}
	}
	if candidates == nil {
		for i := range j.c.model.Properties {
			candidates = append(candidates, ontology.PropertyID(i))
		}
	}

	var branches []string
	addBranch := func(sql string) { branches = append(branches, sql) }

	for _, pid := range candidates {
		prop := j.c.model.Property(pid)
		col := j.c.model.ColumnName(pid)
		var f *fragment
		var valueCol, graphCol string
		if prop.SingleValued {
			f = &fragment{j: j, table: storage.Quote(j.c.model.TableName(prop.Domain))}
			valueCol = storage.Quote(col)
			graphCol = storage.Quote(col + ":graph")
			f.where(valueCol + " IS NOT NULL")
		} else {
			f = &fragment{j: j, table: storage.Quote(storage.SideTableName(j.c.model, pid))}
			valueCol = storage.Quote(col)
			graphCol = "graph"
		}
		if err := f.bindSubject(t.Subject, "ID"); err != nil {
			return nil, err
		}
		f.project(j.addArg(string(prop.IRI)), relVar{v: pv, kind: KindDynamic})
		// Objects normalize to display text across branches.
		display := valueCol
		if !prop.Range.IsLiteral() {
			display = uriOf(valueCol)
		} else {
			display = "CAST(" + valueCol + " AS TEXT)"
		}
		if objIsVar {
			f.project(display, relVar{v: ov, kind: KindDynamic})
		} else if lit, ok := sparql.AsLiteral(t.Object); ok {
			f.where(display + " = " + j.addArg(lit.Value))
		} else if iri, ok := sparql.AsIRI(t.Object); ok {
			f.where(display + " = " + j.addArg(string(rdf.EscapeIRI(string(iri)))))
		}
		f.bindGraph(scope, graphCol)
		addBranch(f.rel().sql)
	}

	// rdf:type branch.
	{
		f := &fragment{j: j, table: storage.Quote(storage.TypeTable)}
		if err := f.bindSubject(t.Subject, "ID"); err != nil {
			return nil, err
		}
		f.project(j.addArg(string(rdf.RDFType)), relVar{v: pv, kind: KindDynamic})
		display := uriOf(storage.Quote("rdf:type"))
		if objIsVar {
			f.project(display, relVar{v: ov, kind: KindDynamic})
		} else if iri, ok := sparql.AsIRI(t.Object); ok {
			f.where(display + " = " + j.addArg(string(iri)))
		}
		f.bindGraph(scope, "graph")
		addBranch(f.rel().sql)
	}

	vars := []relVar{{v: pv, kind: KindDynamic}}
	if sv, ok := patternVar(t.Subject); ok {
		vars = append([]relVar{{v: sv, kind: KindResource}}, vars...)
	}
	if objIsVar {
		vars = append(vars, relVar{v: ov, kind: KindDynamic})
	}
	return newRel(strings.Join(branches, " UNION ALL "), vars), nil
}

// innerJoin joins two relations on their shared variables.
func (j *job) innerJoin(a, b *rel) *rel {
	return j.joinRels(a, b, "JOIN")
}

// leftJoin is OPTIONAL: keep a's rows, null b's columns when unmatched.
func (j *job) leftJoin(a, b *rel) *rel {
	return j.joinRels(a, b, "LEFT JOIN")
}

func (j *job) joinRels(a, b *rel, joinKind string) *rel {
	la, lb := j.alias(), j.alias()
	var conds []string
	var sel []string
	var vars []relVar

	for _, av := range a.vars {
		sel = append(sel, a.colRef(la, av)+" AS "+storage.Quote("c_"+string(av.v)))
		if av.hasLang {
			sel = append(sel, a.langRef(la, av)+" AS "+storage.Quote("c_"+string(av.v)+":lang"))
		}
		vars = append(vars, av)
	}
	for _, bv := range b.vars {
		if av, shared := a.byName[bv.v]; shared {
			conds = append(conds, joinCond(a.colRef(la, av), av.kind, b.colRef(lb, bv), bv.kind))
			continue
		}
		sel = append(sel, b.colRef(lb, bv)+" AS "+storage.Quote("c_"+string(bv.v)))
		if bv.hasLang {
			sel = append(sel, b.langRef(lb, bv)+" AS "+storage.Quote("c_"+string(bv.v)+":lang"))
		}
		vars = append(vars, bv)
	}

	on := "1 = 1"
	if len(conds) > 0 {
		on = strings.Join(conds, " AND ")
	}
	if len(sel) == 0 {
		sel = []string{"1 AS one"}
	}
	sql := fmt.Sprintf("SELECT %s FROM (%s) %s %s (%s) %s ON %s",
		strings.Join(sel, ", "), a.sql, la, joinKind, b.sql, lb, on)
	return newRel(sql, vars)
}

// joinCond equates two variable columns, translating Resource rowids to
// IRI text when one side is dynamic (SERVICE results, var predicates).
func joinCond(aExpr string, aKind ColKind, bExpr string, bKind ColKind) string {
	if aKind == KindResource && bKind == KindDynamic {
		return uriOf(aExpr) + " = " + bExpr
	}
	if aKind == KindDynamic && bKind == KindResource {
		return aExpr + " = " + uriOf(bExpr)
	}
	return aExpr + " = " + bExpr
}

// antiJoin is MINUS: remove a's rows with a matching b row. With no
// shared variables MINUS removes nothing.
func (j *job) antiJoin(a, b *rel) *rel {
	la, lb := j.alias(), j.alias()
	var conds []string
	for _, bv := range b.vars {
		if av, shared := a.byName[bv.v]; shared {
			conds = append(conds, joinCond(a.colRef(la, av), av.kind, b.colRef(lb, bv), bv.kind))
		}
	}
	if len(conds) == 0 {
		return a
	}
	sql := fmt.Sprintf("SELECT * FROM (%s) %s WHERE NOT EXISTS (SELECT 1 FROM (%s) %s WHERE %s)",
		a.sql, la, b.sql, lb, strings.Join(conds, " AND "))
	return newRel(sql, a.vars)
}

// compileUnion aligns the alternatives' variable columns and stacks
// them with UNION ALL.
func (j *job) compileUnion(alts []sparql.GroupGraphPattern, scope graphScope) (*rel, error) {
	rels := make([]*rel, 0, len(alts))
	var order []sparql.Var
	kinds := make(map[sparql.Var]ColKind)
	lang := make(map[sparql.Var]bool)
	for _, alt := range alts {
		r, err := j.compileGroup(alt, scope)
		if err != nil {
			return nil, err
		}
		rels = append(rels, r)
		for _, rv := range r.vars {
			if _, seen := kinds[rv.v]; !seen {
				order = append(order, rv.v)
				kinds[rv.v] = rv.kind
				lang[rv.v] = rv.hasLang
			} else if kinds[rv.v] != rv.kind {
				kinds[rv.v] = KindDynamic
			}
		}
	}

	var branches []string
	for _, r := range rels {
		la := j.alias()
		var sel []string
		for _, v := range order {
			if rv, ok := r.byName[v]; ok {
				expr := r.colRef(la, rv)
				if kinds[v] == KindDynamic && rv.kind == KindResource {
					expr = uriOf(expr)
				}
				sel = append(sel, expr+" AS "+storage.Quote("c_"+string(v)))
				if lang[v] {
					if rv.hasLang {
						sel = append(sel, r.langRef(la, rv)+" AS "+storage.Quote("c_"+string(v)+":lang"))
					} else {
						sel = append(sel, "NULL AS "+storage.Quote("c_"+string(v)+":lang"))
					}
				}
			} else {
				sel = append(sel, "NULL AS "+storage.Quote("c_"+string(v)))
				if lang[v] {
					sel = append(sel, "NULL AS "+storage.Quote("c_"+string(v)+":lang"))
				}
			}
		}
		branches = append(branches, fmt.Sprintf("SELECT %s FROM (%s) %s",
			strings.Join(sel, ", "), r.sql, la))
	}

	vars := make([]relVar, 0, len(order))
	for _, v := range order {
		vars = append(vars, relVar{v: v, kind: kinds[v], hasLang: lang[v]})
	}
	return newRel(strings.Join(branches, " UNION ALL "), vars), nil
}

// compileValues builds a constant relation from VALUES rows.
func (j *job) compileValues(d sparql.InlineData) (*rel, error) {
	if len(d.Rows) == 0 {
		return newRel("SELECT 1 AS one WHERE 0", nil), nil
	}
	var branches []string
	for _, row := range d.Rows {
		var sel []string
		for i, cell := range row {
			name := storage.Quote("c_" + string(d.Vars[i]))
			switch {
			case cell == nil:
				sel = append(sel, "NULL AS "+name)
			default:
				if iri, ok := sparql.AsIRI(cell); ok {
					sel = append(sel, "(SELECT ID FROM Resource WHERE Uri = "+j.addArg(string(iri))+") AS "+name)
				} else if lit, ok := sparql.AsLiteral(cell); ok {
					sel = append(sel, j.addArg(lit.Value)+" AS "+name)
				} else {
					return nil, tern.NewError(tern.ErrParse, "unsupported VALUES term")
				}
			}
		}
		branches = append(branches, "SELECT "+strings.Join(sel, ", "))
	}
	vars := make([]relVar, 0, len(d.Vars))
	for i, v := range d.Vars {
		kind := KindDynamic
		for _, row := range d.Rows {
			if row[i] != nil {
				if _, ok := sparql.AsIRI(row[i]); ok {
					kind = KindResource
				}
				break
			}
		}
		vars = append(vars, relVar{v: v, kind: kind})
	}
	return newRel(strings.Join(branches, " UNION ALL "), vars), nil
}

// compileSubSelect nests a SELECT as a relation.
func (j *job) compileSubSelect(q *sparql.SelectQuery, scope graphScope) (*rel, error) {
	inner, err := j.compileGroup(q.Where, scope)
	if err != nil {
		return nil, err
	}
	compiled, err := j.finishSelect(q, inner)
	if err != nil {
		return nil, err
	}
	// The sub-select projects display values; resource columns were
	// already resolved to IRI text, so they join as dynamic.
	var vars []relVar
	for _, col := range compiled.Columns {
		kind := col.Kind
		if kind == KindResource {
			kind = KindDynamic
		}
		vars = append(vars, relVar{v: sparql.Var(col.Name), kind: kind, hasLang: col.HasLang})
	}
	return newRel(compiled.SQL, vars), nil
}

// compileService lowers SERVICE to the federated virtual table. The
// inner pattern's variables, sorted by name, map onto col0…colN.
func (j *job) compileService(s sparql.Service) (*rel, error) {
	vars := collectVars(s.Pattern)
	sort.Slice(vars, func(i, k int) bool { return vars[i] < vars[k] })
	if len(vars) > ServiceMaxColumns {
		return nil, tern.NewError(tern.ErrUnsupported,
			"SERVICE pattern binds %d variables; at most %d are supported", len(vars), ServiceMaxColumns)
	}

	var endpoint string
	if iri, ok := sparql.AsIRI(s.Endpoint); ok {
		endpoint = string(iri)
	} else {
		return nil, tern.NewError(tern.ErrUnsupported, "variable SERVICE endpoints are not supported")
	}

	silent := 0
	if s.Silent {
		silent = 1
	}
	innerQuery := buildServiceQuery(vars, s.Raw)

	var sel []string
	var rvars []relVar
	for i, v := range vars {
		sel = append(sel, fmt.Sprintf("col%d AS %s", i, storage.Quote("c_"+string(v))))
		rvars = append(rvars, relVar{v: v, kind: KindDynamic})
	}
	if len(sel) == 0 {
		sel = []string{"1 AS one"}
	}
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE service = %s AND query = %s AND silent = %s",
		strings.Join(sel, ", "), ServiceTable,
		j.addArg(endpoint), j.addArg(innerQuery), j.addArg(int64(silent)))
	return newRel(sql, rvars), nil
}

// buildServiceQuery wraps the raw SERVICE pattern in a SELECT that
// projects the variables in col0…colN order.
func buildServiceQuery(vars []sparql.Var, raw string) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if len(vars) == 0 {
		b.WriteString("*")
	}
	for i, v := range vars {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString("?" + string(v))
	}
	b.WriteString(" WHERE ")
	b.WriteString(raw)
	return b.String()
}

// collectVars gathers every variable mentioned in a pattern, in no
// particular order.
func collectVars(g sparql.GroupGraphPattern) []sparql.Var {
	seen := make(map[sparql.Var]bool)
	var walk func(sparql.GroupGraphPattern)
	addTerm := func(t sparql.PatternTerm) {
		if v, ok := t.(sparql.Var); ok {
			seen[v] = true
		}
	}
	walk = func(g sparql.GroupGraphPattern) {
		for _, el := range g.Elements {
			switch e := el.(type) {
			case sparql.BGP:
				for _, t := range e.Triples {
					addTerm(t.Subject)
					addTerm(t.Predicate)
					addTerm(t.Object)
				}
			case sparql.GraphGroup:
				addTerm(e.Graph)
				walk(e.Pattern)
			case sparql.Optional:
				walk(e.Pattern)
			case sparql.Minus:
				walk(e.Pattern)
			case sparql.Union:
				for _, a := range e.Alternatives {
					walk(a)
				}
			case sparql.Service:
				walk(e.Pattern)
			case sparql.SubSelect:
				walk(e.Query.Where)
			case sparql.Bind:
				seen[e.Var] = true
			case sparql.InlineData:
				for _, v := range e.Vars {
					seen[v] = true
				}
			}
		}
	}
	walk(g)
	out := make([]sparql.Var, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	return out
}

// applyBind extends a relation with a computed column.
func (j *job) applyBind(r *rel, b sparql.Bind) (*rel, error) {
	la := j.alias()
	exprSQL, kind, err := j.compileExpr(b.Expr, r, la)
	if err != nil {
		return nil, err
	}
	var sel []string
	for _, rv := range r.vars {
		sel = append(sel, r.colRef(la, rv)+" AS "+storage.Quote("c_"+string(rv.v)))
		if rv.hasLang {
			sel = append(sel, r.langRef(la, rv)+" AS "+storage.Quote("c_"+string(rv.v)+":lang"))
		}
	}
	sel = append(sel, exprSQL+" AS "+storage.Quote("c_"+string(b.Var)))
	sql := fmt.Sprintf("SELECT %s FROM (%s) %s", strings.Join(sel, ", "), r.sql, la)
	vars := append(append([]relVar(nil), r.vars...), relVar{v: b.Var, kind: kind})
	return newRel(sql, vars), nil
}

// applyFilter wraps a relation with a WHERE predicate.
func (j *job) applyFilter(r *rel, e sparql.Expression) (*rel, error) {
	la := j.alias()
	exprSQL, _, err := j.compileExpr(e, r, la)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf("SELECT * FROM (%s) %s WHERE %s", r.sql, la, exprSQL)
	return newRel(sql, r.vars), nil
}
