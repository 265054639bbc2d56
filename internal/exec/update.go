package exec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/internal/compile"
	"github.com/tern-db/tern/internal/storage"
	"github.com/tern-db/tern/ontology"
	"github.com/tern-db/tern/rdf"
	"github.com/tern-db/tern/rdf/jsonld"
	"github.com/tern-db/tern/rdf/turtle"
	"github.com/tern-db/tern/sparql"
)

// DocumentResolver fetches the document behind a LOAD <iri>. The
// returned contentType selects the parser; empty falls back to Turtle.
type DocumentResolver func(ctx context.Context, iri string) (io.ReadCloser, string, error)

// SetDocumentResolver plugs in the LOAD fetcher (the connection layer
// owns transport policy).
func (e *Executor) SetDocumentResolver(r DocumentResolver) { e.docResolver = r }

// updateSession tracks one update request: its transaction, blank-node
// scope, dirty full-text resources and pending notifications.
type updateSession struct {
	e   *Executor
	ctx context.Context
	// bnodes maps labels to generated identifiers for this request.
	bnodes map[string]string
	// ftsDirty are resources whose full-text row needs a rebuild.
	ftsDirty map[int64]bool
	// changes records (subject, graph) pairs per change kind.
	changes []change
}

type change struct {
	kind    tern.ChangeKind
	subject int64
	graph   string
}

// Update runs a parsed update request in one transaction. On any error
// the transaction rolls back and nothing is observable.
func (e *Executor) Update(ctx context.Context, u *sparql.Update, bindings map[string]any) error {
	if e.readOnly {
		return tern.NewError(tern.ErrUnsupported, "connection is read-only")
	}
	s := &updateSession{
		e:        e,
		ctx:      ctx,
		bnodes:   make(map[string]string),
		ftsDirty: make(map[int64]bool),
	}
	if err := e.db.Begin(ctx); err != nil {
		return err
	}
	for _, op := range u.Ops {
		if err := ctx.Err(); err != nil {
			e.db.Rollback(ctx)
			return tern.WrapError(tern.ErrCancelled, err, "update cancelled")
		}
		if err := s.apply(op, bindings); err != nil {
			e.db.Rollback(ctx)
			return err
		}
	}
	if err := s.rebuildFTS(); err != nil {
		e.db.Rollback(ctx)
		return err
	}
	if err := e.db.Commit(ctx); err != nil {
		e.db.Rollback(ctx)
		return err
	}
	e.dispatchChanges(ctx, s.changes)
	return nil
}

func (s *updateSession) apply(op sparql.UpdateOp, bindings map[string]any) error {
	switch o := op.(type) {
	case sparql.InsertData:
		return s.insertQuads(o.Quads, nil, "", bindings)
	case sparql.DeleteData:
		return s.deleteQuads(o.Quads, nil, "", bindings)
	case sparql.Modify:
		return s.applyModify(o, bindings)
	case sparql.Load:
		return s.applyLoad(o)
	case sparql.Clear:
		return s.clearGraphs(o.Target, o.Silent)
	case sparql.Drop:
		return s.clearGraphs(o.Target, o.Silent)
	case sparql.Create:
		// Graphs are implicit; creating one just interns its name.
		_, err := s.e.db.InternResource(s.ctx, string(o.Graph))
		return err
	case sparql.MoveCopyAdd:
		return s.applyMoveCopyAdd(o)
	default:
		return tern.NewError(tern.ErrInternal, "unknown update op %T", op)
	}
}

// --- term grounding ---

// ground is a resolved quad component: an identifier or a literal.
type ground struct {
	isRef bool
	ref   string // IRI or generated blank-node identifier
	lit   rdf.Literal
}

// bnodeID maps a blank-node label to its identifier under the active
// scoping mode.
func (s *updateSession) bnodeID(label string) string {
	if id, ok := s.bnodes[label]; ok {
		return id
	}
	var id string
	if s.e.anonBNodes {
		// Fresh per update request; the label is not retrievable later.
		id = bnodePrefix + uuid.NewString()
	} else {
		// Stable: the same label always denotes the same resource.
		id = bnodePrefix + label
	}
	s.bnodes[label] = id
	return id
}

// groundTerm resolves a pattern term against a solution and the
// blank-node scope.
func (s *updateSession) groundTerm(t sparql.PatternTerm, sol map[sparql.Var]binding, bindings map[string]any) (ground, error) {
	switch x := t.(type) {
	case sparql.Var:
		b, ok := sol[x]
		if !ok {
			return ground{}, errUnboundTemplate
		}
		if b.vt == tern.TypeURI || b.vt == tern.TypeBlank {
			return ground{isRef: true, ref: b.value}, nil
		}
		return ground{lit: literalOfBinding(b)}, nil
	case sparql.Param:
		v, ok := bindings[string(x)]
		if !ok || v == nil {
			return ground{}, errUnboundTemplate
		}
		return groundOfAny(v)
	default:
		if iri, ok := sparql.AsIRI(t); ok {
			return ground{isRef: true, ref: string(rdf.EscapeIRI(string(iri)))}, nil
		}
		if bl, ok := sparql.AsBlank(t); ok {
			return ground{isRef: true, ref: s.bnodeID(string(bl))}, nil
		}
		if lit, ok := sparql.AsLiteral(t); ok {
			return ground{lit: lit}, nil
		}
	}
	return ground{}, tern.NewError(tern.ErrInternal, "unexpected template term %T", t)
}

var errUnboundTemplate = errors.New("unbound template variable")

func literalOfBinding(b binding) rdf.Literal {
	switch b.vt {
	case tern.TypeInteger:
		return rdf.Literal{Value: b.value, Datatype: rdf.XSDInteger}
	case tern.TypeDouble:
		return rdf.Literal{Value: b.value, Datatype: rdf.XSDDouble}
	case tern.TypeBoolean:
		v := "false"
		if b.value == "1" || b.value == "true" {
			v = "true"
		}
		return rdf.Literal{Value: v, Datatype: rdf.XSDBoolean}
	case tern.TypeDateTime:
		return rdf.Literal{Value: b.value, Datatype: rdf.XSDDateTime}
	default:
		l := rdf.Literal{Value: b.value, Datatype: rdf.XSDString}
		if b.lang != "" {
			l.Datatype = rdf.RDFLangString
			l.Language = b.lang
		}
		return l
	}
}

func groundOfAny(v any) (ground, error) {
	switch x := v.(type) {
	case string:
		return ground{lit: rdf.NewStringLiteral(x)}, nil
	case int64:
		return ground{lit: rdf.NewIntegerLiteral(x)}, nil
	case float64:
		return ground{lit: rdf.NewDoubleLiteral(x)}, nil
	case bool:
		return ground{lit: rdf.NewBooleanLiteral(x)}, nil
	default:
		return ground{}, tern.NewError(tern.ErrType, "unsupported binding type %T", v)
	}
}

// graphName resolves a quad's graph slot; with "" meaning the WITH
// graph or the default graph.
func (s *updateSession) graphName(t sparql.PatternTerm, with rdf.IRI, sol map[sparql.Var]binding) (string, error) {
	if t == nil {
		return string(with), nil
	}
	if iri, ok := sparql.AsIRI(t); ok {
		return string(iri), nil
	}
	if v, ok := t.(sparql.Var); ok {
		if b, bound := sol[v]; bound {
			return b.value, nil
		}
		return "", errUnboundTemplate
	}
	return "", tern.NewError(tern.ErrParse, "invalid graph term")
}

// --- insert path ---

func (s *updateSession) insertQuads(quads []sparql.QuadPattern, sol map[sparql.Var]binding, with rdf.IRI, bindings map[string]any) error {
	for _, q := range quads {
		graph, err := s.graphName(q.Graph, with, sol)
		if err == errUnboundTemplate {
			continue
		}
		if err != nil {
			return err
		}
		subj, err := s.groundTerm(q.Subject, sol, bindings)
		if err == errUnboundTemplate {
			continue
		}
		if err != nil {
			return err
		}
		if !subj.isRef {
			return tern.NewError(tern.ErrType, "literal subject in insert data")
		}
		pred, ok := sparql.AsIRI(q.Predicate)
		if !ok {
			pv, isVar := q.Predicate.(sparql.Var)
			if !isVar {
				return tern.NewError(tern.ErrParse, "invalid predicate in template")
			}
			b, bound := sol[pv]
			if !bound {
				continue
			}
			pred = rdf.IRI(b.value)
		}
		obj, err := s.groundTerm(q.Object, sol, bindings)
		if err == errUnboundTemplate {
			continue
		}
		if err != nil {
			return err
		}
		if err := s.insertOne(subj.ref, pred, obj, graph); err != nil {
			return err
		}
	}
	return nil
}

func (s *updateSession) graphID(graph string) (any, error) {
	if graph == "" {
		return nil, nil
	}
	id, err := s.e.db.InternResource(s.ctx, graph)
	if err != nil {
		return nil, err
	}
	return id, nil
}

func (s *updateSession) insertOne(subj string, pred rdf.IRI, obj ground, graph string) error {
	m := s.e.model
	sid, err := s.e.db.InternResource(s.ctx, subj)
	if err != nil {
		return err
	}
	gid, err := s.graphID(graph)
	if err != nil {
		return err
	}

	if pred == rdf.RDFType {
		if !obj.isRef {
			return tern.NewError(tern.ErrType, "rdf:type needs a class IRI")
		}
		return s.insertType(sid, obj.ref, gid, graph)
	}

	pid, ok := m.PropertyByIRI(pred)
	if !ok {
		return tern.NewError(tern.ErrUnknownProperty, "unknown property %s", pred)
	}
	prop := m.Property(pid)

	var value any
	var lang string
	if prop.Range.IsLiteral() {
		if obj.isRef {
			return tern.NewError(tern.ErrType,
				"property %s expects a literal, got %s", pred, obj.ref)
		}
		v, err := compile.StorageValue(obj.lit, prop.Range)
		if err != nil {
			return err
		}
		value = v
		lang = obj.lit.Language
	} else {
		if !obj.isRef {
			return tern.NewError(tern.ErrType,
				"property %s expects a resource, got %s", pred, obj.lit)
		}
		oid, err := s.e.db.InternResource(s.ctx, obj.ref)
		if err != nil {
			return err
		}
		value = oid
	}

	table := m.TableName(prop.Domain)
	col := m.ColumnName(pid)
	hasLang := storage.IsStringRange(prop.Range)

	// The domain-class row must exist before its columns are written.
	if _, err := s.e.db.Exec(s.ctx,
		fmt.Sprintf("INSERT OR IGNORE INTO %s (ID) VALUES (?)", storage.Quote(table)), sid); err != nil {
		return err
	}

	if prop.SingleValued {
		var cur sql.NullString
		err := s.e.db.QueryRow(s.ctx,
			fmt.Sprintf("SELECT CAST(%s AS TEXT) FROM %s WHERE ID = ?", storage.Quote(col), storage.Quote(table)),
			sid).Scan(&cur)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if cur.Valid {
			if cur.String == fmt.Sprint(value) {
				return nil // idempotent re-insert
			}
			return tern.NewError(tern.ErrType,
				"property %s is single-valued and %s already has a value", pred, subj)
		}
		var set string
		args := []any{value, gid}
		if hasLang {
			set = fmt.Sprintf("%s = ?, %s = ?, %s = ?",
				storage.Quote(col), storage.Quote(col+":graph"), storage.Quote(col+":lang"))
			args = append(args, nullable(lang))
		} else {
			set = fmt.Sprintf("%s = ?, %s = ?", storage.Quote(col), storage.Quote(col+":graph"))
		}
		args = append(args, sid)
		if _, err := s.e.db.Exec(s.ctx,
			fmt.Sprintf("UPDATE %s SET %s WHERE ID = ?", storage.Quote(table), set), args...); err != nil {
			return err
		}
	} else {
		side := storage.SideTableName(m, pid)
		var exists int
		err := s.e.db.QueryRow(s.ctx,
			fmt.Sprintf("SELECT 1 FROM %s WHERE ID = ? AND %s = ? AND graph IS ?",
				storage.Quote(side), storage.Quote(col)),
			sid, value, gid).Scan(&exists)
		if err == nil {
			return nil // idempotent
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if hasLang {
			if _, err := s.e.db.Exec(s.ctx,
				fmt.Sprintf("INSERT INTO %s (ID, %s, graph, %s) VALUES (?, ?, ?, ?)",
					storage.Quote(side), storage.Quote(col), storage.Quote(col+":lang")),
				sid, value, gid, nullable(lang)); err != nil {
				return err
			}
		} else {
			if _, err := s.e.db.Exec(s.ctx,
				fmt.Sprintf("INSERT INTO %s (ID, %s, graph) VALUES (?, ?, ?)",
					storage.Quote(side), storage.Quote(col)),
				sid, value, gid); err != nil {
				return err
			}
		}
	}

	if prop.FulltextIndexed {
		s.ftsDirty[sid] = true
	}
	s.note(tern.ChangeUpdated, sid, graph)
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// insertType asserts rdf:type plus the transitive superclass closure,
// and materializes the class-table rows.
func (s *updateSession) insertType(sid int64, classIRI string, gid any, graph string) error {
	m := s.e.model
	cid, ok := m.ClassByIRI(rdf.IRI(classIRI))
	if !ok {
		return tern.NewError(tern.ErrUnknownClass, "unknown class %s", classIRI)
	}
	all := append([]ontology.ClassID{cid}, m.SuperClasses(cid)...)
	for _, c := range all {
		tid, err := s.e.db.InternResource(s.ctx, string(m.Class(c).IRI))
		if err != nil {
			return err
		}
		if _, err := s.e.db.Exec(s.ctx,
			`INSERT OR IGNORE INTO "Resource_rdf:type" (ID, "rdf:type", graph) VALUES (?, ?, ?)`,
			sid, tid, gid); err != nil {
			return err
		}
		if _, err := s.e.db.Exec(s.ctx,
			fmt.Sprintf("INSERT OR IGNORE INTO %s (ID) VALUES (?)", storage.Quote(m.TableName(c))),
			sid); err != nil {
			return err
		}
	}
	s.note(tern.ChangeAdded, sid, graph)
	return nil
}

// --- delete path ---

func (s *updateSession) deleteQuads(quads []sparql.QuadPattern, sol map[sparql.Var]binding, with rdf.IRI, bindings map[string]any) error {
	for _, q := range quads {
		graph, err := s.graphName(q.Graph, with, sol)
		if err == errUnboundTemplate {
			continue
		}
		if err != nil {
			return err
		}
		subj, err := s.groundTerm(q.Subject, sol, bindings)
		if err == errUnboundTemplate {
			continue
		}
		if err != nil {
			return err
		}
		pred, ok := sparql.AsIRI(q.Predicate)
		if !ok {
			pv, isVar := q.Predicate.(sparql.Var)
			if !isVar {
				return tern.NewError(tern.ErrParse, "invalid predicate in delete template")
			}
			b, bound := sol[pv]
			if !bound {
				continue
			}
			pred = rdf.IRI(b.value)
		}
		obj, err := s.groundTerm(q.Object, sol, bindings)
		if err == errUnboundTemplate {
			continue
		}
		if err != nil {
			return err
		}
		if err := s.deleteOne(subj.ref, pred, obj, graph); err != nil {
			return err
		}
	}
	return nil
}

func (s *updateSession) deleteOne(subj string, pred rdf.IRI, obj ground, graph string) error {
	m := s.e.model
	sid, found, err := s.e.db.LookupResource(s.ctx, subj)
	if err != nil || !found {
		return err
	}
	gid, err := s.graphID(graph)
	if err != nil {
		return err
	}

	if pred == rdf.RDFType {
		if !obj.isRef {
			return nil
		}
		return s.deleteType(sid, obj.ref, gid, graph)
	}

	pid, ok := m.PropertyByIRI(pred)
	if !ok {
		return tern.NewError(tern.ErrUnknownProperty, "unknown property %s", pred)
	}
	prop := m.Property(pid)

	var value any
	if prop.Range.IsLiteral() {
		if obj.isRef {
			return nil
		}
		v, err := compile.StorageValue(obj.lit, prop.Range)
		if err != nil {
			return err
		}
		value = v
	} else {
		if !obj.isRef {
			return nil
		}
		oid, found, err := s.e.db.LookupResource(s.ctx, obj.ref)
		if err != nil || !found {
			return err
		}
		value = oid
	}

	table := m.TableName(prop.Domain)
	col := m.ColumnName(pid)
	if prop.SingleValued {
		set := fmt.Sprintf("%s = NULL, %s = NULL", storage.Quote(col), storage.Quote(col+":graph"))
		if storage.IsStringRange(prop.Range) {
			set += fmt.Sprintf(", %s = NULL", storage.Quote(col+":lang"))
		}
		res, err := s.e.db.Exec(s.ctx,
			fmt.Sprintf("UPDATE %s SET %s WHERE ID = ? AND %s = ? AND %s IS ?",
				storage.Quote(table), set, storage.Quote(col), storage.Quote(col+":graph")),
			sid, value, gid)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.afterDelete(sid, prop, graph)
		}
	} else {
		side := storage.SideTableName(m, pid)
		res, err := s.e.db.Exec(s.ctx,
			fmt.Sprintf("DELETE FROM %s WHERE ID = ? AND %s = ? AND graph IS ?",
				storage.Quote(side), storage.Quote(col)),
			sid, value, gid)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.afterDelete(sid, prop, graph)
		}
	}
	return nil
}

func (s *updateSession) afterDelete(sid int64, prop *ontology.Property, graph string) {
	if prop.FulltextIndexed {
		s.ftsDirty[sid] = true
	}
	s.note(tern.ChangeUpdated, sid, graph)
}

// deleteType retracts rdf:type and cascades: classes no longer implied
// by the remaining types lose their class-table rows and side-table
// entries.
func (s *updateSession) deleteType(sid int64, classIRI string, gid any, graph string) error {
	m := s.e.model
	cid, ok := m.ClassByIRI(rdf.IRI(classIRI))
	if !ok {
		return tern.NewError(tern.ErrUnknownClass, "unknown class %s", classIRI)
	}
	tid, found, err := s.e.db.LookupResource(s.ctx, classIRI)
	if err != nil || !found {
		return err
	}
	res, err := s.e.db.Exec(s.ctx,
		`DELETE FROM "Resource_rdf:type" WHERE ID = ? AND "rdf:type" = ? AND graph IS ?`,
		sid, tid, gid)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	// Compute the closure still implied by the remaining types.
	rows, err := s.e.db.Query(s.ctx, `
		SELECT r.Uri FROM "Resource_rdf:type" t JOIN Resource r ON r.ID = t."rdf:type"
		WHERE t.ID = ?`, sid)
	if err != nil {
		return err
	}
	implied := make(map[ontology.ClassID]bool)
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			rows.Close()
			return err
		}
		if c, ok := m.ClassByIRI(rdf.IRI(uri)); ok {
			implied[c] = true
			for _, sup := range m.SuperClasses(c) {
				implied[sup] = true
			}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// Previously-implied set: the deleted class and its closure.
	dropped := []ontology.ClassID{}
	for _, c := range append([]ontology.ClassID{cid}, m.SuperClasses(cid)...) {
		if !implied[c] {
			dropped = append(dropped, c)
		}
	}
	for _, c := range dropped {
		if _, err := s.e.db.Exec(s.ctx,
			fmt.Sprintf("DELETE FROM %s WHERE ID = ?", storage.Quote(m.TableName(c))), sid); err != nil {
			return err
		}
		// Side tables of properties whose domain was dropped.
		for _, pid := range m.PropertiesOfClass(c) {
			prop := m.Property(pid)
			if prop.Domain != c || prop.SingleValued {
				continue
			}
			if _, err := s.e.db.Exec(s.ctx,
				fmt.Sprintf("DELETE FROM %s WHERE ID = ?", storage.Quote(storage.SideTableName(m, pid))), sid); err != nil {
				return err
			}
		}
	}
	s.ftsDirty[sid] = true
	s.note(tern.ChangeRemoved, sid, graph)
	return nil
}

// --- modify ---

func (s *updateSession) applyModify(m sparql.Modify, bindings map[string]any) error {
	sel := &sparql.SelectQuery{Star: true, Where: m.Where, Mods: sparql.Modifiers{Limit: -1, Offset: -1}}
	q := &sparql.Query{Form: sel}
	compiled, err := s.e.compiler.CompileSelect(q)
	if err != nil {
		return err
	}
	cur, err := s.e.runCompiled(s.ctx, compiled, bindings)
	if err != nil {
		return err
	}
	// Solutions materialize before any mutation: the template must see
	// the pre-update state for every row.
	var sols []map[sparql.Var]binding
	for cur.Next(s.ctx) {
		sols = append(sols, solutionOf(cur))
	}
	err = cur.Err()
	cur.Close()
	if err != nil {
		return err
	}

	for _, sol := range sols {
		if err := s.deleteQuads(m.Delete, sol, m.With, bindings); err != nil {
			return err
		}
	}
	for _, sol := range sols {
		if err := s.insertQuads(m.Insert, sol, m.With, bindings); err != nil {
			return err
		}
	}
	return nil
}

// --- load ---

func (s *updateSession) applyLoad(op sparql.Load) error {
	if s.e.docResolver == nil {
		err := tern.NewError(tern.ErrUnsupported, "LOAD is not available on this connection")
		if op.Silent {
			return nil
		}
		return err
	}
	body, contentType, err := s.e.docResolver(s.ctx, string(op.Source))
	if err != nil {
		if op.Silent {
			return nil
		}
		return tern.WrapError(tern.ErrParse, err, "LOAD %s failed", op.Source)
	}
	defer body.Close()

	var reader rdf.Reader
	scope := "load:" + uuid.NewString() + ":"
	switch {
	case strings.Contains(contentType, "trig"):
		reader = turtle.NewReader(body, turtle.WithTriG(), turtle.WithBlankNodePrefix(scope))
	case strings.Contains(contentType, "json"):
		reader = jsonld.NewReader(body, jsonld.WithBlankNodePrefix(scope))
	default:
		reader = turtle.NewReader(body, turtle.WithBlankNodePrefix(scope))
	}
	defer reader.Close()

	graph := string(op.Into)
	for {
		ev, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if op.Silent {
				return nil
			}
			return err
		}
		q, ok := ev.(rdf.Quad)
		if !ok {
			continue
		}
		if err := s.insertParsedQuad(q, graph); err != nil {
			if op.Silent {
				return nil
			}
			return err
		}
	}
}

// insertParsedQuad inserts one quad produced by an RDF reader.
func (s *updateSession) insertParsedQuad(q rdf.Quad, defaultGraph string) error {
	graph := defaultGraph
	if q.Graph != "" {
		graph = string(q.Graph)
	}
	var subj string
	switch t := q.Subject.(type) {
	case rdf.IRI:
		subj = string(rdf.EscapeIRI(string(t)))
	case rdf.BlankNode:
		subj = s.bnodeID(string(t))
	default:
		return tern.NewError(tern.ErrType, "invalid subject term")
	}
	var obj ground
	switch t := q.Object.(type) {
	case rdf.IRI:
		obj = ground{isRef: true, ref: string(rdf.EscapeIRI(string(t)))}
	case rdf.BlankNode:
		obj = ground{isRef: true, ref: s.bnodeID(string(t))}
	case rdf.Literal:
		obj = ground{lit: t}
	}
	return s.insertOne(subj, q.Predicate, obj, graph)
}

// InsertQuadStream drives the deserialize path: every quad from the
// reader lands in defaultGraph (unless the quad carries its own) inside
// one transaction.
func (e *Executor) InsertQuadStream(ctx context.Context, r rdf.Reader, defaultGraph string) error {
	if e.readOnly {
		return tern.NewError(tern.ErrUnsupported, "connection is read-only")
	}
	s := &updateSession{
		e:        e,
		ctx:      ctx,
		bnodes:   make(map[string]string),
		ftsDirty: make(map[int64]bool),
	}
	if err := e.db.Begin(ctx); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			e.db.Rollback(ctx)
			return tern.WrapError(tern.ErrCancelled, err, "deserialize cancelled")
		}
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			e.db.Rollback(ctx)
			return err
		}
		q, ok := ev.(rdf.Quad)
		if !ok {
			continue
		}
		if err := s.insertParsedQuad(q, defaultGraph); err != nil {
			e.db.Rollback(ctx)
			return err
		}
	}
	if err := s.rebuildFTS(); err != nil {
		e.db.Rollback(ctx)
		return err
	}
	if err := e.db.Commit(ctx); err != nil {
		e.db.Rollback(ctx)
		return err
	}
	e.dispatchChanges(ctx, s.changes)
	return nil
}
