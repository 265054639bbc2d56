package sparql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/rdf"
)

func defaultNS() *rdf.Namespaces {
	ns := rdf.NewNamespaces()
	ns.Register("nie", rdf.NSNIE)
	ns.Register("nmm", rdf.NSNMM)
	ns.Register("nfo", rdf.NSNFO)
	return ns
}

func parseQ(t *testing.T, src string) *Query {
	t.Helper()
	q, err := ParseQuery(src, WithNamespaces(defaultNS()))
	require.NoError(t, err)
	return q
}

func TestParseQuery_SimpleSelect(t *testing.T) {
	q := parseQ(t, `SELECT ?t WHERE { <http://x/a> nie:title ?t }`)
	sel := q.Form.(*SelectQuery)
	require.Len(t, sel.Items, 1)
	assert.Equal(t, Var("t"), sel.Items[0].Var)

	bgp := sel.Where.Elements[0].(BGP)
	require.Len(t, bgp.Triples, 1)
	subj, _ := AsIRI(bgp.Triples[0].Subject)
	assert.Equal(t, rdf.IRI("http://x/a"), subj)
	pred, _ := AsIRI(bgp.Triples[0].Predicate)
	assert.Equal(t, rdf.IRI(rdf.NSNIE+"title"), pred)
	assert.Equal(t, Var("t"), bgp.Triples[0].Object)
}

func TestParseQuery_PrologueOverridesDefaults(t *testing.T) {
	q := parseQ(t, `
		PREFIX nie: <http://other/>
		SELECT ?t WHERE { ?s nie:title ?t }`)
	bgp := q.Form.(*SelectQuery).Where.Elements[0].(BGP)
	pred, _ := AsIRI(bgp.Triples[0].Predicate)
	assert.Equal(t, rdf.IRI("http://other/title"), pred)
}

func TestParseQuery_UnknownPrefix(t *testing.T) {
	_, err := ParseQuery(`SELECT ?t WHERE { ?s nope:title ?t }`)
	require.Error(t, err)
	assert.Equal(t, tern.ErrUnknownPrefix, tern.CodeOf(err))
	var te *tern.Error
	require.ErrorAs(t, err, &te)
	assert.Greater(t, te.Line, 0)
}

func TestParseQuery_TypeKeyword(t *testing.T) {
	q := parseQ(t, `SELECT ?s WHERE { ?s a nfo:Audio }`)
	bgp := q.Form.(*SelectQuery).Where.Elements[0].(BGP)
	pred, _ := AsIRI(bgp.Triples[0].Predicate)
	assert.Equal(t, rdf.RDFType, pred)
}

func TestParseQuery_AggregateAndModifiers(t *testing.T) {
	q := parseQ(t, `
		SELECT (COUNT(*) AS ?c) ?g
		WHERE { ?s a nfo:Audio ; nie:title ?t . }
		GROUP BY ?g
		HAVING (COUNT(*) > 1)
		ORDER BY DESC(?c) ?g
		LIMIT 10 OFFSET 5`)
	sel := q.Form.(*SelectQuery)
	require.Len(t, sel.Items, 2)
	call := sel.Items[0].Expr.(ExprCall)
	assert.Equal(t, "COUNT", call.Func)
	assert.True(t, call.Star)
	assert.Len(t, sel.Mods.GroupBy, 1)
	assert.Len(t, sel.Mods.Having, 1)
	require.Len(t, sel.Mods.OrderBy, 2)
	assert.True(t, sel.Mods.OrderBy[0].Descending)
	assert.Equal(t, int64(10), sel.Mods.Limit)
	assert.Equal(t, int64(5), sel.Mods.Offset)
}

func TestParseQuery_OptionalUnionMinusFilterBind(t *testing.T) {
	q := parseQ(t, `
		SELECT * WHERE {
			?s a nfo:Audio .
			OPTIONAL { ?s nie:title ?t }
			{ ?s nfo:duration ?d } UNION { ?s nfo:codec ?c }
			MINUS { ?s nie:title "skip" }
			FILTER(BOUND(?t) && STRLEN(?t) > 3)
			BIND(STR(?s) AS ?str)
		}`)
	els := q.Form.(*SelectQuery).Where.Elements
	require.Len(t, els, 6)
	assert.IsType(t, BGP{}, els[0])
	assert.IsType(t, Optional{}, els[1])
	u := els[2].(Union)
	assert.Len(t, u.Alternatives, 2)
	assert.IsType(t, Minus{}, els[3])
	assert.IsType(t, Filter{}, els[4])
	assert.IsType(t, Bind{}, els[5])
}

func TestParseQuery_ServiceCapturesRawText(t *testing.T) {
	q := parseQ(t, `SELECT ?t WHERE { SERVICE <private:other> { ?x nie:title ?t } }`)
	svc := q.Form.(*SelectQuery).Where.Elements[0].(Service)
	ep, _ := AsIRI(svc.Endpoint)
	assert.Equal(t, rdf.IRI("private:other"), ep)
	assert.Contains(t, svc.Raw, "?x nie:title ?t")
	assert.Equal(t, byte('{'), svc.Raw[0])
	assert.Equal(t, byte('}'), svc.Raw[len(svc.Raw)-1])
}

func TestParseQuery_Parameters(t *testing.T) {
	q := parseQ(t, `SELECT ?s WHERE { ?s nie:title ~arg1 . FILTER(?s != ~arg2) }`)
	assert.Equal(t, []Param{"arg1", "arg2"}, q.Params)
}

func TestParseQuery_SubSelectAndValues(t *testing.T) {
	q := parseQ(t, `
		SELECT ?s WHERE {
			{ SELECT ?s WHERE { ?s a nfo:Audio } LIMIT 2 }
			VALUES ?x { "a" "b" UNDEF }
		}`)
	els := q.Form.(*SelectQuery).Where.Elements
	assert.IsType(t, SubSelect{}, els[0])
	vals := els[1].(InlineData)
	assert.Len(t, vals.Rows, 3)
	assert.Nil(t, vals.Rows[2][0])
}

func TestParseQuery_ConstructAndDescribe(t *testing.T) {
	q := parseQ(t, `CONSTRUCT { ?s nie:title ?t } WHERE { ?s nie:title ?t }`)
	c := q.Form.(*ConstructQuery)
	assert.Len(t, c.Template, 1)

	q = parseQ(t, `DESCRIBE <http://x/a>`)
	d := q.Form.(*DescribeQuery)
	require.Len(t, d.Targets, 1)

	q = parseQ(t, `DESCRIBE ?s WHERE { ?s a nfo:Audio }`)
	d = q.Form.(*DescribeQuery)
	assert.Len(t, d.Where.Elements, 1)
}

func TestParseQuery_GroupConcatForms(t *testing.T) {
	q := parseQ(t, `SELECT (GROUP_CONCAT(?t; SEPARATOR=",") AS ?all) WHERE { ?s nie:title ?t }`)
	call := q.Form.(*SelectQuery).Items[0].Expr.(ExprCall)
	assert.Equal(t, ",", call.Separator)

	q = parseQ(t, `SELECT (GROUP_CONCAT(?t ORDER BY ?t) AS ?all) WHERE { ?s nie:title ?t }`)
	call = q.Form.(*SelectQuery).Items[0].Expr.(ExprCall)
	assert.Len(t, call.OrderBy, 1)
}

func TestParseUpdate_InsertDeleteData(t *testing.T) {
	u, err := ParseUpdate(`
		INSERT DATA {
			<http://x/a> a nmm:MusicPiece ; nie:title "Aaa" .
			GRAPH <http://g> { <http://x/a> nmm:trackNumber 1 }
		} ;
		DELETE DATA { <http://x/a> nie:title "Aaa" }`,
		WithNamespaces(defaultNS()))
	require.NoError(t, err)
	require.Len(t, u.Ops, 2)
	ins := u.Ops[0].(InsertData)
	require.Len(t, ins.Quads, 3)
	assert.Nil(t, ins.Quads[0].Graph)
	g, _ := AsIRI(ins.Quads[2].Graph)
	assert.Equal(t, rdf.IRI("http://g"), g)
}

func TestParseUpdate_GroundDataRejectsVariables(t *testing.T) {
	_, err := ParseUpdate(`INSERT DATA { ?s nie:title "x" }`, WithNamespaces(defaultNS()))
	require.Error(t, err)
	assert.Equal(t, tern.ErrParse, tern.CodeOf(err))
}

func TestParseUpdate_ModifyForms(t *testing.T) {
	u, err := ParseUpdate(`
		DELETE { ?s nie:title ?t } INSERT { ?s nie:title "new" } WHERE { ?s nie:title ?t } ;
		DELETE WHERE { ?s nfo:codec ?c } ;
		WITH <http://g> INSERT { ?s nfo:codec "flac" } WHERE { ?s a nfo:Audio }`,
		WithNamespaces(defaultNS()))
	require.NoError(t, err)
	require.Len(t, u.Ops, 3)

	m := u.Ops[0].(Modify)
	assert.Len(t, m.Delete, 1)
	assert.Len(t, m.Insert, 1)

	dw := u.Ops[1].(Modify)
	assert.True(t, dw.WhereIsDeleteTemplate)
	assert.NotEmpty(t, dw.Where.Elements)

	w := u.Ops[2].(Modify)
	assert.Equal(t, rdf.IRI("http://g"), w.With)
}

func TestParseUpdate_GraphManagement(t *testing.T) {
	u, err := ParseUpdate(`
		LOAD SILENT <http://remote/doc.ttl> INTO GRAPH <http://g> ;
		CLEAR GRAPH <http://g> ;
		CREATE GRAPH <http://h> ;
		DROP SILENT ALL ;
		COPY <http://g> TO <http://h> ;
		MOVE DEFAULT TO <http://g> ;
		ADD <http://g> TO DEFAULT`,
		WithNamespaces(defaultNS()))
	require.NoError(t, err)
	require.Len(t, u.Ops, 7)
	ld := u.Ops[0].(Load)
	assert.True(t, ld.Silent)
	assert.Equal(t, rdf.IRI("http://g"), ld.Into)
	drop := u.Ops[3].(Drop)
	assert.True(t, drop.Target.All)
	mv := u.Ops[5].(MoveCopyAdd)
	assert.Equal(t, "MOVE", mv.Verb)
	assert.True(t, mv.From.Default)
}

type fakeResolver struct {
	classes    map[rdf.IRI]bool
	properties map[rdf.IRI]bool
}

func (f fakeResolver) IsClass(iri rdf.IRI) bool    { return f.classes[iri] }
func (f fakeResolver) IsProperty(iri rdf.IRI) bool { return f.properties[iri] }

func testResolver() fakeResolver {
	return fakeResolver{
		classes: map[rdf.IRI]bool{
			rdf.IRI(rdf.NSNFO + "Audio"): true,
		},
		properties: map[rdf.IRI]bool{
			rdf.IRI(rdf.NSNIE + "title"): true,
		},
	}
}

func TestValidate_UnknownPropertyAndClass(t *testing.T) {
	q := parseQ(t, `SELECT ?t WHERE { ?s nie:bogus ?t }`)
	err := Validate(q, testResolver())
	assert.Equal(t, tern.ErrUnknownProperty, tern.CodeOf(err))

	q = parseQ(t, `SELECT ?s WHERE { ?s a nfo:Bogus }`)
	err = Validate(q, testResolver())
	assert.Equal(t, tern.ErrUnknownClass, tern.CodeOf(err))

	q = parseQ(t, `SELECT ?s WHERE { ?s a nfo:Audio ; nie:title ?t }`)
	assert.NoError(t, Validate(q, testResolver()))
}

func TestValidate_ServiceIsTolerant(t *testing.T) {
	q := parseQ(t, `SELECT ?t WHERE { SERVICE <private:x> { ?s nie:bogus ?t . ?s a nfo:Bogus } }`)
	assert.NoError(t, Validate(q, testResolver()))
}

func TestValidate_UnanchoredVariablePredicate(t *testing.T) {
	q := parseQ(t, `SELECT ?p WHERE { ?s ?p ?o }`)
	err := Validate(q, testResolver())
	require.Error(t, err)

	q = parseQ(t, `SELECT ?p WHERE { ?s a nfo:Audio . ?s ?p ?o }`)
	assert.NoError(t, Validate(q, testResolver()))

	q = parseQ(t, `SELECT ?p WHERE { <http://x/a> ?p ?o }`)
	assert.NoError(t, Validate(q, testResolver()))

	// DESCRIBE-style forms stay permissive.
	q = parseQ(t, `CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }`)
	assert.NoError(t, Validate(q, testResolver()))
}
