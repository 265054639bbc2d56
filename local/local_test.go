package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tern-db/tern"
)

func openTest(t *testing.T) *Connection {
	t.Helper()
	conn, err := New(context.Background(), tern.FlagNone, t.TempDir(), "../ontologies")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func mustUpdate(t *testing.T, conn *Connection, sparql string) {
	t.Helper()
	require.NoError(t, conn.Update(context.Background(), sparql))
}

// one row, one column, as a (value, lang, type) triple.
func singleCell(t *testing.T, conn *Connection, query string) (string, string, tern.ValueType) {
	t.Helper()
	cur, err := conn.Query(context.Background(), query)
	require.NoError(t, err)
	defer cur.Close()
	require.True(t, cur.Next(context.Background()), "expected one row; err: %v", cur.Err())
	require.Equal(t, 1, cur.NColumns())
	vt := cur.ValueType(0)
	v, lang := cur.GetString(0)
	require.False(t, cur.Next(context.Background()), "expected exactly one row")
	require.NoError(t, cur.Err())
	return v, lang, vt
}

const seedMusic = `
	INSERT DATA {
		<http://x/a> a nmm:MusicPiece ;
			nie:title "Aaa" ;
			nmm:trackNumber 1 .
	}`

func TestSimpleBoundQuery(t *testing.T) {
	conn := openTest(t)
	mustUpdate(t, conn, seedMusic)

	v, _, vt := singleCell(t, conn, `SELECT ?t WHERE { <http://x/a> nie:title ?t }`)
	assert.Equal(t, tern.TypeString, vt)
	assert.Equal(t, "Aaa", v)

	n, _, vt := singleCell(t, conn, `SELECT ?n WHERE { <http://x/a> nmm:trackNumber ?n }`)
	assert.Equal(t, tern.TypeInteger, vt)
	assert.Equal(t, "1", n)
}

func TestAggregateCount(t *testing.T) {
	conn := openTest(t)
	mustUpdate(t, conn, `
		INSERT DATA {
			<http://x/1> a nfo:Audio ; nie:title "One" .
			<http://x/2> a nfo:Audio ; nie:title "Two" .
			<http://x/3> a nfo:Audio ; nie:title "Three" .
		}`)
	v, _, vt := singleCell(t, conn, `SELECT (COUNT(*) AS ?c) WHERE { ?s a nfo:Audio }`)
	assert.Equal(t, tern.TypeInteger, vt)
	assert.Equal(t, "3", v)
}

func TestSubclassInstancesCounted(t *testing.T) {
	conn := openTest(t)
	mustUpdate(t, conn, seedMusic)
	// nmm:MusicPiece derives from nfo:Audio; the closure materializes
	// at insert.
	v, _, _ := singleCell(t, conn, `SELECT (COUNT(*) AS ?c) WHERE { ?s a nfo:Audio }`)
	assert.Equal(t, "1", v)
	v, _, _ = singleCell(t, conn, `SELECT (COUNT(*) AS ?c) WHERE { ?s a rdfs:Resource }`)
	assert.Equal(t, "1", v)
}

func TestInsertDataIdempotent(t *testing.T) {
	conn := openTest(t)
	mustUpdate(t, conn, seedMusic)
	mustUpdate(t, conn, seedMusic)
	v, _, _ := singleCell(t, conn, `SELECT (COUNT(?t) AS ?c) WHERE { ?s nie:title ?t }`)
	assert.Equal(t, "1", v)
}

func TestCardinalityViolationAborts(t *testing.T) {
	conn := openTest(t)
	mustUpdate(t, conn, seedMusic)
	err := conn.Update(context.Background(),
		`INSERT DATA { <http://x/a> nie:title "Bbb" }`)
	require.Error(t, err)
	assert.Equal(t, tern.ErrType, tern.CodeOf(err))

	// The transaction rolled back: the old value is intact.
	v, _, _ := singleCell(t, conn, `SELECT ?t WHERE { <http://x/a> nie:title ?t }`)
	assert.Equal(t, "Aaa", v)
}

func TestFederatedService(t *testing.T) {
	a := openTest(t)
	mustUpdate(t, a, seedMusic)

	b := openTest(t)
	require.NoError(t, b.MapConnection("other", a))

	v, _, _ := singleCell(t, b,
		`SELECT ?t WHERE { SERVICE <private:other> { ?x nie:title ?t } }`)
	assert.Equal(t, "Aaa", v)
}

func TestServiceSilentSwallowsErrors(t *testing.T) {
	b := openTest(t)
	cur, err := b.Query(context.Background(),
		`SELECT ?t WHERE { SERVICE SILENT <private:missing> { ?x nie:title ?t } }`)
	require.NoError(t, err)
	defer cur.Close()
	assert.False(t, cur.Next(context.Background()))
	assert.NoError(t, cur.Err())
}

func TestParameterizedStatement(t *testing.T) {
	conn := openTest(t)
	mustUpdate(t, conn, seedMusic)

	stmt, err := conn.QueryStatement(context.Background(),
		`SELECT ?s WHERE { ?s nie:title ~arg1 }`)
	require.NoError(t, err)
	defer stmt.Close()

	stmt.BindString("arg1", "Aaa")
	cur, err := stmt.Execute(context.Background())
	require.NoError(t, err)
	require.True(t, cur.Next(context.Background()), "err: %v", cur.Err())
	v, _ := cur.GetString(0)
	assert.Equal(t, "http://x/a", v)
	assert.Equal(t, tern.TypeURI, cur.ValueType(0))
	cur.Close()

	// Rebinding finds nothing for a different value.
	stmt.BindString("arg1", "Zzz")
	cur, err = stmt.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, cur.Next(context.Background()))
	cur.Close()
}

func TestStatementCacheReuse(t *testing.T) {
	conn := openTest(t)
	s1, err := conn.QueryStatement(context.Background(), `SELECT ?s WHERE { ?s nie:title ~a }`)
	require.NoError(t, err)
	s2, err := conn.QueryStatement(context.Background(), `SELECT ?s WHERE { ?s nie:title ~a }`)
	require.NoError(t, err)
	assert.Same(t, s1.(*statement).compiled, s2.(*statement).compiled)
}

func TestOptionalUnionMinus(t *testing.T) {
	conn := openTest(t)
	mustUpdate(t, conn, `
		INSERT DATA {
			<http://x/1> a nfo:Audio ; nie:title "One" ; nfo:duration 60 .
			<http://x/2> a nfo:Audio ; nie:title "Two" .
		}`)

	// OPTIONAL leaves ?d unbound for x/2.
	cur, err := conn.Query(context.Background(), `
		SELECT ?t ?d WHERE {
			?s a nfo:Audio ; nie:title ?t .
			OPTIONAL { ?s nfo:duration ?d }
		} ORDER BY ?t`)
	require.NoError(t, err)
	defer cur.Close()
	require.True(t, cur.Next(context.Background()), "err: %v", cur.Err())
	v, _ := cur.GetString(0)
	assert.Equal(t, "One", v)
	assert.Equal(t, tern.TypeInteger, cur.ValueType(1))
	require.True(t, cur.Next(context.Background()))
	v, _ = cur.GetString(0)
	assert.Equal(t, "Two", v)
	assert.Equal(t, tern.TypeUnbound, cur.ValueType(1))

	// MINUS removes the one with a duration.
	v2, _, _ := singleCell(t, conn, `
		SELECT ?t WHERE {
			?s a nfo:Audio ; nie:title ?t .
			MINUS { ?s nfo:duration 60 }
		}`)
	assert.Equal(t, "Two", v2)

	// UNION over two properties.
	cnt, _, _ := singleCell(t, conn, `
		SELECT (COUNT(*) AS ?c) WHERE {
			{ ?s nfo:duration ?x } UNION { ?s nie:title ?x }
		}`)
	assert.Equal(t, "3", cnt)
}

func TestFilterExpressions(t *testing.T) {
	conn := openTest(t)
	mustUpdate(t, conn, `
		INSERT DATA {
			<http://x/1> a nfo:Audio ; nie:title "Alpha" ; nfo:duration 60 .
			<http://x/2> a nfo:Audio ; nie:title "beta" ; nfo:duration 120 .
		}`)

	v, _, _ := singleCell(t, conn, `
		SELECT ?t WHERE { ?s nie:title ?t ; nfo:duration ?d . FILTER(?d > 100) }`)
	assert.Equal(t, "beta", v)

	v, _, _ = singleCell(t, conn, `
		SELECT ?t WHERE { ?s nie:title ?t . FILTER(REGEX(?t, "^a", "i")) }`)
	assert.Equal(t, "Alpha", v)

	v, _, _ = singleCell(t, conn, `
		SELECT (UCASE(?t) AS ?u) WHERE { ?s nie:title ?t . FILTER(STRSTARTS(?t, "b")) }`)
	assert.Equal(t, "BETA", v)
}

func TestAskQuery(t *testing.T) {
	conn := openTest(t)
	mustUpdate(t, conn, seedMusic)
	v, _, vt := singleCell(t, conn, `ASK { <http://x/a> nie:title "Aaa" }`)
	assert.Equal(t, tern.TypeBoolean, vt)
	assert.Equal(t, "1", v)
}

func TestCursorInterleaving(t *testing.T) {
	conn := openTest(t)
	mustUpdate(t, conn, `
		INSERT DATA {
			<http://x/1> a nfo:Audio ; nie:title "One" .
			<http://x/2> a nfo:Audio ; nie:title "Two" .
		}`)
	ctx := context.Background()
	c1, err := conn.Query(ctx, `SELECT ?t WHERE { ?s nie:title ?t } ORDER BY ?t`)
	require.NoError(t, err)
	defer c1.Close()
	c2, err := conn.Query(ctx, `SELECT ?t WHERE { ?s nie:title ?t } ORDER BY ?t`)
	require.NoError(t, err)
	defer c2.Close()

	require.True(t, c1.Next(ctx))
	require.True(t, c2.Next(ctx))
	v1, _ := c1.GetString(0)
	v2, _ := c2.GetString(0)
	assert.Equal(t, v1, v2)
	require.True(t, c2.Next(ctx))
	require.True(t, c1.Next(ctx))
	v1, _ = c1.GetString(0)
	v2, _ = c2.GetString(0)
	assert.Equal(t, v1, v2)
}

func TestDeleteCascadesClassEntries(t *testing.T) {
	conn := openTest(t)
	mustUpdate(t, conn, seedMusic)
	mustUpdate(t, conn, `DELETE DATA { <http://x/a> a nmm:MusicPiece }`)

	cur, err := conn.Query(context.Background(),
		`SELECT ?n WHERE { <http://x/a> nmm:trackNumber ?n }`)
	require.NoError(t, err)
	defer cur.Close()
	assert.False(t, cur.Next(context.Background()), "class entries must cascade away")
}

func TestAnonymousBlankNodes(t *testing.T) {
	ctx := context.Background()

	// Default mode: the label is retrievable through its stable IRI.
	def, err := New(ctx, tern.FlagNone, t.TempDir(), "../ontologies")
	require.NoError(t, err)
	defer def.Close()
	require.NoError(t, def.Update(ctx, `INSERT DATA { _:foo a nfo:Audio }`))
	cur, err := def.Query(ctx, `SELECT ?s WHERE { <urn:bnode:foo> a nfo:Audio . BIND(<urn:bnode:foo> AS ?s) }`)
	require.NoError(t, err)
	assert.True(t, cur.Next(ctx), "default mode blank node must be addressable; err: %v", cur.Err())
	cur.Close()

	// Anonymous mode: the label is not usable afterwards.
	anon, err := New(ctx, tern.FlagAnonymousBNodes, t.TempDir(), "../ontologies")
	require.NoError(t, err)
	defer anon.Close()
	require.NoError(t, anon.Update(ctx, `INSERT DATA { _:foo a nfo:Audio }`))
	cur, err = anon.Query(ctx, `SELECT ?s WHERE { <urn:bnode:foo> a nfo:Audio . BIND(<urn:bnode:foo> AS ?s) }`)
	require.NoError(t, err)
	assert.False(t, cur.Next(ctx))
	cur.Close()
}

func TestBackupRestore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	conn, err := New(ctx, tern.FlagNone, dir, "../ontologies")
	require.NoError(t, err)
	mustUpdate(t, conn, `
		INSERT DATA {
			<http://x/1> a nfo:Audio ; nie:title "One" .
			<http://x/2> a nfo:Audio ; nie:title "Two" .
		}`)

	backupFile := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, conn.Backup(ctx, backupFile))
	conn.Close()

	// Destroy the main file and restore from the snapshot.
	require.NoError(t, os.Remove(filepath.Join(dir, DatabaseFile)))
	restored := t.TempDir()
	data, err := os.ReadFile(backupFile)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(restored, DatabaseFile), data, 0o644))

	conn2, err := New(ctx, tern.FlagNone, restored, "../ontologies")
	require.NoError(t, err)
	defer conn2.Close()

	cur, err := conn2.Query(ctx, `SELECT ?t WHERE { ?s nie:title ?t } ORDER BY ?t`)
	require.NoError(t, err)
	defer cur.Close()
	var titles []string
	for cur.Next(ctx) {
		v, _ := cur.GetString(0)
		titles = append(titles, v)
	}
	require.NoError(t, cur.Err())
	assert.Equal(t, []string{"One", "Two"}, titles)
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openTest(t)
	mustUpdate(t, src, seedMusic)

	stream, err := src.Serialize(ctx, tern.SerializeFlagsNone, tern.FormatTurtle,
		`DESCRIBE <http://x/a>`)
	require.NoError(t, err)
	doc, err := io.ReadAll(stream)
	stream.Close()
	require.NoError(t, err)
	assert.Contains(t, string(doc), "Aaa")

	dst := openTest(t)
	require.NoError(t, dst.Deserialize(ctx, tern.DeserializeFlagsNone, tern.FormatTurtle,
		"", strings.NewReader(string(doc))))

	v, _, _ := singleCell(t, dst, `SELECT ?t WHERE { <http://x/a> nie:title ?t }`)
	assert.Equal(t, "Aaa", v)
	n, _, _ := singleCell(t, dst, `SELECT ?n WHERE { <http://x/a> nmm:trackNumber ?n }`)
	assert.Equal(t, "1", n)
}

func TestUpdateResourceRoundTrip(t *testing.T) {
	ctx := context.Background()
	conn := openTest(t)

	res := tern.NewResource("http://x/song")
	res.AddURI(string(rdfType()), "http://tern.example.org/ontology/nmm#MusicPiece")
	require.NoError(t, res.AddValue("http://tern.example.org/ontology/nie#title", "Tree"))
	require.NoError(t, res.AddValue("http://tern.example.org/ontology/nmm#trackNumber", int64(7)))

	artist := tern.NewBlankResource()
	artist.AddURI(string(rdfType()), "http://tern.example.org/ontology/nmm#Artist")
	require.NoError(t, artist.AddValue("http://tern.example.org/ontology/nmm#artistName", "Anon"))
	res.AddResource("http://tern.example.org/ontology/nmm#performer", artist)

	require.NoError(t, conn.UpdateResource(ctx, "", res))

	v, _, _ := singleCell(t, conn, `SELECT ?t WHERE { <http://x/song> nie:title ?t }`)
	assert.Equal(t, "Tree", v)
	v, _, _ = singleCell(t, conn,
		`SELECT ?n WHERE { <http://x/song> nmm:performer ?a . ?a nmm:artistName ?n }`)
	assert.Equal(t, "Anon", v)
}

func rdfType() string {
	return "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
}

func TestNamedGraphs(t *testing.T) {
	conn := openTest(t)
	mustUpdate(t, conn, `
		INSERT DATA {
			GRAPH <http://g> { <http://x/1> a nfo:Audio ; nie:title "InG" }
		}`)
	v, _, _ := singleCell(t, conn, `SELECT ?t WHERE { GRAPH <http://g> { ?s nie:title ?t } }`)
	assert.Equal(t, "InG", v)

	cur, err := conn.Query(context.Background(),
		`SELECT ?t WHERE { GRAPH <http://other> { ?s nie:title ?t } }`)
	require.NoError(t, err)
	assert.False(t, cur.Next(context.Background()))
	cur.Close()

	g, _, _ := singleCell(t, conn, `SELECT ?g WHERE { GRAPH ?g { ?s nie:title "InG" } }`)
	assert.Equal(t, "http://g", g)

	mustUpdate(t, conn, `CLEAR GRAPH <http://g>`)
	cur, err = conn.Query(context.Background(),
		`SELECT ?t WHERE { GRAPH <http://g> { ?s nie:title ?t } }`)
	require.NoError(t, err)
	assert.False(t, cur.Next(context.Background()))
	cur.Close()
}

func TestDeleteInsertWhere(t *testing.T) {
	conn := openTest(t)
	mustUpdate(t, conn, seedMusic)
	mustUpdate(t, conn, `
		DELETE { ?s nie:title ?t }
		INSERT { ?s nie:title "Renamed" }
		WHERE { ?s nie:title ?t }`)
	v, _, _ := singleCell(t, conn, `SELECT ?t WHERE { <http://x/a> nie:title ?t }`)
	assert.Equal(t, "Renamed", v)
}

func TestUnknownOntologyReferences(t *testing.T) {
	conn := openTest(t)
	_, err := conn.Query(context.Background(), `SELECT ?s WHERE { ?s nie:bogus ?t }`)
	assert.Equal(t, tern.ErrUnknownProperty, tern.CodeOf(err))
	_, err = conn.Query(context.Background(), `SELECT ?s WHERE { ?s a nfo:Bogus }`)
	assert.Equal(t, tern.ErrUnknownClass, tern.CodeOf(err))
	// Compile failures leave the connection usable.
	mustUpdate(t, conn, seedMusic)
	v, _, _ := singleCell(t, conn, `SELECT ?t WHERE { <http://x/a> nie:title ?t }`)
	assert.Equal(t, "Aaa", v)
}

type captureNotifier struct {
	events chan tern.ChangeEvent
}

func (n *captureNotifier) Notify(ev tern.ChangeEvent) {
	select {
	case n.events <- ev:
	default:
	}
}

func TestChangeNotifications(t *testing.T) {
	conn := openTest(t)
	n := &captureNotifier{events: make(chan tern.ChangeEvent, 16)}
	conn.AddNotifier(n)
	mustUpdate(t, conn, seedMusic)

	classes := map[string]bool{}
	for len(n.events) > 0 {
		ev := <-n.events
		classes[ev.ClassIRI] = true
		require.NotEmpty(t, ev.Changes)
		assert.Equal(t, "http://x/a", ev.Changes[0].Subject)
	}
	assert.True(t, classes["http://tern.example.org/ontology/nmm#MusicPiece"],
		"notify-flagged class must produce an event, got %v", classes)
}

func TestLanguageTaggedLiterals(t *testing.T) {
	conn := openTest(t)
	mustUpdate(t, conn, `
		INSERT DATA { <http://x/a> a nfo:Audio ; nie:title "Hei"@nb }`)
	v, lang, vt := singleCell(t, conn, `SELECT ?t WHERE { <http://x/a> nie:title ?t }`)
	assert.Equal(t, tern.TypeString, vt)
	assert.Equal(t, "Hei", v)
	assert.Equal(t, "nb", lang)
}

func TestOntologyRequired(t *testing.T) {
	_, err := New(context.Background(), tern.FlagNone, t.TempDir(), "")
	assert.Equal(t, tern.ErrOntologyNotFound, tern.CodeOf(err))
}
