package serialize

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/rdf"
)

func testNamespaces() *rdf.Namespaces {
	ns := rdf.NewNamespaces()
	ns.Register("ex", "http://ex/")
	return ns
}

func quadCursor(t *testing.T, quads []rdf.Quad) tern.Cursor {
	t.Helper()
	cur, err := NewQuadCursor(rdf.NewSliceReader(quads))
	require.NoError(t, err)
	return cur
}

func basicQuads() []rdf.Quad {
	return []rdf.Quad{
		{Subject: rdf.IRI("http://ex/a"), Predicate: "http://ex/name", Object: rdf.NewStringLiteral("Alpha")},
		{Subject: rdf.IRI("http://ex/a"), Predicate: "http://ex/name", Object: rdf.NewStringLiteral("Beta")},
		{Subject: rdf.IRI("http://ex/a"), Predicate: "http://ex/size", Object: rdf.NewIntegerLiteral(4)},
		{Subject: rdf.IRI("http://ex/b"), Predicate: rdf.RDFType, Object: rdf.IRI("http://ex/Thing")},
	}
}

func TestTurtleSerializer_Golden(t *testing.T) {
	r, err := NewGraphReader(context.Background(), quadCursor(t, basicQuads()),
		tern.FormatTurtle, testNamespaces())
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()

	g := goldie.New(t)
	g.Assert(t, "turtle_basic", out)
}

func TestTriGSerializer_GraphBlocks(t *testing.T) {
	quads := []rdf.Quad{
		{Graph: "http://g", Subject: rdf.IRI("http://ex/a"), Predicate: "http://ex/p", Object: rdf.NewIntegerLiteral(1)},
		{Graph: "http://g", Subject: rdf.IRI("http://ex/a"), Predicate: "http://ex/p", Object: rdf.NewIntegerLiteral(2)},
		{Graph: "http://g", Subject: rdf.IRI("http://ex/a"), Predicate: "http://ex/q", Object: rdf.NewStringLiteral("x")},
		{Graph: "http://h", Subject: rdf.IRI("http://ex/a"), Predicate: "http://ex/p", Object: rdf.NewIntegerLiteral(3)},
	}
	r, err := NewGraphReader(context.Background(), quadCursor(t, quads),
		tern.FormatTriG, testNamespaces())
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, "GRAPH <http://g> {")
	assert.Contains(t, s, "1, 2")
	assert.Contains(t, s, ";")
	assert.Contains(t, s, "GRAPH <http://h> {")
	gIdx := strings.Index(s, "GRAPH <http://g> {")
	hIdx := strings.Index(s, "GRAPH <http://h> {")
	assert.Less(t, gIdx, hIdx)
}

func TestTurtleSerializer_EscapingAndTags(t *testing.T) {
	quads := []rdf.Quad{
		{Subject: rdf.IRI("http://ex/a"), Predicate: "http://ex/note",
			Object: rdf.Literal{Value: "say \"hi\"\n", Datatype: rdf.XSDString}},
		{Subject: rdf.IRI("http://ex/a"), Predicate: "http://ex/label",
			Object: rdf.Literal{Value: "hei", Datatype: rdf.RDFLangString, Language: "nb"}},
	}
	r, err := NewGraphReader(context.Background(), quadCursor(t, quads),
		tern.FormatTurtle, testNamespaces())
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"say \"hi\"\n"`)
	assert.Contains(t, string(out), `"hei"@nb`)
}

func TestJSONLDSerializer(t *testing.T) {
	quads := []rdf.Quad{
		{Subject: rdf.IRI("http://ex/a"), Predicate: rdf.RDFType, Object: rdf.IRI("http://ex/Thing")},
		{Subject: rdf.IRI("http://ex/a"), Predicate: "http://ex/name", Object: rdf.NewStringLiteral("Alpha")},
		{Subject: rdf.IRI("http://ex/a"), Predicate: "http://ex/size", Object: rdf.NewIntegerLiteral(4)},
		{Graph: "http://g", Subject: rdf.IRI("http://ex/b"), Predicate: "http://ex/ref", Object: rdf.IRI("http://ex/a")},
	}
	r, err := NewGraphReader(context.Background(), quadCursor(t, quads),
		tern.FormatJSONLD, testNamespaces())
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)

	var doc []map[string]any
	require.NoError(t, json.Unmarshal(out, &doc), "output: %s", out)
	require.Len(t, doc, 2)

	node := doc[0]
	assert.Equal(t, "http://ex/a", node["@id"])
	assert.Equal(t, "http://ex/Thing", node["@type"])
	assert.Equal(t, "Alpha", node["http://ex/name"])
	assert.Equal(t, float64(4), node["http://ex/size"])

	graph := doc[1]
	assert.Equal(t, "http://g", graph["@id"])
	inner := graph["@graph"].([]any)
	require.Len(t, inner, 1)
	ref := inner[0].(map[string]any)["http://ex/ref"].(map[string]any)
	assert.Equal(t, "http://ex/a", ref["@id"])
}

// fixedCursor is a tiny SELECT-shaped cursor for result serializers.
type fixedCursor struct {
	vars []string
	rows [][]fixedCell
	pos  int
}

type fixedCell struct {
	vt    tern.ValueType
	value string
	lang  string
}

func (c *fixedCursor) Next(ctx context.Context) bool {
	if c.pos >= len(c.rows) {
		return false
	}
	c.pos++
	return true
}
func (c *fixedCursor) Err() error                  { return nil }
func (c *fixedCursor) NColumns() int               { return len(c.vars) }
func (c *fixedCursor) VariableName(i int) string   { return c.vars[i] }
func (c *fixedCursor) cell(i int) fixedCell        { return c.rows[c.pos-1][i] }
func (c *fixedCursor) ValueType(i int) tern.ValueType {
	return c.cell(i).vt
}
func (c *fixedCursor) GetString(i int) (string, string) {
	cell := c.cell(i)
	return cell.value, cell.lang
}
func (c *fixedCursor) GetInteger(i int) int64       { return 0 }
func (c *fixedCursor) GetDouble(i int) float64      { return 0 }
func (c *fixedCursor) GetBoolean(i int) bool        { return false }
func (c *fixedCursor) GetDateTime(i int) time.Time  { return time.Time{} }
func (c *fixedCursor) Close() error                 { return nil }

func TestResultsJSON(t *testing.T) {
	cur := &fixedCursor{
		vars: []string{"s", "t", "n"},
		rows: [][]fixedCell{
			{
				{vt: tern.TypeURI, value: "http://x/a"},
				{vt: tern.TypeString, value: "Aaa", lang: "en"},
				{vt: tern.TypeInteger, value: "7"},
			},
			{
				{vt: tern.TypeBlank, value: "urn:bnode:b0"},
				{vt: tern.TypeUnbound},
				{vt: tern.TypeBoolean, value: "1"},
			},
		},
	}
	r, err := NewResultsReader(context.Background(), cur, tern.ResultsJSON)
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)

	var doc resultsJSONDoc
	require.NoError(t, json.Unmarshal(out, &doc), "output: %s", out)
	assert.Equal(t, []string{"s", "t", "n"}, doc.Head.Vars)
	require.Len(t, doc.Results.Bindings, 2)

	first := doc.Results.Bindings[0]
	assert.Equal(t, "uri", first["s"].Type)
	assert.Equal(t, "http://x/a", first["s"].Value)
	assert.Equal(t, "en", first["t"].Lang)
	assert.Equal(t, "http://www.w3.org/2001/XMLSchema#integer", first["n"].Datatype)

	second := doc.Results.Bindings[1]
	assert.Equal(t, "bnode", second["s"].Type)
	_, unbound := second["t"]
	assert.False(t, unbound, "unbound variables are omitted")
	assert.Equal(t, "true", second["n"].Value)
}

func TestResultsJSON_RoundTripThroughDeserializer(t *testing.T) {
	cur := &fixedCursor{
		vars: []string{"t"},
		rows: [][]fixedCell{{{vt: tern.TypeString, value: "Aaa"}}},
	}
	r, err := NewResultsReader(context.Background(), cur, tern.ResultsJSON)
	require.NoError(t, err)
	back, err := NewResultsJSONCursor(r)
	require.NoError(t, err)
	require.True(t, back.Next(context.Background()))
	assert.Equal(t, "t", back.VariableName(0))
	assert.Equal(t, tern.TypeString, back.ValueType(0))
	v, _ := back.GetString(0)
	assert.Equal(t, "Aaa", v)
}

func TestResultsXML(t *testing.T) {
	cur := &fixedCursor{
		vars: []string{"t"},
		rows: [][]fixedCell{{{vt: tern.TypeString, value: "a<b", lang: "en"}}},
	}
	r, err := NewResultsReader(context.Background(), cur, tern.ResultsXML)
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	s := string(out)
	assert.Contains(t, s, `<variable name="t"/>`)
	assert.Contains(t, s, `xml:lang="en"`)
	assert.Contains(t, s, "a&lt;b")
}

func TestResultsTSV(t *testing.T) {
	cur := &fixedCursor{
		vars: []string{"s", "n"},
		rows: [][]fixedCell{
			{{vt: tern.TypeURI, value: "http://x/a"}, {vt: tern.TypeInteger, value: "7"}},
		},
	}
	r, err := NewResultsReader(context.Background(), cur, tern.ResultsTSV)
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "?s\t?n\n<http://x/a>\t7\n", string(out))
}

func TestBooleanReader(t *testing.T) {
	r, err := NewBooleanReader(true, tern.ResultsJSON)
	require.NoError(t, err)
	out, _ := io.ReadAll(r)
	assert.JSONEq(t, `{"head":{},"boolean":true}`, string(out))

	back, err := NewResultsJSONCursor(strings.NewReader(string(out)))
	require.NoError(t, err)
	require.True(t, back.Next(context.Background()))
	assert.True(t, back.GetBoolean(0))
}

func TestRenderInsertData(t *testing.T) {
	out := RenderInsertData([]rdf.Quad{
		{Subject: rdf.IRI("http://x/a"), Predicate: "http://ex/p", Object: rdf.NewIntegerLiteral(1)},
		{Graph: "http://g", Subject: rdf.BlankNode("b"), Predicate: "http://ex/q",
			Object: rdf.Literal{Value: "hei", Datatype: rdf.RDFLangString, Language: "nb"}},
	})
	assert.Contains(t, out, "INSERT DATA {")
	assert.Contains(t, out, "<http://x/a> <http://ex/p> 1 .")
	assert.Contains(t, out, "GRAPH <http://g> {")
	assert.Contains(t, out, `_:b <http://ex/q> "hei"@nb .`)
}
