package turtle

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tern-db/tern/rdf"
)

// drain reads every event from r, separating quads from prefix decls.
func drain(t *testing.T, r *Reader) ([]rdf.Quad, []rdf.PrefixDecl) {
	t.Helper()
	var quads []rdf.Quad
	var prefixes []rdf.PrefixDecl
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return quads, prefixes
		}
		require.NoError(t, err)
		switch e := ev.(type) {
		case rdf.Quad:
			quads = append(quads, e)
		case rdf.PrefixDecl:
			prefixes = append(prefixes, e)
		}
	}
}

func TestReader_SimpleTriples(t *testing.T) {
	r := NewReader(strings.NewReader(`
		@prefix nie: <http://tern.example.org/ontology/nie#> .
		<http://x/a> a <http://tern.example.org/ontology/nmm#MusicPiece> ;
			nie:title "Aaa" ;
			<http://tern.example.org/ontology/nmm#trackNumber> 1 .
	`))
	quads, prefixes := drain(t, r)
	require.Len(t, prefixes, 1)
	assert.Equal(t, "nie", prefixes[0].Prefix)

	require.Len(t, quads, 3)
	assert.Equal(t, rdf.RDFType, quads[0].Predicate)
	assert.Equal(t, rdf.IRI("http://x/a"), quads[0].Subject)
	assert.Equal(t, rdf.NewStringLiteral("Aaa"), quads[1].Object)
	assert.Equal(t, rdf.Literal{Value: "1", Datatype: rdf.XSDInteger}, quads[2].Object)
}

func TestReader_ObjectAndPredicateLists(t *testing.T) {
	r := NewReader(strings.NewReader(`
		@prefix ex: <http://ex/> .
		ex:a ex:p 1, 2 ; ex:q "x" .
	`))
	quads, _ := drain(t, r)
	require.Len(t, quads, 3)
	assert.Equal(t, rdf.IRI("http://ex/p"), quads[0].Predicate)
	assert.Equal(t, rdf.IRI("http://ex/p"), quads[1].Predicate)
	assert.Equal(t, rdf.IRI("http://ex/q"), quads[2].Predicate)
}

func TestReader_LiteralForms(t *testing.T) {
	r := NewReader(strings.NewReader(`
		@prefix ex: <http://ex/> .
		@prefix xsd: <http://www.w3.org/2001/XMLSchema#> .
		ex:a ex:s "hei"@nb ;
			ex:d "2024-05-01T00:00:00Z"^^xsd:dateTime ;
			ex:n 3.14 ;
			ex:e 1e3 ;
			ex:b true ;
			ex:long """line1
line2""" .
	`))
	quads, _ := drain(t, r)
	require.Len(t, quads, 6)
	assert.Equal(t, rdf.Literal{Value: "hei", Datatype: rdf.RDFLangString, Language: "nb"}, quads[0].Object)
	assert.Equal(t, rdf.XSDDateTime, quads[1].Object.(rdf.Literal).Datatype)
	assert.Equal(t, rdf.Literal{Value: "3.14", Datatype: rdf.XSDDecimal}, quads[2].Object)
	assert.Equal(t, rdf.XSDDouble, quads[3].Object.(rdf.Literal).Datatype)
	assert.Equal(t, rdf.NewBooleanLiteral(true), quads[4].Object)
	assert.Equal(t, "line1\nline2", quads[5].Object.(rdf.Literal).Value)
}

func TestReader_StringEscapes(t *testing.T) {
	r := NewReader(strings.NewReader(`<http://x/a> <http://x/p> "a\"b\tc\\d" .`))
	quads, _ := drain(t, r)
	require.Len(t, quads, 1)
	assert.Equal(t, "a\"b\tc\\d", quads[0].Object.(rdf.Literal).Value)
}

func TestReader_BlankNodes(t *testing.T) {
	r := NewReader(strings.NewReader(`
		@prefix ex: <http://ex/> .
		_:b ex:p ex:o .
		ex:a ex:q [ ex:r "v" ] .
	`))
	quads, _ := drain(t, r)
	require.Len(t, quads, 3)
	assert.Equal(t, rdf.BlankNode("b"), quads[0].Subject)

	// The property list introduces one fresh node used consistently.
	inner := quads[2].Object.(rdf.BlankNode)
	assert.Equal(t, inner, quads[1].Subject)
}

func TestReader_Collection(t *testing.T) {
	r := NewReader(strings.NewReader(`
		@prefix ex: <http://ex/> .
		ex:a ex:items (1 2) .
	`))
	quads, _ := drain(t, r)
	// first/rest chain: 2 first + 2 rest + the ex:items quad.
	require.Len(t, quads, 5)
	var firsts, rests int
	for _, q := range quads {
		switch q.Predicate {
		case rdf.IRI(rdf.NSRDF + "first"):
			firsts++
		case rdf.IRI(rdf.NSRDF + "rest"):
			rests++
		}
	}
	assert.Equal(t, 2, firsts)
	assert.Equal(t, 2, rests)
}

func TestReader_TriGGraphBlocks(t *testing.T) {
	r := NewReader(strings.NewReader(`
		@prefix ex: <http://ex/> .
		GRAPH <http://g> { ex:a ex:p 1 . ex:a ex:p 2 }
		<http://h> { ex:a ex:p 3 . }
		{ ex:a ex:p 4 . }
	`), WithTriG())
	quads, _ := drain(t, r)
	require.Len(t, quads, 4)
	assert.Equal(t, rdf.IRI("http://g"), quads[0].Graph)
	assert.Equal(t, rdf.IRI("http://g"), quads[1].Graph)
	assert.Equal(t, rdf.IRI("http://h"), quads[2].Graph)
	assert.Equal(t, rdf.IRI(""), quads[3].Graph)
}

func TestReader_BaseResolution(t *testing.T) {
	r := NewReader(strings.NewReader(`
		@base <http://ex.org/dir/> .
		<a> <p> <../other> .
	`))
	quads, _ := drain(t, r)
	require.Len(t, quads, 1)
	assert.Equal(t, rdf.IRI("http://ex.org/dir/a"), quads[0].Subject)
	assert.Equal(t, rdf.IRI("http://ex.org/other"), quads[0].Object)
}

func TestReader_Errors(t *testing.T) {
	cases := map[string]string{
		"undeclared prefix": `nope:a <http://p> 1 .`,
		"missing dot":       `<http://a> <http://p> 1`,
		"bad escape":        `<http://a> <http://p> "\q" .`,
		"bad directive":     `@bogus <http://x> .`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			r := NewReader(strings.NewReader(src))
			for {
				_, err := r.Next()
				if err == io.EOF {
					t.Fatalf("expected a parse error")
				}
				if err != nil {
					var pe *rdf.ParseError
					require.ErrorAs(t, err, &pe)
					assert.Greater(t, pe.Line, 0)
					return
				}
			}
		})
	}
}

func TestReader_ErrorIsSticky(t *testing.T) {
	r := NewReader(strings.NewReader(`@bogus`))
	_, err1 := r.Next()
	require.Error(t, err1)
	_, err2 := r.Next()
	assert.Equal(t, err1, err2)
}

func TestReader_BlankNodePrefixScoping(t *testing.T) {
	r := NewReader(strings.NewReader(`_:x <http://p> 1 .`), WithBlankNodePrefix("doc1:"))
	quads, _ := drain(t, r)
	require.Len(t, quads, 1)
	assert.Equal(t, rdf.BlankNode("doc1:x"), quads[0].Subject)
}

func TestReader_GraphKeywordAsPrefix(t *testing.T) {
	// `graph:` used as an ordinary prefix must not trigger block parsing.
	r := NewReader(strings.NewReader(`
		@prefix graph: <http://g/> .
		graph:a <http://p> 1 .
	`), WithTriG())
	quads, _ := drain(t, r)
	require.Len(t, quads, 1)
	assert.Equal(t, rdf.IRI("http://g/a"), quads[0].Subject)
}
