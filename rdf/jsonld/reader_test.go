package jsonld

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tern-db/tern/rdf"
)

func drain(t *testing.T, r *Reader) []rdf.Quad {
	t.Helper()
	var quads []rdf.Quad
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return quads
		}
		require.NoError(t, err)
		if q, ok := ev.(rdf.Quad); ok {
			quads = append(quads, q)
		}
	}
}

func TestReader_ContextAndTerms(t *testing.T) {
	doc := `{
		"@context": {
			"nie": "http://tern.example.org/ontology/nie#",
			"title": {"@id": "http://tern.example.org/ontology/nie#title"}
		},
		"@id": "http://x/a",
		"@type": "nie:InformationElement",
		"title": "Aaa",
		"nie:byteSize": 42
	}`
	quads := drain(t, NewReader(strings.NewReader(doc)))
	require.Len(t, quads, 3)

	byPred := map[rdf.IRI]rdf.Term{}
	for _, q := range quads {
		assert.Equal(t, rdf.IRI("http://x/a"), q.Subject)
		byPred[q.Predicate] = q.Object
	}
	assert.Equal(t, rdf.IRI(rdf.NSNIE+"InformationElement"), byPred[rdf.RDFType])
	assert.Equal(t, rdf.NewStringLiteral("Aaa"), byPred[rdf.IRI(rdf.NSNIE+"title")])
	assert.Equal(t, rdf.NewIntegerLiteral(42), byPred[rdf.IRI(rdf.NSNIE+"byteSize")])
}

func TestReader_ValueObjects(t *testing.T) {
	doc := `{
		"@context": {"ex": "http://ex/"},
		"@id": "http://x/a",
		"ex:lang": {"@value": "hei", "@language": "nb"},
		"ex:typed": {"@value": "2024-05-01T00:00:00Z", "@type": "http://www.w3.org/2001/XMLSchema#dateTime"},
		"ex:ref": {"@id": "http://x/b"}
	}`
	quads := drain(t, NewReader(strings.NewReader(doc)))
	require.Len(t, quads, 3)
	byPred := map[rdf.IRI]rdf.Term{}
	for _, q := range quads {
		byPred[q.Predicate] = q.Object
	}
	assert.Equal(t, rdf.Literal{Value: "hei", Datatype: rdf.RDFLangString, Language: "nb"},
		byPred["http://ex/lang"])
	assert.Equal(t, rdf.XSDDateTime, byPred["http://ex/typed"].(rdf.Literal).Datatype)
	assert.Equal(t, rdf.IRI("http://x/b"), byPred["http://ex/ref"])
}

func TestReader_GraphAndNestedNodes(t *testing.T) {
	doc := `{
		"@context": {"ex": "http://ex/"},
		"@id": "http://g",
		"@graph": [
			{"@id": "http://x/a", "ex:knows": {"@id": "http://x/b", "ex:name": "B"}}
		]
	}`
	quads := drain(t, NewReader(strings.NewReader(doc)))
	require.Len(t, quads, 2)
	for _, q := range quads {
		assert.Equal(t, rdf.IRI("http://g"), q.Graph)
	}
}

func TestReader_List(t *testing.T) {
	doc := `{
		"@context": {"ex": "http://ex/"},
		"@id": "http://x/a",
		"ex:items": {"@list": [1, 2]}
	}`
	quads := drain(t, NewReader(strings.NewReader(doc)))
	// 2 first + 2 rest + the ex:items quad.
	require.Len(t, quads, 5)
}

func TestReader_BlankNodeLabels(t *testing.T) {
	doc := `{"@id": "_:x", "http://ex/p": {"@id": "_:x"}}`
	quads := drain(t, NewReader(strings.NewReader(doc), WithBlankNodePrefix("d:")))
	require.Len(t, quads, 1)
	assert.Equal(t, rdf.BlankNode("d:x"), quads[0].Subject)
	assert.Equal(t, rdf.BlankNode("d:x"), quads[0].Object)
}

func TestReader_InvalidJSON(t *testing.T) {
	r := NewReader(strings.NewReader(`{`))
	_, err := r.Next()
	var pe *rdf.ParseError
	require.ErrorAs(t, err, &pe)
}
