package rdf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiteralString(t *testing.T) {
	assert.Equal(t, `"abc"`, NewStringLiteral("abc").String())
	assert.Equal(t, `"42"^^<http://www.w3.org/2001/XMLSchema#integer>`,
		NewIntegerLiteral(42).String())

	l, err := NewLangLiteral("hei", "nb-NO")
	require.NoError(t, err)
	assert.Equal(t, `"hei"@nb-NO`, l.String())
}

func TestNewLangLiteral_RejectsBadTag(t *testing.T) {
	_, err := NewLangLiteral("x", "not a tag")
	assert.Error(t, err)
}

func TestNewDateTimeLiteral(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	l := NewDateTimeLiteral(ts)
	assert.Equal(t, "2024-05-01T12:30:00Z", l.Value)
	assert.Equal(t, XSDDateTime, l.Datatype)
}

func TestQuadString(t *testing.T) {
	q := Quad{
		Graph:     "http://g",
		Subject:   IRI("http://x/a"),
		Predicate: RDFType,
		Object:    BlankNode("b0"),
	}
	assert.Equal(t,
		"<http://x/a> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> _:b0 <http://g>",
		q.String())
}

func TestNamespaces(t *testing.T) {
	ns := NewNamespaces()
	ns.Register("nie", NSNIE)

	iri, ok := ns.Expand("nie:title")
	require.True(t, ok)
	assert.Equal(t, IRI(NSNIE+"title"), iri)

	_, ok = ns.Expand("nope:title")
	assert.False(t, ok)

	pfx, ok := ns.Compress(NSNIE + "title")
	require.True(t, ok)
	assert.Equal(t, "nie:title", pfx)

	// No local-name slashes.
	_, ok = ns.Compress(IRI(NSNIE + "a/b"))
	assert.False(t, ok)
}

func TestNamespaces_LastDeclarationWins(t *testing.T) {
	ns := NewNamespaces()
	ns.Register("ex", "http://one#")
	ns.Register("ex", "http://two#")
	iri, ok := ns.Expand("ex:a")
	require.True(t, ok)
	assert.Equal(t, IRI("http://two#a"), iri)
}
