package exec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/internal/compile"
	"github.com/tern-db/tern/rdf"
	"github.com/tern-db/tern/sparql"
)

func TestMemoryCursor(t *testing.T) {
	cols := []compile.Column{
		{Name: "s", Kind: compile.KindResource},
		{Name: "n", Kind: compile.KindInteger},
	}
	cur := NewMemoryCursor(cols, [][]Cell{
		{{Valid: true, Value: "http://x/a"}, {Valid: true, Value: "7"}},
		{{Valid: true, Value: "urn:bnode:b0"}, {}},
	})
	ctx := context.Background()

	require.True(t, cur.Next(ctx))
	assert.Equal(t, tern.TypeURI, cur.ValueType(0))
	assert.Equal(t, int64(7), cur.GetInteger(1))
	assert.Equal(t, "s", cur.VariableName(0))

	require.True(t, cur.Next(ctx))
	assert.Equal(t, tern.TypeBlank, cur.ValueType(0))
	assert.Equal(t, tern.TypeUnbound, cur.ValueType(1))

	assert.False(t, cur.Next(ctx))
	assert.NoError(t, cur.Err())
}

func TestMemoryCursor_Cancellation(t *testing.T) {
	cur := NewMemoryCursor(quadColumns(), [][]Cell{
		{{Valid: true, Value: "a"}},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, cur.Next(ctx))
	assert.Equal(t, tern.ErrCancelled, tern.CodeOf(cur.Err()))
}

func TestInstantiateTemplate(t *testing.T) {
	sol := map[sparql.Var]binding{
		"s": {value: "http://x/a", vt: tern.TypeURI},
		"t": {value: "Aaa", vt: tern.TypeString, lang: "en"},
	}
	tmpl := sparql.QuadPattern{
		TriplePattern: sparql.TriplePattern{
			Subject:   sparql.Var("s"),
			Predicate: sparql.TermIRI(rdf.IRI("http://p/title")),
			Object:    sparql.Var("t"),
		},
	}
	row, ok := instantiate(tmpl, sol, 0)
	require.True(t, ok)
	assert.Equal(t, "http://x/a", row[0].Value)
	assert.Equal(t, "http://p/title", row[1].Value)
	assert.Equal(t, "Aaa", row[2].Value)
	assert.Equal(t, "en", row[4].Value)

	// Unbound template variables drop the quad.
	missing := sparql.QuadPattern{
		TriplePattern: sparql.TriplePattern{
			Subject:   sparql.Var("nope"),
			Predicate: sparql.TermIRI(rdf.IRI("http://p/title")),
			Object:    sparql.Var("t"),
		},
	}
	_, ok = instantiate(missing, sol, 0)
	assert.False(t, ok)
}

func TestInstantiate_BlankNodesFreshPerRow(t *testing.T) {
	tmpl := sparql.QuadPattern{
		TriplePattern: sparql.TriplePattern{
			Subject:   sparql.TermBlank(rdf.BlankNode("n")),
			Predicate: sparql.TermIRI(rdf.IRI("http://p/x")),
			Object:    sparql.TermLiteral(rdf.NewIntegerLiteral(1)),
		},
	}
	r0, ok := instantiate(tmpl, nil, 0)
	require.True(t, ok)
	r1, ok := instantiate(tmpl, nil, 1)
	require.True(t, ok)
	assert.NotEqual(t, r0[0].Value, r1[0].Value)
}
