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

const testOntologyHeader = `
@prefix rdf:  <http://www.w3.org/1999/02/22-rdf-syntax-ns#> .
@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .
@prefix xsd:  <http://www.w3.org/2001/XMLSchema#> .
@prefix nrl:  <http://tern.example.org/ontology/nrl#> .
@prefix ex:   <http://ex.tern.example.org/> .

<http://www.w3.org/1999/02/22-rdf-syntax-ns#> a nrl:Namespace ; nrl:prefix "rdf" .
<http://www.w3.org/2000/01/rdf-schema#> a nrl:Namespace ; nrl:prefix "rdfs" .
<http://www.w3.org/2001/XMLSchema#> a nrl:Namespace ; nrl:prefix "xsd" .
<http://tern.example.org/ontology/nrl#> a nrl:Namespace ; nrl:prefix "nrl" .
<http://ex.tern.example.org/> a nrl:Namespace ; nrl:prefix "ex" .

rdfs:Resource a rdfs:Class .

ex:Item a rdfs:Class ; rdfs:subClassOf rdfs:Resource .
`

func writeOntology(t *testing.T, dir, stamp, body string) {
	t.Helper()
	content := testOntologyHeader +
		"ex: a nrl:Ontology ; nrl:lastModified \"" + stamp + "\" .\n" + body
	require.NoError(t, os.WriteFile(filepath.Join(dir, "10-test.ontology"), []byte(content), 0o644))
}

const v1Body = `
ex:p a rdf:Property ; rdfs:domain ex:Item ; rdfs:range xsd:integer .
ex:q a rdf:Property ; rdfs:domain ex:Item ; rdfs:range xsd:string ; nrl:maxCardinality 1 .
`

func TestTriGSerializationBreakSequence(t *testing.T) {
	ctx := context.Background()
	ontDir := t.TempDir()
	writeOntology(t, ontDir, "2024-01-01T00:00:00Z", v1Body)

	conn, err := New(ctx, tern.FlagNone, t.TempDir(), ontDir)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Update(ctx, `
		INSERT DATA {
			GRAPH <http://g> { <http://x/a> a ex:Item ; ex:p 1, 2 ; ex:q "x" }
			GRAPH <http://h> { <http://x/a> ex:p 3 }
		}`))

	stream, err := conn.Serialize(ctx, tern.SerializeFlagsNone, tern.FormatTriG,
		`DESCRIBE <http://x/a>`)
	require.NoError(t, err)
	doc, err := io.ReadAll(stream)
	stream.Close()
	require.NoError(t, err)
	out := string(doc)

	assert.Contains(t, out, "GRAPH <http://g> {")
	assert.Contains(t, out, "GRAPH <http://h> {")
	// Object break within one predicate: comma-joined values.
	assert.Contains(t, out, "1, 2")
	// Predicate break within one subject.
	assert.Contains(t, out, ";")
	assert.Contains(t, out, `"x"`)
	assert.Contains(t, out, "3")
	// The <http://h> block holds only the single ex:p triple.
	hIdx := strings.Index(out, "GRAPH <http://h> {")
	require.GreaterOrEqual(t, hIdx, 0)
	assert.NotContains(t, out[hIdx:], `"x"`)
}

func TestMigrationAdditive(t *testing.T) {
	ctx := context.Background()
	ontDir := t.TempDir()
	storeDir := t.TempDir()
	writeOntology(t, ontDir, "2024-01-01T00:00:00Z", v1Body)

	conn, err := New(ctx, tern.FlagNone, storeDir, ontDir)
	require.NoError(t, err)
	require.NoError(t, conn.Update(ctx, `INSERT DATA { <http://x/a> a ex:Item ; ex:q "keep" }`))
	conn.Close()

	// v2 adds a property and an index.
	writeOntology(t, ontDir, "2024-06-01T00:00:00Z", v1Body+`
ex:r a rdf:Property ; rdfs:domain ex:Item ; rdfs:range xsd:string ; nrl:maxCardinality 1 ; nrl:indexed true .
`)
	conn, err = New(ctx, tern.FlagNone, storeDir, ontDir)
	require.NoError(t, err)
	defer conn.Close()

	// Old data survives and the new property is usable.
	v, _, _ := singleCell(t, conn, `SELECT ?q WHERE { <http://x/a> ex:q ?q }`)
	assert.Equal(t, "keep", v)
	require.NoError(t, conn.Update(ctx, `INSERT DATA { <http://x/a> ex:r "new" }`))
	v, _, _ = singleCell(t, conn, `SELECT ?r WHERE { <http://x/a> ex:r ?r }`)
	assert.Equal(t, "new", v)
}

func TestMigrationTighteningFailsWithOffendingData(t *testing.T) {
	ctx := context.Background()
	ontDir := t.TempDir()
	storeDir := t.TempDir()
	writeOntology(t, ontDir, "2024-01-01T00:00:00Z", v1Body)

	conn, err := New(ctx, tern.FlagNone, storeDir, ontDir)
	require.NoError(t, err)
	require.NoError(t, conn.Update(ctx, `INSERT DATA { <http://x/a> a ex:Item ; ex:p 1, 2 }`))
	conn.Close()

	// v2 tightens ex:p to single-valued; the instance above violates it.
	tightened := `
ex:p a rdf:Property ; rdfs:domain ex:Item ; rdfs:range xsd:integer ; nrl:maxCardinality 1 .
ex:q a rdf:Property ; rdfs:domain ex:Item ; rdfs:range xsd:string ; nrl:maxCardinality 1 .
`
	writeOntology(t, ontDir, "2024-06-01T00:00:00Z", tightened)
	_, err = New(ctx, tern.FlagNone, storeDir, ontDir)
	require.Error(t, err)
	assert.Equal(t, tern.ErrOntologyChangeNotSupported, tern.CodeOf(err))

	// The schema is untouched: reopening with v1 still works.
	writeOntology(t, ontDir, "2024-01-01T00:00:00Z", v1Body)
	conn, err = New(ctx, tern.FlagNone, storeDir, ontDir)
	require.NoError(t, err)
	defer conn.Close()
	v, _, _ := singleCell(t, conn, `SELECT (COUNT(*) AS ?c) WHERE { <http://x/a> ex:p ?v }`)
	assert.Equal(t, "2", v)
}

func TestMigrationWidening(t *testing.T) {
	ctx := context.Background()
	ontDir := t.TempDir()
	storeDir := t.TempDir()

	single := `
ex:p a rdf:Property ; rdfs:domain ex:Item ; rdfs:range xsd:integer ; nrl:maxCardinality 1 .
`
	writeOntology(t, ontDir, "2024-01-01T00:00:00Z", single)
	conn, err := New(ctx, tern.FlagNone, storeDir, ontDir)
	require.NoError(t, err)
	require.NoError(t, conn.Update(ctx, `INSERT DATA { <http://x/a> a ex:Item ; ex:p 1 }`))
	conn.Close()

	// Widening keeps the copied value and accepts more.
	multi := `
ex:p a rdf:Property ; rdfs:domain ex:Item ; rdfs:range xsd:integer .
`
	writeOntology(t, ontDir, "2024-06-01T00:00:00Z", multi)
	conn, err = New(ctx, tern.FlagNone, storeDir, ontDir)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Update(ctx, `INSERT DATA { <http://x/a> ex:p 2 }`))
	v, _, _ := singleCell(t, conn, `SELECT (COUNT(*) AS ?c) WHERE { <http://x/a> ex:p ?v }`)
	assert.Equal(t, "2", v)
}
