package ontology

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tern-db/tern/rdf"
)

const baseOntology = `
@prefix rdf:  <http://www.w3.org/1999/02/22-rdf-syntax-ns#> .
@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .
@prefix xsd:  <http://www.w3.org/2001/XMLSchema#> .
@prefix nrl:  <http://tern.example.org/ontology/nrl#> .
@prefix ex:   <http://ex/> .

<http://ex/> a nrl:Namespace ; nrl:prefix "ex" .
ex: a nrl:Ontology ; nrl:lastModified "2024-01-01T00:00:00Z" .

rdfs:Resource a rdfs:Class .
`

func loadFrom(t *testing.T, files map[string]string) (*Model, error) {
	t.Helper()
	fsys := fstest.MapFS{}
	for name, content := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(content)}
	}
	return LoadFS(fsys)
}

func TestLoad_BundledOntologies(t *testing.T) {
	m, err := Load("../ontologies")
	require.NoError(t, err)

	c, ok := m.ClassByIRI(rdf.IRI(rdf.NSNMM + "MusicPiece"))
	require.True(t, ok)
	assert.True(t, m.Class(c).Notify)

	// Transitive superclasses reach rdfs:Resource.
	supers := m.SuperClasses(c)
	found := false
	for _, s := range supers {
		if m.Class(s).IRI == rdf.RDFSResource {
			found = true
		}
	}
	assert.True(t, found, "MusicPiece must transitively derive from rdfs:Resource")

	title, ok := m.PropertyByIRI(rdf.IRI(rdf.NSNIE + "title"))
	require.True(t, ok)
	assert.True(t, m.Property(title).SingleValued)
	assert.True(t, m.Property(title).FulltextIndexed)

	url, ok := m.PropertyByIRI(rdf.IRI(rdf.NSNIE + "url"))
	require.True(t, ok)
	assert.True(t, m.Property(url).InverseFunctional)

	album, ok := m.PropertyByIRI(rdf.IRI(rdf.NSNMM + "musicAlbum"))
	require.True(t, ok)
	assert.NotEqual(t, NoProperty, m.Property(album).SecondaryIndex)

	// Multi-valued: nmm:performer has no maxCardinality.
	perf, ok := m.PropertyByIRI(rdf.IRI(rdf.NSNMM + "performer"))
	require.True(t, ok)
	assert.False(t, m.Property(perf).SingleValued)

	// Prefixed table names resolve through the declared namespaces.
	assert.Equal(t, "nmm:MusicPiece", m.TableName(c))
	assert.Equal(t, "title", m.ColumnName(title))
}

func TestLoad_UnknownRangeReported(t *testing.T) {
	_, err := loadFrom(t, map[string]string{
		"10-base.ontology": baseOntology,
		"20-bad.ontology": baseOntology + `
ex:C a rdfs:Class ; rdfs:subClassOf rdfs:Resource .
ex:p a rdf:Property ; rdfs:domain ex:C ; rdfs:range ex:Undefined .
`,
	})
	require.Error(t, err)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.NotEmpty(t, le.Problems)
}

func TestLoad_CollectsAllProblems(t *testing.T) {
	_, err := loadFrom(t, map[string]string{
		"10-bad.ontology": baseOntology + `
ex:p a rdf:Property ; rdfs:domain ex:Missing ; rdfs:range ex:AlsoMissing .
ex:q a rdf:Property .
`,
	})
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.GreaterOrEqual(t, len(le.Problems), 3)
}

func TestLoad_InheritanceCycle(t *testing.T) {
	_, err := loadFrom(t, map[string]string{
		"10-cycle.ontology": baseOntology + `
ex:A a rdfs:Class ; rdfs:subClassOf ex:B .
ex:B a rdfs:Class ; rdfs:subClassOf ex:A .
`,
	})
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Contains(t, le.Problems[len(le.Problems)-1], "cycle")
}

func TestLoad_UnknownPredicateReported(t *testing.T) {
	_, err := loadFrom(t, map[string]string{
		"10-bad.ontology": baseOntology + `
ex:C a rdfs:Class ; ex:madeUp "x" .
`,
	})
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Contains(t, le.Problems[0], "unknown predicate")
}

func TestModel_FrozenPanicsOnMutation(t *testing.T) {
	m, err := Load("../ontologies")
	require.NoError(t, err)
	assert.Panics(t, func() { m.AddNamespace("x", "http://x#") })
}

func TestSnapshot_RoundTrip(t *testing.T) {
	m, err := Load("../ontologies")
	require.NoError(t, err)

	data, err := MarshalSnapshot(m)
	require.NoError(t, err)
	back, err := UnmarshalSnapshot(data)
	require.NoError(t, err)

	assert.Len(t, back.Classes, len(m.Classes))
	assert.Len(t, back.Properties, len(m.Properties))
	assert.Empty(t, Diff(back, m).Ops, "round-tripped model must diff clean")
	assert.False(t, NeedsMigration(back, m))
}

func TestPropertiesOfClass_IncludesInherited(t *testing.T) {
	m, err := Load("../ontologies")
	require.NoError(t, err)
	mp, _ := m.ClassByIRI(rdf.IRI(rdf.NSNMM + "MusicPiece"))
	props := m.PropertiesOfClass(mp)

	want := map[rdf.IRI]bool{
		rdf.IRI(rdf.NSNMM + "trackNumber"): false,
		rdf.IRI(rdf.NSNIE + "title"):       false, // inherited via nfo:Audio → nie:InformationElement
		rdf.IRI(rdf.NSNRL + "added"):       false, // inherited from rdfs:Resource
	}
	for _, p := range props {
		if _, ok := want[m.Property(p).IRI]; ok {
			want[m.Property(p).IRI] = true
		}
	}
	for iri, seen := range want {
		assert.True(t, seen, "missing %s", iri)
	}
}
