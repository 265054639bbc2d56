package ontology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func modelV(t *testing.T, extra string) *Model {
	t.Helper()
	m, err := loadFrom(t, map[string]string{
		"10-base.ontology": baseOntology + `
ex:C a rdfs:Class ; rdfs:subClassOf rdfs:Resource .
` + extra,
	})
	require.NoError(t, err)
	return m
}

func opsOfKind(p *Plan, k OpKind) []Op {
	var out []Op
	for _, op := range p.Ops {
		if op.Kind == k {
			out = append(out, op)
		}
	}
	return out
}

func TestDiff_Additive(t *testing.T) {
	v1 := modelV(t, `
ex:p a rdf:Property ; rdfs:domain ex:C ; rdfs:range xsd:string ; nrl:maxCardinality 1 .
`)
	v2 := modelV(t, `
ex:p a rdf:Property ; rdfs:domain ex:C ; rdfs:range xsd:string ; nrl:maxCardinality 1 .
ex:q a rdf:Property ; rdfs:domain ex:C ; rdfs:range xsd:integer ; nrl:maxCardinality 1 ; nrl:indexed true .
ex:m a rdf:Property ; rdfs:domain ex:C ; rdfs:range xsd:string .
ex:D a rdfs:Class ; rdfs:subClassOf ex:C .
`)
	p := Diff(v1, v2)
	assert.Len(t, opsOfKind(p, OpCreateClass), 1)
	assert.Len(t, opsOfKind(p, OpAddColumn), 1)      // ex:q on existing ex:C
	assert.Len(t, opsOfKind(p, OpCreateSideTable), 1) // ex:m
	assert.Len(t, opsOfKind(p, OpCreateIndex), 1)
}

func TestDiff_WidenAndTighten(t *testing.T) {
	single := modelV(t, `
ex:p a rdf:Property ; rdfs:domain ex:C ; rdfs:range xsd:string ; nrl:maxCardinality 1 .
`)
	multi := modelV(t, `
ex:p a rdf:Property ; rdfs:domain ex:C ; rdfs:range xsd:string .
`)
	widen := Diff(single, multi)
	require.Len(t, widen.Ops, 1)
	assert.Equal(t, OpWidenCardinality, widen.Ops[0].Kind)

	tighten := Diff(multi, single)
	require.Len(t, tighten.Ops, 1)
	assert.Equal(t, OpTightenCardinality, tighten.Ops[0].Kind)
}

func TestDiff_RemovalDeprecates(t *testing.T) {
	v1 := modelV(t, `
ex:p a rdf:Property ; rdfs:domain ex:C ; rdfs:range xsd:string ; nrl:maxCardinality 1 .
ex:Gone a rdfs:Class ; rdfs:subClassOf rdfs:Resource .
`)
	v2 := modelV(t, ``)
	p := Diff(v1, v2)
	assert.Len(t, opsOfKind(p, OpDeprecateClass), 1)
	assert.Len(t, opsOfKind(p, OpDeprecateProperty), 1)
	// Nothing is ever dropped.
	assert.Empty(t, opsOfKind(p, OpDropIndex))
}

func TestNeedsMigration_StampChange(t *testing.T) {
	v1 := modelV(t, ``)
	v2 := modelV(t, ``)
	assert.False(t, NeedsMigration(v1, v2))

	v3, err := loadFrom(t, map[string]string{
		"10-base.ontology": `
@prefix rdf:  <http://www.w3.org/1999/02/22-rdf-syntax-ns#> .
@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .
@prefix xsd:  <http://www.w3.org/2001/XMLSchema#> .
@prefix nrl:  <http://tern.example.org/ontology/nrl#> .
@prefix ex:   <http://ex/> .
<http://ex/> a nrl:Namespace ; nrl:prefix "ex" .
ex: a nrl:Ontology ; nrl:lastModified "2025-06-01T00:00:00Z" .
rdfs:Resource a rdfs:Class .
`,
	})
	require.NoError(t, err)
	assert.True(t, NeedsMigration(v1, v3))
}
