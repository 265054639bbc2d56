package ontology

import (
	"encoding/json"
	"fmt"

	"github.com/tern-db/tern/rdf"
)

// Snapshot is the portable, IRI-keyed form of a Model, persisted in the
// database so a later open can detect ontology drift. Arena IDs are not
// stable across loads, so every reference is an IRI here.
type Snapshot struct {
	Namespaces []Namespace        `json:"namespaces"`
	Classes    []ClassSnapshot    `json:"classes"`
	Properties []PropertySnapshot `json:"properties"`
	Ontologies []Info             `json:"ontologies"`
}

type ClassSnapshot struct {
	IRI           rdf.IRI   `json:"iri"`
	Super         []rdf.IRI `json:"super,omitempty"`
	Notify        bool      `json:"notify,omitempty"`
	DomainIndexes []rdf.IRI `json:"domainIndexes,omitempty"`
	Deprecated    bool      `json:"deprecated,omitempty"`
}

type PropertySnapshot struct {
	IRI               rdf.IRI `json:"iri"`
	Domain            rdf.IRI `json:"domain"`
	RangeClass        rdf.IRI `json:"rangeClass,omitempty"`
	RangeDatatype     rdf.IRI `json:"rangeDatatype,omitempty"`
	SingleValued      bool    `json:"singleValued,omitempty"`
	Indexed           bool    `json:"indexed,omitempty"`
	SecondaryIndex    rdf.IRI `json:"secondaryIndex,omitempty"`
	FulltextIndexed   bool    `json:"fulltextIndexed,omitempty"`
	InverseFunctional bool    `json:"inverseFunctional,omitempty"`
	Super             rdf.IRI `json:"super,omitempty"`
	Deprecated        bool    `json:"deprecated,omitempty"`
}

// TakeSnapshot converts a model to its persisted form.
func TakeSnapshot(m *Model) *Snapshot {
	s := &Snapshot{
		Namespaces: append([]Namespace(nil), m.Namespaces...),
		Ontologies: append([]Info(nil), m.Ontologies...),
	}
	for i := range m.Classes {
		c := &m.Classes[i]
		cs := ClassSnapshot{IRI: c.IRI, Notify: c.Notify, Deprecated: c.Deprecated}
		for _, sup := range c.Super {
			cs.Super = append(cs.Super, m.Classes[sup].IRI)
		}
		for _, di := range c.DomainIndexes {
			cs.DomainIndexes = append(cs.DomainIndexes, m.Properties[di].IRI)
		}
		s.Classes = append(s.Classes, cs)
	}
	for i := range m.Properties {
		p := &m.Properties[i]
		ps := PropertySnapshot{
			IRI:               p.IRI,
			Domain:            m.Classes[p.Domain].IRI,
			SingleValued:      p.SingleValued,
			Indexed:           p.Indexed,
			FulltextIndexed:   p.FulltextIndexed,
			InverseFunctional: p.InverseFunctional,
			Deprecated:        p.Deprecated,
		}
		if p.Range.IsLiteral() {
			ps.RangeDatatype = p.Range.Datatype
		} else {
			ps.RangeClass = m.Classes[p.Range.Class].IRI
		}
		if p.SecondaryIndex != NoProperty {
			ps.SecondaryIndex = m.Properties[p.SecondaryIndex].IRI
		}
		if p.Super != NoProperty {
			ps.Super = m.Properties[p.Super].IRI
		}
		s.Properties = append(s.Properties, ps)
	}
	return s
}

// FromSnapshot rebuilds a frozen Model from its persisted form.
func FromSnapshot(s *Snapshot) (*Model, error) {
	m := NewModel()
	for _, n := range s.Namespaces {
		m.AddNamespace(n.Prefix, n.IRI)
	}
	m.Ontologies = append(m.Ontologies, s.Ontologies...)

	for _, cs := range s.Classes {
		if _, err := m.AddClass(Class{IRI: cs.IRI, Notify: cs.Notify, Deprecated: cs.Deprecated}); err != nil {
			return nil, err
		}
	}
	for _, ps := range s.Properties {
		if _, err := m.AddProperty(Property{
			IRI:            ps.IRI,
			Domain:         NoClass,
			Range:          Range{Class: NoClass},
			SecondaryIndex: NoProperty,
			Super:          NoProperty,
		}); err != nil {
			return nil, err
		}
	}

	classID := func(iri rdf.IRI) (ClassID, error) {
		id, ok := m.ClassByIRI(iri)
		if !ok {
			return NoClass, fmt.Errorf("snapshot references unknown class %s", iri)
		}
		return id, nil
	}
	propID := func(iri rdf.IRI) (PropertyID, error) {
		id, ok := m.PropertyByIRI(iri)
		if !ok {
			return NoProperty, fmt.Errorf("snapshot references unknown property %s", iri)
		}
		return id, nil
	}

	for i, cs := range s.Classes {
		c := m.Class(ClassID(i))
		for _, sup := range cs.Super {
			id, err := classID(sup)
			if err != nil {
				return nil, err
			}
			c.Super = append(c.Super, id)
		}
		for _, di := range cs.DomainIndexes {
			id, err := propID(di)
			if err != nil {
				return nil, err
			}
			c.DomainIndexes = append(c.DomainIndexes, id)
		}
	}
	for i, ps := range s.Properties {
		p := m.Property(PropertyID(i))
		d, err := classID(ps.Domain)
		if err != nil {
			return nil, err
		}
		p.Domain = d
		if ps.RangeDatatype != "" {
			p.Range = Range{Class: NoClass, Datatype: ps.RangeDatatype}
		} else {
			rc, err := classID(ps.RangeClass)
			if err != nil {
				return nil, err
			}
			p.Range = Range{Class: rc}
		}
		p.SingleValued = ps.SingleValued
		p.Indexed = ps.Indexed
		p.FulltextIndexed = ps.FulltextIndexed
		p.InverseFunctional = ps.InverseFunctional
		p.Deprecated = ps.Deprecated
		if ps.SecondaryIndex != "" {
			id, err := propID(ps.SecondaryIndex)
			if err != nil {
				return nil, err
			}
			p.SecondaryIndex = id
		}
		if ps.Super != "" {
			id, err := propID(ps.Super)
			if err != nil {
				return nil, err
			}
			p.Super = id
		}
	}
	m.Freeze()
	return m, nil
}

// MarshalSnapshot serializes a model snapshot for the schema-info table.
func MarshalSnapshot(m *Model) ([]byte, error) {
	return json.Marshal(TakeSnapshot(m))
}

// UnmarshalSnapshot is the inverse of MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (*Model, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode ontology snapshot: %w", err)
	}
	return FromSnapshot(&s)
}
