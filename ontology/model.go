// Package ontology holds the in-memory schema model and the loader that
// builds it from Turtle ontology files.
//
// The model is an arena: classes and properties live in flat slices and
// refer to each other by small integer IDs, never by pointer. A Model is
// built once at connection open, then frozen; after Freeze it is safe to
// share between goroutines.
package ontology

import (
	"fmt"
	"sort"

	"github.com/tern-db/tern/rdf"
)

// ClassID indexes Model.Classes. NoClass marks an absent reference.
type ClassID int32

// PropertyID indexes Model.Properties. NoProperty marks an absent
// reference.
type PropertyID int32

const (
	NoClass    ClassID    = -1
	NoProperty PropertyID = -1
)

// Namespace is a prefix↔IRI pair declared by an ontology.
type Namespace struct {
	Prefix string
	IRI    rdf.IRI
}

// Class is one rdfs:Class. Super holds direct superclasses only;
// use Model.SuperClasses for the transitive closure.
type Class struct {
	IRI           rdf.IRI
	Super         []ClassID
	Notify        bool
	DomainIndexes []PropertyID
	Deprecated    bool
}

// Range is a property range: either a class or a literal datatype.
type Range struct {
	Class    ClassID
	Datatype rdf.IRI
}

// IsLiteral reports whether the range is a literal datatype.
func (r Range) IsLiteral() bool { return r.Class == NoClass }

// Property is one rdf:Property.
type Property struct {
	IRI               rdf.IRI
	Domain            ClassID
	Range             Range
	SingleValued      bool
	Indexed           bool
	SecondaryIndex    PropertyID
	FulltextIndexed   bool
	InverseFunctional bool
	Super             PropertyID
	Deprecated        bool
}

// Info is one nrl:Ontology entity with its version stamp, used to decide
// incremental migration.
type Info struct {
	IRI          rdf.IRI
	LastModified string
}

// Model is the frozen ontology schema for one connection.
type Model struct {
	Namespaces []Namespace
	Classes    []Class
	Properties []Property
	Ontologies []Info

	classByIRI map[rdf.IRI]ClassID
	propByIRI  map[rdf.IRI]PropertyID
	ns         *rdf.Namespaces
	frozen     bool
}

// NewModel returns an empty, unfrozen model.
func NewModel() *Model {
	return &Model{
		classByIRI: make(map[rdf.IRI]ClassID),
		propByIRI:  make(map[rdf.IRI]PropertyID),
		ns:         rdf.NewNamespaces(),
	}
}

// NamespaceManager returns the prefix manager populated from the ontologies.
func (m *Model) NamespaceManager() *rdf.Namespaces { return m.ns }

// AddNamespace registers a namespace.
func (m *Model) AddNamespace(prefix string, iri rdf.IRI) {
	m.mustMutable()
	m.Namespaces = append(m.Namespaces, Namespace{Prefix: prefix, IRI: iri})
	m.ns.Register(prefix, iri)
}

// AddClass appends a class and returns its ID. Duplicate IRIs are an
// error.
func (m *Model) AddClass(c Class) (ClassID, error) {
	m.mustMutable()
	if _, dup := m.classByIRI[c.IRI]; dup {
		return NoClass, fmt.Errorf("duplicate class %s", c.IRI)
	}
	id := ClassID(len(m.Classes))
	m.Classes = append(m.Classes, c)
	m.classByIRI[c.IRI] = id
	return id, nil
}

// AddProperty appends a property and returns its ID. Duplicate IRIs are
// an error.
func (m *Model) AddProperty(p Property) (PropertyID, error) {
	m.mustMutable()
	if _, dup := m.propByIRI[p.IRI]; dup {
		return NoProperty, fmt.Errorf("duplicate property %s", p.IRI)
	}
	id := PropertyID(len(m.Properties))
	m.Properties = append(m.Properties, p)
	m.propByIRI[p.IRI] = id
	return id, nil
}

// Freeze marks the model immutable. Mutating calls after Freeze panic:
// they would race with concurrent readers.
func (m *Model) Freeze() { m.frozen = true }

func (m *Model) mustMutable() {
	if m.frozen {
		panic("ontology: mutation of a frozen model")
	}
}

// ClassByIRI looks up a class.
func (m *Model) ClassByIRI(iri rdf.IRI) (ClassID, bool) {
	id, ok := m.classByIRI[iri]
	return id, ok
}

// PropertyByIRI looks up a property.
func (m *Model) PropertyByIRI(iri rdf.IRI) (PropertyID, bool) {
	id, ok := m.propByIRI[iri]
	return id, ok
}

// Class returns the class for id.
func (m *Model) Class(id ClassID) *Class { return &m.Classes[id] }

// Property returns the property for id.
func (m *Model) Property(id PropertyID) *Property { return &m.Properties[id] }

// Expand resolves a prefixed name against the ontology namespaces.
func (m *Model) Expand(prefixed string) (rdf.IRI, bool) {
	return m.ns.Expand(prefixed)
}

// SuperClasses returns the transitive superclass closure of id,
// excluding id itself, in deterministic (sorted) order.
func (m *Model) SuperClasses(id ClassID) []ClassID {
	seen := make(map[ClassID]bool)
	var walk func(ClassID)
	walk = func(c ClassID) {
		for _, s := range m.Classes[c].Super {
			if !seen[s] {
				seen[s] = true
				walk(s)
			}
		}
	}
	walk(id)
	out := make([]ClassID, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SuperProperties returns the transitive super-property chain of id,
// nearest first.
func (m *Model) SuperProperties(id PropertyID) []PropertyID {
	var out []PropertyID
	for p := m.Properties[id].Super; p != NoProperty; p = m.Properties[p].Super {
		out = append(out, p)
	}
	return out
}

// IsSubClassOf reports whether sub is c or a transitive subclass of c.
func (m *Model) IsSubClassOf(sub, c ClassID) bool {
	if sub == c {
		return true
	}
	for _, s := range m.SuperClasses(sub) {
		if s == c {
			return true
		}
	}
	return false
}

// PropertiesOfClass returns the IDs of all properties whose domain is c
// or a superclass of c, in declaration order.
func (m *Model) PropertiesOfClass(c ClassID) []PropertyID {
	domains := append([]ClassID{c}, m.SuperClasses(c)...)
	inDomain := make(map[ClassID]bool, len(domains))
	for _, d := range domains {
		inDomain[d] = true
	}
	var out []PropertyID
	for i := range m.Properties {
		if inDomain[m.Properties[i].Domain] {
			out = append(out, PropertyID(i))
		}
	}
	return out
}

// NotifyClasses returns the classes flagged nrl:notify.
func (m *Model) NotifyClasses() []ClassID {
	var out []ClassID
	for i := range m.Classes {
		if m.Classes[i].Notify {
			out = append(out, ClassID(i))
		}
	}
	return out
}

// TableName returns the relational table name for a class: the prefixed
// name when a namespace matches, the full IRI otherwise. Stable across
// connections because namespaces come from the ontologies themselves.
func (m *Model) TableName(c ClassID) string {
	iri := m.Classes[c].IRI
	if pfx, ok := m.ns.Compress(iri); ok {
		return pfx
	}
	return string(iri)
}

// ColumnName returns the column (or side-table suffix) name for a
// property.
func (m *Model) ColumnName(p PropertyID) string {
	iri := m.Properties[p].IRI
	if pfx, ok := m.ns.Compress(iri); ok {
		// Only the local part: the table already scopes the class.
		if i := indexByte(pfx, ':'); i >= 0 {
			return pfx[i+1:]
		}
	}
	return string(iri)
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
