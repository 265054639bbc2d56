package ontology

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tern-db/tern/rdf"
	"github.com/tern-db/tern/rdf/turtle"
)

// LoadError aggregates every problem found while loading an ontology
// directory. The loader keeps going after the first problem so a broken
// ontology is reported in full.
type LoadError struct {
	Problems []string
}

func (e *LoadError) Error() string {
	switch len(e.Problems) {
	case 0:
		return "ontology load failed"
	case 1:
		return e.Problems[0]
	default:
		return fmt.Sprintf("%s (and %d more problems)", e.Problems[0], len(e.Problems)-1)
	}
}

// rawEntity accumulates the triples seen about one subject before the
// arena is built.
type rawEntity struct {
	types []rdf.IRI
	props map[rdf.IRI][]rdf.Term
	file  string
}

type loader struct {
	entities map[rdf.IRI]*rawEntity
	order    []rdf.IRI // subjects in first-seen order
	problems []string
}

// Load parses every .ontology/.ttl file under dir, in lexicographic
// filename order, and builds a validated, frozen Model.
func Load(dir string) (*Model, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read ontology directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".ontology") || strings.HasSuffix(e.Name(), ".ttl") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no ontology files in %s", dir)
	}
	sort.Strings(names)

	l := &loader{entities: make(map[rdf.IRI]*rawEntity)}
	for _, name := range names {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		err = l.readFile(f, name)
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	return l.build()
}

// LoadFS is Load over an fs.FS, used by tests and embedded ontologies.
func LoadFS(fsys fs.FS) (*Model, error) {
	var names []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && (strings.HasSuffix(path, ".ontology") || strings.HasSuffix(path, ".ttl")) {
			names = append(names, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no ontology files")
	}
	sort.Strings(names)

	l := &loader{entities: make(map[rdf.IRI]*rawEntity)}
	for _, name := range names {
		f, err := fsys.Open(name)
		if err != nil {
			return nil, err
		}
		err = l.readFile(f, name)
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	return l.build()
}

func (l *loader) readFile(f io.Reader, name string) error {
	r := turtle.NewReader(f)
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		q, ok := ev.(rdf.Quad)
		if !ok {
			continue
		}
		subj, ok := q.Subject.(rdf.IRI)
		if !ok {
			l.problems = append(l.problems,
				fmt.Sprintf("%s: blank node subjects are not allowed in ontologies", name))
			continue
		}
		ent := l.entities[subj]
		if ent == nil {
			ent = &rawEntity{props: make(map[rdf.IRI][]rdf.Term), file: name}
			l.entities[subj] = ent
			l.order = append(l.order, subj)
		}
		if q.Predicate == rdf.RDFType {
			if tIRI, ok := q.Object.(rdf.IRI); ok {
				ent.types = append(ent.types, tIRI)
				continue
			}
		}
		ent.props[q.Predicate] = append(ent.props[q.Predicate], q.Object)
	}
}

func (l *loader) problemf(format string, args ...any) {
	l.problems = append(l.problems, fmt.Sprintf(format, args...))
}

// build runs the two arena passes: create all entities, then resolve
// cross references, then validate.
func (l *loader) build() (*Model, error) {
	m := NewModel()

	// Pass 1: namespaces and ontology stamps first so prefixed table
	// names resolve, then class and property shells.
	for _, subj := range l.order {
		ent := l.entities[subj]
		for _, t := range ent.types {
			switch t {
			case rdf.NRLNamespace:
				prefix := l.stringProp(ent, subj, rdf.NRLPrefix)
				if prefix == "" {
					l.problemf("namespace %s has no nrl:prefix", subj)
					continue
				}
				m.AddNamespace(prefix, subj)
			case rdf.NRLOntology:
				m.Ontologies = append(m.Ontologies, Info{
					IRI:          subj,
					LastModified: l.stringProp(ent, subj, rdf.NRLLastModified),
				})
			}
		}
	}
	for _, subj := range l.order {
		ent := l.entities[subj]
		for _, t := range ent.types {
			switch t {
			case rdf.RDFSClass:
				if _, err := m.AddClass(Class{IRI: subj}); err != nil {
					l.problemf("%v", err)
				}
			case rdf.RDFProperty:
				if _, err := m.AddProperty(Property{
					IRI:            subj,
					Domain:         NoClass,
					Range:          Range{Class: NoClass},
					SecondaryIndex: NoProperty,
					Super:          NoProperty,
				}); err != nil {
					l.problemf("%v", err)
				}
			case rdf.NRLInverseFunctional, rdf.NRLNamespace, rdf.NRLOntology:
				// Handled elsewhere.
			default:
				l.problemf("%s: unknown entity category %s for %s", ent.file, t, subj)
			}
		}
	}

	// Pass 2: resolve references and flags.
	for _, subj := range l.order {
		ent := l.entities[subj]
		if id, ok := m.ClassByIRI(subj); ok && hasType(ent, rdf.RDFSClass) {
			l.fillClass(m, id, subj, ent)
		}
		if id, ok := m.PropertyByIRI(subj); ok && hasType(ent, rdf.RDFProperty) {
			l.fillProperty(m, id, subj, ent)
		}
	}

	l.checkClassCycles(m)
	l.checkPropertyCycles(m)

	if len(l.problems) > 0 {
		return nil, &LoadError{Problems: l.problems}
	}
	m.Freeze()
	return m, nil
}

func hasType(ent *rawEntity, t rdf.IRI) bool {
	for _, x := range ent.types {
		if x == t {
			return true
		}
	}
	return false
}

func (l *loader) fillClass(m *Model, id ClassID, subj rdf.IRI, ent *rawEntity) {
	c := m.Class(id)
	for pred, objs := range ent.props {
		switch pred {
		case rdf.RDFSSubClass:
			for _, o := range objs {
				sup, ok := l.classRef(m, o)
				if !ok {
					l.problemf("%s: superclass %s of %s is not a defined class", ent.file, o, subj)
					continue
				}
				c.Super = append(c.Super, sup)
			}
		case rdf.NRLNotify:
			c.Notify = l.boolVal(objs, subj, pred)
		case rdf.NRLDomainIndex:
			for _, o := range objs {
				p, ok := l.propRef(m, o)
				if !ok {
					l.problemf("%s: domain index %s of %s is not a defined property", ent.file, o, subj)
					continue
				}
				c.DomainIndexes = append(c.DomainIndexes, p)
			}
		case rdf.NRLDeprecated:
			c.Deprecated = l.boolVal(objs, subj, pred)
		case rdf.RDFSComment, rdf.RDFSLabel:
			// Documentation, ignored.
		default:
			l.problemf("%s: unknown predicate %s on class %s", ent.file, pred, subj)
		}
	}
	sort.Slice(c.Super, func(i, j int) bool { return c.Super[i] < c.Super[j] })
}

func (l *loader) fillProperty(m *Model, id PropertyID, subj rdf.IRI, ent *rawEntity) {
	p := m.Property(id)
	p.InverseFunctional = hasType(ent, rdf.NRLInverseFunctional)
	for pred, objs := range ent.props {
		switch pred {
		case rdf.RDFSDomain:
			d, ok := l.classRef(m, objs[0])
			if !ok {
				l.problemf("%s: domain %s of %s is not a defined class", ent.file, objs[0], subj)
				continue
			}
			p.Domain = d
		case rdf.RDFSRange:
			iri, ok := objs[0].(rdf.IRI)
			if !ok {
				l.problemf("%s: range of %s must be an IRI", ent.file, subj)
				continue
			}
			if c, ok := m.ClassByIRI(iri); ok {
				p.Range = Range{Class: c}
			} else if rdf.IsKnownDatatype(iri) {
				p.Range = Range{Class: NoClass, Datatype: iri}
			} else {
				l.problemf("%s: range %s of %s is neither a class nor a supported datatype",
					ent.file, iri, subj)
			}
		case rdf.NRLMaxCardinality:
			if lit, ok := objs[0].(rdf.Literal); ok && lit.Value == "1" {
				p.SingleValued = true
			}
		case rdf.NRLIndexed:
			p.Indexed = l.boolVal(objs, subj, pred)
		case rdf.NRLSecondaryIndex:
			sp, ok := l.propRef(m, objs[0])
			if !ok {
				l.problemf("%s: secondary index %s of %s is not a defined property", ent.file, objs[0], subj)
				continue
			}
			p.SecondaryIndex = sp
		case rdf.NRLFulltextIndexed:
			p.FulltextIndexed = l.boolVal(objs, subj, pred)
		case rdf.RDFSSubProp:
			sp, ok := l.propRef(m, objs[0])
			if !ok {
				l.problemf("%s: super-property %s of %s is not a defined property", ent.file, objs[0], subj)
				continue
			}
			p.Super = sp
		case rdf.NRLDeprecated:
			p.Deprecated = l.boolVal(objs, subj, pred)
		case rdf.RDFSComment, rdf.RDFSLabel:
		default:
			l.problemf("%s: unknown predicate %s on property %s", ent.file, pred, subj)
		}
	}
	if p.Domain == NoClass {
		l.problemf("%s: property %s has no rdfs:domain", ent.file, subj)
	}
	if p.Range.Class == NoClass && p.Range.Datatype == "" {
		l.problemf("%s: property %s has no rdfs:range", ent.file, subj)
	}
	if p.FulltextIndexed && p.Range.Datatype != rdf.XSDString {
		l.problemf("%s: property %s is fulltext-indexed but not a string", ent.file, subj)
	}
}

func (l *loader) classRef(m *Model, o rdf.Term) (ClassID, bool) {
	iri, ok := o.(rdf.IRI)
	if !ok {
		return NoClass, false
	}
	return m.ClassByIRI(iri)
}

func (l *loader) propRef(m *Model, o rdf.Term) (PropertyID, bool) {
	iri, ok := o.(rdf.IRI)
	if !ok {
		return NoProperty, false
	}
	return m.PropertyByIRI(iri)
}

func (l *loader) boolVal(objs []rdf.Term, subj rdf.IRI, pred rdf.IRI) bool {
	if lit, ok := objs[0].(rdf.Literal); ok {
		return lit.Value == "true"
	}
	l.problemf("predicate %s on %s expects a boolean literal", pred, subj)
	return false
}

func (l *loader) stringProp(ent *rawEntity, subj rdf.IRI, pred rdf.IRI) string {
	objs := ent.props[pred]
	if len(objs) == 0 {
		return ""
	}
	if lit, ok := objs[0].(rdf.Literal); ok {
		return lit.Value
	}
	l.problemf("predicate %s on %s expects a literal", pred, subj)
	return ""
}

// checkClassCycles verifies subClassOf is acyclic with a three-color
// depth-first search.
func (l *loader) checkClassCycles(m *Model) {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make([]int, len(m.Classes))
	var visit func(ClassID) bool
	visit = func(c ClassID) bool {
		switch color[c] {
		case grey:
			return false
		case black:
			return true
		}
		color[c] = grey
		for _, s := range m.Classes[c].Super {
			if !visit(s) {
				return false
			}
		}
		color[c] = black
		return true
	}
	for i := range m.Classes {
		if !visit(ClassID(i)) {
			l.problemf("class inheritance cycle involving %s", m.Classes[i].IRI)
			return
		}
	}
}

func (l *loader) checkPropertyCycles(m *Model) {
	for i := range m.Properties {
		steps := 0
		for p := m.Properties[i].Super; p != NoProperty; p = m.Properties[p].Super {
			steps++
			if steps > len(m.Properties) {
				l.problemf("property hierarchy cycle involving %s", m.Properties[i].IRI)
				return
			}
		}
	}
}
