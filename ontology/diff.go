package ontology

import (
	"fmt"

	"github.com/tern-db/tern/rdf"
)

// OpKind enumerates schema-migration operations. The storage layer
// translates each into DDL/DML; the planner here stays engine-agnostic.
type OpKind int

const (
	// OpCreateClass creates the class table (and rdf:type bookkeeping).
	OpCreateClass OpKind = iota
	// OpAddColumn adds a single-valued property column to its class table.
	OpAddColumn
	// OpCreateSideTable creates the side table of a multi-valued property.
	OpCreateSideTable
	// OpCreateIndex creates a secondary index on a property.
	OpCreateIndex
	// OpDropIndex removes a secondary index.
	OpDropIndex
	// OpWidenCardinality converts single-valued storage to a side table,
	// copying existing column values.
	OpWidenCardinality
	// OpTightenCardinality converts multi-valued storage to a column.
	// Application must first verify no subject holds more than one value
	// and abort the whole migration otherwise.
	OpTightenCardinality
	// OpRebuildFTS rebuilds the full-text index after the fulltext
	// property set changed.
	OpRebuildFTS
	// OpDeprecateClass marks a vanished class deprecated. Its schema
	// remains; nothing is dropped.
	OpDeprecateClass
	// OpDeprecateProperty marks a vanished property deprecated.
	OpDeprecateProperty
)

// Op is one migration step. Class/Property name the affected entities by
// IRI so the op remains meaningful against either model.
type Op struct {
	Kind     OpKind
	Class    rdf.IRI
	Property rdf.IRI
}

func (o Op) String() string {
	switch o.Kind {
	case OpCreateClass:
		return fmt.Sprintf("create class %s", o.Class)
	case OpAddColumn:
		return fmt.Sprintf("add column %s to %s", o.Property, o.Class)
	case OpCreateSideTable:
		return fmt.Sprintf("create side table for %s", o.Property)
	case OpCreateIndex:
		return fmt.Sprintf("create index on %s", o.Property)
	case OpDropIndex:
		return fmt.Sprintf("drop index on %s", o.Property)
	case OpWidenCardinality:
		return fmt.Sprintf("widen %s to multi-valued", o.Property)
	case OpTightenCardinality:
		return fmt.Sprintf("tighten %s to single-valued", o.Property)
	case OpRebuildFTS:
		return "rebuild full-text index"
	case OpDeprecateClass:
		return fmt.Sprintf("deprecate class %s", o.Class)
	case OpDeprecateProperty:
		return fmt.Sprintf("deprecate property %s", o.Property)
	}
	return "unknown op"
}

// Plan is an ordered migration plan. Empty means the schemas match.
type Plan struct {
	Ops []Op
}

// NeedsMigration reports whether the persisted ontology stamps differ
// from the loaded ones.
func NeedsMigration(old, new *Model) bool {
	stamps := make(map[rdf.IRI]string, len(old.Ontologies))
	for _, o := range old.Ontologies {
		stamps[o.IRI] = o.LastModified
	}
	if len(old.Ontologies) != len(new.Ontologies) {
		return true
	}
	for _, o := range new.Ontologies {
		if s, ok := stamps[o.IRI]; !ok || s != o.LastModified {
			return true
		}
	}
	return false
}

// Diff computes the migration plan that evolves the schema of old into
// new. Classes and properties never disappear: entities absent from new
// are deprecated, not dropped.
func Diff(old, new *Model) *Plan {
	p := &Plan{}

	oldClasses := make(map[rdf.IRI]*Class, len(old.Classes))
	for i := range old.Classes {
		oldClasses[old.Classes[i].IRI] = &old.Classes[i]
	}
	oldProps := make(map[rdf.IRI]*Property, len(old.Properties))
	for i := range old.Properties {
		oldProps[old.Properties[i].IRI] = &old.Properties[i]
	}

	for i := range new.Classes {
		nc := &new.Classes[i]
		if _, ok := oldClasses[nc.IRI]; !ok {
			p.Ops = append(p.Ops, Op{Kind: OpCreateClass, Class: nc.IRI})
		}
	}

	ftsChanged := false
	for i := range new.Properties {
		np := &new.Properties[i]
		classIRI := new.Classes[np.Domain].IRI
		op, existed := oldProps[np.IRI]
		if !existed {
			if np.SingleValued {
				// A brand-new class gets its columns from OpCreateClass;
				// only pre-existing tables need ALTER.
				if _, classExisted := oldClasses[classIRI]; classExisted {
					p.Ops = append(p.Ops, Op{Kind: OpAddColumn, Class: classIRI, Property: np.IRI})
				}
			} else {
				p.Ops = append(p.Ops, Op{Kind: OpCreateSideTable, Class: classIRI, Property: np.IRI})
			}
			if np.Indexed {
				p.Ops = append(p.Ops, Op{Kind: OpCreateIndex, Class: classIRI, Property: np.IRI})
			}
			if np.FulltextIndexed {
				ftsChanged = true
			}
			continue
		}
		switch {
		case op.SingleValued && !np.SingleValued:
			p.Ops = append(p.Ops, Op{Kind: OpWidenCardinality, Class: classIRI, Property: np.IRI})
		case !op.SingleValued && np.SingleValued:
			p.Ops = append(p.Ops, Op{Kind: OpTightenCardinality, Class: classIRI, Property: np.IRI})
		}
		if np.Indexed && !op.Indexed {
			p.Ops = append(p.Ops, Op{Kind: OpCreateIndex, Class: classIRI, Property: np.IRI})
		}
		if !np.Indexed && op.Indexed {
			p.Ops = append(p.Ops, Op{Kind: OpDropIndex, Class: classIRI, Property: np.IRI})
		}
		if np.FulltextIndexed != op.FulltextIndexed {
			ftsChanged = true
		}
	}
	if ftsChanged {
		p.Ops = append(p.Ops, Op{Kind: OpRebuildFTS})
	}

	newClassIRIs := make(map[rdf.IRI]bool, len(new.Classes))
	for i := range new.Classes {
		newClassIRIs[new.Classes[i].IRI] = true
	}
	for i := range old.Classes {
		if !newClassIRIs[old.Classes[i].IRI] {
			p.Ops = append(p.Ops, Op{Kind: OpDeprecateClass, Class: old.Classes[i].IRI})
		}
	}
	newPropIRIs := make(map[rdf.IRI]bool, len(new.Properties))
	for i := range new.Properties {
		newPropIRIs[new.Properties[i].IRI] = true
	}
	for i := range old.Properties {
		if !newPropIRIs[old.Properties[i].IRI] {
			p.Ops = append(p.Ops, Op{Kind: OpDeprecateProperty, Property: old.Properties[i].IRI})
		}
	}
	return p
}
