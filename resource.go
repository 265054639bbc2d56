package tern

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/tern-db/tern/rdf"
)

// Resource is a value object describing one RDF resource and its
// property values, possibly nested. Build it up with the Add/Set
// methods, then insert it with Connection.UpdateResource; the whole
// tree goes in inside one transaction.
type Resource struct {
	identifier string // IRI, or "_:label" for a blank node
	values     map[string][]any
}

// NewResource returns a resource named by an IRI. The IRI is stored in
// percent-encoded form (see rdf.EscapeIRI).
func NewResource(iri string) *Resource {
	return &Resource{
		identifier: string(rdf.EscapeIRI(iri)),
		values:     make(map[string][]any),
	}
}

// NewBlankResource returns a resource with a generated blank-node label.
func NewBlankResource() *Resource {
	return &Resource{
		identifier: "_:" + uuid.NewString(),
		values:     make(map[string][]any),
	}
}

// Identifier returns the resource's IRI or "_:label".
func (r *Resource) Identifier() string { return r.identifier }

// SetValue replaces the values of predicate with a single value.
func (r *Resource) SetValue(predicate string, value any) error {
	if err := checkValue(value); err != nil {
		return err
	}
	r.values[predicate] = []any{value}
	return nil
}

// AddValue appends a value to predicate. Accepted value types: string,
// int64, float64, bool, time-formatted rdf.Literal, rdf.IRI, and
// *Resource for nesting.
func (r *Resource) AddValue(predicate string, value any) error {
	if err := checkValue(value); err != nil {
		return err
	}
	r.values[predicate] = append(r.values[predicate], value)
	return nil
}

// AddURI appends an IRI-valued property.
func (r *Resource) AddURI(predicate, iri string) {
	r.values[predicate] = append(r.values[predicate], rdf.IRI(rdf.EscapeIRI(iri)))
}

// AddResource appends a nested resource.
func (r *Resource) AddResource(predicate string, nested *Resource) {
	r.values[predicate] = append(r.values[predicate], nested)
}

func checkValue(v any) error {
	switch v.(type) {
	case string, int64, int, float64, bool, rdf.IRI, rdf.Literal, *Resource:
		return nil
	default:
		return NewError(ErrType, "unsupported resource value type %T", v)
	}
}

// Predicates returns the predicate IRIs with at least one value, sorted.
func (r *Resource) Predicates() []string {
	out := make([]string, 0, len(r.values))
	for p := range r.values {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Values returns the values of predicate in insertion order.
func (r *Resource) Values(predicate string) []any {
	return r.values[predicate]
}

// Quads flattens the tree into quads for graph (empty = default graph).
// Nested resources contribute their own quads before the referencing one.
func (r *Resource) Quads(graph string) ([]rdf.Quad, error) {
	var out []rdf.Quad
	seen := make(map[*Resource]bool)
	if err := r.appendQuads(&out, rdf.IRI(graph), seen); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resource) subjectTerm() rdf.Term {
	if len(r.identifier) > 2 && r.identifier[:2] == "_:" {
		return rdf.BlankNode(r.identifier[2:])
	}
	return rdf.IRI(r.identifier)
}

func (r *Resource) appendQuads(out *[]rdf.Quad, graph rdf.IRI, seen map[*Resource]bool) error {
	if seen[r] {
		return NewError(ErrType, "resource cycle through %s", r.identifier)
	}
	seen[r] = true
	defer delete(seen, r)

	subj := r.subjectTerm()
	for _, pred := range r.Predicates() {
		for _, v := range r.values[pred] {
			var obj rdf.Term
			switch val := v.(type) {
			case string:
				obj = rdf.NewStringLiteral(val)
			case int:
				obj = rdf.NewIntegerLiteral(int64(val))
			case int64:
				obj = rdf.NewIntegerLiteral(val)
			case float64:
				obj = rdf.NewDoubleLiteral(val)
			case bool:
				obj = rdf.NewBooleanLiteral(val)
			case rdf.IRI:
				obj = val
			case rdf.Literal:
				obj = val
			case *Resource:
				obj = val.subjectTerm()
				if err := val.appendQuads(out, graph, seen); err != nil {
					return err
				}
			default:
				return NewError(ErrInternal, "unreachable resource value type %T", v)
			}
			*out = append(*out, rdf.Quad{
				Graph:     graph,
				Subject:   subj,
				Predicate: rdf.IRI(pred),
				Object:    obj,
			})
		}
	}
	return nil
}

// String renders a short debug description.
func (r *Resource) String() string {
	return fmt.Sprintf("Resource(%s, %d predicates)", r.identifier, len(r.values))
}
