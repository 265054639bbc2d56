package sparql

import (
	"github.com/tern-db/tern"
	"github.com/tern-db/tern/rdf"
)

// Resolver answers whether an IRI names a class or a property in the
// active ontology. The ontology model satisfies it via a thin adapter.
type Resolver interface {
	IsClass(iri rdf.IRI) bool
	IsProperty(iri rdf.IRI) bool
}

// Validate checks a query's ontology references and pattern shape:
//
//   - every IRI in predicate position must be a defined property;
//   - every IRI in the object of rdf:type must be a defined class;
//   - a variable predicate needs a subject anchor (bound subject or an
//     rdf:type constraint on the subject variable) unless the form is
//     CONSTRUCT or DESCRIBE.
//
// Patterns under SERVICE are exempt: federated endpoints have their own
// schema.
func Validate(q *Query, r Resolver) error {
	v := &validator{r: r}
	switch f := q.Form.(type) {
	case *SelectQuery:
		return v.pattern(f.Where, false, true)
	case *AskQuery:
		return v.pattern(f.Where, false, true)
	case *ConstructQuery:
		return v.pattern(f.Where, false, false)
	case *DescribeQuery:
		return v.pattern(f.Where, false, false)
	}
	return nil
}

// ValidateUpdate checks an update's ontology references.
func ValidateUpdate(u *Update, r Resolver) error {
	v := &validator{r: r}
	for _, op := range u.Ops {
		switch o := op.(type) {
		case InsertData:
			if err := v.quads(o.Quads); err != nil {
				return err
			}
		case DeleteData:
			if err := v.quads(o.Quads); err != nil {
				return err
			}
		case Modify:
			if err := v.quads(o.Delete); err != nil {
				return err
			}
			if err := v.quads(o.Insert); err != nil {
				return err
			}
			if err := v.pattern(o.Where, false, false); err != nil {
				return err
			}
		}
	}
	return nil
}

type validator struct {
	r Resolver
}

func (v *validator) quads(quads []QuadPattern) error {
	for _, q := range quads {
		if err := v.triple(q.TriplePattern, false); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) pattern(g GroupGraphPattern, inService, anchored bool) error {
	// First pass: which variables carry an rdf:type constraint here.
	typed := make(map[Var]bool)
	for _, el := range g.Elements {
		if bgp, ok := el.(BGP); ok {
			for _, t := range bgp.Triples {
				if iri, ok := AsIRI(t.Predicate); ok && iri == rdf.RDFType {
					if sv, ok := t.Subject.(Var); ok {
						typed[sv] = true
					}
				}
			}
		}
	}

	for _, el := range g.Elements {
		switch e := el.(type) {
		case BGP:
			for _, t := range e.Triples {
				if err := v.triple(t, inService); err != nil {
					return err
				}
				if anchored && !inService {
					if _, isVar := t.Predicate.(Var); isVar {
						if sv, subjIsVar := t.Subject.(Var); subjIsVar && !typed[sv] {
							return tern.NewError(tern.ErrParse,
								"variable predicate needs a bound subject or a type constraint on ?%s", sv)
						}
					}
				}
			}
		case GraphGroup:
			if err := v.pattern(e.Pattern, inService, anchored); err != nil {
				return err
			}
		case Optional:
			if err := v.pattern(e.Pattern, inService, anchored); err != nil {
				return err
			}
		case Minus:
			if err := v.pattern(e.Pattern, inService, anchored); err != nil {
				return err
			}
		case Union:
			for _, alt := range e.Alternatives {
				if err := v.pattern(alt, inService, anchored); err != nil {
					return err
				}
			}
		case Service:
			if err := v.pattern(e.Pattern, true, false); err != nil {
				return err
			}
		case SubSelect:
			if err := v.pattern(e.Query.Where, inService, anchored); err != nil {
				return err
			}
		case Filter:
			if err := v.expr(e.Expr, inService); err != nil {
				return err
			}
		case Bind:
			if err := v.expr(e.Expr, inService); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *validator) triple(t TriplePattern, inService bool) error {
	if inService || v.r == nil {
		return nil
	}
	pred, ok := AsIRI(t.Predicate)
	if !ok {
		return nil
	}
	if pred == rdf.RDFType {
		if obj, ok := AsIRI(t.Object); ok && !v.r.IsClass(obj) {
			return tern.NewError(tern.ErrUnknownClass, "unknown class %s", obj)
		}
		return nil
	}
	if isRDFVocab(pred) {
		return nil
	}
	if !v.r.IsProperty(pred) {
		return tern.NewError(tern.ErrUnknownProperty, "unknown property %s", pred)
	}
	return nil
}

func (v *validator) expr(e Expression, inService bool) error {
	switch x := e.(type) {
	case ExprExists:
		return v.pattern(x.Pattern, inService, false)
	case ExprBinary:
		if err := v.expr(x.L, inService); err != nil {
			return err
		}
		return v.expr(x.R, inService)
	case ExprUnary:
		return v.expr(x.X, inService)
	case ExprCall:
		for _, a := range x.Args {
			if err := v.expr(a, inService); err != nil {
				return err
			}
		}
	case ExprIn:
		if err := v.expr(x.X, inService); err != nil {
			return err
		}
		for _, a := range x.List {
			if err := v.expr(a, inService); err != nil {
				return err
			}
		}
	}
	return nil
}

// isRDFVocab exempts the structural rdf: terms (list plumbing) from
// ontology property checks.
func isRDFVocab(iri rdf.IRI) bool {
	switch iri {
	case rdf.IRI(rdf.NSRDF + "first"), rdf.IRI(rdf.NSRDF + "rest"):
		return true
	}
	return false
}
