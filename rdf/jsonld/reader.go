// Package jsonld implements a JSON-LD 1.0 reader producing quad events.
//
// The reader performs expansion of the common subset: @context term and
// prefix definitions, @id, @type, @graph, @value/@language/@type and
// @list. Unlike the Turtle reader the whole document is decoded up
// front — @context can appear anywhere in an object, so JSON-LD cannot
// be expanded from a byte stream — but quads are still handed out one
// at a time through the shared Reader contract.
package jsonld

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/tern-db/tern/rdf"
)

// Option configures a Reader.
type Option func(*Reader)

// WithBlankNodePrefix namespaces blank-node labels from this document.
func WithBlankNodePrefix(p string) Option {
	return func(r *Reader) { r.bnodePrefix = p }
}

// Reader produces quads from a JSON-LD document.
type Reader struct {
	bnodePrefix string
	bnodeSeq    int
	ctx         map[string]string // term or prefix → IRI
	queue       []rdf.Event
	pos         int
	err         error
}

// NewReader decodes src and prepares the event stream. Decode errors are
// reported from the first Next call so construction never fails.
func NewReader(src io.Reader, opts ...Option) *Reader {
	r := &Reader{ctx: make(map[string]string)}
	for _, o := range opts {
		o(r)
	}
	dec := json.NewDecoder(src)
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		r.err = &rdf.ParseError{Line: 1, Col: 1, Msg: fmt.Sprintf("invalid JSON: %v", err)}
		return r
	}
	if err := r.expandTop(doc); err != nil {
		r.err = err
		r.queue = nil
	}
	return r
}

// Next returns the next event, or io.EOF when exhausted.
func (r *Reader) Next() (rdf.Event, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.pos >= len(r.queue) {
		return nil, io.EOF
	}
	ev := r.queue[r.pos]
	r.pos++
	return ev, nil
}

// Close puts the reader in a terminal state.
func (r *Reader) Close() error {
	r.err = io.EOF
	return nil
}

func (r *Reader) emit(q rdf.Quad) {
	r.queue = append(r.queue, q)
}

func errf(format string, args ...any) error {
	return &rdf.ParseError{Line: 1, Col: 1, Msg: fmt.Sprintf(format, args...)}
}

func (r *Reader) expandTop(doc any) error {
	switch d := doc.(type) {
	case []any:
		for _, n := range d {
			obj, ok := n.(map[string]any)
			if !ok {
				return errf("top-level array must contain objects")
			}
			if _, err := r.expandNode(obj, ""); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		_, err := r.expandNode(d, "")
		return err
	default:
		return errf("document must be an object or array")
	}
}

// loadContext merges an @context value into the active term map.
func (r *Reader) loadContext(v any) error {
	switch ctx := v.(type) {
	case map[string]any:
		for term, def := range ctx {
			switch d := def.(type) {
			case string:
				r.ctx[term] = d
			case map[string]any:
				id, _ := d["@id"].(string)
				if id == "" {
					return errf("@context term %q has no @id", term)
				}
				r.ctx[term] = id
			default:
				return errf("unsupported @context entry for %q", term)
			}
		}
		return nil
	case []any:
		for _, c := range ctx {
			if err := r.loadContext(c); err != nil {
				return err
			}
		}
		return nil
	default:
		return errf("unsupported @context form %T", v)
	}
}

// expandIRI resolves a term, compact IRI or absolute IRI.
func (r *Reader) expandIRI(s string) rdf.IRI {
	if iri, ok := r.ctx[s]; ok {
		return rdf.IRI(iri)
	}
	if i := strings.IndexByte(s, ':'); i > 0 {
		if ns, ok := r.ctx[s[:i]]; ok {
			return rdf.IRI(ns + s[i+1:])
		}
	}
	return rdf.IRI(s)
}

func (r *Reader) freshBlankNode() rdf.BlankNode {
	r.bnodeSeq++
	return rdf.BlankNode(fmt.Sprintf("%sgenid%d", r.bnodePrefix, r.bnodeSeq))
}

// expandNode emits the quads of one node object and returns the node's
// subject term.
func (r *Reader) expandNode(obj map[string]any, graph rdf.IRI) (rdf.Term, error) {
	if ctx, ok := obj["@context"]; ok {
		if err := r.loadContext(ctx); err != nil {
			return nil, err
		}
	}

	var subj rdf.Term
	if id, ok := obj["@id"].(string); ok {
		if strings.HasPrefix(id, "_:") {
			subj = rdf.BlankNode(r.bnodePrefix + id[2:])
		} else {
			subj = r.expandIRI(id)
		}
	} else {
		subj = r.freshBlankNode()
	}

	if types, ok := obj["@type"]; ok {
		for _, tv := range asSlice(types) {
			ts, ok := tv.(string)
			if !ok {
				return nil, errf("@type must be a string")
			}
			r.emit(rdf.Quad{Graph: graph, Subject: subj, Predicate: rdf.RDFType, Object: r.expandIRI(ts)})
		}
	}

	if g, ok := obj["@graph"]; ok {
		// A node with @id and @graph names a graph; the top-level
		// @graph keeps the current one.
		inner := graph
		if _, hasID := obj["@id"]; hasID {
			iri, ok := subj.(rdf.IRI)
			if !ok {
				return nil, errf("graph name must be an IRI")
			}
			inner = iri
		}
		for _, n := range asSlice(g) {
			nodeObj, ok := n.(map[string]any)
			if !ok {
				return nil, errf("@graph must contain node objects")
			}
			if _, err := r.expandNode(nodeObj, inner); err != nil {
				return nil, err
			}
		}
	}

	// Sorted keys for deterministic emission order.
	keys := make([]string, 0, len(obj))
	for key := range obj {
		if !strings.HasPrefix(key, "@") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		val := obj[key]
		pred := r.expandIRI(key)
		for _, v := range asSlice(val) {
			objTerm, err := r.expandValue(v, graph)
			if err != nil {
				return nil, err
			}
			r.emit(rdf.Quad{Graph: graph, Subject: subj, Predicate: pred, Object: objTerm})
		}
	}
	return subj, nil
}

// expandValue converts one property value into a term, emitting the
// quads of nested nodes and lists as a side effect.
func (r *Reader) expandValue(v any, graph rdf.IRI) (rdf.Term, error) {
	switch val := v.(type) {
	case string:
		return rdf.NewStringLiteral(val), nil
	case bool:
		return rdf.NewBooleanLiteral(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return rdf.NewIntegerLiteral(i), nil
		}
		f, err := val.Float64()
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, errf("invalid number %q", val.String())
		}
		return rdf.Literal{Value: val.String(), Datatype: rdf.XSDDouble}, nil
	case map[string]any:
		if lv, ok := val["@value"]; ok {
			return r.expandValueObject(val, lv)
		}
		if list, ok := val["@list"]; ok {
			return r.expandList(asSlice(list), graph)
		}
		if id, ok := val["@id"]; ok && len(val) == 1 {
			ids, ok := id.(string)
			if !ok {
				return nil, errf("@id must be a string")
			}
			if strings.HasPrefix(ids, "_:") {
				return rdf.BlankNode(r.bnodePrefix + ids[2:]), nil
			}
			return r.expandIRI(ids), nil
		}
		return r.expandNode(val, graph)
	default:
		return nil, errf("unsupported value %T", v)
	}
}

func (r *Reader) expandValueObject(obj map[string]any, lv any) (rdf.Term, error) {
	var value string
	switch v := lv.(type) {
	case string:
		value = v
	case bool:
		return rdf.NewBooleanLiteral(v), nil
	case json.Number:
		if dt, ok := obj["@type"].(string); ok {
			return rdf.Literal{Value: v.String(), Datatype: r.expandIRI(dt)}, nil
		}
		if i, err := v.Int64(); err == nil {
			return rdf.NewIntegerLiteral(i), nil
		}
		return rdf.Literal{Value: v.String(), Datatype: rdf.XSDDouble}, nil
	default:
		return nil, errf("unsupported @value %T", lv)
	}
	if lang, ok := obj["@language"].(string); ok {
		lit, err := rdf.NewLangLiteral(value, lang)
		if err != nil {
			return nil, errf("%v", err)
		}
		return lit, nil
	}
	if dt, ok := obj["@type"].(string); ok {
		return rdf.Literal{Value: value, Datatype: r.expandIRI(dt)}, nil
	}
	return rdf.NewStringLiteral(value), nil
}

func (r *Reader) expandList(items []any, graph rdf.IRI) (rdf.Term, error) {
	rdfFirst := rdf.IRI(rdf.NSRDF + "first")
	rdfRest := rdf.IRI(rdf.NSRDF + "rest")
	rdfNil := rdf.IRI(rdf.NSRDF + "nil")
	if len(items) == 0 {
		return rdfNil, nil
	}
	var head rdf.Term
	var prev rdf.BlankNode
	for _, item := range items {
		obj, err := r.expandValue(item, graph)
		if err != nil {
			return nil, err
		}
		node := r.freshBlankNode()
		if head == nil {
			head = node
		} else {
			r.emit(rdf.Quad{Graph: graph, Subject: prev, Predicate: rdfRest, Object: node})
		}
		r.emit(rdf.Quad{Graph: graph, Subject: node, Predicate: rdfFirst, Object: obj})
		prev = node
	}
	r.emit(rdf.Quad{Graph: graph, Subject: prev, Predicate: rdfRest, Object: rdfNil})
	return head, nil
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return []any{v}
}
