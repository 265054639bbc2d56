// Package rdf defines the RDF term and quad model shared by the parsers,
// the ontology loader, the query compiler and the serializers.
//
// Terms form a sealed interface: only IRI, BlankNode and Literal implement
// it. Code that switches over Term can therefore be exhaustive.
package rdf

import (
	"fmt"
	"strconv"
	"time"

	"golang.org/x/text/language"
)

// Term is a sealed interface over the three RDF term kinds.
type Term interface {
	term()
	// String returns the N-Triples-ish rendering of the term, used in
	// error messages and debug output. It is not a serialization format.
	String() string
}

// IRI is an interned RDF IRI. The zero value is invalid.
type IRI string

func (IRI) term() {}

func (i IRI) String() string { return "<" + string(i) + ">" }

// BlankNode is a blank node identified by its label (without the "_:"
// prefix). Identity is scoped by the producer: one parsed document, or
// one update request in anonymous mode.
type BlankNode string

func (BlankNode) term() {}

func (b BlankNode) String() string { return "_:" + string(b) }

// Literal is an RDF literal: a lexical value plus a datatype IRI and,
// for rdf:langString, a BCP-47 language tag.
type Literal struct {
	Value    string
	Datatype IRI
	Language string
}

func (Literal) term() {}

func (l Literal) String() string {
	switch {
	case l.Language != "":
		return strconv.Quote(l.Value) + "@" + l.Language
	case l.Datatype != "" && l.Datatype != XSDString:
		return strconv.Quote(l.Value) + "^^" + IRI(l.Datatype).String()
	default:
		return strconv.Quote(l.Value)
	}
}

// NewStringLiteral returns an xsd:string literal.
func NewStringLiteral(s string) Literal {
	return Literal{Value: s, Datatype: XSDString}
}

// NewLangLiteral returns an rdf:langString literal. The tag must be a
// well-formed BCP-47 language tag.
func NewLangLiteral(s, tag string) (Literal, error) {
	if _, err := language.Parse(tag); err != nil {
		return Literal{}, fmt.Errorf("invalid language tag %q: %w", tag, err)
	}
	return Literal{Value: s, Datatype: RDFLangString, Language: tag}, nil
}

// NewIntegerLiteral returns an xsd:integer literal.
func NewIntegerLiteral(v int64) Literal {
	return Literal{Value: strconv.FormatInt(v, 10), Datatype: XSDInteger}
}

// NewDoubleLiteral returns an xsd:double literal.
func NewDoubleLiteral(v float64) Literal {
	return Literal{Value: strconv.FormatFloat(v, 'g', -1, 64), Datatype: XSDDouble}
}

// NewBooleanLiteral returns an xsd:boolean literal.
func NewBooleanLiteral(v bool) Literal {
	return Literal{Value: strconv.FormatBool(v), Datatype: XSDBoolean}
}

// NewDateTimeLiteral returns an xsd:dateTime literal in RFC 3339 form.
func NewDateTimeLiteral(t time.Time) Literal {
	return Literal{Value: t.Format(time.RFC3339), Datatype: XSDDateTime}
}

// Quad is the unit of insertion and deletion. Graph is empty for the
// default graph. Subject is an IRI or BlankNode; Object is any term.
type Quad struct {
	Graph     IRI
	Subject   Term
	Predicate IRI
	Object    Term
}

func (q Quad) String() string {
	s := fmt.Sprintf("%s %s %s", q.Subject, q.Predicate.String(), q.Object)
	if q.Graph != "" {
		return s + " " + q.Graph.String()
	}
	return s
}

// Event is one unit produced by a streaming RDF reader: either a Quad or
// a PrefixDecl. The stream ends with io.EOF from Next.
type Event interface {
	event()
}

func (Quad) event() {}

// PrefixDecl is a prefix declaration seen while reading a document.
type PrefixDecl struct {
	Prefix string
	IRI    IRI
}

func (PrefixDecl) event() {}

// Reader is the shared streaming-parser contract. Implementations are
// not safe for concurrent use.
type Reader interface {
	// Next returns the next event, or io.EOF when the document is
	// exhausted. Syntax errors are returned as *ParseError.
	Next() (Event, error)
	Close() error
}

// ParseError is a positional syntax error from an RDF reader.
type ParseError struct {
	Line int
	Col  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Col, e.Msg)
}
