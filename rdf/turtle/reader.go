// Package turtle implements a streaming reader for the W3C Turtle 1.1
// and TriG 1.1 languages. TriG is Turtle plus GRAPH blocks, so one
// state machine serves both; the dialect is selected when the reader is
// constructed.
//
// The reader is pull-based: each call to Next returns one quad or one
// prefix declaration, in document order, buffering only the quads
// produced by the statement currently being parsed.
package turtle

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/tern-db/tern/rdf"
)

// Option configures a Reader.
type Option func(*Reader)

// WithTriG enables GRAPH blocks and `{ }` wrapping.
func WithTriG() Option {
	return func(r *Reader) { r.trig = true }
}

// WithBase sets the base IRI used to resolve relative IRIs.
func WithBase(base rdf.IRI) Option {
	return func(r *Reader) { r.base = string(base) }
}

// WithBlankNodePrefix namespaces parsed blank-node labels so quads from
// distinct documents never collide. The default scope is the reader.
func WithBlankNodePrefix(p string) Option {
	return func(r *Reader) { r.bnodePrefix = p }
}

// Reader is a streaming Turtle/TriG parser. Not safe for concurrent use.
type Reader struct {
	src  *bufio.Reader
	line int
	col  int
	// pending is a pushback stack: readRune pops from the end before
	// touching src. peekRune parks the next rune here.
	pending []rune

	trig        bool
	base        string
	bnodePrefix string
	bnodeSeq    int

	prefixes map[string]rdf.IRI
	graph    rdf.IRI // current GRAPH block, TriG only
	inBlock  bool    // inside `{ }` (named or default)

	queue []rdf.Event
	err   error
}

// NewReader returns a reader over src.
func NewReader(src io.Reader, opts ...Option) *Reader {
	r := &Reader{
		src:      bufio.NewReader(src),
		line:     1,
		prefixes: make(map[string]rdf.IRI),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Next returns the next event. io.EOF ends the stream; syntax errors are
// *rdf.ParseError and are sticky.
func (r *Reader) Next() (rdf.Event, error) {
	if r.err != nil {
		return nil, r.err
	}
	for len(r.queue) == 0 {
		if err := r.parseStatement(); err != nil {
			r.err = err
			return nil, err
		}
	}
	ev := r.queue[0]
	r.queue = r.queue[1:]
	return ev, nil
}

// Close puts the reader in a terminal state. The underlying stream is
// not closed; the caller owns it.
func (r *Reader) Close() error {
	r.err = io.EOF
	return nil
}

func (r *Reader) emit(ev rdf.Event) {
	r.queue = append(r.queue, ev)
}

func (r *Reader) errorf(format string, args ...any) error {
	return &rdf.ParseError{Line: r.line, Col: r.col, Msg: fmt.Sprintf(format, args...)}
}

func (r *Reader) eofErr(err error) error {
	if err == io.EOF {
		return r.errorf("unexpected end of input")
	}
	return err
}

// --- low-level scanning ---

func (r *Reader) readRune() (rune, error) {
	if n := len(r.pending); n > 0 {
		c := r.pending[n-1]
		r.pending = r.pending[:n-1]
		r.advancePos(c)
		return c, nil
	}
	c, _, err := r.src.ReadRune()
	if err != nil {
		return 0, err
	}
	r.advancePos(c)
	return c, nil
}

// unread pushes c back so the next readRune returns it again.
func (r *Reader) unread(c rune) {
	r.pending = append(r.pending, c)
	if r.col > 0 {
		r.col--
	}
}

func (r *Reader) advancePos(c rune) {
	if c == '\n' {
		r.line++
		r.col = 0
	} else {
		r.col++
	}
}

func (r *Reader) peekRune() (rune, error) {
	if n := len(r.pending); n > 0 {
		return r.pending[n-1], nil
	}
	c, _, err := r.src.ReadRune()
	if err != nil {
		return 0, err
	}
	r.pending = append(r.pending, c)
	return c, nil
}

// skipWS consumes whitespace and comments.
func (r *Reader) skipWS() error {
	for {
		c, err := r.peekRune()
		if err != nil {
			return err
		}
		switch {
		case c == '#':
			for {
				c, err = r.readRune()
				if err != nil {
					return err
				}
				if c == '\n' {
					break
				}
			}
		case unicode.IsSpace(c):
			if _, err := r.readRune(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (r *Reader) expect(c rune) error {
	got, err := r.readRune()
	if err != nil {
		return r.eofErr(err)
	}
	if got != c {
		return r.errorf("expected %q, got %q", c, got)
	}
	return nil
}

// readWord consumes a run of name characters (letters, digits, '-', '_')
// and returns it. May return the empty string.
func (r *Reader) readWord() (string, error) {
	var b strings.Builder
	for {
		c, err := r.peekRune()
		if err != nil {
			if err == io.EOF {
				return b.String(), nil
			}
			return "", err
		}
		if !isPNChars(c) {
			return b.String(), nil
		}
		r.readRune()
		b.WriteRune(c)
	}
}

// --- statements ---

func (r *Reader) parseStatement() error {
	if err := r.skipWS(); err != nil {
		if err == io.EOF && r.inBlock {
			return r.errorf("unterminated graph block")
		}
		return err
	}
	c, err := r.peekRune()
	if err != nil {
		return err
	}

	if r.trig {
		switch c {
		case '}':
			if !r.inBlock {
				return r.errorf("unexpected %q", c)
			}
			r.readRune()
			r.graph = ""
			r.inBlock = false
			return nil
		case '{':
			if r.inBlock {
				return r.errorf("nested graph block")
			}
			r.readRune()
			r.inBlock = true
			return nil
		}
	}

	if c == '@' {
		return r.parseAtDirective()
	}

	// A bare word here is PREFIX, BASE, GRAPH, the predicate keyword
	// cannot appear, so anything else is a prefixed-name subject.
	if isPNCharsBase(c) {
		word, err := r.readWord()
		if err != nil {
			return err
		}
		switch {
		case strings.EqualFold(word, "prefix"):
			if d, _ := r.peekRune(); d != ':' {
				return r.parsePrefix(false)
			}
		case strings.EqualFold(word, "base"):
			if d, _ := r.peekRune(); d != ':' {
				return r.parseBase(false)
			}
		case r.trig && strings.EqualFold(word, "graph"):
			if d, _ := r.peekRune(); d != ':' {
				return r.parseGraphBlock()
			}
		}
		subj, err := r.finishPrefixedName(word)
		if err != nil {
			return err
		}
		return r.parseLabeledOrTriples(subj)
	}

	subj, err := r.parseSubject()
	if err != nil {
		return err
	}
	return r.parseLabeledOrTriples(subj)
}

// parseLabeledOrTriples handles the TriG form `<g> { … }`: a graph label
// directly followed by a block. Anything else is an ordinary subject.
func (r *Reader) parseLabeledOrTriples(subj rdf.Term) error {
	if r.trig && !r.inBlock {
		if err := r.skipWS(); err != nil {
			return r.eofErr(err)
		}
		c, err := r.peekRune()
		if err != nil {
			return r.eofErr(err)
		}
		if c == '{' {
			g, ok := subj.(rdf.IRI)
			if !ok {
				return r.errorf("graph label must be an IRI")
			}
			r.readRune()
			r.graph = g
			r.inBlock = true
			return nil
		}
	}
	return r.parseTriplesFrom(subj)
}

func (r *Reader) parseAtDirective() error {
	r.readRune() // '@'
	word, err := r.readWord()
	if err != nil {
		return err
	}
	switch word {
	case "prefix":
		return r.parsePrefix(true)
	case "base":
		return r.parseBase(true)
	default:
		return r.errorf("unknown directive @%s", word)
	}
}

func (r *Reader) parsePrefix(atForm bool) error {
	if err := r.skipWS(); err != nil {
		return r.eofErr(err)
	}
	pfx, err := r.readWord()
	if err != nil {
		return err
	}
	if err := r.expect(':'); err != nil {
		return err
	}
	if err := r.skipWS(); err != nil {
		return r.eofErr(err)
	}
	iri, err := r.parseIRIRef()
	if err != nil {
		return err
	}
	if atForm {
		if err := r.skipWS(); err != nil {
			return r.eofErr(err)
		}
		if err := r.expect('.'); err != nil {
			return err
		}
	}
	r.prefixes[pfx] = iri
	r.emit(rdf.PrefixDecl{Prefix: pfx, IRI: iri})
	return nil
}

func (r *Reader) parseBase(atForm bool) error {
	if err := r.skipWS(); err != nil {
		return r.eofErr(err)
	}
	iri, err := r.parseIRIRef()
	if err != nil {
		return err
	}
	if atForm {
		if err := r.skipWS(); err != nil {
			return r.eofErr(err)
		}
		if err := r.expect('.'); err != nil {
			return err
		}
	}
	r.base = string(iri)
	return nil
}

func (r *Reader) parseGraphBlock() error {
	if r.inBlock {
		return r.errorf("nested graph block")
	}
	if err := r.skipWS(); err != nil {
		return r.eofErr(err)
	}
	var g rdf.IRI
	c, err := r.peekRune()
	if err != nil {
		return r.eofErr(err)
	}
	if c == '<' {
		g, err = r.parseIRIRef()
	} else {
		word, werr := r.readWord()
		if werr != nil {
			return werr
		}
		g, err = r.finishPrefixedName(word)
	}
	if err != nil {
		return err
	}
	if err := r.skipWS(); err != nil {
		return r.eofErr(err)
	}
	if err := r.expect('{'); err != nil {
		return err
	}
	r.graph = g
	r.inBlock = true
	return nil
}

// parseTriplesFrom parses `predicateObjectList .` for an already-parsed
// subject and queues the resulting quads.
func (r *Reader) parseTriplesFrom(subj rdf.Term) error {
	if err := r.parsePredicateObjectList(subj); err != nil {
		return err
	}
	if err := r.skipWS(); err != nil {
		return r.eofErr(err)
	}
	c, err := r.peekRune()
	if err != nil {
		return r.eofErr(err)
	}
	if c == '.' {
		r.readRune()
		return nil
	}
	if r.trig && c == '}' {
		// The final triples of a block may omit the dot.
		return nil
	}
	return r.errorf("expected '.' after triples, got %q", c)
}

func (r *Reader) parseSubject() (rdf.Term, error) {
	c, err := r.peekRune()
	if err != nil {
		return nil, r.eofErr(err)
	}
	switch c {
	case '<':
		return r.parseIRITerm()
	case '_':
		return r.parseBlankNodeLabel()
	case '[':
		return r.parseBlankNodePropertyList()
	case '(':
		return r.parseCollection()
	default:
		word, err := r.readWord()
		if err != nil {
			return nil, err
		}
		return r.finishPrefixedName(word)
	}
}

func (r *Reader) parsePredicateObjectList(subj rdf.Term) error {
	for {
		if err := r.skipWS(); err != nil {
			return r.eofErr(err)
		}
		pred, err := r.parsePredicate()
		if err != nil {
			return err
		}
		if err := r.parseObjectList(subj, pred); err != nil {
			return err
		}
		if err := r.skipWS(); err != nil {
			return r.eofErr(err)
		}
		c, err := r.peekRune()
		if err != nil {
			return r.eofErr(err)
		}
		if c != ';' {
			return nil
		}
		r.readRune()
		// A trailing semicolon before '.', ']' or '}' is legal.
		if err := r.skipWS(); err != nil {
			return r.eofErr(err)
		}
		c, err = r.peekRune()
		if err != nil {
			return r.eofErr(err)
		}
		if c == '.' || c == ']' || c == '}' {
			return nil
		}
	}
}

func (r *Reader) parsePredicate() (rdf.IRI, error) {
	c, err := r.peekRune()
	if err != nil {
		return "", r.eofErr(err)
	}
	if c == '<' {
		return r.parseIRITerm()
	}
	word, err := r.readWord()
	if err != nil {
		return "", err
	}
	if word == "a" {
		if d, _ := r.peekRune(); d != ':' {
			return rdf.RDFType, nil
		}
	}
	return r.finishPrefixedName(word)
}

func (r *Reader) parseObjectList(subj rdf.Term, pred rdf.IRI) error {
	for {
		if err := r.skipWS(); err != nil {
			return r.eofErr(err)
		}
		obj, err := r.parseObject()
		if err != nil {
			return err
		}
		r.emit(rdf.Quad{Graph: r.graph, Subject: subj, Predicate: pred, Object: obj})
		if err := r.skipWS(); err != nil {
			return r.eofErr(err)
		}
		c, err := r.peekRune()
		if err != nil {
			return r.eofErr(err)
		}
		if c != ',' {
			return nil
		}
		r.readRune()
	}
}

func (r *Reader) parseObject() (rdf.Term, error) {
	c, err := r.peekRune()
	if err != nil {
		return nil, r.eofErr(err)
	}
	switch {
	case c == '<':
		return r.parseIRITerm()
	case c == '_':
		return r.parseBlankNodeLabel()
	case c == '[':
		return r.parseBlankNodePropertyList()
	case c == '(':
		return r.parseCollection()
	case c == '"' || c == '\'':
		return r.parseStringLiteral()
	case c == '+' || c == '-' || unicode.IsDigit(c):
		return r.parseNumericLiteral()
	default:
		word, err := r.readWord()
		if err != nil {
			return nil, err
		}
		if word == "true" || word == "false" {
			if d, _ := r.peekRune(); d != ':' {
				return rdf.NewBooleanLiteral(word == "true"), nil
			}
		}
		if word == "" {
			return nil, r.errorf("expected object, got %q", c)
		}
		return r.finishPrefixedName(word)
	}
}

// --- terms ---

// parseIRITerm parses an IRIREF and resolves it against the base.
func (r *Reader) parseIRITerm() (rdf.IRI, error) {
	return r.parseIRIRef()
}

func (r *Reader) parseIRIRef() (rdf.IRI, error) {
	if err := r.expect('<'); err != nil {
		return "", err
	}
	var b strings.Builder
	for {
		c, err := r.readRune()
		if err != nil {
			return "", r.eofErr(err)
		}
		switch c {
		case '>':
			return r.resolve(b.String())
		case '\\':
			esc, err := r.readRune()
			if err != nil {
				return "", r.eofErr(err)
			}
			switch esc {
			case 'u', 'U':
				n := 4
				if esc == 'U' {
					n = 8
				}
				var v rune
				for i := 0; i < n; i++ {
					h, err := r.readRune()
					if err != nil {
						return "", r.eofErr(err)
					}
					d, ok := hexVal(h)
					if !ok {
						return "", r.errorf("invalid hex digit %q in IRI escape", h)
					}
					v = v<<4 | rune(d)
				}
				b.WriteRune(v)
			default:
				return "", r.errorf("invalid IRI escape \\%c", esc)
			}
		case '<', '"', '{', '}', '|', '^', '`':
			return "", r.errorf("character %q must be escaped in IRI", c)
		default:
			if c <= 0x20 {
				return "", r.errorf("whitespace in IRI")
			}
			b.WriteRune(c)
		}
	}
}

func (r *Reader) resolve(iri string) (rdf.IRI, error) {
	if r.base == "" || strings.Contains(iri, "://") || strings.HasPrefix(iri, "urn:") || strings.HasPrefix(iri, "mailto:") {
		return rdf.IRI(iri), nil
	}
	base, err := url.Parse(r.base)
	if err != nil {
		return "", r.errorf("invalid base IRI %q", r.base)
	}
	ref, err := url.Parse(iri)
	if err != nil {
		return "", r.errorf("invalid relative IRI %q", iri)
	}
	return rdf.IRI(base.ResolveReference(ref).String()), nil
}

// finishPrefixedName completes a prefixed name whose leading word has
// already been consumed.
func (r *Reader) finishPrefixedName(word string) (rdf.IRI, error) {
	if err := r.expect(':'); err != nil {
		return "", err
	}
	local, err := r.readLocalName()
	if err != nil {
		return "", err
	}
	ns, ok := r.prefixes[word]
	if !ok {
		return "", r.errorf("undeclared prefix %q", word)
	}
	return ns + rdf.IRI(local), nil
}

func (r *Reader) parsePrefixedName() (rdf.IRI, error) {
	word, err := r.readWord()
	if err != nil {
		return "", err
	}
	return r.finishPrefixedName(word)
}

// readLocalName reads the local part of a prefixed name. Interior dots
// are allowed; a trailing dot terminates the name (it is the statement
// terminator).
func (r *Reader) readLocalName() (string, error) {
	var b strings.Builder
	for {
		c, err := r.peekRune()
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", err
		}
		if c == '.' {
			// Lookahead: a dot followed by a name char is interior.
			r.readRune()
			nxt, err := r.peekRune()
			if err != nil || !isPNChars(nxt) {
				// Statement terminator, not part of the name.
				r.unread('.')
				break
			}
			b.WriteByte('.')
			continue
		}
		if c == '\\' {
			r.readRune()
			esc, err := r.readRune()
			if err != nil {
				return "", r.eofErr(err)
			}
			// PN_LOCAL_ESC passes the character through.
			b.WriteRune(esc)
			continue
		}
		if c == '%' {
			r.readRune()
			h1, err := r.readRune()
			if err != nil {
				return "", r.eofErr(err)
			}
			h2, err := r.readRune()
			if err != nil {
				return "", r.eofErr(err)
			}
			b.WriteByte('%')
			b.WriteRune(h1)
			b.WriteRune(h2)
			continue
		}
		if !isPNChars(c) {
			break
		}
		r.readRune()
		b.WriteRune(c)
	}
	return b.String(), nil
}

func (r *Reader) parseBlankNodeLabel() (rdf.Term, error) {
	if err := r.expect('_'); err != nil {
		return nil, err
	}
	if err := r.expect(':'); err != nil {
		return nil, err
	}
	label, err := r.readLocalName()
	if err != nil {
		return nil, err
	}
	if label == "" {
		return nil, r.errorf("empty blank node label")
	}
	return rdf.BlankNode(r.bnodePrefix + label), nil
}

func (r *Reader) freshBlankNode() rdf.BlankNode {
	r.bnodeSeq++
	return rdf.BlankNode(fmt.Sprintf("%sgenid%d", r.bnodePrefix, r.bnodeSeq))
}

func (r *Reader) parseBlankNodePropertyList() (rdf.Term, error) {
	if err := r.expect('['); err != nil {
		return nil, err
	}
	node := r.freshBlankNode()
	if err := r.skipWS(); err != nil {
		return nil, r.eofErr(err)
	}
	c, err := r.peekRune()
	if err != nil {
		return nil, r.eofErr(err)
	}
	if c == ']' {
		r.readRune()
		return node, nil
	}
	if err := r.parsePredicateObjectList(node); err != nil {
		return nil, err
	}
	if err := r.skipWS(); err != nil {
		return nil, r.eofErr(err)
	}
	if err := r.expect(']'); err != nil {
		return nil, err
	}
	return node, nil
}

// parseCollection parses `( o1 o2 … )` into an rdf:first/rdf:rest chain
// and returns the list head (rdf:nil for the empty collection).
func (r *Reader) parseCollection() (rdf.Term, error) {
	if err := r.expect('('); err != nil {
		return nil, err
	}
	rdfFirst := rdf.IRI(rdf.NSRDF + "first")
	rdfRest := rdf.IRI(rdf.NSRDF + "rest")
	rdfNil := rdf.IRI(rdf.NSRDF + "nil")

	var head rdf.Term
	var prev rdf.BlankNode
	for {
		if err := r.skipWS(); err != nil {
			return nil, r.eofErr(err)
		}
		c, err := r.peekRune()
		if err != nil {
			return nil, r.eofErr(err)
		}
		if c == ')' {
			r.readRune()
			if head == nil {
				return rdfNil, nil
			}
			r.emit(rdf.Quad{Graph: r.graph, Subject: prev, Predicate: rdfRest, Object: rdfNil})
			return head, nil
		}
		obj, err := r.parseObject()
		if err != nil {
			return nil, err
		}
		node := r.freshBlankNode()
		if head == nil {
			head = node
		} else {
			r.emit(rdf.Quad{Graph: r.graph, Subject: prev, Predicate: rdfRest, Object: node})
		}
		r.emit(rdf.Quad{Graph: r.graph, Subject: node, Predicate: rdfFirst, Object: obj})
		prev = node
	}
}

// --- literals ---

func (r *Reader) parseStringLiteral() (rdf.Term, error) {
	quote, err := r.readRune()
	if err != nil {
		return nil, r.eofErr(err)
	}
	long := false
	// Detect long-string openers ("""…""" / '''…''').
	if c, _ := r.peekRune(); c == quote {
		r.readRune()
		if c2, _ := r.peekRune(); c2 == quote {
			r.readRune()
			long = true
		} else {
			// Empty short string.
			return r.finishLiteral("")
		}
	}

	var b strings.Builder
	for {
		c, err := r.readRune()
		if err != nil {
			return nil, r.eofErr(err)
		}
		if c == quote {
			if !long {
				return r.finishLiteral(b.String())
			}
			// Long string: need three closing quotes.
			if c2, _ := r.peekRune(); c2 == quote {
				r.readRune()
				if c3, _ := r.peekRune(); c3 == quote {
					r.readRune()
					return r.finishLiteral(b.String())
				}
				b.WriteRune(quote)
				b.WriteRune(quote)
				continue
			}
			b.WriteRune(quote)
			continue
		}
		if c == '\\' {
			esc, err := r.readRune()
			if err != nil {
				return nil, r.eofErr(err)
			}
			s, err := r.decodeEscape(esc)
			if err != nil {
				return nil, err
			}
			b.WriteString(s)
			continue
		}
		if !long && c == '\n' {
			return nil, r.errorf("newline in string literal")
		}
		b.WriteRune(c)
	}
}

func (r *Reader) decodeEscape(esc rune) (string, error) {
	switch esc {
	case 't':
		return "\t", nil
	case 'n':
		return "\n", nil
	case 'r':
		return "\r", nil
	case 'b':
		return "\b", nil
	case 'f':
		return "\f", nil
	case '"':
		return `"`, nil
	case '\'':
		return "'", nil
	case '\\':
		return `\`, nil
	case 'u', 'U':
		n := 4
		if esc == 'U' {
			n = 8
		}
		var v rune
		for i := 0; i < n; i++ {
			h, err := r.readRune()
			if err != nil {
				return "", r.eofErr(err)
			}
			d, ok := hexVal(h)
			if !ok {
				return "", r.errorf("invalid hex digit %q", h)
			}
			v = v<<4 | rune(d)
		}
		return string(v), nil
	default:
		return "", r.errorf("unknown string escape \\%c", esc)
	}
}

// finishLiteral attaches an optional @lang or ^^datatype suffix.
func (r *Reader) finishLiteral(value string) (rdf.Term, error) {
	c, err := r.peekRune()
	if err != nil {
		if err == io.EOF {
			return rdf.NewStringLiteral(value), nil
		}
		return nil, err
	}
	switch c {
	case '@':
		r.readRune()
		var b strings.Builder
		for {
			c, err := r.peekRune()
			if err != nil || !(isAlphaNum(c) || c == '-') {
				break
			}
			r.readRune()
			b.WriteRune(c)
		}
		lit, err := rdf.NewLangLiteral(value, b.String())
		if err != nil {
			return nil, r.errorf("%v", err)
		}
		return lit, nil
	case '^':
		r.readRune()
		if err := r.expect('^'); err != nil {
			return nil, err
		}
		var dt rdf.IRI
		nc, err := r.peekRune()
		if err != nil {
			return nil, r.eofErr(err)
		}
		if nc == '<' {
			dt, err = r.parseIRIRef()
		} else {
			dt, err = r.parsePrefixedName()
		}
		if err != nil {
			return nil, err
		}
		return rdf.Literal{Value: value, Datatype: dt}, nil
	default:
		return rdf.NewStringLiteral(value), nil
	}
}

func (r *Reader) parseNumericLiteral() (rdf.Term, error) {
	var b strings.Builder
	c, err := r.readRune()
	if err != nil {
		return nil, r.eofErr(err)
	}
	b.WriteRune(c)
	isDecimal, isDouble := false, false
	for {
		c, err := r.peekRune()
		if err != nil {
			break
		}
		switch {
		case unicode.IsDigit(c):
			r.readRune()
			b.WriteRune(c)
		case c == '.':
			// Only part of the number when followed by a digit.
			r.readRune()
			nxt, err := r.peekRune()
			if err != nil || !unicode.IsDigit(nxt) {
				r.unread('.')
				goto done
			}
			isDecimal = true
			b.WriteByte('.')
		case c == 'e' || c == 'E':
			r.readRune()
			isDouble = true
			b.WriteRune(c)
			if s, _ := r.peekRune(); s == '+' || s == '-' {
				r.readRune()
				b.WriteRune(s)
			}
		default:
			goto done
		}
	}
done:
	text := b.String()
	switch {
	case isDouble:
		if _, err := strconv.ParseFloat(text, 64); err != nil {
			return nil, r.errorf("invalid double %q", text)
		}
		return rdf.Literal{Value: text, Datatype: rdf.XSDDouble}, nil
	case isDecimal:
		return rdf.Literal{Value: text, Datatype: rdf.XSDDecimal}, nil
	default:
		if _, err := strconv.ParseInt(text, 10, 64); err != nil {
			return nil, r.errorf("invalid integer %q", text)
		}
		return rdf.Literal{Value: text, Datatype: rdf.XSDInteger}, nil
	}
}

// --- character classes ---

func isPNCharsBase(c rune) bool {
	return unicode.IsLetter(c) || c >= 0xC0
}

func isPNChars(c rune) bool {
	return isPNCharsBase(c) || unicode.IsDigit(c) || c == '-' || c == '_'
}

func isAlphaNum(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func hexVal(c rune) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return byte(c - '0'), true
	case c >= 'a' && c <= 'f':
		return byte(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return byte(c-'A') + 10, true
	}
	return 0, false
}
