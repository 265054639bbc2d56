// Package serialize encodes result sets (SPARQL JSON, XML, TSV) and
// graphs (Turtle, TriG, JSON-LD), and decodes external graph data and
// result documents back into cursors.
//
// Graph serializers consume cursors in the quad-view convention used
// by DESCRIBE and CONSTRUCT: columns s, p, o, k (object kind), l
// (language), g (graph). All serializers are streaming io.Readers;
// callers pull bytes as slowly as they like and the cursor advances on
// demand.
package serialize

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/rdf"
)

// objectKind mirrors the compiler's column kinds for the quad-view k
// column. Only the values below appear in quad views.
const (
	objDynamic = 0
	objResource = 1
	objString   = 2
	objInteger  = 3
	objDouble   = 4
	objBoolean  = 5
	objDateTime = 6
)

// quad is one decoded quad-view row.
type quad struct {
	graph   string
	subject string
	pred    string
	object  string
	kind    int64
	lang    string
}

func readQuad(cur tern.Cursor) quad {
	s, _ := cur.GetString(0)
	p, _ := cur.GetString(1)
	o, _ := cur.GetString(2)
	k := cur.GetInteger(3)
	l, _ := cur.GetString(4)
	g, _ := cur.GetString(5)
	return quad{graph: g, subject: s, pred: p, object: o, kind: k, lang: l}
}

// quadWriter is one output format's state machine.
type quadWriter interface {
	begin(buf *bytes.Buffer)
	write(q quad, buf *bytes.Buffer)
	end(buf *bytes.Buffer)
}

// graphReader adapts a quad cursor plus a quadWriter into a streaming
// io.ReadCloser.
type graphReader struct {
	ctx      context.Context
	cur      tern.Cursor
	w        quadWriter
	buf      bytes.Buffer
	started  bool
	finished bool
	err      error
}

// NewGraphReader streams the cursor's quads in the given format.
// The namespaces drive prefix compression.
func NewGraphReader(ctx context.Context, cur tern.Cursor, format tern.RDFFormat, ns *rdf.Namespaces) (io.ReadCloser, error) {
	var w quadWriter
	switch format {
	case tern.FormatTurtle:
		w = &turtleWriter{ns: ns, trig: false}
	case tern.FormatTriG:
		w = &turtleWriter{ns: ns, trig: true}
	case tern.FormatJSONLD:
		w = &jsonldWriter{ns: ns}
	default:
		return nil, tern.NewError(tern.ErrUnsupported, "unsupported graph format %v", format)
	}
	return &graphReader{ctx: ctx, cur: cur, w: w}, nil
}

func (r *graphReader) Read(p []byte) (int, error) {
	for r.buf.Len() == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.finished {
			return 0, io.EOF
		}
		if !r.started {
			r.started = true
			r.w.begin(&r.buf)
			continue
		}
		if r.cur.Next(r.ctx) {
			r.w.write(readQuad(r.cur), &r.buf)
			continue
		}
		if err := r.cur.Err(); err != nil {
			r.err = err
			return 0, err
		}
		r.w.end(&r.buf)
		r.finished = true
	}
	return r.buf.Read(p)
}

func (r *graphReader) Close() error {
	r.finished = true
	return r.cur.Close()
}

// --- Turtle / TriG ---

// turtleWriter is the shared Turtle/TriG break machine. It tracks the
// last (graph, subject, predicate) and emits the smallest separator
// that accounts for what changed.
type turtleWriter struct {
	ns   *rdf.Namespaces
	trig bool

	haveQuad bool
	lastG    string
	lastS    string
	lastP    string
	inGraph  bool
}

func (w *turtleWriter) begin(buf *bytes.Buffer) {
	for _, d := range w.ns.All() {
		fmt.Fprintf(buf, "@prefix %s: <%s> .\n", d.Prefix, string(d.IRI))
	}
	buf.WriteByte('\n')
}

func (w *turtleWriter) write(q quad, buf *bytes.Buffer) {
	breakGraph := w.trig && (!w.haveQuad || q.graph != w.lastG)
	breakSubject := breakGraph || !w.haveQuad || q.subject != w.lastS
	breakPred := breakSubject || q.pred != w.lastP

	if breakGraph {
		if w.inGraph {
			buf.WriteString(" .\n}\n")
			w.inGraph = false
		} else if w.haveQuad {
			buf.WriteString(" .\n")
		}
		if q.graph != "" {
			fmt.Fprintf(buf, "GRAPH %s {\n", w.term(q.graph))
			w.inGraph = true
		}
	} else if breakSubject && w.haveQuad {
		buf.WriteString(" .\n")
	}

	switch {
	case breakSubject:
		fmt.Fprintf(buf, "%s %s %s", w.subjectTerm(q.subject), w.predTerm(q.pred), w.objectTerm(q))
	case breakPred:
		fmt.Fprintf(buf, " ;\n\t%s %s", w.predTerm(q.pred), w.objectTerm(q))
	default:
		fmt.Fprintf(buf, ", %s", w.objectTerm(q))
	}

	w.haveQuad = true
	w.lastG, w.lastS, w.lastP = q.graph, q.subject, q.pred
}

func (w *turtleWriter) end(buf *bytes.Buffer) {
	if w.haveQuad {
		buf.WriteString(" .\n")
	}
	if w.inGraph {
		buf.WriteString("}\n")
	}
}

// term renders an IRI or blank-node identifier.
func (w *turtleWriter) term(uri string) string {
	if label, ok := bnodeLabel(uri); ok {
		return "_:" + label
	}
	if pfx, ok := w.ns.Compress(rdf.IRI(uri)); ok {
		return pfx
	}
	return "<" + uri + ">"
}

func (w *turtleWriter) subjectTerm(uri string) string { return w.term(uri) }

func (w *turtleWriter) predTerm(uri string) string {
	if uri == string(rdf.RDFType) {
		return "a"
	}
	return w.term(uri)
}

func (w *turtleWriter) objectTerm(q quad) string {
	switch q.kind {
	case objResource:
		return w.term(q.object)
	case objInteger:
		return q.object
	case objBoolean:
		return boolLexical(q.object)
	case objDouble:
		if strings.ContainsAny(q.object, ".eE") {
			return q.object
		}
		return q.object + ".0"
	case objDateTime:
		return `"` + q.object + `"^^` + w.term(string(rdf.XSDDateTime))
	default:
		s := `"` + rdf.EscapeString(q.object) + `"`
		if q.lang != "" {
			return s + "@" + q.lang
		}
		return s
	}
}

// boolLexical maps stored 0/1 booleans to their lexical form.
func boolLexical(v string) string {
	switch v {
	case "1", "true":
		return "true"
	default:
		return "false"
	}
}

// bnodeLabel recognizes generated blank-node identifiers and returns a
// serializable label.
func bnodeLabel(uri string) (string, bool) {
	const p = "urn:bnode:"
	if !strings.HasPrefix(uri, p) {
		return "", false
	}
	label := uri[len(p):]
	// Labels must be valid Turtle names; generated ones may carry
	// separators from scoping prefixes.
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, label), true
}
