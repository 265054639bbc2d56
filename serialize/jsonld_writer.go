package serialize

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/tern-db/tern/rdf"
)

// jsonldWriter emits a JSON-LD document: a top-level array of default-
// graph node objects and named-graph objects, each node flushed as
// soon as its subject run ends (the quad view arrives ordered by graph
// then subject).
type jsonldWriter struct {
	ns *rdf.Namespaces

	haveNode bool
	curGraph string
	started  bool
	inGraph  bool
	curSubj  string
	node     map[string]any

	// topCount/graphCount drive comma placement; the output buffer is
	// drained by the reader, so separators cannot be inferred from it.
	topCount   int
	graphCount int
}

func (w *jsonldWriter) begin(buf *bytes.Buffer) {
	buf.WriteString("[")
}

func (w *jsonldWriter) write(q quad, buf *bytes.Buffer) {
	if !w.haveNode || q.graph != w.curGraph || q.subject != w.curSubj {
		w.flushNode(buf)
		if !w.started || q.graph != w.curGraph {
			w.switchGraph(q.graph, buf)
		}
		w.startNode(q.subject)
	}
	w.addValue(q)
	w.started = true
}

func (w *jsonldWriter) end(buf *bytes.Buffer) {
	w.flushNode(buf)
	if w.inGraph {
		buf.WriteString("]}")
	}
	buf.WriteString("]\n")
}

func (w *jsonldWriter) switchGraph(graph string, buf *bytes.Buffer) {
	if w.inGraph {
		buf.WriteString("]}")
		w.inGraph = false
	}
	if graph != "" {
		if w.topCount > 0 {
			buf.WriteString(",")
		}
		id, _ := json.Marshal(graph)
		buf.WriteString(`{"@id":` + string(id) + `,"@graph":[`)
		w.inGraph = true
		w.topCount++
		w.graphCount = 0
	}
	w.curGraph = graph
}

func (w *jsonldWriter) startNode(subject string) {
	id := subject
	if label, ok := bnodeLabel(subject); ok {
		id = "_:" + label
	}
	w.node = map[string]any{"@id": id}
	w.curSubj = subject
	w.haveNode = true
}

func (w *jsonldWriter) addValue(q quad) {
	if q.pred == string(rdf.RDFType) {
		w.appendTo("@type", q.object)
		return
	}
	var val any
	switch q.kind {
	case objResource:
		id := q.object
		if label, ok := bnodeLabel(q.object); ok {
			id = "_:" + label
		}
		val = map[string]any{"@id": id}
	case objInteger:
		n, _ := strconv.ParseInt(q.object, 10, 64)
		val = n
	case objDouble:
		f, _ := strconv.ParseFloat(q.object, 64)
		val = f
	case objBoolean:
		val = boolLexical(q.object) == "true"
	case objDateTime:
		val = map[string]any{"@value": q.object, "@type": string(rdf.XSDDateTime)}
	default:
		if q.lang != "" {
			val = map[string]any{"@value": q.object, "@language": q.lang}
		} else {
			val = q.object
		}
	}
	w.appendTo(q.pred, val)
}

func (w *jsonldWriter) appendTo(key string, val any) {
	switch existing := w.node[key].(type) {
	case nil:
		w.node[key] = val
	case []any:
		w.node[key] = append(existing, val)
	default:
		w.node[key] = []any{existing, val}
	}
}

func (w *jsonldWriter) flushNode(buf *bytes.Buffer) {
	if !w.haveNode {
		return
	}
	if w.inGraph {
		if w.graphCount > 0 {
			buf.WriteString(",")
		}
		w.graphCount++
	} else {
		if w.topCount > 0 {
			buf.WriteString(",")
		}
		w.topCount++
	}
	data, err := json.Marshal(w.node)
	if err != nil {
		data = []byte("{}")
	}
	buf.Write(data)
	w.haveNode = false
}
