package serialize

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/tern-db/tern"
)

// NewResultsReader streams a SELECT cursor as a result document in the
// given format. ASK results go through NewBooleanReader.
func NewResultsReader(ctx context.Context, cur tern.Cursor, format tern.ResultFormat) (io.ReadCloser, error) {
	var w resultWriter
	switch format {
	case tern.ResultsJSON:
		w = &jsonResults{}
	case tern.ResultsXML:
		w = &xmlResults{}
	case tern.ResultsTSV:
		w = &tsvResults{}
	default:
		return nil, tern.NewError(tern.ErrUnsupported, "unsupported result format %v", format)
	}
	return &resultsReader{ctx: ctx, cur: cur, w: w}, nil
}

// NewBooleanReader renders an ASK result document.
func NewBooleanReader(result bool, format tern.ResultFormat) (io.ReadCloser, error) {
	var doc string
	switch format {
	case tern.ResultsJSON:
		doc = fmt.Sprintf(`{"head":{},"boolean":%t}`+"\n", result)
	case tern.ResultsXML:
		doc = `<?xml version="1.0"?>` + "\n" +
			`<sparql xmlns="http://www.w3.org/2005/sparql-results#">` +
			fmt.Sprintf("<head/><boolean>%t</boolean></sparql>\n", result)
	case tern.ResultsTSV:
		doc = fmt.Sprintf("%t\n", result)
	default:
		return nil, tern.NewError(tern.ErrUnsupported, "unsupported result format %v", format)
	}
	return io.NopCloser(strings.NewReader(doc)), nil
}

type resultWriter interface {
	begin(cur tern.Cursor, buf *bytes.Buffer)
	row(cur tern.Cursor, buf *bytes.Buffer)
	end(buf *bytes.Buffer)
}

type resultsReader struct {
	ctx      context.Context
	cur      tern.Cursor
	w        resultWriter
	buf      bytes.Buffer
	started  bool
	finished bool
	err      error
}

func (r *resultsReader) Read(p []byte) (int, error) {
	for r.buf.Len() == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.finished {
			return 0, io.EOF
		}
		if !r.started {
			r.started = true
			r.w.begin(r.cur, &r.buf)
			continue
		}
		if r.cur.Next(r.ctx) {
			r.w.row(r.cur, &r.buf)
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

func (r *resultsReader) Close() error {
	r.finished = true
	return r.cur.Close()
}

// --- SPARQL Results JSON ---

type jsonResults struct {
	rows int
}

func (w *jsonResults) begin(cur tern.Cursor, buf *bytes.Buffer) {
	vars := make([]string, cur.NColumns())
	for i := range vars {
		vars[i] = cur.VariableName(i)
	}
	head, _ := json.Marshal(map[string]any{"vars": vars})
	buf.WriteString(`{"head":` + string(head) + `,"results":{"bindings":[`)
}

func (w *jsonResults) row(cur tern.Cursor, buf *bytes.Buffer) {
	if w.rows > 0 {
		buf.WriteString(",")
	}
	w.rows++
	bindings := make(map[string]any, cur.NColumns())
	for i := 0; i < cur.NColumns(); i++ {
		vt := cur.ValueType(i)
		if vt == tern.TypeUnbound {
			continue
		}
		value, lang := cur.GetString(i)
		b := map[string]any{"value": value}
		switch vt {
		case tern.TypeURI:
			b["type"] = "uri"
		case tern.TypeBlank:
			b["type"] = "bnode"
		case tern.TypeInteger:
			b["type"] = "literal"
			b["datatype"] = "http://www.w3.org/2001/XMLSchema#integer"
		case tern.TypeDouble:
			b["type"] = "literal"
			b["datatype"] = "http://www.w3.org/2001/XMLSchema#double"
		case tern.TypeBoolean:
			b["type"] = "literal"
			b["datatype"] = "http://www.w3.org/2001/XMLSchema#boolean"
			b["value"] = boolLexical(value)
		case tern.TypeDateTime:
			b["type"] = "literal"
			b["datatype"] = "http://www.w3.org/2001/XMLSchema#dateTime"
		default:
			b["type"] = "literal"
			if lang != "" {
				b["xml:lang"] = lang
			}
		}
		bindings[cur.VariableName(i)] = b
	}
	data, _ := json.Marshal(bindings)
	buf.Write(data)
}

func (w *jsonResults) end(buf *bytes.Buffer) {
	buf.WriteString("]}}\n")
}

// --- SPARQL Results XML ---

type xmlResults struct{}

func (w *xmlResults) begin(cur tern.Cursor, buf *bytes.Buffer) {
	buf.WriteString(`<?xml version="1.0"?>` + "\n")
	buf.WriteString(`<sparql xmlns="http://www.w3.org/2005/sparql-results#">` + "\n<head>\n")
	for i := 0; i < cur.NColumns(); i++ {
		fmt.Fprintf(buf, "  <variable name=%q/>\n", cur.VariableName(i))
	}
	buf.WriteString("</head>\n<results>\n")
}

func (w *xmlResults) row(cur tern.Cursor, buf *bytes.Buffer) {
	buf.WriteString("  <result>\n")
	for i := 0; i < cur.NColumns(); i++ {
		vt := cur.ValueType(i)
		if vt == tern.TypeUnbound {
			continue
		}
		value, lang := cur.GetString(i)
		fmt.Fprintf(buf, "    <binding name=%q>", cur.VariableName(i))
		switch vt {
		case tern.TypeURI:
			buf.WriteString("<uri>")
			xml.EscapeText(buf, []byte(value))
			buf.WriteString("</uri>")
		case tern.TypeBlank:
			buf.WriteString("<bnode>")
			xml.EscapeText(buf, []byte(value))
			buf.WriteString("</bnode>")
		default:
			attrs := ""
			switch vt {
			case tern.TypeInteger:
				attrs = ` datatype="http://www.w3.org/2001/XMLSchema#integer"`
			case tern.TypeDouble:
				attrs = ` datatype="http://www.w3.org/2001/XMLSchema#double"`
			case tern.TypeBoolean:
				attrs = ` datatype="http://www.w3.org/2001/XMLSchema#boolean"`
				value = boolLexical(value)
			case tern.TypeDateTime:
				attrs = ` datatype="http://www.w3.org/2001/XMLSchema#dateTime"`
			default:
				if lang != "" {
					attrs = fmt.Sprintf(" xml:lang=%q", lang)
				}
			}
			fmt.Fprintf(buf, "<literal%s>", attrs)
			xml.EscapeText(buf, []byte(value))
			buf.WriteString("</literal>")
		}
		buf.WriteString("</binding>\n")
	}
	buf.WriteString("  </result>\n")
}

func (w *xmlResults) end(buf *bytes.Buffer) {
	buf.WriteString("</results>\n</sparql>\n")
}

// --- TSV ---

type tsvResults struct{}

func (w *tsvResults) begin(cur tern.Cursor, buf *bytes.Buffer) {
	cols := make([]string, cur.NColumns())
	for i := range cols {
		cols[i] = "?" + cur.VariableName(i)
	}
	buf.WriteString(strings.Join(cols, "\t") + "\n")
}

func (w *tsvResults) row(cur tern.Cursor, buf *bytes.Buffer) {
	cells := make([]string, cur.NColumns())
	for i := range cells {
		vt := cur.ValueType(i)
		value, lang := cur.GetString(i)
		switch vt {
		case tern.TypeUnbound:
			cells[i] = ""
		case tern.TypeURI:
			cells[i] = "<" + value + ">"
		case tern.TypeBlank:
			label, _ := bnodeLabel(value)
			cells[i] = "_:" + label
		case tern.TypeInteger, tern.TypeDouble:
			cells[i] = value
		case tern.TypeBoolean:
			cells[i] = boolLexical(value)
		case tern.TypeDateTime:
			cells[i] = `"` + value + `"^^<http://www.w3.org/2001/XMLSchema#dateTime>`
		default:
			cells[i] = `"` + strings.ReplaceAll(strings.ReplaceAll(value, "\\", "\\\\"), "\t", "\\t") + `"`
			if lang != "" {
				cells[i] += "@" + lang
			}
		}
	}
	buf.WriteString(strings.Join(cells, "\t") + "\n")
}

func (w *tsvResults) end(buf *bytes.Buffer) {}
