package serialize

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/rdf"
)

// cellValue is one dynamically-typed cursor cell.
type cellValue struct {
	vt    tern.ValueType
	value string
	lang  string
}

// rowCursor is a cursor over materialized rows with per-cell types,
// used by both deserializer directions.
type rowCursor struct {
	vars []string
	rows [][]cellValue
	pos  int
	err  error
}

func (c *rowCursor) Next(ctx context.Context) bool {
	if c.err != nil || c.pos >= len(c.rows) {
		return false
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			c.err = tern.WrapError(tern.ErrCancelled, ctx.Err(), "cursor cancelled")
			return false
		default:
		}
	}
	c.pos++
	return true
}

func (c *rowCursor) Err() error    { return c.err }
func (c *rowCursor) NColumns() int { return len(c.vars) }

func (c *rowCursor) VariableName(col int) string {
	if col < 0 || col >= len(c.vars) {
		return ""
	}
	return c.vars[col]
}

func (c *rowCursor) cell(col int) cellValue {
	if c.pos == 0 || c.pos > len(c.rows) || col < 0 || col >= len(c.vars) {
		return cellValue{}
	}
	row := c.rows[c.pos-1]
	if col >= len(row) {
		return cellValue{}
	}
	return row[col]
}

func (c *rowCursor) ValueType(col int) tern.ValueType { return c.cell(col).vt }

func (c *rowCursor) GetString(col int) (string, string) {
	cell := c.cell(col)
	return cell.value, cell.lang
}

func (c *rowCursor) GetInteger(col int) int64 {
	var v int64
	fmt.Sscanf(c.cell(col).value, "%d", &v)
	return v
}

func (c *rowCursor) GetDouble(col int) float64 {
	var v float64
	fmt.Sscanf(c.cell(col).value, "%g", &v)
	return v
}

func (c *rowCursor) GetBoolean(col int) bool {
	v := c.cell(col).value
	return v == "true" || v == "1"
}

func (c *rowCursor) GetDateTime(col int) time.Time {
	if t, err := time.Parse(time.RFC3339, c.cell(col).value); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", c.cell(col).value); err == nil {
		return t
	}
	return time.Time{}
}

func (c *rowCursor) Close() error { return nil }

// resultsJSONDoc mirrors the SPARQL Results JSON wire format.
type resultsJSONDoc struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Boolean *bool `json:"boolean"`
	Results struct {
		Bindings []map[string]resultsJSONTerm `json:"bindings"`
	} `json:"results"`
}

type resultsJSONTerm struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Lang     string `json:"xml:lang"`
	Datatype string `json:"datatype"`
}

// NewResultsJSONCursor decodes a SPARQL Results JSON document into a
// cursor with the same contract as query cursors. The xsd datatype
// suffix selects the cell type.
func NewResultsJSONCursor(src io.Reader) (tern.Cursor, error) {
	var doc resultsJSONDoc
	dec := json.NewDecoder(src)
	if err := dec.Decode(&doc); err != nil {
		return nil, tern.WrapError(tern.ErrParse, err, "invalid result document")
	}
	if doc.Boolean != nil {
		v := "false"
		if *doc.Boolean {
			v = "true"
		}
		return &rowCursor{
			vars: []string{"result"},
			rows: [][]cellValue{{{vt: tern.TypeBoolean, value: v}}},
		}, nil
	}

	cur := &rowCursor{vars: doc.Head.Vars}
	for _, b := range doc.Results.Bindings {
		row := make([]cellValue, len(cur.vars))
		for i, v := range cur.vars {
			term, bound := b[v]
			if !bound {
				continue
			}
			row[i] = termCell(term)
		}
		cur.rows = append(cur.rows, row)
	}
	return cur, nil
}

func termCell(t resultsJSONTerm) cellValue {
	switch t.Type {
	case "uri":
		return cellValue{vt: tern.TypeURI, value: t.Value}
	case "bnode":
		return cellValue{vt: tern.TypeBlank, value: t.Value}
	}
	switch datatypeSuffix(t.Datatype) {
	case "integer", "long", "int", "byte":
		return cellValue{vt: tern.TypeInteger, value: t.Value}
	case "double", "decimal":
		return cellValue{vt: tern.TypeDouble, value: t.Value}
	case "date", "dateTime":
		return cellValue{vt: tern.TypeDateTime, value: t.Value}
	case "boolean":
		return cellValue{vt: tern.TypeBoolean, value: t.Value}
	default:
		return cellValue{vt: tern.TypeString, value: t.Value, lang: t.Lang}
	}
}

func datatypeSuffix(dt string) string {
	if i := strings.LastIndexByte(dt, '#'); i >= 0 {
		return dt[i+1:]
	}
	return dt
}

// NewQuadCursor drains an RDF reader into a cursor using the quad-view
// convention (s, p, o, k, l, g), the same shape DESCRIBE produces.
func NewQuadCursor(r rdf.Reader) (tern.Cursor, error) {
	cur := &rowCursor{vars: []string{"s", "p", "o", "k", "l", "g"}}
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return cur, nil
		}
		if err != nil {
			return nil, err
		}
		q, ok := ev.(rdf.Quad)
		if !ok {
			continue
		}
		cur.rows = append(cur.rows, quadCells(q))
	}
}

func quadCells(q rdf.Quad) []cellValue {
	subj := cellValue{vt: tern.TypeURI}
	switch s := q.Subject.(type) {
	case rdf.IRI:
		subj.value = string(s)
	case rdf.BlankNode:
		subj = cellValue{vt: tern.TypeBlank, value: "urn:bnode:" + string(s)}
	}

	var obj cellValue
	kind := objString
	switch o := q.Object.(type) {
	case rdf.IRI:
		obj = cellValue{vt: tern.TypeURI, value: string(o)}
		kind = objResource
	case rdf.BlankNode:
		obj = cellValue{vt: tern.TypeBlank, value: "urn:bnode:" + string(o)}
		kind = objResource
	case rdf.Literal:
		obj = cellValue{vt: tern.TypeString, value: o.Value, lang: o.Language}
		switch o.Datatype {
		case rdf.XSDInteger, rdf.XSDLong, rdf.XSDInt, rdf.XSDByte:
			obj.vt = tern.TypeInteger
			kind = objInteger
		case rdf.XSDDouble, rdf.XSDDecimal:
			obj.vt = tern.TypeDouble
			kind = objDouble
		case rdf.XSDBoolean:
			obj.vt = tern.TypeBoolean
			kind = objBoolean
		case rdf.XSDDate, rdf.XSDDateTime:
			obj.vt = tern.TypeDateTime
			kind = objDateTime
		}
	}

	graph := cellValue{}
	if q.Graph != "" {
		graph = cellValue{vt: tern.TypeURI, value: string(q.Graph)}
	}
	lang := cellValue{}
	if obj.lang != "" {
		lang = cellValue{vt: tern.TypeString, value: obj.lang}
	}
	return []cellValue{
		subj,
		{vt: tern.TypeURI, value: string(q.Predicate)},
		obj,
		{vt: tern.TypeInteger, value: fmt.Sprintf("%d", kind)},
		lang,
		graph,
	}
}
