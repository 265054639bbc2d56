package serialize

import (
	"strings"

	"github.com/tern-db/tern/rdf"
)

// RenderInsertData renders quads as an INSERT DATA update, used by the
// remote connection kinds to ship resource trees as plain SPARQL.
func RenderInsertData(quads []rdf.Quad) string {
	var b strings.Builder
	b.WriteString("INSERT DATA {\n")
	var grouped []rdf.Quad
	var named []rdf.Quad
	for _, q := range quads {
		if q.Graph == "" {
			grouped = append(grouped, q)
		} else {
			named = append(named, q)
		}
	}
	for _, q := range grouped {
		b.WriteString("\t" + renderTriple(q) + " .\n")
	}
	cur := rdf.IRI("")
	for _, q := range named {
		if q.Graph != cur {
			if cur != "" {
				b.WriteString("\t}\n")
			}
			b.WriteString("\tGRAPH <" + string(q.Graph) + "> {\n")
			cur = q.Graph
		}
		b.WriteString("\t\t" + renderTriple(q) + " .\n")
	}
	if cur != "" {
		b.WriteString("\t}\n")
	}
	b.WriteString("}")
	return b.String()
}

func renderTriple(q rdf.Quad) string {
	return renderTerm(q.Subject) + " <" + string(q.Predicate) + "> " + renderTerm(q.Object)
}

func renderTerm(t rdf.Term) string {
	switch x := t.(type) {
	case rdf.IRI:
		return "<" + string(x) + ">"
	case rdf.BlankNode:
		return "_:" + string(x)
	case rdf.Literal:
		switch x.Datatype {
		case rdf.XSDInteger, rdf.XSDLong, rdf.XSDInt, rdf.XSDByte,
			rdf.XSDDouble, rdf.XSDDecimal, rdf.XSDBoolean:
			return x.Value
		}
		s := `"` + rdf.EscapeString(x.Value) + `"`
		if x.Language != "" {
			return s + "@" + x.Language
		}
		if x.Datatype != "" && x.Datatype != rdf.XSDString {
			return s + "^^<" + string(x.Datatype) + ">"
		}
		return s
	}
	return ""
}
