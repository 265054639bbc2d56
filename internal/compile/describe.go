package compile

import (
	"strings"

	"github.com/tern-db/tern/internal/storage"
	"github.com/tern-db/tern/ontology"
	"github.com/tern-db/tern/rdf"
)

// Quad-view column order produced by CompileDescribeSubjects: the
// cursor layer and the serializers rely on it.
const (
	QVSubject = iota
	QVPredicate
	QVObject
	QVObjectKind
	QVLang
	QVGraph
	QVColumns
)

// CompileDescribeSubjects builds the quad view of every stored
// statement whose subject is one of the given IRIs: a UNION over all
// property tables plus rdf:type, ordered by graph, subject, predicate
// so the streaming serializers see grouped runs.
func (c *Compiler) CompileDescribeSubjects(subjects []string) *Query {
	j := &job{c: c}

	subjectSet := func() string {
		ph := make([]string, len(subjects))
		for i, s := range subjects {
			ph[i] = j.addArg(s)
		}
		return "(SELECT ID FROM Resource WHERE Uri IN (" + strings.Join(ph, ", ") + "))"
	}

	var branches []string
	for i := range c.model.Properties {
		pid := ontology.PropertyID(i)
		prop := c.model.Property(pid)
		col := c.model.ColumnName(pid)

		var table, valueCol, graphCol, langExpr string
		if prop.SingleValued {
			table = storage.Quote(c.model.TableName(prop.Domain))
			valueCol = storage.Quote(col)
			graphCol = storage.Quote(col + ":graph")
		} else {
			table = storage.Quote(storage.SideTableName(c.model, pid))
			valueCol = storage.Quote(col)
			graphCol = "graph"
		}
		if storage.IsStringRange(prop.Range) {
			langExpr = storage.Quote(col + ":lang")
		} else {
			langExpr = "NULL"
		}

		kind := kindOfRange(prop.Range)
		display := valueCol
		if kind == KindResource {
			display = uriOf(valueCol)
		}
		branch := "SELECT " +
			uriOf("ID") + " AS s, " +
			j.addArg(string(prop.IRI)) + " AS p, " +
			"CAST(" + display + " AS TEXT) AS o, " +
			j.addArg(int64(kind)) + " AS k, " +
			langExpr + " AS l, " +
			uriOf(graphCol) + " AS g " +
			"FROM " + table +
			" WHERE " + valueCol + " IS NOT NULL AND ID IN " + subjectSet()
		branches = append(branches, branch)
	}

	// rdf:type rows.
	typeBranch := "SELECT " +
		uriOf("ID") + " AS s, " +
		j.addArg(string(rdf.RDFType)) + " AS p, " +
		uriOf(storage.Quote("rdf:type")) + " AS o, " +
		j.addArg(int64(KindResource)) + " AS k, " +
		"NULL AS l, " +
		uriOf("graph") + " AS g " +
		"FROM " + storage.Quote(storage.TypeTable) +
		" WHERE ID IN " + subjectSet()
	branches = append(branches, typeBranch)

	sql := strings.Join(branches, " UNION ALL ") +
		" ORDER BY g, s, p, o"

	return &Query{
		SQL:  sql,
		Args: j.args,
		Columns: []Column{
			{Name: "s", Kind: KindDynamic},
			{Name: "p", Kind: KindDynamic},
			{Name: "o", Kind: KindDynamic},
			{Name: "k", Kind: KindInteger},
			{Name: "l", Kind: KindDynamic},
			{Name: "g", Kind: KindDynamic},
		},
	}
}
