package exec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tern-db/tern/internal/storage"
	"github.com/tern-db/tern/ontology"
	"github.com/tern-db/tern/sparql"
)

// graphCond builds the WHERE fragment selecting rows of the target
// graph set for a graph column.
func (s *updateSession) graphCond(ref sparql.GraphRef, graphCol string) (string, []any, error) {
	switch {
	case ref.Default:
		return graphCol + " IS NULL", nil, nil
	case ref.Named:
		return graphCol + " IS NOT NULL", nil, nil
	case ref.All:
		return "1 = 1", nil, nil
	default:
		gid, found, err := s.e.db.LookupResource(s.ctx, string(ref.IRI))
		if err != nil {
			return "", nil, err
		}
		if !found {
			// Unknown graph: matches nothing.
			return "0 = 1", nil, nil
		}
		return graphCol + " = ?", []any{gid}, nil
	}
}

// clearGraphs removes every statement in the target graph set. DROP is
// the same operation: graphs are implicit containers here.
func (s *updateSession) clearGraphs(ref sparql.GraphRef, silent bool) error {
	m := s.e.model

	// Multi-valued side tables and the type table hold one graph per
	// row; single-valued columns hold the graph beside the value.
	for i := range m.Properties {
		pid := ontology.PropertyID(i)
		prop := m.Property(pid)
		col := m.ColumnName(pid)
		if prop.SingleValued {
			table := m.TableName(prop.Domain)
			cond, args, err := s.graphCond(ref, storage.Quote(col+":graph"))
			if err != nil {
				return err
			}
			set := fmt.Sprintf("%s = NULL, %s = NULL", storage.Quote(col), storage.Quote(col+":graph"))
			if storage.IsStringRange(prop.Range) {
				set += fmt.Sprintf(", %s = NULL", storage.Quote(col+":lang"))
			}
			if _, err := s.e.db.Exec(s.ctx, fmt.Sprintf(
				"UPDATE %s SET %s WHERE %s IS NOT NULL AND %s",
				storage.Quote(table), set, storage.Quote(col), cond), args...); err != nil {
				return err
			}
		} else {
			side := storage.SideTableName(m, pid)
			cond, args, err := s.graphCond(ref, "graph")
			if err != nil {
				return err
			}
			if _, err := s.e.db.Exec(s.ctx, fmt.Sprintf(
				"DELETE FROM %s WHERE %s", storage.Quote(side), cond), args...); err != nil {
				return err
			}
		}
	}

	cond, args, err := s.graphCond(ref, "graph")
	if err != nil {
		return err
	}
	if _, err := s.e.db.Exec(s.ctx,
		fmt.Sprintf(`DELETE FROM "Resource_rdf:type" WHERE %s`, cond), args...); err != nil {
		return err
	}
	// The full-text rows for cleared statements are stale now. The
	// ontology may not declare any fulltext property, in which case
	// there is no fts table; ignore that case.
	_, _ = s.e.db.Exec(s.ctx, "DELETE FROM fts")
	return nil
}

// applyMoveCopyAdd retags statements between graphs. Single-valued
// columns hold one (value, graph) pair, so copying between graphs
// re-tags the stored statement rather than duplicating it; side tables
// get genuine copies.
func (s *updateSession) applyMoveCopyAdd(op sparql.MoveCopyAdd) error {
	m := s.e.model

	fromCond := func(col string) (string, []any, error) {
		return s.graphCond(op.From, col)
	}
	var toID any
	if !op.To.Default {
		id, err := s.e.db.InternResource(s.ctx, string(op.To.IRI))
		if err != nil {
			return err
		}
		toID = id
	}

	if op.Verb == "MOVE" || op.Verb == "COPY" {
		// Destination is replaced first.
		target := sparql.GraphRef{IRI: op.To.IRI, Default: op.To.Default}
		if err := s.clearGraphs(target, true); err != nil {
			return err
		}
	}

	for i := range m.Properties {
		pid := ontology.PropertyID(i)
		prop := m.Property(pid)
		col := m.ColumnName(pid)
		if prop.SingleValued {
			table := m.TableName(prop.Domain)
			cond, args, err := fromCond(storage.Quote(col + ":graph"))
			if err != nil {
				return err
			}
			args = append([]any{toID}, args...)
			if _, err := s.e.db.Exec(s.ctx, fmt.Sprintf(
				"UPDATE %s SET %s = ? WHERE %s IS NOT NULL AND %s",
				storage.Quote(table), storage.Quote(col+":graph"), storage.Quote(col), cond), args...); err != nil {
				return err
			}
		} else {
			side := storage.SideTableName(m, pid)
			cond, args, err := fromCond("graph")
			if err != nil {
				return err
			}
			var insert string
			if storage.IsStringRange(prop.Range) {
				lang := storage.Quote(col + ":lang")
				insert = fmt.Sprintf(
					"INSERT INTO %s (ID, %s, graph, %s) SELECT ID, %s, ?, %s FROM %s WHERE %s",
					storage.Quote(side), storage.Quote(col), lang,
					storage.Quote(col), lang, storage.Quote(side), cond)
			} else {
				insert = fmt.Sprintf(
					"INSERT INTO %s (ID, %s, graph) SELECT ID, %s, ? FROM %s WHERE %s",
					storage.Quote(side), storage.Quote(col), storage.Quote(col), storage.Quote(side), cond)
			}
			if _, err := s.e.db.Exec(s.ctx, insert, append([]any{toID}, args...)...); err != nil {
				return err
			}
			if op.Verb == "MOVE" {
				delCond, delArgs, err := fromCond("graph")
				if err != nil {
					return err
				}
				if _, err := s.e.db.Exec(s.ctx, fmt.Sprintf(
					"DELETE FROM %s WHERE %s", storage.Quote(side), delCond), delArgs...); err != nil {
					return err
				}
			}
		}
	}

	cond, args, err := fromCond("graph")
	if err != nil {
		return err
	}
	if _, err := s.e.db.Exec(s.ctx, fmt.Sprintf(
		`INSERT OR IGNORE INTO "Resource_rdf:type" (ID, "rdf:type", graph)
		 SELECT ID, "rdf:type", ? FROM "Resource_rdf:type" WHERE %s`, cond),
		append([]any{toID}, args...)...); err != nil {
		return err
	}
	if op.Verb == "MOVE" {
		if _, err := s.e.db.Exec(s.ctx, fmt.Sprintf(
			`DELETE FROM "Resource_rdf:type" WHERE %s`, cond), args...); err != nil {
			return err
		}
	}
	return nil
}

// rebuildFTS refreshes the full-text rows of every dirty resource from
// the stored values.
func (s *updateSession) rebuildFTS() error {
	if len(s.ftsDirty) == 0 {
		return nil
	}
	m := s.e.model

	// Column order matches the fts table definition: declaration order
	// of fulltext-indexed properties.
	var ftsProps []ontology.PropertyID
	for i := range m.Properties {
		if m.Properties[i].FulltextIndexed {
			ftsProps = append(ftsProps, ontology.PropertyID(i))
		}
	}
	if len(ftsProps) == 0 {
		return nil
	}

	for sid := range s.ftsDirty {
		if _, err := s.e.db.Exec(s.ctx, "DELETE FROM fts WHERE docid = ?", sid); err != nil {
			return err
		}
		values := make([]any, 0, len(ftsProps)+1)
		values = append(values, sid)
		nonEmpty := false
		for _, pid := range ftsProps {
			prop := m.Property(pid)
			col := m.ColumnName(pid)
			var text sql.NullString
			var err error
			if prop.SingleValued {
				err = s.e.db.QueryRow(s.ctx, fmt.Sprintf(
					"SELECT %s FROM %s WHERE ID = ?",
					storage.Quote(col), storage.Quote(m.TableName(prop.Domain))), sid).Scan(&text)
			} else {
				err = s.e.db.QueryRow(s.ctx, fmt.Sprintf(
					"SELECT GROUP_CONCAT(%s, ' ') FROM %s WHERE ID = ?",
					storage.Quote(col), storage.Quote(storage.SideTableName(m, pid))), sid).Scan(&text)
			}
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if text.Valid && text.String != "" {
				nonEmpty = true
				values = append(values, text.String)
			} else {
				values = append(values, nil)
			}
		}
		if !nonEmpty {
			continue
		}
		placeholders := "?"
		cols := "docid"
		for _, pid := range ftsProps {
			placeholders += ", ?"
			cols += ", " + storage.Quote(propQualified(m, pid))
		}
		if _, err := s.e.db.Exec(s.ctx, fmt.Sprintf(
			"INSERT INTO fts (%s) VALUES (%s)", cols, placeholders), values...); err != nil {
			return err
		}
	}
	return nil
}

func propQualified(m *ontology.Model, pid ontology.PropertyID) string {
	iri := m.Property(pid).IRI
	if pfx, ok := m.NamespaceManager().Compress(iri); ok {
		return pfx
	}
	return string(iri)
}

// MatchFTS returns the resource rowids whose indexed text matches the
// FTS query string.
func (e *Executor) MatchFTS(ctx context.Context, query string) ([]int64, error) {
	rows, err := e.db.Query(ctx, "SELECT docid FROM fts WHERE fts MATCH ?", query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
