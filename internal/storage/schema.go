package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/ontology"
	"github.com/tern-db/tern/rdf"
)

// Quote escapes an identifier for embedding in DDL/DML. Table and
// column names here are prefixed IRI names ("nmm:MusicPiece"), so
// quoting is mandatory everywhere.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// TypeTable is the fixed table holding rdf:type assertions.
const TypeTable = "Resource_rdf:type"

// baseSchema is the ontology-independent part of the schema.
var baseSchema = []string{
	`CREATE TABLE IF NOT EXISTS Resource (
		ID INTEGER PRIMARY KEY AUTOINCREMENT,
		Uri TEXT UNIQUE NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS schema_info (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS "Resource_rdf:type" (
		ID INTEGER NOT NULL,
		"rdf:type" INTEGER NOT NULL,
		graph INTEGER,
		UNIQUE (ID, "rdf:type", graph)
	)`,
	`CREATE INDEX IF NOT EXISTS "idx_rdf_type_type" ON "Resource_rdf:type" ("rdf:type")`,
}

// EnsureBaseSchema creates the ontology-independent tables. Idempotent.
func (d *DB) EnsureBaseSchema(ctx context.Context) error {
	for _, ddl := range baseSchema {
		if err := d.ExecRaw(ctx, ddl); err != nil {
			return fmt.Errorf("base schema: %w", err)
		}
	}
	return nil
}

// --- schema_info ---

// SchemaValue reads a schema_info entry.
func (d *DB) SchemaValue(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := d.QueryRow(ctx, `SELECT value FROM schema_info WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapSQLiteErr(err)
	}
	return v, true, nil
}

// SetSchemaValue writes a schema_info entry.
func (d *DB) SetSchemaValue(ctx context.Context, key, value string) error {
	_, err := d.Exec(ctx,
		`INSERT INTO schema_info (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// --- resource interning ---

// InternResource returns the rowid for uri, creating it if needed.
// Creation is idempotent.
func (d *DB) InternResource(ctx context.Context, uri string) (int64, error) {
	if _, err := d.Exec(ctx,
		`INSERT INTO Resource (Uri) VALUES (?) ON CONFLICT(Uri) DO NOTHING`, uri); err != nil {
		return 0, err
	}
	var id int64
	if err := d.QueryRow(ctx, `SELECT ID FROM Resource WHERE Uri = ?`, uri).Scan(&id); err != nil {
		return 0, wrapSQLiteErr(err)
	}
	return id, nil
}

// LookupResource returns the rowid for uri without creating it.
func (d *DB) LookupResource(ctx context.Context, uri string) (int64, bool, error) {
	var id int64
	err := d.QueryRow(ctx, `SELECT ID FROM Resource WHERE Uri = ?`, uri).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapSQLiteErr(err)
	}
	return id, true, nil
}

// ResourceURI resolves a rowid back to its IRI.
func (d *DB) ResourceURI(ctx context.Context, id int64) (string, error) {
	var uri string
	if err := d.QueryRow(ctx, `SELECT Uri FROM Resource WHERE ID = ?`, id).Scan(&uri); err != nil {
		return "", wrapSQLiteErr(err)
	}
	return uri, nil
}

// --- model projection ---

// ColumnType returns the SQLite column type for a property range.
func ColumnType(r ontology.Range) string {
	if !r.IsLiteral() {
		return "INTEGER" // Resource rowid
	}
	switch r.Datatype {
	case rdf.XSDInteger, rdf.XSDLong, rdf.XSDInt, rdf.XSDByte, rdf.XSDBoolean:
		return "INTEGER"
	case rdf.XSDDouble, rdf.XSDDecimal:
		return "REAL"
	default:
		// Strings, dates and dateTimes; ISO text orders correctly.
		return "TEXT"
	}
}

// SideTableName names the side table of a multi-valued property.
func SideTableName(m *ontology.Model, p ontology.PropertyID) string {
	prop := m.Property(p)
	return m.TableName(prop.Domain) + "_" + propQualifiedName(m, p)
}

func propQualifiedName(m *ontology.Model, p ontology.PropertyID) string {
	iri := m.Property(p).IRI
	if pfx, ok := m.NamespaceManager().Compress(iri); ok {
		return pfx
	}
	return string(iri)
}

// classTableDDL builds the CREATE TABLE for a class with all of its
// current single-valued columns.
func classTableDDL(m *ontology.Model, c ontology.ClassID) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (ID INTEGER NOT NULL PRIMARY KEY", Quote(m.TableName(c)))
	var uniques []string
	for _, pid := range m.PropertiesOfClass(c) {
		p := m.Property(pid)
		if !p.SingleValued || p.Domain != c {
			continue
		}
		col := m.ColumnName(pid)
		fmt.Fprintf(&b, ", %s %s", Quote(col), ColumnType(p.Range))
		fmt.Fprintf(&b, ", %s INTEGER", Quote(col+":graph"))
		if IsStringRange(p.Range) {
			fmt.Fprintf(&b, ", %s TEXT", Quote(col+":lang"))
		}
		if p.InverseFunctional {
			// Uniqueness across subjects; NULLs are exempt per SQL.
			// Table constraints go after every column definition.
			uniques = append(uniques, fmt.Sprintf(", UNIQUE (%s)", Quote(col)))
		}
	}
	for _, u := range uniques {
		b.WriteString(u)
	}
	b.WriteString(")")
	return b.String()
}

// IsStringRange reports whether values of this range may carry a
// language tag and therefore need the companion :lang column.
func IsStringRange(r ontology.Range) bool {
	return r.IsLiteral() && (r.Datatype == rdf.XSDString || r.Datatype == rdf.RDFLangString)
}

func sideTableDDL(m *ontology.Model, p ontology.PropertyID) []string {
	prop := m.Property(p)
	table := SideTableName(m, p)
	col := m.ColumnName(p)
	langCol := ""
	if IsStringRange(prop.Range) {
		langCol = fmt.Sprintf(", %s TEXT", Quote(col+":lang"))
	}
	ddl := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (ID INTEGER NOT NULL, %s %s, graph INTEGER%s)",
		Quote(table), Quote(col), ColumnType(prop.Range), langCol)
	idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (ID)",
		Quote("idx_"+table+"_ID"), Quote(table))
	return []string{ddl, idx}
}

func indexDDL(m *ontology.Model, p ontology.PropertyID) string {
	prop := m.Property(p)
	table := m.TableName(prop.Domain)
	cols := Quote(m.ColumnName(p))
	if prop.SecondaryIndex != ontology.NoProperty {
		cols += ", " + Quote(m.ColumnName(prop.SecondaryIndex))
	}
	if !prop.SingleValued {
		table = SideTableName(m, p)
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		Quote("idx_"+table+"_"+m.ColumnName(p)), Quote(table), cols)
}

func indexName(m *ontology.Model, p ontology.PropertyID) string {
	prop := m.Property(p)
	table := m.TableName(prop.Domain)
	if !prop.SingleValued {
		table = SideTableName(m, p)
	}
	return "idx_" + table + "_" + m.ColumnName(p)
}

// ftsTableDDL builds the full-text virtual table: one column per
// fulltext-indexed property, docid = resource rowid.
func ftsTableDDL(m *ontology.Model) (string, []string) {
	var cols []string
	for i := range m.Properties {
		p := &m.Properties[i]
		if p.FulltextIndexed {
			cols = append(cols, propQualifiedName(m, ontology.PropertyID(i)))
		}
	}
	if len(cols) == 0 {
		return "", nil
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = Quote(c)
	}
	return fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS fts USING fts4(%s)",
		strings.Join(quoted, ", ")), cols
}

// InitializeSchema projects a freshly loaded model onto an empty
// database: class tables, side tables, indexes, the FTS table, and the
// persisted model snapshot. Runs in one transaction.
func (d *DB) InitializeSchema(ctx context.Context, m *ontology.Model) error {
	if err := d.Begin(ctx); err != nil {
		return err
	}
	if err := d.initializeSchemaTx(ctx, m); err != nil {
		d.Rollback(ctx)
		return err
	}
	return d.Commit(ctx)
}

func (d *DB) initializeSchemaTx(ctx context.Context, m *ontology.Model) error {
	for i := range m.Classes {
		if err := d.ExecRaw(ctx, classTableDDL(m, ontology.ClassID(i))); err != nil {
			return fmt.Errorf("create class table: %w", err)
		}
	}
	for i := range m.Properties {
		pid := ontology.PropertyID(i)
		p := m.Property(pid)
		if !p.SingleValued {
			for _, ddl := range sideTableDDL(m, pid) {
				if err := d.ExecRaw(ctx, ddl); err != nil {
					return fmt.Errorf("create side table: %w", err)
				}
			}
		}
		if p.Indexed {
			if err := d.ExecRaw(ctx, indexDDL(m, pid)); err != nil {
				return fmt.Errorf("create index: %w", err)
			}
		}
	}
	for i := range m.Classes {
		c := m.Class(ontology.ClassID(i))
		for _, pid := range c.DomainIndexes {
			if err := d.ExecRaw(ctx, indexDDL(m, pid)); err != nil {
				return fmt.Errorf("create domain index: %w", err)
			}
		}
	}
	if ddl, _ := ftsTableDDL(m); ddl != "" {
		if err := d.ExecRaw(ctx, ddl); err != nil {
			return fmt.Errorf("create fts table: %w", err)
		}
	}
	// Bootstrap IRIs every store knows about.
	for _, uri := range []string{string(rdf.RDFType), string(rdf.RDFSResource)} {
		if _, err := d.InternResource(ctx, uri); err != nil {
			return err
		}
	}
	return d.persistModel(ctx, m)
}

func (d *DB) persistModel(ctx context.Context, m *ontology.Model) error {
	data, err := ontology.MarshalSnapshot(m)
	if err != nil {
		return err
	}
	return d.SetSchemaValue(ctx, "ontology_model", string(data))
}

// PersistedModel loads the ontology model stored at the last schema
// change; ok is false for a fresh database.
func (d *DB) PersistedModel(ctx context.Context) (*ontology.Model, bool, error) {
	data, ok, err := d.SchemaValue(ctx, "ontology_model")
	if err != nil || !ok {
		return nil, false, err
	}
	m, err := ontology.UnmarshalSnapshot([]byte(data))
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// ApplyMigration applies a migration plan in one transaction. A
// tightening step verifies the data first and aborts the whole plan
// with ontology-change-not-supported when any subject holds more than
// one value.
func (d *DB) ApplyMigration(ctx context.Context, old, model *ontology.Model, plan *ontology.Plan) error {
	if err := d.Begin(ctx); err != nil {
		return err
	}
	if err := d.applyMigrationTx(ctx, old, model, plan); err != nil {
		d.Rollback(ctx)
		return err
	}
	return d.Commit(ctx)
}

func (d *DB) applyMigrationTx(ctx context.Context, old, model *ontology.Model, plan *ontology.Plan) error {
	for _, op := range plan.Ops {
		if err := d.applyOp(ctx, old, model, op); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return d.persistModel(ctx, model)
}

func (d *DB) applyOp(ctx context.Context, old, model *ontology.Model, op ontology.Op) error {
	switch op.Kind {
	case ontology.OpCreateClass:
		c, _ := model.ClassByIRI(op.Class)
		return d.ExecRaw(ctx, classTableDDL(model, c))

	case ontology.OpAddColumn:
		p, _ := model.PropertyByIRI(op.Property)
		prop := model.Property(p)
		table := model.TableName(prop.Domain)
		col := model.ColumnName(p)
		if err := d.ExecRaw(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			Quote(table), Quote(col), ColumnType(prop.Range))); err != nil {
			return err
		}
		if err := d.ExecRaw(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s INTEGER",
			Quote(table), Quote(col+":graph"))); err != nil {
			return err
		}
		if IsStringRange(prop.Range) {
			return d.ExecRaw(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT",
				Quote(table), Quote(col+":lang")))
		}
		return nil

	case ontology.OpCreateSideTable:
		p, _ := model.PropertyByIRI(op.Property)
		for _, ddl := range sideTableDDL(model, p) {
			if err := d.ExecRaw(ctx, ddl); err != nil {
				return err
			}
		}
		return nil

	case ontology.OpCreateIndex:
		p, _ := model.PropertyByIRI(op.Property)
		return d.ExecRaw(ctx, indexDDL(model, p))

	case ontology.OpDropIndex:
		p, _ := model.PropertyByIRI(op.Property)
		return d.ExecRaw(ctx, "DROP INDEX IF EXISTS "+Quote(indexName(model, p)))

	case ontology.OpWidenCardinality:
		return d.widenProperty(ctx, old, model, op)

	case ontology.OpTightenCardinality:
		return d.tightenProperty(ctx, old, model, op)

	case ontology.OpRebuildFTS:
		if err := d.ExecRaw(ctx, "DROP TABLE IF EXISTS fts"); err != nil {
			return err
		}
		if ddl, _ := ftsTableDDL(model); ddl != "" {
			return d.ExecRaw(ctx, ddl)
		}
		return nil

	case ontology.OpDeprecateClass, ontology.OpDeprecateProperty:
		// Schema stays; the snapshot records the deprecation.
		return nil
	}
	return tern.NewError(tern.ErrInternal, "unknown migration op %v", op.Kind)
}

// widenProperty moves single-valued column data into a fresh side table
// and drops the column.
func (d *DB) widenProperty(ctx context.Context, old, model *ontology.Model, op ontology.Op) error {
	newP, _ := model.PropertyByIRI(op.Property)
	oldP, okOld := old.PropertyByIRI(op.Property)
	if !okOld {
		return tern.NewError(tern.ErrInternal, "widen of unknown property %s", op.Property)
	}
	oldProp := old.Property(oldP)
	table := old.TableName(oldProp.Domain)
	col := old.ColumnName(oldP)

	for _, ddl := range sideTableDDL(model, newP) {
		if err := d.ExecRaw(ctx, ddl); err != nil {
			return err
		}
	}
	side := SideTableName(model, newP)
	newCol := model.ColumnName(newP)
	isStr := IsStringRange(oldProp.Range)
	if isStr {
		if err := d.ExecRaw(ctx, fmt.Sprintf(
			"INSERT INTO %s (ID, %s, graph, %s) SELECT ID, %s, %s, %s FROM %s WHERE %s IS NOT NULL",
			Quote(side), Quote(newCol), Quote(newCol+":lang"),
			Quote(col), Quote(col+":graph"), Quote(col+":lang"), Quote(table), Quote(col))); err != nil {
			return err
		}
	} else {
		if err := d.ExecRaw(ctx, fmt.Sprintf(
			"INSERT INTO %s (ID, %s, graph) SELECT ID, %s, %s FROM %s WHERE %s IS NOT NULL",
			Quote(side), Quote(newCol), Quote(col), Quote(col+":graph"), Quote(table), Quote(col))); err != nil {
			return err
		}
	}
	if err := d.ExecRaw(ctx, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", Quote(table), Quote(col))); err != nil {
		return err
	}
	if err := d.ExecRaw(ctx, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", Quote(table), Quote(col+":graph"))); err != nil {
		return err
	}
	if isStr {
		return d.ExecRaw(ctx, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", Quote(table), Quote(col+":lang")))
	}
	return nil
}

// tightenProperty verifies at most one value per subject, then moves
// side-table data into a new column.
func (d *DB) tightenProperty(ctx context.Context, old, model *ontology.Model, op ontology.Op) error {
	oldP, okOld := old.PropertyByIRI(op.Property)
	if !okOld {
		return tern.NewError(tern.ErrInternal, "tighten of unknown property %s", op.Property)
	}
	side := SideTableName(old, oldP)
	oldCol := old.ColumnName(oldP)

	var offender int64
	err := d.QueryRow(ctx, fmt.Sprintf(
		"SELECT ID FROM %s GROUP BY ID HAVING COUNT(*) > 1 LIMIT 1", Quote(side))).Scan(&offender)
	switch {
	case err == nil:
		return tern.NewError(tern.ErrOntologyChangeNotSupported,
			"cannot make %s single-valued: subject %d has multiple values", op.Property, offender)
	case errors.Is(err, sql.ErrNoRows):
		// Data satisfies the tighter cardinality.
	default:
		return wrapSQLiteErr(err)
	}

	newP, _ := model.PropertyByIRI(op.Property)
	prop := model.Property(newP)
	table := model.TableName(prop.Domain)
	col := model.ColumnName(newP)
	if err := d.ExecRaw(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		Quote(table), Quote(col), ColumnType(prop.Range))); err != nil {
		return err
	}
	if err := d.ExecRaw(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s INTEGER",
		Quote(table), Quote(col+":graph"))); err != nil {
		return err
	}
	if IsStringRange(prop.Range) {
		if err := d.ExecRaw(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT",
			Quote(table), Quote(col+":lang"))); err != nil {
			return err
		}
		if err := d.ExecRaw(ctx, fmt.Sprintf(
			`UPDATE %s SET %s = (SELECT s.%s FROM %s s WHERE s.ID = %s.ID)`,
			Quote(table), Quote(col+":lang"), Quote(oldCol+":lang"), Quote(side), Quote(table))); err != nil {
			return err
		}
	}
	if err := d.ExecRaw(ctx, fmt.Sprintf(
		`UPDATE %s SET %s = (SELECT s.%s FROM %s s WHERE s.ID = %s.ID),
		        %s = (SELECT s.graph FROM %s s WHERE s.ID = %s.ID)`,
		Quote(table), Quote(col), Quote(oldCol), Quote(side), Quote(table),
		Quote(col+":graph"), Quote(side), Quote(table))); err != nil {
		return err
	}
	return d.ExecRaw(ctx, "DROP TABLE "+Quote(side))
}

// Reindex drops and recreates every declared secondary index and the
// FTS table contents. Used by the force-reindex open flag.
func (d *DB) Reindex(ctx context.Context, m *ontology.Model) error {
	for i := range m.Properties {
		pid := ontology.PropertyID(i)
		if !m.Property(pid).Indexed {
			continue
		}
		if err := d.ExecRaw(ctx, "DROP INDEX IF EXISTS "+Quote(indexName(m, pid))); err != nil {
			return err
		}
		if err := d.ExecRaw(ctx, indexDDL(m, pid)); err != nil {
			return err
		}
	}
	if ddl, _ := ftsTableDDL(m); ddl != "" {
		if err := d.ExecRaw(ctx, "DROP TABLE IF EXISTS fts"); err != nil {
			return err
		}
		if err := d.ExecRaw(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}
