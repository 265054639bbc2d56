// Package service implements the federated-query virtual table. The
// compiler lowers SERVICE clauses to
//
//	SELECT col0…colN FROM tern_service
//	WHERE service = ? AND query = ? AND silent = ?
//
// and this module resolves the endpoint to a connection through the
// resolver it was built with, runs the inner SPARQL there and streams
// rows back. The local connection's resolver accepts mapped private:name
// endpoints and http(s) endpoints only; any other endpoint, a bus name
// included, is reported as unsupported. SILENT converts sub-execution
// failures into empty results.
package service

import (
	"context"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/tern-db/tern"
)

// Resolver maps a SERVICE endpoint IRI to a connection. The connection
// stays owned by the resolver; the virtual table never closes it.
type Resolver func(ctx context.Context, endpoint string) (tern.Connection, error)

// maxColumns mirrors the compiler's bound on projected variables.
const maxColumns = 32

// Module is the sqlite3 virtual-table module. It is eponymous: usable
// directly as a table named after its registration.
type Module struct {
	resolver Resolver
}

// NewModule builds a module backed by the resolver.
func NewModule(r Resolver) *Module {
	return &Module{resolver: r}
}

// EponymousOnlyModule marks the module eponymous-only.
func (m *Module) EponymousOnlyModule() {}

// Create is unused for an eponymous module but part of the interface.
func (m *Module) Create(c *sqlite3.SQLiteConn, args []string) (sqlite3.VTab, error) {
	return m.Connect(c, args)
}

// Connect declares the table shape: result columns plus three hidden
// input columns.
func (m *Module) Connect(c *sqlite3.SQLiteConn, args []string) (sqlite3.VTab, error) {
	decl := "CREATE TABLE x("
	for i := 0; i < maxColumns; i++ {
		decl += fmt.Sprintf("col%d TEXT, ", i)
	}
	decl += "service TEXT HIDDEN, query TEXT HIDDEN, silent INTEGER HIDDEN)"
	if err := c.DeclareVTab(decl); err != nil {
		return nil, err
	}
	return &vtab{module: m}, nil
}

// DestroyModule releases module state; nothing to do.
func (m *Module) DestroyModule() {}

type vtab struct {
	module *Module
}

const (
	colService = maxColumns
	colQuery   = maxColumns + 1
	colSilent  = maxColumns + 2
)

// BestIndex claims the equality constraints on the hidden input
// columns; their filter order is encoded in IdxStr.
func (t *vtab) BestIndex(csts []sqlite3.InfoConstraint, ob []sqlite3.InfoOrderBy) (*sqlite3.IndexResult, error) {
	used := make([]bool, len(csts))
	idxStr := ""
	for i, c := range csts {
		if !c.Usable || c.Op != sqlite3.OpEQ {
			continue
		}
		switch c.Column {
		case colService:
			used[i] = true
			idxStr += "s"
		case colQuery:
			used[i] = true
			idxStr += "q"
		case colSilent:
			used[i] = true
			idxStr += "i"
		}
	}
	return &sqlite3.IndexResult{
		IdxNum:        0,
		IdxStr:        idxStr,
		Used:          used,
		EstimatedCost: 1000,
	}, nil
}

func (t *vtab) Disconnect() error { return nil }
func (t *vtab) Destroy() error    { return nil }

func (t *vtab) Open() (sqlite3.VTabCursor, error) {
	return &cursor{table: t}, nil
}

type cursor struct {
	table *vtab

	inner  tern.Cursor
	row    []string
	valid  []bool
	rowid  int64
	done   bool
	cancel context.CancelFunc
}

// Filter receives the pushed-down inputs and starts the sub-execution.
func (c *cursor) Filter(idxNum int, idxStr string, vals []any) error {
	c.reset()

	var endpoint, query string
	silent := false
	for i, ch := range idxStr {
		if i >= len(vals) {
			break
		}
		switch ch {
		case 's':
			endpoint, _ = vals[i].(string)
		case 'q':
			query, _ = vals[i].(string)
		case 'i':
			if n, ok := vals[i].(int64); ok {
				silent = n != 0
			}
		}
	}
	if endpoint == "" || query == "" {
		c.done = true
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	fail := func(err error) error {
		if silent {
			c.done = true
			return nil
		}
		return err
	}

	conn, err := c.table.module.resolver(ctx, endpoint)
	if err != nil {
		return fail(err)
	}
	cur, err := conn.Query(ctx, query)
	if err != nil {
		return fail(err)
	}
	c.inner = cur
	if err := c.step(ctx); err != nil {
		return fail(err)
	}
	return nil
}

func (c *cursor) reset() {
	if c.inner != nil {
		c.inner.Close()
		c.inner = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.row = nil
	c.valid = nil
	c.rowid = 0
	c.done = false
}

// step pulls the next remote row into the local buffer.
func (c *cursor) step(ctx context.Context) error {
	if c.inner == nil {
		c.done = true
		return nil
	}
	if !c.inner.Next(ctx) {
		c.done = true
		return c.inner.Err()
	}
	n := c.inner.NColumns()
	if n > maxColumns {
		n = maxColumns
	}
	c.row = make([]string, n)
	c.valid = make([]bool, n)
	for i := 0; i < n; i++ {
		if c.inner.ValueType(i) == tern.TypeUnbound {
			continue
		}
		v, _ := c.inner.GetString(i)
		c.row[i] = v
		c.valid[i] = true
	}
	c.rowid++
	return nil
}

func (c *cursor) Next() error {
	return c.step(context.Background())
}

func (c *cursor) EOF() bool { return c.done }

func (c *cursor) Column(sctx *sqlite3.SQLiteContext, col int) error {
	if col >= 0 && col < len(c.row) && c.valid[col] {
		sctx.ResultText(c.row[col])
	} else {
		sctx.ResultNull()
	}
	return nil
}

func (c *cursor) Rowid() (int64, error) { return c.rowid, nil }

func (c *cursor) Close() error {
	c.reset()
	return nil
}
