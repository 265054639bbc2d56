// Package exec is the execution runtime: typed cursors over compiled
// statements, the update interpreter, transaction lifecycle, blank-node
// scoping and change notification.
package exec

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/internal/compile"
)

// bnodePrefix marks generated blank-node identifiers in the Resource
// table.
const bnodePrefix = "urn:bnode:"

// Cursor is the concrete forward-only cursor over a SQL result set.
// It satisfies tern.Cursor.
type Cursor struct {
	mu   sync.Mutex
	rows *sql.Rows
	cols []compile.Column

	// scan targets: one per physical SQL column.
	raw []any
	// logical→physical index of the value column; lang columns follow
	// their value column when Column.HasLang.
	phys []int

	err    error
	closed bool
}

// NewCursor wraps a result set with its column metadata.
func NewCursor(rows *sql.Rows, cols []compile.Column) *Cursor {
	phys := make([]int, len(cols))
	n := 0
	for i, c := range cols {
		phys[i] = n
		n++
		if c.HasLang {
			n++
		}
	}
	raw := make([]any, n)
	for i := range raw {
		raw[i] = new(sql.NullString)
	}
	return &Cursor{rows: rows, cols: cols, raw: raw, phys: phys}
}

// Next advances the cursor. It returns false at the end of data or on
// error; Err disambiguates.
func (c *Cursor) Next(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.err != nil {
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
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			c.err = err
		}
		return false
	}
	if err := c.rows.Scan(c.raw...); err != nil {
		c.err = err
		return false
	}
	return true
}

// Err returns the terminal error, if any.
func (c *Cursor) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// NColumns returns the logical column count.
func (c *Cursor) NColumns() int { return len(c.cols) }

// VariableName returns the column's variable name.
func (c *Cursor) VariableName(col int) string {
	if col < 0 || col >= len(c.cols) {
		return ""
	}
	return c.cols[col].Name
}

func (c *Cursor) cell(col int) *sql.NullString {
	return c.raw[c.phys[col]].(*sql.NullString)
}

func (c *Cursor) langCell(col int) *sql.NullString {
	return c.raw[c.phys[col]+1].(*sql.NullString)
}

// ValueType returns the dynamic type of the cell.
func (c *Cursor) ValueType(col int) tern.ValueType {
	if col < 0 || col >= len(c.cols) {
		return tern.TypeUnbound
	}
	cell := c.cell(col)
	if !cell.Valid {
		return tern.TypeUnbound
	}
	switch c.cols[col].Kind {
	case compile.KindResource:
		if strings.HasPrefix(cell.String, bnodePrefix) {
			return tern.TypeBlank
		}
		return tern.TypeURI
	case compile.KindInteger:
		return tern.TypeInteger
	case compile.KindDouble:
		return tern.TypeDouble
	case compile.KindBoolean:
		return tern.TypeBoolean
	case compile.KindDateTime:
		return tern.TypeDateTime
	default:
		return tern.TypeString
	}
}

// GetString returns the display string and language tag of the cell.
func (c *Cursor) GetString(col int) (string, string) {
	if col < 0 || col >= len(c.cols) {
		return "", ""
	}
	cell := c.cell(col)
	if !cell.Valid {
		return "", ""
	}
	lang := ""
	if c.cols[col].HasLang {
		if lc := c.langCell(col); lc.Valid {
			lang = lc.String
		}
	}
	return cell.String, lang
}

// GetInteger converts the cell to int64; non-numeric cells yield 0.
func (c *Cursor) GetInteger(col int) int64 {
	s, _ := c.GetString(col)
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

// GetDouble converts the cell to float64.
func (c *Cursor) GetDouble(col int) float64 {
	s, _ := c.GetString(col)
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// GetBoolean converts the cell to bool ("1" and "true" are true).
func (c *Cursor) GetBoolean(col int) bool {
	s, _ := c.GetString(col)
	return s == "1" || s == "true"
}

// GetDateTime parses the cell as xsd:date or xsd:dateTime.
func (c *Cursor) GetDateTime(col int) time.Time {
	s, _ := c.GetString(col)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return time.Time{}
}

// Close releases the underlying result set. Closing twice is harmless.
func (c *Cursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rows.Close()
}
