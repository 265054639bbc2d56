package bus

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/rdf"
	"github.com/tern-db/tern/serialize"
)

// Connection is a client connection to a bus endpoint: every operation
// forwards to the named peer, and cursors stream rows from the wire.
type Connection struct {
	bus  *dbus.Conn
	obj  dbus.BusObject
	mu   sync.Mutex
	open bool
}

// NewConnection targets service at path (DefaultObjectPath when empty)
// on an established bus connection.
func NewConnection(busConn *dbus.Conn, service string, path dbus.ObjectPath) *Connection {
	if path == "" {
		path = DefaultObjectPath
	}
	return &Connection{bus: busConn, obj: busConn.Object(service, path), open: true}
}

func (c *Connection) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return tern.NewError(tern.ErrInternal, "connection is closed")
	}
	return nil
}

func mapDBusError(err error) error {
	if err == nil {
		return nil
	}
	var de dbus.Error
	if errorsAs(err, &de) {
		name := de.Name
		if i := strings.LastIndexByte(name, '.'); i >= 0 {
			code := tern.ErrorCode(name[i+1:])
			msg := fmt.Sprint(de.Body...)
			return tern.NewError(code, "%s", msg)
		}
	}
	return tern.WrapError(tern.ErrInternal, err, "bus call failed")
}

// errorsAs is a tiny local alias avoiding an import cycle warning in
// callers that shadow errors.
func errorsAs(err error, target *dbus.Error) bool {
	if de, ok := err.(dbus.Error); ok {
		*target = de
		return true
	}
	return false
}

// Query implements tern.Connection: rows arrive over the endpoint's
// pipe with the shared frame layout.
func (c *Connection) Query(ctx context.Context, sparql string) (tern.Cursor, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	var cols []string
	var fd dbus.UnixFD
	call := c.obj.CallWithContext(ctx, InterfaceName+".Query", 0, sparql)
	if call.Err != nil {
		return nil, mapDBusError(call.Err)
	}
	if err := call.Store(&cols, &fd); err != nil {
		return nil, mapDBusError(err)
	}
	return newFDCursor(cols, os.NewFile(uintptr(fd), "tern-cursor")), nil
}

// QueryStatement substitutes parameters client-side, like the HTTP
// connection does.
func (c *Connection) QueryStatement(ctx context.Context, sparql string) (tern.Statement, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return &busStatement{conn: c, text: sparql, bindings: make(map[string]string)}, nil
}

// Update implements tern.Connection.
func (c *Connection) Update(ctx context.Context, sparql string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	call := c.obj.CallWithContext(ctx, InterfaceName+".Update", 0, sparql)
	return mapDBusError(call.Err)
}

// UpdateResource ships the tree as INSERT DATA.
func (c *Connection) UpdateResource(ctx context.Context, graph string, res *tern.Resource) error {
	quads, err := res.Quads(graph)
	if err != nil {
		return err
	}
	return c.Update(ctx, serialize.RenderInsertData(quads))
}

// Serialize implements tern.Connection.
func (c *Connection) Serialize(ctx context.Context, flags tern.SerializeFlags, format tern.RDFFormat, sparql string) (io.ReadCloser, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	var fd dbus.UnixFD
	call := c.obj.CallWithContext(ctx, InterfaceName+".Serialize", 0, sparql, uint32(format))
	if call.Err != nil {
		return nil, mapDBusError(call.Err)
	}
	if err := call.Store(&fd); err != nil {
		return nil, mapDBusError(err)
	}
	return os.NewFile(uintptr(fd), "tern-serialize"), nil
}

// Deserialize implements tern.Connection: the source streams to the
// endpoint over a pipe.
func (c *Connection) Deserialize(ctx context.Context, flags tern.DeserializeFlags, format tern.RDFFormat, defaultGraph string, src io.Reader) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	r, w, err := os.Pipe()
	if err != nil {
		return err
	}
	copyErr := make(chan error, 1)
	go func() {
		_, err := io.Copy(w, src)
		w.Close()
		copyErr <- err
	}()
	call := c.obj.CallWithContext(ctx, InterfaceName+".Deserialize", 0,
		uint32(format), defaultGraph, dbus.UnixFD(r.Fd()))
	r.Close()
	if err := <-copyErr; err != nil {
		return err
	}
	return mapDBusError(call.Err)
}

// MapConnection is local-only.
func (c *Connection) MapConnection(name string, other tern.Connection) error {
	return tern.NewError(tern.ErrUnsupported, "map_connection is not available over the bus")
}

// Close implements tern.Connection. The underlying bus connection is
// owned by the caller and stays open.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

// --- FD cursor ---

// fdCursor streams framed rows from the endpoint's pipe. Forward-only;
// cells are display strings (empty = unbound).
type fdCursor struct {
	cols []string
	f    *os.File
	fr   *frameReader

	row    []string
	err    error
	closed bool
}

func newFDCursor(cols []string, f *os.File) *fdCursor {
	return &fdCursor{cols: cols, f: f, fr: newFrameReader(f)}
}

func (c *fdCursor) Next(ctx context.Context) bool {
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
	row, err := c.fr.readRow()
	if err == io.EOF {
		return false
	}
	if err != nil {
		c.err = err
		return false
	}
	c.row = row
	return true
}

func (c *fdCursor) Err() error    { return c.err }
func (c *fdCursor) NColumns() int { return len(c.cols) }

func (c *fdCursor) VariableName(col int) string {
	if col < 0 || col >= len(c.cols) {
		return ""
	}
	return c.cols[col]
}

func (c *fdCursor) cell(col int) string {
	if c.row == nil || col < 0 || col >= len(c.row) {
		return ""
	}
	return c.row[col]
}

func (c *fdCursor) ValueType(col int) tern.ValueType {
	v := c.cell(col)
	if v == "" {
		return tern.TypeUnbound
	}
	if strings.HasPrefix(v, "urn:bnode:") {
		return tern.TypeBlank
	}
	return tern.TypeString
}

func (c *fdCursor) GetString(col int) (string, string) { return c.cell(col), "" }

func (c *fdCursor) GetInteger(col int) int64 {
	var v int64
	fmt.Sscanf(c.cell(col), "%d", &v)
	return v
}

func (c *fdCursor) GetDouble(col int) float64 {
	var v float64
	fmt.Sscanf(c.cell(col), "%g", &v)
	return v
}

func (c *fdCursor) GetBoolean(col int) bool {
	v := c.cell(col)
	return v == "1" || v == "true"
}

func (c *fdCursor) GetDateTime(col int) time.Time {
	if t, err := time.Parse(time.RFC3339, c.cell(col)); err == nil {
		return t
	}
	return time.Time{}
}

func (c *fdCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.f.Close()
}

// busStatement substitutes bound parameters into the query text before
// forwarding, mirroring the HTTP statement.
type busStatement struct {
	conn *Connection
	text string

	mu       sync.Mutex
	bindings map[string]string
}

func (s *busStatement) bind(name, rendered string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[name] = rendered
}

func (s *busStatement) BindString(name, value string) {
	s.bind(name, `"`+rdf.EscapeString(value)+`"`)
}

func (s *busStatement) BindInt(name string, value int64) {
	s.bind(name, fmt.Sprintf("%d", value))
}

func (s *busStatement) BindDouble(name string, value float64) {
	s.bind(name, fmt.Sprintf("%g", value))
}

func (s *busStatement) BindBoolean(name string, value bool) {
	s.bind(name, fmt.Sprintf("%t", value))
}

func (s *busStatement) BindDateTime(name string, value time.Time) {
	s.bind(name, `"`+value.Format(time.RFC3339)+`"^^<http://www.w3.org/2001/XMLSchema#dateTime>`)
}

func (s *busStatement) ClearBindings() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = make(map[string]string)
}

func (s *busStatement) substitute() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.text
	for name, rendered := range s.bindings {
		out = strings.ReplaceAll(out, "~"+name, rendered)
	}
	return out
}

func (s *busStatement) Execute(ctx context.Context) (tern.Cursor, error) {
	return s.conn.Query(ctx, s.substitute())
}

func (s *busStatement) Serialize(ctx context.Context, flags tern.SerializeFlags, format tern.ResultFormat) (io.ReadCloser, error) {
	cur, err := s.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return serialize.NewResultsReader(ctx, cur, format)
}

func (s *busStatement) Close() error {
	s.ClearBindings()
	return nil
}
