package bus

import (
	"context"
	"io"
	"log/slog"
	"os"
	"syscall"

	"github.com/godbus/dbus/v5"

	"github.com/tern-db/tern"
)

// InterfaceName is the D-Bus interface exported by endpoints.
const InterfaceName = "org.tern.Endpoint"

// DefaultObjectPath is where an endpoint exports its connection.
const DefaultObjectPath = "/org/tern/endpoint"

// Endpoint exports a connection on a bus. The endpoint performs no
// authentication.
type Endpoint struct {
	conn tern.Connection
	bus  *dbus.Conn
	path dbus.ObjectPath
	log  *slog.Logger
}

// NewEndpoint exports conn at path on the given bus connection and
// requests name. An empty path selects DefaultObjectPath.
func NewEndpoint(busConn *dbus.Conn, name string, path dbus.ObjectPath, conn tern.Connection, log *slog.Logger) (*Endpoint, error) {
	if path == "" {
		path = DefaultObjectPath
	}
	if log == nil {
		log = slog.Default()
	}
	ep := &Endpoint{conn: conn, bus: busConn, path: path, log: log}
	if err := busConn.Export(ep, path, InterfaceName); err != nil {
		return nil, err
	}
	reply, err := busConn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, tern.NewError(tern.ErrUnsupported, "bus name %s is taken", name)
	}
	return ep, nil
}

// Close releases the exported object.
func (ep *Endpoint) Close() error {
	return ep.bus.Export(nil, ep.path, InterfaceName)
}

func dbusErr(err error) *dbus.Error {
	return dbus.NewError(InterfaceName+".Error."+string(tern.CodeOf(err)),
		[]interface{}{err.Error()})
}

// Query runs a SPARQL query; column names return in the reply and rows
// stream over the returned pipe.
func (ep *Endpoint) Query(query string) ([]string, dbus.UnixFD, *dbus.Error) {
	cur, err := ep.conn.Query(context.Background(), query)
	if err != nil {
		return nil, 0, dbusErr(err)
	}
	cols := make([]string, cur.NColumns())
	for i := range cols {
		cols[i] = cur.VariableName(i)
	}

	r, w, err := os.Pipe()
	if err != nil {
		cur.Close()
		return nil, 0, dbusErr(err)
	}
	go func() {
		defer w.Close()
		defer cur.Close()
		fw := newFrameWriter(w)
		ctx := context.Background()
		for cur.Next(ctx) {
			values := make([]string, cur.NColumns())
			for i := range values {
				if cur.ValueType(i) == tern.TypeUnbound {
					continue
				}
				values[i], _ = cur.GetString(i)
			}
			if err := fw.writeRow(values); err != nil {
				ep.log.Warn("bus cursor write failed", "error", err)
				return
			}
		}
		if err := cur.Err(); err != nil {
			ep.log.Warn("bus cursor failed", "error", err)
		}
		fw.flush()
	}()

	fd, err := dupFD(r)
	if err != nil {
		return nil, 0, dbusErr(err)
	}
	return cols, fd, nil
}

// dupFD detaches the descriptor from the *os.File so the file's
// finalizer cannot close it before the bus message carrying it is
// sent. The dup'd descriptor is owned by the message from here on.
func dupFD(f *os.File) (dbus.UnixFD, error) {
	fd, err := syscall.Dup(int(f.Fd()))
	f.Close()
	if err != nil {
		return 0, err
	}
	return dbus.UnixFD(fd), nil
}

// Update runs a SPARQL update.
func (ep *Endpoint) Update(update string) *dbus.Error {
	if err := ep.conn.Update(context.Background(), update); err != nil {
		return dbusErr(err)
	}
	return nil
}

// Serialize streams a DESCRIBE/CONSTRUCT result in the given format
// over the returned pipe.
func (ep *Endpoint) Serialize(query string, format uint32) (dbus.UnixFD, *dbus.Error) {
	stream, err := ep.conn.Serialize(context.Background(), tern.SerializeFlagsNone, tern.RDFFormat(format), query)
	if err != nil {
		return 0, dbusErr(err)
	}
	r, w, err := os.Pipe()
	if err != nil {
		stream.Close()
		return 0, dbusErr(err)
	}
	go func() {
		defer w.Close()
		defer stream.Close()
		if _, err := io.Copy(w, stream); err != nil {
			ep.log.Warn("bus serialize failed", "error", err)
		}
	}()
	fd, err := dupFD(r)
	if err != nil {
		return 0, dbusErr(err)
	}
	return fd, nil
}

// Deserialize reads RDF in the given format from the passed pipe into
// defaultGraph.
func (ep *Endpoint) Deserialize(format uint32, defaultGraph string, fd dbus.UnixFD) *dbus.Error {
	f := os.NewFile(uintptr(fd), "tern-deserialize")
	defer f.Close()
	err := ep.conn.Deserialize(context.Background(), tern.DeserializeFlagsNone,
		tern.RDFFormat(format), defaultGraph, f)
	if err != nil {
		return dbusErr(err)
	}
	return nil
}
