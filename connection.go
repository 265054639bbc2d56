package tern

import (
	"context"
	"io"
	"time"
)

// ConnectionFlags tune how a connection is opened.
type ConnectionFlags int

const (
	// FlagNone opens read-write with stable blank nodes.
	FlagNone ConnectionFlags = 0
	// FlagReadOnly refuses updates.
	FlagReadOnly ConnectionFlags = 1 << iota
	// FlagAnonymousBNodes makes blank-node labels in updates mint fresh
	// identities that cannot be looked up by label afterwards.
	FlagAnonymousBNodes
	// FlagForceReindex rebuilds secondary and full-text indexes on open.
	FlagForceReindex
)

// RDFFormat identifies a graph serialization format.
type RDFFormat int

const (
	FormatTurtle RDFFormat = iota
	FormatTriG
	FormatJSONLD
)

func (f RDFFormat) String() string {
	switch f {
	case FormatTurtle:
		return "text/turtle"
	case FormatTriG:
		return "application/trig"
	case FormatJSONLD:
		return "application/ld+json"
	}
	return "unknown"
}

// ResultFormat identifies a SELECT/ASK result serialization format.
type ResultFormat int

const (
	ResultsJSON ResultFormat = iota
	ResultsXML
	ResultsTSV
)

func (f ResultFormat) String() string {
	switch f {
	case ResultsJSON:
		return "application/sparql-results+json"
	case ResultsXML:
		return "application/sparql-results+xml"
	case ResultsTSV:
		return "text/tab-separated-values"
	}
	return "unknown"
}

// SerializeFlags tune graph serialization. None are defined yet; the
// parameter exists so wire protocols stay stable.
type SerializeFlags int

// SerializeFlagsNone is the default.
const SerializeFlagsNone SerializeFlags = 0

// DeserializeFlags mirror SerializeFlags for the read direction.
type DeserializeFlags int

// DeserializeFlagsNone is the default.
const DeserializeFlagsNone DeserializeFlags = 0

// Cursor is a forward-only iterator over result rows with typed column
// accessors. A cursor belongs to its connection: step it from one
// goroutine at a time. Close releases it; closing twice is harmless.
type Cursor interface {
	// Next advances to the next row. It returns false at the end of the
	// result set or after an error; Err distinguishes the two.
	Next(ctx context.Context) bool
	// Err returns the terminal error, if any.
	Err() error

	NColumns() int
	VariableName(col int) string
	ValueType(col int) ValueType

	// GetString returns the cell's display string and, for language-
	// tagged strings, the tag. Unbound cells return "" with lang "".
	GetString(col int) (value string, lang string)
	GetInteger(col int) int64
	GetDouble(col int) float64
	GetBoolean(col int) bool
	GetDateTime(col int) time.Time

	Close() error
}

// Statement is a compiled, optionally parameterized query. Bind methods
// overwrite previous bindings; unbound parameters evaluate as unbound.
// A statement may be executed many times, but only on the connection
// that prepared it.
type Statement interface {
	BindString(name, value string)
	BindInt(name string, value int64)
	BindDouble(name string, value float64)
	BindBoolean(name string, value bool)
	BindDateTime(name string, value time.Time)
	ClearBindings()

	Execute(ctx context.Context) (Cursor, error)
	// Serialize runs the statement and streams the result set in the
	// given format.
	Serialize(ctx context.Context, flags SerializeFlags, format ResultFormat) (io.ReadCloser, error)

	Close() error
}

// Connection is the narrow contract shared by local, bus and HTTP
// connections. A Connection is thread-compatible: concurrent calls are
// legal and serialized internally.
type Connection interface {
	// Query parses, compiles and executes a SPARQL SELECT/ASK/CONSTRUCT/
	// DESCRIBE and returns a cursor over the solutions.
	Query(ctx context.Context, sparql string) (Cursor, error)
	// QueryStatement prepares a (possibly parameterized) query for
	// repeated execution. Prepared statements are cached by query text.
	QueryStatement(ctx context.Context, sparql string) (Statement, error)
	// Update executes a SPARQL update in one transaction.
	Update(ctx context.Context, sparql string) error
	// UpdateResource inserts a Resource tree transactionally into graph
	// (empty for the default graph).
	UpdateResource(ctx context.Context, graph string, res *Resource) error

	// Serialize streams graph data selected by a DESCRIBE/CONSTRUCT
	// query in the given format.
	Serialize(ctx context.Context, flags SerializeFlags, format RDFFormat, sparql string) (io.ReadCloser, error)
	// Deserialize loads RDF from src into defaultGraph.
	Deserialize(ctx context.Context, flags DeserializeFlags, format RDFFormat, defaultGraph string, src io.Reader) error

	// MapConnection registers other under private:name for use in
	// SERVICE clauses evaluated on this connection.
	MapConnection(name string, other Connection) error

	Close() error
}

// Notifier receives change events for classes flagged for notification.
// Callbacks run outside the connection's internal lock but must not
// issue writes on the same connection; post to your own context instead.
type Notifier interface {
	Notify(event ChangeEvent)
}

// ChangeKind says what happened to a resource.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeUpdated
	ChangeRemoved
)

// ChangeEvent is one committed change for one notify-flagged class.
type ChangeEvent struct {
	ClassIRI string
	Changes  []ResourceChange
}

// ResourceChange names one affected (graph, subject) pair.
type ResourceChange struct {
	Kind    ChangeKind
	Graph   string
	Subject string
}
