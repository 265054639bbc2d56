// Package local implements the embedded connection: it owns the
// storage handle, loads and migrates the ontology at open, and routes
// SPARQL through the parser, compiler and execution runtime.
package local

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/httpd"
	"github.com/tern-db/tern/internal/compile"
	"github.com/tern-db/tern/internal/exec"
	"github.com/tern-db/tern/internal/service"
	"github.com/tern-db/tern/internal/storage"
	"github.com/tern-db/tern/ontology"
	"github.com/tern-db/tern/rdf"
	"github.com/tern-db/tern/rdf/jsonld"
	"github.com/tern-db/tern/rdf/turtle"
	"github.com/tern-db/tern/serialize"
	"github.com/tern-db/tern/sparql"
)

// DatabaseFile is the main database filename inside a store directory.
const DatabaseFile = "meta.db"

// Option configures New.
type Option func(*Connection)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Connection) { c.log = log }
}

// Connection is the embedded (in-process) connection.
type Connection struct {
	mu    sync.Mutex
	db    *storage.DB
	model *ontology.Model
	ex    *exec.Executor
	log   *slog.Logger
	flags tern.ConnectionFlags

	// stmtCache memoizes compiled queries by text.
	stmtCache map[string]*compile.Query
	stmtOrder []string

	// mapped are connections registered for private:name SERVICE use.
	mapped map[string]tern.Connection

	closed bool
}

const stmtCacheSize = 100

// New opens (or creates) a store at storePath with the ontology files
// under ontologyPath. Ontology load or migration failures are fatal:
// the connection does not open and the schema is untouched.
func New(ctx context.Context, flags tern.ConnectionFlags, storePath, ontologyPath string, opts ...Option) (*Connection, error) {
	if ontologyPath == "" {
		return nil, tern.NewError(tern.ErrOntologyNotFound, "an ontology directory is required")
	}
	model, err := ontology.Load(ontologyPath)
	if err != nil {
		return nil, tern.WrapError(tern.ErrOntologyNotFound, err, "ontology load failed")
	}

	c := &Connection{
		model:     model,
		flags:     flags,
		log:       slog.Default(),
		stmtCache: make(map[string]*compile.Query),
		mapped:    make(map[string]tern.Connection),
	}
	for _, o := range opts {
		o(c)
	}

	if err := os.MkdirAll(storePath, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	db, err := storage.Open(filepath.Join(storePath, DatabaseFile), storage.Options{
		ReadOnly: flags&tern.FlagReadOnly != 0,
		Logger:   c.log,
		VTabModules: map[string]sqlite3.Module{
			compile.ServiceTable: service.NewModule(c.resolveService),
		},
	})
	if err != nil {
		return nil, err
	}
	c.db = db

	if flags&tern.FlagReadOnly == 0 {
		if err := c.openSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	c.ex = exec.New(db, model, exec.Config{
		ReadOnly:        flags&tern.FlagReadOnly != 0,
		AnonymousBNodes: flags&tern.FlagAnonymousBNodes != 0,
		Logger:          c.log,
	})
	c.ex.SetDocumentResolver(fetchDocument)

	if flags&tern.FlagForceReindex != 0 && flags&tern.FlagReadOnly == 0 {
		if err := db.Reindex(ctx, model); err != nil {
			db.Close()
			return nil, err
		}
	}
	return c, nil
}

// openSchema initializes a fresh database or migrates an existing one.
func (c *Connection) openSchema(ctx context.Context) error {
	if err := c.db.EnsureBaseSchema(ctx); err != nil {
		return err
	}
	old, exists, err := c.db.PersistedModel(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return c.db.InitializeSchema(ctx, c.model)
	}
	if !ontology.NeedsMigration(old, c.model) {
		return nil
	}
	plan := ontology.Diff(old, c.model)
	c.log.Info("ontology changed, migrating schema", "steps", len(plan.Ops))
	return c.db.ApplyMigration(ctx, old, c.model, plan)
}

// resolveService maps SERVICE endpoints: private:name goes through the
// map-connection registry, http(s) endpoints get an HTTP connection.
func (c *Connection) resolveService(ctx context.Context, endpoint string) (tern.Connection, error) {
	if name, ok := strings.CutPrefix(endpoint, "private:"); ok {
		c.mu.Lock()
		conn := c.mapped[name]
		c.mu.Unlock()
		if conn == nil {
			return nil, tern.NewError(tern.ErrUnsupported, "no connection mapped as private:%s", name)
		}
		return conn, nil
	}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return httpd.NewConnection(endpoint), nil
	}
	return nil, tern.NewError(tern.ErrUnsupported, "unsupported SERVICE endpoint %s", endpoint)
}

// fetchDocument resolves LOAD <iri> over HTTP; file: IRIs open the
// local path.
func fetchDocument(ctx context.Context, iri string) (io.ReadCloser, string, error) {
	if path, ok := strings.CutPrefix(iri, "file://"); ok {
		f, err := os.Open(path)
		return f, guessContentType(path), err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iri, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", "text/turtle, application/trig, application/ld+json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("fetch %s: %s", iri, resp.Status)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

func guessContentType(path string) string {
	switch {
	case strings.HasSuffix(path, ".trig"):
		return "application/trig"
	case strings.HasSuffix(path, ".jsonld"), strings.HasSuffix(path, ".json"):
		return "application/ld+json"
	default:
		return "text/turtle"
	}
}

func (c *Connection) parserOptions() []sparql.Option {
	return []sparql.Option{sparql.WithNamespaces(c.model.NamespaceManager())}
}

// resolver adapts the ontology model to the parser's validation hook.
type resolver struct{ m *ontology.Model }

func (r resolver) IsClass(iri rdf.IRI) bool {
	_, ok := r.m.ClassByIRI(iri)
	return ok
}

func (r resolver) IsProperty(iri rdf.IRI) bool {
	_, ok := r.m.PropertyByIRI(iri)
	return ok
}

func (c *Connection) parseQuery(sparqlText string) (*sparql.Query, error) {
	q, err := sparql.ParseQuery(sparqlText, c.parserOptions()...)
	if err != nil {
		return nil, err
	}
	if err := sparql.Validate(q, resolver{c.model}); err != nil {
		return nil, err
	}
	return q, nil
}

// Query implements tern.Connection.
func (c *Connection) Query(ctx context.Context, sparqlText string) (tern.Cursor, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	q, err := c.parseQuery(sparqlText)
	if err != nil {
		return nil, err
	}
	return c.ex.Query(ctx, q, nil)
}

// QueryStatement implements tern.Connection. Compiled statements are
// cached by query text.
func (c *Connection) QueryStatement(ctx context.Context, sparqlText string) (tern.Statement, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	compiled, hit := c.stmtCache[sparqlText]
	c.mu.Unlock()
	if !hit {
		q, err := c.parseQuery(sparqlText)
		if err != nil {
			return nil, err
		}
		compiled, err = c.ex.CompileQuery(q)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if len(c.stmtOrder) >= stmtCacheSize {
			oldest := c.stmtOrder[0]
			c.stmtOrder = c.stmtOrder[1:]
			delete(c.stmtCache, oldest)
		}
		c.stmtCache[sparqlText] = compiled
		c.stmtOrder = append(c.stmtOrder, sparqlText)
		c.mu.Unlock()
	}
	return &statement{conn: c, compiled: compiled, bindings: make(map[string]any)}, nil
}

// Update implements tern.Connection.
func (c *Connection) Update(ctx context.Context, sparqlText string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	u, err := sparql.ParseUpdate(sparqlText, c.parserOptions()...)
	if err != nil {
		return err
	}
	if err := sparql.ValidateUpdate(u, resolver{c.model}); err != nil {
		return err
	}
	return c.ex.Update(ctx, u, nil)
}

// UpdateResource implements tern.Connection: the whole tree goes in as
// one transaction.
func (c *Connection) UpdateResource(ctx context.Context, graph string, res *tern.Resource) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	quads, err := res.Quads(graph)
	if err != nil {
		return err
	}
	return c.ex.InsertQuadStream(ctx, rdf.NewSliceReader(quads), graph)
}

// Serialize implements tern.Connection: the query must be a DESCRIBE
// or CONSTRUCT.
func (c *Connection) Serialize(ctx context.Context, flags tern.SerializeFlags, format tern.RDFFormat, sparqlText string) (io.ReadCloser, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	q, err := c.parseQuery(sparqlText)
	if err != nil {
		return nil, err
	}
	switch q.Form.(type) {
	case *sparql.DescribeQuery, *sparql.ConstructQuery:
	default:
		return nil, tern.NewError(tern.ErrUnsupported, "serialize needs DESCRIBE or CONSTRUCT")
	}
	cur, err := c.ex.Query(ctx, q, nil)
	if err != nil {
		return nil, err
	}
	return serialize.NewGraphReader(ctx, cur, format, c.model.NamespaceManager())
}

// Deserialize implements tern.Connection: parse src and insert into
// defaultGraph in one transaction.
func (c *Connection) Deserialize(ctx context.Context, flags tern.DeserializeFlags, format tern.RDFFormat, defaultGraph string, src io.Reader) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	scope := "doc:" + uuid.NewString() + ":"
	var reader rdf.Reader
	switch format {
	case tern.FormatTurtle:
		reader = turtle.NewReader(src, turtle.WithBlankNodePrefix(scope))
	case tern.FormatTriG:
		reader = turtle.NewReader(src, turtle.WithTriG(), turtle.WithBlankNodePrefix(scope))
	case tern.FormatJSONLD:
		reader = jsonld.NewReader(src, jsonld.WithBlankNodePrefix(scope))
	default:
		return tern.NewError(tern.ErrUnsupported, "unsupported format %v", format)
	}
	defer reader.Close()
	return c.ex.InsertQuadStream(ctx, reader, defaultGraph)
}

// MapConnection implements tern.Connection: other becomes reachable in
// SERVICE clauses as private:name.
func (c *Connection) MapConnection(name string, other tern.Connection) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mapped[name] = other
	return nil
}

// AddNotifier registers a change-event receiver for classes flagged
// nrl:notify.
func (c *Connection) AddNotifier(n tern.Notifier) {
	c.ex.AddNotifier(n)
}

// Backup writes a consistent snapshot of the store to destPath.
func (c *Connection) Backup(ctx context.Context, destPath string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.db.Backup(ctx, destPath)
}

// Close implements tern.Connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

func (c *Connection) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return tern.NewError(tern.ErrInternal, "connection is closed")
	}
	return nil
}
