// Package httpd carries the HTTP half of the connection surface: a
// client connection speaking the SPARQL protocol against any endpoint,
// and a server endpoint exposing a local connection.
package httpd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/rdf"
)

// Connection is a client-side connection to a SPARQL-over-HTTP
// endpoint.
type Connection struct {
	base   string
	client *http.Client

	mu     sync.Mutex
	closed bool
}

// NewConnection returns a connection to the endpoint at baseURL.
func NewConnection(baseURL string) *Connection {
	return &Connection{base: baseURL, client: http.DefaultClient}
}

func (c *Connection) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return tern.NewError(tern.ErrInternal, "connection is closed")
	}
	return nil
}

// Query implements tern.Connection: the query travels as a GET and the
// response document becomes a cursor.
func (c *Connection) Query(ctx context.Context, sparql string) (tern.Cursor, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	u := c.base + "?query=" + url.QueryEscape(sparql)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/sparql-results+json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, wrapTransport(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, httpError(resp)
	}
	return newResultsCursor(resp.Body)
}

// QueryStatement implements tern.Connection. Parameters substitute
// client-side: the remote endpoint sees a fully ground query.
func (c *Connection) QueryStatement(ctx context.Context, sparql string) (tern.Statement, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return &clientStatement{conn: c, text: sparql, bindings: make(map[string]string)}, nil
}

// Update implements tern.Connection via POST application/sparql-update.
func (c *Connection) Update(ctx context.Context, sparql string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base, strings.NewReader(sparql))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/sparql-update")
	resp, err := c.client.Do(req)
	if err != nil {
		return wrapTransport(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return httpError(resp)
	}
	return nil
}

// UpdateResource implements tern.Connection by rendering the tree as
// INSERT DATA.
func (c *Connection) UpdateResource(ctx context.Context, graph string, res *tern.Resource) error {
	quads, err := res.Quads(graph)
	if err != nil {
		return err
	}
	return c.Update(ctx, renderInsertData(quads))
}

// Serialize implements tern.Connection: the response body streams back
// in the negotiated format.
func (c *Connection) Serialize(ctx context.Context, flags tern.SerializeFlags, format tern.RDFFormat, sparql string) (io.ReadCloser, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	u := c.base + "?query=" + url.QueryEscape(sparql)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", format.String())
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, wrapTransport(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, httpError(resp)
	}
	return resp.Body, nil
}

// Deserialize is not part of the SPARQL protocol.
func (c *Connection) Deserialize(ctx context.Context, flags tern.DeserializeFlags, format tern.RDFFormat, defaultGraph string, src io.Reader) error {
	return tern.NewError(tern.ErrUnsupported, "deserialize is not available over HTTP")
}

// MapConnection is local-only.
func (c *Connection) MapConnection(name string, other tern.Connection) error {
	return tern.NewError(tern.ErrUnsupported, "map_connection is not available over HTTP")
}

// Close implements tern.Connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func wrapTransport(err error) error {
	return tern.WrapError(tern.ErrInternal, err, "http transport: %v", err)
}

func httpError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	code := tern.ErrInternal
	if resp.StatusCode == http.StatusBadRequest {
		code = tern.ErrParse
	}
	return tern.NewError(code, "endpoint: %s", msg)
}

// clientStatement substitutes bound parameters into the query text.
type clientStatement struct {
	conn *Connection
	text string

	mu       sync.Mutex
	bindings map[string]string
}

func (s *clientStatement) bind(name, rendered string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[name] = rendered
}

func (s *clientStatement) BindString(name, value string) {
	s.bind(name, `"`+rdf.EscapeString(value)+`"`)
}

func (s *clientStatement) BindInt(name string, value int64) {
	s.bind(name, fmt.Sprintf("%d", value))
}

func (s *clientStatement) BindDouble(name string, value float64) {
	s.bind(name, fmt.Sprintf("%g", value))
}

func (s *clientStatement) BindBoolean(name string, value bool) {
	s.bind(name, fmt.Sprintf("%t", value))
}

func (s *clientStatement) BindDateTime(name string, value time.Time) {
	s.bind(name, `"`+value.Format(time.RFC3339)+`"^^<http://www.w3.org/2001/XMLSchema#dateTime>`)
}

func (s *clientStatement) ClearBindings() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = make(map[string]string)
}

// substitute replaces ~name placeholders with their bound renderings.
func (s *clientStatement) substitute() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.text
	for name, rendered := range s.bindings {
		out = strings.ReplaceAll(out, "~"+name, rendered)
	}
	return out
}

func (s *clientStatement) Execute(ctx context.Context) (tern.Cursor, error) {
	return s.conn.Query(ctx, s.substitute())
}

func (s *clientStatement) Serialize(ctx context.Context, flags tern.SerializeFlags, format tern.ResultFormat) (io.ReadCloser, error) {
	u := s.conn.base + "?query=" + url.QueryEscape(s.substitute())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", format.String())
	resp, err := s.conn.client.Do(req)
	if err != nil {
		return nil, wrapTransport(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, httpError(resp)
	}
	return resp.Body, nil
}

func (s *clientStatement) Close() error {
	s.ClearBindings()
	return nil
}
