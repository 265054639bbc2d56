package httpd

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/serialize"
)

// Endpoint exposes a connection over the SPARQL HTTP protocol:
// GET ?query=, POST form or application/sparql-query for queries, and
// POST application/sparql-update for updates. Authentication is the
// embedder's concern; the endpoint performs none.
type Endpoint struct {
	conn tern.Connection
	log  *slog.Logger
	e    *echo.Echo
	g    *errgroup.Group
}

// EndpointOption configures an Endpoint.
type EndpointOption func(*Endpoint)

// WithEndpointLogger overrides the default logger.
func WithEndpointLogger(log *slog.Logger) EndpointOption {
	return func(ep *Endpoint) { ep.log = log }
}

// NewEndpoint wraps conn. Call Start to begin serving.
func NewEndpoint(conn tern.Connection, opts ...EndpointOption) *Endpoint {
	ep := &Endpoint{conn: conn, log: slog.Default()}
	for _, o := range opts {
		o(ep)
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/sparql", ep.handleQuery)
	e.POST("/sparql", ep.handlePost)
	ep.e = e
	return ep
}

// Handler returns the underlying HTTP handler, for embedding into an
// existing server or a test.
func (ep *Endpoint) Handler() http.Handler { return ep.e }

// Start serves on addr until Shutdown.
func (ep *Endpoint) Start(addr string) error {
	ep.g = &errgroup.Group{}
	ep.g.Go(func() error {
		err := ep.e.Start(addr)
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	return nil
}

// Shutdown stops the server and waits for the serve loop.
func (ep *Endpoint) Shutdown(ctx context.Context) error {
	if err := ep.e.Shutdown(ctx); err != nil {
		return err
	}
	if ep.g != nil {
		return ep.g.Wait()
	}
	return nil
}

func (ep *Endpoint) handleQuery(c echo.Context) error {
	query := c.QueryParam("query")
	if query == "" {
		return c.String(http.StatusBadRequest, "missing query parameter")
	}
	return ep.runQuery(c, query)
}

func (ep *Endpoint) handlePost(c echo.Context) error {
	contentType := c.Request().Header.Get(echo.HeaderContentType)
	switch {
	case strings.HasPrefix(contentType, "application/sparql-update"):
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		if err := ep.conn.Update(c.Request().Context(), string(body)); err != nil {
			return ep.failure(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	case strings.HasPrefix(contentType, "application/sparql-query"):
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		return ep.runQuery(c, string(body))
	default:
		// Form-encoded: query= or update=.
		if q := c.FormValue("query"); q != "" {
			return ep.runQuery(c, q)
		}
		if u := c.FormValue("update"); u != "" {
			if err := ep.conn.Update(c.Request().Context(), u); err != nil {
				return ep.failure(c, err)
			}
			return c.NoContent(http.StatusNoContent)
		}
		return c.String(http.StatusBadRequest, "missing query or update")
	}
}

// negotiated picks the response format from the Accept header.
func negotiated(accept string) (tern.ResultFormat, tern.RDFFormat, bool) {
	switch {
	case strings.Contains(accept, "text/turtle"):
		return 0, tern.FormatTurtle, true
	case strings.Contains(accept, "application/trig"):
		return 0, tern.FormatTriG, true
	case strings.Contains(accept, "application/ld+json"):
		return 0, tern.FormatJSONLD, true
	case strings.Contains(accept, "application/sparql-results+xml"):
		return tern.ResultsXML, 0, false
	case strings.Contains(accept, "text/tab-separated-values"):
		return tern.ResultsTSV, 0, false
	default:
		return tern.ResultsJSON, 0, false
	}
}

func (ep *Endpoint) runQuery(c echo.Context, query string) error {
	ctx := c.Request().Context()
	resultFormat, graphFormat, wantGraph := negotiated(c.Request().Header.Get("Accept"))

	if wantGraph {
		stream, err := ep.conn.Serialize(ctx, tern.SerializeFlagsNone, graphFormat, query)
		if err != nil {
			return ep.failure(c, err)
		}
		defer stream.Close()
		return c.Stream(http.StatusOK, graphFormat.String(), stream)
	}

	cur, err := ep.conn.Query(ctx, query)
	if err != nil {
		return ep.failure(c, err)
	}
	stream, err := serialize.NewResultsReader(ctx, cur, resultFormat)
	if err != nil {
		cur.Close()
		return ep.failure(c, err)
	}
	defer stream.Close()
	return c.Stream(http.StatusOK, resultFormat.String(), stream)
}

// failure maps store errors onto HTTP statuses.
func (ep *Endpoint) failure(c echo.Context, err error) error {
	ep.log.Warn("request failed", "error", err)
	status := http.StatusInternalServerError
	switch tern.CodeOf(err) {
	case tern.ErrParse, tern.ErrUnknownPrefix, tern.ErrUnknownClass, tern.ErrUnknownProperty, tern.ErrType:
		status = http.StatusBadRequest
	case tern.ErrUnsupported:
		status = http.StatusNotImplemented
	}
	return c.String(status, err.Error())
}
