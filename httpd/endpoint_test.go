package httpd_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/httpd"
	"github.com/tern-db/tern/local"
)

func startEndpoint(t *testing.T) (*httptest.Server, *local.Connection) {
	t.Helper()
	conn, err := local.New(context.Background(), tern.FlagNone, t.TempDir(), "../ontologies")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ep := httpd.NewEndpoint(conn)
	ts := httptest.NewServer(ep.Handler())
	t.Cleanup(ts.Close)
	return ts, conn
}

func TestEndpoint_QueryAndUpdateOverHTTP(t *testing.T) {
	ts, _ := startEndpoint(t)

	// Update via application/sparql-update.
	resp, err := http.Post(ts.URL+"/sparql", "application/sparql-update",
		strings.NewReader(`INSERT DATA { <http://x/a> a nmm:MusicPiece ; nie:title "Aaa" }`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Query via GET ?query=.
	q := url.QueryEscape(`SELECT ?t WHERE { <http://x/a> nie:title ?t }`)
	resp, err = http.Get(ts.URL + "/sparql?query=" + q)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"Aaa"`)
	assert.Contains(t, string(body), `"vars":["t"]`)
}

func TestEndpoint_ParseErrorIs400(t *testing.T) {
	ts, _ := startEndpoint(t)
	resp, err := http.Get(ts.URL + "/sparql?query=" + url.QueryEscape("SELECT WHERE"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEndpoint_GraphNegotiation(t *testing.T) {
	ts, _ := startEndpoint(t)
	resp, err := http.Post(ts.URL+"/sparql", "application/sparql-update",
		strings.NewReader(`INSERT DATA { <http://x/a> a nmm:MusicPiece ; nie:title "Aaa" }`))
	require.NoError(t, err)
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet,
		ts.URL+"/sparql?query="+url.QueryEscape(`DESCRIBE <http://x/a>`), nil)
	req.Header.Set("Accept", "text/turtle")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Aaa")
	assert.Contains(t, string(body), "@prefix")
}

func TestHTTPConnection_RoundTrip(t *testing.T) {
	ts, _ := startEndpoint(t)
	client := httpd.NewConnection(ts.URL + "/sparql")
	defer client.Close()
	ctx := context.Background()

	require.NoError(t, client.Update(ctx,
		`INSERT DATA { <http://x/a> a nmm:MusicPiece ; nie:title "Aaa" }`))

	cur, err := client.Query(ctx, `SELECT ?t WHERE { <http://x/a> nie:title ?t }`)
	require.NoError(t, err)
	defer cur.Close()
	require.True(t, cur.Next(ctx), "err: %v", cur.Err())
	v, _ := cur.GetString(0)
	assert.Equal(t, "Aaa", v)
	assert.Equal(t, tern.TypeString, cur.ValueType(0))

	// Statement with client-side parameter substitution.
	stmt, err := client.QueryStatement(ctx, `SELECT ?s WHERE { ?s nie:title ~arg1 }`)
	require.NoError(t, err)
	stmt.BindString("arg1", "Aaa")
	c2, err := stmt.Execute(ctx)
	require.NoError(t, err)
	require.True(t, c2.Next(ctx), "err: %v", c2.Err())
	s, _ := c2.GetString(0)
	assert.Equal(t, "http://x/a", s)
	c2.Close()

	// Errors surface with codes.
	err = client.Update(ctx, `INSERT bogus`)
	require.Error(t, err)
	assert.Equal(t, tern.ErrParse, tern.CodeOf(err))
}

func TestHTTPConnection_ServiceFederation(t *testing.T) {
	ts, _ := startEndpoint(t)
	ctx := context.Background()

	remote := httpd.NewConnection(ts.URL + "/sparql")
	require.NoError(t, remote.Update(ctx,
		`INSERT DATA { <http://x/a> a nmm:MusicPiece ; nie:title "Aaa" }`))

	b, err := local.New(ctx, tern.FlagNone, t.TempDir(), "../ontologies")
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.MapConnection("remote", remote))

	cur, err := b.Query(ctx, `SELECT ?t WHERE { SERVICE <private:remote> { ?x nie:title ?t } }`)
	require.NoError(t, err)
	defer cur.Close()
	require.True(t, cur.Next(ctx), "err: %v", cur.Err())
	v, _ := cur.GetString(0)
	assert.Equal(t, "Aaa", v)
}
