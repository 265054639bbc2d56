package httpd

import (
	"io"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/rdf"
	"github.com/tern-db/tern/serialize"
)

func newResultsCursor(r io.Reader) (tern.Cursor, error) {
	return serialize.NewResultsJSONCursor(r)
}

func renderInsertData(quads []rdf.Quad) string {
	return serialize.RenderInsertData(quads)
}
