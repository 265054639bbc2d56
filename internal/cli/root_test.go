package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_RequiresStoreAndOntology(t *testing.T) {
	_, err := runCommand(t, "query", "SELECT ?s WHERE { ?s a rdfs:Resource }")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--store")
}

func TestQueryUpdateRoundTrip(t *testing.T) {
	store := t.TempDir()
	ontology := "../../ontologies"

	_, err := runCommand(t,
		"--store", store, "--ontology", ontology,
		"update", `INSERT DATA { <http://x/a> a nmm:MusicPiece ; nie:title "Aaa" }`)
	require.NoError(t, err)

	out, err := runCommand(t,
		"--store", store, "--ontology", ontology,
		"query", `SELECT ?t WHERE { <http://x/a> nie:title ?t }`)
	require.NoError(t, err)
	assert.Contains(t, out, "Aaa")

	out, err = runCommand(t,
		"--store", store, "--ontology", ontology,
		"query", "--format", "tsv", `SELECT ?t WHERE { <http://x/a> nie:title ?t }`)
	require.NoError(t, err)
	assert.Contains(t, out, "?t")
}

func TestImportExport(t *testing.T) {
	store := t.TempDir()
	ontology := "../../ontologies"

	doc := filepath.Join(t.TempDir(), "data.ttl")
	require.NoError(t, os.WriteFile(doc, []byte(`
		@prefix nmm: <http://tern.example.org/ontology/nmm#> .
		@prefix nie: <http://tern.example.org/ontology/nie#> .
		<http://x/a> a nmm:MusicPiece ; nie:title "Imported" .
	`), 0o644))

	_, err := runCommand(t,
		"--store", store, "--ontology", ontology, "import", doc)
	require.NoError(t, err)

	out, err := runCommand(t,
		"--store", store, "--ontology", ontology,
		"export", "--query", "DESCRIBE <http://x/a>")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported")
}

func TestUnknownFormatRejected(t *testing.T) {
	_, err := runCommand(t,
		"--store", t.TempDir(), "--ontology", "../../ontologies",
		"query", "--format", "bogus", "SELECT ?s WHERE { ?s a rdfs:Resource }")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown result format")
}
