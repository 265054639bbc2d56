package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/ontology"
)

func openDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "meta.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.EnsureBaseSchema(context.Background()))
	return db
}

func testModel(t *testing.T) *ontology.Model {
	t.Helper()
	m, err := ontology.Load("../../ontologies")
	require.NoError(t, err)
	return m
}

func TestOpen_CreatesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")
	db, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, db.EnsureBaseSchema(context.Background()))
	require.NoError(t, db.Close())

	db2, err := Open(path, Options{})
	require.NoError(t, err)
	defer db2.Close()
	var n int
	require.NoError(t, db2.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM Resource").Scan(&n))
}

func TestInternResource_Idempotent(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	id1, err := db.InternResource(ctx, "http://x/a")
	require.NoError(t, err)
	id2, err := db.InternResource(ctx, "http://x/a")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	uri, err := db.ResourceURI(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "http://x/a", uri)

	_, found, err := db.LookupResource(ctx, "http://x/missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInitializeSchema_ProjectsModel(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	m := testModel(t)
	require.NoError(t, db.InitializeSchema(ctx, m))

	// Class tables exist and accept rows.
	require.NoError(t, db.ExecRaw(ctx,
		`INSERT INTO "nmm:MusicPiece" (ID) VALUES (1)`))
	// Side tables exist.
	require.NoError(t, db.ExecRaw(ctx,
		`INSERT INTO "nmm:MusicPiece_nmm:performer" (ID, "performer", graph) VALUES (1, 2, NULL)`))

	// The snapshot round-trips and diffs clean.
	back, ok, err := db.PersistedModel(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, ontology.Diff(back, m).Ops)
}

func TestTransactionRollback(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	require.NoError(t, db.Begin(ctx))
	_, err := db.InternResource(ctx, "http://tx/a")
	require.NoError(t, err)
	require.NoError(t, db.Rollback(ctx))

	_, found, err := db.LookupResource(ctx, "http://tx/a")
	require.NoError(t, err)
	assert.False(t, found)

	// Rollback without a transaction is a no-op.
	assert.NoError(t, db.Rollback(ctx))
	// Nested Begin is a programming error.
	require.NoError(t, db.Begin(ctx))
	err = db.Begin(ctx)
	assert.Equal(t, tern.ErrInternal, tern.CodeOf(err))
	require.NoError(t, db.Commit(ctx))
}

func TestBackupProducesConsistentCopy(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	_, err := db.InternResource(ctx, "http://x/a")
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, db.Backup(ctx, dest))

	copyDB, err := Open(dest, Options{})
	require.NoError(t, err)
	defer copyDB.Close()
	_, found, err := copyDB.LookupResource(ctx, "http://x/a")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestStmtCacheEvicts(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	// Far more distinct statements than the cache holds; everything
	// must keep working while old entries fall out.
	for i := 0; i < selectCacheSize+10; i++ {
		var n int
		err := db.QueryRow(ctx, "SELECT COUNT(*) FROM Resource WHERE ID > "+itoa(i)).Scan(&n)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, db.selectCache.order.Len(), selectCacheSize)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"nmm:MusicPiece"`, Quote("nmm:MusicPiece"))
	assert.Equal(t, `"a""b"`, Quote(`a"b`))
}
