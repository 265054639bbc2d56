// Package storage is the embedded relational engine backing the RDF
// store: a single SQLite connection per DB handle, WAL journaling, a
// bounded prepared-statement cache, schema projection for the ontology
// model, the full-text index and the online backup facility.
//
// A DB serializes all access behind its own mutex. Concurrent readers
// of the same database file go through their own DB handles; WAL keeps
// them non-blocking against the single writer.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/tern-db/tern"
)

// driverSeq distinguishes per-open driver registrations: the service
// virtual table and the user functions close over per-connection state,
// so each DB registers its own driver name.
var driverSeq atomic.Int64

// Options tune Open.
type Options struct {
	ReadOnly bool
	// VTabModules are virtual-table modules to register at connect time
	// (the federated SERVICE table).
	VTabModules map[string]sqlite3.Module
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DB is one storage handle: a single serialized SQLite connection.
type DB struct {
	mu   sync.Mutex
	db   *sql.DB
	conn *sqlite3.SQLiteConn
	path string
	log  *slog.Logger

	selectCache *stmtCache
	updateCache *stmtCache

	inTx bool
}

const (
	selectCacheSize = 100
	updateCacheSize = 100

	// busyRetries bounds the backoff loop on SQLITE_BUSY.
	busyRetries = 8
	busyBaseWait = 5 * time.Millisecond
)

// Open creates or opens the database file at path and applies the
// required pragmas. The schema is not touched; see EnsureSchema.
func Open(path string, opts Options) (*DB, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	d := &DB{path: path, log: log}

	// Each handle registers a private driver so the connect hook can
	// capture the raw connection (backup API) and bind per-handle
	// virtual tables.
	name := fmt.Sprintf("sqlite3_tern_%d", driverSeq.Add(1))
	sql.Register(name, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			d.conn = conn
			for modName, mod := range opts.VTabModules {
				if err := conn.CreateModule(modName, mod); err != nil {
					return fmt.Errorf("register module %s: %w", modName, err)
				}
			}
			return registerFunctions(conn)
		},
	})

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_synchronous=NORMAL"
	if opts.ReadOnly {
		dsn += "&mode=ro"
	}
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer, one connection: SQLite serializes writers at the file
	// level anyway, and a single connection keeps statement caching and
	// transaction state simple.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect: %w", wrapSQLiteErr(err))
	}

	d.db = db
	d.selectCache = newStmtCache(db, selectCacheSize)
	d.updateCache = newStmtCache(db, updateCacheSize)
	return d, nil
}

// Close releases the handle and its cached statements.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	d.selectCache.clear()
	d.updateCache.clear()
	err := d.db.Close()
	d.db = nil
	return err
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Query runs a cached select statement.
func (d *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	d.mu.Lock()
	stmt, err := d.selectCache.get(ctx, query)
	d.mu.Unlock()
	if err != nil {
		return nil, wrapSQLiteErr(err)
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, wrapSQLiteErr(err)
	}
	return rows, nil
}

// QueryRow runs a cached select returning a single row.
func (d *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	d.mu.Lock()
	stmt, err := d.selectCache.get(ctx, query)
	d.mu.Unlock()
	if err != nil {
		// Defer the error to Scan via a query that cannot prepare.
		return d.db.QueryRowContext(ctx, query, args...)
	}
	return stmt.QueryRowContext(ctx, args...)
}

// Exec runs a cached update statement with bounded busy retry.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	d.mu.Lock()
	stmt, err := d.updateCache.get(ctx, query)
	d.mu.Unlock()
	if err != nil {
		return nil, wrapSQLiteErr(err)
	}
	var res sql.Result
	err = d.withBusyRetry(ctx, func() error {
		var execErr error
		res, execErr = stmt.ExecContext(ctx, args...)
		return execErr
	})
	if err != nil {
		return nil, wrapSQLiteErr(err)
	}
	return res, nil
}

// ExecRaw runs an uncached statement (DDL, pragmas).
func (d *DB) ExecRaw(ctx context.Context, query string, args ...any) error {
	err := d.withBusyRetry(ctx, func() error {
		_, execErr := d.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return wrapSQLiteErr(err)
}

// Begin opens a transaction. The handle tracks at most one open
// transaction; nesting is a programming error.
func (d *DB) Begin(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inTx {
		return tern.NewError(tern.ErrInternal, "nested transaction")
	}
	if err := d.execLocked(ctx, "BEGIN IMMEDIATE"); err != nil {
		return err
	}
	d.inTx = true
	return nil
}

// Commit commits the open transaction.
func (d *DB) Commit(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inTx {
		return tern.NewError(tern.ErrInternal, "commit without transaction")
	}
	d.inTx = false
	return d.execLocked(ctx, "COMMIT")
}

// Rollback aborts the open transaction. Rolling back when no
// transaction is open is a no-op, so error paths may call it freely.
func (d *DB) Rollback(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inTx {
		return nil
	}
	d.inTx = false
	return d.execLocked(ctx, "ROLLBACK")
}

// InTx reports whether a transaction is open.
func (d *DB) InTx() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inTx
}

func (d *DB) execLocked(ctx context.Context, query string) error {
	err := d.withBusyRetry(ctx, func() error {
		_, execErr := d.db.ExecContext(ctx, query)
		return execErr
	})
	return wrapSQLiteErr(err)
}

// withBusyRetry retries fn on SQLITE_BUSY with exponential backoff, up
// to busyRetries retries after the first attempt.
func (d *DB) withBusyRetry(ctx context.Context, fn func() error) error {
	wait := busyBaseWait
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !isBusy(err) || attempt >= busyRetries {
			return err
		}
		d.log.Debug("database busy, retrying", "attempt", attempt+1, "wait", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// Backup writes a consistent snapshot of the database to destPath using
// the SQLite online-backup API. It holds the handle's mutex, so other
// calls on this handle wait until the backup completes.
func (d *DB) Backup(ctx context.Context, destPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return tern.NewError(tern.ErrInternal, "backup: connection not initialized")
	}

	destDB, err := Open(destPath, Options{Logger: d.log})
	if err != nil {
		return fmt.Errorf("open backup target: %w", err)
	}
	defer destDB.Close()
	// Force the lazy connection so the hook captures conn.
	if err := destDB.db.PingContext(ctx); err != nil {
		return wrapSQLiteErr(err)
	}

	bk, err := destDB.conn.Backup("main", d.conn, "main")
	if err != nil {
		return wrapSQLiteErr(err)
	}
	defer bk.Finish()
	for {
		done, err := bk.Step(64)
		if err != nil {
			return wrapSQLiteErr(err)
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func isBusy(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked)
}

// wrapSQLiteErr maps engine errors onto the SPARQL error domain.
// Constraint and full-disk failures get their own codes; everything
// else surfaces as internal.
func wrapSQLiteErr(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrConstraint:
			return tern.WrapError(tern.ErrConstraint, err, "%v", err)
		case sqlite3.ErrFull:
			return tern.WrapError(tern.ErrNoSpace, err, "storage is full")
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return tern.WrapError(tern.ErrCancelled, err, "operation cancelled")
	}
	return err
}
