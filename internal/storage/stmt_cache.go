package storage

import (
	"container/list"
	"context"
	"database/sql"
)

// stmtCache is a small LRU of prepared statements keyed by SQL text.
// Callers hold the DB mutex; the cache itself is not locked.
type stmtCache struct {
	db    *sql.DB
	cap   int
	order *list.List // front = most recent; values are *cacheEntry
	byKey map[string]*list.Element
}

type cacheEntry struct {
	key  string
	stmt *sql.Stmt
}

func newStmtCache(db *sql.DB, capacity int) *stmtCache {
	return &stmtCache{
		db:    db,
		cap:   capacity,
		order: list.New(),
		byKey: make(map[string]*list.Element, capacity),
	}
}

// get returns the prepared statement for query, preparing and caching
// it if needed.
func (c *stmtCache) get(ctx context.Context, query string) (*sql.Stmt, error) {
	if el, ok := c.byKey[query]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*cacheEntry).stmt, nil
	}
	stmt, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	el := c.order.PushFront(&cacheEntry{key: query, stmt: stmt})
	c.byKey[query] = el
	for c.order.Len() > c.cap {
		oldest := c.order.Back()
		entry := oldest.Value.(*cacheEntry)
		entry.stmt.Close()
		c.order.Remove(oldest)
		delete(c.byKey, entry.key)
	}
	return stmt, nil
}

// clear closes every cached statement.
func (c *stmtCache) clear() {
	for el := c.order.Front(); el != nil; el = el.Next() {
		el.Value.(*cacheEntry).stmt.Close()
	}
	c.order.Init()
	c.byKey = make(map[string]*list.Element, c.cap)
}
