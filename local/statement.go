package local

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/internal/compile"
	"github.com/tern-db/tern/serialize"
)

// statement is a prepared query with bindable `~name` parameters. The
// compiled form is shared through the connection's cache; bindings are
// per statement.
type statement struct {
	conn     *Connection
	compiled *compile.Query

	mu       sync.Mutex
	bindings map[string]any
}

func (s *statement) bind(name string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[name] = v
}

func (s *statement) BindString(name, value string)          { s.bind(name, value) }
func (s *statement) BindInt(name string, value int64)       { s.bind(name, value) }
func (s *statement) BindDouble(name string, value float64)  { s.bind(name, value) }
func (s *statement) BindBoolean(name string, value bool)    { s.bind(name, value) }
func (s *statement) BindDateTime(name string, value time.Time) {
	s.bind(name, value.Format(time.RFC3339))
}

func (s *statement) ClearBindings() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = make(map[string]any)
}

// Execute runs the statement with the current bindings.
func (s *statement) Execute(ctx context.Context) (tern.Cursor, error) {
	if err := s.conn.checkOpen(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	bindings := make(map[string]any, len(s.bindings))
	for k, v := range s.bindings {
		bindings[k] = v
	}
	s.mu.Unlock()
	return s.conn.ex.RunCompiled(ctx, s.compiled, bindings)
}

// Serialize runs the statement and streams the result document.
func (s *statement) Serialize(ctx context.Context, flags tern.SerializeFlags, format tern.ResultFormat) (io.ReadCloser, error) {
	cur, err := s.Execute(ctx)
	if err != nil {
		return nil, err
	}
	if s.compiled.Ask {
		defer cur.Close()
		result := cur.Next(ctx) && cur.GetBoolean(0)
		if err := cur.Err(); err != nil {
			return nil, err
		}
		return serialize.NewBooleanReader(result, format)
	}
	return serialize.NewResultsReader(ctx, cur, format)
}

// Close releases per-statement state. The compiled form stays cached
// on the connection.
func (s *statement) Close() error {
	s.ClearBindings()
	return nil
}
