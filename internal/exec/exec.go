package exec

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/internal/compile"
	"github.com/tern-db/tern/internal/storage"
	"github.com/tern-db/tern/ontology"
	"github.com/tern-db/tern/sparql"
)

// Executor drives compiled queries and updates against one storage
// handle. It owns blank-node scoping policy and change notification.
type Executor struct {
	db       *storage.DB
	model    *ontology.Model
	compiler *compile.Compiler
	readOnly bool
	// anonBNodes makes blank-node labels in updates mint fresh
	// identities per update request.
	anonBNodes bool
	log        *slog.Logger

	docResolver DocumentResolver

	notifyMu  sync.Mutex
	notifiers []tern.Notifier
}

// Config configures a new Executor.
type Config struct {
	ReadOnly        bool
	AnonymousBNodes bool
	Logger          *slog.Logger
}

// New returns an executor over db with the given ontology model.
func New(db *storage.DB, model *ontology.Model, cfg Config) *Executor {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		db:         db,
		model:      model,
		compiler:   compile.New(model),
		readOnly:   cfg.ReadOnly,
		anonBNodes: cfg.AnonymousBNodes,
		log:        log,
	}
}

// Model returns the executor's frozen ontology model.
func (e *Executor) Model() *ontology.Model { return e.model }

// DB exposes the storage handle to the connection layer (backup).
func (e *Executor) DB() *storage.DB { return e.db }

// AddNotifier registers a change-event receiver.
func (e *Executor) AddNotifier(n tern.Notifier) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	e.notifiers = append(e.notifiers, n)
}

// resolveArgs materializes compiled args against statement bindings.
// Unbound parameters become NULL, which evaluates as unbound.
func resolveArgs(args []compile.Arg, bindings map[string]any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if a.Param == "" {
			out[i] = a.Value
			continue
		}
		if bindings != nil {
			out[i] = bindings[a.Param]
		}
	}
	return out
}

// Query compiles and runs a parsed query, returning a typed cursor.
// DESCRIBE and CONSTRUCT cursors use the quad-view column convention
// (s, p, o, k, l, g).
func (e *Executor) Query(ctx context.Context, q *sparql.Query, bindings map[string]any) (tern.Cursor, error) {
	switch f := q.Form.(type) {
	case *sparql.SelectQuery, *sparql.AskQuery:
		compiled, err := e.compiler.CompileSelect(q)
		if err != nil {
			return nil, err
		}
		return e.runCompiled(ctx, compiled, bindings)
	case *sparql.DescribeQuery:
		return e.runDescribe(ctx, q, f, bindings)
	case *sparql.ConstructQuery:
		return e.runConstruct(ctx, q, f, bindings)
	default:
		return nil, tern.NewError(tern.ErrInternal, "unknown query form %T", q.Form)
	}
}

// CompileQuery exposes compilation for prepared statements.
func (e *Executor) CompileQuery(q *sparql.Query) (*compile.Query, error) {
	switch q.Form.(type) {
	case *sparql.SelectQuery, *sparql.AskQuery:
		return e.compiler.CompileSelect(q)
	default:
		return nil, tern.NewError(tern.ErrUnsupported,
			"prepared statements support SELECT and ASK")
	}
}

// RunCompiled executes an already-compiled query with bindings.
func (e *Executor) RunCompiled(ctx context.Context, c *compile.Query, bindings map[string]any) (tern.Cursor, error) {
	return e.runCompiled(ctx, c, bindings)
}

func (e *Executor) runCompiled(ctx context.Context, c *compile.Query, bindings map[string]any) (tern.Cursor, error) {
	rows, err := e.db.Query(ctx, c.SQL, resolveArgs(c.Args, bindings)...)
	if err != nil {
		return nil, err
	}
	return NewCursor(rows, c.Columns), nil
}

// runDescribe resolves the target set (constants plus WHERE-bound
// variables), then streams the quad view over it.
func (e *Executor) runDescribe(ctx context.Context, q *sparql.Query, f *sparql.DescribeQuery, bindings map[string]any) (tern.Cursor, error) {
	var subjects []string
	seen := make(map[string]bool)
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			subjects = append(subjects, s)
		}
	}

	var wantVars []sparql.Var
	for _, t := range f.Targets {
		if iri, ok := sparql.AsIRI(t); ok {
			add(string(iri))
		} else if v, ok := t.(sparql.Var); ok {
			wantVars = append(wantVars, v)
		}
	}

	if len(f.Where.Elements) > 0 && (len(wantVars) > 0 || f.Star) {
		sel := &sparql.SelectQuery{Star: f.Star, Where: f.Where, Mods: f.Mods}
		for _, v := range wantVars {
			sel.Items = append(sel.Items, sparql.SelectItem{Var: v})
		}
		inner := &sparql.Query{Base: q.Base, Prefixes: q.Prefixes, Form: sel}
		compiled, err := e.compiler.CompileSelect(inner)
		if err != nil {
			return nil, err
		}
		cur, err := e.runCompiled(ctx, compiled, bindings)
		if err != nil {
			return nil, err
		}
		for cur.Next(ctx) {
			for i := 0; i < cur.NColumns(); i++ {
				if cur.ValueType(i) == tern.TypeURI || cur.ValueType(i) == tern.TypeBlank {
					s, _ := cur.GetString(i)
					add(s)
				}
			}
		}
		err = cur.Err()
		cur.Close()
		if err != nil {
			return nil, err
		}
	}

	if len(subjects) == 0 {
		// Empty describe: zero-row quad view.
		return newEmptyQuadCursor(), nil
	}
	compiled := e.compiler.CompileDescribeSubjects(subjects)
	return e.runCompiled(ctx, compiled, bindings)
}
