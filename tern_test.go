package tern

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tern-db/tern/rdf"
)

func TestErrorCodes(t *testing.T) {
	err := NewError(ErrUnknownClass, "unknown class %s", "x")
	assert.Equal(t, ErrUnknownClass, CodeOf(err))
	assert.True(t, HasCode(err, ErrUnknownClass))
	assert.False(t, HasCode(err, ErrParse))
	assert.Equal(t, "unknown-class: unknown class x", err.Error())

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, ErrUnknownClass, CodeOf(wrapped))

	assert.Equal(t, ErrInternal, CodeOf(errors.New("foreign")))
}

func TestErrorPositional(t *testing.T) {
	err := NewError(ErrParse, "bad token")
	err.Line, err.Col = 3, 14
	assert.Equal(t, "parse: 3:14: bad token", err.Error())
}

func TestWrapErrorPreservesCause(t *testing.T) {
	cause := errors.New("disk exploded")
	err := WrapError(ErrNoSpace, cause, "storage is full")
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, ErrNoSpace, CodeOf(err))
}

func TestResourceTree(t *testing.T) {
	r := NewResource("http://x/a")
	require.NoError(t, r.SetValue("http://p/title", "One"))
	require.NoError(t, r.AddValue("http://p/count", int64(2)))
	r.AddURI("http://p/ref", "http://x/b")

	nested := NewBlankResource()
	require.NoError(t, nested.AddValue("http://p/name", "inner"))
	r.AddResource("http://p/child", nested)

	quads, err := r.Quads("http://g")
	require.NoError(t, err)
	// 4 direct values + 1 nested value.
	require.Len(t, quads, 5)
	for _, q := range quads {
		assert.Equal(t, rdf.IRI("http://g"), q.Graph)
	}

	// Predicates enumerate sorted; SetValue replaced, not appended.
	assert.Equal(t, []string{"http://p/child", "http://p/count", "http://p/ref", "http://p/title"},
		r.Predicates())
	require.NoError(t, r.SetValue("http://p/title", "Two"))
	assert.Len(t, r.Values("http://p/title"), 1)
}

func TestResourceIRIEscaping(t *testing.T) {
	r := NewResource("http://x/a b{c}")
	assert.Equal(t, "http://x/a%20b%7Bc%7D", r.Identifier())
}

func TestResourceRejectsUnsupportedValues(t *testing.T) {
	r := NewResource("http://x/a")
	err := r.AddValue("http://p/x", struct{}{})
	assert.Equal(t, ErrType, CodeOf(err))
}

func TestResourceCycleDetected(t *testing.T) {
	a := NewResource("http://x/a")
	b := NewResource("http://x/b")
	a.AddResource("http://p/child", b)
	b.AddResource("http://p/parent", a)
	_, err := a.Quads("")
	require.Error(t, err)
}

func TestValueTypeStrings(t *testing.T) {
	assert.Equal(t, "unbound", TypeUnbound.String())
	assert.Equal(t, "uri", TypeURI.String())
	assert.Equal(t, "datetime", TypeDateTime.String())
}
