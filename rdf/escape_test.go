package rdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeString_RoundTrip(t *testing.T) {
	cases := []string{
		"plain",
		"a\"b'c\\d\te\nf",
		"tabs\tand\nnewlines\r",
		"\b\f",
		"",
		"unicode: héllo — ok",
	}
	for _, in := range cases {
		esc := EscapeString(in)
		out, err := UnescapeString(esc)
		require.NoError(t, err, "unescape %q", esc)
		assert.Equal(t, in, out)
	}
}

func TestEscapeString_KnownForm(t *testing.T) {
	got := EscapeString("a\"b'c\\d\te\nf")
	assert.Equal(t, `a\"b\'c\\d\te\nf`, got)
}

func TestUnescapeString_UnicodeEscapes(t *testing.T) {
	out, err := UnescapeString(`café \U0001F600`)
	require.NoError(t, err)
	assert.Equal(t, "café \U0001F600", out)
}

func TestUnescapeString_Errors(t *testing.T) {
	for _, in := range []string{`\q`, `\`, `\u12`, `\uZZZZ`} {
		_, err := UnescapeString(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestEscapeIRI(t *testing.T) {
	got := EscapeIRI("http://x/a b{c}|d^e`f\"g\\h")
	assert.Equal(t, IRI("http://x/a%20b%7Bc%7D%7Cd%5Ee%60f%22g%5Ch"), got)

	// Idempotent on its own output.
	assert.Equal(t, got, EscapeIRI(string(got)))
}

func TestEscapeIRI_Controls(t *testing.T) {
	got := EscapeIRI("http://x/\x01\x1f")
	assert.Equal(t, IRI("http://x/%01%1F"), got)
}
