package rdf

import (
	"fmt"
	"strings"
)

// EscapeString escapes s for embedding in a SPARQL or Turtle string
// literal. The escape set is exactly the Turtle string-escape set; the
// function is an involution with UnescapeString.
func EscapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '"':
			b.WriteString(`\"`)
		case '\'':
			b.WriteString(`\'`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// UnescapeString reverses EscapeString. Unknown escapes are an error.
func UnescapeString(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("dangling escape at end of string")
		}
		switch s[i] {
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case '"':
			b.WriteByte('"')
		case '\'':
			b.WriteByte('\'')
		case '\\':
			b.WriteByte('\\')
		case 'u', 'U':
			n := 4
			if s[i] == 'U' {
				n = 8
			}
			if i+n >= len(s) {
				return "", fmt.Errorf("truncated \\%c escape", s[i])
			}
			var r rune
			for _, h := range s[i+1 : i+1+n] {
				d, err := hexVal(byte(h))
				if err != nil {
					return "", err
				}
				r = r<<4 | rune(d)
			}
			b.WriteRune(r)
			i += n
		default:
			return "", fmt.Errorf("unknown escape \\%c", s[i])
		}
	}
	return b.String(), nil
}

func hexVal(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	}
	return 0, fmt.Errorf("invalid hex digit %q", c)
}

// iriEscapeSet lists the printable characters percent-encoded in stored
// IRIs, besides space and controls below U+0020.
const iriEscapeSet = "{}`\"^|\\"

// EscapeIRI percent-encodes the characters that may not appear raw in a
// stored IRI: space, controls below U+0020, and the members of
// iriEscapeSet. Already-encoded input passes through unchanged, so the
// function is idempotent on its own output.
func EscapeIRI(iri string) IRI {
	var b strings.Builder
	b.Grow(len(iri))
	for i := 0; i < len(iri); i++ {
		c := iri[i]
		if c < 0x20 || c == ' ' || strings.IndexByte(iriEscapeSet, c) >= 0 {
			fmt.Fprintf(&b, "%%%02X", c)
		} else {
			b.WriteByte(c)
		}
	}
	return IRI(b.String())
}
