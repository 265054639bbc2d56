package storage

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// regexCache memoizes compiled patterns across REGEX calls; SPARQL
// workloads tend to reuse a handful of patterns.
var regexCache sync.Map // pattern+flags -> *regexp.Regexp

func compileRegex(pattern, flags string) (*regexp.Regexp, error) {
	key := flags + "\x00" + pattern
	if re, ok := regexCache.Load(key); ok {
		return re.(*regexp.Regexp), nil
	}
	goPattern := pattern
	if strings.Contains(flags, "i") {
		goPattern = "(?i)" + goPattern
	}
	if strings.Contains(flags, "s") {
		goPattern = "(?s)" + goPattern
	}
	if strings.Contains(flags, "m") {
		goPattern = "(?m)" + goPattern
	}
	re, err := regexp.Compile(goPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	regexCache.Store(key, re)
	return re, nil
}

// registerFunctions installs the scalar helpers the query compiler
// emits where SQLite's built-ins fall short of SPARQL semantics.
func registerFunctions(conn *sqlite3.SQLiteConn) error {
	funcs := []struct {
		name string
		impl any
		pure bool
	}{
		// SPARQL REGEX with flags.
		{"tern_regex", func(text, pattern, flags string) (bool, error) {
			re, err := compileRegex(pattern, flags)
			if err != nil {
				return false, err
			}
			return re.MatchString(text), nil
		}, true},
		// REPLACE with regex semantics.
		{"tern_replace", func(text, pattern, replacement, flags string) (string, error) {
			re, err := compileRegex(pattern, flags)
			if err != nil {
				return "", err
			}
			return re.ReplaceAllString(text, replacement), nil
		}, true},
		// Unicode-aware case mapping; SQLite's lower/upper are ASCII.
		{"tern_lcase", strings.ToLower, true},
		{"tern_ucase", strings.ToUpper, true},
		{"tern_md5", func(s string) string {
			sum := md5.Sum([]byte(s))
			return hex.EncodeToString(sum[:])
		}, true},
		{"tern_sha1", func(s string) string {
			sum := sha1.Sum([]byte(s))
			return hex.EncodeToString(sum[:])
		}, true},
		{"tern_sha256", func(s string) string {
			sum := sha256.Sum256([]byte(s))
			return hex.EncodeToString(sum[:])
		}, true},
		{"tern_sha512", func(s string) string {
			sum := sha512.Sum512([]byte(s))
			return hex.EncodeToString(sum[:])
		}, true},
		{"tern_uuid", func() string { return "urn:uuid:" + uuid.NewString() }, false},
		{"tern_struuid", uuid.NewString, false},
		{"tern_encode_for_uri", encodeForURI, true},
	}
	for _, f := range funcs {
		if err := conn.RegisterFunc(f.name, f.impl, f.pure); err != nil {
			return fmt.Errorf("register %s: %w", f.name, err)
		}
	}
	return nil
}

// encodeForURI implements SPARQL ENCODE_FOR_URI: percent-encode
// everything outside the unreserved set.
func encodeForURI(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
