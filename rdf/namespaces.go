package rdf

import (
	"sort"
	"strings"
	"sync"
)

// Namespaces maps prefixes to namespace IRIs and back. A Namespaces value
// is safe for concurrent readers once frozen; registration is guarded so
// the loader can populate it while a connection opens.
type Namespaces struct {
	mu       sync.RWMutex
	byPrefix map[string]IRI
	byIRI    map[IRI]string
}

// NewNamespaces returns a manager seeded with the built-in prefixes
// (rdf, rdfs, xsd, nrl).
func NewNamespaces() *Namespaces {
	n := &Namespaces{
		byPrefix: make(map[string]IRI),
		byIRI:    make(map[IRI]string),
	}
	n.Register("rdf", NSRDF)
	n.Register("rdfs", NSRDFS)
	n.Register("xsd", NSXSD)
	n.Register("nrl", NSNRL)
	return n
}

// Register adds a prefix↔IRI pair. Re-registering the same pair is a
// no-op; a conflicting registration overwrites (last declaration wins,
// matching Turtle @prefix semantics).
func (n *Namespaces) Register(prefix string, iri IRI) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if old, ok := n.byPrefix[prefix]; ok {
		delete(n.byIRI, old)
	}
	n.byPrefix[prefix] = iri
	n.byIRI[iri] = prefix
}

// Expand resolves a prefixed name such as "nie:title" to a full IRI.
// The second return is false when the prefix is not registered.
func (n *Namespaces) Expand(prefixed string) (IRI, bool) {
	i := strings.IndexByte(prefixed, ':')
	if i < 0 {
		return "", false
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	ns, ok := n.byPrefix[prefixed[:i]]
	if !ok {
		return "", false
	}
	return ns + IRI(prefixed[i+1:]), true
}

// Compress returns the prefixed form of iri if a registered namespace is
// a prefix of it, otherwise ok is false. The longest matching namespace
// wins.
func (n *Namespaces) Compress(iri IRI) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var (
		best    IRI
		bestPfx string
		found   bool
	)
	for ns, pfx := range n.byIRI {
		if strings.HasPrefix(string(iri), string(ns)) && len(ns) > len(best) {
			best, bestPfx, found = ns, pfx, true
		}
	}
	if !found {
		return "", false
	}
	local := string(iri[len(best):])
	if local == "" || strings.ContainsAny(local, "/#:") {
		return "", false
	}
	return bestPfx + ":" + local, true
}

// All returns the registered (prefix, IRI) pairs sorted by prefix.
func (n *Namespaces) All() []PrefixDecl {
	n.mu.RLock()
	defer n.mu.RUnlock()
	decls := make([]PrefixDecl, 0, len(n.byPrefix))
	for p, iri := range n.byPrefix {
		decls = append(decls, PrefixDecl{Prefix: p, IRI: iri})
	}
	sort.Slice(decls, func(i, j int) bool { return decls[i].Prefix < decls[j].Prefix })
	return decls
}
