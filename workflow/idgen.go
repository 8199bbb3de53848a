package workflow

import (
	"strconv"
	"strings"
)

// DefaultIDPrefix is the prefix used for node ids created by drops.
const DefaultIDPrefix = "node_"

// IDGenerator hands out node ids of the form <prefix><n>.
// It belongs to exactly one editing session and is not safe for concurrent use;
// the session serializes all mutations.
type IDGenerator struct {
	prefix string
	next   uint64
}

// NewIDGenerator creates a generator starting at <prefix>0. An empty prefix,
// or one containing an edge id separator, falls back to DefaultIDPrefix.
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" || strings.ContainsAny(prefix, EdgeIDSeparators) {
		prefix = DefaultIDPrefix
	}
	return &IDGenerator{prefix: prefix}
}

// Next returns an id distinct from every id previously returned or reserved.
func (g *IDGenerator) Next() string {
	id := g.prefix + strconv.FormatUint(g.next, 10)
	g.next++
	return id
}

// Reserve moves the counter past id when id was produced by this prefix.
// Ids loaded from a persisted document are reserved so that later drops never collide with them.
func (g *IDGenerator) Reserve(id string) {
	suffix, ok := strings.CutPrefix(id, g.prefix)
	if !ok || suffix == "" {
		return
	}
	n, err := strconv.ParseUint(suffix, 10, 64)
	if err != nil {
		return
	}
	if n >= g.next {
		g.next = n + 1
	}
}

// Prefix returns the generator prefix.
func (g *IDGenerator) Prefix() string { return g.prefix }
