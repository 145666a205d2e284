// Package idempotency produces and tracks the keys that let the server
// recognise a retried create as the same logical submission.
package idempotency

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Prefix marks a key as generated by this client rather than typed by a user.
const Prefix = "idemp_"

// Generator produces fresh idempotency keys.
type Generator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable keys of the form
// "idemp_<uuidv7>". Collision avoidance comes from the 74 random bits of the
// UUID, so no registry of issued keys is kept.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new key. Panics if the system randomness source fails.
func (UUIDv7Generator) Generate() string {
	return Prefix + uuid.Must(uuid.NewV7()).String()
}

// IsGenerated reports whether key carries the client-generated prefix.
// Useful when reading journals; never used for correctness.
func IsGenerated(key string) bool {
	return strings.HasPrefix(key, Prefix)
}

// FixedGenerator returns predetermined keys in order, for tests.
type FixedGenerator struct {
	mu   sync.Mutex
	keys []string
	idx  int
}

// NewFixedGenerator creates a generator that returns keys in order.
func NewFixedGenerator(keys ...string) *FixedGenerator {
	return &FixedGenerator{keys: keys}
}

// Generate returns the next predetermined key.
// Panics when exhausted so a test that generates more keys than expected
// fails loudly.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.keys) {
		panic("FixedGenerator: all keys exhausted")
	}
	key := g.keys[g.idx]
	g.idx++
	return key
}

// Issued returns how many keys have been handed out.
func (g *FixedGenerator) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.idx
}
