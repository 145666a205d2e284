package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/txsync/internal/idempotency"
)

// KeySequence generates idempotency keys "<prefix>0001", "<prefix>0002", ...
//
// Unlike idempotency.FixedGenerator it never runs out, which suits scenario
// files that do not know in advance how many keys a run will draw.
//
// Thread-safety: Generate is safe for concurrent use.
type KeySequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewKeySequence creates a sequence. An empty prefix uses "idemp_test-".
func NewKeySequence(prefix string) *KeySequence {
	if prefix == "" {
		prefix = idempotency.Prefix + "test-"
	}
	return &KeySequence{prefix: prefix}
}

// Generate returns the next key.
//
// Implements idempotency.Generator.
func (g *KeySequence) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%04d", g.prefix, g.n)
}

// Issued returns how many keys have been generated.
func (g *KeySequence) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}
