package idempotency

import (
	"strings"
	"sync"
)

// Field models the caller-visible key input of a submission form.
//
// Resolve is stable for a given input: while the caller leaves the input
// unchanged, every Resolve returns the same key, so retrying a failed
// submission reuses the key and the server can deduplicate. Changing the
// input (Set with a different value) is the only thing that invalidates a
// generated key.
//
// After a successful create the generated key is adopted back into the input
// (Adopt), mirroring a form that fills in the key it used. A later submit with
// the adopted value therefore reuses the key until the caller edits it.
//
// Thread-safety: all methods are safe for concurrent use.
type Field struct {
	gen Generator

	mu     sync.Mutex
	raw    string
	cached string
}

// NewField returns an empty field backed by gen.
func NewField(gen Generator) *Field {
	if gen == nil {
		gen = UUIDv7Generator{}
	}
	return &Field{gen: gen}
}

// Set records the caller's current input. A changed input discards any
// previously generated key.
func (f *Field) Set(raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if raw == f.raw {
		return
	}
	f.raw = raw
	f.cached = ""
}

// Value returns the caller-visible input.
func (f *Field) Value() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.raw
}

// Resolve returns the key to send: the trimmed input when non-empty,
// otherwise a generated key that stays fixed until the input changes.
func (f *Field) Resolve() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolveLocked()
}

// ResolveInput records raw as the current input and resolves it under one
// lock. Concurrent submitters each get the key for their own input.
func (f *Field) ResolveInput(raw string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if raw != f.raw {
		f.raw = raw
		f.cached = ""
	}
	return f.resolveLocked()
}

func (f *Field) resolveLocked() string {
	if key := strings.TrimSpace(f.raw); key != "" {
		return key
	}
	if f.cached == "" {
		f.cached = f.gen.Generate()
	}
	return f.cached
}

// Adopt copies key into the input if the input is still empty and key is
// the one generated for it. Keys from other inputs are ignored.
func (f *Field) Adopt(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if strings.TrimSpace(f.raw) != "" || f.cached != key {
		return
	}
	f.raw = key
	f.cached = key
}

// Resolve is the stateless form: the trimmed user key if present, otherwise a
// fresh key from gen. Callers that need retry stability use Field.
func Resolve(gen Generator, userSupplied string) string {
	if key := strings.TrimSpace(userSupplied); key != "" {
		return key
	}
	return gen.Generate()
}
