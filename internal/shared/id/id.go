// Package id provides identifier generation for the query routers.
//
// Two kinds of identifiers live here:
//   - Allocator: wrap-around counters used for query, context and request ids.
//     Zero is reserved and never issued. Values only need to be unique among
//     currently pending entries, so wrapping at the bound is expected.
//   - ULIDs: prefixed, sortable identifiers naming router instances in logs.
//     Transport connections carry a ConnID built by the transport package.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Reserved is the id value that is never issued by an Allocator.
const Reserved = 0

// ============================================================================
// Wrap-Around Allocator
// ============================================================================

// Integer is the set of counter types an Allocator can hand out.
type Integer interface {
	~int32 | ~int64
}

// Allocator issues ids in the range [1, end]. It is not goroutine safe;
// callers hold their router lock.
type Allocator[T Integer] struct {
	next  T
	start T
	end   T
}

// NewAllocator creates an allocator whose first id is 1 and which wraps
// after returning end.
func NewAllocator[T Integer](end T) *Allocator[T] {
	return &Allocator[T]{next: Reserved, start: Reserved, end: end}
}

// Next returns the next id, wrapping to the start of the range when the
// bound is reached.
func (a *Allocator[T]) Next() T {
	if a.next >= a.end {
		a.next = a.start
	}
	a.next++
	return a.next
}

// ============================================================================
// Typed Instance IDs
// ============================================================================

// RouterID identifies a router instance in logs
type RouterID string

// ConnID identifies a transport connection
type ConnID string

const (
	HostRouterPrefix    = "hrt"
	ContentRouterPrefix = "crt"
	ConnPrefix          = "conn"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewHostRouterID generates an id for a host-side router
func NewHostRouterID() RouterID {
	return RouterID(Default().GenerateWithPrefix(HostRouterPrefix))
}

// NewContentRouterID generates an id for a content-side router
func NewContentRouterID() RouterID {
	return RouterID(Default().GenerateWithPrefix(ContentRouterPrefix))
}

func (id RouterID) String() string { return string(id) }

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}
