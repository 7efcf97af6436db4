package wire

import (
	"errors"
	"fmt"
	"sync"
)

// ErrRegionTooLarge is returned by allocators configured with a size limit.
var ErrRegionTooLarge = errors.New("shared region exceeds allocator limit")

// Region is a block of memory handed across the process boundary as a whole.
type Region interface {
	// Bytes returns the writable backing memory.
	Bytes() []byte
	Size() int
	Close() error
}

// Allocator creates regions for outbound region-backed messages.
type Allocator interface {
	Allocate(size int) (Region, error)
}

// HeapAllocator allocates regions from the Go heap. It is used when both
// routers share an address space or when the transport copies the region.
type HeapAllocator struct {
	// Limit caps the region size when positive.
	Limit int
}

func (a HeapAllocator) Allocate(size int) (Region, error) {
	if size < 0 {
		return nil, fmt.Errorf("invalid region size %d", size)
	}
	if a.Limit > 0 && size > a.Limit {
		return nil, fmt.Errorf("%w: %d > %d", ErrRegionTooLarge, size, a.Limit)
	}
	return NewHeapRegion(make([]byte, size)), nil
}

type heapRegion struct {
	mu   sync.Mutex
	data []byte
}

// NewHeapRegion wraps b as a region. The transport uses it to rematerialise
// regions received as bytes.
func NewHeapRegion(b []byte) Region {
	return &heapRegion{data: b}
}

func (r *heapRegion) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data
}

func (r *heapRegion) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

func (r *heapRegion) Close() error {
	r.mu.Lock()
	r.data = nil
	r.mu.Unlock()
	return nil
}
