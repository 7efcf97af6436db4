//go:build unix

package wire

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// MmapAllocator allocates anonymous shared mappings. A mapping survives a
// fork and can be passed to a child process; within one process it behaves
// like heap memory that is released eagerly on Close.
type MmapAllocator struct {
	// Limit caps the region size when positive.
	Limit int
}

func (a MmapAllocator) Allocate(size int) (Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid region size %d", size)
	}
	if a.Limit > 0 && size > a.Limit {
		return nil, fmt.Errorf("%w: %d > %d", ErrRegionTooLarge, size, a.Limit)
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	return &mmapRegion{data: data}, nil
}

type mmapRegion struct {
	mu   sync.Mutex
	data []byte
}

func (r *mmapRegion) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data
}

func (r *mmapRegion) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

func (r *mmapRegion) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}
