//go:build !unix

package wire

// MmapAllocator falls back to heap regions on platforms without mmap.
type MmapAllocator struct {
	Limit int
}

func (a MmapAllocator) Allocate(size int) (Region, error) {
	return HeapAllocator{Limit: a.Limit}.Allocate(size)
}
