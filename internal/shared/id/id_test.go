package id

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatorFirstValue(t *testing.T) {
	a := NewAllocator[int64](math.MaxInt64)
	assert.Equal(t, int64(1), a.Next())
	assert.Equal(t, int64(2), a.Next())
}

func TestAllocatorWrapsAndSkipsReserved(t *testing.T) {
	a := NewAllocator[int32](4)

	var got []int32
	for i := 0; i < 7; i++ {
		got = append(got, a.Next())
	}

	assert.Equal(t, []int32{1, 2, 3, 4, 1, 2, 3}, got)
	assert.NotContains(t, got, int32(Reserved))
}

func TestAllocatorNeverReturnsReserved(t *testing.T) {
	for _, end := range []int32{1, 2, 3, 17} {
		a := NewAllocator(end)
		for i := 0; i < 100; i++ {
			require.NotEqual(t, int32(Reserved), a.Next(), "end=%d iteration=%d", end, i)
		}
	}
}

func TestGenerateWithPrefix(t *testing.T) {
	gen := NewGenerator()

	for _, prefix := range []string{HostRouterPrefix, ContentRouterPrefix, ConnPrefix} {
		id := gen.GenerateWithPrefix(prefix)

		parts := strings.Split(id, "_")
		require.Len(t, parts, 2, "Prefixed ID should have format 'prefix_ulid', got: %s", id)
		assert.Equal(t, prefix, parts[0])
		assert.True(t, IsValid(parts[1]), "ULID part should be valid: %s", parts[1])
	}
}

func TestTypedRouterIDs(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewHostRouterID().String(), "hrt_"))
	assert.True(t, strings.HasPrefix(NewContentRouterID().String(), "crt_"))
	assert.NotEqual(t, NewHostRouterID(), NewHostRouterID())
}
