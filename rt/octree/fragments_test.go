package octree

import (
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFragmentListConcurrentAppend(t *testing.T) {
	const n = 4096
	list := NewFragmentList(n)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g uint32) {
			defer wg.Done()
			for i := uint32(0); i < n/8; i++ {
				_, ok := list.Append(PackPosition(g, i%1024, 0), 0, 0)
				if !ok {
					t.Error("unexpected overflow")
				}
			}
		}(uint32(g))
	}
	wg.Wait()

	require.Equal(t, uint32(n), list.Count())
	assert.False(t, list.Overflowed())

	perGoroutine := map[uint32]int{}
	for i := uint32(0); i < list.Count(); i++ {
		perGoroutine[list.Position(i)[0]]++
	}
	for g := uint32(0); g < 8; g++ {
		assert.Equal(t, n/8, perGoroutine[g])
	}
}

func TestFragmentListOverflow(t *testing.T) {
	list := NewFragmentList(2)
	for i := 0; i < 2; i++ {
		_, ok := list.Append(0, 0, 0)
		require.True(t, ok)
	}
	_, ok := list.Append(0, 0, 0)
	assert.False(t, ok)

	assert.Equal(t, uint32(3), list.Counter())
	assert.Equal(t, uint32(2), list.Count())
	assert.ErrorIs(t, list.Err(), ErrCapacityExceeded)

	list.Reset()
	assert.Zero(t, list.Count())
	assert.NoError(t, list.Err())
}

func TestFragmentAt(t *testing.T) {
	list := NewFragmentList(1)
	_, ok := list.Append(
		PackPosition(3, 1000, 7),
		PackRGBA8(mgl32.Vec4{1, 0, 0, 1}),
		PackNormal(mgl32.Vec3{0, 0, -2}),
	)
	require.True(t, ok)

	f := list.At(0)
	assert.Equal(t, [3]uint32{3, 1000, 7}, f.Position)
	assert.Equal(t, mgl32.Vec4{1, 0, 0, 1}, f.Color)
	assert.InDelta(t, -1, f.Normal.Z(), 1e-6)
	assert.InDelta(t, 0, f.Normal.X(), 1e-6)
}
