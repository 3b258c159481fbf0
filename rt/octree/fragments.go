package octree

import (
	"fmt"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
)

// Fragment is the decoded form of one voxel fragment list entry.
type Fragment struct {
	Position [3]uint32
	Color    mgl32.Vec4
	Normal   mgl32.Vec3
}

// FragmentList is the append-only voxel fragment list filled by voxelization.
// Entries are stored as parallel packed attribute lists, as on the GPU.
type FragmentList struct {
	capacity uint32
	counter  atomic.Uint32
	overflow atomic.Bool

	position []uint32
	color    []uint32
	normal   []uint32
}

func NewFragmentList(capacity uint32) *FragmentList {
	return &FragmentList{
		capacity: capacity,
		position: make([]uint32, capacity),
		color:    make([]uint32, capacity),
		normal:   make([]uint32, capacity),
	}
}

func (l *FragmentList) Capacity() uint32 {
	return l.capacity
}

// Append reserves the next slot with an atomic increment. It reports false
// and raises the overflow flag when the list is full.
func (l *FragmentList) Append(position, color, normal uint32) (uint32, bool) {
	idx := l.counter.Add(1) - 1
	if idx >= l.capacity {
		l.overflow.Store(true)
		return 0, false
	}
	l.position[idx] = position
	l.color[idx] = color
	l.normal[idx] = normal
	return idx, true
}

// Counter is the raw atomic counter value, which may exceed Capacity after an overflow.
func (l *FragmentList) Counter() uint32 {
	return l.counter.Load()
}

// Count is the number of valid entries.
func (l *FragmentList) Count() uint32 {
	return min(l.counter.Load(), l.capacity)
}

func (l *FragmentList) Overflowed() bool {
	return l.overflow.Load()
}

// Err reports ErrCapacityExceeded after an overflow.
func (l *FragmentList) Err() error {
	if l.Overflowed() {
		return fmt.Errorf("voxel fragment list: %d fragments for %d slots: %w", l.Counter(), l.capacity, ErrCapacityExceeded)
	}
	return nil
}

func (l *FragmentList) Reset() {
	l.counter.Store(0)
	l.overflow.Store(false)
}

func (l *FragmentList) Packed(i uint32) (position, color, normal uint32) {
	return l.position[i], l.color[i], l.normal[i]
}

func (l *FragmentList) Position(i uint32) [3]uint32 {
	return UnpackPosition(l.position[i])
}

func (l *FragmentList) At(i uint32) Fragment {
	return Fragment{
		Position: UnpackPosition(l.position[i]),
		Color:    UnpackRGBA8(l.color[i]),
		Normal:   UnpackNormal(l.normal[i]),
	}
}
