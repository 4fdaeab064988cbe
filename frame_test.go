package secmon

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFrames(n uint64) *FrameAllocator {
	fa := NewFrameAllocator(n)
	fa.AddFrames(0, n)
	return fa
}

func TestFrameAllocRestoresCount(t *testing.T) {
	fa := newTestFrames(16)

	for _, n := range []uint64{1, 2, 5, 16} {
		before := fa.Free()
		frame, ok := fa.Alloc(n)
		require.True(t, ok, "Alloc(%d)", n)
		assert.Equal(t, before-n, fa.Free())

		fa.Dealloc(frame, n)
		assert.Equal(t, before, fa.Free(), "Alloc(%d) then Dealloc", n)
	}
}

func TestFrameAllocContiguous(t *testing.T) {
	fa := newTestFrames(8)

	a, ok := fa.Alloc(3)
	require.True(t, ok)
	b, ok := fa.Alloc(3)
	require.True(t, ok)
	assert.Equal(t, uint64(0), a)
	assert.Equal(t, uint64(3), b)

	// 2 frames left: a 3 frame request must fail without side effects
	_, ok = fa.Alloc(3)
	assert.False(t, ok)
	assert.Equal(t, uint64(2), fa.Free())

	fa.Dealloc(a, 3)
	c, ok := fa.Alloc(3)
	require.True(t, ok)
	assert.Equal(t, a, c, "first fit reuses the lowest run")
}

func TestFrameAllocAligned(t *testing.T) {
	fa := newTestFrames(16)

	_, ok := fa.Alloc(1)
	require.True(t, ok)

	frame, ok := fa.AllocAligned(4, 4)
	require.True(t, ok)
	assert.Equal(t, uint64(4), frame)

	_, ok = fa.AllocAligned(1, 3)
	assert.False(t, ok, "non power of two alignment")
}

func TestFrameAllocRejectsZero(t *testing.T) {
	fa := newTestFrames(4)
	_, ok := fa.Alloc(0)
	assert.False(t, ok)
	assert.Equal(t, uint64(4), fa.Free())
}

func TestFrameAllocUnmanaged(t *testing.T) {
	fa := NewFrameAllocator(4)
	fa.AddFrames(1, 4)

	frame, ok := fa.Alloc(3)
	require.True(t, ok)
	assert.Equal(t, uint64(1), frame, "frame 0 was never added")
	assert.Equal(t, uint64(3), fa.Total())

	assert.Panics(t, func() { fa.Dealloc(0, 1) })
}

func TestFrameDoubleFree(t *testing.T) {
	fa := newTestFrames(4)
	frame, ok := fa.Alloc(2)
	require.True(t, ok)
	fa.Dealloc(frame, 2)

	assert.Panics(t, func() { fa.Dealloc(frame, 2) })
	assert.Panics(t, func() { fa.AddFrames(0, 1) }, "frame registered twice")
}

func TestFrameInterleavingsAlwaysSucceed(t *testing.T) {
	const total = 32
	fa := newTestFrames(total)
	rng := rand.New(rand.NewPCG(1, 2))

	var held []uint64
	for range 10000 {
		if len(held) < total && (len(held) == 0 || rng.IntN(2) == 0) {
			frame, ok := fa.Alloc(1)
			require.True(t, ok, "alloc with %d of %d outstanding", len(held), total)
			held = append(held, frame)
			continue
		}
		i := rng.IntN(len(held))
		fa.Dealloc(held[i], 1)
		held = append(held[:i], held[i+1:]...)
	}

	assert.Equal(t, uint64(total-len(held)), fa.Free())
}
