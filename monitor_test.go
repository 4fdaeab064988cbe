package secmon

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	sm := New(DefaultConfig())
	require.NoError(t, sm.Initialize(testPoolStart, testPoolSize))
	return sm
}

func TestMonitorEndToEnd(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Logger = log.New(&buf, "", 0)
	sm := New(cfg)

	require.NoError(t, sm.Initialize(0x8000_0000, 0x100_0000))
	assert.Contains(t, buf.String(), "SM initialized")

	err := sm.Initialize(0x8000_0000, 0x100_0000)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Equal(t, SBI_ERR_DENIED, ErrorCode(err))

	idx, err := sm.Create(0x8020_0000)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	info, err := sm.Enclave(idx)
	require.NoError(t, err)
	assert.True(t, info.VCPUs[0].Equal(InitContext(0x8020_0000)))

	live := NewSimHart()
	require.NoError(t, sm.Enter(0, live))
	assert.Equal(t, uint64(0x8020_0000), live.GetPC())
}

func TestMonitorInitializeInvalidGeometry(t *testing.T) {
	sm := New(DefaultConfig())

	tests := []struct {
		name  string
		start uint64
		size  uint64
	}{
		{"zero start", 0, testPoolSize},
		{"zero start any size", 0, 0},
		{"frame plus one", testPoolStart, FrameSize + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sm.Initialize(tt.start, tt.size)
			assert.ErrorIs(t, err, ErrInvalidPoolGeometry)
			assert.Equal(t, SBI_ERR_INVALID_PARAM, ErrorCode(err))
			assert.False(t, sm.Initialized(), "no state mutated")
		})
	}

	// a valid call still succeeds afterwards
	require.NoError(t, sm.Initialize(testPoolStart, testPoolSize))
}

func TestMonitorBeforeInitialize(t *testing.T) {
	sm := New(DefaultConfig())
	h := NewSimHart()

	_, err := sm.Allocate(1, FrameSize)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = sm.Create(0x8020_0000)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, sm.Enter(0, h), ErrNotInitialized)
	assert.ErrorIs(t, sm.Exit(0, h), ErrNotInitialized)
	assert.ErrorIs(t, sm.Free(1, testPoolStart), ErrNotInitialized)
	assert.ErrorIs(t, sm.SelfTest(SelfTestMemory, h), ErrNotInitialized)
	_, err = sm.MemoryStats()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Zero(t, sm.Enclaves())

	assert.Panics(t, func() { sm.Memory() })
	assert.Panics(t, func() { sm.Registry() })
}

func TestMonitorAllocate(t *testing.T) {
	sm := newTestMonitor(t)

	addr, err := sm.Allocate(3, FrameSize+1)
	require.NoError(t, err)
	assert.Zero(t, (addr-testPoolStart)%FrameSize)

	st, err := sm.MemoryStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), st.FreeFrames)
	assert.Equal(t, 1, st.Allocations)

	_, err = sm.Allocate(3, 6*FrameSize)
	assert.ErrorIs(t, err, ErrNoFrames)

	require.NoError(t, sm.Free(3, addr))
	_, err = sm.Allocate(3, 7*FrameSize)
	assert.NoError(t, err)
}

func TestMonitorCreateIncreasing(t *testing.T) {
	sm := newTestMonitor(t)

	for k := range 10 {
		idx, err := sm.Create(0x8020_0000)
		require.NoError(t, err)
		assert.Equal(t, k, idx)
		assert.Equal(t, k+1, sm.Enclaves())
	}
}

func TestMonitorMetadataRescue(t *testing.T) {
	sm := newTestMonitor(t)

	// enough enclaves to outgrow the first heap frame
	per := sm.Registry().metaSize()
	n := int(2*FrameSize/per) + 1
	for range n {
		_, err := sm.Create(0x8020_0000)
		require.NoError(t, err)
	}

	st, err := sm.MemoryStats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, st.Rescues, uint64(1))
	assert.Equal(t, st.Rescues, sm.Metrics().HeapRescues)
	assert.Equal(t, FrameSize*(1+st.Rescues), st.Heap.Total)
}

func TestMonitorAddVCPU(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxVCPUs = 2
	sm := New(cfg)
	require.NoError(t, sm.Initialize(testPoolStart, testPoolSize))

	idx, err := sm.Create(0x8020_0000)
	require.NoError(t, err)
	n, err := sm.AddVCPU(idx, 0x8030_0000)
	require.NoError(t, err)

	h := NewSimHart()
	require.NoError(t, sm.EnterVCPU(idx, n, h))
	assert.Equal(t, uint64(0x8030_0000), h.GetPC())
	require.NoError(t, sm.Exit(idx, h))
	assert.Zero(t, h.GetPC())
}
