package secmon

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingMeta is a MetadataAllocator handing out fake addresses.
type countingMeta struct {
	mu    sync.Mutex
	next  uint64
	live  map[uint64]uint64
	total uint64
}

func newCountingMeta() *countingMeta {
	return &countingMeta{next: 0x1000, live: make(map[uint64]uint64)}
}

func (c *countingMeta) Alloc(size, align uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr := c.next
	c.next += (size + align - 1) &^ (align - 1)
	c.live[addr] = size
	c.total += size
	return addr
}

func (c *countingMeta) Dealloc(addr, size, align uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live[addr] != size {
		panic("bad dealloc")
	}
	delete(c.live, addr)
}

func newTestRegistry(t *testing.T, maxVCPUs int) (*Registry, *countingMeta) {
	t.Helper()
	meta := newCountingMeta()
	r := NewRegistry(meta, maxVCPUs, true, nil)
	require.NoError(t, r.Init())
	return r, meta
}

func TestRegistryInitTwice(t *testing.T) {
	r, _ := newTestRegistry(t, 1)
	_, err := r.Create(0x8020_0000)
	require.NoError(t, err)

	assert.ErrorIs(t, r.Init(), ErrAlreadyInitialized)
	assert.Equal(t, 1, r.Len(), "no enclave state changes")
}

func TestRegistryNotInitialized(t *testing.T) {
	r := NewRegistry(newCountingMeta(), 1, true, nil)

	_, err := r.Create(0x8020_0000)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, r.Enter(0, NewSimHart()), ErrNotInitialized)
}

func TestRegistryCreateIndices(t *testing.T) {
	r, meta := newTestRegistry(t, 2)

	for k := range 5 {
		idx, err := r.Create(0x8020_0000 + uint64(k)*0x1000)
		require.NoError(t, err)
		assert.Equal(t, k, idx)
		assert.Equal(t, k+1, r.Len())
	}
	assert.Len(t, meta.live, 5, "metadata charged per enclave")

	info, err := r.Inspect(3)
	require.NoError(t, err)
	assert.Equal(t, 3, info.ID)
	assert.Equal(t, uint64(0x8020_3000), info.VCPUs[0].GPR.PC)
	assert.False(t, info.Running)
	assert.Equal(t, -1, info.VCPU)
}

func TestRegistryCreateInvalidEntry(t *testing.T) {
	r, meta := newTestRegistry(t, 1)
	_, err := r.Create(0x8020_0001)
	assert.ErrorIs(t, err, ErrInvalidEntry)
	assert.Zero(t, r.Len())
	assert.Empty(t, meta.live)
}

func TestRegistryEnterExit(t *testing.T) {
	r, _ := newTestRegistry(t, 1)
	idx, err := r.Create(0x8020_0000)
	require.NoError(t, err)

	h := NewSimHart()
	h.SetPC(0x8000_4000)
	require.NoError(t, h.SetReg(RegA0, FuncEnter))
	host := h.Snapshot()

	require.NoError(t, r.Enter(idx, h))
	assert.Equal(t, uint64(0x8020_0000), h.GetPC())
	mepc, _ := h.ReadCSR(CSRMepc)
	assert.Equal(t, uint64(0x8020_0000), mepc)

	info, err := r.Inspect(idx)
	require.NoError(t, err)
	assert.True(t, info.Running)

	assert.ErrorIs(t, r.Enter(idx, h), ErrEnclaveRunning)

	// enclave runs and changes its state
	require.NoError(t, h.SetReg(RegS1, 0x5a5a))
	h.SetPC(0x8020_0040)

	require.NoError(t, r.Exit(idx, h))
	after := h.Snapshot()
	assert.True(t, after.Equal(&host), "host state restored")

	info, err = r.Inspect(idx)
	require.NoError(t, err)
	assert.False(t, info.Running)
	assert.Equal(t, uint64(0x5a5a), info.VCPUs[0].GPR.S[1])
	assert.Equal(t, uint64(0x8020_0040), info.VCPUs[0].GPR.PC)

	assert.ErrorIs(t, r.Exit(idx, h), ErrEnclaveStopped)

	// re-entering resumes where the enclave left off
	require.NoError(t, r.Enter(idx, h))
	assert.Equal(t, uint64(0x8020_0040), h.GetPC())
}

func TestRegistryLookupErrors(t *testing.T) {
	r, _ := newTestRegistry(t, 1)
	h := NewSimHart()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"enter empty", r.Enter(0, h), ErrEnclaveNotFound},
		{"enter negative", r.Enter(-1, h), ErrEnclaveNotFound},
		{"exit missing", r.Exit(3, h), ErrEnclaveNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.want)
			assert.Equal(t, SBI_ERR_INVALID_PARAM, ErrorCode(tt.err))
		})
	}

	idx, err := r.Create(0x8020_0000)
	require.NoError(t, err)
	assert.ErrorIs(t, r.EnterVCPU(idx, 1, h), ErrVCPUNotFound)
	_, err = r.Inspect(idx + 1)
	assert.ErrorIs(t, err, ErrEnclaveNotFound)
}

func TestRegistryAddVCPU(t *testing.T) {
	r, _ := newTestRegistry(t, 2)
	idx, err := r.Create(0x8020_0000)
	require.NoError(t, err)

	n, err := r.AddVCPU(idx, 0x8020_1000)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = r.AddVCPU(idx, 0x8020_2000)
	assert.ErrorIs(t, err, ErrVCPULimit)

	h := NewSimHart()
	require.NoError(t, r.EnterVCPU(idx, 1, h))
	assert.Equal(t, uint64(0x8020_1000), h.GetPC())

	info, err := r.Inspect(idx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.VCPU)
	assert.Len(t, info.VCPUs, 2)
}

func TestRegistryNoFP(t *testing.T) {
	r := NewRegistry(newCountingMeta(), 1, false, nil)
	require.NoError(t, r.Init())
	idx, err := r.Create(0x8020_0000)
	require.NoError(t, err)

	h := NewSimHart()
	h.SetFPR(2, 4.25)
	require.NoError(t, r.Enter(idx, h))
	assert.Equal(t, 4.25, h.FPR(2), "FPRs stay live without FP support")
}

func TestRegistryConcurrentHarts(t *testing.T) {
	r, _ := newTestRegistry(t, 1)

	const harts = 8
	var wg sync.WaitGroup
	for i := range harts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, err := r.Create(0x8020_0000 + uint64(i)*0x1000)
			if !assert.NoError(t, err) {
				return
			}
			h := NewSimHart()
			for range 100 {
				assert.NoError(t, r.Enter(idx, h))
				assert.NoError(t, r.Exit(idx, h))
			}
			_, _ = r.Inspect(idx)
			_ = r.Len()
		}()
	}
	wg.Wait()

	assert.Equal(t, harts, r.Len())
}

func TestRegistryRelease(t *testing.T) {
	r, meta := newTestRegistry(t, 1)
	for range 3 {
		_, err := r.Create(0x8020_0000)
		require.NoError(t, err)
	}
	r.release()
	assert.Empty(t, meta.live)
	assert.Zero(t, r.Len())
}

// unlockedMeta records whether the registry table lock was free whenever
// metadata was returned.
type unlockedMeta struct {
	*countingMeta
	reg    *Registry
	locked int
}

func (u *unlockedMeta) Dealloc(addr, size, align uint64) {
	if u.reg.mu.TryLock() {
		u.reg.mu.Unlock()
	} else {
		u.locked++
	}
	u.countingMeta.Dealloc(addr, size, align)
}

func TestRegistryReleaseOutsideLock(t *testing.T) {
	meta := &unlockedMeta{countingMeta: newCountingMeta()}
	r := NewRegistry(meta, 1, true, nil)
	meta.reg = r
	require.NoError(t, r.Init())

	for range 2 {
		_, err := r.Create(0x8020_0000)
		require.NoError(t, err)
	}
	r.release()

	assert.Zero(t, meta.locked, "metadata returned under the table lock")
	assert.Empty(t, meta.live)
}
