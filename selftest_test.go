package secmon

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfTests(t *testing.T) {
	for _, fp := range []bool{true, false} {
		for id, name := range SelfTestNames {
			t.Run(fmt.Sprintf("%s fp=%v", name, fp), func(t *testing.T) {
				cfg := DefaultConfig()
				cfg.FloatingPoint = fp
				sm := New(cfg)
				require.NoError(t, sm.Initialize(testPoolStart, testPoolSize))

				h := NewSimHart()
				h.SetPC(0x8000_0100)
				require.NoError(t, h.SetReg(RegS3, 0xfeed))
				require.NoError(t, h.WriteCSR(CSRSatp, 0x8000_0000_0008_0000))
				h.SetFPR(7, -3.5)
				live := h.Snapshot()

				before, err := sm.MemoryStats()
				require.NoError(t, err)

				require.NoError(t, sm.SelfTest(id, h))

				after, err := sm.MemoryStats()
				require.NoError(t, err)
				assert.Equal(t, before.FreeFrames, after.FreeFrames, "frames released")
				assert.Equal(t, before.Heap.User, after.Heap.User, "heap released")
				assert.Zero(t, sm.Enclaves(), "scratch enclaves stay private")

				got := h.Snapshot()
				assert.True(t, got.Equal(&live), "live registers restored")
			})
		}
	}
}

func TestSelfTestUnknown(t *testing.T) {
	sm := newTestMonitor(t)

	err := sm.SelfTest(3, NewSimHart())
	assert.ErrorIs(t, err, ErrUnknownTest)
	assert.Equal(t, SBI_ERR_NOT_SUPPORTED, ErrorCode(err))
	assert.Zero(t, sm.Metrics().SelfTests)
}

func TestSelfTestContextNeedsRegisters(t *testing.T) {
	sm := newTestMonitor(t)

	err := sm.SelfTest(SelfTestContext, nil)
	assert.ErrorIs(t, err, ErrFailed)
	assert.Equal(t, uint64(1), sm.Metrics().SelfTestFailures)
}

func TestSelfTestMemoryWithoutFrames(t *testing.T) {
	sm := newTestMonitor(t)
	_, err := sm.Allocate(1, 7*FrameSize)
	require.NoError(t, err)

	err = sm.SelfTest(SelfTestMemory, NewSimHart())
	assert.ErrorIs(t, err, ErrNoFrames)
}
