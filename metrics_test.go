package secmon

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	sm := New(DefaultConfig())

	// Verify initial state
	assert.Equal(t, Metrics{}, sm.Metrics())

	require.NoError(t, sm.Initialize(testPoolStart, testPoolSize))
	assert.Error(t, sm.Initialize(testPoolStart, testPoolSize))

	addr, err := sm.Allocate(1, 2*FrameSize)
	require.NoError(t, err)
	require.NoError(t, sm.Free(1, addr))
	_, err = sm.Allocate(1, 0)
	assert.Error(t, err)

	idx, err := sm.Create(0x8020_0000)
	require.NoError(t, err)
	h := NewSimHart()
	require.NoError(t, sm.Enter(idx, h))
	require.NoError(t, sm.Exit(idx, h))
	require.NoError(t, sm.SelfTest(SelfTestEnclave, h))

	m := sm.Metrics()
	assert.Equal(t, uint64(2), m.FramesAllocated)
	assert.Equal(t, uint64(2), m.FramesFreed)
	// the self test's scratch enclaves are not counted
	assert.Equal(t, uint64(1), m.EnclavesCreated)
	assert.Equal(t, uint64(1), m.Entries)
	assert.Equal(t, uint64(1), m.Exits)
	assert.Equal(t, uint64(1), m.SelfTests)
	assert.Equal(t, uint64(1), m.DeniedErrors)
	assert.Equal(t, uint64(1), m.InvalidParamErrors)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"entries":1`)

	sm.ResetMetrics()
	assert.Equal(t, Metrics{}, sm.Metrics())
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *metrics
	assert.NotPanics(t, func() {
		m.recordFrames(1, 1)
		m.recordRescue()
		m.recordCreate()
		m.recordSelfTest(nil)
		assert.Equal(t, ErrFailed, m.recordError(ErrFailed))
	})
}
