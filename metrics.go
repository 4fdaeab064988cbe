package secmon

import (
	"sync/atomic"
	"time"
)

// metrics holds the per-monitor counters. A nil *metrics records nothing.
type metrics struct {
	// Operation counters
	framesAllocated uint64
	framesFreed     uint64
	heapRescues     uint64
	enclavesCreated uint64
	vcpusAdded      uint64
	entries         uint64
	exits           uint64
	selfTests       uint64
	selfTestFails   uint64

	// Timing metrics (nanoseconds)
	totalSwitchTime uint64

	// Error counters
	invalidParamErrors uint64
	deniedErrors       uint64
	otherErrors        uint64
}

// Metrics is a snapshot of monitor activity.
type Metrics struct {
	FramesAllocated    uint64 `json:"frames_allocated"`
	FramesFreed        uint64 `json:"frames_freed"`
	HeapRescues        uint64 `json:"heap_rescues"`
	EnclavesCreated    uint64 `json:"enclaves_created"`
	VCPUsAdded         uint64 `json:"vcpus_added"`
	Entries            uint64 `json:"entries"`
	Exits              uint64 `json:"exits"`
	SelfTests          uint64 `json:"self_tests"`
	SelfTestFailures   uint64 `json:"self_test_failures"`
	AvgSwitchTimeNs    uint64 `json:"avg_switch_time_ns"`
	InvalidParamErrors uint64 `json:"invalid_param_errors"`
	DeniedErrors       uint64 `json:"denied_errors"`
	OtherErrors        uint64 `json:"other_errors"`
}

func (m *metrics) snapshot() Metrics {
	entries := atomic.LoadUint64(&m.entries)
	exits := atomic.LoadUint64(&m.exits)

	var avgSwitch uint64
	if n := entries + exits; n > 0 {
		avgSwitch = atomic.LoadUint64(&m.totalSwitchTime) / n
	}

	return Metrics{
		FramesAllocated:    atomic.LoadUint64(&m.framesAllocated),
		FramesFreed:        atomic.LoadUint64(&m.framesFreed),
		HeapRescues:        atomic.LoadUint64(&m.heapRescues),
		EnclavesCreated:    atomic.LoadUint64(&m.enclavesCreated),
		VCPUsAdded:         atomic.LoadUint64(&m.vcpusAdded),
		Entries:            entries,
		Exits:              exits,
		SelfTests:          atomic.LoadUint64(&m.selfTests),
		SelfTestFailures:   atomic.LoadUint64(&m.selfTestFails),
		AvgSwitchTimeNs:    avgSwitch,
		InvalidParamErrors: atomic.LoadUint64(&m.invalidParamErrors),
		DeniedErrors:       atomic.LoadUint64(&m.deniedErrors),
		OtherErrors:        atomic.LoadUint64(&m.otherErrors),
	}
}

func (m *metrics) reset() {
	atomic.StoreUint64(&m.framesAllocated, 0)
	atomic.StoreUint64(&m.framesFreed, 0)
	atomic.StoreUint64(&m.heapRescues, 0)
	atomic.StoreUint64(&m.enclavesCreated, 0)
	atomic.StoreUint64(&m.vcpusAdded, 0)
	atomic.StoreUint64(&m.entries, 0)
	atomic.StoreUint64(&m.exits, 0)
	atomic.StoreUint64(&m.selfTests, 0)
	atomic.StoreUint64(&m.selfTestFails, 0)
	atomic.StoreUint64(&m.totalSwitchTime, 0)
	atomic.StoreUint64(&m.invalidParamErrors, 0)
	atomic.StoreUint64(&m.deniedErrors, 0)
	atomic.StoreUint64(&m.otherErrors, 0)
}

// Internal metric recording functions
func (m *metrics) recordFrames(allocated, freed uint64) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.framesAllocated, allocated)
	atomic.AddUint64(&m.framesFreed, freed)
}

func (m *metrics) recordRescue() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.heapRescues, 1)
}

func (m *metrics) recordCreate() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.enclavesCreated, 1)
}

func (m *metrics) recordVCPU() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.vcpusAdded, 1)
}

func (m *metrics) recordEnter(duration time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.entries, 1)
	atomic.AddUint64(&m.totalSwitchTime, uint64(duration.Nanoseconds()))
}

func (m *metrics) recordExit(duration time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.exits, 1)
	atomic.AddUint64(&m.totalSwitchTime, uint64(duration.Nanoseconds()))
}

func (m *metrics) recordSelfTest(err error) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.selfTests, 1)
	if err != nil {
		atomic.AddUint64(&m.selfTestFails, 1)
	}
}

// recordError counts err by SBI code and returns it unchanged.
func (m *metrics) recordError(err error) error {
	if m == nil || err == nil {
		return err
	}
	switch ErrorCode(err) {
	case SBI_ERR_INVALID_PARAM:
		atomic.AddUint64(&m.invalidParamErrors, 1)
	case SBI_ERR_DENIED:
		atomic.AddUint64(&m.deniedErrors, 1)
	default:
		atomic.AddUint64(&m.otherErrors, 1)
	}
	return err
}
