package secmon

import (
	"fmt"
	"io"
	"log"
)

// Self test identifiers passed in a0 of FuncSelfTest.
const (
	SelfTestMemory  uint64 = 0
	SelfTestEnclave uint64 = 1
	SelfTestContext uint64 = 2
)

// SelfTestNames maps self test ids to their names.
var SelfTestNames = map[uint64]string{
	SelfTestMemory:  "memory",
	SelfTestEnclave: "enclave",
	SelfTestContext: "context",
}

// SelfTest runs test id. Every test releases what it takes, and the context
// test leaves rf exactly as it found it.
func (m *Monitor) SelfTest(id uint64, rf RegisterFile) (err error) {
	if !m.ready.Load() {
		return m.metrics.recordError(ErrNotInitialized)
	}

	switch id {
	case SelfTestMemory:
		err = selfTestMemory(m.Memory())
	case SelfTestEnclave:
		err = selfTestEnclave(m.Memory().Heap(), m.cfg.FloatingPoint)
	case SelfTestContext:
		err = selfTestContext(m.Memory().Heap(), m.cfg.FloatingPoint, rf)
	default:
		return m.metrics.recordError(fmt.Errorf("test %d: %w", id, ErrUnknownTest))
	}

	m.metrics.recordSelfTest(err)
	if err != nil {
		m.logger.Printf("SM self test %s failed: %v", SelfTestNames[id], err)
		return m.metrics.recordError(err)
	}
	m.logger.Printf("SM self test %s passed", SelfTestNames[id])
	return nil
}

func testFailed(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrFailed)
}

func selfTestMemory(mem *Memory) error {
	fa := mem.Frames()
	before := fa.Free()
	if before == 0 {
		return fmt.Errorf("memory self test: %w", ErrNoFrames)
	}

	frame, ok := fa.Alloc(1)
	if !ok {
		return testFailed("alloc of 1 frame with %d free", before)
	}
	if got := fa.Free(); got != before-1 {
		fa.Dealloc(frame, 1)
		return testFailed("free frames after alloc = %d, want %d", got, before-1)
	}
	fa.Dealloc(frame, 1)
	if got := fa.Free(); got != before {
		return testFailed("free frames after dealloc = %d, want %d", got, before)
	}

	if frame, ok := fa.AllocAligned(1, 2); ok {
		fa.Dealloc(frame, 1)
		if frame%2 != 0 {
			return testFailed("aligned alloc returned frame %d", frame)
		}
	}

	heap := mem.Heap()
	hs := heap.Stats()
	addr := heap.Alloc(64, 8)
	if !mem.Pool().Contains(addr) || addr%8 != 0 {
		heap.Dealloc(addr, 64, 8)
		return testFailed("heap block 0x%x outside pool or misaligned", addr)
	}
	heap.Dealloc(addr, 64, 8)
	if got := heap.Stats(); got.User != hs.User || got.Actual != hs.Actual {
		return testFailed("heap usage %+v after free, want %+v", got, hs)
	}

	return nil
}

func selfTestEnclave(meta MetadataAllocator, fp bool) error {
	reg := NewRegistry(meta, 1, fp, log.New(io.Discard, "", 0))
	if err := reg.Init(); err != nil {
		return err
	}
	defer reg.release()

	if err := reg.Init(); err == nil {
		return testFailed("second registry init succeeded")
	}

	const pc = 0x8020_0000
	for want := range 2 {
		idx, err := reg.Create(pc)
		if err != nil {
			return err
		}
		if idx != want || reg.Len() != want+1 {
			return testFailed("create returned %d with %d enclaves, want %d", idx, reg.Len(), want)
		}
	}

	info, err := reg.Inspect(1)
	if err != nil {
		return err
	}
	if want := reg.newVCPU(pc); info.VCPUs[0] != want || info.Running {
		return testFailed("enclave state does not match its initial context")
	}
	if _, err := reg.Inspect(2); err == nil {
		return testFailed("inspect of missing enclave succeeded")
	}

	return nil
}

func selfTestContext(meta MetadataAllocator, fp bool, rf RegisterFile) error {
	if rf == nil {
		return testFailed("context self test needs a register file")
	}

	saved := VCpuState{FP: fp}
	saved.Save(rf)
	defer saved.Load(rf)

	reg := NewRegistry(meta, 1, fp, log.New(io.Discard, "", 0))
	if err := reg.Init(); err != nil {
		return err
	}
	defer reg.release()

	const pc = 0x8020_0000
	idx, err := reg.Create(pc)
	if err != nil {
		return err
	}
	if err := reg.Enter(idx, rf); err != nil {
		return err
	}
	if got := rf.GPRs().PC; got != pc {
		_ = reg.Exit(idx, rf)
		return testFailed("pc after enter = 0x%x, want 0x%x", got, pc)
	}
	if err := reg.Enter(idx, rf); err == nil {
		_ = reg.Exit(idx, rf)
		return testFailed("re-entering a running enclave succeeded")
	}
	if err := reg.Exit(idx, rf); err != nil {
		return err
	}

	after := VCpuState{FP: fp}
	after.Save(rf)
	if !after.Equal(&saved) {
		return testFailed("host state not restored after exit")
	}

	return nil
}
