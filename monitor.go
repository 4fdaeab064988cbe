package secmon

import (
	"io"
	"log"
	"sync"
	"sync/atomic"
)

// Config controls how a Monitor is built.
type Config struct {
	// FloatingPoint enables saving and restoring FPRs on context switches.
	FloatingPoint bool
	// MaxVCPUs bounds the harts of a single enclave.
	MaxVCPUs int
	// Memory, when set, is used to scrub frames before they are allocated.
	Memory PhysMem
	// Logger receives "SM" prefixed progress messages. Nil discards them.
	Logger *log.Logger
}

// DefaultConfig returns a configuration with FP enabled and four harts per
// enclave.
func DefaultConfig() Config {
	return Config{
		FloatingPoint: true,
		MaxVCPUs:      4,
	}
}

// Monitor is the security monitor state for one machine: the memory pool and
// the enclave registry, both built by Initialize.
type Monitor struct {
	cfg     Config
	logger  *log.Logger
	metrics metrics

	initMu sync.Mutex
	ready  atomic.Bool
	mem    *Memory
	reg    *Registry
}

// New returns an uninitialized monitor.
func New(cfg Config) *Monitor {
	if cfg.MaxVCPUs <= 0 {
		cfg.MaxVCPUs = DefaultConfig().MaxVCPUs
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Monitor{cfg: cfg, logger: logger}
}

// Initialize hands the monitor its memory pool. The pool geometry is checked
// before any state is touched; the memory subsystem is then built ahead of
// the enclave registry. Only the first successful call has an effect.
func (m *Monitor) Initialize(poolStart, poolSize uint64) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.ready.Load() {
		return m.metrics.recordError(ErrAlreadyInitialized)
	}
	if err := (Pool{Start: poolStart, Size: poolSize}).Validate(); err != nil {
		return m.metrics.recordError(err)
	}

	opts := []MemoryOption{WithLogger(m.logger), withMetrics(&m.metrics)}
	if m.cfg.Memory != nil {
		opts = append(opts, WithPhysMem(m.cfg.Memory))
	}
	mem, err := NewMemory(poolStart, poolSize, opts...)
	if err != nil {
		return m.metrics.recordError(err)
	}

	reg := NewRegistry(mem.Heap(), m.cfg.MaxVCPUs, m.cfg.FloatingPoint, m.logger)
	reg.metrics = &m.metrics
	if err := reg.Init(); err != nil {
		return m.metrics.recordError(err)
	}

	m.mem = mem
	m.reg = reg
	m.ready.Store(true)

	m.logger.Printf("SM initialized")
	return nil
}

// Initialized reports whether Initialize has succeeded.
func (m *Monitor) Initialized() bool { return m.ready.Load() }

// Memory returns the memory subsystem. Reading it before Initialize is a
// monitor defect and faults.
func (m *Monitor) Memory() *Memory {
	if !m.ready.Load() {
		panic("sm: memory read before initialization")
	}
	return m.mem
}

// Registry returns the enclave registry. Reading it before Initialize is a
// monitor defect and faults.
func (m *Monitor) Registry() *Registry {
	if !m.ready.Load() {
		panic("sm: enclave registry read before initialization")
	}
	return m.reg
}

// Allocate reserves size bytes of whole frames for enclave eid.
func (m *Monitor) Allocate(eid, size uint64) (uint64, error) {
	if !m.ready.Load() {
		return 0, m.metrics.recordError(ErrNotInitialized)
	}
	addr, err := m.Memory().Alloc(eid, size)
	return addr, m.metrics.recordError(err)
}

// Free releases an allocation made for enclave eid.
func (m *Monitor) Free(eid, addr uint64) error {
	if !m.ready.Load() {
		return m.metrics.recordError(ErrNotInitialized)
	}
	return m.metrics.recordError(m.Memory().Free(eid, addr))
}

// Create builds an enclave starting at entryPC and returns its index.
func (m *Monitor) Create(entryPC uint64) (int, error) {
	if !m.ready.Load() {
		return 0, m.metrics.recordError(ErrNotInitialized)
	}
	idx, err := m.Registry().Create(entryPC)
	return idx, m.metrics.recordError(err)
}

// AddVCPU adds a hart starting at entryPC to enclave idx.
func (m *Monitor) AddVCPU(idx int, entryPC uint64) (int, error) {
	if !m.ready.Load() {
		return 0, m.metrics.recordError(ErrNotInitialized)
	}
	n, err := m.Registry().AddVCPU(idx, entryPC)
	return n, m.metrics.recordError(err)
}

// Enter switches rf from the host to hart 0 of enclave idx.
func (m *Monitor) Enter(idx int, rf RegisterFile) error {
	return m.EnterVCPU(idx, 0, rf)
}

// EnterVCPU switches rf from the host to hart vcpu of enclave idx.
func (m *Monitor) EnterVCPU(idx, vcpu int, rf RegisterFile) error {
	if !m.ready.Load() {
		return m.metrics.recordError(ErrNotInitialized)
	}
	return m.metrics.recordError(m.Registry().EnterVCPU(idx, vcpu, rf))
}

// Exit switches rf from enclave idx back to the host.
func (m *Monitor) Exit(idx int, rf RegisterFile) error {
	if !m.ready.Load() {
		return m.metrics.recordError(ErrNotInitialized)
	}
	return m.metrics.recordError(m.Registry().Exit(idx, rf))
}

// Enclave returns a copy of enclave idx.
func (m *Monitor) Enclave(idx int) (EnclaveInfo, error) {
	if !m.ready.Load() {
		return EnclaveInfo{}, ErrNotInitialized
	}
	return m.Registry().Inspect(idx)
}

// Enclaves returns the number of enclaves.
func (m *Monitor) Enclaves() int {
	if !m.ready.Load() {
		return 0
	}
	return m.Registry().Len()
}

// MemoryStats returns pool usage.
func (m *Monitor) MemoryStats() (MemoryStats, error) {
	if !m.ready.Load() {
		return MemoryStats{}, ErrNotInitialized
	}
	return m.Memory().Stats(), nil
}

// Metrics returns the monitor counters.
func (m *Monitor) Metrics() Metrics { return m.metrics.snapshot() }

// ResetMetrics clears the monitor counters.
func (m *Monitor) ResetMetrics() { m.metrics.reset() }
