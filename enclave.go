package secmon

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"
	"unsafe"
)

// MetadataAllocator backs per-enclave bookkeeping. Alloc faults instead of
// returning an error when it cannot be satisfied.
type MetadataAllocator interface {
	Alloc(size, align uint64) uint64
	Dealloc(addr, size, align uint64)
}

const metaAlign = 8

// enclave is one registry entry. Its fields are guarded by mu, which is only
// reachable through Registry.withEnclave.
type enclave struct {
	mu      sync.RWMutex
	id      int
	host    VCpuState
	vcpus   []VCpuState
	running int // index into vcpus, -1 while the host owns the hart
	meta    uint64
	created time.Time
}

// EnclaveInfo is a copy of an enclave's state for inspection.
type EnclaveInfo struct {
	ID       int         `json:"id"`
	Running  bool        `json:"running"`
	VCPU     int         `json:"vcpu"`
	Metadata uint64      `json:"metadata"`
	Created  time.Time   `json:"created"`
	VCPUs    []VCpuState `json:"vcpus"`
}

// Registry is the enclave table. The outer lock guards the shape of the
// table and each enclave carries its own lock; the outer lock is always
// taken first.
type Registry struct {
	mu          sync.RWMutex
	initialized bool
	enclaves    []*enclave

	meta     MetadataAllocator
	maxVCPUs int
	fp       bool
	logger   *log.Logger
	metrics  *metrics
}

// NewRegistry returns an uninitialized registry charging enclave metadata to
// meta.
func NewRegistry(meta MetadataAllocator, maxVCPUs int, fp bool, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Registry{
		meta:     meta,
		maxVCPUs: max(maxVCPUs, 1),
		fp:       fp,
		logger:   logger,
	}
}

// Init latches the registry. It may be called once.
func (r *Registry) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return ErrAlreadyInitialized
	}
	r.initialized = true
	r.logger.Printf("SM enclave registry initialized (vcpus:%d fp:%v)", r.maxVCPUs, r.fp)
	return nil
}

func (r *Registry) metaSize() uint64 {
	return uint64(unsafe.Sizeof(enclave{})) + uint64(r.maxVCPUs)*uint64(unsafe.Sizeof(VCpuState{}))
}

func (r *Registry) newVCPU(pc uint64) VCpuState {
	v := InitContext(pc)
	v.FP = r.fp
	return *v
}

// Create builds an enclave whose first hart starts at entryPC and returns its
// index. Indices are dense, strictly increasing and never reused.
func (r *Registry) Create(entryPC uint64) (int, error) {
	if entryPC&1 != 0 {
		return 0, fmt.Errorf("create at 0x%x: %w", entryPC, ErrInvalidEntry)
	}

	r.mu.RLock()
	ok := r.initialized
	r.mu.RUnlock()
	if !ok {
		return 0, ErrNotInitialized
	}

	// Metadata is charged outside the registry locks since the heap may
	// rescue from the frame allocator.
	meta := r.meta.Alloc(r.metaSize(), metaAlign)

	e := &enclave{
		host:    VCpuState{FP: r.fp},
		vcpus:   make([]VCpuState, 1, r.maxVCPUs),
		running: -1,
		meta:    meta,
		created: time.Now(),
	}
	e.vcpus[0] = r.newVCPU(entryPC)

	r.mu.Lock()
	e.id = len(r.enclaves)
	r.enclaves = append(r.enclaves, e)
	r.mu.Unlock()

	r.metrics.recordCreate()
	r.logger.Printf("SM enclave %d created entry:0x%x meta:0x%x", e.id, entryPC, meta)
	return e.id, nil
}

// withEnclave runs fn with the enclave at idx locked for reading or writing,
// while holding the outer lock for reading.
func (r *Registry) withEnclave(idx int, write bool, fn func(*enclave) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.initialized {
		return ErrNotInitialized
	}
	if idx < 0 || idx >= len(r.enclaves) {
		return fmt.Errorf("enclave %d: %w", idx, ErrEnclaveNotFound)
	}

	e := r.enclaves[idx]
	if write {
		e.mu.Lock()
		defer e.mu.Unlock()
	} else {
		e.mu.RLock()
		defer e.mu.RUnlock()
	}
	return fn(e)
}

// AddVCPU appends a hart starting at entryPC to enclave idx and returns its
// index within the enclave.
func (r *Registry) AddVCPU(idx int, entryPC uint64) (int, error) {
	if entryPC&1 != 0 {
		return 0, fmt.Errorf("vcpu at 0x%x: %w", entryPC, ErrInvalidEntry)
	}

	var n int
	err := r.withEnclave(idx, true, func(e *enclave) error {
		if len(e.vcpus) >= r.maxVCPUs {
			return fmt.Errorf("enclave %d: %w", idx, ErrVCPULimit)
		}
		e.vcpus = append(e.vcpus, r.newVCPU(entryPC))
		n = len(e.vcpus) - 1
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.metrics.recordVCPU()
	return n, nil
}

// Enter switches the hart behind rf from the host to hart 0 of enclave idx.
func (r *Registry) Enter(idx int, rf RegisterFile) error {
	return r.EnterVCPU(idx, 0, rf)
}

// EnterVCPU saves the host state of rf into the enclave's shadow and loads
// hart vcpu of enclave idx into rf. Resuming at the loaded PC is left to the
// caller.
func (r *Registry) EnterVCPU(idx, vcpu int, rf RegisterFile) error {
	start := time.Now()
	err := r.withEnclave(idx, true, func(e *enclave) error {
		if e.running >= 0 {
			return fmt.Errorf("enclave %d vcpu %d: %w", idx, e.running, ErrEnclaveRunning)
		}
		if vcpu < 0 || vcpu >= len(e.vcpus) {
			return fmt.Errorf("enclave %d vcpu %d: %w", idx, vcpu, ErrVCPUNotFound)
		}

		e.host.Save(rf)
		e.vcpus[vcpu].Load(rf)
		e.running = vcpu
		return nil
	})
	if err != nil {
		return err
	}

	r.metrics.recordEnter(time.Since(start))
	return nil
}

// Exit saves the running enclave hart from rf and restores the host state
// captured by the matching Enter.
func (r *Registry) Exit(idx int, rf RegisterFile) error {
	start := time.Now()
	err := r.withEnclave(idx, true, func(e *enclave) error {
		if e.running < 0 {
			return fmt.Errorf("enclave %d: %w", idx, ErrEnclaveStopped)
		}

		e.vcpus[e.running].Save(rf)
		e.host.Load(rf)
		e.running = -1
		return nil
	})
	if err != nil {
		return err
	}

	r.metrics.recordExit(time.Since(start))
	return nil
}

// Len returns the number of enclaves.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.enclaves)
}

// Inspect returns a copy of enclave idx.
func (r *Registry) Inspect(idx int) (EnclaveInfo, error) {
	var info EnclaveInfo
	err := r.withEnclave(idx, false, func(e *enclave) error {
		info = EnclaveInfo{
			ID:       e.id,
			Running:  e.running >= 0,
			VCPU:     e.running,
			Metadata: e.meta,
			Created:  e.created,
			VCPUs:    append([]VCpuState(nil), e.vcpus...),
		}
		return nil
	})
	return info, err
}

// release returns every enclave's metadata and empties the registry. It is
// only used on registries private to a self test. The metadata is returned
// after the table lock is dropped.
func (r *Registry) release() {
	r.mu.Lock()
	metas := make([]uint64, 0, len(r.enclaves))
	for _, e := range r.enclaves {
		metas = append(metas, e.meta)
	}
	r.enclaves = nil
	r.mu.Unlock()

	size := r.metaSize()
	for _, addr := range metas {
		r.meta.Dealloc(addr, size, metaAlign)
	}
}
