// Package secmon implements the core of a RISC-V machine-mode security
// monitor: physical memory management for a pool of 2 MiB frames, per-hart
// register snapshots, and an enclave registry performing host/enclave
// context switches.
//
// The monitor never touches hardware registers directly. Every operation
// that needs the live state of the trapping hart receives a RegisterFile,
// so the same code runs on firmware and against a SimHart in tests.
//
// # Basic Usage
//
// Build a monitor and hand it its memory pool:
//
//	sm := secmon.New(secmon.DefaultConfig())
//	if err := sm.Initialize(0x8000_0000, 0x100_0000); err != nil {
//		log.Fatal("Failed to initialize monitor:", err)
//	}
//
// Create an enclave and switch the hart into it:
//
//	hart := secmon.NewSimHart()
//
//	idx, err := sm.Create(0x8020_0000)
//	if err != nil {
//		log.Fatal("Failed to create enclave:", err)
//	}
//
//	// hart now holds the enclave's initial context
//	if err := sm.Enter(idx, hart); err != nil {
//		log.Fatal("Failed to enter enclave:", err)
//	}
//	fmt.Printf("pc: 0x%x\n", hart.GetPC())
//
//	// and the host context again
//	if err := sm.Exit(idx, hart); err != nil {
//		log.Fatal("Failed to exit enclave:", err)
//	}
//
// Allocate enclave memory:
//
//	addr, err := sm.Allocate(eid, 3<<20) // rounded up to two frames
//
// # Calls
//
// A trap handler decodes an ecall into a function number (a7) and
// parameters (a0..a6) and hands them to Monitor.Call, or lets Monitor.Trap
// do the decoding. The result is written back to a0 (error) and a1 (value)
// unless the call switched contexts.
//
// # Error Handling
//
// Recoverable errors are SBIError values carrying an SBI error code; use
// ErrorCode to map any error onto the code returned to the caller. Monitor
// defects (a double free, heap exhaustion, reading subsystem state before
// Initialize) panic.
//
// # Concurrency
//
// Harts may call into one Monitor concurrently. The enclave registry takes
// its table lock before any per-enclave lock; the frame allocator and heap
// locks are never taken under a registry lock.
package secmon
