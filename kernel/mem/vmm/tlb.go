package vmm

import "nyxkernel/kernel/cpu"

// flushTLBEntry invalidates the translation cache entry for virtAddr.
func flushTLBEntry(virtAddr uintptr) { cpu.FlushTLBEntry(virtAddr) }

// activePDT returns the physical address of the currently active top-level
// page table (the contents of CR3).
func activePDT() uintptr { return cpu.ActivePDT() }

// switchPDT loads pdtPhysAddr into CR3, activating it and flushing the
// entire TLB.
func switchPDT(pdtPhysAddr uintptr) { cpu.SwitchPDT(pdtPhysAddr) }
