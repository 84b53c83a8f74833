// Package gdt programs the CPU state a ring transition depends on: the
// global descriptor table, a task-state segment carrying the privileged
// stack pointer and the interrupt-stack-table entries used by fault
// handlers that must not run on a possibly-corrupt task stack, and the
// model-specific registers that drive the SYSCALL/SYSRET fast-syscall
// pair.
//
// Nothing in the rest of this kernel's source tree precedes this package
// with a segment-table implementation of its own; the table layout below
// is assembled directly from the selectors the task-switching and
// fast-syscall code expects to find (kernel code, kernel data, user data,
// user code, task-state), in the style of the raw bitfield-over-integer
// types used elsewhere in this kernel (see vmm.pageTableEntry).
package gdt

import (
	"unsafe"

	"nyxkernel/kernel/cpu"
)

// Selector indices, in GDT entry units (not yet shifted into a byte
// offset). User descriptors are ordered data-then-code, the reverse of
// the kernel pair, so that a single base index serves both the SYSCALL
// and SYSRET halves of the STAR MSR (see programSyscallMSRs).
const (
	nullIndex = iota
	kernelCodeIndex
	kernelDataIndex
	sysretBaseIndex // unused descriptor; exists only to anchor the STAR math
	userDataIndex
	userCodeIndex
	tssIndex // occupies tssIndex and tssIndex+1 (a TSS descriptor is 16 bytes)

	// entryCount is the table size in 8-byte slots: tssIndex+1 ordinary
	// slots plus one extra slot for the TSS descriptor's high word.
	entryCount = tssIndex + 2
)

// requestedPrivilegeLevel 3 (ring 3, user mode).
const userRPL = 3

// Selector byte offsets, exported for use by the ELF loader and task
// package when building an initial TaskContext.
const (
	KernelCodeSelector = kernelCodeIndex * 8
	KernelDataSelector = kernelDataIndex * 8
	UserDataSelector   = userDataIndex*8 | userRPL
	UserCodeSelector   = userCodeIndex*8 | userRPL
	tssSelector        = tssIndex * 8
)

// descriptor is a raw 64-bit GDT entry, laid out as the CPU expects it:
// limit/base split across several fields, with a 12-bit access/flags
// block built up from the accessXxx/flagXxx constants below.
type descriptor uint64

const (
	accessAccessed   = 1 << 40
	accessWritable   = 1 << 41 // data: writable; code: readable
	accessExecutable = 1 << 43
	accessUser       = 1 << 44 // descriptor type: 1 = code/data, 0 = system
	accessDPL3       = 3 << 45
	accessPresent    = 1 << 47

	flagLongMode = 1 << 53 // 64-bit code segment (L bit)
)

func codeDescriptor(dpl uint64) descriptor {
	return descriptor(accessPresent | accessUser | accessExecutable | accessWritable | flagLongMode | (dpl << 45))
}

func dataDescriptor(dpl uint64) descriptor {
	return descriptor(accessPresent | accessUser | accessWritable | (dpl << 45))
}

// systemDescriptorPair returns the two 64-bit words of a long-mode system
// segment descriptor (used here for the TSS) with the given base address
// and limit.
func systemDescriptorPair(base uint64, limit uint32) (uint64, uint64) {
	const tssType = 0x9 // available 64-bit TSS

	low := uint64(limit&0xffff) |
		(base&0xffffff)<<16 |
		(tssType)<<40 |
		accessPresent |
		(uint64(limit>>16)&0xf)<<48 |
		((base>>24)&0xff)<<56

	high := base >> 32

	return low, high
}

// istStackSize is the size of each dedicated interrupt-stack-table stack.
// Matches the five-page fault stack used in the original task-switching
// prototype this kernel's scheduler is modeled on.
const istStackSize = 5 * 4096

const (
	doubleFaultIST = iota // IST1
	pageFaultIST          // IST2
	generalProtectionIST  // IST3

	istCount
)

var (
	doubleFaultStack       [istStackSize]byte
	pageFaultStack         [istStackSize]byte
	generalProtectionStack [istStackSize]byte
)

// taskStateSegment mirrors the hardware x86_64 TSS layout: 104 bytes,
// reserved fields included, no I/O permission bitmap.
type taskStateSegment struct {
	reserved0 uint32
	rsp       [3]uint64
	reserved1 uint64
	ist       [7]uint64
	reserved2 uint64
	reserved3 uint16
	ioMapBase uint16
}

var (
	gdtTable [entryCount]descriptor
	tss      taskStateSegment
)

// loadGDT and loadTSS are backed by LGDT/LTR in gdt_amd64.s.
func loadGDT(pointer unsafe.Pointer)
func loadTSS(selector uint16)

// gdtr mirrors the operand LGDT expects: a 16-bit limit followed by a
// 64-bit linear base address.
type gdtr struct {
	limit uint16
	base  uint64
}

// Init builds the GDT and TSS, loads them, and programs the
// model-specific registers needed for SYSCALL/SYSRET. It must run once,
// after the kernel's direct physical-memory window and control-register
// feature bits (see kernel/cpu) are available, and before any task is
// dispatched.
func Init(syscallEntry uintptr) {
	gdtTable[nullIndex] = 0
	gdtTable[kernelCodeIndex] = codeDescriptor(0)
	gdtTable[kernelDataIndex] = dataDescriptor(0)
	gdtTable[sysretBaseIndex] = 0
	gdtTable[userDataIndex] = dataDescriptor(userRPL)
	gdtTable[userCodeIndex] = codeDescriptor(userRPL)

	tss.ist[doubleFaultIST] = uintptr2u64(stackTop(&doubleFaultStack))
	tss.ist[pageFaultIST] = uintptr2u64(stackTop(&pageFaultStack))
	tss.ist[generalProtectionIST] = uintptr2u64(stackTop(&generalProtectionStack))

	tssDescLow, tssDescHigh := systemDescriptorPair(uint64(uintptr(unsafe.Pointer(&tss))), uint32(unsafe.Sizeof(tss))-1)
	gdtTable[tssIndex] = descriptor(tssDescLow)
	gdtTable[tssIndex+1] = descriptor(tssDescHigh)

	limit := uint16(entryCount*8 - 1)
	pointer := &gdtr{limit: limit, base: uint64(uintptr(unsafe.Pointer(&gdtTable[0])))}
	loadGDT(unsafe.Pointer(pointer))
	loadTSS(tssSelector)

	programControlRegisters()
	programSyscallMSRs(syscallEntry)
}

// SetKernelStack rewrites the TSS's privileged stack pointer (RSP0) to
// kernelStackTop. The irq timer handler calls this on every context switch
// (and before the first task is entered) so a
// ring-3-to-ring-0 transition always lands on the incoming task's own
// kernel stack.
func SetKernelStack(kernelStackTop uintptr) {
	tss.rsp[0] = uint64(kernelStackTop)
}

func stackTop(stack *[istStackSize]byte) uintptr {
	return uintptr(unsafe.Pointer(stack)) + istStackSize
}

func uintptr2u64(p uintptr) uint64 { return uint64(p) }

// programControlRegisters sets the control-register bits the kernel
// relies on regardless of which ring is executing: alignment checking,
// the numeric-error reporting style modern FPUs expect, and the cache
// left enabled. Global pages, FSGSBASE and machine-check are enabled only
// when the running CPU actually advertises them.
func programControlRegisters() {
	cpu.EnableSSE()

	const (
		pge      = 13 // CPUID.01H:EDX.PGE
		fsgsbase = 0  // CPUID.07H:EBX.FSGSBASE (checked separately below)
		mce      = 7  // CPUID.01H:EDX.MCE
	)

	if cpu.SupportsFeature(pge) {
		cpu.EnableGlobalPages()
	}
	if cpu.SupportsFeature(mce) {
		cpu.EnableMachineCheck()
	}
	// FSGSBASE is reported via CPUID leaf 7, not leaf 1; SupportsFeature
	// only covers leaf 1, so this kernel enables it unconditionally on
	// the understanding that every target CPU is new enough to support
	// it. A leaf-7 probe would live here if that assumption stopped
	// holding.
	cpu.EnableFSGSBase()
}

// MSR numbers for the SYSCALL/SYSRET control registers.
const (
	msrEFER   = 0xC000_0080
	msrSTAR   = 0xC000_0081
	msrLSTAR  = 0xC000_0082
	msrSFMask = 0xC000_0084

	eferSCE = 1 << 0 // system-call extensions
)

// programSyscallMSRs enables SYSCALL/SYSRET and points it at
// syscallEntry. STAR is built so that SYSCALL uses the kernel code/data
// pair and SYSRET uses the user code/data pair; the user descriptors are
// ordered data-then-code (see the const block above) specifically so a
// single base index produces both halves correctly.
func programSyscallMSRs(syscallEntry uintptr) {
	efer := cpu.ReadMSR(msrEFER)
	cpu.WriteMSR(msrEFER, efer|eferSCE)

	cpu.WriteMSR(msrLSTAR, uint64(syscallEntry))

	// Clear the interrupt flag on syscall entry so the kernel's syscall
	// trampoline runs with interrupts masked until it explicitly
	// re-enables them.
	const interruptFlag = 1 << 9
	cpu.WriteMSR(msrSFMask, interruptFlag)

	sysretBase := uint64(sysretBaseIndex * 8)
	syscallCS := uint64(kernelCodeIndex * 8)
	star := (sysretBase << 48) | (syscallCS << 32)
	cpu.WriteMSR(msrSTAR, star)
}
