// Package gate builds the interrupt descriptor table and routes the small
// set of vectors this kernel actually cares about — divide-by-zero, the
// three faults whose stacks come from the task-state segment's
// interrupt-stack table, and the timer tick that drives preemption — to Go
// handlers.
//
// Only these vectors get a dedicated low-level entry point; every other
// slot is left absent, so any other exception triples-faults rather than
// silently falling into undefined behavior. That is an acceptable outcome
// for a kernel whose non-goals exclude a general fault-recovery story.
package gate

import (
	"io"
	"reflect"
	"unsafe"

	"nyxkernel/kernel/kfmt"
)

// InterruptNumber identifies an IDT vector.
type InterruptNumber uint8

const (
	DivideByZero       = InterruptNumber(0)
	DoubleFault        = InterruptNumber(8)
	GPFException       = InterruptNumber(13)
	PageFaultException = InterruptNumber(14)
	TimerTick          = InterruptNumber(32)
)

// Registers is a snapshot of the full architectural state visible when an
// interrupt, exception or fault is taken: the general-purpose registers
// saved by the common low-level stub, the info word (always the vector
// number), and the interrupt stack frame the CPU pushes automatically.
//
// Field order is load-bearing: the low-level stubs in gate_amd64.s push
// registers in the exact reverse of this order so that, once the stub has
// finished, the stack pointer handed to dispatchInterrupt can be cast
// directly to *Registers.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Info carries the vector number. For faults that push a hardware
	// error code, the stub discards that code and stores the vector here.
	Info uint64

	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo writes a human-readable register dump, used by the fatal-fault
// path before it exits.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	kfmt.Fprintf(w, "RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	kfmt.Fprintf(w, "RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	kfmt.Fprintf(w, "RBP = %16x\n", r.RBP)
	kfmt.Fprintf(w, "R8  = %16x R9  = %16x\n", r.R8, r.R9)
	kfmt.Fprintf(w, "R10 = %16x R11 = %16x\n", r.R10, r.R11)
	kfmt.Fprintf(w, "R12 = %16x R13 = %16x\n", r.R12, r.R13)
	kfmt.Fprintf(w, "R14 = %16x R15 = %16x\n", r.R14, r.R15)
	kfmt.Fprintf(w, "Info= %16x\n", r.Info)
	kfmt.Fprintf(w, "RIP = %16x CS  = %16x\n", r.RIP, r.CS)
	kfmt.Fprintf(w, "RSP = %16x SS  = %16x\n", r.RSP, r.SS)
	kfmt.Fprintf(w, "RFL = %16x\n", r.RFlags)
}

// idtEntry is a raw 16-byte long-mode interrupt-gate descriptor.
type idtEntry struct {
	low  uint64
	high uint64
}

const (
	gateTypeInterrupt = 0xE
	gatePresent       = 1 << 7
)

func interruptGate(handlerAddr uintptr, codeSelector uint16, ist uint8) idtEntry {
	offsetLow := uint64(handlerAddr & 0xffff)
	offsetMid := uint64((handlerAddr >> 16) & 0xffff)
	offsetHigh := uint64(handlerAddr >> 32)

	typeAttr := uint64(gateTypeInterrupt | gatePresent)

	low := offsetLow |
		uint64(codeSelector)<<16 |
		uint64(ist&0x7)<<32 |
		typeAttr<<40 |
		offsetMid<<48

	return idtEntry{low: low, high: offsetHigh}
}

var idtTable [256]idtEntry

// handlers maps a vector to the Go callback registered for it via
// HandleInterrupt. A nil entry means the vector fires but has nothing to
// run, which should never happen for a vector that was actually installed.
var handlers [256]func(*Registers)

// idtr mirrors the operand LIDT expects.
type idtr struct {
	limit uint16
	base  uint64
}

// loadIDT is backed by LIDT in gate_amd64.s.
func loadIDT(pointer unsafe.Pointer)

// stubs are the low-level entry points gate_amd64.s defines, one per
// vector this kernel installs. Each pushes that vector's number as the Info
// word (discarding any hardware error code) and its general-purpose
// registers before calling dispatchInterrupt.
func isrDivideByZero()
func isrDoubleFault()
func isrGPFault()
func isrPageFault()
func isrTimerTick()

func stubAddr(fn func()) uintptr {
	// reflect.ValueOf(fn).Pointer() returns a function value's entry
	// address; for a body-less, assembly-backed declaration like the
	// isrXxx functions above that address is exactly the label LIDT
	// needs to install, with no further indirection through a Go
	// closure.
	return reflect.ValueOf(fn).Pointer()
}

// kernelCodeSelector is the selector every interrupt gate uses: handlers
// always run at ring 0, regardless of which ring was interrupted.
var kernelCodeSelector uint16 = 0x08

// SetCodeSelector configures the selector installed interrupt gates run
// under. It must be called with the GDT's kernel code selector before
// Init, since the descriptor table built here is otherwise hard-coded to
// the bootstrap loader's default.
func SetCodeSelector(selector uint16) {
	kernelCodeSelector = selector
}

// Init builds the interrupt descriptor table, installing the five
// vectors this kernel uses and leaving the rest absent, then loads it.
func Init() {
	install(DivideByZero, 0, isrDivideByZero)
	install(DoubleFault, istDoubleFault, isrDoubleFault)
	install(GPFException, istGeneralProtection, isrGPFault)
	install(PageFaultException, istPageFault, isrPageFault)
	install(TimerTick, 0, isrTimerTick)

	limit := uint16(unsafe.Sizeof(idtTable) - 1)
	pointer := &idtr{limit: limit, base: uint64(uintptr(unsafe.Pointer(&idtTable[0])))}
	loadIDT(unsafe.Pointer(pointer))
}

// IST slot numbers; these must match the slots kernel/gdt wires into the
// task-state segment's interrupt-stack table.
const (
	istDoubleFault       = 1
	istPageFault         = 2
	istGeneralProtection = 3
)

func install(vector InterruptNumber, ist uint8, stub func()) {
	idtTable[vector] = interruptGate(stubAddr(stub), kernelCodeSelector, ist)
}

// HandleInterrupt registers handler to run whenever vector fires. vector
// must be one of the constants above; this kernel never dispatches on any
// other vector.
func HandleInterrupt(vector InterruptNumber, handler func(*Registers)) {
	handlers[vector] = handler
}

// dispatchInterrupt is invoked by every low-level stub once it has pushed
// Registers onto the stack. Every stub discards whatever the CPU itself
// put in the error-code slot (this kernel's only consumer of page-fault
// detail is CR2, read separately) and replaces it with the vector number,
// so Info always names which vector fired.
//
//go:nosplit
func dispatchInterrupt(regs *Registers) {
	vector := InterruptNumber(regs.Info)
	if h := handlers[vector]; h != nil {
		h(regs)
	}
}
