package vmm

import (
	"nyxkernel/kernel/cpu"
	"nyxkernel/kernel/diag"
	"nyxkernel/kernel/gate"
	"nyxkernel/kernel/kfmt"
)

// readCR2Fn is mocked by tests; it returns the faulting address latched by
// the CPU on the most recent page fault.
var readCR2Fn = cpu.ReadCR2

// handleInterruptFn is mocked by tests.
var handleInterruptFn = gate.HandleInterrupt

// installFaultHandlers registers the page-fault and general-protection
// handlers against their vectors. Called once from Init.
func installFaultHandlers() {
	handleInterruptFn(gate.PageFaultException, pageFaultHandler)
	handleInterruptFn(gate.GPFException, generalProtectionFaultHandler)
}

// pageFaultHandler is invoked on every page fault. Demand paging and
// copy-on-write are out of scope for this kernel, so every fault is fatal:
// it is logged with the faulting address, then the kernel exits. The CPU's
// page-fault error code is not read back out of regs.Info (every gate stub
// normalizes that field to the vector number, not the hardware error code,
// since no handler in this kernel distinguishes the fault reasons the error
// code would otherwise encode); CR2 is all a fatal-only handler needs.
func pageFaultHandler(regs *gate.Registers) {
	faultAddress := uintptr(readCR2Fn())

	w := &kfmt.PrefixWriter{Sink: printfWriter{}, Prefix: []byte("[vmm] ")}
	kfmt.Fprintf(w, "page fault while accessing address: 0x%16x\n\nRegisters:\n", faultAddress)
	regs.DumpTo(w)

	diag.Exit(diag.ExitFailure)
}

// generalProtectionFaultHandler is invoked for segment, privilege-level and
// reserved-register violations. As with pageFaultHandler, there is no
// recovery path: this kernel never traps and resumes a GPF.
func generalProtectionFaultHandler(regs *gate.Registers) {
	w := &kfmt.PrefixWriter{Sink: printfWriter{}, Prefix: []byte("[vmm] ")}
	kfmt.Fprintf(w, "general protection fault\n\nRegisters:\n")
	regs.DumpTo(w)

	diag.Exit(diag.ExitFailure)
}

// printfWriter adapts kfmt.Printf into an io.Writer so DumpTo can share it
// with every other diagnostic message the fault handlers print.
type printfWriter struct{}

func (printfWriter) Write(p []byte) (int, error) {
	kfmt.Printf("%s", string(p))
	return len(p), nil
}
