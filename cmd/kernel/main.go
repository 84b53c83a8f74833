package main

import "nyxkernel/kernel/kmain"

// multibootInfoPtr is overwritten by the assembly trampoline before main
// runs. It is declared here, rather than passed as a literal argument, so
// the compiler can't prove Kmain's argument is a compile-time constant and
// fold the call away.
var multibootInfoPtr, kernelStart, kernelEnd uintptr

// main is the only Go symbol visible to the rt0 assembly trampoline. It
// exists purely to call into kmain.Kmain with arguments the compiler
// cannot optimize away; the trampoline has already built a minimal g0 and
// a stack by the time this runs.
//
// main is not expected to return. If it does, the trampoline halts the
// CPU.
func main() {
	kmain.Kmain(multibootInfoPtr, kernelStart, kernelEnd)
}
