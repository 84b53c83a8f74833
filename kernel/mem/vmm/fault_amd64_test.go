package vmm

import (
	"reflect"
	"testing"

	"nyxkernel/kernel/cpu"
	"nyxkernel/kernel/gate"
)

// TestInstallFaultHandlersRegistersBothVectors checks that Init wires the
// page-fault and general-protection vectors to handlers in this package,
// without exercising the handlers themselves: both end in diag.Exit, which
// executes a privileged I/O instruction that only behaves under a VM with
// the isa-debug-exit device, not under a hosted test binary.
func TestInstallFaultHandlersRegistersBothVectors(t *testing.T) {
	var gotPageFault, gotGPF bool
	origHandle := handleInterruptFn
	handleInterruptFn = func(vector gate.InterruptNumber, _ func(*gate.Registers)) {
		switch vector {
		case gate.PageFaultException:
			gotPageFault = true
		case gate.GPFException:
			gotGPF = true
		}
	}
	t.Cleanup(func() { handleInterruptFn = origHandle })

	installFaultHandlers()

	if !gotPageFault {
		t.Fatal("expected installFaultHandlers to register the page-fault vector")
	}
	if !gotGPF {
		t.Fatal("expected installFaultHandlers to register the general-protection vector")
	}
}

func TestReadCR2FnDefaultsToCPUReadCR2(t *testing.T) {
	if readCR2Fn == nil {
		t.Fatal("expected readCR2Fn to have a default implementation")
	}
	if reflect.ValueOf(readCR2Fn).Pointer() != reflect.ValueOf(cpu.ReadCR2).Pointer() {
		t.Fatal("expected readCR2Fn to default to cpu.ReadCR2")
	}
}
