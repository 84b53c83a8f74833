package gdt

import "testing"

func TestSelectorLayout(t *testing.T) {
	// SYSCALL needs CS=syscallCS, SS=syscallCS+8; SYSRET needs
	// CS=sysretBase+16, SS=sysretBase+8. Both must land on the
	// descriptors Init actually builds.
	if KernelDataSelector != KernelCodeSelector+8 {
		t.Fatalf("kernel data selector must follow kernel code by 8 bytes; got code=%#x data=%#x", KernelCodeSelector, KernelDataSelector)
	}

	sysretBase := uint64(sysretBaseIndex * 8)
	if uint64(UserDataSelector&^userRPL) != sysretBase+8 {
		t.Fatalf("user data selector must sit at sysretBase+8; got %#x, base %#x", UserDataSelector, sysretBase)
	}
	if uint64(UserCodeSelector&^userRPL) != sysretBase+16 {
		t.Fatalf("user code selector must sit at sysretBase+16; got %#x, base %#x", UserCodeSelector, sysretBase)
	}

	if UserDataSelector&userRPL != userRPL || UserCodeSelector&userRPL != userRPL {
		t.Fatal("user selectors must request ring 3")
	}
	if KernelCodeSelector&3 != 0 || KernelDataSelector&3 != 0 {
		t.Fatal("kernel selectors must request ring 0")
	}
}

func TestCodeDescriptorEncoding(t *testing.T) {
	d := codeDescriptor(0)

	if d&accessPresent == 0 {
		t.Fatal("expected present bit set")
	}
	if d&accessExecutable == 0 {
		t.Fatal("expected executable bit set")
	}
	if d&flagLongMode == 0 {
		t.Fatal("expected long-mode bit set for a 64-bit code segment")
	}
	if (d>>45)&3 != 0 {
		t.Fatalf("expected DPL 0; got %d", (d>>45)&3)
	}

	user := codeDescriptor(3)
	if (user>>45)&3 != 3 {
		t.Fatalf("expected DPL 3; got %d", (user>>45)&3)
	}
}

func TestDataDescriptorEncoding(t *testing.T) {
	d := dataDescriptor(0)

	if d&accessExecutable != 0 {
		t.Fatal("a data descriptor must not set the executable bit")
	}
	if d&accessWritable == 0 {
		t.Fatal("expected writable bit set")
	}
	if d&accessPresent == 0 {
		t.Fatal("expected present bit set")
	}
}

func TestSystemDescriptorPairEncodesBaseAndLimit(t *testing.T) {
	base := uint64(0x1234_5678_9abc)
	limit := uint32(103) // sizeof(taskStateSegment) - 1

	low, high := systemDescriptorPair(base, limit)

	gotLimitLow := low & 0xffff
	if gotLimitLow != uint64(limit&0xffff) {
		t.Fatalf("expected low limit %#x; got %#x", limit&0xffff, gotLimitLow)
	}

	gotBaseLow := (low >> 16) & 0xffffff
	if gotBaseLow != base&0xffffff {
		t.Fatalf("expected low base %#x; got %#x", base&0xffffff, gotBaseLow)
	}

	gotBaseHigh := (low >> 56) & 0xff
	if gotBaseHigh != (base>>24)&0xff {
		t.Fatalf("expected base bits 24-31 %#x; got %#x", (base>>24)&0xff, gotBaseHigh)
	}

	if high != base>>32 {
		t.Fatalf("expected high word %#x; got %#x", base>>32, high)
	}

	if low&accessPresent == 0 {
		t.Fatal("expected present bit set on the TSS descriptor")
	}
}

func TestISTStacksAreDistinctAndPageSized(t *testing.T) {
	top := func(stack *[istStackSize]byte) uintptr { return stackTop(stack) }

	df := top(&doubleFaultStack)
	pf := top(&pageFaultStack)
	gp := top(&generalProtectionStack)

	if df == pf || df == gp || pf == gp {
		t.Fatal("expected the three IST stacks to be backed by distinct memory")
	}

	if istStackSize%4096 != 0 {
		t.Fatal("expected the IST stack size to be a whole number of pages")
	}
}

func TestSetKernelStackUpdatesRSP0(t *testing.T) {
	SetKernelStack(0xdead_beef)
	if tss.rsp[0] != 0xdead_beef {
		t.Fatalf("expected RSP0 to be updated; got %#x", tss.rsp[0])
	}
}
