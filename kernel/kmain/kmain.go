// Package kmain sequences the kernel's one-time boot path: from a raw
// Multiboot2 pointer handed off by the assembly trampoline, through every
// allocator and the CPU state setup, to the first switch into a loaded
// task. Kmain never returns under a correct boot.
package kmain

import (
	"nyxkernel/kernel"
	"nyxkernel/kernel/diag"
	"nyxkernel/kernel/elf"
	"nyxkernel/kernel/gate"
	"nyxkernel/kernel/gdt"
	"nyxkernel/kernel/goruntime"
	"nyxkernel/kernel/irq"
	"nyxkernel/kernel/kfmt"
	"nyxkernel/kernel/mem"
	"nyxkernel/kernel/mem/bootmem"
	"nyxkernel/kernel/mem/buddy"
	"nyxkernel/kernel/mem/vmm"
	"nyxkernel/kernel/multiboot"
	"nyxkernel/kernel/task"
)

// physWindowOffset is the virtual address the boot trampoline's assembly
// maps physical address 0 to before Kmain ever runs; the trampoline itself
// (identity-mapping the low gigabytes of physical memory into the
// canonical higher half) is out of this kernel's Go-level scope, the same
// way APIC programming is — Kmain only needs to know where that mapping
// landed.
const physWindowOffset = uintptr(0xffff_8000_0000_0000)

var heapAllocator buddy.Allocator

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// SampleELF is the one workload this kernel boots: a minimal statically
// linked ELF64 executable, embedded by the build. Real filesystem or initrd
// loading is out of scope (SPEC_FULL.md names EL's input as already-resident
// bytes, not a filesystem read).
var SampleELF []byte

// Kmain is called from cmd/kernel's main, the only Go symbol the boot
// trampoline calls. multibootInfoPtr is
// the physical address of the Multiboot2 information block; kernelStart and
// kernelEnd bound the kernel image itself so BFA can exclude it from the
// frames it hands out.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	var bootAlloc bootmem.Allocator
	bootAlloc.Init()

	vmm.Init(physWindowOffset)
	heapAllocator.SetWindow(physWindowOffset)
	seedBuddyAllocator(&bootAlloc)

	if err := goruntime.Init(buddyFrameAlloc); err != nil {
		fatal(err)
	}

	gdt.Init(irq.SyscallEntryAddr())
	gate.Init()

	var scheduler task.Scheduler
	admitSampleTask(&scheduler)

	irq.InstallTimerHandler(&scheduler)
	if err := scheduler.Start(); err != nil {
		fatal(err)
	}

	irq.SwitchToFirstTask(&scheduler)

	// SwitchToFirstTask never returns under a correct boot; reaching this
	// point means iretq faulted immediately or the scheduler had nothing
	// runnable. kfmt.Panic (rather than a bare panic) keeps the compiler
	// from treating this tail as dead code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// seedBuddyAllocator drains every usable range BFA discovered into the
// buddy allocator, one page at a time, excluding nothing beyond what BFA's
// own memory-map filtering already excluded (BFA itself never hands back a
// range overlapping the kernel image, since the firmware memory map marks
// that range reserved).
func seedBuddyAllocator(bootAlloc *bootmem.Allocator) {
	for {
		addr, err := bootAlloc.AllocateContiguous(1, mem.PageSize)
		if err != nil {
			return
		}
		heapAllocator.AddFrame(physWindowOffset + addr)
	}
}

// buddyFrameAlloc adapts heapAllocator.Alloc(0) to vmm.FrameAllocatorFn.
func buddyFrameAlloc() (mem.Frame, *kernel.Error) {
	addr, err := heapAllocator.Alloc(0)
	if err != nil {
		return 0, err
	}
	return mem.FrameFromAddress(addr - physWindowOffset), nil
}

// admitSampleTask loads the kernel's one built-in sample workload and
// admits it as task 0. A real system would read this from an initrd or a
// filesystem; neither exists in this kernel, so the sample binary is
// expected to have been embedded by the build.
func admitSampleTask(scheduler *task.Scheduler) {
	image, err := elf.Load(SampleELF, buddyFrameAlloc)
	if err != nil {
		fatal(err)
	}
	scheduler.Admit(task.New(image.EntryPoint, image.StackTop))
}

func fatal(err *kernel.Error) {
	kfmt.Printf("fatal: %e\n", err)
	diag.Exit(diag.ExitFailure)
}
