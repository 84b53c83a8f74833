package vmm

import (
	"unsafe"

	"nyxkernel/kernel/mem"
)

// physWindowOffset is the virtual address corresponding to physical address
// 0 in the kernel's direct physical-memory mapping. Every page table is
// addressed through this window rather than through the recursive
// self-mapping trick: the whole of physical memory, including every page
// table the kernel has ever allocated, is already mapped there, so no
// temporary mapping is ever needed to inspect or edit an inactive table.
var physWindowOffset uintptr

// SetPhysWindow configures the virtual address backing physical address 0.
// It must be called once, early, before any walk.
func SetPhysWindow(offset uintptr) {
	physWindowOffset = offset
}

// PhysToVirt translates a physical address into the kernel's direct
// physical-memory window, letting callers (the ELF loader, in particular)
// write a newly mapped user page's contents without going through the user
// mapping itself.
func PhysToVirt(physAddr uintptr) uintptr {
	return physWindowOffset + physAddr
}

// ptePtrFn returns a pointer to the page table entry living at the given
// *virtual* address. Tests override this to walk a synthetic in-memory
// table tree instead of real hardware page tables.
var ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
	return unsafe.Pointer(entryAddr)
}

// activePDTFn returns the physical address of the currently active top
// level page table (the contents of CR3). Tests override this.
var activePDTFn = activePDT

// pageTableWalker is invoked once per page-table level visited by walk. If
// it returns false the walk stops early.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a 4-level page table walk for virtAddr, invoking walkFn
// with the entry at each level. Each table is located through the kernel's
// physical-memory window: level 0's table is the active PDT itself;
// subsequent levels follow whatever frame the previous entry names.
func walk(virtAddr uintptr, walkFn pageTableWalker) {
	tableAddr := physWindowOffset + activePDTFn()

	for level := uint8(0); level < pageLevels; level++ {
		entryIndex := (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		entryAddr := tableAddr + entryIndex<<mem.PointerShift

		pte := (*pageTableEntry)(ptePtrFn(entryAddr))
		if !walkFn(level, pte) {
			return
		}

		if level == pageLevels-1 {
			return
		}

		tableAddr = physWindowOffset + pte.Frame().Address()
	}
}
