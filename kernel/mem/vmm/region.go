package vmm

import (
	"nyxkernel/kernel"
	"nyxkernel/kernel/mem"
)

// KernelHeapBase is the first virtual address ReserveRegion hands out. It
// sits well above the direct physical-memory window and any identity-mapped
// boot region, in the canonical higher half.
const KernelHeapBase = uintptr(0xffff_8080_0000_0000)

// heapBump is the next unreserved address within the kernel heap region.
// Reservations are never released: nothing in this kernel ever shrinks the
// Go heap's reserved address space once runtime.mallocinit has claimed it.
var heapBump = KernelHeapBase

// ReserveRegion reserves size bytes (rounded up to a whole number of pages)
// of virtual address space starting at the current bump pointer, without
// establishing any mapping. It is the address-space counterpart of BA's
// frame allocation: the Go runtime bootstrap calls this to carve out space
// before the pages backing it are mapped in by a later sysMap/sysAlloc
// call. A size of zero is a valid no-op reservation (goruntime's bootstrap
// init makes exactly this call to keep its redirected functions reachable)
// and just returns the current bump pointer without advancing it.
func ReserveRegion(size uintptr) (uintptr, *kernel.Error) {
	aligned := mem.AlignUp(size, mem.PageSize)
	start := heapBump
	heapBump += aligned
	return start, nil
}
