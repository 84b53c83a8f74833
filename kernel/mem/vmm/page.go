package vmm

import "nyxkernel/kernel/mem"

// Page identifies a virtual memory page by its page index.
type Page uintptr

// Address returns the virtual address of the start of this page.
func (p Page) Address() uintptr {
	return uintptr(p) << mem.PageShift
}

// PageFromAddress returns the Page containing virtAddr, rounding down if
// virtAddr is not page-aligned.
func PageFromAddress(virtAddr uintptr) Page {
	return Page(mem.AlignDown(virtAddr, mem.PageSize) >> mem.PageShift)
}
