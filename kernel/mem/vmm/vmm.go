// Package vmm edits and walks the active x86_64 page tables through the
// kernel's direct physical-memory window, and installs the page-fault and
// general-protection-fault handlers that keep a bad mapping from corrupting
// kernel state silently.
package vmm

// Init wires the kernel's physical-memory window and installs the
// paging-related fault handlers. physWindowOffset is the virtual address
// that backs physical address 0; it must already be mapped by the time
// Init runs.
func Init(physWindowOffset uintptr) {
	SetPhysWindow(physWindowOffset)
	installFaultHandlers()
}
