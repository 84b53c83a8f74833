// Package multiboot parses the Multiboot2 information block the bootloader
// leaves behind: a tag stream from which this package reads the memory map
// and the ACPI RSDP address. It has no reader for a physical-memory-offset
// value.
package multiboot

import "unsafe"

type tagType uint32

const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
	tagVbeInfo
	tagFramebufferInfo
	tagElfSymbols
	tagApmTable
	tagEfiSystemTable32
	tagEfiSystemTable64
	tagSmbios
	tagAcpiOldRsdp
	tagAcpiNewRsdp
)

// info describes the multiboot info section header.
type info struct {
	// Total size of multiboot info section.
	totalSize uint32

	// Always set to zero; reserved for future use.
	reserved uint32
}

// tagHeader describes the header that precedes each tag.
type tagHeader struct {
	// The type of the tag.
	tagType tagType

	// The size of the tag including the header but *not* including any
	// padding. Each tag starts at an 8-byte aligned address.
	size uint32
}

// mmapHeader describes the header for a memory map specification.
type mmapHeader struct {
	// The size of each entry.
	entrySize uint32

	// The version of the entries that follow.
	entryVersion uint32
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for
	// use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info
	// that can be reused once it has been parsed.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown is mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry: its physical address, its
// length and its kind.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The kind of this entry.
	Type MemoryEntryType

	reserved uint32
}

// MemRegionVisitor is invoked by VisitMemRegions for each memory region
// supplied by the bootloader. The visitor must return true to continue or
// false to abort the scan.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

var infoData uintptr

// SetInfoPtr updates the internal multiboot information pointer to ptr.
// This must be called before any other function in this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// VisitMemRegions invokes the supplied visitor for each memory region
// present in the multiboot info data received from the bootloader.
func VisitMemRegions(visitor MemRegionVisitor) {
	curPtr, size := findTagByType(tagMemoryMap)
	if size == 0 {
		return
	}

	// curPtr points to the memory map header (2 dwords long)
	ptrMapHeader := (*mmapHeader)(unsafe.Pointer(curPtr))
	endPtr := curPtr + uintptr(size)
	curPtr += 8

	var entry *MemoryMapEntry
	for curPtr != endPtr {
		entry = (*MemoryMapEntry)(unsafe.Pointer(curPtr))

		// Mark unknown entry types as reserved.
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			return
		}

		curPtr += uintptr(ptrMapHeader.entrySize)
	}
}

// RSDP returns the physical address of the ACPI root pointer supplied by
// the bootloader and true if either an old (ACPI 1.0) or new (ACPI 2.0+)
// RSDP tag was present. A new-format RSDP tag always wins over an old one
// regardless of which order the bootloader emitted them in. The kernel
// only needs this address; parsing the ACPI tables themselves is out of
// scope.
func RSDP() (uintptr, bool) {
	var addr uintptr
	var found bool

	forEachTag(func(tt tagType, contentPtr uintptr, contentSize uint32) bool {
		switch tt {
		case tagAcpiNewRsdp:
			addr, found = contentPtr, true
			return false
		case tagAcpiOldRsdp:
			addr, found = contentPtr, true
			// Keep scanning: a new-format tag appearing later should
			// still take priority over this one.
			return true
		}
		return true
	})

	return addr, found
}

// tagVisitor is invoked by forEachTag for every tag in the multiboot info
// block. Returning false stops the scan early.
type tagVisitor func(tt tagType, contentPtr uintptr, contentSize uint32) bool

// forEachTag walks the tag stream starting right after the info header,
// invoking visit with each tag's type and the address/length of its
// content (past the tag's own header). Every lookup in this package is
// built on top of this single walk, rather than re-scanning the tag
// stream from the start once per tag type a caller is interested in.
func forEachTag(visit tagVisitor) {
	curPtr := infoData + 8

	for {
		hdr := (*tagHeader)(unsafe.Pointer(curPtr))
		if hdr.tagType == tagMbSectionEnd {
			return
		}

		if !visit(hdr.tagType, curPtr+8, hdr.size-8) {
			return
		}

		// Tags are 8-byte aligned.
		curPtr += uintptr(int32(hdr.size+7) &^ 7)
	}
}

// findTagByType returns the content address and length of the first tag
// matching tt, or (0, 0) if the tag is absent.
func findTagByType(tt tagType) (uintptr, uint32) {
	var contentPtr uintptr
	var contentSize uint32

	forEachTag(func(candidate tagType, ptr uintptr, size uint32) bool {
		if candidate != tt {
			return true
		}
		contentPtr, contentSize = ptr, size
		return false
	})

	return contentPtr, contentSize
}
