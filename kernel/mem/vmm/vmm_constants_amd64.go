package vmm

const (
	// pageLevels is the number of page-table levels walked on amd64 (PML4,
	// PDPT, PD, PT).
	pageLevels = 4

	// ptePhysPageMask extracts the physical frame address from a page
	// table entry; bits 12-51 carry it.
	ptePhysPageMask = uintptr(0x000ffffffffff000)
)

var (
	// pageLevelBits is the number of virtual-address bits consumed by
	// each page-table level; 9 bits per level gives 512 entries per
	// table.
	pageLevelBits = [pageLevels]uint8{9, 9, 9, 9}

	// pageLevelShifts is the bit offset of each level's index field
	// within a virtual address.
	pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}
)

const (
	// FlagPresent is set when the entry refers to a mapped frame or table.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW permits writes through this mapping.
	FlagRW

	// FlagUserAccessible permits ring-3 access through this mapping. Must
	// be set at every level of the walk, not just the final one.
	FlagUserAccessible

	// FlagWriteThroughCaching selects write-through instead of write-back
	// caching.
	FlagWriteThroughCaching

	// FlagDoNotCache disables caching for this mapping.
	FlagDoNotCache

	// FlagAccessed is set by the CPU on first access.
	FlagAccessed

	// FlagDirty is set by the CPU on first write.
	FlagDirty

	// FlagHugePage marks a level-2 entry as a 2 MiB leaf rather than a
	// pointer to a level-1 table.
	FlagHugePage

	// FlagGlobal exempts the mapping from TLB flushes on a CR3 reload.
	FlagGlobal
)

const (
	// FlagNoExecute forbids instruction fetches through this mapping.
	// It occupies bit 63, the NX bit, so it is defined outside the iota
	// run above.
	FlagNoExecute PageTableEntryFlag = 1 << 63
)
