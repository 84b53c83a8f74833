// Package bootmem implements the bootstrap frame allocator: the very first
// physical-page allocator available during boot, before the buddy allocator
// and the kernel heap exist. It consumes the firmware memory map and serves
// aligned, contiguous multi-page allocations out of a fixed-capacity table
// of free physical ranges.
package bootmem

import (
	"nyxkernel/kernel"
	"nyxkernel/kernel/mem"
	"nyxkernel/kernel/multiboot"
	"nyxkernel/kernel/sync"
)

// maxRanges bounds the number of tracked free ranges. The allocator has no
// heap to grow a dynamic structure, so this is a fixed-size array; 256 is
// generous for any memory map a BIOS/UEFI firmware will hand back.
const maxRanges = 256

// hugePageSize is the allocation size and alignment requested by
// AllocateHugePage.
const hugePageSize = 2 * 1024 * 1024

// physRange is a half-open range [Start, End) of page-aligned physical
// bytes.
type physRange struct {
	start, end uintptr
}

func (r physRange) empty() bool { return r.start >= r.end }

// Allocator is the bootstrap frame allocator described by the kernel's
// two-tier memory design. It owns an ordered, disjoint list of usable
// physical ranges and serves allocate_contiguous/free_contiguous requests
// against it until the buddy allocator takes over day-to-day allocations
// (the bootstrap allocator remains available afterwards for
// alignment-sensitive multi-page requests such as huge pages).
type Allocator struct {
	mu sync.Spinlock

	ranges     [maxRanges]physRange
	rangeCount int

	allocatedBytes uint64
	totalBytes     uint64
}

// Init consumes the firmware-provided memory map (via multiboot.VisitMemRegions),
// keeping only regions marked available, page-aligning each region inward,
// and inserting the result in sorted, disjoint order. Empty regions
// (after alignment) are dropped; regions beyond the table capacity are
// silently ignored, matching the bootloader's memory map being advisory
// once the table is full.
func (a *Allocator) Init() {
	a.mu.Acquire()
	defer a.mu.Release()

	a.rangeCount = 0
	a.allocatedBytes = 0
	a.totalBytes = 0

	multiboot.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) bool {
		if entry.Type != multiboot.MemAvailable {
			return true
		}

		start := mem.AlignUp(uintptr(entry.PhysAddress), mem.PageSize)
		end := mem.AlignDown(uintptr(entry.PhysAddress+entry.Length), mem.PageSize)

		if end <= start || a.rangeCount >= maxRanges {
			return true
		}

		a.ranges[a.rangeCount] = physRange{start: start, end: end}
		a.rangeCount++
		a.totalBytes += uint64(end - start)
		return true
	})

	a.insertionSort()
}

// insertionSort sorts the first rangeCount entries of a.ranges by start
// address. Called only during Init, over a handful of entries, so a simple
// insertion sort (no heap dependency) is appropriate.
func (a *Allocator) insertionSort() {
	for i := 1; i < a.rangeCount; i++ {
		key := a.ranges[i]
		j := i
		for j > 0 && a.ranges[j-1].start > key.start {
			a.ranges[j] = a.ranges[j-1]
			j--
		}
		a.ranges[j] = key
	}
}

// AllocateContiguous finds the first free range in which an
// alignment-aligned run of count pages fits, removes that range and
// re-inserts the (at most two) leftover fragments in sorted order. It
// returns the physical address of the first page in the allocated run.
func (a *Allocator) AllocateContiguous(count uintptr, alignment uintptr) (uintptr, *kernel.Error) {
	if count == 0 {
		return 0, kernel.ErrInvalidParam
	}

	a.mu.Acquire()
	defer a.mu.Release()

	requiredSize := count * mem.PageSize

	for i := 0; i < a.rangeCount; i++ {
		r := a.ranges[i]
		alignedStart := mem.AlignUp(r.start, alignment)
		if alignedStart < r.start || alignedStart+requiredSize > r.end {
			continue
		}

		allocEnd := alignedStart + requiredSize
		hasBefore := alignedStart > r.start
		hasAfter := allocEnd < r.end
		newRangesNeeded := 0
		if hasBefore {
			newRangesNeeded++
		}
		if hasAfter {
			newRangesNeeded++
		}

		if newRangesNeeded > 1 && a.rangeCount >= maxRanges {
			continue
		}

		a.removeRange(i)

		if hasBefore {
			a.insertSorted(physRange{start: r.start, end: alignedStart})
		}
		if hasAfter {
			a.insertSorted(physRange{start: allocEnd, end: r.end})
		}

		a.allocatedBytes += uint64(requiredSize)
		return alignedStart, nil
	}

	return 0, kernel.ErrNoRangeFits
}

// AllocateHugePage allocates a 2MiB-aligned run of 512 contiguous pages.
func (a *Allocator) AllocateHugePage() (uintptr, *kernel.Error) {
	return a.AllocateContiguous(hugePageSize/mem.PageSize, hugePageSize)
}

// FreeContiguous returns count pages starting at the physical address start
// to the allocator, inserting the range in sorted order and coalescing with
// any adjacent free ranges. Passing an address outside any range ever
// handed out by this allocator is undefined behaviour.
func (a *Allocator) FreeContiguous(start uintptr, count uintptr) *kernel.Error {
	if count == 0 {
		return kernel.ErrInvalidParam
	}

	a.mu.Acquire()
	defer a.mu.Release()

	size := count * mem.PageSize
	if uint64(size) > a.allocatedBytes {
		a.allocatedBytes = 0
	} else {
		a.allocatedBytes -= uint64(size)
	}

	if err := a.insertSorted(physRange{start: start, end: start + size}); err != nil {
		return err
	}
	a.coalesce()
	return nil
}

// FreeMemory returns the number of bytes not currently allocated.
func (a *Allocator) FreeMemory() uint64 {
	a.mu.Acquire()
	defer a.mu.Release()
	return a.totalBytes - a.allocatedBytes
}

// AllocatedMemory returns the number of bytes currently allocated.
func (a *Allocator) AllocatedMemory() uint64 {
	a.mu.Acquire()
	defer a.mu.Release()
	return a.allocatedBytes
}

// RangeCount returns the number of tracked free ranges. Exposed for testing
// the sorted/disjoint invariant.
func (a *Allocator) RangeCount() int {
	a.mu.Acquire()
	defer a.mu.Release()
	return a.rangeCount
}

// removeRange deletes the range at index, shifting later entries left. The
// caller must hold a.mu.
func (a *Allocator) removeRange(index int) {
	for j := index; j < a.rangeCount-1; j++ {
		a.ranges[j] = a.ranges[j+1]
	}
	a.rangeCount--
	a.ranges[a.rangeCount] = physRange{}
}

// insertSorted inserts r keeping a.ranges[:rangeCount] sorted by start
// address. The caller must hold a.mu.
func (a *Allocator) insertSorted(r physRange) *kernel.Error {
	if a.rangeCount >= maxRanges {
		return kernel.ErrRangeTableFull
	}

	pos := a.rangeCount
	for i := 0; i < a.rangeCount; i++ {
		if r.start < a.ranges[i].start {
			pos = i
			break
		}
	}

	for j := a.rangeCount; j > pos; j-- {
		a.ranges[j] = a.ranges[j-1]
	}

	a.ranges[pos] = r
	a.rangeCount++
	return nil
}

// coalesce merges adjacent free ranges. The caller must hold a.mu.
func (a *Allocator) coalesce() {
	i := 0
	for i < a.rangeCount-1 {
		if a.ranges[i].end == a.ranges[i+1].start {
			a.ranges[i].end = a.ranges[i+1].end
			a.removeRange(i + 1)
			continue
		}
		i++
	}
}
