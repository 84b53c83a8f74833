package vmm

import (
	"nyxkernel/kernel"
	"nyxkernel/kernel/mem"
)

var errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported by Map/Unmap"}

// FrameAllocatorFn supplies a single physical frame, used to materialize
// missing intermediate page tables while mapping a page.
type FrameAllocatorFn func() (mem.Frame, *kernel.Error)

// Map establishes a mapping from page to frame in the currently active page
// tables, creating any missing intermediate tables via allocFn and zeroing
// them through the kernel's physical window before they are linked in.
func Map(page Page, frame mem.Frame, flags PageTableEntryFlag, allocFn FrameAllocatorFn) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(FlagPresent | flags)
			flushTLBEntry(page.Address())
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		if !pte.HasFlags(FlagPresent) {
			newTableFrame, allocErr := allocFn()
			if allocErr != nil {
				err = allocErr
				return false
			}

			mem.Memset(physWindowOffset+newTableFrame.Address(), 0, mem.PageSize)

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW)
		}

		return true
	})

	return err
}

// Unmap clears the final-level entry for page, leaving intermediate tables
// in place (they are never freed by this core: upper-level table lifetime is
// owned by the task that allocated them).
func Unmap(page Page) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			pte.ClearFlags(FlagPresent)
			flushTLBEntry(page.Address())
			return true
		}

		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		return true
	})

	return err
}

// MapUserPage obtains a fresh physical frame from allocFn and installs it as
// a user-accessible page at virtAddr with flags. It returns the physical
// address of the new frame so the caller can write its contents through the
// kernel's direct physical-memory window rather than through the new
// mapping (the mapping itself may not yet be writable from kernel code
// running with SMAP-style checks, and writing via the window sidesteps
// needing the mapping active at all).
func MapUserPage(virtAddr uintptr, flags PageTableEntryFlag, allocFn FrameAllocatorFn) (uintptr, *kernel.Error) {
	frame, err := allocFn()
	if err != nil {
		return 0, err
	}

	page := PageFromAddress(virtAddr)
	if err := Map(page, frame, flags|FlagUserAccessible, allocFn); err != nil {
		return 0, err
	}

	// Map sets the user-accessible bit only on the final-level entry; ring 3
	// also needs it at every upper level of the walk.
	if err := SetUserAccessible(page, flags&FlagRW != 0, flags&FlagNoExecute == 0); err != nil {
		return 0, err
	}

	return frame.Address(), nil
}

// SetUserAccessible walks levels 4→3→2→1 of page's mapping, OR-ing in the
// user-accessible bit at every level and, at the final level (or at level 2
// for a huge page), additionally OR-ing in writable if requested and
// AND-ing out no-execute if executable. It flushes the TLB entry for page
// once the walk completes.
func SetUserAccessible(page Page, writable, executable bool) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		pte.SetFlags(FlagUserAccessible)

		isFinal := pteLevel == pageLevels-1 || pte.HasFlags(FlagHugePage)
		if isFinal {
			if writable {
				pte.SetFlags(FlagRW)
			}
			if executable {
				pte.ClearFlags(FlagNoExecute)
			}
			// A huge-page entry reached before the final level is itself
			// the mapping; descending further would misread its frame
			// field as a table pointer, so stop the walk there.
			return pteLevel == pageLevels-1
		}

		return true
	})

	if err != nil {
		return err
	}

	flushTLBEntry(page.Address())
	return nil
}
