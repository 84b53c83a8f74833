// Package buddy implements the order-indexed free-list page allocator that
// backs the kernel heap and user-page mapping. Free pages are tracked by
// embedding a doubly-linked free-list node inside the free page itself, so
// the allocator needs no backing storage beyond a small per-order bitmap
// used to decide whether a freed pair of buddies can be coalesced without
// scanning either free list.
package buddy

import (
	"unsafe"

	"nyxkernel/kernel"
	"nyxkernel/kernel/mem"
	"nyxkernel/kernel/sync"
)

// MaxOrder bounds the largest block this allocator hands out: 2^(MaxOrder-1)
// pages. The spec requires MaxOrder-1 >= 12, i.e. blocks of up to 4096
// pages (16 MiB).
const MaxOrder = 13

// maxPages is the largest page count this allocator's virtual window can
// describe; it sizes the coalescing bitmap. 1 GiB worth of 4 KiB pages is
// generous for an educational kernel's identity-mapped window.
const maxPages = 262144

// bitmapSize is maxPages/8 bytes: one bit per buddy pair at order 0, halving
// per order, summed across all orders is strictly less than maxPages bits.
const bitmapSize = maxPages / 8

// freeFrame is the intrusive free-list node written into the first bytes of
// every free page. It is never constructed by value; it always overlays
// live page storage.
type freeFrame struct {
	next, prev uintptr // addresses of neighbouring freeFrame nodes, or 0
}

// Allocator is the order-indexed buddy allocator. The zero value is usable
// once SetWindow has been called and pages have been fed in via AddFrame.
type Allocator struct {
	mu sync.Spinlock

	freeLists [MaxOrder]uintptr // head address of each order's free list, or 0
	bitmap    [bitmapSize]byte

	// windowOffset is the virtual address corresponding to physical
	// address 0 inside the allocator's configured window (the kernel's
	// physical-memory-offset mapping). All addresses accepted and
	// returned by this allocator are expressed in that virtual window.
	windowOffset uintptr
}

// SetWindow configures the virtual address that corresponds to physical
// address 0 within the window this allocator manages. It must be called
// before any AddFrame/Alloc/Dealloc call.
func (a *Allocator) SetWindow(offset uintptr) {
	a.windowOffset = offset
}

// AddFrame feeds a single order-0 page at addr (expressed in the
// allocator's window) into the allocator. This is equivalent to
// Dealloc(addr, 0) but is the mechanism used to seed an initially empty
// allocator from the bootstrap allocator during startup.
func (a *Allocator) AddFrame(addr uintptr) {
	if addr < a.windowOffset || addr >= a.windowOffset+maxPages*mem.PageSize {
		return
	}
	a.Dealloc(addr, 0)
}

// Alloc returns the address of a free block of 2^order pages, or
// ErrOutOfMemory if none is available. The returned address is always
// aligned to 2^order * PageSize.
func (a *Allocator) Alloc(order uint) (uintptr, *kernel.Error) {
	if order >= MaxOrder {
		return 0, kernel.ErrInvalidParam
	}

	a.mu.Acquire()
	defer a.mu.Release()

	return a.alloc(order)
}

// alloc implements the recursive split-on-demand algorithm. The caller must
// hold a.mu.
func (a *Allocator) alloc(order uint) (uintptr, *kernel.Error) {
	if order >= MaxOrder {
		return 0, kernel.ErrOutOfMemory
	}

	if head := a.freeLists[order]; head != 0 {
		a.removeFrame(head, order)

		if order < MaxOrder-1 {
			pageIdx := (head - a.windowOffset) / mem.PageSize
			a.toggleBit(pageIdx, order)
		}

		return head, nil
	}

	ptr, err := a.alloc(order + 1)
	if err != nil {
		return 0, err
	}

	buddyAddr := a.buddyAddress(ptr, order)

	if order < MaxOrder-1 {
		pageIdx := (ptr - a.windowOffset) / mem.PageSize
		a.toggleBit(pageIdx, order)
	}

	a.pushFree(buddyAddr, order)
	return ptr, nil
}

// Dealloc returns a block of 2^order pages at addr to the allocator,
// coalescing with its buddy when both halves of the pair are free.
func (a *Allocator) Dealloc(addr uintptr, order uint) {
	if addr < a.windowOffset || addr >= a.windowOffset+maxPages*mem.PageSize {
		return
	}

	a.mu.Acquire()
	defer a.mu.Release()

	a.dealloc(addr, order)
}

func (a *Allocator) dealloc(addr uintptr, order uint) {
	if order >= MaxOrder-1 {
		a.pushFree(addr, order)
		return
	}

	pageIdx := (addr - a.windowOffset) / mem.PageSize
	becameOne := a.toggleBit(pageIdx, order)

	if becameOne {
		// The pair is now "one free, one in use": nothing to merge.
		a.pushFree(addr, order)
		return
	}

	// The pair is now "both free": merge upward.
	buddyAddr := a.buddyAddress(addr, order)
	a.removeFrame(buddyAddr, order)

	merged := addr
	if buddyAddr < addr {
		merged = buddyAddr
	}
	a.dealloc(merged, order+1)
}

// buddyAddress computes the buddy of the block at addr for the given order
// by XOR-ing the block size into the address relative to the allocator's
// window.
func (a *Allocator) buddyAddress(addr uintptr, order uint) uintptr {
	blockSize := uintptr(1) << order
	relative := addr - a.windowOffset
	buddyRelative := relative ^ (blockSize * mem.PageSize)
	return buddyRelative + a.windowOffset
}

// bitIndex computes the bitmap offset for the buddy pair (pageIdx, order):
// sum over i in [0, order) of (maxPages >> (i+1)), plus pageIdx >> (order+1).
func bitIndex(pageIdx uintptr, order uint) uintptr {
	var offset uintptr
	for i := uint(0); i < order; i++ {
		offset += maxPages >> (i + 1)
	}
	return offset + (pageIdx >> (order + 1))
}

// toggleBit flips the coalescing bit for (pageIdx, order) and returns its
// new value.
func (a *Allocator) toggleBit(pageIdx uintptr, order uint) bool {
	idx := bitIndex(pageIdx, order)
	byteIdx := idx / 8
	bitOffset := idx % 8

	a.bitmap[byteIdx] ^= 1 << bitOffset
	return a.bitmap[byteIdx]&(1<<bitOffset) != 0
}

// pushFree links the block at addr onto the head of the order free list.
func (a *Allocator) pushFree(addr uintptr, order uint) {
	frame := (*freeFrame)(unsafe.Pointer(addr))
	frame.prev = 0
	frame.next = a.freeLists[order]

	if head := a.freeLists[order]; head != 0 {
		(*freeFrame)(unsafe.Pointer(head)).prev = addr
	}

	a.freeLists[order] = addr
}

// removeFrame unlinks the block at addr from the order free list.
func (a *Allocator) removeFrame(addr uintptr, order uint) {
	frame := (*freeFrame)(unsafe.Pointer(addr))

	if frame.prev != 0 {
		(*freeFrame)(unsafe.Pointer(frame.prev)).next = frame.next
	} else {
		a.freeLists[order] = frame.next
	}

	if frame.next != 0 {
		(*freeFrame)(unsafe.Pointer(frame.next)).prev = frame.prev
	}

	frame.next = 0
	frame.prev = 0
}
