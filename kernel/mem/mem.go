// Package mem defines the low-level physical/virtual address types and
// page-granular constants shared by the bootstrap, buddy, slab and
// page-table editor packages.
package mem

import (
	"math"
	"reflect"
	"unsafe"
)

const (
	// PageShift is log2(PageSize); shifting a physical or virtual address
	// right by PageShift yields its page number.
	PageShift = uintptr(12)

	// PageSize is the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// PointerShift is log2(unsafe.Sizeof(uintptr(0))); used to convert a
	// page-table entry index into a byte offset.
	PointerShift = uintptr(3)
)

// Size represents a size in bytes.
type Size uintptr

// Frame describes a physical memory page index.
type Frame uintptr

// InvalidFrame is returned by page allocators when they fail to reserve the
// requested frame.
const InvalidFrame = Frame(math.MaxUint64)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool { return f != InvalidFrame }

// Address returns the physical address this frame represents.
func (f Frame) Address() uintptr { return uintptr(f) << PageShift }

// FrameFromAddress returns the Frame containing physAddr, rounding down to
// the enclosing page if physAddr is not page-aligned.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr &^ (PageSize - 1)) >> PageShift)
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual address this page represents.
func (p Page) Address() uintptr { return uintptr(p) << PageShift }

// PageFromAddress returns the Page containing virtAddr, rounding down to the
// enclosing page if virtAddr is not page-aligned.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr &^ (PageSize - 1)) >> PageShift)
}

// AlignUp rounds addr up to the next multiple of align, which must be a
// power of two.
func AlignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}

// AlignDown rounds addr down to the previous multiple of align, which must
// be a power of two.
func AlignDown(addr, align uintptr) uintptr {
	return addr &^ (align - 1)
}

// Memset sets size bytes starting at addr to value. The implementation
// overlays a byte slice on top of the target region and uses log2(size)
// copy calls instead of a byte-at-a-time loop, which pays off since page
// and object addresses handed to this function are always aligned.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	target := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: addr,
	}))

	target[0] = value
	for index := uintptr(1); index < size; index *= 2 {
		copy(target[index:], target[:index])
	}
}

// Memcopy copies size bytes from src to dst. The regions must not overlap.
func Memcopy(src, dst uintptr, size uintptr) {
	if size == 0 {
		return
	}

	srcSlice := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: src,
	}))
	dstSlice := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: dst,
	}))

	copy(dstSlice, srcSlice)
}
