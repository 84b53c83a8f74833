// Package slab implements sub-page object caches backed by single pages
// obtained from a page provider (the buddy allocator in production, a test
// double in tests). It serves the kernel's general-purpose heap.
package slab

import (
	"unsafe"

	"nyxkernel/kernel"
	"nyxkernel/kernel/mem"
	"nyxkernel/kernel/sync"
)

// sizeClasses are the object sizes served directly by a Cache. Requests
// larger than the biggest class and up to one page are served by a whole
// page taken straight from the provider; requests larger than a page fail.
var sizeClasses = [...]uintptr{16, 32, 64, 128, 256, 512, 1024, 2048}

// node is the intrusive free-list entry overlaid on a free object's storage.
type node struct {
	next uintptr
}

// slabHeader sits at offset 0 of every page owned by a Cache.
type slabHeader struct {
	nextSlab   uintptr // address of the next slab's header in the partial list, or 0
	freeList   uintptr // address of the first free node, or 0
	objectSize uintptr
	inUse      uintptr
	capacity   uintptr
}

// headerSize is the page-resident footprint of slabHeader, rounded to
// pointer alignment.
const headerSize = unsafe.Sizeof(slabHeader{})

// PageProvider supplies and reclaims whole pages for a Cache. The buddy
// allocator's order-0 Alloc/Dealloc pair implements this interface.
type PageProvider interface {
	AllocPage() (uintptr, *kernel.Error)
	FreePage(addr uintptr)
}

// Cache is a fixed-object-size slab cache: an object size plus the head of
// its partial-slab list (slabs with at least one free and one allocated
// object). Full slabs and empty slabs are not tracked in the list.
type Cache struct {
	mu sync.Spinlock

	objectSize uintptr
	partial    uintptr // address of the head partial slab's header, or 0
}

// newCache returns a Cache configured for the given object size.
func newCache(objectSize uintptr) Cache {
	return Cache{objectSize: objectSize}
}

// Alloc returns a zero-initialized object of this cache's size, obtaining a
// fresh page from provider if no partial slab has a free slot.
func (c *Cache) Alloc(provider PageProvider) (uintptr, *kernel.Error) {
	c.mu.Acquire()
	defer c.mu.Release()

	if c.partial != 0 {
		hdr := (*slabHeader)(unsafe.Pointer(c.partial))
		obj := c.popFree(hdr)

		if hdr.freeList == 0 {
			c.partial = hdr.nextSlab
			hdr.nextSlab = 0
		}

		mem.Memset(obj, 0, c.objectSize)
		return obj, nil
	}

	page, err := provider.AllocPage()
	if err != nil {
		return 0, err
	}

	hdr := c.initSlab(page)
	obj := c.popFree(hdr)

	if hdr.freeList != 0 {
		hdr.nextSlab = c.partial
		c.partial = page
	}

	mem.Memset(obj, 0, c.objectSize)
	return obj, nil
}

// Dealloc returns obj, previously returned by Alloc, to its owning slab. If
// the slab becomes completely free it is unlinked from the partial list and
// its page is returned to provider; if it was previously full it is
// (re-)linked into the partial list.
func (c *Cache) Dealloc(obj uintptr, provider PageProvider) {
	c.mu.Acquire()
	defer c.mu.Release()

	page := obj &^ (mem.PageSize - 1)
	hdr := (*slabHeader)(unsafe.Pointer(page))

	wasFull := hdr.freeList == 0

	n := (*node)(unsafe.Pointer(obj))
	n.next = hdr.freeList
	hdr.freeList = obj
	hdr.inUse--

	if hdr.inUse == 0 {
		c.unlinkPartial(page)
		provider.FreePage(page)
		return
	}

	if wasFull {
		hdr.nextSlab = c.partial
		c.partial = page
	}
}

// initSlab writes a SlabHeader at the base of page and builds its
// intrusive freelist by walking the page backwards, so the list head ends
// up pointing at the lowest-addressed slot.
func (c *Cache) initSlab(page uintptr) *slabHeader {
	hdr := (*slabHeader)(unsafe.Pointer(page))

	align := c.objectSize
	if align&(align-1) != 0 {
		// Not a power of two: fall back to pointer alignment.
		align = 8
	}

	dataStart := mem.AlignUp(page+headerSize, align) - page
	capacity := (mem.PageSize - dataStart) / c.objectSize

	hdr.nextSlab = 0
	hdr.freeList = 0
	hdr.objectSize = c.objectSize
	hdr.inUse = 0
	hdr.capacity = capacity

	for i := capacity; i > 0; i-- {
		slot := page + dataStart + (i-1)*c.objectSize
		n := (*node)(unsafe.Pointer(slot))
		n.next = hdr.freeList
		hdr.freeList = slot
	}

	return hdr
}

// popFree removes and returns the head of hdr's freelist, incrementing
// inUse.
func (c *Cache) popFree(hdr *slabHeader) uintptr {
	obj := hdr.freeList
	n := (*node)(unsafe.Pointer(obj))
	hdr.freeList = n.next
	hdr.inUse++
	return obj
}

// unlinkPartial removes the slab whose header lives at page from the
// partial list.
func (c *Cache) unlinkPartial(page uintptr) {
	if c.partial == page {
		c.partial = (*slabHeader)(unsafe.Pointer(page)).nextSlab
		return
	}

	cur := c.partial
	for cur != 0 {
		hdr := (*slabHeader)(unsafe.Pointer(cur))
		if hdr.nextSlab == page {
			hdr.nextSlab = (*slabHeader)(unsafe.Pointer(page)).nextSlab
			return
		}
		cur = hdr.nextSlab
	}
}

// Heap dispatches allocations to the size-class Cache array, falling back
// to whole-page allocations for requests bigger than the largest class and
// up to one page.
type Heap struct {
	caches   [len(sizeClasses)]Cache
	provider PageProvider
}

// Init wires the heap's caches to provider, which supplies and reclaims the
// whole pages each Cache is built from.
func (h *Heap) Init(provider PageProvider) {
	h.provider = provider
	for i, size := range sizeClasses {
		h.caches[i] = newCache(size)
	}
}

// Alloc returns size bytes from the smallest size class that fits, a whole
// page if size exceeds the largest class but fits in one page, or
// ErrOutOfMemory if size exceeds a page or the backing allocator is
// exhausted.
func (h *Heap) Alloc(size uintptr) (uintptr, *kernel.Error) {
	if size == 0 {
		return 0, kernel.ErrInvalidParam
	}

	if idx, ok := classFor(size); ok {
		return h.caches[idx].Alloc(h.provider)
	}

	if size <= mem.PageSize {
		return h.provider.AllocPage()
	}

	return 0, kernel.ErrOutOfMemory
}

// Free returns obj, of the given size, to the heap.
func (h *Heap) Free(obj uintptr, size uintptr) {
	if idx, ok := classFor(size); ok {
		h.caches[idx].Dealloc(obj, h.provider)
		return
	}

	if size <= mem.PageSize {
		h.provider.FreePage(obj)
	}
}

// classFor returns the index of the smallest size class that fits size,
// tie-broken upward, and false if size exceeds the largest class.
func classFor(size uintptr) (int, bool) {
	for i, class := range sizeClasses {
		if size <= class {
			return i, true
		}
	}
	return 0, false
}
