package elf

import (
	"testing"
	"unsafe"

	"nyxkernel/kernel"
	"nyxkernel/kernel/mem"
	"nyxkernel/kernel/mem/vmm"
)

// fakeAddressSpace backs mapUserPageFn/physToVirtFn with a table of real Go
// pages, keyed by virtual address, so tests can exercise Load without a
// real MMU.
type fakeAddressSpace struct {
	pages map[uintptr]uintptr // virtAddr (page-aligned) -> backing Go address
	mapCalls []uintptr
}

func newFakeAddressSpace() *fakeAddressSpace {
	return &fakeAddressSpace{pages: make(map[uintptr]uintptr)}
}

func (f *fakeAddressSpace) mapUserPage(virtAddr uintptr, flags vmm.PageTableEntryFlag, allocFn vmm.FrameAllocatorFn) (uintptr, *kernel.Error) {
	page := mem.AlignDown(virtAddr, mem.PageSize)
	if backing, ok := f.pages[page]; ok {
		return backing, nil
	}

	raw := make([]byte, 2*mem.PageSize)
	backing := mem.AlignUp(uintptr(unsafe.Pointer(&raw[0])), mem.PageSize)
	f.pages[page] = backing
	f.mapCalls = append(f.mapCalls, page)

	// Keep raw alive for the lifetime of the test process; there is no
	// per-allocation cleanup hook available from inside this helper.
	fakeAddressSpaceKeepAlive = append(fakeAddressSpaceKeepAlive, raw)

	return backing, nil
}

func (f *fakeAddressSpace) physToVirt(addr uintptr) uintptr {
	return addr
}

// fakeAddressSpaceKeepAlive pins every backing buffer allocated during a
// test so the garbage collector doesn't reclaim memory that unsafe.Pointer
// arithmetic still references.
var fakeAddressSpaceKeepAlive [][]byte

func withFakeAddressSpace(t *testing.T) *fakeAddressSpace {
	t.Helper()

	space := newFakeAddressSpace()
	origMap, origPhys := mapUserPageFn, physToVirtFn
	mapUserPageFn = space.mapUserPage
	physToVirtFn = space.physToVirt

	t.Cleanup(func() {
		mapUserPageFn, physToVirtFn = origMap, origPhys
	})

	return space
}

func noopAlloc() (mem.Frame, *kernel.Error) { return 0, nil }

// buildMinimalELF assembles a one-segment, statically-linked ELF64 image:
// a jump-to-self instruction (EB FE) at vaddr, with the entry point set to
// that same address.
func buildMinimalELF(t *testing.T, vaddr uint64, code []byte) []byte {
	t.Helper()

	const ehSize = 64
	const phSize = 56

	buf := make([]byte, ehSize+phSize+len(code))

	hdr := (*header64)(unsafe.Pointer(&buf[0]))
	hdr.ident[0], hdr.ident[1], hdr.ident[2], hdr.ident[3] = 0x7f, 'E', 'L', 'F'
	hdr.ident[4] = elfClass64
	hdr.etype = 2 // ET_EXEC
	hdr.machine = 0x3e // EM_X86_64
	hdr.version = 1
	hdr.entry = vaddr
	hdr.phoff = ehSize
	hdr.ehsize = ehSize
	hdr.phentsize = phSize
	hdr.phnum = 1

	ph := (*progHeader64)(unsafe.Pointer(&buf[ehSize]))
	ph.ptype = ptLoad
	ph.pflags = pfExecute
	ph.offset = ehSize + phSize
	ph.vaddr = vaddr
	ph.paddr = vaddr
	ph.filesz = uint64(len(code))
	ph.memsz = uint64(len(code))
	ph.align = uint64(mem.PageSize)

	copy(buf[ehSize+phSize:], code)

	return buf
}

func TestLoadMinimalExecutable(t *testing.T) {
	space := withFakeAddressSpace(t)

	vaddr := uint64(0x40_0000)
	code := []byte{0xeb, 0xfe} // jmp $-2 (spin forever once entered)

	elfBytes := buildMinimalELF(t, vaddr, code)

	img, err := Load(elfBytes, noopAlloc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if img.EntryPoint != uintptr(vaddr) {
		t.Fatalf("expected entry point %#x; got %#x", vaddr, img.EntryPoint)
	}
	if img.StackTop != USERStackTop {
		t.Fatalf("expected stack top %#x; got %#x", USERStackTop, img.StackTop)
	}

	page := mem.AlignDown(uintptr(vaddr), mem.PageSize)
	backing, ok := space.pages[page]
	if !ok {
		t.Fatalf("expected the code segment's page to have been mapped")
	}

	offset := uintptr(vaddr) - page
	gotCode := *(*[2]byte)(unsafe.Pointer(backing + offset))
	if gotCode != [2]byte{0xeb, 0xfe} {
		t.Fatalf("expected code bytes to be copied into the mapped page; got %v", gotCode)
	}

	stackPage := mem.AlignDown(USERStackTop-1, mem.PageSize)
	if _, ok := space.pages[stackPage]; !ok {
		t.Fatal("expected the top stack page to have been mapped")
	}
}

func TestLoadZeroesBSS(t *testing.T) {
	space := withFakeAddressSpace(t)

	vaddr := uint64(0x40_0000)
	data := []byte{0x01, 0x02, 0x03, 0x04}

	elfBytes := buildMinimalELF(t, vaddr, data)
	// Shrink filesz so the trailing two bytes are BSS: present in memsz,
	// absent from the file, and must come back zeroed.
	ph := (*progHeader64)(unsafe.Pointer(&elfBytes[64]))
	ph.filesz = 2

	if _, err := Load(elfBytes, noopAlloc); err != nil {
		t.Fatalf("Load: %v", err)
	}

	page := mem.AlignDown(uintptr(vaddr), mem.PageSize)
	backing := space.pages[page]
	offset := uintptr(vaddr) - page

	got := *(*[4]byte)(unsafe.Pointer(backing + offset))
	want := [4]byte{0x01, 0x02, 0x00, 0x00}
	if got != want {
		t.Fatalf("expected file bytes followed by zeroed BSS %v; got %v", want, got)
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	withFakeAddressSpace(t)

	elfBytes := buildMinimalELF(t, 0x40_0000, []byte{0xeb, 0xfe})
	elfBytes[0] = 0x00

	if _, err := Load(elfBytes, noopAlloc); err != kernel.ErrInvalidElf {
		t.Fatalf("expected ErrInvalidElf; got %v", err)
	}
}

func TestLoadRejectsTruncatedProgramHeaders(t *testing.T) {
	withFakeAddressSpace(t)

	elfBytes := buildMinimalELF(t, 0x40_0000, []byte{0xeb, 0xfe})
	hdr := (*header64)(unsafe.Pointer(&elfBytes[0]))
	hdr.phnum = 5 // claims more program headers than the buffer can hold

	if _, err := Load(elfBytes, noopAlloc); err != kernel.ErrInvalidElf {
		t.Fatalf("expected ErrInvalidElf for an out-of-bounds program header table; got %v", err)
	}
}

func TestLoadSkipsZeroMemszSegment(t *testing.T) {
	withFakeAddressSpace(t)

	elfBytes := buildMinimalELF(t, 0x40_0000, []byte{0xeb, 0xfe})
	ph := (*progHeader64)(unsafe.Pointer(&elfBytes[64]))
	ph.memsz = 0

	if _, err := Load(elfBytes, noopAlloc); err != nil {
		t.Fatalf("expected a zero-memsz segment to be skipped, not rejected: %v", err)
	}
}
