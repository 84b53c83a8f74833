// Package elf loads a statically-linked 64-bit ELF executable into a fresh
// user address space: it validates the header, maps and populates each
// loadable segment through the page-table editor, and allocates a fixed
// user stack.
package elf

import (
	"unsafe"

	"nyxkernel/kernel"
	"nyxkernel/kernel/mem"
	"nyxkernel/kernel/mem/vmm"
)

// USERStackTop is the fixed virtual address at which every loaded task's
// stack is allocated; chosen in the lower half of the address space, well
// below any segment a statically-linked binary is expected to use.
const USERStackTop = uintptr(0x7_FFFF_F000)

// userStackPages is the number of pages reserved for the user stack.
const userStackPages = 16

const (
	ptLoad = 1

	pfExecute = 1 << 0
	pfWrite   = 1 << 1

	elfClass64 = 2
)

var (
	// mapUserPageFn and physToVirtFn are used by tests to substitute a
	// synthetic address space for the real one, matching the
	// function-variable mocking idiom used elsewhere in this kernel.
	mapUserPageFn = vmm.MapUserPage
	physToVirtFn  = vmm.PhysToVirt
)

// header64 overlays the first 64 bytes of an ELF64 file.
type header64 struct {
	ident     [16]byte
	etype     uint16
	machine   uint16
	version   uint32
	entry     uint64
	phoff     uint64
	shoff     uint64
	flags     uint32
	ehsize    uint16
	phentsize uint16
	phnum     uint16
	shentsize uint16
	shnum     uint16
	shstrndx  uint16
}

// progHeader64 overlays a single ELF64 program header entry.
type progHeader64 struct {
	ptype  uint32
	pflags uint32
	offset uint64
	vaddr  uint64
	paddr  uint64
	filesz uint64
	memsz  uint64
	align  uint64
}

// Image is the result of a successful Load: the values the scheduler needs
// to admit the program as a task.
type Image struct {
	EntryPoint uintptr
	StackTop   uintptr
}

// Load validates elfBytes as a 64-bit ELF executable, maps its loadable
// segments and a fixed-size user stack through allocFn, and returns the
// program's entry point and stack top.
func Load(elfBytes []byte, allocFn vmm.FrameAllocatorFn) (Image, *kernel.Error) {
	hdr, err := parseHeader(elfBytes)
	if err != nil {
		return Image{}, err
	}

	phTableEnd := uint64(hdr.phoff) + uint64(hdr.phnum)*uint64(hdr.phentsize)
	if hdr.phentsize < uint16(unsafe.Sizeof(progHeader64{})) || phTableEnd > uint64(len(elfBytes)) {
		return Image{}, kernel.ErrInvalidElf
	}

	for i := uint16(0); i < hdr.phnum; i++ {
		phAddr := uintptr(unsafe.Pointer(&elfBytes[0])) + uintptr(hdr.phoff) + uintptr(i)*uintptr(hdr.phentsize)
		ph := (*progHeader64)(unsafe.Pointer(phAddr))

		if ph.ptype != ptLoad || ph.memsz == 0 {
			continue
		}

		if err := loadSegment(elfBytes, ph, allocFn); err != nil {
			return Image{}, err
		}
	}

	if err := allocateUserStack(allocFn); err != nil {
		return Image{}, err
	}

	return Image{EntryPoint: uintptr(hdr.entry), StackTop: USERStackTop}, nil
}

// parseHeader validates the ELF magic and class byte and returns an
// overlay of the file's header.
func parseHeader(elfBytes []byte) (*header64, *kernel.Error) {
	if len(elfBytes) < int(unsafe.Sizeof(header64{})) {
		return nil, kernel.ErrInvalidElf
	}

	hdr := (*header64)(unsafe.Pointer(&elfBytes[0]))
	if hdr.ident[0] != 0x7f || hdr.ident[1] != 'E' || hdr.ident[2] != 'L' || hdr.ident[3] != 'F' {
		return nil, kernel.ErrInvalidElf
	}
	if hdr.ident[4] != elfClass64 {
		return nil, kernel.ErrInvalidElf
	}

	return hdr, nil
}

// loadSegment maps every page covering ph's memory range, zeroes it, and
// copies in the overlapping file contents.
func loadSegment(elfBytes []byte, ph *progHeader64, allocFn vmm.FrameAllocatorFn) *kernel.Error {
	if uint64(ph.offset)+ph.filesz > uint64(len(elfBytes)) {
		return kernel.ErrInvalidElf
	}

	flags := vmm.FlagRW | vmm.FlagUserAccessible
	if ph.pflags&pfExecute == 0 {
		flags |= vmm.FlagNoExecute
	}

	vaddr := uintptr(ph.vaddr)
	segEnd := vaddr + uintptr(ph.memsz)
	fileEnd := vaddr + uintptr(ph.filesz)

	startPage := mem.AlignDown(vaddr, mem.PageSize)
	endPage := mem.AlignUp(segEnd, mem.PageSize)

	for pageAddr := startPage; pageAddr < endPage; pageAddr += mem.PageSize {
		physAddr, err := mapUserPageFn(pageAddr, flags, allocFn)
		if err != nil {
			return err
		}

		pageVirt := physToVirtFn(physAddr)
		mem.Memset(pageVirt, 0, mem.PageSize)

		overlapStart := maxUintptr(vaddr, pageAddr)
		overlapEnd := minUintptr(fileEnd, pageAddr+mem.PageSize)
		if overlapStart >= overlapEnd {
			continue
		}

		fileOffset := uintptr(ph.offset) + (overlapStart - vaddr)
		pageOffset := overlapStart - pageAddr
		length := overlapEnd - overlapStart

		mem.Memcopy(uintptr(unsafe.Pointer(&elfBytes[fileOffset])), pageVirt+pageOffset, length)
	}

	return nil
}

// allocateUserStack maps userStackPages pages of zeroed, writable,
// non-executable memory ending at USERStackTop.
func allocateUserStack(allocFn vmm.FrameAllocatorFn) *kernel.Error {
	flags := vmm.FlagRW | vmm.FlagUserAccessible | vmm.FlagNoExecute
	base := USERStackTop - userStackPages*mem.PageSize

	for pageAddr := base; pageAddr < USERStackTop; pageAddr += mem.PageSize {
		physAddr, err := mapUserPageFn(pageAddr, flags, allocFn)
		if err != nil {
			return err
		}
		mem.Memset(physToVirtFn(physAddr), 0, mem.PageSize)
	}

	return nil
}

func maxUintptr(a, b uintptr) uintptr {
	if a > b {
		return a
	}
	return b
}

func minUintptr(a, b uintptr) uintptr {
	if a < b {
		return a
	}
	return b
}
