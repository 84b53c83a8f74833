package multiboot

import (
	"encoding/binary"
	"testing"
	"unsafe"
)

// buildInfo assembles a minimal Multiboot2 info block containing a memory
// map tag with the given entries, followed by the mandatory end tag.
func buildInfo(entries []MemoryMapEntry) []byte {
	var buf []byte

	putU32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	putU64 := func(v uint64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		buf = append(buf, b[:]...)
	}

	// info header: totalSize placeholder + reserved
	putU32(0)
	putU32(0)

	mmapTagStart := len(buf)
	putU32(uint32(tagMemoryMap)) // tag type
	putU32(0)                    // tag size placeholder
	putU32(24)                   // entry size
	putU32(0)                    // entry version

	for _, e := range entries {
		putU64(e.PhysAddress)
		putU64(e.Length)
		putU32(uint32(e.Type))
		putU32(0)
	}

	mmapTagSize := uint32(len(buf) - mmapTagStart)
	binary.LittleEndian.PutUint32(buf[mmapTagStart+4:], mmapTagSize)

	// end tag
	putU32(uint32(tagMbSectionEnd))
	putU32(8)

	binary.LittleEndian.PutUint32(buf, uint32(len(buf)))
	return buf
}

func TestVisitMemRegions(t *testing.T) {
	entries := []MemoryMapEntry{
		{PhysAddress: 0x0, Length: 0x1000, Type: MemAvailable},
		{PhysAddress: 0x100000, Length: 0x500000, Type: MemReserved},
		{PhysAddress: 0x600000, Length: 0x200000, Type: MemAvailable},
	}

	buf := buildInfo(entries)
	SetInfoPtr(uintptr(unsafe.Pointer(&buf[0])))

	var got []MemoryMapEntry
	VisitMemRegions(func(e *MemoryMapEntry) bool {
		got = append(got, *e)
		return true
	})

	if len(got) != len(entries) {
		t.Fatalf("expected %d entries; got %d", len(entries), len(got))
	}

	for i, e := range entries {
		if got[i].PhysAddress != e.PhysAddress || got[i].Length != e.Length || got[i].Type != e.Type {
			t.Errorf("entry %d: expected %+v; got %+v", i, e, got[i])
		}
	}
}

func TestVisitMemRegionsEarlyAbort(t *testing.T) {
	entries := []MemoryMapEntry{
		{PhysAddress: 0x0, Length: 0x1000, Type: MemAvailable},
		{PhysAddress: 0x100000, Length: 0x500000, Type: MemReserved},
	}

	buf := buildInfo(entries)
	SetInfoPtr(uintptr(unsafe.Pointer(&buf[0])))

	var count int
	VisitMemRegions(func(e *MemoryMapEntry) bool {
		count++
		return false
	})

	if count != 1 {
		t.Fatalf("expected visitor to stop after 1 entry; got %d", count)
	}
}

func TestRSDPAbsent(t *testing.T) {
	buf := buildInfo(nil)
	SetInfoPtr(uintptr(unsafe.Pointer(&buf[0])))

	if _, ok := RSDP(); ok {
		t.Fatal("expected RSDP to be reported absent")
	}
}

// buildInfoWithRSDPTags assembles a Multiboot2 info block carrying one tag
// per entry in tagTypes, each with a 4-byte payload equal to its own
// position in the list (so the test can tell which tag RSDP picked by the
// returned address' content). Payload bytes follow the tag header
// directly, so RSDP()'s returned pointer, read back as a uint32, reveals
// which tag instance was selected. Each tag is padded to the next 8-byte
// boundary, as the Multiboot2 tag stream requires.
func buildInfoWithRSDPTags(tagTypes []tagType) []byte {
	var buf []byte

	putU32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}

	putU32(0) // totalSize placeholder
	putU32(0) // reserved

	for i, tt := range tagTypes {
		putU32(uint32(tt))
		putU32(12) // header (8) + 4-byte payload
		putU32(uint32(i))
		putU32(0) // pad to the next 8-byte boundary
	}

	putU32(uint32(tagMbSectionEnd))
	putU32(8)

	binary.LittleEndian.PutUint32(buf, uint32(len(buf)))
	return buf
}

func TestRSDPPrefersNewFormatRegardlessOfOrder(t *testing.T) {
	t.Run("old before new", func(t *testing.T) {
		buf := buildInfoWithRSDPTags([]tagType{tagAcpiOldRsdp, tagAcpiNewRsdp})
		SetInfoPtr(uintptr(unsafe.Pointer(&buf[0])))

		addr, ok := RSDP()
		if !ok {
			t.Fatal("expected RSDP to be found")
		}
		if got := *(*uint32)(unsafe.Pointer(addr)); got != 1 {
			t.Fatalf("expected the new-format tag (index 1) to win; got index %d", got)
		}
	})

	t.Run("new before old", func(t *testing.T) {
		buf := buildInfoWithRSDPTags([]tagType{tagAcpiNewRsdp, tagAcpiOldRsdp})
		SetInfoPtr(uintptr(unsafe.Pointer(&buf[0])))

		addr, ok := RSDP()
		if !ok {
			t.Fatal("expected RSDP to be found")
		}
		if got := *(*uint32)(unsafe.Pointer(addr)); got != 0 {
			t.Fatalf("expected the new-format tag (index 0) to win; got index %d", got)
		}
	})

	t.Run("old only", func(t *testing.T) {
		buf := buildInfoWithRSDPTags([]tagType{tagAcpiOldRsdp})
		SetInfoPtr(uintptr(unsafe.Pointer(&buf[0])))

		addr, ok := RSDP()
		if !ok {
			t.Fatal("expected RSDP to be found")
		}
		if got := *(*uint32)(unsafe.Pointer(addr)); got != 0 {
			t.Fatalf("expected the only tag (index 0) to be returned; got index %d", got)
		}
	})
}

func TestMemoryEntryTypeString(t *testing.T) {
	specs := []struct {
		kind MemoryEntryType
		exp  string
	}{
		{MemAvailable, "available"},
		{MemReserved, "reserved"},
		{MemAcpiReclaimable, "ACPI (reclaimable)"},
		{MemNvs, "NVS"},
		{MemoryEntryType(99), "unknown"},
	}

	for _, spec := range specs {
		if got := spec.kind.String(); got != spec.exp {
			t.Errorf("%d: expected %q; got %q", spec.kind, spec.exp, got)
		}
	}
}
