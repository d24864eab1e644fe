// Package eltorito implements the El Torito boot catalog and boot-record
// volume descriptor writer-list item 7 calls for, grounded on the
// bootCatalogEntry/AddBootEntry shape other_examples' iso9660 image writer
// uses and on stream.BootCatalog's "finalize after address assignment"
// placeholder design (spec.md §3, BootPlaceholder node kind). The catalog's
// byte layout is a bounded external codec (spec.md §1 excludes bit-exact
// extension fidelity from scope): this implements the structurally
// required validation and initial/section entries, not every historical
// platform quirk.
package eltorito

import "encoding/binary"

// Platform identifies the boot catalog entry's target firmware.
type Platform byte

const (
	Platform80x86  Platform = 0
	PlatformPowerPC Platform = 1
	PlatformMac    Platform = 2
	PlatformEFI    Platform = 0xEF
)

// Emulation selects what the BIOS should present the boot image as.
type Emulation byte

const (
	EmulationNone        Emulation = 0
	Emulation1_2MFloppy  Emulation = 1
	Emulation1_44MFloppy Emulation = 2
	Emulation2_88MFloppy Emulation = 3
	EmulationHardDisk    Emulation = 4
)

// Entry is one boot image: the initial/default entry, or one of a
// section's entries.
type Entry struct {
	Platform    Platform
	Emulation   Emulation
	LoadSegment uint16
	SystemType  byte
	SectorCount uint16
	LoadLBA     uint32
	Bootable    bool
}

const recordSize = 32

// BuildCatalog renders the full boot catalog: a validation entry, the
// default entry (entries[0]), and one section header plus section entry
// per remaining platform-distinct entry. The result is padded to whole
// 2048-byte blocks.
func BuildCatalog(entries []Entry) []byte {
	if len(entries) == 0 {
		return make([]byte, blockSize)
	}

	var out []byte
	out = append(out, validationEntry(entries[0].Platform)...)
	out = append(out, initialEntry(entries[0])...)

	rest := entries[1:]
	i := 0
	for i < len(rest) {
		platform := rest[i].Platform
		var group []Entry
		for i < len(rest) && rest[i].Platform == platform {
			group = append(group, rest[i])
			i++
		}
		out = append(out, sectionHeader(platform, len(group), i >= len(rest))...)
		for _, e := range group {
			out = append(out, sectionEntry(e)...)
		}
	}

	return padToBlock(out)
}

const blockSize = 2048

func padToBlock(b []byte) []byte {
	if rem := len(b) % blockSize; rem != 0 {
		b = append(b, make([]byte, blockSize-rem)...)
	}
	if len(b) == 0 {
		b = make([]byte, blockSize)
	}
	return b
}

func validationEntry(platform Platform) []byte {
	rec := make([]byte, recordSize)
	rec[0] = 0x01 // header ID: validation entry
	rec[1] = byte(platform)
	// bytes 4..25: ID string + reserved, left zero; bytes 26..27 hold the checksum
	rec[28] = 0x55
	rec[29] = 0xAA
	checksum := computeChecksum(rec)
	binary.LittleEndian.PutUint16(rec[26:28], checksum)
	return rec
}

// computeChecksum returns the 16-bit value that makes the sum of every
// little-endian word in the 32-byte record (including the 0xAA55
// signature and this checksum field itself) equal to zero mod 0x10000.
func computeChecksum(rec []byte) uint16 {
	var sum uint16
	for i := 0; i < recordSize; i += 2 {
		if i == 26 {
			continue // checksum field itself contributes zero until filled
		}
		sum += binary.LittleEndian.Uint16(rec[i : i+2])
	}
	return uint16(0) - sum
}

func initialEntry(e Entry) []byte {
	rec := make([]byte, recordSize)
	if e.Bootable {
		rec[0] = 0x88
	} else {
		rec[0] = 0x00
	}
	rec[1] = byte(e.Emulation)
	binary.LittleEndian.PutUint16(rec[2:4], e.LoadSegment)
	rec[4] = e.SystemType
	binary.LittleEndian.PutUint16(rec[6:8], e.SectorCount)
	binary.LittleEndian.PutUint32(rec[8:12], e.LoadLBA)
	return rec
}

func sectionHeader(platform Platform, numEntries int, isLast bool) []byte {
	rec := make([]byte, recordSize)
	if isLast {
		rec[0] = 0x91 // section header, final
	} else {
		rec[0] = 0x90 // section header, more follow
	}
	rec[1] = byte(platform)
	binary.LittleEndian.PutUint16(rec[2:4], uint16(numEntries))
	return rec
}

func sectionEntry(e Entry) []byte {
	rec := make([]byte, recordSize)
	if e.Bootable {
		rec[0] = 0x88
	} else {
		rec[0] = 0x00
	}
	rec[1] = byte(e.Emulation)
	binary.LittleEndian.PutUint16(rec[2:4], e.LoadSegment)
	rec[4] = e.SystemType
	binary.LittleEndian.PutUint16(rec[6:8], e.SectorCount)
	binary.LittleEndian.PutUint32(rec[8:12], e.LoadLBA)
	return rec
}

// BootRecordDescriptor renders the El Torito Boot Record Volume
// Descriptor (ECMA-119 type 0) naming catalogLBA as the catalog's
// location.
func BootRecordDescriptor(catalogLBA uint32) []byte {
	b := make([]byte, blockSize)
	b[0] = 0 // boot record
	copy(b[1:6], []byte("CD001"))
	b[6] = 1 // version
	copy(b[7:39], []byte("EL TORITO SPECIFICATION"))
	binary.LittleEndian.PutUint32(b[0x47:0x4B], catalogLBA)
	return b
}
