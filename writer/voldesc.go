package writer

import (
	"bytes"
	"encoding/binary"
	"time"
)

// Volume descriptor type codes, ECMA-119 §8.
const (
	vdTypeBootRecord  = 0
	vdTypePrimary     = 1
	vdTypeSupplementary = 2
	vdTypeTerminator  = 255
)

// VolumeTimes are the four ECMA-119 §8.4.26-29 volume timestamps.
type VolumeTimes struct {
	Creation, Modification, Expiration, Effective time.Time
}

// VolumeIdentity carries the text fields common to the PVD, Joliet SVD, and
// ISO 9660:1999 EVD (spec.md §6.3's identifier set), grounded on the
// teacher's ISOBuilder.createPrimaryVolumeDescriptor/createJolietVolumeDescriptor
// field population (iso9660/descriptors.go).
type VolumeIdentity struct {
	SystemIdentifier       string
	VolumeIdentifier       string
	PublisherIdentifier    string
	DataPreparerIdentifier string
	ApplicationIdentifier  string
	CopyrightFileIdentifier string
	AbstractFileIdentifier string
	BibliographicFileIdentifier string
}

// VolumeDescriptorParams bundles the layout facts a rendered descriptor
// needs once the tree and path tables have LBAs assigned.
type VolumeDescriptorParams struct {
	Identity      VolumeIdentity
	Times         VolumeTimes
	TotalSectors  uint32
	PathTableSize uint32
	PTLBAPrimaryL, PTLBABackupL, PTLBAPrimaryM, PTLBABackupM uint32
	RootDR        []byte // exactly 34 bytes
	EscapeSequence []byte // nil for PVD/EVD; 3 bytes for Joliet SVD
}

// encodeField renders s using asciiField (d/a-character padding) unless
// ucs2 is true, in which case it is UTF-16BE padded, matching the teacher's
// padString/padUTF16StringBE split between the PVD and Joliet SVD.
func encodeField(s string, width int, ucs2 bool) []byte {
	if ucs2 {
		return padUTF16BE(s, width)
	}
	return padASCII(s, width)
}

func padASCII(s string, width int) []byte {
	b := make([]byte, width)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	return b
}

func padUTF16BE(s string, widthChars int) []byte {
	b := make([]byte, widthChars*2)
	for i := range b {
		if i%2 == 1 {
			b[i] = ' '
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		if i >= widthChars {
			break
		}
		binary.BigEndian.PutUint16(b[2*i:2*i+2], uint16(r))
	}
	return b
}

// formatVolumeTimestamp renders ECMA-119 §8.4.26's 17-byte date-time
// record; a zero Time means "not specified" (all digit characters '0',
// GMT offset 0), per ECMA-119 §8.4.26.1.
func formatVolumeTimestamp(t time.Time) []byte {
	if t.IsZero() {
		b := bytes.Repeat([]byte{'0'}, 16)
		return append(b, 0)
	}
	u := t.UTC()
	s := u.Format("20060102150405") + "00"
	return append([]byte(s), 0)
}

// renderVolumeDescriptor builds a PVD/SVD/EVD-shaped descriptor. typ and
// version select the header; ucs2 selects Joliet's UTF-16BE field
// encoding. This is shared by PrimaryVolumeDescriptor, JolietSVD, and
// ISO1999EVD, generalizing the teacher's two near-identical functions into
// one parameterized renderer.
func renderVolumeDescriptor(typ, version byte, ucs2 bool, p VolumeDescriptorParams) []byte {
	block := make([]byte, BlockSize)
	block[0] = typ
	copy(block[1:6], "CD001")
	block[6] = version

	buf := new(bytes.Buffer)
	buf.WriteByte(0) // unused / volume flags
	buf.Write(encodeField(p.Identity.SystemIdentifier, 32, false))
	buf.Write(encodeField(p.Identity.VolumeIdentifier, volumeIDWidth(ucs2), ucs2))
	buf.Write(make([]byte, 8))

	binary.Write(buf, binary.LittleEndian, p.TotalSectors)
	binary.Write(buf, binary.BigEndian, p.TotalSectors)

	if ucs2 {
		esc := make([]byte, 32)
		copy(esc, p.EscapeSequence)
		buf.Write(esc)
	} else {
		buf.Write(make([]byte, 32))
	}

	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.BigEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.BigEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(BlockSize))
	binary.Write(buf, binary.BigEndian, uint16(BlockSize))
	binary.Write(buf, binary.LittleEndian, p.PathTableSize)
	binary.Write(buf, binary.BigEndian, p.PathTableSize)

	binary.Write(buf, binary.LittleEndian, p.PTLBAPrimaryL)
	binary.Write(buf, binary.LittleEndian, p.PTLBABackupL)
	binary.Write(buf, binary.BigEndian, p.PTLBAPrimaryM)
	binary.Write(buf, binary.BigEndian, p.PTLBABackupM)

	root := p.RootDR
	if len(root) != 34 {
		root = padOrTruncate(root, 1)[:34]
	}
	buf.Write(root)

	buf.Write(encodeField("", volumeSetIDWidth(ucs2), ucs2))
	buf.Write(encodeField(p.Identity.PublisherIdentifier, 128/identityDivisor(ucs2), ucs2))
	buf.Write(encodeField(p.Identity.DataPreparerIdentifier, 128/identityDivisor(ucs2), ucs2))
	buf.Write(encodeField(p.Identity.ApplicationIdentifier, 128/identityDivisor(ucs2), ucs2))
	buf.Write(encodeField(p.Identity.CopyrightFileIdentifier, 37/identityDivisor(ucs2), ucs2))
	buf.Write(encodeField(p.Identity.AbstractFileIdentifier, 37/identityDivisor(ucs2), ucs2))
	buf.Write(encodeField(p.Identity.BibliographicFileIdentifier, 37/identityDivisor(ucs2), ucs2))

	buf.Write(formatVolumeTimestamp(p.Times.Creation))
	buf.Write(formatVolumeTimestamp(p.Times.Modification))
	buf.Write(formatVolumeTimestamp(p.Times.Expiration))
	buf.Write(formatVolumeTimestamp(p.Times.Effective))
	buf.WriteByte(1) // file structure version

	copy(block[7:], buf.Bytes())
	return block
}

func volumeIDWidth(ucs2 bool) int {
	if ucs2 {
		return 16
	}
	return 32
}

func volumeSetIDWidth(ucs2 bool) int {
	if ucs2 {
		return 64
	}
	return 128
}

func identityDivisor(ucs2 bool) int {
	if ucs2 {
		return 2
	}
	return 1
}

// PrimaryVolumeDescriptor renders ECMA-119's type-1 PVD.
func PrimaryVolumeDescriptor(p VolumeDescriptorParams) []byte {
	return renderVolumeDescriptor(vdTypePrimary, 1, false, p)
}

// JolietSVD renders the type-2 Supplementary Volume Descriptor carrying
// UCS-2BE identifiers and the Joliet escape sequence (ECMA-119 §8.5,
// Joliet Specification).
func JolietSVD(p VolumeDescriptorParams) []byte {
	return renderVolumeDescriptor(vdTypeSupplementary, 1, true, p)
}

// ISO1999EVD renders the ISO 9660:1999 Enhanced Volume Descriptor: a
// type-2 descriptor with version 2 and no escape sequence, sharing the PVD's
// plain-identifier encoding but its own root directory record and path
// tables (the 1999 amendment's relaxation of name-length limits lives
// entirely in how those records are built, not in this descriptor shape).
func ISO1999EVD(p VolumeDescriptorParams) []byte {
	return renderVolumeDescriptor(vdTypeSupplementary, 2, false, p)
}

// VolumeDescriptorSetTerminator renders the type-255 terminator.
func VolumeDescriptorSetTerminator() []byte {
	block := make([]byte, BlockSize)
	block[0] = vdTypeTerminator
	copy(block[1:6], "CD001")
	block[6] = 1
	return block
}
