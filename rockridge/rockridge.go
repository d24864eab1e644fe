// Package rockridge encodes the Rock Ridge Interchange Protocol (RRIP)
// and System Use Sharing Protocol (SUSP) entries that annotate ECMA-119
// directory records with POSIX metadata, long names, symlinks, and
// directory relocation chains (spec.md §6.3). Field layouts follow the
// PX/TF/NM/SL/CL/PL/RE shapes other_examples' Rock Ridge reader/writer
// pair uses (a07b00a3 and e4cde3e7), corrected to the both-endian 8-byte
// field widths ECMA-119/RRIP actually specify — that pair's own writer
// carries a TODO admitting its field sizes are wrong.
//
// PackWithContinuation supports one continuation area per directory record
// rather than SUSP's general multi-level chain (spec.md's Non-goal on
// bit-exact extension fidelity): a record's System Use field overflow spills
// once into a single CE-referenced block. writer.TreeWriter does not call
// it; it drops a record's System Use entries when they would push the
// record past 254 bytes.
package rockridge

import (
	"encoding/binary"
	"time"
)

const (
	extensionIdentifier = "RRIP_1991A"
	extensionDescriptor = "THE ROCK RIDGE INTERCHANGE PROTOCOL PROVIDES SUPPORT FOR POSIX FILE SYSTEM SEMANTICS"
	extensionSource     = "PLEASE CONTACT DISC PUBLISHER FOR SPECIFICATION SOURCE"
	entryVersion        = 1
)

// bothEndian writes an ECMA-119 §7.2/§7.3 both-endian 32-bit field: LSB
// then MSB halves, 8 bytes total.
func bothEndian32(v uint32) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], v)
	binary.BigEndian.PutUint32(b[4:8], v)
	return b
}

func entryHeader(sig string, length int) []byte {
	b := make([]byte, 4)
	b[0], b[1] = sig[0], sig[1]
	b[2] = byte(length)
	b[3] = entryVersion
	return b
}

// SP is the SUSP indicator entry, required as the first System Use entry
// of the root directory's "." record.
func SP() []byte {
	b := entryHeader("SP", 7)
	return append(b, 0xBE, 0xEF, 0)
}

// ER announces the Rock Ridge extension, placed once on the root "."
// record after SP.
func ER() []byte {
	idLen, desLen, srcLen := len(extensionIdentifier), len(extensionDescriptor), len(extensionSource)
	length := 8 + idLen + desLen + srcLen
	b := entryHeader("ER", length)
	b = append(b, byte(idLen), byte(desLen), byte(srcLen), 1)
	b = append(b, extensionIdentifier...)
	b = append(b, extensionDescriptor...)
	b = append(b, extensionSource...)
	return b
}

// PosixAttrs is the PX entry's payload: POSIX mode, link count, owner and
// group, and an optional serial number (RRIP 4.1.2).
type PosixAttrs struct {
	Mode     uint32
	Links    uint32
	UID      uint32
	GID      uint32
	SerialNo uint32
}

// PX encodes the five both-endian 32-bit fields RRIP 4.1.2 defines: mode,
// links, UID, GID, and the file serial number.
func PX(a PosixAttrs) []byte {
	b := entryHeader("PX", 44)
	b = append(b, bothEndian32(a.Mode)...)
	b = append(b, bothEndian32(a.Links)...)
	b = append(b, bothEndian32(a.UID)...)
	b = append(b, bothEndian32(a.GID)...)
	b = append(b, bothEndian32(a.SerialNo)...)
	return b
}

// PN encodes a device node's major/minor numbers (RRIP 4.1.3).
func PN(major, minor uint32) []byte {
	b := entryHeader("PN", 20)
	b = append(b, bothEndian32(major)...)
	b = append(b, bothEndian32(minor)...)
	return b
}

const slContinue = 0x01

const (
	compContinue = 0x01
	compCurrent  = 0x02
	compParent   = 0x04
	compRoot     = 0x08
)

// SL encodes a symbolic link's target as a sequence of SUSP component
// records, splitting across multiple SL entries if the target is too long
// for one (RRIP 4.1.4). Returns one or more complete SL entries.
func SL(target string) [][]byte {
	comps := splitComponents(target)
	var entries [][]byte
	var body []byte
	flush := func(moreFollow bool) {
		flags := byte(0)
		if moreFollow {
			flags = slContinue
		}
		b := entryHeader("SL", 5+len(body))
		b = append(b[:4:4], flags)
		b = append(b, body...)
		entries = append(entries, b)
		body = nil
	}
	const maxEntry = 255
	for _, c := range comps {
		rec := componentRecord(c)
		if 5+len(body)+len(rec) > maxEntry {
			flush(true)
		}
		body = append(body, rec...)
	}
	flush(false)
	return entries
}

type pathComponent struct {
	flag byte
	name string
}

func splitComponents(target string) []pathComponent {
	if target == "" {
		return nil
	}
	if target == "/" {
		return []pathComponent{{flag: compRoot}}
	}
	var comps []pathComponent
	start := 0
	for i := 0; i <= len(target); i++ {
		if i == len(target) || target[i] == '/' {
			seg := target[start:i]
			switch seg {
			case ".":
				comps = append(comps, pathComponent{flag: compCurrent})
			case "..":
				comps = append(comps, pathComponent{flag: compParent})
			case "":
				// leading slash or doubled slash: skip
			default:
				comps = append(comps, pathComponent{name: seg})
			}
			start = i + 1
		}
	}
	return comps
}

func componentRecord(c pathComponent) []byte {
	rec := []byte{c.flag, byte(len(c.name))}
	return append(rec, c.name...)
}

const nmContinue = 0x01

// NM encodes an alternate (long/case-preserved) name, splitting across
// multiple entries if it exceeds one record (RRIP 4.1.5).
func NM(name string) [][]byte {
	const maxNameChunk = 250
	var entries [][]byte
	for len(name) > 0 {
		chunk := name
		more := false
		if len(chunk) > maxNameChunk {
			chunk = chunk[:maxNameChunk]
			more = true
		}
		flags := byte(0)
		if more {
			flags = nmContinue
		}
		b := entryHeader("NM", 5+len(chunk))
		b = append(b[:4:4], flags)
		b = append(b, chunk...)
		entries = append(entries, b)
		name = name[len(chunk):]
	}
	if len(entries) == 0 {
		b := entryHeader("NM", 5)
		entries = append(entries, append(b, 0))
	}
	return entries
}

// CL points a relocation stub at the directory it stands in for (RRIP
// 4.1.6.1).
func CL(targetLBA uint32) []byte {
	b := entryHeader("CL", 12)
	return append(b, bothEndian32(targetLBA)...)
}

// PL, placed in the relocated directory's "..", points back at the
// original parent (RRIP 4.1.6.2).
func PL(parentLBA uint32) []byte {
	b := entryHeader("PL", 12)
	return append(b, bothEndian32(parentLBA)...)
}

// RE marks a directory record as having been relocated out of its
// natural position (RRIP 4.1.6.3).
func RE() []byte {
	return entryHeader("RE", 4)
}

const (
	tfCreation = 0x01
	tfModify   = 0x02
	tfAccess   = 0x04
)

// TF encodes timestamps using the 7-byte short form (RRIP 4.1.7);
// zero times are omitted from the set bits.
func TF(modify, access, create time.Time) []byte {
	var flags byte
	var body []byte
	add := func(bit byte, t time.Time) {
		if t.IsZero() {
			return
		}
		flags |= bit
		body = append(body, shortFormDate(t)...)
	}
	add(tfCreation, create)
	add(tfModify, modify)
	add(tfAccess, access)
	b := entryHeader("TF", 5+len(body))
	b = append(b[:4:4], flags)
	return append(b, body...)
}

// shortFormDate renders ECMA-119 9.1.5's 7-byte date-time record.
func shortFormDate(t time.Time) []byte {
	u := t.UTC()
	return []byte{
		byte(u.Year() - 1900),
		byte(u.Month()),
		byte(u.Day()),
		byte(u.Hour()),
		byte(u.Minute()),
		byte(u.Second()),
		0,
	}
}

// SF marks a file as sparse (RRIP 4.1.8); omitted here beyond the flag
// entry itself since this module does not track hole maps.
func SF() []byte {
	return entryHeader("SF", 4)
}

// CE is the SUSP continuation entry (SUSP 5.1): it redirects the reader
// to length bytes of further System Use entries at block:offset.
func CE(block, offset, length uint32) []byte {
	b := entryHeader("CE", 28)
	b = append(b, bothEndian32(block)...)
	b = append(b, bothEndian32(offset)...)
	b = append(b, bothEndian32(length)...)
	return b
}

// Pack concatenates entries in the order callers appended them.
func Pack(entries ...[]byte) []byte {
	var out []byte
	for _, e := range entries {
		out = append(out, e...)
	}
	return out
}

// PackWithContinuation splits entries between a directory record's inline
// System Use field (capped at avail bytes) and, if they overflow, a
// single continuation block whose CE entry is prepended to the inline
// part. ceLBA/ceOffset locate the continuation area; it is the caller's
// responsibility to actually reserve and emit that block.
func PackWithContinuation(entries [][]byte, avail int, ceLBA, ceOffset uint32) (inline, continuation []byte) {
	var total []byte
	for _, e := range entries {
		total = append(total, e...)
	}
	if len(total) <= avail {
		return total, nil
	}

	const ceEntrySize = 28
	budget := avail - ceEntrySize
	if budget < 0 {
		budget = 0
	}
	var head []byte
	i := 0
	for ; i < len(entries); i++ {
		if len(head)+len(entries[i]) > budget {
			break
		}
		head = append(head, entries[i]...)
	}
	for ; i < len(entries); i++ {
		continuation = append(continuation, entries[i]...)
	}
	inline = append(head, CE(ceLBA, ceOffset, uint32(len(continuation)))...)
	return inline, continuation
}
